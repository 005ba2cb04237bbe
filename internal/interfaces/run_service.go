package interfaces

import (
	"context"

	"github.com/ternarybob/claviger/internal/models"
)

// RunService coordinates token refresh runs. At most one run is active
// at a time; StartRun on a busy coordinator returns ErrRunActive from
// the runner package.
type RunService interface {
	// StartRun launches a run in the background and returns its record
	StartRun(ctx context.Context, trigger models.RunTrigger) (*models.RunRecord, error)

	// ExecuteRun runs synchronously and returns the final record
	ExecuteRun(ctx context.Context, trigger models.RunTrigger) (*models.RunRecord, error)

	// GetRun returns a stored run by ID
	GetRun(id string) (*models.RunRecord, error)

	// ListRuns returns recent runs, newest first
	ListRuns(limit int) ([]*models.RunRecord, error)

	// ActiveRunID returns the in-flight run, if any
	ActiveRunID() (string, bool)
}
