package interfaces

import (
	"context"

	"github.com/ternarybob/claviger/internal/models"
)

// SnapshotService captures diagnostic bundles when login attempts fail
// and serves them back for triage.
type SnapshotService interface {
	// Capture writes screenshot, page HTML and a markdown summary for the
	// failed attempt and returns the snapshot record
	Capture(ctx context.Context, session BrowserSession, runID string, attempt int, state models.RunState, kind models.FailureKind) (*models.Snapshot, error)

	// ReadMarkdown returns the markdown summary of a captured snapshot
	ReadMarkdown(runID string, attempt int) (string, error)

	// Dir returns the artifact directory for a run attempt
	Dir(runID string, attempt int) string
}
