package interfaces

import (
	"context"

	"github.com/ternarybob/claviger/internal/models"
)

// TriageService asks an LLM to summarize why a run failed, based on the
// failure classification and the snapshot markdown. Optional; a nil or
// disabled service means runs complete without a triage note.
type TriageService interface {
	// Summarize returns a short operator-facing note for a failed run
	Summarize(ctx context.Context, record *models.RunRecord, snapshotMarkdown string) (string, error)

	// IsEnabled reports whether triage is configured
	IsEnabled() bool
}
