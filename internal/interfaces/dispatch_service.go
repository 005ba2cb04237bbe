package interfaces

import (
	"context"

	"github.com/ternarybob/claviger/internal/models"
)

// TokenDispatcher delivers an extracted token to the backend ingestion
// endpoint. Exactly one DispatchResult comes back per call regardless of
// how many HTTP attempts the retry policy consumed.
type TokenDispatcher interface {
	Dispatch(ctx context.Context, token *models.ExtractedToken, sourceTag string) (*models.DispatchResult, error)
}
