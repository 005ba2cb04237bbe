package interfaces

import (
	"context"

	"github.com/ternarybob/claviger/internal/models"
)

// StateFunc receives state transitions as a login attempt progresses
type StateFunc func(state models.RunState)

// LoginService executes one vendor login attempt over a browser session
// and returns the extracted token. Failures come back as *models.FlowError
// carrying the failure kind and the state the attempt reached.
type LoginService interface {
	Execute(ctx context.Context, session BrowserSession, mailbox OtpMailbox, onState StateFunc) (*models.ExtractedToken, error)
}

// TokenExtractor pulls a session credential out of browser storage
type TokenExtractor interface {
	Extract(ctx context.Context, reader TierReader) (*models.ExtractedToken, error)
}
