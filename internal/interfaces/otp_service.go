package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/claviger/internal/models"
)

// OtpMailbox is a single-slot rendezvous between OTP producers (webhook,
// imap watcher) and the one login flow consuming codes. Deposits never
// block and later deposits replace earlier ones; AwaitValue clears the
// slot when it delivers.
type OtpMailbox interface {
	// Deposit stores an event in the slot, replacing any existing one
	Deposit(event models.OtpEvent)

	// AwaitValue blocks until an event is available, the timeout lapses,
	// or ctx is cancelled. A delivered event is removed from the slot.
	AwaitValue(ctx context.Context, timeout time.Duration) (models.OtpEvent, error)

	// Peek returns the current event without consuming it
	Peek() (models.OtpEvent, bool)

	// Clear drops any held event
	Clear()
}

// MailboxRegistry hands out mailboxes keyed by run ID. Producers resolve
// their target through Route so they never need to know which run is
// waiting; the coordinator binds its run at start and releases it at end.
type MailboxRegistry interface {
	// Default returns the shared unkeyed mailbox
	Default() OtpMailbox

	// ForRun returns the mailbox for a run, creating it if needed
	ForRun(runID string) OtpMailbox

	// Bind makes runID's mailbox the target for unkeyed deliveries and
	// carries any value already pending in the default slot over to it
	Bind(runID string) OtpMailbox

	// Route resolves a delivery: keyed goes to that run's mailbox,
	// unkeyed goes to the bound run or the default slot
	Route(runID string) OtpMailbox

	// Release unbinds and drops a run's mailbox once the run is done
	Release(runID string)
}
