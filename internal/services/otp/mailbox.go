// -----------------------------------------------------------------------
// OTP Mailbox - single-slot handoff between OTP producers and the login flow
// Deposits never block and the newest code wins
// -----------------------------------------------------------------------

package otp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/claviger/internal/models"
)

// ErrAwaitTimeout is returned when no OTP arrives within the wait window
var ErrAwaitTimeout = errors.New("timed out waiting for otp")

// Mailbox is a single-slot rendezvous point. Producers (webhook handler,
// imap watcher) deposit codes without blocking; the login flow consumes
// them through AwaitValue. A deposit made before the flow starts waiting
// is delivered immediately, so producer and consumer never have to line
// up in time.
type Mailbox struct {
	mu     sync.Mutex
	event  *models.OtpEvent
	signal chan struct{}
	maxAge time.Duration
	logger arbor.ILogger
}

// NewMailbox creates a mailbox. Events older than maxAge are treated as
// stale and never delivered; maxAge <= 0 disables the check.
func NewMailbox(maxAge time.Duration, logger arbor.ILogger) *Mailbox {
	return &Mailbox{
		signal: make(chan struct{}, 1),
		maxAge: maxAge,
		logger: logger,
	}
}

// Deposit stores an event in the slot, replacing any event already there.
// Never blocks.
func (m *Mailbox) Deposit(event models.OtpEvent) {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}

	m.mu.Lock()
	replaced := m.event != nil
	m.event = &event
	m.mu.Unlock()

	// Non-blocking notify; a pending token already wakes the waiter
	select {
	case m.signal <- struct{}{}:
	default:
	}

	m.logger.Debug().
		Str("source", string(event.Source)).
		Int("length", len(event.Value)).
		Bool("replaced", replaced).
		Msg("OTP deposited")
}

// AwaitValue blocks until an event is available, the timeout lapses, or
// ctx is cancelled. A delivered event is consumed: the slot is empty
// afterwards.
func (m *Mailbox) AwaitValue(ctx context.Context, timeout time.Duration) (models.OtpEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if event, ok := m.take(); ok {
			return event, nil
		}

		select {
		case <-m.signal:
			// Re-check the slot
		case <-timer.C:
			return models.OtpEvent{}, ErrAwaitTimeout
		case <-ctx.Done():
			return models.OtpEvent{}, ctx.Err()
		}
	}
}

// take consumes the slot if it holds a fresh event. Stale events are
// dropped on sight so a code left over from an earlier run cannot leak
// into this one.
func (m *Mailbox) take() (models.OtpEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.event == nil {
		return models.OtpEvent{}, false
	}
	if m.event.Expired(m.maxAge) {
		m.logger.Warn().
			Str("received_at", m.event.ReceivedAt.Format(time.RFC3339)).
			Msg("Dropping stale OTP")
		m.event = nil
		return models.OtpEvent{}, false
	}

	event := *m.event
	m.event = nil
	return event, true
}

// Peek returns the held event without consuming it. Stale events are
// still visible here: an operator checking the slot needs to see a code
// that arrived too late, even though take will never deliver it.
func (m *Mailbox) Peek() (models.OtpEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.event == nil {
		return models.OtpEvent{}, false
	}
	return *m.event, true
}

// Clear drops any held event
func (m *Mailbox) Clear() {
	m.mu.Lock()
	m.event = nil
	m.mu.Unlock()

	// Drain a pending wake-up so the next AwaitValue does not spin once
	select {
	case <-m.signal:
	default:
	}
}
