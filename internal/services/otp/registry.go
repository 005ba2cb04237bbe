package otp

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/claviger/internal/interfaces"
)

// Registry hands out mailboxes keyed by run ID. Webhook deliveries that
// carry no run parameter are routed to the bound run's mailbox while a
// run is active, and to the default slot otherwise, so the notifier never
// needs to know run identifiers.
type Registry struct {
	mu        sync.RWMutex
	def       *Mailbox
	byRun     map[string]*Mailbox
	bound     string
	freshness time.Duration
	logger    arbor.ILogger
}

// NewRegistry creates a mailbox registry
func NewRegistry(freshness time.Duration, logger arbor.ILogger) *Registry {
	return &Registry{
		def:       NewMailbox(freshness, logger),
		byRun:     make(map[string]*Mailbox),
		freshness: freshness,
		logger:    logger,
	}
}

// Default returns the shared unkeyed mailbox
func (r *Registry) Default() interfaces.OtpMailbox {
	return r.def
}

// ForRun returns the mailbox for a run, creating it on first use. An
// empty run ID resolves to the default mailbox.
func (r *Registry) ForRun(runID string) interfaces.OtpMailbox {
	if runID == "" {
		return r.def
	}
	return r.forRun(runID)
}

func (r *Registry) forRun(runID string) *Mailbox {
	r.mu.RLock()
	mailbox, ok := r.byRun[runID]
	r.mu.RUnlock()
	if ok {
		return mailbox
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if mailbox, ok := r.byRun[runID]; ok {
		return mailbox
	}
	mailbox = NewMailbox(r.freshness, r.logger)
	r.byRun[runID] = mailbox
	return mailbox
}

// Bind makes runID's mailbox the target for unkeyed deliveries. A value
// already sitting in the default slot is carried over so a code posted
// moments before the run started is still delivered to it.
func (r *Registry) Bind(runID string) interfaces.OtpMailbox {
	if runID == "" {
		return r.def
	}

	mailbox := r.forRun(runID)

	r.mu.Lock()
	r.bound = runID
	r.mu.Unlock()

	if pending, ok := r.def.Peek(); ok {
		r.def.Clear()
		mailbox.Deposit(pending)
	}

	r.logger.Debug().Str("run_id", runID).Msg("Mailbox bound for run")
	return mailbox
}

// Route resolves the target mailbox for a delivery. A keyed delivery goes
// to that run's mailbox; an unkeyed one goes to the bound run, or the
// default slot when nothing is bound.
func (r *Registry) Route(runID string) interfaces.OtpMailbox {
	if runID != "" {
		return r.forRun(runID)
	}

	r.mu.RLock()
	bound := r.bound
	r.mu.RUnlock()

	if bound != "" {
		return r.forRun(bound)
	}
	return r.def
}

// Release unbinds and drops a run's mailbox once the run is finished
func (r *Registry) Release(runID string) {
	if runID == "" {
		return
	}
	r.mu.Lock()
	if r.bound == runID {
		r.bound = ""
	}
	delete(r.byRun, runID)
	r.mu.Unlock()
}
