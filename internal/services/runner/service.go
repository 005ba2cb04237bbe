// -----------------------------------------------------------------------
// Run Coordinator - owns the end-to-end token refresh run
// One run at a time: login attempts, extraction, dispatch, bookkeeping
// -----------------------------------------------------------------------

package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/claviger/internal/common"
	"github.com/ternarybob/claviger/internal/interfaces"
	"github.com/ternarybob/claviger/internal/models"
)

// ErrRunActive is returned when a run is requested while one is in flight
var ErrRunActive = errors.New("a token refresh run is already active")

const defaultRunTimeout = 10 * time.Minute

// Service coordinates token refresh runs: it allocates the run, binds the
// OTP mailbox, drives login attempts over fresh browser sessions, hands
// the extracted token to the dispatcher, and records everything. At most
// one run is active at a time.
type Service struct {
	profile    *models.VendorProfile
	config     common.LoginConfig
	retention  int
	browser    interfaces.BrowserService
	login      interfaces.LoginService
	registry   interfaces.MailboxRegistry
	dispatcher interfaces.TokenDispatcher
	storage    interfaces.RunStorage
	events     interfaces.EventService
	snapshots  interfaces.SnapshotService
	triage     interfaces.TriageService
	logger     arbor.ILogger

	mu       sync.Mutex
	activeID string
}

var _ interfaces.RunService = (*Service)(nil)

// NewService creates the run coordinator. The triage service may be nil;
// runs then complete without LLM notes.
func NewService(
	profile *models.VendorProfile,
	config common.LoginConfig,
	retention int,
	browser interfaces.BrowserService,
	login interfaces.LoginService,
	registry interfaces.MailboxRegistry,
	dispatcher interfaces.TokenDispatcher,
	storage interfaces.RunStorage,
	events interfaces.EventService,
	snapshots interfaces.SnapshotService,
	triage interfaces.TriageService,
	logger arbor.ILogger,
) *Service {
	return &Service{
		profile:    profile,
		config:     config,
		retention:  retention,
		browser:    browser,
		login:      login,
		registry:   registry,
		dispatcher: dispatcher,
		storage:    storage,
		events:     events,
		snapshots:  snapshots,
		triage:     triage,
		logger:     logger,
	}
}

// StartRun launches a run in the background and returns its initial record.
// The run detaches from the caller's context; cancelling the HTTP request
// that started it does not abort the login flow.
func (s *Service) StartRun(ctx context.Context, trigger models.RunTrigger) (*models.RunRecord, error) {
	record, err := s.begin(trigger)
	if err != nil {
		return nil, err
	}

	initial := *record
	common.SafeGo(s.logger, "tokenRefreshRun", func() {
		s.run(context.Background(), record)
	})

	return &initial, nil
}

// ExecuteRun runs synchronously and returns the final record
func (s *Service) ExecuteRun(ctx context.Context, trigger models.RunTrigger) (*models.RunRecord, error) {
	record, err := s.begin(trigger)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, record), nil
}

// GetRun returns a stored run by ID
func (s *Service) GetRun(id string) (*models.RunRecord, error) {
	return s.storage.GetRun(id)
}

// ListRuns returns recent runs, newest first
func (s *Service) ListRuns(limit int) ([]*models.RunRecord, error) {
	return s.storage.ListRuns(limit)
}

// ActiveRunID returns the in-flight run, if any
func (s *Service) ActiveRunID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID, s.activeID != ""
}

// begin claims the single run slot and creates the record. ErrRunActive
// when another run holds the slot.
func (s *Service) begin(trigger models.RunTrigger) (*models.RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.activeID != "" {
		return nil, ErrRunActive
	}

	record := &models.RunRecord{
		ID:        common.NewRunID(),
		Vendor:    s.profile.Name,
		Trigger:   trigger,
		Status:    models.RunStatusRunning,
		State:     models.RunStateIdle,
		CreatedAt: time.Now().UTC(),
	}
	s.activeID = record.ID

	return record, nil
}

func (s *Service) release(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeID == runID {
		s.activeID = ""
	}
}

// run drives one complete token refresh under the overall run deadline.
// All record mutation happens on this goroutine; readers see persisted
// copies from storage.
func (s *Service) run(ctx context.Context, record *models.RunRecord) *models.RunRecord {
	defer s.release(record.ID)

	runCtx, cancel := context.WithTimeout(ctx, s.runTimeout())
	defer cancel()

	// Unkeyed OTP deliveries route to this run while it is active
	mailbox := s.registry.Bind(record.ID)
	defer s.registry.Release(record.ID)

	s.persist(record)
	s.publish(interfaces.EventRunStarted, map[string]interface{}{
		"run_id":  record.ID,
		"vendor":  record.Vendor,
		"trigger": record.Trigger.String(),
	})

	s.logger.Info().
		Str("run_id", record.ID).
		Str("vendor", record.Vendor).
		Str("trigger", record.Trigger.String()).
		Msg("Token refresh run started")

	token := s.loginWithRetries(runCtx, record, mailbox)
	if token == nil {
		s.finish(record)
		return record
	}

	// The orchestrator advanced the record to token_extracted through
	// onState; only the token itself is left to attach.
	record.Token = token
	s.persist(record)

	// The browser session that produced the token is closed by now; the
	// dispatcher owns its own HTTP retry budget and reports exactly once.
	result, err := s.dispatcher.Dispatch(runCtx, token, s.profile.SourceTag)
	if result != nil {
		record.Dispatch = result
	}
	if err != nil {
		record.Status = models.RunStatusFailed
		record.State = models.RunStateFailed
		record.FailureKind = models.KindOf(err)
		record.Error = err.Error()
	} else {
		record.Status = models.RunStatusSucceeded
	}

	s.finish(record)
	return record
}

// loginWithRetries runs login attempts until a token comes back, a
// non-retryable failure surfaces, or the attempt budget is spent. Each
// attempt gets a fresh browser session; partial state is never resumed.
func (s *Service) loginWithRetries(ctx context.Context, record *models.RunRecord, mailbox interfaces.OtpMailbox) *models.ExtractedToken {
	maxAttempts := s.config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for number := 1; number <= maxAttempts; number++ {
		token, flowErr := s.attempt(ctx, record, number, mailbox)
		if flowErr == nil {
			return token
		}

		if !flowErr.Retryable() || number == maxAttempts || ctx.Err() != nil {
			record.Status = models.RunStatusFailed
			record.State = models.RunStateFailed
			record.FailureKind = flowErr.Kind
			record.Error = flowErr.Error()
			return nil
		}

		s.logger.Warn().
			Str("run_id", record.ID).
			Int("attempt", number).
			Int("max_attempts", maxAttempts).
			Str("kind", flowErr.Kind.String()).
			Msg("Login attempt failed, retrying with a fresh session")
	}

	return nil
}

// attempt executes one login attempt over a new browser session. On a
// non-retryable failure the diagnostic snapshot is captured before the
// session closes.
func (s *Service) attempt(ctx context.Context, record *models.RunRecord, number int, mailbox interfaces.OtpMailbox) (*models.ExtractedToken, *models.FlowError) {
	record.Attempts = append(record.Attempts, models.AttemptRecord{
		Number:    number,
		State:     models.RunStateIdle,
		StartedAt: time.Now().UTC(),
	})
	idx := len(record.Attempts) - 1
	s.persist(record)

	session, err := s.browser.NewSession(ctx)
	if err != nil {
		flowErr := models.NewFlowError(models.FailureTransport, models.RunStateIdle,
			fmt.Errorf("failed to open browser session: %w", err))
		s.closeAttempt(record, idx, flowErr)
		return nil, flowErr
	}
	defer session.Close()

	onState := func(state models.RunState) {
		record.Attempts[idx].State = state
		record.State = state
		s.persist(record)

		if state == models.RunStateOtpSubmitted {
			s.publish(interfaces.EventOtpReceived, map[string]interface{}{
				"run_id":  record.ID,
				"attempt": number,
			})
		}
		s.publish(interfaces.EventRunState, map[string]interface{}{
			"run_id":  record.ID,
			"attempt": number,
			"state":   state.String(),
		})
	}

	token, err := s.login.Execute(ctx, session, mailbox, onState)
	if err != nil {
		var flowErr *models.FlowError
		if !errors.As(err, &flowErr) {
			flowErr = models.NewFlowError(models.FailureTransport, record.Attempts[idx].State, err)
		}

		if !flowErr.Retryable() {
			s.captureSnapshot(session, record, idx, flowErr)
		}
		s.closeAttempt(record, idx, flowErr)
		return nil, flowErr
	}

	record.Attempts[idx].CompletedAt = time.Now().UTC()
	s.persist(record)
	return token, nil
}

func (s *Service) closeAttempt(record *models.RunRecord, idx int, flowErr *models.FlowError) {
	record.Attempts[idx].FailureKind = flowErr.Kind
	record.Attempts[idx].Error = flowErr.Error()
	record.Attempts[idx].CompletedAt = time.Now().UTC()
	s.persist(record)
}

// captureSnapshot grabs the diagnostic bundle while the failed session is
// still alive. Runs on its own deadline: the run context may already be
// spent when the failure was a timeout.
func (s *Service) captureSnapshot(session interfaces.BrowserSession, record *models.RunRecord, idx int, flowErr *models.FlowError) {
	if s.snapshots == nil {
		return
	}

	capCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snap, err := s.snapshots.Capture(capCtx, session, record.ID, record.Attempts[idx].Number, flowErr.State, flowErr.Kind)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("run_id", record.ID).
			Msg("Failed to capture failure snapshot")
		return
	}

	record.Attempts[idx].SnapshotID = snap.ID
	flowErr.SnapshotDir = snap.Dir
}

// finish stamps the terminal record, runs triage for business failures,
// publishes completion and applies run history retention.
func (s *Service) finish(record *models.RunRecord) {
	if record.Status == models.RunStatusFailed {
		s.runTriage(record)
	}

	record.CompletedAt = time.Now().UTC()
	s.persist(record)

	payload := map[string]interface{}{
		"run_id":   record.ID,
		"vendor":   record.Vendor,
		"status":   record.Status.String(),
		"state":    record.State.String(),
		"attempts": len(record.Attempts),
	}
	if record.FailureKind != "" {
		payload["failure_kind"] = record.FailureKind.String()
	}
	s.publish(interfaces.EventRunCompleted, payload)

	log := s.logger.Info().
		Str("run_id", record.ID).
		Str("status", record.Status.String()).
		Int("attempts", len(record.Attempts)).
		Str("duration", record.CompletedAt.Sub(record.CreatedAt).String())
	if record.FailureKind != "" {
		log = log.Str("failure_kind", record.FailureKind.String())
	}
	log.Msg("Token refresh run completed")

	s.pruneHistory()
}

// runTriage asks the LLM for a diagnosis when a snapshot exists for the
// failure. Best effort: a triage error never changes the run outcome.
func (s *Service) runTriage(record *models.RunRecord) {
	if s.triage == nil || !s.triage.IsEnabled() {
		return
	}

	attempt := lastSnapshotAttempt(record)
	if attempt == 0 {
		return
	}

	markdown, err := s.snapshots.ReadMarkdown(record.ID, attempt)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("run_id", record.ID).
			Msg("Snapshot markdown unavailable for triage")
		return
	}

	// Independent context: the run deadline may already be spent
	note, err := s.triage.Summarize(context.Background(), record, markdown)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("run_id", record.ID).
			Msg("Triage failed")
		return
	}

	record.TriageNote = note

	triagePath := filepath.Join(s.snapshots.Dir(record.ID, attempt), models.SnapshotTriageFile)
	if err := os.WriteFile(triagePath, []byte(note+"\n"), 0644); err != nil {
		s.logger.Warn().
			Err(err).
			Str("path", triagePath).
			Msg("Failed to write triage note")
	}
}

// lastSnapshotAttempt returns the newest attempt number that captured a
// snapshot, 0 when none did.
func lastSnapshotAttempt(record *models.RunRecord) int {
	for i := len(record.Attempts) - 1; i >= 0; i-- {
		if record.Attempts[i].SnapshotID != "" {
			return record.Attempts[i].Number
		}
	}
	return 0
}

// persist stores the current record. Storage trouble is logged, never
// allowed to abort a run mid-flight.
func (s *Service) persist(record *models.RunRecord) {
	if err := s.storage.StoreRun(record); err != nil {
		s.logger.Warn().
			Err(err).
			Str("run_id", record.ID).
			Msg("Failed to persist run record")
	}
}

// publish sends an event on a background context so terminal events still
// go out after the run deadline has passed.
func (s *Service) publish(eventType interfaces.EventType, payload map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(context.Background(), interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		s.logger.Warn().
			Err(err).
			Str("event_type", string(eventType)).
			Msg("Failed to publish run event")
	}
}

func (s *Service) pruneHistory() {
	if s.retention <= 0 {
		return
	}
	pruned, err := s.storage.PruneRuns(s.retention)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Run history pruning failed")
		return
	}
	if pruned > 0 {
		s.logger.Debug().Int("pruned", pruned).Msg("Old run records pruned")
	}
}

func (s *Service) runTimeout() time.Duration {
	if s.config.RunTimeout > 0 {
		return s.config.RunTimeout.Std()
	}
	return defaultRunTimeout
}
