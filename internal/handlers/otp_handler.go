package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/claviger/internal/common"
	"github.com/ternarybob/claviger/internal/interfaces"
	"github.com/ternarybob/claviger/internal/models"
)

const (
	defaultOtpLength = 6

	// journalRetentionMultiple scales the live-slot freshness window into
	// the journal entry TTL. Journal entries exist for operator triage of
	// notifier behavior, so they outlive the slot itself.
	journalRetentionMultiple = 100

	// journalFallbackTTL bounds the journal when freshness is zero
	// (never-expire slots must not imply a never-expire journal).
	journalFallbackTTL = 24 * time.Hour
)

// OtpHandler receives webhook OTP deposits and exposes the pending slot
// for inspection. All routes accept an optional ?run=<id> query to address
// a run-scoped mailbox instead of the default one.
type OtpHandler struct {
	registry  interfaces.MailboxRegistry
	journal   interfaces.OtpJournal
	otpLength int
	freshness time.Duration
	limiter   *rate.Limiter
	logger    arbor.ILogger
}

func NewOtpHandler(registry interfaces.MailboxRegistry, journal interfaces.OtpJournal, otpLength int, freshness time.Duration, serverConfig *common.ServerConfig, logger arbor.ILogger) *OtpHandler {
	if otpLength <= 0 {
		otpLength = defaultOtpLength
	}

	// Nil limiter disables throttling (rate limit of zero in config)
	var limiter *rate.Limiter
	if serverConfig != nil && serverConfig.WebhookRateLimit > 0 {
		burst := serverConfig.WebhookRateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(serverConfig.WebhookRateLimit), burst)
	}

	return &OtpHandler{
		registry:  registry,
		journal:   journal,
		otpLength: otpLength,
		freshness: freshness,
		limiter:   limiter,
		logger:    logger,
	}
}

// DepositHandler handles POST /api/otp
// Accepts {"otp": "<digits>"} from the notifier relay and deposits it into
// the routed mailbox. Malformed payloads leave the pending slot untouched.
func (h *OtpHandler) DepositHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	if h.limiter != nil && !h.limiter.Allow() {
		h.logger.Warn().Str("remote", r.RemoteAddr).Msg("OTP webhook rate limit exceeded")
		WriteError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	var req struct {
		Otp string `json:"otp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to parse OTP deposit body")
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	code := strings.TrimSpace(req.Otp)
	if len(code) != h.otpLength || !isDigits(code) {
		h.logger.Warn().Int("length", len(code)).Msg("Rejected OTP deposit")
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("OTP must be exactly %d digits", h.otpLength))
		return
	}

	runID := r.URL.Query().Get("run")
	event := models.OtpEvent{
		Value:      code,
		Source:     models.OtpSourceWebhook,
		RunID:      runID,
		ReceivedAt: time.Now().UTC(),
	}

	h.registry.Route(runID).Deposit(event)

	// Journal is best-effort: a write failure never rejects the deposit
	if h.journal != nil {
		if err := h.journal.Append(event, h.journalTTL()); err != nil {
			h.logger.Warn().Err(err).Msg("Failed to journal OTP deposit")
		}
	}

	h.logger.Info().
		Str("source", string(models.OtpSourceWebhook)).
		Str("run_id", runID).
		Msg("OTP deposit accepted")

	WriteSuccess(w, "OTP accepted")
}

// PeekHandler handles GET /api/otp
// Non-consuming view of the pending slot for operator diagnosis.
func (h *OtpHandler) PeekHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	runID := r.URL.Query().Get("run")
	event, ok := h.registry.Route(runID).Peek()
	if !ok {
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"pending": false,
		})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"pending":     true,
		"source":      event.Source,
		"age_seconds": int(time.Since(event.ReceivedAt).Seconds()),
		"expired":     event.Expired(h.freshness),
	})
}

// ClearHandler handles POST /api/otp/clear
// Empties the pending slot. Returns 200 whether or not a deposit was held.
func (h *OtpHandler) ClearHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	runID := r.URL.Query().Get("run")
	h.registry.Route(runID).Clear()

	h.logger.Info().Str("run_id", runID).Msg("OTP slot cleared")
	WriteSuccess(w, "OTP slot cleared")
}

// JournalHandler handles GET /api/otp/journal
// Returns recent accepted deposits (values masked at write time) so an
// operator can check whether the notifier relay is actually delivering.
func (h *OtpHandler) JournalHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	if h.journal == nil {
		WriteError(w, http.StatusServiceUnavailable, "OTP journal not available")
		return
	}

	limit := GetLimitParam(r, 20, 200)
	entries, err := h.journal.Recent(limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to read OTP journal")
		WriteError(w, http.StatusInternalServerError, "Failed to read OTP journal")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"entries": entries,
	})
}

func (h *OtpHandler) journalTTL() time.Duration {
	if h.freshness <= 0 {
		return journalFallbackTTL
	}
	return h.freshness * journalRetentionMultiple
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
