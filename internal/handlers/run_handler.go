package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/ternarybob/claviger/internal/interfaces"
	"github.com/ternarybob/claviger/internal/models"
	"github.com/ternarybob/claviger/internal/services/runner"
)

// RunHandler exposes token refresh runs: manual trigger, history and the
// captured failure snapshot. Token values are always redacted on the way out.
type RunHandler struct {
	runner    interfaces.RunService
	snapshots interfaces.SnapshotService
	logger    arbor.ILogger
}

func NewRunHandler(runService interfaces.RunService, snapshotService interfaces.SnapshotService, logger arbor.ILogger) *RunHandler {
	return &RunHandler{
		runner:    runService,
		snapshots: snapshotService,
		logger:    logger,
	}
}

// StartRunHandler handles POST /api/runs
// Starts a manual token refresh run. Returns 409 while another run holds
// the single active slot.
func (h *RunHandler) StartRunHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	record, err := h.runner.StartRun(r.Context(), models.RunTriggerManual)
	if err != nil {
		if errors.Is(err, runner.ErrRunActive) {
			WriteError(w, http.StatusConflict, "A token refresh run is already active")
			return
		}
		h.logger.Error().Err(err).Msg("Failed to start run")
		WriteError(w, http.StatusInternalServerError, "Failed to start run")
		return
	}

	h.logger.Info().Str("run_id", record.ID).Msg("Manual run accepted")
	WriteJSON(w, http.StatusAccepted, record.Redacted())
}

// ListRunsHandler handles GET /api/runs
// Returns recent runs, newest first.
func (h *RunHandler) ListRunsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	limit := GetLimitParam(r, 50, 500)
	records, err := h.runner.ListRuns(limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list runs")
		WriteError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	redacted := make([]models.RunRecord, 0, len(records))
	for _, record := range records {
		redacted = append(redacted, record.Redacted())
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"count": len(redacted),
		"runs":  redacted,
	})
}

// GetRunHandler handles GET /api/runs/{id}
func (h *RunHandler) GetRunHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	runID := extractRunID(r.URL.Path)
	if runID == "" {
		WriteError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	record, err := h.runner.GetRun(runID)
	if err != nil || record == nil {
		WriteError(w, http.StatusNotFound, "Run not found")
		return
	}

	WriteJSON(w, http.StatusOK, record.Redacted())
}

// SnapshotHandler handles GET /api/runs/{id}/snapshot
// Renders the markdown snapshot of the run's last failed attempt as HTML.
func (h *RunHandler) SnapshotHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	runID := extractRunID(r.URL.Path)
	if runID == "" {
		WriteError(w, http.StatusBadRequest, "Run ID is required")
		return
	}

	record, err := h.runner.GetRun(runID)
	if err != nil || record == nil {
		WriteError(w, http.StatusNotFound, "Run not found")
		return
	}

	attempt, ok := lastSnapshotAttempt(record)
	if !ok {
		WriteError(w, http.StatusNotFound, "No snapshot captured for this run")
		return
	}

	markdown, err := h.snapshots.ReadMarkdown(record.ID, attempt)
	if err != nil {
		h.logger.Error().Err(err).Str("run_id", runID).Int("attempt", attempt).Msg("Failed to read snapshot markdown")
		WriteError(w, http.StatusNotFound, "Snapshot not found")
		return
	}

	md := goldmark.New(
		goldmark.WithExtensions(extension.Table, extension.Strikethrough),
	)
	var body bytes.Buffer
	if err := md.Convert([]byte(markdown), &body); err != nil {
		h.logger.Error().Err(err).Str("run_id", runID).Msg("Failed to render snapshot markdown")
		WriteError(w, http.StatusInternalServerError, "Failed to render snapshot")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, snapshotPageTemplate, record.ID, body.String())
}

// extractRunID pulls the run ID from /api/runs/{id} or /api/runs/{id}/snapshot
func extractRunID(path string) string {
	pathParts := strings.Split(strings.Trim(path, "/"), "/")
	if len(pathParts) < 3 {
		return ""
	}
	return pathParts[2]
}

// lastSnapshotAttempt returns the newest attempt that captured a snapshot
func lastSnapshotAttempt(record *models.RunRecord) (int, bool) {
	for i := len(record.Attempts) - 1; i >= 0; i-- {
		if record.Attempts[i].SnapshotID != "" {
			return record.Attempts[i].Number, true
		}
	}
	return 0, false
}

const snapshotPageTemplate = `<!DOCTYPE html>
<html>
<head>
<title>Run %s snapshot</title>
<style>
body { font-family: monospace; max-width: 960px; margin: 2em auto; padding: 0 1em; }
table { border-collapse: collapse; }
th, td { border: 1px solid #999; padding: 4px 8px; text-align: left; }
</style>
</head>
<body>
%s
</body>
</html>
`
