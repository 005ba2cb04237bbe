package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/claviger/internal/common"
	"github.com/ternarybob/claviger/internal/interfaces"
)

// StatusHandler handles HTTP requests for application status
type StatusHandler struct {
	runner    interfaces.RunService
	scheduler interfaces.SchedulerService
	logger    arbor.ILogger
}

// NewStatusHandler creates a new StatusHandler
func NewStatusHandler(runService interfaces.RunService, schedulerService interfaces.SchedulerService, logger arbor.ILogger) *StatusHandler {
	return &StatusHandler{
		runner:    runService,
		scheduler: schedulerService,
		logger:    logger,
	}
}

// GetStatusHandler handles GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	activeRun := ""
	if h.runner != nil {
		if id, ok := h.runner.ActiveRunID(); ok {
			activeRun = id
		}
	}

	scheduler := map[string]interface{}{
		"running": false,
	}
	if h.scheduler != nil {
		scheduler["running"] = h.scheduler.IsRunning()
		scheduler["jobs"] = h.scheduler.GetAllJobStatuses()
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"service":    "claviger",
		"version":    common.GetVersion(),
		"build":      common.GetBuild(),
		"active_run": activeRun,
		"scheduler":  scheduler,
	})
}
