package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - OTP mailbox
	mux.HandleFunc("/api/otp", s.handleOtpRoute)                        // POST deposit, GET peek
	mux.HandleFunc("/api/otp/clear", s.app.OtpHandler.ClearHandler)     // POST - empty the pending slot
	mux.HandleFunc("/api/otp/journal", s.app.OtpHandler.JournalHandler) // GET - recent accepted deposits

	// API routes - Token refresh runs
	mux.HandleFunc("/api/runs", s.handleRunsRoute)  // POST (start), GET (list)
	mux.HandleFunc("/api/runs/", s.handleRunRoutes) // Handles /api/runs/{id} and subpaths

	// API routes - System
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/shutdown", s.ShutdownHandler)

	// Liveness for the notifier relay, outside the /api tree
	mux.HandleFunc("/health", s.app.APIHandler.HealthHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleOtpRoute routes /api/otp requests (deposit and peek)
func (s *Server) handleOtpRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "POST":
		s.app.OtpHandler.DepositHandler(w, r)
	case "GET":
		s.app.OtpHandler.PeekHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRunsRoute routes /api/runs requests (start and list)
func (s *Server) handleRunsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case "POST":
		s.app.RunHandler.StartRunHandler(w, r)
	case "GET":
		s.app.RunHandler.ListRunsHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRunRoutes routes /api/runs/{id} requests to the appropriate handler
func (s *Server) handleRunRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	// GET /api/runs/{id}/snapshot
	if r.Method == "GET" && strings.HasSuffix(path, "/snapshot") {
		s.app.RunHandler.SnapshotHandler(w, r)
		return
	}

	// GET /api/runs/{id}
	if r.Method == "GET" && len(path) > len("/api/runs/") {
		s.app.RunHandler.GetRunHandler(w, r)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}
