package server

import (
	"net/http"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Sequential runs
	mux.HandleFunc("/api/runs", s.handleRunsRoute)
	mux.HandleFunc("/api/runs/cancel", s.handleRunsCancel)

	// API routes - Independent tracker
	mux.HandleFunc("/api/tracker", s.handleTrackerRoute)
	mux.HandleFunc("/api/tracker/start", s.handleTrackerStart)
	mux.HandleFunc("/api/tracker/stop", s.handleTrackerStop)

	// API routes - System
	mux.HandleFunc("/api/health", s.app.APIHandler.HealthHandler)
	mux.HandleFunc("/api/version", s.app.APIHandler.VersionHandler)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.app.APIHandler.NotFoundHandler)

	return mux
}

// handleRunsRoute dispatches /api/runs by method
func (s *Server) handleRunsRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.app.RunHandler.GetRunHandler(w, r)
	case http.MethodPost:
		s.app.RunHandler.StartRunHandler(w, r)
	case http.MethodDelete:
		s.app.RunHandler.ResetRunHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRunsCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.app.RunHandler.CancelRunHandler(w, r)
}

func (s *Server) handleTrackerRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.app.TrackerHandler.GetHandler(w, r)
}

func (s *Server) handleTrackerStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.app.TrackerHandler.StartHandler(w, r)
}

func (s *Server) handleTrackerStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.app.TrackerHandler.StopHandler(w, r)
}
