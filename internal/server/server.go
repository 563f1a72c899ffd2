// ABOUTME: HTTP boundary for the daemon: ingest, alert lifecycle, approvals, status.
// ABOUTME: Thin handlers over the stores and processors; structured JSON errors only.

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/docksentry/docksentry/internal/config"
	"github.com/docksentry/docksentry/internal/events"
	"github.com/docksentry/docksentry/internal/falco"
	"github.com/docksentry/docksentry/internal/metrics"
	"github.com/docksentry/docksentry/internal/runtime"
	"github.com/docksentry/docksentry/internal/store"
	"github.com/docksentry/docksentry/internal/types"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Deps are the collaborators exposed over HTTP.
type Deps struct {
	Alerts    *store.AlertStore
	Approvals *store.ApprovalStore
	Recent    *events.RecentEvents
	Processor *falco.Processor
	Runtime   runtime.Client
	Config    *config.Config
	Metrics   *metrics.Metrics
	Logger    *logrus.Logger
}

// Server wires the HTTP routes.
type Server struct {
	deps      Deps
	startTime time.Time
}

// New creates the HTTP server façade.
func New(deps Deps) *Server {
	return &Server{deps: deps, startTime: time.Now()}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.middleware)

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/api/alerts", s.handleListAlerts).Methods(http.MethodGet)
	r.HandleFunc("/api/alerts/{id}/acknowledge", s.handleStatus(types.StatusAcknowledged)).Methods(http.MethodPost)
	r.HandleFunc("/api/alerts/{id}/resolve", s.handleStatus(types.StatusResolved)).Methods(http.MethodPost)
	r.HandleFunc("/api/falco-alert", s.handleFalcoAlert).Methods(http.MethodPost)

	r.HandleFunc("/api/approvals/{imageKey:.+}/approve", s.handleApprove(true)).Methods(http.MethodPost)
	r.HandleFunc("/api/approvals/{imageKey:.+}/deny", s.handleApprove(false)).Methods(http.MethodPost)
	r.HandleFunc("/api/approvals/{imageKey:.+}", s.handleGetApproval).Methods(http.MethodGet)

	r.HandleFunc("/api/events", s.handleListEvents).Methods(http.MethodGet)
	r.HandleFunc("/api/daemon-status", s.handleDaemonStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/containers/{id}/stop", s.handleStopContainer).Methods(http.MethodPost)

	return r
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		s.deps.Logger.WithFields(logrus.Fields{
			"method":    r.Method,
			"path":      r.URL.Path,
			"remote_ip": r.RemoteAddr,
		}).Debug("HTTP request received")

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("Welcome to docksentry!"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK"))
}

// handleListAlerts serves the alert log newest first, bounded by the limit
// query parameter (default 100, max 1000).
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"))

	lines, err := s.deps.Alerts.ReadLines()
	if err != nil {
		s.deps.Logger.WithError(err).Error("Reading alerts failed")
		writeError(w, http.StatusInternalServerError, "failed to read alerts")
		return
	}

	rows := make([]json.RawMessage, 0, limit)
	for i := len(lines) - 1; i >= 0 && len(rows) < limit; i-- {
		rows = append(rows, json.RawMessage(lines[i]))
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleStatus(status string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alertID := mux.Vars(r)["id"]

		originalID, err := s.deps.Alerts.UpdateStatus(alertID, status)
		if err == store.ErrNotFound {
			writeError(w, http.StatusNotFound, "Alert "+alertID+" not found")
			return
		}
		if err != nil {
			s.deps.Logger.WithError(err).WithField("alert_id", alertID).Error("Status update failed")
			writeError(w, http.StatusInternalServerError, "failed to update alert")
			return
		}

		s.deps.Logger.WithFields(logrus.Fields{
			"alert_id":    alertID,
			"original_id": originalID,
			"status":      status,
		}).Info("Alert status changed via API")
		writeJSON(w, http.StatusOK, map[string]string{"status": status, "alert_id": alertID})
	}
}

// handleFalcoAlert accepts the payload, acknowledges immediately, and
// processes in the background.
func (s *Server) handleFalcoAlert(w http.ResponseWriter, r *http.Request) {
	var payload types.FalcoPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	// Detached from the request context: processing outlives the response.
	s.deps.Processor.Dispatch(context.WithoutCancel(r.Context()), &payload)
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

func (s *Server) handleGetApproval(w http.ResponseWriter, r *http.Request) {
	imageKey := mux.Vars(r)["imageKey"]
	entry := s.deps.Approvals.Get(imageKey)
	if entry == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"approved": false})
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleApprove(approved bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		imageKey := mux.Vars(r)["imageKey"]

		if err := s.deps.Approvals.Set(imageKey, approved); err != nil {
			s.deps.Logger.WithError(err).WithField("image_key", imageKey).Error("Approval update failed")
			writeError(w, http.StatusInternalServerError, "failed to persist approval")
			return
		}

		if approved {
			s.deps.Recent.Add("Image Approved",
				"Image '"+imageKey+"' has been approved for deployment",
				"Image key: "+imageKey+", Status: approved", "")
		} else {
			s.deps.Recent.Add("Image Denied",
				"Image '"+imageKey+"' has been denied and will be blocked",
				"Image key: "+imageKey+", Status: denied", "")
		}

		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "image": imageKey, "approved": approved})
	}
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"))
	list := s.deps.Recent.List(limit, r.URL.Query().Get("type"), r.URL.Query().Get("container"))
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDaemonStatus(w http.ResponseWriter, r *http.Request) {
	runtimeOK := s.deps.Runtime.Ping(r.Context()) == nil
	var version string
	if runtimeOK {
		version, _ = s.deps.Runtime.Version(r.Context())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"daemon":           "running",
		"uptime_seconds":   time.Since(s.startTime).Round(10 * time.Millisecond).Seconds(),
		"docker_connected": runtimeOK,
		"docker_version":   version,
		"gate_mode":        s.deps.Config.Gate.Mode,
		"alerts_file":      s.deps.Alerts.Path(),
		"alerts_count":     s.deps.Alerts.Count(),
	})
}

func (s *Server) handleStopContainer(w http.ResponseWriter, r *http.Request) {
	containerID := mux.Vars(r)["id"]

	if err := s.deps.Runtime.Stop(r.Context(), containerID, 5); err != nil {
		if runtime.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "No container found with ID "+containerID)
			return
		}
		s.deps.Logger.WithError(err).WithField("container", containerID).Error("Stop container failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.deps.Recent.Add("Container Stopped",
		"Container "+containerID+" stopped via API", "", containerID)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "stopped",
		"id":      containerID,
		"message": "Container " + containerID + " stopped successfully.",
	})
}

func parseLimit(raw string) int {
	limit := 100
	if raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 1000 {
		limit = 1000
	}
	return limit
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
