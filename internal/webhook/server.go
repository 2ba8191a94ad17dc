package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/tetherhq/tether/internal/logging"
	"github.com/tetherhq/tether/pkg/models"
)

const (
	maxBodyBytes      = 1 << 20
	defaultLogEntries = 20
	maxLogEntries     = 100
)

// Trigger is the engine surface the server exposes to external callers:
// the scheduled trigger, the dashboard's manual trigger, or anything else
// that can reach the endpoint.
type Trigger interface {
	RunFull(ctx context.Context) models.SyncResult
	RunMapping(ctx context.Context, mappingID string) models.SyncResult
}

// LogReader serves the operation-log read model.
type LogReader interface {
	LogSummary(ctx context.Context, limit int) (models.OperationLogSummary, error)
}

// Server routes the inbound HTTP surface.
type Server struct {
	interactions http.Handler
	trigger      Trigger
	logs         LogReader

	// adminToken guards the trigger and log endpoints when set. The
	// interactions endpoint is guarded by its signature instead.
	adminToken string
}

// NewServer assembles the webhook server.
func NewServer(interactions http.Handler, trigger Trigger, logs LogReader, adminToken string) *Server {
	return &Server{
		interactions: interactions,
		trigger:      trigger,
		logs:         logs,
		adminToken:   adminToken,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case r.URL.Path == "/v1/interactions":
		s.interactions.ServeHTTP(w, r)
	case r.URL.Path == "/v1/sync" && r.Method == http.MethodPost:
		s.handleSync(w, r)
	case r.URL.Path == "/v1/operations" && r.Method == http.MethodGet:
		s.handleOperations(w, r)
	default:
		writeError(w, http.StatusNotFound, "route not found")
	}
}

// handleSync runs a full pass, or a single mapping when ?mapping= names
// one, and returns the aggregated result. The run applies everything it
// can; a non-success result still carries HTTP 200 with the errors listed
// verbatim for the dashboard.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
		return
	}

	var result models.SyncResult
	if mappingID := r.URL.Query().Get("mapping"); mappingID != "" {
		result = s.trigger.RunMapping(r.Context(), mappingID)
	} else {
		result = s.trigger.RunFull(r.Context())
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
		return
	}

	limit := defaultLogEntries
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	if limit > maxLogEntries {
		limit = maxLogEntries
	}

	summary, err := s.logs.LogSummary(r.Context(), limit)
	if err != nil {
		logging.Error("failed to build operation log summary", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read operation log")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.adminToken == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) == 1
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Error("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
