// Package api provides HTTP handlers for the alert routing and
// response engine.
//
// # Endpoints
//
//	POST /processAlert            - ingest and dispatch one alert webhook
//	POST /setFlags                - admin: update incident_response_mode
//	GET  /getAdminSettingsFlags   - read the current flag snapshot
//	GET  /alerts                  - search alert records
//	GET  /alerts/{id}             - get a single alert record
//	GET  /alerts/stats            - aggregate counts by selection mode
//	GET  /healthz                 - liveness check
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/arre-io/arre/internal/dispatcher"
	"github.com/arre-io/arre/internal/flags"
	"github.com/arre-io/arre/pkg/types"
)

// Service is the subset of *service.Service the API layer depends on,
// declared narrowly so handlers can be tested against a fake.
type Service interface {
	ProcessAlert(ctx context.Context, raw []byte, workspace string) (dispatcher.Result, error)
	GetFlags() types.Flags
	SetFlags(ctx context.Context, actor flags.Actor, update types.FlagsUpdate, updatedBy string) (types.Flags, error)
	ListAlerts(ctx context.Context, filter types.AlertFilter) ([]types.AlertRecord, error)
	GetAlert(ctx context.Context, id string) (*types.AlertRecord, error)
	GetAlertStats(ctx context.Context, since time.Time) (*types.AlertStats, error)
}

// Server is the HTTP API server.
type Server struct {
	svc    Service
	logger *slog.Logger
	mux    *http.ServeMux
}

// NewServer creates a new API server.
func NewServer(svc Service, logger *slog.Logger) *Server {
	s := &Server{
		svc:    svc,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Mux returns the underlying ServeMux for wrapping with middleware.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.Debug("request",
		"method", r.Method,
		"path", r.URL.Path,
		"duration", time.Since(start))
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("POST /processAlert", s.handleProcessAlert)
	s.mux.HandleFunc("POST /setFlags", s.handleSetFlags)
	s.mux.HandleFunc("GET /getAdminSettingsFlags", s.handleGetAdminSettingsFlags)

	s.mux.HandleFunc("GET /alerts", s.handleListAlerts)
	s.mux.HandleFunc("GET /alerts/stats", s.handleGetAlertStats)
	s.mux.HandleFunc("GET /alerts/{id}", s.handleGetAlert)
}

// =============================================================================
// HEALTH
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// ALERT INGESTION
// =============================================================================

// processAlertResponse is the wire envelope for /processAlert.
// incident_response_mode is the mode configured when the alert was
// processed, which may differ from the record's selection_mode (e.g. a
// deterministic match under ai_selected, or no dispatch at all). The
// other fields are copied from the dispatcher's AlertRecord.
type processAlertResponse struct {
	Status               string                `json:"status"`
	AlertSource          string                `json:"alert_source"`
	AlertName            string                `json:"alert_name"`
	TasksExecuted        int                   `json:"tasks_executed"`
	IncidentResponseMode types.SelectionMode   `json:"incident_response_mode"`
	ExecutedTasks        []types.ExecutedTask  `json:"executed_tasks"`
	RunbookTaskID        *string               `json:"runbook_task_id,omitempty"`
	ChildTaskID          *string               `json:"child_task_id,omitempty"`
	AIConfidence         *float64              `json:"ai_confidence,omitempty"`
	AIReasoning          string                `json:"ai_reasoning,omitempty"`
	Message              string                `json:"message"`
}

func (s *Server) handleProcessAlert(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxAlertBodyBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	// workspace is a deployment-routing hint some topologies require;
	// passed through opaquely, never interpreted here.
	workspace := r.URL.Query().Get("workspace")

	result, err := s.svc.ProcessAlert(r.Context(), raw, workspace)
	if err != nil {
		s.logger.Error("process alert failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to process alert")
		return
	}

	switch result.Status {
	case dispatcher.StatusTransient:
		s.writeError(w, http.StatusServiceUnavailable, "downstream dependency unavailable")
		return
	case dispatcher.StatusUnparseable:
		s.writeJSON(w, http.StatusBadRequest, processAlertResponse{
			Status:  "error",
			Message: "unrecognized alert payload",
		})
		return
	}

	resp := processAlertResponse{
		Status:               "success",
		AlertSource:          result.Record.Source,
		AlertName:            result.Record.AlertName,
		TasksExecuted:        result.Record.TasksExecuted,
		IncidentResponseMode: result.Record.IncidentResponseMode,
		ExecutedTasks:        result.Record.ExecutedTasks,
		RunbookTaskID:        result.Record.RunbookTaskID,
		ChildTaskID:          result.Record.ChildTaskID,
		AIReasoning:          result.Record.AIReasoning,
		Message:              "alert processed",
	}
	if result.Record.AIAttempted {
		confidence := result.Record.AIConfidence
		resp.AIConfidence = &confidence
	}

	status := http.StatusOK
	if result.Status == dispatcher.StatusTimeout {
		status = http.StatusGatewayTimeout
		resp.Message = "alert processing deadline exceeded"
	}
	s.writeJSON(w, status, resp)
}

// =============================================================================
// FLAG ENDPOINTS
// =============================================================================

type setFlagsRequest struct {
	IncidentResponseMode         *types.SelectionMode `json:"incident_response_mode,omitempty"`
	AcceptTrustedPrincipalHeader *bool                 `json:"accept_trusted_principal_header,omitempty"`
}

func (s *Server) handleSetFlags(w http.ResponseWriter, r *http.Request) {
	var req setFlagsRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	principal := PrincipalFromContext(r.Context())
	actor := flags.Actor{Role: principal.Role}

	update := types.FlagsUpdate{
		IncidentResponseMode:         req.IncidentResponseMode,
		AcceptTrustedPrincipalHeader: req.AcceptTrustedPrincipalHeader,
	}

	updated, err := s.svc.SetFlags(r.Context(), actor, update, principal.ID)
	if err != nil {
		switch {
		case isPermissionDenied(err):
			s.writeError(w, http.StatusForbidden, err.Error())
		case isInvalidValue(err):
			s.writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error("set flags failed", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to update flags")
		}
		return
	}

	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleGetAdminSettingsFlags(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.GetFlags())
}

// =============================================================================
// ALERT QUERY ENDPOINTS
// =============================================================================

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	filter := types.AlertFilter{}

	if source := r.URL.Query().Get("source"); source != "" {
		filter.Source = &source
	}
	if name := r.URL.Query().Get("alert_name"); name != "" {
		filter.AlertName = &name
	}
	if mode := r.URL.Query().Get("selection_mode"); mode != "" {
		m := types.SelectionMode(mode)
		filter.SelectionMode = &m
	}
	if severity := r.URL.Query().Get("severity"); severity != "" {
		sev := types.Severity(severity)
		filter.Severity = &sev
	}
	if status := r.URL.Query().Get("status"); status != "" {
		st := types.AlertStatus(status)
		filter.Status = &st
	}
	filter.Query = r.URL.Query().Get("q")
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			filter.Limit = l
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil {
			filter.Offset = o
		}
	}

	alerts, err := s.svc.ListAlerts(r.Context(), filter)
	if err != nil {
		s.logger.Error("list alerts failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	alert, err := s.svc.GetAlert(r.Context(), id)
	if err != nil {
		s.logger.Error("get alert failed", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get alert")
		return
	}
	if alert == nil {
		s.writeError(w, http.StatusNotFound, "alert not found")
		return
	}

	s.writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleGetAlertStats(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		if parsed, err := time.Parse(time.RFC3339, sinceStr); err == nil {
			since = parsed
		}
	}

	stats, err := s.svc.GetAlertStats(r.Context(), since)
	if err != nil {
		s.logger.Error("get alert stats failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get alert stats")
		return
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// =============================================================================
// HELPERS
// =============================================================================

const maxAlertBodyBytes = 1 << 20 // 1 MiB

func (s *Server) readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}

func isPermissionDenied(err error) bool {
	return errors.Is(err, flags.ErrPermissionDenied)
}

func isInvalidValue(err error) bool {
	return errors.Is(err, flags.ErrInvalidValue)
}
