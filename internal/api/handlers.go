package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unison-os/actuation/internal/action"
	"github.com/unison-os/actuation/internal/dispatch"
	"github.com/unison-os/actuation/internal/driver"
	"github.com/unison-os/actuation/internal/policy"
	"github.com/unison-os/actuation/internal/vdi"
)

// handleHealth handles GET /health (no auth).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handleReadyz handles GET /readyz (no auth).
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ReadyResponse{Status: "ready"})
}

// handleActuate handles POST /actuate.
func (s *Server) handleActuate(w http.ResponseWriter, r *http.Request) {
	var env action.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	env.EnsureDefaults()
	if err := env.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := s.dispatcher.Dispatch(r.Context(), &env)
	if err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}

	if outcome.AwaitingConfirmation {
		respondJSON(w, http.StatusAccepted, PendingResponse{
			ActionID:             env.ActionID,
			Status:               "awaiting_confirmation",
			RequiresConfirmation: true,
			RiskLevel:            outcome.Decision.RiskLevel,
		})
		return
	}

	respondJSON(w, http.StatusOK, outcome.Result)
}

// handleTelemetryRecent handles GET /telemetry/recent?limit=N.
func (s *Server) handleTelemetryRecent(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), 20)
	events := s.publisher.Recent(limit)
	respondJSON(w, http.StatusOK, events)
}

// handleActionsRecent handles GET /actions/recent?limit=N.
func (s *Server) handleActionsRecent(w http.ResponseWriter, r *http.Request) {
	if s.auditor == nil {
		s.writeError(w, http.StatusNotFound, "audit trail disabled")
		return
	}
	limit := parseLimit(r.URL.Query().Get("limit"), 20)
	records, err := s.auditor.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list audit records", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list actions")
		return
	}
	respondJSON(w, http.StatusOK, records)
}

// handleGetAction handles GET /actions/{actionID}.
func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	if s.auditor == nil {
		s.writeError(w, http.StatusNotFound, "audit trail disabled")
		return
	}
	actionID := chi.URLParam(r, "actionID")
	rec, err := s.auditor.GetByActionID(r.Context(), actionID)
	if err != nil {
		s.logger.Error("failed to load audit record", "action_id", actionID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load action")
		return
	}
	if rec == nil {
		s.writeError(w, http.StatusNotFound, "action not found")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// handleVdiBrowse handles POST /vdi/tasks/browse.
func (s *Server) handleVdiBrowse(w http.ResponseWriter, r *http.Request) {
	var task vdi.BrowseTask
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.respondVdi(w, r, func() (json.RawMessage, error) {
		return s.proxy.Browse(r.Context(), &task)
	})
}

// handleVdiFormSubmit handles POST /vdi/tasks/form-submit.
func (s *Server) handleVdiFormSubmit(w http.ResponseWriter, r *http.Request) {
	var task vdi.FormSubmitTask
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.respondVdi(w, r, func() (json.RawMessage, error) {
		return s.proxy.FormSubmit(r.Context(), &task)
	})
}

// handleVdiDownload handles POST /vdi/tasks/download.
func (s *Server) handleVdiDownload(w http.ResponseWriter, r *http.Request) {
	var task vdi.DownloadTask
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.respondVdi(w, r, func() (json.RawMessage, error) {
		return s.proxy.Download(r.Context(), &task)
	})
}

func (s *Server) respondVdi(w http.ResponseWriter, r *http.Request, call func() (json.RawMessage, error)) {
	body, err := call()
	if err != nil {
		s.writeError(w, statusForError(err), err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// statusForError maps the domain error taxonomy to HTTP statuses.
func statusForError(err error) int {
	var (
		validationErr *action.ValidationError
		deniedErr     *policy.DeniedError
		ceilingErr    *dispatch.RiskCeilingError
		scopeErr      *dispatch.ScopeError
		routeErr      *driver.NoCapableDriverError
		execErr       *driver.ExecutionError
		upstreamErr   *vdi.UpstreamError
	)
	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest
	case errors.As(err, &deniedErr):
		return http.StatusForbidden
	case errors.As(err, &ceilingErr):
		return http.StatusForbidden
	case errors.As(err, &scopeErr):
		return http.StatusForbidden
	case errors.As(err, &routeErr):
		return http.StatusBadRequest
	case errors.As(err, &execErr):
		return http.StatusBadRequest
	case errors.As(err, &upstreamErr):
		if upstreamErr.Unavailable {
			return http.StatusBadGateway
		}
		return upstreamErr.StatusCode
	default:
		return http.StatusInternalServerError
	}
}

func parseLimit(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// respondJSON is a helper to write JSON responses.
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
