package api

import "github.com/unison-os/actuation/internal/action"

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// PendingResponse is the 202 payload for confirmation-gated actions.
type PendingResponse struct {
	ActionID             string           `json:"action_id"`
	Status               string           `json:"status"`
	RequiresConfirmation bool             `json:"requires_confirmation"`
	RiskLevel            action.RiskLevel `json:"risk_level"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ReadyResponse is returned by GET /readyz.
type ReadyResponse struct {
	Status string `json:"status"`
}
