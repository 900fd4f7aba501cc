// Package policy implements the risk and policy gate. The gate decides
// permit/deny and whether confirmation is required; it never executes side
// effects and is safe to call repeatedly.
package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/unison-os/actuation/internal/action"
	"github.com/unison-os/actuation/internal/log"
)

// evaluateTimeout bounds each external policy call.
const evaluateTimeout = 5 * time.Second

// DeniedError marks a gate rejection. Always carries a human-readable
// reason; never fatal to the process.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return "policy denied: " + e.Reason
}

// Config configures the gate.
type Config struct {
	// PolicyURL is the external policy service base URL. Empty means local
	// allowlist checking only.
	PolicyURL string
	// AllowedRiskLevels defaults to {low, medium} when empty.
	AllowedRiskLevels []action.RiskLevel
}

// Gate evaluates envelopes against the local risk allowlist and, when
// configured, the external policy service.
type Gate struct {
	policyURL string
	allowed   map[action.RiskLevel]struct{}
	client    *http.Client
	logger    *slog.Logger
}

// NewGate builds a gate from config, applying the {low, medium} default
// allowlist.
func NewGate(cfg Config) *Gate {
	levels := cfg.AllowedRiskLevels
	if len(levels) == 0 {
		levels = []action.RiskLevel{action.RiskLow, action.RiskMedium}
	}
	allowed := make(map[action.RiskLevel]struct{}, len(levels))
	for _, lvl := range levels {
		allowed[lvl] = struct{}{}
	}
	return &Gate{
		policyURL: cfg.PolicyURL,
		allowed:   allowed,
		client:    &http.Client{Timeout: evaluateTimeout},
		logger:    log.WithComponent("policy"),
	}
}

type evaluateRequest struct {
	Action           string           `json:"action"`
	Context          *action.Envelope `json:"context"`
	ConsentReference string           `json:"consent_reference,omitempty"`
}

type evaluateResponse struct {
	Permitted            bool           `json:"permitted"`
	Status               string         `json:"status"`
	Reason               string         `json:"reason"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	RewrittenIntent      *action.Intent `json:"rewritten_intent"`
}

// Evaluate produces the decision for one envelope. Risk levels outside the
// allowlist are rejected locally without any external call. Policy-service
// failures are denials, never errors.
func (g *Gate) Evaluate(ctx context.Context, env *action.Envelope) action.Decision {
	risk := env.RiskLevel
	if _, ok := g.allowed[risk]; !ok {
		return action.Decision{
			Permitted: false,
			Status:    "rejected",
			Reason:    fmt.Sprintf("Risk level %s not enabled", risk),
			RiskLevel: risk,
		}
	}

	if g.policyURL == "" {
		return action.Decision{
			Permitted:            true,
			Status:               "permitted",
			RiskLevel:            risk,
			RequiresConfirmation: env.Constraints.RequiredConfirmations > 0,
		}
	}

	req := evaluateRequest{
		Action:           env.Intent.Name,
		Context:          env,
		ConsentReference: env.PolicyContext.ConsentReference,
	}
	var resp evaluateResponse
	status, err := g.post(ctx, req, &resp)
	if err != nil {
		g.logger.Warn("policy evaluation failed", "action_id", env.ActionID, "error", err)
		return action.Decision{
			Permitted: false,
			Status:    "rejected",
			Reason:    fmt.Sprintf("Policy evaluation failed: %v", err),
			RiskLevel: risk,
		}
	}
	if status >= 400 {
		return action.Decision{
			Permitted: false,
			Status:    "rejected",
			Reason:    fmt.Sprintf("Policy evaluation failed (%d)", status),
			RiskLevel: risk,
		}
	}

	return action.Decision{
		Permitted:            resp.Permitted,
		Status:               resp.Status,
		Reason:               resp.Reason,
		RiskLevel:            risk,
		RequiresConfirmation: resp.RequiresConfirmation,
		RewrittenIntent:      resp.RewrittenIntent,
	}
}

// Check is the lightweight gate used by the task proxy: action name, risk
// level, and person only. No policy URL configured means permit. A denial
// (or any policy-service failure) returns a *DeniedError.
func (g *Gate) Check(ctx context.Context, actionName string, risk action.RiskLevel, personID string) error {
	if g.policyURL == "" {
		return nil
	}

	req := map[string]any{
		"action": actionName,
		"context": map[string]any{
			"person_id":  personID,
			"risk_level": string(risk),
		},
	}
	var resp evaluateResponse
	// Absent fields default to permitted for the light gate; only an
	// explicit denial or a failed call blocks the task.
	resp.Permitted = true
	status, err := g.post(ctx, req, &resp)
	if err != nil {
		return &DeniedError{Reason: fmt.Sprintf("policy service unreachable: %v", err)}
	}
	if status >= 400 || !resp.Permitted {
		reason := resp.Reason
		if reason == "" {
			reason = "policy_denied"
		}
		return &DeniedError{Reason: reason}
	}
	return nil
}

// post sends an evaluate call and decodes the response body into out when
// present. Returns the HTTP status code.
func (g *Gate) post(ctx context.Context, payload any, out *evaluateResponse) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal evaluate request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, evaluateTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, g.policyURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build evaluate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("call policy service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 400 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return 0, fmt.Errorf("decode policy response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
