// Package action defines the action envelope data model: the request-scoped
// unit describing intent, target, and constraints for one actuation.
package action

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Intent is the canonical operation identifier plus opaque structured
// arguments. Treated as immutable once constructed; the policy gate may
// substitute a rewritten intent, never mutate one in place.
type Intent struct {
	Name          string         `json:"name"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	HumanReadable string         `json:"human_readable,omitempty"`
}

// Target identifies what is being acted on. DeviceClass is the primary
// routing discriminator.
type Target struct {
	DeviceID    string `json:"device_id"`
	DeviceClass string `json:"device_class"`
	Location    string `json:"location,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
}

// Constraints bound how and when the action may execute.
type Constraints struct {
	MaxDurationMs         int         `json:"max_duration_ms,omitempty"`
	RequiredConfirmations int         `json:"required_confirmations"`
	QuietHours            []string    `json:"quiet_hours,omitempty"`
	AllowedRiskLevels     []RiskLevel `json:"allowed_risk_levels,omitempty"`
}

// PolicyContext carries the caller's scopes and consent evidence.
type PolicyContext struct {
	Scopes           []string  `json:"scopes,omitempty"`
	ConsentReference string    `json:"consent_reference,omitempty"`
	Justification    string    `json:"justification,omitempty"`
	RiskLevel        RiskLevel `json:"risk_level,omitempty"`
}

// TelemetryChannel names where lifecycle telemetry should be published.
type TelemetryChannel struct {
	Topic             string `json:"topic"`
	Delivery          string `json:"delivery,omitempty"`
	IncludeParameters bool   `json:"include_parameters,omitempty"`
}

// Provenance records which upstream plan or model proposed the action.
type Provenance struct {
	SourceIntent       string     `json:"source_intent"`
	OrchestratorTaskID string     `json:"orchestrator_task_id,omitempty"`
	ModelVersion       string     `json:"model_version,omitempty"`
	GeneratedAt        *time.Time `json:"generated_at,omitempty"`
}

// Envelope is the unit of work for one actuation. Owned exclusively by the
// request lifecycle that created it; never shared across concurrent
// dispatches.
type Envelope struct {
	SchemaVersion    string            `json:"schema_version,omitempty"`
	ActionID         string            `json:"action_id,omitempty"`
	PersonID         string            `json:"person_id"`
	Target           Target            `json:"target"`
	Intent           Intent            `json:"intent"`
	RiskLevel        RiskLevel         `json:"risk_level,omitempty"`
	Constraints      Constraints       `json:"constraints,omitempty"`
	PolicyContext    PolicyContext     `json:"policy_context,omitempty"`
	TelemetryChannel *TelemetryChannel `json:"telemetry_channel,omitempty"`
	Provenance       *Provenance       `json:"provenance,omitempty"`
	CreatedAt        time.Time         `json:"created_at,omitempty"`
	CorrelationID    string            `json:"correlation_id,omitempty"`
}

// Decision is produced once per envelope by the policy gate and consumed by
// the dispatcher. Immutable.
type Decision struct {
	Permitted            bool      `json:"permitted"`
	Status               string    `json:"status"`
	Reason               string    `json:"reason,omitempty"`
	RiskLevel            RiskLevel `json:"risk_level"`
	RequiresConfirmation bool      `json:"requires_confirmation"`
	RewrittenIntent      *Intent   `json:"rewritten_intent,omitempty"`
}

// Result is produced once by the driver that executed the action.
type Result struct {
	ActionID  string         `json:"action_id"`
	Status    string         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Telemetry map[string]any `json:"telemetry,omitempty"`
	Driver    string         `json:"driver,omitempty"`
}

// EnsureDefaults fills generated fields: action ID, schema version, risk
// level, and creation time.
func (e *Envelope) EnsureDefaults() {
	if e.ActionID == "" {
		e.ActionID = uuid.NewString()
	}
	if e.SchemaVersion == "" {
		e.SchemaVersion = "1.0"
	}
	if e.RiskLevel == "" {
		e.RiskLevel = RiskLow
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
}

// Validate checks the envelope at construction time, before any gate or
// routing logic runs. Returns a *ValidationError describing the first
// problem found.
func (e *Envelope) Validate() error {
	if e.PersonID == "" {
		return &ValidationError{Field: "person_id", Reason: "required"}
	}
	if e.Target.DeviceID == "" {
		return &ValidationError{Field: "target.device_id", Reason: "required"}
	}
	if e.Target.DeviceClass == "" {
		return &ValidationError{Field: "target.device_class", Reason: "required"}
	}
	if e.Intent.Name == "" {
		return &ValidationError{Field: "intent.name", Reason: "required"}
	}
	if !e.RiskLevel.Valid() {
		return &ValidationError{Field: "risk_level", Reason: fmt.Sprintf("unknown risk level %q", e.RiskLevel)}
	}
	if e.Constraints.RequiredConfirmations < 0 {
		return &ValidationError{Field: "constraints.required_confirmations", Reason: "must be >= 0"}
	}
	if e.Constraints.MaxDurationMs < 0 {
		return &ValidationError{Field: "constraints.max_duration_ms", Reason: "must be >= 0"}
	}
	if err := validateQuietHours(e.Constraints.QuietHours); err != nil {
		return err
	}
	if allowed := e.Constraints.AllowedRiskLevels; len(allowed) > 0 {
		member := false
		for _, lvl := range allowed {
			if lvl == e.RiskLevel {
				member = true
				break
			}
		}
		if !member {
			return &ValidationError{
				Field:  "risk_level",
				Reason: fmt.Sprintf("risk level %q not permitted by constraints", e.RiskLevel),
			}
		}
	}
	return nil
}

// validateQuietHours checks each window is in HH:MM-HH:MM form.
func validateQuietHours(windows []string) error {
	for _, window := range windows {
		start, end, ok := strings.Cut(window, "-")
		if !ok {
			return &ValidationError{
				Field:  "constraints.quiet_hours",
				Reason: fmt.Sprintf("invalid window %q", window),
			}
		}
		for _, part := range []string{start, end} {
			if !validClockTime(part) {
				return &ValidationError{
					Field:  "constraints.quiet_hours",
					Reason: fmt.Sprintf("invalid time %q in window %q", part, window),
				}
			}
		}
	}
	return nil
}

func validClockTime(s string) bool {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return false
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return false
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return false
	}
	return true
}
