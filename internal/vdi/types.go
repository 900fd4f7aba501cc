package vdi

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/unison-os/actuation/internal/action"
)

// BaseTask carries the fields shared by every delegated VDI task.
type BaseTask struct {
	ActionID         string                   `json:"action_id,omitempty"`
	TraceID          string                   `json:"trace_id,omitempty"`
	PersonID         string                   `json:"person_id"`
	URL              string                   `json:"url"`
	SessionID        string                   `json:"session_id,omitempty"`
	WaitFor          string                   `json:"wait_for,omitempty"`
	Headers          map[string]string        `json:"headers,omitempty"`
	RiskLevel        action.RiskLevel         `json:"risk_level,omitempty"`
	TelemetryChannel *action.TelemetryChannel `json:"telemetry_channel,omitempty"`
}

// EnsureDefaults fills the generated action ID, default risk level, and the
// default vdi stream telemetry channel.
func (t *BaseTask) EnsureDefaults() {
	if t.ActionID == "" {
		t.ActionID = fmt.Sprintf("vdi_%x", uuid.New())
	}
	if t.RiskLevel == "" {
		t.RiskLevel = action.RiskLow
	}
	if t.TelemetryChannel == nil {
		t.TelemetryChannel = &action.TelemetryChannel{Topic: "vdi", Delivery: "stream"}
	}
}

// Validate checks required base fields.
func (t *BaseTask) Validate() error {
	if t.PersonID == "" {
		return &action.ValidationError{Field: "person_id", Reason: "required"}
	}
	if t.URL == "" {
		return &action.ValidationError{Field: "url", Reason: "required"}
	}
	if !t.RiskLevel.Valid() {
		return &action.ValidationError{Field: "risk_level", Reason: fmt.Sprintf("unknown risk level %q", t.RiskLevel)}
	}
	return nil
}

// BrowseAction is one step of a browse task.
type BrowseAction struct {
	ClickSelector string `json:"click_selector,omitempty"`
	WaitFor       string `json:"wait_for,omitempty"`
}

// BrowseTask drives the agent through a page.
type BrowseTask struct {
	BaseTask
	Actions []BrowseAction `json:"actions,omitempty"`
}

// FormField is one field of a form-submit task.
type FormField struct {
	Selector string `json:"selector"`
	Value    string `json:"value"`
	Type     string `json:"type,omitempty"`
}

// FormSubmitTask fills and submits a form.
type FormSubmitTask struct {
	BaseTask
	Form           []FormField `json:"form,omitempty"`
	SubmitSelector string      `json:"submit_selector,omitempty"`
}

// DownloadTask fetches a file through the agent.
type DownloadTask struct {
	BaseTask
	TargetPath string `json:"target_path,omitempty"`
	Filename   string `json:"filename,omitempty"`
}

// UpstreamError marks a failed agent call: either a non-retryable agent
// response or exhausted retries (Unavailable set).
type UpstreamError struct {
	StatusCode  int
	Detail      string
	Unavailable bool
}

func (e *UpstreamError) Error() string {
	if e.Unavailable {
		return fmt.Sprintf("vdi agent unavailable: %s", e.Detail)
	}
	return fmt.Sprintf("vdi agent rejected task (%d): %s", e.StatusCode, e.Detail)
}
