package action

import (
	"errors"
	"testing"
)

func validEnvelope() Envelope {
	return Envelope{
		PersonID: "person-1",
		Target:   Target{DeviceID: "lamp-1", DeviceClass: "light"},
		Intent:   Intent{Name: "turn_on"},
	}
}

func TestEnsureDefaults(t *testing.T) {
	t.Parallel()

	env := validEnvelope()
	env.EnsureDefaults()

	if env.ActionID == "" {
		t.Fatal("expected generated action_id")
	}
	if env.SchemaVersion != "1.0" {
		t.Fatalf("schema_version = %q, want 1.0", env.SchemaVersion)
	}
	if env.RiskLevel != RiskLow {
		t.Fatalf("risk_level = %q, want low", env.RiskLevel)
	}
	if env.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}
}

func TestEnsureDefaultsPreservesExisting(t *testing.T) {
	t.Parallel()

	env := validEnvelope()
	env.ActionID = "act-42"
	env.RiskLevel = RiskHigh
	env.EnsureDefaults()

	if env.ActionID != "act-42" {
		t.Fatalf("action_id = %q, want act-42", env.ActionID)
	}
	if env.RiskLevel != RiskHigh {
		t.Fatalf("risk_level = %q, want high", env.RiskLevel)
	}
}

func TestValidateRequiredFields(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Envelope)
		field  string
	}{
		{"missing person", func(e *Envelope) { e.PersonID = "" }, "person_id"},
		{"missing device id", func(e *Envelope) { e.Target.DeviceID = "" }, "target.device_id"},
		{"missing device class", func(e *Envelope) { e.Target.DeviceClass = "" }, "target.device_class"},
		{"missing intent", func(e *Envelope) { e.Intent.Name = "" }, "intent.name"},
		{"unknown risk", func(e *Envelope) { e.RiskLevel = "extreme" }, "risk_level"},
		{"negative confirmations", func(e *Envelope) { e.Constraints.RequiredConfirmations = -1 }, "constraints.required_confirmations"},
		{"negative duration", func(e *Envelope) { e.Constraints.MaxDurationMs = -1 }, "constraints.max_duration_ms"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := validEnvelope()
			env.EnsureDefaults()
			tc.mutate(&env)

			err := env.Validate()
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("field = %q, want %q", verr.Field, tc.field)
			}
		})
	}
}

func TestValidateAllowedRiskLevels(t *testing.T) {
	t.Parallel()

	env := validEnvelope()
	env.EnsureDefaults()
	env.RiskLevel = RiskHigh
	env.Constraints.AllowedRiskLevels = []RiskLevel{RiskLow, RiskMedium}

	err := env.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Field != "risk_level" {
		t.Fatalf("field = %q, want risk_level", verr.Field)
	}

	// A matching constraint list passes.
	env.Constraints.AllowedRiskLevels = []RiskLevel{RiskHigh}
	if err := env.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateQuietHours(t *testing.T) {
	t.Parallel()

	env := validEnvelope()
	env.EnsureDefaults()

	env.Constraints.QuietHours = []string{"22:00-07:30"}
	if err := env.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	for _, bad := range []string{"2200-0730", "25:00-07:00", "22:00-07:61", "22:00"} {
		env.Constraints.QuietHours = []string{bad}
		err := env.Validate()
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("window %q: expected ValidationError, got %v", bad, err)
		}
		if verr.Field != "constraints.quiet_hours" {
			t.Fatalf("window %q: field = %q", bad, verr.Field)
		}
	}
}
