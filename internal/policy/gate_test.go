package policy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/unison-os/actuation/internal/action"
	"github.com/unison-os/actuation/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

func testEnvelope(risk action.RiskLevel) *action.Envelope {
	env := &action.Envelope{
		PersonID:  "person-1",
		Target:    action.Target{DeviceID: "lamp-1", DeviceClass: "light"},
		Intent:    action.Intent{Name: "turn_on"},
		RiskLevel: risk,
	}
	env.EnsureDefaults()
	return env
}

func TestAllowlistRejectsWithoutExternalCall(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"permitted": true, "status": "permitted"})
	}))
	t.Cleanup(srv.Close)

	g := NewGate(Config{
		PolicyURL:         srv.URL,
		AllowedRiskLevels: []action.RiskLevel{action.RiskLow, action.RiskMedium},
	})

	dec := g.Evaluate(context.Background(), testEnvelope(action.RiskHigh))
	if dec.Permitted {
		t.Fatal("expected denial for disallowed risk level")
	}
	if dec.Status != "rejected" {
		t.Fatalf("status = %q, want rejected", dec.Status)
	}
	if calls.Load() != 0 {
		t.Fatalf("policy service called %d times for allowlist rejection", calls.Load())
	}
}

func TestNoPolicyURLPermitsLocally(t *testing.T) {
	t.Parallel()

	g := NewGate(Config{})

	dec := g.Evaluate(context.Background(), testEnvelope(action.RiskLow))
	if !dec.Permitted {
		t.Fatalf("expected permit, got %+v", dec)
	}
	if dec.RequiresConfirmation {
		t.Fatal("unexpected confirmation requirement")
	}

	env := testEnvelope(action.RiskLow)
	env.Constraints.RequiredConfirmations = 1
	dec = g.Evaluate(context.Background(), env)
	if !dec.Permitted || !dec.RequiresConfirmation {
		t.Fatalf("expected permit with confirmation, got %+v", dec)
	}
}

func TestExternalPolicyDecision(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/evaluate" {
			t.Errorf("path = %q, want /evaluate", r.URL.Path)
		}
		var req struct {
			Action  string           `json:"action"`
			Context *action.Envelope `json:"context"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Action != "turn_on" || req.Context == nil || req.Context.PersonID != "person-1" {
			t.Errorf("unexpected evaluate request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"permitted":             true,
			"status":                "permitted",
			"requires_confirmation": true,
			"rewritten_intent":      map[string]any{"name": "turn_on_dimmed"},
		})
	}))
	t.Cleanup(srv.Close)

	g := NewGate(Config{PolicyURL: srv.URL})
	dec := g.Evaluate(context.Background(), testEnvelope(action.RiskLow))
	if !dec.Permitted || !dec.RequiresConfirmation {
		t.Fatalf("unexpected decision: %+v", dec)
	}
	if dec.RewrittenIntent == nil || dec.RewrittenIntent.Name != "turn_on_dimmed" {
		t.Fatalf("rewritten intent not carried: %+v", dec.RewrittenIntent)
	}
}

func TestPolicyServiceFailureIsDenial(t *testing.T) {
	t.Parallel()

	// HTTP error status.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	g := NewGate(Config{PolicyURL: srv.URL})
	dec := g.Evaluate(context.Background(), testEnvelope(action.RiskLow))
	if dec.Permitted {
		t.Fatal("expected denial on policy service error status")
	}

	// Unreachable service.
	g = NewGate(Config{PolicyURL: "http://127.0.0.1:1"})
	dec = g.Evaluate(context.Background(), testEnvelope(action.RiskLow))
	if dec.Permitted {
		t.Fatal("expected denial on unreachable policy service")
	}

	// Malformed body.
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	t.Cleanup(bad.Close)

	g = NewGate(Config{PolicyURL: bad.URL})
	dec = g.Evaluate(context.Background(), testEnvelope(action.RiskLow))
	if dec.Permitted {
		t.Fatal("expected denial on malformed policy response")
	}
}

func TestCheckLightGate(t *testing.T) {
	t.Parallel()

	// No policy URL: permit.
	g := NewGate(Config{})
	if err := g.Check(context.Background(), "vdi.browse", action.RiskLow, "person-1"); err != nil {
		t.Fatalf("Check: %v", err)
	}

	// Explicit denial.
	deny := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"permitted": false, "reason": "quiet hours"})
	}))
	t.Cleanup(deny.Close)

	g = NewGate(Config{PolicyURL: deny.URL})
	err := g.Check(context.Background(), "vdi.browse", action.RiskLow, "person-1")
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError, got %v", err)
	}
	if denied.Reason != "quiet hours" {
		t.Fatalf("reason = %q", denied.Reason)
	}

	// Response with no permitted field defaults to permit.
	silent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}))
	t.Cleanup(silent.Close)

	g = NewGate(Config{PolicyURL: silent.URL})
	if err := g.Check(context.Background(), "vdi.browse", action.RiskLow, "person-1"); err != nil {
		t.Fatalf("Check: %v", err)
	}

	// Unreachable service blocks.
	g = NewGate(Config{PolicyURL: "http://127.0.0.1:1"})
	err = g.Check(context.Background(), "vdi.browse", action.RiskLow, "person-1")
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError for unreachable service, got %v", err)
	}
}
