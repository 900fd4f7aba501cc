// Package dispatch orchestrates one actuation request: policy gate,
// confirmation short-circuit, capability routing, risk-ceiling and scope
// enforcement, driver execution, and lifecycle telemetry.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/unison-os/actuation/internal/action"
	"github.com/unison-os/actuation/internal/audit"
	"github.com/unison-os/actuation/internal/driver"
	"github.com/unison-os/actuation/internal/log"
	"github.com/unison-os/actuation/internal/policy"
	"github.com/unison-os/actuation/internal/telemetry"
)

// scopeNamespacePrefix marks scopes that satisfy the scope requirement
// without being listed in the configured allowlist.
const scopeNamespacePrefix = "actuation."

// RiskCeilingError marks an envelope whose risk level exceeds the selected
// driver's ceiling.
type RiskCeilingError struct {
	Driver  string
	Risk    action.RiskLevel
	Ceiling action.RiskLevel
}

func (e *RiskCeilingError) Error() string {
	return fmt.Sprintf("risk level %s exceeds driver %s allowance (%s)", e.Risk, e.Driver, e.Ceiling)
}

// ScopeError marks a policy context missing every required actuation scope.
type ScopeError struct{}

func (e *ScopeError) Error() string {
	return "missing required actuation scope"
}

// Outcome is the result of one dispatch: either a completed result or an
// awaiting-confirmation short circuit. Rejections are returned as errors.
type Outcome struct {
	Result               *action.Result
	AwaitingConfirmation bool
	Decision             action.Decision
}

// Config holds dispatcher policy knobs, read-only after startup.
type Config struct {
	// LoggingOnly forces every action through the logging driver.
	LoggingOnly bool
	// RequiredScopes, when non-empty, demands at least one envelope scope be
	// a member or carry the actuation namespace prefix.
	RequiredScopes []string
}

// Dispatcher wires the gate, registry, telemetry publisher, and audit trail.
type Dispatcher struct {
	gate           *policy.Gate
	registry       *driver.Registry
	publisher      *telemetry.Publisher
	auditor        *audit.Store
	loggingDriver  driver.Driver
	loggingOnly    bool
	requiredScopes map[string]struct{}
	logger         *slog.Logger
}

// New creates a Dispatcher. auditor may be nil to disable the audit trail.
func New(gate *policy.Gate, registry *driver.Registry, publisher *telemetry.Publisher, auditor *audit.Store, cfg Config) *Dispatcher {
	scopes := make(map[string]struct{}, len(cfg.RequiredScopes))
	for _, s := range cfg.RequiredScopes {
		s = strings.TrimSpace(s)
		if s != "" {
			scopes[s] = struct{}{}
		}
	}
	return &Dispatcher{
		gate:           gate,
		registry:       registry,
		publisher:      publisher,
		auditor:        auditor,
		loggingDriver:  driver.NewLoggingDriver(true),
		loggingOnly:    cfg.LoggingOnly,
		requiredScopes: scopes,
		logger:         log.WithComponent("dispatch"),
	}
}

// Dispatch runs the full gate → route → execute → telemetry sequence for one
// envelope. Denials and failures come back as typed errors; the process
// never crashes on them.
func (d *Dispatcher) Dispatch(ctx context.Context, env *action.Envelope) (*Outcome, error) {
	actionLogger := log.WithAction(env.ActionID).With("intent", env.Intent.Name)

	decision := d.gate.Evaluate(ctx, env)
	if !decision.Permitted {
		reason := decision.Reason
		if reason == "" {
			reason = "Policy rejected action"
		}
		actionLogger.Warn("action rejected by policy", "reason", reason)
		d.record(ctx, env, decision.Status, "rejected", "", reason)
		return nil, &policy.DeniedError{Reason: reason}
	}

	if decision.RequiresConfirmation {
		d.publisher.Publish(ctx, telemetry.Event{
			ActionID:    env.ActionID,
			Status:      "pending",
			Lifecycle:   telemetry.LifecycleAwaitingConfirmation,
			DeviceID:    env.Target.DeviceID,
			DeviceClass: env.Target.DeviceClass,
			Intent:      env.Intent.Name,
		}, env.TelemetryChannel)
		actionLogger.Info("action awaiting confirmation")
		d.record(ctx, env, decision.Status, "awaiting_confirmation", "", "")
		return &Outcome{AwaitingConfirmation: true, Decision: decision}, nil
	}

	drv, err := d.selectDriver(env)
	if err != nil {
		actionLogger.Warn("routing failed", "error", err)
		d.record(ctx, env, decision.Status, "rejected", "", err.Error())
		return nil, err
	}

	if env.RiskLevel.Exceeds(drv.MaxRiskLevel()) {
		err := &RiskCeilingError{Driver: drv.Name(), Risk: env.RiskLevel, Ceiling: drv.MaxRiskLevel()}
		actionLogger.Warn("risk ceiling exceeded", "driver", drv.Name(), "ceiling", drv.MaxRiskLevel())
		d.record(ctx, env, decision.Status, "rejected", drv.Name(), err.Error())
		return nil, err
	}

	if !d.scopesSatisfied(env.PolicyContext.Scopes) {
		err := &ScopeError{}
		actionLogger.Warn("scope check failed", "scopes", env.PolicyContext.Scopes)
		d.record(ctx, env, decision.Status, "rejected", drv.Name(), err.Error())
		return nil, err
	}

	// Rewritten intent is a substitution on a copy; the caller's envelope
	// stays untouched.
	exec := *env
	if decision.RewrittenIntent != nil {
		exec.Intent = *decision.RewrittenIntent
	}

	result, err := drv.Execute(ctx, &exec)
	if err != nil {
		var execErr *driver.ExecutionError
		if !errors.As(err, &execErr) {
			execErr = &driver.ExecutionError{Driver: drv.Name(), Reason: err.Error()}
		}
		actionLogger.Warn("driver execution failed", "driver", drv.Name(), "error", execErr.Reason)
		d.record(ctx, env, decision.Status, "failed", drv.Name(), execErr.Reason)
		return nil, execErr
	}

	d.publisher.Publish(ctx, telemetry.Event{
		ActionID:    env.ActionID,
		Status:      result.Status,
		Lifecycle:   telemetry.LifecycleCompleted,
		DeviceID:    env.Target.DeviceID,
		DeviceClass: env.Target.DeviceClass,
		Intent:      exec.Intent.Name,
		Telemetry:   result.Telemetry,
	}, env.TelemetryChannel)

	actionLogger.Info("action completed", "driver", drv.Name(), "status", result.Status)
	d.record(ctx, env, decision.Status, result.Status, drv.Name(), "")
	return &Outcome{Result: result, Decision: decision}, nil
}

// selectDriver picks the executing driver: the logging driver in
// logging-only mode, capability routing otherwise.
func (d *Dispatcher) selectDriver(env *action.Envelope) (driver.Driver, error) {
	if d.loggingOnly {
		return d.loggingDriver, nil
	}
	return d.registry.Route(env)
}

func (d *Dispatcher) scopesSatisfied(scopes []string) bool {
	if len(d.requiredScopes) == 0 {
		return true
	}
	for _, scope := range scopes {
		if _, ok := d.requiredScopes[scope]; ok {
			return true
		}
		if strings.HasPrefix(scope, scopeNamespacePrefix) {
			return true
		}
	}
	return false
}

// record appends to the audit trail. Audit failures are logged only; the
// trail never gates the request.
func (d *Dispatcher) record(ctx context.Context, env *action.Envelope, decisionStatus, outcomeStatus, driverName, detail string) {
	if d.auditor == nil {
		return
	}
	rec := &audit.Record{
		ActionID:       env.ActionID,
		PersonID:       env.PersonID,
		Intent:         env.Intent.Name,
		DeviceID:       env.Target.DeviceID,
		DeviceClass:    env.Target.DeviceClass,
		RiskLevel:      env.RiskLevel,
		DecisionStatus: decisionStatus,
		OutcomeStatus:  outcomeStatus,
		Driver:         driverName,
		Detail:         detail,
		EnvelopeHash:   audit.EnvelopeHash(env),
		CorrelationID:  env.CorrelationID,
	}
	if err := d.auditor.Append(ctx, rec); err != nil {
		d.logger.Error("failed to append audit record", "action_id", env.ActionID, "error", err)
	}
}
