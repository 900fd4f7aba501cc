package driver

import (
	"context"
	"log/slog"

	"github.com/unison-os/actuation/internal/action"
	"github.com/unison-os/actuation/internal/log"
)

// LoggingDriver records actions without performing them. With acceptAll set
// it declares the wildcard capability, which makes it a catch-all when placed
// last in the registry and a shadow-everything driver when placed first.
type LoggingDriver struct {
	acceptAll bool
	logger    *slog.Logger
}

// NewLoggingDriver returns a logging-only driver.
func NewLoggingDriver(acceptAll bool) *LoggingDriver {
	return &LoggingDriver{
		acceptAll: acceptAll,
		logger:    log.WithDriver("logging"),
	}
}

func (d *LoggingDriver) Name() string { return "logging" }

func (d *LoggingDriver) Capabilities() []Capability {
	if !d.acceptAll {
		return nil
	}
	return []Capability{{Name: WildcardIntent}}
}

func (d *LoggingDriver) MaxRiskLevel() action.RiskLevel { return action.RiskHigh }

func (d *LoggingDriver) Execute(ctx context.Context, env *action.Envelope) (*action.Result, error) {
	d.logger.Info("logging-only execution",
		"action_id", env.ActionID,
		"intent", env.Intent.Name,
		"device_class", env.Target.DeviceClass,
		"device_id", env.Target.DeviceID,
	)
	return &action.Result{
		ActionID:  env.ActionID,
		Status:    "logged",
		Message:   "Action recorded only (logging mode)",
		Driver:    d.Name(),
		Telemetry: map[string]any{"logged": true},
	}, nil
}
