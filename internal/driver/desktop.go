package driver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/unison-os/actuation/internal/action"
	"github.com/unison-os/actuation/internal/log"
)

// DesktopDriver is a stub desktop/system automation driver. Intended to wrap
// computer-use flows; here it logs and returns deterministic responses.
type DesktopDriver struct {
	logger *slog.Logger
}

func NewDesktopDriver() *DesktopDriver {
	return &DesktopDriver{logger: log.WithDriver("desktop-automation")}
}

func (d *DesktopDriver) Name() string { return "desktop-automation" }

func (d *DesktopDriver) Capabilities() []Capability {
	return []Capability{
		{Name: "desktop.command", DeviceClasses: []string{"desktop", "browser"}},
		{Name: "desktop.navigate", DeviceClasses: []string{"desktop", "browser"}},
	}
}

func (d *DesktopDriver) MaxRiskLevel() action.RiskLevel { return action.RiskHigh }

func (d *DesktopDriver) Execute(ctx context.Context, env *action.Envelope) (*action.Result, error) {
	intent := env.Intent.Name
	switch intent {
	case "desktop.command", "desktop.navigate":
	default:
		return nil, &ExecutionError{Driver: d.Name(), Reason: fmt.Sprintf("unsupported desktop intent %q", intent)}
	}

	d.logger.Info("desktop action",
		"intent", intent,
		"device_id", env.Target.DeviceID,
		"parameters", env.Intent.Parameters,
	)
	return &action.Result{
		ActionID:  env.ActionID,
		Status:    "accepted",
		Message:   "Desktop automation stub executed",
		Driver:    d.Name(),
		Telemetry: map[string]any{"parameters": env.Intent.Parameters},
	}, nil
}
