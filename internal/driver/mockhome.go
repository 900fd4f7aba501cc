package driver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/unison-os/actuation/internal/action"
	"github.com/unison-os/actuation/internal/log"
)

// MockHomeDriver simulates a smart home hub (MQTT/REST hubs in real
// deployments).
type MockHomeDriver struct {
	logger *slog.Logger
}

func NewMockHomeDriver() *MockHomeDriver {
	return &MockHomeDriver{logger: log.WithDriver("mock-home")}
}

func (d *MockHomeDriver) Name() string { return "mock-home" }

func (d *MockHomeDriver) Capabilities() []Capability {
	return []Capability{
		{Name: "turn_on", DeviceClasses: []string{"light", "switch"}},
		{Name: "turn_off", DeviceClasses: []string{"light", "switch"}},
		{Name: "set_brightness", DeviceClasses: []string{"light"}},
	}
}

func (d *MockHomeDriver) MaxRiskLevel() action.RiskLevel { return action.RiskHigh }

func (d *MockHomeDriver) Execute(ctx context.Context, env *action.Envelope) (*action.Result, error) {
	intent := env.Intent.Name
	switch intent {
	case "turn_on", "turn_off", "set_brightness":
	default:
		return nil, &ExecutionError{Driver: d.Name(), Reason: fmt.Sprintf("unsupported home intent %q", intent)}
	}

	d.logger.Info("home action",
		"intent", intent,
		"device_id", env.Target.DeviceID,
		"parameters", env.Intent.Parameters,
	)
	return &action.Result{
		ActionID:  env.ActionID,
		Status:    "completed",
		Message:   fmt.Sprintf("Mock home action %s applied", intent),
		Driver:    d.Name(),
		Telemetry: map[string]any{"device_id": env.Target.DeviceID, "intent": intent},
	}, nil
}
