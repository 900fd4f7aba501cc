package driver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/unison-os/actuation/internal/action"
	"github.com/unison-os/actuation/internal/log"
)

// MockRobotDriver simulates a robotics backend (ROS2/OPC UA/CAN in real
// deployments).
type MockRobotDriver struct {
	logger *slog.Logger
}

func NewMockRobotDriver() *MockRobotDriver {
	return &MockRobotDriver{logger: log.WithDriver("mock-robot")}
}

func (d *MockRobotDriver) Name() string { return "mock-robot" }

func (d *MockRobotDriver) Capabilities() []Capability {
	return []Capability{
		{Name: "robot.move", DeviceClasses: []string{"robot"}},
		{Name: "robot.dock", DeviceClasses: []string{"robot"}},
		{Name: "robot.stop", DeviceClasses: []string{"robot"}},
	}
}

func (d *MockRobotDriver) MaxRiskLevel() action.RiskLevel { return action.RiskHigh }

func (d *MockRobotDriver) Execute(ctx context.Context, env *action.Envelope) (*action.Result, error) {
	intent := env.Intent.Name
	switch intent {
	case "robot.move", "robot.dock", "robot.stop":
	default:
		return nil, &ExecutionError{Driver: d.Name(), Reason: fmt.Sprintf("unsupported robot intent %q", intent)}
	}

	d.logger.Info("robot action",
		"intent", intent,
		"device_id", env.Target.DeviceID,
		"parameters", env.Intent.Parameters,
	)

	status := "completed"
	if intent == "robot.stop" {
		status = "halted"
	}
	return &action.Result{
		ActionID:  env.ActionID,
		Status:    status,
		Message:   fmt.Sprintf("Mock robot intent %s executed", intent),
		Driver:    d.Name(),
		Telemetry: map[string]any{"intent": intent, "pose": env.Intent.Parameters},
	}, nil
}
