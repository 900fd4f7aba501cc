package config

import (
	"time"

	"github.com/unison-os/actuation/internal/auth"
)

// Config is the full gateway configuration. Read-only after process start.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Auth      AuthConfig      `yaml:"auth"`
	Policy    PolicyConfig    `yaml:"policy"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	VDI       VDIConfig       `yaml:"vdi"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Audit     AuditConfig     `yaml:"audit"`
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`
	// LoggingOnly forces every action through the logging driver.
	LoggingOnly bool `yaml:"logging_only"`
}

// AuthConfig gates mutating endpoints behind bearer tokens when Require is
// set.
type AuthConfig struct {
	Require      bool               `yaml:"require"`
	ServiceToken string             `yaml:"service_token"`
	Tokens       []auth.TokenConfig `yaml:"tokens"`
}

// PolicyConfig points at the external policy service and holds the local
// allowlists.
type PolicyConfig struct {
	URL               string   `yaml:"url"`
	AllowedRiskLevels []string `yaml:"allowed_risk_levels"`
	RequiredScopes    []string `yaml:"required_scopes"`
}

// TelemetryConfig lists the external sinks and the local ring size.
type TelemetryConfig struct {
	ContextURL      string `yaml:"context_url"`
	ContextGraphURL string `yaml:"context_graph_url"`
	RendererURL     string `yaml:"renderer_url"`
	BufferSize      int    `yaml:"buffer_size"`
}

// VDIConfig configures the task proxy.
type VDIConfig struct {
	AgentURL          string        `yaml:"agent_url"`
	AgentToken        string        `yaml:"agent_token"`
	RetryAttempts     int           `yaml:"retry_attempts"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// MQTTConfig configures the optional MQTT driver backend.
type MQTTConfig struct {
	Broker string `yaml:"broker"`
}

// AuditConfig configures the persistent action trail.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "unison-actuation",
			Listen:   "127.0.0.1:8086",
			LogLevel: "info",
		},
		Policy: PolicyConfig{
			AllowedRiskLevels: []string{"low", "medium"},
		},
		Telemetry: TelemetryConfig{
			BufferSize: 100,
		},
		VDI: VDIConfig{
			AgentURL:       "http://agent-vdi:8083",
			RetryAttempts:  3,
			BackoffBase:    250 * time.Millisecond,
			BackoffMax:     2 * time.Second,
			RequestTimeout: 40 * time.Second,
		},
		Audit: AuditConfig{
			Enabled: true,
			Path:    "./data/actions.db",
		},
	}
}
