package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/unison-os/actuation/internal/action"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration. An empty path yields defaults plus
// environment overrides, so the service can run with no config file at all.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if configPath != "" {
		absPath, err := filepath.Abs(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
		}

		data, err := os.ReadFile(absPath)
		if err != nil {
			return nil, fmt.Errorf("config file not found: %s", absPath)
		}

		if err := VerifyChecksum(absPath); err != nil {
			return nil, err
		}

		expanded := expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// expandEnvVars substitutes ${VAR} references with environment values.
// Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// applyEnvOverrides applies the well-known environment variables on top of
// file configuration.
func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = strings.EqualFold(v, "true")
		}
	}
	setCSV := func(key string, dst *[]string) {
		if v := os.Getenv(key); v != "" {
			var items []string
			for _, item := range strings.Split(v, ",") {
				if item = strings.TrimSpace(item); item != "" {
					items = append(items, item)
				}
			}
			*dst = items
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setSeconds := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = time.Duration(f * float64(time.Second))
			}
		}
	}

	setString("ACTUATION_LISTEN", &cfg.Service.Listen)
	setString("LOG_LEVEL", &cfg.Service.LogLevel)
	setBool("ACTUATION_LOGGING_ONLY", &cfg.Service.LoggingOnly)

	setBool("ACTUATION_REQUIRE_AUTH", &cfg.Auth.Require)
	setString("ACTUATION_SERVICE_TOKEN", &cfg.Auth.ServiceToken)

	setString("POLICY_URL", &cfg.Policy.URL)
	setCSV("ACTUATION_ALLOWED_RISK_LEVELS", &cfg.Policy.AllowedRiskLevels)
	setCSV("ACTUATION_REQUIRED_SCOPES", &cfg.Policy.RequiredScopes)

	setString("CONTEXT_URL", &cfg.Telemetry.ContextURL)
	setString("CONTEXT_GRAPH_URL", &cfg.Telemetry.ContextGraphURL)
	setString("RENDERER_URL", &cfg.Telemetry.RendererURL)

	setString("VDI_AGENT_URL", &cfg.VDI.AgentURL)
	setString("VDI_AGENT_TOKEN", &cfg.VDI.AgentToken)
	setInt("VDI_RETRY_ATTEMPTS", &cfg.VDI.RetryAttempts)
	setSeconds("VDI_RETRY_BACKOFF_BASE_SECONDS", &cfg.VDI.BackoffBase)
	setSeconds("VDI_RETRY_MAX_DELAY_SECONDS", &cfg.VDI.BackoffMax)
	setSeconds("VDI_REQUEST_TIMEOUT_SECONDS", &cfg.VDI.RequestTimeout)
	setSeconds("VDI_PROGRESS_INTERVAL_SECONDS", &cfg.VDI.HeartbeatInterval)

	setString("ACTUATION_MQTT_BROKER", &cfg.MQTT.Broker)
	setString("ACTUATION_AUDIT_DB", &cfg.Audit.Path)
}

func validate(cfg *Config) error {
	if cfg.Service.Listen == "" {
		return fmt.Errorf("service.listen is required")
	}
	for _, lvl := range cfg.Policy.AllowedRiskLevels {
		if _, err := action.ParseRiskLevel(lvl); err != nil {
			return fmt.Errorf("policy.allowed_risk_levels: %w", err)
		}
	}
	if cfg.VDI.RetryAttempts < 1 {
		return fmt.Errorf("vdi.retry_attempts must be >= 1")
	}
	if cfg.Telemetry.BufferSize <= 0 {
		return fmt.Errorf("telemetry.buffer_size must be > 0")
	}
	if cfg.Auth.Require && cfg.Auth.ServiceToken == "" && len(cfg.Auth.Tokens) == 0 {
		return fmt.Errorf("auth.require is set but no service token or scoped tokens configured")
	}
	return nil
}

// AllowedRiskLevels converts the configured strings to typed levels.
// Call after validate; unknown values have already been rejected.
func (c *Config) AllowedRiskLevels() []action.RiskLevel {
	out := make([]action.RiskLevel, 0, len(c.Policy.AllowedRiskLevels))
	for _, lvl := range c.Policy.AllowedRiskLevels {
		out = append(out, action.RiskLevel(lvl))
	}
	return out
}
