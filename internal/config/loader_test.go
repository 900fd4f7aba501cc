package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unison-os/actuation/internal/action"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "unison-actuation", cfg.Service.Name)
	assert.Equal(t, "127.0.0.1:8086", cfg.Service.Listen)
	assert.Equal(t, []string{"low", "medium"}, cfg.Policy.AllowedRiskLevels)
	assert.Equal(t, 100, cfg.Telemetry.BufferSize)
	assert.Equal(t, 3, cfg.VDI.RetryAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.VDI.BackoffBase)
	assert.Equal(t, 2*time.Second, cfg.VDI.BackoffMax)
	assert.Equal(t, 40*time.Second, cfg.VDI.RequestTimeout)
	assert.True(t, cfg.Audit.Enabled)
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeConfig(t, `
service:
  listen: "0.0.0.0:9090"
  logging_only: true
policy:
  url: "http://policy:8090"
  allowed_risk_levels: [low]
telemetry:
  context_graph_url: "http://context-graph:8081"
vdi:
  retry_attempts: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Service.Listen)
	assert.True(t, cfg.Service.LoggingOnly)
	assert.Equal(t, "http://policy:8090", cfg.Policy.URL)
	assert.Equal(t, []string{"low"}, cfg.Policy.AllowedRiskLevels)
	assert.Equal(t, "http://context-graph:8081", cfg.Telemetry.ContextGraphURL)
	assert.Equal(t, 5, cfg.VDI.RetryAttempts)
	// Untouched fields keep defaults.
	assert.Equal(t, 100, cfg.Telemetry.BufferSize)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_POLICY_HOST", "policy.internal")
	path := writeConfig(t, `
policy:
  url: "http://${TEST_POLICY_HOST}:8090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://policy.internal:8090", cfg.Policy.URL)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ACTUATION_LISTEN", "0.0.0.0:7000")
	t.Setenv("ACTUATION_LOGGING_ONLY", "true")
	t.Setenv("POLICY_URL", "http://policy:1234")
	t.Setenv("ACTUATION_ALLOWED_RISK_LEVELS", "low, medium ,high")
	t.Setenv("VDI_RETRY_ATTEMPTS", "7")
	t.Setenv("VDI_RETRY_BACKOFF_BASE_SECONDS", "0.5")
	t.Setenv("VDI_PROGRESS_INTERVAL_SECONDS", "2")
	t.Setenv("ACTUATION_MQTT_BROKER", "tcp://broker:1883")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:7000", cfg.Service.Listen)
	assert.True(t, cfg.Service.LoggingOnly)
	assert.Equal(t, "http://policy:1234", cfg.Policy.URL)
	assert.Equal(t, []string{"low", "medium", "high"}, cfg.Policy.AllowedRiskLevels)
	assert.Equal(t, 7, cfg.VDI.RetryAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.VDI.BackoffBase)
	assert.Equal(t, 2*time.Second, cfg.VDI.HeartbeatInterval)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)

	assert.Equal(t,
		[]action.RiskLevel{action.RiskLow, action.RiskMedium, action.RiskHigh},
		cfg.AllowedRiskLevels())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"unknown risk level", "policy:\n  allowed_risk_levels: [catastrophic]\n"},
		{"zero retry attempts", "vdi:\n  retry_attempts: 0\n"},
		{"zero buffer", "telemetry:\n  buffer_size: 0\n"},
		{"auth without tokens", "auth:\n  require: true\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.yaml)
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestChecksumRoundTrip(t *testing.T) {
	path := writeConfig(t, "service:\n  listen: \"127.0.0.1:8086\"\n")

	// No sidecar: loads fine.
	_, err := Load(path)
	require.NoError(t, err)

	hash, err := WriteChecksum(path)
	require.NoError(t, err)
	assert.Len(t, hash, 64)

	// Matching sidecar: loads fine.
	_, err = Load(path)
	require.NoError(t, err)

	// Modified file without hash-update: rejected.
	require.NoError(t, os.WriteFile(path, []byte("service:\n  listen: \"0.0.0.0:1\"\n"), 0o644))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestMissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
