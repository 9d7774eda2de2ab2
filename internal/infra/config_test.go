package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	var cfg *Config
	require.NotPanics(t, func() { cfg = Defaults() })
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.70, cfg.Autonomy.Thresholds.Autonomous)
	assert.Equal(t, 0.55, cfg.Autonomy.Thresholds.Validated)
	assert.Equal(t, 0.40, cfg.Autonomy.Thresholds.Minimum)
	assert.Equal(t, 0.8, cfg.Autonomy.RiskCritical)
	assert.True(t, cfg.Autonomy.Weights.Balanced())
	assert.Equal(t, 2, cfg.Engine.MaxReassignments)
}

func TestValidateRejectsBrokenConfig(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(c *Config)
		field string
	}{
		{"weights do not sum to one", func(c *Config) { c.Autonomy.Weights.Historical = 0.5 }, "autonomy.weights"},
		{"negative weight", func(c *Config) {
			c.Autonomy.Weights.Historical = 0.45
			c.Autonomy.Weights.Context = -0.05
		}, "autonomy.weights.context"},
		{"minimum above autonomous", func(c *Config) { c.Autonomy.Thresholds.Minimum = 0.9 }, "autonomy.thresholds.minimum"},
		{"validated above autonomous", func(c *Config) { c.Autonomy.Thresholds.Validated = 0.8 }, "autonomy.thresholds.validated"},
		{"risk cut points unordered", func(c *Config) { c.Autonomy.Thresholds.RiskMedium = 0.7 }, "autonomy.thresholds.risk_high"},
		{"symmetric learning", func(c *Config) { c.Autonomy.Learning.TightenStep = 0.01 }, "autonomy.learning.tighten_step"},
		{"autonomous outside learning bounds", func(c *Config) { c.Autonomy.Thresholds.Autonomous = 0.97 }, "autonomy.thresholds.autonomous"},
		{"no rules file", func(c *Config) { c.Autonomy.RulesFile = "" }, "autonomy.rules_file"},
		{"zero task timeout", func(c *Config) { c.Engine.TaskTimeout = 0 }, "engine.task_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mut(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var fields []string
			for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
				var ce *ConfigError
				require.ErrorAs(t, e, &ce)
				fields = append(fields, ce.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
autonomy:
  thresholds:
    autonomous: 0.8
  required_context:
    research: [topic, sources]
engine:
  task_timeout: 30s
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0.8, cfg.Autonomy.Thresholds.Autonomous)
	assert.Equal(t, 0.55, cfg.Autonomy.Thresholds.Validated, "unset values fall back to defaults")
	assert.Equal(t, []string{"topic", "sources"}, cfg.Autonomy.RequiredContext["research"])
	assert.Equal(t, "30s", cfg.Engine.TaskTimeout.String())
}

func TestLoadConfigFileInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("autonomy:\n  weights:\n    historical: 0.9\n"), 0o600))

	_, err := LoadConfigFile(path)
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
}

func TestNewLogger(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(LoggerConfig{Level: "debug", Format: "json", File: filepath.Join(dir, "engine.log"), MaxSizeMB: 1})
	require.NoError(t, err)
	logger.Info("hello")
	_ = logger.Sync()

	_, err = NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)

	_, err = NewLogger(LoggerConfig{Format: "xml"})
	assert.Error(t, err)
}
