package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// writeConfigFile marshals the given settings to a YAML file in a temp
// directory and returns its path.
func writeConfigFile(t *testing.T, settings map[string]any) string {
	t.Helper()
	data, err := yaml.Marshal(settings)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.PollInterval)
	assert.Equal(t, ":1200", cfg.Discovery.ListenAddr)
	assert.Equal(t, "255.255.255.255:1300", cfg.Discovery.BroadcastAddr)
	assert.True(t, cfg.API.Enabled)
	assert.False(t, cfg.MQTT.Enabled)
	assert.Equal(t, "inverter", cfg.MQTT.TopicPrefix)
	assert.False(t, cfg.PVOutput.Enabled)
	assert.False(t, cfg.Influx.Enabled)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	assert.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfigFile(t, map[string]any{
		"log_level":     "debug",
		"poll_interval": "30s",
		"discovery": map[string]any{
			"listen_addr": ":11200",
		},
		"filter": map[string]any{
			"serials": []string{"DW413B8080"},
		},
		"mqtt": map[string]any{
			"enabled":      true,
			"host":         "broker.local",
			"topic_prefix": "solar",
		},
		"influx": map[string]any{
			"enabled": true,
			"url":     "http://influx.local:8086",
			"org":     "home",
		},
	})

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.PollInterval)
	assert.Equal(t, ":11200", cfg.Discovery.ListenAddr)
	assert.Equal(t, []string{"DW413B8080"}, cfg.Filter.Serials)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "broker.local", cfg.MQTT.Host)
	assert.Equal(t, "solar", cfg.MQTT.TopicPrefix)
	assert.True(t, cfg.Influx.Enabled)
	assert.Equal(t, "home", cfg.Influx.Org)

	// Unset values keep their defaults.
	assert.Equal(t, 1883, cfg.MQTT.Port)
	assert.True(t, cfg.API.Enabled)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.PollInterval = 0 },
			wantErr: "poll_interval",
		},
		{
			name: "pvoutput without credentials",
			mutate: func(c *Config) {
				c.PVOutput.Enabled = true
			},
			wantErr: "pvoutput",
		},
		{
			name: "influx without url",
			mutate: func(c *Config) {
				c.Influx.Enabled = true
				c.Influx.URL = ""
			},
			wantErr: "influx",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.validate()
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	assert.NoError(t, DefaultConfig().validate())
}
