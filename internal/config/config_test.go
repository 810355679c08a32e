package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NotNil(t, cfg)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8420, cfg.Server.Port)
	assert.False(t, cfg.Server.Privileged)
	assert.Equal(t, 100, cfg.Engine.QueueSize)
	assert.Equal(t, 30*time.Second, cfg.Engine.EvalTimeout())
	assert.Equal(t, "file", cfg.Store.Driver)
	assert.True(t, cfg.Discovery.Watch)
	assert.Equal(t, 200*time.Millisecond, cfg.Discovery.Debounce())
	assert.Equal(t, "info", cfg.Logging.Level)

	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "port"},
		{"short api key", func(c *Config) { c.Server.APIKey = "short" }, "api_key"},
		{"privileged on public host", func(c *Config) {
			c.Server.Privileged = true
			c.Server.Host = "0.0.0.0"
		}, "requires server.api_key"},
		{"negative queue", func(c *Config) { c.Engine.QueueSize = -1 }, "queue_size"},
		{"bad driver", func(c *Config) { c.Store.Driver = "postgres" }, "store driver"},
		{"bad schedule", func(c *Config) { c.Discovery.RescanSchedule = "every day" }, "rescan_schedule"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("privileged on loopback", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.Privileged = true
		assert.NoError(t, cfg.Validate())
	})
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.APIKey = "0123456789abcdef"

	s := cfg.String()
	assert.NotContains(t, s, "0123456789abcdef")
	assert.Contains(t, s, `"api_key": "********"`)
	assert.Equal(t, "0123456789abcdef", cfg.Server.APIKey)
}
