package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the toolns configuration
type Config struct {
	// Server is the JSON-RPC gateway.
	Server ServerConfig `json:"server" mapstructure:"server" yaml:"server"`

	// Engine is the execution engine and its interpreter.
	Engine EngineConfig `json:"engine" mapstructure:"engine" yaml:"engine"`

	// Store persists user tools between runs.
	Store StoreConfig `json:"store" mapstructure:"store" yaml:"store"`

	// Discovery registers tools found on disk.
	Discovery DiscoveryConfig `json:"discovery" mapstructure:"discovery" yaml:"discovery"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging" yaml:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir" yaml:"data_dir"`
}

// ServerConfig holds gateway server configuration
type ServerConfig struct {
	Host   string `json:"host" mapstructure:"host" yaml:"host"`
	Port   int    `json:"port" mapstructure:"port" yaml:"port"`
	APIKey string `json:"api_key" mapstructure:"api_key" yaml:"api_key"`
	// Privileged is the tier of every gateway caller.
	Privileged        bool `json:"privileged" mapstructure:"privileged" yaml:"privileged"`
	RequestsPerMinute int  `json:"requests_per_minute" mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	MaxConcurrent     int  `json:"max_concurrent" mapstructure:"max_concurrent" yaml:"max_concurrent"`
}

// EngineConfig holds execution engine settings
type EngineConfig struct {
	QueueSize int `json:"queue_size" mapstructure:"queue_size" yaml:"queue_size"`
	// PrivilegedRuntime opens file and OS access in the interpreter.
	PrivilegedRuntime bool `json:"privileged_runtime" mapstructure:"privileged_runtime" yaml:"privileged_runtime"`
	EvalTimeoutMs     int  `json:"eval_timeout_ms" mapstructure:"eval_timeout_ms" yaml:"eval_timeout_ms"` // 0 = no limit
}

// EvalTimeout returns EvalTimeoutMs as a duration.
func (e EngineConfig) EvalTimeout() time.Duration {
	return time.Duration(e.EvalTimeoutMs) * time.Millisecond
}

// StoreConfig holds tool persistence settings
type StoreConfig struct {
	Driver string `json:"driver" mapstructure:"driver" yaml:"driver"` // file, sqlite, none
	Path   string `json:"path" mapstructure:"path" yaml:"path"`
}

// DiscoveryConfig holds filesystem discovery settings
type DiscoveryConfig struct {
	Enabled        bool   `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	ToolsDir       string `json:"tools_dir" mapstructure:"tools_dir" yaml:"tools_dir"`
	Watch          bool   `json:"watch" mapstructure:"watch" yaml:"watch"`
	RescanSchedule string `json:"rescan_schedule" mapstructure:"rescan_schedule" yaml:"rescan_schedule"` // cron spec, empty = off
	DebounceMs     int    `json:"debounce_ms" mapstructure:"debounce_ms" yaml:"debounce_ms"`
}

// Debounce returns DebounceMs as a duration.
func (d DiscoveryConfig) Debounce() time.Duration {
	return time.Duration(d.DebounceMs) * time.Millisecond
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level" yaml:"level"`
	File      string `json:"file" mapstructure:"file" yaml:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty" yaml:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size" yaml:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age" yaml:"max_age"`    // days
	Compress  bool   `json:"compress" mapstructure:"compress" yaml:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction" yaml:"redaction"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file" yaml:"audit_file"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              8420,
			RequestsPerMinute: 600,
			MaxConcurrent:     32,
		},
		Engine: EngineConfig{
			QueueSize:     100,
			EvalTimeoutMs: 30000,
		},
		Store: StoreConfig{
			Driver: "file",
		},
		Discovery: DiscoveryConfig{
			Enabled:    true,
			Watch:      true,
			DebounceMs: 200,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config with the API key
// masked.
func (c *Config) String() string {
	masked := *c
	if masked.Server.APIKey != "" {
		masked.Server.APIKey = "********"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errs[0])
	}
	return nil
}
