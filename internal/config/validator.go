package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePort validates a listen port. 0 asks the OS for a free port.
func (v *Validator) ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("server port must be between 0 and 65535, got %d", port)
	}
	return nil
}

// ValidateAPIKey rejects keys that are too short to be secret. An empty
// key disables authentication.
func (v *Validator) ValidateAPIKey(key string) error {
	if key == "" {
		return nil
	}
	if strings.TrimSpace(key) != key {
		return fmt.Errorf("server api_key must not have surrounding whitespace")
	}
	if len(key) < 16 {
		return fmt.Errorf("server api_key must be at least 16 characters")
	}
	return nil
}

// ValidateStoreDriver validates the tool store driver
func (v *Validator) ValidateStoreDriver(driver string) error {
	validDrivers := []string{"file", "sqlite", "none"}
	for _, valid := range validDrivers {
		if driver == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid store driver: %s (must be one of: %s)", driver, strings.Join(validDrivers, ", "))
}

// ValidateSchedule validates a cron rescan schedule. Empty disables it.
func (v *Validator) ValidateSchedule(spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid discovery rescan_schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidatePort(cfg.Server.Port); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateAPIKey(cfg.Server.APIKey); err != nil {
		errors = append(errors, err)
	}
	if cfg.Server.Privileged && cfg.Server.APIKey == "" && !isLoopback(cfg.Server.Host) {
		errors = append(errors, fmt.Errorf("a privileged server on %q requires server.api_key", cfg.Server.Host))
	}

	if cfg.Engine.QueueSize < 0 {
		errors = append(errors, fmt.Errorf("engine.queue_size must be >= 0"))
	}
	if cfg.Engine.EvalTimeoutMs < 0 {
		errors = append(errors, fmt.Errorf("engine.eval_timeout_ms must be >= 0"))
	}

	if err := v.ValidateStoreDriver(cfg.Store.Driver); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateSchedule(cfg.Discovery.RescanSchedule); err != nil {
		errors = append(errors, err)
	}
	if cfg.Discovery.DebounceMs < 0 {
		errors = append(errors, fmt.Errorf("discovery.debounce_ms must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}
	if cfg.Logging.MaxSize < 0 || cfg.Logging.MaxAge < 0 {
		errors = append(errors, fmt.Errorf("logging.max_size and logging.max_age must be >= 0"))
	}

	return errors
}

func isLoopback(host string) bool {
	switch host {
	case "127.0.0.1", "localhost", "::1":
		return true
	}
	return false
}
