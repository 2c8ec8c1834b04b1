package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/harun/toolguard/pkg/security"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
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

// ValidateSchedule validates a cron spec, including descriptors like @every 5m
func (v *Validator) ValidateSchedule(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return fmt.Errorf("schedule cannot be empty")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateRules compiles the security rules
func (v *Validator) ValidateRules(rules []security.Rule) error {
	if _, err := security.NewRuleChecker(rules); err != nil {
		return err
	}
	return nil
}

// ValidateSampleRatio validates a trace sampling ratio
func (v *Validator) ValidateSampleRatio(ratio float64) error {
	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("sample ratio must be between 0 and 1, got %f", ratio)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if cfg.Registry.MaxFunctions < 0 {
		errors = append(errors, fmt.Errorf("registry.max_functions must be >= 0"))
	}
	if cfg.Registry.MaxTools < 0 {
		errors = append(errors, fmt.Errorf("registry.max_tools must be >= 0"))
	}

	if cfg.Executor.MaxConcurrent < 0 {
		errors = append(errors, fmt.Errorf("executor.max_concurrent must be >= 0"))
	}
	if cfg.Executor.MemoryLimit < 0 {
		errors = append(errors, fmt.Errorf("executor.memory_limit must be >= 0"))
	}
	if cfg.Executor.CPULimit < 0 {
		errors = append(errors, fmt.Errorf("executor.cpu_limit must be >= 0"))
	}
	if cfg.Executor.BandwidthLimit < 0 {
		errors = append(errors, fmt.Errorf("executor.bandwidth_limit must be >= 0"))
	}

	if cfg.Sandbox.MonitorInterval <= 0 {
		errors = append(errors, fmt.Errorf("sandbox.monitor_interval must be positive"))
	}

	if strings.TrimSpace(cfg.Security.Principal.ID) == "" {
		errors = append(errors, fmt.Errorf("security.principal.id is required"))
	}
	if cfg.Security.CacheSize < 0 {
		errors = append(errors, fmt.Errorf("security.cache_size must be >= 0"))
	}
	if err := v.ValidateRules(cfg.Security.Rules); err != nil {
		errors = append(errors, fmt.Errorf("security.rules: %w", err))
	}

	if cfg.Resources.MaxIdleTime <= 0 {
		errors = append(errors, fmt.Errorf("resources.max_idle_time must be positive"))
	}
	if cfg.Resources.CleanupInterval <= 0 {
		errors = append(errors, fmt.Errorf("resources.cleanup_interval must be positive"))
	}
	if cfg.Resources.RetryDelay < 0 {
		errors = append(errors, fmt.Errorf("resources.retry_delay must be >= 0"))
	}
	if cfg.Resources.GracefulTimeout <= 0 {
		errors = append(errors, fmt.Errorf("resources.graceful_timeout must be positive"))
	}
	if cfg.Resources.MaxResources < 0 {
		errors = append(errors, fmt.Errorf("resources.max_resources must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	if cfg.Metrics.Enabled && strings.TrimSpace(cfg.Metrics.Address) == "" {
		errors = append(errors, fmt.Errorf("metrics.address is required when metrics are enabled"))
	}
	if cfg.Metrics.RateLimit < 0 {
		errors = append(errors, fmt.Errorf("metrics.rate_limit must be >= 0"))
	}
	if cfg.Metrics.RateLimit > 0 && cfg.Metrics.Burst <= 0 {
		errors = append(errors, fmt.Errorf("metrics.burst must be positive when rate_limit is set"))
	}

	if err := v.ValidateSampleRatio(cfg.Tracing.SampleRatio); err != nil {
		errors = append(errors, err)
	}

	if cfg.Report.Enabled {
		if err := v.ValidateSchedule(cfg.Report.Schedule); err != nil {
			errors = append(errors, fmt.Errorf("report: %w", err))
		}
	}

	return errors
}
