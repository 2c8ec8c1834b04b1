package config

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/harun/toolguard/pkg/security"
)

// Config represents the main toolguard configuration
type Config struct {
	// Definition capacities
	Registry RegistryConfig `json:"registry" mapstructure:"registry"`

	// Default limits and concurrency of executions
	Executor ExecutorConfig `json:"executor" mapstructure:"executor"`

	// Sandbox monitor
	Sandbox SandboxConfig `json:"sandbox" mapstructure:"sandbox"`

	// Security context, rules and decision cache
	Security SecurityConfig `json:"security" mapstructure:"security"`

	// Resource manager
	Resources ResourcesConfig `json:"resources" mapstructure:"resources"`

	// Built-in tools
	CoreTools CoreToolsConfig `json:"core_tools" mapstructure:"core_tools"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// OpenTelemetry
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Periodic governance report
	Report ReportConfig `json:"report" mapstructure:"report"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// RegistryConfig bounds the number of registered definitions
type RegistryConfig struct {
	MaxFunctions int `json:"max_functions" mapstructure:"max_functions"`
	MaxTools     int `json:"max_tools" mapstructure:"max_tools"`
}

// ExecutorConfig holds default limits applied when a definition has none
type ExecutorConfig struct {
	MaxConcurrent  int64         `json:"max_concurrent" mapstructure:"max_concurrent"`
	MemoryLimit    int64         `json:"memory_limit" mapstructure:"memory_limit"` // bytes
	CPULimit       time.Duration `json:"cpu_limit" mapstructure:"cpu_limit"`
	BandwidthLimit int64         `json:"bandwidth_limit" mapstructure:"bandwidth_limit"` // bytes
}

// SandboxConfig holds monitor settings
type SandboxConfig struct {
	MonitorInterval time.Duration `json:"monitor_interval" mapstructure:"monitor_interval"`
	HeapSampling    bool          `json:"heap_sampling" mapstructure:"heap_sampling"`
}

// SecurityConfig describes the principal executions run as and what it may do
type SecurityConfig struct {
	Principal security.Principal `json:"principal" mapstructure:"principal"`
	Scope     string             `json:"scope" mapstructure:"scope"`
	Rules     []security.Rule    `json:"rules" mapstructure:"rules"`
	RulesFile string             `json:"rules_file" mapstructure:"rules_file"` // YAML, merged after Rules
	CacheSize int                `json:"cache_size" mapstructure:"cache_size"`
	AuditFile string             `json:"audit_file" mapstructure:"audit_file"`
}

// ResourcesConfig controls idle eviction and release retries
type ResourcesConfig struct {
	MaxIdleTime     time.Duration `json:"max_idle_time" mapstructure:"max_idle_time"`
	CleanupInterval time.Duration `json:"cleanup_interval" mapstructure:"cleanup_interval"`
	MaxRetries      uint64        `json:"max_retries" mapstructure:"max_retries"`
	RetryDelay      time.Duration `json:"retry_delay" mapstructure:"retry_delay"`
	GracefulTimeout time.Duration `json:"graceful_timeout" mapstructure:"graceful_timeout"`
	MaxResources    int           `json:"max_resources" mapstructure:"max_resources"`
}

// CoreToolsConfig enables the built-in tools and their allow-lists
type CoreToolsConfig struct {
	Enabled         bool     `json:"enabled" mapstructure:"enabled"`
	WorkspaceRoot   string   `json:"workspace_root" mapstructure:"workspace_root"`
	AllowedHosts    []string `json:"allowed_hosts" mapstructure:"allowed_hosts"`
	AllowedEnv      []string `json:"allowed_env" mapstructure:"allowed_env"`
	AllowedCommands []string `json:"allowed_commands" mapstructure:"allowed_commands"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds the prometheus endpoint settings
type MetricsConfig struct {
	Enabled   bool    `json:"enabled" mapstructure:"enabled"`
	Address   string  `json:"address" mapstructure:"address"`
	RateLimit float64 `json:"rate_limit" mapstructure:"rate_limit"` // requests per second per client, 0 disables
	Burst     int     `json:"burst" mapstructure:"burst"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// ReportConfig schedules the governance report logged by serve
type ReportConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Schedule string `json:"schedule" mapstructure:"schedule"` // cron spec, e.g. "@every 5m"
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Registry: RegistryConfig{
			MaxFunctions: 100,
			MaxTools:     100,
		},
		Executor: ExecutorConfig{
			MaxConcurrent: 32,
			MemoryLimit:   64 << 20,
			CPULimit:      30 * time.Second,
		},
		Sandbox: SandboxConfig{
			MonitorInterval: 10 * time.Millisecond,
		},
		Security: SecurityConfig{
			Principal: security.Principal{ID: "local", Roles: []string{"operator"}},
			Rules: []security.Rule{
				{Role: "operator", Allow: []string{"*"}},
			},
			CacheSize: security.DefaultCacheSize,
		},
		Resources: ResourcesConfig{
			MaxIdleTime:     5 * time.Minute,
			CleanupInterval: time.Minute,
			MaxRetries:      3,
			RetryDelay:      100 * time.Millisecond,
			GracefulTimeout: 10 * time.Second,
		},
		CoreTools: CoreToolsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Address:   "127.0.0.1:9464",
			RateLimit: 10,
			Burst:     20,
		},
		Tracing: TracingConfig{
			ServiceName: "toolguard",
			SampleRatio: 1,
		},
		Report: ReportConfig{
			Enabled:  true,
			Schedule: "@every 5m",
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
