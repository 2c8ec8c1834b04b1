package sandbox

import (
	"fmt"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultMonitorInterval is how often a running call's usage is sampled
const DefaultMonitorInterval = 10 * time.Millisecond

// Filesystem operations a PathRule may grant
const (
	OpRead  = "read"
	OpWrite = "write"
	OpExec  = "exec"
)

// Config defines sandbox configuration
type Config struct {
	// MonitorInterval is the sampling period of the per-call monitor
	MonitorInterval time.Duration `json:"monitor_interval" mapstructure:"monitor_interval"`

	// HeapSampling folds process heap growth into the memory estimate.
	// The heap is shared, so concurrent calls see each other's allocations.
	HeapSampling bool `json:"heap_sampling" mapstructure:"heap_sampling"`
}

// Limits are the ceilings enforced during one call. Zero means no ceiling.
type Limits struct {
	// Memory in bytes, accounted through Allocate/Free
	Memory int64 `json:"memory" mapstructure:"memory"`

	// CPU is the wall-clock budget of the call
	CPU time.Duration `json:"cpu" mapstructure:"cpu"`

	// Bandwidth in bytes, accounted through Transfer
	Bandwidth int64 `json:"bandwidth" mapstructure:"bandwidth"`
}

// Tighten lowers the CPU ceiling to timeout when timeout is shorter
func (l Limits) Tighten(timeout time.Duration) Limits {
	if timeout > 0 && (l.CPU == 0 || timeout < l.CPU) {
		l.CPU = timeout
	}
	return l
}

// PermissionSet is a declarative allow-list per capability class
type PermissionSet struct {
	Network       NetworkPermissions    `json:"network" mapstructure:"network"`
	Filesystem    FilesystemPermissions `json:"filesystem" mapstructure:"filesystem"`
	Environment   []string              `json:"environment" mapstructure:"environment"`
	Executables   []string              `json:"executables" mapstructure:"executables"`
	ForeignCalls  bool                  `json:"foreign_calls" mapstructure:"foreign_calls"`
	HighResTimers bool                  `json:"high_res_timers" mapstructure:"high_res_timers"`
}

// NetworkPermissions lists reachable hosts. "*.example.com" matches subdomains; "*" matches any host.
type NetworkPermissions struct {
	Hosts []string `json:"hosts" mapstructure:"hosts"`
}

// FilesystemPermissions lists accessible paths
type FilesystemPermissions struct {
	Paths []PathRule `json:"paths" mapstructure:"paths"`
}

// PathRule grants ops on paths matching a doublestar glob. No ops means all ops.
type PathRule struct {
	Pattern string   `json:"pattern" mapstructure:"pattern"`
	Ops     []string `json:"ops" mapstructure:"ops"`
}

// DefaultConfig returns a default sandbox configuration
func DefaultConfig() Config {
	return Config{
		MonitorInterval: DefaultMonitorInterval,
		HeapSampling:    false,
	}
}

// ValidateConfig validates a sandbox configuration
func ValidateConfig(cfg Config) error {
	if cfg.MonitorInterval <= 0 {
		return ErrInvalidMonitorInterval
	}
	return nil
}

// ValidateLimits validates resource limits
func ValidateLimits(l Limits) error {
	if l.CPU < 0 {
		return ErrInvalidCPULimit
	}
	if l.Memory < 0 {
		return ErrInvalidMemoryLimit
	}
	if l.Bandwidth < 0 {
		return ErrInvalidBandwidthLimit
	}
	return nil
}

// Validate checks globs and ops of a permission set. A nil set is valid and grants nothing.
func (p *PermissionSet) Validate() error {
	if p == nil {
		return nil
	}
	for _, h := range p.Network.Hosts {
		if h == "" {
			return fmt.Errorf("%w: empty host", ErrInvalidPermission)
		}
	}
	for _, r := range p.Filesystem.Paths {
		if r.Pattern == "" {
			return fmt.Errorf("%w: empty path pattern", ErrInvalidPermission)
		}
		if !doublestar.ValidatePattern(r.Pattern) {
			return fmt.Errorf("%w: bad path pattern %q", ErrInvalidPermission, r.Pattern)
		}
		for _, op := range r.Ops {
			switch op {
			case OpRead, OpWrite, OpExec, "*":
			default:
				return fmt.Errorf("%w: unknown op %q for %s", ErrInvalidPermission, op, r.Pattern)
			}
		}
	}
	for _, e := range p.Environment {
		if !doublestar.ValidatePattern(e) {
			return fmt.Errorf("%w: bad environment pattern %q", ErrInvalidPermission, e)
		}
	}
	return nil
}

// Clone returns a deep copy
func (p *PermissionSet) Clone() *PermissionSet {
	if p == nil {
		return nil
	}
	out := *p
	out.Network.Hosts = append([]string(nil), p.Network.Hosts...)
	out.Environment = append([]string(nil), p.Environment...)
	out.Executables = append([]string(nil), p.Executables...)
	if p.Filesystem.Paths != nil {
		out.Filesystem.Paths = make([]PathRule, len(p.Filesystem.Paths))
		for i, r := range p.Filesystem.Paths {
			out.Filesystem.Paths[i] = PathRule{Pattern: r.Pattern, Ops: append([]string(nil), r.Ops...)}
		}
	}
	return &out
}
