package toolexecutor

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/toolguard/pkg/fault"
	"github.com/harun/toolguard/pkg/sandbox"
	"github.com/harun/toolguard/pkg/schema"
)

// Kind tells functions and tools apart in metrics, audit and results
type Kind string

const (
	KindFunction Kind = "function"
	KindTool     Kind = "tool"
)

// FunctionHandler receives arguments positionally, in parameter declaration order
type FunctionHandler func(ctx context.Context, args []interface{}) (interface{}, error)

// ToolHandler receives named parameters
type ToolHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// RateLimit caps how often a definition may run within a sliding window
type RateLimit struct {
	Limit  int           `json:"limit" mapstructure:"limit"`
	Window time.Duration `json:"window" mapstructure:"window"`
}

// FunctionDefinition describes a callable function
type FunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  *schema.Schema         `json:"parameters"`
	Returns     *schema.Schema         `json:"returns,omitempty"`
	Handler     FunctionHandler        `json:"-"`
	Permissions *sandbox.PermissionSet `json:"permissions,omitempty"`
	Limits      *sandbox.Limits        `json:"limits,omitempty"`
	Timeout     time.Duration          `json:"timeout,omitempty"`
	RateLimit   *RateLimit             `json:"rate_limit,omitempty"`
}

// ToolDefinition describes a tool invoked with named parameters
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  *schema.Schema         `json:"parameters"`
	Handler     ToolHandler            `json:"-"`
	Permissions *sandbox.PermissionSet `json:"permissions,omitempty"`
	Limits      *sandbox.Limits        `json:"limits,omitempty"`
	Timeout     time.Duration          `json:"timeout,omitempty"`
	RateLimit   *RateLimit             `json:"rate_limit,omitempty"`
}

// ExecutionMetrics reports what one call consumed
type ExecutionMetrics struct {
	ExecutionTime time.Duration `json:"execution_time"`
	MemoryUsage   int64         `json:"memory_usage"`
}

// ExecutionResult is the outcome of one execution. Failures are reported here,
// never as a Go error.
type ExecutionResult struct {
	ID      string           `json:"id"`
	Success bool             `json:"success"`
	Result  interface{}      `json:"result,omitempty"`
	Error   string           `json:"error,omitempty"`
	Kind    fault.Kind       `json:"kind,omitempty"`
	Metrics ExecutionMetrics `json:"metrics"`
}

func validateFunctionDefinition(def FunctionDefinition) error {
	if err := validateCommon("register function", def.Name, def.Description, def.Parameters, def.Permissions, def.Limits, def.RateLimit); err != nil {
		return err
	}
	if def.Handler == nil {
		return fault.Validation("register function", "handler cannot be nil for %s", def.Name)
	}
	if def.Returns != nil {
		if err := schema.CheckShape(def.Returns); err != nil {
			return fault.Wrap(fault.KindValidation, "register function", fmt.Errorf("returns of %s: %w", def.Name, err))
		}
	}
	return nil
}

func validateToolDefinition(def ToolDefinition) error {
	if err := validateCommon("register tool", def.Name, def.Description, def.Parameters, def.Permissions, def.Limits, def.RateLimit); err != nil {
		return err
	}
	if def.Handler == nil {
		return fault.Validation("register tool", "handler cannot be nil for %s", def.Name)
	}
	return nil
}

func validateCommon(op, name, description string, params *schema.Schema, perms *sandbox.PermissionSet, limits *sandbox.Limits, rl *RateLimit) error {
	if name == "" {
		return fault.Validation(op, "name cannot be empty")
	}
	if description == "" {
		return fault.Validation(op, "description cannot be empty for %s", name)
	}
	if params != nil {
		if err := schema.CheckShape(params); err != nil {
			return fault.Wrap(fault.KindValidation, op, fmt.Errorf("parameters of %s: %w", name, err))
		}
	}
	if err := perms.Validate(); err != nil {
		return fault.Wrap(fault.KindValidation, op, fmt.Errorf("permissions of %s: %w", name, err))
	}
	if limits != nil {
		if err := sandbox.ValidateLimits(*limits); err != nil {
			return fault.Wrap(fault.KindValidation, op, fmt.Errorf("limits of %s: %w", name, err))
		}
	}
	if rl != nil && (rl.Limit <= 0 || rl.Window <= 0) {
		return fault.Validation(op, "rate limit of %s must have a positive limit and window", name)
	}
	return nil
}

func (d FunctionDefinition) clone() FunctionDefinition {
	out := d
	out.Permissions = d.Permissions.Clone()
	if d.Limits != nil {
		l := *d.Limits
		out.Limits = &l
	}
	if d.RateLimit != nil {
		rl := *d.RateLimit
		out.RateLimit = &rl
	}
	return out
}

func (d ToolDefinition) clone() ToolDefinition {
	out := d
	out.Permissions = d.Permissions.Clone()
	if d.Limits != nil {
		l := *d.Limits
		out.Limits = &l
	}
	if d.RateLimit != nil {
		rl := *d.RateLimit
		out.RateLimit = &rl
	}
	return out
}
