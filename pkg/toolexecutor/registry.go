package toolexecutor

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/harun/toolguard/internal/metrics"
	"github.com/harun/toolguard/pkg/fault"
	"github.com/harun/toolguard/pkg/security"
)

const (
	DefaultMaxFunctions = 100
	DefaultMaxTools     = 100
)

// RegistryConfig bounds the number of definitions a registry holds
type RegistryConfig struct {
	MaxFunctions int `json:"max_functions" mapstructure:"max_functions"`
	MaxTools     int `json:"max_tools" mapstructure:"max_tools"`
}

// DefaultRegistryConfig returns the default capacities
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		MaxFunctions: DefaultMaxFunctions,
		MaxTools:     DefaultMaxTools,
	}
}

// Registry stores function and tool definitions by unique name.
// A nil policy disables the registration permission check.
type Registry struct {
	config    RegistryConfig
	policy    *security.Policy
	metrics   *metrics.Metrics
	functions map[string]FunctionDefinition
	tools     map[string]ToolDefinition
	mu        sync.RWMutex
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithRegistryMetrics reports definition counts to prometheus
func WithRegistryMetrics(m *metrics.Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry creates a registry. Non-positive capacities fall back to the defaults.
func NewRegistry(config RegistryConfig, policy *security.Policy, opts ...RegistryOption) *Registry {
	if config.MaxFunctions <= 0 {
		config.MaxFunctions = DefaultMaxFunctions
	}
	if config.MaxTools <= 0 {
		config.MaxTools = DefaultMaxTools
	}

	r := &Registry{
		config:    config,
		policy:    policy,
		functions: make(map[string]FunctionDefinition),
		tools:     make(map[string]ToolDefinition),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// RegisterFunction validates def and stores a copy of it
func (r *Registry) RegisterFunction(ctx context.Context, def FunctionDefinition) error {
	if err := validateFunctionDefinition(def); err != nil {
		return err
	}

	r.mu.RLock()
	err := r.checkFunctionSlot(def.Name)
	r.mu.RUnlock()
	if err != nil {
		return err
	}

	// the checker may be slow or read the registry, so it runs unlocked
	if err := r.authorize(ctx, "register_function", def.Name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkFunctionSlot(def.Name); err != nil {
		return err
	}

	r.functions[def.Name] = def.clone()
	r.metrics.SetDefinitions(string(KindFunction), len(r.functions))

	log.Info().Str("function", def.Name).Msg("Function registered")

	return nil
}

// RegisterTool validates def and stores a copy of it
func (r *Registry) RegisterTool(ctx context.Context, def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return err
	}

	r.mu.RLock()
	err := r.checkToolSlot(def.Name)
	r.mu.RUnlock()
	if err != nil {
		return err
	}

	// the checker may be slow or read the registry, so it runs unlocked
	if err := r.authorize(ctx, "register_tool", def.Name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkToolSlot(def.Name); err != nil {
		return err
	}

	r.tools[def.Name] = def.clone()
	r.metrics.SetDefinitions(string(KindTool), len(r.tools))

	log.Info().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// checkFunctionSlot fails on a duplicate name or a full registry. Callers hold r.mu.
func (r *Registry) checkFunctionSlot(name string) error {
	if _, exists := r.functions[name]; exists {
		return fault.Validation("register function", "function %s already registered", name)
	}
	if len(r.functions) >= r.config.MaxFunctions {
		return fault.Validation("register function", "function limit reached (%d)", r.config.MaxFunctions)
	}
	return nil
}

// checkToolSlot is checkFunctionSlot for tools
func (r *Registry) checkToolSlot(name string) error {
	if _, exists := r.tools[name]; exists {
		return fault.Validation("register tool", "tool %s already registered", name)
	}
	if len(r.tools) >= r.config.MaxTools {
		return fault.Validation("register tool", "tool limit reached (%d)", r.config.MaxTools)
	}
	return nil
}

func (r *Registry) authorize(ctx context.Context, action, name string) error {
	if r.policy == nil {
		return nil
	}
	return r.policy.EnforcePermissions(ctx, action, name, nil)
}

// GetFunction returns a copy of the named function
func (r *Registry) GetFunction(name string) (FunctionDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.functions[name]
	if !ok {
		return FunctionDefinition{}, fault.Validation("get function", "function %s not found", name)
	}
	return def.clone(), nil
}

// GetTool returns a copy of the named tool
func (r *Registry) GetTool(name string) (ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.tools[name]
	if !ok {
		return ToolDefinition{}, fault.Validation("get tool", "tool %s not found", name)
	}
	return def.clone(), nil
}

// UnregisterFunction removes a function. It reports whether one was removed.
func (r *Registry) UnregisterFunction(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.functions[name]; !ok {
		return false
	}
	delete(r.functions, name)
	r.metrics.SetDefinitions(string(KindFunction), len(r.functions))

	log.Info().Str("function", name).Msg("Function unregistered")
	return true
}

// UnregisterTool removes a tool. It reports whether one was removed.
func (r *Registry) UnregisterTool(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[name]; !ok {
		return false
	}
	delete(r.tools, name)
	r.metrics.SetDefinitions(string(KindTool), len(r.tools))

	log.Info().Str("tool", name).Msg("Tool unregistered")
	return true
}

// ListFunctions returns the registered function names, sorted
func (r *Registry) ListFunctions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListTools returns the registered tool names, sorted
func (r *Registry) ListTools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FunctionCount returns the number of registered functions
func (r *Registry) FunctionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.functions)
}

// ToolCount returns the number of registered tools
func (r *Registry) ToolCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
