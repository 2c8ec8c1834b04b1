package toolexecutor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"github.com/harun/toolguard/internal/metrics"
	"github.com/harun/toolguard/internal/observability"
	"github.com/harun/toolguard/internal/tracing"
	"github.com/harun/toolguard/pkg/fault"
	"github.com/harun/toolguard/pkg/sandbox"
	"github.com/harun/toolguard/pkg/schema"
	"github.com/harun/toolguard/pkg/security"
)

const (
	ActionExecuteFunction = "execute_function"
	ActionExecuteTool     = "execute_tool"

	DefaultMaxConcurrent = 32
	DefaultMemoryLimit   = 64 << 20
	DefaultCPULimit      = 30 * time.Second
)

// ExecutorConfig holds the default limits and the concurrency cap
type ExecutorConfig struct {
	Limits        sandbox.Limits
	MaxConcurrent int64 // 0 means unlimited
}

// DefaultExecutorConfig returns the default executor configuration
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Limits: sandbox.Limits{
			Memory: DefaultMemoryLimit,
			CPU:    DefaultCPULimit,
		},
		MaxConcurrent: DefaultMaxConcurrent,
	}
}

// Executor runs definitions behind the security policy and inside the sandbox
type Executor struct {
	limits    sandbox.Limits
	policy    *security.Policy
	sandbox   *sandbox.Sandbox
	registry  *Registry
	validator schema.Validator
	sem       *semaphore.Weighted
	metrics   *metrics.Metrics
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithRegistry enables the ByName lookups
func WithRegistry(r *Registry) ExecutorOption {
	return func(e *Executor) {
		e.registry = r
	}
}

// WithValidator replaces the JSON Schema validator
func WithValidator(v schema.Validator) ExecutorOption {
	return func(e *Executor) {
		e.validator = v
	}
}

// WithExecutorMetrics reports executions to prometheus
func WithExecutorMetrics(m *metrics.Metrics) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// NewExecutor creates an executor
func NewExecutor(config ExecutorConfig, policy *security.Policy, sb *sandbox.Sandbox, opts ...ExecutorOption) (*Executor, error) {
	if policy == nil {
		return nil, fault.Validation("new executor", "security policy is required")
	}
	if sb == nil {
		return nil, fault.Validation("new executor", "sandbox is required")
	}
	if err := sandbox.ValidateLimits(config.Limits); err != nil {
		return nil, fault.Wrap(fault.KindValidation, "new executor", err)
	}

	e := &Executor{
		limits:  config.Limits,
		policy:  policy,
		sandbox: sb,
	}
	if config.MaxConcurrent > 0 {
		e.sem = semaphore.NewWeighted(config.MaxConcurrent)
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.validator == nil {
		e.validator = schema.NewJSONSchemaValidator()
	}

	log.Info().
		Int64("max_concurrent", config.MaxConcurrent).
		Int64("memory_limit", config.Limits.Memory).
		Dur("cpu_limit", config.Limits.CPU).
		Msg("Executor initialized")

	return e, nil
}

// call is one execution, normalized across functions and tools
type call struct {
	kind      Kind
	name      string
	action    string
	input     interface{}
	params    *schema.Schema
	returns   *schema.Schema
	handler   sandbox.Handler
	perms     *sandbox.PermissionSet
	limits    *sandbox.Limits
	timeout   time.Duration
	rateLimit *RateLimit
}

// ExecuteFunction runs def with positional args. It never returns an error;
// failures are reported in the result.
func (e *Executor) ExecuteFunction(ctx context.Context, def FunctionDefinition, args []interface{}) ExecutionResult {
	if args == nil {
		args = []interface{}{}
	}
	handler := def.Handler
	return e.run(ctx, call{
		kind:    KindFunction,
		name:    def.Name,
		action:  ActionExecuteFunction,
		input:   args,
		params:  schema.Positional(def.Parameters),
		returns: def.Returns,
		handler: func(ctx context.Context, in interface{}) (interface{}, error) {
			if handler == nil {
				return nil, fault.Validation("execute function", "function %s has no handler", def.Name)
			}
			return handler(ctx, in.([]interface{}))
		},
		perms:     def.Permissions,
		limits:    def.Limits,
		timeout:   def.Timeout,
		rateLimit: def.RateLimit,
	})
}

// ExecuteTool runs def with named params. It never returns an error;
// failures are reported in the result.
func (e *Executor) ExecuteTool(ctx context.Context, def ToolDefinition, params map[string]interface{}) ExecutionResult {
	if params == nil {
		params = map[string]interface{}{}
	}
	handler := def.Handler
	return e.run(ctx, call{
		kind:   KindTool,
		name:   def.Name,
		action: ActionExecuteTool,
		input:  params,
		params: def.Parameters,
		handler: func(ctx context.Context, in interface{}) (interface{}, error) {
			if handler == nil {
				return nil, fault.Validation("execute tool", "tool %s has no handler", def.Name)
			}
			return handler(ctx, in.(map[string]interface{}))
		},
		perms:     def.Permissions,
		limits:    def.Limits,
		timeout:   def.Timeout,
		rateLimit: def.RateLimit,
	})
}

// ExecuteByName looks up a registered function and runs it
func (e *Executor) ExecuteByName(ctx context.Context, name string, args []interface{}) ExecutionResult {
	start := time.Now()
	if e.registry == nil {
		return e.failed(ctx, KindFunction, name, start, fault.Validation("execute function", "no registry configured"))
	}
	def, err := e.registry.GetFunction(name)
	if err != nil {
		return e.failed(ctx, KindFunction, name, start, err)
	}
	return e.ExecuteFunction(ctx, def, args)
}

// ExecuteToolByName looks up a registered tool and runs it
func (e *Executor) ExecuteToolByName(ctx context.Context, name string, params map[string]interface{}) ExecutionResult {
	start := time.Now()
	if e.registry == nil {
		return e.failed(ctx, KindTool, name, start, fault.Validation("execute tool", "no registry configured"))
	}
	def, err := e.registry.GetTool(name)
	if err != nil {
		return e.failed(ctx, KindTool, name, start, err)
	}
	return e.ExecuteTool(ctx, def, params)
}

func (e *Executor) run(ctx context.Context, c call) ExecutionResult {
	start := time.Now()

	ctx, id := tracing.NewExecutionContext(ctx)
	principal := e.policy.Context().Principal.ID
	if principal != "" {
		ctx = tracing.WithPrincipal(ctx, principal)
	}
	ctx = ContextWithInvocation(ctx, Invocation{ID: id, Kind: c.kind, Name: c.name})

	ctx, span := tracing.StartSpan(ctx, "", "toolexecutor."+string(c.kind),
		attribute.String("toolguard.kind", string(c.kind)),
		attribute.String("toolguard.name", c.name),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().Str(string(c.kind), c.name).Msg("Executing")

	value, memory, err := e.execute(ctx, c)

	result := ExecutionResult{
		ID: id,
		Metrics: ExecutionMetrics{
			ExecutionTime: time.Since(start),
			MemoryUsage:   memory,
		},
	}

	status := "success"
	if err != nil {
		status = "failure"
		result.Error = err.Error()
		result.Kind = fault.KindOf(err)

		span.RecordError(err)
		span.SetStatus(codes.Error, string(result.Kind))
		e.metrics.RecordExecutionError(string(c.kind), c.name, string(result.Kind))

		logger.Error().
			Str(string(c.kind), c.name).
			Str("kind", string(result.Kind)).
			Dur("duration", result.Metrics.ExecutionTime).
			Err(err).
			Msg("Execution failed")
	} else {
		result.Success = true
		result.Result = value

		logger.Debug().
			Str(string(c.kind), c.name).
			Dur("duration", result.Metrics.ExecutionTime).
			Int64("memory", memory).
			Msg("Execution completed")
	}

	e.metrics.RecordExecution(string(c.kind), c.name, status, result.Metrics.ExecutionTime, memory)

	metadata := map[string]interface{}{
		"duration_ms": result.Metrics.ExecutionTime.Milliseconds(),
		"memory":      memory,
	}
	if err != nil {
		metadata["error"] = result.Error
		metadata["kind"] = string(result.Kind)
	}
	observability.RecordExecutionAudit(ctx, string(c.kind), c.name, principal, status, metadata)

	return result
}

// execute runs the checks in order and then the sandboxed handler
func (e *Executor) execute(ctx context.Context, c call) (interface{}, int64, error) {
	if e.sem != nil {
		if !e.sem.TryAcquire(1) {
			return nil, 0, fault.ResourceExhausted(c.action, "executor at capacity")
		}
		defer e.sem.Release(1)
	}

	if err := e.policy.EnforcePermissions(ctx, c.action, c.name, map[string]interface{}{string(c.kind): c.name}); err != nil {
		return nil, 0, err
	}
	if c.rateLimit != nil {
		if err := e.policy.EnforceRateLimit(c.action+":"+c.name, c.rateLimit.Limit, c.rateLimit.Window); err != nil {
			return nil, 0, err
		}
	}

	if c.params != nil {
		if err := e.validator.Validate(c.input, c.params); err != nil {
			return nil, 0, fault.Wrap(fault.KindValidation, "validate arguments", err)
		}
	}

	limits := e.limits
	if c.limits != nil {
		limits = *c.limits
	}
	limits = limits.Tighten(c.timeout)

	res, err := e.sandbox.Execute(ctx, c.handler, c.input, c.perms, limits)
	if err != nil {
		return nil, res.MemoryUsage, err
	}

	if c.returns != nil {
		if err := e.validator.Validate(res.Value, c.returns); err != nil {
			return nil, res.MemoryUsage, fault.Wrap(fault.KindValidation, "validate result", err)
		}
	}

	return res.Value, res.MemoryUsage, nil
}

// failed builds the result of a call that never reached the sandbox
func (e *Executor) failed(ctx context.Context, kind Kind, name string, start time.Time, err error) ExecutionResult {
	_, id := tracing.NewExecutionContext(ctx)
	result := ExecutionResult{
		ID:      id,
		Error:   err.Error(),
		Kind:    fault.KindOf(err),
		Metrics: ExecutionMetrics{ExecutionTime: time.Since(start)},
	}
	e.metrics.RecordExecutionError(string(kind), name, string(result.Kind))
	e.metrics.RecordExecution(string(kind), name, "failure", result.Metrics.ExecutionTime, 0)

	log.Error().Str(string(kind), name).Err(err).Msg("Execution failed")
	return result
}
