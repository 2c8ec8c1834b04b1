package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harun/toolguard/internal/metrics"
	"github.com/harun/toolguard/internal/tracing"
	"github.com/harun/toolguard/pkg/fault"
	"github.com/harun/toolguard/pkg/resources"
)

// Handler is the code run inside the sandbox
type Handler func(ctx context.Context, args interface{}) (interface{}, error)

// State is the lifecycle state of a sandboxed call
type State string

const (
	StateIdle             State = "idle"
	StateRunning          State = "running"
	StateCompleted        State = "completed"
	StateTimedOut         State = "timed_out"
	StateResourceExceeded State = "resource_exceeded"
)

// Result is the outcome of one sandboxed call
type Result struct {
	Value       interface{}
	Duration    time.Duration
	MemoryUsage int64
	Bandwidth   int64
	State       State
}

// Sandbox runs handlers under a resource budget using a monitor-and-race
// protocol. It is reusable and safe for concurrent calls; each call gets its
// own monitor and counters.
type Sandbox struct {
	config    Config
	resources *resources.Manager
	metrics   *metrics.Metrics

	running    atomic.Int64
	lastMemory atomic.Int64

	mu        sync.Mutex
	lastState State
}

// Option configures a Sandbox
type Option func(*Sandbox)

// WithResourceManager tracks each call's monitor as a timer resource
func WithResourceManager(m *resources.Manager) Option {
	return func(s *Sandbox) {
		s.resources = m
	}
}

// WithMetrics reports limit breaches and active calls to prometheus
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sandbox) {
		s.metrics = m
	}
}

// New creates a sandbox
func New(config Config, opts ...Option) (*Sandbox, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Sandbox{
		config:    config,
		lastState: StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GetConfig returns the sandbox configuration
func (s *Sandbox) GetConfig() Config {
	return s.config
}

// State reports StateRunning while any call is in flight and StateIdle otherwise
func (s *Sandbox) State() State {
	if s.running.Load() > 0 {
		return StateRunning
	}
	return StateIdle
}

// LastState returns the terminal state of the most recent call
func (s *Sandbox) LastState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastState
}

// MemoryUsage returns the memory estimate of the most recent call
func (s *Sandbox) MemoryUsage() int64 {
	return s.lastMemory.Load()
}

type outcome struct {
	value interface{}
	err   error
}

// Execute runs handler with args under perms and limits. The handler's ctx
// carries an ExecutionContext and is cancelled once the call stops waiting;
// a handler that ignores ctx keeps running in the background.
func (s *Sandbox) Execute(ctx context.Context, handler Handler, args interface{}, perms *PermissionSet, limits Limits) (Result, error) {
	if handler == nil {
		return Result{State: StateIdle}, fault.Wrap(fault.KindValidation, "sandbox", ErrNilHandler)
	}
	if err := ValidateLimits(limits); err != nil {
		return Result{State: StateIdle}, fault.Wrap(fault.KindValidation, "sandbox", err)
	}

	id := tracing.GetExecutionID(ctx)
	if id == "" {
		id = tracing.NewExecutionID()
	}

	mon := newMonitor(limits, s.config.MonitorInterval, s.config.HeapSampling)
	mon.run()
	defer mon.Stop()
	if release := s.trackMonitor(ctx, id, mon); release != nil {
		defer release()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runCtx = ContextWithExecutionContext(runCtx, newExecutionContext(id, perms, limits, mon))

	s.running.Add(1)
	s.metrics.SandboxEnter()
	defer func() {
		s.running.Add(-1)
		s.metrics.SandboxExit()
	}()

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fault.Runtime("sandbox", fmt.Errorf("panic: %v", r))}
			}
		}()
		v, err := handler(runCtx, args)
		done <- outcome{value: v, err: err}
	}()

	var timeout <-chan time.Time
	if limits.CPU > 0 {
		timer := time.NewTimer(limits.CPU)
		defer timer.Stop()
		timeout = timer.C
	}

	var (
		out   outcome
		state State
	)
	select {
	case out = <-done:
		state = StateCompleted
		// a breach that raced with completion still fails the call
		if breach, err := mon.Breach(); err != nil {
			out, state = outcome{err: err}, breachState(breach)
		} else if out.err != nil && ctx.Err() != nil {
			out, state = outcome{err: contextError(ctx.Err())}, StateTimedOut
		}
	case <-timeout:
		mon.trip("cpu", fault.ResourceExhausted("sandbox", "%s: %v", MsgCPULimitExceeded, limits.CPU))
		breach, err := mon.Breach()
		out, state = outcome{err: err}, breachState(breach)
	case <-mon.Tripped():
		breach, err := mon.Breach()
		out, state = outcome{err: err}, breachState(breach)
	case <-ctx.Done():
		out, state = outcome{err: contextError(ctx.Err())}, StateTimedOut
	}
	cancel()

	duration := time.Since(start)
	memory, bandwidth := mon.Usage()
	s.lastMemory.Store(memory)
	s.mu.Lock()
	s.lastState = state
	s.mu.Unlock()

	result := Result{
		Duration:    duration,
		MemoryUsage: memory,
		Bandwidth:   bandwidth,
		State:       state,
	}

	if out.err != nil {
		if breach, _ := mon.Breach(); breach != "" {
			s.metrics.RecordLimitBreach(breach)
		}
		log.Debug().
			Err(out.err).
			Str("execution_id", id).
			Str("state", string(state)).
			Dur("duration", duration).
			Msg("Sandboxed call failed")
		return result, classify(out.err)
	}
	if out.value == nil {
		return result, fault.Validation("sandbox", "handler returned no value")
	}

	result.Value = out.value
	return result, nil
}

// trackMonitor registers the call's monitor as a timer resource so a manager
// shutdown stops it even if the call is abandoned. The returned func releases it,
// keeping ctx's trace ids but not its cancellation.
func (s *Sandbox) trackMonitor(ctx context.Context, id string, mon *monitor) func() {
	if s.resources == nil {
		return nil
	}
	resID := "sandbox-monitor:" + id + ":" + tracing.NewExecutionID()
	err := s.resources.RegisterResource(resources.Resource{
		ID:       resID,
		Type:     resources.TypeTimer,
		Handle:   mon,
		Metadata: map[string]string{"execution_id": id},
	})
	if err != nil {
		log.Warn().Err(err).Str("execution_id", id).Msg("Failed to track sandbox monitor")
		return nil
	}
	return func() {
		if err := s.resources.ReleaseResource(tracing.Detach(ctx), resID); err != nil {
			log.Warn().Err(err).Str("resource", resID).Msg("Failed to release sandbox monitor")
		}
	}
}

func breachState(breach string) State {
	if breach == "cpu" {
		return StateTimedOut
	}
	return StateResourceExceeded
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &fault.Error{Kind: fault.KindResourceExhausted, Op: "sandbox", Msg: "deadline exceeded", Err: err}
	}
	return &fault.Error{Kind: fault.KindRuntime, Op: "sandbox", Msg: "cancelled", Err: err}
}

// classify keeps classified errors and wraps handler errors as runtime failures
func classify(err error) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return err
	}
	return fault.Runtime("sandbox", err)
}
