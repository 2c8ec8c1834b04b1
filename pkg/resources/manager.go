package resources

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/harun/toolguard/internal/metrics"
	"github.com/harun/toolguard/pkg/fault"
)

const (
	DefaultMaxIdleTime     = 5 * time.Minute
	DefaultCleanupInterval = time.Minute
	DefaultMaxRetries      = 3
	DefaultRetryDelay      = 100 * time.Millisecond
	DefaultGracefulTimeout = 10 * time.Second

	shutdownParallelism = 8
)

// Config controls idle eviction, release retries and shutdown
type Config struct {
	MaxIdleTime     time.Duration
	CleanupInterval time.Duration
	MaxRetries      uint64
	RetryDelay      time.Duration
	GracefulTimeout time.Duration
	MaxResources    int // 0 means unlimited
}

// DefaultConfig returns the default manager configuration
func DefaultConfig() Config {
	return Config{
		MaxIdleTime:     DefaultMaxIdleTime,
		CleanupInterval: DefaultCleanupInterval,
		MaxRetries:      DefaultMaxRetries,
		RetryDelay:      DefaultRetryDelay,
		GracefulTimeout: DefaultGracefulTimeout,
	}
}

// Resource is an externally acquired handle that must be released explicitly
type Resource struct {
	ID       string
	Type     Type
	LastUsed time.Time
	Handle   interface{}
	Metadata map[string]string
}

// Snapshot is a point-in-time view of the manager
type Snapshot struct {
	Total            int
	ByType           map[Type]int
	AverageIdle      time.Duration
	CleanupAttempts  int64
	CleanupSuccesses int64
	CleanupFailures  int64
}

type entry struct {
	res       *Resource
	releasing bool
}

// Manager tracks resources and releases them explicitly, when idle, or on shutdown
type Manager struct {
	config     Config
	strategies map[Type]ReleaseStrategy
	resources  map[string]*entry
	counts     map[Type]int
	now        func() time.Time
	metrics    *metrics.Metrics

	attempts  atomic.Int64
	successes atomic.Int64
	failures  atomic.Int64

	closed  bool
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	mu      sync.Mutex
}

// Option configures a Manager
type Option func(*Manager)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithStrategy overrides the release strategy of a type
func WithStrategy(t Type, s ReleaseStrategy) Option {
	return func(m *Manager) {
		m.strategies[t] = s
	}
}

// WithMetrics reports tracking and cleanup counters to prometheus
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// NewManager creates a resource manager
func NewManager(cfg Config, opts ...Option) *Manager {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Millisecond
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}

	m := &Manager{
		config:     cfg,
		strategies: defaultStrategies(),
		resources:  make(map[string]*entry),
		counts:     make(map[Type]int),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// RegisterStrategy installs or replaces the release strategy of a type
func (m *Manager) RegisterStrategy(t Type, s ReleaseStrategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[t] = s
}

// RegisterResource starts tracking r
func (m *Manager) RegisterResource(r Resource) error {
	if r.ID == "" {
		return fault.Validation("register resource", "resource id is required")
	}
	if r.Type == "" {
		return fault.Validation("register resource", "resource type is required for %s", r.ID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fault.Validation("register resource", "manager is shut down")
	}
	if _, ok := m.strategies[r.Type]; !ok {
		return fault.Validation("register resource", "no release strategy for type %q", r.Type)
	}
	if _, exists := m.resources[r.ID]; exists {
		return fault.Validation("register resource", "resource %s already registered", r.ID)
	}
	if m.config.MaxResources > 0 && len(m.resources) >= m.config.MaxResources {
		return fault.ResourceExhausted("register resource", "resource limit reached (%d)", m.config.MaxResources)
	}

	res := r
	res.LastUsed = m.now()
	m.resources[r.ID] = &entry{res: &res}
	m.counts[r.Type]++
	m.metrics.SetResourcesTracked(string(r.Type), m.counts[r.Type])

	log.Debug().
		Str("resource", r.ID).
		Str("type", string(r.Type)).
		Msg("Resource registered")

	return nil
}

// TouchResource marks a resource as used now
func (m *Manager) TouchResource(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.resources[id]
	if !ok {
		return fault.Validation("touch resource", "resource %s not found", id)
	}
	e.res.LastUsed = m.now()
	return nil
}

// Get returns a copy of a tracked resource
func (m *Manager) Get(id string) (Resource, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.resources[id]
	if !ok {
		return Resource{}, false
	}
	return *e.res, true
}

// ReleaseResource releases a resource through its type's strategy, retrying
// failures up to MaxRetries times RetryDelay apart. Releasing an unknown or
// already-releasing id is a no-op.
func (m *Manager) ReleaseResource(ctx context.Context, id string) error {
	_, err := m.releaseIf(ctx, id, nil)
	return err
}

// releaseIf releases id when cond, evaluated under the lock, holds. It reports
// whether the resource was released.
func (m *Manager) releaseIf(ctx context.Context, id string, cond func(r *Resource) bool) (bool, error) {
	m.mu.Lock()
	e, ok := m.resources[id]
	if !ok || e.releasing || (cond != nil && !cond(e.res)) {
		m.mu.Unlock()
		return false, nil
	}
	e.releasing = true
	res := *e.res
	strategy := m.strategies[res.Type]
	m.mu.Unlock()

	err := m.releaseWithRetry(ctx, &res, strategy)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		e.releasing = false
		return false, fmt.Errorf("failed to release %s resource %s: %w", res.Type, id, err)
	}

	delete(m.resources, id)
	m.counts[res.Type]--
	if m.counts[res.Type] <= 0 {
		delete(m.counts, res.Type)
	}
	m.metrics.SetResourcesTracked(string(res.Type), m.counts[res.Type])

	log.Debug().
		Str("resource", id).
		Str("type", string(res.Type)).
		Msg("Resource released")

	return true, nil
}

// idle reports whether r has gone unused longer than MaxIdleTime. Callers hold m.mu.
func (m *Manager) idle(r *Resource, now time.Time) bool {
	return now.Sub(r.LastUsed) > m.config.MaxIdleTime
}

func (m *Manager) releaseWithRetry(ctx context.Context, r *Resource, strategy ReleaseStrategy) error {
	backoff := retry.WithMaxRetries(m.config.MaxRetries, retry.NewConstant(m.config.RetryDelay))
	attempt := 0

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		m.attempts.Add(1)

		if err := strategy.Release(ctx, r); err != nil {
			m.failures.Add(1)
			m.metrics.RecordCleanup("failure")
			log.Warn().
				Err(err).
				Str("resource", r.ID).
				Int("attempt", attempt).
				Msg("Resource release failed")
			return retry.RetryableError(err)
		}

		m.successes.Add(1)
		m.metrics.RecordCleanup("success")
		return nil
	})
}

// Sweep releases every resource idle longer than MaxIdleTime and returns how
// many were released. Individual failures are logged and skipped.
func (m *Manager) Sweep(ctx context.Context) int {
	now := m.now()

	m.mu.Lock()
	idle := make([]string, 0)
	for id, e := range m.resources {
		if e.releasing {
			continue
		}
		if m.idle(e.res, now) {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()

	// a resource touched since the scan above is no longer a candidate
	stillIdle := func(r *Resource) bool { return m.idle(r, m.now()) }

	released := 0
	for _, id := range idle {
		ok, err := m.releaseIf(ctx, id, stillIdle)
		if err != nil {
			log.Error().
				Err(err).
				Str("resource", id).
				Msg("Failed to release idle resource")
			continue
		}
		if ok {
			released++
		}
	}

	if released > 0 {
		log.Info().
			Int("released", released).
			Int("candidates", len(idle)).
			Msg("Released idle resources")
	}

	return released
}

// Start runs Sweep every CleanupInterval until Shutdown
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("resource manager is shut down")
	}
	if m.running {
		return fmt.Errorf("resource sweep is already running")
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	go m.run(m.stopCh, m.doneCh)

	log.Info().
		Dur("interval", m.config.CleanupInterval).
		Dur("max_idle", m.config.MaxIdleTime).
		Msg("Resource sweep started")

	return nil
}

func (m *Manager) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep(context.Background())
		case <-stopCh:
			return
		}
	}
}

func (m *Manager) stopSweep() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// Shutdown stops the sweep and releases every tracked resource. If that does
// not finish within GracefulTimeout the remaining entries are dropped.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stopSweep()

	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.resources))
	for id := range m.resources {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	timeout := m.config.GracefulTimeout
	if timeout <= 0 {
		timeout = DefaultGracefulTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var (
			errMu sync.Mutex
			errs  []error
		)
		g := new(errgroup.Group)
		g.SetLimit(shutdownParallelism)
		for _, id := range ids {
			id := id
			g.Go(func() error {
				if err := m.ReleaseResource(shutdownCtx, id); err != nil {
					errMu.Lock()
					errs = append(errs, err)
					errMu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
		done <- errors.Join(errs...)
	}()

	select {
	case err := <-done:
		if err != nil {
			log.Error().Err(err).Msg("Resource manager shut down with release failures")
			return err
		}
		log.Info().Int("released", len(ids)).Msg("Resource manager shut down")
		return nil
	case <-shutdownCtx.Done():
		m.mu.Lock()
		remaining := len(m.resources)
		m.resources = make(map[string]*entry)
		m.counts = make(map[Type]int)
		m.mu.Unlock()

		log.Error().
			Int("abandoned", remaining).
			Dur("timeout", timeout).
			Msg("Resource manager shutdown forced")
		return fault.ResourceExhausted("shutdown", "graceful shutdown timed out after %v", timeout)
	}
}

// Metrics returns counts, average idle time and cleanup counters
func (m *Manager) Metrics() Snapshot {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Total:            len(m.resources),
		ByType:           make(map[Type]int, len(m.counts)),
		CleanupAttempts:  m.attempts.Load(),
		CleanupSuccesses: m.successes.Load(),
		CleanupFailures:  m.failures.Load(),
	}
	for t, c := range m.counts {
		snap.ByType[t] = c
	}

	if len(m.resources) > 0 {
		var total time.Duration
		for _, e := range m.resources {
			total += now.Sub(e.res.LastUsed)
		}
		snap.AverageIdle = total / time.Duration(len(m.resources))
	}

	return snap
}
