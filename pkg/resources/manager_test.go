package resources

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/toolguard/pkg/fault"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingCloser struct {
	closed atomic.Int32
	err    error
}

func (c *countingCloser) Close() error {
	c.closed.Add(1)
	return c.err
}

func testConfig() Config {
	return Config{
		MaxIdleTime:     time.Minute,
		CleanupInterval: time.Hour,
		MaxRetries:      3,
		RetryDelay:      time.Millisecond,
		GracefulTimeout: time.Second,
	}
}

func TestManager_RegisterResource(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(testConfig(), WithClock(clock.Now))

	err := m.RegisterResource(Resource{ID: "conn-1", Type: TypeConnection, Handle: &countingCloser{}})
	require.NoError(t, err)

	res, ok := m.Get("conn-1")
	require.True(t, ok)
	assert.Equal(t, clock.Now(), res.LastUsed)

	snap := m.Metrics()
	assert.Equal(t, 1, snap.Total)
	assert.Equal(t, 1, snap.ByType[TypeConnection])
}

func TestManager_RegisterResource_Invalid(t *testing.T) {
	m := NewManager(testConfig())
	require.NoError(t, m.RegisterResource(Resource{ID: "dup", Type: TypeMemory}))

	tests := []struct {
		name    string
		res     Resource
		wantErr string
	}{
		{name: "missing id", res: Resource{Type: TypeFile}, wantErr: "resource id is required"},
		{name: "missing type", res: Resource{ID: "x"}, wantErr: "resource type is required"},
		{name: "unknown type", res: Resource{ID: "x", Type: "socket"}, wantErr: "no release strategy"},
		{name: "duplicate", res: Resource{ID: "dup", Type: TypeMemory}, wantErr: "already registered"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.RegisterResource(tt.res)
			require.Error(t, err)
			assert.True(t, fault.IsKind(err, fault.KindValidation))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	assert.Equal(t, 1, m.Metrics().Total)
}

func TestManager_RegisterResource_Capacity(t *testing.T) {
	cfg := testConfig()
	cfg.MaxResources = 1
	m := NewManager(cfg)

	require.NoError(t, m.RegisterResource(Resource{ID: "a", Type: TypeMemory}))
	err := m.RegisterResource(Resource{ID: "b", Type: TypeMemory})

	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindResourceExhausted))
}

func TestManager_TouchResource(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(testConfig(), WithClock(clock.Now))
	require.NoError(t, m.RegisterResource(Resource{ID: "f", Type: TypeFile, Handle: &countingCloser{}}))

	clock.Advance(30 * time.Second)
	require.NoError(t, m.TouchResource("f"))

	res, _ := m.Get("f")
	assert.Equal(t, clock.Now(), res.LastUsed)

	err := m.TouchResource("missing")
	assert.True(t, fault.IsKind(err, fault.KindValidation))
}

func TestManager_ReleaseResource(t *testing.T) {
	m := NewManager(testConfig())
	closer := &countingCloser{}
	require.NoError(t, m.RegisterResource(Resource{ID: "conn", Type: TypeConnection, Handle: closer}))

	require.NoError(t, m.ReleaseResource(context.Background(), "conn"))

	assert.Equal(t, int32(1), closer.closed.Load())
	_, ok := m.Get("conn")
	assert.False(t, ok)
	snap := m.Metrics()
	assert.Equal(t, 0, snap.Total)
	assert.Equal(t, 0, snap.ByType[TypeConnection])
	assert.Equal(t, int64(1), snap.CleanupAttempts)
	assert.Equal(t, int64(1), snap.CleanupSuccesses)

	// second release is a lookup miss
	require.NoError(t, m.ReleaseResource(context.Background(), "conn"))
	assert.Equal(t, int32(1), closer.closed.Load())
}

func TestManager_ReleaseResource_RetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	failing := ReleaseFunc(func(ctx context.Context, r *Resource) error {
		calls.Add(1)
		return errors.New("device busy")
	})

	cfg := testConfig()
	cfg.MaxRetries = 3
	m := NewManager(cfg, WithStrategy(TypeFile, failing))
	require.NoError(t, m.RegisterResource(Resource{ID: "f", Type: TypeFile}))

	err := m.ReleaseResource(context.Background(), "f")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "device busy")
	// one initial attempt plus MaxRetries retries
	assert.Equal(t, int32(4), calls.Load())

	snap := m.Metrics()
	assert.Equal(t, int64(4), snap.CleanupAttempts)
	assert.Equal(t, int64(4), snap.CleanupFailures)
	assert.Equal(t, int64(0), snap.CleanupSuccesses)

	// still tracked so a later release can succeed
	_, ok := m.Get("f")
	assert.True(t, ok)
}

func TestManager_ReleaseResource_RecoversAfterRetry(t *testing.T) {
	var calls atomic.Int32
	flaky := ReleaseFunc(func(ctx context.Context, r *Resource) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	m := NewManager(testConfig(), WithStrategy(TypeConnection, flaky))
	require.NoError(t, m.RegisterResource(Resource{ID: "c", Type: TypeConnection}))

	require.NoError(t, m.ReleaseResource(context.Background(), "c"))
	assert.Equal(t, int32(3), calls.Load())

	snap := m.Metrics()
	assert.Equal(t, int64(2), snap.CleanupFailures)
	assert.Equal(t, int64(1), snap.CleanupSuccesses)
	assert.Equal(t, 0, snap.Total)
}

func TestManager_Sweep_ReleasesIdleResources(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(testConfig(), WithClock(clock.Now))

	idle := &countingCloser{}
	busy := &countingCloser{}
	require.NoError(t, m.RegisterResource(Resource{ID: "idle", Type: TypeConnection, Handle: idle}))
	require.NoError(t, m.RegisterResource(Resource{ID: "busy", Type: TypeConnection, Handle: busy}))

	clock.Advance(45 * time.Second)
	require.NoError(t, m.TouchResource("busy"))

	// exactly at the limit is not yet idle
	clock.Advance(15 * time.Second)
	assert.Equal(t, 0, m.Sweep(context.Background()))

	clock.Advance(time.Second)
	assert.Equal(t, 1, m.Sweep(context.Background()))

	assert.Equal(t, int32(1), idle.closed.Load())
	assert.Equal(t, int32(0), busy.closed.Load())
	_, ok := m.Get("busy")
	assert.True(t, ok)
}

// touchingCloser keeps a peer alive while it is being closed
type touchingCloser struct {
	m      *Manager
	peer   string
	closed atomic.Int32
}

func (c *touchingCloser) Close() error {
	c.closed.Add(1)
	_ = c.m.TouchResource(c.peer)
	return nil
}

func TestManager_Sweep_SkipsResourcesTouchedDuringSweep(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(testConfig(), WithClock(clock.Now))

	a := &touchingCloser{m: m, peer: "b"}
	b := &touchingCloser{m: m, peer: "a"}
	require.NoError(t, m.RegisterResource(Resource{ID: "a", Type: TypeConnection, Handle: a}))
	require.NoError(t, m.RegisterResource(Resource{ID: "b", Type: TypeConnection, Handle: b}))

	clock.Advance(2 * time.Minute)

	// whichever is released first touches the other, which must survive
	assert.Equal(t, 1, m.Sweep(context.Background()))
	assert.Equal(t, int32(1), a.closed.Load()+b.closed.Load())
	assert.Equal(t, 1, m.Metrics().Total)
}

func TestManager_Sweep_ContinuesPastFailures(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig()
	cfg.MaxRetries = 0
	m := NewManager(cfg, WithClock(clock.Now))

	bad := &countingCloser{err: errors.New("stuck")}
	good := &countingCloser{}
	require.NoError(t, m.RegisterResource(Resource{ID: "bad", Type: TypeFile, Handle: bad}))
	require.NoError(t, m.RegisterResource(Resource{ID: "good", Type: TypeFile, Handle: good}))

	clock.Advance(2 * time.Minute)
	released := m.Sweep(context.Background())

	assert.Equal(t, 1, released)
	assert.Equal(t, int32(1), good.closed.Load())
	assert.Equal(t, int32(1), bad.closed.Load())
	_, ok := m.Get("bad")
	assert.True(t, ok)
}

func TestManager_StartRunsSweep(t *testing.T) {
	cfg := testConfig()
	cfg.MaxIdleTime = time.Millisecond
	cfg.CleanupInterval = 5 * time.Millisecond
	m := NewManager(cfg)

	closer := &countingCloser{}
	require.NoError(t, m.RegisterResource(Resource{ID: "c", Type: TypeConnection, Handle: closer}))
	require.NoError(t, m.Start())
	assert.Error(t, m.Start(), "second start")

	assert.Eventually(t, func() bool {
		return closer.closed.Load() == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Shutdown(context.Background()))
}

func TestManager_Shutdown_ReleasesEverything(t *testing.T) {
	m := NewManager(testConfig())

	closers := make([]*countingCloser, 5)
	for i := range closers {
		closers[i] = &countingCloser{}
		id := string(rune('a' + i))
		require.NoError(t, m.RegisterResource(Resource{ID: id, Type: TypeConnection, Handle: closers[i]}))
	}
	var stopped atomic.Bool
	require.NoError(t, m.RegisterResource(Resource{ID: "timer", Type: TypeTimer, Handle: func() { stopped.Store(true) }}))

	require.NoError(t, m.Shutdown(context.Background()))

	for _, c := range closers {
		assert.Equal(t, int32(1), c.closed.Load())
	}
	assert.True(t, stopped.Load())
	assert.Equal(t, 0, m.Metrics().Total)

	err := m.RegisterResource(Resource{ID: "late", Type: TypeMemory})
	assert.Error(t, err)
}

func TestManager_Shutdown_ForcesAfterTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	hanging := ReleaseFunc(func(ctx context.Context, r *Resource) error {
		<-block
		return nil
	})

	cfg := testConfig()
	cfg.GracefulTimeout = 20 * time.Millisecond
	m := NewManager(cfg, WithStrategy(TypeConnection, hanging))
	require.NoError(t, m.RegisterResource(Resource{ID: "stuck", Type: TypeConnection}))

	start := time.Now()
	err := m.Shutdown(context.Background())

	require.Error(t, err)
	assert.True(t, fault.IsKind(err, fault.KindResourceExhausted))
	assert.Contains(t, err.Error(), "graceful shutdown timed out")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, m.Metrics().Total)
}

func TestManager_Metrics_AverageIdle(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(testConfig(), WithClock(clock.Now))

	require.NoError(t, m.RegisterResource(Resource{ID: "a", Type: TypeMemory}))
	clock.Advance(10 * time.Second)
	require.NoError(t, m.RegisterResource(Resource{ID: "b", Type: TypeMemory}))
	clock.Advance(10 * time.Second)

	snap := m.Metrics()
	assert.Equal(t, 2, snap.Total)
	assert.Equal(t, 15*time.Second, snap.AverageIdle)
}

func TestManager_ConcurrentReleaseIsIdempotent(t *testing.T) {
	m := NewManager(testConfig())
	closer := &countingCloser{}
	require.NoError(t, m.RegisterResource(Resource{ID: "shared", Type: TypeConnection, Handle: closer}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.ReleaseResource(context.Background(), "shared"))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), closer.closed.Load())
}
