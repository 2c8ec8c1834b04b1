package sandbox

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/toolguard/pkg/fault"
)

// monitor samples the usage of one call and trips once a ceiling is crossed
type monitor struct {
	limits       Limits
	interval     time.Duration
	heapSampling bool
	heapBase     uint64
	start        time.Time

	memory    atomic.Int64
	peak      atomic.Int64
	bandwidth atomic.Int64

	tripOnce sync.Once
	tripped  chan struct{}
	err      error
	breach   string

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newMonitor(limits Limits, interval time.Duration, heapSampling bool) *monitor {
	m := &monitor{
		limits:       limits,
		interval:     interval,
		heapSampling: heapSampling,
		tripped:      make(chan struct{}),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	if heapSampling {
		m.heapBase = heapAlloc()
	}
	return m
}

// run starts the sampling loop
func (m *monitor) run() {
	m.start = time.Now()
	go func() {
		defer close(m.doneCh)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.sample()
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Stop ends sampling and waits for the loop to exit. Safe to call more than once.
func (m *monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	if !m.start.IsZero() {
		<-m.doneCh
	}
}

func (m *monitor) sample() {
	if m.heapSampling {
		if cur := heapAlloc(); cur > m.heapBase {
			m.observe(int64(cur - m.heapBase))
		}
	}

	if m.limits.Memory > 0 && m.peak.Load() > m.limits.Memory {
		m.trip("memory", fault.ResourceExhausted("sandbox", "%s: %d bytes > %d", MsgMemoryLimitExceeded, m.peak.Load(), m.limits.Memory))
		return
	}
	if m.limits.CPU > 0 && time.Since(m.start) > m.limits.CPU {
		m.trip("cpu", fault.ResourceExhausted("sandbox", "%s: %v", MsgCPULimitExceeded, m.limits.CPU))
	}
}

// observe raises the peak to n if larger
func (m *monitor) observe(n int64) {
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (m *monitor) allocate(n int64) error {
	if n <= 0 {
		return nil
	}
	cur := m.memory.Add(n)
	m.observe(cur)
	if m.limits.Memory > 0 && cur > m.limits.Memory {
		err := fault.ResourceExhausted("allocate", "%s: %d bytes > %d", MsgMemoryLimitExceeded, cur, m.limits.Memory)
		m.trip("memory", err)
		return err
	}
	return nil
}

func (m *monitor) free(n int64) {
	if n <= 0 {
		return
	}
	if m.memory.Add(-n) < 0 {
		m.memory.Store(0)
	}
}

func (m *monitor) transfer(n int64) error {
	if n <= 0 {
		return nil
	}
	cur := m.bandwidth.Add(n)
	if m.limits.Bandwidth > 0 && cur > m.limits.Bandwidth {
		err := fault.ResourceExhausted("transfer", "%s: %d bytes > %d", MsgBandwidthLimitExceeded, cur, m.limits.Bandwidth)
		m.trip("bandwidth", err)
		return err
	}
	return nil
}

// trip records the first breach and signals the race
func (m *monitor) trip(breach string, err error) {
	m.tripOnce.Do(func() {
		m.breach = breach
		m.err = err
		close(m.tripped)
	})
}

// Tripped is closed once a ceiling is crossed
func (m *monitor) Tripped() <-chan struct{} {
	return m.tripped
}

// Breach returns the crossed ceiling and its error, if any
func (m *monitor) Breach() (string, error) {
	select {
	case <-m.tripped:
		return m.breach, m.err
	default:
		return "", nil
	}
}

// Usage returns the peak memory and total bandwidth of the call
func (m *monitor) Usage() (memory, bandwidth int64) {
	return m.peak.Load(), m.bandwidth.Load()
}

func heapAlloc() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}
