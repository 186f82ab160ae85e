package pool

import (
	"context"
	"sync"
	"time"
)

// Monitor registers named pools and periodically snapshots their Stats
// into a bounded per-pool history, mirroring async_pool.py's
// ResourceMonitor. Unlike the Python original this is an explicit field
// owned by the process that constructs it (spec §9: no package-level
// singletons). The PerformanceMonitor does not read it.
type Monitor struct {
	mu      sync.RWMutex
	pools   map[string]*Pool
	history map[string][]Stats
	maxHist int
}

// NewMonitor returns a Monitor retaining up to maxHistory samples per pool.
func NewMonitor(maxHistory int) *Monitor {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &Monitor{
		pools:   make(map[string]*Pool),
		history: make(map[string][]Stats),
		maxHist: maxHistory,
	}
}

// Register adds a pool under a name for periodic sampling.
func (m *Monitor) Register(name string, p *Pool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[name] = p
}

// Unregister removes a pool from monitoring.
func (m *Monitor) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pools, name)
	delete(m.history, name)
}

// sampleOnce takes one Stats snapshot of every registered pool.
func (m *Monitor) sampleOnce() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, p := range m.pools {
		hist := append(m.history[name], p.Stats())
		if len(hist) > m.maxHist {
			hist = hist[len(hist)-m.maxHist:]
		}
		m.history[name] = hist
	}
}

// Run starts the periodic sampling loop until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sampleOnce()
		}
	}
}

// PoolMetrics returns the retained history for one named pool.
func (m *Monitor) PoolMetrics(name string) []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Stats(nil), m.history[name]...)
}

// AllMetrics returns the current Stats for every registered pool.
func (m *Monitor) AllMetrics() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Stats, len(m.pools))
	for name, p := range m.pools {
		out[name] = p.Stats()
	}
	return out
}
