// Package pool implements the generic ResourcePool of spec §4.B: a pool
// of expensive resources (DB connections, worker threads, SSH sessions)
// with min/max sizing, a health-check loop, an idle-eviction loop, and
// FIFO-ordered acquisition.
//
// Grounded on original_source/migration_assistant/performance/async_pool.py
// (AsyncConnectionPool): the state machine, the two background loops, and
// the PoolStats field set all carry over; the Python asyncio.Queue-based
// waiter list becomes a Go channel of waiter slots to get the same FIFO
// ordering spec §4.B requires, and the async-context-manager lease becomes
// a *Lease with an explicit Release plus a finalizer-free "must call it"
// contract matching the teacher's own style (no runtime.SetFinalizer
// tricks anywhere in the pack).
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/artemis/migrationctl/internal/migerr"
	"go.uber.org/zap"
)

// State is the pool's forward-only state machine.
type State string

const (
	StateInitializing State = "initializing"
	StateActive        State = "active"
	StateDraining       State = "draining"
	StateClosed         State = "closed"
)

// Stats mirrors async_pool.py's PoolStats dataclass.
type Stats struct {
	Total           int
	Active          int
	Idle            int
	PendingWaiters  int
	TotalCreated    int64
	TotalDestroyed  int64
	TotalRequests   int64
	TotalErrors     int64
	AvgWaitMs       float64
	MaxWaitMs       float64
}

// Config parameterizes a Pool.
type Config struct {
	MinSize             int
	MaxSize             int
	MaxIdleTime         time.Duration
	HealthCheckInterval time.Duration
	AcquireTimeout      time.Duration
	// Factory creates a new resource. Called with the pool's own context.
	Factory func(ctx context.Context) (interface{}, error)
	// HealthCheck reports whether a resource is still usable; nil means
	// every resource is always healthy.
	HealthCheck func(ctx context.Context, resource interface{}) bool
	// Cleanup releases a resource's underlying handle; nil means no-op.
	Cleanup func(resource interface{})
}

type entry struct {
	resource  interface{}
	createdAt time.Time
	lastUsed  time.Time
	useCount  int64
	inUse     bool
	healthy   bool
}

// Pool is a generic resource pool. It is not parameterized with Go
// generics over the exported API (cmd/migration-control builds the only
// instance, holding one concrete resource type) but resources are typed as
// interface{} internally and recovered via Lease.Resource() by the
// caller, the same shape async_pool.py's generic T takes in a dynamically
// typed language.
type Pool struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	entries map[int64]*entry
	nextID  int64
	waiters []chan *entry

	stats Stats

	healthStop chan struct{}
	cleanStop  chan struct{}
	wg         sync.WaitGroup
}

// New constructs a Pool in state "initializing"; call Initialize to prefill
// and start the background loops.
func New(cfg Config, logger *zap.Logger) *Pool {
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 60 * time.Second
	}
	if cfg.MaxIdleTime <= 0 {
		cfg.MaxIdleTime = 300 * time.Second
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}
	return &Pool{
		cfg:     cfg,
		logger:  logger,
		state:   StateInitializing,
		entries: make(map[int64]*entry),
	}
}

// Initialize prefills MinSize resources best-effort (a factory failure
// increments TotalErrors but does not abort initialization), transitions
// to "active", and starts the two background loops.
func (p *Pool) Initialize(ctx context.Context) {
	for i := 0; i < p.cfg.MinSize; i++ {
		if _, err := p.createLocked(ctx); err != nil {
			p.mu.Lock()
			p.stats.TotalErrors++
			p.mu.Unlock()
			if p.logger != nil {
				p.logger.Warn("pool prefill failed", zap.Error(err))
			}
		}
	}

	p.mu.Lock()
	p.state = StateActive
	p.healthStop = make(chan struct{})
	p.cleanStop = make(chan struct{})
	p.mu.Unlock()

	p.wg.Add(2)
	go p.healthCheckLoop()
	go p.cleanupLoop()
}

func (p *Pool) createLocked(ctx context.Context) (*entry, error) {
	p.mu.Lock()
	if len(p.entries) >= p.cfg.MaxSize {
		p.mu.Unlock()
		return nil, &migerr.PoolTimeoutError{Waited: "0s"}
	}
	p.mu.Unlock()

	res, err := p.cfg.Factory(ctx)
	if err != nil {
		return nil, err
	}

	e := &entry{resource: res, createdAt: time.Now(), lastUsed: time.Now(), healthy: true}
	p.mu.Lock()
	p.nextID++
	p.entries[p.nextID] = e
	p.stats.TotalCreated++
	p.mu.Unlock()
	return e, nil
}

// Lease is a scoped handle on a pooled resource; it guarantees the
// resource is either returned or destroyed, never leaked.
type Lease struct {
	pool  *Pool
	entry *entry
	done  bool
	mu    sync.Mutex
}

// Resource returns the underlying pooled value.
func (l *Lease) Resource() interface{} { return l.entry.resource }

// Release returns the resource to the pool (or destroys it, if unhealthy).
func (l *Lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return
	}
	l.done = true
	l.pool.returnEntry(l.entry)
}

// Acquire waits up to timeout for an idle resource, creating one if the
// pool is under MaxSize, else waiting FIFO for a release. max_size == 0
// fails immediately with PoolTimeout regardless of timeout (spec §8
// boundary behavior).
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*Lease, error) {
	start := time.Now()

	p.mu.Lock()
	p.stats.TotalRequests++
	if p.cfg.MaxSize == 0 {
		p.mu.Unlock()
		return nil, &migerr.PoolTimeoutError{Waited: "0s"}
	}

	// Fast path: an idle entry is available.
	for _, e := range p.entries {
		if !e.inUse {
			e.inUse = true
			e.lastUsed = time.Now()
			e.useCount++
			p.mu.Unlock()
			p.recordWait(time.Since(start))
			return &Lease{pool: p, entry: e}, nil
		}
	}

	// Create one if under capacity.
	if len(p.entries) < p.cfg.MaxSize {
		p.mu.Unlock()
		e, err := p.createLocked(ctx)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		e.inUse = true
		e.useCount++
		p.mu.Unlock()
		p.recordWait(time.Since(start))
		return &Lease{pool: p, entry: e}, nil
	}

	// Wait FIFO for a release.
	waitCh := make(chan *entry, 1)
	p.waiters = append(p.waiters, waitCh)
	p.mu.Unlock()

	if timeout <= 0 {
		timeout = p.cfg.AcquireTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e := <-waitCh:
		p.recordWait(time.Since(start))
		return &Lease{pool: p, entry: e}, nil
	case <-timer.C:
		p.removeWaiter(waitCh)
		return nil, &migerr.PoolTimeoutError{Waited: timeout.String()}
	case <-ctx.Done():
		p.removeWaiter(waitCh)
		return nil, &migerr.CancelledError{Message: "pool acquire cancelled"}
	}
}

func (p *Pool) removeWaiter(target chan *entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == target {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

func (p *Pool) recordWait(d time.Duration) {
	ms := float64(d.Milliseconds())
	p.mu.Lock()
	defer p.mu.Unlock()
	n := float64(p.stats.TotalRequests)
	p.stats.AvgWaitMs = p.stats.AvgWaitMs + (ms-p.stats.AvgWaitMs)/n
	if ms > p.stats.MaxWaitMs {
		p.stats.MaxWaitMs = ms
	}
}

func (p *Pool) returnEntry(e *entry) {
	p.mu.Lock()

	// Hand it straight to the oldest waiter if one exists (FIFO).
	for len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		e.lastUsed = time.Now()
		e.useCount++
		p.mu.Unlock()
		select {
		case w <- e:
			return
		default:
			// waiter already timed out; keep looking.
			p.mu.Lock()
			continue
		}
	}

	healthy := true
	if p.cfg.HealthCheck != nil {
		healthy = p.cfg.HealthCheck(context.Background(), e.resource)
	}
	e.healthy = healthy
	e.inUse = false
	e.lastUsed = time.Now()

	if !healthy {
		p.destroyLocked(e)
		shortOfMin := len(p.entries) < p.cfg.MinSize
		p.mu.Unlock()
		if shortOfMin {
			if _, err := p.createLocked(context.Background()); err != nil && p.logger != nil {
				p.logger.Warn("pool replacement create failed", zap.Error(err))
			}
		}
		return
	}
	p.mu.Unlock()
}

// destroyLocked must be called with p.mu held.
func (p *Pool) destroyLocked(e *entry) {
	for id, v := range p.entries {
		if v == e {
			delete(p.entries, id)
			break
		}
	}
	p.stats.TotalDestroyed++
	if p.cfg.Cleanup != nil {
		p.cfg.Cleanup(e.resource)
	}
}

func (p *Pool) healthCheckLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.healthStop:
			return
		case <-ticker.C:
			p.runHealthPass()
		}
	}
}

func (p *Pool) runHealthPass() {
	p.mu.Lock()
	var idle []*entry
	for _, e := range p.entries {
		if !e.inUse {
			idle = append(idle, e)
		}
	}
	p.mu.Unlock()

	for _, e := range idle {
		if p.cfg.HealthCheck == nil {
			continue
		}
		if !p.cfg.HealthCheck(context.Background(), e.resource) {
			p.mu.Lock()
			p.destroyLocked(e)
			p.mu.Unlock()
		}
	}

	p.mu.Lock()
	short := p.cfg.MinSize - len(p.entries)
	p.mu.Unlock()
	for i := 0; i < short; i++ {
		if _, err := p.createLocked(context.Background()); err != nil {
			if p.logger != nil {
				p.logger.Warn("pool top-up create failed", zap.Error(err))
			}
			break
		}
	}
}

func (p *Pool) cleanupLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-p.cleanStop:
			return
		case <-ticker.C:
			p.runCleanupPass()
		}
	}
}

func (p *Pool) runCleanupPass() {
	now := time.Now()
	p.mu.Lock()
	var stale []*entry
	for _, e := range p.entries {
		if e.inUse {
			continue
		}
		if len(p.entries)-len(stale) <= p.cfg.MinSize {
			break
		}
		if now.Sub(e.lastUsed) > p.cfg.MaxIdleTime {
			stale = append(stale, e)
		}
	}
	for _, e := range stale {
		p.destroyLocked(e)
	}
	p.mu.Unlock()
}

// Close cancels the background loops and destroys every resource.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return
	}
	p.state = StateDraining
	if p.healthStop != nil {
		close(p.healthStop)
	}
	if p.cleanStop != nil {
		close(p.cleanStop)
	}
	p.mu.Unlock()

	p.wg.Wait()

	p.mu.Lock()
	for _, e := range p.entries {
		p.destroyLocked(e)
	}
	p.state = StateClosed
	p.mu.Unlock()
}

// Stats returns a snapshot of pool statistics (spec §4.B).
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Total = len(p.entries)
	s.PendingWaiters = len(p.waiters)
	for _, e := range p.entries {
		if e.inUse {
			s.Active++
		} else {
			s.Idle++
		}
	}
	return s
}

// State returns the pool's current lifecycle state.
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
