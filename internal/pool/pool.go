// Package pool implements a fixed-capacity, FIFO-fair pool of
// *worker.Worker handles. The bounded-concurrency idiom is grounded on
// the channel-as-semaphore pattern in
// ai/agents/orchestrator/dag_scheduler.go ("sem := make(chan
// struct{}, N)"), generalized here into a pool that actually lends out
// typed worker handles rather than bare tokens, with a drop-and-replace
// policy for workers that turn unhealthy during a lease.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/hrygo/ragd/internal/errs"
	"github.com/hrygo/ragd/internal/metrics"
	"github.com/hrygo/ragd/internal/worker"
)

// Factory constructs a new worker with a pool-assigned id.
type Factory func(id string) (*worker.Worker, error)

// Pool is a fixed-capacity, FIFO-fair lease pool of workers.
type Pool struct {
	capacity int
	factory  Factory
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	idle     []*worker.Worker // FIFO queue of idle workers
	waiters  []chan *worker.Worker
	outCount int // workers currently leased out
	closed   bool
	nextID   int
}

// New returns an unstarted pool; call WarmUp before Acquire.
func New(capacity int, factory Factory, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{capacity: capacity, factory: factory, logger: logger, metrics: metrics.New()}
}

// SetMetrics swaps in a Metrics instance whose WireTo has already been
// called against a live registerer, enabling pool-size instrumentation.
func (p *Pool) SetMetrics(m *metrics.Metrics) {
	p.mu.Lock()
	p.metrics = m
	p.mu.Unlock()
}

// observeSize records the current capacity/available gauges. Callers
// must hold p.mu.
func (p *Pool) observeSize() {
	p.metrics.ObservePoolSize(p.capacity, len(p.idle))
}

// WarmUp creates exactly capacity workers, invoking onProgress after
// each. If any worker fails to spawn, all workers created so far are
// destroyed and ErrPoolInitFailed is returned.
func (p *Pool) WarmUp(ctx context.Context, onProgress func(completed, total int)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.idle != nil || p.outCount != 0 {
		return errors.New("pool already warmed up")
	}

	created := make([]*worker.Worker, 0, p.capacity)
	for i := 0; i < p.capacity; i++ {
		select {
		case <-ctx.Done():
			p.destroyAll(created)
			return errors.Wrap(errs.ErrPoolInitFailed, ctx.Err().Error())
		default:
		}

		id := p.allocateID()
		w, err := p.factory(id)
		if err != nil {
			p.destroyAll(created)
			return errors.Wrap(errs.ErrPoolInitFailed, err.Error())
		}
		created = append(created, w)
		if onProgress != nil {
			onProgress(len(created), p.capacity)
		}
	}

	p.idle = created
	p.observeSize()
	return nil
}

func (p *Pool) allocateID() string {
	p.nextID++
	return fmt.Sprintf("worker-%d", p.nextID)
}

func (p *Pool) destroyAll(workers []*worker.Worker) {
	for _, w := range workers {
		w.Dispose()
	}
}

// Lease is a scoped acquisition of a Worker; Release returns it to the
// pool. Releasing twice is a no-op.
type Lease struct {
	pool     *Pool
	Worker   *worker.Worker
	released bool
	mu       sync.Mutex
}

// Release returns the worker to the pool; if it turned unhealthy during
// use, the pool disposes it and spawns a replacement right away.
func (l *Lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	l.pool.release(l.Worker)
}

// Acquire blocks until a worker is available, the pool is torn down,
// or cancel fires. Waiters are served in FIFO order.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errs.ErrPoolClosed
	}

	if len(p.idle) > 0 {
		w := p.popIdleLocked()
		p.outCount++
		p.observeSize()
		p.mu.Unlock()
		return &Lease{pool: p, Worker: w}, nil
	}

	ch := make(chan *worker.Worker, 1)
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	select {
	case w, ok := <-ch:
		if !ok {
			return nil, errs.ErrPoolClosed
		}
		return &Lease{pool: p, Worker: w}, nil
	case <-ctx.Done():
		p.removeWaiter(ch)
		return nil, errs.ErrCancelled
	}
}

func (p *Pool) popIdleLocked() *worker.Worker {
	w := p.idle[0]
	p.idle = p.idle[1:]
	return w
}

func (p *Pool) removeWaiter(ch chan *worker.Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.waiters {
		if c == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
	// Waiter already woken between ctx.Done() firing and this lock:
	// hand its worker straight back to the idle queue instead of
	// leaking the lease.
	select {
	case w, ok := <-ch:
		if ok {
			p.outCount--
			p.idle = append(p.idle, w)
			p.observeSize()
		}
	default:
	}
}

// release returns w to the pool: to the oldest waiting caller if any
// (FIFO), else back onto the idle queue. An unhealthy worker is
// disposed and replaced here, through the factory, before the handoff;
// if the factory fails, nothing is handed off.
func (p *Pool) release(w *worker.Worker) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.outCount--

	if !w.IsHealthy() {
		w.Dispose()
		replacement, err := p.factory(p.allocateID())
		if err != nil {
			p.logger.Warn("pool: failed to spawn replacement worker", "error", err)
			// Capacity silently shrinks by one rather than blocking
			// forever on a worker that cannot be recreated.
			return
		}
		w = replacement
	}

	if len(p.waiters) > 0 {
		ch := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.outCount++
		ch <- w
		return
	}

	p.idle = append(p.idle, w)
	p.observeSize()
}

// Teardown refuses new acquisitions, and destroys all idle workers.
// Outstanding leases are not forcibly revoked; Teardown returns once
// there are no more waiters to unblock. Idempotent.
func (p *Pool) Teardown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true

	for _, ch := range p.waiters {
		close(ch)
	}
	p.waiters = nil

	p.destroyAll(p.idle)
	p.idle = nil
	p.observeSize()
}

// Capacity returns N, readable without blocking.
func (p *Pool) Capacity() int { return p.capacity }

// Available returns the count of workers currently idle in the pool,
// readable without blocking.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}
