package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/ragd/internal/errs"
	"github.com/hrygo/ragd/internal/worker"
)

func countingFactory(t *testing.T) (Factory, *int32) {
	t.Helper()
	var n int32
	return func(id string) (*worker.Worker, error) {
		atomic.AddInt32(&n, 1)
		return worker.New(id, "/nonexistent-llm-cli", "model.gguf", 0, nil), nil
	}, &n
}

func TestWarmUpCreatesCapacityWorkers(t *testing.T) {
	factory, calls := countingFactory(t)
	p := New(3, factory, nil)

	require.NoError(t, p.WarmUp(context.Background(), nil))
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
	assert.Equal(t, 3, p.Available())
	assert.Equal(t, 3, p.Capacity())
}

func TestWarmUpTwiceFails(t *testing.T) {
	factory, _ := countingFactory(t)
	p := New(1, factory, nil)
	require.NoError(t, p.WarmUp(context.Background(), nil))
	assert.Error(t, p.WarmUp(context.Background(), nil))
}

func TestWarmUpDestroysPartialWorkersOnFactoryFailure(t *testing.T) {
	var n int32
	var created []*worker.Worker
	factory := func(id string) (*worker.Worker, error) {
		if atomic.AddInt32(&n, 1) == 2 {
			return nil, assert.AnError
		}
		w := worker.New(id, "/nonexistent-llm-cli", "model.gguf", 0, nil)
		created = append(created, w)
		return w, nil
	}
	p := New(3, factory, nil)

	err := p.WarmUp(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrPoolInitFailed)

	// The worker created before the failure has been disposed.
	require.Len(t, created, 1)
	_, queryErr := created[0].Query(context.Background(), "sys", "q", time.Second)
	assert.ErrorIs(t, queryErr, errs.ErrWorkerDisposed)
}

func TestAcquireReleaseReusesWorker(t *testing.T) {
	factory, _ := countingFactory(t)
	p := New(1, factory, nil)
	require.NoError(t, p.WarmUp(context.Background(), nil))

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	first := lease.Worker
	assert.Equal(t, 0, p.Available())

	lease.Release()
	assert.Equal(t, 1, p.Available())

	lease2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, lease2.Worker)
}

func TestReleaseTwiceIsNoop(t *testing.T) {
	factory, _ := countingFactory(t)
	p := New(1, factory, nil)
	require.NoError(t, p.WarmUp(context.Background(), nil))

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release()
	lease.Release()
	assert.Equal(t, 1, p.Available())
}

func TestAcquireBlocksThenUnblocksInFIFOOrder(t *testing.T) {
	factory, _ := countingFactory(t)
	p := New(1, factory, nil)
	require.NoError(t, p.WarmUp(context.Background(), nil))

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 1; i <= 2; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			l, err := p.Acquire(context.Background())
			if err != nil {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			l.Release()
		}()
		time.Sleep(20 * time.Millisecond) // ensure waiters enqueue in order 1, 2
	}

	lease.Release()
	wg.Wait()

	assert.Equal(t, []int{1, 2}, order)
}

func TestAcquireCancellationReturnsErrCancelled(t *testing.T) {
	factory, _ := countingFactory(t)
	p := New(1, factory, nil)
	require.NoError(t, p.WarmUp(context.Background(), nil))

	_, err := p.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = p.Acquire(ctx)
	assert.ErrorIs(t, err, errs.ErrCancelled)
}

func TestAcquireAfterTeardownFails(t *testing.T) {
	factory, _ := countingFactory(t)
	p := New(1, factory, nil)
	require.NoError(t, p.WarmUp(context.Background(), nil))
	p.Teardown()

	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, errs.ErrPoolClosed)
}

func TestTeardownIsIdempotent(t *testing.T) {
	factory, _ := countingFactory(t)
	p := New(1, factory, nil)
	require.NoError(t, p.WarmUp(context.Background(), nil))
	p.Teardown()
	assert.NotPanics(t, func() { p.Teardown() })
}

func TestReleaseUnhealthyWorkerReplacesItViaFactory(t *testing.T) {
	factory, calls := countingFactory(t)
	p := New(1, factory, nil)
	require.NoError(t, p.WarmUp(context.Background(), nil))
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)

	_, queryErr := lease.Worker.Query(context.Background(), "sys", "q", 50*time.Millisecond)
	require.Error(t, queryErr)
	assert.False(t, lease.Worker.IsHealthy())

	lease.Release()

	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
	assert.Equal(t, 1, p.Available())
}

func TestReleaseWithFailedReplacementShrinksAvailability(t *testing.T) {
	var calls int32
	factory := func(id string) (*worker.Worker, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 2 {
			return nil, assert.AnError
		}
		return worker.New(id, "/nonexistent-llm-cli", "model.gguf", 0, nil), nil
	}
	p := New(1, factory, nil)
	require.NoError(t, p.WarmUp(context.Background(), nil))

	lease, err := p.Acquire(context.Background())
	require.NoError(t, err)
	_, queryErr := lease.Worker.Query(context.Background(), "sys", "q", 50*time.Millisecond)
	require.Error(t, queryErr)

	lease.Release()

	assert.Equal(t, 0, p.Available())
	assert.Equal(t, 1, p.Capacity())
}

// TestRemoveWaiterReclaimsRaceWithoutLeakingOutCount exercises the race
// window between a waiter's ctx.Done() firing and removeWaiter taking
// the lock: release() may have already handed the worker to the
// waiter's channel. removeWaiter must reclaim that worker onto idle
// and give back the outCount slot release() charged to the handoff, or
// Available()+outstanding permanently overcounts.
func TestRemoveWaiterReclaimsRaceWithoutLeakingOutCount(t *testing.T) {
	factory, _ := countingFactory(t)
	p := New(1, factory, nil)
	require.NoError(t, p.WarmUp(context.Background(), nil))

	p.mu.Lock()
	w := p.popIdleLocked()
	p.outCount++
	ch := make(chan *worker.Worker, 1)
	ch <- w
	p.mu.Unlock()

	// Simulate a waiter whose ctx fired just after release() sent on
	// ch, so it is no longer present in p.waiters when removeWaiter
	// looks for it.
	p.removeWaiter(ch)

	p.mu.Lock()
	outCount := p.outCount
	p.mu.Unlock()

	assert.Equal(t, 1, p.Available())
	assert.Equal(t, 0, outCount)
}
