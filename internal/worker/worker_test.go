package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workpipe/internal/completion"
	"workpipe/internal/events"
	"workpipe/internal/logger"
	"workpipe/internal/metrics"
	"workpipe/internal/queue"
	"workpipe/internal/transform"
)

var quiet = logger.New(io.Discard, logger.LevelError)

type collector struct {
	mu      sync.Mutex
	results []Result
}

func (c *collector) add(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

func (c *collector) values() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []int
	for _, r := range c.results {
		if r.Err == nil {
			out = append(out, r.Value)
		}
	}
	sort.Ints(out)
	return out
}

func fill(t *testing.T, q queue.Queue, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, q.Push(i))
	}
}

func waitFor(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for pool to stop")
		return nil
	}
}

func TestNewPoolValidation(t *testing.T) {
	q := queue.NewMem()
	sig := completion.New()

	for _, n := range []int{0, -5} {
		_, err := NewPool(PoolConfig{NumWorkers: n}, q, sig, transform.Double)
		assert.ErrorIs(t, err, ErrInvalidConfig, "workers=%d", n)
	}

	_, err := NewPool(PoolConfig{NumWorkers: 1}, nil, sig, transform.Double)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	pool, err := NewPool(PoolConfig{NumWorkers: 3}, q, sig, transform.Double, WithLogger(quiet))
	require.NoError(t, err)
	assert.Equal(t, 3, pool.NumWorkers())
	assert.Equal(t, WaitNotify, pool.config.Wait)
}

func TestPoolProcessesEveryItemOnce(t *testing.T) {
	for _, wait := range []WaitStrategy{WaitNotify, WaitBackoff} {
		for _, workers := range []int{1, 4, 16} {
			t.Run(fmt.Sprintf("%s/%d", wait, workers), func(t *testing.T) {
				q := queue.NewMem()
				sig := completion.New()
				require.NoError(t, sig.Start())
				fill(t, q, 250)
				sig.Finish()

				c := &collector{}
				pool, err := NewPool(PoolConfig{NumWorkers: workers, Wait: wait}, q, sig, transform.Double,
					WithLogger(quiet), WithResultHandler(c.add))
				require.NoError(t, err)
				require.NoError(t, pool.Run(context.Background()))

				want := make([]int, 250)
				for i := range want {
					want[i] = 2 * i
				}
				assert.Equal(t, want, c.values())

				var total uint64
				for _, s := range pool.Stats() {
					assert.Equal(t, Stopped, s.State)
					total += s.Processed
				}
				assert.EqualValues(t, 250, total)
			})
		}
	}
}

func TestPoolEmptyAndDoneStopsImmediately(t *testing.T) {
	q := queue.NewMem()
	sig := completion.New()
	sig.Finish()

	pool, err := NewPool(PoolConfig{NumWorkers: 4}, q, sig, transform.Double, WithLogger(quiet))
	require.NoError(t, err)
	require.NoError(t, pool.Run(context.Background()))

	for _, s := range pool.Stats() {
		assert.Equal(t, Stopped, s.State)
		assert.Zero(t, s.Processed)
	}
}

func TestPoolDoesNotStopBeforeDone(t *testing.T) {
	for _, wait := range []WaitStrategy{WaitNotify, WaitBackoff} {
		t.Run(string(wait), func(t *testing.T) {
			q := queue.NewMem()
			sig := completion.New()
			require.NoError(t, sig.Start())

			c := &collector{}
			pool, err := NewPool(PoolConfig{NumWorkers: 4, Wait: wait}, q, sig, transform.Double,
				WithLogger(quiet), WithResultHandler(c.add))
			require.NoError(t, err)

			errCh := make(chan error, 1)
			go func() { errCh <- pool.Run(context.Background()) }()

			// queue is empty but the producer has not finished
			time.Sleep(50 * time.Millisecond)
			for _, s := range pool.States() {
				assert.Equal(t, Running, s)
			}

			fill(t, q, 3)
			require.Eventually(t, func() bool { return len(c.values()) == 3 }, time.Second, time.Millisecond)

			time.Sleep(20 * time.Millisecond)
			for _, s := range pool.States() {
				assert.Equal(t, Running, s, "workers must keep waiting until Done")
			}

			sig.Finish()
			require.NoError(t, waitFor(t, errCh))
			for _, s := range pool.States() {
				assert.Equal(t, Stopped, s)
			}
			assert.Equal(t, []int{0, 2, 4}, c.values())
		})
	}
}

// countingQueue counts TryPop calls.
type countingQueue struct {
	*queue.Mem
	pops atomic.Int64
}

func (q *countingQueue) TryPop() (int, bool) {
	q.pops.Add(1)
	return q.Mem.TryPop()
}

func TestPoolBlocksBetweenCloseAndDone(t *testing.T) {
	q := &countingQueue{Mem: queue.NewMem()}
	sig := completion.New()
	require.NoError(t, sig.Start())
	fill(t, q, 3)
	q.Close()

	c := &collector{}
	pool, err := NewPool(PoolConfig{NumWorkers: 2, Wait: WaitNotify}, q, sig, transform.Double,
		WithLogger(quiet), WithResultHandler(c.add))
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- pool.Run(context.Background()) }()

	require.Eventually(t, func() bool { return len(c.values()) == 3 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	// 閉じたが Done でないキューでは待機し、TryPop を繰り返さない
	before := q.pops.Load()
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, q.pops.Load()-before, int64(2))
	for _, s := range pool.States() {
		assert.Equal(t, Running, s)
	}

	sig.Finish()
	require.NoError(t, waitFor(t, errCh))
	assert.Equal(t, []int{0, 2, 4}, c.values())
}

func TestPoolLogsEveryItemAtInfo(t *testing.T) {
	buf := &bytes.Buffer{}
	log := logger.New(buf, logger.LevelInfo)

	q := queue.NewMem()
	sig := completion.New()
	require.NoError(t, sig.Start())
	fill(t, q, 3)
	sig.Finish()

	pool, err := NewPool(PoolConfig{NumWorkers: 1}, q, sig, transform.Double, WithLogger(log))
	require.NoError(t, err)
	require.NoError(t, pool.Run(context.Background()))

	out := buf.String()
	for i := 0; i < 3; i++ {
		assert.Contains(t, out, fmt.Sprintf("[worker-1] Consuming: %d", i))
		assert.Contains(t, out, fmt.Sprintf("[worker-1] finished operation: %d", 2*i))
	}
	assert.Equal(t, 1, strings.Count(out, "[worker-1] finished (processed 3, failed 0)"))
}

func TestPoolWithChanQueueFallsBackToBackoff(t *testing.T) {
	q := queue.NewChan(100)
	sig := completion.New()
	require.NoError(t, sig.Start())

	c := &collector{}
	pool, err := NewPool(PoolConfig{NumWorkers: 2, Wait: WaitNotify, MaxBackoff: 5 * time.Millisecond},
		q, sig, transform.Double, WithLogger(quiet), WithResultHandler(c.add))
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- pool.Run(context.Background()) }()

	go func() {
		for i := 0; i < 10; i++ {
			_ = q.Push(i)
			time.Sleep(time.Millisecond)
		}
		sig.Finish()
	}()

	require.NoError(t, waitFor(t, errCh))
	assert.Len(t, c.values(), 10)
}

func TestPoolTransformFailureIsSkipped(t *testing.T) {
	q := queue.NewMem()
	sig := completion.New()
	require.NoError(t, sig.Start())
	fill(t, q, 10)
	sig.Finish()

	bad := errors.New("bad item")
	fn := func(item int) (int, error) {
		switch item {
		case 3:
			return 0, bad
		case 7:
			panic("boom")
		}
		return item * 2, nil
	}

	buf := &bytes.Buffer{}
	m := metrics.New()
	c := &collector{}
	pool, err := NewPool(PoolConfig{NumWorkers: 2}, q, sig, fn,
		WithLogger(logger.New(buf, logger.LevelWarn)), WithMetrics(m), WithResultHandler(c.add))
	require.NoError(t, err)
	require.NoError(t, pool.Run(context.Background()))

	assert.Equal(t, []int{0, 2, 4, 8, 10, 12, 16, 18}, c.values())
	assert.EqualValues(t, 8, m.Processed())
	assert.EqualValues(t, 2, m.Failed())

	var failed []int
	for _, r := range c.results {
		if r.Err != nil {
			var te *transform.Error
			require.ErrorAs(t, r.Err, &te)
			failed = append(failed, te.Item)
		}
	}
	sort.Ints(failed)
	assert.Equal(t, []int{3, 7}, failed)
	assert.Equal(t, 2, strings.Count(buf.String(), "transform failed"))
}

func TestPoolContextCancel(t *testing.T) {
	q := queue.NewMem()
	sig := completion.New()
	require.NoError(t, sig.Start())

	pool, err := NewPool(PoolConfig{NumWorkers: 3}, q, sig, transform.Double, WithLogger(quiet))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- pool.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, waitFor(t, errCh), context.Canceled)
	for _, s := range pool.States() {
		assert.Equal(t, Stopped, s)
	}
}

func TestPoolStartTwice(t *testing.T) {
	q := queue.NewMem()
	sig := completion.New()
	sig.Finish()

	pool, err := NewPool(PoolConfig{NumWorkers: 1}, q, sig, transform.Double, WithLogger(quiet))
	require.NoError(t, err)

	assert.ErrorIs(t, pool.Wait(), ErrNotStarted)
	require.NoError(t, pool.Start(context.Background()))
	assert.ErrorIs(t, pool.Start(context.Background()), ErrAlreadyStarted)
	require.NoError(t, pool.Wait())
}

func TestPoolEvents(t *testing.T) {
	q := queue.NewMem()
	sig := completion.New()
	require.NoError(t, sig.Start())
	fill(t, q, 2)
	sig.Finish()

	bus := events.NewBus()
	ch := bus.Subscribe()

	m := metrics.New()
	pool, err := NewPool(PoolConfig{NumWorkers: 2}, q, sig, transform.Double,
		WithLogger(quiet), WithEventBus(bus), WithMetrics(m))
	require.NoError(t, err)
	require.NoError(t, pool.Run(context.Background()))
	bus.Close()

	counts := make(map[events.EventType]int)
	for ev := range ch {
		counts[ev.Type]++
	}
	assert.Equal(t, 2, counts[events.EventItemProcessed])
	assert.Equal(t, 2, counts[events.EventWorkerStopped])
	assert.Zero(t, m.ActiveWorkers())
}

func TestParseWaitStrategy(t *testing.T) {
	w, err := ParseWaitStrategy("")
	require.NoError(t, err)
	assert.Equal(t, WaitNotify, w)

	w, err = ParseWaitStrategy("Backoff")
	require.NoError(t, err)
	assert.Equal(t, WaitBackoff, w)

	_, err = ParseWaitStrategy("spin")
	assert.Error(t, err)

	assert.Equal(t, "Running", Running.String())
	assert.Equal(t, "Stopped", Stopped.String())
}
