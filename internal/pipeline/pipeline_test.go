package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workpipe/internal/events"
	"workpipe/internal/logger"
	"workpipe/internal/queue"
	"workpipe/internal/worker"
)

var quiet = logger.New(io.Discard, logger.LevelError)

type recorder struct {
	mu      sync.Mutex
	items   []int
	values  []int
	workers map[string]int
}

func newRecorder() *recorder {
	return &recorder{workers: make(map[string]int)}
}

func (r *recorder) handle(res worker.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if res.Err != nil {
		return
	}
	r.items = append(r.items, res.Item)
	r.values = append(r.values, res.Value)
	r.workers[res.WorkerID]++
}

func (r *recorder) sorted() ([]int, []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := append([]int(nil), r.items...)
	values := append([]int(nil), r.values...)
	sort.Ints(items)
	sort.Ints(values)
	return items, values
}

func newEngine(cfg Config) (*Engine, *recorder) {
	rec := newRecorder()
	e := New(cfg)
	e.SetLogger(quiet)
	e.SetResultHandler(rec.handle)
	return e, rec
}

func runWithTimeout(t *testing.T, e *Engine) (*Result, error) {
	t.Helper()
	type out struct {
		res *Result
		err error
	}
	ch := make(chan out, 1)
	go func() {
		res, err := e.Run(context.Background())
		ch <- out{res, err}
	}()
	select {
	case o := <-ch:
		return o.res, o.err
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline did not terminate")
		return nil, nil
	}
}

func TestCompletenessAndTermination(t *testing.T) {
	for _, items := range []int{0, 1, 250} {
		for _, workers := range []int{1, 4, 16} {
			for _, kind := range []queue.Kind{queue.KindMem, queue.KindChan} {
				t.Run(fmt.Sprintf("items=%d/workers=%d/%s", items, workers, kind), func(t *testing.T) {
					cfg := DefaultConfig()
					cfg.MaxItems = items
					cfg.Workers = workers
					cfg.QueueKind = kind

					e, rec := newEngine(cfg)
					result, err := runWithTimeout(t, e)
					require.NoError(t, err)

					gotItems, gotValues := rec.sorted()
					require.Len(t, gotItems, items)
					for i := 0; i < items; i++ {
						require.Equal(t, i, gotItems[i], "every item exactly once")
						require.Equal(t, 2*i, gotValues[i])
					}

					assert.EqualValues(t, items, result.Produced)
					assert.EqualValues(t, items, result.Processed)
					assert.Zero(t, result.Failed)
					require.Len(t, result.WorkerStats, workers)
					for _, s := range result.WorkerStats {
						assert.Equal(t, worker.Stopped, s.State)
					}
				})
			}
		}
	}
}

func TestQuickScenario(t *testing.T) {
	e, rec := newEngine(QuickPreset())
	result, err := runWithTimeout(t, e)
	require.NoError(t, err)

	_, values := rec.sorted()
	assert.Equal(t, []int{0, 2, 4, 6, 8}, values)
	assert.Equal(t, "quick", result.Name)
	assert.NotEmpty(t, result.RunID)
	assert.False(t, e.IsRunning())
}

func TestZeroItemsBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxItems = 0
	cfg.Workers = 4

	bus := events.NewBus()
	ch := bus.Subscribe()

	e, rec := newEngine(cfg)
	e.SetEventBus(bus)
	result, err := runWithTimeout(t, e)
	require.NoError(t, err)
	bus.Close()

	items, _ := rec.sorted()
	assert.Empty(t, items)
	assert.Zero(t, result.Processed)

	stopped := 0
	for ev := range ch {
		if ev.Type == events.EventWorkerStopped {
			stopped++
		}
	}
	assert.Equal(t, 4, stopped)
}

func TestNoPrematureShutdown(t *testing.T) {
	for _, wait := range []worker.WaitStrategy{worker.WaitNotify, worker.WaitBackoff} {
		t.Run(string(wait), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.MaxItems = 20
			cfg.Workers = 4
			cfg.Wait = wait
			cfg.FinishDelay = 100 * time.Millisecond

			bus := events.NewBus()
			ch := bus.Subscribe()

			e, rec := newEngine(cfg)
			e.SetEventBus(bus)
			_, err := runWithTimeout(t, e)
			require.NoError(t, err)
			bus.Close()

			var lastPush time.Time
			var stops []events.Event
			for ev := range ch {
				switch ev.Type {
				case events.EventItemProduced:
					lastPush = ev.Timestamp
				case events.EventWorkerStopped:
					stops = append(stops, ev)
				}
			}

			// the queue is drained long before the delay is over, so any
			// worker stopping on emptiness alone would show up here
			require.False(t, lastPush.IsZero())
			require.Len(t, stops, 4)
			for _, s := range stops {
				assert.GreaterOrEqual(t, s.Timestamp.Sub(lastPush), cfg.FinishDelay,
					"%s stopped before Done", s.Source)
			}

			items, _ := rec.sorted()
			assert.Len(t, items, 20)
		})
	}
}

func TestConfigurationErrorSpawnsNothing(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"negative items", func(c *Config) { c.MaxItems = -1 }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"negative workers", func(c *Config) { c.Workers = -3 }},
		{"unknown transform", func(c *Config) { c.Transform = "cube" }},
		{"unknown queue", func(c *Config) { c.QueueKind = "disk" }},
		{"unknown wait", func(c *Config) { c.Wait = "spin" }},
		{"negative rate", func(c *Config) { c.ProduceRate = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mod(&cfg)

			buf := &bytes.Buffer{}
			e := New(cfg)
			e.SetLogger(logger.New(buf, logger.LevelDebug))

			result, err := e.Run(context.Background())
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Nil(t, result)
			assert.Empty(t, buf.String(), "no task may start on a configuration error")
			assert.Equal(t, "NotStarted", e.Status().Producer)
		})
	}
}

func TestTransformFailuresDoNotAbort(t *testing.T) {
	errOdd := errors.New("odd item")
	cfg := DefaultConfig()
	cfg.MaxItems = 10
	cfg.Workers = 3

	e, rec := newEngine(cfg)
	e.SetTransform(func(item int) (int, error) {
		if item%2 == 1 {
			return 0, errOdd
		}
		return item * 2, nil
	})

	var mu sync.Mutex
	var failed []int
	e.SetResultHandler(func(r worker.Result) {
		rec.handle(r)
		if r.Err != nil {
			mu.Lock()
			failed = append(failed, r.Item)
			mu.Unlock()
			assert.ErrorIs(t, r.Err, errOdd)
		}
	})

	result, err := runWithTimeout(t, e)
	require.NoError(t, err, "a failing item must not abort the run")

	_, values := rec.sorted()
	assert.Equal(t, []int{0, 4, 8, 12, 16}, values)
	assert.Equal(t, uint64(5), result.Failed)
	assert.Equal(t, uint64(5), result.Processed)
	assert.Equal(t, uint64(10), result.Produced)

	sort.Ints(failed)
	assert.Equal(t, []int{1, 3, 5, 7, 9}, failed)
}

func TestQueueFailureIsFatal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxItems = 1000
	cfg.Workers = 1
	cfg.QueueKind = queue.KindChan
	cfg.QueueCapacity = 1
	cfg.ProduceRate = 0

	e, _ := newEngine(cfg)
	e.SetResultHandler(func(worker.Result) { time.Sleep(time.Millisecond) })

	result, err := runWithTimeout(t, e)
	require.ErrorIs(t, err, queue.ErrFull)
	require.NotNil(t, result)
	assert.Less(t, result.Produced, uint64(1000))
}

func TestEngineRejectsConcurrentRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxItems = 5
	cfg.FinishDelay = 200 * time.Millisecond

	e, _ := newEngine(cfg)

	errCh := make(chan error, 1)
	go func() {
		_, err := e.Run(context.Background())
		errCh <- err
	}()

	require.Eventually(t, e.IsRunning, time.Second, time.Millisecond)
	_, err := e.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	require.NoError(t, <-errCh)
}

func TestEngineCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxItems = 1000
	cfg.ProduceRate = 50

	e, _ := newEngine(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)

	result, err := e.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Less(t, result.Produced, uint64(1000))
	for _, s := range result.WorkerStats {
		assert.Equal(t, worker.Stopped, s.State)
	}
}

func TestStatusAfterRun(t *testing.T) {
	e, _ := newEngine(QuickPreset())
	_, err := runWithTimeout(t, e)
	require.NoError(t, err)

	status := e.Status()
	assert.False(t, status.Running)
	assert.Equal(t, "Done", status.Producer)
	assert.Zero(t, status.QueueLength)
	require.Len(t, status.Workers, 2)
	for _, w := range status.Workers {
		assert.Equal(t, "Stopped", w.State)
	}
}

func TestResultReport(t *testing.T) {
	e, _ := newEngine(QuickPreset())
	result, err := runWithTimeout(t, e)
	require.NoError(t, err)

	report := result.Report()
	for _, want := range []string{"PIPELINE REPORT: quick", result.RunID, "Processed:      5", "worker-1:", "worker-2:"} {
		assert.True(t, strings.Contains(report, want), "report missing %q", want)
	}
}

func TestPresets(t *testing.T) {
	assert.Equal(t, []string{"default", "quick", "stress", "throttled", "wide"}, ListPresets())

	for _, name := range ListPresets() {
		cfg, ok := GetPreset(name)
		require.True(t, ok)
		assert.Equal(t, name, cfg.Name)
		assert.NoError(t, cfg.Validate(), name)
	}

	_, ok := GetPreset("missing")
	assert.False(t, ok)

	def := DefaultConfig()
	assert.Equal(t, 250, def.MaxItems)
	assert.Equal(t, 4, def.Workers)
}

func TestThrottledPresetRuns(t *testing.T) {
	cfg := ThrottledPreset()
	cfg.MaxItems = 20

	e, rec := newEngine(cfg)
	result, err := runWithTimeout(t, e)
	require.NoError(t, err)

	items, _ := rec.sorted()
	assert.Len(t, items, 20)
	assert.EqualValues(t, 20, result.Processed)
}
