package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"workpipe/internal/completion"
	"workpipe/internal/events"
	"workpipe/internal/logger"
	"workpipe/internal/metrics"
	"workpipe/internal/producer"
	"workpipe/internal/queue"
	"workpipe/internal/transform"
	"workpipe/internal/worker"
)

// ErrAlreadyRunning は実行中に Run が呼ばれた場合に返される
var ErrAlreadyRunning = errors.New("pipeline is already running")

// Result はパイプライン実行結果
type Result struct {
	RunID     string        `json:"run_id"`
	Name      string        `json:"name"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration_ns"`

	MaxItems int `json:"max_items"`
	Workers  int `json:"workers"`

	// カウンタ
	Produced  uint64 `json:"produced"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`

	// レイテンシ
	AvgLatency time.Duration `json:"avg_latency_ns"`
	P99Latency time.Duration `json:"p99_latency_ns"`

	WorkerStats []worker.Stats `json:"worker_stats"`
}

// Status は実行中のパイプラインの状態
type Status struct {
	Running     bool           `json:"running"`
	RunID       string         `json:"run_id,omitempty"`
	Name        string         `json:"name,omitempty"`
	Producer    string         `json:"producer"`
	QueueLength int            `json:"queue_length"`
	Workers     []WorkerStatus `json:"workers"`
}

// WorkerStatus はワーカー1つ分の状態
type WorkerStatus struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
}

// Engine はパイプライン実行エンジン
type Engine struct {
	config   Config
	eventBus *events.Bus
	log      *logger.Logger
	metrics  *metrics.Metrics
	onResult func(worker.Result)
	fn       transform.Func

	mu      sync.RWMutex
	running bool
	runID   string
	queue   queue.Queue
	signal  *completion.Signal
	pool    *worker.Pool
}

// New は新しいEngineを作成する
func New(config Config) *Engine {
	return &Engine{
		config: config,
	}
}

// SetEventBus はイベントバスを設定する
func (e *Engine) SetEventBus(bus *events.Bus) {
	e.eventBus = bus
}

// SetLogger はロガーを設定する
func (e *Engine) SetLogger(l *logger.Logger) {
	e.log = l
}

// SetMetrics は共有メトリクスを設定する（未設定なら実行ごとに作成）
func (e *Engine) SetMetrics(m *metrics.Metrics) {
	e.metrics = m
}

// SetResultHandler は処理結果のコールバックを設定する
func (e *Engine) SetResultHandler(fn func(worker.Result)) {
	e.onResult = fn
}

// SetTransform は Config.Transform の代わりに使う変換関数を設定する
func (e *Engine) SetTransform(fn transform.Func) {
	e.fn = fn
}

// Config は設定を返す
func (e *Engine) Config() Config {
	return e.config
}

// Run はパイプラインを実行する。設定エラーの場合はゴルーチンを1つも起動しない。
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if err := e.config.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	log := e.log
	if log == nil {
		log = logger.Default
	}
	m := e.metrics
	if m == nil {
		m = metrics.New()
	}

	runID := uuid.NewString()
	prod, pool, err := e.setup(runID, log, m)
	if err != nil {
		return nil, fmt.Errorf("setup failed: %w", err)
	}

	log.Info("", "=== Run '%s' (%s) started: %d items, %d workers ===",
		e.config.Name, runID, e.config.MaxItems, e.config.Workers)

	result := &Result{
		RunID:     runID,
		Name:      e.config.Name,
		StartTime: time.Now(),
		MaxItems:  e.config.MaxItems,
		Workers:   e.config.Workers,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return prod.Run(gctx)
	})
	g.Go(func() error {
		return pool.Run(gctx)
	})
	runErr := g.Wait()

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	e.collectResults(result, prod, pool, m)

	if runErr != nil {
		log.Error("", "=== Run '%s' aborted: %v ===", e.config.Name, runErr)
		return result, runErr
	}

	if e.eventBus != nil {
		e.eventBus.Publish(events.NewRunCompleteEvent(runID, result.Processed))
	}
	log.Info("", "=== Run '%s' completed: %d produced, %d processed, %d failed ===",
		e.config.Name, result.Produced, result.Processed, result.Failed)

	return result, nil
}

// setup はキュー、シグナル、プロデューサー、プールを作成する
func (e *Engine) setup(runID string, log *logger.Logger, m *metrics.Metrics) (*producer.Producer, *worker.Pool, error) {
	fn := e.fn
	if fn == nil {
		var err error
		fn, err = transform.Lookup(e.config.Transform)
		if err != nil {
			return nil, nil, err
		}
	}

	q, err := queue.New(e.config.QueueKind, e.config.queueCapacity())
	if err != nil {
		return nil, nil, err
	}
	sig := completion.New()

	prod, err := producer.New(producer.Config{
		MaxItems:    e.config.MaxItems,
		Rate:        e.config.ProduceRate,
		Burst:       e.config.ProduceBurst,
		FinishDelay: e.config.FinishDelay,
	}, q, sig,
		producer.WithLogger(log.For(producer.ID)),
		producer.WithMetrics(m),
		producer.WithEventBus(e.eventBus),
	)
	if err != nil {
		return nil, nil, err
	}

	poolConfig := worker.DefaultPoolConfig()
	poolConfig.NumWorkers = e.config.Workers
	poolConfig.Wait = e.config.Wait
	if e.config.MaxBackoff > 0 {
		poolConfig.MaxBackoff = e.config.MaxBackoff
	}

	opts := []worker.Option{
		worker.WithLogger(log),
		worker.WithMetrics(m),
		worker.WithEventBus(e.eventBus),
	}
	if e.onResult != nil {
		opts = append(opts, worker.WithResultHandler(e.onResult))
	}
	pool, err := worker.NewPool(poolConfig, q, sig, fn, opts...)
	if err != nil {
		return nil, nil, err
	}

	e.mu.Lock()
	e.runID = runID
	e.queue = q
	e.signal = sig
	e.pool = pool
	e.mu.Unlock()

	return prod, pool, nil
}

// collectResults は結果を収集する
func (e *Engine) collectResults(result *Result, prod *producer.Producer, pool *worker.Pool, m *metrics.Metrics) {
	result.Produced = uint64(prod.Produced())
	result.WorkerStats = pool.Stats()
	for _, s := range result.WorkerStats {
		result.Processed += s.Processed
		result.Failed += s.Failed
	}
	result.AvgLatency = m.AverageLatency()
	result.P99Latency = m.P99Latency()
}

// IsRunning は実行中かどうかを返す
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Status は現在（または直前）の実行状態を返す
func (e *Engine) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()

	status := Status{
		Running:  e.running,
		RunID:    e.runID,
		Name:     e.config.Name,
		Producer: completion.NotStarted.String(),
	}
	if e.signal != nil {
		status.Producer = e.signal.State().String()
	}
	if e.queue != nil {
		status.QueueLength = e.queue.Len()
	}
	if e.pool != nil {
		for _, s := range e.pool.Stats() {
			status.Workers = append(status.Workers, WorkerStatus{
				ID:        s.ID,
				State:     s.State.String(),
				Processed: s.Processed,
				Failed:    s.Failed,
			})
		}
	}
	return status
}

// Report は結果をフォーマットして返す
func (r *Result) Report() string {
	var b strings.Builder

	fmt.Fprintf(&b, `
================================================================================
                         PIPELINE REPORT: %s
================================================================================

EXECUTION SUMMARY
-----------------
  Run ID:         %s
  Start Time:     %s
  End Time:       %s
  Duration:       %v

ITEMS
-----
  Requested:      %d
  Produced:       %d
  Processed:      %d
  Failed:         %d

LATENCY
-------
  Avg:            %v
  P99:            %v

WORKERS (%d)
-----------
`,
		r.Name,
		r.RunID,
		r.StartTime.Format("2006-01-02 15:04:05"),
		r.EndTime.Format("2006-01-02 15:04:05"),
		r.Duration.Round(time.Millisecond),
		r.MaxItems,
		r.Produced,
		r.Processed,
		r.Failed,
		r.AvgLatency.Round(time.Microsecond),
		r.P99Latency.Round(time.Microsecond),
		r.Workers,
	)

	for _, s := range r.WorkerStats {
		fmt.Fprintf(&b, "  %-12s %-8s processed=%d failed=%d\n", s.ID+":", s.State, s.Processed, s.Failed)
	}

	b.WriteString("\n================================================================================")
	return b.String()
}
