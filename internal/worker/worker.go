package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sync/errgroup"

	"workpipe/internal/completion"
	"workpipe/internal/events"
	"workpipe/internal/logger"
	"workpipe/internal/metrics"
	"workpipe/internal/queue"
	"workpipe/internal/transform"
)

var (
	// ErrInvalidConfig はプール設定が不正な場合に返される
	ErrInvalidConfig = errors.New("invalid worker pool configuration")
	// ErrAlreadyStarted は二重起動時に返される
	ErrAlreadyStarted = errors.New("worker pool already started")
	// ErrNotStarted は未起動のプールを待機した場合に返される
	ErrNotStarted = errors.New("worker pool not started")
)

// WaitStrategy はキューが一時的に空の場合の待機方法
type WaitStrategy string

const (
	WaitNotify  WaitStrategy = "notify"
	WaitBackoff WaitStrategy = "backoff"
)

// ParseWaitStrategy は文字列から待機方法を解析する
func ParseWaitStrategy(s string) (WaitStrategy, error) {
	switch WaitStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", WaitNotify:
		return WaitNotify, nil
	case WaitBackoff:
		return WaitBackoff, nil
	default:
		return "", fmt.Errorf("unknown wait strategy: %s", s)
	}
}

// State はワーカーの状態
type State int32

const (
	Running State = iota
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// PoolConfig はワーカープールの設定
type PoolConfig struct {
	NumWorkers     int           // ワーカー数（1以上）
	Wait           WaitStrategy  // 空キュー時の待機方法
	InitialBackoff time.Duration // バックオフ初期間隔
	MaxBackoff     time.Duration // バックオフ最大間隔
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		NumWorkers:     4,
		Wait:           WaitNotify,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
	}
}

// Result は1アイテムの処理結果
type Result struct {
	WorkerID string
	Item     int
	Value    int
	Err      error
}

// Stats はワーカーごとの統計
type Stats struct {
	ID        string `json:"id"`
	State     State  `json:"-"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
}

type member struct {
	id        string
	state     atomic.Int32
	processed atomic.Uint64
	failed    atomic.Uint64
}

// Option はプールのオプション
type Option func(*Pool)

// WithLogger はログ出力先を設定する
func WithLogger(l *logger.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// WithMetrics はメトリクスを設定する
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithEventBus はイベントバスを設定する
func WithEventBus(bus *events.Bus) Option {
	return func(p *Pool) { p.bus = bus }
}

// WithResultHandler は処理結果のコールバックを設定する。
// 複数のワーカーから同時に呼ばれる。
func WithResultHandler(fn func(Result)) Option {
	return func(p *Pool) { p.onResult = fn }
}

// Pool はキューを消費するゴルーチンのプールを管理する
type Pool struct {
	config   PoolConfig
	queue    queue.Queue
	signal   *completion.Signal
	fn       transform.Func
	log      *logger.Logger
	metrics  *metrics.Metrics
	bus      *events.Bus
	onResult func(Result)

	mu      sync.Mutex
	started bool
	group   *errgroup.Group
	members []*member
}

// NewPool は新しいワーカープールを作成する
func NewPool(config PoolConfig, q queue.Queue, sig *completion.Signal, fn transform.Func, opts ...Option) (*Pool, error) {
	if config.NumWorkers <= 0 {
		return nil, fmt.Errorf("%w: worker count must be positive, got %d", ErrInvalidConfig, config.NumWorkers)
	}
	if q == nil || sig == nil || fn == nil {
		return nil, fmt.Errorf("%w: queue, signal and transform are required", ErrInvalidConfig)
	}

	defaults := DefaultPoolConfig()
	if config.Wait == "" {
		config.Wait = defaults.Wait
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.MaxBackoff < config.InitialBackoff {
		config.MaxBackoff = config.InitialBackoff
	}

	p := &Pool{
		config: config,
		queue:  q,
		signal: sig,
		fn:     transform.Guard(fn),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.Default
	}
	if p.metrics == nil {
		p.metrics = metrics.New()
	}

	p.members = make([]*member, config.NumWorkers)
	for i := range p.members {
		p.members[i] = &member{id: fmt.Sprintf("worker-%d", i+1)}
	}
	return p, nil
}

// Start はワーカーを起動する
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range p.members {
		m := m
		g.Go(func() error {
			return p.work(gctx, m)
		})
	}
	p.group = g

	p.log.Info("", "WorkerPool started with %d workers", len(p.members))
	return nil
}

// Wait は全ワーカーの終了を待つ
func (p *Pool) Wait() error {
	p.mu.Lock()
	g := p.group
	p.mu.Unlock()

	if g == nil {
		return ErrNotStarted
	}
	if err := g.Wait(); err != nil {
		return err
	}
	p.log.Info("", "WorkerPool stopped")
	return nil
}

// Run はワーカーを起動し、全ワーカーが停止するまで待つ
func (p *Pool) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	return p.Wait()
}

// work は個々のワーカーゴルーチン
func (p *Pool) work(ctx context.Context, m *member) error {
	log := p.log.For(m.id)
	p.metrics.WorkerStarted()
	defer p.stop(log, m)

	notifier, canNotify := p.queue.(queue.Notifier)
	useNotify := canNotify && p.config.Wait == WaitNotify

	var bo *backoff.ExponentialBackOff
	if !useNotify {
		bo = backoff.NewExponentialBackOff()
		bo.InitialInterval = p.config.InitialBackoff
		bo.MaxInterval = p.config.MaxBackoff
		bo.MaxElapsedTime = 0
		bo.Reset()
	}

	for {
		// Ready を先に取得しておけば、TryPop 後の Push を取りこぼさない
		var ready <-chan struct{}
		if useNotify {
			ready = notifier.Ready()
		}
		// Done を先に観測してから空を確認する。Producer は最後の Push の後に
		// Done にするので、この順序なら空かつ Done は「もう来ない」を意味する。
		done := p.signal.IsDone()

		if item, ok := p.queue.TryPop(); ok {
			p.process(log, m, item)
			if bo != nil {
				bo.Reset()
			}
			continue
		}
		if done {
			return nil
		}

		if useNotify {
			select {
			case <-ready:
			case <-p.signal.Done():
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		timer := time.NewTimer(bo.NextBackOff())
		select {
		case <-timer.C:
		case <-p.signal.Done():
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

// process は1アイテムを変換する
func (p *Pool) process(log *logger.Handle, m *member, item int) {
	log.Info("Consuming: %d", item)

	start := time.Now()
	value, err := p.fn(item)
	elapsed := time.Since(start)

	if err != nil {
		m.failed.Add(1)
		p.metrics.RecordFailure(elapsed)
		log.Warn("transform failed, skipping item %d: %v", item, err)
		p.publish(events.NewItemFailedEvent(m.id, item, err))
	} else {
		m.processed.Add(1)
		p.metrics.RecordSuccess(elapsed)
		log.Info("finished operation: %d", value)
		p.publish(events.NewItemProcessedEvent(m.id, item, value))
	}

	if p.onResult != nil {
		p.onResult(Result{WorkerID: m.id, Item: item, Value: value, Err: err})
	}
}

// stop はワーカーを終了状態にする
func (p *Pool) stop(log *logger.Handle, m *member) {
	m.state.Store(int32(Stopped))
	p.metrics.WorkerStopped()
	processed := m.processed.Load()
	log.Info("finished (processed %d, failed %d)", processed, m.failed.Load())
	p.publish(events.NewWorkerStoppedEvent(m.id, processed))
}

func (p *Pool) publish(ev events.Event) {
	if p.bus != nil {
		p.bus.Publish(ev)
	}
}

// NumWorkers はワーカー数を返す
func (p *Pool) NumWorkers() int {
	return len(p.members)
}

// QueueSize は現在のキューサイズを返す
func (p *Pool) QueueSize() int {
	return p.queue.Len()
}

// States は各ワーカーの状態を返す
func (p *Pool) States() []State {
	states := make([]State, len(p.members))
	for i, m := range p.members {
		states[i] = State(m.state.Load())
	}
	return states
}

// Stats は各ワーカーの統計を返す
func (p *Pool) Stats() []Stats {
	stats := make([]Stats, len(p.members))
	for i, m := range p.members {
		stats[i] = Stats{
			ID:        m.id,
			State:     State(m.state.Load()),
			Processed: m.processed.Load(),
			Failed:    m.failed.Load(),
		}
	}
	return stats
}
