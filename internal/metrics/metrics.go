package metrics

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Config はメトリクスの設定
type Config struct {
	Namespace         string // Prometheus の名前空間
	MaxLatencySamples int    // P99 計算用に保持するサンプル数
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Namespace:         "workpipe",
		MaxLatencySamples: 1000,
	}
}

// Metrics はパイプラインのメトリクスを収集する
type Metrics struct {
	produced       atomic.Uint64
	processed      atomic.Uint64
	failed         atomic.Uint64
	activeWorkers  atomic.Int64
	totalLatencyNs atomic.Uint64

	mu                sync.RWMutex
	startTime         time.Time
	latencies         []time.Duration // 直近 maxLatencySamples 件のリングバッファ
	nextSample        int
	maxLatencySamples int

	itemsProduced     prometheus.Counter
	itemsProcessed    prometheus.Counter
	transformFailures prometheus.Counter
	workersGauge      prometheus.Gauge
	itemDuration      prometheus.Histogram
}

// New は新しいメトリクスを作成する
func New() *Metrics {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig は設定を指定してメトリクスを作成する
func NewWithConfig(config Config) *Metrics {
	if config.Namespace == "" {
		config.Namespace = "workpipe"
	}
	if config.MaxLatencySamples <= 0 {
		config.MaxLatencySamples = 1000
	}

	return &Metrics{
		startTime:         time.Now(),
		latencies:         make([]time.Duration, 0, config.MaxLatencySamples),
		maxLatencySamples: config.MaxLatencySamples,

		itemsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "items_produced_total",
			Help:      "Total number of work items pushed by the producer",
		}),
		itemsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "items_processed_total",
			Help:      "Total number of work items transformed successfully",
		}),
		transformFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "transform_failures_total",
			Help:      "Total number of work items whose transform failed",
		}),
		workersGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "active_workers",
			Help:      "Number of workers that have not reached Stopped",
		}),
		itemDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "item_duration_seconds",
			Help:      "Time spent transforming a single work item",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
	}
}

// Collectors は Prometheus コレクタの一覧を返す
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.itemsProduced,
		m.itemsProcessed,
		m.transformFailures,
		m.workersGauge,
		m.itemDuration,
	}
}

// Register はコレクタをレジストリに登録する
func (m *Metrics) Register(reg prometheus.Registerer) error {
	var errs []error
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordProduced は投入されたアイテムを記録する
func (m *Metrics) RecordProduced() {
	m.produced.Add(1)
	m.itemsProduced.Inc()
}

// RecordSuccess は変換に成功したアイテムを記録する
func (m *Metrics) RecordSuccess(latency time.Duration) {
	m.processed.Add(1)
	m.totalLatencyNs.Add(uint64(latency.Nanoseconds()))
	m.itemsProcessed.Inc()
	m.itemDuration.Observe(latency.Seconds())

	m.mu.Lock()
	if len(m.latencies) < m.maxLatencySamples {
		m.latencies = append(m.latencies, latency)
	} else {
		m.latencies[m.nextSample] = latency
		m.nextSample = (m.nextSample + 1) % m.maxLatencySamples
	}
	m.mu.Unlock()
}

// RecordFailure は変換に失敗したアイテムを記録する
func (m *Metrics) RecordFailure(latency time.Duration) {
	m.failed.Add(1)
	m.transformFailures.Inc()
	m.itemDuration.Observe(latency.Seconds())
}

// WorkerStarted は稼働中ワーカー数を増やす
func (m *Metrics) WorkerStarted() {
	m.activeWorkers.Add(1)
	m.workersGauge.Inc()
}

// WorkerStopped は稼働中ワーカー数を減らす
func (m *Metrics) WorkerStopped() {
	m.activeWorkers.Add(-1)
	m.workersGauge.Dec()
}

// Produced は投入数を返す
func (m *Metrics) Produced() uint64 {
	return m.produced.Load()
}

// Processed は処理成功数を返す
func (m *Metrics) Processed() uint64 {
	return m.processed.Load()
}

// Failed は処理失敗数を返す
func (m *Metrics) Failed() uint64 {
	return m.failed.Load()
}

// ActiveWorkers は稼働中ワーカー数を返す
func (m *Metrics) ActiveWorkers() int64 {
	return m.activeWorkers.Load()
}

// Throughput は開始からの平均処理数/秒を返す
func (m *Metrics) Throughput() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.processed.Load()+m.failed.Load()) / elapsed
}

// AverageLatency は平均処理時間を返す
func (m *Metrics) AverageLatency() time.Duration {
	total := m.processed.Load()
	if total == 0 {
		return 0
	}
	return time.Duration(m.totalLatencyNs.Load() / total)
}

// P99Latency は直近のサンプルから P99 処理時間を返す
func (m *Metrics) P99Latency() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ErrorRate は失敗率を返す（0.0〜1.0）
func (m *Metrics) ErrorRate() float64 {
	failed := m.failed.Load()
	total := m.processed.Load() + failed
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

// Snapshot はメトリクスのスナップショット
type Snapshot struct {
	Produced       uint64        `json:"produced"`
	Processed      uint64        `json:"processed"`
	Failed         uint64        `json:"failed"`
	ActiveWorkers  int64         `json:"active_workers"`
	Throughput     float64       `json:"throughput"`
	AverageLatency time.Duration `json:"average_latency_ns"`
	P99Latency     time.Duration `json:"p99_latency_ns"`
	ErrorRate      float64       `json:"error_rate"`
	Elapsed        time.Duration `json:"elapsed_ns"`
}

// Snapshot は現在のメトリクスのスナップショットを返す
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Produced:       m.Produced(),
		Processed:      m.Processed(),
		Failed:         m.Failed(),
		ActiveWorkers:  m.ActiveWorkers(),
		Throughput:     m.Throughput(),
		AverageLatency: m.AverageLatency(),
		P99Latency:     m.P99Latency(),
		ErrorRate:      m.ErrorRate(),
		Elapsed:        time.Since(m.startTime),
	}
}
