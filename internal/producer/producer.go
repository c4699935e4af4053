// Package producer generates the bounded sequence of work items and
// publishes the completion signal once the last one has been queued.
package producer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"workpipe/internal/completion"
	"workpipe/internal/events"
	"workpipe/internal/logger"
	"workpipe/internal/metrics"
	"workpipe/internal/queue"
)

// ID is the log identity of the producer task.
const ID = "producer"

// ErrInvalidConfig is returned for a negative item count or rate.
var ErrInvalidConfig = errors.New("invalid producer configuration")

// Config controls how many items are produced and how fast.
type Config struct {
	// MaxItems is the number of items; items are 0..MaxItems-1.
	MaxItems int
	// Rate limits pushes per second. Zero means unlimited.
	Rate float64
	// Burst is the limiter burst size; defaults to 1 when Rate is set.
	Burst int
	// FinishDelay is slept between the last push and the Done transition.
	FinishDelay time.Duration
}

// Producer pushes items into a queue and then finishes the signal.
type Producer struct {
	cfg     Config
	queue   queue.Queue
	signal  *completion.Signal
	log     *logger.Handle
	metrics *metrics.Metrics
	bus     *events.Bus
	limiter *rate.Limiter

	produced atomic.Int64
}

// Option configures a Producer.
type Option func(*Producer)

// WithLogger sets the logger handle.
func WithLogger(h *logger.Handle) Option {
	return func(p *Producer) { p.log = h }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Producer) { p.metrics = m }
}

// WithEventBus publishes lifecycle events to bus.
func WithEventBus(bus *events.Bus) Option {
	return func(p *Producer) { p.bus = bus }
}

// New creates a producer for q and sig.
func New(cfg Config, q queue.Queue, sig *completion.Signal, opts ...Option) (*Producer, error) {
	if cfg.MaxItems < 0 {
		return nil, fmt.Errorf("%w: max items must be non-negative, got %d", ErrInvalidConfig, cfg.MaxItems)
	}
	if cfg.Rate < 0 {
		return nil, fmt.Errorf("%w: rate must be non-negative, got %v", ErrInvalidConfig, cfg.Rate)
	}

	p := &Producer{
		cfg:    cfg,
		queue:  q,
		signal: sig,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.For(ID)
	}
	if p.metrics == nil {
		p.metrics = metrics.New()
	}
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}
	return p, nil
}

// Run produces every item and then marks the signal Done. It runs once.
//
// A push failure is fatal for the run and is returned wrapped. Cancelling
// ctx stops production early. In both cases the signal is still finished
// so that no worker waits for items that will never come.
func (p *Producer) Run(ctx context.Context) error {
	if err := p.signal.Start(); err != nil {
		return fmt.Errorf("start producer: %w", err)
	}
	p.log.Info("started, producing %d items", p.cfg.MaxItems)
	p.publish(events.NewProducerStartedEvent(ID))

	produced, err := p.produce(ctx)

	p.queue.Close()
	if err == nil && p.cfg.FinishDelay > 0 {
		// Done must stay unobservable until the delay is over.
		timer := time.NewTimer(p.cfg.FinishDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	p.signal.Finish()
	p.publish(events.NewProducerDoneEvent(ID, uint64(produced)))

	if err != nil {
		p.log.Error("stopped after %d items: %v", produced, err)
		return err
	}
	p.log.Info("finished")
	return nil
}

func (p *Producer) produce(ctx context.Context) (int, error) {
	for i := 0; i < p.cfg.MaxItems; i++ {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return i, fmt.Errorf("throttle item %d: %w", i, err)
			}
		}

		p.log.Info("produce item: %d", i)
		if err := p.queue.Push(i); err != nil {
			return i, fmt.Errorf("push item %d: %w", i, err)
		}
		p.produced.Add(1)
		p.metrics.RecordProduced()
		p.publish(events.NewItemProducedEvent(ID, i))
	}
	return p.cfg.MaxItems, nil
}

// Produced returns the number of items pushed so far.
func (p *Producer) Produced() int {
	return int(p.produced.Load())
}

func (p *Producer) publish(ev events.Event) {
	if p.bus != nil {
		p.bus.Publish(ev)
	}
}
