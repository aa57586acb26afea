// Package channel is an in-process bus carrying run events from the
// processor to asynchronous consumers such as run analytics.
package channel

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

// DefaultDrainTimeout bounds how long Consume keeps handling buffered
// events after its context is cancelled.
const DefaultDrainTimeout = 10 * time.Second

var ErrBufferFull = errors.New("event bus buffer full")

// MetricsSink defines the interface for recording bus metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	BufferCapacitySet(capacity int)
	BufferSizeUpdate(size int)
	EventDropped()
}

// Handler consumes one run event.
type Handler func(ctx context.Context, event domain.RunEvent) error

type EventBus struct {
	ch           chan domain.RunEvent
	metrics      MetricsSink
	logger       *zap.Logger
	drainTimeout time.Duration
}

type Option func(*EventBus)

func WithMetrics(m MetricsSink) Option {
	return func(b *EventBus) { b.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(b *EventBus) { b.logger = l }
}

func WithDrainTimeout(d time.Duration) Option {
	return func(b *EventBus) { b.drainTimeout = d }
}

func NewEventBus(buffer int, opts ...Option) *EventBus {
	if buffer < 1 {
		buffer = 1
	}
	b := &EventBus{
		ch:           make(chan domain.RunEvent, buffer),
		logger:       zap.NewNop(),
		drainTimeout: DefaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metrics != nil {
		b.metrics.BufferCapacitySet(buffer)
	}
	return b
}

// Publish enqueues event without blocking. A full buffer drops the event.
func (b *EventBus) Publish(event domain.RunEvent) {
	if err := b.TryPublish(event); err != nil {
		b.logger.Warn("bus: run event dropped",
			zap.String("run_id", event.RunID.String()),
			zap.String("job_id", event.JobID.String()))
	}
}

// TryPublish is Publish that reports a dropped event as ErrBufferFull.
func (b *EventBus) TryPublish(event domain.RunEvent) error {
	select {
	case b.ch <- event:
		b.updateSize()
		return nil
	default:
		if b.metrics != nil {
			b.metrics.EventDropped()
		}
		return ErrBufferFull
	}
}

// Len returns the number of buffered events.
func (b *EventBus) Len() int { return len(b.ch) }

// Consume hands events to h until ctx is cancelled, then drains what is
// still buffered under a fresh deadline. Handler errors are logged.
func (b *EventBus) Consume(ctx context.Context, h Handler) {
	for {
		select {
		case <-ctx.Done():
			b.drain(h)
			return
		case event := <-b.ch:
			b.updateSize()
			b.handle(ctx, h, event)
		}
	}
}

func (b *EventBus) drain(h Handler) {
	ctx, cancel := context.WithTimeout(context.Background(), b.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-ctx.Done():
			b.logger.Warn("bus: drain timeout", zap.Int("handled", count), zap.Int("left", len(b.ch)))
			return
		case event := <-b.ch:
			b.updateSize()
			b.handle(ctx, h, event)
			count++
		default:
			if count > 0 {
				b.logger.Info("bus: drained buffered events", zap.Int("handled", count))
			}
			return
		}
	}
}

func (b *EventBus) handle(ctx context.Context, h Handler, event domain.RunEvent) {
	if err := h(ctx, event); err != nil {
		b.logger.Warn("bus: handler failed",
			zap.String("run_id", event.RunID.String()),
			zap.Error(err))
	}
}

func (b *EventBus) updateSize() {
	if b.metrics != nil {
		b.metrics.BufferSizeUpdate(len(b.ch))
	}
}
