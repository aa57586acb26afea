// Package scheduler runs the periodic tick loop. A tick takes the scheduler
// lease, hands due jobs to the processor, releases the lease and records the
// outcome. Ticks in one process never overlap.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/lease"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/processor"
)

// DefaultLeaseName is the lease every tick loop competes for.
const DefaultLeaseName = "automation-scheduler"

type Processor interface {
	ProcessDue(ctx context.Context, now time.Time, limit int) (processor.Result, error)
}

type Leases interface {
	Acquire(ctx context.Context, name string, d time.Duration) (lease.Lease, bool, error)
	Release(ctx context.Context, l lease.Lease) error
}

// Recorder persists tick outcomes.
type Recorder interface {
	RecordTick(ctx context.Context, ev domain.TickEvent) error
}

// MetricsSink defines the interface for recording tick metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TickCompleted(outcome string, duration time.Duration)
}

type Config struct {
	TickInterval  time.Duration
	LeaseName     string
	LeaseDuration time.Duration
	BatchLimit    int
	RunOnStartup  bool
	// ReleaseTimeout bounds the lease release, which runs even when the
	// tick's context was cancelled.
	ReleaseTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.LeaseName == "" {
		c.LeaseName = DefaultLeaseName
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = 4 * c.TickInterval
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = processor.DefaultBatchLimit
	}
	if c.ReleaseTimeout <= 0 {
		c.ReleaseTimeout = 5 * time.Second
	}
	return c
}

type Runner struct {
	config    Config
	processor Processor
	leases    Leases
	state     *State
	recorder  Recorder    // optional
	metrics   MetricsSink // optional
	clock     func() time.Time
	logger    *zap.Logger
	tracer    trace.Tracer

	running atomic.Bool
	wg      sync.WaitGroup
}

func New(cfg Config, proc Processor, leases Leases, state *State) *Runner {
	if state == nil {
		state = NewState(DefaultHistorySize)
	}
	return &Runner{
		config:    cfg.withDefaults(),
		processor: proc,
		leases:    leases,
		state:     state,
		clock:     time.Now,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer("automation/scheduler"),
	}
}

// WithRecorder attaches the tick history recorder.
func (r *Runner) WithRecorder(rec Recorder) *Runner {
	r.recorder = rec
	return r
}

// WithMetrics attaches a metrics sink to the runner.
func (r *Runner) WithMetrics(sink MetricsSink) *Runner {
	r.metrics = sink
	return r
}

func (r *Runner) WithClock(clock func() time.Time) *Runner {
	r.clock = clock
	return r
}

func (r *Runner) WithLogger(l *zap.Logger) *Runner {
	r.logger = l
	return r
}

func (r *Runner) State() *State { return r.state }

func (r *Runner) Config() Config { return r.config }

// Run ticks on the configured interval until ctx is done, then waits for the
// in-flight tick, lease release included, before returning.
func (r *Runner) Run(ctx context.Context) error {
	if r.config.TickInterval <= 0 {
		return errors.Newf("scheduler: tick interval must be positive, got %s", r.config.TickInterval)
	}
	// Ticks outlive ctx so shutdown never interrupts a claimed job.
	tickCtx := context.WithoutCancel(ctx)

	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{r.logger.Sugar()}),
	)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", r.config.TickInterval), func() {
		r.Tick(tickCtx, domain.TickReasonInterval)
	}); err != nil {
		return errors.Wrap(err, "scheduler: register tick")
	}

	r.logger.Info("scheduler: started",
		zap.Duration("tick", r.config.TickInterval),
		zap.Duration("lease", r.config.LeaseDuration),
		zap.Int("batch_limit", r.config.BatchLimit))

	if r.config.RunOnStartup {
		r.Tick(tickCtx, domain.TickReasonStartup)
	}
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	r.Wait()
	r.logger.Info("scheduler: stopped")
	return nil
}

// Wait blocks until no tick is in flight.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Tick runs one tick and returns its recorded outcome. It never fails: every
// problem is reported through the outcome.
func (r *Runner) Tick(ctx context.Context, reason domain.TickReason) domain.TickEvent {
	start := r.clock().UTC()
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Debug("scheduler: tick already in flight, skipping", zap.String("reason", string(reason)))
		return r.record(ctx, domain.TickEvent{Reason: reason, Outcome: domain.TickSkippedOverlap}, start)
	}
	r.wg.Add(1)
	defer r.wg.Done()
	defer r.running.Store(false)

	r.state.setInFlight(true, start)
	defer r.state.setInFlight(false, time.Time{})

	ctx, span := r.tracer.Start(ctx, "scheduler.Tick", trace.WithAttributes(attribute.String("reason", string(reason))))
	defer span.End()

	ev := r.leasedTick(ctx, start)
	ev.Reason = reason
	span.SetAttributes(attribute.String("outcome", string(ev.Outcome)), attribute.Int("processed", ev.Processed))
	return r.record(ctx, ev, start)
}

func (r *Runner) leasedTick(ctx context.Context, now time.Time) domain.TickEvent {
	l, ok, err := r.leases.Acquire(ctx, r.config.LeaseName, r.config.LeaseDuration)
	if err != nil {
		return domain.TickEvent{Outcome: domain.TickError, Error: err.Error()}
	}
	if !ok {
		return domain.TickEvent{Outcome: domain.TickContention}
	}
	defer r.release(ctx, l)

	res, err := r.processDue(ctx, now)
	if err != nil {
		return domain.TickEvent{Outcome: domain.TickError, Error: err.Error(), Processed: res.Processed, RemainingDue: res.RemainingDue}
	}
	outcome := domain.TickIdle
	if res.Processed > 0 {
		outcome = domain.TickProcessed
	}
	return domain.TickEvent{Outcome: outcome, Processed: res.Processed, RemainingDue: res.RemainingDue}
}

func (r *Runner) processDue(ctx context.Context, now time.Time) (res processor.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errors.Newf("processor panicked: %v", p)
		}
	}()
	return r.processor.ProcessDue(ctx, now, r.config.BatchLimit)
}

func (r *Runner) release(ctx context.Context, l lease.Lease) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.ReleaseTimeout)
	defer cancel()
	if err := r.leases.Release(ctx, l); err != nil {
		r.logger.Error("scheduler: release lease", zap.String("lease", l.Name), zap.Error(err))
	}
}

func (r *Runner) record(ctx context.Context, ev domain.TickEvent, start time.Time) domain.TickEvent {
	ev.ID = uuid.New()
	ev.CreatedAt = start
	ev.Duration = r.clock().UTC().Sub(start)
	r.state.Record(ev)

	if r.metrics != nil {
		r.metrics.TickCompleted(string(ev.Outcome), ev.Duration)
	}
	if r.recorder != nil {
		if err := r.recorder.RecordTick(context.WithoutCancel(ctx), ev); err != nil {
			r.logger.Error("scheduler: persist tick", zap.String("outcome", string(ev.Outcome)), zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.String("reason", string(ev.Reason)),
		zap.String("outcome", string(ev.Outcome)),
		zap.Duration("duration", ev.Duration),
		zap.Int("processed", ev.Processed),
		zap.Int("remaining_due", ev.RemainingDue),
	}
	switch ev.Outcome {
	case domain.TickError:
		r.logger.Error("scheduler: tick failed", append(fields, zap.String("error", ev.Error))...)
	case domain.TickProcessed:
		r.logger.Info("scheduler: tick", fields...)
	default:
		r.logger.Debug("scheduler: tick", fields...)
	}
	return ev
}

// cronLogger routes robfig/cron's logging to zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw("scheduler: cron "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw("scheduler: cron "+msg, append(keysAndValues, "error", err)...)
}
