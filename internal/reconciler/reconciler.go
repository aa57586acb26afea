// Package reconciler recovers jobs whose claim was never released.
//
// A processor claims a job by clearing its next run (or retry) instant and
// stamping ClaimedAt. If the process dies while executing, the job stays
// claimed and never becomes due again. The reconciler periodically looks for
// claims older than a threshold and puts the schedule back: a retry claim is
// re-armed at now, a scheduled claim moves to the first occurrence after the
// claim. The interrupted occurrence is not replayed.
package reconciler

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/cadence"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

// Store defines the persistence the reconciler needs.
type Store interface {
	ListStaleClaims(ctx context.Context, olderThan time.Time, limit int) ([]domain.ScheduledJob, error)
	CompareAndSwapJob(ctx context.Context, job domain.ScheduledJob, expectedVersion int64) (bool, error)
}

// MetricsSink defines the interface for recording reconciler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	StaleClaimsRecovered(n int)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	// Default: 5 minutes.
	Interval time.Duration

	// Threshold is the claim age after which a job counts as stuck. It must
	// exceed the longest job execution.
	// Default: 30 minutes.
	Threshold time.Duration

	// BatchSize is the maximum number of jobs recovered per cycle.
	// Default: 100.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: 30 * time.Minute,
		BatchSize: 100,
	}
}

// Reconciler detects stuck claims and restores their schedule.
type Reconciler struct {
	config  Config
	store   Store
	clock   func() time.Time
	logger  *zap.Logger
	metrics MetricsSink
}

// New creates a new Reconciler.
func New(config Config, store Store) *Reconciler {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Threshold <= 0 {
		config.Threshold = def.Threshold
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	return &Reconciler{
		config: config,
		store:  store,
		clock:  time.Now,
		logger: zap.NewNop(),
	}
}

func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

func (r *Reconciler) WithLogger(l *zap.Logger) *Reconciler {
	r.logger = l
	return r
}

// WithMetrics attaches a metrics sink to the reconciler.
func (r *Reconciler) WithMetrics(sink MetricsSink) *Reconciler {
	r.metrics = sink
	return r
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info("reconciler: started",
		zap.Duration("interval", r.config.Interval),
		zap.Duration("threshold", r.config.Threshold),
		zap.Int("batch", r.config.BatchSize))

	// Run immediately on startup, then on ticker
	r.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler: stopped")
			return
		case <-ticker.C:
			r.RunCycle(ctx)
		}
	}
}

// RunCycle executes one reconciliation cycle and returns how many jobs were
// recovered.
func (r *Reconciler) RunCycle(ctx context.Context) int {
	now := r.clock().UTC()

	stale, err := r.store.ListStaleClaims(ctx, now.Add(-r.config.Threshold), r.config.BatchSize)
	if err != nil {
		// Store error: log and abort cycle. Will retry next interval.
		r.logger.Warn("reconciler: failed to list stale claims", zap.Error(err))
		return 0
	}
	if len(stale) == 0 {
		return 0
	}

	recovered := 0
	for _, job := range stale {
		if ctx.Err() != nil {
			break
		}
		ok, err := r.recover(ctx, job, now)
		if err != nil {
			r.logger.Warn("reconciler: failed to recover job",
				zap.String("job_id", job.ID.String()), zap.Error(err))
			continue
		}
		if ok {
			recovered++
			r.logger.Info("reconciler: recovered stale claim",
				zap.String("job_id", job.ID.String()),
				zap.Timep("claimed_at", job.ClaimedAt),
				zap.Duration("age", now.Sub(*job.ClaimedAt).Round(time.Second)))
		}
	}

	if r.metrics != nil && recovered > 0 {
		r.metrics.StaleClaimsRecovered(recovered)
	}
	r.logger.Info("reconciler: cycle complete",
		zap.Int("stale", len(stale)), zap.Int("recovered", recovered))
	return recovered
}

// recover releases one claim. A lost version race means the claim holder
// finished after all; the job is left alone.
func (r *Reconciler) recover(ctx context.Context, job domain.ScheduledJob, now time.Time) (bool, error) {
	if job.ClaimedAt == nil {
		return false, nil
	}
	next := job
	next.ClaimedAt = nil
	next.UpdatedAt = now

	if next.Status == domain.JobStatusActive {
		switch {
		case next.RetryAttempt > 0:
			next.NextRetryAt = domain.TimePtr(now)
		case next.NextRunAt == nil:
			spec, err := cadence.New(next.Schedule)
			if err != nil {
				return false, errors.Wrapf(err, "job %s schedule", job.ID)
			}
			next.NextRunAt = domain.TimePtr(spec.NextAfter(*job.ClaimedAt))
		}
	}

	ok, err := r.store.CompareAndSwapJob(ctx, next, job.Version)
	if err != nil {
		return false, errors.Wrapf(err, "release claim on job %s", job.ID)
	}
	return ok, nil
}
