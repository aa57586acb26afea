// Package processor claims due jobs, executes them and applies the retry and
// dead-letter lifecycle to the outcome.
//
// A job is claimed with a compare-and-swap on its version, so when several
// processes look at the same due job only one of them runs it. Manual
// triggers skip the claim and go straight to execution.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/cadence"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

// DefaultBatchLimit bounds the runs of one ProcessDue call when the caller
// passes no limit.
const DefaultBatchLimit = 25

// writeAttempts bounds how often an outcome write is retried after losing a
// version race to a concurrent edit.
const writeAttempts = 3

type Store interface {
	ListDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledJob, error)
	CountDueJobs(ctx context.Context, now time.Time) (int, error)
	GetJobByID(ctx context.Context, jobID uuid.UUID) (domain.ScheduledJob, error)
	// CompareAndSwapJob persists job only if the stored version equals
	// expectedVersion and bumps the version.
	CompareAndSwapJob(ctx context.Context, job domain.ScheduledJob, expectedVersion int64) (bool, error)
	InsertRun(ctx context.Context, run domain.JobRun) error
}

// Executor performs the work of a job kind and returns a summary.
type Executor interface {
	Execute(ctx context.Context, kind domain.JobKind, cfg domain.JobConfig, project domain.ProjectContext) (string, error)
}

// FailureObserver is told about every failed run.
type FailureObserver interface {
	OnRunFailed(ctx context.Context, job domain.ScheduledJob, run domain.JobRun, deadLettered bool)
}

// EventPublisher receives run events. Publish must not block.
type EventPublisher interface {
	Publish(event domain.RunEvent)
}

// MetricsSink defines the interface for recording processor metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	RunCompleted(trigger, status string, duration time.Duration)
	RetryScheduled(attempt int)
	JobDeadLettered()
	DueBacklog(n int)
}

type Config struct {
	// ExecutionTimeout bounds a single job-kind execution. Zero disables it.
	ExecutionTimeout time.Duration
}

// Result is returned by ProcessDue.
type Result struct {
	Processed    int
	RemainingDue int
	Runs         []domain.JobRun
}

type Processor struct {
	config   Config
	store    Store
	executor Executor
	observer FailureObserver // optional
	events   EventPublisher  // optional
	metrics  MetricsSink     // optional
	clock    func() time.Time
	logger   *zap.Logger
	tracer   trace.Tracer
}

func New(store Store, executor Executor) *Processor {
	return &Processor{
		store:    store,
		executor: executor,
		clock:    time.Now,
		logger:   zap.NewNop(),
		tracer:   otel.Tracer("automation/processor"),
	}
}

func (p *Processor) WithConfig(cfg Config) *Processor {
	p.config = cfg
	return p
}

func (p *Processor) WithClock(clock func() time.Time) *Processor {
	p.clock = clock
	return p
}

func (p *Processor) WithLogger(l *zap.Logger) *Processor {
	p.logger = l
	return p
}

// WithObserver attaches the failure alert evaluator.
func (p *Processor) WithObserver(o FailureObserver) *Processor {
	p.observer = o
	return p
}

// WithEvents attaches a run-event publisher.
func (p *Processor) WithEvents(e EventPublisher) *Processor {
	p.events = e
	return p
}

// WithMetrics attaches a metrics sink to the processor.
func (p *Processor) WithMetrics(sink MetricsSink) *Processor {
	p.metrics = sink
	return p
}

// ProcessDue runs every job due at now, up to limit runs in total.
func (p *Processor) ProcessDue(ctx context.Context, now time.Time, limit int) (Result, error) {
	ctx, span := p.tracer.Start(ctx, "processor.ProcessDue")
	defer span.End()

	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	now = now.UTC()
	span.SetAttributes(attribute.Int("limit", limit))

	jobs, err := p.store.ListDueJobs(ctx, now, limit)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, errors.Wrap(err, "list due jobs")
	}

	var res Result
	budget := limit
	for _, job := range jobs {
		if budget <= 0 || ctx.Err() != nil {
			break
		}
		runs, err := p.processJob(ctx, job, now, budget)
		res.Runs = append(res.Runs, runs...)
		budget -= len(runs)
		if err != nil {
			p.logger.Error("processor: job processing failed",
				zap.String("job_id", job.ID.String()), zap.Error(err))
		}
	}
	res.Processed = len(res.Runs)

	remaining, err := p.store.CountDueJobs(ctx, now)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return res, errors.Wrap(err, "count due jobs")
	}
	res.RemainingDue = remaining
	if p.metrics != nil {
		p.metrics.DueBacklog(remaining)
	}
	span.SetAttributes(attribute.Int("processed", res.Processed), attribute.Int("remaining_due", remaining))
	return res, nil
}

func (p *Processor) processJob(ctx context.Context, job domain.ScheduledJob, now time.Time, budget int) ([]domain.JobRun, error) {
	if job.NextRetryAt != nil && !job.NextRetryAt.After(now) {
		return p.processRetry(ctx, job, now)
	}
	if job.NextRunAt == nil {
		return nil, nil
	}
	return p.processScheduled(ctx, job, now, budget)
}

func (p *Processor) processRetry(ctx context.Context, job domain.ScheduledJob, now time.Time) ([]domain.JobRun, error) {
	claimed := job
	claimed.NextRetryAt = nil
	claimed.ClaimedAt = domain.TimePtr(p.clock())
	if ok, err := p.claim(ctx, &claimed, job.Version); err != nil || !ok {
		return nil, err
	}

	attempt := claimed.RetryAttempt
	if attempt < 1 {
		attempt = claimed.ConsecutiveFailures + 1
	}
	run, err := p.runOnce(ctx, &claimed, domain.TriggerRetry, attempt, copyTime(claimed.RetryScheduledFor), now, false)
	return []domain.JobRun{run}, err
}

func (p *Processor) processScheduled(ctx context.Context, job domain.ScheduledJob, now time.Time, budget int) ([]domain.JobRun, error) {
	spec, err := cadence.New(job.Schedule)
	if err != nil {
		return nil, errors.Wrapf(err, "job %s schedule", job.ID)
	}
	plan := cadence.PlanCatchUp(spec, job.Schedule.CatchUp, *job.NextRunAt, now, budget)
	if len(plan.Occurrences) == 0 {
		return nil, nil
	}

	claimed := job
	claimed.NextRunAt = nil
	claimed.ClaimedAt = domain.TimePtr(p.clock())
	if ok, err := p.claim(ctx, &claimed, job.Version); err != nil || !ok {
		return nil, err
	}

	var runs []domain.JobRun
	for i, occ := range plan.Occurrences {
		occ := occ
		more := i < len(plan.Occurrences)-1
		run, err := p.runOnce(ctx, &claimed, domain.TriggerScheduled, claimed.ConsecutiveFailures+1, &occ, now, more)
		runs = append(runs, run)
		if err != nil {
			return runs, err
		}
		// A failure hands the job to the retry cursor; remaining replays
		// resume after the retry succeeds.
		if run.Status != domain.RunStatusSuccess || claimed.Status != domain.JobStatusActive || ctx.Err() != nil {
			break
		}
	}
	if claimed.ClaimedAt != nil && claimed.Status == domain.JobStatusActive && claimed.NextRetryAt == nil {
		// Interrupted between replays: put the next pending occurrence back.
		pending := cadence.Advance(spec, *runs[len(runs)-1].ScheduledFor, now)
		if err := p.persist(ctx, &claimed, func(j *domain.ScheduledJob) {
			j.ClaimedAt = nil
			j.NextRunAt = domain.TimePtr(pending)
		}); err != nil {
			return runs, err
		}
	}
	return runs, nil
}

// claim writes the claimed copy of a job. ok is false when another process
// got there first.
func (p *Processor) claim(ctx context.Context, claimed *domain.ScheduledJob, expected int64) (bool, error) {
	claimed.UpdatedAt = p.clock().UTC()
	ok, err := p.store.CompareAndSwapJob(ctx, *claimed, expected)
	if err != nil {
		return false, errors.Wrapf(err, "claim job %s", claimed.ID)
	}
	if !ok {
		p.logger.Debug("processor: claim lost", zap.String("job_id", claimed.ID.String()))
		return false, nil
	}
	claimed.Version = expected + 1
	return true, nil
}

// TriggerNow executes job immediately without claiming it.
func (p *Processor) TriggerNow(ctx context.Context, job domain.ScheduledJob) (domain.JobRun, domain.ScheduledJob, error) {
	if job.Status != domain.JobStatusActive {
		return domain.JobRun{}, job, errors.Wrapf(domain.ErrInvalidStatus, "job %s is %s", job.ID, job.Status)
	}
	now := p.clock().UTC()
	run, err := p.runOnce(ctx, &job, domain.TriggerManual, job.ConsecutiveFailures+1, copyTime(job.RetryScheduledFor), now, false)
	return run, job, err
}

// ExecuteClaimed runs a job the caller has already claimed, such as a
// dead-letter retry. job must carry its current version.
func (p *Processor) ExecuteClaimed(ctx context.Context, job domain.ScheduledJob, trigger domain.RunTrigger) (domain.JobRun, domain.ScheduledJob, error) {
	now := p.clock().UTC()
	run, err := p.runOnce(ctx, &job, trigger, job.ConsecutiveFailures+1, nil, now, false)
	return run, job, err
}

// runOnce executes one attempt and records its outcome. When hold is true a
// success keeps the claim because more occurrences follow.
func (p *Processor) runOnce(ctx context.Context, job *domain.ScheduledJob, trigger domain.RunTrigger, attempt int, scheduledFor *time.Time, now time.Time, hold bool) (domain.JobRun, error) {
	ctx, span := p.tracer.Start(ctx, "processor.run", trace.WithAttributes(
		attribute.String("job.id", job.ID.String()),
		attribute.String("job.kind", string(job.Kind)),
		attribute.String("trigger", string(trigger)),
		attribute.Int("attempt", attempt),
	))
	defer span.End()

	jobID := job.ID
	run := domain.JobRun{
		ID:           uuid.New(),
		JobID:        &jobID,
		OwnerID:      job.OwnerID,
		ProjectID:    job.ProjectID,
		Kind:         job.Kind,
		Trigger:      trigger,
		Attempt:      attempt,
		ScheduledFor: scheduledFor,
		StartedAt:    p.clock().UTC(),
	}
	output, execErr := p.execute(ctx, *job)
	run.FinishedAt = p.clock().UTC()
	if execErr != nil {
		run.Status = domain.RunStatusFailed
		run.Error = execErr.Error()
		span.SetStatus(codes.Error, run.Error)
	} else {
		run.Status = domain.RunStatusSuccess
		run.Output = output
	}

	apply := func(j *domain.ScheduledJob) {
		p.applyOutcome(j, &run, now, hold)
	}
	if err := p.persist(ctx, job, apply); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return run, err
		}
		p.logger.Warn("processor: job deleted during run", zap.String("job_id", job.ID.String()))
		run.JobID = nil
	}
	if err := p.store.InsertRun(ctx, run); err != nil {
		return run, errors.Wrapf(err, "insert run for job %s", job.ID)
	}

	deadLettered := job.Status == domain.JobStatusDeadLetter
	p.report(ctx, *job, run, deadLettered)
	return run, nil
}

// execute calls the job-kind executor. Panics become failures.
func (p *Processor) execute(ctx context.Context, job domain.ScheduledJob) (output string, err error) {
	if p.config.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.ExecutionTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job kind %s panicked: %v", job.Kind, r)
		}
	}()
	return p.executor.Execute(ctx, job.Kind, job.Config, job.Project())
}

// applyOutcome moves a job to the state that follows run.
func (p *Processor) applyOutcome(job *domain.ScheduledJob, run *domain.JobRun, now time.Time, hold bool) {
	job.LastRunAt = domain.TimePtr(run.FinishedAt)
	job.UpdatedAt = run.FinishedAt

	if run.Status == domain.RunStatusSuccess {
		retriedFor := copyTime(job.RetryScheduledFor)
		job.ConsecutiveFailures = 0
		job.LastError = ""
		job.ClearRetry()
		if hold {
			job.NextRunAt = nil
			job.ClaimedAt = domain.TimePtr(run.FinishedAt)
			return
		}
		job.ClaimedAt = nil
		from := run.ScheduledFor
		if from == nil {
			from = retriedFor
		}
		job.NextRunAt = p.nextAfterSuccess(*job, from, now)
		return
	}

	job.ConsecutiveFailures++
	job.LastError = run.Error
	job.ClaimedAt = nil
	job.NextRunAt = nil
	if job.ConsecutiveFailures >= job.Retry.MaxAttempts {
		job.Status = domain.JobStatusDeadLetter
		job.DeadLetteredAt = domain.TimePtr(now)
		job.DeadLetterAcknowledgedAt = nil
		job.ClearRetry()
		run.NextRetryAt = nil
		return
	}
	scheduledFor := run.ScheduledFor
	if scheduledFor == nil {
		scheduledFor = job.RetryScheduledFor
	}
	delay := BackoffFor(job.Retry).Delay(run.Attempt)
	job.RetryAttempt = run.Attempt + 1
	job.NextRetryAt = domain.TimePtr(now.Add(delay))
	job.RetryScheduledFor = copyTime(scheduledFor)
	run.NextRetryAt = copyTime(job.NextRetryAt)
}

// nextAfterSuccess computes next_run_at once an occurrence (or a manual run)
// completed.
func (p *Processor) nextAfterSuccess(job domain.ScheduledJob, occurrence *time.Time, now time.Time) *time.Time {
	spec, err := cadence.New(job.Schedule)
	if err != nil {
		p.logger.Error("processor: cannot compute next run", zap.String("job_id", job.ID.String()), zap.Error(err))
		return nil
	}
	if occurrence != nil {
		return domain.TimePtr(cadence.Advance(spec, *occurrence, now))
	}
	if job.NextRunAt != nil {
		return job.NextRunAt
	}
	return domain.TimePtr(spec.NextAtOrAfter(now))
}

// persist writes the job with apply already applied. On a lost version race
// it reloads the job and applies the outcome to the fresh copy.
func (p *Processor) persist(ctx context.Context, job *domain.ScheduledJob, apply func(*domain.ScheduledJob)) error {
	next := *job
	apply(&next)
	for i := 0; i < writeAttempts; i++ {
		ok, err := p.store.CompareAndSwapJob(ctx, next, job.Version)
		if err != nil {
			return errors.Wrapf(err, "update job %s", job.ID)
		}
		if ok {
			next.Version = job.Version + 1
			*job = next
			return nil
		}
		fresh, err := p.store.GetJobByID(ctx, job.ID)
		if err != nil {
			return errors.Wrapf(err, "reload job %s", job.ID)
		}
		p.logger.Debug("processor: job changed during run, reapplying outcome", zap.String("job_id", job.ID.String()))
		*job = fresh
		next = fresh
		apply(&next)
	}
	return errors.Wrapf(domain.ErrConflict, "update job %s", job.ID)
}

func (p *Processor) report(ctx context.Context, job domain.ScheduledJob, run domain.JobRun, deadLettered bool) {
	fields := []zap.Field{
		zap.String("job_id", job.ID.String()),
		zap.String("run_id", run.ID.String()),
		zap.String("trigger", string(run.Trigger)),
		zap.Int("attempt", run.Attempt),
		zap.Duration("duration", run.Duration()),
	}
	switch {
	case run.Status == domain.RunStatusSuccess:
		p.logger.Info("processor: run succeeded", fields...)
	case deadLettered:
		p.logger.Warn("processor: job dead-lettered", append(fields, zap.String("error", run.Error))...)
	default:
		p.logger.Warn("processor: run failed, retry scheduled",
			append(fields, zap.String("error", run.Error), zap.Timep("next_retry_at", run.NextRetryAt))...)
	}

	if p.metrics != nil {
		p.metrics.RunCompleted(string(run.Trigger), string(run.Status), run.Duration())
		if deadLettered {
			p.metrics.JobDeadLettered()
		} else if run.NextRetryAt != nil {
			p.metrics.RetryScheduled(run.Attempt + 1)
		}
	}
	if p.events != nil {
		p.events.Publish(domain.RunEvent{
			RunID:        run.ID,
			JobID:        job.ID,
			OwnerID:      job.OwnerID,
			ProjectID:    job.ProjectID,
			Kind:         job.Kind,
			Trigger:      run.Trigger,
			Status:       run.Status,
			Attempt:      run.Attempt,
			DeadLettered: deadLettered,
			FinishedAt:   run.FinishedAt,
			Duration:     run.Duration(),
		})
	}
	if run.Status == domain.RunStatusFailed && p.observer != nil {
		p.observer.OnRunFailed(ctx, job, run, deadLettered)
	}
}

// Reschedule recomputes next_run_at from the instant from. Jobs waiting on a
// retry, claimed or dead-lettered keep their state.
func Reschedule(job *domain.ScheduledJob, from time.Time) error {
	if job.Status != domain.JobStatusActive || job.InRetry() || job.ClaimedAt != nil {
		return nil
	}
	spec, err := cadence.New(job.Schedule)
	if err != nil {
		return err
	}
	job.NextRunAt = domain.TimePtr(spec.NextAtOrAfter(from))
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
