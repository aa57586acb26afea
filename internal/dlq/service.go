// Package dlq implements operator recovery of dead-lettered jobs.
//
// Every operation is scoped to the caller's owner id and moves the job with a
// compare-and-swap on its version. A state change writes exactly one audit
// event; repeating an operation that already took effect reports the
// matching "already" flag instead.
package dlq

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/cadence"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

// MaxBulkSize bounds the ids accepted by one bulk request.
const MaxBulkSize = 100

const writeAttempts = 3

type Store interface {
	GetJob(ctx context.Context, ownerID, jobID uuid.UUID) (domain.ScheduledJob, error)
	ListJobs(ctx context.Context, ownerID uuid.UUID, f domain.JobFilter) ([]domain.ScheduledJob, error)
	// SwapJobWithDlqEvent writes job and records ev atomically, or writes
	// neither when the version moved on.
	SwapJobWithDlqEvent(ctx context.Context, job domain.ScheduledJob, expectedVersion int64, ev domain.DlqEvent) (bool, error)
	LatestDlqEvent(ctx context.Context, jobID uuid.UUID) (domain.DlqEvent, bool, error)
	ListDlqEvents(ctx context.Context, ownerID, jobID uuid.UUID, limit int) ([]domain.DlqEvent, error)
}

// Runner executes a job the caller has already claimed.
type Runner interface {
	ExecuteClaimed(ctx context.Context, job domain.ScheduledJob, trigger domain.RunTrigger) (domain.JobRun, domain.ScheduledJob, error)
}

type Service struct {
	store  Store
	runner Runner
	clock  func() time.Time
	logger *zap.Logger
}

func New(store Store, runner Runner) *Service {
	return &Service{
		store:  store,
		runner: runner,
		clock:  time.Now,
		logger: zap.NewNop(),
	}
}

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func (s *Service) WithLogger(l *zap.Logger) *Service {
	s.logger = l
	return s
}

// Entry is a dead-lettered job with its recovery history, newest first.
type Entry struct {
	Job    domain.ScheduledJob
	Events []domain.DlqEvent
}

type AckResult struct {
	Job                 domain.ScheduledJob
	AlreadyAcknowledged bool
}

type RequeueResult struct {
	Job             domain.ScheduledJob
	AlreadyRequeued bool
}

type RetryResult struct {
	Job            domain.ScheduledJob
	Run            *domain.JobRun
	AlreadyRetried bool
}

// List returns the caller's dead-lettered jobs.
func (s *Service) List(ctx context.Context, ownerID uuid.UUID, f domain.JobFilter) ([]domain.ScheduledJob, error) {
	f.Status = domain.JobStatusDeadLetter
	jobs, err := s.store.ListJobs(ctx, ownerID, f)
	if err != nil {
		return nil, errors.Wrap(err, "list dead-letter jobs")
	}
	return jobs, nil
}

// Get returns one dead-lettered job. Jobs outside the queue are not found.
func (s *Service) Get(ctx context.Context, ownerID, jobID uuid.UUID) (Entry, error) {
	job, err := s.store.GetJob(ctx, ownerID, jobID)
	if err != nil {
		return Entry{}, err
	}
	if job.Status != domain.JobStatusDeadLetter {
		return Entry{}, errors.Wrapf(domain.ErrNotFound, "job %s is not dead-lettered", jobID)
	}
	events, err := s.store.ListDlqEvents(ctx, ownerID, jobID, 50)
	if err != nil {
		return Entry{}, errors.Wrapf(err, "list dlq events for %s", jobID)
	}
	return Entry{Job: job, Events: events}, nil
}

// Ack marks a dead-lettered job as seen by an operator.
func (s *Service) Ack(ctx context.Context, ownerID, jobID uuid.UUID, note string) (AckResult, error) {
	for i := 0; i < writeAttempts; i++ {
		job, err := s.store.GetJob(ctx, ownerID, jobID)
		if err != nil {
			return AckResult{}, err
		}
		if job.Status != domain.JobStatusDeadLetter {
			return AckResult{}, invalidStatus(job)
		}
		if job.DeadLetterAcknowledgedAt != nil {
			return AckResult{Job: job, AlreadyAcknowledged: true}, nil
		}

		now := s.clock().UTC()
		next := job
		next.DeadLetterAcknowledgedAt = domain.TimePtr(now)
		next.UpdatedAt = now
		ok, err := s.apply(ctx, &next, job.Version, domain.DlqAcknowledged, note, now)
		if err != nil {
			return AckResult{}, err
		}
		if !ok {
			continue
		}
		return AckResult{Job: next}, nil
	}
	return AckResult{}, errors.Wrapf(domain.ErrConflict, "ack job %s", jobID)
}

// Requeue returns a dead-lettered job to the schedule with healthy counters.
// The next run is the first occurrence at or after from, or after now when
// from is nil.
func (s *Service) Requeue(ctx context.Context, ownerID, jobID uuid.UUID, from *time.Time, note string) (RequeueResult, error) {
	for i := 0; i < writeAttempts; i++ {
		job, err := s.store.GetJob(ctx, ownerID, jobID)
		if err != nil {
			return RequeueResult{}, err
		}
		if job.Status != domain.JobStatusDeadLetter {
			already, err := s.lastActionWas(ctx, job, domain.DlqRequeued)
			if err != nil {
				return RequeueResult{}, err
			}
			if already {
				return RequeueResult{Job: job, AlreadyRequeued: true}, nil
			}
			return RequeueResult{}, invalidStatus(job)
		}

		spec, err := cadence.New(job.Schedule)
		if err != nil {
			return RequeueResult{}, errors.Wrapf(err, "job %s schedule", jobID)
		}
		now := s.clock().UTC()
		ref := now
		if from != nil {
			ref = from.UTC()
		}

		next := job
		next.Status = domain.JobStatusActive
		next.ConsecutiveFailures = 0
		next.LastError = ""
		next.DeadLetteredAt = nil
		next.DeadLetterAcknowledgedAt = nil
		next.ClaimedAt = nil
		next.ClearRetry()
		next.NextRunAt = domain.TimePtr(spec.NextAtOrAfter(ref))
		next.UpdatedAt = now
		ok, err := s.apply(ctx, &next, job.Version, domain.DlqRequeued, note, now)
		if err != nil {
			return RequeueResult{}, err
		}
		if !ok {
			continue
		}
		s.logger.Info("dlq: job requeued",
			zap.String("job_id", jobID.String()), zap.Timep("next_run_at", next.NextRunAt))
		return RequeueResult{Job: next}, nil
	}
	return RequeueResult{}, errors.Wrapf(domain.ErrConflict, "requeue job %s", jobID)
}

// RetryNow claims a dead-lettered job and executes it once. A success puts
// the job back on its schedule; a failure dead-letters it again.
func (s *Service) RetryNow(ctx context.Context, ownerID, jobID uuid.UUID, note string) (RetryResult, error) {
	for i := 0; i < writeAttempts; i++ {
		job, err := s.store.GetJob(ctx, ownerID, jobID)
		if err != nil {
			return RetryResult{}, err
		}
		if job.Status != domain.JobStatusDeadLetter {
			already, err := s.lastActionWas(ctx, job, domain.DlqRetried)
			if err != nil {
				return RetryResult{}, err
			}
			if already {
				return RetryResult{Job: job, AlreadyRetried: true}, nil
			}
			return RetryResult{}, invalidStatus(job)
		}

		now := s.clock().UTC()
		claimed := job
		claimed.Status = domain.JobStatusActive
		claimed.DeadLetteredAt = nil
		claimed.DeadLetterAcknowledgedAt = nil
		claimed.NextRunAt = nil
		claimed.ClaimedAt = domain.TimePtr(now)
		claimed.UpdatedAt = now
		// The manual attempt is the last one allowed: a failure dead-letters
		// again with exactly MaxAttempts consecutive failures.
		if claimed.Retry.MaxAttempts > 0 && claimed.ConsecutiveFailures >= claimed.Retry.MaxAttempts {
			claimed.ConsecutiveFailures = claimed.Retry.MaxAttempts - 1
		}
		ok, err := s.apply(ctx, &claimed, job.Version, domain.DlqRetried, note, now)
		if err != nil {
			return RetryResult{}, err
		}
		if !ok {
			continue
		}

		run, updated, err := s.runner.ExecuteClaimed(ctx, claimed, domain.TriggerManual)
		if err != nil {
			return RetryResult{}, errors.Wrapf(err, "retry job %s", jobID)
		}
		s.logger.Info("dlq: job retried",
			zap.String("job_id", jobID.String()),
			zap.String("run_status", string(run.Status)),
			zap.String("job_status", string(updated.Status)))
		return RetryResult{Job: updated, Run: &run}, nil
	}
	return RetryResult{}, errors.Wrapf(domain.ErrConflict, "retry job %s", jobID)
}

// apply moves the job to next and records the action's audit event in one
// store write. On success next carries the bumped version.
func (s *Service) apply(ctx context.Context, next *domain.ScheduledJob, expected int64, action domain.DlqAction, note string, at time.Time) (bool, error) {
	ev := domain.DlqEvent{
		ID:        uuid.New(),
		OwnerID:   next.OwnerID,
		JobID:     next.ID,
		ProjectID: next.ProjectID,
		Action:    action,
		Note:      note,
		CreatedAt: at,
	}
	ok, err := s.store.SwapJobWithDlqEvent(ctx, *next, expected, ev)
	if err != nil {
		return false, errors.Wrapf(err, "record %s for job %s", action, next.ID)
	}
	if ok {
		next.Version = expected + 1
	}
	return ok, nil
}

// lastActionWas reports whether the job's most recent recovery action was
// action, which makes a repeated call a no-op.
func (s *Service) lastActionWas(ctx context.Context, job domain.ScheduledJob, action domain.DlqAction) (bool, error) {
	ev, ok, err := s.store.LatestDlqEvent(ctx, job.ID)
	if err != nil {
		return false, errors.Wrapf(err, "latest dlq event for %s", job.ID)
	}
	if !ok || ev.Action != action {
		return false, nil
	}
	if job.DeadLetteredAt != nil && job.DeadLetteredAt.After(ev.CreatedAt) {
		return false, nil
	}
	return true, nil
}

func invalidStatus(job domain.ScheduledJob) error {
	return errors.Wrapf(domain.ErrInvalidStatus, "job %s is %s", job.ID, job.Status)
}
