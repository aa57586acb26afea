package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

// CreateJob inserts a new job. A repeated id is a conflict.
func (s *Store) CreateJob(ctx context.Context, job domain.ScheduledJob) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if job.Version == 0 {
		job.Version = 1
	}
	cfg, err := domain.EncodeJobConfig(job.Config)
	if err != nil {
		return errors.Wrap(err, "postgres: encode job config")
	}

	_, err = s.db.ExecContext(ctx, queryInsertJob,
		job.ID,
		job.OwnerID,
		job.ProjectID,
		job.Name,
		string(job.Kind),
		string(job.Schedule.Cadence),
		int(job.Schedule.DayOfWeek),
		job.Schedule.Hour,
		job.Schedule.Minute,
		job.Schedule.Timezone,
		string(job.Schedule.CatchUp),
		string(job.Schedule.DSTInvalid),
		string(job.Schedule.DSTAmbiguous),
		[]byte(cfg),
		job.Retry.MaxAttempts,
		job.Retry.BackoffSeconds,
		job.Retry.MaxBackoffSeconds,
		string(job.Status),
		job.Enabled,
		nullTime(job.NextRunAt),
		job.ConsecutiveFailures,
		job.LastError,
		nullTime(job.LastRunAt),
		nullTime(job.DeadLetteredAt),
		nullTime(job.DeadLetterAcknowledgedAt),
		job.RetryAttempt,
		nullTime(job.NextRetryAt),
		nullTime(job.RetryScheduledFor),
		nullTime(job.ClaimedAt),
		job.Version,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return domain.ErrConflict
		}
		return errors.Wrap(err, "postgres: create job")
	}
	return nil
}

// GetJob returns an owner's job. A foreign job is reported as not found.
func (s *Store) GetJob(ctx context.Context, ownerID, jobID uuid.UUID) (domain.ScheduledJob, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	job, err := scanJob(s.db.QueryRowContext(ctx, queryGetJob, jobID, ownerID))
	if isNoRows(err) {
		return domain.ScheduledJob{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ScheduledJob{}, errors.Wrap(err, "postgres: get job")
	}
	return job, nil
}

// GetJobByID returns a job regardless of owner. Used by the scheduler.
func (s *Store) GetJobByID(ctx context.Context, jobID uuid.UUID) (domain.ScheduledJob, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	job, err := scanJob(s.db.QueryRowContext(ctx, queryGetJobByID, jobID))
	if isNoRows(err) {
		return domain.ScheduledJob{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.ScheduledJob{}, errors.Wrap(err, "postgres: get job by id")
	}
	return job, nil
}

func (s *Store) ListJobs(ctx context.Context, ownerID uuid.UUID, f domain.JobFilter) ([]domain.ScheduledJob, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListJobs,
		ownerID, nullUUID(f.ProjectID), string(f.Status), limitArg(f.Limit), f.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: list jobs")
	}
	return collectJobs(rows)
}

// CompareAndSwapJob writes job only if the stored version still equals
// expectedVersion. The version is bumped by the statement.
func (s *Store) CompareAndSwapJob(ctx context.Context, job domain.ScheduledJob, expectedVersion int64) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return compareAndSwapJob(ctx, s.db, job, expectedVersion)
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func compareAndSwapJob(ctx context.Context, ex execer, job domain.ScheduledJob, expectedVersion int64) (bool, error) {
	cfg, err := domain.EncodeJobConfig(job.Config)
	if err != nil {
		return false, errors.Wrap(err, "postgres: encode job config")
	}

	result, err := ex.ExecContext(ctx, queryCompareAndSwapJob,
		job.ID,
		expectedVersion,
		job.ProjectID,
		job.Name,
		string(job.Kind),
		string(job.Schedule.Cadence),
		int(job.Schedule.DayOfWeek),
		job.Schedule.Hour,
		job.Schedule.Minute,
		job.Schedule.Timezone,
		string(job.Schedule.CatchUp),
		string(job.Schedule.DSTInvalid),
		string(job.Schedule.DSTAmbiguous),
		[]byte(cfg),
		job.Retry.MaxAttempts,
		job.Retry.BackoffSeconds,
		job.Retry.MaxBackoffSeconds,
		string(job.Status),
		job.Enabled,
		nullTime(job.NextRunAt),
		job.ConsecutiveFailures,
		job.LastError,
		nullTime(job.LastRunAt),
		nullTime(job.DeadLetteredAt),
		nullTime(job.DeadLetterAcknowledgedAt),
		job.RetryAttempt,
		nullTime(job.NextRetryAt),
		nullTime(job.RetryScheduledFor),
		nullTime(job.ClaimedAt),
		job.UpdatedAt.UTC(),
	)
	if err != nil {
		return false, errors.Wrap(err, "postgres: compare and swap job")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "postgres: compare and swap job")
	}
	return n == 1, nil
}

func (s *Store) DeleteJob(ctx context.Context, ownerID, jobID uuid.UUID) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var deleted uuid.UUID
	err := s.db.QueryRowContext(ctx, queryDeleteJob, jobID, ownerID).Scan(&deleted)
	if isNoRows(err) {
		return domain.ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "postgres: delete job")
	}
	return nil
}

// ListDueJobs returns jobs due at now, oldest due instant first. A pending
// retry takes precedence over the regular schedule.
func (s *Store) ListDueJobs(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledJob, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListDueJobs, now.UTC(), limitArg(limit))
	if err != nil {
		return nil, errors.Wrap(err, "postgres: list due jobs")
	}
	return collectJobs(rows)
}

func (s *Store) CountDueJobs(ctx context.Context, now time.Time) (int, error) {
	return s.count(ctx, "count due jobs", queryCountDueJobs, now.UTC())
}

// ListStaleClaims returns jobs claimed before olderThan, oldest claim first.
func (s *Store) ListStaleClaims(ctx context.Context, olderThan time.Time, limit int) ([]domain.ScheduledJob, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListStaleClaims, olderThan.UTC(), limitArg(limit))
	if err != nil {
		return nil, errors.Wrap(err, "postgres: list stale claims")
	}
	return collectJobs(rows)
}

func (s *Store) CountDeadLetterJobs(ctx context.Context, ownerID uuid.UUID) (domain.DeadLetterCounts, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var c domain.DeadLetterCounts
	if err := s.db.QueryRowContext(ctx, queryCountDeadLetterJobs, ownerID).Scan(&c.Total, &c.Unacknowledged); err != nil {
		return domain.DeadLetterCounts{}, errors.Wrap(err, "postgres: count dead-letter jobs")
	}
	return c, nil
}

func (s *Store) CountDeadLetteredBetween(ctx context.Context, ownerID uuid.UUID, since, until time.Time) (int, error) {
	return s.count(ctx, "count dead-lettered", queryCountDeadLetteredBetween, ownerID, since.UTC(), until.UTC())
}

func (s *Store) count(ctx context.Context, op, query string, args ...any) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "postgres: %s", op)
	}
	return n, nil
}

func collectJobs(rows *sql.Rows) ([]domain.ScheduledJob, error) {
	defer rows.Close()

	var result []domain.ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "postgres: scan job")
		}
		result = append(result, job)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "postgres: iterate jobs")
	}
	return result, nil
}

func scanJob(row rowScanner) (domain.ScheduledJob, error) {
	var (
		job                                        domain.ScheduledJob
		kind, cadence, catchUp, dstInv, dstAmb, st string
		dayOfWeek                                  int
		rawConfig                                  []byte
		nextRunAt, lastRunAt, deadLetteredAt       sql.NullTime
		deadLetterAckAt, nextRetryAt, retryFor     sql.NullTime
		claimedAt                                  sql.NullTime
	)

	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.ProjectID,
		&job.Name,
		&kind,
		&cadence,
		&dayOfWeek,
		&job.Schedule.Hour,
		&job.Schedule.Minute,
		&job.Schedule.Timezone,
		&catchUp,
		&dstInv,
		&dstAmb,
		&rawConfig,
		&job.Retry.MaxAttempts,
		&job.Retry.BackoffSeconds,
		&job.Retry.MaxBackoffSeconds,
		&st,
		&job.Enabled,
		&nextRunAt,
		&job.ConsecutiveFailures,
		&job.LastError,
		&lastRunAt,
		&deadLetteredAt,
		&deadLetterAckAt,
		&job.RetryAttempt,
		&nextRetryAt,
		&retryFor,
		&claimedAt,
		&job.Version,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return domain.ScheduledJob{}, err
	}

	job.Kind = domain.JobKind(kind)
	job.Schedule.Cadence = domain.Cadence(cadence)
	job.Schedule.DayOfWeek = time.Weekday(dayOfWeek)
	job.Schedule.CatchUp = domain.CatchUpMode(catchUp)
	job.Schedule.DSTInvalid = domain.DSTInvalidPolicy(dstInv)
	job.Schedule.DSTAmbiguous = domain.DSTAmbiguousPolicy(dstAmb)
	job.Status = domain.JobStatus(st)
	job.NextRunAt = timePtr(nextRunAt)
	job.LastRunAt = timePtr(lastRunAt)
	job.DeadLetteredAt = timePtr(deadLetteredAt)
	job.DeadLetterAcknowledgedAt = timePtr(deadLetterAckAt)
	job.NextRetryAt = timePtr(nextRetryAt)
	job.RetryScheduledFor = timePtr(retryFor)
	job.ClaimedAt = timePtr(claimedAt)
	job.CreatedAt = job.CreatedAt.UTC()
	job.UpdatedAt = job.UpdatedAt.UTC()

	job.Config, err = domain.DecodeJobConfig(job.Kind, rawConfig)
	if err != nil {
		return domain.ScheduledJob{}, errors.Wrapf(err, "decode config of job %s", job.ID)
	}
	return job, nil
}
