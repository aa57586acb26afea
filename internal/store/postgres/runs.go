package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

func (s *Store) InsertRun(ctx context.Context, run domain.JobRun) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertRun,
		run.ID,
		nullUUID(run.JobID),
		run.OwnerID,
		run.ProjectID,
		string(run.Kind),
		string(run.Trigger),
		run.Attempt,
		string(run.Status),
		nullTime(run.ScheduledFor),
		run.StartedAt.UTC(),
		run.FinishedAt.UTC(),
		run.Output,
		run.Error,
		nullTime(run.NextRetryAt),
	)
	if err != nil {
		return errors.Wrap(err, "postgres: insert run")
	}
	return nil
}

// ListRuns returns an owner's runs for one job, newest first.
func (s *Store) ListRuns(ctx context.Context, ownerID, jobID uuid.UUID, limit, offset int) ([]domain.JobRun, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListRuns, ownerID, jobID, limitArg(limit), offset)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var result []domain.JobRun
	for rows.Next() {
		var (
			run                   domain.JobRun
			jobIDCol              uuid.NullUUID
			kind, trigger, status string
			scheduledFor, retryAt sql.NullTime
		)
		err := rows.Scan(
			&run.ID,
			&jobIDCol,
			&run.OwnerID,
			&run.ProjectID,
			&kind,
			&trigger,
			&run.Attempt,
			&status,
			&scheduledFor,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Output,
			&run.Error,
			&retryAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "postgres: scan run")
		}
		run.JobID = uuidPtr(jobIDCol)
		run.Kind = domain.JobKind(kind)
		run.Trigger = domain.RunTrigger(trigger)
		run.Status = domain.RunStatus(status)
		run.ScheduledFor = timePtr(scheduledFor)
		run.NextRetryAt = timePtr(retryAt)
		run.StartedAt = run.StartedAt.UTC()
		run.FinishedAt = run.FinishedAt.UTC()
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "postgres: iterate runs")
	}
	return result, nil
}

// CountRunOutcomes counts an owner's runs that finished in [since, until).
func (s *Store) CountRunOutcomes(ctx context.Context, ownerID uuid.UUID, since, until time.Time) (domain.RunOutcomeCounts, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var c domain.RunOutcomeCounts
	err := s.db.QueryRowContext(ctx, queryCountRunOutcomes, ownerID, since.UTC(), until.UTC()).Scan(&c.Success, &c.Failed)
	if err != nil {
		return domain.RunOutcomeCounts{}, errors.Wrap(err, "postgres: count run outcomes")
	}
	return c, nil
}

// SwapJobWithDlqEvent applies a recovery action: the versioned job write and
// its audit event commit in one transaction. A lost compare-and-swap writes
// neither and reports false.
func (s *Store) SwapJobWithDlqEvent(ctx context.Context, job domain.ScheduledJob, expectedVersion int64, ev domain.DlqEvent) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "postgres: begin dlq action")
	}
	ok, err := compareAndSwapJob(ctx, tx, job, expectedVersion)
	if err != nil || !ok {
		_ = tx.Rollback()
		return false, err
	}
	_, err = tx.ExecContext(ctx, queryInsertDlqEvent,
		ev.ID, ev.OwnerID, ev.JobID, ev.ProjectID, string(ev.Action), ev.Note, ev.CreatedAt.UTC())
	if err != nil {
		_ = tx.Rollback()
		return false, errors.Wrap(err, "postgres: insert dlq event")
	}
	if err := tx.Commit(); err != nil {
		return false, errors.Wrap(err, "postgres: commit dlq action")
	}
	return true, nil
}

// LatestDlqEvent returns the most recent operator action on a job.
func (s *Store) LatestDlqEvent(ctx context.Context, jobID uuid.UUID) (domain.DlqEvent, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	ev, err := scanDlqEvent(s.db.QueryRowContext(ctx, queryLatestDlqEvent, jobID))
	if isNoRows(err) {
		return domain.DlqEvent{}, false, nil
	}
	if err != nil {
		return domain.DlqEvent{}, false, errors.Wrap(err, "postgres: latest dlq event")
	}
	return ev, true, nil
}

func (s *Store) ListDlqEvents(ctx context.Context, ownerID, jobID uuid.UUID, limit int) ([]domain.DlqEvent, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListDlqEvents, ownerID, jobID, limitArg(limit))
	if err != nil {
		return nil, errors.Wrap(err, "postgres: list dlq events")
	}
	defer rows.Close()

	var result []domain.DlqEvent
	for rows.Next() {
		ev, err := scanDlqEvent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "postgres: scan dlq event")
		}
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "postgres: iterate dlq events")
	}
	return result, nil
}

func scanDlqEvent(row rowScanner) (domain.DlqEvent, error) {
	var (
		ev     domain.DlqEvent
		action string
	)
	if err := row.Scan(&ev.ID, &ev.OwnerID, &ev.JobID, &ev.ProjectID, &action, &ev.Note, &ev.CreatedAt); err != nil {
		return domain.DlqEvent{}, err
	}
	ev.Action = domain.DlqAction(action)
	ev.CreatedAt = ev.CreatedAt.UTC()
	return ev, nil
}
