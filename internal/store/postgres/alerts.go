package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

func (s *Store) InsertAlert(ctx context.Context, a domain.AlertEvent) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	md, err := json.Marshal(a.Metadata)
	if err != nil {
		return errors.Wrap(err, "postgres: encode alert metadata")
	}

	_, err = s.db.ExecContext(ctx, queryInsertAlert,
		a.ID,
		nullUUID(a.OwnerID),
		nullUUID(a.ProjectID),
		nullUUID(a.JobID),
		nullUUID(a.RunID),
		string(a.Type),
		string(a.Severity),
		string(a.Status),
		a.Title,
		a.Message,
		a.Threshold,
		a.Observed,
		a.DedupeKey,
		md,
		a.CreatedAt.UTC(),
		nullTime(a.AcknowledgedAt),
	)
	if err != nil {
		return errors.Wrap(err, "postgres: insert alert")
	}
	return nil
}

// FindOpenAlert returns the newest OPEN alert with the same type, dedupe
// key and owner raised at or after since. A nil ownerID matches only
// global alerts.
func (s *Store) FindOpenAlert(ctx context.Context, ownerID *uuid.UUID, typ domain.AlertType, dedupeKey string, since time.Time) (domain.AlertEvent, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	a, err := scanAlert(s.db.QueryRowContext(ctx, queryFindOpenAlert, nullUUID(ownerID), string(typ), dedupeKey, since.UTC()))
	if isNoRows(err) {
		return domain.AlertEvent{}, false, nil
	}
	if err != nil {
		return domain.AlertEvent{}, false, errors.Wrap(err, "postgres: find open alert")
	}
	return a, true, nil
}

func (s *Store) GetAlert(ctx context.Context, ownerID, alertID uuid.UUID) (domain.AlertEvent, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	a, err := scanAlert(s.db.QueryRowContext(ctx, queryGetAlert, alertID, ownerID))
	if isNoRows(err) {
		return domain.AlertEvent{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.AlertEvent{}, errors.Wrap(err, "postgres: get alert")
	}
	return a, nil
}

func (s *Store) UpdateAlertMetadata(ctx context.Context, alertID uuid.UUID, md domain.AlertMetadata) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	raw, err := json.Marshal(md)
	if err != nil {
		return errors.Wrap(err, "postgres: encode alert metadata")
	}
	result, err := s.db.ExecContext(ctx, queryUpdateAlertMetadata, alertID, raw)
	if err != nil {
		return errors.Wrap(err, "postgres: update alert metadata")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "postgres: update alert metadata")
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ListAlerts(ctx context.Context, ownerID uuid.UUID, f domain.AlertFilter) ([]domain.AlertEvent, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListAlerts,
		ownerID, string(f.Status), string(f.Type), limitArg(f.Limit), f.Offset)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: list alerts")
	}
	defer rows.Close()

	var result []domain.AlertEvent
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, errors.Wrap(err, "postgres: scan alert")
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "postgres: iterate alerts")
	}
	return result, nil
}

// AcknowledgeAlert moves an OPEN alert to ACKNOWLEDGED and returns the
// stored alert. Acknowledging twice keeps the first timestamp.
func (s *Store) AcknowledgeAlert(ctx context.Context, ownerID, alertID uuid.UUID, at time.Time) (domain.AlertEvent, error) {
	opCtx, cancel := s.opCtx(ctx)
	_, err := s.db.ExecContext(opCtx, queryAcknowledgeAlert, alertID, ownerID, at.UTC())
	cancel()
	if err != nil {
		return domain.AlertEvent{}, errors.Wrap(err, "postgres: acknowledge alert")
	}
	return s.GetAlert(ctx, ownerID, alertID)
}

func (s *Store) CountAlerts(ctx context.Context, ownerID uuid.UUID, status domain.AlertStatus, since, until time.Time) (int, error) {
	return s.count(ctx, "count alerts", queryCountAlerts, ownerID, string(status), since.UTC(), until.UTC())
}

func scanAlert(row rowScanner) (domain.AlertEvent, error) {
	var (
		a                        domain.AlertEvent
		owner, project, job, run uuid.NullUUID
		typ, severity, status    string
		rawMetadata              []byte
		acknowledgedAt           sql.NullTime
	)
	err := row.Scan(
		&a.ID,
		&owner,
		&project,
		&job,
		&run,
		&typ,
		&severity,
		&status,
		&a.Title,
		&a.Message,
		&a.Threshold,
		&a.Observed,
		&a.DedupeKey,
		&rawMetadata,
		&a.CreatedAt,
		&acknowledgedAt,
	)
	if err != nil {
		return domain.AlertEvent{}, err
	}
	a.OwnerID = uuidPtr(owner)
	a.ProjectID = uuidPtr(project)
	a.JobID = uuidPtr(job)
	a.RunID = uuidPtr(run)
	a.Type = domain.AlertType(typ)
	a.Severity = domain.AlertSeverity(severity)
	a.Status = domain.AlertStatus(status)
	a.CreatedAt = a.CreatedAt.UTC()
	a.AcknowledgedAt = timePtr(acknowledgedAt)
	if len(rawMetadata) > 0 {
		if err := json.Unmarshal(rawMetadata, &a.Metadata); err != nil {
			return domain.AlertEvent{}, errors.Wrapf(err, "decode metadata of alert %s", a.ID)
		}
	}
	return a, nil
}
