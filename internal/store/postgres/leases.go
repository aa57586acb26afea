package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

// AcquireLease is one conditional upsert: it succeeds when the lease is
// absent, expired at now, or already held by token.
func (s *Store) AcquireLease(ctx context.Context, name, token string, now, until time.Time) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var got string
	err := s.db.QueryRowContext(ctx, queryAcquireLease, name, token, until.UTC(), now.UTC()).Scan(&got)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "postgres: acquire lease")
	}
	return true, nil
}

// ReleaseLease clears the lease only if token still holds it.
func (s *Store) ReleaseLease(ctx context.Context, name, token string) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryReleaseLease, name, token)
	if err != nil {
		return false, errors.Wrap(err, "postgres: release lease")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "postgres: release lease")
	}
	return n == 1, nil
}

func (s *Store) GetLease(ctx context.Context, name string) (domain.SchedulerLock, bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var (
		l     domain.SchedulerLock
		until sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, queryGetLease, name).Scan(&l.Name, &l.OwnerToken, &until, &l.UpdatedAt)
	if isNoRows(err) {
		return domain.SchedulerLock{}, false, nil
	}
	if err != nil {
		return domain.SchedulerLock{}, false, errors.Wrap(err, "postgres: get lease")
	}
	l.LockedUntil = timePtr(until)
	l.UpdatedAt = l.UpdatedAt.UTC()
	return l, true, nil
}
