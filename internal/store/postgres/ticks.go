package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lib/pq"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

func (s *Store) InsertTickEvent(ctx context.Context, ev domain.TickEvent) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryInsertTickEvent,
		ev.ID,
		string(ev.Reason),
		string(ev.Outcome),
		ev.Duration.Milliseconds(),
		ev.Processed,
		ev.RemainingDue,
		ev.Error,
		ev.CreatedAt.UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "postgres: insert tick event")
	}
	return nil
}

// ListTickEvents returns one page of tick history, newest first, and the
// number of events matching the filter.
func (s *Store) ListTickEvents(ctx context.Context, f domain.TickFilter) ([]domain.TickEvent, int, error) {
	outcomes := make([]string, 0, len(f.Outcomes))
	for _, o := range f.Outcomes {
		outcomes = append(outcomes, string(o))
	}
	filter := []any{pq.Array(outcomes), nullTime(f.From), nullTime(f.To)}

	total, err := s.count(ctx, "count tick events", queryCountFilteredTickEvents, filter...)
	if err != nil {
		return nil, 0, err
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListTickEvents, append(filter, limitArg(f.Limit), f.Offset)...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "postgres: list tick events")
	}
	defer rows.Close()

	var result []domain.TickEvent
	for rows.Next() {
		var (
			ev              domain.TickEvent
			reason, outcome string
			durationMs      int64
		)
		err := rows.Scan(&ev.ID, &reason, &outcome, &durationMs, &ev.Processed, &ev.RemainingDue, &ev.Error, &ev.CreatedAt)
		if err != nil {
			return nil, 0, errors.Wrap(err, "postgres: scan tick event")
		}
		ev.Reason = domain.TickReason(reason)
		ev.Outcome = domain.TickOutcome(outcome)
		ev.Duration = time.Duration(durationMs) * time.Millisecond
		ev.CreatedAt = ev.CreatedAt.UTC()
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "postgres: iterate tick events")
	}
	return result, total, nil
}

// CountTickEvents counts ticks with outcome recorded at or after since.
func (s *Store) CountTickEvents(ctx context.Context, outcome domain.TickOutcome, since time.Time) (int, error) {
	return s.count(ctx, "count tick events", queryCountTickEvents, string(outcome), since.UTC())
}

func (s *Store) TickOutcomeTotals(ctx context.Context) (map[domain.TickOutcome]int64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryTickOutcomeTotals)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: tick outcome totals")
	}
	defer rows.Close()

	totals := make(map[domain.TickOutcome]int64)
	for rows.Next() {
		var (
			outcome string
			n       int64
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, errors.Wrap(err, "postgres: scan tick totals")
		}
		totals[domain.TickOutcome(outcome)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "postgres: iterate tick totals")
	}
	return totals, nil
}
