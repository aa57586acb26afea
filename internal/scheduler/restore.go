package scheduler

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

// History reads persisted tick events.
type History interface {
	ListTickEvents(ctx context.Context, f domain.TickFilter) ([]domain.TickEvent, int, error)
	TickOutcomeTotals(ctx context.Context) (map[domain.TickOutcome]int64, error)
}

// RestoreState seeds state with the latest n persisted ticks and the
// all-time per-outcome totals.
func RestoreState(ctx context.Context, h History, state *State, n int) error {
	recent, _, err := h.ListTickEvents(ctx, domain.TickFilter{Limit: n})
	if err != nil {
		return errors.Wrap(err, "load recent ticks")
	}
	totals, err := h.TickOutcomeTotals(ctx)
	if err != nil {
		return errors.Wrap(err, "load tick totals")
	}
	state.Restore(recent, totals)
	return nil
}
