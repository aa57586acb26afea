package cadence

import (
	"time"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

// Plan is the set of occurrences a due job should execute now.
type Plan struct {
	// Occurrences to run, oldest first.
	Occurrences []time.Time
	// Next is the next_run_at to store once every occurrence succeeded.
	// When Deferred is true it is still <= now and will be picked up again.
	Next time.Time
	// Deferred is true when the run budget cut a replay short.
	Deferred bool
}

// PlanCatchUp decides which occurrences to execute for a job whose stored
// next run (due) is <= now.
//
// skip-missed runs once, for the latest occurrence <= now, and moves on to
// the first occurrence after now. replay-missed runs every missed occurrence
// in order; at most budget of them execute now and the rest are deferred.
func PlanCatchUp(spec Spec, mode domain.CatchUpMode, due, now time.Time, budget int) Plan {
	if due.After(now) || budget <= 0 {
		return Plan{Next: due, Deferred: !due.After(now)}
	}

	if mode == domain.CatchUpReplayMissed {
		var occ []time.Time
		t := due
		for !t.After(now) && len(occ) < budget {
			occ = append(occ, t)
			t = spec.NextAfter(t)
		}
		return Plan{Occurrences: occ, Next: t, Deferred: !t.After(now)}
	}

	latest := LatestAtOrBefore(spec, due, now)
	return Plan{Occurrences: []time.Time{latest}, Next: spec.NextAfter(latest)}
}

// LatestAtOrBefore returns the most recent occurrence in [due, now]. due must
// itself be an occurrence <= now.
func LatestAtOrBefore(spec Spec, due, now time.Time) time.Time {
	start := due
	// Long outages: there is always an occurrence in the last two weeks.
	if horizon := now.Add(-maxScanDays * 24 * time.Hour); start.Before(horizon) {
		if t := spec.NextAtOrAfter(horizon); !t.After(now) {
			start = t
		}
	}
	latest := start
	for t := spec.NextAfter(start); !t.After(now); t = spec.NextAfter(t) {
		latest = t
	}
	return latest
}

// Advance returns the next_run_at after a successful run of occurrence at,
// evaluated at now. skip-missed never lands in the past.
func Advance(spec Spec, at, now time.Time) time.Time {
	next := spec.NextAfter(at)
	if spec.schedule.CatchUp == domain.CatchUpSkipMissed && !next.After(now) {
		next = spec.NextAfter(now)
	}
	return next
}
