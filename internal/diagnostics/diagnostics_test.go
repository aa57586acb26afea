package diagnostics

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/lease"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/scheduler"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/store/memory"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/testutil"
)

var now = testutil.MustTime("2026-02-12T12:00:00Z")

func run(owner uuid.UUID, status domain.RunStatus, at time.Time) domain.JobRun {
	return domain.JobRun{ID: uuid.New(), OwnerID: owner, Status: status, StartedAt: at, FinishedAt: at}
}

func TestReport_TrendAndLock(t *testing.T) {
	store := memory.New()
	clock := testutil.NewFakeClock(now)
	ctx := testutil.TestContext(t)
	owner, project := uuid.New(), uuid.New()

	// Previous window: 2 runs, 1 failed. Current window: 3 runs, 3 failed.
	for _, r := range []domain.JobRun{
		run(owner, domain.RunStatusSuccess, now.Add(-30*time.Hour)),
		run(owner, domain.RunStatusFailed, now.Add(-26*time.Hour)),
		run(owner, domain.RunStatusFailed, now.Add(-2*time.Hour)),
		run(owner, domain.RunStatusFailed, now.Add(-time.Hour)),
		run(owner, domain.RunStatusFailed, now),
		run(uuid.New(), domain.RunStatusFailed, now),
	} {
		require.NoError(t, store.InsertRun(ctx, r))
	}
	dead := testutil.DailyJob(owner, project, 8, 0, now)
	dead.Status = domain.JobStatusDeadLetter
	dead.NextRunAt = nil
	dead.DeadLetteredAt = domain.TimePtr(now.Add(-time.Hour))
	require.NoError(t, store.CreateJob(ctx, dead))
	due := testutil.DailyJob(owner, project, 8, 0, now.Add(-time.Minute))
	require.NoError(t, store.CreateJob(ctx, due))
	require.NoError(t, store.InsertAlert(ctx, domain.AlertEvent{
		ID: uuid.New(), Type: domain.AlertLockContentionSpike, Status: domain.AlertOpen, CreatedAt: now.Add(-time.Minute),
	}))

	leases := lease.New(store).WithClock(clock.Now)
	held, ok, err := leases.Acquire(ctx, scheduler.DefaultLeaseName, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	state := scheduler.NewState(5)
	state.Record(domain.TickEvent{Outcome: domain.TickIdle, CreatedAt: now})

	svc := New(store, leases, state, "").WithClock(clock.Now)
	rep, err := svc.Report(ctx, owner)
	require.NoError(t, err)

	assert.True(t, rep.Lock.Held)
	assert.Equal(t, held.Token, rep.Lock.OwnerToken)
	assert.Equal(t, 1, rep.DueNow)
	assert.Equal(t, 1, rep.DeadLetter.Total)
	assert.Equal(t, int64(1), rep.Runtime.Totals[domain.TickIdle])

	cur, prev := rep.Trend.Current, rep.Trend.Previous
	assert.Equal(t, 3, cur.RunsFailed)
	assert.Zero(t, cur.RunsSucceeded)
	assert.Equal(t, 1.0, cur.FailureRate)
	assert.Equal(t, 1, cur.AlertsRaised, "global alerts count for every owner")
	assert.Equal(t, 1, cur.DeadLettered)
	assert.Equal(t, 1, prev.RunsSucceeded)
	assert.Equal(t, 1, prev.RunsFailed)
	assert.Equal(t, 1, rep.Trend.Delta.Runs)
	assert.Equal(t, 2, rep.Trend.Delta.RunsFailed)
	assert.InDelta(t, 0.5, rep.Trend.Delta.FailureRate, 1e-9)

	clock.Advance(2 * time.Minute)
	rep, err = svc.Report(ctx, owner)
	require.NoError(t, err)
	assert.False(t, rep.Lock.Held, "expired lease is not held")
}

func TestReport_NoLease(t *testing.T) {
	store := memory.New()
	svc := New(store, lease.New(store), nil, "custom").WithClock(func() time.Time { return now })
	rep, err := svc.Report(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "custom", rep.Lock.Name)
	assert.False(t, rep.Lock.Held)
	assert.Nil(t, rep.Lock.LockedUntil)
}

func TestTicks_FiltersAndPaging(t *testing.T) {
	store := memory.New()
	ctx := testutil.TestContext(t)
	for i := 0; i < 6; i++ {
		o := domain.TickIdle
		if i%2 == 0 {
			o = domain.TickContention
		}
		require.NoError(t, store.InsertTickEvent(ctx, domain.TickEvent{
			ID: uuid.New(), Outcome: o, CreatedAt: now.Add(time.Duration(i) * time.Minute),
		}))
	}
	svc := New(store, lease.New(store), nil, "")

	page, err := svc.Ticks(ctx, domain.TickFilter{Outcomes: []domain.TickOutcome{domain.TickContention}, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Ticks, 2)
	assert.Equal(t, now.Add(4*time.Minute), page.Ticks[0].CreatedAt)

	from := now.Add(3 * time.Minute)
	page, err = svc.Ticks(ctx, domain.TickFilter{From: &from})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, DefaultTickLimit, page.Limit)

	to := now
	_, err = svc.Ticks(ctx, domain.TickFilter{From: &from, To: &to})
	assert.True(t, domain.IsValidation(err))
}
