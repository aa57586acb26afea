package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/store/memory"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/testutil"
)

type scriptedNotifier struct {
	mu      sync.Mutex
	calls   int
	results []func() DeliveryResult
}

func (n *scriptedNotifier) Notify(context.Context, Payload) DeliveryResult {
	n.mu.Lock()
	i := n.calls
	n.calls++
	n.mu.Unlock()
	if i >= len(n.results) {
		return DeliveryResult{Status: domain.DeliverySent, Provider: "test", ResponseCode: 200}
	}
	return n.results[i]()
}

var start = testutil.MustTime("2026-02-12T08:00:00Z")

func newMonitor(t *testing.T, n Notifier, th Thresholds) (*Monitor, *memory.Store, *testutil.FakeClock) {
	t.Helper()
	store := memory.New()
	clock := testutil.NewFakeClock(start)
	return New(store, n, th).WithClock(clock.Now), store, clock
}

func contention(at time.Time) domain.TickEvent {
	return domain.TickEvent{Reason: domain.TickReasonInterval, Outcome: domain.TickContention, CreatedAt: at}
}

func TestRecordTick_ContentionSpikeDedupes(t *testing.T) {
	th := DefaultThresholds()
	th.ContentionSpikeCount = 2
	th.ContentionSpikeWindow = 5 * time.Minute
	th.DedupeWindow = 30 * time.Minute
	m, store, clock := newMonitor(t, &scriptedNotifier{}, th)
	ctx := testutil.TestContext(t)
	viewer := uuid.New()

	require.NoError(t, m.RecordTick(ctx, contention(clock.Now())))
	alerts, err := store.ListAlerts(ctx, viewer, domain.AlertFilter{})
	require.NoError(t, err)
	assert.Empty(t, alerts, "one contention tick is below threshold")

	clock.Advance(time.Minute)
	require.NoError(t, m.RecordTick(ctx, contention(clock.Now())))
	clock.Advance(time.Minute)
	require.NoError(t, m.RecordTick(ctx, contention(clock.Now())))

	alerts, err = store.ListAlerts(ctx, viewer, domain.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, domain.AlertLockContentionSpike, a.Type)
	assert.Nil(t, a.OwnerID, "global alert")
	assert.Equal(t, domain.AlertOpen, a.Status)
	assert.Equal(t, float64(2), a.Observed)
	assert.Equal(t, 1, a.Metadata.Delivery.Successes)

	ticks, total, err := store.ListTickEvents(ctx, domain.TickFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, ticks, 3)
}

func TestRecordTick_OtherOutcomesNeverAlert(t *testing.T) {
	th := DefaultThresholds()
	th.ContentionSpikeCount = 1
	m, store, _ := newMonitor(t, nil, th)
	ctx := testutil.TestContext(t)

	for _, o := range []domain.TickOutcome{domain.TickIdle, domain.TickProcessed, domain.TickError, domain.TickSkippedOverlap} {
		require.NoError(t, m.RecordTick(ctx, domain.TickEvent{Outcome: o}))
	}
	alerts, err := store.ListAlerts(ctx, uuid.New(), domain.AlertFilter{})
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestRaise_DedupeWindowExpires(t *testing.T) {
	th := DefaultThresholds()
	th.DedupeWindow = 10 * time.Minute
	m, _, clock := newMonitor(t, nil, th)
	ctx := testutil.TestContext(t)
	owner := uuid.New()
	a := Alert{OwnerID: &owner, Type: domain.AlertFailureRate, Severity: domain.SeverityWarning, DedupeKey: DedupeOwnerFailures}

	first, created, err := m.Raise(ctx, a)
	require.NoError(t, err)
	assert.True(t, created)

	clock.Advance(5 * time.Minute)
	again, created, err := m.Raise(ctx, a)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	other := uuid.New()
	a.OwnerID = &other
	_, created, err = m.Raise(ctx, a)
	require.NoError(t, err)
	assert.True(t, created, "dedupe is per owner")

	a.OwnerID = &owner
	clock.Advance(6 * time.Minute)
	third, created, err := m.Raise(ctx, a)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestRaise_AcknowledgedAlertDoesNotSuppress(t *testing.T) {
	m, _, _ := newMonitor(t, nil, DefaultThresholds())
	ctx := testutil.TestContext(t)
	owner := uuid.New()
	a := Alert{OwnerID: &owner, Type: domain.AlertDeadLetterGrowth, Severity: domain.SeverityCritical, DedupeKey: DedupeOwnerDLQ}

	first, _, err := m.Raise(ctx, a)
	require.NoError(t, err)
	_, err = m.Acknowledge(ctx, owner, first.ID)
	require.NoError(t, err)

	_, created, err := m.Raise(ctx, a)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestDelivery_CountersAccumulate(t *testing.T) {
	n := &scriptedNotifier{results: []func() DeliveryResult{
		func() DeliveryResult {
			return DeliveryResult{Status: domain.DeliveryFailed, Provider: ProviderWebhook, ResponseCode: 502, Err: errors.New("bad gateway")}
		},
		func() DeliveryResult { panic("notifier exploded") },
		func() DeliveryResult {
			return DeliveryResult{Status: domain.DeliverySkipped, Provider: ProviderWebhook}
		},
		func() DeliveryResult {
			return DeliveryResult{Status: domain.DeliverySent, Provider: ProviderWebhook, ResponseCode: 204}
		},
	}}
	m, store, _ := newMonitor(t, n, DefaultThresholds())
	ctx := testutil.TestContext(t)
	owner := uuid.New()

	alert, created, err := m.Raise(ctx, Alert{OwnerID: &owner, Type: domain.AlertFailureRate, Severity: domain.SeverityWarning, DedupeKey: "k"})
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, domain.DeliveryStats{
		Attempts: 1, Failures: 1,
		LastStatus: domain.DeliveryFailed, LastProvider: ProviderWebhook, LastResponseCode: 502,
		LastError: "bad gateway", LastAttemptAt: domain.TimePtr(start),
	}, alert.Metadata.Delivery)

	alert, err = m.Redeliver(ctx, owner, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, alert.Metadata.Delivery.Failures)
	assert.Contains(t, alert.Metadata.Delivery.LastError, "notifier exploded")

	alert, err = m.Redeliver(ctx, owner, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, alert.Metadata.Delivery.Attempts, "skips are not attempts")
	assert.Equal(t, 1, alert.Metadata.Delivery.Skipped)

	_, err = m.Redeliver(ctx, owner, alert.ID)
	require.NoError(t, err)

	stored, err := store.GetAlert(ctx, owner, alert.ID)
	require.NoError(t, err)
	d := stored.Metadata.Delivery
	assert.Equal(t, 3, d.Attempts)
	assert.Equal(t, 1, d.Successes)
	assert.Equal(t, 2, d.Failures)
	assert.Equal(t, 1, d.Skipped)
	assert.Equal(t, domain.DeliverySent, d.LastStatus)
	assert.Equal(t, 204, d.LastResponseCode)
	assert.Empty(t, d.LastError)
}

func TestRedeliver_ForeignAlert(t *testing.T) {
	m, _, _ := newMonitor(t, nil, DefaultThresholds())
	ctx := testutil.TestContext(t)
	owner := uuid.New()
	alert, _, err := m.Raise(ctx, Alert{OwnerID: &owner, Type: domain.AlertFailureRate, DedupeKey: "k"})
	require.NoError(t, err)

	_, err = m.Redeliver(ctx, uuid.New(), alert.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = m.Acknowledge(ctx, uuid.New(), alert.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNotifyTimeoutIsAFailedDelivery(t *testing.T) {
	slow := NotifierFunc(func(ctx context.Context, _ Payload) DeliveryResult {
		<-ctx.Done()
		return DeliveryResult{Status: domain.DeliveryFailed, Provider: "slow", Err: ctx.Err()}
	})
	m, _, _ := newMonitor(t, slow, DefaultThresholds())
	m.WithNotifyTimeout(20 * time.Millisecond)

	alert, _, err := m.Raise(testutil.TestContext(t), Alert{Type: domain.AlertLockContentionSpike, DedupeKey: DedupeSchedulerLock})
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryFailed, alert.Metadata.Delivery.LastStatus)
	assert.Contains(t, alert.Metadata.Delivery.LastError, "deadline exceeded")
}

func failedRun(job domain.ScheduledJob, at time.Time) domain.JobRun {
	jobID := job.ID
	return domain.JobRun{
		ID: uuid.New(), JobID: &jobID, OwnerID: job.OwnerID, ProjectID: job.ProjectID,
		Kind: job.Kind, Trigger: domain.TriggerScheduled, Attempt: job.ConsecutiveFailures,
		Status: domain.RunStatusFailed, StartedAt: at, FinishedAt: at, Error: "upstream 503",
	}
}

func TestOnRunFailed_ConsecutiveFailures(t *testing.T) {
	th := DefaultThresholds()
	th.FailureRatePercent = 0
	m, store, _ := newMonitor(t, nil, th)
	ctx := testutil.TestContext(t)
	job := testutil.DailyJob(uuid.New(), uuid.New(), 8, 0, start)

	job.ConsecutiveFailures = 2
	m.OnRunFailed(ctx, job, failedRun(job, start), false)
	alerts, err := store.ListAlerts(ctx, job.OwnerID, domain.AlertFilter{})
	require.NoError(t, err)
	assert.Empty(t, alerts)

	job.ConsecutiveFailures = 3
	m.OnRunFailed(ctx, job, failedRun(job, start), true)
	alerts, err = store.ListAlerts(ctx, job.OwnerID, domain.AlertFilter{Type: domain.AlertConsecutiveFailures})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.SeverityCritical, alerts[0].Severity)
	assert.Equal(t, job.ID, *alerts[0].JobID)
	assert.Equal(t, "job:"+job.ID.String(), alerts[0].DedupeKey)
}

func TestOnRunFailed_FailureRateNeedsSamples(t *testing.T) {
	th := DefaultThresholds()
	th.ConsecutiveFailures = 0
	th.FailureRateMinSamples = 4
	th.FailureRatePercent = 50
	m, store, clock := newMonitor(t, nil, th)
	ctx := testutil.TestContext(t)
	job := testutil.DailyJob(uuid.New(), uuid.New(), 8, 0, start)

	insert := func(status domain.RunStatus) {
		run := failedRun(job, clock.Now())
		run.Status = status
		require.NoError(t, store.InsertRun(ctx, run))
	}
	insert(domain.RunStatusSuccess)
	insert(domain.RunStatusFailed)
	insert(domain.RunStatusFailed)

	m.OnRunFailed(ctx, job, failedRun(job, clock.Now()), false)
	alerts, err := store.ListAlerts(ctx, job.OwnerID, domain.AlertFilter{})
	require.NoError(t, err)
	assert.Empty(t, alerts, "3 samples is below the minimum")

	insert(domain.RunStatusFailed)
	m.OnRunFailed(ctx, job, failedRun(job, clock.Now()), false)
	alerts, err = store.ListAlerts(ctx, job.OwnerID, domain.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertFailureRate, alerts[0].Type)
	assert.InDelta(t, 75.0, alerts[0].Observed, 0.001)
}

func TestOnRunFailed_DeadLetterGrowth(t *testing.T) {
	th := DefaultThresholds()
	th.ConsecutiveFailures = 0
	th.FailureRatePercent = 0
	th.DeadLetterCount = 2
	m, store, _ := newMonitor(t, nil, th)
	ctx := testutil.TestContext(t)
	owner, project := uuid.New(), uuid.New()

	var last domain.ScheduledJob
	for i := 0; i < 2; i++ {
		last = testutil.DailyJob(owner, project, 8, 0, start)
		last.Status = domain.JobStatusDeadLetter
		last.NextRunAt = nil
		last.DeadLetteredAt = domain.TimePtr(start)
		require.NoError(t, store.CreateJob(ctx, last))
	}

	m.OnRunFailed(ctx, last, failedRun(last, start), false)
	alerts, err := store.ListAlerts(ctx, owner, domain.AlertFilter{})
	require.NoError(t, err)
	assert.Empty(t, alerts, "only evaluated when the run dead-lettered the job")

	m.OnRunFailed(ctx, last, failedRun(last, start), true)
	alerts, err = store.ListAlerts(ctx, owner, domain.AlertFilter{Type: domain.AlertDeadLetterGrowth})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, float64(2), alerts[0].Observed)
}
