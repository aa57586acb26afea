// Package alerting persists scheduler tick history, evaluates alert
// conditions and delivers alerts through a best-effort notifier.
//
// Alert rows are always written before any delivery is attempted. Delivery
// results are folded into the alert's metadata counters; a notifier that
// fails, times out or panics never fails the caller.
package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

// Dedupe keys for alerts that have one natural subject.
const (
	DedupeSchedulerLock = "scheduler-lock"
	DedupeOwnerFailures = "owner-failure-rate"
	DedupeOwnerDLQ      = "owner-dead-letter"
)

type Store interface {
	InsertTickEvent(ctx context.Context, ev domain.TickEvent) error
	CountTickEvents(ctx context.Context, outcome domain.TickOutcome, since time.Time) (int, error)
	CountRunOutcomes(ctx context.Context, ownerID uuid.UUID, since, until time.Time) (domain.RunOutcomeCounts, error)
	CountDeadLetterJobs(ctx context.Context, ownerID uuid.UUID) (domain.DeadLetterCounts, error)

	InsertAlert(ctx context.Context, a domain.AlertEvent) error
	FindOpenAlert(ctx context.Context, ownerID *uuid.UUID, typ domain.AlertType, dedupeKey string, since time.Time) (domain.AlertEvent, bool, error)
	GetAlert(ctx context.Context, ownerID, alertID uuid.UUID) (domain.AlertEvent, error)
	UpdateAlertMetadata(ctx context.Context, alertID uuid.UUID, md domain.AlertMetadata) error
	ListAlerts(ctx context.Context, ownerID uuid.UUID, f domain.AlertFilter) ([]domain.AlertEvent, error)
	AcknowledgeAlert(ctx context.Context, ownerID, alertID uuid.UUID, at time.Time) (domain.AlertEvent, error)
}

// MetricsSink defines the interface for recording alerting metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	AlertRaised(alertType string)
	AlertSuppressed(alertType string)
	AlertDelivery(status string)
}

// Thresholds configure the detectors.
type Thresholds struct {
	ContentionSpikeCount  int
	ContentionSpikeWindow time.Duration

	ConsecutiveFailures int

	FailureRatePercent    float64
	FailureRateWindow     time.Duration
	FailureRateMinSamples int

	DeadLetterCount int

	DedupeWindow time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		ContentionSpikeCount:  3,
		ContentionSpikeWindow: 10 * time.Minute,
		ConsecutiveFailures:   3,
		FailureRatePercent:    50,
		FailureRateWindow:     time.Hour,
		FailureRateMinSamples: 5,
		DeadLetterCount:       5,
		DedupeWindow:          time.Hour,
	}
}

// Alert describes an alert condition before it is persisted.
type Alert struct {
	OwnerID   *uuid.UUID
	ProjectID *uuid.UUID
	JobID     *uuid.UUID
	RunID     *uuid.UUID
	Type      domain.AlertType
	Severity  domain.AlertSeverity
	Title     string
	Message   string
	Threshold float64
	Observed  float64
	DedupeKey string
	Context   map[string]any
}

type Monitor struct {
	store         Store
	notifier      Notifier
	thresholds    Thresholds
	notifyTimeout time.Duration
	metrics       MetricsSink
	clock         func() time.Time
	logger        *zap.Logger
}

// New creates a Monitor. A nil notifier records every delivery as skipped.
func New(store Store, notifier Notifier, thresholds Thresholds) *Monitor {
	return &Monitor{
		store:         store,
		notifier:      notifier,
		thresholds:    thresholds,
		notifyTimeout: 10 * time.Second,
		clock:         time.Now,
		logger:        zap.NewNop(),
	}
}

func (m *Monitor) WithClock(clock func() time.Time) *Monitor {
	m.clock = clock
	return m
}

func (m *Monitor) WithLogger(l *zap.Logger) *Monitor {
	m.logger = l
	return m
}

// WithMetrics attaches a metrics sink to the monitor.
func (m *Monitor) WithMetrics(sink MetricsSink) *Monitor {
	m.metrics = sink
	return m
}

// WithNotifyTimeout bounds a single notifier call, whatever the notifier
// does internally.
func (m *Monitor) WithNotifyTimeout(d time.Duration) *Monitor {
	m.notifyTimeout = d
	return m
}

// RecordTick persists a tick and evaluates the lock contention detector.
// Only the persistence error is returned.
func (m *Monitor) RecordTick(ctx context.Context, ev domain.TickEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = m.clock().UTC()
	}
	if err := m.store.InsertTickEvent(ctx, ev); err != nil {
		return errors.Wrap(err, "record tick")
	}
	if ev.Outcome != domain.TickContention {
		return nil
	}

	since := ev.CreatedAt.Add(-m.thresholds.ContentionSpikeWindow)
	n, err := m.store.CountTickEvents(ctx, domain.TickContention, since)
	if err != nil {
		m.logger.Error("alerting: count contention ticks", zap.Error(err))
		return nil
	}
	if n < m.thresholds.ContentionSpikeCount {
		return nil
	}
	_, _, err = m.Raise(ctx, Alert{
		Type:      domain.AlertLockContentionSpike,
		Severity:  domain.SeverityWarning,
		Title:     "Scheduler lock contention spike",
		Message:   fmt.Sprintf("%d ticks lost the scheduler lease in the last %s", n, m.thresholds.ContentionSpikeWindow),
		Threshold: float64(m.thresholds.ContentionSpikeCount),
		Observed:  float64(n),
		DedupeKey: DedupeSchedulerLock,
		Context:   map[string]any{"window_seconds": m.thresholds.ContentionSpikeWindow.Seconds()},
	})
	if err != nil {
		m.logger.Error("alerting: raise contention alert", zap.Error(err))
	}
	return nil
}

// OnRunFailed evaluates the failure detectors for a failed run. Detector
// errors are logged.
func (m *Monitor) OnRunFailed(ctx context.Context, job domain.ScheduledJob, run domain.JobRun, deadLettered bool) {
	owner := job.OwnerID
	project := job.ProjectID
	jobID := job.ID
	runID := run.ID

	if t := m.thresholds.ConsecutiveFailures; t > 0 && job.ConsecutiveFailures >= t {
		severity := domain.SeverityWarning
		if deadLettered {
			severity = domain.SeverityCritical
		}
		m.raiseLogged(ctx, Alert{
			OwnerID:   &owner,
			ProjectID: &project,
			JobID:     &jobID,
			RunID:     &runID,
			Type:      domain.AlertConsecutiveFailures,
			Severity:  severity,
			Title:     fmt.Sprintf("Job %q keeps failing", job.Name),
			Message:   fmt.Sprintf("%d consecutive failures, last error: %s", job.ConsecutiveFailures, run.Error),
			Threshold: float64(t),
			Observed:  float64(job.ConsecutiveFailures),
			DedupeKey: "job:" + job.ID.String(),
			Context:   map[string]any{"kind": string(job.Kind), "attempt": run.Attempt},
		})
	}

	m.checkFailureRate(ctx, owner)

	if deadLettered {
		m.checkDeadLetters(ctx, owner, job)
	}
}

func (m *Monitor) checkFailureRate(ctx context.Context, owner uuid.UUID) {
	if m.thresholds.FailureRatePercent <= 0 {
		return
	}
	now := m.clock().UTC()
	counts, err := m.store.CountRunOutcomes(ctx, owner, now.Add(-m.thresholds.FailureRateWindow), now.Add(time.Microsecond))
	if err != nil {
		m.logger.Error("alerting: count run outcomes", zap.String("owner_id", owner.String()), zap.Error(err))
		return
	}
	if counts.Total() < m.thresholds.FailureRateMinSamples {
		return
	}
	pct := counts.FailureRate() * 100
	if pct < m.thresholds.FailureRatePercent {
		return
	}
	m.raiseLogged(ctx, Alert{
		OwnerID:   &owner,
		Type:      domain.AlertFailureRate,
		Severity:  domain.SeverityWarning,
		Title:     "Automation failure rate is high",
		Message:   fmt.Sprintf("%d of %d runs failed in the last %s", counts.Failed, counts.Total(), m.thresholds.FailureRateWindow),
		Threshold: m.thresholds.FailureRatePercent,
		Observed:  pct,
		DedupeKey: DedupeOwnerFailures,
		Context:   map[string]any{"failed": counts.Failed, "succeeded": counts.Success},
	})
}

func (m *Monitor) checkDeadLetters(ctx context.Context, owner uuid.UUID, job domain.ScheduledJob) {
	if m.thresholds.DeadLetterCount <= 0 {
		return
	}
	counts, err := m.store.CountDeadLetterJobs(ctx, owner)
	if err != nil {
		m.logger.Error("alerting: count dead-letter jobs", zap.String("owner_id", owner.String()), zap.Error(err))
		return
	}
	if counts.Total < m.thresholds.DeadLetterCount {
		return
	}
	m.raiseLogged(ctx, Alert{
		OwnerID:   &owner,
		Type:      domain.AlertDeadLetterGrowth,
		Severity:  domain.SeverityCritical,
		Title:     "Dead-letter queue is growing",
		Message:   fmt.Sprintf("%d jobs are dead-lettered (%d unacknowledged)", counts.Total, counts.Unacknowledged),
		Threshold: float64(m.thresholds.DeadLetterCount),
		Observed:  float64(counts.Total),
		DedupeKey: DedupeOwnerDLQ,
		Context:   map[string]any{"latest_job_id": job.ID.String()},
	})
}

func (m *Monitor) raiseLogged(ctx context.Context, a Alert) {
	if _, _, err := m.Raise(ctx, a); err != nil {
		m.logger.Error("alerting: raise alert", zap.String("type", string(a.Type)), zap.Error(err))
	}
}

// Raise persists an alert unless an OPEN alert with the same owner, type and
// dedupe key was created within the dedupe window, in which case that alert
// is returned unchanged and created is false.
func (m *Monitor) Raise(ctx context.Context, a Alert) (alert domain.AlertEvent, created bool, err error) {
	now := m.clock().UTC()
	existing, found, err := m.store.FindOpenAlert(ctx, a.OwnerID, a.Type, a.DedupeKey, now.Add(-m.thresholds.DedupeWindow))
	if err != nil {
		return domain.AlertEvent{}, false, errors.Wrap(err, "dedupe lookup")
	}
	if found {
		if m.metrics != nil {
			m.metrics.AlertSuppressed(string(a.Type))
		}
		return existing, false, nil
	}

	alert = domain.AlertEvent{
		ID:        uuid.New(),
		OwnerID:   a.OwnerID,
		ProjectID: a.ProjectID,
		JobID:     a.JobID,
		RunID:     a.RunID,
		Type:      a.Type,
		Severity:  a.Severity,
		Status:    domain.AlertOpen,
		Title:     a.Title,
		Message:   a.Message,
		Threshold: a.Threshold,
		Observed:  a.Observed,
		DedupeKey: a.DedupeKey,
		Metadata:  domain.AlertMetadata{Context: a.Context},
		CreatedAt: now,
	}
	if err := m.store.InsertAlert(ctx, alert); err != nil {
		return domain.AlertEvent{}, false, errors.Wrap(err, "insert alert")
	}
	if m.metrics != nil {
		m.metrics.AlertRaised(string(a.Type))
	}
	m.logger.Warn("alerting: alert raised",
		zap.String("alert_id", alert.ID.String()),
		zap.String("type", string(alert.Type)),
		zap.Float64("observed", alert.Observed),
		zap.Float64("threshold", alert.Threshold))

	m.deliver(ctx, &alert)
	return alert, true, nil
}

// Redeliver sends an existing alert again. Counters keep accumulating.
func (m *Monitor) Redeliver(ctx context.Context, ownerID, alertID uuid.UUID) (domain.AlertEvent, error) {
	alert, err := m.store.GetAlert(ctx, ownerID, alertID)
	if err != nil {
		return domain.AlertEvent{}, err
	}
	m.deliver(ctx, &alert)
	return alert, nil
}

// Acknowledge moves an OPEN alert to ACKNOWLEDGED. Acknowledged alerts are
// returned unchanged.
func (m *Monitor) Acknowledge(ctx context.Context, ownerID, alertID uuid.UUID) (domain.AlertEvent, error) {
	return m.store.AcknowledgeAlert(ctx, ownerID, alertID, m.clock().UTC())
}

func (m *Monitor) List(ctx context.Context, ownerID uuid.UUID, f domain.AlertFilter) ([]domain.AlertEvent, error) {
	alerts, err := m.store.ListAlerts(ctx, ownerID, f)
	if err != nil {
		return nil, errors.Wrap(err, "list alerts")
	}
	return alerts, nil
}

// deliver calls the notifier and merges the result into alert's metadata.
func (m *Monitor) deliver(ctx context.Context, alert *domain.AlertEvent) {
	res := m.notify(ctx, PayloadFor(*alert))
	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	alert.Metadata.Delivery.Record(res.Status, res.Provider, res.ResponseCode, errMsg, m.clock().UTC())
	if m.metrics != nil {
		m.metrics.AlertDelivery(string(alert.Metadata.Delivery.LastStatus))
	}

	if err := m.store.UpdateAlertMetadata(ctx, alert.ID, alert.Metadata); err != nil {
		m.logger.Error("alerting: store delivery result",
			zap.String("alert_id", alert.ID.String()), zap.Error(err))
	}
	if res.Status == domain.DeliveryFailed {
		m.logger.Warn("alerting: delivery failed",
			zap.String("alert_id", alert.ID.String()),
			zap.String("provider", res.Provider),
			zap.Int("response_code", res.ResponseCode),
			zap.String("error", errMsg))
	}
}

func (m *Monitor) notify(ctx context.Context, p Payload) (res DeliveryResult) {
	if m.notifier == nil {
		return DeliveryResult{Status: domain.DeliverySkipped, Provider: "none"}
	}
	defer func() {
		if r := recover(); r != nil {
			res = DeliveryResult{Status: domain.DeliveryFailed, Err: errors.Newf("notifier panicked: %v", r)}
		}
	}()
	if m.notifyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.notifyTimeout)
		defer cancel()
	}
	res = m.notifier.Notify(ctx, p)
	if res.Status == "" {
		res.Status = domain.DeliveryFailed
	}
	return res
}
