// Package diagnostics assembles the scheduler health report and serves
// tick history queries.
package diagnostics

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/scheduler"
)

const (
	DefaultWindow    = 24 * time.Hour
	DefaultTickLimit = 50
	MaxTickLimit     = 500
)

type Store interface {
	CountRunOutcomes(ctx context.Context, ownerID uuid.UUID, since, until time.Time) (domain.RunOutcomeCounts, error)
	CountAlerts(ctx context.Context, ownerID uuid.UUID, status domain.AlertStatus, since, until time.Time) (int, error)
	CountDeadLetteredBetween(ctx context.Context, ownerID uuid.UUID, since, until time.Time) (int, error)
	CountDeadLetterJobs(ctx context.Context, ownerID uuid.UUID) (domain.DeadLetterCounts, error)
	CountDueJobs(ctx context.Context, now time.Time) (int, error)
	ListTickEvents(ctx context.Context, f domain.TickFilter) ([]domain.TickEvent, int, error)
}

// LockReader reads the scheduler lease.
type LockReader interface {
	Status(ctx context.Context, name string) (domain.SchedulerLock, bool, error)
}

// WindowStats are the owner's counters over [Since, Until).
type WindowStats struct {
	Since         time.Time
	Until         time.Time
	RunsSucceeded int
	RunsFailed    int
	FailureRate   float64
	AlertsRaised  int
	DeadLettered  int
}

// Delta is Current minus Previous.
type Delta struct {
	Runs         int
	RunsFailed   int
	FailureRate  float64
	AlertsRaised int
	DeadLettered int
}

type Trend struct {
	Current  WindowStats
	Previous WindowStats
	Delta    Delta
}

type LockStatus struct {
	Name        string
	Held        bool
	OwnerToken  string
	LockedUntil *time.Time
}

type Report struct {
	GeneratedAt time.Time
	Runtime     scheduler.Snapshot
	Lock        LockStatus
	DueNow      int
	DeadLetter  domain.DeadLetterCounts
	Trend       Trend
}

// TickPage is one page of tick history, newest first.
type TickPage struct {
	Ticks  []domain.TickEvent
	Total  int
	Limit  int
	Offset int
}

type Service struct {
	store     Store
	locks     LockReader
	state     *scheduler.State
	leaseName string
	window    time.Duration
	clock     func() time.Time
}

func New(store Store, locks LockReader, state *scheduler.State, leaseName string) *Service {
	if leaseName == "" {
		leaseName = scheduler.DefaultLeaseName
	}
	return &Service{
		store:     store,
		locks:     locks,
		state:     state,
		leaseName: leaseName,
		window:    DefaultWindow,
		clock:     time.Now,
	}
}

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// WithWindow sets the length of each trend window.
func (s *Service) WithWindow(d time.Duration) *Service {
	if d > 0 {
		s.window = d
	}
	return s
}

// Report builds the diagnostics report for ownerID.
func (s *Service) Report(ctx context.Context, ownerID uuid.UUID) (Report, error) {
	now := s.clock().UTC()
	rep := Report{GeneratedAt: now, Lock: LockStatus{Name: s.leaseName}}
	if s.state != nil {
		rep.Runtime = s.state.Snapshot()
	}

	lock, ok, err := s.locks.Status(ctx, s.leaseName)
	if err != nil {
		return Report{}, err
	}
	if ok {
		rep.Lock.OwnerToken = lock.OwnerToken
		rep.Lock.LockedUntil = lock.LockedUntil
		rep.Lock.Held = lock.HeldAt(now)
	}

	if rep.DueNow, err = s.store.CountDueJobs(ctx, now); err != nil {
		return Report{}, errors.Wrap(err, "count due jobs")
	}
	if rep.DeadLetter, err = s.store.CountDeadLetterJobs(ctx, ownerID); err != nil {
		return Report{}, errors.Wrap(err, "count dead-letter jobs")
	}

	// The current window includes now.
	until := now.Add(time.Microsecond)
	cur, err := s.windowStats(ctx, ownerID, until.Add(-s.window), until)
	if err != nil {
		return Report{}, err
	}
	prev, err := s.windowStats(ctx, ownerID, until.Add(-2*s.window), until.Add(-s.window))
	if err != nil {
		return Report{}, err
	}
	rep.Trend = Trend{
		Current:  cur,
		Previous: prev,
		Delta: Delta{
			Runs:         (cur.RunsSucceeded + cur.RunsFailed) - (prev.RunsSucceeded + prev.RunsFailed),
			RunsFailed:   cur.RunsFailed - prev.RunsFailed,
			FailureRate:  cur.FailureRate - prev.FailureRate,
			AlertsRaised: cur.AlertsRaised - prev.AlertsRaised,
			DeadLettered: cur.DeadLettered - prev.DeadLettered,
		},
	}
	return rep, nil
}

func (s *Service) windowStats(ctx context.Context, ownerID uuid.UUID, since, until time.Time) (WindowStats, error) {
	ws := WindowStats{Since: since, Until: until}
	runs, err := s.store.CountRunOutcomes(ctx, ownerID, since, until)
	if err != nil {
		return ws, errors.Wrap(err, "count runs")
	}
	ws.RunsSucceeded = runs.Success
	ws.RunsFailed = runs.Failed
	ws.FailureRate = runs.FailureRate()

	if ws.AlertsRaised, err = s.store.CountAlerts(ctx, ownerID, "", since, until); err != nil {
		return ws, errors.Wrap(err, "count alerts")
	}
	if ws.DeadLettered, err = s.store.CountDeadLetteredBetween(ctx, ownerID, since, until); err != nil {
		return ws, errors.Wrap(err, "count dead-lettered jobs")
	}
	return ws, nil
}

// Ticks returns persisted tick history matching f.
func (s *Service) Ticks(ctx context.Context, f domain.TickFilter) (TickPage, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultTickLimit
	}
	if f.Limit > MaxTickLimit {
		f.Limit = MaxTickLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return TickPage{}, domain.Invalid("from", "must not be after to")
	}
	ticks, total, err := s.store.ListTickEvents(ctx, f)
	if err != nil {
		return TickPage{}, errors.Wrap(err, "list ticks")
	}
	return TickPage{Ticks: ticks, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}
