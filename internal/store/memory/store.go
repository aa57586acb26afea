// Package memory is an in-process implementation of every store contract.
// It applies the same conditional-update rules as the Postgres store and is
// used by tests and single-process development setups.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

// Store holds all state behind one mutex.
type Store struct {
	mu       sync.Mutex
	projects map[uuid.UUID]uuid.UUID
	jobs     map[uuid.UUID]domain.ScheduledJob
	runs     []domain.JobRun
	ticks    []domain.TickEvent
	alerts   []domain.AlertEvent
	dlq      []domain.DlqEvent
	locks    map[string]domain.SchedulerLock
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		projects: make(map[uuid.UUID]uuid.UUID),
		jobs:     make(map[uuid.UUID]domain.ScheduledJob),
		locks:    make(map[string]domain.SchedulerLock),
	}
}

// AddProject registers a project and its owner.
func (s *Store) AddProject(projectID, ownerID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[projectID] = ownerID
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) ProjectOwner(_ context.Context, projectID uuid.UUID) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.projects[projectID]
	if !ok {
		return uuid.Nil, domain.ErrNotFound
	}
	return owner, nil
}

// --- leases ---

func (s *Store) AcquireLease(_ context.Context, name, token string, now, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.locks[name]
	if ok && cur.HeldAt(now) && cur.OwnerToken != token {
		return false, nil
	}
	s.locks[name] = domain.SchedulerLock{Name: name, OwnerToken: token, LockedUntil: domain.TimePtr(until), UpdatedAt: now.UTC()}
	return true, nil
}

func (s *Store) ReleaseLease(_ context.Context, name, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.locks[name]
	if !ok || cur.OwnerToken != token {
		return false, nil
	}
	cur.OwnerToken = ""
	cur.LockedUntil = nil
	s.locks[name] = cur
	return true, nil
}

func (s *Store) GetLease(_ context.Context, name string) (domain.SchedulerLock, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.locks[name]
	return cur, ok, nil
}

// --- jobs ---

func (s *Store) CreateJob(_ context.Context, job domain.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return domain.ErrConflict
	}
	if job.Version == 0 {
		job.Version = 1
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *Store) GetJob(_ context.Context, ownerID, jobID uuid.UUID) (domain.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.OwnerID != ownerID {
		return domain.ScheduledJob{}, domain.ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *Store) GetJobByID(_ context.Context, jobID uuid.UUID) (domain.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ScheduledJob{}, domain.ErrNotFound
	}
	return cloneJob(job), nil
}

func (s *Store) ListJobs(_ context.Context, ownerID uuid.UUID, f domain.JobFilter) ([]domain.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ScheduledJob
	for _, job := range s.jobs {
		if job.OwnerID != ownerID {
			continue
		}
		if f.ProjectID != nil && job.ProjectID != *f.ProjectID {
			continue
		}
		if f.Status != "" && job.Status != f.Status {
			continue
		}
		out = append(out, cloneJob(job))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return paginate(out, f.Limit, f.Offset), nil
}

// CompareAndSwapJob writes job if the stored version still equals
// expectedVersion, bumping the version.
func (s *Store) CompareAndSwapJob(_ context.Context, job domain.ScheduledJob, expectedVersion int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.swapLocked(job, expectedVersion), nil
}

func (s *Store) swapLocked(job domain.ScheduledJob, expectedVersion int64) bool {
	cur, ok := s.jobs[job.ID]
	if !ok || cur.Version != expectedVersion {
		return false
	}
	job.Version = expectedVersion + 1
	job.OwnerID = cur.OwnerID
	job.CreatedAt = cur.CreatedAt
	s.jobs[job.ID] = cloneJob(job)
	return true
}

func (s *Store) DeleteJob(_ context.Context, ownerID, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.OwnerID != ownerID {
		return domain.ErrNotFound
	}
	delete(s.jobs, jobID)
	for i := range s.runs {
		if s.runs[i].JobID != nil && *s.runs[i].JobID == jobID {
			s.runs[i].JobID = nil
		}
	}
	return nil
}

func dueAt(job domain.ScheduledJob, now time.Time) (time.Time, bool) {
	if job.Status != domain.JobStatusActive || !job.Enabled {
		return time.Time{}, false
	}
	if job.NextRetryAt != nil && !job.NextRetryAt.After(now) {
		return *job.NextRetryAt, true
	}
	if job.NextRunAt != nil && !job.NextRunAt.After(now) {
		return *job.NextRunAt, true
	}
	return time.Time{}, false
}

func (s *Store) ListDueJobs(_ context.Context, now time.Time, limit int) ([]domain.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type due struct {
		job domain.ScheduledJob
		at  time.Time
	}
	var all []due
	for _, job := range s.jobs {
		if at, ok := dueAt(job, now); ok {
			all = append(all, due{job: cloneJob(job), at: at})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].at.Equal(all[j].at) {
			return all[i].at.Before(all[j].at)
		}
		return all[i].job.ID.String() < all[j].job.ID.String()
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]domain.ScheduledJob, len(all))
	for i, d := range all {
		out[i] = d.job
	}
	return out, nil
}

func (s *Store) CountDueJobs(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, job := range s.jobs {
		if _, ok := dueAt(job, now); ok {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListStaleClaims(_ context.Context, olderThan time.Time, limit int) ([]domain.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ScheduledJob
	for _, job := range s.jobs {
		if job.ClaimedAt != nil && job.ClaimedAt.Before(olderThan) {
			out = append(out, cloneJob(job))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimedAt.Before(*out[j].ClaimedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CountDeadLetterJobs(_ context.Context, ownerID uuid.UUID) (domain.DeadLetterCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c domain.DeadLetterCounts
	for _, job := range s.jobs {
		if job.OwnerID != ownerID || job.Status != domain.JobStatusDeadLetter {
			continue
		}
		c.Total++
		if job.DeadLetterAcknowledgedAt == nil {
			c.Unacknowledged++
		}
	}
	return c, nil
}

func (s *Store) CountDeadLetteredBetween(_ context.Context, ownerID uuid.UUID, since, until time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, job := range s.jobs {
		if job.OwnerID == ownerID && job.DeadLetteredAt != nil && inWindow(*job.DeadLetteredAt, since, until) {
			n++
		}
	}
	return n, nil
}

// --- runs ---

func (s *Store) InsertRun(_ context.Context, run domain.JobRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, cloneRun(run))
	return nil
}

func (s *Store) ListRuns(_ context.Context, ownerID, jobID uuid.UUID, limit, offset int) ([]domain.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.JobRun
	for i := len(s.runs) - 1; i >= 0; i-- {
		r := s.runs[i]
		if r.OwnerID == ownerID && r.JobID != nil && *r.JobID == jobID {
			out = append(out, cloneRun(r))
		}
	}
	return paginate(out, limit, offset), nil
}

func (s *Store) CountRunOutcomes(_ context.Context, ownerID uuid.UUID, since, until time.Time) (domain.RunOutcomeCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c domain.RunOutcomeCounts
	for _, r := range s.runs {
		if r.OwnerID != ownerID || !inWindow(r.FinishedAt, since, until) {
			continue
		}
		if r.Status == domain.RunStatusSuccess {
			c.Success++
		} else {
			c.Failed++
		}
	}
	return c, nil
}

// --- dlq events ---

// SwapJobWithDlqEvent applies the compare-and-swap and records ev under one
// lock. A lost swap records nothing.
func (s *Store) SwapJobWithDlqEvent(_ context.Context, job domain.ScheduledJob, expectedVersion int64, ev domain.DlqEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.swapLocked(job, expectedVersion) {
		return false, nil
	}
	s.dlq = append(s.dlq, ev)
	return true, nil
}

func (s *Store) LatestDlqEvent(_ context.Context, jobID uuid.UUID) (domain.DlqEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.dlq) - 1; i >= 0; i-- {
		if s.dlq[i].JobID == jobID {
			return s.dlq[i], true, nil
		}
	}
	return domain.DlqEvent{}, false, nil
}

func (s *Store) ListDlqEvents(_ context.Context, ownerID, jobID uuid.UUID, limit int) ([]domain.DlqEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.DlqEvent
	for i := len(s.dlq) - 1; i >= 0; i-- {
		if s.dlq[i].OwnerID == ownerID && s.dlq[i].JobID == jobID {
			out = append(out, s.dlq[i])
		}
	}
	return paginate(out, limit, 0), nil
}

// --- ticks ---

func (s *Store) InsertTickEvent(_ context.Context, ev domain.TickEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, ev)
	return nil
}

func (s *Store) ListTickEvents(_ context.Context, f domain.TickFilter) ([]domain.TickEvent, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TickEvent
	for i := len(s.ticks) - 1; i >= 0; i-- {
		ev := s.ticks[i]
		if len(f.Outcomes) > 0 && !hasOutcome(f.Outcomes, ev.Outcome) {
			continue
		}
		if f.From != nil && ev.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && ev.CreatedAt.After(*f.To) {
			continue
		}
		out = append(out, ev)
	}
	return paginate(out, f.Limit, f.Offset), len(out), nil
}

func (s *Store) CountTickEvents(_ context.Context, outcome domain.TickOutcome, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.ticks {
		if ev.Outcome == outcome && !ev.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) TickOutcomeTotals(_ context.Context) (map[domain.TickOutcome]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	totals := make(map[domain.TickOutcome]int64)
	for _, ev := range s.ticks {
		totals[ev.Outcome]++
	}
	return totals, nil
}

// --- alerts ---

func (s *Store) InsertAlert(_ context.Context, a domain.AlertEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, cloneAlert(a))
	return nil
}

func (s *Store) FindOpenAlert(_ context.Context, ownerID *uuid.UUID, typ domain.AlertType, dedupeKey string, since time.Time) (domain.AlertEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.alerts) - 1; i >= 0; i-- {
		a := s.alerts[i]
		if a.Status == domain.AlertOpen && a.Type == typ && a.DedupeKey == dedupeKey &&
			sameOwner(a.OwnerID, ownerID) && !a.CreatedAt.Before(since) {
			return cloneAlert(a), true, nil
		}
	}
	return domain.AlertEvent{}, false, nil
}

func (s *Store) GetAlert(_ context.Context, ownerID, alertID uuid.UUID) (domain.AlertEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.visibleAlert(ownerID, alertID)
	if i < 0 {
		return domain.AlertEvent{}, domain.ErrNotFound
	}
	return cloneAlert(s.alerts[i]), nil
}

func (s *Store) UpdateAlertMetadata(_ context.Context, alertID uuid.UUID, md domain.AlertMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ID == alertID {
			s.alerts[i].Metadata = md
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *Store) ListAlerts(_ context.Context, ownerID uuid.UUID, f domain.AlertFilter) ([]domain.AlertEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AlertEvent
	for i := len(s.alerts) - 1; i >= 0; i-- {
		a := s.alerts[i]
		if a.OwnerID != nil && *a.OwnerID != ownerID {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		out = append(out, cloneAlert(a))
	}
	return paginate(out, f.Limit, f.Offset), nil
}

func (s *Store) AcknowledgeAlert(_ context.Context, ownerID, alertID uuid.UUID, at time.Time) (domain.AlertEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.visibleAlert(ownerID, alertID)
	if i < 0 {
		return domain.AlertEvent{}, domain.ErrNotFound
	}
	if s.alerts[i].Status == domain.AlertOpen {
		s.alerts[i].Status = domain.AlertAcknowledged
		s.alerts[i].AcknowledgedAt = domain.TimePtr(at)
	}
	return cloneAlert(s.alerts[i]), nil
}

func (s *Store) CountAlerts(_ context.Context, ownerID uuid.UUID, status domain.AlertStatus, since, until time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.alerts {
		if a.OwnerID != nil && *a.OwnerID != ownerID {
			continue
		}
		if status != "" && a.Status != status {
			continue
		}
		if inWindow(a.CreatedAt, since, until) {
			n++
		}
	}
	return n, nil
}

func (s *Store) visibleAlert(ownerID, alertID uuid.UUID) int {
	for i := range s.alerts {
		a := s.alerts[i]
		if a.ID == alertID && (a.OwnerID == nil || *a.OwnerID == ownerID) {
			return i
		}
	}
	return -1
}

// --- helpers ---

func inWindow(t, since, until time.Time) bool {
	return !t.Before(since) && t.Before(until)
}

func sameOwner(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func hasOutcome(set []domain.TickOutcome, o domain.TickOutcome) bool {
	for _, x := range set {
		if x == o {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneJob(j domain.ScheduledJob) domain.ScheduledJob {
	j.NextRunAt = copyTime(j.NextRunAt)
	j.LastRunAt = copyTime(j.LastRunAt)
	j.DeadLetteredAt = copyTime(j.DeadLetteredAt)
	j.DeadLetterAcknowledgedAt = copyTime(j.DeadLetterAcknowledgedAt)
	j.NextRetryAt = copyTime(j.NextRetryAt)
	j.RetryScheduledFor = copyTime(j.RetryScheduledFor)
	j.ClaimedAt = copyTime(j.ClaimedAt)
	return j
}

func cloneRun(r domain.JobRun) domain.JobRun {
	if r.JobID != nil {
		id := *r.JobID
		r.JobID = &id
	}
	r.ScheduledFor = copyTime(r.ScheduledFor)
	r.NextRetryAt = copyTime(r.NextRetryAt)
	return r
}

func cloneAlert(a domain.AlertEvent) domain.AlertEvent {
	a.AcknowledgedAt = copyTime(a.AcknowledgedAt)
	if a.Metadata.Context != nil {
		ctx := make(map[string]any, len(a.Metadata.Context))
		for k, v := range a.Metadata.Context {
			ctx[k] = v
		}
		a.Metadata.Context = ctx
	}
	a.Metadata.Delivery.LastAttemptAt = copyTime(a.Metadata.Delivery.LastAttemptAt)
	return a
}
