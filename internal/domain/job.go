package domain

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusActive     JobStatus = "ACTIVE"
	JobStatusDeadLetter JobStatus = "DEAD_LETTER"
)

// RetryPolicy bounds retries of a failing job. Backoff doubles per attempt
// and is capped at MaxBackoffSeconds.
type RetryPolicy struct {
	MaxAttempts       int
	BackoffSeconds    int
	MaxBackoffSeconds int
}

// DefaultRetryPolicy is applied when a job is created without one.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BackoffSeconds: 60, MaxBackoffSeconds: 3600}

func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 || p.MaxAttempts > 20 {
		return Invalid("retry.max_attempts", "must be 1-20, got %d", p.MaxAttempts)
	}
	if p.BackoffSeconds < 0 {
		return Invalid("retry.backoff_seconds", "must not be negative")
	}
	if p.MaxBackoffSeconds < p.BackoffSeconds {
		return Invalid("retry.max_backoff_seconds", "must be >= backoff_seconds")
	}
	return nil
}

// ScheduledJob is a recurring unit of work owned by one tenant.
//
// NextRunAt is set only while the job is ACTIVE, not waiting on a retry and
// not claimed by a processor. A DEAD_LETTER job always has DeadLetteredAt set
// and NextRunAt nil.
type ScheduledJob struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	ProjectID uuid.UUID
	Name      string
	Kind      JobKind
	Schedule  Schedule
	Config    JobConfig
	Retry     RetryPolicy
	Status    JobStatus
	Enabled   bool

	NextRunAt           *time.Time
	ConsecutiveFailures int
	LastError           string
	LastRunAt           *time.Time

	DeadLetteredAt           *time.Time
	DeadLetterAcknowledgedAt *time.Time

	// Retry cursor. RetryAttempt is the attempt number the next retry run
	// will carry; RetryScheduledFor is the occurrence being retried.
	RetryAttempt      int
	NextRetryAt       *time.Time
	RetryScheduledFor *time.Time

	ClaimedAt *time.Time
	Version   int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// InRetry reports whether the job is waiting on a retry.
func (j ScheduledJob) InRetry() bool {
	return j.NextRetryAt != nil
}

// ClearRetry drops the retry cursor.
func (j *ScheduledJob) ClearRetry() {
	j.RetryAttempt = 0
	j.NextRetryAt = nil
	j.RetryScheduledFor = nil
}

// Project returns the project context handed to job-kind executors.
func (j ScheduledJob) Project() ProjectContext {
	return ProjectContext{ProjectID: j.ProjectID, OwnerID: j.OwnerID}
}

// ProjectContext identifies the project a job runs for.
type ProjectContext struct {
	ProjectID uuid.UUID
	OwnerID   uuid.UUID
}

// JobFilter narrows owner-scoped job listings.
type JobFilter struct {
	ProjectID *uuid.UUID
	Status    JobStatus
	Limit     int
	Offset    int
}

// TimePtr returns a pointer to a UTC copy of t.
func TimePtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}

// DeadLetterCounts summarizes an owner's dead-letter queue.
type DeadLetterCounts struct {
	Total          int
	Unacknowledged int
}
