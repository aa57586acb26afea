package domain

import (
	"time"

	"github.com/google/uuid"
)

type RunTrigger string

const (
	TriggerScheduled RunTrigger = "SCHEDULED"
	TriggerManual    RunTrigger = "MANUAL"
	TriggerRetry     RunTrigger = "RETRY"
)

type RunStatus string

const (
	RunStatusSuccess RunStatus = "SUCCESS"
	RunStatusFailed  RunStatus = "FAILED"
)

// JobRun is one execution attempt of a ScheduledJob. JobID becomes nil when
// the job is deleted; the run history is kept.
type JobRun struct {
	ID           uuid.UUID
	JobID        *uuid.UUID
	OwnerID      uuid.UUID
	ProjectID    uuid.UUID
	Kind         JobKind
	Trigger      RunTrigger
	Attempt      int
	Status       RunStatus
	ScheduledFor *time.Time
	StartedAt    time.Time
	FinishedAt   time.Time
	Output       string
	Error        string
	NextRetryAt  *time.Time
}

// Duration is the wall time the run took.
func (r JobRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunOutcomeCounts aggregates run statuses over a window.
type RunOutcomeCounts struct {
	Success int
	Failed  int
}

func (c RunOutcomeCounts) Total() int { return c.Success + c.Failed }

// FailureRate is the failed share in [0,1]; zero when there are no runs.
func (c RunOutcomeCounts) FailureRate() float64 {
	if c.Total() == 0 {
		return 0
	}
	return float64(c.Failed) / float64(c.Total())
}

// RunEvent is published after every run for asynchronous consumers.
type RunEvent struct {
	RunID        uuid.UUID
	JobID        uuid.UUID
	OwnerID      uuid.UUID
	ProjectID    uuid.UUID
	Kind         JobKind
	Trigger      RunTrigger
	Status       RunStatus
	Attempt      int
	DeadLettered bool
	FinishedAt   time.Time
	Duration     time.Duration
}
