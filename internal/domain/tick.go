package domain

import (
	"time"

	"github.com/google/uuid"
)

type TickReason string

const (
	TickReasonStartup  TickReason = "startup"
	TickReasonInterval TickReason = "interval"
)

type TickOutcome string

const (
	TickProcessed      TickOutcome = "processed"
	TickIdle           TickOutcome = "idle"
	TickContention     TickOutcome = "contention"
	TickError          TickOutcome = "error"
	TickSkippedOverlap TickOutcome = "skipped-overlap"
)

// TickOutcomes lists every outcome in a stable order.
var TickOutcomes = []TickOutcome{TickProcessed, TickIdle, TickContention, TickError, TickSkippedOverlap}

// ValidTickOutcome reports whether s names a known outcome.
func ValidTickOutcome(s string) bool {
	for _, o := range TickOutcomes {
		if string(o) == s {
			return true
		}
	}
	return false
}

// TickEvent is the append-only record of one scheduler tick.
type TickEvent struct {
	ID           uuid.UUID
	Reason       TickReason
	Outcome      TickOutcome
	Duration     time.Duration
	Processed    int
	RemainingDue int
	Error        string
	CreatedAt    time.Time
}

// TickFilter selects tick history.
type TickFilter struct {
	Outcomes []TickOutcome
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}
