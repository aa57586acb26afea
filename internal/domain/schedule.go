package domain

import "time"

type Cadence string

const (
	CadenceDaily  Cadence = "DAILY"
	CadenceWeekly Cadence = "WEEKLY"
)

type CatchUpMode string

const (
	CatchUpSkipMissed   CatchUpMode = "skip-missed"
	CatchUpReplayMissed CatchUpMode = "replay-missed"
)

// DSTInvalidPolicy decides what happens to a wall-clock time that falls in a
// spring-forward gap.
type DSTInvalidPolicy string

const (
	DSTShiftForward DSTInvalidPolicy = "shift-forward"
	DSTSkip         DSTInvalidPolicy = "skip"
)

// DSTAmbiguousPolicy picks one of the two instants of a repeated wall-clock
// time during fall-back.
type DSTAmbiguousPolicy string

const (
	DSTEarlierOffset DSTAmbiguousPolicy = "earlier-offset"
	DSTLaterOffset   DSTAmbiguousPolicy = "later-offset"
)

// Schedule is the recurrence rule of a ScheduledJob.
// DayOfWeek is only meaningful for weekly cadence.
type Schedule struct {
	Cadence      Cadence
	DayOfWeek    time.Weekday
	Hour         int
	Minute       int
	Timezone     string
	CatchUp      CatchUpMode
	DSTInvalid   DSTInvalidPolicy
	DSTAmbiguous DSTAmbiguousPolicy
}

// WithDefaults fills unset policy fields.
func (s Schedule) WithDefaults() Schedule {
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	if s.CatchUp == "" {
		s.CatchUp = CatchUpSkipMissed
	}
	if s.DSTInvalid == "" {
		s.DSTInvalid = DSTShiftForward
	}
	if s.DSTAmbiguous == "" {
		s.DSTAmbiguous = DSTEarlierOffset
	}
	return s
}

// Validate checks everything except the timezone, which needs the tz database
// and is resolved by the cadence package.
func (s Schedule) Validate() error {
	switch s.Cadence {
	case CadenceDaily, CadenceWeekly:
	default:
		return Invalid("cadence", "must be DAILY or WEEKLY, got %q", s.Cadence)
	}
	if s.Cadence == CadenceWeekly && (s.DayOfWeek < time.Sunday || s.DayOfWeek > time.Saturday) {
		return Invalid("day_of_week", "must be 0-6, got %d", s.DayOfWeek)
	}
	if s.Hour < 0 || s.Hour > 23 {
		return Invalid("hour", "must be 0-23, got %d", s.Hour)
	}
	if s.Minute < 0 || s.Minute > 59 {
		return Invalid("minute", "must be 0-59, got %d", s.Minute)
	}
	switch s.CatchUp {
	case CatchUpSkipMissed, CatchUpReplayMissed:
	default:
		return Invalid("catch_up_mode", "must be skip-missed or replay-missed, got %q", s.CatchUp)
	}
	switch s.DSTInvalid {
	case DSTShiftForward, DSTSkip:
	default:
		return Invalid("dst_invalid_policy", "must be shift-forward or skip, got %q", s.DSTInvalid)
	}
	switch s.DSTAmbiguous {
	case DSTEarlierOffset, DSTLaterOffset:
	default:
		return Invalid("dst_ambiguous_policy", "must be earlier-offset or later-offset, got %q", s.DSTAmbiguous)
	}
	return nil
}
