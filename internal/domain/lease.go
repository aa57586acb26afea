package domain

import "time"

// SchedulerLock is the persisted form of a named lease. An empty OwnerToken
// or a LockedUntil in the past means the lease is free.
type SchedulerLock struct {
	Name        string
	OwnerToken  string
	LockedUntil *time.Time
	UpdatedAt   time.Time
}

// HeldAt reports whether the lease is held at now.
func (l SchedulerLock) HeldAt(now time.Time) bool {
	return l.OwnerToken != "" && l.LockedUntil != nil && l.LockedUntil.After(now)
}
