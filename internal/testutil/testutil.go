// Package testutil provides shared test helpers for the automation packages.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

// FakeClock provides deterministic time for testing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFakeClock creates a FakeClock set to the given time.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Set jumps the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// MustParseUUID parses a UUID string and panics on error.
// Only for use in tests.
func MustParseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		panic("testutil.MustParseUUID: " + err.Error())
	}
	return id
}

// MustTime parses an RFC 3339 timestamp and panics on error.
func MustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic("testutil.MustTime: " + err.Error())
	}
	return t.UTC()
}

// DailyJob returns an ACTIVE, enabled daily UTC job at hour:minute whose
// next run is nextRunAt.
func DailyJob(ownerID, projectID uuid.UUID, hour, minute int, nextRunAt time.Time) domain.ScheduledJob {
	return domain.ScheduledJob{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		ProjectID: projectID,
		Name:      "daily snapshot",
		Kind:      domain.KindAnalyticsSnapshot,
		Schedule: domain.Schedule{
			Cadence:  domain.CadenceDaily,
			Hour:     hour,
			Minute:   minute,
			Timezone: "UTC",
		}.WithDefaults(),
		Config:    domain.AnalyticsSnapshotConfig{Metrics: []string{"clicks"}},
		Retry:     domain.RetryPolicy{MaxAttempts: 3, BackoffSeconds: 60, MaxBackoffSeconds: 600},
		Status:    domain.JobStatusActive,
		Enabled:   true,
		NextRunAt: domain.TimePtr(nextRunAt),
		Version:   1,
		CreatedAt: nextRunAt.Add(-time.Hour),
		UpdatedAt: nextRunAt.Add(-time.Hour),
	}
}
