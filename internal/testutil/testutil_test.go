package testutil

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/cadence"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

func TestFakeClock_AdvanceAndSet(t *testing.T) {
	start := time.Date(2026, 2, 12, 7, 30, 0, 0, time.UTC)
	clock := NewFakeClock(start)

	clock.Advance(30 * time.Minute)
	if want := start.Add(30 * time.Minute); !clock.Now().Equal(want) {
		t.Errorf("after Advance(30m), Now() = %v, want %v", clock.Now(), want)
	}

	later := start.Add(48 * time.Hour)
	clock.Set(later)
	if !clock.Now().Equal(later) {
		t.Errorf("after Set, Now() = %v, want %v", clock.Now(), later)
	}
}

func TestTestContext_HasDeadline(t *testing.T) {
	ctx := TestContext(t)

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("TestContext should have a deadline")
	}
	if remaining := time.Until(deadline); remaining <= 0 || remaining > 6*time.Second {
		t.Errorf("deadline should be ~5s from now, got %v", remaining)
	}
}

func TestMustParseUUID_Invalid(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustParseUUID should panic on invalid UUID")
		}
	}()
	MustParseUUID("not-a-uuid")
}

func TestMustTime(t *testing.T) {
	got := MustTime("2026-02-12T08:00:00+01:00")
	if got.Location() != time.UTC || got.Hour() != 7 {
		t.Errorf("MustTime should normalize to UTC, got %v", got)
	}
}

func TestDailyJob_IsValid(t *testing.T) {
	next := MustTime("2026-02-12T08:00:00Z")
	job := DailyJob(uuid.New(), uuid.New(), 8, 0, next)

	if _, err := cadence.New(job.Schedule); err != nil {
		t.Fatalf("DailyJob schedule invalid: %v", err)
	}
	if err := job.Config.Validate(); err != nil {
		t.Fatalf("DailyJob config invalid: %v", err)
	}
	if job.Status != domain.JobStatusActive || !job.Enabled || !job.NextRunAt.Equal(next) {
		t.Errorf("unexpected job state: %+v", job)
	}
}
