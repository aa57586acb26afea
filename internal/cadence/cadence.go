// Package cadence computes occurrence instants for daily and weekly jobs.
//
// Occurrences are wall-clock times in an IANA zone. Wall times that do not
// exist (spring-forward gap) or exist twice (fall-back overlap) are resolved
// by the schedule's DST policies. Everything here is pure: the same schedule
// and reference instant always produce the same answer.
package cadence

import (
	"time"
	_ "time/tzdata"

	"github.com/cockroachdb/errors"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

// maxScanDays bounds the forward search. A weekly schedule whose target date
// is skipped by a DST gap needs at most two periods.
const maxScanDays = 15

// Spec is a validated schedule bound to its location.
type Spec struct {
	schedule domain.Schedule
	loc      *time.Location
}

// New validates s and loads its timezone.
func New(s domain.Schedule) (Spec, error) {
	s = s.WithDefaults()
	if err := s.Validate(); err != nil {
		return Spec{}, err
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return Spec{}, errors.WithSecondaryError(
			domain.Invalid("timezone", "unknown IANA zone %q", s.Timezone), err)
	}
	return Spec{schedule: s, loc: loc}, nil
}

// Must is New for static schedules in tests and defaults.
func Must(s domain.Schedule) Spec {
	spec, err := New(s)
	if err != nil {
		panic(err)
	}
	return spec
}

// Location returns the schedule zone.
func (s Spec) Location() *time.Location { return s.loc }

// Schedule returns the normalized schedule.
func (s Spec) Schedule() domain.Schedule { return s.schedule }

// NextAtOrAfter returns the first occurrence >= ref.
func (s Spec) NextAtOrAfter(ref time.Time) time.Time {
	local := ref.In(s.loc)
	y, m, d := local.Date()
	for i := 0; i <= maxScanDays; i++ {
		// Noon never falls inside a transition, so date arithmetic is safe.
		day := time.Date(y, m, d+i, 12, 0, 0, 0, s.loc)
		if s.schedule.Cadence == domain.CadenceWeekly && day.Weekday() != s.schedule.DayOfWeek {
			continue
		}
		at, ok := s.resolve(day.Date())
		if ok && !at.Before(ref) {
			return at.UTC()
		}
	}
	// Unreachable for valid schedules.
	return ref.Add(24 * time.Hour * maxScanDays).UTC()
}

// NextAfter returns the first occurrence strictly after ref.
func (s Spec) NextAfter(ref time.Time) time.Time {
	return s.NextAtOrAfter(ref.Add(time.Nanosecond))
}

// resolve maps the configured wall time on the given date to an instant.
// ok is false when the DST skip policy drops this date.
func (s Spec) resolve(y int, m time.Month, d int) (time.Time, bool) {
	h, mi := s.schedule.Hour, s.schedule.Minute
	wall := time.Date(y, m, d, h, mi, 0, 0, time.UTC)

	candidates := s.candidates(wall)
	switch len(candidates) {
	case 0:
		if s.schedule.DSTInvalid == domain.DSTSkip {
			return time.Time{}, false
		}
		return s.gapEnd(wall), true
	case 1:
		return candidates[0], true
	default:
		if s.schedule.DSTAmbiguous == domain.DSTLaterOffset {
			return candidates[len(candidates)-1], true
		}
		return candidates[0], true
	}
}

// candidates returns every instant, ascending, whose local wall clock equals
// wall (expressed as a UTC time carrying the wall fields).
func (s Spec) candidates(wall time.Time) []time.Time {
	var out []time.Time
	for _, off := range s.offsetsAround(wall) {
		t := wall.Add(-time.Duration(off) * time.Second)
		if sameWall(t.In(s.loc), wall) && !containsInstant(out, t) {
			out = append(out, t)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Before(out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// offsetsAround collects the zone offsets in effect within a day and a half
// of wall. Any transition touching that wall time is covered.
func (s Spec) offsetsAround(wall time.Time) []int {
	var offs []int
	for _, shift := range []time.Duration{-36 * time.Hour, -12 * time.Hour, 0, 12 * time.Hour, 36 * time.Hour} {
		_, off := wall.Add(shift).In(s.loc).Zone()
		seen := false
		for _, o := range offs {
			if o == off {
				seen = true
				break
			}
		}
		if !seen {
			offs = append(offs, off)
		}
	}
	return offs
}

// gapEnd returns the first valid instant after the spring-forward gap that
// swallowed wall: the transition instant itself.
func (s Spec) gapEnd(wall time.Time) time.Time {
	offs := s.offsetsAround(wall)
	pre := offs[0]
	for _, o := range offs {
		if o < pre {
			pre = o
		}
	}
	// Read with the pre-transition offset the wall time lands after the
	// transition; the zone it lands in starts exactly at the gap end.
	after := wall.Add(-time.Duration(pre) * time.Second).In(s.loc)
	start, _ := after.ZoneBounds()
	if start.IsZero() {
		return after.UTC()
	}
	return start.UTC()
}

func sameWall(local, wall time.Time) bool {
	y1, m1, d1 := local.Date()
	y2, m2, d2 := wall.Date()
	return y1 == y2 && m1 == m2 && d1 == d2 &&
		local.Hour() == wall.Hour() && local.Minute() == wall.Minute()
}

func containsInstant(ts []time.Time, t time.Time) bool {
	for _, x := range ts {
		if x.Equal(t) {
			return true
		}
	}
	return false
}
