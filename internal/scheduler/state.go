package scheduler

import (
	"sync"
	"time"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

// DefaultHistorySize is the number of recent ticks kept in memory.
const DefaultHistorySize = 50

// State holds the runtime counters of one tick loop. It is owned by the
// Runner it is passed to and safe for concurrent reads.
type State struct {
	mu             sync.Mutex
	recent         []domain.TickEvent
	next           int
	size           int
	totals         map[domain.TickOutcome]int64
	processedTotal int64
	last           *domain.TickEvent
	inFlight       bool
	inFlightSince  time.Time
}

func NewState(historySize int) *State {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &State{
		recent: make([]domain.TickEvent, historySize),
		totals: make(map[domain.TickOutcome]int64),
	}
}

// Record folds a finished tick into the counters.
func (s *State) Record(ev domain.TickEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.push(ev)
	s.totals[ev.Outcome]++
	s.processedTotal += int64(ev.Processed)
}

func (s *State) push(ev domain.TickEvent) {
	s.recent[s.next] = ev
	s.next = (s.next + 1) % len(s.recent)
	if s.size < len(s.recent) {
		s.size++
	}
	last := ev
	s.last = &last
}

func (s *State) setInFlight(inFlight bool, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = inFlight
	if inFlight {
		s.inFlightSince = at
	} else {
		s.inFlightSince = time.Time{}
	}
}

// Restore seeds the state from persisted history. recent is newest first;
// totals replace the per-outcome counters.
func (s *State) Restore(recent []domain.TickEvent, totals map[domain.TickOutcome]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(recent) > len(s.recent) {
		recent = recent[:len(s.recent)]
	}
	for i := len(recent) - 1; i >= 0; i-- {
		s.push(recent[i])
		s.processedTotal += int64(recent[i].Processed)
	}
	for o, n := range totals {
		s.totals[o] = n
	}
}

// Snapshot is a point-in-time copy of the state.
type Snapshot struct {
	InFlight       bool
	InFlightSince  *time.Time
	Totals         map[domain.TickOutcome]int64
	ProcessedTotal int64
	LastTick       *domain.TickEvent
	// Recent ticks, newest first.
	Recent []domain.TickEvent
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		InFlight:       s.inFlight,
		Totals:         make(map[domain.TickOutcome]int64, len(domain.TickOutcomes)),
		ProcessedTotal: s.processedTotal,
		Recent:         make([]domain.TickEvent, 0, s.size),
	}
	if s.inFlight {
		since := s.inFlightSince
		snap.InFlightSince = &since
	}
	for _, o := range domain.TickOutcomes {
		snap.Totals[o] = s.totals[o]
	}
	if s.last != nil {
		last := *s.last
		snap.LastTick = &last
	}
	for i := 1; i <= s.size; i++ {
		idx := (s.next - i + len(s.recent)) % len(s.recent)
		snap.Recent = append(snap.Recent, s.recent[idx])
	}
	return snap
}
