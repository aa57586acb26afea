// Package circuitbreaker guards outbound HTTP endpoints. Each endpoint key
// trips open after a run of consecutive failures, stays open for a cooldown
// and then lets a single trial request through.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

type endpoint struct {
	state               State
	consecutiveFailures int
	openedAt            time.Time
}

// Breaker tracks one state machine per endpoint key.
type Breaker struct {
	mu        sync.Mutex
	endpoints map[string]*endpoint
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
	onChange  func(key string, from, to State)
}

func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold < 1 {
		threshold = 1
	}
	return &Breaker{
		endpoints: make(map[string]*endpoint),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

func (b *Breaker) WithClock(clock func() time.Time) *Breaker {
	b.clock = clock
	return b
}

// OnStateChange registers fn to be called, under the breaker lock, on every
// transition. fn must not call back into the breaker.
func (b *Breaker) OnStateChange(fn func(key string, from, to State)) *Breaker {
	b.onChange = fn
	return b
}

// Allow reports whether a call to key may proceed. An open endpoint whose
// cooldown elapsed moves to half-open and admits exactly one trial request.
func (b *Breaker) Allow(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.endpoints[key]
	if !ok {
		return nil
	}
	switch e.state {
	case StateOpen:
		if b.clock().Sub(e.openedAt) >= b.cooldown {
			b.transition(key, e, StateHalfOpen)
			return nil
		}
		return errors.Wrapf(ErrCircuitOpen, "endpoint %s", key)
	case StateHalfOpen:
		return errors.Wrapf(ErrCircuitOpen, "endpoint %s trial request in flight", key)
	default:
		return nil
	}
}

func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.endpoints[key]
	if !ok {
		return
	}
	e.consecutiveFailures = 0
	b.transition(key, e, StateClosed)
}

func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.endpoints[key]
	if !ok {
		e = &endpoint{state: StateClosed}
		b.endpoints[key] = e
	}
	e.consecutiveFailures++
	if e.state == StateHalfOpen || e.consecutiveFailures >= b.threshold {
		e.openedAt = b.clock()
		b.transition(key, e, StateOpen)
	}
}

// State returns the current state of key. Unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.endpoints[key]; ok {
		return e.state
	}
	return StateClosed
}

func (b *Breaker) transition(key string, e *endpoint, to State) {
	from := e.state
	e.state = to
	if from != to && b.onChange != nil {
		b.onChange(key, from, to)
	}
}
