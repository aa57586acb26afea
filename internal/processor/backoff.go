package processor

import (
	"time"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// BackoffFor builds the backoff of a retry policy.
func BackoffFor(p domain.RetryPolicy) Exponential {
	return Exponential{
		Initial: time.Duration(p.BackoffSeconds) * time.Second,
		Max:     time.Duration(p.MaxBackoffSeconds) * time.Second,
	}
}

// Delay returns the wait before the retry that follows failed attempt.
func (e Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := e.Initial
	for i := 1; i < attempt; i++ {
		if e.Max > 0 && d >= e.Max {
			break
		}
		d *= 2
	}
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}
