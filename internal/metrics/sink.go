package metrics

import (
	"strings"
	"time"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Scheduler metrics
	TickCompleted(outcome string, duration time.Duration)
	LeaseAcquired()
	LeaseContended()

	// Processor metrics
	RunCompleted(trigger, status string, duration time.Duration)
	RetryScheduled(attempt int)
	JobDeadLettered()
	DueBacklog(n int)
	StaleClaimsRecovered(n int)

	// Job worker metrics
	WorkerCallCompleted(statusClass string, duration time.Duration)
	BreakerStateChanged(endpoint, state string)

	// Alerting metrics
	AlertRaised(alertType string)
	AlertSuppressed(alertType string)
	AlertDelivery(status string)

	// EventBus metrics
	BufferCapacitySet(capacity int)
	BufferSizeUpdate(size int)
	EventDropped()
}

// StatusClass constants for WorkerCallCompleted.
const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassBreakerOpen     = "breaker_open"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps an HTTP status code and transport error to a status
// class. A response status wins over the error it produced.
func ClassifyStatus(statusCode int, err error) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	case err == nil:
		return StatusClassOtherError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "circuit breaker is open"):
		return StatusClassBreakerOpen
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return StatusClassTimeout
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "network is unreachable") || strings.Contains(msg, "dial"):
		return StatusClassConnectionError
	default:
		return StatusClassOtherError
	}
}
