package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

var _ Sink = (*NoopSink)(nil)

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickCompleted(outcome string, duration time.Duration)           {}
func (n *NoopSink) LeaseAcquired()                                                 {}
func (n *NoopSink) LeaseContended()                                                {}
func (n *NoopSink) RunCompleted(trigger, status string, duration time.Duration)    {}
func (n *NoopSink) RetryScheduled(attempt int)                                     {}
func (n *NoopSink) JobDeadLettered()                                               {}
func (n *NoopSink) DueBacklog(count int)                                           {}
func (n *NoopSink) StaleClaimsRecovered(count int)                                 {}
func (n *NoopSink) WorkerCallCompleted(statusClass string, duration time.Duration) {}
func (n *NoopSink) BreakerStateChanged(endpoint, state string)                     {}
func (n *NoopSink) AlertRaised(alertType string)                                   {}
func (n *NoopSink) AlertSuppressed(alertType string)                               {}
func (n *NoopSink) AlertDelivery(status string)                                    {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                 {}
func (n *NoopSink) BufferSizeUpdate(size int)                                      {}
func (n *NoopSink) EventDropped()                                                  {}
