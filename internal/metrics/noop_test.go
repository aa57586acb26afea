package metrics

import (
	"testing"
	"time"
)

func TestNoopSink_AllMethods(t *testing.T) {
	// Verify that calling all methods on NoopSink does not panic.
	var s Sink = NewNoopSink()

	s.TickCompleted("processed", 100*time.Millisecond)
	s.LeaseAcquired()
	s.LeaseContended()

	s.RunCompleted("SCHEDULED", "SUCCESS", time.Second)
	s.RetryScheduled(2)
	s.JobDeadLettered()
	s.DueBacklog(10)
	s.StaleClaimsRecovered(1)

	s.WorkerCallCompleted(StatusClass5xx, time.Second)
	s.BreakerStateChanged("http://worker", "open")

	s.AlertRaised("FAILURE_RATE")
	s.AlertSuppressed("FAILURE_RATE")
	s.AlertDelivery("sent")

	s.BufferCapacitySet(100)
	s.BufferSizeUpdate(10)
	s.EventDropped()
}
