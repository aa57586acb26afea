package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const namespace = "automation"

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	logger *zap.Logger

	// Scheduler metrics
	ticksTotal      *prometheus.CounterVec
	tickDuration    prometheus.Histogram
	leaseAcquired   prometheus.Counter
	leaseContention prometheus.Counter

	// Processor metrics
	runsTotal          *prometheus.CounterVec
	runDuration        *prometheus.HistogramVec
	retriesTotal       *prometheus.CounterVec
	deadLetteredTotal  prometheus.Counter
	dueBacklog         prometheus.Gauge
	staleClaimsTotal   prometheus.Counter
	workerCallsTotal   *prometheus.CounterVec
	workerCallDuration prometheus.Histogram
	breakerState       *prometheus.GaugeVec

	// Alerting metrics
	alertsRaised     *prometheus.CounterVec
	alertsSuppressed *prometheus.CounterVec
	alertDeliveries  *prometheus.CounterVec

	// EventBus metrics
	bufferCapacity prometheus.Gauge
	bufferSize     prometheus.Gauge
	eventsDropped  prometheus.Counter
}

var _ Sink = (*PrometheusSink)(nil)

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink;
// the failed collector keeps counting but is not exported.
func NewPrometheusSink(reg prometheus.Registerer, logger *zap.Logger) *PrometheusSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PrometheusSink{logger: logger}
	s.initSchedulerMetrics(reg)
	s.initProcessorMetrics(reg)
	s.initAlertingMetrics(reg)
	s.initEventBusMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_ticks_total",
		Help:      "Total number of scheduler ticks by outcome.",
	}, []string{"outcome"})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scheduler_tick_duration_seconds",
		Help:      "Duration of each scheduler tick in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	})
	s.leaseAcquired = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_lease_acquired_total",
		Help:      "Total number of successful scheduler lease acquisitions.",
	})
	s.leaseContention = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_lease_contended_total",
		Help:      "Total number of lease attempts lost to another holder.",
	})

	s.register(reg, s.ticksTotal, "scheduler_ticks_total")
	s.register(reg, s.tickDuration, "scheduler_tick_duration_seconds")
	s.register(reg, s.leaseAcquired, "scheduler_lease_acquired_total")
	s.register(reg, s.leaseContention, "scheduler_lease_contended_total")
}

func (s *PrometheusSink) initProcessorMetrics(reg prometheus.Registerer) {
	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_runs_total",
		Help:      "Total number of job runs by trigger and status.",
	}, []string{"trigger", "status"})
	s.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_run_duration_seconds",
		Help:      "Duration of job runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"trigger"})
	s.retriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_retries_scheduled_total",
		Help:      "Total number of retries scheduled by attempt number.",
	}, []string{"attempt"})
	s.deadLetteredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_dead_lettered_total",
		Help:      "Total number of jobs moved to the dead-letter state.",
	})
	s.dueBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jobs_due_backlog",
		Help:      "Due jobs left after the last processing pass.",
	})
	s.staleClaimsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_claims_recovered_total",
		Help:      "Total number of stuck job claims released by the reconciler.",
	})
	s.workerCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "worker_calls_total",
		Help:      "Total number of job worker calls by status class.",
	}, []string{"status_class"})
	s.workerCallDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "worker_call_duration_seconds",
		Help:      "Duration of job worker calls in seconds.",
		Buckets:   prometheus.DefBuckets,
	})
	s.breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_open",
		Help:      "1 while the breaker for an endpoint is open or half-open.",
	}, []string{"endpoint"})

	s.register(reg, s.runsTotal, "job_runs_total")
	s.register(reg, s.runDuration, "job_run_duration_seconds")
	s.register(reg, s.retriesTotal, "job_retries_scheduled_total")
	s.register(reg, s.deadLetteredTotal, "jobs_dead_lettered_total")
	s.register(reg, s.dueBacklog, "jobs_due_backlog")
	s.register(reg, s.staleClaimsTotal, "stale_claims_recovered_total")
	s.register(reg, s.workerCallsTotal, "worker_calls_total")
	s.register(reg, s.workerCallDuration, "worker_call_duration_seconds")
	s.register(reg, s.breakerState, "circuit_breaker_open")
}

func (s *PrometheusSink) initAlertingMetrics(reg prometheus.Registerer) {
	s.alertsRaised = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_raised_total",
		Help:      "Total number of alerts raised by type.",
	}, []string{"type"})
	s.alertsSuppressed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alerts_suppressed_total",
		Help:      "Total number of alerts suppressed by dedupe, by type.",
	}, []string{"type"})
	s.alertDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "alert_deliveries_total",
		Help:      "Total number of outbound alert deliveries by status.",
	}, []string{"status"})

	s.register(reg, s.alertsRaised, "alerts_raised_total")
	s.register(reg, s.alertsSuppressed, "alerts_suppressed_total")
	s.register(reg, s.alertDeliveries, "alert_deliveries_total")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "eventbus_buffer_capacity",
		Help:      "Capacity of the run-event bus buffer.",
	})
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "eventbus_buffer_size",
		Help:      "Current number of events in the run-event bus buffer.",
	})
	s.eventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "eventbus_events_dropped_total",
		Help:      "Total number of run events dropped on a full buffer.",
	})

	s.register(reg, s.bufferCapacity, "eventbus_buffer_capacity")
	s.register(reg, s.bufferSize, "eventbus_buffer_size")
	s.register(reg, s.eventsDropped, "eventbus_events_dropped_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("metrics: failed to register collector", zap.String("name", name), zap.Error(err))
	}
}

// Scheduler metrics implementation

func (s *PrometheusSink) TickCompleted(outcome string, duration time.Duration) {
	s.ticksTotal.WithLabelValues(outcome).Inc()
	s.tickDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) LeaseAcquired() {
	s.leaseAcquired.Inc()
}

func (s *PrometheusSink) LeaseContended() {
	s.leaseContention.Inc()
}

// Processor metrics implementation

func (s *PrometheusSink) RunCompleted(trigger, status string, duration time.Duration) {
	s.runsTotal.WithLabelValues(trigger, status).Inc()
	s.runDuration.WithLabelValues(trigger).Observe(duration.Seconds())
}

func (s *PrometheusSink) RetryScheduled(attempt int) {
	s.retriesTotal.WithLabelValues(strconv.Itoa(attempt)).Inc()
}

func (s *PrometheusSink) JobDeadLettered() {
	s.deadLetteredTotal.Inc()
}

func (s *PrometheusSink) DueBacklog(n int) {
	s.dueBacklog.Set(float64(n))
}

func (s *PrometheusSink) StaleClaimsRecovered(n int) {
	s.staleClaimsTotal.Add(float64(n))
}

func (s *PrometheusSink) WorkerCallCompleted(statusClass string, duration time.Duration) {
	s.workerCallsTotal.WithLabelValues(statusClass).Inc()
	s.workerCallDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) BreakerStateChanged(endpoint, state string) {
	v := 1.0
	if state == "closed" {
		v = 0
	}
	s.breakerState.WithLabelValues(endpoint).Set(v)
}

// Alerting metrics implementation

func (s *PrometheusSink) AlertRaised(alertType string) {
	s.alertsRaised.WithLabelValues(alertType).Inc()
}

func (s *PrometheusSink) AlertSuppressed(alertType string) {
	s.alertsSuppressed.WithLabelValues(alertType).Inc()
}

func (s *PrometheusSink) AlertDelivery(status string) {
	s.alertDeliveries.WithLabelValues(status).Inc()
}

// EventBus metrics implementation

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) EventDropped() {
	s.eventsDropped.Inc()
}
