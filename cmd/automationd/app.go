package main

import (
	"context"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/alerting"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/analytics"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/api"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/circuitbreaker"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/config"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/diagnostics"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/dispatcher"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/dlq"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/lease"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/logging"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/metrics"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/processor"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/reconciler"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/scheduler"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/store/memory"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/store/postgres"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/transport/channel"
)

const leaseKeyPrefix = "automation:lease:"

// Store is everything the service needs from persistence. Both backends
// implement it.
type Store interface {
	api.JobStore
	api.HealthChecker
	processor.Store
	dlq.Store
	alerting.Store
	diagnostics.Store
	reconciler.Store
	scheduler.History
	lease.Store
}

var (
	_ Store = (*postgres.Store)(nil)
	_ Store = (*memory.Store)(nil)
)

// app holds the wired components of one process.
type app struct {
	cfg    config.Config
	logger *zap.Logger

	store    Store
	registry *prometheus.Registry
	sink     metrics.Sink

	bus       *channel.EventBus
	analytics *analytics.RedisSink

	runner     *scheduler.Runner
	reconciler *reconciler.Reconciler
	handler    http.Handler

	closers []func() error
}

// buildApp opens the configured backends and wires every component. The
// caller must call close.
func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	if err := a.openStore(ctx); err != nil {
		return a, err
	}

	var rdb redis.UniversalClient
	if cfg.RedisAddr != "" {
		rdb, err = newRedisClient(cfg.RedisAddr)
		if err != nil {
			return a, err
		}
		a.closers = append(a.closers, rdb.Close)
	}

	if cfg.MetricsEnabled {
		a.registry = prometheus.NewRegistry()
		a.sink = metrics.NewPrometheusSink(a.registry, logging.Component(logger, "metrics"))
	} else {
		a.sink = metrics.NewNoopSink()
	}

	var breaker *circuitbreaker.Breaker
	if cfg.CircuitBreakerThreshold > 0 {
		breaker = circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown).
			OnStateChange(func(key string, from, to circuitbreaker.State) {
				logger.Warn("circuit breaker: state changed",
					zap.String("endpoint", key),
					zap.String("from", string(from)),
					zap.String("to", string(to)))
				a.sink.BreakerStateChanged(key, string(to))
			})
	}

	registry := dispatcher.NewRegistry().WithFallback(dispatcher.LogHandler(logging.Component(logger, "dispatcher")))
	if cfg.JobWorkerURL != "" {
		worker := dispatcher.NewHTTPExecutor(cfg.JobWorkerURL, cfg.JobWorkerSecret, cfg.JobWorkerTimeout).
			WithLogger(logging.Component(logger, "dispatcher")).
			WithMetrics(a.sink)
		if breaker != nil {
			worker = worker.WithBreaker(breaker)
		}
		for _, kind := range domain.Kinds {
			registry.Register(kind, worker)
		}
	}

	notifier := alerting.NewWebhookNotifier(alerting.WebhookConfig{
		Enabled:       cfg.AlertWebhookEnabled,
		URL:           cfg.AlertWebhookURL,
		Secret:        cfg.AlertWebhookSecret,
		Timeout:       cfg.AlertWebhookTimeout,
		RatePerMinute: cfg.AlertWebhookRatePerMinute,
	})
	if breaker != nil {
		notifier = notifier.WithBreaker(breaker)
	}
	monitor := alerting.New(a.store, notifier, thresholdsFrom(cfg)).
		WithLogger(logging.Component(logger, "alerting")).
		WithMetrics(a.sink)

	proc := processor.New(a.store, registry).
		WithConfig(processor.Config{ExecutionTimeout: cfg.ExecutionTimeout}).
		WithLogger(logging.Component(logger, "processor")).
		WithObserver(monitor).
		WithMetrics(a.sink)

	if rdb != nil {
		a.analytics = analytics.NewRedisSink(rdb).WithRetention(cfg.AnalyticsRetention)
		a.bus = channel.NewEventBus(cfg.EventBusBufferSize,
			channel.WithMetrics(a.sink),
			channel.WithLogger(logging.Component(logger, "bus")))
		proc = proc.WithEvents(a.bus)
	}

	var leaseStore lease.Store = a.store
	if cfg.LeaseBackend == "redis" {
		leaseStore = lease.NewRedisStore(rdb, leaseKeyPrefix)
	}
	leases := lease.New(leaseStore).
		WithLogger(logging.Component(logger, "lease")).
		WithMetrics(a.sink)

	state := scheduler.NewState(cfg.TickHistorySize)
	if err := scheduler.RestoreState(ctx, a.store, state, cfg.TickHistorySize); err != nil {
		logger.Warn("scheduler: tick history not restored", zap.Error(err))
	}
	a.runner = scheduler.New(scheduler.Config{
		TickInterval:  cfg.TickInterval,
		LeaseName:     cfg.LeaseName,
		LeaseDuration: cfg.LeaseDuration,
		BatchLimit:    cfg.BatchLimit,
		RunOnStartup:  cfg.RunOnStartup,
	}, proc, leases, state).
		WithRecorder(monitor).
		WithMetrics(a.sink).
		WithLogger(logging.Component(logger, "scheduler"))

	if cfg.ReconcileEnabled {
		a.reconciler = reconciler.New(reconciler.Config{
			Interval:  cfg.ReconcileInterval,
			Threshold: cfg.ReconcileThreshold,
			BatchSize: cfg.ReconcileBatchSize,
		}, a.store).
			WithLogger(logging.Component(logger, "reconciler")).
			WithMetrics(a.sink)
	}

	queue := dlq.New(a.store, proc).WithLogger(logging.Component(logger, "dlq"))
	diag := diagnostics.New(a.store, leases, state, cfg.LeaseName).WithWindow(cfg.DiagnosticsWindow)

	a.handler = api.NewHandler(a.store, proc).
		WithDLQ(queue).
		WithAlerts(monitor).
		WithDiagnostics(diag).
		WithHealthChecker(a.store).
		WithBatchLimit(cfg.BatchLimit).
		WithLogger(logging.Component(logger, "api"))

	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	if a.cfg.StoreBackend == "memory" {
		a.store = memory.New()
		return nil
	}
	db, err := postgres.Open(ctx, a.cfg.DatabaseDriver, a.cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    a.cfg.DBMaxOpenConns,
		MaxIdleConns:    a.cfg.DBMaxIdleConns,
		ConnMaxLifetime: a.cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: a.cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	a.closers = append(a.closers, db.Close)
	a.store = postgres.New(db, a.cfg.DBOpTimeout).WithLogger(logging.Component(a.logger, "store"))
	return nil
}

// metricsHandler serves the registry, or nil when metrics are disabled.
func (a *app) metricsHandler() http.Handler {
	if a.registry == nil {
		return nil
	}
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})
}

// close releases connections in reverse order of opening.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("shutdown: close failed", zap.Error(err))
		}
	}
	a.closers = nil
}

// newRedisClient accepts a redis:// URL or a plain host:port.
func newRedisClient(addr string) (*redis.Client, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, errors.Wrap(err, "parse REDIS_ADDR")
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

func thresholdsFrom(cfg config.Config) alerting.Thresholds {
	return alerting.Thresholds{
		ContentionSpikeCount:  cfg.AlertContentionSpikeCount,
		ContentionSpikeWindow: cfg.AlertContentionSpikeWindow,
		ConsecutiveFailures:   cfg.AlertConsecutiveFailures,
		FailureRatePercent:    cfg.AlertFailureRatePercent,
		FailureRateWindow:     cfg.AlertFailureRateWindow,
		FailureRateMinSamples: cfg.AlertFailureRateMinSamples,
		DeadLetterCount:       cfg.AlertDeadLetterCount,
		DedupeWindow:          cfg.AlertDedupeWindow,
	}
}
