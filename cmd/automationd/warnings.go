package main

import (
	"go.uber.org/zap"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/config"
)

// logConfigWarnings reports configurations that start but risk missed or
// stuck jobs. P0 warnings can lose work; P1 warnings reduce visibility.
func logConfigWarnings(cfg config.Config, logger *zap.Logger) {
	for _, w := range cfg.Warnings {
		logger.Warn("config: " + w)
	}

	if cfg.SchedulerEnabled && cfg.TickInterval > 0 && cfg.LeaseDuration < 2*cfg.TickInterval {
		logger.Warn("WARNING [P0]: LEASE_DURATION is shorter than two tick intervals; a slow tick may lose the lease while jobs run",
			zap.Duration("lease_duration", cfg.LeaseDuration),
			zap.Duration("tick_interval", cfg.TickInterval))
	}

	if !cfg.ReconcileEnabled {
		logger.Warn("WARNING [P0]: RECONCILE_ENABLED=false; jobs claimed by a crashed instance stay claimed until edited")
	}

	if cfg.StoreBackend == "memory" {
		logger.Warn("WARNING [P0]: STORE_BACKEND=memory; all jobs, runs and alerts are lost on restart")
	}

	if !cfg.MetricsEnabled {
		logger.Warn("WARNING [P1]: METRICS_ENABLED=false; tick and run metrics are not exported")
	}

	if cfg.JobWorkerURL == "" {
		logger.Info("INFO: JOB_WORKER_URL not set; job kinds are acknowledged without running any work")
	}
}
