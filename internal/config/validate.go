package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// durations that must be strictly positive when set. LEASE_DURATION may be
// empty and then follows the tick interval.
var positiveDurations = map[string]bool{
	"DB_OP_TIMEOUT":                 true,
	"HTTP_SHUTDOWN_TIMEOUT":         true,
	"TICK_INTERVAL":                 true,
	"LEASE_DURATION":                true,
	"RECONCILE_INTERVAL":            true,
	"RECONCILE_THRESHOLD":           true,
	"ANALYTICS_RETENTION":           true,
	"JOB_WORKER_TIMEOUT":            true,
	"ALERT_WEBHOOK_TIMEOUT":         true,
	"ALERT_CONTENTION_SPIKE_WINDOW": true,
	"ALERT_FAILURE_RATE_WINDOW":     true,
	"ALERT_DEDUPE_WINDOW":           true,
	"DIAGNOSTICS_WINDOW":            true,
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	switch cfg.StoreBackend {
	case "postgres":
		if cfg.DatabaseURL == "" {
			errs.add("DATABASE_URL", "required when STORE_BACKEND=postgres")
		}
	case "memory":
	default:
		errs.add("STORE_BACKEND", "must be 'postgres' or 'memory', got %q", cfg.StoreBackend)
	}

	if cfg.DatabaseDriver != "postgres" && cfg.DatabaseDriver != "pgx" {
		errs.add("DATABASE_DRIVER", "must be 'postgres' or 'pgx', got %q", cfg.DatabaseDriver)
	}

	switch cfg.LeaseBackend {
	case "database":
	case "redis":
		if cfg.RedisAddr == "" {
			errs.add("REDIS_ADDR", "required when LEASE_BACKEND=redis")
		}
	default:
		errs.add("LEASE_BACKEND", "must be 'database' or 'redis', got %q", cfg.LeaseBackend)
	}

	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs.add("LOG_LEVEL", "must be debug, info, warn or error, got %q", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		errs.add("LOG_FORMAT", "must be 'json' or 'console', got %q", cfg.LogFormat)
	}

	for _, d := range cfg.durations() {
		if *d.raw == "" {
			if d.key != "LEASE_DURATION" && d.key != "EXECUTION_TIMEOUT" {
				errs.add(d.key, "required")
			}
			continue
		}
		parsed, err := time.ParseDuration(*d.raw)
		switch {
		case err != nil:
			errs.add(d.key, "invalid duration: %v", err)
		case parsed < 0:
			errs.add(d.key, "must not be negative")
		case parsed == 0 && positiveDurations[d.key]:
			errs.add(d.key, "must be positive")
		}
	}

	if cfg.TickInterval > 0 && cfg.LeaseDuration > 0 && cfg.LeaseDuration < cfg.TickInterval {
		errs.add("LEASE_DURATION", "must be at least TICK_INTERVAL (%s), got %s", cfg.TickInterval, cfg.LeaseDuration)
	}

	// A claim younger than the longest possible execution is still live; the
	// reconciler must never re-arm it. The execution timeout also bounds the
	// job worker call.
	if cfg.ReconcileEnabled {
		switch {
		case cfg.ExecutionTimeout == 0 && parsesOrEmpty(cfg.ExecutionTimeoutStr):
			errs.add("EXECUTION_TIMEOUT", "must be positive when RECONCILE_ENABLED=true")
		case cfg.ExecutionTimeout > 0 && cfg.ReconcileThreshold > 0 && cfg.ReconcileThreshold <= cfg.ExecutionTimeout:
			errs.add("RECONCILE_THRESHOLD", "must be greater than EXECUTION_TIMEOUT (%s), got %s", cfg.ExecutionTimeout, cfg.ReconcileThreshold)
		}
	}

	if cfg.MetricsEnabled && !strings.HasPrefix(cfg.MetricsPath, "/") {
		errs.add("METRICS_PATH", "must start with '/', got %q", cfg.MetricsPath)
	}

	if cfg.JobWorkerURL != "" {
		if err := checkHTTPURL(cfg.JobWorkerURL); err != "" {
			errs.add("JOB_WORKER_URL", "%s", err)
		}
	}

	if cfg.AlertWebhookEnabled {
		if cfg.AlertWebhookURL == "" {
			errs.add("ALERT_WEBHOOK_URL", "required when ALERT_WEBHOOK_ENABLED=true")
		} else if err := checkHTTPURL(cfg.AlertWebhookURL); err != "" {
			errs.add("ALERT_WEBHOOK_URL", "%s", err)
		}
	}

	if cfg.AlertFailureRatePercent <= 0 || cfg.AlertFailureRatePercent > 100 {
		errs.add("ALERT_FAILURE_RATE_PERCENT", "must be in (0, 100], got %g", cfg.AlertFailureRatePercent)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func checkHTTPURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("invalid URL: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Sprintf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "host is required"
	}
	return ""
}

func parsesOrEmpty(raw string) bool {
	if raw == "" {
		return true
	}
	_, err := time.ParseDuration(raw)
	return err == nil
}
