package config

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the automation service.
// Values are loaded from environment variables; see SetDefaults for the full
// list. Durations keep their raw string next to the parsed value so Validate
// can report malformed input.
type Config struct {
	StoreBackend   string `json:"store_backend"`
	DatabaseURL    string `json:"database_url"`
	DatabaseDriver string `json:"database_driver"`
	RedisAddr      string `json:"redis_addr,omitempty"`
	LeaseBackend   string `json:"lease_backend"`
	HTTPAddr       string `json:"http_addr"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	DBOpTimeout          time.Duration `json:"-"`
	DBOpTimeoutStr       string        `json:"db_op_timeout"`
	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	SchedulerEnabled bool          `json:"scheduler_enabled"`
	RunOnStartup     bool          `json:"scheduler_run_on_startup"`
	TickInterval     time.Duration `json:"-"`
	TickIntervalStr  string        `json:"tick_interval"`
	LeaseName        string        `json:"lease_name"`
	// LeaseDuration defaults to four tick intervals when empty.
	LeaseDuration       time.Duration `json:"-"`
	LeaseDurationStr    string        `json:"lease_duration"`
	BatchLimit          int           `json:"batch_limit"`
	ExecutionTimeout    time.Duration `json:"-"`
	ExecutionTimeoutStr string        `json:"execution_timeout"`
	TickHistorySize     int           `json:"tick_history_size"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsAddr    string `json:"metrics_addr"`
	MetricsPath    string `json:"metrics_path"`

	ReconcileEnabled      bool          `json:"reconcile_enabled"`
	ReconcileInterval     time.Duration `json:"-"`
	ReconcileIntervalStr  string        `json:"reconcile_interval"`
	ReconcileThreshold    time.Duration `json:"-"`
	ReconcileThresholdStr string        `json:"reconcile_threshold"`
	ReconcileBatchSize    int           `json:"reconcile_batch_size"`

	EventBusBufferSize int `json:"eventbus_buffer_size"`

	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	// JobWorkerURL empty means jobs are accepted without a worker.
	JobWorkerURL        string        `json:"job_worker_url,omitempty"`
	JobWorkerSecret     string        `json:"-"`
	JobWorkerTimeout    time.Duration `json:"-"`
	JobWorkerTimeoutStr string        `json:"job_worker_timeout"`

	AlertWebhookEnabled       bool          `json:"alert_webhook_enabled"`
	AlertWebhookURL           string        `json:"alert_webhook_url,omitempty"`
	AlertWebhookSecret        string        `json:"-"`
	AlertWebhookTimeout       time.Duration `json:"-"`
	AlertWebhookTimeoutStr    string        `json:"alert_webhook_timeout"`
	AlertWebhookRatePerMinute int           `json:"alert_webhook_rate_per_minute"`

	AlertContentionSpikeCount     int           `json:"alert_contention_spike_count"`
	AlertContentionSpikeWindow    time.Duration `json:"-"`
	AlertContentionSpikeWindowStr string        `json:"alert_contention_spike_window"`
	AlertConsecutiveFailures      int           `json:"alert_consecutive_failures"`
	AlertFailureRatePercent       float64       `json:"alert_failure_rate_percent"`
	AlertFailureRateWindow        time.Duration `json:"-"`
	AlertFailureRateWindowStr     string        `json:"alert_failure_rate_window"`
	AlertFailureRateMinSamples    int           `json:"alert_failure_rate_min_samples"`
	AlertDeadLetterCount          int           `json:"alert_dead_letter_count"`
	AlertDedupeWindow             time.Duration `json:"-"`
	AlertDedupeWindowStr          string        `json:"alert_dedupe_window"`

	DiagnosticsWindow    time.Duration `json:"-"`
	DiagnosticsWindowStr string        `json:"diagnostics_window"`

	// Warnings collects values that were ignored in favour of a default.
	Warnings []string `json:"-"`
}

// SetDefaults registers the default of every key. Keys are the lower-case
// environment variable names.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store_backend", "postgres")
	v.SetDefault("database_driver", "postgres")
	v.SetDefault("lease_backend", "database")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	v.SetDefault("db_op_timeout", "5s")
	v.SetDefault("db_max_open_conns", 25)
	v.SetDefault("db_max_idle_conns", 5)
	v.SetDefault("db_conn_max_lifetime", "30m")
	v.SetDefault("db_conn_max_idle_time", "5m")
	v.SetDefault("http_shutdown_timeout", "10s")

	v.SetDefault("scheduler_enabled", true)
	v.SetDefault("scheduler_run_on_startup", true)
	v.SetDefault("tick_interval", "60s")
	v.SetDefault("lease_name", "automation-scheduler")
	v.SetDefault("lease_duration", "")
	v.SetDefault("batch_limit", 50)
	v.SetDefault("execution_timeout", "2m")
	v.SetDefault("tick_history_size", 50)

	v.SetDefault("metrics_enabled", false)
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("metrics_path", "/metrics")

	v.SetDefault("reconcile_enabled", true)
	v.SetDefault("reconcile_interval", "5m")
	v.SetDefault("reconcile_threshold", "30m")
	v.SetDefault("reconcile_batch_size", 100)

	v.SetDefault("eventbus_buffer_size", 1000)
	v.SetDefault("analytics_retention", "168h")

	v.SetDefault("circuit_breaker_threshold", 5)
	v.SetDefault("circuit_breaker_cooldown", "2m")

	v.SetDefault("job_worker_timeout", "60s")

	v.SetDefault("alert_webhook_enabled", false)
	v.SetDefault("alert_webhook_timeout", "5s")
	v.SetDefault("alert_webhook_rate_per_minute", 30)

	v.SetDefault("alert_contention_spike_count", 3)
	v.SetDefault("alert_contention_spike_window", "10m")
	v.SetDefault("alert_consecutive_failures", 3)
	v.SetDefault("alert_failure_rate_percent", 50.0)
	v.SetDefault("alert_failure_rate_window", "1h")
	v.SetDefault("alert_failure_rate_min_samples", 5)
	v.SetDefault("alert_dead_letter_count", 5)
	v.SetDefault("alert_dedupe_window", "1h")

	v.SetDefault("diagnostics_window", "24h")
}

// NewViper returns a viper instance bound to the process environment.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	return LoadFrom(NewViper())
}

// LoadFrom builds a Config from v. Malformed integers fall back to their
// default and are reported in Warnings; malformed durations are left for
// Validate.
func LoadFrom(v *viper.Viper) Config {
	l := loader{v: v}
	cfg := Config{
		StoreBackend:   strings.ToLower(v.GetString("store_backend")),
		DatabaseURL:    v.GetString("database_url"),
		DatabaseDriver: strings.ToLower(v.GetString("database_driver")),
		RedisAddr:      v.GetString("redis_addr"),
		LeaseBackend:   strings.ToLower(v.GetString("lease_backend")),
		HTTPAddr:       v.GetString("http_addr"),
		LogLevel:       v.GetString("log_level"),
		LogFormat:      v.GetString("log_format"),

		DBOpTimeoutStr:         v.GetString("db_op_timeout"),
		DBMaxOpenConns:         l.positiveInt("db_max_open_conns"),
		DBMaxIdleConns:         l.positiveInt("db_max_idle_conns"),
		DBConnMaxLifetimeStr:   v.GetString("db_conn_max_lifetime"),
		DBConnMaxIdleTimeStr:   v.GetString("db_conn_max_idle_time"),
		HTTPShutdownTimeoutStr: v.GetString("http_shutdown_timeout"),

		SchedulerEnabled:    l.bool("scheduler_enabled"),
		RunOnStartup:        l.bool("scheduler_run_on_startup"),
		TickIntervalStr:     v.GetString("tick_interval"),
		LeaseName:           v.GetString("lease_name"),
		LeaseDurationStr:    v.GetString("lease_duration"),
		BatchLimit:          l.positiveInt("batch_limit"),
		ExecutionTimeoutStr: v.GetString("execution_timeout"),
		TickHistorySize:     l.positiveInt("tick_history_size"),

		MetricsEnabled: l.bool("metrics_enabled"),
		MetricsAddr:    v.GetString("metrics_addr"),
		MetricsPath:    v.GetString("metrics_path"),

		ReconcileEnabled:      l.bool("reconcile_enabled"),
		ReconcileIntervalStr:  v.GetString("reconcile_interval"),
		ReconcileThresholdStr: v.GetString("reconcile_threshold"),
		ReconcileBatchSize:    l.positiveInt("reconcile_batch_size"),

		EventBusBufferSize:    l.positiveInt("eventbus_buffer_size"),
		AnalyticsRetentionStr: v.GetString("analytics_retention"),

		CircuitBreakerThreshold:   l.nonNegativeInt("circuit_breaker_threshold"),
		CircuitBreakerCooldownStr: v.GetString("circuit_breaker_cooldown"),

		JobWorkerURL:        v.GetString("job_worker_url"),
		JobWorkerSecret:     v.GetString("job_worker_secret"),
		JobWorkerTimeoutStr: v.GetString("job_worker_timeout"),

		AlertWebhookEnabled:       l.bool("alert_webhook_enabled"),
		AlertWebhookURL:           v.GetString("alert_webhook_url"),
		AlertWebhookSecret:        v.GetString("alert_webhook_secret"),
		AlertWebhookTimeoutStr:    v.GetString("alert_webhook_timeout"),
		AlertWebhookRatePerMinute: l.nonNegativeInt("alert_webhook_rate_per_minute"),

		AlertContentionSpikeCount:     l.positiveInt("alert_contention_spike_count"),
		AlertContentionSpikeWindowStr: v.GetString("alert_contention_spike_window"),
		AlertConsecutiveFailures:      l.positiveInt("alert_consecutive_failures"),
		AlertFailureRatePercent:       l.float("alert_failure_rate_percent"),
		AlertFailureRateWindowStr:     v.GetString("alert_failure_rate_window"),
		AlertFailureRateMinSamples:    l.positiveInt("alert_failure_rate_min_samples"),
		AlertDeadLetterCount:          l.positiveInt("alert_dead_letter_count"),
		AlertDedupeWindowStr:          v.GetString("alert_dedupe_window"),

		DiagnosticsWindowStr: v.GetString("diagnostics_window"),
	}

	// Support PORT as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := v.GetString("port"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}

	// Parse durations; validation is handled separately by Validate().
	for _, d := range cfg.durations() {
		*d.dst, _ = time.ParseDuration(*d.raw)
	}
	if cfg.LeaseDurationStr == "" && cfg.TickInterval > 0 {
		cfg.LeaseDuration = 4 * cfg.TickInterval
	}

	cfg.Warnings = l.warnings
	return cfg
}

type durationField struct {
	key string
	raw *string
	dst *time.Duration
}

// durations lists every duration pair. Keys are the environment names.
func (c *Config) durations() []durationField {
	return []durationField{
		{"DB_OP_TIMEOUT", &c.DBOpTimeoutStr, &c.DBOpTimeout},
		{"DB_CONN_MAX_LIFETIME", &c.DBConnMaxLifetimeStr, &c.DBConnMaxLifetime},
		{"DB_CONN_MAX_IDLE_TIME", &c.DBConnMaxIdleTimeStr, &c.DBConnMaxIdleTime},
		{"HTTP_SHUTDOWN_TIMEOUT", &c.HTTPShutdownTimeoutStr, &c.HTTPShutdownTimeout},
		{"TICK_INTERVAL", &c.TickIntervalStr, &c.TickInterval},
		{"LEASE_DURATION", &c.LeaseDurationStr, &c.LeaseDuration},
		{"EXECUTION_TIMEOUT", &c.ExecutionTimeoutStr, &c.ExecutionTimeout},
		{"RECONCILE_INTERVAL", &c.ReconcileIntervalStr, &c.ReconcileInterval},
		{"RECONCILE_THRESHOLD", &c.ReconcileThresholdStr, &c.ReconcileThreshold},
		{"ANALYTICS_RETENTION", &c.AnalyticsRetentionStr, &c.AnalyticsRetention},
		{"CIRCUIT_BREAKER_COOLDOWN", &c.CircuitBreakerCooldownStr, &c.CircuitBreakerCooldown},
		{"JOB_WORKER_TIMEOUT", &c.JobWorkerTimeoutStr, &c.JobWorkerTimeout},
		{"ALERT_WEBHOOK_TIMEOUT", &c.AlertWebhookTimeoutStr, &c.AlertWebhookTimeout},
		{"ALERT_CONTENTION_SPIKE_WINDOW", &c.AlertContentionSpikeWindowStr, &c.AlertContentionSpikeWindow},
		{"ALERT_FAILURE_RATE_WINDOW", &c.AlertFailureRateWindowStr, &c.AlertFailureRateWindow},
		{"ALERT_DEDUPE_WINDOW", &c.AlertDedupeWindowStr, &c.AlertDedupeWindow},
		{"DIAGNOSTICS_WINDOW", &c.DiagnosticsWindowStr, &c.DiagnosticsWindow},
	}
}

// loader reads typed values and falls back to the registered default when
// the environment holds garbage.
type loader struct {
	v        *viper.Viper
	warnings []string
}

func (l *loader) fallback(key, raw, want string) string {
	def, ok := defaultOf(key)
	if !ok {
		def = "0"
	}
	l.warnings = append(l.warnings,
		"invalid "+strings.ToUpper(key)+" "+strconv.Quote(raw)+" (must be "+want+"), using default "+def)
	return def
}

func (l *loader) positiveInt(key string) int {
	raw := strings.TrimSpace(l.v.GetString(key))
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return n
	}
	n, _ := strconv.Atoi(l.fallback(key, raw, "a positive integer"))
	return n
}

func (l *loader) nonNegativeInt(key string) int {
	raw := strings.TrimSpace(l.v.GetString(key))
	if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
		return n
	}
	n, _ := strconv.Atoi(l.fallback(key, raw, "a non-negative integer"))
	return n
}

func (l *loader) float(key string) float64 {
	raw := strings.TrimSpace(l.v.GetString(key))
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	f, _ := strconv.ParseFloat(l.fallback(key, raw, "a number"), 64)
	return f
}

func (l *loader) bool(key string) bool {
	raw := strings.TrimSpace(l.v.GetString(key))
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	b, _ := strconv.ParseBool(l.fallback(key, raw, "true or false"))
	return b
}

// defaultOf returns the registered default of key as a string.
func defaultOf(key string) (string, bool) {
	d := viper.New()
	SetDefaults(d)
	if !d.IsSet(key) {
		return "", false
	}
	return d.GetString(key), true
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	masked.RedisAddr = maskRedis(c.RedisAddr)
	out := struct {
		Config
		JobWorkerSecret    string `json:"job_worker_secret,omitempty"`
		AlertWebhookSecret string `json:"alert_webhook_secret,omitempty"`
	}{
		Config:             masked,
		JobWorkerSecret:    maskSecret(c.JobWorkerSecret),
		AlertWebhookSecret: maskSecret(c.AlertWebhookSecret),
	}
	return json.MarshalIndent(out, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}

// maskRedis hides credentials in a redis:// URL and keeps plain host:port.
func maskRedis(s string) string {
	if i := strings.Index(s, "@"); i >= 0 {
		return "***" + s[i:]
	}
	return s
}
