package config

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() map[string]any {
	return map[string]any{"database_url": "postgres://localhost/automation"}
}

func with(base map[string]any, kv ...any) map[string]any {
	for i := 0; i < len(kv); i += 2 {
		base[kv[i].(string)] = kv[i+1]
	}
	return base
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, Validate(loadWith(validConfig())))
	assert.NoError(t, Validate(loadWith(map[string]any{"store_backend": "memory"})))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]any
		field   string
		wantMsg string
	}{
		{"missing database url", map[string]any{}, "DATABASE_URL", "required"},
		{"unknown store", with(validConfig(), "store_backend", "sqlite"), "STORE_BACKEND", "must be"},
		{"unknown driver", with(validConfig(), "database_driver", "mysql"), "DATABASE_DRIVER", "must be"},
		{"redis lease without addr", with(validConfig(), "lease_backend", "redis"), "REDIS_ADDR", "required"},
		{"unknown lease backend", with(validConfig(), "lease_backend", "etcd"), "LEASE_BACKEND", "must be"},
		{"bad log level", with(validConfig(), "log_level", "verbose"), "LOG_LEVEL", "must be"},
		{"bad log format", with(validConfig(), "log_format", "xml"), "LOG_FORMAT", "must be"},
		{"zero tick", with(validConfig(), "tick_interval", "0s"), "TICK_INTERVAL", "must be positive"},
		{"negative tick", with(validConfig(), "tick_interval", "-1s"), "TICK_INTERVAL", "must not be negative"},
		{"unparseable window", with(validConfig(), "alert_dedupe_window", "1 hour"), "ALERT_DEDUPE_WINDOW", "invalid duration"},
		{"lease shorter than tick", with(validConfig(), "tick_interval", "1m", "lease_duration", "30s"), "LEASE_DURATION", "at least TICK_INTERVAL"},
		{"webhook without url", with(validConfig(), "alert_webhook_enabled", true), "ALERT_WEBHOOK_URL", "required"},
		{"webhook bad scheme", with(validConfig(), "alert_webhook_enabled", true, "alert_webhook_url", "ftp://x"), "ALERT_WEBHOOK_URL", "scheme"},
		{"worker without host", with(validConfig(), "job_worker_url", "http://"), "JOB_WORKER_URL", "host"},
		{"failure rate above 100", with(validConfig(), "alert_failure_rate_percent", 150), "ALERT_FAILURE_RATE_PERCENT", "(0, 100]"},
		{"metrics path", with(validConfig(), "metrics_enabled", true, "metrics_path", "metrics"), "METRICS_PATH", "must start"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(loadWith(tt.values))
			require.Error(t, err)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			found := false
			for _, ve := range verrs {
				if ve.Field == tt.field {
					found = true
					assert.Contains(t, ve.Message, tt.wantMsg)
				}
			}
			assert.True(t, found, "no error for %s in %v", tt.field, err)
		})
	}
}

func TestValidate_ZeroExecutionTimeoutNeedsReconcilerOff(t *testing.T) {
	assert.NoError(t, Validate(loadWith(with(validConfig(), "execution_timeout", "0s", "reconcile_enabled", false))))
}

func TestValidate_ReconcileThresholdCoversExecution(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]any
		field   string
		wantMsg string
	}{
		{"unbounded execution", with(validConfig(), "execution_timeout", "0s"), "EXECUTION_TIMEOUT", "must be positive when RECONCILE_ENABLED=true"},
		{"empty execution timeout", with(validConfig(), "execution_timeout", ""), "EXECUTION_TIMEOUT", "must be positive when RECONCILE_ENABLED=true"},
		{"threshold equals timeout", with(validConfig(), "execution_timeout", "30m", "reconcile_threshold", "30m"), "RECONCILE_THRESHOLD", "greater than EXECUTION_TIMEOUT"},
		{"threshold below timeout", with(validConfig(), "execution_timeout", "45m", "reconcile_threshold", "30m"), "RECONCILE_THRESHOLD", "greater than EXECUTION_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(loadWith(tt.values))
			require.Error(t, err)

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			require.Len(t, verrs, 1, "%v", err)
			assert.Equal(t, tt.field, verrs[0].Field)
			assert.Contains(t, verrs[0].Message, tt.wantMsg)
		})
	}

	assert.NoError(t, Validate(loadWith(with(validConfig(), "execution_timeout", "29m", "reconcile_threshold", "30m"))))
}

func TestValidate_MultipleErrors(t *testing.T) {
	err := Validate(loadWith(map[string]any{"tick_interval": "bad", "log_format": "xml"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 validation errors:")
}

func TestValidationErrors_Error(t *testing.T) {
	assert.Equal(t, "", ValidationErrors{}.Error())
	assert.Equal(t, "A: b", ValidationErrors{{Field: "A", Message: "b"}}.Error())
}
