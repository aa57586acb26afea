package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/api"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/config"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/store/memory"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/testutil"
)

func memoryConfig(t *testing.T, extra map[string]any) config.Config {
	t.Helper()
	values := map[string]any{
		"store_backend": "memory",
		"http_addr":     "127.0.0.1:0",
		"metrics_addr":  "127.0.0.1:0",
		"tick_interval": "1h",
	}
	for k, v := range extra {
		values[k] = v
	}
	cfg := loaderWith(values)()
	require.NoError(t, config.Validate(cfg))
	return cfg
}

func TestBuildApp_MemoryBackend(t *testing.T) {
	ctx := testutil.TestContext(t)
	a, err := buildApp(ctx, memoryConfig(t, nil), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(a.close)

	assert.Nil(t, a.bus, "no bus without redis")
	assert.Nil(t, a.metricsHandler(), "metrics disabled by default")
	assert.NotNil(t, a.reconciler)

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health?verbose=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health api.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Components["database"])
}

func TestBuildApp_PostgresUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cfg := loaderWith(map[string]any{
		"database_url": "postgres://app:pw@127.0.0.1:1/automation?sslmode=disable&connect_timeout=1",
	})()
	require.NoError(t, config.Validate(cfg))

	_, err := buildApp(ctx, cfg, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestServe_StopsOnCancel(t *testing.T) {
	cfg := memoryConfig(t, map[string]any{"metrics_enabled": true})
	// cron logs its stop from its own goroutine, after serve returns.
	a, err := buildApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.close)
	require.NotNil(t, a.metricsHandler())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.serve(ctx, serveOptions{api: true, scheduler: true}) }()

	require.Eventually(t, func() bool {
		return len(a.runner.State().Snapshot().Recent) > 0
	}, 5*time.Second, 10*time.Millisecond, "startup tick recorded")
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServe_RedisLeaseAndAnalytics(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig(t, map[string]any{
		"redis_addr":               mr.Addr(),
		"lease_backend":            "redis",
		"scheduler_run_on_startup": false,
	})
	a, err := buildApp(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(a.close)
	require.NotNil(t, a.bus)

	owner, project := uuid.New(), uuid.New()
	store := a.store.(*memory.Store)
	store.AddProject(project, owner)
	job := testutil.DailyJob(owner, project, 8, 0, time.Now().Add(time.Hour))
	require.NoError(t, store.CreateJob(context.Background(), job))

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/"+job.ID.String()+"/trigger", nil)
	req.Header.Set(api.OwnerHeader, owner.String())
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, a.bus.Len())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, a.serve(ctx, serveOptions{}))

	assert.Equal(t, 0, a.bus.Len(), "bus drained on shutdown")
	var counted bool
	for _, key := range mr.Keys() {
		if strings.HasPrefix(key, "automation:runs:p:"+project.String()) {
			counted = true
		}
	}
	assert.True(t, counted, "run counted in redis, keys: %v", mr.Keys())
}
