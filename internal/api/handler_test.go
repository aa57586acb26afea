package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/alerting"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/diagnostics"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/dlq"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/lease"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/processor"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/scheduler"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/store/memory"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/testutil"
)

var now = testutil.MustTime("2026-02-12T07:00:00Z")

type stubExecutor struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (e *stubExecutor) Execute(context.Context, domain.JobKind, domain.JobConfig, domain.ProjectContext) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return "", e.err
	}
	return "snapshot stored", nil
}

type fixture struct {
	store   *memory.Store
	exec    *stubExecutor
	clock   *testutil.FakeClock
	monitor *alerting.Monitor
	handler *Handler
	owner   uuid.UUID
	project uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   memory.New(),
		exec:    &stubExecutor{},
		clock:   testutil.NewFakeClock(now),
		owner:   uuid.New(),
		project: uuid.New(),
	}
	f.store.AddProject(f.project, f.owner)

	notifier := alerting.NotifierFunc(func(context.Context, alerting.Payload) alerting.DeliveryResult {
		return alerting.DeliveryResult{Status: domain.DeliverySent, Provider: "test", ResponseCode: http.StatusOK}
	})
	f.monitor = alerting.New(f.store, notifier, alerting.DefaultThresholds()).WithClock(f.clock.Now)
	proc := processor.New(f.store, f.exec).WithClock(f.clock.Now).WithObserver(f.monitor)
	diag := diagnostics.New(f.store, lease.New(f.store), scheduler.NewState(10), "").WithClock(f.clock.Now)

	f.handler = NewHandler(f.store, proc).
		WithDLQ(dlq.New(f.store, proc).WithClock(f.clock.Now)).
		WithAlerts(f.monitor).
		WithDiagnostics(diag).
		WithHealthChecker(f.store).
		WithClock(f.clock.Now)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return f.doAs(t, f.owner, method, path, body)
}

func (f *fixture) doAs(t *testing.T, owner uuid.UUID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if owner != uuid.Nil {
		req.Header.Set(OwnerHeader, owner.String())
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *fixture) createJob(t *testing.T, hour int) JobResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/v1/jobs", map[string]any{
		"project_id": f.project.String(),
		"name":       "daily snapshot",
		"kind":       "analytics-snapshot",
		"schedule":   map[string]any{"cadence": "DAILY", "hour": hour, "minute": 0, "timezone": "UTC"},
		"config":     map[string]any{"metrics": []string{"clicks", "impressions"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[JobResponse](t, rec)
}

// deadJob stores a dead-lettered job for f.owner.
func (f *fixture) deadJob(t *testing.T) domain.ScheduledJob {
	t.Helper()
	job := testutil.DailyJob(f.owner, f.project, 8, 0, now)
	job.Status = domain.JobStatusDeadLetter
	job.NextRunAt = nil
	job.ConsecutiveFailures = 3
	job.DeadLetteredAt = domain.TimePtr(now.Add(-time.Hour))
	require.NoError(t, f.store.CreateJob(context.Background(), job))
	return job
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.doAs(t, uuid.Nil, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)

	rec = f.doAs(t, uuid.Nil, http.MethodGet, "/health?verbose=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[HealthResponse](t, rec).Components["database"])

	f.handler.WithHealthChecker(failingPinger{})
	rec = f.doAs(t, uuid.Nil, http.MethodGet, "/health?verbose=true", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "unhealthy: connection refused", resp.Components["database"])
}

func TestOwnerHeader(t *testing.T) {
	f := newFixture(t)

	rec := f.doAs(t, uuid.Nil, http.MethodGet, "/v1/jobs", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	req.Header.Set(OwnerHeader, "not-a-uuid")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPut, "/v1/jobs", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestOptionalServicesNotConfigured(t *testing.T) {
	store := memory.New()
	h := NewHandler(store, processor.New(store, &stubExecutor{}))

	for _, path := range []string{"/v1/dlq", "/v1/alerts", "/v1/scheduler/diagnostics", "/v1/scheduler/ticks"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set(OwnerHeader, uuid.NewString())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNotImplemented, rec.Code, path)
	}
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantLimit  int
		wantOffset int
		wantErr    string
	}{
		{"defaults", "", DefaultLimit, 0, ""},
		{"explicit", "limit=10&offset=20", 10, 20, ""},
		{"zero limit uses default", "limit=0", DefaultLimit, 0, ""},
		{"max limit", "limit=1000", MaxLimit, 0, ""},
		{"over max", "limit=1001", 0, 0, "limit: exceeds maximum of 1000"},
		{"negative limit", "limit=-1", 0, 0, "limit: invalid limit parameter"},
		{"non-numeric limit", "limit=abc", 0, 0, "limit: invalid limit parameter"},
		{"negative offset", "offset=-5", 0, 0, "offset: invalid offset parameter"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/jobs?"+tt.query, nil)
			limit, offset, err := parsePagination(req)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantErr, err.Error())
				assert.True(t, domain.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, limit)
			assert.Equal(t, tt.wantOffset, offset)
		})
	}
}

func TestFailure_InternalErrorHidesDetail(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/jobs", nil)
	f.handler.failure(rec, req, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decode[ErrorResponse](t, rec).Error)
}

func TestDecodeJSON_BodyTooLarge(t *testing.T) {
	f := newFixture(t)
	big := `{"name":"` + string(bytes.Repeat([]byte("x"), maxRequestBodySize)) + `"}`
	rec := f.do(t, http.MethodPost, "/v1/jobs", big)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "body", decode[ErrorResponse](t, rec).Field)
}

func TestParseTimeParam(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?from="+url.QueryEscape("2026-02-12T09:00:00+01:00"), nil)
	got, err := parseTimeParam(req, "from")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, testutil.MustTime("2026-02-12T08:00:00Z"), *got)

	req = httptest.NewRequest(http.MethodGet, "/?from=yesterday", nil)
	_, err = parseTimeParam(req, "from")
	assert.True(t, domain.IsValidation(err))
}
