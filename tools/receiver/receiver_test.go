package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/alerting"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/dispatcher"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

func startReceiver(t *testing.T, s settings) (*receiver, *httptest.Server) {
	t.Helper()
	rc := newReceiver(s, zaptest.NewLogger(t))
	srv := httptest.NewServer(rc.routes())
	t.Cleanup(srv.Close)
	return rc, srv
}

func fetchStats(t *testing.T, srv *httptest.Server) stats {
	t.Helper()
	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	var s stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&s))
	return s
}

func TestReceiver_SignedAlert(t *testing.T) {
	_, srv := startReceiver(t, settings{alertSecret: "alert-secret"})
	notifier := alerting.NewWebhookNotifier(alerting.WebhookConfig{
		Enabled: true,
		URL:     srv.URL + "/alerts",
		Secret:  "alert-secret",
		Timeout: time.Second,
	})

	res := notifier.Notify(context.Background(), alerting.Payload{
		AlertID:  uuid.New(),
		Type:     domain.AlertLockContentionSpike,
		Severity: domain.SeverityWarning,
		Title:    "lock contention spike",
	})

	require.NoError(t, res.Err)
	assert.Equal(t, domain.DeliverySent, res.Status)
	assert.Equal(t, http.StatusOK, res.ResponseCode)
	s := fetchStats(t, srv)
	assert.EqualValues(t, 1, s.Alerts)
	require.Len(t, s.LastAlerts, 1)
	assert.True(t, s.LastAlerts[0].Verified)
	assert.Equal(t, "lock contention spike", s.LastAlerts[0].Alert.Title)
}

func TestReceiver_AlertWithWrongSecretRejected(t *testing.T) {
	_, srv := startReceiver(t, settings{alertSecret: "alert-secret"})
	notifier := alerting.NewWebhookNotifier(alerting.WebhookConfig{
		Enabled: true,
		URL:     srv.URL + "/alerts",
		Secret:  "other",
		Timeout: time.Second,
	})

	res := notifier.Notify(context.Background(), alerting.Payload{AlertID: uuid.New(), Title: "x"})

	assert.Equal(t, domain.DeliveryFailed, res.Status)
	assert.Equal(t, http.StatusUnauthorized, res.ResponseCode)
	s := fetchStats(t, srv)
	assert.EqualValues(t, 0, s.Alerts)
	assert.EqualValues(t, 1, s.Rejected)
}

func TestReceiver_JobWorker(t *testing.T) {
	_, srv := startReceiver(t, settings{
		workerSecret: "worker-secret",
		failKinds:    map[domain.JobKind]bool{domain.KindKeywordRankSync: true},
	})
	exec := dispatcher.NewHTTPExecutor(srv.URL+"/jobs", "worker-secret", time.Second)
	project := domain.ProjectContext{ProjectID: uuid.New(), OwnerID: uuid.New()}

	summary, err := exec.Execute(context.Background(), domain.KindAnalyticsSnapshot,
		domain.AnalyticsSnapshotConfig{Metrics: []string{"clicks"}}, project)
	require.NoError(t, err)
	assert.Equal(t, "analytics-snapshot accepted by receiver", summary)

	_, err = exec.Execute(context.Background(), domain.KindKeywordRankSync,
		domain.KeywordRankSyncConfig{KeywordSetID: "core", SearchEngine: "google", Locale: "en-US", Depth: 10}, project)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker responded 500")

	s := fetchStats(t, srv)
	assert.EqualValues(t, 2, s.Jobs)
	require.Len(t, s.LastJobs, 2)
	assert.Equal(t, project.ProjectID.String(), s.LastJobs[0].Request.ProjectID)
	assert.True(t, s.LastJobs[1].Failed)
}

func TestReceiver_JobWithBadSignatureRejected(t *testing.T) {
	_, srv := startReceiver(t, settings{workerSecret: "worker-secret"})

	resp, err := http.Post(srv.URL+"/jobs", "application/json", strings.NewReader(`{"kind":"analytics-snapshot"}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.EqualValues(t, 1, fetchStats(t, srv).Rejected)
}

func TestReceiver_Reset(t *testing.T) {
	rc, srv := startReceiver(t, settings{})
	rc.clock = func() time.Time { return time.Date(2026, 2, 12, 7, 0, 0, 0, time.UTC) }

	resp, err := http.Post(srv.URL+"/alerts", "application/json", strings.NewReader(`{"title":"t"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.EqualValues(t, 1, fetchStats(t, srv).Alerts)

	resp, err = http.Post(srv.URL+"/reset", "", nil)
	require.NoError(t, err)
	resp.Body.Close()

	s := fetchStats(t, srv)
	assert.EqualValues(t, 0, s.Alerts)
	assert.Empty(t, s.LastAlerts)
	assert.Equal(t, "2026-02-12T07:00:00Z", s.Since)
}

func TestSettingsFromEnv(t *testing.T) {
	env := map[string]string{
		"ALERT_SECRET": "a",
		"FAIL_KINDS":   " analytics-export, keyword-rank-sync ,",
	}
	s := settingsFromEnv(func(k string) string { return env[k] })

	assert.Equal(t, "a", s.alertSecret)
	assert.Empty(t, s.workerSecret)
	assert.Equal(t, map[domain.JobKind]bool{
		domain.KindAnalyticsExport: true,
		domain.KindKeywordRankSync: true,
	}, s.failKinds)
}
