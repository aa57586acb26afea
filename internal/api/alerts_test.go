package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/alerting"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

func (f *fixture) raise(t *testing.T, owner *uuid.UUID, typ domain.AlertType, key string) domain.AlertEvent {
	t.Helper()
	alert, created, err := f.monitor.Raise(context.Background(), alerting.Alert{
		OwnerID:   owner,
		Type:      typ,
		Severity:  domain.SeverityWarning,
		Title:     "test alert",
		Message:   "threshold crossed",
		Threshold: 3,
		Observed:  4,
		DedupeKey: key,
	})
	require.NoError(t, err)
	require.True(t, created)
	return alert
}

func TestAlerts_ListVisibility(t *testing.T) {
	f := newFixture(t)
	stranger := uuid.New()
	global := f.raise(t, nil, domain.AlertLockContentionSpike, "scheduler")
	mine := f.raise(t, &f.owner, domain.AlertConsecutiveFailures, "job-1")
	f.raise(t, &stranger, domain.AlertConsecutiveFailures, "job-2")

	rec := f.do(t, http.MethodGet, "/v1/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	alerts := decode[ListAlertsResponse](t, rec).Alerts
	require.Len(t, alerts, 2)
	assert.Equal(t, mine.ID.String(), alerts[0].ID)
	assert.Equal(t, global.ID.String(), alerts[1].ID)
	assert.Nil(t, alerts[1].OwnerID)
	assert.Equal(t, 1, alerts[0].Metadata.Delivery.Successes)

	rec = f.do(t, http.MethodGet, "/v1/alerts?type=LOCK_CONTENTION_SPIKE", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ListAlertsResponse](t, rec).Alerts, 1)

	rec = f.do(t, http.MethodGet, "/v1/alerts?status=CLOSED", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAlerts_Acknowledge(t *testing.T) {
	f := newFixture(t)
	alert := f.raise(t, &f.owner, domain.AlertFailureRate, "owner")
	path := "/v1/alerts/" + alert.ID.String() + "/acknowledge"

	rec := f.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[AlertResponse](t, rec)
	assert.Equal(t, "ACKNOWLEDGED", got.Status)
	require.NotNil(t, got.AcknowledgedAt)

	rec = f.do(t, http.MethodGet, "/v1/alerts?status=OPEN", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[ListAlertsResponse](t, rec).Alerts)

	rec = f.doAs(t, uuid.New(), http.MethodPost, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAlerts_RedeliverAccumulates(t *testing.T) {
	f := newFixture(t)
	alert := f.raise(t, nil, domain.AlertLockContentionSpike, "scheduler")

	rec := f.do(t, http.MethodPost, "/v1/alerts/"+alert.ID.String()+"/redeliver", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[AlertResponse](t, rec)
	assert.Equal(t, 2, got.Metadata.Delivery.Attempts)
	assert.Equal(t, 2, got.Metadata.Delivery.Successes)
	assert.Equal(t, domain.DeliverySent, got.Metadata.Delivery.LastStatus)

	rec = f.do(t, http.MethodPost, "/v1/alerts/"+uuid.NewString()+"/redeliver", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
