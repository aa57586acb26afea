package alerting

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/circuitbreaker"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/testutil"
)

func samplePayload() Payload {
	return Payload{
		AlertID:   uuid.New(),
		Type:      domain.AlertLockContentionSpike,
		Severity:  domain.SeverityWarning,
		Title:     "spike",
		CreatedAt: start,
	}
}

func TestWebhookNotifier_SignedDelivery(t *testing.T) {
	const secret = "s3cret"
	p := samplePayload()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.True(t, VerifySignature(secret, body, r.Header.Get(HeaderSignature)))
		assert.Equal(t, p.AlertID.String(), r.Header.Get(HeaderAlertID))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var got Payload
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, p.AlertID, got.AlertID)
		assert.Equal(t, domain.AlertLockContentionSpike, got.Type)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{Enabled: true, URL: srv.URL, Secret: secret})
	res := n.Notify(testutil.TestContext(t), p)
	assert.Equal(t, domain.DeliverySent, res.Status)
	assert.Equal(t, http.StatusAccepted, res.ResponseCode)
	assert.Equal(t, ProviderWebhook, res.Provider)
	assert.NoError(t, res.Err)
}

func TestWebhookNotifier_Disabled(t *testing.T) {
	n := NewWebhookNotifier(WebhookConfig{Enabled: false, URL: "http://127.0.0.1:1"})
	res := n.Notify(testutil.TestContext(t), samplePayload())
	assert.Equal(t, domain.DeliverySkipped, res.Status)
}

func TestWebhookNotifier_Non2xxIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	res := NewWebhookNotifier(WebhookConfig{Enabled: true, URL: srv.URL}).Notify(testutil.TestContext(t), samplePayload())
	assert.Equal(t, domain.DeliveryFailed, res.Status)
	assert.Equal(t, http.StatusBadGateway, res.ResponseCode)
	assert.ErrorContains(t, res.Err, "502")
}

func TestWebhookNotifier_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	n := NewWebhookNotifier(WebhookConfig{Enabled: true, URL: srv.URL, Timeout: 20 * time.Millisecond})
	res := n.Notify(testutil.TestContext(t), samplePayload())
	assert.Equal(t, domain.DeliveryFailed, res.Status)
	assert.Zero(t, res.ResponseCode)
	assert.Error(t, res.Err)
}

func TestWebhookNotifier_RateLimitSkips(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{Enabled: true, URL: srv.URL, RatePerMinute: 1})
	ctx := testutil.TestContext(t)
	assert.Equal(t, domain.DeliverySent, n.Notify(ctx, samplePayload()).Status)
	res := n.Notify(ctx, samplePayload())
	assert.Equal(t, domain.DeliverySkipped, res.Status)
	assert.ErrorContains(t, res.Err, "rate limit")
	assert.Equal(t, int32(1), hits.Load())
}

func TestWebhookNotifier_BreakerOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{Enabled: true, URL: srv.URL}).
		WithBreaker(circuitbreaker.New(2, time.Hour))
	ctx := testutil.TestContext(t)

	assert.Equal(t, domain.DeliveryFailed, n.Notify(ctx, samplePayload()).Status)
	assert.Equal(t, domain.DeliveryFailed, n.Notify(ctx, samplePayload()).Status)
	res := n.Notify(ctx, samplePayload())
	assert.Equal(t, domain.DeliverySkipped, res.Status)
	assert.ErrorIs(t, res.Err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestVerifySignature_Rejects(t *testing.T) {
	body := []byte(`{"alert_id":"x"}`)
	sig := Sign("a", body)
	assert.True(t, VerifySignature("a", body, sig))
	assert.False(t, VerifySignature("b", body, sig))
	assert.False(t, VerifySignature("a", []byte(`{}`), sig))
}
