package alerting

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/circuitbreaker"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

// Header names on outbound alert webhooks.
const (
	HeaderAlertID   = "X-Automation-Alert-ID"
	HeaderSignature = "X-Automation-Signature"
	HeaderTimestamp = "X-Automation-Timestamp"
)

const ProviderWebhook = "webhook"

// Payload is the JSON body sent for an alert.
type Payload struct {
	AlertID   uuid.UUID            `json:"alert_id"`
	OwnerID   *uuid.UUID           `json:"owner_id,omitempty"`
	ProjectID *uuid.UUID           `json:"project_id,omitempty"`
	JobID     *uuid.UUID           `json:"job_id,omitempty"`
	RunID     *uuid.UUID           `json:"run_id,omitempty"`
	Type      domain.AlertType     `json:"type"`
	Severity  domain.AlertSeverity `json:"severity"`
	Title     string               `json:"title"`
	Message   string               `json:"message"`
	Threshold float64              `json:"threshold"`
	Observed  float64              `json:"observed"`
	CreatedAt time.Time            `json:"created_at"`
}

// PayloadFor builds the outbound payload of an alert.
func PayloadFor(a domain.AlertEvent) Payload {
	return Payload{
		AlertID:   a.ID,
		OwnerID:   a.OwnerID,
		ProjectID: a.ProjectID,
		JobID:     a.JobID,
		RunID:     a.RunID,
		Type:      a.Type,
		Severity:  a.Severity,
		Title:     a.Title,
		Message:   a.Message,
		Threshold: a.Threshold,
		Observed:  a.Observed,
		CreatedAt: a.CreatedAt,
	}
}

// DeliveryResult is what a notifier reports back. It is merged into the
// alert's delivery counters.
type DeliveryResult struct {
	Status       domain.DeliveryStatus
	Provider     string
	ResponseCode int
	Err          error
}

// Notifier sends an alert somewhere outside the service. Implementations
// report failures in the result rather than returning them.
type Notifier interface {
	Notify(ctx context.Context, p Payload) DeliveryResult
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, p Payload) DeliveryResult

func (f NotifierFunc) Notify(ctx context.Context, p Payload) DeliveryResult { return f(ctx, p) }

type WebhookConfig struct {
	Enabled bool
	URL     string
	Secret  string
	Timeout time.Duration
	// RatePerMinute caps deliveries; excess alerts are recorded as skipped.
	// Zero disables the cap.
	RatePerMinute int
}

// WebhookNotifier posts signed alert payloads to a single URL.
type WebhookNotifier struct {
	cfg     WebhookConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.Breaker
	clock   func() time.Time
}

func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	n := &WebhookNotifier{
		cfg:    cfg,
		client: &http.Client{},
		clock:  time.Now,
	}
	if cfg.RatePerMinute > 0 {
		n.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), 1)
	}
	return n
}

// WithBreaker guards the webhook URL with b.
func (n *WebhookNotifier) WithBreaker(b *circuitbreaker.Breaker) *WebhookNotifier {
	n.breaker = b
	return n
}

func (n *WebhookNotifier) WithHTTPClient(c *http.Client) *WebhookNotifier {
	n.client = c
	return n
}

func (n *WebhookNotifier) Notify(ctx context.Context, p Payload) DeliveryResult {
	res := DeliveryResult{Provider: ProviderWebhook}
	if !n.cfg.Enabled || n.cfg.URL == "" {
		res.Status = domain.DeliverySkipped
		res.Err = errors.New("webhook delivery disabled")
		return res
	}
	if n.limiter != nil && !n.limiter.Allow() {
		res.Status = domain.DeliverySkipped
		res.Err = errors.New("webhook rate limit reached")
		return res
	}
	if n.breaker != nil {
		if err := n.breaker.Allow(n.cfg.URL); err != nil {
			res.Status = domain.DeliverySkipped
			res.Err = err
			return res
		}
	}

	code, err := n.post(ctx, p)
	res.ResponseCode = code
	if err == nil && (code < 200 || code >= 300) {
		err = errors.Newf("webhook returned status %d", code)
	}
	if err != nil {
		res.Status = domain.DeliveryFailed
		res.Err = err
		if n.breaker != nil {
			n.breaker.RecordFailure(n.cfg.URL)
		}
		return res
	}
	res.Status = domain.DeliverySent
	if n.breaker != nil {
		n.breaker.RecordSuccess(n.cfg.URL)
	}
	return res
}

func (n *WebhookNotifier) post(ctx context.Context, p Payload) (int, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return 0, errors.Wrap(err, "marshal alert payload")
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderAlertID, p.AlertID.String())
	req.Header.Set(HeaderTimestamp, n.clock().UTC().Format(time.RFC3339))
	req.Header.Set(HeaderSignature, Sign(n.cfg.Secret, body))

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "send")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to check an incoming alert webhook.
func VerifySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}
