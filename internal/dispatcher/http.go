package dispatcher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/circuitbreaker"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/metrics"
)

const (
	HeaderSignature = "X-Automation-Signature"
	HeaderKind      = "X-Automation-Job-Kind"
	HeaderTimestamp = "X-Automation-Timestamp"

	defaultTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
)

// Request is the body posted to a job worker.
type Request struct {
	Kind      domain.JobKind  `json:"kind"`
	Config    json.RawMessage `json:"config"`
	ProjectID string          `json:"project_id"`
	OwnerID   string          `json:"owner_id"`
}

// Response is what a job worker answers with on success.
type Response struct {
	Summary string `json:"summary"`
}

// HTTPExecutor posts job-kind work to an external worker endpoint and signs
// each body with HMAC-SHA256.
type HTTPExecutor struct {
	url     string
	secret  string
	timeout time.Duration
	client  *http.Client
	breaker *circuitbreaker.Breaker
	clock   func() time.Time
	logger  *zap.Logger
	metrics MetricsSink
}

// MetricsSink defines the interface for recording job worker metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	WorkerCallCompleted(statusClass string, duration time.Duration)
}

func NewHTTPExecutor(url, secret string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPExecutor{
		url:     url,
		secret:  secret,
		timeout: timeout,
		client:  &http.Client{},
		clock:   time.Now,
		logger:  zap.NewNop(),
	}
}

// WithBreaker guards the worker URL with b.
func (e *HTTPExecutor) WithBreaker(b *circuitbreaker.Breaker) *HTTPExecutor {
	e.breaker = b
	return e
}

func (e *HTTPExecutor) WithHTTPClient(c *http.Client) *HTTPExecutor {
	e.client = c
	return e
}

func (e *HTTPExecutor) WithClock(clock func() time.Time) *HTTPExecutor {
	e.clock = clock
	return e
}

func (e *HTTPExecutor) WithLogger(l *zap.Logger) *HTTPExecutor {
	e.logger = l
	return e
}

// WithMetrics attaches a metrics sink to the executor.
func (e *HTTPExecutor) WithMetrics(sink MetricsSink) *HTTPExecutor {
	e.metrics = sink
	return e
}

// Execute posts the job and returns the worker's summary. Transport errors,
// an open breaker and non-2xx answers are all failures.
func (e *HTTPExecutor) Execute(ctx context.Context, kind domain.JobKind, cfg domain.JobConfig, project domain.ProjectContext) (string, error) {
	start := time.Now()
	if e.breaker != nil {
		if err := e.breaker.Allow(e.url); err != nil {
			e.observe(0, err, start)
			return "", err
		}
	}
	summary, status, err := e.post(ctx, kind, cfg, project)
	if e.breaker != nil {
		if err != nil {
			e.breaker.RecordFailure(e.url)
		} else {
			e.breaker.RecordSuccess(e.url)
		}
	}
	e.observe(status, err, start)
	if err != nil {
		e.logger.Debug("dispatcher: job worker call failed",
			zap.String("kind", string(kind)),
			zap.String("project_id", project.ProjectID.String()),
			zap.Int("status", status),
			zap.Error(err))
	}
	return summary, err
}

func (e *HTTPExecutor) observe(status int, err error, start time.Time) {
	if e.metrics != nil {
		e.metrics.WorkerCallCompleted(metrics.ClassifyStatus(status, err), time.Since(start))
	}
}

func (e *HTTPExecutor) post(ctx context.Context, kind domain.JobKind, cfg domain.JobConfig, project domain.ProjectContext) (string, int, error) {
	rawCfg, err := domain.EncodeJobConfig(cfg)
	if err != nil {
		return "", 0, errors.Wrap(err, "encode config")
	}
	body, err := json.Marshal(Request{
		Kind:      kind,
		Config:    rawCfg,
		ProjectID: project.ProjectID.String(),
		OwnerID:   project.OwnerID.String(),
	})
	if err != nil {
		return "", 0, errors.Wrap(err, "marshal")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return "", 0, errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderKind, string(kind))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(e.clock().Unix(), 10))
	req.Header.Set(HeaderSignature, Sign(e.secret, body))

	resp, err := e.client.Do(req)
	if err != nil {
		return "", 0, errors.Wrap(err, "send")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", resp.StatusCode, errors.Wrap(err, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", resp.StatusCode, errors.Newf("worker responded %d: %s", resp.StatusCode, truncate(string(data), 200))
	}
	var out Response
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return "", resp.StatusCode, errors.Wrap(err, "decode response")
		}
	}
	return out.Summary, resp.StatusCode, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for job workers to verify incoming requests.
func VerifySignature(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
