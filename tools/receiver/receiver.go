package main

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/alerting"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/dispatcher"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

const (
	maxStored    = 50
	maxBodyBytes = 1 << 20
)

type settings struct {
	alertSecret  string
	workerSecret string
	// failKinds answer job calls of these kinds with 500.
	failKinds map[domain.JobKind]bool
}

type receivedAlert struct {
	ReceivedAt string           `json:"received_at"`
	Verified   bool             `json:"verified"`
	Alert      alerting.Payload `json:"alert"`
}

type receivedJob struct {
	ReceivedAt string             `json:"received_at"`
	Request    dispatcher.Request `json:"request"`
	Failed     bool               `json:"failed"`
}

type stats struct {
	Alerts     int64           `json:"alerts"`
	Jobs       int64           `json:"jobs"`
	Rejected   int64           `json:"rejected"`
	LastAlerts []receivedAlert `json:"last_alerts"`
	LastJobs   []receivedJob   `json:"last_jobs"`
	Since      string          `json:"since"`
}

// receiver stands in for both the alert webhook endpoint and the job worker
// during local runs.
type receiver struct {
	settings settings
	logger   *zap.Logger
	clock    func() time.Time

	mu    sync.Mutex
	stats stats
}

func newReceiver(s settings, logger *zap.Logger) *receiver {
	r := &receiver{settings: s, logger: logger, clock: time.Now}
	r.reset()
	return r
}

func (rc *receiver) routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/alerts", rc.handleAlert)
	r.Post("/jobs", rc.handleJob)
	r.Get("/stats", rc.handleStats)
	r.Post("/reset", func(w http.ResponseWriter, _ *http.Request) {
		rc.reset()
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return r
}

func (rc *receiver) reset() {
	rc.mu.Lock()
	rc.stats = stats{
		LastAlerts: []receivedAlert{},
		LastJobs:   []receivedJob{},
		Since:      rc.clock().UTC().Format(time.RFC3339),
	}
	rc.mu.Unlock()
}

func (rc *receiver) reject() {
	rc.mu.Lock()
	rc.stats.Rejected++
	rc.mu.Unlock()
}

func (rc *receiver) handleAlert(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	verified := false
	if rc.settings.alertSecret != "" {
		if !alerting.VerifySignature(rc.settings.alertSecret, body, r.Header.Get(alerting.HeaderSignature)) {
			rc.reject()
			rc.logger.Warn("receiver: alert signature mismatch", zap.String("alert_id", r.Header.Get(alerting.HeaderAlertID)))
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}
		verified = true
	}

	var p alerting.Payload
	if err := json.Unmarshal(body, &p); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	rc.mu.Lock()
	rc.stats.Alerts++
	rc.stats.LastAlerts = keepLast(append(rc.stats.LastAlerts, receivedAlert{
		ReceivedAt: rc.clock().UTC().Format(time.RFC3339Nano),
		Verified:   verified,
		Alert:      p,
	}))
	n := rc.stats.Alerts
	rc.mu.Unlock()

	rc.logger.Info("receiver: alert",
		zap.Int64("n", n),
		zap.String("type", string(p.Type)),
		zap.String("severity", string(p.Severity)),
		zap.String("title", p.Title))
	w.WriteHeader(http.StatusOK)
}

func (rc *receiver) handleJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	if rc.settings.workerSecret != "" &&
		!dispatcher.VerifySignature(rc.settings.workerSecret, body, r.Header.Get(dispatcher.HeaderSignature)) {
		rc.reject()
		rc.logger.Warn("receiver: job signature mismatch", zap.String("kind", r.Header.Get(dispatcher.HeaderKind)))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var req dispatcher.Request
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	failed := rc.settings.failKinds[req.Kind]

	rc.mu.Lock()
	rc.stats.Jobs++
	rc.stats.LastJobs = keepLast(append(rc.stats.LastJobs, receivedJob{
		ReceivedAt: rc.clock().UTC().Format(time.RFC3339Nano),
		Request:    req,
		Failed:     failed,
	}))
	rc.mu.Unlock()

	rc.logger.Info("receiver: job",
		zap.String("kind", string(req.Kind)),
		zap.String("project_id", req.ProjectID),
		zap.Bool("failed", failed))
	if failed {
		http.Error(w, "simulated failure for "+string(req.Kind), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(dispatcher.Response{Summary: string(req.Kind) + " accepted by receiver"})
}

func (rc *receiver) handleStats(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	s := rc.stats
	s.LastAlerts = append([]receivedAlert(nil), rc.stats.LastAlerts...)
	s.LastJobs = append([]receivedJob(nil), rc.stats.LastJobs...)
	rc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s)
}

func keepLast[T any](items []T) []T {
	if len(items) > maxStored {
		return items[len(items)-maxStored:]
	}
	return items
}
