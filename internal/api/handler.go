// Package api exposes the automation service over HTTP.
//
// Every /v1 route is scoped to the owner named by the X-Owner-ID header,
// which the authenticating gateway sets. Entities owned by someone else are
// reported as not found.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/alerting"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/diagnostics"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/dlq"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/processor"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000

	// OwnerHeader carries the authenticated tenant id.
	OwnerHeader = "X-Owner-ID"

	maxRequestBodySize = 1 << 20
)

// JobStore is the persistence the job endpoints need.
type JobStore interface {
	ProjectOwner(ctx context.Context, projectID uuid.UUID) (uuid.UUID, error)
	CreateJob(ctx context.Context, job domain.ScheduledJob) error
	GetJob(ctx context.Context, ownerID, jobID uuid.UUID) (domain.ScheduledJob, error)
	ListJobs(ctx context.Context, ownerID uuid.UUID, f domain.JobFilter) ([]domain.ScheduledJob, error)
	CompareAndSwapJob(ctx context.Context, job domain.ScheduledJob, expectedVersion int64) (bool, error)
	DeleteJob(ctx context.Context, ownerID, jobID uuid.UUID) error
	ListRuns(ctx context.Context, ownerID, jobID uuid.UUID, limit, offset int) ([]domain.JobRun, error)
}

// Processor runs due jobs and manual triggers.
type Processor interface {
	ProcessDue(ctx context.Context, now time.Time, limit int) (processor.Result, error)
	TriggerNow(ctx context.Context, job domain.ScheduledJob) (domain.JobRun, domain.ScheduledJob, error)
}

type DLQ interface {
	List(ctx context.Context, ownerID uuid.UUID, f domain.JobFilter) ([]domain.ScheduledJob, error)
	Get(ctx context.Context, ownerID, jobID uuid.UUID) (dlq.Entry, error)
	Ack(ctx context.Context, ownerID, jobID uuid.UUID, note string) (dlq.AckResult, error)
	Requeue(ctx context.Context, ownerID, jobID uuid.UUID, from *time.Time, note string) (dlq.RequeueResult, error)
	RetryNow(ctx context.Context, ownerID, jobID uuid.UUID, note string) (dlq.RetryResult, error)
	BulkAck(ctx context.Context, ownerID uuid.UUID, ids []uuid.UUID, note string) dlq.BulkResult
	BulkRequeue(ctx context.Context, ownerID uuid.UUID, ids []uuid.UUID, from *time.Time, note string) dlq.BulkResult
	BulkRetryNow(ctx context.Context, ownerID uuid.UUID, ids []uuid.UUID, note string) dlq.BulkResult
}

type Alerts interface {
	List(ctx context.Context, ownerID uuid.UUID, f domain.AlertFilter) ([]domain.AlertEvent, error)
	Acknowledge(ctx context.Context, ownerID, alertID uuid.UUID) (domain.AlertEvent, error)
	Redeliver(ctx context.Context, ownerID, alertID uuid.UUID) (domain.AlertEvent, error)
}

type Diagnostics interface {
	Report(ctx context.Context, ownerID uuid.UUID) (diagnostics.Report, error)
	Ticks(ctx context.Context, f domain.TickFilter) (diagnostics.TickPage, error)
}

// HealthChecker checks backing store connectivity.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

var (
	_ DLQ         = (*dlq.Service)(nil)
	_ Alerts      = (*alerting.Monitor)(nil)
	_ Diagnostics = (*diagnostics.Service)(nil)
	_ Processor   = (*processor.Processor)(nil)
)

type Handler struct {
	store       JobStore
	proc        Processor
	dlq         DLQ
	alerts      Alerts
	diagnostics Diagnostics
	health      HealthChecker
	batchLimit  int
	clock       func() time.Time
	logger      *zap.Logger

	router chi.Router
}

func NewHandler(store JobStore, proc Processor) *Handler {
	h := &Handler{
		store:      store,
		proc:       proc,
		batchLimit: processor.DefaultBatchLimit,
		clock:      time.Now,
		logger:     zap.NewNop(),
	}
	h.router = h.routes()
	return h
}

func (h *Handler) WithDLQ(d DLQ) *Handler {
	h.dlq = d
	return h
}

func (h *Handler) WithAlerts(a Alerts) *Handler {
	h.alerts = a
	return h
}

func (h *Handler) WithDiagnostics(d Diagnostics) *Handler {
	h.diagnostics = d
	return h
}

// WithHealthChecker enables the verbose database check on /health.
func (h *Handler) WithHealthChecker(hc HealthChecker) *Handler {
	h.health = hc
	return h
}

func (h *Handler) WithLogger(l *zap.Logger) *Handler {
	h.logger = l
	return h
}

func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

// WithBatchLimit sets the process-due limit used when the request has none.
func (h *Handler) WithBatchLimit(n int) *Handler {
	if n > 0 {
		h.batchLimit = n
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(limitBody)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", h.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(requireOwner)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", h.createJob)
			r.Get("/", h.listJobs)
			r.Get("/{id}", h.getJob)
			r.Patch("/{id}", h.patchJob)
			r.Delete("/{id}", h.deleteJob)
			r.Post("/{id}/trigger", h.triggerJob)
			r.Get("/{id}/runs", h.listRuns)
		})

		r.Route("/scheduler", func(r chi.Router) {
			r.Post("/process-due", h.processDue)
			r.With(h.require(func() bool { return h.diagnostics != nil })).Get("/diagnostics", h.getDiagnostics)
			r.With(h.require(func() bool { return h.diagnostics != nil })).Get("/ticks", h.listTicks)
		})

		r.Route("/dlq", func(r chi.Router) {
			r.Use(h.require(func() bool { return h.dlq != nil }))
			r.Get("/", h.listDLQ)
			r.Post("/bulk/ack", h.bulkAck)
			r.Post("/bulk/requeue", h.bulkRequeue)
			r.Post("/bulk/retry-now", h.bulkRetryNow)
			r.Get("/{id}", h.getDLQ)
			r.Post("/{id}/ack", h.ackDLQ)
			r.Post("/{id}/requeue", h.requeueDLQ)
			r.Post("/{id}/retry-now", h.retryNowDLQ)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Use(h.require(func() bool { return h.alerts != nil }))
			r.Get("/", h.listAlerts)
			r.Post("/{id}/acknowledge", h.acknowledgeAlert)
			r.Post("/{id}/redeliver", h.redeliverAlert)
		})
	})
	return r
}

// require answers 501 when the optional service behind a route group is not
// configured.
func (h *Handler) require(ok func() bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !ok() {
				writeError(w, http.StatusNotImplemented, "not configured")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		}
		next.ServeHTTP(w, r)
	})
}

type ownerKey struct{}

func requireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(OwnerHeader)
		if raw == "" {
			writeError(w, http.StatusUnauthorized, "missing "+OwnerHeader+" header")
			return
		}
		owner, err := uuid.Parse(raw)
		if err != nil || owner == uuid.Nil {
			writeError(w, http.StatusUnauthorized, "invalid "+OwnerHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	})
}

func ownerFrom(ctx context.Context) uuid.UUID {
	owner, _ := ctx.Value(ownerKey{}).(uuid.UUID)
	return owner
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("verbose") != "true" || h.health == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Components: map[string]string{}}
	if err := h.health.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// failure maps a service error onto a response. Unexpected errors are logged
// and reported without detail.
func (h *Handler) failure(w http.ResponseWriter, r *http.Request, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ve.Message, Field: ve.Field, Code: "VALIDATION"})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "not found", Code: string(dlq.CodeNotFound)})
	case errors.Is(err, domain.ErrInvalidStatus), errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicateJobID):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: string(dlq.CodeFor(err))})
	default:
		h.logger.Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, domain.Invalid("id", "must be a UUID")
	}
	return id, nil
}

// decodeJSON reads a single JSON object. An empty body leaves v untouched
// when optional is set.
func decodeJSON(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.Invalid("body", "exceeds %d bytes", tooLarge.Limit)
		}
		return domain.Invalid("body", "invalid JSON: %v", err)
	}
	return nil
}

// parsePagination reads limit and offset. A limit of 0 means the default.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit

	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err = strconv.Atoi(s)
		if err != nil || limit < 0 {
			return 0, 0, domain.Invalid("limit", "invalid limit parameter")
		}
		if limit == 0 {
			limit = DefaultLimit
		}
		if limit > MaxLimit {
			return 0, 0, domain.Invalid("limit", "exceeds maximum of %d", MaxLimit)
		}
	}

	if s := r.URL.Query().Get("offset"); s != "" {
		offset, err = strconv.Atoi(s)
		if err != nil || offset < 0 {
			return 0, 0, domain.Invalid("offset", "invalid offset parameter")
		}
	}

	return limit, offset, nil
}

func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, domain.Invalid(name, "must be RFC3339")
	}
	return domain.TimePtr(t), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
