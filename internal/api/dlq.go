package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/dlq"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

func (h *Handler) listDLQ(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	f := domain.JobFilter{Limit: limit, Offset: offset}
	if s := r.URL.Query().Get("project_id"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			h.failure(w, r, domain.Invalid("project_id", "must be a UUID"))
			return
		}
		f.ProjectID = &id
	}
	jobs, err := h.dlq.List(r.Context(), ownerFrom(r.Context()), f)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: toJobResponses(jobs)})
}

func (h *Handler) getDLQ(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	entry, err := h.dlq.Get(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDlqEntryResponse(entry))
}

// dlqAction decodes the optional body of a single-job DLQ operation.
func (h *Handler) dlqAction(w http.ResponseWriter, r *http.Request) (uuid.UUID, DlqActionRequest, bool) {
	id, err := pathID(r)
	if err != nil {
		h.failure(w, r, err)
		return uuid.Nil, DlqActionRequest{}, false
	}
	var req DlqActionRequest
	if err := decodeJSON(r, &req, true); err != nil {
		h.failure(w, r, err)
		return uuid.Nil, DlqActionRequest{}, false
	}
	return id, req, true
}

func (h *Handler) ackDLQ(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.dlqAction(w, r)
	if !ok {
		return
	}
	res, err := h.dlq.Ack(r.Context(), ownerFrom(r.Context()), id, req.Note)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AckResponse{Job: toJobResponse(res.Job), AlreadyAcknowledged: res.AlreadyAcknowledged})
}

func (h *Handler) requeueDLQ(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.dlqAction(w, r)
	if !ok {
		return
	}
	res, err := h.dlq.Requeue(r.Context(), ownerFrom(r.Context()), id, utcPtr(req.From), req.Note)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RequeueResponse{Job: toJobResponse(res.Job), AlreadyRequeued: res.AlreadyRequeued})
}

func (h *Handler) retryNowDLQ(w http.ResponseWriter, r *http.Request) {
	id, req, ok := h.dlqAction(w, r)
	if !ok {
		return
	}
	res, err := h.dlq.RetryNow(r.Context(), ownerFrom(r.Context()), id, req.Note)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	resp := RetryNowResponse{Job: toJobResponse(res.Job), AlreadyRetried: res.AlreadyRetried}
	if res.Run != nil {
		run := toRunResponse(*res.Run)
		resp.Run = &run
	}
	writeJSON(w, http.StatusOK, resp)
}

// bulkRequest validates a bulk body. Duplicates are kept so the service can
// report them per item.
func (h *Handler) bulkRequest(w http.ResponseWriter, r *http.Request) ([]uuid.UUID, DlqBulkRequest, bool) {
	var req DlqBulkRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.failure(w, r, err)
		return nil, req, false
	}
	if len(req.JobIDs) == 0 {
		h.failure(w, r, domain.Invalid("job_ids", "must not be empty"))
		return nil, req, false
	}
	if len(req.JobIDs) > dlq.MaxBulkSize {
		h.failure(w, r, domain.Invalid("job_ids", "must contain at most %d ids", dlq.MaxBulkSize))
		return nil, req, false
	}
	ids := make([]uuid.UUID, len(req.JobIDs))
	for i, s := range req.JobIDs {
		id, err := uuid.Parse(s)
		if err != nil {
			h.failure(w, r, domain.Invalid("job_ids", "element %d is not a UUID", i))
			return nil, req, false
		}
		ids[i] = id
	}
	return ids, req, true
}

func (h *Handler) bulkAck(w http.ResponseWriter, r *http.Request) {
	ids, req, ok := h.bulkRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toBulkResponse(h.dlq.BulkAck(r.Context(), ownerFrom(r.Context()), ids, req.Note)))
}

func (h *Handler) bulkRequeue(w http.ResponseWriter, r *http.Request) {
	ids, req, ok := h.bulkRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toBulkResponse(h.dlq.BulkRequeue(r.Context(), ownerFrom(r.Context()), ids, utcPtr(req.From), req.Note)))
}

func (h *Handler) bulkRetryNow(w http.ResponseWriter, r *http.Request) {
	ids, req, ok := h.bulkRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toBulkResponse(h.dlq.BulkRetryNow(r.Context(), ownerFrom(r.Context()), ids, req.Note)))
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return domain.TimePtr(*t)
}
