package api

import (
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/processor"
)

// patchAttempts bounds how often a patch is re-applied after losing a
// version race.
const patchAttempts = 3

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	owner := ownerFrom(r.Context())

	var req CreateJobRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.failure(w, r, err)
		return
	}

	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		h.failure(w, r, domain.Invalid("project_id", "must be a UUID"))
		return
	}
	if err := validateName(req.Name); err != nil {
		h.failure(w, r, err)
		return
	}
	kind := domain.JobKind(req.Kind)
	cfg, err := domain.DecodeJobConfig(kind, req.Config)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	schedule, spec, err := req.Schedule.toSchedule()
	if err != nil {
		h.failure(w, r, err)
		return
	}
	retry := domain.DefaultRetryPolicy
	if req.Retry != nil {
		if retry, err = req.Retry.toPolicy(); err != nil {
			h.failure(w, r, err)
			return
		}
	}

	projectOwner, err := h.store.ProjectOwner(r.Context(), projectID)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	if projectOwner != owner {
		h.failure(w, r, domain.ErrNotFound)
		return
	}

	now := h.clock().UTC()
	job := domain.ScheduledJob{
		ID:        uuid.New(),
		OwnerID:   owner,
		ProjectID: projectID,
		Name:      req.Name,
		Kind:      kind,
		Schedule:  schedule,
		Config:    cfg,
		Retry:     retry,
		Status:    domain.JobStatusActive,
		Enabled:   req.Enabled == nil || *req.Enabled,
		NextRunAt: domain.TimePtr(spec.NextAtOrAfter(now)),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.store.CreateJob(r.Context(), job); err != nil {
		h.failure(w, r, err)
		return
	}

	h.logger.Info("api: job created",
		zap.String("job_id", job.ID.String()),
		zap.String("owner_id", owner.String()),
		zap.String("kind", string(kind)),
	)
	writeJSON(w, http.StatusCreated, toJobResponse(job))
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
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
	switch s := domain.JobStatus(r.URL.Query().Get("status")); s {
	case "", domain.JobStatusActive, domain.JobStatusDeadLetter:
		f.Status = s
	default:
		h.failure(w, r, domain.Invalid("status", "must be ACTIVE or DEAD_LETTER"))
		return
	}

	jobs, err := h.store.ListJobs(r.Context(), ownerFrom(r.Context()), f)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListJobsResponse{Jobs: toJobResponses(jobs)})
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

// loadJob resolves the {id} path parameter to a job the caller owns and
// writes the error response when it cannot.
func (h *Handler) loadJob(w http.ResponseWriter, r *http.Request) (domain.ScheduledJob, bool) {
	id, err := pathID(r)
	if err != nil {
		h.failure(w, r, err)
		return domain.ScheduledJob{}, false
	}
	job, err := h.store.GetJob(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		h.failure(w, r, err)
		return domain.ScheduledJob{}, false
	}
	return job, true
}

func (h *Handler) patchJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	var req PatchJobRequest
	if err := decodeJSON(r, &req, false); err != nil {
		h.failure(w, r, err)
		return
	}
	if req.Name != nil {
		if err := validateName(*req.Name); err != nil {
			h.failure(w, r, err)
			return
		}
	}
	var schedule *domain.Schedule
	if req.Schedule != nil {
		s, _, err := req.Schedule.toSchedule()
		if err != nil {
			h.failure(w, r, err)
			return
		}
		schedule = &s
	}
	var retry *domain.RetryPolicy
	if req.Retry != nil {
		p, err := req.Retry.toPolicy()
		if err != nil {
			h.failure(w, r, err)
			return
		}
		retry = &p
	}

	owner := ownerFrom(r.Context())
	for attempt := 0; attempt < patchAttempts; attempt++ {
		job, err := h.store.GetJob(r.Context(), owner, id)
		if err != nil {
			h.failure(w, r, err)
			return
		}
		expected := job.Version

		if req.Name != nil {
			job.Name = *req.Name
		}
		if req.Enabled != nil {
			job.Enabled = *req.Enabled
		}
		if len(req.Config) > 0 {
			cfg, err := domain.DecodeJobConfig(job.Kind, req.Config)
			if err != nil {
				h.failure(w, r, err)
				return
			}
			job.Config = cfg
		}
		if retry != nil {
			job.Retry = *retry
		}
		if schedule != nil || req.RescheduleFrom != nil {
			if schedule != nil {
				job.Schedule = *schedule
			}
			from := h.clock().UTC()
			if req.RescheduleFrom != nil {
				from = req.RescheduleFrom.UTC()
			}
			if err := processor.Reschedule(&job, from); err != nil {
				h.failure(w, r, err)
				return
			}
		}
		job.UpdatedAt = h.clock().UTC()
		job.Version = expected + 1

		ok, err := h.store.CompareAndSwapJob(r.Context(), job, expected)
		if err != nil {
			h.failure(w, r, err)
			return
		}
		if ok {
			writeJSON(w, http.StatusOK, toJobResponse(job))
			return
		}
	}
	h.failure(w, r, domain.ErrConflict)
}

func (h *Handler) deleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	if err := h.store.DeleteJob(r.Context(), ownerFrom(r.Context()), id); err != nil {
		h.failure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) triggerJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	run, updated, err := h.proc.TriggerNow(r.Context(), job)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TriggerResponse{Run: toRunResponse(run), Job: toJobResponse(updated)})
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadJob(w, r)
	if !ok {
		return
	}
	limit, offset, err := parsePagination(r)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	runs, err := h.store.ListRuns(r.Context(), job.OwnerID, job.ID, limit, offset)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListRunsResponse{Runs: toRunResponses(runs)})
}
