package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

func (h *Handler) processDue(w http.ResponseWriter, r *http.Request) {
	var req ProcessDueRequest
	if err := decodeJSON(r, &req, true); err != nil {
		h.failure(w, r, err)
		return
	}
	// now may only move evaluation back in time; a later now would run
	// occurrences of every owner early.
	now := h.clock().UTC()
	if req.Now != nil {
		if req.Now.After(now) {
			h.failure(w, r, domain.Invalid("now", "must not be later than the current time"))
			return
		}
		now = req.Now.UTC()
	}
	limit := h.batchLimit
	if req.Limit != nil {
		if *req.Limit < 1 || *req.Limit > MaxLimit {
			h.failure(w, r, domain.Invalid("limit", "must be 1-%d", MaxLimit))
			return
		}
		limit = *req.Limit
	}

	res, err := h.proc.ProcessDue(r.Context(), now, limit)
	if err != nil {
		h.failure(w, r, err)
		return
	}

	owner := ownerFrom(r.Context())
	runs := make([]domain.JobRun, 0, len(res.Runs))
	for _, run := range res.Runs {
		if run.OwnerID == owner {
			runs = append(runs, run)
		}
	}
	writeJSON(w, http.StatusOK, ProcessDueResponse{
		Processed:    res.Processed,
		RemainingDue: res.RemainingDue,
		Runs:         toRunResponses(runs),
	})
}

func (h *Handler) getDiagnostics(w http.ResponseWriter, r *http.Request) {
	rep, err := h.diagnostics.Report(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDiagnosticsResponse(rep))
}

// listTicks accepts outcome as a comma-separated list or a repeated
// parameter.
func (h *Handler) listTicks(w http.ResponseWriter, r *http.Request) {
	var f domain.TickFilter
	for _, v := range r.URL.Query()["outcome"] {
		for _, o := range strings.Split(v, ",") {
			o = strings.TrimSpace(o)
			if o == "" {
				continue
			}
			if !domain.ValidTickOutcome(o) {
				h.failure(w, r, domain.Invalid("outcome", "unknown tick outcome %q", o))
				return
			}
			f.Outcomes = append(f.Outcomes, domain.TickOutcome(o))
		}
	}

	var err error
	if f.From, err = parseTimeParam(r, "from"); err != nil {
		h.failure(w, r, err)
		return
	}
	if f.To, err = parseTimeParam(r, "to"); err != nil {
		h.failure(w, r, err)
		return
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		if f.Limit, err = strconv.Atoi(s); err != nil || f.Limit < 0 {
			h.failure(w, r, domain.Invalid("limit", "invalid limit parameter"))
			return
		}
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		if f.Offset, err = strconv.Atoi(s); err != nil || f.Offset < 0 {
			h.failure(w, r, domain.Invalid("offset", "invalid offset parameter"))
			return
		}
	}

	page, err := h.diagnostics.Ticks(r.Context(), f)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListTicksResponse{
		Ticks:  toTickResponses(page.Ticks),
		Total:  page.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}
