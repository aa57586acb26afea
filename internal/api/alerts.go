package api

import (
	"net/http"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	f := domain.AlertFilter{Limit: limit, Offset: offset}
	switch s := domain.AlertStatus(r.URL.Query().Get("status")); s {
	case "", domain.AlertOpen, domain.AlertAcknowledged:
		f.Status = s
	default:
		h.failure(w, r, domain.Invalid("status", "must be OPEN or ACKNOWLEDGED"))
		return
	}
	if s := r.URL.Query().Get("type"); s != "" {
		f.Type = domain.AlertType(s)
	}

	alerts, err := h.alerts.List(r.Context(), ownerFrom(r.Context()), f)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	resp := ListAlertsResponse{Alerts: make([]AlertResponse, len(alerts))}
	for i, a := range alerts {
		resp.Alerts[i] = toAlertResponse(a)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) acknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	alert, err := h.alerts.Acknowledge(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAlertResponse(alert))
}

func (h *Handler) redeliverAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	alert, err := h.alerts.Redeliver(r.Context(), ownerFrom(r.Context()), id)
	if err != nil {
		h.failure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAlertResponse(alert))
}
