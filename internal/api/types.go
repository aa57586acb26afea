package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/diagnostics"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/dlq"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/scheduler"
)

type ScheduleRequest struct {
	Cadence            string `json:"cadence"`
	DayOfWeek          int    `json:"day_of_week"`
	Hour               int    `json:"hour"`
	Minute             int    `json:"minute"`
	Timezone           string `json:"timezone"`
	CatchUpMode        string `json:"catch_up_mode,omitempty"`        // default skip-missed
	DSTInvalidPolicy   string `json:"dst_invalid_policy,omitempty"`   // default shift-forward
	DSTAmbiguousPolicy string `json:"dst_ambiguous_policy,omitempty"` // default earlier-offset
}

type RetryRequest struct {
	MaxAttempts       int `json:"max_attempts"`
	BackoffSeconds    int `json:"backoff_seconds"`
	MaxBackoffSeconds int `json:"max_backoff_seconds"`
}

type CreateJobRequest struct {
	ProjectID string          `json:"project_id"`
	Name      string          `json:"name"`
	Kind      string          `json:"kind"`
	Schedule  ScheduleRequest `json:"schedule"`
	Config    json.RawMessage `json:"config"`
	Retry     *RetryRequest   `json:"retry,omitempty"`
	Enabled   *bool           `json:"enabled,omitempty"` // default true
}

// PatchJobRequest changes only the fields present. A new schedule or
// reschedule_from recomputes next_run_at.
type PatchJobRequest struct {
	Name           *string          `json:"name,omitempty"`
	Enabled        *bool            `json:"enabled,omitempty"`
	Schedule       *ScheduleRequest `json:"schedule,omitempty"`
	Config         json.RawMessage  `json:"config,omitempty"`
	Retry          *RetryRequest    `json:"retry,omitempty"`
	RescheduleFrom *time.Time       `json:"reschedule_from,omitempty"`
}

type ScheduleResponse struct {
	Cadence            string `json:"cadence"`
	DayOfWeek          *int   `json:"day_of_week,omitempty"`
	Hour               int    `json:"hour"`
	Minute             int    `json:"minute"`
	Timezone           string `json:"timezone"`
	CatchUpMode        string `json:"catch_up_mode"`
	DSTInvalidPolicy   string `json:"dst_invalid_policy"`
	DSTAmbiguousPolicy string `json:"dst_ambiguous_policy"`
}

type JobResponse struct {
	ID                       string           `json:"id"`
	ProjectID                string           `json:"project_id"`
	Name                     string           `json:"name"`
	Kind                     string           `json:"kind"`
	Status                   string           `json:"status"`
	Enabled                  bool             `json:"enabled"`
	Schedule                 ScheduleResponse `json:"schedule"`
	Config                   json.RawMessage  `json:"config"`
	Retry                    RetryRequest     `json:"retry"`
	NextRunAt                *string          `json:"next_run_at"`
	ConsecutiveFailures      int              `json:"consecutive_failures"`
	LastError                string           `json:"last_error,omitempty"`
	LastRunAt                *string          `json:"last_run_at,omitempty"`
	DeadLetteredAt           *string          `json:"dead_lettered_at,omitempty"`
	DeadLetterAcknowledgedAt *string          `json:"dead_letter_acknowledged_at,omitempty"`
	RetryAttempt             int              `json:"retry_attempt,omitempty"`
	NextRetryAt              *string          `json:"next_retry_at,omitempty"`
	Version                  int64            `json:"version"`
	CreatedAt                string           `json:"created_at"`
	UpdatedAt                string           `json:"updated_at"`
}

type RunResponse struct {
	ID           string  `json:"id"`
	JobID        *string `json:"job_id"`
	ProjectID    string  `json:"project_id"`
	Kind         string  `json:"kind"`
	Trigger      string  `json:"trigger"`
	Attempt      int     `json:"attempt"`
	Status       string  `json:"status"`
	ScheduledFor *string `json:"scheduled_for,omitempty"`
	StartedAt    string  `json:"started_at"`
	FinishedAt   string  `json:"finished_at"`
	DurationMs   int64   `json:"duration_ms"`
	Output       string  `json:"output,omitempty"`
	Error        string  `json:"error,omitempty"`
	NextRetryAt  *string `json:"next_retry_at,omitempty"`
}

type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ListRunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

type TriggerResponse struct {
	Run RunResponse `json:"run"`
	Job JobResponse `json:"job"`
}

type ProcessDueRequest struct {
	Now   *time.Time `json:"now,omitempty"`
	Limit *int       `json:"limit,omitempty"`
}

// ProcessDueResponse reports the total processed across all owners but
// only the caller's runs.
type ProcessDueResponse struct {
	Processed    int           `json:"processed"`
	RemainingDue int           `json:"remaining_due"`
	Runs         []RunResponse `json:"runs"`
}

type TickResponse struct {
	ID           string `json:"id"`
	Reason       string `json:"reason"`
	Outcome      string `json:"outcome"`
	DurationMs   int64  `json:"duration_ms"`
	Processed    int    `json:"processed"`
	RemainingDue int    `json:"remaining_due"`
	Error        string `json:"error,omitempty"`
	CreatedAt    string `json:"created_at"`
}

type ListTicksResponse struct {
	Ticks  []TickResponse `json:"ticks"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

type RuntimeResponse struct {
	InFlight       bool             `json:"in_flight"`
	InFlightSince  *string          `json:"in_flight_since,omitempty"`
	Totals         map[string]int64 `json:"totals"`
	ProcessedTotal int64            `json:"processed_total"`
	LastTick       *TickResponse    `json:"last_tick,omitempty"`
	RecentTicks    []TickResponse   `json:"recent_ticks"`
}

type LockResponse struct {
	Name        string  `json:"name"`
	Held        bool    `json:"held"`
	OwnerToken  string  `json:"owner_token,omitempty"`
	LockedUntil *string `json:"locked_until,omitempty"`
}

type WindowResponse struct {
	Since         string  `json:"since"`
	Until         string  `json:"until"`
	RunsSucceeded int     `json:"runs_succeeded"`
	RunsFailed    int     `json:"runs_failed"`
	FailureRate   float64 `json:"failure_rate"`
	AlertsRaised  int     `json:"alerts_raised"`
	DeadLettered  int     `json:"dead_lettered"`
}

type DeltaResponse struct {
	Runs         int     `json:"runs"`
	RunsFailed   int     `json:"runs_failed"`
	FailureRate  float64 `json:"failure_rate"`
	AlertsRaised int     `json:"alerts_raised"`
	DeadLettered int     `json:"dead_lettered"`
}

type DiagnosticsResponse struct {
	GeneratedAt string          `json:"generated_at"`
	Runtime     RuntimeResponse `json:"runtime"`
	Lock        LockResponse    `json:"lock"`
	DueNow      int             `json:"due_now"`
	DeadLetter  struct {
		Total          int `json:"total"`
		Unacknowledged int `json:"unacknowledged"`
	} `json:"dead_letter"`
	Trend struct {
		Current  WindowResponse `json:"current"`
		Previous WindowResponse `json:"previous"`
		Delta    DeltaResponse  `json:"delta"`
	} `json:"trend"`
}

type DlqEventResponse struct {
	ID        string `json:"id"`
	Action    string `json:"action"`
	Note      string `json:"note,omitempty"`
	CreatedAt string `json:"created_at"`
}

type DlqEntryResponse struct {
	Job    JobResponse        `json:"job"`
	Events []DlqEventResponse `json:"events"`
}

type DlqActionRequest struct {
	Note string     `json:"note,omitempty"`
	From *time.Time `json:"from,omitempty"` // requeue only
}

type DlqBulkRequest struct {
	JobIDs []string   `json:"job_ids"`
	Note   string     `json:"note,omitempty"`
	From   *time.Time `json:"from,omitempty"` // requeue only
}

type AckResponse struct {
	Job                 JobResponse `json:"job"`
	AlreadyAcknowledged bool        `json:"already_acknowledged"`
}

type RequeueResponse struct {
	Job             JobResponse `json:"job"`
	AlreadyRequeued bool        `json:"already_requeued"`
}

type RetryNowResponse struct {
	Job            JobResponse  `json:"job"`
	Run            *RunResponse `json:"run,omitempty"`
	AlreadyRetried bool         `json:"already_retried"`
}

type BulkItemResponse struct {
	JobID   string `json:"job_id"`
	OK      bool   `json:"ok"`
	Already bool   `json:"already,omitempty"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
}

type BulkResponse struct {
	Requested int                `json:"requested"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Results   []BulkItemResponse `json:"results"`
}

type AlertResponse struct {
	ID             string               `json:"id"`
	OwnerID        *string              `json:"owner_id"`
	ProjectID      *string              `json:"project_id,omitempty"`
	JobID          *string              `json:"job_id,omitempty"`
	RunID          *string              `json:"run_id,omitempty"`
	Type           string               `json:"type"`
	Severity       string               `json:"severity"`
	Status         string               `json:"status"`
	Title          string               `json:"title"`
	Message        string               `json:"message"`
	Threshold      float64              `json:"threshold"`
	Observed       float64              `json:"observed"`
	DedupeKey      string               `json:"dedupe_key"`
	Metadata       domain.AlertMetadata `json:"metadata"`
	CreatedAt      string               `json:"created_at"`
	AcknowledgedAt *string              `json:"acknowledged_at,omitempty"`
}

type ListAlertsResponse struct {
	Alerts []AlertResponse `json:"alerts"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func uuidString(id *uuid.UUID) *string {
	if id == nil {
		return nil
	}
	s := id.String()
	return &s
}

func toJobResponse(job domain.ScheduledJob) JobResponse {
	cfg, err := domain.EncodeJobConfig(job.Config)
	if err != nil {
		cfg = json.RawMessage("null")
	}
	sched := ScheduleResponse{
		Cadence:            string(job.Schedule.Cadence),
		Hour:               job.Schedule.Hour,
		Minute:             job.Schedule.Minute,
		Timezone:           job.Schedule.Timezone,
		CatchUpMode:        string(job.Schedule.CatchUp),
		DSTInvalidPolicy:   string(job.Schedule.DSTInvalid),
		DSTAmbiguousPolicy: string(job.Schedule.DSTAmbiguous),
	}
	if job.Schedule.Cadence == domain.CadenceWeekly {
		dow := int(job.Schedule.DayOfWeek)
		sched.DayOfWeek = &dow
	}
	return JobResponse{
		ID:        job.ID.String(),
		ProjectID: job.ProjectID.String(),
		Name:      job.Name,
		Kind:      string(job.Kind),
		Status:    string(job.Status),
		Enabled:   job.Enabled,
		Schedule:  sched,
		Config:    cfg,
		Retry: RetryRequest{
			MaxAttempts:       job.Retry.MaxAttempts,
			BackoffSeconds:    job.Retry.BackoffSeconds,
			MaxBackoffSeconds: job.Retry.MaxBackoffSeconds,
		},
		NextRunAt:                formatTimePtr(job.NextRunAt),
		ConsecutiveFailures:      job.ConsecutiveFailures,
		LastError:                job.LastError,
		LastRunAt:                formatTimePtr(job.LastRunAt),
		DeadLetteredAt:           formatTimePtr(job.DeadLetteredAt),
		DeadLetterAcknowledgedAt: formatTimePtr(job.DeadLetterAcknowledgedAt),
		RetryAttempt:             job.RetryAttempt,
		NextRetryAt:              formatTimePtr(job.NextRetryAt),
		Version:                  job.Version,
		CreatedAt:                formatTime(job.CreatedAt),
		UpdatedAt:                formatTime(job.UpdatedAt),
	}
}

func toJobResponses(jobs []domain.ScheduledJob) []JobResponse {
	out := make([]JobResponse, len(jobs))
	for i, job := range jobs {
		out[i] = toJobResponse(job)
	}
	return out
}

func toRunResponse(run domain.JobRun) RunResponse {
	return RunResponse{
		ID:           run.ID.String(),
		JobID:        uuidString(run.JobID),
		ProjectID:    run.ProjectID.String(),
		Kind:         string(run.Kind),
		Trigger:      string(run.Trigger),
		Attempt:      run.Attempt,
		Status:       string(run.Status),
		ScheduledFor: formatTimePtr(run.ScheduledFor),
		StartedAt:    formatTime(run.StartedAt),
		FinishedAt:   formatTime(run.FinishedAt),
		DurationMs:   run.Duration().Milliseconds(),
		Output:       run.Output,
		Error:        run.Error,
		NextRetryAt:  formatTimePtr(run.NextRetryAt),
	}
}

func toRunResponses(runs []domain.JobRun) []RunResponse {
	out := make([]RunResponse, len(runs))
	for i, run := range runs {
		out[i] = toRunResponse(run)
	}
	return out
}

func toTickResponse(ev domain.TickEvent) TickResponse {
	return TickResponse{
		ID:           ev.ID.String(),
		Reason:       string(ev.Reason),
		Outcome:      string(ev.Outcome),
		DurationMs:   ev.Duration.Milliseconds(),
		Processed:    ev.Processed,
		RemainingDue: ev.RemainingDue,
		Error:        ev.Error,
		CreatedAt:    formatTime(ev.CreatedAt),
	}
}

func toTickResponses(events []domain.TickEvent) []TickResponse {
	out := make([]TickResponse, len(events))
	for i, ev := range events {
		out[i] = toTickResponse(ev)
	}
	return out
}

func toRuntimeResponse(snap scheduler.Snapshot) RuntimeResponse {
	resp := RuntimeResponse{
		InFlight:       snap.InFlight,
		InFlightSince:  formatTimePtr(snap.InFlightSince),
		Totals:         make(map[string]int64, len(snap.Totals)),
		ProcessedTotal: snap.ProcessedTotal,
		RecentTicks:    toTickResponses(snap.Recent),
	}
	for o, n := range snap.Totals {
		resp.Totals[string(o)] = n
	}
	if snap.LastTick != nil {
		last := toTickResponse(*snap.LastTick)
		resp.LastTick = &last
	}
	return resp
}

func toWindowResponse(ws diagnostics.WindowStats) WindowResponse {
	return WindowResponse{
		Since:         formatTime(ws.Since),
		Until:         formatTime(ws.Until),
		RunsSucceeded: ws.RunsSucceeded,
		RunsFailed:    ws.RunsFailed,
		FailureRate:   ws.FailureRate,
		AlertsRaised:  ws.AlertsRaised,
		DeadLettered:  ws.DeadLettered,
	}
}

func toDiagnosticsResponse(rep diagnostics.Report) DiagnosticsResponse {
	resp := DiagnosticsResponse{
		GeneratedAt: formatTime(rep.GeneratedAt),
		Runtime:     toRuntimeResponse(rep.Runtime),
		Lock: LockResponse{
			Name:        rep.Lock.Name,
			Held:        rep.Lock.Held,
			OwnerToken:  rep.Lock.OwnerToken,
			LockedUntil: formatTimePtr(rep.Lock.LockedUntil),
		},
		DueNow: rep.DueNow,
	}
	resp.DeadLetter.Total = rep.DeadLetter.Total
	resp.DeadLetter.Unacknowledged = rep.DeadLetter.Unacknowledged
	resp.Trend.Current = toWindowResponse(rep.Trend.Current)
	resp.Trend.Previous = toWindowResponse(rep.Trend.Previous)
	resp.Trend.Delta = DeltaResponse{
		Runs:         rep.Trend.Delta.Runs,
		RunsFailed:   rep.Trend.Delta.RunsFailed,
		FailureRate:  rep.Trend.Delta.FailureRate,
		AlertsRaised: rep.Trend.Delta.AlertsRaised,
		DeadLettered: rep.Trend.Delta.DeadLettered,
	}
	return resp
}

func toDlqEntryResponse(e dlq.Entry) DlqEntryResponse {
	resp := DlqEntryResponse{Job: toJobResponse(e.Job), Events: make([]DlqEventResponse, len(e.Events))}
	for i, ev := range e.Events {
		resp.Events[i] = DlqEventResponse{
			ID:        ev.ID.String(),
			Action:    string(ev.Action),
			Note:      ev.Note,
			CreatedAt: formatTime(ev.CreatedAt),
		}
	}
	return resp
}

func toBulkResponse(res dlq.BulkResult) BulkResponse {
	resp := BulkResponse{
		Requested: res.Requested,
		Succeeded: res.Succeeded,
		Failed:    res.Failed,
		Results:   make([]BulkItemResponse, len(res.Results)),
	}
	for i, item := range res.Results {
		resp.Results[i] = BulkItemResponse{
			JobID:   item.JobID.String(),
			OK:      item.OK,
			Already: item.Already,
			Code:    string(item.Code),
			Error:   item.Error,
		}
	}
	return resp
}

func toAlertResponse(a domain.AlertEvent) AlertResponse {
	return AlertResponse{
		ID:             a.ID.String(),
		OwnerID:        uuidString(a.OwnerID),
		ProjectID:      uuidString(a.ProjectID),
		JobID:          uuidString(a.JobID),
		RunID:          uuidString(a.RunID),
		Type:           string(a.Type),
		Severity:       string(a.Severity),
		Status:         string(a.Status),
		Title:          a.Title,
		Message:        a.Message,
		Threshold:      a.Threshold,
		Observed:       a.Observed,
		DedupeKey:      a.DedupeKey,
		Metadata:       a.Metadata,
		CreatedAt:      formatTime(a.CreatedAt),
		AcknowledgedAt: formatTimePtr(a.AcknowledgedAt),
	}
}
