package api

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDLQ_ListAndGet(t *testing.T) {
	f := newFixture(t)
	dead := f.deadJob(t)
	active := f.createJob(t, 8)

	rec := f.do(t, http.MethodGet, "/v1/dlq", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	jobs := decode[ListJobsResponse](t, rec).Jobs
	require.Len(t, jobs, 1)
	assert.Equal(t, dead.ID.String(), jobs[0].ID)
	assert.Nil(t, jobs[0].NextRunAt)

	rec = f.do(t, http.MethodGet, "/v1/dlq/"+dead.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entry := decode[DlqEntryResponse](t, rec)
	assert.Equal(t, "DEAD_LETTER", entry.Job.Status)
	assert.Empty(t, entry.Events)

	rec = f.do(t, http.MethodGet, "/v1/dlq/"+active.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "active jobs are not in the queue")

	rec = f.doAs(t, uuid.New(), http.MethodGet, "/v1/dlq/"+dead.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDLQ_AckIsIdempotent(t *testing.T) {
	f := newFixture(t)
	dead := f.deadJob(t)
	path := "/v1/dlq/" + dead.ID.String() + "/ack"

	rec := f.do(t, http.MethodPost, path, map[string]any{"note": "looking into it"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[AckResponse](t, rec)
	assert.False(t, first.AlreadyAcknowledged)
	require.NotNil(t, first.Job.DeadLetterAcknowledgedAt)

	rec = f.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[AckResponse](t, rec).AlreadyAcknowledged)

	rec = f.do(t, http.MethodGet, "/v1/dlq/"+dead.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[DlqEntryResponse](t, rec).Events
	require.Len(t, events, 1, "one audit event per state change")
	assert.Equal(t, "ACKNOWLEDGED", events[0].Action)
	assert.Equal(t, "looking into it", events[0].Note)
}

func TestDLQ_Requeue(t *testing.T) {
	f := newFixture(t)
	dead := f.deadJob(t)
	path := "/v1/dlq/" + dead.ID.String() + "/requeue"

	rec := f.do(t, http.MethodPost, path, map[string]any{"from": "2026-02-13T09:00:00Z"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[RequeueResponse](t, rec)
	assert.False(t, resp.AlreadyRequeued)
	assert.Equal(t, "ACTIVE", resp.Job.Status)
	assert.Zero(t, resp.Job.ConsecutiveFailures)
	require.NotNil(t, resp.Job.NextRunAt)
	assert.Equal(t, "2026-02-14T08:00:00Z", *resp.Job.NextRunAt)

	rec = f.do(t, http.MethodPost, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[RequeueResponse](t, rec).AlreadyRequeued)

	rec = f.do(t, http.MethodPost, "/v1/dlq/"+dead.ID.String()+"/ack", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_STATUS", decode[ErrorResponse](t, rec).Code)
}

func TestDLQ_RetryNow(t *testing.T) {
	f := newFixture(t)
	dead := f.deadJob(t)

	rec := f.do(t, http.MethodPost, "/v1/dlq/"+dead.ID.String()+"/retry-now", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[RetryNowResponse](t, rec)
	assert.False(t, resp.AlreadyRetried)
	require.NotNil(t, resp.Run)
	assert.Equal(t, "SUCCESS", resp.Run.Status)
	assert.Equal(t, "ACTIVE", resp.Job.Status)
	assert.Equal(t, 1, f.exec.calls)
}

func TestDLQ_BulkAck(t *testing.T) {
	f := newFixture(t)
	a, b := f.deadJob(t), f.deadJob(t)
	missing := uuid.New()

	rec := f.do(t, http.MethodPost, "/v1/dlq/bulk/ack", map[string]any{
		"job_ids": []string{a.ID.String(), b.ID.String(), a.ID.String(), missing.String()},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[BulkResponse](t, rec)

	assert.Equal(t, 4, resp.Requested)
	assert.Equal(t, 2, resp.Succeeded)
	assert.Equal(t, 2, resp.Failed)
	require.Len(t, resp.Results, 4)
	assert.True(t, resp.Results[0].OK)
	assert.True(t, resp.Results[1].OK)
	assert.Equal(t, "DUPLICATE_JOB_ID", resp.Results[2].Code)
	assert.Equal(t, a.ID.String(), resp.Results[2].JobID)
	assert.Equal(t, "NOT_FOUND", resp.Results[3].Code)

	rec = f.do(t, http.MethodPost, "/v1/dlq/bulk/ack", map[string]any{"job_ids": []string{a.ID.String()}})
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[BulkResponse](t, rec)
	assert.True(t, again.Results[0].OK)
	assert.True(t, again.Results[0].Already)
}

func TestDLQ_BulkRequeueAndRetry(t *testing.T) {
	f := newFixture(t)
	a, b := f.deadJob(t), f.deadJob(t)

	rec := f.do(t, http.MethodPost, "/v1/dlq/bulk/requeue", map[string]any{"job_ids": []string{a.ID.String()}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[BulkResponse](t, rec).Succeeded)

	rec = f.do(t, http.MethodPost, "/v1/dlq/bulk/retry-now", map[string]any{
		"job_ids": []string{a.ID.String(), b.ID.String()},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[BulkResponse](t, rec)
	assert.Equal(t, "INVALID_STATUS", resp.Results[0].Code, "requeued job left the queue")
	assert.True(t, resp.Results[1].OK)
}

func TestDLQ_BulkValidation(t *testing.T) {
	f := newFixture(t)
	tooMany := make([]string, 101)
	for i := range tooMany {
		tooMany[i] = uuid.NewString()
	}

	for name, body := range map[string]any{
		"empty":    map[string]any{"job_ids": []string{}},
		"missing":  map[string]any{},
		"not uuid": map[string]any{"job_ids": []string{"job-1"}},
		"too many": map[string]any{"job_ids": tooMany},
	} {
		rec := f.do(t, http.MethodPost, "/v1/dlq/bulk/ack", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, name)
		assert.Equal(t, "job_ids", decode[ErrorResponse](t, rec).Field, name)
	}
}
