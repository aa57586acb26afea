package postgres

const jobColumns = `
    id, owner_id, project_id, name, kind,
    cadence, day_of_week, hour, minute, timezone, catch_up, dst_invalid, dst_ambiguous,
    config, retry_max_attempts, retry_backoff_seconds, retry_max_backoff_seconds,
    status, enabled, next_run_at, consecutive_failures, last_error, last_run_at,
    dead_lettered_at, dead_letter_acknowledged_at,
    retry_attempt, next_retry_at, retry_scheduled_for,
    claimed_at, version, created_at, updated_at`

const queryProjectOwner = `
SELECT owner_id FROM projects WHERE id = $1
`

const queryInsertJob = `
INSERT INTO automation_jobs (` + jobColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
        $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)
`

const queryGetJob = `
SELECT` + jobColumns + `
FROM automation_jobs
WHERE id = $1 AND owner_id = $2
`

const queryGetJobByID = `
SELECT` + jobColumns + `
FROM automation_jobs
WHERE id = $1
`

const queryListJobs = `
SELECT` + jobColumns + `
FROM automation_jobs
WHERE owner_id = $1
  AND ($2::uuid IS NULL OR project_id = $2)
  AND ($3 = '' OR status = $3)
ORDER BY created_at DESC, id
LIMIT $4 OFFSET $5
`

// The owner and creation time are immutable; they are not in the SET list.
const queryCompareAndSwapJob = `
UPDATE automation_jobs SET
    project_id = $3, name = $4, kind = $5,
    cadence = $6, day_of_week = $7, hour = $8, minute = $9, timezone = $10,
    catch_up = $11, dst_invalid = $12, dst_ambiguous = $13,
    config = $14, retry_max_attempts = $15, retry_backoff_seconds = $16, retry_max_backoff_seconds = $17,
    status = $18, enabled = $19, next_run_at = $20, consecutive_failures = $21,
    last_error = $22, last_run_at = $23,
    dead_lettered_at = $24, dead_letter_acknowledged_at = $25,
    retry_attempt = $26, next_retry_at = $27, retry_scheduled_for = $28,
    claimed_at = $29, updated_at = $30,
    version = version + 1
WHERE id = $1 AND version = $2
`

// Runs keep their history: job_id is set to NULL by the foreign key.
const queryDeleteJob = `
DELETE FROM automation_jobs WHERE id = $1 AND owner_id = $2
RETURNING id
`

const dueCondition = `
status = 'ACTIVE' AND enabled
AND ((next_retry_at IS NOT NULL AND next_retry_at <= $1)
  OR (next_run_at IS NOT NULL AND next_run_at <= $1))`

const queryListDueJobs = `
SELECT` + jobColumns + `
FROM automation_jobs
WHERE` + dueCondition + `
ORDER BY CASE WHEN next_retry_at IS NOT NULL AND next_retry_at <= $1 THEN next_retry_at ELSE next_run_at END, id
LIMIT $2
`

const queryCountDueJobs = `
SELECT COUNT(*) FROM automation_jobs
WHERE` + dueCondition + `
`

const queryListStaleClaims = `
SELECT` + jobColumns + `
FROM automation_jobs
WHERE claimed_at IS NOT NULL AND claimed_at < $1
ORDER BY claimed_at ASC
LIMIT $2
`

const queryCountDeadLetterJobs = `
SELECT COUNT(*), COUNT(*) FILTER (WHERE dead_letter_acknowledged_at IS NULL)
FROM automation_jobs
WHERE owner_id = $1 AND status = 'DEAD_LETTER'
`

const queryCountDeadLetteredBetween = `
SELECT COUNT(*) FROM automation_jobs
WHERE owner_id = $1 AND dead_lettered_at >= $2 AND dead_lettered_at < $3
`

const queryInsertRun = `
INSERT INTO automation_job_runs (id, job_id, owner_id, project_id, kind, trigger, attempt, status,
    scheduled_for, started_at, finished_at, output, error, next_retry_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`

const queryListRuns = `
SELECT id, job_id, owner_id, project_id, kind, trigger, attempt, status,
    scheduled_for, started_at, finished_at, output, error, next_retry_at
FROM automation_job_runs
WHERE owner_id = $1 AND job_id = $2
ORDER BY started_at DESC, id DESC
LIMIT $3 OFFSET $4
`

const queryCountRunOutcomes = `
SELECT COUNT(*) FILTER (WHERE status = 'SUCCESS'), COUNT(*) FILTER (WHERE status <> 'SUCCESS')
FROM automation_job_runs
WHERE owner_id = $1 AND finished_at >= $2 AND finished_at < $3
`

const queryInsertDlqEvent = `
INSERT INTO automation_dlq_events (id, owner_id, job_id, project_id, action, note, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`

const queryLatestDlqEvent = `
SELECT id, owner_id, job_id, project_id, action, note, created_at
FROM automation_dlq_events
WHERE job_id = $1
ORDER BY seq DESC
LIMIT 1
`

const queryListDlqEvents = `
SELECT id, owner_id, job_id, project_id, action, note, created_at
FROM automation_dlq_events
WHERE owner_id = $1 AND job_id = $2
ORDER BY seq DESC
LIMIT $3
`

const queryInsertTickEvent = `
INSERT INTO automation_scheduler_tick_events (id, reason, outcome, duration_ms, processed, remaining_due, error, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const tickFilterCondition = `
(COALESCE(cardinality($1::text[]), 0) = 0 OR outcome = ANY($1::text[]))
AND ($2::timestamptz IS NULL OR created_at >= $2)
AND ($3::timestamptz IS NULL OR created_at <= $3)`

const queryListTickEvents = `
SELECT id, reason, outcome, duration_ms, processed, remaining_due, error, created_at
FROM automation_scheduler_tick_events
WHERE` + tickFilterCondition + `
ORDER BY seq DESC
LIMIT $4 OFFSET $5
`

const queryCountFilteredTickEvents = `
SELECT COUNT(*) FROM automation_scheduler_tick_events
WHERE` + tickFilterCondition + `
`

const queryCountTickEvents = `
SELECT COUNT(*) FROM automation_scheduler_tick_events
WHERE outcome = $1 AND created_at >= $2
`

const queryTickOutcomeTotals = `
SELECT outcome, COUNT(*) FROM automation_scheduler_tick_events GROUP BY outcome
`

const alertColumns = `
    id, owner_id, project_id, job_id, run_id, type, severity, status,
    title, message, threshold, observed, dedupe_key, metadata, created_at, acknowledged_at`

const queryInsertAlert = `
INSERT INTO automation_alert_events (` + alertColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
`

const queryFindOpenAlert = `
SELECT` + alertColumns + `
FROM automation_alert_events
WHERE status = 'OPEN'
  AND owner_id IS NOT DISTINCT FROM $1
  AND type = $2
  AND dedupe_key = $3
  AND created_at >= $4
ORDER BY seq DESC
LIMIT 1
`

// Global alerts (owner_id IS NULL) are visible to every owner.
const queryGetAlert = `
SELECT` + alertColumns + `
FROM automation_alert_events
WHERE id = $1 AND (owner_id IS NULL OR owner_id = $2)
`

const queryUpdateAlertMetadata = `
UPDATE automation_alert_events SET metadata = $2 WHERE id = $1
`

const queryListAlerts = `
SELECT` + alertColumns + `
FROM automation_alert_events
WHERE (owner_id IS NULL OR owner_id = $1)
  AND ($2 = '' OR status = $2)
  AND ($3 = '' OR type = $3)
ORDER BY seq DESC
LIMIT $4 OFFSET $5
`

// Only an OPEN alert transitions; a repeated acknowledgement keeps the
// first timestamp.
const queryAcknowledgeAlert = `
UPDATE automation_alert_events
SET status = 'ACKNOWLEDGED', acknowledged_at = $3
WHERE id = $1 AND (owner_id IS NULL OR owner_id = $2) AND status = 'OPEN'
`

const queryCountAlerts = `
SELECT COUNT(*) FROM automation_alert_events
WHERE (owner_id IS NULL OR owner_id = $1)
  AND ($2 = '' OR status = $2)
  AND created_at >= $3 AND created_at < $4
`

// The upsert only overwrites a lease that is free, expired, or already
// held by the same token. No row is returned when another holder wins.
const queryAcquireLease = `
INSERT INTO scheduler_locks (name, owner_token, locked_until, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (name) DO UPDATE SET
    owner_token = EXCLUDED.owner_token,
    locked_until = EXCLUDED.locked_until,
    updated_at = EXCLUDED.updated_at
WHERE scheduler_locks.owner_token IS NULL
   OR scheduler_locks.owner_token = EXCLUDED.owner_token
   OR scheduler_locks.locked_until IS NULL
   OR scheduler_locks.locked_until <= EXCLUDED.updated_at
RETURNING name
`

const queryReleaseLease = `
UPDATE scheduler_locks
SET owner_token = NULL, locked_until = NULL, updated_at = NOW()
WHERE name = $1 AND owner_token = $2
`

const queryGetLease = `
SELECT name, COALESCE(owner_token, ''), locked_until, updated_at
FROM scheduler_locks
WHERE name = $1
`
