package domain

import (
	"time"

	"github.com/google/uuid"
)

type AlertType string

const (
	AlertLockContentionSpike AlertType = "LOCK_CONTENTION_SPIKE"
	AlertConsecutiveFailures AlertType = "CONSECUTIVE_FAILURES"
	AlertFailureRate         AlertType = "FAILURE_RATE"
	AlertDeadLetterGrowth    AlertType = "DEAD_LETTER_GROWTH"
)

type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

type AlertStatus string

const (
	AlertOpen         AlertStatus = "OPEN"
	AlertAcknowledged AlertStatus = "ACKNOWLEDGED"
)

// AlertEvent is a raised alert. A nil OwnerID marks a global alert such as
// scheduler lock contention.
type AlertEvent struct {
	ID             uuid.UUID
	OwnerID        *uuid.UUID
	ProjectID      *uuid.UUID
	JobID          *uuid.UUID
	RunID          *uuid.UUID
	Type           AlertType
	Severity       AlertSeverity
	Status         AlertStatus
	Title          string
	Message        string
	Threshold      float64
	Observed       float64
	DedupeKey      string
	Metadata       AlertMetadata
	CreatedAt      time.Time
	AcknowledgedAt *time.Time
}

// AlertMetadata is stored as JSON next to the alert.
type AlertMetadata struct {
	Context  map[string]any `json:"context,omitempty"`
	Delivery DeliveryStats  `json:"delivery"`
}

type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "sent"
	DeliveryFailed  DeliveryStatus = "failed"
	DeliverySkipped DeliveryStatus = "skipped"
)

// DeliveryStats accumulates outbound notification results. Counters only grow.
type DeliveryStats struct {
	Attempts         int            `json:"attempts"`
	Successes        int            `json:"successes"`
	Failures         int            `json:"failures"`
	Skipped          int            `json:"skipped"`
	LastStatus       DeliveryStatus `json:"last_status,omitempty"`
	LastProvider     string         `json:"last_provider,omitempty"`
	LastResponseCode int            `json:"last_response_code,omitempty"`
	LastError        string         `json:"last_error,omitempty"`
	LastAttemptAt    *time.Time     `json:"last_attempt_at,omitempty"`
}

// Record folds one notifier result into the counters. A skipped delivery is
// not an attempt.
func (d *DeliveryStats) Record(status DeliveryStatus, provider string, responseCode int, errMsg string, at time.Time) {
	switch status {
	case DeliverySent:
		d.Attempts++
		d.Successes++
	case DeliveryFailed:
		d.Attempts++
		d.Failures++
	default:
		status = DeliverySkipped
		d.Skipped++
	}
	d.LastStatus = status
	d.LastProvider = provider
	d.LastResponseCode = responseCode
	d.LastError = errMsg
	d.LastAttemptAt = TimePtr(at)
}

// AlertFilter selects owner-visible alerts.
type AlertFilter struct {
	Status AlertStatus
	Type   AlertType
	Limit  int
	Offset int
}
