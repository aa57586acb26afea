package domain

import (
	"time"

	"github.com/google/uuid"
)

type DlqAction string

const (
	DlqAcknowledged DlqAction = "ACKNOWLEDGED"
	DlqRequeued     DlqAction = "REQUEUED"
	DlqRetried      DlqAction = "RETRIED"
)

// DlqEvent records one operator action on a dead-lettered job.
type DlqEvent struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	JobID     uuid.UUID
	ProjectID uuid.UUID
	Action    DlqAction
	Note      string
	CreatedAt time.Time
}
