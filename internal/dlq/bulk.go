package dlq

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/lchvelidze/ai-operated-personal-seo-engine-sub001/internal/domain"
)

// Code is the machine-readable reason a bulk item failed.
type Code string

const (
	CodeNotFound       Code = "NOT_FOUND"
	CodeInvalidStatus  Code = "INVALID_STATUS"
	CodeDuplicateJobID Code = "DUPLICATE_JOB_ID"
	CodeConflict       Code = "CONFLICT"
	CodeInternal       Code = "INTERNAL"
)

// CodeFor classifies an operation error.
func CodeFor(err error) Code {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, domain.ErrInvalidStatus):
		return CodeInvalidStatus
	case errors.Is(err, domain.ErrDuplicateJobID):
		return CodeDuplicateJobID
	case errors.Is(err, domain.ErrConflict):
		return CodeConflict
	default:
		return CodeInternal
	}
}

// ItemResult is the outcome for one input id, in input order.
type ItemResult struct {
	JobID   uuid.UUID
	OK      bool
	Already bool
	Code    Code
	Error   string
}

type BulkResult struct {
	Requested int
	Succeeded int
	Failed    int
	Results   []ItemResult
}

// BulkAck acknowledges every id independently.
func (s *Service) BulkAck(ctx context.Context, ownerID uuid.UUID, ids []uuid.UUID, note string) BulkResult {
	return s.bulk(ctx, ids, func(ctx context.Context, id uuid.UUID) (bool, error) {
		res, err := s.Ack(ctx, ownerID, id, note)
		return res.AlreadyAcknowledged, err
	})
}

// BulkRequeue requeues every id independently.
func (s *Service) BulkRequeue(ctx context.Context, ownerID uuid.UUID, ids []uuid.UUID, from *time.Time, note string) BulkResult {
	return s.bulk(ctx, ids, func(ctx context.Context, id uuid.UUID) (bool, error) {
		res, err := s.Requeue(ctx, ownerID, id, from, note)
		return res.AlreadyRequeued, err
	})
}

// BulkRetryNow retries every id independently, one at a time.
func (s *Service) BulkRetryNow(ctx context.Context, ownerID uuid.UUID, ids []uuid.UUID, note string) BulkResult {
	return s.bulk(ctx, ids, func(ctx context.Context, id uuid.UUID) (bool, error) {
		res, err := s.RetryNow(ctx, ownerID, id, note)
		return res.AlreadyRetried, err
	})
}

func (s *Service) bulk(ctx context.Context, ids []uuid.UUID, op func(context.Context, uuid.UUID) (bool, error)) BulkResult {
	res := BulkResult{Requested: len(ids), Results: make([]ItemResult, 0, len(ids))}
	seen := make(map[uuid.UUID]struct{}, len(ids))

	for _, id := range ids {
		item := ItemResult{JobID: id}
		if _, dup := seen[id]; dup {
			item.Code = CodeDuplicateJobID
			item.Error = domain.ErrDuplicateJobID.Error()
		} else {
			seen[id] = struct{}{}
			already, err := op(ctx, id)
			if err != nil {
				item.Code = CodeFor(err)
				item.Error = err.Error()
			} else {
				item.OK = true
				item.Already = already
			}
		}

		if item.OK {
			res.Succeeded++
		} else {
			res.Failed++
		}
		res.Results = append(res.Results, item)
	}
	return res
}
