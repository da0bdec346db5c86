package repository

import (
	"context"

	"github.com/pharmatrace/batchcore/internal/domain"

	"github.com/google/uuid"
)

// BatchRepository defines durable storage for batches and their append-only
// history. There is deliberately no Delete: audit permanence is a hard
// requirement, batches are only ever created and appended to.
type BatchRepository interface {
	Create(ctx context.Context, batch domain.Batch) (domain.Batch, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Batch, error)
	GetByCode(ctx context.Context, batchCode string) (domain.Batch, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Batch, error)
	List(ctx context.Context, organizationID *uuid.UUID, statuses []domain.BatchStatus, limit, offset int) ([]domain.Batch, int, error)
	ListHistory(ctx context.Context, batchID uuid.UUID) ([]domain.HistoryEvent, error)

	// AppendEvent applies one custody change atomically: it appends the
	// history event, updates status/priorStatus, and bumps the version,
	// but only while expectedVersion still matches. A stale version
	// returns domain.ErrConflict. Retried appends are deduplicated on
	// (batch_id, status, timestamp) so a timed-out-but-committed write is
	// idempotent.
	AppendEvent(ctx context.Context, batchID uuid.UUID, expectedVersion int64, event domain.HistoryEvent, status domain.BatchStatus, priorStatus *domain.BatchStatus) (domain.Batch, error)

	Count(ctx context.Context, organizationID *uuid.UUID) (int64, error)
}

// AnomalyRepository persists rule-engine findings for audit review.
type AnomalyRepository interface {
	RecordMany(ctx context.Context, records []domain.AnomalyRecord) error
	ListByBatch(ctx context.Context, batchCode string, limit, offset int) ([]domain.AnomalyRecord, error)
}
