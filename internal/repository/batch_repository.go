package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/pharmatrace/batchcore/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const batchColumns = `id, organization_id, batch_code, drug_name, quantity, manufacturer,
	manufacture_date, expiry_date, status, prior_status, data_hash, version, created_at, updated_at`

const historyColumns = `id, batch_id, status, location, actor, reason, recorded_at`

type batchRepository struct {
	pool *pgxpool.Pool
}

// NewBatchRepository creates a PostgreSQL-backed batch repository.
func NewBatchRepository(pool *pgxpool.Pool) BatchRepository {
	return &batchRepository{pool: pool}
}

func (r *batchRepository) Create(ctx context.Context, batch domain.Batch) (domain.Batch, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var priorStatus *string
	if batch.PriorStatus != nil {
		s := string(*batch.PriorStatus)
		priorStatus = &s
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO batches (id, organization_id, batch_code, drug_name, quantity, manufacturer,
			manufacture_date, expiry_date, status, prior_status, data_hash, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		batch.ID, batch.OrganizationID, batch.BatchCode, batch.DrugName, batch.Quantity, batch.Manufacturer,
		batch.ManufactureDate, batch.ExpiryDate, string(batch.Status), priorStatus, batch.DataHash,
		batch.Version, batch.CreatedAt, batch.UpdatedAt,
	)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("insert batch: %w", err)
	}

	for _, event := range batch.History {
		if err := insertHistoryEvent(ctx, tx, event); err != nil {
			return domain.Batch{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Batch{}, fmt.Errorf("commit batch creation: %w", err)
	}
	return batch, nil
}

func (r *batchRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Batch, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = $1`, id)
	batch, err := scanBatch(row)
	if err != nil {
		return domain.Batch{}, err
	}
	batch.History, err = r.ListHistory(ctx, batch.ID)
	if err != nil {
		return domain.Batch{}, err
	}
	return batch, nil
}

func (r *batchRepository) GetByCode(ctx context.Context, batchCode string) (domain.Batch, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE batch_code = $1`, batchCode)
	batch, err := scanBatch(row)
	if err != nil {
		return domain.Batch{}, err
	}
	batch.History, err = r.ListHistory(ctx, batch.ID)
	if err != nil {
		return domain.Batch{}, err
	}
	return batch, nil
}

func (r *batchRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Batch, error) {
	if len(ids) == 0 {
		return []domain.Batch{}, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}

	rows, err := r.pool.Query(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ANY($1::uuid[])`, raw)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()

	batches, err := scanBatches(rows)
	if err != nil {
		return nil, err
	}
	return r.attachHistory(ctx, batches)
}

func (r *batchRepository) List(ctx context.Context, organizationID *uuid.UUID, statuses []domain.BatchStatus, limit, offset int) ([]domain.Batch, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	statusFilter := make([]string, 0, len(statuses))
	for _, s := range statuses {
		statusFilter = append(statusFilter, string(s))
	}

	where := `WHERE ($1::uuid IS NULL OR organization_id = $1)
		AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM batches `+where, organizationID, statusFilter).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count batches: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+batchColumns+` FROM batches `+where+` ORDER BY created_at DESC, batch_code LIMIT $3 OFFSET $4`,
		organizationID, statusFilter, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list batches: %w", err)
	}
	defer rows.Close()

	batches, err := scanBatches(rows)
	if err != nil {
		return nil, 0, err
	}
	batches, err = r.attachHistory(ctx, batches)
	if err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

func (r *batchRepository) ListHistory(ctx context.Context, batchID uuid.UUID) ([]domain.HistoryEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+historyColumns+` FROM batch_history WHERE batch_id = $1 ORDER BY recorded_at, id`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	events := []domain.HistoryEvent{}
	for rows.Next() {
		event, err := scanHistoryEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// AppendEvent is the compare-and-swap heart of the custody model: the status
// update only lands while the caller's version is still current, and the
// history insert is deduplicated on (batch_id, status, recorded_at) so a
// retried write after a timed-out-but-committed attempt stays idempotent.
func (r *batchRepository) AppendEvent(ctx context.Context, batchID uuid.UUID, expectedVersion int64, event domain.HistoryEvent, status domain.BatchStatus, priorStatus *domain.BatchStatus) (domain.Batch, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var prior *string
	if priorStatus != nil {
		s := string(*priorStatus)
		prior = &s
	}

	tag, err := tx.Exec(ctx, `
		UPDATE batches
		SET status = $2, prior_status = $3, version = version + 1, updated_at = $4
		WHERE id = $1 AND version = $5`,
		batchID, string(status), prior, event.Timestamp, expectedVersion,
	)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("update batch status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM batches WHERE id = $1)`, batchID).Scan(&exists); err != nil {
			return domain.Batch{}, fmt.Errorf("check batch existence: %w", err)
		}
		if !exists {
			return domain.Batch{}, domain.ErrBatchNotFound
		}
		return domain.Batch{}, domain.ErrConflict
	}

	if err := insertHistoryEvent(ctx, tx, event); err != nil {
		return domain.Batch{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Batch{}, fmt.Errorf("commit transition: %w", err)
	}
	return r.GetByID(ctx, batchID)
}

func (r *batchRepository) Count(ctx context.Context, organizationID *uuid.UUID) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM batches WHERE ($1::uuid IS NULL OR organization_id = $1)`,
		organizationID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count batches: %w", err)
	}
	return count, nil
}

func (r *batchRepository) attachHistory(ctx context.Context, batches []domain.Batch) ([]domain.Batch, error) {
	for i := range batches {
		history, err := r.ListHistory(ctx, batches[i].ID)
		if err != nil {
			return nil, err
		}
		batches[i].History = history
	}
	return batches, nil
}

func insertHistoryEvent(ctx context.Context, tx pgx.Tx, event domain.HistoryEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO batch_history (id, batch_id, status, location, actor, reason, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (batch_id, status, recorded_at) DO NOTHING`,
		event.ID, event.BatchID, string(event.Status), event.Location, event.Actor, event.Reason, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert history event: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBatch(row rowScanner) (domain.Batch, error) {
	var (
		batch       domain.Batch
		status      string
		priorStatus *string
	)

	err := row.Scan(
		&batch.ID, &batch.OrganizationID, &batch.BatchCode, &batch.DrugName, &batch.Quantity,
		&batch.Manufacturer, &batch.ManufactureDate, &batch.ExpiryDate, &status, &priorStatus,
		&batch.DataHash, &batch.Version, &batch.CreatedAt, &batch.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Batch{}, domain.ErrBatchNotFound
		}
		return domain.Batch{}, fmt.Errorf("scan batch: %w", err)
	}

	batch.Status = domain.BatchStatus(status)
	if priorStatus != nil {
		prior := domain.BatchStatus(*priorStatus)
		batch.PriorStatus = &prior
	}
	return batch, nil
}

func scanBatches(rows pgx.Rows) ([]domain.Batch, error) {
	batches := []domain.Batch{}
	for rows.Next() {
		batch, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, batch)
	}
	return batches, rows.Err()
}

func scanHistoryEvent(row rowScanner) (domain.HistoryEvent, error) {
	var (
		event  domain.HistoryEvent
		status string
	)
	if err := row.Scan(&event.ID, &event.BatchID, &status, &event.Location, &event.Actor, &event.Reason, &event.Timestamp); err != nil {
		return domain.HistoryEvent{}, fmt.Errorf("scan history event: %w", err)
	}
	event.Status = domain.BatchStatus(status)
	return event, nil
}
