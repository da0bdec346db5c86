package repository

import (
	"context"
	"fmt"

	"github.com/pharmatrace/batchcore/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

type anomalyRepository struct {
	pool *pgxpool.Pool
}

// NewAnomalyRepository creates a PostgreSQL-backed anomaly repository.
func NewAnomalyRepository(pool *pgxpool.Pool) AnomalyRepository {
	return &anomalyRepository{pool: pool}
}

// RecordMany persists findings. Anomaly IDs are stable per (batch, type,
// index), so re-running detection upserts the latest observation instead of
// accumulating duplicates.
func (r *anomalyRepository) RecordMany(ctx context.Context, records []domain.AnomalyRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, record := range records {
		_, err := tx.Exec(ctx, `
			INSERT INTO anomalies (id, batch_code, type, severity, confidence, description, recommendation, affected_stage, detected_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE
			SET severity = EXCLUDED.severity,
				confidence = EXCLUDED.confidence,
				description = EXCLUDED.description,
				recommendation = EXCLUDED.recommendation,
				affected_stage = EXCLUDED.affected_stage,
				detected_at = EXCLUDED.detected_at`,
			record.ID, record.BatchID, string(record.Type), string(record.Severity), record.Confidence,
			record.Description, record.Recommendation, string(record.AffectedStage), record.DetectedAt,
		)
		if err != nil {
			return fmt.Errorf("insert anomaly %s: %w", record.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit anomalies: %w", err)
	}
	return nil
}

func (r *anomalyRepository) ListByBatch(ctx context.Context, batchCode string, limit, offset int) ([]domain.AnomalyRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, batch_code, type, severity, confidence, description, recommendation, affected_stage, detected_at
		FROM anomalies
		WHERE batch_code = $1
		ORDER BY detected_at DESC, id
		LIMIT $2 OFFSET $3`,
		batchCode, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()

	records := []domain.AnomalyRecord{}
	for rows.Next() {
		var (
			record   domain.AnomalyRecord
			typ      string
			severity string
			stage    string
		)
		if err := rows.Scan(&record.ID, &record.BatchID, &typ, &severity, &record.Confidence,
			&record.Description, &record.Recommendation, &stage, &record.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		record.Type = domain.AnomalyType(typ)
		record.Severity = domain.AnomalySeverity(severity)
		record.AffectedStage = domain.BatchStatus(stage)
		records = append(records, record)
	}
	return records, rows.Err()
}
