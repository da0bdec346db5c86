package batchloader

import (
	"context"
	"fmt"
	"time"

	"github.com/pharmatrace/batchcore/internal/domain"
	"github.com/pharmatrace/batchcore/internal/repository"

	"github.com/google/uuid"
	"github.com/graph-gophers/dataloader"
)

type BatchLoader struct {
	Loader *dataloader.Loader
}

func NewBatchLoader(repo repository.BatchRepository) *BatchLoader {
	batchFn := func(ctx context.Context, keys dataloader.Keys) []*dataloader.Result {
		// Convert keys to []uuid.UUID
		ids := make([]uuid.UUID, len(keys))
		for i, k := range keys {
			id, err := uuid.Parse(k.String())
			if err != nil {
				// The loader contract demands one result per key.
				results := make([]*dataloader.Result, len(keys))
				for j := range results {
					results[j] = &dataloader.Result{Error: fmt.Errorf("invalid UUID: %w", err)}
				}
				return results
			}
			ids[i] = id
		}

		// Fetch batches in one round trip
		batches, err := repo.GetByIDs(ctx, ids)
		if err != nil {
			results := make([]*dataloader.Result, len(keys))
			for i := range results {
				results[i] = &dataloader.Result{Error: err}
			}
			return results
		}

		// Map UUID -> batch for ordering
		batchMap := make(map[uuid.UUID]domain.Batch)
		for _, b := range batches {
			batchMap[b.ID] = b
		}

		// Build results in the same order as keys
		results := make([]*dataloader.Result, len(keys))
		for i, id := range ids {
			if b, ok := batchMap[id]; ok {
				results[i] = &dataloader.Result{Data: b}
			} else {
				results[i] = &dataloader.Result{Error: domain.ErrBatchNotFound}
			}
		}

		return results
	}

	loader := dataloader.NewBatchedLoader(batchFn, dataloader.WithWait(5*time.Millisecond))

	return &BatchLoader{Loader: loader}
}

// Load fetches one batch through the loader.
func (l *BatchLoader) Load(ctx context.Context, id uuid.UUID) (domain.Batch, error) {
	thunk := l.Loader.Load(ctx, dataloader.StringKey(id.String()))
	value, err := thunk()
	if err != nil {
		return domain.Batch{}, err
	}
	batch, ok := value.(domain.Batch)
	if !ok {
		return domain.Batch{}, domain.ErrBatchNotFound
	}
	return batch, nil
}

// LoadMany fetches several batches through the loader, preserving order.
func (l *BatchLoader) LoadMany(ctx context.Context, ids []uuid.UUID) ([]domain.Batch, error) {
	keys := make(dataloader.Keys, len(ids))
	for i, id := range ids {
		keys[i] = dataloader.StringKey(id.String())
	}
	thunk := l.Loader.LoadMany(ctx, keys)
	values, errs := thunk()
	if len(errs) > 0 {
		return nil, errs[0]
	}
	batches := make([]domain.Batch, 0, len(values))
	for _, value := range values {
		if b, ok := value.(domain.Batch); ok {
			batches = append(batches, b)
		}
	}
	return batches, nil
}
