// Package registry creates batch records. Creation is the only moment the
// data hash is assigned: the ledger generates it, this service stores it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pharmatrace/batchcore/internal/domain"
	"github.com/pharmatrace/batchcore/internal/repository"

	"github.com/google/uuid"
)

// LedgerRecorder is the creation-time slice of the ledger collaborator.
type LedgerRecorder interface {
	RecordCreation(ctx context.Context, batch domain.Batch) (string, error)
}

// Service registers new batches.
type Service struct {
	batches repository.BatchRepository
	ledger  LedgerRecorder
	now     func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock injects the creation clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a registry service.
func NewService(batches repository.BatchRepository, ledger LedgerRecorder, opts ...Option) *Service {
	s := &Service{batches: batches, ledger: ledger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Request describes a new batch.
type Request struct {
	OrganizationID  uuid.UUID
	BatchCode       string
	DrugName        string
	Manufacturer    string
	Location        string
	Actor           string
	Quantity        int64
	ManufactureDate time.Time
	ExpiryDate      time.Time
}

// Register creates a batch in PENDING with its initial history event and the
// ledger-issued data hash. The hash is final; nothing downstream recomputes
// or overwrites it.
func (s *Service) Register(ctx context.Context, req Request) (domain.Batch, error) {
	if req.OrganizationID == uuid.Nil {
		return domain.Batch{}, errors.New("organization id is required")
	}
	if strings.TrimSpace(req.BatchCode) == "" {
		return domain.Batch{}, errors.New("batch code is required")
	}
	if strings.TrimSpace(req.DrugName) == "" {
		return domain.Batch{}, errors.New("drug name is required")
	}
	if req.ManufactureDate.IsZero() || req.ExpiryDate.IsZero() {
		return domain.Batch{}, errors.New("manufacture and expiry dates are required")
	}

	if _, err := s.batches.GetByCode(ctx, req.BatchCode); err == nil {
		return domain.Batch{}, fmt.Errorf("batch code %s already registered", req.BatchCode)
	} else if !errors.Is(err, domain.ErrBatchNotFound) {
		return domain.Batch{}, fmt.Errorf("check batch code: %w", err)
	}

	batch := domain.NewBatch(
		req.OrganizationID,
		strings.TrimSpace(req.BatchCode),
		strings.TrimSpace(req.DrugName),
		strings.TrimSpace(req.Manufacturer),
		strings.TrimSpace(req.Location),
		strings.TrimSpace(req.Actor),
		req.Quantity,
		req.ManufactureDate,
		req.ExpiryDate,
		s.now(),
	)

	hash, err := s.ledger.RecordCreation(ctx, batch)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("record creation on ledger: %w", err)
	}
	batch, err = batch.WithDataHash(hash)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("assign data hash: %w", err)
	}

	created, err := s.batches.Create(ctx, batch)
	if err != nil {
		return domain.Batch{}, fmt.Errorf("persist batch: %w", err)
	}
	return created, nil
}
