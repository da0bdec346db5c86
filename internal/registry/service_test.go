package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pharmatrace/batchcore/internal/domain"

	"github.com/google/uuid"
)

type fakeRepo struct {
	byCode  map[string]domain.Batch
	created []domain.Batch
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byCode: make(map[string]domain.Batch)}
}

func (r *fakeRepo) Create(ctx context.Context, batch domain.Batch) (domain.Batch, error) {
	r.byCode[batch.BatchCode] = batch
	r.created = append(r.created, batch)
	return batch, nil
}

func (r *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Batch, error) {
	for _, batch := range r.byCode {
		if batch.ID == id {
			return batch, nil
		}
	}
	return domain.Batch{}, domain.ErrBatchNotFound
}

func (r *fakeRepo) GetByCode(ctx context.Context, batchCode string) (domain.Batch, error) {
	batch, ok := r.byCode[batchCode]
	if !ok {
		return domain.Batch{}, domain.ErrBatchNotFound
	}
	return batch, nil
}

func (r *fakeRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]domain.Batch, error) {
	return nil, nil
}

func (r *fakeRepo) List(ctx context.Context, organizationID *uuid.UUID, statuses []domain.BatchStatus, limit, offset int) ([]domain.Batch, int, error) {
	return nil, 0, nil
}

func (r *fakeRepo) ListHistory(ctx context.Context, batchID uuid.UUID) ([]domain.HistoryEvent, error) {
	return nil, nil
}

func (r *fakeRepo) AppendEvent(ctx context.Context, batchID uuid.UUID, expectedVersion int64, event domain.HistoryEvent, status domain.BatchStatus, priorStatus *domain.BatchStatus) (domain.Batch, error) {
	return domain.Batch{}, nil
}

func (r *fakeRepo) Count(ctx context.Context, organizationID *uuid.UUID) (int64, error) {
	return int64(len(r.byCode)), nil
}

type fakeLedger struct {
	hash  string
	err   error
	calls int
}

func (l *fakeLedger) RecordCreation(ctx context.Context, batch domain.Batch) (string, error) {
	l.calls++
	return l.hash, l.err
}

func validRequest() Request {
	return Request{
		OrganizationID:  uuid.New(),
		BatchCode:       "BT-001",
		DrugName:        "Amoxicillin",
		Manufacturer:    "Acme Pharma",
		Location:        "Plant A",
		Actor:           "op-1",
		Quantity:        500,
		ManufactureDate: time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
		ExpiryDate:      time.Date(2028, 1, 15, 0, 0, 0, 0, time.UTC),
	}
}

func TestRegisterCreatesPendingBatchWithLedgerHash(t *testing.T) {
	repo := newFakeRepo()
	ledger := &fakeLedger{hash: "deadbeef"}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := NewService(repo, ledger, WithClock(func() time.Time { return now }))

	batch, err := svc.Register(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if batch.Status != domain.BatchStatusPending {
		t.Fatalf("status = %s, want PENDING", batch.Status)
	}
	if batch.DataHash != "deadbeef" {
		t.Fatalf("data hash = %q, want the ledger-issued value", batch.DataHash)
	}
	if ledger.calls != 1 {
		t.Fatalf("ledger called %d times, want exactly once", ledger.calls)
	}
	if len(batch.History) != 1 || batch.History[0].Status != domain.BatchStatusPending {
		t.Fatalf("initial history missing: %+v", batch.History)
	}
	if len(repo.created) != 1 {
		t.Fatalf("repository received %d creates", len(repo.created))
	}
}

func TestRegisterRejectsDuplicateBatchCode(t *testing.T) {
	repo := newFakeRepo()
	ledger := &fakeLedger{hash: "deadbeef"}
	svc := NewService(repo, ledger)

	if _, err := svc.Register(context.Background(), validRequest()); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := svc.Register(context.Background(), validRequest()); err == nil {
		t.Fatalf("duplicate batch code should be rejected")
	}
	if ledger.calls != 1 {
		t.Fatalf("ledger called %d times; a rejected duplicate must not reach it", ledger.calls)
	}
}

func TestRegisterValidatesInput(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, &fakeLedger{hash: "deadbeef"})

	cases := map[string]func(*Request){
		"missing org":      func(r *Request) { r.OrganizationID = uuid.Nil },
		"missing code":     func(r *Request) { r.BatchCode = "  " },
		"missing drug":     func(r *Request) { r.DrugName = "" },
		"missing mfg date": func(r *Request) { r.ManufactureDate = time.Time{} },
		"missing exp date": func(r *Request) { r.ExpiryDate = time.Time{} },
	}
	for name, mutate := range cases {
		req := validRequest()
		mutate(&req)
		if _, err := svc.Register(context.Background(), req); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
	if len(repo.created) != 0 {
		t.Fatalf("invalid requests must not create batches")
	}
}

func TestRegisterFailsWhenLedgerUnavailable(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, &fakeLedger{err: domain.ErrLedgerUnavailable})

	_, err := svc.Register(context.Background(), validRequest())
	if !errors.Is(err, domain.ErrLedgerUnavailable) {
		t.Fatalf("expected ledger error to propagate, got %v", err)
	}
	if len(repo.created) != 0 {
		t.Fatalf("batch must not persist without a ledger hash")
	}
}
