package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestParseBatchStatus(t *testing.T) {
	if status, ok := ParseBatchStatus("IN_TRANSIT"); !ok || status != BatchStatusInTransit {
		t.Fatalf("expected IN_TRANSIT to parse, got %q ok=%v", status, ok)
	}
	if _, ok := ParseBatchStatus("SHIPPED"); ok {
		t.Fatalf("expected unknown status to fail parsing")
	}
	if _, ok := ParseBatchStatus(""); ok {
		t.Fatalf("expected empty status to fail parsing")
	}
}

func TestIsTerminal(t *testing.T) {
	if !BatchStatusRejected.IsTerminal() {
		t.Errorf("REJECTED should be terminal")
	}
	if !BatchStatusRecalled.IsTerminal() {
		t.Errorf("RECALLED should be terminal")
	}
	// Delivered batches can still be recalled.
	if BatchStatusDelivered.IsTerminal() {
		t.Errorf("DELIVERED should not be terminal")
	}
	if BatchStatusFlagged.IsTerminal() {
		t.Errorf("FLAGGED should not be terminal")
	}
}

func TestNewBatchStartsPendingWithInitialEvent(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	batch := NewBatch(uuid.New(), "BT-001", "Amoxicillin", "Acme Pharma", "Plant A", "op-1", 500,
		now.AddDate(0, -1, 0), now.AddDate(2, 0, 0), now)

	if batch.Status != BatchStatusPending {
		t.Fatalf("new batch status = %s, want PENDING", batch.Status)
	}
	if batch.Version != 1 {
		t.Fatalf("new batch version = %d, want 1", batch.Version)
	}
	if len(batch.History) != 1 {
		t.Fatalf("new batch history length = %d, want 1", len(batch.History))
	}
	event := batch.History[0]
	if event.Status != BatchStatusPending || event.BatchID != batch.ID {
		t.Fatalf("initial event %+v does not reference the batch in PENDING", event)
	}
	if event.Actor != "op-1" || event.Location != "Plant A" {
		t.Fatalf("initial event actor/location = %s/%s", event.Actor, event.Location)
	}
}

func TestLastNonFlaggedStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	batch := Batch{ID: uuid.New()}
	for i, status := range []BatchStatus{BatchStatusPending, BatchStatusApproved, BatchStatusFlagged} {
		batch.History = append(batch.History, HistoryEvent{
			ID:        uuid.New(),
			BatchID:   batch.ID,
			Status:    status,
			Timestamp: now.Add(time.Duration(i) * time.Hour),
		})
	}

	status, ok := batch.LastNonFlaggedStatus()
	if !ok || status != BatchStatusApproved {
		t.Fatalf("LastNonFlaggedStatus = %s ok=%v, want APPROVED", status, ok)
	}

	empty := Batch{}
	if _, ok := empty.LastNonFlaggedStatus(); ok {
		t.Fatalf("expected no prior status for empty history")
	}
}

func TestWithDataHashIsWriteOnce(t *testing.T) {
	batch := Batch{}
	batch, err := batch.WithDataHash("abc123")
	if err != nil || batch.DataHash != "abc123" {
		t.Fatalf("first assignment: hash=%q err=%v", batch.DataHash, err)
	}
	if _, err := batch.WithDataHash("other"); err != ErrDataHashAlreadySet {
		t.Fatalf("second assignment err = %v, want ErrDataHashAlreadySet", err)
	}
}

func TestAnomalyID(t *testing.T) {
	got := AnomalyID("BT-001", AnomalyTypeQuantity, 2)
	if got != "ANM-BT-001-quantity-2" {
		t.Fatalf("AnomalyID = %s", got)
	}
}

func TestSeverityRankOrdering(t *testing.T) {
	order := []AnomalySeverity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(order); i++ {
		if SeverityRank(order[i]) <= SeverityRank(order[i-1]) {
			t.Fatalf("severity %s should outrank %s", order[i], order[i-1])
		}
	}
	if SeverityRank(AnomalySeverity("bogus")) >= SeverityRank(SeverityLow) {
		t.Fatalf("unknown severity should rank below low")
	}
}
