package domain

import (
	"time"

	"github.com/google/uuid"
)

// BatchStatus is the lifecycle stage of a pharmaceutical batch.
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "PENDING"
	BatchStatusApproved  BatchStatus = "APPROVED"
	BatchStatusInTransit BatchStatus = "IN_TRANSIT"
	BatchStatusDelivered BatchStatus = "DELIVERED"
	BatchStatusFlagged   BatchStatus = "FLAGGED"
	BatchStatusRejected  BatchStatus = "REJECTED"
	BatchStatusRecalled  BatchStatus = "RECALLED"
)

// lifecycleOrder ranks the forward custody path. Overlay and terminal-failure
// states carry no rank.
var lifecycleOrder = map[BatchStatus]int{
	BatchStatusPending:   0,
	BatchStatusApproved:  1,
	BatchStatusInTransit: 2,
	BatchStatusDelivered: 3,
}

// LifecycleRank returns the canonical order of a status and whether it sits on
// the forward custody path at all.
func LifecycleRank(status BatchStatus) (int, bool) {
	rank, ok := lifecycleOrder[status]
	return rank, ok
}

// IsTerminal reports whether no outgoing transition other than none exists.
// DELIVERED still allows RECALLED, so it is not terminal here.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchStatusRejected || s == BatchStatusRecalled
}

// ParseBatchStatus validates a raw status string.
func ParseBatchStatus(raw string) (BatchStatus, bool) {
	switch BatchStatus(raw) {
	case BatchStatusPending, BatchStatusApproved, BatchStatusInTransit,
		BatchStatusDelivered, BatchStatusFlagged, BatchStatusRejected, BatchStatusRecalled:
		return BatchStatus(raw), true
	}
	return "", false
}

// HistoryEvent is one immutable custody record. Events are append-only and
// their timestamps never decrease within a batch.
type HistoryEvent struct {
	ID        uuid.UUID   `json:"id"`
	BatchID   uuid.UUID   `json:"batch_id"`
	Status    BatchStatus `json:"status"`
	Location  string      `json:"location"`
	Actor     string      `json:"actor"`
	Reason    *string     `json:"reason,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Batch is a tracked unit of pharmaceutical product. BatchCode is the business
// key and DataHash is assigned exactly once at creation by the ledger; neither
// is ever rewritten. Version is the optimistic-concurrency token guarding
// status changes and history appends.
type Batch struct {
	ID              uuid.UUID      `json:"id"`
	OrganizationID  uuid.UUID      `json:"organization_id"`
	BatchCode       string         `json:"batch_code"`
	DrugName        string         `json:"drug_name"`
	Quantity        int64          `json:"quantity"`
	Manufacturer    string         `json:"manufacturer"`
	ManufactureDate time.Time      `json:"manufacture_date"`
	ExpiryDate      time.Time      `json:"expiry_date"`
	Status          BatchStatus    `json:"status"`
	PriorStatus     *BatchStatus   `json:"prior_status,omitempty"`
	DataHash        string         `json:"data_hash,omitempty"`
	Version         int64          `json:"version"`
	History         []HistoryEvent `json:"history"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// NewBatch creates a batch in PENDING with its single initial history event.
// The data hash is filled in afterwards from the ledger's recordCreation
// response; it is not computed here.
func NewBatch(organizationID uuid.UUID, batchCode, drugName, manufacturer, location, actor string, quantity int64, manufactureDate, expiryDate, now time.Time) Batch {
	id := uuid.New()
	return Batch{
		ID:              id,
		OrganizationID:  organizationID,
		BatchCode:       batchCode,
		DrugName:        drugName,
		Quantity:        quantity,
		Manufacturer:    manufacturer,
		ManufactureDate: manufactureDate,
		ExpiryDate:      expiryDate,
		Status:          BatchStatusPending,
		Version:         1,
		History: []HistoryEvent{
			{
				ID:        uuid.New(),
				BatchID:   id,
				Status:    BatchStatusPending,
				Location:  location,
				Actor:     actor,
				Timestamp: now,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// LatestEvent returns the newest history event, if any.
func (b Batch) LatestEvent() (HistoryEvent, bool) {
	if len(b.History) == 0 {
		return HistoryEvent{}, false
	}
	return b.History[len(b.History)-1], true
}

// LastNonFlaggedStatus walks history backwards to the most recent status that
// is not FLAGGED. It backs the flag-clear recovery rule.
func (b Batch) LastNonFlaggedStatus() (BatchStatus, bool) {
	for i := len(b.History) - 1; i >= 0; i-- {
		if b.History[i].Status != BatchStatusFlagged {
			return b.History[i].Status, true
		}
	}
	return "", false
}

// WithDataHash returns a copy with the authoritative hash set. The hash is
// write-once; a second assignment fails with ErrDataHashAlreadySet.
func (b Batch) WithDataHash(hash string) (Batch, error) {
	if b.DataHash != "" {
		return b, ErrDataHashAlreadySet
	}
	b.DataHash = hash
	return b, nil
}
