// Package lifecycle enforces the legal custody transitions of a batch. All
// status changes flow through Machine.Transition; nothing else mutates batch
// status.
package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pharmatrace/batchcore/internal/audit"
	"github.com/pharmatrace/batchcore/internal/authenticity"
	"github.com/pharmatrace/batchcore/internal/domain"
	"github.com/pharmatrace/batchcore/internal/repository"

	"github.com/google/uuid"
)

// allowedTransitions is the legal-transition table. REJECTED and RECALLED
// have no entries: they are terminal. From FLAGGED, the non-recall target is
// further constrained to the computed restore status (see restoreTarget).
var allowedTransitions = map[domain.BatchStatus][]domain.BatchStatus{
	domain.BatchStatusPending:   {domain.BatchStatusApproved, domain.BatchStatusRejected},
	domain.BatchStatusApproved:  {domain.BatchStatusInTransit, domain.BatchStatusFlagged, domain.BatchStatusRecalled},
	domain.BatchStatusInTransit: {domain.BatchStatusDelivered, domain.BatchStatusFlagged, domain.BatchStatusRecalled},
	domain.BatchStatusDelivered: {domain.BatchStatusRecalled},
	domain.BatchStatusFlagged:   {domain.BatchStatusApproved, domain.BatchStatusInTransit, domain.BatchStatusRecalled},
}

// actionKinds maps regulatory targets to the action kind used for provenance
// hashes.
var actionKinds = map[domain.BatchStatus]string{
	domain.BatchStatusApproved: "approve",
	domain.BatchStatusRejected: "reject",
	domain.BatchStatusRecalled: "recall",
}

// TransitionResult reports an applied custody change.
type TransitionResult struct {
	Batch      domain.Batch        `json:"batch"`
	Event      domain.HistoryEvent `json:"event"`
	ActionHash string              `json:"action_hash,omitempty"`
	Restored   bool                `json:"restored,omitempty"`
}

// Machine serializes custody transitions for batches. Concurrency control is
/// optimistic: the repository append is guarded by the version read here, and
// a stale read surfaces domain.ErrConflict for the caller to retry.
type Machine struct {
	batches repository.BatchRepository
	sink    audit.Sink
	now     func() time.Time
}

// Option customizes a Machine.
type Option func(*Machine)

// WithClock injects the clock used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMachine constructs a Machine. A nil sink falls back to NopSink.
func NewMachine(batches repository.BatchRepository, sink audit.Sink, opts ...Option) *Machine {
	if sink == nil {
		sink = audit.NopSink{}
	}
	m := &Machine{batches: batches, sink: sink, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CanTransition reports whether the table allows from -> to. It does not
// apply the FLAGGED restore narrowing; Transition does.
func CanTransition(from, to domain.BatchStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// RestoreTarget computes the status a flagged batch returns to when the flag
// clears: the most recent non-FLAGGED status in history if it is APPROVED or
// IN_TRANSIT, otherwise IN_TRANSIT.
func RestoreTarget(batch domain.Batch) domain.BatchStatus {
	if prior, ok := batch.LastNonFlaggedStatus(); ok {
		if prior == domain.BatchStatusApproved || prior == domain.BatchStatusInTransit {
			return prior
		}
	}
	return domain.BatchStatusInTransit
}

// Transition applies one custody change. On success exactly one history
// event is appended; for non-FLAGGED targets the batch status becomes the
// target. Illegal targets return *domain.InvalidTransitionError with the
// batch untouched; a concurrent writer surfaces domain.ErrConflict.
func (m *Machine) Transition(ctx context.Context, batchID uuid.UUID, target domain.BatchStatus, actor, location, reason string) (TransitionResult, error) {
	batch, err := m.batches.GetByID(ctx, batchID)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("load batch: %w", err)
	}
	return m.transition(ctx, batch, target, actor, location, reason)
}

// ClearFlag restores a flagged batch without the caller having to compute
// the restore target.
func (m *Machine) ClearFlag(ctx context.Context, batchID uuid.UUID, actor, location, reason string) (TransitionResult, error) {
	batch, err := m.batches.GetByID(ctx, batchID)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("load batch: %w", err)
	}
	if batch.Status != domain.BatchStatusFlagged {
		return TransitionResult{}, &domain.InvalidTransitionError{From: batch.Status, To: RestoreTarget(batch)}
	}
	return m.transition(ctx, batch, RestoreTarget(batch), actor, location, reason)
}

func (m *Machine) transition(ctx context.Context, batch domain.Batch, target domain.BatchStatus, actor, location, reason string) (TransitionResult, error) {
	from := batch.Status

	if !CanTransition(from, target) {
		return TransitionResult{}, &domain.InvalidTransitionError{From: from, To: target}
	}
	if from == domain.BatchStatusFlagged && target != domain.BatchStatusRecalled {
		if restored := RestoreTarget(batch); target != restored {
			return TransitionResult{}, &domain.InvalidTransitionError{From: from, To: target}
		}
	}
	if target == domain.BatchStatusRecalled && strings.TrimSpace(reason) == "" {
		return TransitionResult{}, fmt.Errorf("recall of batch %s requires a non-empty reason", batch.BatchCode)
	}

	now := m.now()
	// History timestamps never decrease; clamp against the latest event in
	// case of clock skew between writers.
	if latest, ok := batch.LatestEvent(); ok && now.Before(latest.Timestamp) {
		now = latest.Timestamp
	}

	event := domain.HistoryEvent{
		ID:        uuid.New(),
		BatchID:   batch.ID,
		Status:    target,
		Location:  location,
		Actor:     actor,
		Timestamp: now,
	}
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		event.Reason = &trimmed
	}

	var priorStatus *domain.BatchStatus
	if target == domain.BatchStatusFlagged {
		prior := from
		priorStatus = &prior
	}

	updated, err := m.batches.AppendEvent(ctx, batch.ID, batch.Version, event, target, priorStatus)
	if err != nil {
		return TransitionResult{}, err
	}

	result := TransitionResult{
		Batch:    updated,
		Event:    event,
		Restored: from == domain.BatchStatusFlagged && target != domain.BatchStatusRecalled,
	}
	if kind, ok := actionKinds[target]; ok {
		result.ActionHash = authenticity.GenerateActionHash(batch.ID.String(), now, kind)
	}

	m.sink.TransitionApplied(audit.TransitionEvent{
		BatchID:    batch.ID.String(),
		BatchCode:  batch.BatchCode,
		From:       from,
		To:         target,
		Actor:      actor,
		Location:   location,
		Reason:     strings.TrimSpace(reason),
		ActionHash: result.ActionHash,
		OccurredAt: now,
	})

	return result, nil
}
