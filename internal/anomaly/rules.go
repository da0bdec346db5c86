package anomaly

import (
	"fmt"
	"strings"
	"time"

	"github.com/pharmatrace/batchcore/internal/domain"
)

// timeRules flags batches sitting still: a PENDING batch held past the
// review deadline, an IN_TRANSIT batch gone quiet, and oversized gaps
// between consecutive events.
func (e *Engine) timeRules(batch domain.Batch, now time.Time) []finding {
	var out []finding

	if batch.Status == domain.BatchStatusPending {
		if entered, ok := statusEnteredAt(batch, domain.BatchStatusPending); ok {
			held := now.Sub(entered)
			if held > e.cfg.PendingDelay {
				severity := domain.SeverityMedium
				confidence := 80
				if held > 2*e.cfg.PendingDelay {
					severity = domain.SeverityHigh
					confidence = 90
				}
				out = append(out, finding{
					Type:           domain.AnomalyTypeTimeDelay,
					Severity:       severity,
					Confidence:     confidence,
					Description:    fmt.Sprintf("batch has been pending review for %.0f hours (limit %.0f)", held.Hours(), e.cfg.PendingDelay.Hours()),
					Recommendation: "escalate to the reviewing regulator; pending batches should be approved or rejected promptly",
					AffectedStage:  domain.BatchStatusPending,
					DetectedAt:     now,
				})
			}
		}
	}

	if batch.Status == domain.BatchStatusInTransit {
		if latest, ok := batch.LatestEvent(); ok {
			if quiet := now.Sub(latest.Timestamp); quiet > e.cfg.TransitStall {
				out = append(out, finding{
					Type:           domain.AnomalyTypeTimeDelay,
					Severity:       domain.SeverityHigh,
					Confidence:     85,
					Description:    fmt.Sprintf("batch in transit with no custody update for %.0f hours (limit %.0f)", quiet.Hours(), e.cfg.TransitStall.Hours()),
					Recommendation: "contact the carrying distributor and confirm the shipment's whereabouts",
					AffectedStage:  domain.BatchStatusInTransit,
					DetectedAt:     now,
				})
			}
		}
	}

	for i := 1; i < len(batch.History); i++ {
		prev, next := batch.History[i-1], batch.History[i]
		if gap := next.Timestamp.Sub(prev.Timestamp); gap > e.cfg.EventGap {
			out = append(out, finding{
				Type:           domain.AnomalyTypeTimeDelay,
				Severity:       domain.SeverityMedium,
				Confidence:     70,
				Description:    fmt.Sprintf("%.0f hour gap between %s and %s events", gap.Hours(), prev.Status, next.Status),
				Recommendation: "review the custody chain for this interval; long silent gaps often indicate unreported handling",
				AffectedStage:  next.Status,
				DetectedAt:     now,
			})
		}
	}

	return out
}

// regressionRules flags backwards movement along the canonical lifecycle and
// stage skipping.
func (e *Engine) regressionRules(batch domain.Batch, now time.Time) []finding {
	var out []finding

	for i := 1; i < len(batch.History); i++ {
		prev, next := batch.History[i-1].Status, batch.History[i].Status

		prevRank, prevOK := domain.LifecycleRank(prev)
		nextRank, nextOK := domain.LifecycleRank(next)
		if !prevOK || !nextOK {
			continue
		}

		switch {
		case prev == domain.BatchStatusApproved && next == domain.BatchStatusPending:
			out = append(out, finding{
				Type:           domain.AnomalyTypeStatusRegression,
				Severity:       domain.SeverityHigh,
				Confidence:     85,
				Description:    "approval was reverted to pending",
				Recommendation: "confirm the reverting actor had authority; approvals should not be silently undone",
				AffectedStage:  prev,
				DetectedAt:     now,
			})
		case nextRank < prevRank:
			out = append(out, finding{
				Type:           domain.AnomalyTypeStatusRegression,
				Severity:       domain.SeverityCritical,
				Confidence:     95,
				Description:    fmt.Sprintf("status moved backwards from %s to %s", prev, next),
				Recommendation: "freeze the batch and audit both events; backward movement in the custody chain suggests tampering",
				AffectedStage:  prev,
				DetectedAt:     now,
			})
		case prev == domain.BatchStatusPending && next == domain.BatchStatusDelivered:
			out = append(out, finding{
				Type:           domain.AnomalyTypeStatusRegression,
				Severity:       domain.SeverityHigh,
				Confidence:     85,
				Description:    "batch jumped from PENDING straight to DELIVERED, skipping approval",
				Recommendation: "verify the approval record exists off-chain; delivery without approval violates the custody protocol",
				AffectedStage:  next,
				DetectedAt:     now,
			})
		}
	}

	return out
}

// expiryRules flags approaching expiry, expired stock still in circulation,
// and malformed date pairs.
func (e *Engine) expiryRules(batch domain.Batch, now time.Time) []finding {
	var out []finding

	if batch.ExpiryDate.IsZero() {
		return out
	}

	if !batch.ManufactureDate.IsZero() && batch.ManufactureDate.After(batch.ExpiryDate) {
		out = append(out, finding{
			Type:           domain.AnomalyTypeExpiry,
			Severity:       domain.SeverityCritical,
			Confidence:     99,
			Description:    "manufacturing date is after the expiry date",
			Recommendation: "the batch record is malformed; quarantine and re-verify against the ledger",
			AffectedStage:  batch.Status,
			DetectedAt:     now,
		})
		return out
	}

	switch {
	case batch.ExpiryDate.Before(now):
		// Delivered stock reached patients before expiring, and rejected or
		// recalled stock is already out of circulation.
		if batch.Status != domain.BatchStatusDelivered && !batch.Status.IsTerminal() {
			out = append(out, finding{
				Type:           domain.AnomalyTypeExpiry,
				Severity:       domain.SeverityHigh,
				Confidence:     95,
				Description:    fmt.Sprintf("batch expired %s while still %s", batch.ExpiryDate.UTC().Format("2006-01-02"), batch.Status),
				Recommendation: "pull the batch from circulation immediately; expired product must not move further",
				AffectedStage:  batch.Status,
				DetectedAt:     now,
			})
		}
	case batch.ExpiryDate.Sub(now) <= e.cfg.ExpiryWindow:
		out = append(out, finding{
			Type:           domain.AnomalyTypeExpiry,
			Severity:       domain.SeverityMedium,
			Confidence:     90,
			Description:    fmt.Sprintf("batch expires %s, within the %d day warning window", batch.ExpiryDate.UTC().Format("2006-01-02"), int(e.cfg.ExpiryWindow.Hours()/24)),
			Recommendation: "prioritize distribution or schedule disposal before expiry",
			AffectedStage:  batch.Status,
			DetectedAt:     now,
		})
	}

	return out
}

// quantityRules flags impossible or implausible quantities.
func (e *Engine) quantityRules(batch domain.Batch, now time.Time) []finding {
	var out []finding

	if batch.Quantity <= 0 {
		out = append(out, finding{
			Type:           domain.AnomalyTypeQuantity,
			Severity:       domain.SeverityCritical,
			Confidence:     99,
			Description:    fmt.Sprintf("batch quantity is %d; a tracked batch cannot be empty or negative", batch.Quantity),
			Recommendation: "the record is malformed or units were siphoned; reconcile against manufacturing output",
			AffectedStage:  batch.Status,
			DetectedAt:     now,
		})
	} else if batch.Quantity > e.cfg.MaxQuantity {
		out = append(out, finding{
			Type:           domain.AnomalyTypeQuantity,
			Severity:       domain.SeverityMedium,
			Confidence:     75,
			Description:    fmt.Sprintf("batch quantity %d exceeds the plausible maximum of %d", batch.Quantity, e.cfg.MaxQuantity),
			Recommendation: "confirm the unit of measure with the manufacturer; oversized batches are frequently data-entry errors",
			AffectedStage:  batch.Status,
			DetectedAt:     now,
		})
	}

	return out
}

// locationRules flags unknown locations and, when configured, implausible
// travel times and route deviations. The latter two are off by default: no
// thresholds are invented when no table or allowlist is supplied.
func (e *Engine) locationRules(batch domain.Batch, now time.Time) []finding {
	var out []finding

	for _, event := range batch.History {
		if strings.Contains(strings.ToLower(event.Location), "unknown") {
			out = append(out, finding{
				Type:           domain.AnomalyTypeLocation,
				Severity:       domain.SeverityMedium,
				Confidence:     80,
				Description:    fmt.Sprintf("custody event at %s recorded an unknown location %q", event.Timestamp.UTC().Format(time.RFC3339), event.Location),
				Recommendation: "require the recording actor to backfill a verifiable location",
				AffectedStage:  event.Status,
				DetectedAt:     now,
			})
		}
	}

	if e.cfg.MinTravelTimes != nil {
		for i := 1; i < len(batch.History); i++ {
			prev, next := batch.History[i-1], batch.History[i]
			if strings.EqualFold(prev.Location, next.Location) {
				continue
			}
			minTravel, ok := e.cfg.MinTravelTimes[RouteKey(prev.Location, next.Location)]
			if !ok {
				continue
			}
			if gap := next.Timestamp.Sub(prev.Timestamp); gap < minTravel {
				out = append(out, finding{
					Type:           domain.AnomalyTypeLocation,
					Severity:       domain.SeverityHigh,
					Confidence:     85,
					Description:    fmt.Sprintf("batch moved %s to %s in %.0f minutes; minimum plausible travel is %.0f minutes", prev.Location, next.Location, gap.Minutes(), minTravel.Minutes()),
					Recommendation: "one of the two custody events is falsified; audit both actors",
					AffectedStage:  next.Status,
					DetectedAt:     now,
				})
			}
		}
	}

	if e.cfg.ExpectedRoutes != nil {
		allowed := make(map[string]struct{}, len(e.cfg.ExpectedRoutes))
		for _, loc := range e.cfg.ExpectedRoutes {
			allowed[strings.ToLower(strings.TrimSpace(loc))] = struct{}{}
		}
		seen := make(map[string]struct{})
		for _, event := range batch.History {
			key := strings.ToLower(strings.TrimSpace(event.Location))
			if key == "" {
				continue
			}
			if _, ok := allowed[key]; ok {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, finding{
				Type:           domain.AnomalyTypeLocation,
				Severity:       domain.SeverityMedium,
				Confidence:     70,
				Description:    fmt.Sprintf("custody event location %q is outside the expected route", event.Location),
				Recommendation: "confirm the deviation with the distributor and update the route plan if legitimate",
				AffectedStage:  event.Status,
				DetectedAt:     now,
			})
		}
	}

	return out
}

// patternRules flags structural integrity problems in the history itself.
func (e *Engine) patternRules(batch domain.Batch, now time.Time) []finding {
	var out []finding

	if len(batch.History) == 0 {
		out = append(out, finding{
			Type:           domain.AnomalyTypePattern,
			Severity:       domain.SeverityCritical,
			Confidence:     99,
			Description:    "batch has no history events; every batch must carry at least its creation record",
			Recommendation: "the record was created outside the custody protocol or history was truncated; investigate the data store",
			AffectedStage:  batch.Status,
			DetectedAt:     now,
		})
		return out
	}

	byTimestamp := make(map[int64]int)
	for _, event := range batch.History {
		byTimestamp[event.Timestamp.UnixNano()]++
	}
	duplicates := 0
	for _, count := range byTimestamp {
		if count > 1 {
			duplicates++
		}
	}
	if duplicates > 0 {
		out = append(out, finding{
			Type:           domain.AnomalyTypePattern,
			Severity:       domain.SeverityHigh,
			Confidence:     90,
			Description:    fmt.Sprintf("history contains %d timestamp(s) shared by multiple events", duplicates),
			Recommendation: "identical timestamps indicate bulk-written or fabricated events; audit the writing actor",
			AffectedStage:  batch.Status,
			DetectedAt:     now,
		})
	}

	return out
}

// statusEnteredAt returns when the batch most recently entered the given
// status.
func statusEnteredAt(batch domain.Batch, status domain.BatchStatus) (time.Time, bool) {
	for i := len(batch.History) - 1; i >= 0; i-- {
		if batch.History[i].Status == status {
			return batch.History[i].Timestamp, true
		}
	}
	return time.Time{}, false
}
