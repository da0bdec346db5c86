package anomaly

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/pharmatrace/batchcore/internal/audit"
	"github.com/pharmatrace/batchcore/internal/domain"

	"github.com/google/uuid"
)

func fleetBatch(code string, quantity int64) domain.Batch {
	batch := healthyBatch()
	batch.ID = uuid.New()
	batch.BatchCode = code
	batch.Quantity = quantity
	for i := range batch.History {
		batch.History[i].BatchID = batch.ID
	}
	return batch
}

func TestEvaluateFleetCleanPopulation(t *testing.T) {
	engine := NewEngine(DefaultConfig(), WithClock(testClock))
	aggregator := NewAggregator(engine, nil, WithAggregatorClock(testClock))

	batches := make([]domain.Batch, 20)
	for i := range batches {
		batches[i] = fleetBatch(fmt.Sprintf("BT-%03d", i), 500)
	}

	analysis := aggregator.EvaluateFleet(context.Background(), batches)
	if analysis.TotalBatches != 20 || analysis.BatchesWithAnomalies != 0 {
		t.Fatalf("clean fleet totals = %d/%d", analysis.TotalBatches, analysis.BatchesWithAnomalies)
	}
	if len(analysis.Anomalies) != 0 || len(analysis.TopRisks) != 0 {
		t.Fatalf("clean fleet should carry no findings or risks")
	}
	for severity, count := range analysis.SeverityCounts {
		if count != 0 {
			t.Fatalf("severity %s count = %d, want 0", severity, count)
		}
	}
	if len(analysis.SeverityCounts) != 4 {
		t.Fatalf("severity counts should list all four grades, got %v", analysis.SeverityCounts)
	}
}

func TestEvaluateFleetDeterministicAcrossRuns(t *testing.T) {
	engine := NewEngine(DefaultConfig(), WithClock(testClock))
	aggregator := NewAggregator(engine, nil, WithAggregatorClock(testClock), WithWorkers(4))

	var batches []domain.Batch
	for i := 0; i < 12; i++ {
		quantity := int64(500)
		if i%3 == 0 {
			quantity = 0 // critical quantity finding
		}
		batches = append(batches, fleetBatch(fmt.Sprintf("BT-%03d", i), quantity))
	}

	first := aggregator.EvaluateFleet(context.Background(), batches)
	for run := 0; run < 5; run++ {
		again := aggregator.EvaluateFleet(context.Background(), batches)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("fleet analysis differs between runs:\n%+v\n%+v", first, again)
		}
	}
}

func TestEvaluateFleetTopRisksCappedAndOrdered(t *testing.T) {
	engine := NewEngine(DefaultConfig(), WithClock(testClock))
	aggregator := NewAggregator(engine, nil, WithAggregatorClock(testClock))

	var batches []domain.Batch
	for i := 0; i < 8; i++ {
		batches = append(batches, fleetBatch(fmt.Sprintf("BT-%03d", i), 0))
	}

	analysis := aggregator.EvaluateFleet(context.Background(), batches)
	if len(analysis.TopRisks) != 5 {
		t.Fatalf("top risks = %d, want capped at 5", len(analysis.TopRisks))
	}
	for i := 1; i < len(analysis.TopRisks); i++ {
		prev, cur := analysis.TopRisks[i-1], analysis.TopRisks[i]
		if cur.RiskScore > prev.RiskScore {
			t.Fatalf("top risks not sorted by score: %+v", analysis.TopRisks)
		}
		if cur.RiskScore == prev.RiskScore && cur.BatchCode < prev.BatchCode {
			t.Fatalf("tied scores not sorted by batch code: %+v", analysis.TopRisks)
		}
	}
}

func TestEvaluateFleetRecordsSortedSeverityFirst(t *testing.T) {
	engine := NewEngine(DefaultConfig(), WithClock(testClock))
	aggregator := NewAggregator(engine, nil, WithAggregatorClock(testClock))

	critical := fleetBatch("BT-CRIT", 0)
	oversized := fleetBatch("BT-BIG", 2_000_000)

	analysis := aggregator.EvaluateFleet(context.Background(), []domain.Batch{oversized, critical})
	if len(analysis.Anomalies) != 2 {
		t.Fatalf("findings = %d, want 2", len(analysis.Anomalies))
	}
	if analysis.Anomalies[0].Severity != domain.SeverityCritical {
		t.Fatalf("merged findings not severity-sorted: %+v", analysis.Anomalies)
	}
}

type recordingSink struct {
	mu        sync.Mutex
	anomalies []domain.AnomalyRecord
}

func (s *recordingSink) TransitionApplied(audit.TransitionEvent) {}

func (s *recordingSink) AnomalyDetected(record domain.AnomalyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalies = append(s.anomalies, record)
}

func TestEvaluateFleetForwardsSevereFindingsToSink(t *testing.T) {
	engine := NewEngine(DefaultConfig(), WithClock(testClock))
	sink := &recordingSink{}
	aggregator := NewAggregator(engine, sink, WithAggregatorClock(testClock))

	critical := fleetBatch("BT-CRIT", 0) // critical quantity finding
	nearExpiry := fleetBatch("BT-WARN", 500)
	nearExpiry.ExpiryDate = testNow.Add(10 * 24 * time.Hour) // medium expiry finding

	aggregator.EvaluateFleet(context.Background(), []domain.Batch{critical, nearExpiry})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.anomalies) != 1 {
		t.Fatalf("sink received %d findings, want only the critical one", len(sink.anomalies))
	}
	if sink.anomalies[0].Severity != domain.SeverityCritical {
		t.Fatalf("forwarded severity = %s", sink.anomalies[0].Severity)
	}
}

func TestEvaluateFleetEmptyPopulation(t *testing.T) {
	engine := NewEngine(DefaultConfig(), WithClock(testClock))
	aggregator := NewAggregator(engine, nil, WithAggregatorClock(testClock))

	analysis := aggregator.EvaluateFleet(context.Background(), nil)
	if analysis.TotalBatches != 0 || analysis.BatchesWithAnomalies != 0 {
		t.Fatalf("empty fleet totals = %d/%d", analysis.TotalBatches, analysis.BatchesWithAnomalies)
	}
	if analysis.Summary == "" {
		t.Fatalf("empty fleet should still carry a summary")
	}
}
