package anomaly

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pharmatrace/batchcore/internal/audit"
	"github.com/pharmatrace/batchcore/internal/domain"
)

const defaultTopRisks = 5

// Aggregator fans single-batch evaluation out over a worker pool and merges
// the results into a fleet-level report. Detection never mutates a batch:
// critical and high findings are forwarded to the audit sink as notification
// candidates only, and flagging remains an explicit state-machine call.
type Aggregator struct {
	evaluator Evaluator
	sink      audit.Sink
	workers   int
	topRisks  int
	now       func() time.Time
}

// AggregatorOption customizes an Aggregator.
type AggregatorOption func(*Aggregator)

// WithWorkers bounds the evaluation pool.
func WithWorkers(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithTopRisks caps the ranked risk list.
func WithTopRisks(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n > 0 {
			a.topRisks = n
		}
	}
}

// WithAggregatorClock injects the report clock.
func WithAggregatorClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAggregator constructs an Aggregator. A nil sink falls back to NopSink.
func NewAggregator(evaluator Evaluator, sink audit.Sink, opts ...AggregatorOption) *Aggregator {
	if sink == nil {
		sink = audit.NopSink{}
	}
	a := &Aggregator{
		evaluator: evaluator,
		sink:      sink,
		workers:   runtime.NumCPU(),
		topRisks:  defaultTopRisks,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.workers <= 0 {
		a.workers = 1
	}
	return a
}

// EvaluateFleet evaluates every batch concurrently and merges the findings.
// Workers share no mutable state (each writes only its own result slot) and
// the merged output is post-sorted, so ordering never depends on completion
// order.
func (a *Aggregator) EvaluateFleet(ctx context.Context, batches []domain.Batch) domain.BatchAnalysisOutput {
	outputs := make([]domain.AnomalyDetectionOutput, len(batches))

	workers := a.workers
	if workers > len(batches) {
		workers = len(batches)
	}

	if workers > 0 {
		jobs := make(chan int)
		var wg sync.WaitGroup
		wg.Add(workers)
		for w := 0; w < workers; w++ {
			go func() {
				defer wg.Done()
				for idx := range jobs {
					outputs[idx] = a.evaluator.Evaluate(batches[idx])
				}
			}()
		}
	feed:
		for idx := range batches {
			select {
			case jobs <- idx:
			case <-ctx.Done():
				break feed
			}
		}
		close(jobs)
		wg.Wait()
	}

	return a.merge(ctx, batches, outputs)
}

func (a *Aggregator) merge(ctx context.Context, batches []domain.Batch, outputs []domain.AnomalyDetectionOutput) domain.BatchAnalysisOutput {
	analysis := domain.BatchAnalysisOutput{
		TotalBatches: len(batches),
		SeverityCounts: map[domain.AnomalySeverity]int{
			domain.SeverityLow:      0,
			domain.SeverityMedium:   0,
			domain.SeverityHigh:     0,
			domain.SeverityCritical: 0,
		},
		Anomalies:   []domain.AnomalyRecord{},
		TopRisks:    []domain.TopRisk{},
		GeneratedAt: a.now(),
	}

	seen := make(map[string]struct{})
	var risks []domain.TopRisk

	for i, output := range outputs {
		if !output.IsAnomaly {
			continue
		}
		analysis.BatchesWithAnomalies++

		worst := domain.AnomalySeverity("")
		summary := ""
		for _, record := range output.Anomalies {
			if _, dup := seen[record.ID]; dup {
				continue
			}
			seen[record.ID] = struct{}{}
			analysis.Anomalies = append(analysis.Anomalies, record)
			analysis.SeverityCounts[record.Severity]++

			if domain.SeverityRank(record.Severity) > domain.SeverityRank(worst) {
				worst = record.Severity
				summary = record.Description
			}
			if record.Severity == domain.SeverityCritical || record.Severity == domain.SeverityHigh {
				a.sink.AnomalyDetected(record)
			}
		}

		risks = append(risks, domain.TopRisk{
			BatchCode: batches[i].BatchCode,
			RiskScore: output.RiskScore,
			Severity:  worst,
			Summary:   summary,
		})
	}

	SortRecords(analysis.Anomalies)

	sort.SliceStable(risks, func(i, j int) bool {
		if risks[i].RiskScore != risks[j].RiskScore {
			return risks[i].RiskScore > risks[j].RiskScore
		}
		return risks[i].BatchCode < risks[j].BatchCode
	})
	if len(risks) > a.topRisks {
		risks = risks[:a.topRisks]
	}
	analysis.TopRisks = risks

	analysis.Summary = a.summarize(analysis, ctx.Err())
	return analysis
}

func (a *Aggregator) summarize(analysis domain.BatchAnalysisOutput, ctxErr error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyzed %d batch(es): %d with anomalies", analysis.TotalBatches, analysis.BatchesWithAnomalies)
	if analysis.BatchesWithAnomalies > 0 {
		fmt.Fprintf(&b, " (%d critical, %d high, %d medium, %d low findings)",
			analysis.SeverityCounts[domain.SeverityCritical],
			analysis.SeverityCounts[domain.SeverityHigh],
			analysis.SeverityCounts[domain.SeverityMedium],
			analysis.SeverityCounts[domain.SeverityLow],
		)
	}
	b.WriteString(".")
	if len(analysis.TopRisks) > 0 {
		top := analysis.TopRisks[0]
		fmt.Fprintf(&b, " Highest risk: batch %s (score %d): %s", top.BatchCode, top.RiskScore, top.Summary)
	}
	if ctxErr != nil {
		fmt.Fprintf(&b, " Evaluation interrupted early: %v.", ctxErr)
	}
	return b.String()
}
