// Package anomaly implements the deterministic rule engine that audits batch
// histories for fraud, delay, and data-integrity patterns, and the fleet
// aggregator that merges per-batch findings into a prioritized report.
//
// The engine replaces a generative-model backend with a rule catalogue that
// honours the same output contract, so a model-backed Evaluator could later
// satisfy the same interface.
package anomaly

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pharmatrace/batchcore/internal/domain"
)

// Evaluator is the detection strategy contract. Engine is the deterministic
// implementation.
type Evaluator interface {
	Evaluate(batch domain.Batch) domain.AnomalyDetectionOutput
}

// Config carries the rule thresholds. Location rules are opt-in: a nil
// travel-time table disables the implausible-travel rule and a nil route
// allowlist disables the route-deviation rule.
type Config struct {
	PendingDelay   time.Duration
	TransitStall   time.Duration
	EventGap       time.Duration
	ExpiryWindow   time.Duration
	MaxQuantity    int64
	MinTravelTimes map[string]time.Duration // key: RouteKey(from, to)
	ExpectedRoutes []string
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		PendingDelay: 72 * time.Hour,
		TransitStall: 168 * time.Hour,
		EventGap:     72 * time.Hour,
		ExpiryWindow: 30 * 24 * time.Hour,
		MaxQuantity:  100_000,
	}
}

// RouteKey normalizes a leg for the travel-time table.
func RouteKey(from, to string) string {
	return strings.ToLower(strings.TrimSpace(from)) + "->" + strings.ToLower(strings.TrimSpace(to))
}

// Engine evaluates batches against the rule catalogue. It is pure and
// side-effect-free; the same batch and clock always yield the same output.
type Engine struct {
	cfg Config
	now func() time.Time
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock injects the evaluation clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine constructs an Engine. Zero thresholds fall back to defaults.
func NewEngine(cfg Config, opts ...Option) *Engine {
	defaults := DefaultConfig()
	if cfg.PendingDelay <= 0 {
		cfg.PendingDelay = defaults.PendingDelay
	}
	if cfg.TransitStall <= 0 {
		cfg.TransitStall = defaults.TransitStall
	}
	if cfg.EventGap <= 0 {
		cfg.EventGap = defaults.EventGap
	}
	if cfg.ExpiryWindow <= 0 {
		cfg.ExpiryWindow = defaults.ExpiryWindow
	}
	if cfg.MaxQuantity <= 0 {
		cfg.MaxQuantity = defaults.MaxQuantity
	}
	e := &Engine{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs the full catalogue against one batch. Malformed input is a
// finding, not a failure; if evaluation itself cannot complete the result is
// a safe default with an explanatory note instead of an error.
func (e *Engine) Evaluate(batch domain.Batch) (output domain.AnomalyDetectionOutput) {
	output = domain.AnomalyDetectionOutput{
		BatchCode: batch.BatchCode,
		Anomalies: []domain.AnomalyRecord{},
	}

	defer func() {
		if r := recover(); r != nil {
			output = domain.AnomalyDetectionOutput{
				BatchCode: batch.BatchCode,
				Anomalies: []domain.AnomalyRecord{},
				Notes:     fmt.Sprintf("evaluation could not complete: %v", r),
			}
		}
	}()

	now := e.now()

	var findings []finding
	findings = append(findings, e.timeRules(batch, now)...)
	findings = append(findings, e.regressionRules(batch, now)...)
	findings = append(findings, e.expiryRules(batch, now)...)
	findings = append(findings, e.quantityRules(batch, now)...)
	findings = append(findings, e.locationRules(batch, now)...)
	findings = append(findings, e.patternRules(batch, now)...)

	output.Anomalies = assignIDs(batch.BatchCode, findings)
	output.IsAnomaly = len(output.Anomalies) > 0
	output.RiskScore = riskScore(output.Anomalies)
	return output
}

// finding is a rule result before identifiers are assigned.
type finding struct {
	Type           domain.AnomalyType
	Severity       domain.AnomalySeverity
	Confidence     int
	Description    string
	Recommendation string
	AffectedStage  domain.BatchStatus
	DetectedAt     time.Time
}

// assignIDs gives each finding its stable ANM identifier, indexed 1-based
// within the (batch, type) pair in catalogue order.
func assignIDs(batchCode string, findings []finding) []domain.AnomalyRecord {
	records := make([]domain.AnomalyRecord, 0, len(findings))
	perType := make(map[domain.AnomalyType]int)
	for _, f := range findings {
		perType[f.Type]++
		records = append(records, domain.AnomalyRecord{
			ID:             domain.AnomalyID(batchCode, f.Type, perType[f.Type]),
			BatchID:        batchCode,
			Type:           f.Type,
			Severity:       f.Severity,
			Confidence:     f.Confidence,
			Description:    f.Description,
			Recommendation: f.Recommendation,
			AffectedStage:  f.AffectedStage,
			DetectedAt:     f.DetectedAt,
		})
	}
	return records
}

// riskScore maps findings to a 0-100 score, monotonic in count and severity.
// Any critical finding pins the floor at 90; a clean batch scores 0.
func riskScore(records []domain.AnomalyRecord) int {
	if len(records) == 0 {
		return 0
	}

	hasCritical := false
	weighted := 0
	for _, r := range records {
		switch r.Severity {
		case domain.SeverityCritical:
			hasCritical = true
		case domain.SeverityHigh:
			weighted += 25
		case domain.SeverityMedium:
			weighted += 15
		case domain.SeverityLow:
			weighted += 8
		}
	}

	if hasCritical {
		score := 90 + 2*(len(records)-1)
		if score > 100 {
			score = 100
		}
		return score
	}
	if weighted > 85 {
		weighted = 85
	}
	return weighted
}

// SortRecords orders anomalies severity-first, then recency, then ID so
// merged output never depends on evaluation or completion order.
func SortRecords(records []domain.AnomalyRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		ri, rj := records[i], records[j]
		if domain.SeverityRank(ri.Severity) != domain.SeverityRank(rj.Severity) {
			return domain.SeverityRank(ri.Severity) > domain.SeverityRank(rj.Severity)
		}
		if !ri.DetectedAt.Equal(rj.DetectedAt) {
			return ri.DetectedAt.After(rj.DetectedAt)
		}
		return ri.ID < rj.ID
	})
}
