package domain

import (
	"fmt"
	"time"
)

// AnomalyType categorizes a rule-triggered finding.
type AnomalyType string

const (
	AnomalyTypeTimeDelay        AnomalyType = "time_delay"
	AnomalyTypeStatusRegression AnomalyType = "status_regression"
	AnomalyTypeExpiry           AnomalyType = "expiry"
	AnomalyTypeQuantity         AnomalyType = "quantity"
	AnomalyTypeLocation         AnomalyType = "location"
	AnomalyTypePattern          AnomalyType = "pattern"
)

// AnomalySeverity grades a finding.
type AnomalySeverity string

const (
	SeverityLow      AnomalySeverity = "low"
	SeverityMedium   AnomalySeverity = "medium"
	SeverityHigh     AnomalySeverity = "high"
	SeverityCritical AnomalySeverity = "critical"
)

// severityRank orders severities for sorting and counting; higher is worse.
var severityRank = map[AnomalySeverity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// SeverityRank returns the sort weight of a severity (0 for unknown values).
func SeverityRank(s AnomalySeverity) int {
	return severityRank[s]
}

// AnomalyRecord is a single finding against one batch. The ID format
// ANM-{batchCode}-{type}-{index} is stable: index is 1-based within the
// (batch, type) pair.
type AnomalyRecord struct {
	ID             string          `json:"id"`
	BatchID        string          `json:"batch_id"`
	Type           AnomalyType     `json:"type"`
	Severity       AnomalySeverity `json:"severity"`
	Confidence     int             `json:"confidence"`
	Description    string          `json:"description"`
	Recommendation string          `json:"recommendation"`
	AffectedStage  BatchStatus     `json:"affected_stage"`
	DetectedAt     time.Time       `json:"detected_at"`
}

// AnomalyID renders the canonical anomaly identifier.
func AnomalyID(batchCode string, typ AnomalyType, index int) string {
	return fmt.Sprintf("ANM-%s-%s-%d", batchCode, typ, index)
}

// AnomalyDetectionOutput is the single-batch evaluation result. Evaluation
// never fails; when it cannot complete, IsAnomaly is false, Anomalies is
// empty, and Notes explains why.
type AnomalyDetectionOutput struct {
	BatchCode string          `json:"batch_code"`
	IsAnomaly bool            `json:"is_anomaly"`
	Anomalies []AnomalyRecord `json:"anomalies"`
	RiskScore int             `json:"risk_score"`
	Notes     string          `json:"notes,omitempty"`
}

// TopRisk is one ranked entry in a fleet analysis.
type TopRisk struct {
	BatchCode string          `json:"batch_code"`
	RiskScore int             `json:"risk_score"`
	Severity  AnomalySeverity `json:"severity"`
	Summary   string          `json:"summary"`
}

// BatchAnalysisOutput merges per-batch findings into a fleet-level report.
type BatchAnalysisOutput struct {
	TotalBatches         int                     `json:"total_batches"`
	BatchesWithAnomalies int                     `json:"batches_with_anomalies"`
	SeverityCounts       map[AnomalySeverity]int `json:"severity_counts"`
	Anomalies            []AnomalyRecord         `json:"anomalies"`
	TopRisks             []TopRisk               `json:"top_risks"`
	Summary              string                  `json:"summary"`
	GeneratedAt          time.Time               `json:"generated_at"`
}
