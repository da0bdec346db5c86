package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/pharmatrace/batchcore/internal/domain"

	"github.com/xuri/excelize/v2"
)

func TestBuildAnalysisWorkbook(t *testing.T) {
	analysis := domain.BatchAnalysisOutput{
		TotalBatches:         2,
		BatchesWithAnomalies: 1,
		SeverityCounts: map[domain.AnomalySeverity]int{
			domain.SeverityCritical: 1,
		},
		Anomalies: []domain.AnomalyRecord{
			{
				ID:             "ANM-BT-001-quantity-1",
				BatchID:        "BT-001",
				Type:           domain.AnomalyTypeQuantity,
				Severity:       domain.SeverityCritical,
				Confidence:     99,
				Description:    "batch quantity is 0",
				Recommendation: "reconcile against manufacturing output",
				AffectedStage:  domain.BatchStatusPending,
				DetectedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
			},
		},
		TopRisks: []domain.TopRisk{
			{BatchCode: "BT-001", RiskScore: 90, Severity: domain.SeverityCritical, Summary: "batch quantity is 0"},
		},
		Summary:     "Analyzed 2 batch(es): 1 with anomalies.",
		GeneratedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	var buf bytes.Buffer
	if err := WriteAnalysisWorkbook(&buf, analysis); err != nil {
		t.Fatalf("write workbook: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("reopen workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 2 || sheets[0] != "Summary" || sheets[1] != "Anomalies" {
		t.Fatalf("sheets = %v", sheets)
	}

	id, err := f.GetCellValue("Anomalies", "A2")
	if err != nil {
		t.Fatalf("read anomaly cell: %v", err)
	}
	if id != "ANM-BT-001-quantity-1" {
		t.Fatalf("first anomaly row id = %q", id)
	}

	total, err := f.GetCellValue("Summary", "B2")
	if err != nil {
		t.Fatalf("read summary cell: %v", err)
	}
	if total != "2" {
		t.Fatalf("total batches cell = %q", total)
	}
}
