// Package report renders fleet analysis output as a downloadable workbook
// for regulators who review findings offline.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/pharmatrace/batchcore/internal/domain"

	"github.com/xuri/excelize/v2"
)

const (
	summarySheet   = "Summary"
	anomaliesSheet = "Anomalies"
)

// BuildAnalysisWorkbook renders a BatchAnalysisOutput into an xlsx workbook
// with a summary sheet and one row per anomaly.
func BuildAnalysisWorkbook(analysis domain.BatchAnalysisOutput) (*excelize.File, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("rename summary sheet: %w", err)
	}

	summaryRows := [][]any{
		{"Generated", analysis.GeneratedAt.UTC().Format(time.RFC3339)},
		{"Total batches", analysis.TotalBatches},
		{"Batches with anomalies", analysis.BatchesWithAnomalies},
		{"Critical findings", analysis.SeverityCounts[domain.SeverityCritical]},
		{"High findings", analysis.SeverityCounts[domain.SeverityHigh]},
		{"Medium findings", analysis.SeverityCounts[domain.SeverityMedium]},
		{"Low findings", analysis.SeverityCounts[domain.SeverityLow]},
		{"Summary", analysis.Summary},
	}
	for i, row := range summaryRows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, fmt.Errorf("summary cell: %w", err)
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write summary row: %w", err)
		}
	}

	for i, risk := range analysis.TopRisks {
		cell, err := excelize.CoordinatesToCellName(1, len(summaryRows)+2+i)
		if err != nil {
			return nil, fmt.Errorf("risk cell: %w", err)
		}
		row := []any{
			fmt.Sprintf("Top risk %d", i+1),
			risk.BatchCode,
			risk.RiskScore,
			string(risk.Severity),
			risk.Summary,
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write risk row: %w", err)
		}
	}

	if _, err := f.NewSheet(anomaliesSheet); err != nil {
		return nil, fmt.Errorf("create anomalies sheet: %w", err)
	}
	header := []any{"ID", "Batch", "Type", "Severity", "Confidence", "Stage", "Detected", "Description", "Recommendation"}
	if err := f.SetSheetRow(anomaliesSheet, "A1", &header); err != nil {
		return nil, fmt.Errorf("write anomalies header: %w", err)
	}
	for i, record := range analysis.Anomalies {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, fmt.Errorf("anomaly cell: %w", err)
		}
		row := []any{
			record.ID,
			record.BatchID,
			string(record.Type),
			string(record.Severity),
			record.Confidence,
			string(record.AffectedStage),
			record.DetectedAt.UTC().Format(time.RFC3339),
			record.Description,
			record.Recommendation,
		}
		if err := f.SetSheetRow(anomaliesSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write anomaly row: %w", err)
		}
	}

	return f, nil
}

// WriteAnalysisWorkbook streams the workbook to w.
func WriteAnalysisWorkbook(w io.Writer, analysis domain.BatchAnalysisOutput) error {
	f, err := BuildAnalysisWorkbook(analysis)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return f.Write(w)
}
