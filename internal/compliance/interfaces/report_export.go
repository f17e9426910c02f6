package interfaces

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	compliance "greenledger/internal/compliance/domain"
)

// BuildViolationsCSV renders violations as CSV, newest first as given.
func BuildViolationsCSV(violations []compliance.Violation) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"plant_id", "rule", "severity", "observed_value", "threshold", "window", "timestamp", "message"}); err != nil {
		return nil, err
	}
	for _, v := range violations {
		if err := w.Write([]string{
			v.PlantID,
			v.Rule,
			string(v.Severity),
			strconv.FormatFloat(v.ObservedValue, 'f', 3, 64),
			strconv.FormatFloat(v.Threshold, 'f', 3, 64),
			windowLabel(v.Window),
			v.Timestamp.Format(time.RFC3339),
			v.Message,
		}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildViolationsXLSX renders a workbook with a violations sheet and a
// latest-scores sheet.
func BuildViolationsXLSX(violations []compliance.Violation, scores []compliance.Score) ([]byte, error) {
	f := excelize.NewFile()
	violationsSheet := "violations"
	scoresSheet := "scores"
	f.SetSheetName("Sheet1", violationsSheet)
	f.NewSheet(scoresSheet)

	headers := []string{"Plant", "Rule", "Severity", "Observed", "Threshold", "Window", "Timestamp", "Message"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(violationsSheet, cell, header)
	}
	for i, v := range violations {
		row := i + 2
		_ = f.SetCellValue(violationsSheet, fmt.Sprintf("A%d", row), v.PlantID)
		_ = f.SetCellValue(violationsSheet, fmt.Sprintf("B%d", row), v.Rule)
		_ = f.SetCellValue(violationsSheet, fmt.Sprintf("C%d", row), string(v.Severity))
		_ = f.SetCellValue(violationsSheet, fmt.Sprintf("D%d", row), v.ObservedValue)
		_ = f.SetCellValue(violationsSheet, fmt.Sprintf("E%d", row), v.Threshold)
		_ = f.SetCellValue(violationsSheet, fmt.Sprintf("F%d", row), windowLabel(v.Window))
		_ = f.SetCellValue(violationsSheet, fmt.Sprintf("G%d", row), v.Timestamp.Format(time.RFC3339))
		_ = f.SetCellValue(violationsSheet, fmt.Sprintf("H%d", row), v.Message)
	}

	_ = f.SetCellValue(scoresSheet, "A1", "Plant")
	_ = f.SetCellValue(scoresSheet, "B1", "Window End")
	_ = f.SetCellValue(scoresSheet, "C1", "Efficiency (kg/unit)")
	_ = f.SetCellValue(scoresSheet, "D1", "Score")
	for i, score := range scores {
		row := i + 2
		_ = f.SetCellValue(scoresSheet, fmt.Sprintf("A%d", row), score.PlantID)
		_ = f.SetCellValue(scoresSheet, fmt.Sprintf("B%d", row), score.WindowEnd.Format(time.RFC3339))
		_ = f.SetCellValue(scoresSheet, fmt.Sprintf("C%d", row), score.Efficiency)
		_ = f.SetCellValue(scoresSheet, fmt.Sprintf("D%d", row), score.Value)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildViolationsPDF renders a compliance report with a severity summary
// and the violation table.
func BuildViolationsPDF(violations []compliance.Violation, scores []compliance.Score, generatedAt time.Time) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Compliance Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", generatedAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Violations: %d", len(violations)))
	pdf.Ln(5)

	counts := make(map[compliance.Severity]int)
	for _, v := range violations {
		counts[v.Severity]++
	}
	for _, severity := range []compliance.Severity{compliance.SeverityCritical, compliance.SeverityHigh, compliance.SeverityMedium, compliance.SeverityLow} {
		if counts[severity] == 0 {
			continue
		}
		pdf.Cell(0, 6, fmt.Sprintf("  %s: %d", severity, counts[severity]))
		pdf.Ln(5)
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(30, 6, "Plant", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Rule", "1", 0, "C", false, 0, "")
	pdf.CellFormat(22, 6, "Severity", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Observed", "1", 0, "C", false, 0, "")
	pdf.CellFormat(25, 6, "Threshold", "1", 0, "C", false, 0, "")
	pdf.CellFormat(42, 6, "Timestamp", "1", 0, "C", false, 0, "")
	pdf.CellFormat(80, 6, "Message", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, v := range violations {
		pdf.CellFormat(30, 6, v.PlantID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 6, v.Rule, "1", 0, "L", false, 0, "")
		pdf.CellFormat(22, 6, string(v.Severity), "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%.2f", v.ObservedValue), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 6, fmt.Sprintf("%.2f", v.Threshold), "1", 0, "R", false, 0, "")
		pdf.CellFormat(42, 6, v.Timestamp.Format(time.RFC3339), "1", 0, "C", false, 0, "")
		pdf.CellFormat(80, 6, v.Message, "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	if len(scores) > 0 {
		pdf.Ln(6)
		pdf.SetFont("Arial", "B", 10)
		pdf.Cell(0, 6, "Latest Compliance Scores")
		pdf.Ln(7)
		pdf.SetFont("Arial", "", 9)
		for _, score := range scores {
			pdf.Cell(0, 6, fmt.Sprintf("%s: %.1f (efficiency %.2f kg/unit)", score.PlantID, score.Value, score.Efficiency))
			pdf.Ln(5)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func windowLabel(w *compliance.WindowRange) string {
	if w == nil {
		return ""
	}
	return fmt.Sprintf("%s[%s/%s]", w.Name, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}
