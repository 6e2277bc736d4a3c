package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"observatory-ops/internal/nightmetrics"
)

// Builder assembles night reports from the metrics engine and the exposure
// store.
type Builder struct {
	engine *nightmetrics.Engine
	store  nightmetrics.ExposureStore
}

// NewBuilder constructs a report builder.
func NewBuilder(engine *nightmetrics.Engine, store nightmetrics.ExposureStore) (*Builder, error) {
	if engine == nil {
		return nil, errors.New("report builder: nil engine")
	}
	if store == nil {
		return nil, errors.New("report builder: nil exposure store")
	}
	return &Builder{engine: engine, store: store}, nil
}

// NightReport is the assembled input for the renderers.
type NightReport struct {
	Metrics   nightmetrics.NightMetrics
	Exposures []nightmetrics.ExposureRecord
}

// Build collects the metrics and exposures for a night.
func (b *Builder) Build(ctx context.Context, sjd int) (NightReport, error) {
	if b == nil {
		return NightReport{}, errors.New("report builder: nil builder")
	}
	metrics, err := b.engine.Compute(ctx, sjd)
	if err != nil {
		return NightReport{}, err
	}
	exposures, err := b.store.ListExposures(ctx, sjd)
	if err != nil {
		// Metrics already degraded to length-only; the report still renders.
		exposures = nil
	}
	return NightReport{Metrics: metrics, Exposures: exposures}, nil
}

func formatOptional(value *float64, unit string) string {
	if value == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.2f%s", *value, unit)
}

func formatOptionalInt(value *int) string {
	if value == nil {
		return "n/a"
	}
	return fmt.Sprintf("%d", *value)
}

// BuildNightPDF renders a night report as PDF.
func BuildNightPDF(report NightReport) ([]byte, error) {
	m := report.Metrics
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, fmt.Sprintf("Night Report SJD %d", m.SJD))
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Twilight end: %s", m.TwilightEnd.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Twilight start: %s", m.TwilightStart.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Night length (s): %.0f", m.NightLength))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Night started: %t  ended: %t", m.NightStarted, m.NightEnded))
	pdf.Ln(8)

	pdf.Cell(0, 6, fmt.Sprintf("Object exposures: %s", formatOptionalInt(m.NObjectExposures)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total exposure time: %s", formatOptional(m.TotalExposureTime, " s")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Time lost: %s", formatOptional(m.TimeLost, " s")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Efficiency (nominal): %s", formatOptional(m.EfficiencyNominal, "%")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Efficiency (readout): %s", formatOptional(m.EfficiencyReadout, "%")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Efficiency (no readout): %s", formatOptional(m.EfficiencyNoReadout, "%")))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(30, 6, "Exposure", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Start (UTC)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "End (UTC)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Type", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, exposure := range report.Exposures {
		pdf.CellFormat(30, 6, fmt.Sprintf("%d", exposure.ExposureNo), "1", 0, "R", false, 0, "")
		pdf.CellFormat(50, 6, exposure.StartTime.Format("15:04:05"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(50, 6, exposure.EndTime.Format("15:04:05"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, exposure.ExposureType, "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildNightXLSX renders a night report as XLSX with summary and exposure
// sheets.
func BuildNightXLSX(report NightReport) ([]byte, error) {
	m := report.Metrics
	f := excelize.NewFile()
	summarySheet := "summary"
	exposuresSheet := "exposures"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(exposuresSheet)

	_ = f.SetCellValue(summarySheet, "A1", fmt.Sprintf("Night Report SJD %d", m.SJD))
	_ = f.SetCellValue(summarySheet, "A3", "Twilight end")
	_ = f.SetCellValue(summarySheet, "B3", m.TwilightEnd.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A4", "Twilight start")
	_ = f.SetCellValue(summarySheet, "B4", m.TwilightStart.Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A5", "Night length (s)")
	_ = f.SetCellValue(summarySheet, "B5", m.NightLength)
	_ = f.SetCellValue(summarySheet, "A6", "Night started")
	_ = f.SetCellValue(summarySheet, "B6", m.NightStarted)
	_ = f.SetCellValue(summarySheet, "A7", "Night ended")
	_ = f.SetCellValue(summarySheet, "B7", m.NightEnded)
	_ = f.SetCellValue(summarySheet, "A8", "Object exposures")
	_ = f.SetCellValue(summarySheet, "B8", formatOptionalInt(m.NObjectExposures))
	_ = f.SetCellValue(summarySheet, "A9", "Total exposure time (s)")
	_ = f.SetCellValue(summarySheet, "B9", formatOptional(m.TotalExposureTime, ""))
	_ = f.SetCellValue(summarySheet, "A10", "Time lost (s)")
	_ = f.SetCellValue(summarySheet, "B10", formatOptional(m.TimeLost, ""))
	_ = f.SetCellValue(summarySheet, "A11", "Efficiency nominal (%)")
	_ = f.SetCellValue(summarySheet, "B11", formatOptional(m.EfficiencyNominal, ""))
	_ = f.SetCellValue(summarySheet, "A12", "Efficiency readout (%)")
	_ = f.SetCellValue(summarySheet, "B12", formatOptional(m.EfficiencyReadout, ""))
	_ = f.SetCellValue(summarySheet, "A13", "Efficiency no readout (%)")
	_ = f.SetCellValue(summarySheet, "B13", formatOptional(m.EfficiencyNoReadout, ""))

	_ = f.SetCellValue(exposuresSheet, "A1", "Exposure")
	_ = f.SetCellValue(exposuresSheet, "B1", "Start (UTC)")
	_ = f.SetCellValue(exposuresSheet, "C1", "End (UTC)")
	_ = f.SetCellValue(exposuresSheet, "D1", "Type")
	_ = f.SetCellValue(exposuresSheet, "E1", "Readout (s)")
	for i, exposure := range report.Exposures {
		row := i + 2
		_ = f.SetCellValue(exposuresSheet, fmt.Sprintf("A%d", row), exposure.ExposureNo)
		_ = f.SetCellValue(exposuresSheet, fmt.Sprintf("B%d", row), exposure.StartTime.Format(time.RFC3339))
		_ = f.SetCellValue(exposuresSheet, fmt.Sprintf("C%d", row), exposure.EndTime.Format(time.RFC3339))
		_ = f.SetCellValue(exposuresSheet, fmt.Sprintf("D%d", row), exposure.ExposureType)
		_ = f.SetCellValue(exposuresSheet, fmt.Sprintf("E%d", row), exposure.ReadoutTime)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
