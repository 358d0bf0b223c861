package reporting

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"
)

// RenderCSV renders the daily report as CSV. Section headings are written as
// "#"-prefixed comment rows so the file stays loadable by spreadsheet tools.
func RenderCSV(report *DailyReport) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := writeCSVHeader(w, report); err != nil {
		return nil, fmt.Errorf("write CSV header section: %w", err)
	}
	if err := writeCSVSummary(w, report); err != nil {
		return nil, fmt.Errorf("write CSV summary section: %w", err)
	}
	if err := writeCSVHourly(w, report); err != nil {
		return nil, fmt.Errorf("write CSV hourly section: %w", err)
	}
	if err := writeCSVAlerts(w, report); err != nil {
		return nil, fmt.Errorf("write CSV alerts section: %w", err)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("CSV write error: %w", err)
	}
	return buf.Bytes(), nil
}

func writeCSVHeader(w *csv.Writer, report *DailyReport) error {
	generated := report.GeneratedAt
	if generated.IsZero() {
		generated = time.Now().UTC()
	}
	headers := [][]string{
		{"# Vigia Daily Sensor Report"},
		{"# Sensor:", report.Sensor.Name},
		{"# Sensor ID:", fmt.Sprintf("%d", report.Sensor.ID)},
		{"# Kind:", string(report.Sensor.Kind)},
		{"# Location:", fmt.Sprintf("%.5f,%.5f", report.Sensor.Location.Lat, report.Sensor.Location.Lon)},
		{"# Date:", report.Date.Format("2006-01-02")},
		{"# Generated:", generated.UTC().Format(time.RFC3339)},
		{""}, // Empty row as separator
	}

	for _, row := range headers {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write header row %q: %w", row[0], err)
		}
	}
	return nil
}

func writeCSVSummary(w *csv.Writer, report *DailyReport) error {
	if err := w.Write([]string{"# SUMMARY"}); err != nil {
		return fmt.Errorf("write summary section heading: %w", err)
	}

	unit := report.Sensor.Unit
	columns := []string{
		"Samples",
		withUnit("Mean", unit),
		"Std Dev",
		withUnit("Min", unit),
		"Min At",
		withUnit("Max", unit),
		"Max At",
		"Hours Over Threshold",
	}
	if err := w.Write(columns); err != nil {
		return fmt.Errorf("write summary column headers: %w", err)
	}

	if report.Daily != nil && report.Daily.Count > 0 {
		d := report.Daily
		row := []string{
			fmt.Sprintf("%d", d.Count),
			fmt.Sprintf("%.2f", d.Mean),
			fmt.Sprintf("%.2f", d.StdDev),
			fmt.Sprintf("%.2f", d.Min),
			d.MinAt.UTC().Format(time.RFC3339),
			fmt.Sprintf("%.2f", d.Max),
			d.MaxAt.UTC().Format(time.RFC3339),
			fmt.Sprintf("%d", d.HoursOverThreshold),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write summary row: %w", err)
		}
	} else {
		if err := w.Write([]string{"0"}); err != nil {
			return fmt.Errorf("write empty summary row: %w", err)
		}
	}

	if err := w.Write([]string{""}); err != nil {
		return fmt.Errorf("write summary separator row: %w", err)
	}
	return nil
}

func writeCSVHourly(w *csv.Writer, report *DailyReport) error {
	if err := w.Write([]string{"# HOURLY"}); err != nil {
		return fmt.Errorf("write hourly section heading: %w", err)
	}

	unit := report.Sensor.Unit
	columns := []string{
		"Hour (UTC)",
		"Samples",
		withUnit("Mean", unit),
		"Std Dev",
		withUnit("Min", unit),
		withUnit("Max", unit),
	}
	if err := w.Write(columns); err != nil {
		return fmt.Errorf("write hourly column headers: %w", err)
	}

	for _, h := range report.Hourly {
		row := []string{
			h.BucketStart.UTC().Format("15:04"),
			fmt.Sprintf("%d", h.Count),
			fmt.Sprintf("%.2f", h.Mean),
			fmt.Sprintf("%.2f", h.StdDev),
			fmt.Sprintf("%.2f", h.Min),
			fmt.Sprintf("%.2f", h.Max),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write hourly row for %s: %w", row[0], err)
		}
	}

	if err := w.Write([]string{""}); err != nil {
		return fmt.Errorf("write hourly separator row: %w", err)
	}
	return nil
}

func writeCSVAlerts(w *csv.Writer, report *DailyReport) error {
	if err := w.Write([]string{"# ALERTS"}); err != nil {
		return fmt.Errorf("write alerts section heading: %w", err)
	}

	columns := []string{"Alert ID", "Rule", "Severity", "Value", "Detected At", "Resolved At", "Shelter"}
	if err := w.Write(columns); err != nil {
		return fmt.Errorf("write alerts column headers: %w", err)
	}

	for _, alert := range report.Alerts {
		resolved := "active"
		if alert.ResolvedAt != nil {
			resolved = alert.ResolvedAt.UTC().Format(time.RFC3339)
		}
		shelter := alert.ShelterName
		if shelter == "" && alert.ShelterPending {
			shelter = "pending"
		}
		row := []string{
			alert.ID,
			string(alert.Rule),
			string(alert.Severity),
			fmt.Sprintf("%.2f", alert.Value),
			alert.DetectedAt.UTC().Format(time.RFC3339),
			resolved,
			shelter,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write alert row %q: %w", alert.ID, err)
		}
	}
	return nil
}

func withUnit(label, unit string) string {
	if unit == "" {
		return label
	}
	return fmt.Sprintf("%s (%s)", label, unit)
}
