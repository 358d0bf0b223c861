// Package reporting renders the daily per-sensor report served as a
// download: the day's aggregate statistics, the hourly breakdown, and the
// alerts detected on that day, as PDF or CSV.
package reporting

import (
	"fmt"
	"strings"
	"time"

	"github.com/vigiaops/vigia-go/internal/models"
)

// Format selects the report output encoding.
type Format string

const (
	FormatPDF Format = "pdf"
	FormatCSV Format = "csv"
)

// ParseFormat maps a query-string value to a Format, defaulting to PDF.
func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "pdf":
		return FormatPDF, nil
	case "csv":
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unsupported report format %q", value)
	}
}

// DailyReport is the assembled input for one sensor-day render.
type DailyReport struct {
	Sensor      models.Sensor
	Date        time.Time // UTC day start
	GeneratedAt time.Time
	Daily       *models.DailyAggregate   // nil when the day has no samples
	Hourly      []models.HourlyAggregate // ascending by bucket start
	Alerts      []models.Alert           // alerts detected on the day
	Limit       float64                  // per-kind over-limit threshold
}

// Render produces the report in the requested format with its content type
// and a suggested download filename.
func Render(report *DailyReport, format Format) (data []byte, contentType, filename string, err error) {
	base := fmt.Sprintf("vigia-daily-%d-%s", report.Sensor.ID, report.Date.Format("2006-01-02"))
	switch format {
	case FormatCSV:
		data, err = RenderCSV(report)
		return data, "text/csv", base + ".csv", err
	default:
		data, err = RenderPDF(report)
		return data, "application/pdf", base + ".pdf", err
	}
}

func formatValue(v float64, unit string) string {
	s := fmt.Sprintf("%.1f", v)
	if unit != "" {
		s += " " + unit
	}
	return s
}

func severityLabel(s models.Severity) string {
	return strings.ToUpper(string(s))
}
