package reporting

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/vigiaops/vigia-go/internal/models"
)

// Color scheme - professional dark blue theme
var (
	colorPrimary     = [3]int{30, 58, 95}    // Dark navy
	colorAccent      = [3]int{46, 204, 113}  // Green
	colorWarning     = [3]int{241, 196, 15}  // Yellow
	colorDanger      = [3]int{231, 76, 60}   // Red
	colorTextDark    = [3]int{44, 62, 80}    // Dark text
	colorTextMuted   = [3]int{127, 140, 141} // Muted text
	colorBackground  = [3]int{248, 249, 250} // Light gray bg
	colorTableHeader = [3]int{30, 58, 95}    // Navy header
	colorTableAlt    = [3]int{241, 245, 249} // Alternating row
	colorGridLine    = [3]int{220, 220, 220} // Rules and boxes
)

// RenderPDF renders the daily report as a single PDF document.
func RenderPDF(report *DailyReport) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 25)
	pdf.AddPage()

	writeHeader(pdf, report)
	writeSummary(pdf, report)
	writeHourlyTable(pdf, report)
	writeAlertsTable(pdf, report)
	writeFooters(pdf, report)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

func writeHeader(pdf *fpdf.Fpdf, report *DailyReport) {
	pageWidth, _ := pdf.GetPageSize()

	// Top accent bar
	pdf.SetFillColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.Rect(0, 0, pageWidth, 8, "F")

	pdf.SetY(16)
	pdf.SetFont("Arial", "B", 22)
	pdf.SetTextColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.CellFormat(0, 10, "VIGIA", "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(0, 6, "Environmental Monitoring - Daily Sensor Report", "", 1, "L", false, 0, "")
	pdf.Ln(4)

	// Sensor info box
	boxY := pdf.GetY()
	pdf.SetFillColor(colorBackground[0], colorBackground[1], colorBackground[2])
	pdf.SetDrawColor(colorGridLine[0], colorGridLine[1], colorGridLine[2])
	pdf.RoundedRect(20, boxY, pageWidth-40, 26, 3, "1234", "FD")

	pdf.SetXY(26, boxY+4)
	pdf.SetFont("Arial", "B", 14)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 8, report.Sensor.Name, "", 1, "L", false, 0, "")

	pdf.SetX(26)
	pdf.SetFont("Arial", "", 9)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	info := fmt.Sprintf("Sensor #%d  |  %s  |  %s  |  lat %.5f lon %.5f",
		report.Sensor.ID, report.Sensor.Kind, report.Sensor.Status,
		report.Sensor.Location.Lat, report.Sensor.Location.Lon)
	pdf.CellFormat(0, 6, info, "", 1, "L", false, 0, "")

	pdf.SetX(26)
	pdf.SetFont("Arial", "B", 10)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 7, report.Date.Format("Monday, January 2, 2006 (UTC)"), "", 1, "L", false, 0, "")

	pdf.SetY(boxY + 32)
}

func writeSummary(pdf *fpdf.Fpdf, report *DailyReport) {
	pdf.SetFont("Arial", "B", 12)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 8, "Daily Summary", "", 1, "L", false, 0, "")
	pdf.Ln(1)

	if report.Daily == nil || report.Daily.Count == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		pdf.CellFormat(0, 8, "No observations were recorded on this day.", "", 1, "L", false, 0, "")
		pdf.Ln(6)
		return
	}
	d := report.Daily
	unit := report.Sensor.Unit

	colWidth := 34.0
	headers := []string{"Samples", "Mean", "Std Dev", "Min", "Max"}
	pdf.SetFillColor(colorBackground[0], colorBackground[1], colorBackground[2])
	pdf.SetFont("Arial", "B", 9)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	for _, h := range headers {
		pdf.CellFormat(colWidth, 7, h, "0", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "B", 13)
	pdf.CellFormat(colWidth, 9, fmt.Sprintf("%d", d.Count), "0", 0, "C", false, 0, "")
	pdf.CellFormat(colWidth, 9, formatValue(d.Mean, unit), "0", 0, "C", false, 0, "")
	pdf.CellFormat(colWidth, 9, fmt.Sprintf("%.2f", d.StdDev), "0", 0, "C", false, 0, "")
	pdf.CellFormat(colWidth, 9, formatValue(d.Min, unit), "0", 0, "C", false, 0, "")
	pdf.CellFormat(colWidth, 9, formatValue(d.Max, unit), "0", 1, "C", false, 0, "")

	// Extreme timestamps under the min/max columns
	pdf.SetFont("Arial", "", 7)
	pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
	pdf.CellFormat(colWidth*3, 5, "", "0", 0, "C", false, 0, "")
	pdf.CellFormat(colWidth, 5, "at "+d.MinAt.UTC().Format("15:04"), "0", 0, "C", false, 0, "")
	pdf.CellFormat(colWidth, 5, "at "+d.MaxAt.UTC().Format("15:04"), "0", 1, "C", false, 0, "")
	pdf.Ln(3)

	// Hours-over-limit callout, red when any hour crossed the limit
	pdf.SetFont("Arial", "B", 10)
	if d.HoursOverThreshold > 0 {
		pdf.SetTextColor(colorDanger[0], colorDanger[1], colorDanger[2])
	} else {
		pdf.SetTextColor(colorAccent[0], colorAccent[1], colorAccent[2])
	}
	limit := ""
	if report.Limit != 0 {
		limit = fmt.Sprintf(" (limit %s)", formatValue(report.Limit, unit))
	}
	pdf.CellFormat(0, 7, fmt.Sprintf("Hours over threshold: %d%s", d.HoursOverThreshold, limit), "", 1, "L", false, 0, "")
	pdf.Ln(4)
}

func writeHourlyTable(pdf *fpdf.Fpdf, report *DailyReport) {
	if len(report.Hourly) == 0 {
		return
	}

	pdf.SetFont("Arial", "B", 12)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 8, "Hourly Breakdown", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	colWidths := []float64{30, 25, 30, 30, 27, 28}
	headers := []string{"Hour (UTC)", "Samples", "Mean", "Std Dev", "Min", "Max"}

	pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Arial", "B", 8)
	for i, h := range headers {
		pdf.CellFormat(colWidths[i], 7, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	fill := false
	for _, h := range report.Hourly {
		if fill {
			pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		} else {
			pdf.SetFillColor(255, 255, 255)
		}
		pdf.CellFormat(colWidths[0], 6, h.BucketStart.UTC().Format("15:04"), "1", 0, "C", fill, 0, "")
		pdf.CellFormat(colWidths[1], 6, fmt.Sprintf("%d", h.Count), "1", 0, "C", fill, 0, "")
		pdf.CellFormat(colWidths[2], 6, fmt.Sprintf("%.2f", h.Mean), "1", 0, "C", fill, 0, "")
		pdf.CellFormat(colWidths[3], 6, fmt.Sprintf("%.2f", h.StdDev), "1", 0, "C", fill, 0, "")

		// Extremes past the limit render red
		if report.Limit != 0 && h.Min > report.Limit {
			pdf.SetTextColor(colorDanger[0], colorDanger[1], colorDanger[2])
		}
		pdf.CellFormat(colWidths[4], 6, fmt.Sprintf("%.2f", h.Min), "1", 0, "C", fill, 0, "")
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
		if report.Limit != 0 && h.Max > report.Limit {
			pdf.SetTextColor(colorDanger[0], colorDanger[1], colorDanger[2])
		}
		pdf.CellFormat(colWidths[5], 6, fmt.Sprintf("%.2f", h.Max), "1", 0, "C", fill, 0, "")
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])

		pdf.Ln(-1)
		fill = !fill
	}
	pdf.Ln(6)
}

func writeAlertsTable(pdf *fpdf.Fpdf, report *DailyReport) {
	pdf.SetFont("Arial", "B", 12)
	pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
	pdf.CellFormat(0, 8, "Alerts", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	if len(report.Alerts) == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.SetTextColor(colorAccent[0], colorAccent[1], colorAccent[2])
		pdf.CellFormat(0, 7, "No alerts were detected on this day.", "", 1, "L", false, 0, "")
		return
	}

	colWidths := []float64{32, 22, 24, 24, 24, 44}
	headers := []string{"Rule", "Severity", "Value", "Detected", "Resolved", "Shelter"}

	pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Arial", "B", 8)
	for i, h := range headers {
		pdf.CellFormat(colWidths[i], 7, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	fill := false
	for _, alert := range report.Alerts {
		if fill {
			pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		} else {
			pdf.SetFillColor(255, 255, 255)
		}

		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
		pdf.CellFormat(colWidths[0], 6, string(alert.Rule), "1", 0, "L", fill, 0, "")

		switch alert.Severity {
		case models.SeverityCritical:
			pdf.SetTextColor(colorDanger[0], colorDanger[1], colorDanger[2])
		case models.SeverityHigh:
			pdf.SetTextColor(colorWarning[0], colorWarning[1], colorWarning[2])
		default:
			pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])
		}
		pdf.CellFormat(colWidths[1], 6, severityLabel(alert.Severity), "1", 0, "C", fill, 0, "")
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])

		pdf.CellFormat(colWidths[2], 6, fmt.Sprintf("%.1f", alert.Value), "1", 0, "C", fill, 0, "")
		pdf.CellFormat(colWidths[3], 6, alert.DetectedAt.UTC().Format("15:04"), "1", 0, "C", fill, 0, "")

		if alert.ResolvedAt != nil {
			pdf.SetTextColor(colorAccent[0], colorAccent[1], colorAccent[2])
			pdf.CellFormat(colWidths[4], 6, alert.ResolvedAt.UTC().Format("15:04"), "1", 0, "C", fill, 0, "")
		} else {
			pdf.SetTextColor(colorDanger[0], colorDanger[1], colorDanger[2])
			pdf.CellFormat(colWidths[4], 6, "Active", "1", 0, "C", fill, 0, "")
		}
		pdf.SetTextColor(colorTextDark[0], colorTextDark[1], colorTextDark[2])

		shelter := alert.ShelterName
		if shelter == "" && alert.ShelterPending {
			shelter = "pending"
		}
		if len(shelter) > 28 {
			shelter = shelter[:25] + "..."
		}
		pdf.CellFormat(colWidths[5], 6, shelter, "1", 0, "L", fill, 0, "")

		pdf.Ln(-1)
		fill = !fill
	}
}

func writeFooters(pdf *fpdf.Fpdf, report *DailyReport) {
	pdf.SetAutoPageBreak(false, 0)

	generated := report.GeneratedAt
	if generated.IsZero() {
		generated = time.Now().UTC()
	}

	totalPages := pdf.PageCount()
	for i := 1; i <= totalPages; i++ {
		pdf.SetPage(i)
		pageWidth, pageHeight := pdf.GetPageSize()

		pdf.SetDrawColor(colorGridLine[0], colorGridLine[1], colorGridLine[2])
		pdf.SetLineWidth(0.3)
		pdf.Line(20, pageHeight-18, pageWidth-20, pageHeight-18)

		pdf.SetY(pageHeight - 15)
		pdf.SetFont("Arial", "", 8)
		pdf.SetTextColor(colorTextMuted[0], colorTextMuted[1], colorTextMuted[2])
		left := fmt.Sprintf("Generated %s", generated.UTC().Format("2006-01-02 15:04 UTC"))
		pdf.CellFormat(0, 5, left, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d of %d", i, totalPages), "", 0, "R", false, 0, "")
	}
}
