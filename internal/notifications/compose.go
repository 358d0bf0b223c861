package notifications

import (
	"fmt"
	"strings"

	"github.com/vigiaops/vigia-go/internal/models"
)

// SMS bodies are limited to 1600 UTF-8 code units by the provider contract.
// Longer bodies are cut at 1550 so the marker always fits.
const (
	maxSMSUnits      = 1600
	truncateAt       = 1550
	truncationMarker = " [TRUNCATED]"
)

// TruncateSMS enforces the provider's body limit.
func TruncateSMS(body string) string {
	runes := []rune(body)
	if len(runes) <= maxSMSUnits {
		return body
	}
	return string(runes[:truncateAt]) + truncationMarker
}

// ComposeAlertSMS renders the outbound alert message: severity tag, sensor,
// reading against its limit, nearest shelter when assigned, and the
// recommended actions.
func ComposeAlertSMS(alert *models.Alert, unit string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s alert: %s reading %s (limit %s).",
		strings.ToUpper(string(alert.Severity)),
		ruleLabel(alert.Rule),
		alert.SensorName,
		formatValue(alert.Value, unit),
		formatValue(alert.Threshold, unit),
	)
	if alert.DurationMinutes > 0 {
		fmt.Fprintf(&b, " Sustained for %.0f min.", alert.DurationMinutes)
	}
	if alert.ShelterName != "" {
		fmt.Fprintf(&b, " Nearest shelter: %s.", alert.ShelterName)
	} else if alert.ShelterPending {
		b.WriteString(" No shelter with capacity nearby.")
	}
	if len(alert.Actions) > 0 {
		b.WriteString(" Actions: ")
		b.WriteString(strings.Join(alert.Actions, "; "))
		b.WriteString(".")
	}
	return TruncateSMS(b.String())
}

// ComposeEvacuationSMS summarizes a planned route for field teams.
func ComposeEvacuationSMS(route *models.Route, sensorName, shelterName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[EVACUATION] Route from %s to %s: %d segments, approx %.0f min.",
		sensorName, shelterName, len(route.Steps), route.EstimatedMinutes)
	if route.SnapToMeters > 50 {
		fmt.Fprintf(&b, " Shelter is %.0f m from the last road segment.", route.SnapToMeters)
	}
	return TruncateSMS(b.String())
}

// ComposeStatusSMS renders the periodic system status digest.
func ComposeStatusSMS(state string, activeAlerts, criticalAlerts, sensorsOnline, sensorsTotal int) string {
	body := fmt.Sprintf("[VIGIA %s] %d active alerts (%d critical). Sensors online: %d/%d.",
		strings.ToUpper(state), activeAlerts, criticalAlerts, sensorsOnline, sensorsTotal)
	return TruncateSMS(body)
}

// ComposeResolvedSMS renders the all-clear for a resolved alert.
func ComposeResolvedSMS(alert *models.Alert) string {
	body := fmt.Sprintf("[RESOLVED] %s alert at %s has cleared.",
		ruleLabel(alert.Rule), alert.SensorName)
	return TruncateSMS(body)
}

func ruleLabel(rule models.RuleKind) string {
	switch rule {
	case models.RuleHeatExtreme:
		return "Heat"
	case models.RuleColdExtreme:
		return "Cold"
	case models.RuleRapidChange:
		return "Rapid change"
	default:
		return string(rule)
	}
}

func formatValue(v float64, unit string) string {
	if unit == "" {
		return fmt.Sprintf("%.1f", v)
	}
	return fmt.Sprintf("%.1f%s", v, unit)
}
