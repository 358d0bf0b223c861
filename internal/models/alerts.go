package models

import "time"

// RuleKind identifies the alert rule that fired.
type RuleKind string

const (
	RuleHeatExtreme RuleKind = "heat_extreme"
	RuleColdExtreme RuleKind = "cold_extreme"
	RuleRapidChange RuleKind = "rapid_change"
)

// Severity orders alert urgency.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank maps severity to a comparable weight; higher is more urgent.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// AlertState is the lifecycle state of an alert.
type AlertState string

const (
	AlertActive       AlertState = "active"
	AlertAcknowledged AlertState = "acknowledged"
	AlertResolved     AlertState = "resolved"
)

// Alert is a threshold or anomaly condition detected on a sensor.
// At most one alert per (sensor, rule) is in a non-resolved state.
type Alert struct {
	ID              string     `json:"id"`
	SensorID        int64      `json:"sensorId"`
	SensorName      string     `json:"sensorName"`
	Kind            SensorKind `json:"kind"`
	ShelterID       *int64     `json:"shelterId,omitempty"`
	ShelterName     string     `json:"shelterName,omitempty"`
	ShelterPending  bool       `json:"shelterPending,omitempty"`
	Rule            RuleKind   `json:"rule"`
	Severity        Severity   `json:"severity"`
	Value           float64    `json:"value"`
	Threshold       float64    `json:"threshold"`
	DurationMinutes float64    `json:"durationMinutes"`
	State           AlertState `json:"state"`
	DetectedAt      time.Time  `json:"detectedAt"`
	AcknowledgedAt  *time.Time `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy  string     `json:"acknowledgedBy,omitempty"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy      string     `json:"resolvedBy,omitempty"`
	SMSSent         bool       `json:"smsSent"`
	EmailSent       bool       `json:"emailSent"`
	ShelterNotified bool       `json:"shelterNotified"`
	FailureReason   string     `json:"failureReason,omitempty"`
	Message         string     `json:"message"`
	Actions         []string   `json:"actions,omitempty"`
}

// Clone returns a deep copy safe to hand to callbacks and encoders.
func (a *Alert) Clone() *Alert {
	cp := *a
	if a.ShelterID != nil {
		id := *a.ShelterID
		cp.ShelterID = &id
	}
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		cp.AcknowledgedAt = &t
	}
	if a.ResolvedAt != nil {
		t := *a.ResolvedAt
		cp.ResolvedAt = &t
	}
	if a.Actions != nil {
		cp.Actions = append([]string(nil), a.Actions...)
	}
	return &cp
}
