package models

import (
	"testing"
	"time"
)

func TestIsKnownKind(t *testing.T) {
	tests := []struct {
		kind SensorKind
		want bool
	}{
		{KindTemperature, true},
		{KindHumidity, true},
		{KindAirQuality, true},
		{KindNoise, true},
		{KindOccupancy, true},
		{SensorKind("plasma"), false},
		{SensorKind(""), false},
		{SensorKind("Temperature"), false},
	}
	for _, tt := range tests {
		if got := IsKnownKind(tt.kind); got != tt.want {
			t.Errorf("IsKnownKind(%q) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestSensorInRange(t *testing.T) {
	s := &Sensor{MinValue: -40, MaxValue: 80}
	tests := []struct {
		value float64
		want  bool
	}{
		{0, true},
		{-40, true},
		{80, true},
		{-40.1, false},
		{80.1, false},
	}
	for _, tt := range tests {
		if got := s.InRange(tt.value); got != tt.want {
			t.Errorf("InRange(%v) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestObservationBuckets(t *testing.T) {
	o := &Observation{Timestamp: time.Date(2026, 8, 25, 14, 37, 22, 0, time.UTC)}
	if got := o.HourBucket(); !got.Equal(time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC)) {
		t.Errorf("HourBucket() = %v", got)
	}
	if got := o.DayBucket(); !got.Equal(time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("DayBucket() = %v", got)
	}

	// Local midnight-adjacent timestamps bucket by their UTC instant.
	lisbon := time.FixedZone("WEST", 3600)
	o = &Observation{Timestamp: time.Date(2026, 8, 25, 0, 30, 0, 0, lisbon)}
	if got := o.DayBucket(); !got.Equal(time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("DayBucket() across zone = %v, want previous UTC day", got)
	}
	if got := o.HourBucket(); !got.Equal(time.Date(2026, 8, 24, 23, 0, 0, 0, time.UTC)) {
		t.Errorf("HourBucket() across zone = %v", got)
	}
}

func TestSeverityRank(t *testing.T) {
	order := []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, Severity("unknown")}
	for i := 0; i < len(order)-1; i++ {
		if order[i].Rank() <= order[i+1].Rank() {
			t.Errorf("Rank ordering broken: %s (%d) <= %s (%d)",
				order[i], order[i].Rank(), order[i+1], order[i+1].Rank())
		}
	}
	if got := Severity("").Rank(); got != 0 {
		t.Errorf("empty severity rank = %d, want 0", got)
	}
}

func TestAlertClone(t *testing.T) {
	shelterID := int64(7)
	ackAt := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	orig := &Alert{
		ID:             "alert-1",
		SensorID:       1,
		Rule:           RuleHeatExtreme,
		Severity:       SeverityHigh,
		State:          AlertAcknowledged,
		ShelterID:      &shelterID,
		AcknowledgedAt: &ackAt,
		AcknowledgedBy: "ops",
		Actions:        []string{"hydrate", "shade"},
	}

	cp := orig.Clone()
	if cp == orig {
		t.Fatal("Clone() returned the same pointer")
	}
	if cp.ID != orig.ID || cp.Severity != orig.Severity || *cp.ShelterID != 7 {
		t.Errorf("Clone() lost fields: %+v", cp)
	}

	// Mutating the clone's pointers and slices must not touch the original.
	*cp.ShelterID = 99
	*cp.AcknowledgedAt = ackAt.Add(time.Hour)
	cp.Actions[0] = "changed"
	if *orig.ShelterID != 7 {
		t.Errorf("clone shares ShelterID, original now %d", *orig.ShelterID)
	}
	if !orig.AcknowledgedAt.Equal(ackAt) {
		t.Errorf("clone shares AcknowledgedAt, original now %v", orig.AcknowledgedAt)
	}
	if orig.Actions[0] != "hydrate" {
		t.Errorf("clone shares Actions, original now %v", orig.Actions)
	}
}

func TestShelterAccepting(t *testing.T) {
	tests := []struct {
		name    string
		shelter Shelter
		want    bool
	}{
		{"available with room", Shelter{Status: ShelterAvailable, CapacityMax: 100, CapacityCurrent: 99}, true},
		{"available at capacity", Shelter{Status: ShelterAvailable, CapacityMax: 100, CapacityCurrent: 100}, false},
		{"closed with room", Shelter{Status: ShelterClosed, CapacityMax: 100, CapacityCurrent: 0}, false},
		{"maintenance", Shelter{Status: ShelterMaintenance, CapacityMax: 100, CapacityCurrent: 0}, false},
		{"flagged full despite room", Shelter{Status: ShelterFull, CapacityMax: 100, CapacityCurrent: 50}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.shelter.Accepting(); got != tt.want {
				t.Errorf("Accepting() = %v, want %v", got, tt.want)
			}
		})
	}
}
