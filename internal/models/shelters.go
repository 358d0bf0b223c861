package models

import "time"

// ShelterStatus is the operational state of a shelter.
type ShelterStatus string

const (
	ShelterAvailable   ShelterStatus = "available"
	ShelterFull        ShelterStatus = "full"
	ShelterClosed      ShelterStatus = "closed"
	ShelterMaintenance ShelterStatus = "maintenance"
)

// ShelterServices flags the facilities a shelter offers.
type ShelterServices struct {
	Medical    bool `json:"medical"`
	HVAC       bool `json:"hvac"`
	Accessible bool `json:"accessible"`
	Pets       bool `json:"pets"`
}

// ShelterThresholds are the per-shelter alerting limits.
type ShelterThresholds struct {
	TempMax    float64 `json:"tempMax"`
	TempMin    float64 `json:"tempMin"`
	AirQuality float64 `json:"airQuality"`
}

// Shelter is an evacuation destination with bounded occupancy.
// Invariant: 0 <= CapacityCurrent <= CapacityMax.
type Shelter struct {
	ID              int64             `json:"id"`
	Name            string            `json:"name"`
	Kind            string            `json:"kind"`
	Status          ShelterStatus     `json:"status"`
	CapacityMax     int               `json:"capacityMax"`
	CapacityCurrent int               `json:"capacityCurrent"`
	Version         int64             `json:"version"`
	Services        ShelterServices   `json:"services"`
	Contact         string            `json:"contact,omitempty"`
	Thresholds      ShelterThresholds `json:"thresholds"`
	Location        GeoPoint          `json:"location"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// HasCapacity reports whether the shelter can still take evacuees.
func (s *Shelter) HasCapacity() bool {
	return s.CapacityCurrent < s.CapacityMax
}

// Accepting reports whether the shelter should be offered to evacuees.
func (s *Shelter) Accepting() bool {
	return s.Status == ShelterAvailable && s.HasCapacity()
}

// DefaultShelterThresholds mirror the platform's historical defaults.
func DefaultShelterThresholds() ShelterThresholds {
	return ShelterThresholds{TempMax: 40.0, TempMin: -5.0, AirQuality: 150.0}
}
