package models

import (
	"time"
)

// SensorKind enumerates the supported measurement kinds.
type SensorKind string

const (
	KindTemperature SensorKind = "temperature"
	KindHumidity    SensorKind = "humidity"
	KindAirQuality  SensorKind = "air_quality"
	KindNoise       SensorKind = "noise"
	KindOccupancy   SensorKind = "occupancy"
)

// KnownKinds lists every kind the platform accepts on ingest.
var KnownKinds = []SensorKind{KindTemperature, KindHumidity, KindAirQuality, KindNoise, KindOccupancy}

// IsKnownKind reports whether k is one of the supported sensor kinds.
func IsKnownKind(k SensorKind) bool {
	for _, known := range KnownKinds {
		if k == known {
			return true
		}
	}
	return false
}

// SensorStatus is the operational state of a sensor.
type SensorStatus string

const (
	SensorActive      SensorStatus = "active"
	SensorInactive    SensorStatus = "inactive"
	SensorMaintenance SensorStatus = "maintenance"
)

// Quality grades the trustworthiness of an observation.
type Quality string

const (
	QualityGood    Quality = "good"
	QualityFair    Quality = "fair"
	QualityPoor    Quality = "poor"
	QualitySuspect Quality = "suspect"
)

// GeoPoint is a WGS84 coordinate (SRID 4326), degrees.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Sensor is a registered measurement device.
type Sensor struct {
	ID           int64             `json:"id"`
	Name         string            `json:"name"`
	Kind         SensorKind        `json:"kind"`
	Status       SensorStatus      `json:"status"`
	Unit         string            `json:"unit"`
	Location     GeoPoint          `json:"location"`
	Precision    float64           `json:"precision,omitempty"`
	MinValue     float64           `json:"minValue"`
	MaxValue     float64           `json:"maxValue"`
	SamplePeriod int               `json:"samplePeriodSeconds,omitempty"`
	Strict       bool              `json:"strict"`
	Manufacturer map[string]string `json:"manufacturer,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// InRange reports whether v lies inside the sensor's declared valid range.
func (s *Sensor) InRange(v float64) bool {
	return v >= s.MinValue && v <= s.MaxValue
}

// Telemetry carries the optional sidecar fields of an observation.
type Telemetry struct {
	AmbientTemp    *float64 `json:"ambientTemp,omitempty"`
	Humidity       *float64 `json:"humidity,omitempty"`
	BatteryLevel   *float64 `json:"batteryLevel,omitempty"`
	SignalStrength *float64 `json:"signalStrength,omitempty"`
}

// Observation is a single point-in-time measurement. Append-only: once
// accepted it is never updated.
type Observation struct {
	SensorID  int64      `json:"sensorId"`
	Kind      SensorKind `json:"kind"`
	Timestamp time.Time  `json:"timestamp"`
	Value     float64    `json:"value"`
	Unit      string     `json:"unit,omitempty"`
	Quality   Quality    `json:"quality"`
	Late      bool       `json:"late,omitempty"`
	Seq       int64      `json:"seq,omitempty"`
	Telemetry *Telemetry `json:"telemetry,omitempty"`
}

// HourBucket returns the UTC hour bucket start containing the observation.
func (o *Observation) HourBucket() time.Time {
	return o.Timestamp.UTC().Truncate(time.Hour)
}

// DayBucket returns the UTC day bucket start containing the observation.
func (o *Observation) DayBucket() time.Time {
	t := o.Timestamp.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
