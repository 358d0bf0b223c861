package models

import "time"

// HourlyAggregate is the materialized statistics of one sensor over one
// UTC hour bucket [BucketStart, BucketStart+1h).
type HourlyAggregate struct {
	SensorID    int64     `json:"sensorId"`
	BucketStart time.Time `json:"bucketStart"`
	Mean        float64   `json:"mean"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	Count       int64     `json:"count"`
	StdDev      float64   `json:"stdDev"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
}

// DailyAggregate is the materialized statistics of one sensor over one UTC
// day, including when the extremes occurred and how many distinct hours had
// at least one sample over the configured limit.
type DailyAggregate struct {
	SensorID           int64     `json:"sensorId"`
	BucketStart        time.Time `json:"bucketStart"`
	Mean               float64   `json:"mean"`
	Min                float64   `json:"min"`
	Max                float64   `json:"max"`
	Count              int64     `json:"count"`
	StdDev             float64   `json:"stdDev"`
	MinAt              time.Time `json:"minAt"`
	MaxAt              time.Time `json:"maxAt"`
	HoursOverThreshold int       `json:"hoursOverThreshold"`
	UpdatedAt          time.Time `json:"updatedAt,omitempty"`
}
