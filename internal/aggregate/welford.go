package aggregate

import (
	"math"
	"time"

	"github.com/vigiaops/vigia-go/internal/models"
)

// welfordState accumulates count, mean and variance in one pass without
// storing samples. Extremes keep the earliest timestamp on ties.
type welfordState struct {
	count int64
	mean  float64
	m2    float64
	min   float64
	max   float64
	minAt time.Time
	maxAt time.Time
}

func (w *welfordState) fold(value float64, at time.Time) {
	w.count++
	delta := value - w.mean
	w.mean += delta / float64(w.count)
	w.m2 += delta * (value - w.mean)

	if w.count == 1 {
		w.min, w.max = value, value
		w.minAt, w.maxAt = at, at
		return
	}
	if value < w.min || (value == w.min && at.Before(w.minAt)) {
		w.min = value
		w.minAt = at
	}
	if value > w.max || (value == w.max && at.Before(w.maxAt)) {
		w.max = value
		w.maxAt = at
	}
}

// stdDev returns the population standard deviation. A single sample has no
// spread, so m2 stays zero and the result is 0.
func (w *welfordState) stdDev() float64 {
	if w.count == 0 {
		return 0
	}
	return math.Sqrt(w.m2 / float64(w.count))
}

type hourState struct {
	welfordState
	sensorID    int64
	bucketStart time.Time
	highSeq     int64
	dirty       bool
	pending     bool // a storage recompute will replace this state
}

func (h *hourState) fold(obs models.Observation) {
	h.welfordState.fold(obs.Value, obs.Timestamp)
	if obs.Seq > h.highSeq {
		h.highSeq = obs.Seq
	}
	h.dirty = true
}

func (h *hourState) aggregate(now time.Time) models.HourlyAggregate {
	return models.HourlyAggregate{
		SensorID:    h.sensorID,
		BucketStart: h.bucketStart,
		Count:       h.count,
		Mean:        h.mean,
		StdDev:      h.stdDev(),
		Min:         h.min,
		Max:         h.max,
		UpdatedAt:   now,
	}
}

type dayState struct {
	welfordState
	sensorID    int64
	bucketStart time.Time
	overHours   map[time.Time]struct{} // UTC hours with at least one sample over the limit
	highSeq     int64
	dirty       bool
	pending     bool
}

func newDayState(sensorID int64, bucketStart time.Time) *dayState {
	return &dayState{
		sensorID:    sensorID,
		bucketStart: bucketStart,
		overHours:   make(map[time.Time]struct{}),
	}
}

func (d *dayState) fold(obs models.Observation, overLimit bool) {
	d.welfordState.fold(obs.Value, obs.Timestamp)
	if overLimit {
		d.overHours[obs.HourBucket()] = struct{}{}
	}
	if obs.Seq > d.highSeq {
		d.highSeq = obs.Seq
	}
	d.dirty = true
}

func (d *dayState) aggregate(now time.Time) models.DailyAggregate {
	return models.DailyAggregate{
		SensorID:           d.sensorID,
		BucketStart:        d.bucketStart,
		Count:              d.count,
		Mean:               d.mean,
		StdDev:             d.stdDev(),
		Min:                d.min,
		Max:                d.max,
		MinAt:              d.minAt,
		MaxAt:              d.maxAt,
		HoursOverThreshold: len(d.overHours),
		UpdatedAt:          now,
	}
}
