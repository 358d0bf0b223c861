package aggregate

import (
	"math"
	"time"
)

type rollingPoint struct {
	at    time.Time
	value float64
}

// rollingWindow keeps the last window of samples for one sensor, anchored
// to the newest observation timestamp so replayed history does not stall
// the window.
type rollingWindow struct {
	window time.Duration
	anchor time.Time
	points []rollingPoint
}

func newRollingWindow(window time.Duration) *rollingWindow {
	return &rollingWindow{window: window}
}

func (r *rollingWindow) add(at time.Time, value float64) {
	if at.After(r.anchor) {
		r.anchor = at
	}
	r.points = append(r.points, rollingPoint{at: at, value: value})
	r.prune()
}

func (r *rollingWindow) prune() {
	cutoff := r.anchor.Add(-r.window)
	keep := r.points[:0]
	for _, p := range r.points {
		if !p.at.Before(cutoff) {
			keep = append(keep, p)
		}
	}
	r.points = keep
}

// RollingStats summarizes the recent window of one sensor.
type RollingStats struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
}

func (r *rollingWindow) stats() RollingStats {
	n := len(r.points)
	if n == 0 {
		return RollingStats{}
	}
	var sum float64
	for _, p := range r.points {
		sum += p.value
	}
	mean := sum / float64(n)

	var sq float64
	for _, p := range r.points {
		d := p.value - mean
		sq += d * d
	}
	return RollingStats{
		Count:  n,
		Mean:   mean,
		StdDev: math.Sqrt(sq / float64(n)),
	}
}
