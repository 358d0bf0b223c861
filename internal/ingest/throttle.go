package ingest

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterEntry holds the token bucket for one sensor.
type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// sensorLimiter enforces the per-sensor ingest rate. Entries for idle
// sensors are dropped by a background sweep.
type sensorLimiter struct {
	mu       sync.Mutex
	entries  map[int64]*limiterEntry
	limit    rate.Limit
	burst    int
	quitChan chan struct{}
}

func newSensorLimiter(ratePerSec float64, burst int) *sensorLimiter {
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	if burst <= 0 {
		burst = 10
	}
	sl := &sensorLimiter{
		entries:  make(map[int64]*limiterEntry),
		limit:    rate.Limit(ratePerSec),
		burst:    burst,
		quitChan: make(chan struct{}),
	}
	go sl.cleanupLoop()
	return sl
}

// allow reports whether the sensor may submit another observation now.
func (sl *sensorLimiter) allow(sensorID int64) bool {
	sl.mu.Lock()
	entry := sl.entries[sensorID]
	if entry == nil {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(sl.limit, sl.burst),
		}
		sl.entries[sensorID] = entry
	}
	entry.lastSeen = time.Now()
	sl.mu.Unlock()

	return entry.limiter.Allow()
}

func (sl *sensorLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sl.mu.Lock()
			for id, entry := range sl.entries {
				if time.Since(entry.lastSeen) > 10*time.Minute {
					delete(sl.entries, id)
				}
			}
			sl.mu.Unlock()
		case <-sl.quitChan:
			return
		}
	}
}

func (sl *sensorLimiter) shutdown() {
	close(sl.quitChan)
}

// sensorGate serializes the ingest pipeline per sensor so the evaluator
// sees a monotonic stream for each one.
type sensorGate struct {
	mu       sync.Mutex
	inFlight map[int64]*sensorLock
}

type sensorLock struct {
	refCount int
	guard    chan struct{}
}

func newSensorGate() *sensorGate {
	return &sensorGate{inFlight: make(map[int64]*sensorLock)}
}

// acquire blocks until the sensor's slot is free and returns the release
// function.
func (g *sensorGate) acquire(sensorID int64) func() {
	g.mu.Lock()
	lock := g.inFlight[sensorID]
	if lock == nil {
		lock = &sensorLock{
			guard: make(chan struct{}, 1), // single slot per sensor
		}
		g.inFlight[sensorID] = lock
	}
	lock.refCount++
	g.mu.Unlock()

	lock.guard <- struct{}{}

	return func() {
		<-lock.guard
		g.mu.Lock()
		lock.refCount--
		if lock.refCount == 0 {
			delete(g.inFlight, sensorID)
		}
		g.mu.Unlock()
	}
}
