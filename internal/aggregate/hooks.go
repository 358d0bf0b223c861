package aggregate

import "sync"

// Metric hooks are injected at startup to avoid a hard dependency on the
// metrics package.
var (
	metricsMu        sync.RWMutex
	metricRecompute  func(outcome string)
	metricQueueDepth func(depth int)
)

// SetMetricHooks wires the recompute outcome counter ("ok", "retry",
// "failed") and the queue depth gauge. Either hook may be nil.
func SetMetricHooks(recompute func(outcome string), queueDepth func(depth int)) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	metricRecompute = recompute
	metricQueueDepth = queueDepth
}

func recordRecompute(outcome string) {
	metricsMu.RLock()
	hook := metricRecompute
	metricsMu.RUnlock()
	if hook != nil {
		hook(outcome)
	}
}

func recordQueueDepth(depth int) {
	metricsMu.RLock()
	hook := metricQueueDepth
	metricsMu.RUnlock()
	if hook != nil {
		hook(depth)
	}
}
