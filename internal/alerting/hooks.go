package alerting

import (
	"sync"

	"github.com/vigiaops/vigia-go/internal/models"
)

// Metric hooks are injected at startup to avoid a hard dependency on the
// metrics package.
var (
	metricsMu          sync.RWMutex
	metricFired        func(severity, rule string)
	metricEscalated    func(rule string)
	metricResolved     func(rule string, seconds float64)
	metricAcknowledged func()
)

// SetMetricHooks wires the alert lifecycle counters and the fire-to-resolve
// duration observer. Any hook may be nil.
func SetMetricHooks(fired func(severity, rule string), escalated func(rule string), resolved func(rule string, seconds float64), acknowledged func()) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	metricFired = fired
	metricEscalated = escalated
	metricResolved = resolved
	metricAcknowledged = acknowledged
}

func recordFired(alert *models.Alert) {
	metricsMu.RLock()
	hook := metricFired
	metricsMu.RUnlock()
	if hook != nil {
		hook(string(alert.Severity), string(alert.Rule))
	}
}

func recordEscalated(rule models.RuleKind) {
	metricsMu.RLock()
	hook := metricEscalated
	metricsMu.RUnlock()
	if hook != nil {
		hook(string(rule))
	}
}

func recordResolved(alert models.Alert) {
	metricsMu.RLock()
	hook := metricResolved
	metricsMu.RUnlock()
	if hook == nil {
		return
	}
	seconds := 0.0
	if alert.ResolvedAt != nil {
		seconds = alert.ResolvedAt.Sub(alert.DetectedAt).Seconds()
	}
	hook(string(alert.Rule), seconds)
}

func recordAcknowledged() {
	metricsMu.RLock()
	hook := metricAcknowledged
	metricsMu.RUnlock()
	if hook != nil {
		hook()
	}
}
