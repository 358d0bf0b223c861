package config

import (
	"sync"

	"github.com/vigiaops/vigia-go/internal/models"
)

// ThresholdStore holds the per-kind alert thresholds behind a lock so the
// file watcher can swap them while evaluators read.
type ThresholdStore struct {
	mu sync.RWMutex
	m  map[models.SensorKind]Thresholds
}

// NewThresholdStore seeds the store, falling back to defaults when the
// map is empty.
func NewThresholdStore(m map[models.SensorKind]Thresholds) *ThresholdStore {
	if len(m) == 0 {
		m = DefaultThresholds()
	}
	copied := make(map[models.SensorKind]Thresholds, len(m))
	for k, v := range m {
		copied[k] = v
	}
	return &ThresholdStore{m: copied}
}

// For returns the thresholds configured for a sensor kind.
func (t *ThresholdStore) For(kind models.SensorKind) (Thresholds, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	th, ok := t.m[kind]
	return th, ok
}

// ReplaceAll swaps the full threshold map, used on config reload.
func (t *ThresholdStore) ReplaceAll(m map[models.SensorKind]Thresholds) {
	if len(m) == 0 {
		return
	}
	copied := make(map[models.SensorKind]Thresholds, len(m))
	for k, v := range m {
		copied[k] = v
	}
	t.mu.Lock()
	t.m = copied
	t.mu.Unlock()
}

// All returns a copy of the current threshold map.
func (t *ThresholdStore) All() map[models.SensorKind]Thresholds {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[models.SensorKind]Thresholds, len(t.m))
	for k, v := range t.m {
		out[k] = v
	}
	return out
}
