// Package alerting evaluates observations against the per-kind rules and
// drives the alert lifecycle: detection, severity escalation, shelter
// assignment, notification fan-out, and hysteresis-based resolution.
//
// Lock ordering: m.mu is held through rule evaluation, including the state
// store writes. Callbacks are always dispatched on fresh goroutines with
// cloned alerts, so consumers can never re-enter the manager under its lock.
package alerting

import (
	"fmt"
	"sort"
	"sync"
	"time"

	wildcard "github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vigiaops/vigia-go/internal/aggregate"
	"github.com/vigiaops/vigia-go/internal/config"
	verrors "github.com/vigiaops/vigia-go/internal/errors"
	"github.com/vigiaops/vigia-go/internal/models"
	"github.com/vigiaops/vigia-go/internal/statestore"
	"github.com/vigiaops/vigia-go/pkg/geoindex"
)

// rapidMinSamples is the minimum rolling-window population before the
// rapid_change rule may fire; below this the stddev is too noisy.
const rapidMinSamples = 5

// RollingSource supplies the rolling-window statistics behind the
// rapid_change rule; the aggregation engine implements it.
type RollingSource interface {
	RollingStats(sensorID int64) (aggregate.RollingStats, bool)
}

// NotificationSink receives delivery work for triggered alerts and cancels
// it when they resolve.
type NotificationSink interface {
	EnqueueAlert(alert *models.Alert, channel, recipient string) error
	CancelForAlert(alertID string) error
}

// Manager owns alert state for all sensors. One instance per process.
type Manager struct {
	cfg        *config.Config
	thresholds *config.ThresholdStore
	store      *statestore.Store
	geo        *geoindex.Index
	rolling    RollingSource
	sink       NotificationSink

	mu         sync.Mutex
	active     map[string]*models.Alert // live (active or acknowledged) per (sensor, rule)
	pending    map[string]time.Time     // observation time the condition was first seen
	belowSince map[string]time.Time     // observation time the clear condition was first seen

	onAlert    func(alert *models.Alert)
	onResolved func(alertID string)
}

// NewManager builds the evaluator and re-seeds live alerts from the state
// store so restarts do not re-trigger conditions that already alerted.
func NewManager(cfg *config.Config, thresholds *config.ThresholdStore, store *statestore.Store, geo *geoindex.Index, rolling RollingSource, sink NotificationSink) *Manager {
	m := &Manager{
		cfg:        cfg,
		thresholds: thresholds,
		store:      store,
		geo:        geo,
		rolling:    rolling,
		sink:       sink,
		active:     make(map[string]*models.Alert),
		pending:    make(map[string]time.Time),
		belowSince: make(map[string]time.Time),
	}

	live, err := store.LiveAlerts()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load live alerts, starting with empty state")
		return m
	}
	for i := range live {
		a := live[i]
		m.active[alertKey(a.SensorID, a.Rule)] = &a
	}
	if len(live) > 0 {
		log.Info().Int("count", len(live)).Msg("Re-seeded live alerts from state store")
	}
	return m
}

// SetAlertCallback registers the consumer notified of new and escalated
// alerts. The callback receives a clone and runs on its own goroutine.
func (m *Manager) SetAlertCallback(cb func(alert *models.Alert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAlert = cb
}

// SetResolvedCallback registers the consumer notified when alerts resolve.
func (m *Manager) SetResolvedCallback(cb func(alertID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onResolved = cb
}

func alertKey(sensorID int64, rule models.RuleKind) string {
	return fmt.Sprintf("%d-%s", sensorID, rule)
}

// Evaluate runs every rule for one observation. Called synchronously from
// the ingest path after the observation is durably written; emits at most
// one state transition per rule.
func (m *Manager) Evaluate(sensor models.Sensor, obs models.Observation) {
	th, ok := m.thresholds.For(sensor.Kind)
	if !ok {
		return
	}
	obs.Timestamp = obs.Timestamp.UTC()

	m.evalHeat(sensor, obs, th)
	m.evalCold(sensor, obs, th)
	m.evalRapidChange(sensor, obs)
}

func (m *Manager) evalHeat(sensor models.Sensor, obs models.Observation, th config.Thresholds) {
	severity := models.SeverityHigh
	if obs.Value > th.Critical {
		severity = models.SeverityCritical
	}
	m.checkRule(ruleCheck{
		sensor:    sensor,
		obs:       obs,
		rule:      models.RuleHeatExtreme,
		firing:    obs.Value > th.Max,
		cleared:   obs.Value < th.Max-m.cfg.HysteresisBand,
		severity:  severity,
		threshold: th.Max,
		sustained: true,
		message:   fmt.Sprintf("Extreme heat: %s at %.1f%s (threshold %.1f)", sensor.Name, obs.Value, unitSuffix(obs.Unit), th.Max),
	})
}

func (m *Manager) evalCold(sensor models.Sensor, obs models.Observation, th config.Thresholds) {
	severity := models.SeverityHigh
	if th.CriticalLow < th.Min && obs.Value < th.CriticalLow {
		severity = models.SeverityCritical
	}
	m.checkRule(ruleCheck{
		sensor:    sensor,
		obs:       obs,
		rule:      models.RuleColdExtreme,
		firing:    obs.Value < th.Min,
		cleared:   obs.Value > th.Min+m.cfg.HysteresisBand,
		severity:  severity,
		threshold: th.Min,
		sustained: true,
		message:   fmt.Sprintf("Extreme cold: %s at %.1f%s (threshold %.1f)", sensor.Name, obs.Value, unitSuffix(obs.Unit), th.Min),
	})
}

func (m *Manager) evalRapidChange(sensor models.Sensor, obs models.Observation) {
	if m.rolling == nil {
		return
	}
	stats, ok := m.rolling.RollingStats(sensor.ID)
	if !ok || stats.Count < rapidMinSamples || stats.StdDev <= 0 {
		return
	}

	deviation := obs.Value - stats.Mean
	if deviation < 0 {
		deviation = -deviation
	}
	zScore := deviation / stats.StdDev

	severity := models.SeverityMedium
	if zScore >= m.cfg.RapidChangeCritical {
		severity = models.SeverityHigh
	}
	m.checkRule(ruleCheck{
		sensor:    sensor,
		obs:       obs,
		rule:      models.RuleRapidChange,
		firing:    zScore > m.cfg.RapidChangeK,
		cleared:   zScore <= m.cfg.RapidChangeK,
		severity:  severity,
		threshold: m.cfg.RapidChangeK,
		sustained: false,
		message: fmt.Sprintf("Rapid change: %s at %.1f%s deviates %.1f sigma from the hourly mean %.1f",
			sensor.Name, obs.Value, unitSuffix(obs.Unit), zScore, stats.Mean),
	})
}

type ruleCheck struct {
	sensor    models.Sensor
	obs       models.Observation
	rule      models.RuleKind
	firing    bool
	cleared   bool
	severity  models.Severity
	threshold float64
	sustained bool
	message   string
}

// checkRule is the shared state machine for all rules. Sustained-duration
// and hysteresis windows are measured on observation timestamps, not wall
// clock, so replayed history evaluates the same way live data does.
func (m *Manager) checkRule(c ruleCheck) {
	key := alertKey(c.sensor.ID, c.rule)
	now := c.obs.Timestamp

	m.mu.Lock()
	defer m.mu.Unlock()

	alert, exists := m.active[key]

	if c.firing {
		delete(m.belowSince, key)

		if exists {
			m.refreshAlert(alert, c)
			return
		}

		detectedAt := now
		if c.sustained {
			start, isPending := m.pending[key]
			if !isPending {
				m.pending[key] = now
				log.Debug().
					Str("alertKey", key).
					Float64("value", c.obs.Value).
					Msg("Condition exceeded, tracking sustained window")
				return
			}
			if now.Sub(start) < m.sustainedWindow() {
				return
			}
			delete(m.pending, key)
			detectedAt = start
		}
		m.createAlert(key, detectedAt, c)
		return
	}

	// Condition not firing: any sustained streak is broken.
	delete(m.pending, key)

	if !exists {
		return
	}
	if !c.cleared {
		// Inside the hysteresis band; the alert holds.
		delete(m.belowSince, key)
		return
	}
	since, tracking := m.belowSince[key]
	if !tracking {
		m.belowSince[key] = now
		return
	}
	if now.Sub(since) < m.hysteresisWindow() {
		return
	}
	m.resolveLocked(key, alert, "system")
}

func (m *Manager) sustainedWindow() time.Duration {
	return time.Duration(m.cfg.SustainedMinutes) * time.Minute
}

func (m *Manager) hysteresisWindow() time.Duration {
	return time.Duration(m.cfg.HysteresisMinutes) * time.Minute
}

// refreshAlert updates the live alert in place: current value always, and
// severity only upward, keeping the same alert identity.
func (m *Manager) refreshAlert(alert *models.Alert, c ruleCheck) {
	alert.Value = c.obs.Value
	alert.DurationMinutes = c.obs.Timestamp.Sub(alert.DetectedAt).Minutes()

	if c.severity.Rank() > alert.Severity.Rank() {
		prev := alert.Severity
		alert.Severity = c.severity
		alert.Message = c.message
		if err := m.store.EscalateAlert(alert.ID, c.severity, c.obs.Value, c.message); err != nil {
			log.Warn().Err(err).Str("alertID", alert.ID).Msg("Failed to persist alert escalation")
			return
		}
		recordEscalated(c.rule)
		log.Warn().
			Str("alertID", alert.ID).
			Str("sensor", c.sensor.Name).
			Str("rule", string(c.rule)).
			Str("from", string(prev)).
			Str("to", string(c.severity)).
			Float64("value", c.obs.Value).
			Msg("Alert severity escalated")
		m.fanOut(alert)
		m.dispatchAlert(alert)
		return
	}

	if err := m.store.UpdateAlertValue(alert.ID, alert.Value, alert.DurationMinutes); err != nil {
		log.Warn().Err(err).Str("alertID", alert.ID).Msg("Failed to persist alert value update")
	}
}

func (m *Manager) createAlert(key string, detectedAt time.Time, c ruleCheck) {
	alert := &models.Alert{
		ID:              uuid.NewString(),
		SensorID:        c.sensor.ID,
		SensorName:      c.sensor.Name,
		Kind:            c.sensor.Kind,
		Rule:            c.rule,
		Severity:        c.severity,
		Value:           c.obs.Value,
		Threshold:       c.threshold,
		DurationMinutes: c.obs.Timestamp.Sub(detectedAt).Minutes(),
		State:           models.AlertActive,
		DetectedAt:      detectedAt,
		Message:         c.message,
	}
	m.chooseShelter(alert, c.sensor)
	alert.Actions = recommendedActions(alert)

	if err := m.store.InsertAlert(*alert); err != nil {
		if verrors.IsRetryableError(err) {
			// Another path won the (sensor, rule) uniqueness race.
			log.Warn().Err(err).Str("alertKey", key).Msg("Duplicate active alert suppressed")
		} else {
			log.Error().Err(err).Str("alertKey", key).Msg("Failed to persist new alert")
		}
		return
	}

	m.active[key] = alert
	recordFired(alert)
	log.Warn().
		Str("alertID", alert.ID).
		Str("sensor", c.sensor.Name).
		Str("rule", string(c.rule)).
		Str("severity", string(alert.Severity)).
		Float64("value", c.obs.Value).
		Float64("threshold", c.threshold).
		Bool("shelterPending", alert.ShelterPending).
		Msg("Alert triggered")

	m.fanOut(alert)
	m.dispatchAlert(alert)
}

// chooseShelter assigns the closest accepting shelter, or flags the alert
// shelter-pending when none currently has room.
func (m *Manager) chooseShelter(alert *models.Alert, sensor models.Sensor) {
	if m.geo == nil {
		alert.ShelterPending = true
		return
	}
	matches := m.geo.KNearest(sensor.Location, m.cfg.ShelterCandidates, func(e geoindex.Entry) bool {
		return e.Kind == geoindex.KindShelter && e.Accepting()
	})
	if len(matches) == 0 {
		alert.ShelterPending = true
		log.Info().
			Int64("sensorId", sensor.ID).
			Msg("No shelter with capacity near sensor, alert marked shelter pending")
		return
	}
	best := matches[0]
	alert.ShelterID = &best.ID
	alert.ShelterName = best.Name
	log.Info().
		Int64("sensorId", sensor.ID).
		Int64("shelterId", best.ID).
		Str("shelter", best.Name).
		Float64("distanceM", best.DistanceM).
		Msg("Shelter assigned to alert")
}

// fanOut enqueues at most one notification job per (channel, recipient)
// whose routing rule matches the alert. Retries and delivery order are the
// dispatcher's concern.
func (m *Manager) fanOut(alert *models.Alert) {
	if m.sink == nil {
		return
	}
	seen := make(map[string]struct{})
	for _, rule := range m.cfg.Routing {
		if !severityMatches(rule.Severities, alert.Severity) {
			continue
		}
		if !wildcard.Match(rule.SensorPattern, alert.SensorName) {
			continue
		}
		dedup := rule.Channel + "|" + rule.Recipient
		if _, dup := seen[dedup]; dup {
			continue
		}
		seen[dedup] = struct{}{}
		if err := m.sink.EnqueueAlert(alert.Clone(), rule.Channel, rule.Recipient); err != nil {
			log.Warn().Err(err).
				Str("alertID", alert.ID).
				Str("channel", rule.Channel).
				Str("recipient", rule.Recipient).
				Msg("Failed to enqueue notification")
		}
	}
}

func severityMatches(severities []string, s models.Severity) bool {
	if len(severities) == 0 {
		return true
	}
	for _, want := range severities {
		if models.Severity(want) == s {
			return true
		}
	}
	return false
}

// resolveLocked finishes an alert under m.mu: CAS transition in the state
// store, queued notification cancellation, resolved callback.
func (m *Manager) resolveLocked(key string, alert *models.Alert, actor string) {
	resolved, err := m.store.ResolveAlert(alert.ID, actor)
	if err != nil {
		log.Warn().Err(err).Str("alertID", alert.ID).Msg("Failed to resolve alert")
		return
	}
	delete(m.active, key)
	delete(m.belowSince, key)
	delete(m.pending, key)
	recordResolved(resolved)

	log.Info().
		Str("alertID", alert.ID).
		Int64("sensorId", alert.SensorID).
		Str("rule", string(alert.Rule)).
		Str("actor", actor).
		Time("resolvedAt", derefTime(resolved.ResolvedAt)).
		Msg("Alert resolved")

	if m.sink != nil {
		if err := m.sink.CancelForAlert(alert.ID); err != nil {
			log.Warn().Err(err).Str("alertID", alert.ID).Msg("Failed to cancel queued notifications")
		}
	}
	if m.onResolved != nil {
		go m.onResolved(alert.ID)
	}
}

func (m *Manager) dispatchAlert(alert *models.Alert) {
	if m.onAlert == nil {
		return
	}
	go m.onAlert(alert.Clone())
}

// Acknowledge marks an active alert as seen by an operator. Idempotent for
// alerts already acknowledged.
func (m *Manager) Acknowledge(id, actor string) (models.Alert, error) {
	updated, err := m.store.AcknowledgeAlert(id, actor)
	if err != nil {
		return models.Alert{}, err
	}
	key := alertKey(updated.SensorID, updated.Rule)
	transitioned := false
	m.mu.Lock()
	if a, ok := m.active[key]; ok && a.ID == id {
		transitioned = a.State == models.AlertActive && updated.State == models.AlertAcknowledged
		*a = updated
	}
	m.mu.Unlock()
	if transitioned {
		recordAcknowledged()
	}
	return updated, nil
}

// Resolve is the operator-initiated terminal transition. Idempotent for
// alerts already resolved.
func (m *Manager) Resolve(id, actor string) (models.Alert, error) {
	updated, err := m.store.ResolveAlert(id, actor)
	if err != nil {
		return models.Alert{}, err
	}
	key := alertKey(updated.SensorID, updated.Rule)
	wasLive := false
	m.mu.Lock()
	if a, ok := m.active[key]; ok && a.ID == id {
		delete(m.active, key)
		delete(m.belowSince, key)
		delete(m.pending, key)
		wasLive = true
	}
	m.mu.Unlock()
	if wasLive {
		recordResolved(updated)
	}

	if m.sink != nil {
		if err := m.sink.CancelForAlert(id); err != nil {
			log.Warn().Err(err).Str("alertID", id).Msg("Failed to cancel queued notifications")
		}
	}
	if cb := m.resolvedCallback(); cb != nil {
		go cb(id)
	}
	return updated, nil
}

func (m *Manager) resolvedCallback() func(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onResolved
}

// ActiveAlerts returns clones of all live alerts, most recent first.
func (m *Manager) ActiveAlerts() []models.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Alert, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, *a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return out
}

func unitSuffix(unit string) string {
	if unit == "" {
		return ""
	}
	return " " + unit
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// recommendedActions composes the operator guidance attached to an alert.
func recommendedActions(alert *models.Alert) []string {
	var actions []string
	switch alert.Rule {
	case models.RuleHeatExtreme:
		if alert.Severity == models.SeverityCritical {
			actions = append(actions,
				"Activate the emergency heat protocol",
				"Notify emergency services")
		} else {
			actions = append(actions,
				"Issue a heat advisory for the area",
				"Check on vulnerable residents")
		}
	case models.RuleColdExtreme:
		if alert.Severity == models.SeverityCritical {
			actions = append(actions,
				"Activate the emergency cold protocol",
				"Notify emergency services")
		} else {
			actions = append(actions,
				"Issue a cold advisory for the area",
				"Check on vulnerable residents")
		}
	case models.RuleRapidChange:
		actions = append(actions,
			"Verify the sensor reading against nearby sensors",
			"Inspect the area for a local incident")
	}
	if alert.ShelterID != nil && alert.ShelterName != "" {
		actions = append(actions, fmt.Sprintf("Direct residents to %s", alert.ShelterName))
	} else if alert.ShelterPending {
		actions = append(actions, "Locate shelter capacity, none available nearby")
	}
	return actions
}
