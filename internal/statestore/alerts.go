package statestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	verrors "github.com/vigiaops/vigia-go/internal/errors"
	"github.com/vigiaops/vigia-go/internal/models"
)

const alertColumns = `id, sensor_id, sensor_name, kind, rule, severity, state, value, threshold, duration_minutes,
	shelter_id, shelter_name, shelter_pending, message, actions, detected_at,
	acknowledged_at, acknowledged_by, resolved_at, resolved_by,
	sms_sent, email_sent, shelter_notified, failure_reason`

// InsertAlert persists a newly fired alert. A second live alert for the
// same sensor and rule reports a conflict.
func (s *Store) InsertAlert(alert models.Alert) error {
	const op = "statestore.InsertAlert"

	if alert.ID == "" {
		return verrors.New(verrors.KindValidation, op, fmt.Errorf("alert id is required"))
	}
	actions, _ := json.Marshal(alert.Actions)
	var shelterID interface{}
	if alert.ShelterID != nil {
		shelterID = *alert.ShelterID
	}

	_, err := s.execRetry(`
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, alert.ID, alert.SensorID, alert.SensorName, string(alert.Kind), string(alert.Rule),
		string(alert.Severity), string(alert.State), alert.Value, alert.Threshold, alert.DurationMinutes,
		shelterID, alert.ShelterName, alert.ShelterPending, alert.Message, string(actions),
		alert.DetectedAt.UTC().UnixMilli(),
		nullableTime(alert.AcknowledgedAt), alert.AcknowledgedBy,
		nullableTime(alert.ResolvedAt), alert.ResolvedBy,
		alert.SMSSent, alert.EmailSent, alert.ShelterNotified, alert.FailureReason)
	if err != nil {
		if isUniqueViolation(err) {
			return verrors.New(verrors.KindConflict, op,
				fmt.Errorf("alert already active for sensor %d rule %s", alert.SensorID, alert.Rule)).
				WithSensor(alert.SensorID)
		}
		return verrors.WrapBackend(op, fmt.Errorf("failed to insert alert: %w", err))
	}
	return nil
}

// GetAlert reads one alert by UUID.
func (s *Store) GetAlert(id string) (models.Alert, error) {
	const op = "statestore.GetAlert"

	row := s.db.QueryRow(`SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return models.Alert{}, verrors.UnknownAlert(op, id)
	}
	if err != nil {
		return models.Alert{}, verrors.WrapBackend(op, err)
	}
	return alert, nil
}

// ListAlerts returns alerts newest first, optionally filtered by state.
func (s *Store) ListAlerts(state models.AlertState, limit int) ([]models.Alert, error) {
	const op = "statestore.ListAlerts"

	if limit <= 0 {
		limit = 200
	}
	query := `SELECT ` + alertColumns + ` FROM alerts`
	args := []interface{}{}
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY detected_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, verrors.WrapBackend(op, fmt.Errorf("failed to list alerts: %w", err))
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, verrors.WrapBackend(op, err)
		}
		out = append(out, alert)
	}
	return out, rows.Err()
}

// LiveAlerts returns alerts that have not been resolved.
func (s *Store) LiveAlerts() ([]models.Alert, error) {
	const op = "statestore.LiveAlerts"

	rows, err := s.db.Query(`SELECT ` + alertColumns + ` FROM alerts WHERE state != 'resolved' ORDER BY detected_at DESC`)
	if err != nil {
		return nil, verrors.WrapBackend(op, fmt.Errorf("failed to list live alerts: %w", err))
	}
	defer rows.Close()

	var out []models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, verrors.WrapBackend(op, err)
		}
		out = append(out, alert)
	}
	return out, rows.Err()
}

// EscalateAlert raises severity and refreshes the trigger value on an
// unresolved alert.
func (s *Store) EscalateAlert(id string, severity models.Severity, value float64, message string) error {
	const op = "statestore.EscalateAlert"

	result, err := s.execRetry(`
		UPDATE alerts SET severity = ?, value = ?, message = ?
		WHERE id = ? AND state != 'resolved'
	`, string(severity), value, message, id)
	if err != nil {
		return verrors.WrapBackend(op, fmt.Errorf("failed to escalate alert: %w", err))
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		if _, err := s.GetAlert(id); err != nil {
			return err
		}
		return verrors.New(verrors.KindConflict, op, fmt.Errorf("alert is already resolved")).WithAlert(id)
	}
	return nil
}

// UpdateAlertValue refreshes the most recent trigger value and duration.
func (s *Store) UpdateAlertValue(id string, value, durationMinutes float64) error {
	const op = "statestore.UpdateAlertValue"

	_, err := s.execRetry(`
		UPDATE alerts SET value = ?, duration_minutes = ?
		WHERE id = ? AND state != 'resolved'
	`, value, durationMinutes, id)
	if err != nil {
		return verrors.WrapBackend(op, fmt.Errorf("failed to update alert value: %w", err))
	}
	return nil
}

// AcknowledgeAlert transitions an active alert to acknowledged.
// Acknowledging twice is a no-op; acknowledging a resolved alert is a
// conflict.
func (s *Store) AcknowledgeAlert(id, actor string) (models.Alert, error) {
	const op = "statestore.AcknowledgeAlert"

	now := time.Now().UTC()
	result, err := s.execRetry(`
		UPDATE alerts SET state = 'acknowledged', acknowledged_at = ?, acknowledged_by = ?
		WHERE id = ? AND state = 'active'
	`, now.UnixMilli(), actor, id)
	if err != nil {
		return models.Alert{}, verrors.WrapBackend(op, fmt.Errorf("failed to acknowledge alert: %w", err))
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		alert, err := s.GetAlert(id)
		if err != nil {
			return models.Alert{}, err
		}
		switch alert.State {
		case models.AlertAcknowledged:
			return alert, nil
		default:
			return models.Alert{}, verrors.New(verrors.KindConflict, op,
				fmt.Errorf("cannot acknowledge alert in state %s", alert.State)).WithAlert(id)
		}
	}
	return s.GetAlert(id)
}

// ResolveAlert transitions a live alert to resolved. Resolving an
// already-resolved alert succeeds and returns the stored row unchanged.
func (s *Store) ResolveAlert(id, actor string) (models.Alert, error) {
	const op = "statestore.ResolveAlert"

	now := time.Now().UTC()
	result, err := s.execRetry(`
		UPDATE alerts SET state = 'resolved', resolved_at = ?, resolved_by = ?
		WHERE id = ? AND state IN ('active', 'acknowledged')
	`, now.UnixMilli(), actor, id)
	if err != nil {
		return models.Alert{}, verrors.WrapBackend(op, fmt.Errorf("failed to resolve alert: %w", err))
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		// Unknown ID errors; already resolved is idempotent success.
		return s.GetAlert(id)
	}
	return s.GetAlert(id)
}

// SetAlertDelivery flags a notification channel as delivered.
func (s *Store) SetAlertDelivery(id, channel string) error {
	const op = "statestore.SetAlertDelivery"

	var column string
	switch channel {
	case "sms":
		column = "sms_sent"
	case "email":
		column = "email_sent"
	case "shelter", "webhook":
		column = "shelter_notified"
	default:
		return verrors.New(verrors.KindValidation, op, fmt.Errorf("unknown channel %q", channel))
	}
	_, err := s.execRetry(`UPDATE alerts SET `+column+` = 1 WHERE id = ?`, id)
	if err != nil {
		return verrors.WrapBackend(op, fmt.Errorf("failed to flag delivery: %w", err))
	}
	return nil
}

// SetAlertFailure records a permanent notification failure on the alert.
func (s *Store) SetAlertFailure(id, reason string) error {
	_, err := s.execRetry(`UPDATE alerts SET failure_reason = ? WHERE id = ?`, reason, id)
	if err != nil {
		return verrors.WrapBackend("statestore.SetAlertFailure", fmt.Errorf("failed to record failure: %w", err))
	}
	return nil
}

// SetAlertShelter assigns or clears the advised shelter on an alert.
func (s *Store) SetAlertShelter(id string, shelterID *int64, shelterName string, pending bool) error {
	const op = "statestore.SetAlertShelter"

	var sid interface{}
	if shelterID != nil {
		sid = *shelterID
	}
	_, err := s.execRetry(`
		UPDATE alerts SET shelter_id = ?, shelter_name = ?, shelter_pending = ? WHERE id = ?
	`, sid, shelterName, pending, id)
	if err != nil {
		return verrors.WrapBackend(op, fmt.Errorf("failed to assign shelter: %w", err))
	}
	return nil
}

func scanAlert(row rowScanner) (models.Alert, error) {
	var alert models.Alert
	var kind, rule, severity, state, actions string
	var shelterID sql.NullInt64
	var detected int64
	var ackAt, resolvedAt sql.NullInt64

	err := row.Scan(&alert.ID, &alert.SensorID, &alert.SensorName, &kind, &rule, &severity, &state,
		&alert.Value, &alert.Threshold, &alert.DurationMinutes,
		&shelterID, &alert.ShelterName, &alert.ShelterPending, &alert.Message, &actions, &detected,
		&ackAt, &alert.AcknowledgedBy, &resolvedAt, &alert.ResolvedBy,
		&alert.SMSSent, &alert.EmailSent, &alert.ShelterNotified, &alert.FailureReason)
	if err != nil {
		return models.Alert{}, err
	}
	alert.Kind = models.SensorKind(kind)
	alert.Rule = models.RuleKind(rule)
	alert.Severity = models.Severity(severity)
	alert.State = models.AlertState(state)
	alert.DetectedAt = time.UnixMilli(detected).UTC()
	alert.AcknowledgedAt = timePtr(ackAt)
	alert.ResolvedAt = timePtr(resolvedAt)
	if shelterID.Valid {
		alert.ShelterID = &shelterID.Int64
	}
	if actions != "" && actions != "null" {
		_ = json.Unmarshal([]byte(actions), &alert.Actions)
	}
	return alert, nil
}
