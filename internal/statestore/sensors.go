package statestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	verrors "github.com/vigiaops/vigia-go/internal/errors"
	"github.com/vigiaops/vigia-go/internal/models"
)

const sensorColumns = `id, name, kind, status, unit, lat, lon, precision, min_value, max_value, sample_period, strict, manufacturer, created_at, updated_at`

// UpsertSensor inserts or replaces a sensor, refreshes the cache and the
// spatial index.
func (s *Store) UpsertSensor(sensor models.Sensor) (models.Sensor, error) {
	const op = "statestore.UpsertSensor"

	if sensor.ID <= 0 {
		return models.Sensor{}, verrors.New(verrors.KindValidation, op, fmt.Errorf("sensor id must be positive"))
	}
	if !models.IsKnownKind(sensor.Kind) {
		return models.Sensor{}, verrors.New(verrors.KindValidation, op, fmt.Errorf("unknown sensor kind %q", sensor.Kind))
	}
	if sensor.Status == "" {
		sensor.Status = models.SensorActive
	}

	now := time.Now().UTC()
	if sensor.CreatedAt.IsZero() {
		if existing, ok := s.SensorByID(sensor.ID); ok {
			sensor.CreatedAt = existing.CreatedAt
		} else {
			sensor.CreatedAt = now
		}
	}
	sensor.UpdatedAt = now

	manufacturer, _ := json.Marshal(sensor.Manufacturer)
	_, err := s.execRetry(`
		INSERT OR REPLACE INTO sensors (`+sensorColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sensor.ID, sensor.Name, string(sensor.Kind), string(sensor.Status), sensor.Unit,
		sensor.Location.Lat, sensor.Location.Lon, sensor.Precision, sensor.MinValue, sensor.MaxValue,
		sensor.SamplePeriod, sensor.Strict, string(manufacturer),
		sensor.CreatedAt.UnixMilli(), sensor.UpdatedAt.UnixMilli())
	if err != nil {
		return models.Sensor{}, verrors.WrapBackend(op, fmt.Errorf("failed to upsert sensor: %w", err))
	}

	s.mu.Lock()
	s.sensors[sensor.ID] = sensor
	s.mu.Unlock()
	s.rebuildSensorIndex()

	return sensor, nil
}

// DeleteSensor removes a sensor from storage, cache and index.
func (s *Store) DeleteSensor(id int64) error {
	const op = "statestore.DeleteSensor"

	result, err := s.execRetry(`DELETE FROM sensors WHERE id = ?`, id)
	if err != nil {
		return verrors.WrapBackend(op, fmt.Errorf("failed to delete sensor: %w", err))
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return verrors.UnknownSensor(op, id)
	}

	s.mu.Lock()
	delete(s.sensors, id)
	s.mu.Unlock()
	s.rebuildSensorIndex()
	return nil
}

// GetSensor reads one sensor from storage.
func (s *Store) GetSensor(id int64) (models.Sensor, error) {
	const op = "statestore.GetSensor"

	row := s.db.QueryRow(`SELECT `+sensorColumns+` FROM sensors WHERE id = ?`, id)
	sensor, err := scanSensor(row)
	if err == sql.ErrNoRows {
		return models.Sensor{}, verrors.UnknownSensor(op, id)
	}
	if err != nil {
		return models.Sensor{}, verrors.WrapBackend(op, err)
	}
	return sensor, nil
}

// ListSensors returns all sensors ordered by ID.
func (s *Store) ListSensors() ([]models.Sensor, error) {
	const op = "statestore.ListSensors"

	rows, err := s.db.Query(`SELECT ` + sensorColumns + ` FROM sensors ORDER BY id`)
	if err != nil {
		return nil, verrors.WrapBackend(op, fmt.Errorf("failed to list sensors: %w", err))
	}
	defer rows.Close()

	var out []models.Sensor
	for rows.Next() {
		sensor, err := scanSensor(rows)
		if err != nil {
			return nil, verrors.WrapBackend(op, err)
		}
		out = append(out, sensor)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSensor(row rowScanner) (models.Sensor, error) {
	var sensor models.Sensor
	var kind, status, manufacturer string
	var created, updated int64

	err := row.Scan(&sensor.ID, &sensor.Name, &kind, &status, &sensor.Unit,
		&sensor.Location.Lat, &sensor.Location.Lon, &sensor.Precision,
		&sensor.MinValue, &sensor.MaxValue, &sensor.SamplePeriod, &sensor.Strict,
		&manufacturer, &created, &updated)
	if err != nil {
		return models.Sensor{}, err
	}
	sensor.Kind = models.SensorKind(kind)
	sensor.Status = models.SensorStatus(status)
	sensor.CreatedAt = time.UnixMilli(created).UTC()
	sensor.UpdatedAt = time.UnixMilli(updated).UTC()
	if manufacturer != "" && manufacturer != "null" {
		_ = json.Unmarshal([]byte(manufacturer), &sensor.Manufacturer)
	}
	return sensor, nil
}
