package timestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	verrors "github.com/vigiaops/vigia-go/internal/errors"
	"github.com/vigiaops/vigia-go/internal/models"
)

const (
	defaultRangeLimit = 1000
	maxRangeLimit     = 10000
)

// RangeQuery selects observations by sensor, kind and time window.
// Zero From/To leave that bound open.
type RangeQuery struct {
	SensorIDs []int64
	Kinds     []models.SensorKind
	From      time.Time
	To        time.Time
	Limit     int
}

// Range returns observations matching the query, newest first. Rows with
// an equal timestamp come back in arrival order.
func (s *Store) Range(ctx context.Context, q RangeQuery) ([]models.Observation, error) {
	const op = "timestore.Range"

	limit := q.Limit
	if limit <= 0 {
		limit = defaultRangeLimit
	}
	if limit > maxRangeLimit {
		limit = maxRangeLimit
	}

	var where []string
	var args []interface{}

	if len(q.SensorIDs) > 0 {
		where = append(where, "sensor_id IN ("+placeholders(len(q.SensorIDs))+")")
		for _, id := range q.SensorIDs {
			args = append(args, id)
		}
	}
	if len(q.Kinds) > 0 {
		where = append(where, "kind IN ("+placeholders(len(q.Kinds))+")")
		for _, k := range q.Kinds {
			args = append(args, string(k))
		}
	}
	if !q.From.IsZero() {
		// Prune whole partitions before touching the row index.
		where = append(where, "chunk_start >= ?", "ts >= ?")
		args = append(args, s.chunkFor(q.From.UTC().UnixMilli()), q.From.UTC().UnixMilli())
	}
	if !q.To.IsZero() {
		where = append(where, "chunk_start <= ?", "ts <= ?")
		args = append(args, s.chunkFor(q.To.UTC().UnixMilli()), q.To.UTC().UnixMilli())
	}

	query := `SELECT seq, sensor_id, kind, ts, value, unit, quality, late, battery, signal, ambient_temp, humidity FROM observations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts DESC, seq ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.queryRetry(ctx, query, args...)
	if err != nil {
		return nil, verrors.WrapBackend(op, fmt.Errorf("failed to query observations: %w", err))
	}
	defer rows.Close()

	observations := make([]models.Observation, 0, limit)
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, verrors.WrapBackend(op, err)
		}
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

// Latest returns the most recent observation per sensor. A positive
// within bounds how far back to look.
func (s *Store) Latest(ctx context.Context, sensorIDs []int64, within time.Duration) (map[int64]models.Observation, error) {
	const op = "timestore.Latest"

	out := make(map[int64]models.Observation, len(sensorIDs))
	var floor int64
	if within > 0 {
		floor = time.Now().UTC().Add(-within).UnixMilli()
	}

	for _, id := range sensorIDs {
		query := `
			SELECT seq, sensor_id, kind, ts, value, unit, quality, late, battery, signal, ambient_temp, humidity
			FROM observations
			WHERE sensor_id = ? AND ts >= ?
			ORDER BY ts DESC, seq DESC
			LIMIT 1
		`
		rows, err := s.queryRetry(ctx, query, id, floor)
		if err != nil {
			return nil, verrors.WrapBackend(op, fmt.Errorf("failed to query latest observation: %w", err))
		}
		if rows.Next() {
			obs, err := scanObservation(rows)
			if err != nil {
				rows.Close()
				return nil, verrors.WrapBackend(op, err)
			}
			out[id] = obs
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, verrors.WrapBackend(op, err)
		}
		rows.Close()
	}
	return out, nil
}

// CountSince returns how many observations arrived with timestamps at or
// after the floor. Buffered rows are flushed first so the count is exact.
func (s *Store) CountSince(ctx context.Context, since time.Time) (int64, error) {
	const op = "timestore.CountSince"

	s.Flush()

	var count int64
	rows, err := s.queryRetry(ctx, `SELECT COUNT(*) FROM observations WHERE ts >= ?`, since.UTC().UnixMilli())
	if err != nil {
		return 0, verrors.WrapBackend(op, fmt.Errorf("failed to count observations: %w", err))
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, verrors.WrapBackend(op, err)
		}
	}
	return count, rows.Err()
}

// ScanBucket flushes pending writes then returns every observation for
// one sensor in [from, to), oldest first. Aggregate recomputes use this
// to rebuild a bucket from scratch.
func (s *Store) ScanBucket(ctx context.Context, sensorID int64, from, to time.Time) ([]models.Observation, error) {
	const op = "timestore.ScanBucket"

	s.Flush()

	query := `
		SELECT seq, sensor_id, kind, ts, value, unit, quality, late, battery, signal, ambient_temp, humidity
		FROM observations
		WHERE sensor_id = ? AND chunk_start >= ? AND chunk_start <= ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC, seq ASC
	`
	fromMs := from.UTC().UnixMilli()
	toMs := to.UTC().UnixMilli()
	rows, err := s.queryRetry(ctx, query, sensorID, s.chunkFor(fromMs), s.chunkFor(toMs), fromMs, toMs)
	if err != nil {
		return nil, verrors.WrapBackend(op, fmt.Errorf("failed to scan bucket: %w", err))
	}
	defer rows.Close()

	var observations []models.Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, verrors.WrapBackend(op, err)
		}
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

func scanObservation(rows *sql.Rows) (models.Observation, error) {
	var obs models.Observation
	var kind, quality string
	var ts int64
	var battery, signal, ambient, humidity sql.NullFloat64

	if err := rows.Scan(&obs.Seq, &obs.SensorID, &kind, &ts, &obs.Value, &obs.Unit, &quality, &obs.Late, &battery, &signal, &ambient, &humidity); err != nil {
		return models.Observation{}, fmt.Errorf("failed to scan observation row: %w", err)
	}
	obs.Kind = models.SensorKind(kind)
	obs.Quality = models.Quality(quality)
	obs.Timestamp = time.UnixMilli(ts).UTC()

	if battery.Valid || signal.Valid || ambient.Valid || humidity.Valid {
		t := &models.Telemetry{}
		if battery.Valid {
			v := battery.Float64
			t.BatteryLevel = &v
		}
		if signal.Valid {
			v := signal.Float64
			t.SignalStrength = &v
		}
		if ambient.Valid {
			v := ambient.Float64
			t.AmbientTemp = &v
		}
		if humidity.Valid {
			v := humidity.Float64
			t.Humidity = &v
		}
		obs.Telemetry = t
	}
	return obs, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
