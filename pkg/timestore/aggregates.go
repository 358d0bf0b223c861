package timestore

import (
	"context"
	"fmt"
	"time"

	verrors "github.com/vigiaops/vigia-go/internal/errors"
	"github.com/vigiaops/vigia-go/internal/models"
)

// ReplaceHourly atomically replaces one hourly aggregate row.
func (s *Store) ReplaceHourly(agg models.HourlyAggregate) error {
	_, err := s.execRetry(`
		INSERT OR REPLACE INTO hourly_aggregates
			(sensor_id, bucket_start, sample_count, mean, std_dev, min_value, max_value, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, agg.SensorID, agg.BucketStart.UTC().UnixMilli(), agg.Count, agg.Mean, agg.StdDev, agg.Min, agg.Max, agg.UpdatedAt.UTC().UnixMilli())
	if err != nil {
		return verrors.WrapBackend("timestore.ReplaceHourly", fmt.Errorf("failed to write hourly aggregate: %w", err))
	}
	return nil
}

// ReplaceDaily atomically replaces one daily aggregate row.
func (s *Store) ReplaceDaily(agg models.DailyAggregate) error {
	_, err := s.execRetry(`
		INSERT OR REPLACE INTO daily_aggregates
			(sensor_id, bucket_start, sample_count, mean, std_dev, min_value, max_value, min_at, max_at, hours_over_threshold, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, agg.SensorID, agg.BucketStart.UTC().UnixMilli(), agg.Count, agg.Mean, agg.StdDev, agg.Min, agg.Max,
		agg.MinAt.UTC().UnixMilli(), agg.MaxAt.UTC().UnixMilli(), agg.HoursOverThreshold, agg.UpdatedAt.UTC().UnixMilli())
	if err != nil {
		return verrors.WrapBackend("timestore.ReplaceDaily", fmt.Errorf("failed to write daily aggregate: %w", err))
	}
	return nil
}

// DeleteHourly removes one hourly aggregate row, used when a recompute
// finds the bucket empty.
func (s *Store) DeleteHourly(sensorID int64, bucketStart time.Time) error {
	_, err := s.execRetry(`DELETE FROM hourly_aggregates WHERE sensor_id = ? AND bucket_start = ?`,
		sensorID, bucketStart.UTC().UnixMilli())
	return err
}

// DeleteDaily removes one daily aggregate row.
func (s *Store) DeleteDaily(sensorID int64, bucketStart time.Time) error {
	_, err := s.execRetry(`DELETE FROM daily_aggregates WHERE sensor_id = ? AND bucket_start = ?`,
		sensorID, bucketStart.UTC().UnixMilli())
	return err
}

// QueryHourly returns persisted hourly aggregates for a sensor ordered by
// bucket start.
func (s *Store) QueryHourly(ctx context.Context, sensorID int64, from, to time.Time) ([]models.HourlyAggregate, error) {
	const op = "timestore.QueryHourly"

	rows, err := s.queryRetry(ctx, `
		SELECT sensor_id, bucket_start, sample_count, mean, std_dev, min_value, max_value, updated_at
		FROM hourly_aggregates
		WHERE sensor_id = ? AND bucket_start >= ? AND bucket_start < ?
		ORDER BY bucket_start ASC
	`, sensorID, from.UTC().UnixMilli(), to.UTC().UnixMilli())
	if err != nil {
		return nil, verrors.WrapBackend(op, fmt.Errorf("failed to query hourly aggregates: %w", err))
	}
	defer rows.Close()

	var out []models.HourlyAggregate
	for rows.Next() {
		var agg models.HourlyAggregate
		var bucket, updated int64
		if err := rows.Scan(&agg.SensorID, &bucket, &agg.Count, &agg.Mean, &agg.StdDev, &agg.Min, &agg.Max, &updated); err != nil {
			return nil, verrors.WrapBackend(op, err)
		}
		agg.BucketStart = time.UnixMilli(bucket).UTC()
		agg.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, agg)
	}
	return out, rows.Err()
}

// QueryDaily returns persisted daily aggregates for a sensor ordered by
// bucket start.
func (s *Store) QueryDaily(ctx context.Context, sensorID int64, from, to time.Time) ([]models.DailyAggregate, error) {
	const op = "timestore.QueryDaily"

	rows, err := s.queryRetry(ctx, `
		SELECT sensor_id, bucket_start, sample_count, mean, std_dev, min_value, max_value, min_at, max_at, hours_over_threshold, updated_at
		FROM daily_aggregates
		WHERE sensor_id = ? AND bucket_start >= ? AND bucket_start < ?
		ORDER BY bucket_start ASC
	`, sensorID, from.UTC().UnixMilli(), to.UTC().UnixMilli())
	if err != nil {
		return nil, verrors.WrapBackend(op, fmt.Errorf("failed to query daily aggregates: %w", err))
	}
	defer rows.Close()

	var out []models.DailyAggregate
	for rows.Next() {
		var agg models.DailyAggregate
		var bucket, minAt, maxAt, updated int64
		if err := rows.Scan(&agg.SensorID, &bucket, &agg.Count, &agg.Mean, &agg.StdDev, &agg.Min, &agg.Max, &minAt, &maxAt, &agg.HoursOverThreshold, &updated); err != nil {
			return nil, verrors.WrapBackend(op, err)
		}
		agg.BucketStart = time.UnixMilli(bucket).UTC()
		agg.MinAt = time.UnixMilli(minAt).UTC()
		agg.MaxAt = time.UnixMilli(maxAt).UTC()
		agg.UpdatedAt = time.UnixMilli(updated).UTC()
		out = append(out, agg)
	}
	return out, rows.Err()
}
