// Package timestore provides persistent storage for sensor observations
// using SQLite for durability across restarts. Rows are partitioned into
// fixed-width time chunks so range queries and retention work on whole
// partitions.
package timestore

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	verrors "github.com/vigiaops/vigia-go/internal/errors"
	"github.com/vigiaops/vigia-go/internal/models"
)

// SensorCatalog resolves sensor metadata for append validation. The state
// store provides the production implementation.
type SensorCatalog interface {
	SensorByID(id int64) (models.Sensor, bool)
}

// Config holds configuration for the observation store.
type Config struct {
	DBPath          string
	ChunkInterval   time.Duration // width of one time partition
	LatenessHorizon time.Duration // older than this marks the row late
	ClosureHorizon  time.Duration // older than this rejects the append
	WriteBufferSize int           // rows buffered before a batch write
	FlushInterval   time.Duration // max time between flushes
}

// DefaultConfig returns sensible defaults for observation storage.
func DefaultConfig(dataDir string) Config {
	return Config{
		DBPath:          filepath.Join(dataDir, "observations.db"),
		ChunkInterval:   7 * 24 * time.Hour,
		LatenessHorizon: 24 * time.Hour,
		ClosureHorizon:  30 * 24 * time.Hour,
		WriteBufferSize: 256,
		FlushInterval:   2 * time.Second,
	}
}

// AppendResult reports what an accepted append recorded.
type AppendResult struct {
	Seq      int64          // insertion sequence, strictly increasing
	Assigned time.Time      // timestamp stored for the observation
	Late     bool           // arrived past the lateness horizon
	Quality  models.Quality // quality actually recorded
}

// bufferedObservation holds a row waiting to be written.
type bufferedObservation struct {
	seq        int64
	chunkStart int64
	sensorID   int64
	kind       string
	ts         int64 // unix ms
	value      float64
	unit       string
	quality    string
	late       bool
	telemetry  *models.Telemetry
}

type writeReq struct {
	batch []bufferedObservation
	done  chan struct{} // non-nil requests a drain barrier
}

// Store provides persistent observation storage.
type Store struct {
	db      *sql.DB
	config  Config
	catalog SensorCatalog

	bufferMu sync.Mutex
	buffer   []bufferedObservation
	seq      int64 // guarded by bufferMu

	writeCh  chan writeReq
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	closed   atomic.Bool
}

// NewStore opens the observation database and starts the write worker.
func NewStore(config Config, catalog SensorCatalog) (*Store, error) {
	dir := filepath.Dir(config.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create observations directory: %w", err)
	}

	// Pragmas in the DSN so every pool connection is configured
	dsn := config.DBPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open observations database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{
		db:      db,
		config:  config,
		catalog: catalog,
		buffer:  make([]bufferedObservation, 0, config.WriteBufferSize),
		writeCh: make(chan writeReq, 100),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := store.loadSeq(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load sequence counter: %w", err)
	}

	go store.backgroundWorker()

	log.Info().
		Str("path", config.DBPath).
		Dur("chunkInterval", config.ChunkInterval).
		Int("bufferSize", config.WriteBufferSize).
		Msg("Observation store initialized")

	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS observations (
			seq INTEGER PRIMARY KEY,
			chunk_start INTEGER NOT NULL,
			sensor_id INTEGER NOT NULL,
			kind TEXT NOT NULL,
			ts INTEGER NOT NULL,
			value REAL NOT NULL,
			unit TEXT NOT NULL DEFAULT '',
			quality TEXT NOT NULL DEFAULT 'good',
			late INTEGER NOT NULL DEFAULT 0,
			battery REAL,
			signal REAL,
			ambient_temp REAL,
			humidity REAL
		);

		-- Index for range and latest queries
		CREATE INDEX IF NOT EXISTS idx_observations_sensor_ts
		ON observations(sensor_id, ts DESC, seq);

		CREATE INDEX IF NOT EXISTS idx_observations_kind_ts
		ON observations(kind, ts);

		-- Index for chunk pruning and retention
		CREATE INDEX IF NOT EXISTS idx_observations_chunk
		ON observations(chunk_start);

		-- Partition registry
		CREATE TABLE IF NOT EXISTS chunks (
			chunk_start INTEGER PRIMARY KEY,
			row_count INTEGER NOT NULL DEFAULT 0,
			min_ts INTEGER,
			max_ts INTEGER
		);

		CREATE TABLE IF NOT EXISTS hourly_aggregates (
			sensor_id INTEGER NOT NULL,
			bucket_start INTEGER NOT NULL,
			sample_count INTEGER NOT NULL,
			mean REAL NOT NULL,
			std_dev REAL NOT NULL,
			min_value REAL NOT NULL,
			max_value REAL NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (sensor_id, bucket_start)
		);

		CREATE TABLE IF NOT EXISTS daily_aggregates (
			sensor_id INTEGER NOT NULL,
			bucket_start INTEGER NOT NULL,
			sample_count INTEGER NOT NULL,
			mean REAL NOT NULL,
			std_dev REAL NOT NULL,
			min_value REAL NOT NULL,
			max_value REAL NOT NULL,
			min_at INTEGER NOT NULL,
			max_at INTEGER NOT NULL,
			hours_over_threshold INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (sensor_id, bucket_start)
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	log.Debug().Msg("Observation schema initialized")
	return nil
}

func (s *Store) loadSeq() error {
	var max sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(seq) FROM observations`).Scan(&max); err != nil {
		return err
	}
	if max.Valid {
		s.seq = max.Int64
	}
	return nil
}

func (s *Store) chunkFor(tsMillis int64) int64 {
	width := s.config.ChunkInterval.Milliseconds()
	if width <= 0 {
		width = (7 * 24 * time.Hour).Milliseconds()
	}
	return (tsMillis / width) * width
}

// Append validates an observation against the sensor catalog and the
// lateness horizons, assigns its sequence number and buffers it for
// write. Rows older than the closure horizon are rejected so closed
// partitions stay immutable.
func (s *Store) Append(ctx context.Context, obs models.Observation) (AppendResult, error) {
	const op = "timestore.Append"

	if err := ctx.Err(); err != nil {
		return AppendResult{}, verrors.WrapBackend(op, err)
	}
	if s.closed.Load() {
		return AppendResult{}, verrors.WrapBackend(op, fmt.Errorf("store is closed"))
	}

	sensor, ok := s.catalog.SensorByID(obs.SensorID)
	if !ok {
		return AppendResult{}, verrors.UnknownSensor(op, obs.SensorID)
	}

	now := time.Now().UTC()
	ts := obs.Timestamp
	if ts.IsZero() {
		ts = now
	}
	ts = ts.UTC()

	age := now.Sub(ts)
	if age > s.config.ClosureHorizon {
		return AppendResult{}, verrors.New(verrors.KindStaleAppend, op,
			fmt.Errorf("timestamp %s is %s old, partition is closed", ts.Format(time.RFC3339), age.Round(time.Minute))).
			WithSensor(obs.SensorID)
	}
	late := age > s.config.LatenessHorizon

	quality := obs.Quality
	if quality == "" {
		quality = models.QualityGood
	}
	if !sensor.InRange(obs.Value) {
		if sensor.Strict {
			return AppendResult{}, verrors.New(verrors.KindOutOfRange, op,
				fmt.Errorf("value %.3f outside [%.3f, %.3f]", obs.Value, sensor.MinValue, sensor.MaxValue)).
				WithSensor(obs.SensorID)
		}
		quality = models.QualitySuspect
	}

	kind := string(obs.Kind)
	if kind == "" {
		kind = string(sensor.Kind)
	}
	unit := obs.Unit
	if unit == "" {
		unit = sensor.Unit
	}

	tsMillis := ts.UnixMilli()
	row := bufferedObservation{
		chunkStart: s.chunkFor(tsMillis),
		sensorID:   obs.SensorID,
		kind:       kind,
		ts:         tsMillis,
		value:      obs.Value,
		unit:       unit,
		quality:    string(quality),
		late:       late,
		telemetry:  obs.Telemetry,
	}

	s.bufferMu.Lock()
	s.seq++
	row.seq = s.seq
	s.buffer = append(s.buffer, row)
	if len(s.buffer) >= s.config.WriteBufferSize {
		s.flushLocked()
	}
	s.bufferMu.Unlock()

	return AppendResult{
		Seq:      row.seq,
		Assigned: ts,
		Late:     late,
		Quality:  quality,
	}, nil
}

// flushLocked hands the buffer to the write worker (caller holds bufferMu).
func (s *Store) flushLocked() {
	if len(s.buffer) == 0 {
		return
	}

	toWrite := make([]bufferedObservation, len(s.buffer))
	copy(toWrite, s.buffer)
	s.buffer = s.buffer[:0]

	select {
	case s.writeCh <- writeReq{batch: toWrite}:
	default:
		// Write channel saturated: write inline rather than drop rows.
		s.writeBatch(toWrite)
	}
}

// Flush writes all buffered rows and waits until every batch queued
// before the call is committed.
func (s *Store) Flush() {
	s.bufferMu.Lock()
	var toWrite []bufferedObservation
	if len(s.buffer) > 0 {
		toWrite = make([]bufferedObservation, len(s.buffer))
		copy(toWrite, s.buffer)
		s.buffer = s.buffer[:0]
	}
	s.bufferMu.Unlock()

	done := make(chan struct{})
	select {
	case s.writeCh <- writeReq{batch: toWrite, done: done}:
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			log.Warn().Msg("Observation flush barrier timed out")
		}
	case <-s.stopCh:
		s.writeBatch(toWrite)
	}
}

// writeBatch commits a batch of rows and updates the chunk registry.
func (s *Store) writeBatch(batch []bufferedObservation) {
	if len(batch) == 0 {
		return
	}

	var tx *sql.Tx
	var err error

	// Retry on SQLITE_BUSY with backoff
	for i := 0; i < 5; i++ {
		tx, err = s.db.Begin()
		if err == nil {
			break
		}
		if i < 4 && isBusyError(err) {
			time.Sleep(time.Duration(100*(i+1)) * time.Millisecond)
			continue
		}
		log.Error().Err(err).Msg("Failed to begin observation transaction")
		return
	}

	stmt, err := tx.Prepare(`
		INSERT INTO observations (seq, chunk_start, sensor_id, kind, ts, value, unit, quality, late, battery, signal, ambient_temp, humidity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		log.Error().Err(err).Msg("Failed to prepare observation insert")
		return
	}
	defer stmt.Close()

	chunkStmt, err := tx.Prepare(`
		INSERT INTO chunks (chunk_start, row_count, min_ts, max_ts)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(chunk_start) DO UPDATE SET
			row_count = row_count + 1,
			min_ts = MIN(min_ts, excluded.min_ts),
			max_ts = MAX(max_ts, excluded.max_ts)
	`)
	if err != nil {
		tx.Rollback()
		log.Error().Err(err).Msg("Failed to prepare chunk upsert")
		return
	}
	defer chunkStmt.Close()

	for _, row := range batch {
		var battery, signal, ambient, humidity interface{}
		if t := row.telemetry; t != nil {
			if t.BatteryLevel != nil {
				battery = *t.BatteryLevel
			}
			if t.SignalStrength != nil {
				signal = *t.SignalStrength
			}
			if t.AmbientTemp != nil {
				ambient = *t.AmbientTemp
			}
			if t.Humidity != nil {
				humidity = *t.Humidity
			}
		}
		if _, err := stmt.Exec(row.seq, row.chunkStart, row.sensorID, row.kind, row.ts, row.value, row.unit, row.quality, row.late, battery, signal, ambient, humidity); err != nil {
			log.Warn().Err(err).
				Int64("sensorId", row.sensorID).
				Int64("seq", row.seq).
				Msg("Failed to insert observation")
			continue
		}
		if _, err := chunkStmt.Exec(row.chunkStart, row.ts, row.ts); err != nil {
			log.Warn().Err(err).Int64("chunkStart", row.chunkStart).Msg("Failed to update chunk registry")
		}
	}

	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Msg("Failed to commit observation batch")
		return
	}

	log.Debug().Int("count", len(batch)).Msg("Wrote observation batch")
}

func (s *Store) backgroundWorker() {
	defer close(s.doneCh)

	flushTicker := time.NewTicker(s.config.FlushInterval)
	defer flushTicker.Stop()

	for {
		select {
		case <-s.stopCh:
			// Drain queued batches, then the buffer
			for {
				select {
				case req := <-s.writeCh:
					s.writeBatch(req.batch)
					if req.done != nil {
						close(req.done)
					}
				default:
					s.bufferMu.Lock()
					rest := make([]bufferedObservation, len(s.buffer))
					copy(rest, s.buffer)
					s.buffer = s.buffer[:0]
					s.bufferMu.Unlock()
					s.writeBatch(rest)
					return
				}
			}

		case req := <-s.writeCh:
			s.writeBatch(req.batch)
			if req.done != nil {
				close(req.done)
			}

		case <-flushTicker.C:
			s.bufferMu.Lock()
			s.flushLocked()
			s.bufferMu.Unlock()
		}
	}
}

// DropChunksBefore removes whole partitions older than cutoff and returns
// the number of observations deleted.
func (s *Store) DropChunksBefore(cutoff time.Time) (int64, error) {
	boundary := s.chunkFor(cutoff.UTC().UnixMilli())

	result, err := s.execRetry(`DELETE FROM observations WHERE chunk_start < ?`, boundary)
	if err != nil {
		return 0, fmt.Errorf("failed to drop observation chunks: %w", err)
	}
	deleted, _ := result.RowsAffected()

	if _, err := s.execRetry(`DELETE FROM chunks WHERE chunk_start < ?`, boundary); err != nil {
		log.Warn().Err(err).Msg("Failed to prune chunk registry")
	}

	if deleted > 0 {
		log.Info().
			Int64("deleted", deleted).
			Time("cutoff", cutoff).
			Msg("Observation retention cleanup completed")
	}
	return deleted, nil
}

// Stats holds observation store statistics.
type Stats struct {
	DBSize       int64 `json:"dbSize"`
	Observations int64 `json:"observations"`
	Chunks       int64 `json:"chunks"`
	OldestMs     int64 `json:"oldestMs"`
	NewestMs     int64 `json:"newestMs"`
	BufferLen    int   `json:"bufferLen"`
}

// GetStats returns storage statistics.
func (s *Store) GetStats() Stats {
	stats := Stats{}

	var oldest, newest sql.NullInt64
	row := s.db.QueryRow(`SELECT COUNT(*), MIN(ts), MAX(ts) FROM observations`)
	if err := row.Scan(&stats.Observations, &oldest, &newest); err == nil {
		stats.OldestMs = oldest.Int64
		stats.NewestMs = newest.Int64
	}
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM chunks`).Scan(&stats.Chunks)

	if fi, err := os.Stat(s.config.DBPath); err == nil {
		stats.DBSize = fi.Size()
	}

	s.bufferMu.Lock()
	stats.BufferLen = len(s.buffer)
	s.bufferMu.Unlock()

	return stats
}

// Close flushes pending writes and shuts the store down.
func (s *Store) Close() error {
	s.closed.Store(true)
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})

	select {
	case <-s.doneCh:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Observation store shutdown timed out")
	}

	return s.db.Close()
}

func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || msg == "sql: database is closed"
}

func (s *Store) execRetry(query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	var err error
	for i := 0; i < 5; i++ {
		result, err = s.db.Exec(query, args...)
		if err == nil {
			return result, nil
		}
		if i < 4 && isBusyError(err) {
			time.Sleep(time.Duration(100*(i+1)) * time.Millisecond)
			continue
		}
		break
	}
	return nil, err
}

func (s *Store) queryRetry(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	var err error
	for i := 0; i < 5; i++ {
		rows, err = s.db.QueryContext(ctx, query, args...)
		if err == nil {
			return rows, nil
		}
		if i < 4 && isBusyError(err) {
			time.Sleep(time.Duration(100*(i+1)) * time.Millisecond)
			continue
		}
		break
	}
	return nil, err
}
