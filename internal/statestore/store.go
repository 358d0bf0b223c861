// Package statestore persists the platform's registry state: sensors,
// shelters, alerts and the road network. It owns the sensor cache used to
// validate appends and keeps the spatial index and road graph in sync
// with entity changes.
package statestore

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/vigiaops/vigia-go/internal/models"
	"github.com/vigiaops/vigia-go/pkg/geoindex"
	"github.com/vigiaops/vigia-go/pkg/roadgraph"
)

// Store provides persistent registry storage backed by SQLite.
type Store struct {
	db *sql.DB

	mu      sync.RWMutex
	sensors map[int64]models.Sensor

	geo   *geoindex.Index
	roads *roadgraph.Graph
}

// New opens the state database, loads the sensor cache and hydrates the
// spatial index and road graph. geo and roads may be nil in tests.
func New(dbPath string, geo *geoindex.Index, roads *roadgraph.Graph) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:      db,
		sensors: make(map[int64]models.Sensor),
		geo:     geo,
		roads:   roads,
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize state schema: %w", err)
	}
	if err := s.loadCaches(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load state caches: %w", err)
	}

	log.Info().
		Str("path", dbPath).
		Int("sensors", len(s.sensors)).
		Msg("State store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sensors (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			unit TEXT NOT NULL DEFAULT '',
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			precision REAL NOT NULL DEFAULT 0,
			min_value REAL NOT NULL DEFAULT 0,
			max_value REAL NOT NULL DEFAULT 0,
			sample_period INTEGER NOT NULL DEFAULT 0,
			strict INTEGER NOT NULL DEFAULT 0,
			manufacturer TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS shelters (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'available',
			capacity_max INTEGER NOT NULL,
			capacity_current INTEGER NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1,
			services TEXT,
			contact TEXT NOT NULL DEFAULT '',
			thresholds TEXT,
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			sensor_id INTEGER NOT NULL,
			sensor_name TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL DEFAULT '',
			rule TEXT NOT NULL,
			severity TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT 'active',
			value REAL NOT NULL DEFAULT 0,
			threshold REAL NOT NULL DEFAULT 0,
			duration_minutes REAL NOT NULL DEFAULT 0,
			shelter_id INTEGER,
			shelter_name TEXT NOT NULL DEFAULT '',
			shelter_pending INTEGER NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			actions TEXT,
			detected_at INTEGER NOT NULL,
			acknowledged_at INTEGER,
			acknowledged_by TEXT NOT NULL DEFAULT '',
			resolved_at INTEGER,
			resolved_by TEXT NOT NULL DEFAULT '',
			sms_sent INTEGER NOT NULL DEFAULT 0,
			email_sent INTEGER NOT NULL DEFAULT 0,
			shelter_notified INTEGER NOT NULL DEFAULT 0,
			failure_reason TEXT NOT NULL DEFAULT ''
		);

		-- One live alert per sensor and rule
		CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_active_dedup
		ON alerts(sensor_id, rule) WHERE state = 'active';

		CREATE INDEX IF NOT EXISTS idx_alerts_state
		ON alerts(state, detected_at);

		CREATE TABLE IF NOT EXISTS road_nodes (
			id INTEGER PRIMARY KEY,
			lat REAL NOT NULL,
			lon REAL NOT NULL
		);

		CREATE TABLE IF NOT EXISTS road_edges (
			id INTEGER PRIMARY KEY,
			source INTEGER NOT NULL,
			target INTEGER NOT NULL,
			cost REAL NOT NULL,
			reverse_cost REAL,
			geometry TEXT,
			surface TEXT NOT NULL DEFAULT '',
			modes TEXT
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *Store) loadCaches() error {
	sensors, err := s.ListSensors()
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, sensor := range sensors {
		s.sensors[sensor.ID] = sensor
	}
	s.mu.Unlock()

	s.rebuildSensorIndex()
	if err := s.rebuildShelterIndex(); err != nil {
		return err
	}
	return s.rebuildRoadGraph()
}

// SensorByID resolves a sensor from the in-memory cache.
func (s *Store) SensorByID(id int64) (models.Sensor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sensor, ok := s.sensors[id]
	return sensor, ok
}

func (s *Store) rebuildSensorIndex() {
	if s.geo == nil {
		return
	}
	s.mu.RLock()
	entries := make([]geoindex.Entry, 0, len(s.sensors))
	for _, sensor := range s.sensors {
		entries = append(entries, geoindex.Entry{
			Kind:         geoindex.KindSensor,
			ID:           sensor.ID,
			Name:         sensor.Name,
			Location:     sensor.Location,
			SensorKind:   sensor.Kind,
			SensorStatus: sensor.Status,
		})
	}
	s.mu.RUnlock()
	s.geo.Replace(geoindex.KindSensor, entries)
}

func (s *Store) rebuildShelterIndex() error {
	if s.geo == nil {
		return nil
	}
	shelters, err := s.ListShelters()
	if err != nil {
		return err
	}
	entries := make([]geoindex.Entry, 0, len(shelters))
	for _, sh := range shelters {
		entries = append(entries, geoindex.Entry{
			Kind:            geoindex.KindShelter,
			ID:              sh.ID,
			Name:            sh.Name,
			Location:        sh.Location,
			ShelterStatus:   sh.Status,
			CapacityMax:     sh.CapacityMax,
			CapacityCurrent: sh.CapacityCurrent,
			Services:        sh.Services,
		})
	}
	s.geo.Replace(geoindex.KindShelter, entries)
	return nil
}

func (s *Store) rebuildRoadGraph() error {
	if s.roads == nil {
		return nil
	}
	nodes, edges, err := s.RoadNetwork()
	if err != nil {
		return err
	}
	s.roads.Load(nodes, edges)
	return nil
}

// Close shuts the database down.
func (s *Store) Close() error {
	return s.db.Close()
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || msg == "sql: database is closed"
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Store) execRetry(query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result
	var err error
	for i := 0; i < 5; i++ {
		result, err = s.db.Exec(query, args...)
		if err == nil {
			return result, nil
		}
		if i < 4 && isBusy(err) {
			time.Sleep(time.Duration(100*(i+1)) * time.Millisecond)
			continue
		}
		break
	}
	return nil, err
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
