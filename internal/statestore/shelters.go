package statestore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	verrors "github.com/vigiaops/vigia-go/internal/errors"
	"github.com/vigiaops/vigia-go/internal/models"
)

const shelterColumns = `id, name, kind, status, capacity_max, capacity_current, version, services, contact, thresholds, lat, lon, created_at, updated_at`

// UpsertShelter inserts or replaces a shelter and refreshes the spatial
// index. New shelters start at version 1.
func (s *Store) UpsertShelter(shelter models.Shelter) (models.Shelter, error) {
	const op = "statestore.UpsertShelter"

	if shelter.ID <= 0 {
		return models.Shelter{}, verrors.New(verrors.KindValidation, op, fmt.Errorf("shelter id must be positive"))
	}
	if shelter.CapacityMax <= 0 {
		return models.Shelter{}, verrors.New(verrors.KindValidation, op, fmt.Errorf("shelter capacity must be positive"))
	}
	if shelter.CapacityCurrent < 0 || shelter.CapacityCurrent > shelter.CapacityMax {
		return models.Shelter{}, verrors.New(verrors.KindValidation, op,
			fmt.Errorf("current occupancy %d outside [0, %d]", shelter.CapacityCurrent, shelter.CapacityMax))
	}
	if shelter.Status == "" {
		shelter.Status = models.ShelterAvailable
	}
	if shelter.Thresholds == (models.ShelterThresholds{}) {
		shelter.Thresholds = models.DefaultShelterThresholds()
	}
	if shelter.Version <= 0 {
		shelter.Version = 1
	}

	now := time.Now().UTC()
	if shelter.CreatedAt.IsZero() {
		shelter.CreatedAt = now
	}
	shelter.UpdatedAt = now

	services, _ := json.Marshal(shelter.Services)
	thresholds, _ := json.Marshal(shelter.Thresholds)
	_, err := s.execRetry(`
		INSERT OR REPLACE INTO shelters (`+shelterColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, shelter.ID, shelter.Name, shelter.Kind, string(shelter.Status),
		shelter.CapacityMax, shelter.CapacityCurrent, shelter.Version,
		string(services), shelter.Contact, string(thresholds),
		shelter.Location.Lat, shelter.Location.Lon,
		shelter.CreatedAt.UnixMilli(), shelter.UpdatedAt.UnixMilli())
	if err != nil {
		return models.Shelter{}, verrors.WrapBackend(op, fmt.Errorf("failed to upsert shelter: %w", err))
	}

	if err := s.rebuildShelterIndex(); err != nil {
		return models.Shelter{}, err
	}
	return shelter, nil
}

// GetShelter reads one shelter from storage.
func (s *Store) GetShelter(id int64) (models.Shelter, error) {
	const op = "statestore.GetShelter"

	row := s.db.QueryRow(`SELECT `+shelterColumns+` FROM shelters WHERE id = ?`, id)
	shelter, err := scanShelter(row)
	if err == sql.ErrNoRows {
		return models.Shelter{}, verrors.UnknownShelter(op, id)
	}
	if err != nil {
		return models.Shelter{}, verrors.WrapBackend(op, err)
	}
	return shelter, nil
}

// ListShelters returns all shelters ordered by ID.
func (s *Store) ListShelters() ([]models.Shelter, error) {
	const op = "statestore.ListShelters"

	rows, err := s.db.Query(`SELECT ` + shelterColumns + ` FROM shelters ORDER BY id`)
	if err != nil {
		return nil, verrors.WrapBackend(op, fmt.Errorf("failed to list shelters: %w", err))
	}
	defer rows.Close()

	var out []models.Shelter
	for rows.Next() {
		shelter, err := scanShelter(rows)
		if err != nil {
			return nil, verrors.WrapBackend(op, err)
		}
		out = append(out, shelter)
	}
	return out, rows.Err()
}

// UpdateShelterCapacity applies an occupancy update guarded by the
// shelter version. A stale version reports a conflict so the caller can
// re-read and retry. Status flips to full when occupancy reaches the
// maximum and back to available when it drops below.
func (s *Store) UpdateShelterCapacity(id int64, occupancy int, version int64) (models.Shelter, error) {
	const op = "statestore.UpdateShelterCapacity"

	if occupancy < 0 {
		return models.Shelter{}, verrors.New(verrors.KindValidation, op, fmt.Errorf("occupancy must not be negative"))
	}

	now := time.Now().UTC().UnixMilli()
	result, err := s.execRetry(`
		UPDATE shelters
		SET capacity_current = ?,
			version = version + 1,
			status = CASE
				WHEN ? >= capacity_max AND status = 'available' THEN 'full'
				WHEN ? < capacity_max AND status = 'full' THEN 'available'
				ELSE status
			END,
			updated_at = ?
		WHERE id = ? AND version = ? AND ? <= capacity_max
	`, occupancy, occupancy, occupancy, now, id, version, occupancy)
	if err != nil {
		return models.Shelter{}, verrors.WrapBackend(op, fmt.Errorf("failed to update capacity: %w", err))
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		shelter, err := s.GetShelter(id)
		if err != nil {
			return models.Shelter{}, err
		}
		if occupancy > shelter.CapacityMax {
			return models.Shelter{}, verrors.New(verrors.KindValidation, op,
				fmt.Errorf("occupancy %d exceeds capacity %d", occupancy, shelter.CapacityMax)).WithShelter(id)
		}
		return models.Shelter{}, verrors.New(verrors.KindConflict, op,
			fmt.Errorf("version %d is stale, current is %d", version, shelter.Version)).WithShelter(id)
	}

	shelter, err := s.GetShelter(id)
	if err != nil {
		return models.Shelter{}, err
	}
	if err := s.rebuildShelterIndex(); err != nil {
		return models.Shelter{}, err
	}
	return shelter, nil
}

func scanShelter(row rowScanner) (models.Shelter, error) {
	var shelter models.Shelter
	var status, services, thresholds string
	var created, updated int64

	err := row.Scan(&shelter.ID, &shelter.Name, &shelter.Kind, &status,
		&shelter.CapacityMax, &shelter.CapacityCurrent, &shelter.Version,
		&services, &shelter.Contact, &thresholds,
		&shelter.Location.Lat, &shelter.Location.Lon, &created, &updated)
	if err != nil {
		return models.Shelter{}, err
	}
	shelter.Status = models.ShelterStatus(status)
	shelter.CreatedAt = time.UnixMilli(created).UTC()
	shelter.UpdatedAt = time.UnixMilli(updated).UTC()
	if services != "" && services != "null" {
		_ = json.Unmarshal([]byte(services), &shelter.Services)
	}
	if thresholds != "" && thresholds != "null" {
		_ = json.Unmarshal([]byte(thresholds), &shelter.Thresholds)
	}
	return shelter, nil
}
