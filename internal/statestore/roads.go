package statestore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	verrors "github.com/vigiaops/vigia-go/internal/errors"
	"github.com/vigiaops/vigia-go/internal/models"
	"github.com/vigiaops/vigia-go/pkg/roadgraph"
)

// LoadRoadNetwork replaces the stored road network in one transaction and
// rebuilds the in-memory graph.
func (s *Store) LoadRoadNetwork(nodes []models.RoadNode, edges []models.RoadEdge) error {
	const op = "statestore.LoadRoadNetwork"

	tx, err := s.db.Begin()
	if err != nil {
		return verrors.WrapBackend(op, fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM road_edges`); err != nil {
		return verrors.WrapBackend(op, fmt.Errorf("failed to clear edges: %w", err))
	}
	if _, err := tx.Exec(`DELETE FROM road_nodes`); err != nil {
		return verrors.WrapBackend(op, fmt.Errorf("failed to clear nodes: %w", err))
	}

	nodeStmt, err := tx.Prepare(`INSERT INTO road_nodes (id, lat, lon) VALUES (?, ?, ?)`)
	if err != nil {
		return verrors.WrapBackend(op, err)
	}
	defer nodeStmt.Close()
	for _, n := range nodes {
		if _, err := nodeStmt.Exec(n.ID, n.Location.Lat, n.Location.Lon); err != nil {
			return verrors.WrapBackend(op, fmt.Errorf("failed to insert node %d: %w", n.ID, err))
		}
	}

	edgeStmt, err := tx.Prepare(`
		INSERT INTO road_edges (id, source, target, cost, reverse_cost, geometry, surface, modes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return verrors.WrapBackend(op, err)
	}
	defer edgeStmt.Close()
	for _, e := range edges {
		var reverse interface{}
		if e.ReverseCost != nil {
			reverse = *e.ReverseCost
		}
		modes, _ := json.Marshal(e.Modes)
		if _, err := edgeStmt.Exec(e.ID, e.Source, e.Target, e.Cost, reverse,
			lineStringJSON(e.Geometry), e.Surface, string(modes)); err != nil {
			return verrors.WrapBackend(op, fmt.Errorf("failed to insert edge %d: %w", e.ID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return verrors.WrapBackend(op, fmt.Errorf("failed to commit road network: %w", err))
	}

	return s.rebuildRoadGraph()
}

// RoadNetwork reads the stored road network.
func (s *Store) RoadNetwork() ([]models.RoadNode, []models.RoadEdge, error) {
	const op = "statestore.RoadNetwork"

	nodeRows, err := s.db.Query(`SELECT id, lat, lon FROM road_nodes ORDER BY id`)
	if err != nil {
		return nil, nil, verrors.WrapBackend(op, fmt.Errorf("failed to read nodes: %w", err))
	}
	defer nodeRows.Close()

	var nodes []models.RoadNode
	for nodeRows.Next() {
		var n models.RoadNode
		if err := nodeRows.Scan(&n.ID, &n.Location.Lat, &n.Location.Lon); err != nil {
			return nil, nil, verrors.WrapBackend(op, err)
		}
		nodes = append(nodes, n)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, nil, verrors.WrapBackend(op, err)
	}

	edgeRows, err := s.db.Query(`SELECT id, source, target, cost, reverse_cost, geometry, surface, modes FROM road_edges ORDER BY id`)
	if err != nil {
		return nil, nil, verrors.WrapBackend(op, fmt.Errorf("failed to read edges: %w", err))
	}
	defer edgeRows.Close()

	var edges []models.RoadEdge
	for edgeRows.Next() {
		var e models.RoadEdge
		var reverse sql.NullFloat64
		var geometry, modes sql.NullString
		if err := edgeRows.Scan(&e.ID, &e.Source, &e.Target, &e.Cost, &reverse, &geometry, &e.Surface, &modes); err != nil {
			return nil, nil, verrors.WrapBackend(op, err)
		}
		if reverse.Valid {
			v := reverse.Float64
			e.ReverseCost = &v
		}
		if geometry.Valid && geometry.String != "" {
			points, err := roadgraph.ParseLineString([]byte(geometry.String))
			if err != nil {
				return nil, nil, verrors.New(verrors.KindValidation, op,
					fmt.Errorf("edge %d has invalid geometry: %w", e.ID, err))
			}
			e.Geometry = points
		}
		if modes.Valid && modes.String != "" && modes.String != "null" {
			_ = json.Unmarshal([]byte(modes.String), &e.Modes)
		}
		edges = append(edges, e)
	}
	return nodes, edges, edgeRows.Err()
}

func lineStringJSON(points []models.GeoPoint) interface{} {
	if len(points) == 0 {
		return nil
	}
	coords := make([][2]float64, len(points))
	for i, p := range points {
		coords[i] = [2]float64{p.Lon, p.Lat}
	}
	raw, _ := json.Marshal(map[string]interface{}{
		"type":        "LineString",
		"coordinates": coords,
	})
	return string(raw)
}
