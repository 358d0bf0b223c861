// Package evacuation computes sensor-to-shelter routes over the road
// network and renders them as GeoJSON for the map layer.
package evacuation

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	verrors "github.com/vigiaops/vigia-go/internal/errors"
	"github.com/vigiaops/vigia-go/internal/models"
	"github.com/vigiaops/vigia-go/pkg/roadgraph"
)

// Registry resolves route endpoints.
type Registry interface {
	SensorByID(id int64) (models.Sensor, bool)
	GetShelter(id int64) (models.Shelter, error)
}

// Planner builds evacuation routes from an alerting sensor to a shelter.
type Planner struct {
	registry Registry
	graph    *roadgraph.Graph
}

func NewPlanner(registry Registry, graph *roadgraph.Graph) *Planner {
	return &Planner{registry: registry, graph: graph}
}

// Plan snaps both endpoints to the road network and runs shortest path
// between them. Estimated time equals the summed edge cost until a speed
// model exists.
func (p *Planner) Plan(ctx context.Context, sensorID, shelterID int64) (*models.Route, error) {
	const op = "evacuation.Plan"

	if err := ctx.Err(); err != nil {
		return nil, verrors.WrapBackend(op, err)
	}

	sensor, ok := p.registry.SensorByID(sensorID)
	if !ok {
		return nil, verrors.New(verrors.KindUnknownEndpoint, op,
			fmt.Errorf("sensor %d is not registered", sensorID)).WithSensor(sensorID)
	}
	shelter, err := p.registry.GetShelter(shelterID)
	if err != nil {
		if errors.Is(err, verrors.ErrUnknownShelter) {
			return nil, verrors.New(verrors.KindUnknownEndpoint, op,
				fmt.Errorf("shelter %d is not registered", shelterID)).WithShelter(shelterID)
		}
		return nil, err
	}

	fromNode, fromDist, err := p.graph.Snap(sensor.Location)
	if err != nil {
		return nil, err
	}
	toNode, toDist, err := p.graph.Snap(shelter.Location)
	if err != nil {
		return nil, err
	}

	steps, cost, err := p.graph.ShortestPath(fromNode, toNode)
	if err != nil {
		return nil, err
	}

	route := &models.Route{
		SensorID:         sensorID,
		ShelterID:        shelterID,
		FromNode:         fromNode,
		ToNode:           toNode,
		SnapFromMeters:   fromDist,
		SnapToMeters:     toDist,
		Steps:            steps,
		TotalCostMinutes: cost,
		EstimatedMinutes: cost,
	}
	route.GeoJSON = featureCollection(route)

	log.Debug().
		Int64("sensorID", sensorID).
		Int64("shelterID", shelterID).
		Int("steps", len(steps)).
		Float64("minutes", cost).
		Msg("Evacuation route planned")
	return route, nil
}

// FeatureCollection is the GeoJSON rendering of a route: one LineString
// feature per step, ordered by sequence.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

type Feature struct {
	Type       string                 `json:"type"`
	Geometry   Geometry               `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
}

type Geometry struct {
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`
}

func featureCollection(route *models.Route) FeatureCollection {
	fc := FeatureCollection{
		Type:     "FeatureCollection",
		Features: make([]Feature, 0, len(route.Steps)),
	}
	for _, step := range route.Steps {
		coords := make([][]float64, 0, len(step.Geometry))
		for _, pt := range step.Geometry {
			// GeoJSON positions are [lon, lat].
			coords = append(coords, []float64{pt.Lon, pt.Lat})
		}
		fc.Features = append(fc.Features, Feature{
			Type: "Feature",
			Geometry: Geometry{
				Type:        "LineString",
				Coordinates: coords,
			},
			Properties: map[string]interface{}{
				"seq":         step.Seq,
				"edgeId":      step.EdgeID,
				"costMinutes": step.Cost,
			},
		})
	}
	return fc
}
