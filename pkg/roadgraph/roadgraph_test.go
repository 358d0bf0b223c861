package roadgraph

import (
	"errors"
	"testing"

	verrors "github.com/vigiaops/vigia-go/internal/errors"
	"github.com/vigiaops/vigia-go/internal/models"
)

func revCost(c float64) *float64 { return &c }

func testNodes() []models.RoadNode {
	return []models.RoadNode{
		{ID: 1, Location: models.GeoPoint{Lat: 38.720, Lon: -9.140}},
		{ID: 2, Location: models.GeoPoint{Lat: 38.725, Lon: -9.140}},
		{ID: 3, Location: models.GeoPoint{Lat: 38.730, Lon: -9.140}},
		{ID: 4, Location: models.GeoPoint{Lat: 38.725, Lon: -9.130}},
	}
}

func TestShortestPathSimpleChain(t *testing.T) {
	g := New()
	g.Load(testNodes(), []models.RoadEdge{
		{ID: 1, Source: 1, Target: 2, Cost: 2, ReverseCost: revCost(2)},
		{ID: 2, Source: 2, Target: 3, Cost: 3, ReverseCost: revCost(3)},
	})

	steps, total, err := g.ShortestPath(1, 3)
	if err != nil {
		t.Fatalf("ShortestPath failed: %v", err)
	}
	if total != 5 {
		t.Errorf("total cost = %f, want 5", total)
	}
	if len(steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(steps))
	}
	if steps[0].Seq != 1 || steps[1].Seq != 2 {
		t.Errorf("steps not sequenced from 1: %+v", steps)
	}
	if steps[0].EdgeID != 1 || steps[1].EdgeID != 2 {
		t.Errorf("unexpected edge order: %d, %d", steps[0].EdgeID, steps[1].EdgeID)
	}
}

func TestShortestPathPrefersCheaperDetour(t *testing.T) {
	g := New()
	g.Load(testNodes(), []models.RoadEdge{
		{ID: 1, Source: 1, Target: 3, Cost: 10, ReverseCost: revCost(10)},
		{ID: 2, Source: 1, Target: 2, Cost: 2, ReverseCost: revCost(2)},
		{ID: 3, Source: 2, Target: 3, Cost: 3, ReverseCost: revCost(3)},
	})

	steps, total, err := g.ShortestPath(1, 3)
	if err != nil {
		t.Fatalf("ShortestPath failed: %v", err)
	}
	if total != 5 {
		t.Errorf("total cost = %f, want 5 via detour", total)
	}
	if len(steps) != 2 {
		t.Errorf("got %d steps, want 2", len(steps))
	}
}

func TestShortestPathOneWay(t *testing.T) {
	g := New()
	// Edge 1 is one-way from 1 to 2. Going back requires the loop
	// through 4.
	g.Load(testNodes(), []models.RoadEdge{
		{ID: 1, Source: 1, Target: 2, Cost: 1},
		{ID: 2, Source: 2, Target: 4, Cost: 1, ReverseCost: revCost(1)},
		{ID: 3, Source: 4, Target: 1, Cost: 1, ReverseCost: revCost(1)},
	})

	steps, total, err := g.ShortestPath(2, 1)
	if err != nil {
		t.Fatalf("ShortestPath failed: %v", err)
	}
	if total != 2 || len(steps) != 2 {
		t.Fatalf("one-way detour: total=%f steps=%d, want 2 and 2", total, len(steps))
	}
	if steps[0].EdgeID != 2 || steps[1].EdgeID != 3 {
		t.Errorf("detour edges = %d,%d, want 2,3", steps[0].EdgeID, steps[1].EdgeID)
	}
}

func TestShortestPathNegativeReverseCostDisablesDirection(t *testing.T) {
	g := New()
	g.Load(testNodes(), []models.RoadEdge{
		{ID: 1, Source: 1, Target: 2, Cost: 1, ReverseCost: revCost(-1)},
	})

	if _, _, err := g.ShortestPath(1, 2); err != nil {
		t.Fatalf("forward direction should be open: %v", err)
	}
	_, _, err := g.ShortestPath(2, 1)
	if !errors.Is(err, verrors.ErrNoPath) {
		t.Errorf("reverse direction err = %v, want no-path", err)
	}
}

func TestShortestPathParallelEdgeTieBreak(t *testing.T) {
	g := New()
	g.Load(testNodes(), []models.RoadEdge{
		{ID: 11, Source: 1, Target: 2, Cost: 2, ReverseCost: revCost(2)},
		{ID: 10, Source: 1, Target: 2, Cost: 2, ReverseCost: revCost(2)},
	})

	steps, _, err := g.ShortestPath(1, 2)
	if err != nil {
		t.Fatalf("ShortestPath failed: %v", err)
	}
	if len(steps) != 1 || steps[0].EdgeID != 10 {
		t.Errorf("equal-cost parallel edges should pick lowest ID, got %+v", steps)
	}
}

func TestShortestPathSelfRoute(t *testing.T) {
	g := New()
	g.Load(testNodes(), nil)

	steps, total, err := g.ShortestPath(2, 2)
	if err != nil {
		t.Fatalf("self route failed: %v", err)
	}
	if len(steps) != 0 || total != 0 {
		t.Errorf("self route = %d steps at cost %f, want 0 and 0", len(steps), total)
	}
}

func TestShortestPathUnknownEndpoint(t *testing.T) {
	g := New()
	g.Load(testNodes(), nil)

	_, _, err := g.ShortestPath(1, 99)
	if !errors.Is(err, verrors.ErrUnknownEndpoint) {
		t.Errorf("unknown target err = %v, want unknown-endpoint", err)
	}
	_, _, err = g.ShortestPath(99, 1)
	if !errors.Is(err, verrors.ErrUnknownEndpoint) {
		t.Errorf("unknown source err = %v, want unknown-endpoint", err)
	}
}

func TestShortestPathDisconnected(t *testing.T) {
	g := New()
	g.Load(testNodes(), []models.RoadEdge{
		{ID: 1, Source: 1, Target: 2, Cost: 1, ReverseCost: revCost(1)},
	})

	_, _, err := g.ShortestPath(1, 4)
	if !errors.Is(err, verrors.ErrNoPath) {
		t.Errorf("disconnected err = %v, want no-path", err)
	}
}

func TestReverseTraversalFlipsGeometry(t *testing.T) {
	g := New()
	geom := []models.GeoPoint{
		{Lat: 38.720, Lon: -9.140},
		{Lat: 38.722, Lon: -9.141},
		{Lat: 38.725, Lon: -9.140},
	}
	g.Load(testNodes(), []models.RoadEdge{
		{ID: 1, Source: 1, Target: 2, Cost: 1, ReverseCost: revCost(1), Geometry: geom},
	})

	steps, _, err := g.ShortestPath(2, 1)
	if err != nil {
		t.Fatalf("ShortestPath failed: %v", err)
	}
	if len(steps) != 1 {
		t.Fatalf("got %d steps, want 1", len(steps))
	}
	got := steps[0].Geometry
	if got[0] != geom[2] || got[2] != geom[0] {
		t.Errorf("reverse traversal geometry not flipped: %+v", got)
	}
}

func TestSnap(t *testing.T) {
	g := New()
	g.Load(testNodes(), nil)

	id, dist, err := g.Snap(models.GeoPoint{Lat: 38.7201, Lon: -9.140})
	if err != nil {
		t.Fatalf("Snap failed: %v", err)
	}
	if id != 1 {
		t.Errorf("snapped to node %d, want 1", id)
	}
	if dist <= 0 || dist > 50 {
		t.Errorf("snap distance = %f, want a few meters", dist)
	}
}

func TestSnapEmptyGraph(t *testing.T) {
	g := New()
	_, _, err := g.Snap(models.GeoPoint{Lat: 38.72, Lon: -9.14})
	if !errors.Is(err, verrors.ErrNoPath) {
		t.Errorf("empty graph snap err = %v, want no-path", err)
	}
}

func TestLoadSwapsAtomically(t *testing.T) {
	g := New()
	g.Load(testNodes(), []models.RoadEdge{
		{ID: 1, Source: 1, Target: 2, Cost: 1, ReverseCost: revCost(1)},
	})
	if g.NodeCount() != 4 || g.EdgeCount() != 1 {
		t.Fatalf("counts = %d nodes %d edges, want 4 and 1", g.NodeCount(), g.EdgeCount())
	}

	g.Load(testNodes()[:2], []models.RoadEdge{
		{ID: 9, Source: 1, Target: 2, Cost: 7, ReverseCost: revCost(7)},
	})
	steps, total, err := g.ShortestPath(1, 2)
	if err != nil {
		t.Fatalf("ShortestPath after reload failed: %v", err)
	}
	if total != 7 || steps[0].EdgeID != 9 {
		t.Errorf("reload not visible: total=%f edge=%d", total, steps[0].EdgeID)
	}
}

func TestEdgeReferencingMissingNodeIgnored(t *testing.T) {
	g := New()
	g.Load(testNodes()[:2], []models.RoadEdge{
		{ID: 1, Source: 1, Target: 2, Cost: 1, ReverseCost: revCost(1)},
		{ID: 2, Source: 2, Target: 77, Cost: 1, ReverseCost: revCost(1)},
	})
	if g.EdgeCount() != 1 {
		t.Errorf("edge with unknown endpoint should be dropped, have %d edges", g.EdgeCount())
	}
}

func TestParseLineString(t *testing.T) {
	raw := []byte(`{"type":"LineString","coordinates":[[-9.140,38.720],[-9.141,38.722]]}`)
	points, err := ParseLineString(raw)
	if err != nil {
		t.Fatalf("ParseLineString failed: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("got %d points, want 2", len(points))
	}
	if points[0].Lon != -9.140 || points[0].Lat != 38.720 {
		t.Errorf("coordinate order wrong: %+v", points[0])
	}

	if _, err := ParseLineString([]byte(`{"type":"Point","coordinates":[1,2]}`)); err == nil {
		t.Error("expected error for non-LineString geometry")
	}
	if _, err := ParseLineString([]byte(`{`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}
