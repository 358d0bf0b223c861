// Package roadgraph holds the routable road network in memory and answers
// snap and shortest-path queries against an immutable snapshot. The graph
// is rebuilt offline on reload and swapped atomically, so route requests
// never observe a half-loaded network.
package roadgraph

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	verrors "github.com/vigiaops/vigia-go/internal/errors"
	"github.com/vigiaops/vigia-go/internal/models"
	"github.com/vigiaops/vigia-go/pkg/geoindex"
)

// arc is one traversable direction of an edge.
type arc struct {
	edgeID  int64
	to      int64
	cost    float64
	reverse bool // true when this arc traverses the edge target to source
}

type graphSnapshot struct {
	nodes   map[int64]models.RoadNode
	nodeIDs []int64 // sorted, for deterministic scans
	edges   map[int64]models.RoadEdge
	adj     map[int64][]arc
}

// Graph is the copy-on-write road network.
type Graph struct {
	mu   sync.Mutex // serializes Load
	snap atomic.Pointer[graphSnapshot]
}

// New returns an empty graph.
func New() *Graph {
	g := &Graph{}
	g.snap.Store(buildGraph(nil, nil))
	return g
}

// Load replaces the network with the given nodes and edges. A negative
// cost disables the forward direction; a nil or negative reverse cost
// makes the edge one-way.
func (g *Graph) Load(nodes []models.RoadNode, edges []models.RoadEdge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.snap.Store(buildGraph(nodes, edges))
}

func buildGraph(nodes []models.RoadNode, edges []models.RoadEdge) *graphSnapshot {
	s := &graphSnapshot{
		nodes: make(map[int64]models.RoadNode, len(nodes)),
		edges: make(map[int64]models.RoadEdge, len(edges)),
		adj:   make(map[int64][]arc),
	}
	for _, n := range nodes {
		s.nodes[n.ID] = n
	}
	s.nodeIDs = make([]int64, 0, len(s.nodes))
	for id := range s.nodes {
		s.nodeIDs = append(s.nodeIDs, id)
	}
	sort.Slice(s.nodeIDs, func(i, j int) bool { return s.nodeIDs[i] < s.nodeIDs[j] })

	for _, e := range edges {
		if _, ok := s.nodes[e.Source]; !ok {
			continue
		}
		if _, ok := s.nodes[e.Target]; !ok {
			continue
		}
		s.edges[e.ID] = e
		if e.Cost >= 0 {
			s.adj[e.Source] = append(s.adj[e.Source], arc{edgeID: e.ID, to: e.Target, cost: e.Cost})
		}
		if e.ReverseCost != nil && *e.ReverseCost >= 0 {
			s.adj[e.Target] = append(s.adj[e.Target], arc{edgeID: e.ID, to: e.Source, cost: *e.ReverseCost, reverse: true})
		}
	}
	// Equal-cost alternatives resolve in favor of the lowest edge ID.
	for id := range s.adj {
		arcs := s.adj[id]
		sort.Slice(arcs, func(i, j int) bool { return arcs[i].edgeID < arcs[j].edgeID })
	}
	return s
}

// NodeCount returns the number of loaded nodes.
func (g *Graph) NodeCount() int {
	return len(g.snap.Load().nodes)
}

// EdgeCount returns the number of loaded edges.
func (g *Graph) EdgeCount() int {
	return len(g.snap.Load().edges)
}

// Node returns the node with the given ID.
func (g *Graph) Node(id int64) (models.RoadNode, bool) {
	n, ok := g.snap.Load().nodes[id]
	return n, ok
}

// Snap returns the network node closest to p and its distance in meters.
// Distance ties resolve to the lowest node ID.
func (g *Graph) Snap(p models.GeoPoint) (int64, float64, error) {
	s := g.snap.Load()
	if len(s.nodeIDs) == 0 {
		return 0, 0, verrors.New(verrors.KindNoPath, "roadgraph.Snap", fmt.Errorf("road network is empty"))
	}
	bestID := int64(0)
	bestDist := -1.0
	for _, id := range s.nodeIDs {
		d := geoindex.HaversineM(p, s.nodes[id].Location)
		if bestDist < 0 || d < bestDist {
			bestID = id
			bestDist = d
		}
	}
	return bestID, bestDist, nil
}

// ParseLineString decodes a GeoJSON LineString geometry into points.
func ParseLineString(raw []byte) ([]models.GeoPoint, error) {
	var geom struct {
		Type        string       `json:"type"`
		Coordinates [][2]float64 `json:"coordinates"`
	}
	if err := json.Unmarshal(raw, &geom); err != nil {
		return nil, fmt.Errorf("failed to parse geometry: %w", err)
	}
	if geom.Type != "LineString" {
		return nil, fmt.Errorf("unsupported geometry type %q", geom.Type)
	}
	points := make([]models.GeoPoint, len(geom.Coordinates))
	for i, c := range geom.Coordinates {
		points[i] = models.GeoPoint{Lon: c[0], Lat: c[1]}
	}
	return points, nil
}
