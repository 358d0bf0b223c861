package roadgraph

import (
	"container/heap"
	"fmt"

	verrors "github.com/vigiaops/vigia-go/internal/errors"
	"github.com/vigiaops/vigia-go/internal/models"
)

type heapItem struct {
	node int64
	dist float64
}

type nodeHeap []heapItem

func (h nodeHeap) Len() int { return len(h) }

func (h nodeHeap) Less(i, j int) bool {
	if h[i].dist == h[j].dist {
		return h[i].node < h[j].node
	}
	return h[i].dist < h[j].dist
}

func (h nodeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *nodeHeap) Push(x interface{}) {
	*h = append(*h, x.(heapItem))
}

func (h *nodeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// ShortestPath runs Dijkstra from one node to another and returns the
// ordered traversal steps with the total cost. Routing from a node to
// itself returns zero steps at cost 0. Unreachable targets report a
// no-path error.
func (g *Graph) ShortestPath(from, to int64) ([]models.RouteStep, float64, error) {
	const op = "roadgraph.ShortestPath"
	s := g.snap.Load()

	if _, ok := s.nodes[from]; !ok {
		return nil, 0, verrors.New(verrors.KindUnknownEndpoint, op, fmt.Errorf("node %d not in network", from))
	}
	if _, ok := s.nodes[to]; !ok {
		return nil, 0, verrors.New(verrors.KindUnknownEndpoint, op, fmt.Errorf("node %d not in network", to))
	}
	if from == to {
		return []models.RouteStep{}, 0, nil
	}

	dist := map[int64]float64{from: 0}
	prev := map[int64]arc{}
	visited := map[int64]bool{}

	pq := &nodeHeap{{node: from, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		item := heap.Pop(pq).(heapItem)
		if visited[item.node] {
			continue
		}
		visited[item.node] = true
		if item.node == to {
			break
		}
		// Arcs are sorted ascending by edge ID, so equal-cost parallel
		// edges resolve to the lowest ID.
		for _, a := range s.adj[item.node] {
			if visited[a.to] {
				continue
			}
			next := item.dist + a.cost
			if cur, seen := dist[a.to]; !seen || next < cur {
				dist[a.to] = next
				prev[a.to] = a
				heap.Push(pq, heapItem{node: a.to, dist: next})
			}
		}
	}

	if !visited[to] {
		return nil, 0, verrors.New(verrors.KindNoPath, op, fmt.Errorf("no route from node %d to node %d", from, to))
	}

	var steps []models.RouteStep
	for node := to; node != from; {
		a := prev[node]
		steps = append(steps, models.RouteStep{
			EdgeID:   a.edgeID,
			Cost:     a.cost,
			Geometry: stepGeometry(s.edges[a.edgeID], a.reverse),
		})
		if a.reverse {
			node = s.edges[a.edgeID].Target
		} else {
			node = s.edges[a.edgeID].Source
		}
	}
	reverseSteps(steps)
	for i := range steps {
		steps[i].Seq = i + 1
	}
	return steps, dist[to], nil
}

// stepGeometry orients the edge geometry in the direction of travel.
func stepGeometry(e models.RoadEdge, reverse bool) []models.GeoPoint {
	if len(e.Geometry) == 0 {
		return nil
	}
	out := make([]models.GeoPoint, len(e.Geometry))
	if reverse {
		for i, p := range e.Geometry {
			out[len(out)-1-i] = p
		}
		return out
	}
	copy(out, e.Geometry)
	return out
}

func reverseSteps(steps []models.RouteStep) {
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
}
