package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/vigiaops/vigia-go/internal/models"
	"github.com/vigiaops/vigia-go/internal/statestore"
	"github.com/vigiaops/vigia-go/internal/utils"
)

// roadNetworkPayload is the bulk road network load body.
type roadNetworkPayload struct {
	Nodes []models.RoadNode `json:"nodes"`
	Edges []models.RoadEdge `json:"edges"`
}

// RoadHandlers manages the routing road network
type RoadHandlers struct {
	store *statestore.Store
}

// NewRoadHandlers creates new road network handlers
func NewRoadHandlers(store *statestore.Store) *RoadHandlers {
	return &RoadHandlers{store: store}
}

// HandleRoads manages the road network:
//
//	GET  /api/roads  current network size
//	POST /api/roads  replace the network and rebuild the routing graph
func (h *RoadHandlers) HandleRoads(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		nodes, edges, err := h.store.RoadNetwork()
		if err != nil {
			writeError(w, "api.roads.get", err)
			return
		}
		if err := utils.WriteJSONResponse(w, map[string]int{
			"nodes": len(nodes),
			"edges": len(edges),
		}); err != nil {
			log.Error().Err(err).Msg("Failed to write road network response")
		}
	case http.MethodPost:
		// Road networks are the largest payload the API accepts.
		r.Body = http.MaxBytesReader(w, r.Body, 32*1024*1024)

		var payload roadNetworkPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			utils.WriteJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if len(payload.Nodes) == 0 || len(payload.Edges) == 0 {
			utils.WriteJSONError(w, http.StatusBadRequest, "nodes and edges are required")
			return
		}

		if err := h.store.LoadRoadNetwork(payload.Nodes, payload.Edges); err != nil {
			writeError(w, "api.roads.load", err)
			return
		}

		log.Info().
			Int("nodes", len(payload.Nodes)).
			Int("edges", len(payload.Edges)).
			Msg("Road network loaded")
		if err := utils.WriteJSONResponse(w, map[string]int{
			"nodes": len(payload.Nodes),
			"edges": len(payload.Edges),
		}); err != nil {
			log.Error().Err(err).Msg("Failed to write road network response")
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
