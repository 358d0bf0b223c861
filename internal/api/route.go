package api

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/vigiaops/vigia-go/internal/evacuation"
	"github.com/vigiaops/vigia-go/internal/utils"
)

// RouteHandlers serves evacuation route planning
type RouteHandlers struct {
	planner *evacuation.Planner
}

// NewRouteHandlers creates new route handlers
func NewRouteHandlers(planner *evacuation.Planner) *RouteHandlers {
	return &RouteHandlers{planner: planner}
}

// HandleRoute plans a sensor-to-shelter route: GET /api/route
func (h *RouteHandlers) HandleRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sensorID, okSensor, errSensor := queryInt64(r, "sensorId")
	shelterID, okShelter, errShelter := queryInt64(r, "shelterId")
	if errSensor != nil || errShelter != nil || !okSensor || !okShelter {
		utils.WriteJSONError(w, http.StatusBadRequest, "sensorId and shelterId are required")
		return
	}

	route, err := h.planner.Plan(r.Context(), sensorID, shelterID)
	if err != nil {
		writeError(w, "api.route", err)
		return
	}
	if err := utils.WriteJSONResponse(w, route); err != nil {
		log.Error().Err(err).Msg("Failed to write route response")
	}
}
