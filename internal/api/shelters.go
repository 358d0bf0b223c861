package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/vigiaops/vigia-go/internal/models"
	"github.com/vigiaops/vigia-go/internal/statestore"
	"github.com/vigiaops/vigia-go/internal/utils"
	"github.com/vigiaops/vigia-go/pkg/geoindex"
)

const defaultNearbyK = 5

// ShelterHandlers handles shelter registry and geospatial endpoints
type ShelterHandlers struct {
	store *statestore.Store
	geo   *geoindex.Index
}

// NewShelterHandlers creates new shelter handlers
func NewShelterHandlers(store *statestore.Store, geo *geoindex.Index) *ShelterHandlers {
	return &ShelterHandlers{store: store, geo: geo}
}

// HandleList returns all registered shelters: GET /api/shelters
func (h *ShelterHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	shelters, err := h.store.ListShelters()
	if err != nil {
		writeError(w, "api.shelters.list", err)
		return
	}
	if shelters == nil {
		shelters = []models.Shelter{}
	}
	if err := utils.WriteJSONResponse(w, shelters); err != nil {
		log.Error().Err(err).Msg("Failed to write shelters response")
	}
}

// HandleUpsert registers or updates a shelter: POST /api/shelters
func (h *ShelterHandlers) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)

	var shelter models.Shelter
	if err := json.NewDecoder(r.Body).Decode(&shelter); err != nil {
		utils.WriteJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	saved, err := h.store.UpsertShelter(shelter)
	if err != nil {
		writeError(w, "api.shelters.upsert", err)
		return
	}

	log.Info().Int64("shelterID", saved.ID).Str("name", saved.Name).Msg("Shelter registered")
	if err := utils.WriteJSONResponse(w, saved); err != nil {
		log.Error().Err(err).Msg("Failed to write shelter response")
	}
}

// nearbyShelter is one ranked result of the nearby query.
type nearbyShelter struct {
	ID              int64                  `json:"id"`
	Name            string                 `json:"name"`
	Location        models.GeoPoint        `json:"location"`
	DistanceM       float64                `json:"distanceMeters"`
	Status          models.ShelterStatus   `json:"status"`
	CapacityMax     int                    `json:"capacityMax"`
	CapacityCurrent int                    `json:"capacityCurrent"`
	Services        models.ShelterServices `json:"services"`
}

// HandleNearby ranks shelters around a point: GET /api/shelters/nearby.
// With radiusMeters it returns every accepting shelter inside the circle;
// otherwise the k nearest (default 5). all=true disables the accepting
// filter.
func (h *ShelterHandlers) HandleNearby(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	lat, okLat, errLat := queryFloat(r, "lat")
	lon, okLon, errLon := queryFloat(r, "lon")
	if errLat != nil || errLon != nil || !okLat || !okLon {
		utils.WriteJSONError(w, http.StatusBadRequest, "lat and lon are required")
		return
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		utils.WriteJSONError(w, http.StatusBadRequest, "lat/lon out of range")
		return
	}
	center := models.GeoPoint{Lat: lat, Lon: lon}

	includeAll := utils.ParseBool(r.URL.Query().Get("all"))
	pred := func(e geoindex.Entry) bool {
		if e.Kind != geoindex.KindShelter {
			return false
		}
		return includeAll || e.Accepting()
	}

	var matches []geoindex.Match
	if radius, ok, err := queryFloat(r, "radiusMeters"); err != nil {
		utils.WriteJSONError(w, http.StatusBadRequest, "invalid radiusMeters")
		return
	} else if ok {
		if radius <= 0 {
			utils.WriteJSONError(w, http.StatusBadRequest, "radiusMeters must be positive")
			return
		}
		matches = h.geo.WithinRadius(center, radius, pred)
	} else {
		k := queryInt(r, "k", defaultNearbyK)
		if k <= 0 {
			k = defaultNearbyK
		}
		matches = h.geo.KNearest(center, k, pred)
	}

	out := make([]nearbyShelter, 0, len(matches))
	for _, m := range matches {
		out = append(out, nearbyShelter{
			ID:              m.ID,
			Name:            m.Name,
			Location:        m.Location,
			DistanceM:       m.DistanceM,
			Status:          m.ShelterStatus,
			CapacityMax:     m.CapacityMax,
			CapacityCurrent: m.CapacityCurrent,
			Services:        m.Services,
		})
	}
	if err := utils.WriteJSONResponse(w, out); err != nil {
		log.Error().Err(err).Msg("Failed to write nearby shelters response")
	}
}

// capacityUpdate is the body of a shelter capacity report.
type capacityUpdate struct {
	Occupancy int   `json:"occupancy"`
	Version   int64 `json:"version"`
}

// HandleShelter serves per-shelter operations:
//
//	GET  /api/shelters/{id}
//	POST /api/shelters/{id}/capacity
func (h *ShelterHandlers) HandleShelter(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 4 || parts[3] == "" {
		http.Error(w, "Invalid URL", http.StatusBadRequest)
		return
	}
	id, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		utils.WriteJSONError(w, http.StatusBadRequest, "invalid shelter id")
		return
	}

	if len(parts) >= 5 && parts[4] == "capacity" {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleCapacity(w, r, id)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	shelter, err := h.store.GetShelter(id)
	if err != nil {
		writeError(w, "api.shelters.get", err)
		return
	}
	if err := utils.WriteJSONResponse(w, shelter); err != nil {
		log.Error().Err(err).Msg("Failed to write shelter response")
	}
}

// handleCapacity applies a versioned occupancy report. A stale version is
// rejected with 409; the caller re-reads and retries.
func (h *ShelterHandlers) handleCapacity(w http.ResponseWriter, r *http.Request, id int64) {
	r.Body = http.MaxBytesReader(w, r.Body, 8*1024)

	var update capacityUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		utils.WriteJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	shelter, err := h.store.UpdateShelterCapacity(id, update.Occupancy, update.Version)
	if err != nil {
		writeError(w, "api.shelters.capacity", err)
		return
	}

	log.Info().
		Int64("shelterID", id).
		Int("occupancy", shelter.CapacityCurrent).
		Int64("version", shelter.Version).
		Msg("Shelter capacity updated")
	if err := utils.WriteJSONResponse(w, shelter); err != nil {
		log.Error().Err(err).Msg("Failed to write shelter response")
	}
}
