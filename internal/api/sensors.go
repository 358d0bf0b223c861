package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vigiaops/vigia-go/internal/models"
	"github.com/vigiaops/vigia-go/internal/statestore"
	"github.com/vigiaops/vigia-go/internal/utils"
	"github.com/vigiaops/vigia-go/pkg/timestore"
)

// SensorHandlers handles sensor registry endpoints
type SensorHandlers struct {
	store     *statestore.Store
	timestore *timestore.Store
}

// NewSensorHandlers creates new sensor handlers
func NewSensorHandlers(store *statestore.Store, ts *timestore.Store) *SensorHandlers {
	return &SensorHandlers{store: store, timestore: ts}
}

// HandleList returns all registered sensors: GET /api/sensors
func (h *SensorHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	sensors, err := h.store.ListSensors()
	if err != nil {
		writeError(w, "api.sensors.list", err)
		return
	}
	if sensors == nil {
		sensors = []models.Sensor{}
	}
	if err := utils.WriteJSONResponse(w, sensors); err != nil {
		log.Error().Err(err).Msg("Failed to write sensors response")
	}
}

// HandleUpsert registers or updates a sensor: POST /api/sensors
func (h *SensorHandlers) HandleUpsert(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)

	var sensor models.Sensor
	if err := json.NewDecoder(r.Body).Decode(&sensor); err != nil {
		utils.WriteJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	saved, err := h.store.UpsertSensor(sensor)
	if err != nil {
		writeError(w, "api.sensors.upsert", err)
		return
	}

	log.Info().Int64("sensorID", saved.ID).Str("kind", string(saved.Kind)).Msg("Sensor registered")
	if err := utils.WriteJSONResponse(w, saved); err != nil {
		log.Error().Err(err).Msg("Failed to write sensor response")
	}
}

// HandleSensor serves per-sensor operations:
//
//	GET    /api/sensors/{id}
//	GET    /api/sensors/{id}/latest
//	DELETE /api/sensors/{id}
func (h *SensorHandlers) HandleSensor(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 4 || parts[3] == "" {
		http.Error(w, "Invalid URL", http.StatusBadRequest)
		return
	}
	id, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		utils.WriteJSONError(w, http.StatusBadRequest, "invalid sensor id")
		return
	}

	if len(parts) >= 5 && parts[4] == "latest" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.handleLatest(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		sensor, err := h.store.GetSensor(id)
		if err != nil {
			writeError(w, "api.sensors.get", err)
			return
		}
		if err := utils.WriteJSONResponse(w, sensor); err != nil {
			log.Error().Err(err).Msg("Failed to write sensor response")
		}
	case http.MethodDelete:
		if err := h.store.DeleteSensor(id); err != nil {
			writeError(w, "api.sensors.delete", err)
			return
		}
		log.Info().Int64("sensorID", id).Msg("Sensor deleted")
		if err := utils.WriteJSONResponse(w, map[string]bool{"success": true}); err != nil {
			log.Error().Err(err).Msg("Failed to write delete response")
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleLatest returns the newest stored observation for the sensor.
func (h *SensorHandlers) handleLatest(w http.ResponseWriter, r *http.Request, id int64) {
	if _, err := h.store.GetSensor(id); err != nil {
		writeError(w, "api.sensors.latest", err)
		return
	}

	within := time.Duration(queryInt(r, "withinMinutes", 0)) * time.Minute
	latest, err := h.timestore.Latest(r.Context(), []int64{id}, within)
	if err != nil {
		writeError(w, "api.sensors.latest", err)
		return
	}

	obs, ok := latest[id]
	if !ok {
		utils.WriteJSONError(w, http.StatusNotFound, "no observations recorded")
		return
	}
	if err := utils.WriteJSONResponse(w, obs); err != nil {
		log.Error().Err(err).Msg("Failed to write latest observation response")
	}
}
