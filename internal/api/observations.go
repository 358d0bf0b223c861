package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/vigiaops/vigia-go/internal/config"
	"github.com/vigiaops/vigia-go/internal/ingest"
	"github.com/vigiaops/vigia-go/internal/models"
	"github.com/vigiaops/vigia-go/internal/utils"
	"github.com/vigiaops/vigia-go/pkg/timestore"
)

// ObservationHandlers handles observation ingest and queries
type ObservationHandlers struct {
	gateway *ingest.Gateway
	store   *timestore.Store
	maxBody int64
}

// NewObservationHandlers creates new observation handlers
func NewObservationHandlers(cfg *config.Config, gateway *ingest.Gateway, store *timestore.Store) *ObservationHandlers {
	maxBody := cfg.IngestMaxBody
	if maxBody <= 0 {
		maxBody = 8 * 1024
	}
	return &ObservationHandlers{
		gateway: gateway,
		store:   store,
		maxBody: maxBody,
	}
}

// HandleIngest accepts one observation: POST /api/observations
func (h *ObservationHandlers) HandleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var req ingest.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.gateway.Ingest(r.Context(), req)
	if err != nil {
		writeError(w, "api.ingest", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		log.Error().Err(err).Msg("Failed to write ingest response")
	}
}

// HandleQuery serves raw observations: GET /api/observations
func (h *ObservationHandlers) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var q timestore.RangeQuery

	if id, ok, err := queryInt64(r, "sensorId"); err != nil {
		utils.WriteJSONError(w, http.StatusBadRequest, "invalid sensorId")
		return
	} else if ok {
		q.SensorIDs = []int64{id}
	}

	if kinds := r.URL.Query().Get("kind"); kinds != "" {
		for _, k := range strings.Split(kinds, ",") {
			kind := models.SensorKind(strings.TrimSpace(k))
			if !models.IsKnownKind(kind) {
				utils.WriteJSONError(w, http.StatusBadRequest, "unknown sensor kind "+string(kind))
				return
			}
			q.Kinds = append(q.Kinds, kind)
		}
	}

	from, err := queryTime(r, "from")
	if err != nil {
		utils.WriteJSONError(w, http.StatusBadRequest, "invalid from timestamp, want RFC3339")
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		utils.WriteJSONError(w, http.StatusBadRequest, "invalid to timestamp, want RFC3339")
		return
	}
	q.From, q.To = from, to
	q.Limit = queryInt(r, "limit", 0)

	observations, err := h.store.Range(r.Context(), q)
	if err != nil {
		writeError(w, "api.observations", err)
		return
	}
	if observations == nil {
		observations = []models.Observation{}
	}
	if err := utils.WriteJSONResponse(w, observations); err != nil {
		log.Error().Err(err).Msg("Failed to write observations response")
	}
}
