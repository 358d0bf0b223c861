package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vigiaops/vigia-go/internal/aggregate"
	"github.com/vigiaops/vigia-go/internal/models"
	"github.com/vigiaops/vigia-go/internal/utils"
)

// AggregateHandlers serves the rolled-up hourly and daily statistics
type AggregateHandlers struct {
	engine *aggregate.Engine
}

// NewAggregateHandlers creates new aggregate handlers
func NewAggregateHandlers(engine *aggregate.Engine) *AggregateHandlers {
	return &AggregateHandlers{engine: engine}
}

// HandleHourly serves hourly buckets: GET /api/aggregates/hourly.
// The window defaults to the trailing 24 hours.
func (h *AggregateHandlers) HandleHourly(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sensorID, from, to, ok := h.window(w, r, 24*time.Hour)
	if !ok {
		return
	}

	buckets, err := h.engine.Hourly(r.Context(), sensorID, from, to)
	if err != nil {
		writeError(w, "api.aggregates.hourly", err)
		return
	}
	if buckets == nil {
		buckets = []models.HourlyAggregate{}
	}
	if err := utils.WriteJSONResponse(w, buckets); err != nil {
		log.Error().Err(err).Msg("Failed to write hourly aggregates response")
	}
}

// HandleDaily serves daily buckets: GET /api/aggregates/daily.
// The window defaults to the trailing 30 days.
func (h *AggregateHandlers) HandleDaily(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sensorID, from, to, ok := h.window(w, r, 30*24*time.Hour)
	if !ok {
		return
	}

	buckets, err := h.engine.Daily(r.Context(), sensorID, from, to)
	if err != nil {
		writeError(w, "api.aggregates.daily", err)
		return
	}
	if buckets == nil {
		buckets = []models.DailyAggregate{}
	}
	if err := utils.WriteJSONResponse(w, buckets); err != nil {
		log.Error().Err(err).Msg("Failed to write daily aggregates response")
	}
}

// window parses the common sensorId/from/to parameters. A missing window
// bound falls back to [now-span, now].
func (h *AggregateHandlers) window(w http.ResponseWriter, r *http.Request, span time.Duration) (sensorID int64, from, to time.Time, ok bool) {
	id, has, err := queryInt64(r, "sensorId")
	if err != nil || !has {
		utils.WriteJSONError(w, http.StatusBadRequest, "sensorId is required")
		return 0, time.Time{}, time.Time{}, false
	}

	from, err = queryTime(r, "from")
	if err != nil {
		utils.WriteJSONError(w, http.StatusBadRequest, "invalid from timestamp, want RFC3339")
		return 0, time.Time{}, time.Time{}, false
	}
	to, err = queryTime(r, "to")
	if err != nil {
		utils.WriteJSONError(w, http.StatusBadRequest, "invalid to timestamp, want RFC3339")
		return 0, time.Time{}, time.Time{}, false
	}

	now := time.Now().UTC()
	if to.IsZero() {
		to = now
	}
	if from.IsZero() {
		from = to.Add(-span)
	}
	if !from.Before(to) {
		utils.WriteJSONError(w, http.StatusBadRequest, "from must precede to")
		return 0, time.Time{}, time.Time{}, false
	}
	return id, from, to, true
}
