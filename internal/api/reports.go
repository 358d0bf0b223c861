package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vigiaops/vigia-go/internal/aggregate"
	"github.com/vigiaops/vigia-go/internal/config"
	"github.com/vigiaops/vigia-go/internal/models"
	"github.com/vigiaops/vigia-go/internal/statestore"
	"github.com/vigiaops/vigia-go/internal/utils"
	"github.com/vigiaops/vigia-go/pkg/reporting"
)

// ReportHandlers renders downloadable reports
type ReportHandlers struct {
	cfg    *config.Config
	store  *statestore.Store
	engine *aggregate.Engine
}

// NewReportHandlers creates new report handlers
func NewReportHandlers(cfg *config.Config, store *statestore.Store, engine *aggregate.Engine) *ReportHandlers {
	return &ReportHandlers{cfg: cfg, store: store, engine: engine}
}

// HandleDaily serves the per-sensor daily report: GET /api/reports/daily.
// date selects the UTC day (default: yesterday); format is pdf or csv.
func (h *ReportHandlers) HandleDaily(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sensorID, ok, err := queryInt64(r, "sensorId")
	if err != nil || !ok {
		utils.WriteJSONError(w, http.StatusBadRequest, "sensorId is required")
		return
	}

	format, err := reporting.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		utils.WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	day := time.Now().UTC().AddDate(0, 0, -1)
	if raw := r.URL.Query().Get("date"); raw != "" {
		day, err = time.Parse("2006-01-02", raw)
		if err != nil {
			utils.WriteJSONError(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
			return
		}
	}
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := day.Add(24 * time.Hour)

	sensor, err := h.store.GetSensor(sensorID)
	if err != nil {
		writeError(w, "api.reports.daily", err)
		return
	}

	daily, err := h.engine.Daily(r.Context(), sensorID, day, dayEnd)
	if err != nil {
		writeError(w, "api.reports.daily", err)
		return
	}
	hourly, err := h.engine.Hourly(r.Context(), sensorID, day, dayEnd)
	if err != nil {
		writeError(w, "api.reports.daily", err)
		return
	}

	report := &reporting.DailyReport{
		Sensor:      sensor,
		Date:        day,
		GeneratedAt: time.Now().UTC(),
		Hourly:      hourly,
		Alerts:      h.alertsOn(sensorID, day, dayEnd),
		Limit:       h.cfg.ThresholdFor(sensor.Kind).Max,
	}
	if len(daily) > 0 {
		report.Daily = &daily[0]
	}

	data, contentType, filename, err := reporting.Render(report, format)
	if err != nil {
		log.Error().Err(err).Int64("sensorID", sensorID).Msg("Report render failed")
		utils.WriteJSONError(w, http.StatusInternalServerError, "report rendering failed")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Write(data)
}

// alertsOn selects the sensor's alerts detected inside [from, to).
func (h *ReportHandlers) alertsOn(sensorID int64, from, to time.Time) []models.Alert {
	all, err := h.store.ListAlerts("", 1000)
	if err != nil {
		log.Warn().Err(err).Msg("Report alert lookup failed, section omitted")
		return nil
	}
	var out []models.Alert
	for _, alert := range all {
		if alert.SensorID != sensorID {
			continue
		}
		if alert.DetectedAt.Before(from) || !alert.DetectedAt.Before(to) {
			continue
		}
		out = append(out, alert)
	}
	// ListAlerts returns newest first; the report reads top-down.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}
