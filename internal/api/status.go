package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vigiaops/vigia-go/internal/health"
	"github.com/vigiaops/vigia-go/internal/models"
	"github.com/vigiaops/vigia-go/internal/utils"
	"github.com/vigiaops/vigia-go/internal/websocket"
)

// StatusHandlers serves the platform condition endpoints
type StatusHandlers struct {
	monitor *health.Monitor
	hub     *websocket.Hub
}

// NewStatusHandlers creates new status handlers
func NewStatusHandlers(monitor *health.Monitor, hub *websocket.Hub) *StatusHandlers {
	return &StatusHandlers{monitor: monitor, hub: hub}
}

// statusResponse is the compact system condition.
type statusResponse struct {
	SystemState    health.SystemState                     `json:"systemState"`
	Risks          map[models.SensorKind]health.RiskLevel `json:"risks"`
	ActiveAlerts   int                                    `json:"activeAlerts"`
	CriticalAlerts int                                    `json:"criticalAlerts"`
	SensorsOnline  int                                    `json:"sensorsOnline"`
	SensorsTotal   int                                    `json:"sensorsTotal"`
	LiveClients    int                                    `json:"liveClients"`
	GeneratedAt    time.Time                              `json:"generatedAt"`
}

// HandleStatus returns the compact platform condition: GET /api/status
func (h *StatusHandlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := h.monitor.Statistics(r.Context())
	if err != nil {
		writeError(w, "api.status", err)
		return
	}

	resp := statusResponse{
		SystemState:    stats.SystemState,
		Risks:          stats.Risks,
		ActiveAlerts:   stats.Alerts.Active,
		CriticalAlerts: stats.Alerts.BySeverity[models.SeverityCritical],
		SensorsOnline:  stats.Sensors.ReportingLastHour,
		SensorsTotal:   stats.Sensors.Total,
		GeneratedAt:    stats.GeneratedAt,
	}
	if h.hub != nil {
		resp.LiveClients = h.hub.GetClientCount()
	}
	if err := utils.WriteJSONResponse(w, resp); err != nil {
		log.Error().Err(err).Msg("Failed to write status response")
	}
}

// HandleStatistics returns the full snapshot: GET /api/statistics
func (h *StatusHandlers) HandleStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := h.monitor.Statistics(r.Context())
	if err != nil {
		writeError(w, "api.statistics", err)
		return
	}
	if err := utils.WriteJSONResponse(w, stats); err != nil {
		log.Error().Err(err).Msg("Failed to write statistics response")
	}
}

// HandleHealth probes the running process: GET /api/health
func (h *StatusHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := utils.WriteJSONResponse(w, h.monitor.Health(r.Context())); err != nil {
		log.Error().Err(err).Msg("Failed to write health response")
	}
}
