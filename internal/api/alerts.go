package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/vigiaops/vigia-go/internal/alerting"
	"github.com/vigiaops/vigia-go/internal/models"
	"github.com/vigiaops/vigia-go/internal/statestore"
	"github.com/vigiaops/vigia-go/internal/utils"
)

// AlertHandlers handles alert-related HTTP endpoints
type AlertHandlers struct {
	manager *alerting.Manager
	store   *statestore.Store
}

// NewAlertHandlers creates new alert handlers
func NewAlertHandlers(manager *alerting.Manager, store *statestore.Store) *AlertHandlers {
	return &AlertHandlers{manager: manager, store: store}
}

// HandleList returns alerts: GET /api/alerts. Defaults to the open alerts;
// state=all|active|acknowledged|resolved selects from history.
func (h *AlertHandlers) HandleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := strings.ToLower(r.URL.Query().Get("state"))
	limit := queryInt(r, "limit", 0)

	var (
		alerts []models.Alert
		err    error
	)
	switch state {
	case "", "active":
		alerts = h.manager.ActiveAlerts()
	case "all":
		alerts, err = h.store.ListAlerts("", limit)
	case string(models.AlertAcknowledged), string(models.AlertResolved):
		alerts, err = h.store.ListAlerts(models.AlertState(state), limit)
	default:
		utils.WriteJSONError(w, http.StatusBadRequest, "unknown alert state "+state)
		return
	}
	if err != nil {
		writeError(w, "api.alerts.list", err)
		return
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}
	utils.WriteJSONResponse(w, alerts)
}

// alertAction is the optional body of resolve/acknowledge requests.
type alertAction struct {
	Actor string `json:"actor"`
}

// HandleAlertAction drives the alert state machine:
//
//	POST /api/alerts/{id}/resolve
//	POST /api/alerts/{id}/acknowledge
func (h *AlertHandlers) HandleAlertAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Path: /api/alerts/{id}/{action}
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 5 || parts[3] == "" {
		http.Error(w, "Invalid URL", http.StatusBadRequest)
		return
	}
	alertID, action := parts[3], parts[4]

	var body alertAction
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, 8*1024)
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	actor := strings.TrimSpace(body.Actor)
	if actor == "" {
		actor = "operator"
	}

	var (
		alert models.Alert
		err   error
	)
	switch action {
	case "resolve":
		alert, err = h.manager.Resolve(alertID, actor)
	case "acknowledge":
		alert, err = h.manager.Acknowledge(alertID, actor)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, "api.alerts."+action, err)
		return
	}

	log.Info().
		Str("alertID", alertID).
		Str("action", action).
		Str("actor", actor).
		Msg("Alert state changed")
	if err := utils.WriteJSONResponse(w, alert); err != nil {
		log.Error().Err(err).Msg("Failed to write alert response")
	}
}
