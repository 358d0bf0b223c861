package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/vigiaops/vigia-go/internal/notifications"
	"github.com/vigiaops/vigia-go/internal/statestore"
	"github.com/vigiaops/vigia-go/internal/utils"
)

// SMSHandlers queues manual notification sends
type SMSHandlers struct {
	store      *statestore.Store
	dispatcher *notifications.Dispatcher
}

// NewSMSHandlers creates new SMS handlers
func NewSMSHandlers(store *statestore.Store, dispatcher *notifications.Dispatcher) *SMSHandlers {
	return &SMSHandlers{store: store, dispatcher: dispatcher}
}

// smsRequest asks for an alert notification to a single recipient.
type smsRequest struct {
	AlertID   string `json:"alertId"`
	Recipient string `json:"recipient"`
	Channel   string `json:"channel,omitempty"`
}

// HandleAlertSMS queues an alert notification: POST /api/sms/alert
func (h *SMSHandlers) HandleAlertSMS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 8*1024)

	var req smsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req.AlertID = strings.TrimSpace(req.AlertID)
	req.Recipient = strings.TrimSpace(req.Recipient)
	channel := strings.ToLower(strings.TrimSpace(req.Channel))
	if channel == "" {
		channel = "sms"
	}
	if req.AlertID == "" || req.Recipient == "" {
		utils.WriteJSONError(w, http.StatusBadRequest, "alertId and recipient are required")
		return
	}
	if channel == "sms" && !notifications.ValidE164(req.Recipient) {
		utils.WriteJSONError(w, http.StatusBadRequest, "recipient must be an E.164 phone number")
		return
	}

	alert, err := h.store.GetAlert(req.AlertID)
	if err != nil {
		writeError(w, "api.sms.alert", err)
		return
	}

	if err := h.dispatcher.EnqueueAlert(&alert, channel, req.Recipient); err != nil {
		writeError(w, "api.sms.alert", err)
		return
	}

	log.Info().
		Str("alertID", req.AlertID).
		Str("channel", channel).
		Msg("Manual notification queued")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]bool{"queued": true}); err != nil {
		log.Error().Err(err).Msg("Failed to write SMS queue response")
	}
}
