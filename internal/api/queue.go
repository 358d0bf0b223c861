package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/vigiaops/vigia-go/internal/notifications"
	"github.com/vigiaops/vigia-go/internal/utils"
)

// QueueHandlers exposes the notification queue for operators
type QueueHandlers struct {
	queue *notifications.Queue
}

// NewQueueHandlers creates new notification queue handlers
func NewQueueHandlers(queue *notifications.Queue) *QueueHandlers {
	return &QueueHandlers{queue: queue}
}

// HandleQueueStats returns job counts by status: GET /api/notifications/queue
func (h *QueueHandlers) HandleQueueStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := h.queue.GetQueueStats()
	if err != nil {
		log.Error().Err(err).Msg("Failed to get queue stats")
		utils.WriteJSONError(w, http.StatusInternalServerError, "failed to retrieve queue statistics")
		return
	}
	if err := utils.WriteJSONResponse(w, stats); err != nil {
		log.Error().Err(err).Msg("Failed to write queue stats response")
	}
}

// HandleDLQ lists dead-lettered jobs: GET /api/notifications/dlq
func (h *QueueHandlers) HandleDLQ(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	dlq, err := h.queue.GetDLQ(limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get DLQ")
		utils.WriteJSONError(w, http.StatusInternalServerError, "failed to retrieve dead letter queue")
		return
	}
	if dlq == nil {
		dlq = []notifications.Job{}
	}
	if err := utils.WriteJSONResponse(w, dlq); err != nil {
		log.Error().Err(err).Msg("Failed to write DLQ response")
	}
}

// dlqItemRequest names one job in the DLQ.
type dlqItemRequest struct {
	ID string `json:"id"`
}

// HandleDLQRetry requeues a dead-lettered job: POST /api/notifications/dlq/retry
func (h *QueueHandlers) HandleDLQRetry(w http.ResponseWriter, r *http.Request) {
	id, ok := h.decodeJobID(w, r)
	if !ok {
		return
	}

	if err := h.queue.RetryDLQ(id); err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to retry DLQ item")
		writeError(w, "api.notifications.retry", err)
		return
	}

	log.Info().Str("id", id).Msg("DLQ notification scheduled for retry")
	if err := utils.WriteJSONResponse(w, map[string]interface{}{
		"success": true,
		"id":      id,
	}); err != nil {
		log.Error().Err(err).Msg("Failed to write retry response")
	}
}

// HandleDLQDelete drops a dead-lettered job: POST /api/notifications/dlq/delete
func (h *QueueHandlers) HandleDLQDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.decodeJobID(w, r)
	if !ok {
		return
	}

	if err := h.queue.DeleteJob(id); err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to delete DLQ item")
		writeError(w, "api.notifications.delete", err)
		return
	}

	log.Info().Str("id", id).Msg("DLQ notification deleted")
	if err := utils.WriteJSONResponse(w, map[string]interface{}{
		"success": true,
		"id":      id,
	}); err != nil {
		log.Error().Err(err).Msg("Failed to write delete response")
	}
}

func (h *QueueHandlers) decodeJobID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return "", false
	}
	r.Body = http.MaxBytesReader(w, r.Body, 8*1024)

	var req dlqItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSONError(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}
	if req.ID == "" {
		utils.WriteJSONError(w, http.StatusBadRequest, "missing notification ID")
		return "", false
	}
	return req.ID, true
}
