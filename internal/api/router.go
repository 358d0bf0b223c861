// Package api exposes the platform over HTTP: observation ingest, sensor
// and shelter management, aggregate and alert queries, evacuation routes,
// reports, and the live websocket feed. Handlers stay thin; the components
// own the semantics.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vigiaops/vigia-go/internal/aggregate"
	"github.com/vigiaops/vigia-go/internal/alerting"
	"github.com/vigiaops/vigia-go/internal/config"
	"github.com/vigiaops/vigia-go/internal/evacuation"
	"github.com/vigiaops/vigia-go/internal/health"
	"github.com/vigiaops/vigia-go/internal/ingest"
	"github.com/vigiaops/vigia-go/internal/notifications"
	"github.com/vigiaops/vigia-go/internal/statestore"
	"github.com/vigiaops/vigia-go/internal/utils"
	"github.com/vigiaops/vigia-go/internal/websocket"
	"github.com/vigiaops/vigia-go/pkg/geoindex"
	"github.com/vigiaops/vigia-go/pkg/timestore"
)

// Deps collects the components the HTTP surface serves.
type Deps struct {
	Config     *config.Config
	Gateway    *ingest.Gateway
	TimeStore  *timestore.Store
	StateStore *statestore.Store
	Aggregates *aggregate.Engine
	Alerts     *alerting.Manager
	Geo        *geoindex.Index
	Planner    *evacuation.Planner
	Monitor    *health.Monitor
	Dispatcher *notifications.Dispatcher
	Queue      *notifications.Queue
	WSHub      *websocket.Hub
}

// Router handles HTTP routing
type Router struct {
	mux        *http.ServeMux
	config     *config.Config
	deps       Deps
	trustProxy func(ip string) bool
}

// NewRouter creates a new router instance
func NewRouter(deps Deps) http.Handler {
	r := &Router{
		mux:    http.NewServeMux(),
		config: deps.Config,
		deps:   deps,
	}
	trusted := deps.Config.TrustedProxyList()
	r.trustProxy = func(ip string) bool {
		return utils.IsTrustedNetwork(ip, trusted)
	}

	r.setupRoutes()
	return r
}

// setupRoutes configures all routes
func (r *Router) setupRoutes() {
	obsHandlers := NewObservationHandlers(r.config, r.deps.Gateway, r.deps.TimeStore)
	sensorHandlers := NewSensorHandlers(r.deps.StateStore, r.deps.TimeStore)
	shelterHandlers := NewShelterHandlers(r.deps.StateStore, r.deps.Geo)
	aggHandlers := NewAggregateHandlers(r.deps.Aggregates)
	alertHandlers := NewAlertHandlers(r.deps.Alerts, r.deps.StateStore)
	routeHandlers := NewRouteHandlers(r.deps.Planner)
	statusHandlers := NewStatusHandlers(r.deps.Monitor, r.deps.WSHub)
	smsHandlers := NewSMSHandlers(r.deps.StateStore, r.deps.Dispatcher)
	queueHandlers := NewQueueHandlers(r.deps.Queue)
	reportHandlers := NewReportHandlers(r.config, r.deps.StateStore, r.deps.Aggregates)
	roadHandlers := NewRoadHandlers(r.deps.StateStore)

	r.mux.HandleFunc("/api/observations", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodPost:
			obsHandlers.HandleIngest(w, req)
		case http.MethodGet:
			obsHandlers.HandleQuery(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})

	r.mux.HandleFunc("/api/sensors", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			sensorHandlers.HandleList(w, req)
		case http.MethodPost:
			sensorHandlers.HandleUpsert(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	r.mux.HandleFunc("/api/sensors/", sensorHandlers.HandleSensor)

	r.mux.HandleFunc("/api/shelters", func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			shelterHandlers.HandleList(w, req)
		case http.MethodPost:
			shelterHandlers.HandleUpsert(w, req)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	r.mux.HandleFunc("/api/shelters/nearby", shelterHandlers.HandleNearby)
	r.mux.HandleFunc("/api/shelters/", shelterHandlers.HandleShelter)

	r.mux.HandleFunc("/api/aggregates/hourly", aggHandlers.HandleHourly)
	r.mux.HandleFunc("/api/aggregates/daily", aggHandlers.HandleDaily)

	r.mux.HandleFunc("/api/alerts", alertHandlers.HandleList)
	r.mux.HandleFunc("/api/alerts/", alertHandlers.HandleAlertAction)

	r.mux.HandleFunc("/api/route", routeHandlers.HandleRoute)
	r.mux.HandleFunc("/api/roads", roadHandlers.HandleRoads)

	r.mux.HandleFunc("/api/status", statusHandlers.HandleStatus)
	r.mux.HandleFunc("/api/statistics", statusHandlers.HandleStatistics)
	r.mux.HandleFunc("/api/health", statusHandlers.HandleHealth)

	r.mux.HandleFunc("/api/sms/alert", smsHandlers.HandleAlertSMS)

	r.mux.HandleFunc("/api/notifications/queue", queueHandlers.HandleQueueStats)
	r.mux.HandleFunc("/api/notifications/dlq", queueHandlers.HandleDLQ)
	r.mux.HandleFunc("/api/notifications/dlq/retry", queueHandlers.HandleDLQRetry)
	r.mux.HandleFunc("/api/notifications/dlq/delete", queueHandlers.HandleDLQDelete)

	r.mux.HandleFunc("/api/reports/daily", reportHandlers.HandleDaily)

	// WebSocket endpoint
	r.mux.HandleFunc("/ws", r.handleWebSocket)
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// Add CORS headers if configured
	if r.config.AllowedOrigins != "" {
		w.Header().Set("Access-Control-Allow-Origin", r.config.AllowedOrigins)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	}

	// Handle preflight requests
	if req.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	if strings.HasPrefix(req.URL.Path, "/api/") || strings.HasPrefix(req.URL.Path, "/ws") {
		addSecurityHeaders(w)
	}

	// Log request
	start := time.Now()
	r.mux.ServeHTTP(w, req)
	log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Str("client", utils.ClientIP(req, r.trustProxy)).
		Dur("duration", time.Since(start)).
		Msg("Request handled")
}

// addSecurityHeaders adds security headers to the response
func addSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
}

// handleWebSocket upgrades the connection and hands it to the hub
func (r *Router) handleWebSocket(w http.ResponseWriter, req *http.Request) {
	if r.deps.WSHub == nil {
		http.Error(w, "WebSocket not available", http.StatusServiceUnavailable)
		return
	}
	r.deps.WSHub.HandleWebSocket(w, req)
}
