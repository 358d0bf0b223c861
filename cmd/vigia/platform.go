package main

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/vigiaops/vigia-go/internal/aggregate"
	"github.com/vigiaops/vigia-go/internal/alerting"
	"github.com/vigiaops/vigia-go/internal/api"
	"github.com/vigiaops/vigia-go/internal/config"
	"github.com/vigiaops/vigia-go/internal/evacuation"
	"github.com/vigiaops/vigia-go/internal/health"
	"github.com/vigiaops/vigia-go/internal/ingest"
	"github.com/vigiaops/vigia-go/internal/metrics"
	"github.com/vigiaops/vigia-go/internal/models"
	"github.com/vigiaops/vigia-go/internal/notifications"
	"github.com/vigiaops/vigia-go/internal/statestore"
	"github.com/vigiaops/vigia-go/internal/utils"
	"github.com/vigiaops/vigia-go/internal/websocket"
	"github.com/vigiaops/vigia-go/pkg/geoindex"
	"github.com/vigiaops/vigia-go/pkg/roadgraph"
	"github.com/vigiaops/vigia-go/pkg/timestore"
)

// platform owns every long-lived subsystem and their shutdown order.
type platform struct {
	cfg *config.Config

	state      *statestore.Store
	tstore     *timestore.Store
	thresholds *config.ThresholdStore
	engine     *aggregate.Engine
	queue      *notifications.Queue
	dispatcher *notifications.Dispatcher
	manager    *alerting.Manager
	gateway    *ingest.Gateway
	monitor    *health.Monitor
	hub        *websocket.Hub
	watcher    *config.ThresholdsWatcher

	handler http.Handler
}

// buildPlatform constructs the full pipeline in dependency order: storage,
// aggregation, notifications, alerting, ingest, then the HTTP surface.
func buildPlatform(cfg *config.Config) (*platform, error) {
	geo := geoindex.New()
	roads := roadgraph.New()

	state, err := statestore.New(filepath.Join(cfg.DataPath, "state.db"), geo, roads)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	tsCfg := timestore.DefaultConfig(cfg.DataPath)
	if cfg.ChunkInterval > 0 {
		tsCfg.ChunkInterval = cfg.ChunkInterval
	}
	if cfg.LatenessHorizon > 0 {
		tsCfg.LatenessHorizon = cfg.LatenessHorizon
	}
	if cfg.ClosureHorizon > 0 {
		tsCfg.ClosureHorizon = cfg.ClosureHorizon
	}
	tstore, err := timestore.NewStore(tsCfg, state)
	if err != nil {
		state.Close()
		return nil, fmt.Errorf("open observation store: %w", err)
	}

	thresholds := config.NewThresholdStore(cfg.Thresholds)
	engine := aggregate.NewEngine(aggregate.DefaultEngineConfig(), tstore, thresholds)

	queue, err := notifications.NewQueue(cfg.DataPath, cfg.DispatchRetry)
	if err != nil {
		tstore.Close()
		state.Close()
		return nil, fmt.Errorf("open notification queue: %w", err)
	}
	dispatcher := notifications.NewDispatcher(queue, state, notifications.BuildGateways(cfg), cfg.DispatchParallelism)

	manager := alerting.NewManager(cfg, thresholds, state, geo, engine, dispatcher)
	gateway := ingest.New(cfg, state, tstore, engine, manager)

	planner := evacuation.NewPlanner(state, roads)
	monitor := health.NewMonitor(state, tstore, manager, cfg.DataPath)

	hub := websocket.NewHub(func() interface{} {
		stats, err := monitor.Statistics(context.Background())
		if err != nil {
			log.Warn().Err(err).Msg("Initial state snapshot failed")
			return nil
		}
		return stats
	})
	configureHubOrigins(hub, cfg)
	hub.SetTrustedProxyChecker(func(ip string) bool {
		return utils.IsTrustedNetwork(ip, cfg.TrustedProxyList())
	})

	// Live clients learn about alert transitions as they happen.
	manager.SetAlertCallback(func(alert *models.Alert) {
		hub.BroadcastAlert(alert)
	})
	manager.SetResolvedCallback(hub.BroadcastAlertResolved)

	p := &platform{
		cfg:        cfg,
		state:      state,
		tstore:     tstore,
		thresholds: thresholds,
		engine:     engine,
		queue:      queue,
		dispatcher: dispatcher,
		manager:    manager,
		gateway:    gateway,
		monitor:    monitor,
		hub:        hub,
	}
	p.handler = api.NewRouter(api.Deps{
		Config:     cfg,
		Gateway:    gateway,
		TimeStore:  tstore,
		StateStore: state,
		Aggregates: engine,
		Alerts:     manager,
		Geo:        geo,
		Planner:    planner,
		Monitor:    monitor,
		Dispatcher: dispatcher,
		Queue:      queue,
		WSHub:      hub,
	})
	return p, nil
}

// Start launches the background loops. The context cancels the maintenance
// loops; subsystem goroutines stop through Stop.
func (p *platform) Start(ctx context.Context) {
	go p.hub.Run()
	p.engine.Start()
	p.dispatcher.Start()
	p.startThresholdsWatcher()
	go p.retentionLoop(ctx)
	go p.statusLoop(ctx)
}

// Stop shuts the pipeline down front to back: ingest first so nothing new
// enters, stores last so in-flight work can still drain.
func (p *platform) Stop() {
	if p.watcher != nil {
		p.watcher.Stop()
	}
	p.gateway.Stop()
	p.engine.Stop()
	p.dispatcher.Stop()
	p.queue.Stop()
	p.hub.Stop()
	p.tstore.Close()
	p.state.Close()
}

func (p *platform) startThresholdsWatcher() {
	watcher, err := config.NewThresholdsWatcher(p.cfg.ThresholdsFile)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create thresholds watcher, file changes will require restart")
		return
	}
	watcher.SetReloadCallback(func(limits map[models.SensorKind]config.Thresholds) {
		p.thresholds.ReplaceAll(limits)
		log.Info().Int("kinds", len(limits)).Msg("Thresholds reloaded from file")
	})
	if err := watcher.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start thresholds watcher")
		return
	}
	p.watcher = watcher
}

// reloadThresholds re-reads the thresholds file on demand (SIGHUP).
func (p *platform) reloadThresholds() error {
	limits, err := config.LoadThresholdsFile(p.cfg.ThresholdsFile)
	if err != nil {
		return err
	}
	p.thresholds.ReplaceAll(limits)
	log.Info().Int("kinds", len(limits)).Msg("Thresholds reloaded")
	return nil
}

func configureHubOrigins(hub *websocket.Hub, cfg *config.Config) {
	if cfg.AllowedOrigins == "" {
		// No explicit origins: the hub falls back to its lenient check for
		// local and private networks.
		hub.SetAllowedOrigins([]string{})
		return
	}
	if cfg.AllowedOrigins == "*" {
		// Explicit wildcard - allow all origins (less secure)
		hub.SetAllowedOrigins([]string{"*"})
		return
	}
	hub.SetAllowedOrigins(strings.Split(cfg.AllowedOrigins, ","))
}

// wireMetricHooks connects the Prometheus collectors to the pipeline
// counters without making the packages depend on the metrics registry.
func wireMetricHooks() {
	ingest.SetMetricHooks(
		metrics.RecordIngestAccepted,
		metrics.RecordIngestRejected,
		metrics.RecordIngestDeferred,
	)
	aggregate.SetMetricHooks(
		metrics.RecordRecompute,
		metrics.SetRecomputeQueueDepth,
	)
	alerting.SetMetricHooks(
		metrics.RecordAlertFired,
		metrics.RecordAlertEscalated,
		metrics.RecordAlertResolved,
		metrics.RecordAlertAcknowledged,
	)
	notifications.SetMetricHooks(
		metrics.RecordNotificationSent,
		metrics.RecordNotificationFailed,
		metrics.RecordNotificationCancelled,
		metrics.ObserveDispatchLatency,
	)
	log.Info().Msg("Metric hooks registered")
}
