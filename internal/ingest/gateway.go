// Package ingest is the single entry point for sensor observations. It
// validates and rate-limits each reading, serializes the pipeline per
// sensor, persists through the time store, and fans out to the aggregator
// and the alert evaluator under the ingest deadline.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vigiaops/vigia-go/internal/config"
	verrors "github.com/vigiaops/vigia-go/internal/errors"
	"github.com/vigiaops/vigia-go/internal/models"
	"github.com/vigiaops/vigia-go/pkg/timestore"
)

// WarnEvaluationDeferred is attached to accepted ingests whose alert
// evaluation missed the deadline and completes in the background.
const WarnEvaluationDeferred = "EvaluationDeferred"

// WarnQualityDowngraded is attached when an out-of-range reading on a
// non-strict sensor is kept with quality lowered to suspect.
const WarnQualityDowngraded = "QualityDowngraded"

// Request is one inbound observation before validation.
type Request struct {
	SensorID  int64             `json:"sensorId"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit,omitempty"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
	Quality   string            `json:"quality,omitempty"`
	Telemetry *models.Telemetry `json:"sidecar,omitempty"`
}

// Result reports the outcome of an accepted ingest.
type Result struct {
	Accepted          bool           `json:"accepted"`
	AssignedTimestamp time.Time      `json:"assignedTimestamp"`
	Seq               int64          `json:"seq"`
	Late              bool           `json:"late,omitempty"`
	Quality           models.Quality `json:"quality"`
	Warnings          []string       `json:"warnings,omitempty"`
}

// Catalog resolves sensors for validation.
type Catalog interface {
	SensorByID(id int64) (models.Sensor, bool)
}

// Aggregator consumes accepted observations for bucket maintenance.
type Aggregator interface {
	Feed(obs models.Observation)
}

// Evaluator runs the alert rules against an accepted observation.
type Evaluator interface {
	Evaluate(sensor models.Sensor, obs models.Observation)
}

// Metric hooks, wired at startup.
var (
	hookMu       sync.RWMutex
	hookAccepted func()
	hookRejected func(reason string)
	hookDeferred func()
)

// SetMetricHooks registers ingest outcome counters. Hooks may be nil.
func SetMetricHooks(accepted func(), rejected func(reason string), deferred func()) {
	hookMu.Lock()
	defer hookMu.Unlock()
	hookAccepted = accepted
	hookRejected = rejected
	hookDeferred = deferred
}

func recordAccepted() {
	hookMu.RLock()
	hook := hookAccepted
	hookMu.RUnlock()
	if hook != nil {
		hook()
	}
}

func recordRejected(reason string) {
	hookMu.RLock()
	hook := hookRejected
	hookMu.RUnlock()
	if hook != nil {
		hook(reason)
	}
}

func recordDeferred() {
	hookMu.RLock()
	hook := hookDeferred
	hookMu.RUnlock()
	if hook != nil {
		hook()
	}
}

// Gateway validates, throttles and persists observations, then feeds the
// aggregation and alerting pipelines.
type Gateway struct {
	catalog   Catalog
	store     *timestore.Store
	agg       Aggregator
	evaluator Evaluator

	deadline time.Duration
	limiter  *sensorLimiter
	gate     *sensorGate

	deferred chan evalJob
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type evalJob struct {
	sensor models.Sensor
	obs    models.Observation
}

// New builds the gateway. agg and evaluator may be nil in tests.
func New(cfg *config.Config, catalog Catalog, store *timestore.Store, agg Aggregator, evaluator Evaluator) *Gateway {
	g := &Gateway{
		catalog:   catalog,
		store:     store,
		agg:       agg,
		evaluator: evaluator,
		deadline:  cfg.EvalDeadline,
		limiter:   newSensorLimiter(cfg.IngestRateHz, cfg.IngestBurst),
		gate:      newSensorGate(),
		deferred:  make(chan evalJob, 1024),
		stopCh:    make(chan struct{}),
	}
	if g.deadline <= 0 {
		g.deadline = 2 * time.Second
	}
	g.wg.Add(1)
	go g.drainDeferred()
	return g
}

// Stop halts the background evaluation drain.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() {
		close(g.stopCh)
	})
	g.limiter.shutdown()
	g.wg.Wait()
}

// Ingest runs the full pipeline for one observation. Rejected observations
// are never written.
func (g *Gateway) Ingest(ctx context.Context, req Request) (Result, error) {
	const op = "ingest.Ingest"

	sensor, ok := g.catalog.SensorByID(req.SensorID)
	if !ok {
		recordRejected("unknown_sensor")
		return Result{}, verrors.UnknownSensor(op, req.SensorID)
	}
	if !models.IsKnownKind(sensor.Kind) {
		recordRejected("unsupported_kind")
		return Result{}, verrors.New(verrors.KindValidation, op,
			fmt.Errorf("sensor %d has unsupported kind %q", sensor.ID, sensor.Kind)).WithSensor(sensor.ID)
	}
	if sensor.Status != models.SensorActive {
		recordRejected("sensor_" + string(sensor.Status))
		return Result{}, verrors.New(verrors.KindValidation, op,
			fmt.Errorf("sensor %d is %s", sensor.ID, sensor.Status)).WithSensor(sensor.ID)
	}

	if !g.limiter.allow(sensor.ID) {
		recordRejected("rate_limited")
		return Result{}, verrors.New(verrors.KindRateLimited, op,
			fmt.Errorf("sensor %d exceeded ingest rate", sensor.ID)).WithSensor(sensor.ID)
	}

	release := g.gate.acquire(sensor.ID)
	defer release()

	obs, err := g.buildObservation(op, sensor, req)
	if err != nil {
		return Result{}, err
	}

	requested := obs.Quality
	res, err := g.store.Append(ctx, obs)
	if err != nil {
		recordRejected(rejectReason(err))
		return Result{}, err
	}
	obs.Seq = res.Seq
	obs.Timestamp = res.Assigned
	obs.Late = res.Late
	obs.Quality = res.Quality

	var warnings []string
	if res.Quality == models.QualitySuspect && requested != models.QualitySuspect {
		warnings = append(warnings, WarnQualityDowngraded)
	}

	deferredEval := g.fanOut(ctx, sensor, obs)
	if deferredEval {
		warnings = append(warnings, WarnEvaluationDeferred)
		recordDeferred()
	}

	recordAccepted()
	return Result{
		Accepted:          true,
		AssignedTimestamp: res.Assigned,
		Seq:               res.Seq,
		Late:              res.Late,
		Quality:           res.Quality,
		Warnings:          warnings,
	}, nil
}

// buildObservation normalizes the payload. Range and horizon checks are
// the time store's responsibility at append time.
func (g *Gateway) buildObservation(op string, sensor models.Sensor, req Request) (models.Observation, error) {
	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}

	quality := models.QualityGood
	switch req.Quality {
	case "", string(models.QualityGood):
	case string(models.QualityFair):
		quality = models.QualityFair
	case string(models.QualityPoor):
		quality = models.QualityPoor
	case string(models.QualitySuspect):
		quality = models.QualitySuspect
	default:
		recordRejected("invalid_quality")
		return models.Observation{}, verrors.New(verrors.KindValidation, op,
			fmt.Errorf("unknown quality %q", req.Quality)).WithSensor(sensor.ID)
	}

	unit := req.Unit
	if unit == "" {
		unit = sensor.Unit
	}

	return models.Observation{
		SensorID:  sensor.ID,
		Kind:      sensor.Kind,
		Timestamp: ts,
		Value:     req.Value,
		Unit:      unit,
		Quality:   quality,
		Telemetry: req.Telemetry,
	}, nil
}

// fanOut runs aggregation and alert evaluation in parallel, bounded by the
// ingest deadline. Returns true when evaluation could not finish in time;
// the in-flight work then completes asynchronously, or is handed to the
// deferred drain if it never started.
func (g *Gateway) fanOut(ctx context.Context, sensor models.Sensor, obs models.Observation) bool {
	evalCtx, cancel := context.WithTimeout(ctx, g.deadline)

	var eg errgroup.Group
	eg.Go(func() error {
		if g.agg != nil {
			g.agg.Feed(obs)
		}
		return nil
	})
	eg.Go(func() error {
		if g.evaluator == nil {
			return nil
		}
		if evalCtx.Err() != nil {
			// Deadline passed before the evaluation started; hand it to the
			// background drain instead of blowing the ingest budget.
			g.requeue(sensor, obs)
			return nil
		}
		g.evaluator.Evaluate(sensor, obs)
		return nil
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		eg.Wait()
	}()

	select {
	case <-done:
		cancel()
		return false
	case <-evalCtx.Done():
		// The pipeline keeps running; release the deadline once it ends.
		go func() {
			<-done
			cancel()
		}()
		log.Warn().
			Int64("sensorID", sensor.ID).
			Dur("deadline", g.deadline).
			Msg("Observation evaluation missed the ingest deadline")
		return true
	}
}

func (g *Gateway) requeue(sensor models.Sensor, obs models.Observation) {
	select {
	case g.deferred <- evalJob{sensor: sensor, obs: obs}:
	default:
		log.Error().
			Int64("sensorID", sensor.ID).
			Msg("Deferred evaluation queue full, dropping evaluation")
	}
}

// drainDeferred evaluates observations whose ingest-path evaluation was
// rescheduled.
func (g *Gateway) drainDeferred() {
	defer g.wg.Done()
	for {
		select {
		case job := <-g.deferred:
			if g.evaluator != nil {
				g.evaluator.Evaluate(job.sensor, job.obs)
			}
		case <-g.stopCh:
			return
		}
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, verrors.ErrStaleAppend):
		return "stale_append"
	case errors.Is(err, verrors.ErrOutOfRange):
		return "out_of_range"
	default:
		return "backend"
	}
}
