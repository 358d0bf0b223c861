package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vigiaops/vigia-go/internal/models"
)

// Metric hooks are injected at startup to avoid a hard dependency on the
// metrics package.
var (
	metricsMu       sync.RWMutex
	metricSent      func(channel string)
	metricFailed    func(channel string)
	metricCancelled func(channel string)
	metricLatency   func(channel string, seconds float64)
)

// SetMetricHooks wires delivery outcome counters and the dispatch latency
// observer. Any hook may be nil.
func SetMetricHooks(sent, failed, cancelled func(channel string), latency func(channel string, seconds float64)) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	metricSent = sent
	metricFailed = failed
	metricCancelled = cancelled
	metricLatency = latency
}

func recordSent(channel string) {
	metricsMu.RLock()
	hook := metricSent
	metricsMu.RUnlock()
	if hook != nil {
		hook(channel)
	}
}

func recordFailed(channel string) {
	metricsMu.RLock()
	hook := metricFailed
	metricsMu.RUnlock()
	if hook != nil {
		hook(channel)
	}
}

func recordCancelled(channel string) {
	metricsMu.RLock()
	hook := metricCancelled
	metricsMu.RUnlock()
	if hook != nil {
		hook(channel)
	}
}

func recordLatency(channel string, d time.Duration) {
	metricsMu.RLock()
	hook := metricLatency
	metricsMu.RUnlock()
	if hook != nil {
		hook(channel, d.Seconds())
	}
}

// AlertStore is the slice of the state store the dispatcher touches: alert
// lookup for cancellation checks and the delivery bookkeeping flags.
type AlertStore interface {
	GetAlert(id string) (models.Alert, error)
	SetAlertDelivery(id, channel string) error
	SetAlertFailure(id, reason string) error
	SensorByID(id int64) (models.Sensor, bool)
}

// alertGate keeps at most one job per alert in flight so retries and
// escalation re-sends for the same alert never interleave.
type alertGate struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
}

func newAlertGate() *alertGate {
	return &alertGate{inFlight: make(map[string]struct{})}
}

// tryAcquire claims the alert slot without blocking. Jobs for a busy alert
// stay pending and are retried next round.
func (g *alertGate) tryAcquire(alertID string) (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[alertID]; busy {
		return nil, false
	}
	g.inFlight[alertID] = struct{}{}
	return func() {
		g.mu.Lock()
		delete(g.inFlight, alertID)
		g.mu.Unlock()
	}, true
}

const (
	dispatchPollInterval = 1 * time.Second
	deliveryTimeout      = 45 * time.Second
)

// Dispatcher drains the notification queue with bounded parallelism and
// drives each job through its channel gateway.
type Dispatcher struct {
	queue    *Queue
	store    AlertStore
	gateways map[string]Gateway
	parallel int
	gate     *alertGate

	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDispatcher builds a dispatcher over the queue. parallelism bounds
// concurrent gateway calls.
func NewDispatcher(queue *Queue, store AlertStore, gateways map[string]Gateway, parallelism int) *Dispatcher {
	if parallelism <= 0 {
		parallelism = 5
	}
	return &Dispatcher{
		queue:    queue,
		store:    store,
		gateways: gateways,
		parallel: parallelism,
		gate:     newAlertGate(),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background dispatch loop.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
	log.Info().Int("parallelism", d.parallel).Msg("Notification dispatcher started")
}

// Stop halts the dispatch loop. In-flight deliveries finish first.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
	d.wg.Wait()
}

// EnqueueAlert renders the alert body for the channel and queues the
// delivery. Implements the alert manager's notification sink.
func (d *Dispatcher) EnqueueAlert(alert *models.Alert, channel, recipient string) error {
	unit := ""
	if sensor, ok := d.store.SensorByID(alert.SensorID); ok {
		unit = sensor.Unit
	}
	body := ComposeAlertSMS(alert, unit)

	job, err := d.queue.Enqueue(alert.ID, channel, recipient, body)
	if err != nil {
		return err
	}
	log.Debug().
		Str("job", job.ID).
		Str("alert", alert.ID).
		Str("channel", channel).
		Msg("Notification queued")

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

// CancelForAlert drops all undelivered jobs for a resolved alert.
func (d *Dispatcher) CancelForAlert(alertID string) error {
	n, err := d.queue.CancelByAlertIDs([]string{alertID})
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		recordCancelled("")
	}
	return nil
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	ticker := time.NewTicker(dispatchPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCh:
			return
		case <-ticker.C:
		case <-d.wake:
		}
		d.dispatchRound()
	}
}

// dispatchRound claims due jobs and delivers them, at most one per alert
// and d.parallel at a time.
func (d *Dispatcher) dispatchRound() {
	jobs, err := d.queue.GetPending(d.parallel * 4)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch pending notifications")
		return
	}
	if len(jobs) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(d.parallel)
	for _, job := range jobs {
		release, ok := d.gate.tryAcquire(job.AlertID)
		if !ok {
			continue
		}
		job := job
		g.Go(func() error {
			defer release()
			d.deliver(&job)
			return nil
		})
	}
	g.Wait()
}

func (d *Dispatcher) deliver(job *Job) {
	// Skip delivery when the alert resolved while the job sat in the queue.
	if alert, err := d.store.GetAlert(job.AlertID); err == nil && alert.State == models.AlertResolved {
		if err := d.queue.MarkCancelled(job.ID); err != nil {
			log.Warn().Err(err).Str("job", job.ID).Msg("Failed to cancel notification for resolved alert")
			return
		}
		recordCancelled(job.Channel)
		log.Info().
			Str("job", job.ID).
			Str("alert", job.AlertID).
			Msg("Notification cancelled, alert already resolved")
		return
	}

	claimed, err := d.queue.ClaimSending(job.ID)
	if err != nil {
		log.Error().Err(err).Str("job", job.ID).Msg("Failed to claim notification job")
		return
	}
	if !claimed {
		return
	}
	job.Attempts++

	gw, ok := d.gateways[job.Channel]
	if !ok {
		reason := "no gateway for channel " + job.Channel
		d.failPermanently(job, reason)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	started := time.Now()
	providerID, err := gw.Send(ctx, job)
	cancel()
	recordLatency(job.Channel, time.Since(started))

	switch {
	case err == nil:
		if err := d.queue.MarkSent(job.ID, providerID); err != nil {
			log.Error().Err(err).Str("job", job.ID).Msg("Failed to mark notification sent")
			return
		}
		if err := d.store.SetAlertDelivery(job.AlertID, job.Channel); err != nil {
			log.Warn().Err(err).Str("alert", job.AlertID).Msg("Failed to record delivery on alert")
		}
		recordSent(job.Channel)
		log.Info().
			Str("job", job.ID).
			Str("alert", job.AlertID).
			Str("channel", job.Channel).
			Str("providerID", providerID).
			Int("attempt", job.Attempts).
			Msg("Notification delivered")

	case IsPermanent(err):
		d.failPermanently(job, err.Error())

	default:
		updated, rerr := d.queue.ScheduleRetry(job.ID, err.Error())
		if rerr != nil {
			log.Error().Err(rerr).Str("job", job.ID).Msg("Failed to schedule notification retry")
			return
		}
		if updated.Status == StatusDLQ {
			if serr := d.store.SetAlertFailure(job.AlertID, err.Error()); serr != nil {
				log.Warn().Err(serr).Str("alert", job.AlertID).Msg("Failed to record delivery failure on alert")
			}
			recordFailed(job.Channel)
			return
		}
		log.Warn().
			Err(err).
			Str("job", job.ID).
			Str("alert", job.AlertID).
			Int("attempt", job.Attempts).
			Time("nextRetry", updated.NextRetryAt).
			Msg("Notification delivery failed, retry scheduled")
	}
}

func (d *Dispatcher) failPermanently(job *Job, reason string) {
	if err := d.queue.MarkFailed(job.ID, reason); err != nil {
		log.Error().Err(err).Str("job", job.ID).Msg("Failed to mark notification failed")
		return
	}
	if err := d.store.SetAlertFailure(job.AlertID, reason); err != nil {
		log.Warn().Err(err).Str("alert", job.AlertID).Msg("Failed to record delivery failure on alert")
	}
	recordFailed(job.Channel)
	log.Error().
		Str("job", job.ID).
		Str("alert", job.AlertID).
		Str("channel", job.Channel).
		Str("reason", reason).
		Msg("Notification permanently failed")
}
