// Package aggregate maintains hourly and daily statistics per sensor.
// Observations fold into hot in-memory buckets on arrival; late or
// replayed data falls back to a coalesced recompute that rebuilds the
// whole bucket from storage, so aggregates stay correct no matter how
// often or in what order rows arrive.
package aggregate

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vigiaops/vigia-go/internal/config"
	"github.com/vigiaops/vigia-go/internal/models"
	"github.com/vigiaops/vigia-go/pkg/timestore"
)

// Config holds engine tuning.
type Config struct {
	FlushInterval time.Duration // how often dirty buckets persist
	RetryBase     time.Duration // first recompute retry delay
	RetryCap      time.Duration // max recompute retry delay
	MaxAttempts   int           // recompute attempts before giving up
	RollingWindow time.Duration // rapid-change window width
}

// DefaultEngineConfig returns the production defaults.
func DefaultEngineConfig() Config {
	return Config{
		FlushInterval: 5 * time.Second,
		RetryBase:     time.Second,
		RetryCap:      5 * time.Minute,
		MaxAttempts:   8,
		RollingWindow: time.Hour,
	}
}

const (
	hotHourTTL = 6 * time.Hour
	hotDayTTL  = 48 * time.Hour
)

type bucketKey struct {
	sensorID int64
	start    int64 // unix ms
}

// Engine is the aggregation pipeline.
type Engine struct {
	cfg        Config
	store      *timestore.Store
	thresholds *config.ThresholdStore

	mu      sync.Mutex
	hours   map[bucketKey]*hourState
	days    map[bucketKey]*dayState
	rolling map[int64]*rollingWindow

	queue *RecomputeQueue

	failedRecomputes atomic.Int64
	lastError        atomic.Value // string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine wires the engine to its observation store and thresholds.
func NewEngine(cfg Config, store *timestore.Store, thresholds *config.ThresholdStore) *Engine {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.RetryCap <= 0 {
		cfg.RetryCap = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 8
	}
	if cfg.RollingWindow <= 0 {
		cfg.RollingWindow = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:        cfg,
		store:      store,
		thresholds: thresholds,
		hours:      make(map[bucketKey]*hourState),
		days:       make(map[bucketKey]*dayState),
		rolling:    make(map[int64]*rollingWindow),
		queue:      NewRecomputeQueue(),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the flush and recompute workers.
func (e *Engine) Start() {
	e.wg.Add(2)
	go e.runFlusher()
	go e.runRecomputeWorker()
	log.Info().
		Dur("flushInterval", e.cfg.FlushInterval).
		Dur("rollingWindow", e.cfg.RollingWindow).
		Msg("Aggregation engine started")
}

// Stop drains the workers and persists remaining dirty buckets.
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()
	e.flushDirty()
}

// Feed folds one observation into its hour and day buckets. Late data and
// replays schedule a bucket rebuild from storage instead of an online
// update, which keeps aggregates correct under re-delivery.
func (e *Engine) Feed(obs models.Observation) {
	obs.Timestamp = obs.Timestamp.UTC()
	hourStart := obs.HourBucket()
	dayStart := obs.DayBucket()
	hk := bucketKey{sensorID: obs.SensorID, start: hourStart.UnixMilli()}
	dk := bucketKey{sensorID: obs.SensorID, start: dayStart.UnixMilli()}

	overLimit := false
	if th, ok := e.thresholds.For(obs.Kind); ok && obs.Value > th.Max {
		overLimit = true
	}

	var schedule []RecomputeTask
	now := time.Now().UTC()

	e.mu.Lock()
	h, hot := e.hours[hk]
	switch {
	case !hot:
		// First touch: the bucket may already have rows in storage
		// (process restart, retention edge). Rebuild it from storage
		// rather than starting a fresh count.
		h = &hourState{sensorID: obs.SensorID, bucketStart: hourStart, pending: true, highSeq: obs.Seq}
		e.hours[hk] = h
		schedule = append(schedule, RecomputeTask{SensorID: obs.SensorID, Granularity: GranHour, BucketStart: hourStart, NextRun: now})
	case obs.Late || (obs.Seq != 0 && obs.Seq <= h.highSeq):
		h.pending = true
		if obs.Seq > h.highSeq {
			h.highSeq = obs.Seq
		}
		schedule = append(schedule, RecomputeTask{SensorID: obs.SensorID, Granularity: GranHour, BucketStart: hourStart, NextRun: now})
	case h.pending:
		// A rebuild is in flight and will pick this row up from
		// storage; only advance the high-water mark.
		if obs.Seq > h.highSeq {
			h.highSeq = obs.Seq
		}
	default:
		h.fold(obs)
	}

	d, dHot := e.days[dk]
	switch {
	case !dHot:
		d = newDayState(obs.SensorID, dayStart)
		d.pending = true
		d.highSeq = obs.Seq
		e.days[dk] = d
		schedule = append(schedule, RecomputeTask{SensorID: obs.SensorID, Granularity: GranDay, BucketStart: dayStart, NextRun: now})
	case obs.Late || (obs.Seq != 0 && obs.Seq <= d.highSeq):
		d.pending = true
		if obs.Seq > d.highSeq {
			d.highSeq = obs.Seq
		}
		schedule = append(schedule, RecomputeTask{SensorID: obs.SensorID, Granularity: GranDay, BucketStart: dayStart, NextRun: now})
	case d.pending:
		if obs.Seq > d.highSeq {
			d.highSeq = obs.Seq
		}
	default:
		d.fold(obs, overLimit)
	}

	w, ok := e.rolling[obs.SensorID]
	if !ok {
		w = newRollingWindow(e.cfg.RollingWindow)
		e.rolling[obs.SensorID] = w
	}
	w.add(obs.Timestamp, obs.Value)
	e.mu.Unlock()

	for _, task := range schedule {
		e.queue.Upsert(task)
	}
}

// ScheduleRecompute queues a rebuild of the buckets containing ts.
func (e *Engine) ScheduleRecompute(sensorID int64, ts time.Time) {
	ts = ts.UTC()
	now := time.Now().UTC()
	e.queue.Upsert(RecomputeTask{SensorID: sensorID, Granularity: GranHour, BucketStart: ts.Truncate(time.Hour), NextRun: now})
	day := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	e.queue.Upsert(RecomputeTask{SensorID: sensorID, Granularity: GranDay, BucketStart: day, NextRun: now})
}

// RollingStats returns the rapid-change window summary for a sensor.
func (e *Engine) RollingStats(sensorID int64) (RollingStats, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.rolling[sensorID]
	if !ok {
		return RollingStats{}, false
	}
	return w.stats(), true
}

// Hourly returns hourly aggregates for [from, to), persisted rows merged
// with hot unflushed buckets.
func (e *Engine) Hourly(ctx context.Context, sensorID int64, from, to time.Time) ([]models.HourlyAggregate, error) {
	persisted, err := e.store.QueryHourly(ctx, sensorID, from, to)
	if err != nil {
		return nil, err
	}
	byBucket := make(map[int64]models.HourlyAggregate, len(persisted))
	for _, a := range persisted {
		byBucket[a.BucketStart.UnixMilli()] = a
	}

	now := time.Now().UTC()
	e.mu.Lock()
	for k, h := range e.hours {
		if k.sensorID != sensorID || !h.dirty || h.pending || h.count == 0 {
			continue
		}
		if h.bucketStart.Before(from) || !h.bucketStart.Before(to) {
			continue
		}
		byBucket[k.start] = h.aggregate(now)
	}
	e.mu.Unlock()

	out := make([]models.HourlyAggregate, 0, len(byBucket))
	for _, a := range byBucket {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart.Before(out[j].BucketStart) })
	return out, nil
}

// Daily returns daily aggregates for [from, to) with the same hot merge.
func (e *Engine) Daily(ctx context.Context, sensorID int64, from, to time.Time) ([]models.DailyAggregate, error) {
	persisted, err := e.store.QueryDaily(ctx, sensorID, from, to)
	if err != nil {
		return nil, err
	}
	byBucket := make(map[int64]models.DailyAggregate, len(persisted))
	for _, a := range persisted {
		byBucket[a.BucketStart.UnixMilli()] = a
	}

	now := time.Now().UTC()
	e.mu.Lock()
	for k, d := range e.days {
		if k.sensorID != sensorID || !d.dirty || d.pending || d.count == 0 {
			continue
		}
		if d.bucketStart.Before(from) || !d.bucketStart.Before(to) {
			continue
		}
		byBucket[k.start] = d.aggregate(now)
	}
	e.mu.Unlock()

	out := make([]models.DailyAggregate, 0, len(byBucket))
	for _, a := range byBucket {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart.Before(out[j].BucketStart) })
	return out, nil
}

func (e *Engine) runFlusher() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.flushDirty()
			e.pruneHotBuckets()
		}
	}
}

func (e *Engine) flushDirty() {
	now := time.Now().UTC()
	var hourly []models.HourlyAggregate
	var hourKeys []bucketKey
	var daily []models.DailyAggregate
	var dayKeys []bucketKey

	e.mu.Lock()
	for k, h := range e.hours {
		if h.dirty && !h.pending && h.count > 0 {
			hourly = append(hourly, h.aggregate(now))
			hourKeys = append(hourKeys, k)
			h.dirty = false
		}
	}
	for k, d := range e.days {
		if d.dirty && !d.pending && d.count > 0 {
			daily = append(daily, d.aggregate(now))
			dayKeys = append(dayKeys, k)
			d.dirty = false
		}
	}
	e.mu.Unlock()

	for i, agg := range hourly {
		if err := e.store.ReplaceHourly(agg); err != nil {
			log.Warn().Err(err).
				Int64("sensorId", agg.SensorID).
				Time("bucket", agg.BucketStart).
				Msg("Failed to persist hourly aggregate")
			e.mu.Lock()
			if h, ok := e.hours[hourKeys[i]]; ok {
				h.dirty = true
			}
			e.mu.Unlock()
		}
	}
	for i, agg := range daily {
		if err := e.store.ReplaceDaily(agg); err != nil {
			log.Warn().Err(err).
				Int64("sensorId", agg.SensorID).
				Time("bucket", agg.BucketStart).
				Msg("Failed to persist daily aggregate")
			e.mu.Lock()
			if d, ok := e.days[dayKeys[i]]; ok {
				d.dirty = true
			}
			e.mu.Unlock()
		}
	}
}

func (e *Engine) pruneHotBuckets() {
	now := time.Now().UTC()
	e.mu.Lock()
	for k, h := range e.hours {
		if !h.dirty && !h.pending && now.Sub(h.bucketStart) > hotHourTTL {
			delete(e.hours, k)
		}
	}
	for k, d := range e.days {
		if !d.dirty && !d.pending && now.Sub(d.bucketStart) > hotDayTTL {
			delete(e.days, k)
		}
	}
	e.mu.Unlock()
}

func (e *Engine) runRecomputeWorker() {
	defer e.wg.Done()

	for {
		task, ok := e.queue.WaitNext(e.ctx)
		if !ok {
			return
		}
		err := e.recompute(task)
		if err == nil {
			recordRecompute("ok")
			continue
		}
		task.Attempts++
		if task.Attempts >= e.cfg.MaxAttempts {
			e.failedRecomputes.Add(1)
			e.lastError.Store(err.Error())
			recordRecompute("failed")
			log.Error().Err(err).
				Int64("sensorId", task.SensorID).
				Str("granularity", string(task.Granularity)).
				Time("bucket", task.BucketStart).
				Int("attempts", task.Attempts).
				Msg("Bucket recompute gave up")
			continue
		}
		task.NextRun = time.Now().Add(e.retryDelay(task.Attempts))
		recordRecompute("retry")
		e.queue.Upsert(task)
	}
}

func (e *Engine) retryDelay(attempts int) time.Duration {
	delay := e.cfg.RetryBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= e.cfg.RetryCap {
			return e.cfg.RetryCap
		}
	}
	if delay > e.cfg.RetryCap {
		delay = e.cfg.RetryCap
	}
	return delay
}

// recompute rebuilds one bucket from storage and atomically replaces both
// the persisted row and the hot state.
func (e *Engine) recompute(task RecomputeTask) error {
	from := task.BucketStart
	var to time.Time
	if task.Granularity == GranHour {
		to = from.Add(time.Hour)
	} else {
		to = from.AddDate(0, 0, 1)
	}

	rows, err := e.store.ScanBucket(e.ctx, task.SensorID, from, to)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	if task.Granularity == GranHour {
		st := &hourState{sensorID: task.SensorID, bucketStart: from}
		for _, o := range rows {
			st.welfordState.fold(o.Value, o.Timestamp.UTC())
			if o.Seq > st.highSeq {
				st.highSeq = o.Seq
			}
		}
		if st.count == 0 {
			if err := e.store.DeleteHourly(task.SensorID, from); err != nil {
				return err
			}
		} else if err := e.store.ReplaceHourly(st.aggregate(now)); err != nil {
			return err
		}
		e.installHourState(task, st)
		return nil
	}

	st := newDayState(task.SensorID, from)
	for _, o := range rows {
		over := false
		if th, ok := e.thresholds.For(o.Kind); ok && o.Value > th.Max {
			over = true
		}
		st.welfordState.fold(o.Value, o.Timestamp.UTC())
		if over {
			st.overHours[o.HourBucket()] = struct{}{}
		}
		if o.Seq > st.highSeq {
			st.highSeq = o.Seq
		}
	}
	if st.count == 0 {
		if err := e.store.DeleteDaily(task.SensorID, from); err != nil {
			return err
		}
	} else if err := e.store.ReplaceDaily(st.aggregate(now)); err != nil {
		return err
	}
	e.installDayState(task, st)
	return nil
}

func (e *Engine) installHourState(task RecomputeTask, st *hourState) {
	k := bucketKey{sensorID: task.SensorID, start: task.BucketStart.UnixMilli()}
	var rescan bool
	e.mu.Lock()
	if prior, ok := e.hours[k]; ok && prior.highSeq > st.highSeq {
		// Rows arrived while the scan ran; rebuild again.
		st.highSeq = prior.highSeq
		st.pending = true
		rescan = true
	}
	e.hours[k] = st
	e.mu.Unlock()
	if rescan {
		e.queue.Upsert(RecomputeTask{SensorID: task.SensorID, Granularity: GranHour, BucketStart: task.BucketStart, NextRun: time.Now()})
	}
}

func (e *Engine) installDayState(task RecomputeTask, st *dayState) {
	k := bucketKey{sensorID: task.SensorID, start: task.BucketStart.UnixMilli()}
	var rescan bool
	e.mu.Lock()
	if prior, ok := e.days[k]; ok && prior.highSeq > st.highSeq {
		st.highSeq = prior.highSeq
		st.pending = true
		rescan = true
	}
	e.days[k] = st
	e.mu.Unlock()
	if rescan {
		e.queue.Upsert(RecomputeTask{SensorID: task.SensorID, Granularity: GranDay, BucketStart: task.BucketStart, NextRun: time.Now()})
	}
}

// EngineStats surfaces aggregation health.
type EngineStats struct {
	HotHourBuckets    int    `json:"hotHourBuckets"`
	HotDayBuckets     int    `json:"hotDayBuckets"`
	PendingRecomputes int    `json:"pendingRecomputes"`
	FailedRecomputes  int64  `json:"failedRecomputes"`
	LastError         string `json:"lastError,omitempty"`
}

// Stats returns a snapshot of engine health.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	hours := len(e.hours)
	days := len(e.days)
	e.mu.Unlock()

	stats := EngineStats{
		HotHourBuckets:    hours,
		HotDayBuckets:     days,
		PendingRecomputes: e.queue.Size(),
		FailedRecomputes:  e.failedRecomputes.Load(),
	}
	if v := e.lastError.Load(); v != nil {
		stats.LastError = v.(string)
	}
	return stats
}
