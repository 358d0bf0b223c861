package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vigiaops/vigia-go/internal/aggregate"
	"github.com/vigiaops/vigia-go/internal/alerting"
	"github.com/vigiaops/vigia-go/internal/config"
	"github.com/vigiaops/vigia-go/internal/evacuation"
	"github.com/vigiaops/vigia-go/internal/health"
	"github.com/vigiaops/vigia-go/internal/ingest"
	"github.com/vigiaops/vigia-go/internal/models"
	"github.com/vigiaops/vigia-go/internal/notifications"
	"github.com/vigiaops/vigia-go/internal/statestore"
	"github.com/vigiaops/vigia-go/internal/websocket"
	"github.com/vigiaops/vigia-go/pkg/geoindex"
	"github.com/vigiaops/vigia-go/pkg/roadgraph"
	"github.com/vigiaops/vigia-go/pkg/timestore"
)

type testEnv struct {
	srv    *httptest.Server
	state  *statestore.Store
	tstore *timestore.Store
}

// newTestEnv assembles the full platform on temp storage, mirroring the
// serve command's wiring.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		AllowedOrigins:      "*",
		DataPath:            dir,
		Thresholds:          config.DefaultThresholds(),
		SustainedMinutes:    5,
		HysteresisMinutes:   10,
		HysteresisBand:      1.0,
		RapidChangeK:        3.0,
		RapidChangeCritical: 4.0,
		ShelterCandidates:   5,
		Routing: []config.RoutingRule{
			{Channel: "sms", Recipient: "+351912000001", Severities: []string{"critical", "high"}, SensorPattern: "*"},
		},
		IngestRateHz:  100,
		IngestBurst:   100,
		EvalDeadline:  2 * time.Second,
		IngestMaxBody: 64 * 1024,
	}

	geo := geoindex.New()
	roads := roadgraph.New()
	state, err := statestore.New(filepath.Join(dir, "state.db"), geo, roads)
	if err != nil {
		t.Fatalf("statestore.New: %v", err)
	}
	t.Cleanup(func() { state.Close() })

	tstore, err := timestore.NewStore(timestore.DefaultConfig(dir), state)
	if err != nil {
		t.Fatalf("timestore.NewStore: %v", err)
	}
	t.Cleanup(func() { tstore.Close() })

	thresholds := config.NewThresholdStore(cfg.Thresholds)
	engine := aggregate.NewEngine(aggregate.DefaultEngineConfig(), tstore, thresholds)
	engine.Start()
	t.Cleanup(engine.Stop)

	queue, err := notifications.NewQueue(dir, config.RetryPolicy{
		Base: time.Second, Factor: 2, Jitter: 0, MaxAttempts: 3, Cap: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("notifications.NewQueue: %v", err)
	}
	t.Cleanup(queue.Stop)

	dispatcher := notifications.NewDispatcher(queue, state, notifications.BuildGateways(cfg), 2)
	dispatcher.Start()
	t.Cleanup(dispatcher.Stop)

	manager := alerting.NewManager(cfg, thresholds, state, geo, engine, dispatcher)
	gateway := ingest.New(cfg, state, tstore, engine, manager)
	t.Cleanup(gateway.Stop)

	planner := evacuation.NewPlanner(state, roads)
	monitor := health.NewMonitor(state, tstore, manager, dir)

	hub := websocket.NewHub(func() interface{} {
		stats, err := monitor.Statistics(context.Background())
		if err != nil {
			return nil
		}
		return stats
	})
	go hub.Run()
	t.Cleanup(hub.Stop)

	handler := NewRouter(Deps{
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
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, state: state, tstore: tstore}
}

func (env *testEnv) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	resp, err := http.Post(env.srv.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (env *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(env.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func (env *testEnv) registerSensor(t *testing.T) models.Sensor {
	t.Helper()
	resp := env.post(t, "/api/sensors", models.Sensor{
		ID: 1, Name: "parque-temp-01", Kind: models.KindTemperature,
		Status: models.SensorActive, Unit: "C",
		MinValue: -40, MaxValue: 80,
		Location: models.GeoPoint{Lat: 38.7223, Lon: -9.1393},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register sensor: status %d", resp.StatusCode)
	}
	var sensor models.Sensor
	decodeBody(t, resp, &sensor)
	return sensor
}

func (env *testEnv) registerShelter(t *testing.T, id int64, lat, lon float64, current, max int) {
	t.Helper()
	resp := env.post(t, "/api/shelters", models.Shelter{
		ID: id, Name: fmt.Sprintf("shelter-%d", id), Status: models.ShelterAvailable,
		CapacityMax: max, CapacityCurrent: current,
		Location: models.GeoPoint{Lat: lat, Lon: lon},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register shelter %d: status %d", id, resp.StatusCode)
	}
	resp.Body.Close()
}

func TestObservationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.registerSensor(t)

	resp := env.post(t, "/api/observations", ingest.Request{SensorID: 1, Value: 21.5})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("ingest: status %d, want 202", resp.StatusCode)
	}
	var result ingest.Result
	decodeBody(t, resp, &result)
	if !result.Accepted {
		t.Error("ingest result not accepted")
	}
	if result.Seq == 0 {
		t.Error("missing assigned sequence")
	}
	if result.Quality != models.QualityGood {
		t.Errorf("quality = %s, want good", result.Quality)
	}

	// Queries read committed rows.
	env.tstore.Flush()

	resp = env.get(t, "/api/observations?sensorId=1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("query: status %d", resp.StatusCode)
	}
	var observations []models.Observation
	decodeBody(t, resp, &observations)
	if len(observations) != 1 {
		t.Fatalf("got %d observations, want 1", len(observations))
	}
	if observations[0].Value != 21.5 {
		t.Errorf("value = %v, want 21.5", observations[0].Value)
	}

	resp = env.get(t, "/api/sensors/1/latest")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("latest: status %d", resp.StatusCode)
	}
	var latest models.Observation
	decodeBody(t, resp, &latest)
	if latest.Value != 21.5 {
		t.Errorf("latest value = %v, want 21.5", latest.Value)
	}
}

func TestIngestRejectsUnknownSensor(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/observations", ingest.Request{SensorID: 999, Value: 10})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestIngestRejectsMalformedBody(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Post(env.srv.URL+"/api/observations", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSensorCRUD(t *testing.T) {
	env := newTestEnv(t)
	env.registerSensor(t)

	resp := env.get(t, "/api/sensors")
	var sensors []models.Sensor
	decodeBody(t, resp, &sensors)
	if len(sensors) != 1 || sensors[0].Name != "parque-temp-01" {
		t.Fatalf("unexpected sensor list: %+v", sensors)
	}

	resp = env.get(t, "/api/sensors/1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get sensor: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodDelete, env.srv.URL+"/api/sensors/1", nil)
	delResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	delResp.Body.Close()
	if delResp.StatusCode != http.StatusOK {
		t.Fatalf("delete sensor: status %d", delResp.StatusCode)
	}

	resp = env.get(t, "/api/sensors/1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get deleted sensor: status %d, want 404", resp.StatusCode)
	}
}

func TestShelterNearbyAndCapacity(t *testing.T) {
	env := newTestEnv(t)
	env.registerShelter(t, 7, 38.7250, -9.1400, 10, 100)
	env.registerShelter(t, 8, 38.7400, -9.1600, 0, 50)

	resp := env.get(t, "/api/shelters/nearby?lat=38.7223&lon=-9.1393")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("nearby: status %d", resp.StatusCode)
	}
	var nearby []nearbyShelter
	decodeBody(t, resp, &nearby)
	if len(nearby) != 2 {
		t.Fatalf("got %d shelters, want 2", len(nearby))
	}
	if nearby[0].ID != 7 {
		t.Errorf("closest shelter = %d, want 7", nearby[0].ID)
	}
	if nearby[0].DistanceM <= 0 || nearby[0].DistanceM >= nearby[1].DistanceM {
		t.Errorf("distances not ascending: %v then %v", nearby[0].DistanceM, nearby[1].DistanceM)
	}

	// Stale version is rejected with the conflict status.
	resp = env.post(t, "/api/shelters/7/capacity", capacityUpdate{Occupancy: 50, Version: 99})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("stale capacity update: status %d, want 409", resp.StatusCode)
	}

	var current models.Shelter
	resp = env.get(t, "/api/shelters/7")
	decodeBody(t, resp, &current)

	resp = env.post(t, "/api/shelters/7/capacity", capacityUpdate{Occupancy: 100, Version: current.Version})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("capacity update: status %d", resp.StatusCode)
	}
	var updated models.Shelter
	decodeBody(t, resp, &updated)
	if updated.CapacityCurrent != 100 {
		t.Errorf("occupancy = %d, want 100", updated.CapacityCurrent)
	}
	if updated.Version != current.Version+1 {
		t.Errorf("version = %d, want %d", updated.Version, current.Version+1)
	}

	// A full shelter drops out of the accepting set.
	resp = env.get(t, "/api/shelters/nearby?lat=38.7223&lon=-9.1393")
	decodeBody(t, resp, &nearby)
	if len(nearby) != 1 || nearby[0].ID != 8 {
		t.Errorf("expected only shelter 8 accepting, got %+v", nearby)
	}

	resp = env.get(t, "/api/shelters/nearby?lat=38.7223&lon=-9.1393&all=true")
	decodeBody(t, resp, &nearby)
	if len(nearby) != 2 {
		t.Errorf("all=true should list both shelters, got %d", len(nearby))
	}
}

func TestNearbyRequiresCoordinates(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/api/shelters/nearby")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAggregatesServeLiveBuckets(t *testing.T) {
	env := newTestEnv(t)
	env.registerSensor(t)

	for _, v := range []float64{20, 22, 24} {
		resp := env.post(t, "/api/observations", ingest.Request{SensorID: 1, Value: v})
		resp.Body.Close()
	}

	resp := env.get(t, "/api/aggregates/hourly?sensorId=1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("hourly: status %d", resp.StatusCode)
	}
	var hourly []models.HourlyAggregate
	decodeBody(t, resp, &hourly)
	var total int64
	for _, b := range hourly {
		total += b.Count
	}
	if total != 3 {
		t.Errorf("hourly sample total = %d, want 3", total)
	}

	resp = env.get(t, "/api/aggregates/daily?sensorId=1")
	var daily []models.DailyAggregate
	decodeBody(t, resp, &daily)
	if len(daily) != 1 || daily[0].Count != 3 {
		t.Errorf("unexpected daily buckets: %+v", daily)
	}
	if daily[0].Min != 20 || daily[0].Max != 24 {
		t.Errorf("daily extremes = %v..%v, want 20..24", daily[0].Min, daily[0].Max)
	}
}

func TestAggregatesRequireSensorID(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/api/aggregates/hourly")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAlertLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.registerSensor(t)
	env.registerShelter(t, 7, 38.7250, -9.1400, 10, 100)

	// Sustained heat: above the 45C limit for five minutes of sensor time.
	base := time.Now().UTC().Add(-6 * time.Minute)
	for _, offset := range []time.Duration{0, 2 * time.Minute, 4 * time.Minute, 5 * time.Minute} {
		ts := base.Add(offset)
		resp := env.post(t, "/api/observations", ingest.Request{SensorID: 1, Value: 46, Timestamp: &ts})
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("ingest at %v: status %d", offset, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := env.get(t, "/api/alerts")
	var alerts []models.Alert
	decodeBody(t, resp, &alerts)
	if len(alerts) != 1 {
		t.Fatalf("got %d active alerts, want 1", len(alerts))
	}
	alert := alerts[0]
	if alert.Rule != models.RuleHeatExtreme {
		t.Errorf("rule = %s, want heat_extreme", alert.Rule)
	}
	if alert.Severity != models.SeverityHigh {
		t.Errorf("severity = %s, want high", alert.Severity)
	}
	if alert.ShelterID == nil || *alert.ShelterID != 7 {
		t.Errorf("shelter assignment missing: %+v", alert.ShelterID)
	}

	resp = env.post(t, "/api/alerts/"+alert.ID+"/acknowledge", alertAction{Actor: "ops"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("acknowledge: status %d", resp.StatusCode)
	}
	var acked models.Alert
	decodeBody(t, resp, &acked)
	if acked.State != models.AlertAcknowledged || acked.AcknowledgedBy != "ops" {
		t.Errorf("unexpected acknowledge result: %+v", acked)
	}

	resp = env.post(t, "/api/alerts/"+alert.ID+"/resolve", alertAction{Actor: "ops"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve: status %d", resp.StatusCode)
	}
	var resolved models.Alert
	decodeBody(t, resp, &resolved)
	if resolved.State != models.AlertResolved {
		t.Errorf("state = %s, want resolved", resolved.State)
	}

	resp = env.get(t, "/api/alerts")
	decodeBody(t, resp, &alerts)
	if len(alerts) != 0 {
		t.Errorf("active alerts after resolve: %d", len(alerts))
	}

	resp = env.get(t, "/api/alerts?state=resolved")
	decodeBody(t, resp, &alerts)
	if len(alerts) != 1 {
		t.Errorf("resolved alerts = %d, want 1", len(alerts))
	}
}

func TestAlertActionUnknownID(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/alerts/no-such-alert/resolve", alertAction{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestEvacuationRouteOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.registerSensor(t)
	env.registerShelter(t, 7, 38.7250, -9.1400, 10, 100)

	rev := 2.0
	network := roadNetworkPayload{
		Nodes: []models.RoadNode{
			{ID: 1, Location: models.GeoPoint{Lat: 38.7223, Lon: -9.1393}},
			{ID: 2, Location: models.GeoPoint{Lat: 38.7237, Lon: -9.1396}},
			{ID: 3, Location: models.GeoPoint{Lat: 38.7250, Lon: -9.1400}},
		},
		Edges: []models.RoadEdge{
			{ID: 10, Source: 1, Target: 2, Cost: 2, ReverseCost: &rev},
			{ID: 11, Source: 2, Target: 3, Cost: 3, ReverseCost: &rev},
		},
	}
	resp := env.post(t, "/api/roads", network)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("load roads: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = env.get(t, "/api/route?sensorId=1&shelterId=7")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("route: status %d", resp.StatusCode)
	}
	var route models.Route
	decodeBody(t, resp, &route)
	if len(route.Steps) != 2 {
		t.Fatalf("got %d steps, want 2", len(route.Steps))
	}
	if route.TotalCostMinutes != 5 {
		t.Errorf("total cost = %v, want 5", route.TotalCostMinutes)
	}
	if route.GeoJSON == nil {
		t.Error("missing GeoJSON geometry")
	}

	resp = env.get(t, "/api/route?sensorId=1&shelterId=999")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown shelter: status %d, want 404", resp.StatusCode)
	}
}

func TestStatusEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.registerSensor(t)

	resp := env.get(t, "/api/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var status statusResponse
	decodeBody(t, resp, &status)
	if status.SensorsTotal != 1 {
		t.Errorf("sensorsTotal = %d, want 1", status.SensorsTotal)
	}
	if status.SystemState == "" {
		t.Error("missing system state")
	}

	resp = env.get(t, "/api/statistics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("statistics: %d", resp.StatusCode)
	}
	var stats health.Statistics
	decodeBody(t, resp, &stats)
	if stats.Sensors.Total != 1 {
		t.Errorf("statistics sensors = %d, want 1", stats.Sensors.Total)
	}

	resp = env.get(t, "/api/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", resp.StatusCode)
	}
	var probe health.ProcessHealth
	decodeBody(t, resp, &probe)
	if probe.Status != "healthy" {
		t.Errorf("health status = %q", probe.Status)
	}
}

func TestDailyReportDownload(t *testing.T) {
	env := newTestEnv(t)
	env.registerSensor(t)

	for _, v := range []float64{20, 30, 40} {
		resp := env.post(t, "/api/observations", ingest.Request{SensorID: 1, Value: v})
		resp.Body.Close()
	}

	today := time.Now().UTC().Format("2006-01-02")
	resp := env.get(t, "/api/reports/daily?sensorId=1&date="+today+"&format=csv")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("report: status %d", resp.StatusCode)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type = %q, want text/csv", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "vigia-daily-1-"+today) {
		t.Errorf("unexpected disposition %q", cd)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	body := buf.String()
	if !strings.Contains(body, "# Vigia Daily Sensor Report") {
		t.Error("missing CSV header")
	}
	if !strings.Contains(body, "# HOURLY") {
		t.Error("missing hourly section")
	}

	resp = env.get(t, "/api/reports/daily?sensorId=1&format=pdf")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pdf report: status %d", resp.StatusCode)
	}
	defer resp.Body.Close()
	magic := make([]byte, 4)
	if _, err := io.ReadFull(resp.Body, magic); err != nil {
		t.Fatalf("read magic: %v", err)
	}
	if string(magic) != "%PDF" {
		t.Errorf("pdf magic = %q", magic)
	}

	resp = env.get(t, "/api/reports/daily?sensorId=999")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown sensor report: status %d, want 404", resp.StatusCode)
	}
}

func TestNotificationQueueEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/api/notifications/queue")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("queue stats: status %d", resp.StatusCode)
	}
	var stats map[string]int
	decodeBody(t, resp, &stats)

	resp = env.get(t, "/api/notifications/dlq")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dlq: status %d", resp.StatusCode)
	}
	var dlq []notifications.Job
	decodeBody(t, resp, &dlq)
	if len(dlq) != 0 {
		t.Errorf("dlq should start empty, got %d", len(dlq))
	}

	resp = env.post(t, "/api/notifications/dlq/retry", dlqItemRequest{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("retry without ID: status %d, want 400", resp.StatusCode)
	}
}

func TestCORSAndPreflight(t *testing.T) {
	env := newTestEnv(t)

	req, _ := http.NewRequest(http.MethodOptions, env.srv.URL+"/api/sensors", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("preflight status = %d, want 200", resp.StatusCode)
	}
	if origin := resp.Header.Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("allow-origin = %q, want *", origin)
	}

	getResp := env.get(t, "/api/sensors")
	defer getResp.Body.Close()
	if got := getResp.Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("missing security header, got %q", got)
	}
}

func TestMethodGuards(t *testing.T) {
	env := newTestEnv(t)

	req, _ := http.NewRequest(http.MethodDelete, env.srv.URL+"/api/observations", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}
