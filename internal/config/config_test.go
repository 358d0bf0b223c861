package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vigiaops/vigia-go/internal/models"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    time.Duration
		wantErr bool
	}{
		{"whole days", "7d", 7 * 24 * time.Hour, false},
		{"fractional days", "1.5d", 36 * time.Hour, false},
		{"month of days", "30d", 720 * time.Hour, false},
		{"minutes", "45m", 45 * time.Minute, false},
		{"compound", "2h30m", 2*time.Hour + 30*time.Minute, false},
		{"surrounding whitespace", " 24h ", 24 * time.Hour, false},
		{"negative days", "-1d", -24 * time.Hour, false},
		{"bare d", "d", 0, true},
		{"non-numeric days", "xd", 0, true},
		{"empty", "", 0, true},
		{"missing unit", "10", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDuration(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDuration(%q) error = %v, wantErr %v", tt.value, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VIGIA_DATA_DIR", dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BackendHost != "0.0.0.0" {
		t.Errorf("BackendHost = %q, want 0.0.0.0", cfg.BackendHost)
	}
	if cfg.BackendPort != 7700 {
		t.Errorf("BackendPort = %d, want 7700", cfg.BackendPort)
	}
	if cfg.DataPath != dir {
		t.Errorf("DataPath = %q, want %q", cfg.DataPath, dir)
	}
	if cfg.ChunkInterval != 7*24*time.Hour {
		t.Errorf("ChunkInterval = %v, want 168h", cfg.ChunkInterval)
	}
	if cfg.LatenessHorizon != 24*time.Hour {
		t.Errorf("LatenessHorizon = %v, want 24h", cfg.LatenessHorizon)
	}
	if cfg.ClosureHorizon != 30*24*time.Hour {
		t.Errorf("ClosureHorizon = %v, want 720h", cfg.ClosureHorizon)
	}
	if cfg.RetentionDays != 365 {
		t.Errorf("RetentionDays = %d, want 365", cfg.RetentionDays)
	}
	if cfg.SustainedMinutes != 5 || cfg.HysteresisMinutes != 10 {
		t.Errorf("sustained/hysteresis = %d/%d, want 5/10", cfg.SustainedMinutes, cfg.HysteresisMinutes)
	}
	if cfg.ShelterCandidates != 5 {
		t.Errorf("ShelterCandidates = %d, want 5", cfg.ShelterCandidates)
	}
	if cfg.DispatchParallelism != 5 {
		t.Errorf("DispatchParallelism = %d, want 5", cfg.DispatchParallelism)
	}
	if cfg.DispatchRetry.Base != 2*time.Second || cfg.DispatchRetry.MaxAttempts != 5 || cfg.DispatchRetry.Cap != 60*time.Second {
		t.Errorf("DispatchRetry = %+v, want base 2s / 5 attempts / cap 60s", cfg.DispatchRetry)
	}
	if cfg.IngestRateHz != 1.0 || cfg.IngestBurst != 10 {
		t.Errorf("ingest rate/burst = %.1f/%d, want 1.0/10", cfg.IngestRateHz, cfg.IngestBurst)
	}
	if cfg.EvalDeadline != 2*time.Second {
		t.Errorf("EvalDeadline = %v, want 2s", cfg.EvalDeadline)
	}
	if cfg.IngestMaxBody != 64*1024 {
		t.Errorf("IngestMaxBody = %d, want 65536", cfg.IngestMaxBody)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "auto" {
		t.Errorf("log level/format = %q/%q, want info/auto", cfg.LogLevel, cfg.LogFormat)
	}
	if want := filepath.Join(dir, "thresholds.json"); cfg.ThresholdsFile != want {
		t.Errorf("ThresholdsFile = %q, want %q", cfg.ThresholdsFile, want)
	}
	if got := cfg.Thresholds[models.KindTemperature]; got.Max != 45 || got.Critical != 50 {
		t.Errorf("temperature thresholds = %+v, want max 45 critical 50", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	envVars := map[string]string{
		"VIGIA_DATA_DIR":              dir,
		"BACKEND_HOST":                "127.0.0.1",
		"BACKEND_PORT":                "8080",
		"ALLOWED_ORIGINS":             "https://ops.example.com",
		"TRUSTED_PROXIES":             "10.0.0.0/8, 192.168.0.0/16",
		"VIGIA_CHUNK_INTERVAL":        "14d",
		"VIGIA_LATENESS_HORIZON":      "12h",
		"VIGIA_CLOSURE_HORIZON":       "60d",
		"VIGIA_RETENTION_DAYS":        "90",
		"VIGIA_SUSTAINED_MINUTES":     "10",
		"VIGIA_HYSTERESIS_MINUTES":    "20",
		"VIGIA_HYSTERESIS_BAND":       "0.5",
		"VIGIA_RAPID_CHANGE_K":        "2.5",
		"VIGIA_SHELTER_CANDIDATES":    "8",
		"VIGIA_DISPATCH_PARALLELISM":  "3",
		"VIGIA_DISPATCH_RETRY_BASE":   "1s",
		"VIGIA_DISPATCH_MAX_ATTEMPTS": "7",
		"VIGIA_SMS_PROVIDER_URL":      "https://sms.example.com/send",
		"VIGIA_SMS_FROM_NUMBER":       "+15550100",
		"VIGIA_INGEST_RATE_HZ":        "2.5",
		"VIGIA_INGEST_BURST":          "50",
		"VIGIA_EVAL_DEADLINE_MS":      "1500",
		"VIGIA_SMS_DEFAULT_RECIPIENT": "+15550123",
		"LOG_LEVEL":                   "debug",
		"LOG_FORMAT":                  "json",
		"LOG_COMPRESS":                "false",
	}
	for k, v := range envVars {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BackendHost != "127.0.0.1" || cfg.BackendPort != 8080 {
		t.Errorf("server = %s:%d, want 127.0.0.1:8080", cfg.BackendHost, cfg.BackendPort)
	}
	if cfg.AllowedOrigins != "https://ops.example.com" {
		t.Errorf("AllowedOrigins = %q", cfg.AllowedOrigins)
	}
	proxies := cfg.TrustedProxyList()
	if len(proxies) != 2 || proxies[0] != "10.0.0.0/8" || proxies[1] != "192.168.0.0/16" {
		t.Errorf("TrustedProxyList() = %v, want trimmed CIDR pair", proxies)
	}
	if cfg.ChunkInterval != 14*24*time.Hour {
		t.Errorf("ChunkInterval = %v, want 336h", cfg.ChunkInterval)
	}
	if cfg.LatenessHorizon != 12*time.Hour || cfg.ClosureHorizon != 60*24*time.Hour {
		t.Errorf("horizons = %v/%v, want 12h/1440h", cfg.LatenessHorizon, cfg.ClosureHorizon)
	}
	if cfg.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, want 90", cfg.RetentionDays)
	}
	if cfg.SustainedMinutes != 10 || cfg.HysteresisMinutes != 20 || cfg.HysteresisBand != 0.5 {
		t.Errorf("alert tuning = %d/%d/%.1f", cfg.SustainedMinutes, cfg.HysteresisMinutes, cfg.HysteresisBand)
	}
	if cfg.RapidChangeK != 2.5 {
		t.Errorf("RapidChangeK = %.1f, want 2.5", cfg.RapidChangeK)
	}
	if cfg.ShelterCandidates != 8 {
		t.Errorf("ShelterCandidates = %d, want 8", cfg.ShelterCandidates)
	}
	if cfg.DispatchParallelism != 3 || cfg.DispatchRetry.Base != time.Second || cfg.DispatchRetry.MaxAttempts != 7 {
		t.Errorf("dispatch = %d workers, retry %+v", cfg.DispatchParallelism, cfg.DispatchRetry)
	}
	if cfg.SMSProviderURL != "https://sms.example.com/send" || cfg.SMSFromNumber != "+15550100" {
		t.Errorf("SMS provider = %q from %q", cfg.SMSProviderURL, cfg.SMSFromNumber)
	}
	if cfg.IngestRateHz != 2.5 || cfg.IngestBurst != 50 {
		t.Errorf("ingest rate/burst = %.1f/%d, want 2.5/50", cfg.IngestRateHz, cfg.IngestBurst)
	}
	if cfg.EvalDeadline != 1500*time.Millisecond {
		t.Errorf("EvalDeadline = %v, want 1.5s", cfg.EvalDeadline)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" || cfg.LogCompress {
		t.Errorf("logging = %q/%q compress=%v", cfg.LogLevel, cfg.LogFormat, cfg.LogCompress)
	}

	// No routing file on disk, so the default recipient becomes the single rule.
	if len(cfg.Routing) != 1 {
		t.Fatalf("Routing rules = %d, want 1", len(cfg.Routing))
	}
	rule := cfg.Routing[0]
	if rule.Channel != "sms" || rule.Recipient != "+15550123" || rule.SensorPattern != "*" {
		t.Errorf("default routing rule = %+v", rule)
	}
	if len(rule.Severities) != 2 {
		t.Errorf("default rule severities = %v, want critical+high", rule.Severities)
	}
}

func TestLoadKeepsDefaultsOnBadValues(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VIGIA_DATA_DIR", dir)
	t.Setenv("BACKEND_PORT", "70000")
	t.Setenv("VIGIA_RETENTION_DAYS", "soon")
	t.Setenv("VIGIA_CHUNK_INTERVAL", "fortnight")
	t.Setenv("VIGIA_INGEST_RATE_HZ", "fast")
	t.Setenv("VIGIA_EVAL_DEADLINE_MS", "-5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BackendPort != 7700 {
		t.Errorf("BackendPort = %d, want default 7700 for out-of-range value", cfg.BackendPort)
	}
	if cfg.RetentionDays != 365 {
		t.Errorf("RetentionDays = %d, want default 365", cfg.RetentionDays)
	}
	if cfg.ChunkInterval != 7*24*time.Hour {
		t.Errorf("ChunkInterval = %v, want default 168h", cfg.ChunkInterval)
	}
	if cfg.IngestRateHz != 1.0 {
		t.Errorf("IngestRateHz = %.1f, want default 1.0", cfg.IngestRateHz)
	}
	if cfg.EvalDeadline != 2*time.Second {
		t.Errorf("EvalDeadline = %v, want default 2s", cfg.EvalDeadline)
	}
}

func TestLoadThresholdsOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VIGIA_DATA_DIR", dir)

	doc := `{
		"temperature": {"min": -5, "max": 40, "critical": 48, "criticalLow": -15},
		"plasma": {"min": 0, "max": 1, "critical": 2}
	}`
	if err := os.WriteFile(filepath.Join(dir, "thresholds.json"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	temp := cfg.Thresholds[models.KindTemperature]
	if temp.Min != -5 || temp.Max != 40 || temp.Critical != 48 || temp.CriticalLow != -15 {
		t.Errorf("temperature thresholds = %+v, want file override", temp)
	}
	// Unknown kinds are dropped, untouched kinds keep their defaults.
	if _, ok := cfg.Thresholds[models.SensorKind("plasma")]; ok {
		t.Error("unknown kind from thresholds file should be ignored")
	}
	if hum := cfg.Thresholds[models.KindHumidity]; hum.Max != 90 {
		t.Errorf("humidity thresholds = %+v, want untouched default", hum)
	}
}

func TestLoadRoutingRulesFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VIGIA_DATA_DIR", dir)
	t.Setenv("VIGIA_SMS_DEFAULT_RECIPIENT", "+19998887777")

	doc := `[
		{"channel": "sms", "recipient": "+15550199", "severities": ["critical"]},
		{"channel": "webhook", "recipient": "https://hooks.example.com/alerts", "severities": ["critical", "high"], "sensorPattern": "parque-*"}
	]`
	if err := os.WriteFile(filepath.Join(dir, "routing.json"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Routing) != 2 {
		t.Fatalf("Routing rules = %d, want 2 from file (default recipient must not apply)", len(cfg.Routing))
	}
	if cfg.Routing[0].SensorPattern != "*" {
		t.Errorf("first rule pattern = %q, want defaulted *", cfg.Routing[0].SensorPattern)
	}
	if cfg.Routing[1].SensorPattern != "parque-*" {
		t.Errorf("second rule pattern = %q", cfg.Routing[1].SensorPattern)
	}
}

func TestLoadRejectsInvalidRoutingChannel(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("VIGIA_DATA_DIR", dir)

	doc := `[{"channel": "pigeon", "recipient": "rooftop", "severities": ["critical"]}]`
	if err := os.WriteFile(filepath.Join(dir, "routing.json"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(); err == nil {
		t.Fatal("Load() should reject an unsupported notification channel")
	}
}

func validConfig() *Config {
	return &Config{
		ChunkInterval:       7 * 24 * time.Hour,
		LatenessHorizon:     24 * time.Hour,
		ClosureHorizon:      30 * 24 * time.Hour,
		DispatchParallelism: 2,
		DispatchRetry:       RetryPolicy{Base: time.Second, Factor: 2, MaxAttempts: 3, Cap: 10 * time.Second},
		IngestRateHz:        1,
		IngestBurst:         10,
		EvalDeadline:        time.Second,
		Routing: []RoutingRule{
			{Channel: "sms", Recipient: "+15550100", Severities: []string{"critical"}, SensorPattern: "*"},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero chunk interval", func(c *Config) { c.ChunkInterval = 0 }, true},
		{"zero lateness horizon", func(c *Config) { c.LatenessHorizon = 0 }, true},
		{"lateness beyond closure", func(c *Config) { c.LatenessHorizon = 40 * 24 * time.Hour }, true},
		{"zero dispatch workers", func(c *Config) { c.DispatchParallelism = 0 }, true},
		{"zero retry attempts", func(c *Config) { c.DispatchRetry.MaxAttempts = 0 }, true},
		{"shrinking backoff", func(c *Config) { c.DispatchRetry.Factor = 0.5 }, true},
		{"zero ingest rate", func(c *Config) { c.IngestRateHz = 0 }, true},
		{"zero ingest burst", func(c *Config) { c.IngestBurst = 0 }, true},
		{"zero eval deadline", func(c *Config) { c.EvalDeadline = 0 }, true},
		{"unknown channel", func(c *Config) { c.Routing[0].Channel = "carrier-pigeon" }, true},
		{"empty recipient", func(c *Config) { c.Routing[0].Recipient = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestThresholdFor(t *testing.T) {
	cfg := &Config{Thresholds: map[models.SensorKind]Thresholds{
		models.KindTemperature: {Min: 0, Max: 35, Critical: 42},
	}}

	if got := cfg.ThresholdFor(models.KindTemperature); got.Max != 35 {
		t.Errorf("configured kind = %+v, want max 35", got)
	}
	// Missing kinds fall back to the built-in defaults.
	if got := cfg.ThresholdFor(models.KindHumidity); got.Max != 90 || got.Critical != 95 {
		t.Errorf("fallback humidity = %+v, want default limits", got)
	}
}

func TestThresholdStore(t *testing.T) {
	store := NewThresholdStore(nil)

	if got, ok := store.For(models.KindTemperature); !ok || got.Max != 45 {
		t.Fatalf("empty seed should fall back to defaults, got %+v ok=%v", got, ok)
	}

	store.ReplaceAll(map[models.SensorKind]Thresholds{
		models.KindTemperature: {Min: -10, Max: 50, Critical: 55},
	})
	if got, ok := store.For(models.KindTemperature); !ok || got.Max != 50 {
		t.Errorf("after ReplaceAll temperature = %+v ok=%v, want max 50", got, ok)
	}
	if _, ok := store.For(models.KindHumidity); ok {
		t.Error("ReplaceAll swaps the whole map, humidity should be gone")
	}

	// Empty replacement is ignored.
	store.ReplaceAll(nil)
	if got, _ := store.For(models.KindTemperature); got.Max != 50 {
		t.Errorf("empty ReplaceAll should be a no-op, got %+v", got)
	}

	// All returns a copy the caller can mutate freely.
	all := store.All()
	all[models.KindTemperature] = Thresholds{Max: 1}
	if got, _ := store.For(models.KindTemperature); got.Max != 50 {
		t.Errorf("mutating All() result leaked into store: %+v", got)
	}
}

func TestWatcherReloadAppliesNewLimits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thresholds.json")
	if err := os.WriteFile(path, []byte(`{"temperature": {"min": -10, "max": 45, "critical": 50}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	tw, err := NewThresholdsWatcher(path)
	if err != nil {
		t.Fatalf("NewThresholdsWatcher() error = %v", err)
	}
	defer tw.Stop()

	applied := make(chan map[models.SensorKind]Thresholds, 1)
	tw.SetReloadCallback(func(m map[models.SensorKind]Thresholds) {
		applied <- m
	})

	// Unchanged mod time: reload is a no-op.
	tw.reload()
	select {
	case <-applied:
		t.Fatal("reload fired callback without a file change")
	case <-time.After(50 * time.Millisecond):
	}

	if err := os.WriteFile(path, []byte(`{"temperature": {"min": -10, "max": 40, "critical": 48}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	tw.reload()
	select {
	case m := <-applied:
		if got := m[models.KindTemperature]; got.Max != 40 {
			t.Errorf("reloaded temperature = %+v, want max 40", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reload callback never fired")
	}
}

func TestWatcherDetectsFileChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thresholds.json")
	if err := os.WriteFile(path, []byte(`{"noise": {"min": 0, "max": 70, "critical": 85}}`), 0o644); err != nil {
		t.Fatal(err)
	}

	tw, err := NewThresholdsWatcher(path)
	if err != nil {
		t.Fatalf("NewThresholdsWatcher() error = %v", err)
	}
	defer tw.Stop()

	applied := make(chan map[models.SensorKind]Thresholds, 1)
	tw.SetReloadCallback(func(m map[models.SensorKind]Thresholds) {
		applied <- m
	})
	if err := tw.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"noise": {"min": 0, "max": 65, "critical": 80}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	// Write event, debounce, stat, parse, callback.
	select {
	case m := <-applied:
		if got := m[models.KindNoise]; got.Max != 65 {
			t.Errorf("watched reload noise = %+v, want max 65", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never applied the changed file")
	}
}
