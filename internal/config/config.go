package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/vigiaops/vigia-go/internal/models"
	"github.com/vigiaops/vigia-go/internal/utils"
)

// Thresholds are the per-kind alerting limits: values below Min or above
// Max are anomalous, values beyond Critical (or below CriticalLow, when it
// sits under Min) escalate severity.
type Thresholds struct {
	Min         float64 `json:"min"`
	Max         float64 `json:"max"`
	Critical    float64 `json:"critical"`
	CriticalLow float64 `json:"criticalLow,omitempty"`
}

// RetryPolicy shapes the notification dispatch backoff.
type RetryPolicy struct {
	Base        time.Duration `json:"base"`
	Factor      float64       `json:"factor"`
	Jitter      float64       `json:"jitter"`
	MaxAttempts int           `json:"maxAttempts"`
	Cap         time.Duration `json:"cap"`
}

// RoutingRule selects notification recipients for alerts. SensorPattern is
// a wildcard match against the sensor name ("*" matches everything).
type RoutingRule struct {
	Channel       string   `json:"channel"`
	Recipient     string   `json:"recipient"`
	Severities    []string `json:"severities"`
	SensorPattern string   `json:"sensorPattern"`
}

// Config is the immutable runtime configuration threaded into each
// subsystem at construction.
type Config struct {
	// Server settings
	BackendHost    string
	BackendPort    int
	AllowedOrigins string
	TrustedProxies string

	// Storage
	DataPath        string
	ChunkInterval   time.Duration
	LatenessHorizon time.Duration
	ClosureHorizon  time.Duration
	RetentionDays   int

	// Aggregation and alert rules
	Thresholds          map[models.SensorKind]Thresholds
	ThresholdsFile      string
	SustainedMinutes    int
	HysteresisMinutes   int
	HysteresisBand      float64
	RapidChangeK        float64
	RapidChangeCritical float64
	ShelterCandidates   int

	// Notification dispatch
	DispatchParallelism int
	DispatchRetry       RetryPolicy
	Routing             []RoutingRule
	SMSProviderURL      string
	SMSProviderToken    string
	SMSFromNumber       string
	WebhookURL          string

	// Ingest
	IngestRateHz  float64
	IngestBurst   int
	EvalDeadline  time.Duration
	IngestMaxBody int64

	// Logging
	LogLevel    string
	LogFormat   string
	LogFile     string
	LogMaxSize  int
	LogMaxAge   int
	LogCompress bool
}

// DefaultThresholds returns the platform's per-kind limits.
func DefaultThresholds() map[models.SensorKind]Thresholds {
	return map[models.SensorKind]Thresholds{
		models.KindTemperature: {Min: -10, Max: 45, Critical: 50, CriticalLow: -20},
		models.KindHumidity:    {Min: 10, Max: 90, Critical: 95, CriticalLow: 5},
		models.KindAirQuality:  {Min: 0, Max: 150, Critical: 300},
		models.KindNoise:       {Min: 0, Max: 70, Critical: 85},
		models.KindOccupancy:   {Min: 0, Max: 100, Critical: 120},
	}
}

// Load builds the configuration from defaults, the .env file, environment
// variables, and the optional thresholds/routing JSON files in DataPath.
func Load() (*Config, error) {
	dataDir := "/var/lib/vigia"
	if dir := os.Getenv("VIGIA_DATA_DIR"); dir != "" {
		dataDir = dir
	}

	// Load .env if present (deployment overrides), then try the cwd copy
	// used in development.
	envFile := filepath.Join(dataDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("Failed to load .env file")
		} else {
			log.Info().Str("file", envFile).Msg("Loaded .env file for deployment overrides")
		}
	}
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("Loaded configuration from .env in current directory")
	}

	cfg := &Config{
		BackendHost:    "0.0.0.0",
		BackendPort:    7700,
		AllowedOrigins: "",
		TrustedProxies: "",

		DataPath:        dataDir,
		ChunkInterval:   7 * 24 * time.Hour,
		LatenessHorizon: 24 * time.Hour,
		ClosureHorizon:  30 * 24 * time.Hour,
		RetentionDays:   365,

		Thresholds:          DefaultThresholds(),
		ThresholdsFile:      filepath.Join(dataDir, "thresholds.json"),
		SustainedMinutes:    5,
		HysteresisMinutes:   10,
		HysteresisBand:      1.0,
		RapidChangeK:        3.0,
		RapidChangeCritical: 4.0,
		ShelterCandidates:   5,

		DispatchParallelism: 5,
		DispatchRetry: RetryPolicy{
			Base:        2 * time.Second,
			Factor:      2,
			Jitter:      0.2,
			MaxAttempts: 5,
			Cap:         60 * time.Second,
		},

		IngestRateHz:  1.0,
		IngestBurst:   10,
		EvalDeadline:  2 * time.Second,
		IngestMaxBody: 64 * 1024,

		LogLevel:    "info",
		LogFormat:   "auto",
		LogMaxSize:  100,
		LogMaxAge:   30,
		LogCompress: true,
	}

	applyEnvOverrides(cfg)

	if path := cfg.ThresholdsFile; path != "" {
		if overrides, err := LoadThresholdsFile(path); err != nil {
			if !os.IsNotExist(err) {
				log.Warn().Err(err).Str("file", path).Msg("Failed to load thresholds file")
			}
		} else {
			for kind, t := range overrides {
				cfg.Thresholds[kind] = t
			}
			log.Info().Str("file", path).Int("kinds", len(overrides)).Msg("Loaded threshold overrides")
		}
	}

	routingFile := filepath.Join(dataDir, "routing.json")
	if rules, err := loadRoutingFile(routingFile); err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", routingFile).Msg("Failed to load routing file")
		}
	} else {
		cfg.Routing = rules
		log.Info().Str("file", routingFile).Int("rules", len(rules)).Msg("Loaded notification routing rules")
	}

	if len(cfg.Routing) == 0 {
		if to := os.Getenv("VIGIA_SMS_DEFAULT_RECIPIENT"); to != "" {
			cfg.Routing = []RoutingRule{{
				Channel:       "sms",
				Recipient:     to,
				Severities:    []string{"critical", "high"},
				SensorPattern: "*",
			}}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if host := os.Getenv("BACKEND_HOST"); host != "" {
		cfg.BackendHost = host
	}
	if port := os.Getenv("BACKEND_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 && p < 65536 {
			cfg.BackendPort = p
		} else {
			log.Warn().Str("value", port).Msg("Invalid BACKEND_PORT, keeping default")
		}
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = origins
	}
	if proxies := os.Getenv("TRUSTED_PROXIES"); proxies != "" {
		cfg.TrustedProxies = proxies
	}

	if v := os.Getenv("VIGIA_CHUNK_INTERVAL"); v != "" {
		setDuration(&cfg.ChunkInterval, "VIGIA_CHUNK_INTERVAL", v)
	}
	if v := os.Getenv("VIGIA_LATENESS_HORIZON"); v != "" {
		setDuration(&cfg.LatenessHorizon, "VIGIA_LATENESS_HORIZON", v)
	}
	if v := os.Getenv("VIGIA_CLOSURE_HORIZON"); v != "" {
		setDuration(&cfg.ClosureHorizon, "VIGIA_CLOSURE_HORIZON", v)
	}
	if v := os.Getenv("VIGIA_RETENTION_DAYS"); v != "" {
		setInt(&cfg.RetentionDays, "VIGIA_RETENTION_DAYS", v)
	}
	if v := os.Getenv("VIGIA_THRESHOLDS_FILE"); v != "" {
		cfg.ThresholdsFile = v
	}

	if v := os.Getenv("VIGIA_SUSTAINED_MINUTES"); v != "" {
		setInt(&cfg.SustainedMinutes, "VIGIA_SUSTAINED_MINUTES", v)
	}
	if v := os.Getenv("VIGIA_HYSTERESIS_MINUTES"); v != "" {
		setInt(&cfg.HysteresisMinutes, "VIGIA_HYSTERESIS_MINUTES", v)
	}
	if v := os.Getenv("VIGIA_HYSTERESIS_BAND"); v != "" {
		setFloat(&cfg.HysteresisBand, "VIGIA_HYSTERESIS_BAND", v)
	}
	if v := os.Getenv("VIGIA_RAPID_CHANGE_K"); v != "" {
		setFloat(&cfg.RapidChangeK, "VIGIA_RAPID_CHANGE_K", v)
	}
	if v := os.Getenv("VIGIA_RAPID_CHANGE_CRITICAL_K"); v != "" {
		setFloat(&cfg.RapidChangeCritical, "VIGIA_RAPID_CHANGE_CRITICAL_K", v)
	}
	if v := os.Getenv("VIGIA_SHELTER_CANDIDATES"); v != "" {
		setInt(&cfg.ShelterCandidates, "VIGIA_SHELTER_CANDIDATES", v)
	}

	if v := os.Getenv("VIGIA_DISPATCH_PARALLELISM"); v != "" {
		setInt(&cfg.DispatchParallelism, "VIGIA_DISPATCH_PARALLELISM", v)
	}
	if v := os.Getenv("VIGIA_DISPATCH_RETRY_BASE"); v != "" {
		setDuration(&cfg.DispatchRetry.Base, "VIGIA_DISPATCH_RETRY_BASE", v)
	}
	if v := os.Getenv("VIGIA_DISPATCH_RETRY_FACTOR"); v != "" {
		setFloat(&cfg.DispatchRetry.Factor, "VIGIA_DISPATCH_RETRY_FACTOR", v)
	}
	if v := os.Getenv("VIGIA_DISPATCH_RETRY_JITTER"); v != "" {
		setFloat(&cfg.DispatchRetry.Jitter, "VIGIA_DISPATCH_RETRY_JITTER", v)
	}
	if v := os.Getenv("VIGIA_DISPATCH_MAX_ATTEMPTS"); v != "" {
		setInt(&cfg.DispatchRetry.MaxAttempts, "VIGIA_DISPATCH_MAX_ATTEMPTS", v)
	}

	if v := os.Getenv("VIGIA_SMS_PROVIDER_URL"); v != "" {
		cfg.SMSProviderURL = v
	}
	if v := os.Getenv("VIGIA_SMS_PROVIDER_TOKEN"); v != "" {
		cfg.SMSProviderToken = v
	}
	if v := os.Getenv("VIGIA_SMS_FROM_NUMBER"); v != "" {
		cfg.SMSFromNumber = v
	}
	if v := os.Getenv("VIGIA_WEBHOOK_URL"); v != "" {
		cfg.WebhookURL = v
	}

	if v := os.Getenv("VIGIA_INGEST_RATE_HZ"); v != "" {
		setFloat(&cfg.IngestRateHz, "VIGIA_INGEST_RATE_HZ", v)
	}
	if v := os.Getenv("VIGIA_INGEST_BURST"); v != "" {
		setInt(&cfg.IngestBurst, "VIGIA_INGEST_BURST", v)
	}
	if v := os.Getenv("VIGIA_EVAL_DEADLINE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.EvalDeadline = time.Duration(ms) * time.Millisecond
		} else {
			log.Warn().Str("value", v).Msg("Invalid VIGIA_EVAL_DEADLINE_MS, keeping default")
		}
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}
	if file := os.Getenv("LOG_FILE"); file != "" {
		cfg.LogFile = file
	}
	if v := os.Getenv("LOG_MAX_SIZE"); v != "" {
		setInt(&cfg.LogMaxSize, "LOG_MAX_SIZE", v)
	}
	if v := os.Getenv("LOG_MAX_AGE"); v != "" {
		setInt(&cfg.LogMaxAge, "LOG_MAX_AGE", v)
	}
	if v := os.Getenv("LOG_COMPRESS"); v != "" {
		cfg.LogCompress = utils.ParseBool(v)
	}
}

// Validate rejects configurations the subsystems cannot run with.
func (c *Config) Validate() error {
	if c.ChunkInterval <= 0 {
		return fmt.Errorf("chunk interval must be positive, got %v", c.ChunkInterval)
	}
	if c.LatenessHorizon <= 0 || c.ClosureHorizon <= 0 {
		return fmt.Errorf("lateness/closure horizons must be positive")
	}
	if c.LatenessHorizon > c.ClosureHorizon {
		return fmt.Errorf("lateness horizon %v exceeds closure horizon %v", c.LatenessHorizon, c.ClosureHorizon)
	}
	if c.DispatchParallelism <= 0 {
		return fmt.Errorf("dispatch parallelism must be positive, got %d", c.DispatchParallelism)
	}
	if c.DispatchRetry.MaxAttempts <= 0 || c.DispatchRetry.Factor < 1 {
		return fmt.Errorf("invalid dispatch retry policy: %+v", c.DispatchRetry)
	}
	if c.IngestRateHz <= 0 || c.IngestBurst <= 0 {
		return fmt.Errorf("ingest rate %.2fHz burst %d must be positive", c.IngestRateHz, c.IngestBurst)
	}
	if c.EvalDeadline <= 0 {
		return fmt.Errorf("eval deadline must be positive, got %v", c.EvalDeadline)
	}
	for _, rule := range c.Routing {
		if rule.Channel != "sms" && rule.Channel != "webhook" {
			return fmt.Errorf("unsupported notification channel %q", rule.Channel)
		}
		if rule.Recipient == "" {
			return fmt.Errorf("notification rule for channel %q has no recipient", rule.Channel)
		}
	}
	return nil
}

// ThresholdFor returns the limits for the given kind, falling back to the
// built-in defaults when the kind has no explicit entry.
func (c *Config) ThresholdFor(kind models.SensorKind) Thresholds {
	if t, ok := c.Thresholds[kind]; ok {
		return t
	}
	return DefaultThresholds()[kind]
}

// LoadThresholdsFile parses a per-kind thresholds JSON document.
func LoadThresholdsFile(path string) (map[models.SensorKind]Thresholds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]Thresholds
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse thresholds file: %w", err)
	}
	out := make(map[models.SensorKind]Thresholds, len(raw))
	for k, t := range raw {
		kind := models.SensorKind(k)
		if !models.IsKnownKind(kind) {
			log.Warn().Str("kind", k).Msg("Ignoring thresholds for unknown sensor kind")
			continue
		}
		out[kind] = t
	}
	return out, nil
}

func loadRoutingFile(path string) ([]RoutingRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rules []RoutingRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse routing file: %w", err)
	}
	for i := range rules {
		if rules[i].SensorPattern == "" {
			rules[i].SensorPattern = "*"
		}
	}
	return rules, nil
}

func setInt(dst *int, name, value string) {
	if n, err := strconv.Atoi(value); err == nil {
		*dst = n
	} else {
		log.Warn().Str("value", value).Msgf("Invalid %s, keeping default", name)
	}
}

func setFloat(dst *float64, name, value string) {
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		*dst = f
	} else {
		log.Warn().Str("value", value).Msgf("Invalid %s, keeping default", name)
	}
}

func setDuration(dst *time.Duration, name, value string) {
	if d, err := ParseDuration(value); err == nil && d > 0 {
		*dst = d
	} else {
		log.Warn().Str("value", value).Msgf("Invalid %s, keeping default", name)
	}
}

// ParseDuration extends time.ParseDuration with a "d" (day) suffix, so
// horizon settings can be written as "7d" or "30d".
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if strings.HasSuffix(value, "d") {
		days, err := strconv.ParseFloat(strings.TrimSuffix(value, "d"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid day duration %q", value)
		}
		return time.Duration(days * 24 * float64(time.Hour)), nil
	}
	return time.ParseDuration(value)
}

// TrustedProxyList splits the TrustedProxies setting into CIDR entries.
func (c *Config) TrustedProxyList() []string {
	if strings.TrimSpace(c.TrustedProxies) == "" {
		return nil
	}
	parts := strings.Split(c.TrustedProxies, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
