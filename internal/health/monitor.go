// Package health derives the platform's risk picture from live alerts and
// sensor activity, and samples process/host resources for the health
// endpoint.
package health

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	godisk "github.com/shirou/gopsutil/v4/disk"
	gomem "github.com/shirou/gopsutil/v4/mem"
	goproc "github.com/shirou/gopsutil/v4/process"

	"github.com/vigiaops/vigia-go/internal/models"
	"github.com/vigiaops/vigia-go/pkg/timestore"
)

// System call wrappers for testing
var (
	virtualMemory = gomem.VirtualMemoryWithContext
	diskUsage     = godisk.UsageWithContext
)

// RiskLevel grades one sensor kind from its open alerts.
type RiskLevel string

const (
	RiskNormal    RiskLevel = "normal"
	RiskElevated  RiskLevel = "elevated"
	RiskHigh      RiskLevel = "high"
	RiskEmergency RiskLevel = "emergency"
)

// SystemState is the overall platform condition.
type SystemState string

const (
	StateEmergency SystemState = "EMERGENCY"
	StateAlert     SystemState = "ALERT"
	StateWatch     SystemState = "WATCH"
	StateNoData    SystemState = "NO_DATA"
	StateNormal    SystemState = "NORMAL"
)

// AlertSource exposes the open alerts.
type AlertSource interface {
	ActiveAlerts() []models.Alert
}

// Registry lists the registered entities.
type Registry interface {
	ListSensors() ([]models.Sensor, error)
	ListShelters() ([]models.Shelter, error)
}

// ObservationSource exposes observation activity.
type ObservationSource interface {
	CountSince(ctx context.Context, since time.Time) (int64, error)
	Latest(ctx context.Context, sensorIDs []int64, within time.Duration) (map[int64]models.Observation, error)
	GetStats() timestore.Stats
}

// SensorStats breaks down the registered sensors.
type SensorStats struct {
	Total             int                         `json:"total"`
	ByKind            map[models.SensorKind]int   `json:"byKind"`
	ByStatus          map[models.SensorStatus]int `json:"byStatus"`
	ReportingLastHour int                         `json:"reportingLastHour"`
}

// AlertStats breaks down the open alerts.
type AlertStats struct {
	Active     int                     `json:"active"`
	BySeverity map[models.Severity]int `json:"bySeverity"`
	ByRule     map[models.RuleKind]int `json:"byRule"`
}

// ShelterStats summarizes shelter occupancy.
type ShelterStats struct {
	Total            int     `json:"total"`
	Available        int     `json:"available"`
	CapacityMax      int     `json:"capacityMax"`
	CapacityCurrent  int     `json:"capacityCurrent"`
	OccupancyPercent float64 `json:"occupancyPercent"`
}

// ObservationStats summarizes write activity.
type ObservationStats struct {
	Total     int64 `json:"total"`
	LastHour  int64 `json:"lastHour"`
	Chunks    int64 `json:"chunks"`
	DBSize    int64 `json:"dbSizeBytes"`
	BufferLen int   `json:"bufferLen"`
}

// Statistics is the real-time platform snapshot served to operators and
// broadcast over the live feed.
type Statistics struct {
	GeneratedAt  time.Time                       `json:"generatedAt"`
	SystemState  SystemState                     `json:"systemState"`
	Risks        map[models.SensorKind]RiskLevel `json:"risks"`
	Sensors      SensorStats                     `json:"sensors"`
	Alerts       AlertStats                      `json:"alerts"`
	Shelters     ShelterStats                    `json:"shelters"`
	Observations ObservationStats                `json:"observations"`
}

// Monitor computes risk levels and statistics on demand.
type Monitor struct {
	registry Registry
	obs      ObservationSource
	alerts   AlertSource
	started  time.Time
	dataPath string
}

func NewMonitor(registry Registry, obs ObservationSource, alerts AlertSource, dataPath string) *Monitor {
	return &Monitor{
		registry: registry,
		obs:      obs,
		alerts:   alerts,
		started:  time.Now(),
		dataPath: dataPath,
	}
}

// RiskByKind grades each sensor kind from the open alerts: any critical
// alert is an emergency; three or more high alerts rank high; any high or
// medium alert elevates; otherwise normal.
func RiskByKind(alerts []models.Alert) map[models.SensorKind]RiskLevel {
	risks := make(map[models.SensorKind]RiskLevel, len(models.KnownKinds))
	for _, kind := range models.KnownKinds {
		risks[kind] = RiskNormal
	}

	highCount := make(map[models.SensorKind]int)
	for _, alert := range alerts {
		if alert.State == models.AlertResolved {
			continue
		}
		kind := alert.Kind
		switch alert.Severity {
		case models.SeverityCritical:
			risks[kind] = RiskEmergency
		case models.SeverityHigh:
			highCount[kind]++
			if risks[kind] != RiskEmergency {
				risks[kind] = RiskElevated
			}
		case models.SeverityMedium:
			if risks[kind] == RiskNormal {
				risks[kind] = RiskElevated
			}
		}
	}
	for kind, n := range highCount {
		if n >= 3 && risks[kind] != RiskEmergency {
			risks[kind] = RiskHigh
		}
	}
	return risks
}

// SystemStateFrom folds per-kind risks and data freshness into one state.
// Precedence: EMERGENCY, ALERT, WATCH, NO_DATA, NORMAL.
func SystemStateFrom(risks map[models.SensorKind]RiskLevel, sensorsTotal int, lastHour int64) SystemState {
	worst := RiskNormal
	for _, r := range risks {
		switch r {
		case RiskEmergency:
			worst = RiskEmergency
		case RiskHigh:
			if worst != RiskEmergency {
				worst = RiskHigh
			}
		case RiskElevated:
			if worst == RiskNormal {
				worst = RiskElevated
			}
		}
	}

	switch worst {
	case RiskEmergency:
		return StateEmergency
	case RiskHigh:
		return StateAlert
	case RiskElevated:
		return StateWatch
	}
	if sensorsTotal == 0 || lastHour == 0 {
		return StateNoData
	}
	return StateNormal
}

// Statistics assembles the live snapshot.
func (m *Monitor) Statistics(ctx context.Context) (Statistics, error) {
	sensors, err := m.registry.ListSensors()
	if err != nil {
		return Statistics{}, err
	}
	shelters, err := m.registry.ListShelters()
	if err != nil {
		return Statistics{}, err
	}

	active := m.alerts.ActiveAlerts()

	stats := Statistics{
		GeneratedAt: time.Now().UTC(),
		Risks:       RiskByKind(active),
		Sensors: SensorStats{
			Total:    len(sensors),
			ByKind:   make(map[models.SensorKind]int),
			ByStatus: make(map[models.SensorStatus]int),
		},
		Alerts: AlertStats{
			BySeverity: make(map[models.Severity]int),
			ByRule:     make(map[models.RuleKind]int),
		},
	}

	sensorIDs := make([]int64, 0, len(sensors))
	for _, s := range sensors {
		stats.Sensors.ByKind[s.Kind]++
		stats.Sensors.ByStatus[s.Status]++
		sensorIDs = append(sensorIDs, s.ID)
	}
	if latest, err := m.obs.Latest(ctx, sensorIDs, time.Hour); err == nil {
		stats.Sensors.ReportingLastHour = len(latest)
	} else {
		log.Warn().Err(err).Msg("Failed to sample recent sensor activity")
	}

	for _, a := range active {
		stats.Alerts.Active++
		stats.Alerts.BySeverity[a.Severity]++
		stats.Alerts.ByRule[a.Rule]++
	}

	for _, sh := range shelters {
		stats.Shelters.Total++
		if sh.Accepting() {
			stats.Shelters.Available++
		}
		stats.Shelters.CapacityMax += sh.CapacityMax
		stats.Shelters.CapacityCurrent += sh.CapacityCurrent
	}
	if stats.Shelters.CapacityMax > 0 {
		stats.Shelters.OccupancyPercent = 100 * float64(stats.Shelters.CapacityCurrent) / float64(stats.Shelters.CapacityMax)
	}

	storeStats := m.obs.GetStats()
	stats.Observations = ObservationStats{
		Total:     storeStats.Observations,
		Chunks:    storeStats.Chunks,
		DBSize:    storeStats.DBSize,
		BufferLen: storeStats.BufferLen,
	}
	if count, err := m.obs.CountSince(ctx, time.Now().Add(-time.Hour)); err == nil {
		stats.Observations.LastHour = count
	}

	stats.SystemState = SystemStateFrom(stats.Risks, stats.Sensors.Total, stats.Observations.LastHour)
	return stats, nil
}

// ProcessHealth is the liveness payload: process and host resources.
type ProcessHealth struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	Goroutines    int     `json:"goroutines"`
	MemoryRSS     uint64  `json:"memoryRssBytes"`
	MemoryPercent float64 `json:"memoryPercent"`
	HostMemFree   uint64  `json:"hostMemFreeBytes"`
	DiskTotal     uint64  `json:"diskTotalBytes"`
	DiskFree      uint64  `json:"diskFreeBytes"`
	DiskUsedPct   float64 `json:"diskUsedPercent"`
}

// Health samples the running process and the data volume. Failures of
// individual probes degrade to zero values rather than failing the check.
func (m *Monitor) Health(ctx context.Context) ProcessHealth {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	h := ProcessHealth{
		Status:        "healthy",
		UptimeSeconds: time.Since(m.started).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
	}

	if proc, err := goproc.NewProcessWithContext(probeCtx, int32(os.Getpid())); err == nil {
		if mi, err := proc.MemoryInfoWithContext(probeCtx); err == nil && mi != nil {
			h.MemoryRSS = mi.RSS
		}
		if pct, err := proc.MemoryPercentWithContext(probeCtx); err == nil {
			h.MemoryPercent = float64(pct)
		}
	}
	if vm, err := virtualMemory(probeCtx); err == nil && vm != nil {
		h.HostMemFree = vm.Available
	}
	if du, err := diskUsage(probeCtx, m.dataPath); err == nil && du != nil {
		h.DiskTotal = du.Total
		h.DiskFree = du.Free
		h.DiskUsedPct = du.UsedPercent
		if du.UsedPercent > 95 {
			h.Status = "degraded"
		}
	}
	return h
}
