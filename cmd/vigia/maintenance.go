package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const statusBroadcastInterval = 30 * time.Second

// retentionLoop drops observation chunks older than the retention window,
// once at startup and then daily.
func (p *platform) retentionLoop(ctx context.Context) {
	if p.cfg.RetentionDays <= 0 {
		return
	}

	p.sweepRetention()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweepRetention()
		}
	}
}

func (p *platform) sweepRetention() {
	cutoff := time.Now().UTC().AddDate(0, 0, -p.cfg.RetentionDays)
	dropped, err := p.tstore.DropChunksBefore(cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Retention sweep failed")
		return
	}
	if dropped > 0 {
		log.Info().
			Int64("chunks", dropped).
			Time("cutoff", cutoff).
			Msg("Dropped expired observation chunks")
	}
}

// statusLoop pushes the statistics snapshot to connected live clients.
func (p *platform) statusLoop(ctx context.Context) {
	ticker := time.NewTicker(statusBroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.hub.GetClientCount() == 0 {
				continue
			}
			stats, err := p.monitor.Statistics(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Status broadcast skipped")
				continue
			}
			p.hub.BroadcastSystemStatus(stats)
		}
	}
}
