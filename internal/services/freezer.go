package services

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Freezer runs the historical freeze sweep on a ticker so that summaries
// become immutable shortly after their day elapses, even on an idle API.
type Freezer struct {
	stats    *StatsService
	log      *zap.Logger
	interval time.Duration
}

func NewFreezer(stats *StatsService, log *zap.Logger, interval time.Duration) *Freezer {
	return &Freezer{stats: stats, log: log, interval: interval}
}

// Start sweeps once immediately, then on every tick until ctx is done.
func (f *Freezer) Start(ctx context.Context) {
	f.log.Info("starting freeze sweeper", zap.Duration("interval", f.interval))
	go func() {
		f.sweep(ctx)
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.sweep(ctx)
			}
		}
	}()
}

func (f *Freezer) sweep(ctx context.Context) {
	if _, err := f.stats.FreezePast(ctx); err != nil {
		f.log.Error("freeze sweep failed", zap.Error(err))
	}
}
