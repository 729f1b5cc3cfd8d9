package reaper

import (
	"context"
	"log/slog"
	"time"
)

// InstanceReaper is the slice of the instance manager the reaper drives.
type InstanceReaper interface {
	ReapExpired(ctx context.Context) int
	Reconcile(ctx context.Context)
}

// Reaper enforces instance expiry: a periodic sweep force-stops running
// instances past their wall-clock deadline. It is the only path by which an
// instance stops without an explicit caller.
type Reaper struct {
	manager  InstanceReaper
	interval time.Duration
	logger   *slog.Logger
}

func New(manager InstanceReaper, interval time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{
		manager:  manager,
		interval: interval,
		logger:   logger,
	}
}

func (r *Reaper) Run(ctx context.Context) {
	r.logger.Info("reaper started", "interval", r.interval)

	// One-time reconciliation: catch containers that vanished while the
	// service was down.
	r.manager.Reconcile(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			if n := r.manager.ReapExpired(ctx); n > 0 {
				r.logger.Info("reaper: reaped instances", "count", n)
			}
		}
	}
}
