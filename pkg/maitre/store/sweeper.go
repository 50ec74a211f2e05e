// sweeper.go runs periodic expiry sweeps for backends without native TTL
// support (sqlite, memory). Redis expires keys itself and is never swept.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper schedules SweepExpired calls on a Sweepable backend.
type Sweeper struct {
	target Sweepable
	cron   *cron.Cron
	logger *slog.Logger
}

// NewSweeper creates a sweeper for target. Returns nil if the backend
// does not need sweeping.
func NewSweeper(s Store, logger *slog.Logger) *Sweeper {
	target, ok := s.(Sweepable)
	if !ok {
		return nil
	}
	return &Sweeper{
		target: target,
		cron:   cron.New(),
		logger: logger.With("component", "store.sweeper"),
	}
}

// Start schedules a sweep every minute. TTL enforcement stays eventually
// consistent: a read right after expiry may still see the record, and
// callers tolerate both outcomes.
func (w *Sweeper) Start() error {
	_, err := w.cron.AddFunc("@every 1m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		removed, err := w.target.SweepExpired(ctx)
		if err != nil {
			w.logger.Warn("expiry sweep failed", "error", err)
			return
		}
		if removed > 0 {
			w.logger.Debug("expiry sweep complete", "removed", removed)
		}
	})
	if err != nil {
		return err
	}

	w.cron.Start()
	return nil
}

// Stop halts the sweep schedule, waiting for an in-flight sweep to finish.
func (w *Sweeper) Stop() {
	<-w.cron.Stop().Done()
}
