package worker

import (
	"context"
	"time"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
	"github.com/hackgods/clinic-scheduling/pkg/logging"
)

// QueueSweeper cancels queue entries left over from previous clinic days.
type QueueSweeper struct {
	svc      *scheduling.Service
	interval time.Duration
	timeout  time.Duration
	logger   *logging.Logger
	now      func() time.Time
}

func NewQueueSweeper(svc *scheduling.Service, interval time.Duration, logger *logging.Logger) *QueueSweeper {
	if logger == nil {
		logger = logging.Default()
	}
	return &QueueSweeper{
		svc:      svc,
		interval: interval,
		timeout:  20 * time.Second,
		logger:   logger.Component("queue-sweeper"),
		now:      time.Now,
	}
}

// Run sweeps once at startup and then on every tick until ctx ends.
func (w *QueueSweeper) Run(ctx context.Context) {
	_, _ = w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("shutdown signal received, stopping queue sweeper")
			return
		case <-ticker.C:
			_, _ = w.RunOnce(ctx)
		}
	}
}

// RunOnce cancels every WAITING or SKIPPED entry created before the start of
// today in the clinic time zone.
func (w *QueueSweeper) RunOnce(ctx context.Context) (int, error) {
	runCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	start := time.Now()
	cutoff := w.cutoff()
	n, err := w.svc.SweepStaleQueue(runCtx, cutoff)
	if err != nil {
		w.logger.Error("queue sweep failed", "cutoff", cutoff, "error", err)
		return 0, err
	}
	w.logger.Info("queue sweep complete", "cutoff", cutoff, "cancelled", n, "duration_ms", time.Since(start).Milliseconds())
	return n, nil
}

func (w *QueueSweeper) cutoff() time.Time {
	local := w.now().In(w.svc.Location())
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
}
