package workers

import (
	"context"
	"log/slog"
	"time"

	"chat-relay/observability"
	"chat-relay/runtime"
)

// Reaper sweeps expired event queues on a fixed interval. Running the
// sweep on a timer instead of per request keeps lookup latency flat.
type Reaper struct {
	log      *slog.Logger
	manager  *runtime.QueueManager
	interval time.Duration
}

func NewReaper(log *slog.Logger, manager *runtime.QueueManager, interval time.Duration) *Reaper {
	return &Reaper{log: log, manager: manager, interval: interval}
}

func (w *Reaper) Run(ctx context.Context) error {
	w.log.Info("Starting queue reaper", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			reaped := w.manager.GarbageCollect(time.Now())
			observability.QueuesReaped.Add(float64(reaped))
			observability.ActiveQueues.Set(float64(w.manager.Len()))
			if reaped > 0 {
				w.log.Debug("Garbage collection sweep done", "reaped", reaped, "remaining", w.manager.Len())
			}
		}
	}
}
