package workers

import (
	"context"
	"log/slog"
	"time"

	"chat-relay/contract"
	"chat-relay/observability"
	"chat-relay/runtime"
)

// Snapshotter dumps the queue manager's state to durable storage on a
// fixed schedule so queues survive a process restart. A failed dump is
// logged and retried on the next tick, never fatal. The final dump on
// shutdown happens in main, after the workers have stopped.
type Snapshotter struct {
	log      *slog.Logger
	manager  *runtime.QueueManager
	store    contract.SnapshotStore
	interval time.Duration
}

func NewSnapshotter(log *slog.Logger, manager *runtime.QueueManager, store contract.SnapshotStore, interval time.Duration) *Snapshotter {
	return &Snapshotter{log: log, manager: manager, store: store, interval: interval}
}

func (w *Snapshotter) Run(ctx context.Context) error {
	w.log.Info("Starting queue snapshotter", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			start := time.Now()
			if err := w.manager.Dump(ctx, w.store); err != nil {
				observability.SnapshotFailures.Inc()
				w.log.Error("Queue snapshot dump failed", "error", err)
				continue
			}
			observability.SnapshotDuration.Observe(time.Since(start).Seconds())
			w.log.Debug("Queue snapshot dumped", "queues", w.manager.Len(), "took", time.Since(start))
		}
	}
}
