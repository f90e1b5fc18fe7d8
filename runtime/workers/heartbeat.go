package workers

import (
	"context"
	"log/slog"
	"time"

	"chat-relay/runtime"
)

// Heartbeat periodically pushes the liveness event to every queue so
// idle long-polls resolve and clients can tell the server is up.
// Heartbeats are virtual events: an unread one is overwritten in place,
// so an idle queue never accumulates them.
type Heartbeat struct {
	log        *slog.Logger
	dispatcher *runtime.Dispatcher
	interval   time.Duration
}

func NewHeartbeat(log *slog.Logger, dispatcher *runtime.Dispatcher, interval time.Duration) *Heartbeat {
	return &Heartbeat{log: log, dispatcher: dispatcher, interval: interval}
}

func (w *Heartbeat) Run(ctx context.Context) error {
	w.log.Info("Starting heartbeat worker", "interval", w.interval)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sent := w.dispatcher.SendHeartbeats(ctx)
			w.log.Debug("Heartbeats sent", "queues", sent)
		}
	}
}
