package workers

import (
	"context"
	"log/slog"

	"chat-relay/sink"
)

// NotificationDrain consumes the offline-notification channel and hands
// each trigger to the external push/email pipeline. The transport
// itself lives outside this process; here the trigger is logged as the
// hand-off record.
type NotificationDrain struct {
	log  *slog.Logger
	sink *sink.ChannelNotificationSink
}

func NewNotificationDrain(log *slog.Logger, s *sink.ChannelNotificationSink) *NotificationDrain {
	return &NotificationDrain{log: log, sink: s}
}

func (w *NotificationDrain) Run(ctx context.Context) error {
	w.log.Info("Starting notification drain")
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-w.sink.Notifications:
			w.log.Info("Offline notification enqueued",
				"user_id", n.UserID,
				"message_id", n.MessageID,
				"trigger", n.Trigger,
				"stream", n.Stream,
				"topic", n.Topic)
		}
	}
}
