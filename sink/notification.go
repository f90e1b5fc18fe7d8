package sink

import (
	"context"
	"log/slog"

	"chat-relay/domain"
)

// ChannelNotificationSink hands missed-message triggers to the external
// push/email pipeline over a buffered channel. Delivery is best-effort:
// when the pipeline falls behind, triggers are dropped with a warning
// rather than stalling event dispatch.
type ChannelNotificationSink struct {
	log           *slog.Logger
	Notifications chan domain.Notification
}

func NewChannelNotificationSink(log *slog.Logger, bufferSize int) *ChannelNotificationSink {
	return &ChannelNotificationSink{
		log:           log,
		Notifications: make(chan domain.Notification, bufferSize),
	}
}

func (s *ChannelNotificationSink) EnqueueNotification(ctx context.Context, n domain.Notification) error {
	select {
	case s.Notifications <- n:
	case <-ctx.Done():
		return ctx.Err()
	default:
		s.log.Warn("Notification queue full, dropping trigger",
			"user_id", n.UserID, "message_id", n.MessageID, "trigger", n.Trigger)
	}
	return nil
}
