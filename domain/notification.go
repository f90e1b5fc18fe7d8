package domain

// NotificationTrigger names the reason a missed-message notification is
// being enqueued. The push/email transport downstream uses it to pick
// wording and urgency.
type NotificationTrigger string

const (
	TriggerPrivateMessage    NotificationTrigger = "private_message"
	TriggerMentioned         NotificationTrigger = "mentioned"
	TriggerWildcardMentioned NotificationTrigger = "wildcard_mentioned"
	TriggerStreamPush        NotificationTrigger = "stream_push_notify"
)

// Notification is the fire-and-forget payload handed to the offline
// notification queue when a user misses a message while idle. The core
// never waits for or depends on its delivery.
type Notification struct {
	UserID    int64               `json:"user_id"`
	MessageID int64               `json:"message_id"`
	Trigger   NotificationTrigger `json:"trigger"`
	Stream    string              `json:"stream,omitempty"`
	Topic     string              `json:"topic,omitempty"`
}
