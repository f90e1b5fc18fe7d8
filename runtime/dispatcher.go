package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/samber/lo"

	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/domain/event"
)

// ClientInfo is one selected delivery target: the descriptor plus the
// per-user annotations relevant to it.
type ClientInfo struct {
	Client   *ClientDescriptor
	Flags    []string
	IsSender bool
}

// Dispatcher resolves a freshly created event to the set of live client
// descriptors it concerns, pushes a per-client shaped copy into each
// queue, and layers the missed-message notification policy on top of
// delivery without coupling the two.
type Dispatcher struct {
	log           *slog.Logger
	manager       *QueueManager
	notifier      contract.NotificationSink
	serverVersion string
}

func NewDispatcher(log *slog.Logger, manager *QueueManager, notifier contract.NotificationSink, serverVersion string) *Dispatcher {
	return &Dispatcher{log: log, manager: manager, notifier: notifier, serverVersion: serverVersion}
}

// ClientInfoForEvent maps queue ID -> delivery target for every live
// descriptor of the candidate users whose filter accepts the event.
func (dp *Dispatcher) ClientInfoForEvent(e *event.Event, users []domain.UserRow) map[string]ClientInfo {
	senderID := int64(0)
	if e.Internal != nil {
		senderID = e.Internal.SenderID
	}

	targets := make(map[string]ClientInfo)
	for _, row := range users {
		for _, d := range dp.manager.LookupForUser(row.UserID) {
			if e.Type == event.TypeMessage && !d.AcceptsMessages() {
				continue
			}
			if !d.AcceptsEvent(e) {
				continue
			}
			targets[d.QueueID] = ClientInfo{
				Client:   d,
				Flags:    row.Flags,
				IsSender: senderID != 0 && row.UserID == senderID,
			}
		}
	}
	return targets
}

// DispatchEvent fans the event out to every accepting descriptor. One
// client failing to shape or push must not starve the rest: failures
// are isolated per client and logged. Message events afterwards run
// the offline-notification policy for presence-idle recipients.
func (dp *Dispatcher) DispatchEvent(ctx context.Context, e *event.Event, users []domain.UserRow) {
	// Capture who is watching before delivery: pushing the event resolves
	// suspended long-polls, which would make everyone look idle.
	viewing := dp.activelyViewingUsers(e)

	for queueID, info := range dp.ClientInfoForEvent(e, users) {
		if err := dp.deliverTo(info, e); err != nil {
			dp.log.Error("Dropping event for one client",
				"queue_id", queueID,
				"user_id", info.Client.UserID,
				"event_type", e.Type,
				"error", err)
		}
	}

	if e.Message != nil && e.Internal != nil {
		dp.maybeEnqueueNotifications(ctx, e, users, viewing)
	}
}

// deliverTo isolates a single client's shaping + push, converting a
// panic from an unexpected capability/field combination into an error.
func (dp *Dispatcher) deliverTo(info ClientInfo, e *event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("shaping panic: %v", r)
		}
	}()
	return info.Client.AddEvent(e, info.Flags)
}

// maybeEnqueueNotifications fires push/email triggers for users who are
// presence-idle and not actively viewing the conversation on any live
// client. The enqueue is fire-and-forget: the core never depends on the
// notification transport's outcome.
func (dp *Dispatcher) maybeEnqueueNotifications(ctx context.Context, e *event.Event, users []domain.UserRow, viewing map[int64]struct{}) {
	internal := e.Internal
	rowsByUser := lo.KeyBy(users, func(r domain.UserRow) int64 { return r.UserID })

	for _, userID := range internal.PresenceIdleUserIDs {
		if userID == internal.SenderID {
			continue
		}
		if slices.Contains(internal.MutedUserIDs, userID) {
			continue
		}
		if _, ok := viewing[userID]; ok {
			continue
		}

		trigger, ok := notificationTrigger(e, rowsByUser[userID], internal, userID)
		if !ok {
			continue
		}
		n := domain.Notification{
			UserID:    userID,
			MessageID: e.Message.MessageID,
			Trigger:   trigger,
			Stream:    e.Message.Stream,
			Topic:     e.Message.Topic,
		}
		if err := dp.notifier.EnqueueNotification(ctx, n); err != nil {
			dp.log.Warn("Offline notification enqueue failed",
				"user_id", userID, "message_id", n.MessageID, "error", err)
		}
	}
}

// activelyViewingUsers collects the users with at least one live client
// that accepts this event and has a long-poll suspended right now.
func (dp *Dispatcher) activelyViewingUsers(e *event.Event) map[int64]struct{} {
	if e.Internal == nil || len(e.Internal.PresenceIdleUserIDs) == 0 {
		return nil
	}
	viewing := make(map[int64]struct{})
	for _, userID := range e.Internal.PresenceIdleUserIDs {
		for _, d := range dp.manager.LookupForUser(userID) {
			if d.HasWaiter() && d.AcceptsEvent(e) {
				viewing[userID] = struct{}{}
				break
			}
		}
	}
	return viewing
}

func notificationTrigger(e *event.Event, row domain.UserRow, internal *event.InternalData, userID int64) (domain.NotificationTrigger, bool) {
	switch {
	case e.Message.Private:
		return domain.TriggerPrivateMessage, true
	case row.HasFlag(domain.FlagMentioned):
		return domain.TriggerMentioned, true
	case row.HasFlag(domain.FlagWildcardMentioned):
		return domain.TriggerWildcardMentioned, true
	case slices.Contains(internal.PushNotifyUserIDs, userID),
		slices.Contains(internal.EmailNotifyUserIDs, userID):
		return domain.TriggerStreamPush, true
	}
	return "", false
}

// SendRestartEvents broadcasts a restart virtual event announcing a new
// server incarnation to every live queue. Queues allocated under the
// new generation are skipped: a freshly registered queue's very first
// fetch must not contain the restart that caused its own registration,
// or clients would loop re-registering forever.
func (dp *Dispatcher) SendRestartEvents(ctx context.Context) int {
	generation := dp.manager.BumpGeneration()
	restart := event.NewRestart(generation, dp.serverVersion)

	sent := 0
	for _, d := range dp.manager.AllClients() {
		if d.Generation >= generation {
			continue
		}
		if err := dp.deliverTo(ClientInfo{Client: d}, restart); err != nil {
			dp.log.Error("Restart event dropped for one client", "queue_id", d.QueueID, "error", err)
			continue
		}
		sent++
	}
	dp.log.Info("Restart events broadcast", "generation", generation, "queues", sent)
	return sent
}

// SendHeartbeats pushes the periodic liveness event to every queue, so
// idle long-polls resolve and clients can tell the server is alive.
func (dp *Dispatcher) SendHeartbeats(ctx context.Context) int {
	heartbeat := event.NewHeartbeat()
	sent := 0
	for _, d := range dp.manager.AllClients() {
		if err := dp.deliverTo(ClientInfo{Client: d}, heartbeat); err != nil {
			dp.log.Error("Heartbeat dropped for one client", "queue_id", d.QueueID, "error", err)
			continue
		}
		sent++
	}
	return sent
}
