package test

import (
	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/sink"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func Test_Scenario(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	// Reduced to 16 Mo for testing (avoid 20 Go of storage)
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).
		WithLoggingLevel(badger.ERROR).
		WithValueLogFileSize(16 << 20))
	req.NoError(err)
	t.Cleanup(func() { db.Close() })

	log := slog.New(slog.DiscardHandler)
	manager := runtime.NewQueueManager(log)
	snapshots := repositories.NewSnapshotRepository(db, log)
	notifications := sink.NewChannelNotificationSink(log, 16)
	dispatcher := runtime.NewDispatcher(log, manager, notifications, "it-1")

	// 1. A client registers a queue filtered to message events
	descriptor, err := manager.Allocate(runtime.QueueConfig{
		UserID:     1,
		EventTypes: []string{event.TypeMessage},
	})
	req.NoError(err)

	// 2. The client suspends on a long-poll
	type pollOutcome struct {
		res runtime.EventsResult
		err error
	}
	polled := make(chan pollOutcome, 1)
	go func() {
		res, err := descriptor.GetEvents(ctx, runtime.EventsRequest{LastEventID: -1, Timeout: 5 * time.Second})
		polled <- pollOutcome{res, err}
	}()
	req.Eventually(descriptor.HasWaiter, 2*time.Second, time.Millisecond)

	// 3. The message path notifies a private message for an idle user
	msg := event.NewMessage(event.Message{
		MessageID:       100,
		SenderID:        2,
		Content:         "**urgent**",
		RenderedContent: "<p><strong>urgent</strong></p>",
		Private:         true,
	})
	msg.Internal = &event.InternalData{
		SenderID:            2,
		PresenceIdleUserIDs: []int64{3},
	}
	dispatcher.DispatchEvent(ctx, msg, []domain.UserRow{{UserID: 1}, {UserID: 3}})

	// 4. The suspended poll resolves with exactly that event, id 0
	var got pollOutcome
	select {
	case got = <-polled:
	case <-time.After(2 * time.Second):
		req.Fail("Timeout: event never reached the suspended poll")
	}
	req.NoError(got.err)
	req.Len(got.res.Events, 1)
	req.Equal(int64(0), got.res.Events[0].ID)
	req.Equal(event.TypeMessage, got.res.Events[0].Type)
	req.Nil(got.res.Events[0].Internal)

	// 5. User 3 had no live poll, so the private message triggered a
	// notification; user 1 was actively viewing and did not.
	select {
	case n := <-notifications.Notifications:
		req.Equal(int64(3), n.UserID)
		req.Equal(int64(100), n.MessageID)
		req.Equal(domain.TriggerPrivateMessage, n.Trigger)
	case <-time.After(2 * time.Second):
		req.Fail("Timeout: notification never enqueued")
	}
	req.Empty(notifications.Notifications)

	// 6. Acknowledging the event empties the queue
	res, err := descriptor.GetEvents(ctx, runtime.EventsRequest{LastEventID: 0, DontBlock: true})
	req.NoError(err)
	req.Empty(res.Events)

	// 7. The snapshot cycle survives a fresh manager: same queue ID, same
	// event ID sequencing after reload
	req.NoError(manager.Dump(ctx, snapshots))
	restartedManager := runtime.NewQueueManager(log)
	restored, err := restartedManager.Load(ctx, snapshots)
	req.NoError(err)
	req.Equal(1, restored)

	reloaded, err := restartedManager.LookupOwned(descriptor.QueueID, 1)
	req.NoError(err)
	restartedDispatcher := runtime.NewDispatcher(log, restartedManager, notifications, "it-2")
	restartedDispatcher.DispatchEvent(ctx, msg, []domain.UserRow{{UserID: 1}})

	res, err = reloaded.GetEvents(ctx, runtime.EventsRequest{LastEventID: -1, DontBlock: true})
	req.NoError(err)
	req.Len(res.Events, 1)
	req.Equal(int64(1), res.Events[0].ID)
}
