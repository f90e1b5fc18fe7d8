package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-relay/domain/event"
	"chat-relay/errors"
)

func TestGetEvents_Returns_Pending_Events_Immediately(t *testing.T) {
	req := require.New(t)
	d := testDescriptor(QueueConfig{UserID: 1})
	req.NoError(d.AddEvent(streamMessage(), nil))

	res, err := d.GetEvents(context.Background(), EventsRequest{LastEventID: -1, Timeout: time.Second})

	req.NoError(err)
	req.Len(res.Events, 1)
	req.Equal(int64(0), res.Events[0].ID)
	req.Equal("q-test", res.QueueID)
}

func TestGetEvents_Prunes_Acknowledged_Events(t *testing.T) {
	req := require.New(t)
	d := testDescriptor(QueueConfig{UserID: 1})
	req.NoError(d.AddEvent(streamMessage(), nil))
	req.NoError(d.AddEvent(streamMessage(), nil))

	// When the client acknowledges event 0
	res, err := d.GetEvents(context.Background(), EventsRequest{LastEventID: 0, Timeout: time.Second})

	// Then only event 1 remains, and acknowledging it empties the queue
	req.NoError(err)
	req.Len(res.Events, 1)
	req.Equal(int64(1), res.Events[0].ID)

	res, err = d.GetEvents(context.Background(), EventsRequest{LastEventID: 1, DontBlock: true})
	req.NoError(err)
	req.Empty(res.Events)
}

func TestGetEvents_DontBlock_Returns_Empty_Without_Suspending(t *testing.T) {
	req := require.New(t)
	d := testDescriptor(QueueConfig{UserID: 1})

	res, err := d.GetEvents(context.Background(), EventsRequest{LastEventID: -1, DontBlock: true})

	req.NoError(err)
	req.Empty(res.Events)
	req.False(d.HasWaiter())
}

func TestGetEvents_Suspends_Until_An_Event_Arrives(t *testing.T) {
	req := require.New(t)
	d := testDescriptor(QueueConfig{UserID: 1})

	type outcome struct {
		res EventsResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := d.GetEvents(context.Background(), EventsRequest{LastEventID: -1, Timeout: 5 * time.Second})
		done <- outcome{res, err}
	}()

	// Wait for the poll to suspend before delivering
	req.Eventually(d.HasWaiter, time.Second, time.Millisecond)
	req.NoError(d.AddEvent(streamMessage(), nil))

	got := <-done
	req.NoError(got.err)
	req.Len(got.res.Events, 1)
	req.Equal(event.TypeMessage, got.res.Events[0].Type)
	req.False(d.HasWaiter())
}

func TestGetEvents_Times_Out_With_An_Empty_Result(t *testing.T) {
	req := require.New(t)
	d := testDescriptor(QueueConfig{UserID: 1})

	start := time.Now()
	res, err := d.GetEvents(context.Background(), EventsRequest{LastEventID: -1, Timeout: 20 * time.Millisecond})

	// A heartbeat-style timeout is a success with no events
	req.NoError(err)
	req.Empty(res.Events)
	req.GreaterOrEqual(time.Since(start), 20*time.Millisecond)
	req.False(d.HasWaiter())
}

func TestGetEvents_New_Poll_Supersedes_The_Suspended_One(t *testing.T) {
	req := require.New(t)
	d := testDescriptor(QueueConfig{UserID: 1})

	firstErr := make(chan error, 1)
	go func() {
		_, err := d.GetEvents(context.Background(), EventsRequest{LastEventID: -1, Timeout: 5 * time.Second})
		firstErr <- err
	}()
	req.Eventually(d.HasWaiter, time.Second, time.Millisecond)

	// When a second poll arrives for the same queue
	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		_, _ = d.GetEvents(context.Background(), EventsRequest{LastEventID: -1, Timeout: 50 * time.Millisecond})
	}()

	// Then the first resolves with supersession, the second runs normally
	req.ErrorIs(<-firstErr, errors.ErrQueueSuperseded)
	<-secondDone
}

func TestGetEvents_Context_Cancellation_Clears_The_Waiter(t *testing.T) {
	req := require.New(t)
	d := testDescriptor(QueueConfig{UserID: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := d.GetEvents(ctx, EventsRequest{LastEventID: -1, Timeout: 5 * time.Second})
		done <- err
	}()
	req.Eventually(d.HasWaiter, time.Second, time.Millisecond)

	cancel()

	req.ErrorIs(<-done, context.Canceled)
	req.Eventually(func() bool { return !d.HasWaiter() }, time.Second, time.Millisecond)
}

func TestGetEvents_Suspended_Descriptor_Never_Expires(t *testing.T) {
	req := require.New(t)
	d := testDescriptor(QueueConfig{UserID: 1})
	d.QueueTimeout = time.Minute

	go func() {
		_, _ = d.GetEvents(context.Background(), EventsRequest{LastEventID: -1, Timeout: 5 * time.Second})
	}()
	req.Eventually(d.HasWaiter, time.Second, time.Millisecond)

	req.False(d.IsExpired(time.Now().Add(time.Hour)))

	d.disconnect()
	req.Eventually(func() bool { return !d.HasWaiter() }, time.Second, time.Millisecond)
	req.True(d.IsExpired(time.Now().Add(time.Hour)))
}
