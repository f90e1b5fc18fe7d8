package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chat-relay/domain/event"
	"chat-relay/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestQueueManager_Allocate_Registers_A_Fresh_Queue(t *testing.T) {
	req := require.New(t)
	m := NewQueueManager(testLogger())

	d, err := m.Allocate(QueueConfig{UserID: 1, EventTypes: []string{"message"}})

	req.NoError(err)
	req.NotEmpty(d.QueueID)
	req.Equal(m.Generation(), d.Generation)
	req.Equal(1, m.Len())

	// Both lookup paths resolve the new descriptor
	got, err := m.Lookup(d.QueueID)
	req.NoError(err)
	req.Same(d, got)
	req.Len(m.LookupForUser(1), 1)
}

func TestQueueManager_Allocate_Rejects_Invalid_Configuration(t *testing.T) {
	req := require.New(t)
	m := NewQueueManager(testLogger())

	_, err := m.Allocate(QueueConfig{UserID: 0})
	req.ErrorIs(err, errors.ErrInvalidConfiguration)

	_, err = m.Allocate(QueueConfig{UserID: 1, Narrow: [][]string{{"stream"}}})
	req.ErrorIs(err, errors.ErrInvalidConfiguration)

	_, err = m.Allocate(QueueConfig{UserID: 1, AllPublicStreams: true, RestrictedAccount: true})
	req.ErrorIs(err, errors.ErrInvalidConfiguration)

	req.Equal(0, m.Len())
}

func TestQueueManager_Allocate_Clamps_Queue_Timeout(t *testing.T) {
	req := require.New(t)
	m := NewQueueManager(testLogger())

	d, err := m.Allocate(QueueConfig{UserID: 1})
	req.NoError(err)
	req.Equal(DefaultQueueTimeout, d.QueueTimeout)

	d, err = m.Allocate(QueueConfig{UserID: 1, QueueTimeout: 30 * 24 * time.Hour})
	req.NoError(err)
	req.Equal(MaxQueueTimeout, d.QueueTimeout)
}

func TestQueueManager_Lookup_Of_Unknown_Queue_Fails(t *testing.T) {
	req := require.New(t)
	m := NewQueueManager(testLogger())

	_, err := m.Lookup("no-such-queue")
	req.ErrorIs(err, errors.ErrBadEventQueueID)
}

func TestQueueManager_LookupOwned_Rejects_Other_Users(t *testing.T) {
	req := require.New(t)
	m := NewQueueManager(testLogger())
	d, err := m.Allocate(QueueConfig{UserID: 1})
	req.NoError(err)

	_, err = m.LookupOwned(d.QueueID, 2)
	req.ErrorIs(err, errors.ErrWrongUser)

	got, err := m.LookupOwned(d.QueueID, 1)
	req.NoError(err)
	req.Same(d, got)
}

func TestQueueManager_Cleanup_Removes_Queue_And_Index_Entry(t *testing.T) {
	req := require.New(t)
	m := NewQueueManager(testLogger())
	d, err := m.Allocate(QueueConfig{UserID: 1})
	req.NoError(err)

	req.NoError(m.Cleanup(d.QueueID, 1))

	req.Equal(0, m.Len())
	req.Empty(m.LookupForUser(1))
	_, err = m.Lookup(d.QueueID)
	req.ErrorIs(err, errors.ErrBadEventQueueID)

	// Cleaning up twice reads as an unknown queue
	req.ErrorIs(m.Cleanup(d.QueueID, 1), errors.ErrBadEventQueueID)
}

func TestQueueManager_GarbageCollect_Reaps_Only_Expired_Queues(t *testing.T) {
	req := require.New(t)
	m := NewQueueManager(testLogger())

	short, err := m.Allocate(QueueConfig{UserID: 1, QueueTimeout: time.Minute})
	req.NoError(err)
	long, err := m.Allocate(QueueConfig{UserID: 2, QueueTimeout: time.Hour})
	req.NoError(err)

	reaped := m.GarbageCollect(time.Now().Add(10 * time.Minute))

	req.Equal(1, reaped)
	req.Equal(1, m.Len())
	req.Empty(m.LookupForUser(1))
	_, err = m.Lookup(short.QueueID)
	req.ErrorIs(err, errors.ErrBadEventQueueID)
	_, err = m.Lookup(long.QueueID)
	req.NoError(err)
}

func TestQueueManager_BumpGeneration_Is_Strictly_Increasing(t *testing.T) {
	req := require.New(t)
	m := NewQueueManager(testLogger())

	first := m.Generation()
	bumped := m.BumpGeneration()
	req.Greater(bumped, first)
	req.Greater(m.BumpGeneration(), bumped)
}

// memorySnapshotStore is an in-process contract.SnapshotStore for tests
// that exercise dump/load without a database.
type memorySnapshotStore struct {
	saved map[string]json.RawMessage
	fail  error
}

func (s *memorySnapshotStore) Save(_ context.Context, queues map[string]json.RawMessage) error {
	if s.fail != nil {
		return s.fail
	}
	s.saved = queues
	return nil
}

func (s *memorySnapshotStore) Load(_ context.Context) (map[string]json.RawMessage, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	return s.saved, nil
}

func TestQueueManager_Dump_And_Load_Restore_Live_Queues(t *testing.T) {
	req := require.New(t)
	m := NewQueueManager(testLogger())
	store := &memorySnapshotStore{}

	d, err := m.Allocate(QueueConfig{UserID: 1, EventTypes: []string{"message"}, ApplyMarkdown: true})
	req.NoError(err)
	req.NoError(d.AddEvent(streamMessage(), nil))
	req.NoError(m.Dump(context.Background(), store))

	// When a fresh manager loads the snapshot
	fresh := NewQueueManager(testLogger())
	restored, err := fresh.Load(context.Background(), store)

	req.NoError(err)
	req.Equal(1, restored)
	got, err := fresh.LookupOwned(d.QueueID, 1)
	req.NoError(err)
	req.Equal(d.EventTypes, got.EventTypes)
	req.True(got.ApplyMarkdown)

	// The pending event survived with its queue-local ID
	res, err := got.GetEvents(context.Background(), EventsRequest{LastEventID: -1, DontBlock: true})
	req.NoError(err)
	req.Len(res.Events, 1)
	req.Equal(int64(0), res.Events[0].ID)
	req.Equal(event.TypeMessage, res.Events[0].Type)
}

func TestQueueManager_Load_Skips_Corrupt_Entries(t *testing.T) {
	req := require.New(t)
	m := NewQueueManager(testLogger())
	store := &memorySnapshotStore{}

	d, err := m.Allocate(QueueConfig{UserID: 1})
	req.NoError(err)
	req.NoError(m.Dump(context.Background(), store))
	store.saved["broken"] = json.RawMessage(`{not json`)
	store.saved["partial"] = json.RawMessage(`{"user_id": 0}`)

	fresh := NewQueueManager(testLogger())
	restored, err := fresh.Load(context.Background(), store)

	// The valid queue loads; the corrupt ones are dropped, not fatal
	req.NoError(err)
	req.Equal(1, restored)
	_, err = fresh.Lookup(d.QueueID)
	req.NoError(err)
}
