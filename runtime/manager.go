package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"chat-relay/contract"
	"chat-relay/errors"
)

// DefaultQueueTimeout applies when registration does not pick one.
// Interactive web clients ask for much longer lifespans; transient
// programmatic pollers keep the default.
const (
	DefaultQueueTimeout = 10 * time.Minute
	MaxQueueTimeout     = 7 * 24 * time.Hour
)

var validate = validator.New()

// QueueConfig is the registration request for a new event queue.
type QueueConfig struct {
	UserID  int64 `validate:"required,gt=0"`
	RealmID int64 `validate:"gte=0"`

	EventTypes []string
	Narrow     [][]string `validate:"dive,len=2"`

	AllPublicStreams    bool
	ApplyMarkdown       bool
	ClientGravatar      bool
	BulkMessageDeletion bool
	ClientTypeName      string

	// RestrictedAccount is set by the gateway for accounts that may not
	// subscribe to all public streams (e.g. guests).
	RestrictedAccount bool

	QueueTimeout time.Duration
}

type Set map[string]struct{}

// QueueManager is the process-wide registry of live client descriptors:
// queue ID -> descriptor, plus a user ID -> queue ID set secondary index
// for fan-out. Only the manager's own methods mutate the two maps, so
// they can never drift apart.
type QueueManager struct {
	mu          sync.RWMutex
	log         *slog.Logger
	clients     map[string]*ClientDescriptor
	userClients map[int64]Set
	generation  int64
}

func NewQueueManager(log *slog.Logger) *QueueManager {
	return &QueueManager{
		log:         log,
		clients:     make(map[string]*ClientDescriptor),
		userClients: make(map[int64]Set),
		generation:  time.Now().Unix(),
	}
}

// Allocate validates the configuration, creates the descriptor + queue
// pair under a fresh queue ID and registers it in both maps. Invalid
// configuration is rejected before any state is created.
func (m *QueueManager) Allocate(cfg QueueConfig) (*ClientDescriptor, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidConfiguration, err)
	}
	if cfg.AllPublicStreams && cfg.RestrictedAccount {
		return nil, fmt.Errorf("%w: restricted account cannot request all public streams", errors.ErrInvalidConfiguration)
	}
	timeout := cfg.QueueTimeout
	switch {
	case timeout <= 0:
		timeout = DefaultQueueTimeout
	case timeout > MaxQueueTimeout:
		timeout = MaxQueueTimeout
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	d := &ClientDescriptor{
		QueueID:             uuid.NewString(),
		UserID:              cfg.UserID,
		RealmID:             cfg.RealmID,
		EventTypes:          cfg.EventTypes,
		Narrow:              cfg.Narrow,
		AllPublicStreams:    cfg.AllPublicStreams,
		ApplyMarkdown:       cfg.ApplyMarkdown,
		ClientGravatar:      cfg.ClientGravatar,
		BulkMessageDeletion: cfg.BulkMessageDeletion,
		ClientTypeName:      cfg.ClientTypeName,
		QueueTimeout:        timeout,
		Generation:          m.generation,
		lastConnectionTime:  time.Now(),
		queue:               NewEventQueue(),
	}
	m.register(d)
	m.log.Debug("Allocated event queue", "queue_id", d.QueueID, "user_id", d.UserID, "client", d.ClientTypeName)
	return d, nil
}

// register must run with m.mu held.
func (m *QueueManager) register(d *ClientDescriptor) {
	m.clients[d.QueueID] = d
	if _, ok := m.userClients[d.UserID]; !ok {
		m.userClients[d.UserID] = make(Set)
	}
	m.userClients[d.UserID][d.QueueID] = struct{}{}
}

// remove must run with m.mu held. It keeps the secondary index
// consistent and never leaves an empty set behind.
func (m *QueueManager) remove(d *ClientDescriptor) {
	delete(m.clients, d.QueueID)
	if ids, ok := m.userClients[d.UserID]; ok {
		delete(ids, d.QueueID)
		if len(ids) == 0 {
			delete(m.userClients, d.UserID)
		}
	}
}

// Lookup resolves a queue ID. The error does not distinguish "never
// existed" from "expired" from "lost on restart": the client's recovery
// is identical in all three cases.
func (m *QueueManager) Lookup(queueID string) (*ClientDescriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.clients[queueID]
	if !ok {
		return nil, errors.ErrBadEventQueueID
	}
	return d, nil
}

// LookupOwned resolves a queue ID and checks the requester owns it.
func (m *QueueManager) LookupOwned(queueID string, userID int64) (*ClientDescriptor, error) {
	d, err := m.Lookup(queueID)
	if err != nil {
		return nil, err
	}
	if d.UserID != userID {
		m.log.Warn("Queue access by wrong user", "queue_id", queueID, "owner", d.UserID, "requester", userID)
		return nil, errors.ErrWrongUser
	}
	return d, nil
}

// LookupForUser returns all live descriptors for a user; the fan-out
// entry point.
func (m *QueueManager) LookupForUser(userID int64) []*ClientDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids, ok := m.userClients[userID]
	if !ok {
		return nil
	}
	out := make([]*ClientDescriptor, 0, len(ids))
	for id := range ids {
		if d, exists := m.clients[id]; exists {
			out = append(out, d)
		}
	}
	return out
}

// AllClients snapshots every live descriptor.
func (m *QueueManager) AllClients() []*ClientDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*ClientDescriptor, 0, len(m.clients))
	for _, d := range m.clients {
		out = append(out, d)
	}
	return out
}

func (m *QueueManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Cleanup is the explicit client-initiated teardown of a queue.
func (m *QueueManager) Cleanup(queueID string, userID int64) error {
	d, err := m.LookupOwned(queueID, userID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.remove(d)
	m.mu.Unlock()
	d.disconnect()
	m.log.Debug("Cleaned up event queue", "queue_id", queueID, "user_id", userID)
	return nil
}

// GarbageCollect sweeps expired descriptors out of both maps. It runs on
// a timer, not per request, so lookup latency stays flat.
func (m *QueueManager) GarbageCollect(now time.Time) int {
	m.mu.Lock()
	var expired []*ClientDescriptor
	for _, d := range m.clients {
		if d.IsExpired(now) {
			expired = append(expired, d)
		}
	}
	for _, d := range expired {
		m.remove(d)
	}
	m.mu.Unlock()

	for _, d := range expired {
		d.disconnect()
		m.log.Info("Reaped expired event queue",
			"queue_id", d.QueueID,
			"user_id", d.UserID,
			"idle_since", d.LastConnection())
	}
	return len(expired)
}

// Generation returns the server incarnation new queues are stamped with.
func (m *QueueManager) Generation() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

// BumpGeneration starts a new server incarnation and returns it. Queues
// allocated from now on belong to the new incarnation and are skipped by
// the restart broadcast announcing it.
func (m *QueueManager) BumpGeneration() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := time.Now().Unix()
	if next <= m.generation {
		next = m.generation + 1
	}
	m.generation = next
	return next
}

// Dump snapshots every descriptor into the store. Mutations never hold
// the map lock across a suspension point, so the snapshot is always a
// consistent cut. A failed dump is logged by the caller and retried on
// the next schedule; it must not crash the process.
func (m *QueueManager) Dump(ctx context.Context, store contract.SnapshotStore) error {
	m.mu.RLock()
	descriptors := make([]*ClientDescriptor, 0, len(m.clients))
	for _, d := range m.clients {
		descriptors = append(descriptors, d)
	}
	m.mu.RUnlock()

	queues := make(map[string]json.RawMessage, len(descriptors))
	for _, d := range descriptors {
		data, err := json.Marshal(d.state())
		if err != nil {
			return fmt.Errorf("serializing queue %s: %w", d.QueueID, err)
		}
		queues[d.QueueID] = data
	}
	return store.Save(ctx, queues)
}

// Load restores descriptors from the store at startup. Corrupt or
// partial entries are skipped with a warning: a client whose queue did
// not survive gets a clean "no such queue" error and re-registers,
// which beats serving it corrupted events.
func (m *QueueManager) Load(ctx context.Context, store contract.SnapshotStore) (int, error) {
	queues, err := store.Load(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, data := range queues {
		var s descriptorState
		if err := json.Unmarshal(data, &s); err != nil {
			m.log.Warn("Skipping corrupt queue snapshot", "queue_id", id, "error", err)
			continue
		}
		d, err := descriptorFromState(s)
		if err != nil {
			m.log.Warn("Skipping invalid queue snapshot", "queue_id", id, "error", err)
			continue
		}
		m.register(d)
		restored++
	}
	return restored, nil
}
