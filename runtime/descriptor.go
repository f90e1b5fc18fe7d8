package runtime

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"chat-relay/domain/event"
	"chat-relay/errors"
)

const (
	contentTypeHTML     = "text/html"
	contentTypeMarkdown = "text/x-markdown"
)

// ClientDescriptor is one long-poll client's registration: exactly one
// EventQueue, the client's filter predicate, its shaping preferences and
// its liveness state. Created and destroyed together with its queue.
type ClientDescriptor struct {
	QueueID string
	UserID  int64
	RealmID int64

	// EventTypes is the allow-list of event types; nil means all.
	EventTypes []string
	// Narrow restricts message events to a conversation, as a list of
	// [operator, operand] pairs ("stream", "topic", "is").
	Narrow [][]string

	AllPublicStreams    bool
	ApplyMarkdown       bool
	ClientGravatar      bool
	BulkMessageDeletion bool
	ClientTypeName      string

	QueueTimeout time.Duration
	// Generation is the server incarnation the queue was allocated
	// under; restart broadcasts skip queues from their own generation.
	Generation int64

	mu                 sync.Mutex
	lastConnectionTime time.Time
	queue              *EventQueue
	waiter             *waiter
}

// AcceptsEvent reports whether this client's filter matches the event.
// Side-effect-free and cheap: it runs once per (event, candidate client)
// pair during fan-out. Restart and heartbeat events are liveness
// signals and bypass the type filter.
func (d *ClientDescriptor) AcceptsEvent(e *event.Event) bool {
	switch e.Type {
	case event.TypeRestart, event.TypeHeartbeat:
		return true
	}
	if d.EventTypes != nil && !slices.Contains(d.EventTypes, e.Type) {
		return false
	}
	if e.Message != nil && len(d.Narrow) > 0 {
		return d.narrowAccepts(e.Message)
	}
	return true
}

// AcceptsMessages is the fast-path filter run before the full
// AcceptsEvent check on the message fan-out path.
func (d *ClientDescriptor) AcceptsMessages() bool {
	return d.EventTypes == nil || slices.Contains(d.EventTypes, event.TypeMessage)
}

func (d *ClientDescriptor) narrowAccepts(m *event.Message) bool {
	for _, pair := range d.Narrow {
		if len(pair) != 2 {
			return false
		}
		switch op, operand := pair[0], pair[1]; op {
		case "stream":
			if !strings.EqualFold(m.Stream, operand) {
				return false
			}
		case "topic":
			if !strings.EqualFold(m.Topic, operand) {
				return false
			}
		case "is":
			if operand == "private" && !m.Private {
				return false
			}
		}
	}
	return true
}

// AddEvent shapes the event for this client and pushes the shaped copy
// into its queue, waking a suspended long-poll if one is registered.
// The original event is never mutated; other clients shape their own
// copies from the same source.
func (d *ClientDescriptor) AddEvent(e *event.Event, userFlags []string) error {
	shaped, err := d.shape(e, userFlags)
	if err != nil {
		return err
	}

	d.mu.Lock()
	for _, s := range shaped {
		d.queue.Push(s)
	}
	w := d.waiter
	d.waiter = nil
	d.mu.Unlock()

	if w != nil {
		close(w.ready)
	}
	return nil
}

func (d *ClientDescriptor) shape(e *event.Event, userFlags []string) ([]*event.Event, error) {
	if e.Type == event.TypeMessage && e.Message == nil {
		return nil, fmt.Errorf("%w: message event without message payload", errors.ErrShapingFailure)
	}

	c := e.Clone()
	switch {
	case c.Message != nil:
		c.UserFlags = slices.Clone(userFlags)
		if d.ApplyMarkdown {
			if c.Message.RenderedContent == "" {
				return nil, fmt.Errorf("%w: apply_markdown client but no rendered content", errors.ErrShapingFailure)
			}
			c.Message.Content = c.Message.RenderedContent
			c.Message.ContentType = contentTypeHTML
		} else {
			c.Message.ContentType = contentTypeMarkdown
		}
		c.Message.RenderedContent = ""
		if d.ClientGravatar {
			// The client computes the gravatar URL itself; sending ours
			// would only leak the server-side choice.
			c.Message.AvatarURL = ""
		}
	case c.Delete != nil && !d.BulkMessageDeletion && len(c.Delete.MessageIDs) > 1:
		// Down-convert for clients that predate bulk deletion: one
		// single-ID event per deleted message.
		split := make([]*event.Event, 0, len(c.Delete.MessageIDs))
		for _, id := range c.Delete.MessageIDs {
			one := c.Clone()
			one.Delete.MessageIDs = []int64{id}
			split = append(split, one)
		}
		return split, nil
	}
	return []*event.Event{c}, nil
}

// IsExpired reports whether the queue outlived its lifespan with no
// reconnect. A client currently blocked on a long-poll is never expired.
func (d *ClientDescriptor) IsExpired(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.waiter != nil {
		return false
	}
	return now.After(d.lastConnectionTime.Add(d.QueueTimeout))
}

// LastConnection returns the time of the client's most recent poll.
func (d *ClientDescriptor) LastConnection() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastConnectionTime
}

// Empty reports whether the client has nothing pending.
func (d *ClientDescriptor) Empty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Empty()
}

// descriptorState is the serialized descriptor, nested queue included.
// Reloading it must reproduce an operationally identical descriptor:
// same event ID sequencing, same collapsing eligibility.
type descriptorState struct {
	QueueID             string      `json:"queue_id"`
	UserID              int64       `json:"user_id"`
	RealmID             int64       `json:"realm_id"`
	EventTypes          []string    `json:"event_types,omitempty"`
	Narrow              [][]string  `json:"narrow,omitempty"`
	AllPublicStreams    bool        `json:"all_public_streams"`
	ApplyMarkdown       bool        `json:"apply_markdown"`
	ClientGravatar      bool        `json:"client_gravatar"`
	BulkMessageDeletion bool        `json:"bulk_message_deletion"`
	ClientTypeName      string      `json:"client_type_name,omitempty"`
	QueueTimeoutSecs    int64       `json:"queue_timeout"`
	Generation          int64       `json:"generation"`
	LastConnectionUnix  int64       `json:"last_connection_time"`
	Queue               *EventQueue `json:"event_queue"`
}

func (d *ClientDescriptor) state() descriptorState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return descriptorState{
		QueueID:             d.QueueID,
		UserID:              d.UserID,
		RealmID:             d.RealmID,
		EventTypes:          slices.Clone(d.EventTypes),
		Narrow:              slices.Clone(d.Narrow),
		AllPublicStreams:    d.AllPublicStreams,
		ApplyMarkdown:       d.ApplyMarkdown,
		ClientGravatar:      d.ClientGravatar,
		BulkMessageDeletion: d.BulkMessageDeletion,
		ClientTypeName:      d.ClientTypeName,
		QueueTimeoutSecs:    int64(d.QueueTimeout / time.Second),
		Generation:          d.Generation,
		LastConnectionUnix:  d.lastConnectionTime.Unix(),
		Queue:               queueFromState(d.queue.state()),
	}
}

func descriptorFromState(s descriptorState) (*ClientDescriptor, error) {
	if s.QueueID == "" || s.UserID == 0 {
		return nil, fmt.Errorf("descriptor state missing queue or user ID")
	}
	q := s.Queue
	if q == nil {
		q = NewEventQueue()
	}
	return &ClientDescriptor{
		QueueID:             s.QueueID,
		UserID:              s.UserID,
		RealmID:             s.RealmID,
		EventTypes:          s.EventTypes,
		Narrow:              s.Narrow,
		AllPublicStreams:    s.AllPublicStreams,
		ApplyMarkdown:       s.ApplyMarkdown,
		ClientGravatar:      s.ClientGravatar,
		BulkMessageDeletion: s.BulkMessageDeletion,
		ClientTypeName:      s.ClientTypeName,
		QueueTimeout:        time.Duration(s.QueueTimeoutSecs) * time.Second,
		Generation:          s.Generation,
		lastConnectionTime:  time.Unix(s.LastConnectionUnix, 0),
		queue:               q,
	}, nil
}
