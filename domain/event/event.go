// Package event defines the wire model of the delivery core: a tagged
// variant discriminated by type. The handful of types the core must
// collapse, materialize lazily, or shape per client get a typed payload;
// everything else rides through untouched in Fields.
package event

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

const (
	TypeMessage            = "message"
	TypeUpdateMessageFlags = "update_message_flags"
	TypeDeleteMessage      = "delete_message"
	TypeRestart            = "restart"
	TypeHeartbeat          = "heartbeat"
	TypePresence           = "presence"
	TypeTyping             = "typing"
)

// Event is one entry of a client's event queue. ID is queue-local,
// assigned at push time, strictly increasing within a queue.
//
// At most one of Message, Flags, Delete, Restart is non-nil, matching
// Type. Fields carries producer-defined attributes verbatim; the core
// never interprets them.
type Event struct {
	ID   int64
	Type string

	Message *Message
	Flags   *FlagsOp
	Delete  *DeleteMessages
	Restart *Restart

	// UserFlags is the receiving user's per-message flag list, stamped
	// onto each client copy of a message event during fan-out.
	UserFlags []string

	Fields map[string]any

	// Internal is bookkeeping for notification dispatch. It is stripped
	// from client-visible contents unless explicitly requested.
	Internal *InternalData
}

// Message is the shaped per-client view of a chat message. Shaping picks
// Content vs RenderedContent and decides whether AvatarURL is sent.
type Message struct {
	MessageID       int64  `json:"id"`
	SenderID        int64  `json:"sender_id"`
	Content         string `json:"content"`
	RenderedContent string `json:"rendered_content,omitempty"`
	ContentType     string `json:"content_type,omitempty"`
	AvatarURL       string `json:"avatar_url,omitempty"`
	Stream          string `json:"stream,omitempty"`
	Topic           string `json:"topic,omitempty"`
	Private         bool   `json:"is_private,omitempty"`
	Timestamp       int64  `json:"timestamp,omitempty"`
}

// FlagsOp is a flag-update event. Two consecutive ops sharing operation,
// flag and all-scope collapse into one entry with the message lists
// concatenated and the newer timestamp kept.
type FlagsOp struct {
	Op        string  `json:"op"`
	Flag      string  `json:"flag"`
	All       bool    `json:"all"`
	Messages  []int64 `json:"messages"`
	Timestamp int64   `json:"timestamp,omitempty"`
}

func (f FlagsOp) CanCollapseWith(other FlagsOp) bool {
	return f.Op == other.Op && f.Flag == other.Flag && f.All == other.All
}

// DeleteMessages removes one or more messages. Clients that did not
// declare the bulk capability receive one single-ID event per message.
type DeleteMessages struct {
	MessageIDs []int64 `json:"message_ids"`
	Stream     string  `json:"stream,omitempty"`
	Topic      string  `json:"topic,omitempty"`
}

// Restart announces a new server incarnation so clients re-fetch their
// initial state instead of trusting a stale long-poll continuation.
type Restart struct {
	ServerGeneration int64  `json:"server_generation"`
	ServerVersion    string `json:"server_version,omitempty"`
}

// InternalData is attached by the message path so the dispatcher can
// decide missed-message notifications. Clients must never see it.
type InternalData struct {
	SenderID            int64   `json:"sender_id,omitempty"`
	PresenceIdleUserIDs []int64 `json:"presence_idle_user_ids,omitempty"`
	PushNotifyUserIDs   []int64 `json:"stream_push_user_ids,omitempty"`
	EmailNotifyUserIDs  []int64 `json:"stream_email_user_ids,omitempty"`
	MutedUserIDs        []int64 `json:"muted_sender_user_ids,omitempty"`
}

func NewMessage(m Message) *Event {
	return &Event{Type: TypeMessage, Message: &m}
}

func NewFlagsOp(op FlagsOp) *Event {
	return &Event{Type: TypeUpdateMessageFlags, Flags: &op}
}

func NewDelete(d DeleteMessages) *Event {
	return &Event{Type: TypeDeleteMessage, Delete: &d}
}

func NewRestart(generation int64, version string) *Event {
	return &Event{Type: TypeRestart, Restart: &Restart{ServerGeneration: generation, ServerVersion: version}}
}

func NewHeartbeat() *Event {
	return &Event{Type: TypeHeartbeat}
}

// NewOpaque builds a passthrough event the core carries but never
// interprets (presence, typing, custom producer types).
func NewOpaque(eventType string, fields map[string]any) *Event {
	return &Event{Type: eventType, Fields: maps.Clone(fields)}
}

// CollapseKey reports whether the event is virtual: capped at one
// outstanding instance per queue, materialized only when read.
func (e *Event) CollapseKey() (string, bool) {
	switch e.Type {
	case TypeRestart, TypeHeartbeat:
		return e.Type, true
	}
	return "", false
}

// Clone returns a copy safe to shape per client. Typed payloads and
// flag slices are copied; values inside Fields are producer-owned and
// treated as immutable, so the map itself is cloned shallowly.
func (e *Event) Clone() *Event {
	c := *e
	if e.Message != nil {
		m := *e.Message
		c.Message = &m
	}
	if e.Flags != nil {
		f := *e.Flags
		f.Messages = slices.Clone(e.Flags.Messages)
		c.Flags = &f
	}
	if e.Delete != nil {
		d := *e.Delete
		d.MessageIDs = slices.Clone(e.Delete.MessageIDs)
		c.Delete = &d
	}
	if e.Restart != nil {
		r := *e.Restart
		c.Restart = &r
	}
	if e.Internal != nil {
		i := *e.Internal
		i.PresenceIdleUserIDs = slices.Clone(e.Internal.PresenceIdleUserIDs)
		i.PushNotifyUserIDs = slices.Clone(e.Internal.PushNotifyUserIDs)
		i.EmailNotifyUserIDs = slices.Clone(e.Internal.EmailNotifyUserIDs)
		i.MutedUserIDs = slices.Clone(e.Internal.MutedUserIDs)
		c.Internal = &i
	}
	c.UserFlags = slices.Clone(e.UserFlags)
	c.Fields = maps.Clone(e.Fields)
	return &c
}

// StripInternal returns the event without dispatch bookkeeping.
func (e *Event) StripInternal() *Event {
	if e.Internal == nil {
		return e
	}
	c := e.Clone()
	c.Internal = nil
	return c
}

// MarshalJSON flattens the event into the client-facing wire shape:
// id and type at the top level, typed payload fields merged in, and
// producer fields carried through unchanged.
func (e *Event) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Fields)+6)
	for k, v := range e.Fields {
		m[k] = v
	}
	m["id"] = e.ID
	m["type"] = e.Type
	switch {
	case e.Message != nil:
		m["message"] = e.Message
		flags := e.UserFlags
		if flags == nil {
			flags = []string{}
		}
		m["flags"] = flags
	case e.Flags != nil:
		m["op"] = e.Flags.Op
		m["flag"] = e.Flags.Flag
		m["all"] = e.Flags.All
		m["messages"] = e.Flags.Messages
		if e.Flags.Timestamp != 0 {
			m["timestamp"] = e.Flags.Timestamp
		}
	case e.Delete != nil:
		if len(e.Delete.MessageIDs) == 1 {
			m["message_id"] = e.Delete.MessageIDs[0]
		} else {
			m["message_ids"] = e.Delete.MessageIDs
		}
		if e.Delete.Stream != "" {
			m["stream"] = e.Delete.Stream
		}
		if e.Delete.Topic != "" {
			m["topic"] = e.Delete.Topic
		}
	case e.Restart != nil:
		m["server_generation"] = e.Restart.ServerGeneration
		if e.Restart.ServerVersion != "" {
			m["server_version"] = e.Restart.ServerVersion
		}
	}
	if e.Internal != nil {
		m["internal_data"] = e.Internal
	}
	return json.Marshal(m)
}

// UnmarshalJSON is the exact inverse of MarshalJSON, so a serialized
// queue reloads into operationally identical events.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := decodeKey(raw, "type", &e.Type); err != nil {
		return err
	}
	if e.Type == "" {
		return fmt.Errorf("event without a type field")
	}
	if err := decodeKey(raw, "id", &e.ID); err != nil {
		return err
	}
	consumed := map[string]struct{}{"id": {}, "type": {}, "internal_data": {}}

	switch e.Type {
	case TypeMessage:
		e.Message = &Message{}
		if err := decodeKey(raw, "message", e.Message); err != nil {
			return err
		}
		if err := decodeKey(raw, "flags", &e.UserFlags); err != nil {
			return err
		}
		consumed["message"] = struct{}{}
		consumed["flags"] = struct{}{}
	case TypeUpdateMessageFlags:
		e.Flags = &FlagsOp{}
		for _, k := range []string{"op", "flag", "all", "messages", "timestamp"} {
			consumed[k] = struct{}{}
		}
		if err := errJoin(
			decodeKey(raw, "op", &e.Flags.Op),
			decodeKey(raw, "flag", &e.Flags.Flag),
			decodeKey(raw, "all", &e.Flags.All),
			decodeKey(raw, "messages", &e.Flags.Messages),
			decodeKey(raw, "timestamp", &e.Flags.Timestamp),
		); err != nil {
			return err
		}
	case TypeDeleteMessage:
		e.Delete = &DeleteMessages{}
		for _, k := range []string{"message_id", "message_ids", "stream", "topic"} {
			consumed[k] = struct{}{}
		}
		var single int64
		if _, ok := raw["message_id"]; ok {
			if err := decodeKey(raw, "message_id", &single); err != nil {
				return err
			}
			e.Delete.MessageIDs = []int64{single}
		} else if err := decodeKey(raw, "message_ids", &e.Delete.MessageIDs); err != nil {
			return err
		}
		if err := errJoin(
			decodeKey(raw, "stream", &e.Delete.Stream),
			decodeKey(raw, "topic", &e.Delete.Topic),
		); err != nil {
			return err
		}
	case TypeRestart:
		e.Restart = &Restart{}
		consumed["server_generation"] = struct{}{}
		consumed["server_version"] = struct{}{}
		if err := errJoin(
			decodeKey(raw, "server_generation", &e.Restart.ServerGeneration),
			decodeKey(raw, "server_version", &e.Restart.ServerVersion),
		); err != nil {
			return err
		}
	}

	if _, ok := raw["internal_data"]; ok {
		e.Internal = &InternalData{}
		if err := decodeKey(raw, "internal_data", e.Internal); err != nil {
			return err
		}
	}

	for k, v := range raw {
		if _, ok := consumed[k]; ok {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		if e.Fields == nil {
			e.Fields = make(map[string]any)
		}
		e.Fields[k] = val
	}
	return nil
}

func decodeKey(raw map[string]json.RawMessage, key string, dst any) error {
	v, ok := raw[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return fmt.Errorf("decoding %q: %w", key, err)
	}
	return nil
}

func errJoin(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
