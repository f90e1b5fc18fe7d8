package httpapi

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"chat-relay/domain"
	"chat-relay/domain/event"
	"chat-relay/errors"
	"chat-relay/observability"
	"chat-relay/runtime"
)

type registerRequest struct {
	EventTypes          []string   `json:"event_types"`
	Narrow              [][]string `json:"narrow"`
	AllPublicStreams    bool       `json:"all_public_streams"`
	ApplyMarkdown       bool       `json:"apply_markdown"`
	ClientGravatar      bool       `json:"client_gravatar"`
	BulkMessageDeletion bool       `json:"bulk_message_deletion"`
	ClientTypeName      string     `json:"client_type_name"`
	QueueTimeoutSecs    int64      `json:"queue_timeout"`
	RestrictedAccount   bool       `json:"restricted_account"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	userID, err := requesterID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errors.ErrInvalidConfiguration, err))
		return
	}

	descriptor, err := s.manager.Allocate(runtime.QueueConfig{
		UserID:              userID,
		RealmID:             realmID(r),
		EventTypes:          req.EventTypes,
		Narrow:              req.Narrow,
		AllPublicStreams:    req.AllPublicStreams,
		ApplyMarkdown:       req.ApplyMarkdown,
		ClientGravatar:      req.ClientGravatar,
		BulkMessageDeletion: req.BulkMessageDeletion,
		ClientTypeName:      req.ClientTypeName,
		RestrictedAccount:   req.RestrictedAccount,
		QueueTimeout:        time.Duration(req.QueueTimeoutSecs) * time.Second,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	observability.ActiveQueues.Set(float64(s.manager.Len()))
	s.writeSuccess(w, map[string]any{
		"queue_id":      descriptor.QueueID,
		"last_event_id": int64(-1),
	})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	userID, err := requesterID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	queueID := r.URL.Query().Get("queue_id")
	descriptor, err := s.manager.LookupOwned(queueID, userID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	req := runtime.EventsRequest{
		LastEventID: queryInt64(r, "last_event_id", -1),
		DontBlock:   r.URL.Query().Get("dont_block") == "true",
		Timeout:     s.pollTimeout,
	}
	if secs := queryInt64(r, "timeout", 0); secs > 0 {
		req.Timeout = min(time.Duration(secs)*time.Second, MaxPollTimeout)
	}

	result, err := descriptor.GetEvents(r.Context(), req)
	switch {
	case stderrors.Is(err, errors.ErrQueueSuperseded):
		// A newer poll took over this queue; resolve the older request
		// with an empty batch so its connection finishes cleanly.
		s.log.Debug("Poll superseded", "queue_id", queueID)
	case stderrors.Is(err, context.Canceled):
		// Connection dropped while suspended; nothing to write.
		return
	case err != nil:
		s.writeError(w, err)
		return
	}

	events := result.Events
	if events == nil {
		events = []*event.Event{}
	}
	s.writeSuccess(w, map[string]any{
		"queue_id": result.QueueID,
		"events":   events,
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	userID, err := requesterID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.manager.Cleanup(r.URL.Query().Get("queue_id"), userID); err != nil {
		s.writeError(w, err)
		return
	}
	observability.ActiveQueues.Set(float64(s.manager.Len()))
	s.writeSuccess(w, nil)
}

type notifyRequest struct {
	Event event.Event      `json:"event"`
	Users []domain.UserRow `json:"users"`
}

// handleNotify is the state-change signal from the message-path
// collaborators: an opaque event plus the candidate user rows it
// concerns. Fan-out happens synchronously; the response only confirms
// the event was dispatched, not that any client consumed it.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: %v", errors.ErrInvalidConfiguration, err))
		return
	}
	if req.Event.Type == "" {
		s.writeError(w, fmt.Errorf("%w: event without a type", errors.ErrInvalidConfiguration))
		return
	}

	s.dispatcher.DispatchEvent(r.Context(), &req.Event, req.Users)
	observability.EventsDispatched.WithLabelValues(req.Event.Type).Inc()
	s.writeSuccess(w, nil)
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	sent := s.dispatcher.SendRestartEvents(r.Context())
	s.writeSuccess(w, map[string]any{"queues": sent})
}

func requesterID(r *http.Request) (int64, error) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		return 0, errors.ErrMissingUserID
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: malformed X-User-ID", errors.ErrMissingUserID)
	}
	return id, nil
}

func realmID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get("X-Realm-ID"), 10, 64)
	return id
}

func queryInt64(r *http.Request, key string, fallback int64) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

func (s *Server) writeSuccess(w http.ResponseWriter, payload map[string]any) {
	body := map[string]any{"result": "success"}
	for k, v := range payload {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("Response encoding failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := errors.MapToStatus(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("Request failed", "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"result": "error",
		"msg":    err.Error(),
		"code":   errors.Code(err),
	})
}
