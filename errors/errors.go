package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrBadEventQueueID covers every way a queue ID can be unknown:
	// never allocated, expired and reaped, or lost across a restart.
	// The client's recovery is always the same: register a new queue.
	ErrBadEventQueueID = fmt.Errorf("bad event queue ID")

	// ErrWrongUser means the queue exists but belongs to someone else.
	ErrWrongUser = fmt.Errorf("you are not the owner of this queue")

	ErrInvalidConfiguration = fmt.Errorf("invalid queue configuration")
	ErrMissingUserID        = fmt.Errorf("missing user identity")
	ErrQueueSuperseded      = fmt.Errorf("request superseded by a newer poll")
	ErrShapingFailure       = fmt.Errorf("event shaping failed")
	ErrWorkerPanic          = fmt.Errorf("worker panic")
)

// Code returns the machine-readable error code surfaced in API responses.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrBadEventQueueID):
		return "BAD_EVENT_QUEUE_ID"
	case errors.Is(err, ErrWrongUser):
		return "WRONG_USER"
	case errors.Is(err, ErrInvalidConfiguration):
		return "BAD_REQUEST"
	case errors.Is(err, ErrMissingUserID):
		return "UNAUTHENTICATED"
	default:
		return "INTERNAL_ERROR"
	}
}

// MapToStatus translates a core error into the HTTP status returned to the
// client. Caller-fault errors become 4xx results; anything unrecognized is
// this process's fault and becomes a 500.
func MapToStatus(err error) int {
	switch {
	case errors.Is(err, ErrBadEventQueueID):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, ErrWrongUser):
		return http.StatusForbidden
	case errors.Is(err, ErrMissingUserID):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
