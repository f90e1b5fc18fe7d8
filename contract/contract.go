//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-relay/domain"
	"context"
	"encoding/json"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// NotificationSink receives missed-message notification triggers.
// Production wires a queue feeding the push/email transport; tests
// substitute a recording stub.
type NotificationSink interface {
	EnqueueNotification(ctx context.Context, n domain.Notification) error
}

// SnapshotStore persists the queue manager's state across restarts as a
// set of serialized descriptors keyed by queue ID. Save replaces the
// whole set; Load with no stored state returns an empty map, not an
// error.
type SnapshotStore interface {
	Save(ctx context.Context, queues map[string]json.RawMessage) error
	Load(ctx context.Context) (map[string]json.RawMessage, error)
}
