//go:generate go run go.uber.org/mock/mockgen -source=snapshot.go -destination=../mocks/mock_snapshot_repository.go -package=mocks
package repositories

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Snapshot keys are "queue:{queue_id}". One entry per descriptor keeps
// a partially-written snapshot recoverable entry by entry: a corrupt
// value loses one queue, not the whole set.
const queueKeyPrefix = "queue:"

// SnapshotRepository persists queue-manager snapshots in BadgerDB.
type SnapshotRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewSnapshotRepository(db *badger.DB, log *slog.Logger) SnapshotRepository {
	return SnapshotRepository{db: db, log: log}
}

// Save replaces the stored snapshot with the given set: stale queue
// entries are removed so a reaped queue cannot resurrect on reload.
func (r SnapshotRepository) Save(ctx context.Context, queues map[string]json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)

		var stale [][]byte
		prefix := []byte(queueKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			id := strings.TrimPrefix(string(key), queueKeyPrefix)
			if _, keep := queues[id]; !keep {
				stale = append(stale, key)
			}
		}
		it.Close()

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		for id, data := range queues {
			if err := txn.Set([]byte(queueKeyPrefix+id), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// Load returns every stored descriptor snapshot keyed by queue ID. An
// empty database yields an empty map; interpretation (and skipping of
// corrupt values) is the queue manager's job.
func (r SnapshotRepository) Load(ctx context.Context) (map[string]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	queues := make(map[string]json.RawMessage)
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(queueKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := strings.TrimPrefix(string(item.Key()), queueKeyPrefix)
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			queues[id] = value
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.log.Debug("Loaded queue snapshots", "count", len(queues))
	return queues, nil
}
