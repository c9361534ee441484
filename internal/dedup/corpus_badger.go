// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const badgerPrefix = "corpus:"

// badgerTTL keeps entries for one extra day so that a missed rotation never
// grows the store without bound.
const badgerTTL = 48 * time.Hour

// BadgerCorpus stores the corpus in an embedded badger KV store.
// Keys are "corpus:<day>:<unix-nanos>:<id>", so a prefix scan returns a day in order.
// Badger holds an exclusive directory lock: only one process may open it.
type BadgerCorpus struct {
	db *badger.DB
}

// OpenBadgerCorpus opens the badger directory at path.
func OpenBadgerCorpus(path string) (*BadgerCorpus, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger corpus: %w", err)
	}
	return &BadgerCorpus{db: db}, nil
}

// openInMemoryBadger is used by tests.
func openInMemoryBadger() (*BadgerCorpus, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return &BadgerCorpus{db: db}, nil
}

func (b *BadgerCorpus) Entries(_ context.Context, day string) ([]Entry, error) {
	prefix := []byte(badgerPrefix + day + ":")
	var out []Entry
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan badger corpus: %w", err)
	}
	return out, nil
}

func (b *BadgerCorpus) Append(_ context.Context, day string, e Entry) error {
	buf, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s%s:%020d:%s", badgerPrefix, day, e.At.UnixNano(), uuid.NewString()[:8])
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), buf).WithTTL(badgerTTL))
	})
}

func (b *BadgerCorpus) Purge(_ context.Context, keepFrom string) error {
	var stale [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(badgerPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			day, _, _ := strings.Cut(strings.TrimPrefix(string(key), badgerPrefix), ":")
			if day < keepFrom {
				stale = append(stale, key)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan badger corpus: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range stale {
		if err := wb.Delete(k); err != nil {
			return fmt.Errorf("purge badger corpus: %w", err)
		}
	}
	return wb.Flush()
}

func (b *BadgerCorpus) Close() error { return b.db.Close() }
