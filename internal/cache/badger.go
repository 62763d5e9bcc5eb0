package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Badger is an in-process backend. An empty dir keeps everything in memory.
type Badger struct {
	db *badger.DB
}

// OpenBadger opens a Badger store in dir, or in memory when dir is empty.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" || dir == "/" {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return out, nil
}

func (b *Badger) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func (b *Badger) Delete(_ context.Context, key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (b *Badger) Close() error { return b.db.Close() }

func (b *Badger) Name() string { return "badger" }
