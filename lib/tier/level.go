// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package tier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/li88iioo/tabsync/lib/bytebudget"
)

// Level is a durable on-disk tier backed by LevelDB. With a zero
// quota it serves as the durable local tier; with MaxItemBytes set it
// stands in for the size-constrained replicated tier, rejecting
// oversized items the same way the real backend does.
type Level struct {
	db    *leveldb.DB
	quota Quota
}

// OpenLevel opens (creating if absent) the LevelDB database at path.
func OpenLevel(path string, quota Quota) (*Level, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &Level{db: db, quota: quota}, nil
}

// Close releases the underlying database. The tier is unusable
// afterward.
func (l *Level) Close() error { return l.db.Close() }

func (l *Level) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	value, err := l.db.Get([]byte(key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("leveldb get %s: %w", key, err)
	}
	return json.RawMessage(value), true, nil
}

func (l *Level) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.quota.Constrained() {
		if bytebudget.EstimateEncodedItemBytes(key, value) > l.quota.MaxItemBytes {
			return fmt.Errorf("leveldb set %s (%d bytes): %w",
				key, len(value), ErrItemTooLarge)
		}
	}
	if err := l.db.Put([]byte(key), value, nil); err != nil {
		return fmt.Errorf("leveldb put %s: %w", key, err)
	}
	return nil
}

func (l *Level) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := l.db.Delete([]byte(key), nil); err != nil {
		return fmt.Errorf("leveldb delete %s: %w", key, err)
	}
	return nil
}

func (l *Level) Quota() Quota { return l.quota }
