// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package tier

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/li88iioo/tabsync/lib/bytebudget"
)

// Memory is a mutex-guarded in-process KV. It backs the engine's tests
// and doubles as a scratch tier for tooling; fault hooks let tests
// inject failures at exact points in a write sequence.
//
// Hooks must be installed before the tier is shared between
// goroutines.
type Memory struct {
	mu    sync.RWMutex
	items map[string]json.RawMessage
	quota Quota

	// GetErr, SetErr, and RemoveErr, when non-nil, are consulted
	// before each operation; a non-nil return aborts the operation
	// with that error.
	GetErr    func(key string) error
	SetErr    func(key string) error
	RemoveErr func(key string) error
}

// NewMemory returns an empty in-process tier with the given quota.
func NewMemory(quota Quota) *Memory {
	return &Memory{
		items: make(map[string]json.RawMessage),
		quota: quota,
	}
}

func (m *Memory) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if m.GetErr != nil {
		if err := m.GetErr(key); err != nil {
			return nil, false, err
		}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	out := make(json.RawMessage, len(value))
	copy(out, value)
	return out, true, nil
}

func (m *Memory) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.SetErr != nil {
		if err := m.SetErr(key); err != nil {
			return err
		}
	}
	if m.quota.Constrained() {
		if bytebudget.EstimateEncodedItemBytes(key, value) > m.quota.MaxItemBytes {
			return ErrItemTooLarge
		}
	}
	stored := make(json.RawMessage, len(value))
	copy(stored, value)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = stored
	return nil
}

func (m *Memory) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.RemoveErr != nil {
		if err := m.RemoveErr(key); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

func (m *Memory) Quota() Quota { return m.quota }

// Len returns the number of stored items.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Keys returns all stored keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.items))
	for key := range m.items {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
