// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package tier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// File is a KV persisted as a single pretty-printed JSON object on
// disk, one property per key. It is the human-editable tier: the
// daemon watches its path for external edits.
//
// Every Get re-reads the file so external edits are visible without a
// reload step. Writes rewrite the whole file through a temp-file
// rename, so a crash mid-write leaves the previous content intact.
type File struct {
	mu   sync.Mutex
	path string
}

// NewFile returns a file tier stored at path. The file is created on
// first Set; a missing file reads as empty.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the backing file path, for watchers.
func (f *File) Path() string { return f.path }

func (f *File) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	items, err := f.load()
	if err != nil {
		return nil, false, err
	}
	value, ok := items[key]
	if !ok {
		return nil, false, nil
	}
	return value, true, nil
}

func (f *File) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	items, err := f.load()
	if err != nil {
		return err
	}
	stored := make(json.RawMessage, len(value))
	copy(stored, value)
	items[key] = stored
	return f.flush(items)
}

func (f *File) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	items, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := items[key]; !ok {
		return nil
	}
	delete(items, key)
	return f.flush(items)
}

// Quota reports unconstrained: the file grows with the document.
func (f *File) Quota() Quota { return Quota{} }

// load reads the backing file into a key-value map. A missing file is
// an empty map. Must be called with f.mu held.
func (f *File) load() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.path, err)
	}
	items := map[string]json.RawMessage{}
	if len(data) == 0 {
		return items, nil
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", f.path, err)
	}
	return items, nil
}

// flush rewrites the backing file via atomic rename through a temp
// file in the same directory. Must be called with f.mu held.
func (f *File) flush(items map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", f.path, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmpFile, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up the temp file on any error path.
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("renaming to %s: %w", f.path, err)
	}
	success = true
	return nil
}
