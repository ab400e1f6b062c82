// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/li88iioo/tabsync/lib/syncsched"
)

// watchWorkingFile watches the working file's parent directory and
// feeds edits into the mutation path. The directory is watched rather
// than the file: atomic rename writes replace the inode, which would
// silently detach a watch on the file itself.
func (d *daemon) watchWorkingFile(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	dir := filepath.Dir(d.cfg.Paths.WorkingFile)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	d.log.Info("watching working file", "path", d.cfg.Paths.WorkingFile)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != d.cfg.Paths.WorkingFile {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				d.handleWorkingFileEvent(ctx)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.log.Warn("file watcher error", "error", err)
			}
		}
	}()
	return nil
}

// handleWorkingFileEvent reads the working file's document and routes
// genuinely new content into the mutation path. Events caused by the
// daemon's own mirror writes carry an already-seen fingerprint and
// are dropped.
func (d *daemon) handleWorkingFileEvent(ctx context.Context) {
	document, found, err := d.working.Get(ctx, d.baseKey)
	if err != nil {
		// Editors rewrite files in multiple steps; a transiently
		// unparsable file resolves on the event for the final write.
		d.log.Debug("working file unreadable, skipping event", "error", err)
		return
	}
	if !found {
		d.log.Debug("working file has no document entry, skipping event")
		return
	}
	if d.seen(syncsched.Fingerprint(document)) {
		return
	}

	d.log.Info("working file edited")
	d.mutate(ctx, document)
}
