// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/li88iioo/tabsync/lib/clock"
	"github.com/li88iioo/tabsync/lib/reconcile"
)

// tierPersister routes the scheduler's debounced writes to the
// replication source registered for each key, stamping the write time
// at persist rather than mutation time.
type tierPersister struct {
	sources map[string]reconcile.Source
	clk     clock.Clock
}

func (p *tierPersister) Write(ctx context.Context, key string, document json.RawMessage) error {
	source, ok := p.sources[key]
	if !ok {
		return fmt.Errorf("no replication target for key %q", key)
	}
	now := time.UnixMilli(p.clk.Now().UnixMilli())
	return source.Write(ctx, document, now)
}
