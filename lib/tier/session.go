// Copyright 2026 The TabSync Authors
// SPDX-License-Identifier: Apache-2.0

package tier

import (
	"context"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Session is the fast ephemeral tier: an in-process TTL cache that
// survives within one daemon run and evaporates with it. It carries no
// reliable timestamp; the reconciler ranks it below explicitly
// timestamped tiers by assigning a synthetic one.
type Session struct {
	cache *gocache.Cache
}

// NewSession returns a session tier whose entries expire after ttl.
// Expired entries are swept at twice the ttl.
func NewSession(ttl time.Duration) *Session {
	return &Session{
		cache: gocache.New(ttl, 2*ttl),
	}
}

func (s *Session) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	obj, found := s.cache.Get(key)
	if !found {
		return nil, false, nil
	}
	return obj.(json.RawMessage), true, nil
}

func (s *Session) Set(ctx context.Context, key string, value json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := make(json.RawMessage, len(value))
	copy(stored, value)
	s.cache.Set(key, stored, gocache.DefaultExpiration)
	return nil
}

func (s *Session) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.cache.Delete(key)
	return nil
}

// Quota reports unconstrained: session storage limits are far above
// any launcher document.
func (s *Session) Quota() Quota { return Quota{} }

// Flush drops every entry. Used on teardown and in tests.
func (s *Session) Flush() { s.cache.Flush() }
