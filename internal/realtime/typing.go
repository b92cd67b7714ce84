// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/concord-chat/concord/internal/logging"
	"github.com/concord-chat/concord/internal/protocol"
)

// Typing cache defaults; the TTL models a client that vanished without an
// explicit stop.
const (
	DefaultTypingTTL           = 3 * time.Second
	DefaultTypingSweepInterval = 5 * time.Second
)

type typingKey struct {
	userID    uuid.UUID
	channelID uuid.UUID
}

// TypingCache tracks (user, channel) -> last-activity timestamps. Entries
// expire after the TTL; absence of an entry is equivalent to "not typing".
// The cache is independent of connection lifecycle and safe for concurrent
// use with short critical sections.
type TypingCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[typingKey]time.Time
	now     func() time.Time
}

// NewTypingCache creates a cache with the given TTL (<= 0 selects the default).
func NewTypingCache(ttl time.Duration) *TypingCache {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingCache{
		ttl:     ttl,
		entries: make(map[typingKey]time.Time),
		now:     time.Now,
	}
}

// Start marks the pair as typing and reports whether it was newly marked.
// An existing live entry is refreshed and reports false, which suppresses
// duplicate broadcasts on keystroke bursts.
func (c *TypingCache) Start(userID, channelID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := typingKey{userID, channelID}
	now := c.now()
	last, ok := c.entries[key]
	c.entries[key] = now
	return !ok || now.Sub(last) > c.ttl
}

// Stop clears the pair and reports whether an entry actually existed.
func (c *TypingCache) Stop(userID, channelID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := typingKey{userID, channelID}
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// Sweep evicts entries older than the TTL and returns the eviction count.
// Eviction emits no broadcast: absence already means "not typing".
func (c *TypingCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.ttl)
	evicted := 0
	for key, last := range c.entries {
		if last.Before(cutoff) {
			delete(c.entries, key)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of live entries.
func (c *TypingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// HandleTypingStart broadcasts TYPING_START to the channel, but only when
// the (user, channel) pair was not already marked typing.
func (o *Orchestrator) HandleTypingStart(ctx context.Context, identity Identity, channelID uuid.UUID) error {
	if !o.typing.Start(identity.UserID, channelID) {
		return nil
	}

	_, err := o.hub.BroadcastToChannel(channelID, protocol.TypingStarted{
		ChannelID: channelID,
		UserID:    identity.UserID,
		Username:  identity.Username,
	})
	return err
}

// HandleTypingStop broadcasts TYPING_STOP to the channel, but only when a
// typing entry actually existed.
func (o *Orchestrator) HandleTypingStop(ctx context.Context, identity Identity, channelID uuid.UUID) error {
	if !o.typing.Stop(identity.UserID, channelID) {
		return nil
	}

	_, err := o.hub.BroadcastToChannel(channelID, protocol.TypingStopped{
		ChannelID: channelID,
		UserID:    identity.UserID,
	})
	return err
}

// Sweeper periodically evicts stale typing entries. It implements
// suture.Service and runs in the messaging layer of the supervision tree.
type Sweeper struct {
	cache    *TypingCache
	interval time.Duration
}

// NewSweeper creates a sweeper for the cache (interval <= 0 selects the default).
func NewSweeper(cache *TypingCache, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultTypingSweepInterval
	}
	return &Sweeper{cache: cache, interval: interval}
}

// Serve implements suture.Service. Returns ctx.Err() on shutdown.
func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if evicted := s.cache.Sweep(); evicted > 0 {
				logging.Debug().Int("evicted", evicted).Msg("typing entries swept")
			}
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (s *Sweeper) String() string {
	return "typing-sweeper"
}
