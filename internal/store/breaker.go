// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/concord-chat/concord/internal/logging"
	"github.com/concord-chat/concord/internal/realtime"
)

// BreakerConfig tunes the circuit breaker around message persistence.
type BreakerConfig struct {
	// MaxFailures is the consecutive-failure count that opens the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// DefaultBreakerConfig returns production defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures: 5,
		OpenTimeout: 30 * time.Second,
	}
}

// BreakerStore decorates a message store with a circuit breaker so that a
// dead database fails fast instead of stalling every SEND_MESSAGE on
// timeouts. An open breaker surfaces as an ordinary store error and is
// reported to the client under the generic message error code.
type BreakerStore struct {
	inner    realtime.MessageStore
	persist  *gobreaker.CircuitBreaker[realtime.CanonicalMessage]
	resolver *gobreaker.CircuitBreaker[map[uuid.UUID]string]
}

// NewBreakerStore wraps inner with a circuit breaker.
func NewBreakerStore(inner realtime.MessageStore, cfg BreakerConfig) *BreakerStore {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	readyToTrip := func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= cfg.MaxFailures
	}
	onStateChange := func(name string, from, to gobreaker.State) {
		logging.Warn().
			Str("breaker", name).
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("store breaker state change")
	}

	return &BreakerStore{
		inner: inner,
		persist: gobreaker.NewCircuitBreaker[realtime.CanonicalMessage](gobreaker.Settings{
			Name:          "store-persist",
			Timeout:       cfg.OpenTimeout,
			ReadyToTrip:   readyToTrip,
			OnStateChange: onStateChange,
		}),
		resolver: gobreaker.NewCircuitBreaker[map[uuid.UUID]string](gobreaker.Settings{
			Name:          "store-usernames",
			Timeout:       cfg.OpenTimeout,
			ReadyToTrip:   readyToTrip,
			OnStateChange: onStateChange,
		}),
	}
}

// Persist implements realtime.MessageStore through the breaker.
func (b *BreakerStore) Persist(ctx context.Context, channelID, authorID uuid.UUID, username, content string) (realtime.CanonicalMessage, error) {
	return b.persist.Execute(func() (realtime.CanonicalMessage, error) {
		return b.inner.Persist(ctx, channelID, authorID, username, content)
	})
}

// Usernames implements realtime.MessageStore through the breaker.
func (b *BreakerStore) Usernames(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	return b.resolver.Execute(func() (map[uuid.UUID]string, error) {
		return b.inner.Usernames(ctx, userIDs)
	})
}
