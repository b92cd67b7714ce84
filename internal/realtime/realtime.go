// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

// Package realtime holds the gateway's business logic: validating and
// executing send-message, typing, and presence operations against the
// external collaborators, then instructing the hub to broadcast the
// resulting events.
package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/concord-chat/concord/internal/hub"
	"github.com/concord-chat/concord/internal/metrics"
)

// Identity is an authenticated principal resolved from an IDENTIFY token.
type Identity struct {
	UserID   uuid.UUID
	Username string
}

// AuthVerifier turns a bearer credential into a user identity.
type AuthVerifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// MembershipOracle confirms a user may act on a channel and resolves the
// channel's owning server.
type MembershipOracle interface {
	ChannelServer(ctx context.Context, channelID uuid.UUID) (uuid.UUID, error)
	IsMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error)
}

// CanonicalMessage is the persisted record returned by the message store.
// The id and timestamp broadcast to subscribers always come from here, so
// what clients see matches what was stored.
type CanonicalMessage struct {
	ID        uuid.UUID
	ChannelID uuid.UUID
	AuthorID  uuid.UUID
	Username  string
	Content   string
	CreatedAt time.Time
}

// MessageStore durably persists chat messages and resolves display names.
type MessageStore interface {
	Persist(ctx context.Context, channelID, authorID uuid.UUID, username, content string) (CanonicalMessage, error)
	Usernames(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]string, error)
}

// Domain validation errors, rejected locally before touching collaborators.
var (
	ErrEmptyContent   = errors.New("message content is empty")
	ErrContentTooLong = errors.New("message content exceeds maximum length")
)

// Collaborator errors surfaced to the client under a generic code.
var (
	ErrChannelNotFound = errors.New("channel not found")
	ErrNotMember       = errors.New("user is not a member of this channel's server")
)

// DefaultMaxContentLength bounds message content when no explicit limit is
// configured.
const DefaultMaxContentLength = 2000

// Orchestrator executes realtime operations. It owns the typing cache and
// is shared by all sessions; all methods are safe for concurrent use.
type Orchestrator struct {
	hub        *hub.Hub
	store      MessageStore
	membership MembershipOracle
	typing     *TypingCache
	collector  *metrics.Collector
	maxContent int
}

// NewOrchestrator wires the orchestrator to its collaborators.
// The collector may be nil; maxContent <= 0 selects the default.
func NewOrchestrator(h *hub.Hub, store MessageStore, membership MembershipOracle, typing *TypingCache, collector *metrics.Collector, maxContent int) *Orchestrator {
	if maxContent <= 0 {
		maxContent = DefaultMaxContentLength
	}
	return &Orchestrator{
		hub:        h,
		store:      store,
		membership: membership,
		typing:     typing,
		collector:  collector,
		maxContent: maxContent,
	}
}

// Typing exposes the typing cache, for the supervised sweeper.
func (o *Orchestrator) Typing() *TypingCache {
	return o.typing
}
