// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

// Package hub implements the gateway's connection registry and event router.
//
// The Hub is the single source of truth for who can receive what: every live
// connection, every channel's subscriber set, and every user's connection
// set. It serializes each event exactly once per broadcast and fans the
// encoded frame out over bounded per-connection delivery channels. Delivery
// is best-effort: a full channel drops the frame for that subscriber and
// never blocks or aborts delivery to the others.
package hub

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/concord-chat/concord/internal/logging"
	"github.com/concord-chat/concord/internal/metrics"
	"github.com/concord-chat/concord/internal/protocol"
)

// DefaultDeliveryBuffer is the per-connection delivery channel capacity
// used when no explicit capacity is configured.
const DefaultDeliveryBuffer = 100

// ErrHubClosed is returned by Register after the hub has shut down.
var ErrHubClosed = errors.New("hub is closed")

// Hub tracks live connections, channel subscriptions, and user connection
// sets. All methods are safe for concurrent use from any session. Map
// mutation is always a short critical section; sends to delivery channels
// are non-blocking and never hold the lock across anything that can block.
type Hub struct {
	mu sync.RWMutex

	capacity  int
	collector *metrics.Collector

	// connections maps a live connection to the send side of its delivery
	// channel. The receive side is owned by the connection's write loop.
	connections map[uuid.UUID]chan []byte

	// subscriptions maps channel -> set of subscribed connections. Empty
	// sets are removed so cold channels cost nothing.
	subscriptions map[uuid.UUID]map[uuid.UUID]struct{}

	// userConnections maps user -> set of that user's connections
	// (multi-device).
	userConnections map[uuid.UUID]map[uuid.UUID]struct{}

	// connUser maps connection -> associated user, set at most once.
	connUser map[uuid.UUID]uuid.UUID

	closed bool
}

// New creates a Hub with the given delivery channel capacity.
// The collector may be nil.
func New(capacity int, collector *metrics.Collector) *Hub {
	if capacity <= 0 {
		capacity = DefaultDeliveryBuffer
	}
	return &Hub{
		capacity:        capacity,
		collector:       collector,
		connections:     make(map[uuid.UUID]chan []byte),
		subscriptions:   make(map[uuid.UUID]map[uuid.UUID]struct{}),
		userConnections: make(map[uuid.UUID]map[uuid.UUID]struct{}),
		connUser:        make(map[uuid.UUID]uuid.UUID),
	}
}

// Register adds a connection and returns the receive end of its delivery
// channel. The connection becomes visible to broadcasts immediately.
func (h *Hub) Register(connID uuid.UUID) (<-chan []byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if ch, ok := h.connections[connID]; ok {
		return ch, nil
	}

	ch := make(chan []byte, h.capacity)
	h.connections[connID] = ch

	logging.Debug().
		Str("connection_id", connID.String()).
		Int("total_connections", len(h.connections)).
		Msg("connection registered")
	return ch, nil
}

// Unregister removes a connection from every channel subscriber set, from
// its user's connection set, and from the connection table, then closes its
// delivery channel. Idempotent: safe to call for unknown or already removed
// connections.
func (h *Hub) Unregister(connID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.connections[connID]
	if !ok {
		return
	}

	for channelID, subs := range h.subscriptions {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(h.subscriptions, channelID)
		}
	}

	if userID, ok := h.connUser[connID]; ok {
		if conns, ok := h.userConnections[userID]; ok {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(h.userConnections, userID)
			}
		}
		delete(h.connUser, connID)
	}

	delete(h.connections, connID)
	close(ch)

	logging.Debug().
		Str("connection_id", connID.String()).
		Int("total_connections", len(h.connections)).
		Msg("connection unregistered")
}

// AssociateUser records that connID belongs to userID. A connection is
// associated at most once; later calls for the same connection are no-ops.
func (h *Hub) AssociateUser(connID, userID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.connections[connID]; !ok {
		return
	}
	if _, ok := h.connUser[connID]; ok {
		return
	}

	h.connUser[connID] = userID
	conns, ok := h.userConnections[userID]
	if !ok {
		conns = make(map[uuid.UUID]struct{})
		h.userConnections[userID] = conns
	}
	conns[connID] = struct{}{}
}

// Subscribe adds connID to channelID's subscriber set. Idempotent.
func (h *Hub) Subscribe(connID, channelID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.connections[connID]; !ok {
		return
	}
	subs, ok := h.subscriptions[channelID]
	if !ok {
		subs = make(map[uuid.UUID]struct{})
		h.subscriptions[channelID] = subs
	}
	subs[connID] = struct{}{}
}

// Unsubscribe removes connID from channelID's subscriber set, dropping the
// channel entry entirely once empty. Idempotent.
func (h *Hub) Unsubscribe(connID, channelID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.subscriptions[channelID]
	if !ok {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(h.subscriptions, channelID)
	}
}

// BroadcastToChannel serializes the event once and attempts delivery to
// every current subscriber. A full delivery channel drops the frame for
// that subscriber only. Returns the number of successful deliveries.
func (h *Hub) BroadcastToChannel(channelID uuid.UUID, event protocol.ServerEvent) (int, error) {
	frame, err := protocol.EncodeServerEvent(event)
	if err != nil {
		return 0, err
	}
	return h.BroadcastFrameToChannel(channelID, frame), nil
}

// BroadcastFrameToChannel delivers an already-encoded wire frame to every
// current subscriber of a channel. Used by the cluster bridge, where frames
// arrive pre-serialized from a peer node.
func (h *Hub) BroadcastFrameToChannel(channelID uuid.UUID, frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for connID := range h.subscriptions[channelID] {
		if h.deliverLocked(connID, frame) {
			delivered++
		}
	}
	h.recordSent(delivered)
	return delivered
}

// SendToConnection delivers an event to a single connection, best-effort.
// Returns false if the connection is unknown or its channel was full.
func (h *Hub) SendToConnection(connID uuid.UUID, event protocol.ServerEvent) (bool, error) {
	frame, err := protocol.EncodeServerEvent(event)
	if err != nil {
		return false, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	ok := h.deliverLocked(connID, frame)
	if ok {
		h.recordSent(1)
	}
	return ok, nil
}

// SendToUser delivers an event to every connection of a user, best-effort.
// Returns the number of successful deliveries.
func (h *Hub) SendToUser(userID uuid.UUID, event protocol.ServerEvent) (int, error) {
	frame, err := protocol.EncodeServerEvent(event)
	if err != nil {
		return 0, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for connID := range h.userConnections[userID] {
		if h.deliverLocked(connID, frame) {
			delivered++
		}
	}
	h.recordSent(delivered)
	return delivered, nil
}

// deliverLocked enqueues a frame on one connection's delivery channel.
// Must be called with mu held (read or write); the send is non-blocking so
// the lock is never held across a blocked channel operation.
func (h *Hub) deliverLocked(connID uuid.UUID, frame []byte) bool {
	ch, ok := h.connections[connID]
	if !ok {
		return false
	}
	select {
	case ch <- frame:
		return true
	default:
		metrics.BroadcastDrops.Inc()
		logging.Warn().
			Str("connection_id", connID.String()).
			Msg("delivery channel full, dropping event for lagged connection")
		return false
	}
}

// recordSent updates the delivery counters. Must not require the lock.
func (h *Hub) recordSent(n int) {
	if n <= 0 {
		return
	}
	metrics.MessagesSent.Add(float64(n))
	if h.collector != nil {
		h.collector.MessageSent(n)
	}
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// ChannelSubscriberCount returns the number of subscribers of a channel.
func (h *Hub) ChannelSubscriberCount(channelID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions[channelID])
}

// UserConnectionCount returns the number of live connections of a user.
func (h *Hub) UserConnectionCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userConnections[userID])
}

// RunWithContext blocks until the context is canceled, then closes every
// delivery channel so all write loops terminate. Designed for suture
// supervision; returns ctx.Err() on shutdown.
func (h *Hub) RunWithContext(ctx context.Context) error {
	<-ctx.Done()

	h.mu.Lock()
	h.closed = true
	closed := len(h.connections)
	for connID, ch := range h.connections {
		close(ch)
		delete(h.connections, connID)
	}
	h.subscriptions = make(map[uuid.UUID]map[uuid.UUID]struct{})
	h.userConnections = make(map[uuid.UUID]map[uuid.UUID]struct{})
	h.connUser = make(map[uuid.UUID]uuid.UUID)
	h.mu.Unlock()

	logging.Info().
		Str("component", "hub").
		Int("connections_closed", closed).
		Msg("hub stopped")
	return ctx.Err()
}
