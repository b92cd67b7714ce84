// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

package metrics

import (
	"sync"
	"time"
)

// rateWindow is the sliding window over which the message rate is derived.
const rateWindow = 10 * time.Second

// Snapshot is a point-in-time copy of the gateway counters. It is never
// mutated after creation and serializes directly on the metrics endpoint.
type Snapshot struct {
	TotalConnections  uint64  `json:"total_connections"`
	ActiveConnections uint64  `json:"active_connections"`
	MessagesReceived  uint64  `json:"messages_received"`
	MessagesSent      uint64  `json:"messages_sent"`
	MessagesPerSecond float64 `json:"messages_per_second"`
	// LastMessageAt is unix milliseconds; zero if no message was seen yet.
	LastMessageAt int64 `json:"last_message_at"`
}

// Collector aggregates gateway activity. All methods are safe for
// concurrent use; recording is a short critical section so session loops
// can call it inline.
//
// The Prometheus counters in this package are updated alongside the
// collector by the callers; the collector exists for the JSON snapshot
// surface, which predates scrape-based monitoring in deployments that
// poll the gateway directly.
type Collector struct {
	mu sync.Mutex

	totalConnections  uint64
	activeConnections uint64
	messagesReceived  uint64
	messagesSent      uint64
	lastMessageAt     time.Time

	// recent holds the receive timestamps inside the rate window.
	recent []time.Time

	now func() time.Time
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{now: time.Now}
}

// ConnectionOpened records an accepted connection.
func (c *Collector) ConnectionOpened() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalConnections++
	c.activeConnections++
}

// ConnectionClosed records a torn-down connection.
func (c *Collector) ConnectionClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeConnections > 0 {
		c.activeConnections--
	}
}

// MessageReceived records one decoded client event.
func (c *Collector) MessageReceived() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.messagesReceived++
	c.lastMessageAt = now
	c.recent = append(c.recent, now)
	c.prune(now)
}

// MessageSent records n server events enqueued for delivery.
func (c *Collector) MessageSent(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messagesSent += uint64(n)
}

// prune drops receive timestamps older than the rate window.
// Must be called with mu held.
func (c *Collector) prune(now time.Time) {
	cutoff := now.Add(-rateWindow)
	drop := 0
	for drop < len(c.recent) && c.recent[drop].Before(cutoff) {
		drop++
	}
	if drop > 0 {
		c.recent = append(c.recent[:0], c.recent[drop:]...)
	}
}

// Snapshot returns an immutable copy of the current counters with the
// derived per-second rate.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.prune(now)

	var lastMs int64
	if !c.lastMessageAt.IsZero() {
		lastMs = c.lastMessageAt.UnixMilli()
	}

	return Snapshot{
		TotalConnections:  c.totalConnections,
		ActiveConnections: c.activeConnections,
		MessagesReceived:  c.messagesReceived,
		MessagesSent:      c.messagesSent,
		MessagesPerSecond: float64(len(c.recent)) / rateWindow.Seconds(),
		LastMessageAt:     lastMs,
	}
}
