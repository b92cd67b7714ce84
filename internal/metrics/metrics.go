// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

// Package metrics exposes the gateway's Prometheus instrumentation and the
// realtime snapshot collector served on the operational metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks currently open gateway connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "concord_gateway_active_connections",
		Help: "Number of currently connected WebSocket clients",
	})

	// ConnectionsTotal counts all connections ever accepted.
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concord_gateway_connections_total",
		Help: "Total number of WebSocket connections accepted",
	})

	// MessagesReceived counts inbound client frames successfully decoded.
	MessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concord_gateway_messages_received_total",
		Help: "Total number of client events received",
	})

	// MessagesSent counts frames delivered to client send queues.
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concord_gateway_messages_sent_total",
		Help: "Total number of server events enqueued for delivery",
	})

	// BroadcastDrops counts frames dropped because a delivery channel was full.
	BroadcastDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concord_gateway_broadcast_drops_total",
		Help: "Total number of events dropped due to slow consumers",
	})

	// ProtocolErrors counts client-visible errors by stable code.
	ProtocolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "concord_gateway_errors_total",
		Help: "Total number of ERROR events sent, by code",
	}, []string{"code"})

	// HTTPRequests counts HTTP requests by method, path pattern and status.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "concord_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPDuration observes HTTP request latency by path pattern.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "concord_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	// StoreFailures counts message store operations that returned an error.
	StoreFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concord_store_failures_total",
		Help: "Total number of failed message store operations",
	})

	// BridgeEvents counts events injected by the NATS bridge.
	BridgeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "concord_bridge_events_total",
		Help: "Total number of NATS bridge events, by outcome",
	}, []string{"outcome"})
)

// RecordError increments the ERROR counter for a stable code.
func RecordError(code string) {
	ProtocolErrors.WithLabelValues(code).Inc()
}

// RecordBridgeEvent increments the NATS bridge counter for an outcome
// ("delivered" or "malformed").
func RecordBridgeEvent(outcome string) {
	BridgeEvents.WithLabelValues(outcome).Inc()
}
