// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

// Package api provides the HTTP surface: the WebSocket entry point, health
// probes, and the gateway metrics snapshot. Routing uses Chi.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/concord-chat/concord/internal/hub"
	"github.com/concord-chat/concord/internal/logging"
	"github.com/concord-chat/concord/internal/metrics"
	"github.com/concord-chat/concord/internal/realtime"
	"github.com/concord-chat/concord/internal/session"
)

// Pinger is the readiness dependency, satisfied by the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler carries the dependencies of all HTTP endpoints.
type Handler struct {
	hub        *hub.Hub
	orch       *realtime.Orchestrator
	verifier   realtime.AuthVerifier
	collector  *metrics.Collector
	pinger     Pinger
	sessionCfg session.Config
	upgrader   websocket.Upgrader
}

// NewHandler builds the handler set. allowedOrigins lists Origin values
// accepted for the WebSocket upgrade; an empty list falls back to the
// same-host default and "*" accepts any origin.
func NewHandler(h *hub.Hub, orch *realtime.Orchestrator, verifier realtime.AuthVerifier, collector *metrics.Collector, pinger Pinger, sessionCfg session.Config, allowedOrigins []string) *Handler {
	handler := &Handler{
		hub:        h,
		orch:       orch,
		verifier:   verifier,
		collector:  collector,
		pinger:     pinger,
		sessionCfg: sessionCfg,
	}
	handler.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return handler
}

// originChecker returns the upgrade origin policy. A nil result keeps
// Gorilla's same-host default.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// WebSocket upgrades the connection and runs the session until it closes.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Ctx(r.Context()).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sess := session.New(conn, h.hub, h.orch, h.verifier, h.collector, h.sessionCfg)
	logging.Ctx(r.Context()).Info().
		Str("connection_id", sess.ID().String()).
		Str("remote", r.RemoteAddr).
		Msg("websocket connected")

	sess.Run(r.Context())
}

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady reports readiness: the database must answer a ping.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.pinger.Ping(ctx); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("readiness probe failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"reason": "database unreachable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// RealtimeMetrics serves the gateway's sliding-window snapshot.
func (h *Handler) RealtimeMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.collector.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("encoding response")
	}
}
