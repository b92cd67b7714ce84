// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/concord-chat/concord/internal/config"
)

// NewRouter assembles the HTTP surface. The WebSocket endpoint sits outside
// the HTTP rate limiter: a connection is admitted once and its event rate is
// bounded per-session instead.
func NewRouter(handler *Handler, security config.SecurityConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(RequestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   security.CORSOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(PrometheusMetrics)
			if !security.RateLimitDisabled {
				r.Use(httprate.Limit(security.RateLimitReqs, security.RateLimitWindow,
					httprate.WithKeyFuncs(httprate.KeyByIP),
				))
			}
			r.Get("/health/live", handler.HealthLive)
			r.Get("/health/ready", handler.HealthReady)
			r.Get("/realtime/metrics", handler.RealtimeMetrics)
		})

		r.Get("/ws", handler.WebSocket)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// NewServer wraps the router in an http.Server with production timeouts.
// The WebSocket endpoint needs no WriteTimeout; per-frame write deadlines
// are set inside the session.
func NewServer(addr string, router http.Handler, timeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: timeout,
		IdleTimeout:       120 * time.Second,
	}
}
