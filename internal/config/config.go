// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

// Package config defines the application configuration and its layered
// loading (defaults, optional YAML file, environment variables).
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the Concord gateway.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Gateway  GatewayConfig  `koanf:"gateway"`
	Security SecurityConfig `koanf:"security"`
	Database DatabaseConfig `koanf:"database"`
	NATS     NATSConfig     `koanf:"nats"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment" validate:"oneof=development production"`
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GatewayConfig holds the real-time layer's tunables.
//
// The defaults mirror the protocol contract advertised to clients: the
// heartbeat interval is sent in HELLO, and the frame/content ceilings are
// enforced per frame without closing the connection.
type GatewayConfig struct {
	// HeartbeatInterval is advertised to clients in HELLO (as milliseconds)
	// and drives the transport-level ping ticker.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval" validate:"min=1s"`

	// MaxFrameBytes is the largest accepted inbound frame. Larger frames
	// are dropped; the connection stays open.
	MaxFrameBytes int64 `koanf:"max_frame_bytes" validate:"min=1024"`

	// MaxContentLength is the maximum message content length in characters.
	MaxContentLength int `koanf:"max_content_length" validate:"min=1"`

	// DeliveryBuffer is the per-connection delivery channel capacity.
	// When full, further broadcasts to that connection are dropped.
	DeliveryBuffer int `koanf:"delivery_buffer" validate:"min=1"`

	// TypingTTL is how long a typing indicator stays alive without refresh.
	TypingTTL time.Duration `koanf:"typing_ttl" validate:"min=1s"`

	// TypingSweepInterval is how often stale typing entries are evicted.
	TypingSweepInterval time.Duration `koanf:"typing_sweep_interval" validate:"min=1s"`

	// EventsPerSecond and EventBurst bound the inbound event rate per
	// connection. Excess events are answered with a RATE_LIMITED error.
	EventsPerSecond float64 `koanf:"events_per_second" validate:"min=0"`
	EventBurst      int     `koanf:"event_burst" validate:"min=0"`
}

// SecurityConfig holds authentication and HTTP protection settings.
type SecurityConfig struct {
	// JWTSecret signs and verifies IDENTIFY tokens (HMAC-SHA256).
	// Must be at least 32 characters in production.
	JWTSecret string `koanf:"jwt_secret"`

	// SessionTimeout is the validity window of issued tokens.
	SessionTimeout time.Duration `koanf:"session_timeout"`

	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`

	// CORSOrigins configures the HTTP CORS allowlist.
	CORSOrigins []string `koanf:"cors_origins"`

	// AllowedOrigins restricts WebSocket upgrades by Origin header.
	// Empty or ["*"] accepts any origin.
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// DatabaseConfig holds SQLite storage settings.
type DatabaseConfig struct {
	Path         string `koanf:"path" validate:"required"`
	MaxOpenConns int    `koanf:"max_open_conns" validate:"min=1"`

	// Breaker settings for the circuit breaker wrapping message persistence.
	BreakerEnabled     bool          `koanf:"breaker_enabled"`
	BreakerMaxFailures uint32        `koanf:"breaker_max_failures"`
	BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout"`
}

// NATSConfig holds settings for the optional NATS event bridge.
// When enabled, server events published on <subject_prefix>.<channel_id>
// by external services are injected into the hub.
type NATSConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
	ClientName    string `koanf:"client_name"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// Validate checks structural constraints via validator tags, then the
// cross-field rules that tags cannot express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Server.Environment == "production" {
		if len(c.Security.JWTSecret) < 32 {
			return fmt.Errorf("security.jwt_secret must be at least 32 characters in production (got %d)", len(c.Security.JWTSecret))
		}
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("security.jwt_secret is required")
	}

	// Sweeping may run as often as it likes; what it must not do is lag so
	// far behind the TTL that stale typing entries pile up between sweeps.
	if c.Gateway.TypingSweepInterval > 3*c.Gateway.TypingTTL {
		return fmt.Errorf("gateway.typing_sweep_interval %s too long for typing_ttl %s",
			c.Gateway.TypingSweepInterval, c.Gateway.TypingTTL)
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats.enabled is true")
	}

	return nil
}
