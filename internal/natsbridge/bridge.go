// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

// Package natsbridge fans events published by peer nodes into the local
// hub. Peers publish pre-serialized wire frames on one subject per channel
// (<prefix>.<channel_id>); the bridge validates each frame and hands it to
// the hub for local delivery. Disabled unless NATS is configured.
package natsbridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/concord-chat/concord/internal/hub"
	"github.com/concord-chat/concord/internal/logging"
	"github.com/concord-chat/concord/internal/metrics"
)

// Config holds the bridge connection settings.
type Config struct {
	URL           string
	SubjectPrefix string
	ClientName    string
}

// Bridge is a supervised service holding one NATS subscription for the
// node's lifetime.
type Bridge struct {
	cfg Config
	hub *hub.Hub
}

// New creates a bridge. The connection is established in Serve so the
// supervisor's backoff covers broker outages at startup.
func New(cfg Config, h *hub.Hub) *Bridge {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "concord.events"
	}
	if cfg.ClientName == "" {
		cfg.ClientName = "concord-gateway"
	}
	return &Bridge{cfg: cfg, hub: h}
}

// Serve connects to the broker, subscribes to the event subjects, and
// blocks until the context is canceled. Returning an error hands control
// back to the supervisor for backoff and restart.
func (b *Bridge) Serve(ctx context.Context) error {
	conn, err := nats.Connect(b.cfg.URL,
		nats.Name(b.cfg.ClientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to nats at %s: %w", b.cfg.URL, err)
	}
	defer conn.Close()

	sub, err := conn.Subscribe(b.cfg.SubjectPrefix+".>", func(msg *nats.Msg) {
		b.handle(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s.>: %w", b.cfg.SubjectPrefix, err)
	}

	logging.Info().
		Str("url", b.cfg.URL).
		Str("subject", b.cfg.SubjectPrefix+".>").
		Msg("nats bridge started")

	<-ctx.Done()

	if err := sub.Drain(); err != nil {
		logging.Warn().Err(err).Msg("nats drain failed")
	}
	logging.Info().Msg("nats bridge stopped")
	return ctx.Err()
}

// String names the service in supervisor logs.
func (b *Bridge) String() string {
	return "nats-bridge"
}

// handle validates one inbound message and injects it into the hub.
// Malformed messages are counted and dropped; a misbehaving peer must not
// take the bridge down.
func (b *Bridge) handle(subject string, data []byte) {
	channelID, err := ParseSubject(subject, b.cfg.SubjectPrefix)
	if err != nil {
		metrics.RecordBridgeEvent("malformed")
		logging.Warn().Err(err).Str("subject", subject).Msg("dropping bridge message")
		return
	}

	if err := ValidateFrame(data); err != nil {
		metrics.RecordBridgeEvent("malformed")
		logging.Warn().Err(err).Str("subject", subject).Msg("dropping bridge message")
		return
	}

	b.hub.BroadcastFrameToChannel(channelID, data)
	metrics.RecordBridgeEvent("delivered")
}

// ParseSubject extracts the channel id from a bridge subject, which must be
// exactly <prefix>.<channel_uuid>.
func ParseSubject(subject, prefix string) (uuid.UUID, error) {
	rest, ok := strings.CutPrefix(subject, prefix+".")
	if !ok {
		return uuid.Nil, fmt.Errorf("subject %q outside prefix %q", subject, prefix)
	}
	if strings.Contains(rest, ".") {
		return uuid.Nil, fmt.Errorf("subject %q has extra tokens", subject)
	}
	channelID, err := uuid.Parse(rest)
	if err != nil {
		return uuid.Nil, fmt.Errorf("subject %q has malformed channel id: %w", subject, err)
	}
	return channelID, nil
}

// ValidateFrame checks that the payload is a wire envelope with an op tag.
// The frame is forwarded verbatim, so only shape is checked here.
func ValidateFrame(data []byte) error {
	var env struct {
		Op string          `json:"op"`
		D  json.RawMessage `json:"d"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Op == "" {
		return fmt.Errorf("envelope missing op tag")
	}
	return nil
}
