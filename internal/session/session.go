// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

// Package session owns one physical WebSocket connection: a read pump that
// decodes client events and dispatches them, and a write pump that drains
// the hub's delivery channel and keeps transport pings flowing. Whichever
// pump exits first triggers teardown, which runs exactly once from every
// exit path.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/concord-chat/concord/internal/auth"
	"github.com/concord-chat/concord/internal/hub"
	"github.com/concord-chat/concord/internal/logging"
	"github.com/concord-chat/concord/internal/metrics"
	"github.com/concord-chat/concord/internal/protocol"
	"github.com/concord-chat/concord/internal/realtime"
)

const writeWait = 10 * time.Second

// Config holds per-session tunables, taken from the gateway config.
type Config struct {
	// HeartbeatInterval is advertised in HELLO and drives the ping ticker.
	HeartbeatInterval time.Duration

	// MaxFrameBytes is the protocol frame ceiling. Frames above it are
	// dropped without closing the connection; the transport read limit is
	// set well above so oversized frames can be drained and ignored.
	MaxFrameBytes int64

	// EventsPerSecond and EventBurst bound the inbound event rate.
	// Zero disables the limiter.
	EventsPerSecond float64
	EventBurst      int
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		MaxFrameBytes:     64 * 1024,
	}
}

// Session binds one WebSocket connection to the hub and the orchestrator.
type Session struct {
	id        uuid.UUID
	conn      *websocket.Conn
	hub       *hub.Hub
	orch      *realtime.Orchestrator
	verifier  realtime.AuthVerifier
	collector *metrics.Collector
	cfg       Config
	limiter   *rate.Limiter

	delivery <-chan []byte

	// mu guards identity; it is written once by the read pump at IDENTIFY
	// success and read during teardown.
	mu       sync.Mutex
	identity *realtime.Identity

	teardownOnce sync.Once
	cancel       context.CancelFunc
}

// New creates a session for an upgraded connection. The collector may be nil.
func New(conn *websocket.Conn, h *hub.Hub, orch *realtime.Orchestrator, verifier realtime.AuthVerifier, collector *metrics.Collector, cfg Config) *Session {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 64 * 1024
	}

	var limiter *rate.Limiter
	if cfg.EventsPerSecond > 0 {
		burst := cfg.EventBurst
		if burst <= 0 {
			burst = int(cfg.EventsPerSecond)
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), burst)
	}

	return &Session{
		id:        uuid.New(),
		conn:      conn,
		hub:       h,
		orch:      orch,
		verifier:  verifier,
		collector: collector,
		cfg:       cfg,
		limiter:   limiter,
	}
}

// ID returns the session's connection id.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Run registers with the hub, sends HELLO, and drives both pumps. It blocks
// until the connection is torn down. The parent context cancels the session
// (server shutdown).
func (s *Session) Run(ctx context.Context) {
	delivery, err := s.hub.Register(s.id)
	if err != nil {
		logging.Warn().Err(err).Msg("rejecting connection, hub unavailable")
		_ = s.conn.Close()
		return
	}
	s.delivery = delivery

	ctx, s.cancel = context.WithCancel(logging.ContextWithConnectionID(ctx, s.id.String()))
	defer s.teardown(ctx)

	metrics.ConnectionsTotal.Inc()
	metrics.ActiveConnections.Inc()
	if s.collector != nil {
		s.collector.ConnectionOpened()
	}

	if _, err := s.hub.SendToConnection(s.id, protocol.Hello{
		HeartbeatInterval: s.cfg.HeartbeatInterval.Milliseconds(),
	}); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("failed to enqueue HELLO")
		return
	}

	go s.writePump(ctx)
	s.readPump(ctx)
}

// teardown unregisters from the hub, emits the offline presence transition
// for authenticated sessions, and closes the transport. Idempotent and
// reached from every pump exit path.
func (s *Session) teardown(ctx context.Context) {
	s.teardownOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.hub.Unregister(s.id)

		s.mu.Lock()
		identity := s.identity
		s.mu.Unlock()
		if identity != nil {
			// Detached context: teardown still runs during shutdown.
			offCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.orch.HandleUserOffline(offCtx, identity.UserID); err != nil {
				logging.Ctx(ctx).Warn().Err(err).Msg("offline presence emit failed")
			}
			cancel()
		}

		_ = s.conn.Close()
		metrics.ActiveConnections.Dec()
		if s.collector != nil {
			s.collector.ConnectionClosed()
		}
		logging.Ctx(ctx).Debug().Msg("session closed")
	})
}

// readPump decodes inbound frames and dispatches them until the transport
// fails or the context is canceled.
func (s *Session) readPump(ctx context.Context) {
	defer s.teardown(ctx)

	pongWait := 2 * s.cfg.HeartbeatInterval
	// The transport limit sits above the protocol ceiling so an oversized
	// frame is read and dropped instead of killing the connection.
	s.conn.SetReadLimit(s.cfg.MaxFrameBytes * 4)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("failed to set read deadline")
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Ctx(ctx).Warn().Err(err).Msg("unexpected websocket close")
			}
			return
		}

		// Protocol ceiling: drop silently, connection stays open.
		if int64(len(data)) > s.cfg.MaxFrameBytes {
			logging.Ctx(ctx).Warn().
				Int("frame_bytes", len(data)).
				Int64("limit", s.cfg.MaxFrameBytes).
				Msg("dropping oversized frame")
			continue
		}

		if s.limiter != nil && !s.limiter.Allow() {
			s.sendError(protocol.ErrCodeRateLimited, "too many events, slow down")
			continue
		}

		event, err := protocol.DecodeClientEvent(data)
		if err != nil {
			s.sendError(protocol.ErrCodeInvalidJSON, "could not parse frame")
			continue
		}

		// Only decoded events count as received; malformed and
		// rate-limited frames never reach this point.
		metrics.MessagesReceived.Inc()
		if s.collector != nil {
			s.collector.MessageReceived()
		}

		s.dispatch(ctx, event)
	}
}

// writePump drains the delivery channel to the transport and sends pings on
// the heartbeat interval. Exits when the channel closes (unregistration) or
// a write fails.
func (s *Session) writePump(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		s.teardown(ctx)
	}()

	for {
		select {
		case frame, ok := <-s.delivery:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Ctx(ctx).Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// Hub closed the delivery channel.
				_ = s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				logging.Ctx(ctx).Debug().Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch routes one decoded client event through the connection state
// machine. Before IDENTIFY succeeds only IDENTIFY and HEARTBEAT are
// accepted; every other event is answered NOT_AUTHENTICATED. The state
// machine never regresses from authenticated.
func (s *Session) dispatch(ctx context.Context, event protocol.ClientEvent) {
	switch ev := event.(type) {
	case protocol.Heartbeat:
		if _, err := s.hub.SendToConnection(s.id, protocol.HeartbeatAck{Seq: ev.Seq}); err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("heartbeat ack failed")
		}
		return

	case protocol.Identify:
		s.handleIdentify(ctx, ev)
		return
	}

	identity := s.currentIdentity()
	if identity == nil {
		s.sendError(protocol.ErrCodeNotAuthenticated, "identify first")
		return
	}

	switch ev := event.(type) {
	case protocol.SendMessage:
		if err := s.orch.HandleSendMessage(ctx, *identity, ev.ChannelID, ev.Content); err != nil {
			s.sendError(protocol.ErrCodeMessageError, err.Error())
		}

	case protocol.TypingStart:
		if err := s.orch.HandleTypingStart(ctx, *identity, ev.ChannelID); err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("typing start failed")
		}

	case protocol.TypingStop:
		if err := s.orch.HandleTypingStop(ctx, *identity, ev.ChannelID); err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("typing stop failed")
		}

	case protocol.Subscribe:
		s.hub.Subscribe(s.id, ev.ChannelID)
		if _, err := s.hub.SendToConnection(s.id, protocol.Subscribed{ChannelID: ev.ChannelID}); err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("subscribe ack failed")
		}

	case protocol.Unsubscribe:
		s.hub.Unsubscribe(s.id, ev.ChannelID)
		if _, err := s.hub.SendToConnection(s.id, protocol.Unsubscribed{ChannelID: ev.ChannelID}); err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("unsubscribe ack failed")
		}

	case protocol.SetPresence:
		if err := s.orch.HandlePresenceUpdate(ctx, identity.UserID, ev.Status); err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("presence update failed")
		}
	}
}

// handleIdentify authenticates the connection. The first successful
// identification wins; repeats are answered with an error and the existing
// identity is kept.
func (s *Session) handleIdentify(ctx context.Context, ev protocol.Identify) {
	if s.currentIdentity() != nil {
		s.sendError(protocol.ErrCodeAlreadyAuthenticated, "connection is already identified")
		return
	}

	identity, err := s.verifier.Verify(ctx, ev.Token)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidToken):
			s.sendError(protocol.ErrCodeInvalidToken, "token is invalid or expired")
		case errors.Is(err, auth.ErrUserNotFound):
			s.sendError(protocol.ErrCodeUserNotFound, "user no longer exists")
		default:
			logging.Ctx(ctx).Error().Err(err).Msg("identify failed")
			s.sendError(protocol.ErrCodeInternalError, "authentication unavailable")
		}
		return
	}

	s.mu.Lock()
	s.identity = &identity
	s.mu.Unlock()

	s.hub.AssociateUser(s.id, identity.UserID)
	if _, err := s.hub.SendToConnection(s.id, protocol.Ready{
		UserID:   identity.UserID,
		Username: identity.Username,
	}); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("ready enqueue failed")
	}
	if err := s.orch.HandleUserOnline(ctx, identity.UserID); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("online presence emit failed")
	}

	logging.Ctx(ctx).Info().
		Str("user_id", identity.UserID.String()).
		Str("username", identity.Username).
		Msg("connection identified")
}

// currentIdentity returns the identity set at IDENTIFY success, or nil.
func (s *Session) currentIdentity() *realtime.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// sendError queues an ERROR event to this connection only.
func (s *Session) sendError(code, message string) {
	metrics.RecordError(code)
	if _, err := s.hub.SendToConnection(s.id, protocol.NewError(code, message)); err != nil {
		logging.Error().Err(err).Str("code", code).Msg("error event enqueue failed")
	}
}
