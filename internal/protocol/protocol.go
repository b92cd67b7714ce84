// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

// Package protocol defines the gateway wire vocabulary: the closed sets of
// client and server events and the JSON envelope they travel in.
//
// Every frame is a single UTF-8 text JSON object:
//
//	{"op": "SEND_MESSAGE", "d": {"channel_id": "...", "content": "hi"}}
//
// Unknown or missing op tags are decode errors, never panics. The variant
// sets are sealed; adding an event means adding a type here and handling it
// at every dispatch site.
package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Client opcode tags.
const (
	OpIdentify       = "IDENTIFY"
	OpSendMessage    = "SEND_MESSAGE"
	OpTypingStart    = "TYPING_START"
	OpTypingStop     = "TYPING_STOP"
	OpHeartbeat      = "HEARTBEAT"
	OpSubscribe      = "SUBSCRIBE"
	OpUnsubscribe    = "UNSUBSCRIBE"
	OpPresenceUpdate = "PRESENCE_UPDATE"
)

// Server opcode tags.
const (
	OpHello         = "HELLO"
	OpReady         = "READY"
	OpError         = "ERROR"
	OpMessageCreate = "MESSAGE_CREATE"
	OpMessageUpdate = "MESSAGE_UPDATE"
	OpMessageDelete = "MESSAGE_DELETE"
	OpHeartbeatAck  = "HEARTBEAT_ACK"
	OpSubscribed    = "SUBSCRIBED"
	OpUnsubscribed  = "UNSUBSCRIBED"
)

// Stable error codes carried in ERROR events.
const (
	ErrCodeInvalidJSON          = "INVALID_JSON"
	ErrCodeNotAuthenticated     = "NOT_AUTHENTICATED"
	ErrCodeAlreadyAuthenticated = "ALREADY_AUTHENTICATED"
	ErrCodeInvalidToken         = "INVALID_TOKEN"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeMessageError         = "MESSAGE_ERROR"
	ErrCodeRateLimited          = "RATE_LIMITED"
	ErrCodeInternalError        = "INTERNAL_ERROR"
)

// Presence statuses accepted from clients. Anything else is dropped.
const (
	StatusOnline    = "online"
	StatusOffline   = "offline"
	StatusDnd       = "dnd"
	StatusInvisible = "invisible"
)

// ValidStatus reports whether s is a member of the presence enumeration.
func ValidStatus(s string) bool {
	switch s {
	case StatusOnline, StatusOffline, StatusDnd, StatusInvisible:
		return true
	}
	return false
}

// ErrUnknownOp is returned when a frame carries an op tag outside the
// client vocabulary.
var ErrUnknownOp = errors.New("unknown op tag")

// envelope is the wire container for every frame.
type envelope struct {
	Op string          `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
}

// ClientEvent is the sealed set of events a client may send.
type ClientEvent interface {
	clientOp() string
}

// Identify authenticates the connection with a bearer token.
type Identify struct {
	Token string `json:"token"`
}

// SendMessage posts a message to a channel.
type SendMessage struct {
	ChannelID uuid.UUID `json:"channel_id"`
	Content   string    `json:"content"`
}

// TypingStart signals the user began composing in a channel.
type TypingStart struct {
	ChannelID uuid.UUID `json:"channel_id"`
}

// TypingStop signals the user stopped composing.
type TypingStop struct {
	ChannelID uuid.UUID `json:"channel_id"`
}

// Heartbeat is the application-level liveness signal.
type Heartbeat struct {
	Seq *int64 `json:"seq,omitempty"`
}

// Subscribe registers interest in a channel's broadcasts.
type Subscribe struct {
	ChannelID uuid.UUID `json:"channel_id"`
}

// Unsubscribe removes interest in a channel's broadcasts.
type Unsubscribe struct {
	ChannelID uuid.UUID `json:"channel_id"`
}

// SetPresence updates the user's self-reported status.
type SetPresence struct {
	Status string `json:"status"`
}

func (Identify) clientOp() string    { return OpIdentify }
func (SendMessage) clientOp() string { return OpSendMessage }
func (TypingStart) clientOp() string { return OpTypingStart }
func (TypingStop) clientOp() string  { return OpTypingStop }
func (Heartbeat) clientOp() string   { return OpHeartbeat }
func (Subscribe) clientOp() string   { return OpSubscribe }
func (Unsubscribe) clientOp() string { return OpUnsubscribe }
func (SetPresence) clientOp() string { return OpPresenceUpdate }

// Op returns the wire tag of a client event.
func Op(ev ClientEvent) string {
	return ev.clientOp()
}

// DecodeClientEvent parses one frame into its client event variant.
// A malformed envelope or payload yields a plain error; an op outside the
// client vocabulary yields an error wrapping ErrUnknownOp.
func DecodeClientEvent(data []byte) (ClientEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Op == "" {
		return nil, errors.New("missing op tag")
	}

	payload := env.D
	if payload == nil {
		payload = json.RawMessage("{}")
	}

	switch env.Op {
	case OpIdentify:
		var ev Identify
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", env.Op, err)
		}
		return ev, nil
	case OpSendMessage:
		var ev SendMessage
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", env.Op, err)
		}
		return ev, nil
	case OpTypingStart:
		var ev TypingStart
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", env.Op, err)
		}
		return ev, nil
	case OpTypingStop:
		var ev TypingStop
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", env.Op, err)
		}
		return ev, nil
	case OpHeartbeat:
		var ev Heartbeat
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", env.Op, err)
		}
		return ev, nil
	case OpSubscribe:
		var ev Subscribe
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", env.Op, err)
		}
		return ev, nil
	case OpUnsubscribe:
		var ev Unsubscribe
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", env.Op, err)
		}
		return ev, nil
	case OpPresenceUpdate:
		var ev SetPresence
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("malformed %s payload: %w", env.Op, err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOp, env.Op)
	}
}

// ServerEvent is the sealed set of events the gateway may send.
type ServerEvent interface {
	serverOp() string
}

// Hello is sent immediately after the connection is accepted.
type Hello struct {
	// HeartbeatInterval is in milliseconds.
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// Ready confirms a successful IDENTIFY.
type Ready struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username"`
}

// ErrorEvent reports a client-visible failure; the connection stays open.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MessageCreate carries a newly persisted message's canonical record.
type MessageCreate struct {
	ID        uuid.UUID  `json:"id"`
	ChannelID uuid.UUID  `json:"channel_id"`
	ServerID  uuid.UUID  `json:"server_id"`
	AuthorID  uuid.UUID  `json:"author_id"`
	Username  string     `json:"username"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
}

// MessageUpdate announces an edited message.
type MessageUpdate struct {
	ID        uuid.UUID `json:"id"`
	ChannelID uuid.UUID `json:"channel_id"`
	Content   string    `json:"content"`
	EditedAt  time.Time `json:"edited_at"`
}

// MessageDelete announces a removed message.
type MessageDelete struct {
	ID        uuid.UUID `json:"id"`
	ChannelID uuid.UUID `json:"channel_id"`
}

// TypingStarted announces that a user began typing in a channel.
type TypingStarted struct {
	ChannelID uuid.UUID `json:"channel_id"`
	UserID    uuid.UUID `json:"user_id"`
	Username  string    `json:"username"`
}

// TypingStopped announces that a user stopped typing.
type TypingStopped struct {
	ChannelID uuid.UUID `json:"channel_id"`
	UserID    uuid.UUID `json:"user_id"`
}

// HeartbeatAck answers a client HEARTBEAT, echoing its sequence if present.
type HeartbeatAck struct {
	Seq *int64 `json:"seq,omitempty"`
}

// Subscribed confirms a SUBSCRIBE.
type Subscribed struct {
	ChannelID uuid.UUID `json:"channel_id"`
}

// Unsubscribed confirms an UNSUBSCRIBE.
type Unsubscribed struct {
	ChannelID uuid.UUID `json:"channel_id"`
}

// PresenceUpdate mirrors a user's status to their connections.
type PresenceUpdate struct {
	UserID uuid.UUID `json:"user_id"`
	Status string    `json:"status"`
}

func (Hello) serverOp() string          { return OpHello }
func (Ready) serverOp() string          { return OpReady }
func (ErrorEvent) serverOp() string     { return OpError }
func (MessageCreate) serverOp() string  { return OpMessageCreate }
func (MessageUpdate) serverOp() string  { return OpMessageUpdate }
func (MessageDelete) serverOp() string  { return OpMessageDelete }
func (TypingStarted) serverOp() string  { return OpTypingStart }
func (TypingStopped) serverOp() string  { return OpTypingStop }
func (HeartbeatAck) serverOp() string   { return OpHeartbeatAck }
func (Subscribed) serverOp() string     { return OpSubscribed }
func (Unsubscribed) serverOp() string   { return OpUnsubscribed }
func (PresenceUpdate) serverOp() string { return OpPresenceUpdate }

// ServerOp returns the wire tag of a server event.
func ServerOp(ev ServerEvent) string {
	return ev.serverOp()
}

// EncodeServerEvent serializes a server event into its wire envelope.
func EncodeServerEvent(ev ServerEvent) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", ev.serverOp(), err)
	}
	return json.Marshal(envelope{Op: ev.serverOp(), D: payload})
}

// NewError builds an ERROR event with a stable code and human-readable message.
func NewError(code, message string) ErrorEvent {
	return ErrorEvent{Code: code, Message: message}
}
