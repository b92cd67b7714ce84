// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

package protocol

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

func TestDecodeClientEventVariants(t *testing.T) {
	channelID := uuid.New()

	tests := []struct {
		name  string
		frame string
		check func(t *testing.T, ev ClientEvent)
	}{
		{
			name:  "identify",
			frame: `{"op":"IDENTIFY","d":{"token":"abc"}}`,
			check: func(t *testing.T, ev ClientEvent) {
				id, ok := ev.(Identify)
				if !ok {
					t.Fatalf("got %T, want Identify", ev)
				}
				if id.Token != "abc" {
					t.Errorf("token = %q", id.Token)
				}
			},
		},
		{
			name:  "send message",
			frame: `{"op":"SEND_MESSAGE","d":{"channel_id":"` + channelID.String() + `","content":"hi"}}`,
			check: func(t *testing.T, ev ClientEvent) {
				sm, ok := ev.(SendMessage)
				if !ok {
					t.Fatalf("got %T, want SendMessage", ev)
				}
				if sm.ChannelID != channelID || sm.Content != "hi" {
					t.Errorf("decoded %+v", sm)
				}
			},
		},
		{
			name:  "heartbeat with seq",
			frame: `{"op":"HEARTBEAT","d":{"seq":42}}`,
			check: func(t *testing.T, ev ClientEvent) {
				hb, ok := ev.(Heartbeat)
				if !ok {
					t.Fatalf("got %T, want Heartbeat", ev)
				}
				if hb.Seq == nil || *hb.Seq != 42 {
					t.Errorf("seq = %v", hb.Seq)
				}
			},
		},
		{
			name:  "heartbeat without payload",
			frame: `{"op":"HEARTBEAT"}`,
			check: func(t *testing.T, ev ClientEvent) {
				hb, ok := ev.(Heartbeat)
				if !ok {
					t.Fatalf("got %T, want Heartbeat", ev)
				}
				if hb.Seq != nil {
					t.Errorf("seq = %v, want nil", hb.Seq)
				}
			},
		},
		{
			name:  "subscribe",
			frame: `{"op":"SUBSCRIBE","d":{"channel_id":"` + channelID.String() + `"}}`,
			check: func(t *testing.T, ev ClientEvent) {
				if _, ok := ev.(Subscribe); !ok {
					t.Fatalf("got %T, want Subscribe", ev)
				}
			},
		},
		{
			name:  "presence update",
			frame: `{"op":"PRESENCE_UPDATE","d":{"status":"dnd"}}`,
			check: func(t *testing.T, ev ClientEvent) {
				sp, ok := ev.(SetPresence)
				if !ok {
					t.Fatalf("got %T, want SetPresence", ev)
				}
				if sp.Status != "dnd" {
					t.Errorf("status = %q", sp.Status)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeClientEvent([]byte(tt.frame))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			tt.check(t, ev)
		})
	}
}

func TestDecodeClientEventRejectsUnknownOp(t *testing.T) {
	_, err := DecodeClientEvent([]byte(`{"op":"MESSAGE_CREATE","d":{}}`))
	if !errors.Is(err, ErrUnknownOp) {
		t.Fatalf("err = %v, want ErrUnknownOp", err)
	}
}

func TestDecodeClientEventRejectsMalformed(t *testing.T) {
	for _, frame := range []string{
		`not json`,
		`{"d":{}}`,
		`{"op":"SEND_MESSAGE","d":{"channel_id":12}}`,
	} {
		if _, err := DecodeClientEvent([]byte(frame)); err == nil {
			t.Errorf("frame %q: expected error", frame)
		}
	}
}

func TestEncodeServerEventEnvelope(t *testing.T) {
	data, err := EncodeServerEvent(Hello{HeartbeatInterval: 30000})
	if err != nil {
		t.Fatal(err)
	}

	var env struct {
		Op string `json:"op"`
		D  struct {
			HeartbeatInterval int64 `json:"heartbeat_interval"`
		} `json:"d"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Op != OpHello {
		t.Errorf("op = %q, want %q", env.Op, OpHello)
	}
	if env.D.HeartbeatInterval != 30000 {
		t.Errorf("heartbeat_interval = %d", env.D.HeartbeatInterval)
	}
}

func TestEncodeMessageCreateOmitsNilEditedAt(t *testing.T) {
	ev := MessageCreate{
		ID:        uuid.New(),
		ChannelID: uuid.New(),
		ServerID:  uuid.New(),
		AuthorID:  uuid.New(),
		Username:  "alice",
		Content:   "hi",
		CreatedAt: time.Now().UTC(),
	}
	data, err := EncodeServerEvent(ev)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "edited_at") {
		t.Errorf("nil edited_at serialized: %s", data)
	}
}

// A server TYPING_START decodes as a client TypingStart with the same
// channel id, since the tag and field overlap across directions.
func TestTypingRoundTripAcrossDirections(t *testing.T) {
	channelID := uuid.New()
	data, err := EncodeServerEvent(TypingStarted{
		ChannelID: channelID,
		UserID:    uuid.New(),
		Username:  "bob",
	})
	if err != nil {
		t.Fatal(err)
	}

	ev, err := DecodeClientEvent(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ts, ok := ev.(TypingStart)
	if !ok {
		t.Fatalf("got %T, want TypingStart", ev)
	}
	if ts.ChannelID != channelID {
		t.Errorf("channel id = %s, want %s", ts.ChannelID, channelID)
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []string{StatusOnline, StatusOffline, StatusDnd, StatusInvisible} {
		if !ValidStatus(s) {
			t.Errorf("ValidStatus(%q) = false", s)
		}
	}
	for _, s := range []string{"", "away", "ONLINE", "busy"} {
		if ValidStatus(s) {
			t.Errorf("ValidStatus(%q) = true", s)
		}
	}
}

func TestServerOpTags(t *testing.T) {
	tests := []struct {
		ev   ServerEvent
		want string
	}{
		{Hello{}, "HELLO"},
		{Ready{}, "READY"},
		{ErrorEvent{}, "ERROR"},
		{MessageCreate{}, "MESSAGE_CREATE"},
		{MessageUpdate{}, "MESSAGE_UPDATE"},
		{MessageDelete{}, "MESSAGE_DELETE"},
		{TypingStarted{}, "TYPING_START"},
		{TypingStopped{}, "TYPING_STOP"},
		{HeartbeatAck{}, "HEARTBEAT_ACK"},
		{Subscribed{}, "SUBSCRIBED"},
		{Unsubscribed{}, "UNSUBSCRIBED"},
		{PresenceUpdate{}, "PRESENCE_UPDATE"},
	}
	for _, tt := range tests {
		if got := ServerOp(tt.ev); got != tt.want {
			t.Errorf("ServerOp(%T) = %q, want %q", tt.ev, got, tt.want)
		}
	}
}
