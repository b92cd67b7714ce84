// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

package store

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/concord-chat/concord/internal/logging"
	"github.com/concord-chat/concord/internal/realtime"
)

func init() {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
}

type worldIDs struct {
	server  uuid.UUID
	channel uuid.UUID
	alice   uuid.UUID
	bob     uuid.UUID
	outcast uuid.UUID
}

// openSeeded opens a file-backed store in a temp dir and seeds one server
// with one channel, two members, and one non-member.
func openSeeded(t *testing.T) (*SQLiteStore, worldIDs) {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "concord.db"), 1)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	ids := worldIDs{
		server:  uuid.New(),
		channel: uuid.New(),
		alice:   uuid.New(),
		bob:     uuid.New(),
		outcast: uuid.New(),
	}

	for _, step := range []error{
		s.CreateUser(ctx, ids.alice, "alice"),
		s.CreateUser(ctx, ids.bob, "bob"),
		s.CreateUser(ctx, ids.outcast, "outcast"),
		s.CreateServer(ctx, ids.server, "general"),
		s.CreateChannel(ctx, ids.channel, ids.server, "lobby"),
		s.AddMember(ctx, ids.server, ids.alice),
		s.AddMember(ctx, ids.server, ids.bob),
	} {
		if step != nil {
			t.Fatal(step)
		}
	}
	return s, ids
}

func TestPersistReturnsCanonicalRecord(t *testing.T) {
	s, ids := openSeeded(t)
	ctx := context.Background()

	msg, err := s.Persist(ctx, ids.channel, ids.alice, "alice", "hello world")
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID == uuid.Nil {
		t.Error("message id not minted")
	}
	if msg.CreatedAt.IsZero() {
		t.Error("created_at not set")
	}
	if msg.ChannelID != ids.channel || msg.AuthorID != ids.alice || msg.Content != "hello world" {
		t.Errorf("canonical record: %+v", msg)
	}

	// A second message gets a distinct id.
	msg2, err := s.Persist(ctx, ids.channel, ids.alice, "alice", "again")
	if err != nil {
		t.Fatal(err)
	}
	if msg2.ID == msg.ID {
		t.Error("message ids collide")
	}
}

func TestUsernames(t *testing.T) {
	s, ids := openSeeded(t)
	ctx := context.Background()

	names, err := s.Usernames(ctx, []uuid.UUID{ids.alice, ids.bob, uuid.New()})
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 {
		t.Fatalf("names = %v, want 2 entries", names)
	}
	if names[ids.alice] != "alice" || names[ids.bob] != "bob" {
		t.Errorf("names = %v", names)
	}

	empty, err := s.Usernames(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("empty query returned %v", empty)
	}
}

func TestChannelServer(t *testing.T) {
	s, ids := openSeeded(t)
	ctx := context.Background()

	serverID, err := s.ChannelServer(ctx, ids.channel)
	if err != nil {
		t.Fatal(err)
	}
	if serverID != ids.server {
		t.Errorf("server = %s, want %s", serverID, ids.server)
	}

	if _, err := s.ChannelServer(ctx, uuid.New()); !errors.Is(err, realtime.ErrChannelNotFound) {
		t.Errorf("err = %v, want ErrChannelNotFound", err)
	}
}

func TestIsMember(t *testing.T) {
	s, ids := openSeeded(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		user   uuid.UUID
		member bool
	}{
		{"member", ids.alice, true},
		{"non-member", ids.outcast, false},
		{"unknown user", uuid.New(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.IsMember(ctx, ids.channel, tt.user)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.member {
				t.Errorf("IsMember = %v, want %v", got, tt.member)
			}
		})
	}
}

func TestFindUser(t *testing.T) {
	s, ids := openSeeded(t)
	ctx := context.Background()

	name, found, err := s.FindUser(ctx, ids.alice)
	if err != nil {
		t.Fatal(err)
	}
	if !found || name != "alice" {
		t.Errorf("FindUser = %q, %v", name, found)
	}

	_, found, err = s.FindUser(ctx, uuid.New())
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Error("unknown user reported found")
	}
}
