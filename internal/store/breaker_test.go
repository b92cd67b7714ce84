// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/concord-chat/concord/internal/realtime"
)

type flakyStore struct {
	failing      bool
	persistCalls int
}

func (f *flakyStore) Persist(ctx context.Context, channelID, authorID uuid.UUID, username, content string) (realtime.CanonicalMessage, error) {
	f.persistCalls++
	if f.failing {
		return realtime.CanonicalMessage{}, errors.New("database gone")
	}
	return realtime.CanonicalMessage{
		ID:        uuid.New(),
		ChannelID: channelID,
		AuthorID:  authorID,
		Username:  username,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (f *flakyStore) Usernames(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	if f.failing {
		return nil, errors.New("database gone")
	}
	return map[uuid.UUID]string{}, nil
}

func TestBreakerPassesThroughWhenHealthy(t *testing.T) {
	inner := &flakyStore{}
	b := NewBreakerStore(inner, BreakerConfig{MaxFailures: 3, OpenTimeout: time.Minute})

	msg, err := b.Persist(context.Background(), uuid.New(), uuid.New(), "alice", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if msg.Content != "hi" {
		t.Errorf("content = %q", msg.Content)
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &flakyStore{failing: true}
	b := NewBreakerStore(inner, BreakerConfig{MaxFailures: 3, OpenTimeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := b.Persist(ctx, uuid.New(), uuid.New(), "alice", "hi"); err == nil {
			t.Fatal("expected failure")
		}
	}
	callsBeforeOpen := inner.persistCalls

	// Breaker is open now: the inner store is no longer reached.
	_, err := b.Persist(ctx, uuid.New(), uuid.New(), "alice", "hi")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("err = %v, want ErrOpenState", err)
	}
	if inner.persistCalls != callsBeforeOpen {
		t.Errorf("inner store reached while breaker open: %d calls", inner.persistCalls-callsBeforeOpen)
	}
}

func TestBreakerIsolatesPersistFromUsernames(t *testing.T) {
	inner := &flakyStore{failing: true}
	b := NewBreakerStore(inner, BreakerConfig{MaxFailures: 1, OpenTimeout: time.Minute})
	ctx := context.Background()

	if _, err := b.Persist(ctx, uuid.New(), uuid.New(), "alice", "hi"); err == nil {
		t.Fatal("expected failure")
	}
	if _, err := b.Persist(ctx, uuid.New(), uuid.New(), "alice", "hi"); !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("persist breaker not open: %v", err)
	}

	// The usernames breaker trips independently.
	inner.failing = false
	if _, err := b.Usernames(ctx, nil); err != nil {
		t.Errorf("usernames affected by persist breaker: %v", err)
	}
}
