// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

// Package store provides the SQLite-backed implementations of the
// gateway's collaborators: the message store, the membership oracle, and
// the user directory consulted at IDENTIFY.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/concord-chat/concord/internal/realtime"
)

// schema is applied at open; statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id       TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS servers (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS channels (
	id        TEXT PRIMARY KEY,
	server_id TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
	name      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS server_members (
	server_id TEXT NOT NULL REFERENCES servers(id) ON DELETE CASCADE,
	user_id   TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	PRIMARY KEY (server_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL REFERENCES channels(id) ON DELETE CASCADE,
	author_id  TEXT NOT NULL,
	username   TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TEXT NOT NULL,
	edited_at  TEXT
);

CREATE INDEX IF NOT EXISTS idx_messages_channel_created
	ON messages (channel_id, created_at);
`

// SQLiteStore implements realtime.MessageStore, realtime.MembershipOracle,
// and auth.UserDirectory on a single SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for an ephemeral database in tests.
func Open(path string, maxOpenConns int) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable; used by the readiness probe.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Persist stores a message and returns its canonical record. The id and
// timestamp are minted here, inside the store boundary, so the broadcast
// record always matches the row.
func (s *SQLiteStore) Persist(ctx context.Context, channelID, authorID uuid.UUID, username, content string) (realtime.CanonicalMessage, error) {
	msg := realtime.CanonicalMessage{
		ID:        uuid.New(),
		ChannelID: channelID,
		AuthorID:  authorID,
		Username:  username,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, channel_id, author_id, username, content, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID.String(), channelID.String(), authorID.String(),
		username, content, msg.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return realtime.CanonicalMessage{}, fmt.Errorf("inserting message: %w", err)
	}
	return msg, nil
}

// Usernames resolves display names for a set of user ids. Unknown ids are
// simply absent from the result.
func (s *SQLiteStore) Usernames(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]string, error) {
	result := make(map[uuid.UUID]string, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(userIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id.String()
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, username FROM users WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, fmt.Errorf("querying usernames: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var idStr, username string
		if err := rows.Scan(&idStr, &username); err != nil {
			return nil, fmt.Errorf("scanning username row: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("malformed user id %q in database: %w", idStr, err)
		}
		result[id] = username
	}
	return result, rows.Err()
}

// ChannelServer resolves the server owning a channel.
// Returns realtime.ErrChannelNotFound for unknown channels.
func (s *SQLiteStore) ChannelServer(ctx context.Context, channelID uuid.UUID) (uuid.UUID, error) {
	var serverStr string
	err := s.db.QueryRowContext(ctx,
		"SELECT server_id FROM channels WHERE id = ?", channelID.String()).Scan(&serverStr)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, realtime.ErrChannelNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("querying channel %s: %w", channelID, err)
	}

	serverID, err := uuid.Parse(serverStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("malformed server id %q in database: %w", serverStr, err)
	}
	return serverID, nil
}

// IsMember reports whether the user belongs to the server owning the channel.
func (s *SQLiteStore) IsMember(ctx context.Context, channelID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM server_members m
			JOIN channels c ON c.server_id = m.server_id
			WHERE c.id = ? AND m.user_id = ?
		)`, channelID.String(), userID.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("membership query: %w", err)
	}
	return exists, nil
}

// FindUser implements auth.UserDirectory.
func (s *SQLiteStore) FindUser(ctx context.Context, userID uuid.UUID) (string, bool, error) {
	var username string
	err := s.db.QueryRowContext(ctx,
		"SELECT username FROM users WHERE id = ?", userID.String()).Scan(&username)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying user %s: %w", userID, err)
	}
	return username, true, nil
}

// CreateUser inserts a user row. Used by provisioning and tests.
func (s *SQLiteStore) CreateUser(ctx context.Context, userID uuid.UUID, username string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, username) VALUES (?, ?)", userID.String(), username)
	if err != nil {
		return fmt.Errorf("inserting user %s: %w", username, err)
	}
	return nil
}

// CreateServer inserts a server row.
func (s *SQLiteStore) CreateServer(ctx context.Context, serverID uuid.UUID, name string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO servers (id, name) VALUES (?, ?)", serverID.String(), name)
	if err != nil {
		return fmt.Errorf("inserting server %s: %w", name, err)
	}
	return nil
}

// CreateChannel inserts a channel row under a server.
func (s *SQLiteStore) CreateChannel(ctx context.Context, channelID, serverID uuid.UUID, name string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO channels (id, server_id, name) VALUES (?, ?, ?)",
		channelID.String(), serverID.String(), name)
	if err != nil {
		return fmt.Errorf("inserting channel %s: %w", name, err)
	}
	return nil
}

// AddMember adds a user to a server. Idempotent.
func (s *SQLiteStore) AddMember(ctx context.Context, serverID, userID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO server_members (server_id, user_id) VALUES (?, ?)",
		serverID.String(), userID.String())
	if err != nil {
		return fmt.Errorf("adding member %s to server %s: %w", userID, serverID, err)
	}
	return nil
}
