// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/concord-chat/concord/internal/realtime"
)

// ErrUserNotFound is returned when a token is valid but its subject no
// longer exists in the user directory.
var ErrUserNotFound = errors.New("user not found")

// UserDirectory resolves a user id to its current username. The found flag
// distinguishes a missing user from a lookup failure.
type UserDirectory interface {
	FindUser(ctx context.Context, userID uuid.UUID) (username string, found bool, err error)
}

// Verifier implements the gateway's auth collaborator: it validates the
// IDENTIFY token and confirms the subject still exists, returning the
// identity used for the rest of the connection's lifetime.
type Verifier struct {
	tokens *JWTManager
	users  UserDirectory
}

// NewVerifier creates a verifier backed by the token manager and directory.
func NewVerifier(tokens *JWTManager, users UserDirectory) *Verifier {
	return &Verifier{tokens: tokens, users: users}
}

// Verify implements realtime.AuthVerifier.
//
// The username in the returned identity always comes from the directory,
// not the token, so renames take effect on the next connection.
func (v *Verifier) Verify(ctx context.Context, token string) (realtime.Identity, error) {
	userID, _, err := v.tokens.ValidateToken(token)
	if err != nil {
		return realtime.Identity{}, err
	}

	username, found, err := v.users.FindUser(ctx, userID)
	if err != nil {
		return realtime.Identity{}, fmt.Errorf("looking up user %s: %w", userID, err)
	}
	if !found {
		return realtime.Identity{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}

	return realtime.Identity{UserID: userID, Username: username}, nil
}
