// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const (
	// requestIDKey is the context key for HTTP request IDs.
	requestIDKey contextKey = "request_id"

	// connectionIDKey is the context key for gateway connection IDs.
	connectionIDKey contextKey = "connection_id"
)

// GenerateRequestID creates a new unique request ID.
func GenerateRequestID() string {
	return uuid.New().String()
}

// ContextWithRequestID returns a new context with the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ContextWithConnectionID returns a new context carrying a gateway connection ID.
// Session loops use this so every log line of a connection is correlatable.
func ContextWithConnectionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connectionIDKey, id)
}

// ConnectionIDFromContext retrieves the connection ID from context.
// Returns empty string if not present.
func ConnectionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(connectionIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx returns a logger with context values (request_id, connection_id)
// automatically added. This is the recommended way to log inside handlers
// and session loops.
//
//	logging.Ctx(ctx).Info().Msg("frame dispatched")
func Ctx(ctx context.Context) *zerolog.Logger {
	contextLogger := Logger()

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		contextLogger = contextLogger.With().Str("request_id", requestID).Logger()
	}
	if connID := ConnectionIDFromContext(ctx); connID != "" {
		contextLogger = contextLogger.With().Str("connection_id", connID).Logger()
	}

	return &contextLogger
}
