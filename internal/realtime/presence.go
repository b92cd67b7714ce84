// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

package realtime

import (
	"context"

	"github.com/google/uuid"

	"github.com/concord-chat/concord/internal/logging"
	"github.com/concord-chat/concord/internal/protocol"
)

// HandlePresenceUpdate mirrors a status change to the user's own
// connection set, so other devices of the same user stay in sync. Presence
// is fire-and-forget telemetry: an invalid status is dropped silently
// rather than answered with an error.
//
// Fan-out is scoped to the acting user's connections only, never to other
// members sharing a server.
func (o *Orchestrator) HandlePresenceUpdate(ctx context.Context, userID uuid.UUID, status string) error {
	if !protocol.ValidStatus(status) {
		logging.Ctx(ctx).Debug().
			Str("status", status).
			Msg("dropping presence update with invalid status")
		return nil
	}

	_, err := o.hub.SendToUser(userID, protocol.PresenceUpdate{
		UserID: userID,
		Status: status,
	})
	return err
}

// HandleUserOnline emits the online transition at IDENTIFY success.
func (o *Orchestrator) HandleUserOnline(ctx context.Context, userID uuid.UUID) error {
	return o.HandlePresenceUpdate(ctx, userID, protocol.StatusOnline)
}

// HandleUserOffline emits the offline transition at connection teardown.
func (o *Orchestrator) HandleUserOffline(ctx context.Context, userID uuid.UUID) error {
	return o.HandlePresenceUpdate(ctx, userID, protocol.StatusOffline)
}
