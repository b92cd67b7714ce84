// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

package realtime

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/concord-chat/concord/internal/logging"
	"github.com/concord-chat/concord/internal/metrics"
	"github.com/concord-chat/concord/internal/protocol"
)

// HandleSendMessage validates, persists, and broadcasts a chat message.
//
// Content is rejected locally when empty (after trimming) or longer than
// the configured maximum in characters. Channel existence and caller
// membership are confirmed through the membership oracle before the store
// is touched. The broadcast MESSAGE_CREATE is built from the store's
// canonical record so its id and timestamp match what was persisted.
func (o *Orchestrator) HandleSendMessage(ctx context.Context, identity Identity, channelID uuid.UUID, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > o.maxContent {
		return ErrContentTooLong
	}

	serverID, err := o.membership.ChannelServer(ctx, channelID)
	if err != nil {
		return fmt.Errorf("resolving channel %s: %w", channelID, err)
	}

	member, err := o.membership.IsMember(ctx, channelID, identity.UserID)
	if err != nil {
		return fmt.Errorf("membership check for %s: %w", identity.UserID, err)
	}
	if !member {
		return ErrNotMember
	}

	msg, err := o.store.Persist(ctx, channelID, identity.UserID, identity.Username, content)
	if err != nil {
		metrics.StoreFailures.Inc()
		return fmt.Errorf("persisting message: %w", err)
	}

	delivered, err := o.hub.BroadcastToChannel(channelID, protocol.MessageCreate{
		ID:        msg.ID,
		ChannelID: msg.ChannelID,
		ServerID:  serverID,
		AuthorID:  msg.AuthorID,
		Username:  msg.Username,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("broadcasting message %s: %w", msg.ID, err)
	}

	logging.Ctx(ctx).Debug().
		Str("message_id", msg.ID.String()).
		Str("channel_id", channelID.String()).
		Int("delivered", delivered).
		Msg("message broadcast")
	return nil
}
