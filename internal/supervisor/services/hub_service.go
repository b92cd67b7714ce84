// Concord - Real-Time Chat Service Backend
// Copyright 2026 Concord Maintainers
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/concord-chat/concord

package services

import (
	"context"
)

// ContextHub matches the hub's RunWithContext method without importing the
// hub package.
type ContextHub interface {
	RunWithContext(ctx context.Context) error
}

// HubService wraps the connection hub as a supervised service. The hub's
// RunWithContext already follows the suture.Service pattern, so this
// wrapper only adds a name for logging.
type HubService struct {
	hub  ContextHub
	name string
}

// NewHubService wraps a hub for supervision.
func NewHubService(hub ContextHub) *HubService {
	return &HubService{
		hub:  hub,
		name: "gateway-hub",
	}
}

// Serve implements suture.Service; returns ctx.Err() on normal shutdown.
func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.RunWithContext(ctx)
}

// String identifies the service in supervisor logs.
func (s *HubService) String() string {
	return s.name
}
