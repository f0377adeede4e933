// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

package services

import (
	"context"
)

// ContextRunner matches any component whose run loop takes a context and
// returns on cancellation. Satisfied by *realtime.Hub.
type ContextRunner interface {
	RunWithContext(ctx context.Context) error
}

// HubService wraps the realtime hub as a supervised service. The hub's
// RunWithContext already follows the suture.Service pattern; this wrapper
// only supplies the name.
type HubService struct {
	hub  ContextRunner
	name string
}

// NewHubService creates the hub wrapper.
func NewHubService(hub ContextRunner) *HubService {
	return &HubService{
		hub:  hub,
		name: "realtime-hub",
	}
}

// Serve implements suture.Service. On cancellation the hub sends every
// connection a reconnect notice before closing it, then returns ctx.Err().
func (s *HubService) Serve(ctx context.Context) error {
	return s.hub.RunWithContext(ctx)
}

// String identifies the service in suture logs.
func (s *HubService) String() string {
	return s.name
}
