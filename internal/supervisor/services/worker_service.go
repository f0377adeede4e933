// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

package services

import (
	"context"
)

// JobProcessor matches the reply worker pool's run loop. Satisfied by
// *worker.Pool.
type JobProcessor interface {
	Serve(ctx context.Context) error
}

// WorkerService wraps the reply worker pool as a supervised service. The
// pool subscribes on start, so a restart after a crash re-establishes the
// durable consumer and resumes from unacknowledged jobs.
type WorkerService struct {
	pool JobProcessor
	name string
}

// NewWorkerService creates the worker pool wrapper.
func NewWorkerService(pool JobProcessor) *WorkerService {
	return &WorkerService{
		pool: pool,
		name: "reply-worker",
	}
}

// Serve implements suture.Service.
func (s *WorkerService) Serve(ctx context.Context) error {
	return s.pool.Serve(ctx)
}

// String identifies the service in suture logs.
func (s *WorkerService) String() string {
	return s.name
}
