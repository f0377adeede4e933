// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

package config

import (
	"fmt"
	"strings"
)

// Validate checks that required configuration is present and valid.
// A validation failure is a Fatal-class error: the process refuses to serve
// rather than run half-configured.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateNATS(); err != nil {
		return err
	}
	if err := c.validateChannel(); err != nil {
		return err
	}
	if err := c.validateAI(); err != nil {
		return err
	}
	return c.validateWorker()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters, got %d", len(c.Security.JWTSecret))
	}
	if !c.Security.RateLimitDisabled {
		if c.Security.RateLimitPoints <= 0 {
			return fmt.Errorf("RATE_LIMIT_POINTS must be positive, got %d", c.Security.RateLimitPoints)
		}
		if c.Security.RateLimitWindow <= 0 {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
		}
	}
	for _, origin := range c.Security.CORSOrigins {
		if origin == "*" && len(c.Security.CORSOrigins) > 1 {
			return fmt.Errorf("CORS_ORIGINS must not mix wildcard with explicit origins")
		}
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if !strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
		return fmt.Errorf("DATABASE_URL must be a postgres:// DSN")
	}
	return nil
}

func (c *Config) validateNATS() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("NATS_URL is required")
	}
	if c.NATS.Stream == "" {
		return fmt.Errorf("NATS_STREAM is required")
	}
	if c.NATS.Subject == "" {
		return fmt.Errorf("NATS_SUBJECT is required")
	}
	if c.NATS.MaxDeliver < 1 {
		return fmt.Errorf("NATS_MAX_DELIVER must be at least 1, got %d", c.NATS.MaxDeliver)
	}
	if c.NATS.AckWait <= 0 {
		return fmt.Errorf("NATS_ACK_WAIT must be positive")
	}
	return nil
}

func (c *Config) validateChannel() error {
	if c.Channel.VerifyToken == "" {
		return fmt.Errorf("WEBHOOK_VERIFY_TOKEN is required")
	}
	if c.Channel.AppSecret == "" {
		return fmt.Errorf("WEBHOOK_APP_SECRET is required")
	}
	if c.Channel.Token == "" {
		return fmt.Errorf("CHANNEL_API_TOKEN is required")
	}
	if c.Channel.SenderID == "" {
		return fmt.Errorf("CHANNEL_SENDER_ID is required")
	}
	return nil
}

func (c *Config) validateAI() error {
	if !c.AI.Enabled {
		return nil
	}
	if c.AI.Token == "" {
		return fmt.Errorf("AI_API_TOKEN is required when AI_ENABLED=true")
	}
	if c.AI.Model == "" {
		return fmt.Errorf("AI_MODEL is required when AI_ENABLED=true")
	}
	if c.AI.MaxTokens <= 0 {
		return fmt.Errorf("AI_MAX_TOKENS must be positive, got %d", c.AI.MaxTokens)
	}
	if c.AI.Timeout <= 0 {
		return fmt.Errorf("AI_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) validateWorker() error {
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Realtime.HeartbeatInterval <= 0 {
		return fmt.Errorf("REALTIME_HEARTBEAT_INTERVAL must be positive")
	}
	return nil
}
