// RelayDesk - Multi-Tenant Customer Messaging Backend
// Copyright 2026 RelayDesk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/relaydesk/relaydesk

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/relaydesk/config.yaml",
	"/etc/relaydesk/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load loads configuration using koanf with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML config file (if exists)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// Environment variables, highest priority. JWT_SECRET -> security.jwt_secret
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths defines which config paths are parsed as comma-separated
// slices when supplied through the environment.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars arrive as strings; YAML values are already
// slices and are left alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps flat environment variable names to koanf paths.
//
// Examples:
//   - HTTP_PORT -> server.port
//   - JWT_SECRET -> security.jwt_secret
//   - NATS_URL -> nats.url
//   - AI_MODEL -> ai.model
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",

		"log_level":  "logging.level",
		"log_format": "logging.format",

		"jwt_secret":            "security.jwt_secret",
		"rate_limit_points":     "security.rate_limit_points",
		"rate_limit_window":     "security.rate_limit_window",
		"rate_limit_disabled":   "security.rate_limit_disabled",
		"cors_origins":          "security.cors_origins",
		"trust_service_headers": "security.trust_service_headers",

		"redis_addr":     "redis.addr",
		"redis_password": "redis.password",
		"redis_db":       "redis.db",

		"database_url":            "database.url",
		"database_max_open_conns": "database.max_open_conns",
		"database_max_idle_conns": "database.max_idle_conns",
		"database_conn_lifetime":  "database.conn_lifetime",

		"nats_url":              "nats.url",
		"nats_stream":           "nats.stream",
		"nats_subject":          "nats.subject",
		"nats_poison_subject":   "nats.poison_subject",
		"nats_durable_name":     "nats.durable_name",
		"nats_queue_group":      "nats.queue_group",
		"nats_max_deliver":      "nats.max_deliver",
		"nats_ack_wait":         "nats.ack_wait",
		"nats_max_ack_pending":  "nats.max_ack_pending",
		"nats_duplicate_window": "nats.duplicate_window",
		"nats_max_age":          "nats.max_age",
		"nats_max_reconnects":   "nats.max_reconnects",
		"nats_reconnect_wait":   "nats.reconnect_wait",
		"nats_close_timeout":    "nats.close_timeout",

		"channel_api_url":      "channel.api_url",
		"channel_api_token":    "channel.token",
		"channel_sender_id":    "channel.sender_id",
		"webhook_verify_token": "channel.verify_token",
		"webhook_app_secret":   "channel.app_secret",
		"channel_timeout":      "channel.timeout",

		"ai_enabled":     "ai.enabled",
		"ai_api_url":     "ai.api_url",
		"ai_api_token":   "ai.token",
		"ai_model":       "ai.model",
		"ai_temperature": "ai.temperature",
		"ai_max_tokens":  "ai.max_tokens",
		"ai_timeout":     "ai.timeout",

		"worker_concurrency": "worker.concurrency",

		"realtime_heartbeat_interval": "realtime.heartbeat_interval",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unknown variables are ignored rather than guessed at; a typo'd env
	// var should not silently create a config key.
	return ""
}
