/*
 * ConfPlane
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package service assembles the control plane process: storage,
// caches, messaging, domain services, background workers and the
// operational HTTP listener.
package service

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/confplane/api/types"
	"github.com/gravitational/confplane/lib/defaults"
)

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	// Type is the backend type, "memory" or "postgres".
	Type string
	// ConnString is the postgres connection string, required for the
	// postgres backend.
	ConnString string
}

// RedisConfig configures the optional distributed tier. When Addr is
// empty the process runs with local caches and in-process messaging
// only.
type RedisConfig struct {
	// Addr is the redis address, host:port.
	Addr string
	// Password authenticates to redis. Optional.
	Password string
	// DB selects the redis logical database.
	DB int
}

// Enabled reports whether the distributed tier is configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// IngestConfig tunes the heartbeat pipeline.
type IngestConfig struct {
	// AutoRegister creates an application service on the first
	// heartbeat of an unknown name instead of rejecting it.
	AutoRegister bool
	// DedupWindow collapses identical (instance, hash) heartbeats.
	DedupWindow time.Duration
	// Concurrency bounds the number of heartbeats in flight.
	Concurrency int
	// Severities maps environments to the drift severity assigned
	// there.
	Severities map[string]types.DriftSeverity
	// DefaultSeverity applies to unlisted environments.
	DefaultSeverity types.DriftSeverity
}

// ReapConfig tunes the stale instance reaper.
type ReapConfig struct {
	// StaleAfter is the age past which instances are marked unhealthy.
	StaleAfter time.Duration
	// DeleteAfter is the age past which instances are removed.
	DeleteAfter time.Duration
	// Interval is the sweep period.
	Interval time.Duration
}

// LogConfig configures process logging.
type LogConfig struct {
	// Level is the minimum level, one of debug, info, warn, error.
	Level string
	// Format is "text" or "json".
	Format string
}

// Config is the process configuration, assembled from the config file
// and command line flags.
type Config struct {
	// ListenAddr is the operational API listen address.
	ListenAddr string

	// Storage selects the backend.
	Storage StorageConfig

	// Redis enables the distributed cache tier and bus.
	Redis RedisConfig

	// ConfigSourceAddr is the base URL of the configuration source of
	// truth.
	ConfigSourceAddr string

	// IdentityProviderAddr is the base URL of the identity provider.
	IdentityProviderAddr string

	// InstanceTokens authenticate the heartbeat endpoint.
	InstanceTokens []string

	// Ingest tunes the heartbeat pipeline.
	Ingest IngestConfig

	// Reap tunes the stale instance reaper.
	Reap ReapConfig

	// PrewarmDelay postpones the expected-hash warm-up after startup.
	PrewarmDelay time.Duration

	// Log configures process logging.
	Log LogConfig

	// Clock overrides the clock in tests.
	Clock clockwork.Clock

	// Logger overrides the process logger built from Log.
	Logger *slog.Logger
}

// CheckAndSetDefaults checks and sets default values.
func (c *Config) CheckAndSetDefaults() error {
	if c.ListenAddr == "" {
		c.ListenAddr = fmt.Sprintf("%v:%v", defaults.BindIP, defaults.HTTPListenPort)
	}
	if c.Storage.Type == "" {
		c.Storage.Type = defaults.BackendType
	}
	switch c.Storage.Type {
	case "memory":
	case "postgres":
		if c.Storage.ConnString == "" {
			return trace.BadParameter("postgres storage requires a connection string")
		}
	default:
		return trace.BadParameter("unknown storage type %q, expected memory or postgres", c.Storage.Type)
	}
	if c.ConfigSourceAddr == "" {
		return trace.BadParameter("missing configuration source address")
	}
	if c.IdentityProviderAddr == "" {
		return trace.BadParameter("missing identity provider address")
	}
	if c.Reap.StaleAfter == 0 {
		c.Reap.StaleAfter = defaults.StaleThreshold()
	}
	if c.Reap.DeleteAfter == 0 {
		c.Reap.DeleteAfter = defaults.InstanceDeleteThreshold
	}
	if c.Reap.Interval == 0 {
		c.Reap.Interval = defaults.ReapInterval
	}
	if c.PrewarmDelay == 0 {
		c.PrewarmDelay = defaults.WarmupDelay
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// ParseLogLevel maps the configured level name onto slog.
func ParseLogLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, trace.BadParameter("unknown log level %q", level)
	}
}
