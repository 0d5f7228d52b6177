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

// Package config reads the YAML configuration file and applies it,
// together with command line flags, onto the process configuration.
package config

import (
	"io"
	"os"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v2"
)

// FileConfig is the YAML configuration file, usually
// /etc/confplane.yaml.
type FileConfig struct {
	ConfPlane Global `yaml:"confplane"`
}

// Global holds the top-level confplane section.
type Global struct {
	// ListenAddr is the operational API listen address, host:port.
	ListenAddr string `yaml:"listen_addr,omitempty"`
	// Log configures process logging.
	Log Log `yaml:"log,omitempty"`
	// Storage selects the backend.
	Storage Storage `yaml:"storage,omitempty"`
	// Redis enables the distributed cache tier and bus.
	Redis Redis `yaml:"redis,omitempty"`
	// ConfigSource points at the configuration source of truth.
	ConfigSource Endpoint `yaml:"config_source,omitempty"`
	// IdentityProvider points at the identity provider.
	IdentityProvider Endpoint `yaml:"identity_provider,omitempty"`
	// InstanceTokens authenticate the heartbeat endpoint.
	InstanceTokens []string `yaml:"instance_tokens,omitempty"`
	// Ingest tunes the heartbeat pipeline.
	Ingest Ingest `yaml:"ingest,omitempty"`
	// Reap tunes the stale instance reaper.
	Reap Reap `yaml:"reap,omitempty"`
	// PrewarmDelay postpones the expected-hash warm-up after startup.
	PrewarmDelay string `yaml:"prewarm_delay,omitempty"`
}

// Log is the logging section.
type Log struct {
	// Level is the minimum level, one of debug, info, warn, error.
	Level string `yaml:"level,omitempty"`
	// Format is "text" or "json".
	Format string `yaml:"format,omitempty"`
}

// Storage is the backend section.
type Storage struct {
	// Type is "memory" or "postgres".
	Type string `yaml:"type,omitempty"`
	// ConnString is the postgres connection string.
	ConnString string `yaml:"conn_string,omitempty"`
}

// Redis is the distributed tier section.
type Redis struct {
	// Addr is the redis address, host:port. Empty disables the tier.
	Addr string `yaml:"addr,omitempty"`
	// Password authenticates to redis.
	Password string `yaml:"password,omitempty"`
	// DB selects the redis logical database.
	DB int `yaml:"db,omitempty"`
}

// Endpoint points at an external HTTP dependency.
type Endpoint struct {
	// Addr is the base URL.
	Addr string `yaml:"addr,omitempty"`
}

// Ingest is the heartbeat pipeline section.
type Ingest struct {
	// AutoRegister creates an application service on the first
	// heartbeat of an unknown name instead of rejecting it.
	AutoRegister bool `yaml:"auto_register_on_first_heartbeat,omitempty"`
	// DedupWindow collapses identical heartbeats, e.g. "5s".
	DedupWindow string `yaml:"dedup_window,omitempty"`
	// Concurrency bounds the number of heartbeats in flight.
	Concurrency int `yaml:"concurrency,omitempty"`
	// DefaultSeverity is the drift severity of unlisted environments.
	DefaultSeverity string `yaml:"default_severity,omitempty"`
	// Severities maps environments to drift severities.
	Severities map[string]string `yaml:"severities,omitempty"`
}

// Reap is the stale instance reaper section.
type Reap struct {
	// StaleAfter is the age past which instances are marked
	// unhealthy, e.g. "90s".
	StaleAfter string `yaml:"stale_after,omitempty"`
	// DeleteAfter is the age past which instances are removed.
	DeleteAfter string `yaml:"delete_after,omitempty"`
	// Interval is the sweep period.
	Interval string `yaml:"interval,omitempty"`
}

// ReadConfigFile reads and parses the configuration file. A missing
// path returns nil so callers can treat the file as optional.
func ReadConfigFile(path string) (*FileConfig, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	defer f.Close()
	fc, err := ReadConfig(f)
	return fc, trace.Wrap(err)
}

// ReadConfig parses the YAML configuration from a reader.
func ReadConfig(reader io.Reader) (*FileConfig, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, trace.Wrap(err, "failed to read configuration")
	}
	var fc FileConfig
	if err := yaml.UnmarshalStrict(data, &fc); err != nil {
		return nil, trace.BadParameter("failed to parse configuration: %v", err)
	}
	return &fc, nil
}
