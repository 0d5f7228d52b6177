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

package config

import (
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/confplane/api/types"
	"github.com/gravitational/confplane/lib/service"
)

// CommandLineFlags are the flags of the confplaned daemon. Flags
// override the configuration file.
type CommandLineFlags struct {
	// ConfigFile is the path of the YAML configuration file.
	ConfigFile string
	// ListenAddr overrides the operational API listen address.
	ListenAddr string
	// LogLevel overrides the minimum log level.
	LogLevel string
	// LogFormat overrides the log output format.
	LogFormat string
	// ConfigSourceAddr overrides the configuration source address.
	ConfigSourceAddr string
	// IdentityProviderAddr overrides the identity provider address.
	IdentityProviderAddr string
}

// Configure assembles the process configuration from the configuration
// file and the command line.
func Configure(clf *CommandLineFlags, cfg *service.Config) error {
	fc, err := ReadConfigFile(clf.ConfigFile)
	if err != nil {
		return trace.Wrap(err)
	}
	if fc != nil {
		if err := ApplyFileConfig(fc, cfg); err != nil {
			return trace.Wrap(err)
		}
	}

	if clf.ListenAddr != "" {
		cfg.ListenAddr = clf.ListenAddr
	}
	if clf.LogLevel != "" {
		cfg.Log.Level = clf.LogLevel
	}
	if clf.LogFormat != "" {
		cfg.Log.Format = clf.LogFormat
	}
	if clf.ConfigSourceAddr != "" {
		cfg.ConfigSourceAddr = clf.ConfigSourceAddr
	}
	if clf.IdentityProviderAddr != "" {
		cfg.IdentityProviderAddr = clf.IdentityProviderAddr
	}
	return nil
}

// ApplyFileConfig applies the parsed configuration file onto the
// process configuration.
func ApplyFileConfig(fc *FileConfig, cfg *service.Config) error {
	global := fc.ConfPlane

	if global.ListenAddr != "" {
		cfg.ListenAddr = global.ListenAddr
	}
	if global.Log.Level != "" {
		cfg.Log.Level = global.Log.Level
	}
	if global.Log.Format != "" {
		cfg.Log.Format = global.Log.Format
	}
	if global.Storage.Type != "" {
		cfg.Storage.Type = global.Storage.Type
	}
	if global.Storage.ConnString != "" {
		cfg.Storage.ConnString = global.Storage.ConnString
	}
	cfg.Redis.Addr = global.Redis.Addr
	cfg.Redis.Password = global.Redis.Password
	cfg.Redis.DB = global.Redis.DB
	if global.ConfigSource.Addr != "" {
		cfg.ConfigSourceAddr = global.ConfigSource.Addr
	}
	if global.IdentityProvider.Addr != "" {
		cfg.IdentityProviderAddr = global.IdentityProvider.Addr
	}
	if len(global.InstanceTokens) != 0 {
		cfg.InstanceTokens = global.InstanceTokens
	}

	cfg.Ingest.AutoRegister = global.Ingest.AutoRegister
	cfg.Ingest.Concurrency = global.Ingest.Concurrency
	if err := applyDuration(global.Ingest.DedupWindow, &cfg.Ingest.DedupWindow); err != nil {
		return trace.Wrap(err, "ingest.dedup_window")
	}
	if global.Ingest.DefaultSeverity != "" {
		if err := cfg.Ingest.DefaultSeverity.Parse(global.Ingest.DefaultSeverity); err != nil {
			return trace.Wrap(err, "ingest.default_severity")
		}
	}
	if len(global.Ingest.Severities) != 0 {
		cfg.Ingest.Severities = make(map[string]types.DriftSeverity, len(global.Ingest.Severities))
		for env, val := range global.Ingest.Severities {
			var severity types.DriftSeverity
			if err := severity.Parse(val); err != nil {
				return trace.Wrap(err, "ingest.severities[%v]", env)
			}
			cfg.Ingest.Severities[env] = severity
		}
	}

	if err := applyDuration(global.Reap.StaleAfter, &cfg.Reap.StaleAfter); err != nil {
		return trace.Wrap(err, "reap.stale_after")
	}
	if err := applyDuration(global.Reap.DeleteAfter, &cfg.Reap.DeleteAfter); err != nil {
		return trace.Wrap(err, "reap.delete_after")
	}
	if err := applyDuration(global.Reap.Interval, &cfg.Reap.Interval); err != nil {
		return trace.Wrap(err, "reap.interval")
	}
	if err := applyDuration(global.PrewarmDelay, &cfg.PrewarmDelay); err != nil {
		return trace.Wrap(err, "prewarm_delay")
	}
	return nil
}

func applyDuration(val string, out *time.Duration) error {
	if val == "" {
		return nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return trace.BadParameter("invalid duration %q", val)
	}
	if d < 0 {
		return trace.BadParameter("duration %q must not be negative", val)
	}
	*out = d
	return nil
}
