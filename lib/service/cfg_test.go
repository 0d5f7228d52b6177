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

package service

import (
	"log/slog"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/confplane/lib/defaults"
)

func minimalConfig() Config {
	return Config{
		ConfigSourceAddr:     "http://csot.internal:8080",
		IdentityProviderAddr: "http://idp.internal:8080",
	}
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := minimalConfig()
	require.NoError(t, cfg.CheckAndSetDefaults())

	require.Equal(t, "0.0.0.0:3580", cfg.ListenAddr)
	require.Equal(t, "memory", cfg.Storage.Type)
	require.False(t, cfg.Redis.Enabled())
	require.Equal(t, defaults.StaleThreshold(), cfg.Reap.StaleAfter)
	require.Equal(t, defaults.InstanceDeleteThreshold, cfg.Reap.DeleteAfter)
	require.Equal(t, defaults.ReapInterval, cfg.Reap.Interval)
	require.Equal(t, defaults.WarmupDelay, cfg.PrewarmDelay)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "text", cfg.Log.Format)
	require.NotNil(t, cfg.Clock)
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	cfg := minimalConfig()
	cfg.ConfigSourceAddr = ""
	require.True(t, trace.IsBadParameter(cfg.CheckAndSetDefaults()))

	cfg = minimalConfig()
	cfg.IdentityProviderAddr = ""
	require.True(t, trace.IsBadParameter(cfg.CheckAndSetDefaults()))

	cfg = minimalConfig()
	cfg.Storage.Type = "postgres"
	require.True(t, trace.IsBadParameter(cfg.CheckAndSetDefaults()))
	cfg.Storage.ConnString = "postgres://confplane@db/confplane"
	require.NoError(t, cfg.CheckAndSetDefaults())

	cfg = minimalConfig()
	cfg.Storage.Type = "etcd"
	require.True(t, trace.IsBadParameter(cfg.CheckAndSetDefaults()))
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	level, err := ParseLogLevel("debug")
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)

	level, err = ParseLogLevel("warning")
	require.NoError(t, err)
	require.Equal(t, slog.LevelWarn, level)

	_, err = ParseLogLevel("loud")
	require.True(t, trace.IsBadParameter(err))
}
