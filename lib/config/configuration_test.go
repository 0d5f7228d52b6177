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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/confplane/api/types"
	"github.com/gravitational/confplane/lib/service"
)

const sampleConfig = `
confplane:
  listen_addr: 127.0.0.1:4580
  log:
    level: debug
    format: json
  storage:
    type: postgres
    conn_string: postgres://confplane@db/confplane
  redis:
    addr: redis:6379
    db: 2
  config_source:
    addr: http://csot.internal:8080
  identity_provider:
    addr: http://idp.internal:8080
  instance_tokens:
    - token-one
    - token-two
  ingest:
    auto_register_on_first_heartbeat: true
    dedup_window: 10s
    concurrency: 64
    default_severity: low
    severities:
      prod: critical
      staging: high
  reap:
    stale_after: 2m
    delete_after: 30m
    interval: 45s
  prewarm_delay: 5s
`

func TestReadConfig(t *testing.T) {
	t.Parallel()

	fc, err := ReadConfig(strings.NewReader(sampleConfig))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:4580", fc.ConfPlane.ListenAddr)
	require.Equal(t, "postgres", fc.ConfPlane.Storage.Type)
	require.Equal(t, []string{"token-one", "token-two"}, fc.ConfPlane.InstanceTokens)

	// Unknown keys are rejected, they are usually typos.
	_, err = ReadConfig(strings.NewReader("confplane:\n  listne_addr: oops\n"))
	require.True(t, trace.IsBadParameter(err))
}

func TestApplyFileConfig(t *testing.T) {
	t.Parallel()

	fc, err := ReadConfig(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	var cfg service.Config
	require.NoError(t, ApplyFileConfig(fc, &cfg))
	require.NoError(t, cfg.CheckAndSetDefaults())

	require.Equal(t, "127.0.0.1:4580", cfg.ListenAddr)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, "postgres", cfg.Storage.Type)
	require.Equal(t, "redis:6379", cfg.Redis.Addr)
	require.True(t, cfg.Redis.Enabled())
	require.Equal(t, 2, cfg.Redis.DB)
	require.Equal(t, "http://csot.internal:8080", cfg.ConfigSourceAddr)
	require.True(t, cfg.Ingest.AutoRegister)
	require.Equal(t, 10*time.Second, cfg.Ingest.DedupWindow)
	require.Equal(t, 64, cfg.Ingest.Concurrency)
	require.Equal(t, types.SeverityLow, cfg.Ingest.DefaultSeverity)
	require.Equal(t, types.SeverityCritical, cfg.Ingest.Severities["prod"])
	require.Equal(t, types.SeverityHigh, cfg.Ingest.Severities["staging"])
	require.Equal(t, 2*time.Minute, cfg.Reap.StaleAfter)
	require.Equal(t, 30*time.Minute, cfg.Reap.DeleteAfter)
	require.Equal(t, 45*time.Second, cfg.Reap.Interval)
	require.Equal(t, 5*time.Second, cfg.PrewarmDelay)
}

func TestApplyFileConfigInvalid(t *testing.T) {
	t.Parallel()

	fc := &FileConfig{}
	fc.ConfPlane.Ingest.DedupWindow = "not-a-duration"
	var cfg service.Config
	require.True(t, trace.IsBadParameter(ApplyFileConfig(fc, &cfg)))

	fc = &FileConfig{}
	fc.ConfPlane.Ingest.DefaultSeverity = "catastrophic"
	require.True(t, trace.IsBadParameter(ApplyFileConfig(fc, &cfg)))

	fc = &FileConfig{}
	fc.ConfPlane.Reap.StaleAfter = "-5s"
	require.True(t, trace.IsBadParameter(ApplyFileConfig(fc, &cfg)))
}

func TestConfigureFlagsOverrideFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "confplane.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg := service.Config{}
	err := Configure(&CommandLineFlags{
		ConfigFile: path,
		ListenAddr: "127.0.0.1:9999",
		LogLevel:   "warn",
	}, &cfg)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9999", cfg.ListenAddr)
	require.Equal(t, "warn", cfg.Log.Level)
	// Untouched values still come from the file.
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, "http://idp.internal:8080", cfg.IdentityProviderAddr)

	// A missing file path is not an error, the file is optional.
	cfg = service.Config{}
	require.NoError(t, Configure(&CommandLineFlags{ConfigSourceAddr: "http://csot"}, &cfg))
	require.Equal(t, "http://csot", cfg.ConfigSourceAddr)
}
