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

// Package configsource adapts the upstream Configuration Source of
// Truth: expected hash lookups, effective configuration reads and the
// canonical hashing contract shared with the reporting instances.
package configsource

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/sony/gobreaker"

	"github.com/gravitational/confplane/api/types"
	"github.com/gravitational/confplane/lib/defaults"
	"github.com/gravitational/confplane/lib/utils"
)

// Client reads from the configuration source of truth.
type Client interface {
	// ExpectedHash returns the expected configuration hash of a
	// service in an environment.
	ExpectedHash(ctx context.Context, serviceID, environment string) (string, error)

	// EffectiveConfig returns the effective property map of a service
	// in an environment. Hashing it canonically must reproduce the
	// value ExpectedHash reports.
	EffectiveConfig(ctx context.Context, serviceID, environment string) (map[string]string, error)
}

// HTTPClientConfig configures the HTTP adapter.
type HTTPClientConfig struct {
	// Addr is the base URL of the source of truth.
	Addr string
	// Client overrides the HTTP client, used in tests.
	Client *http.Client
}

// CheckAndSetDefaults checks and sets default values.
func (c *HTTPClientConfig) CheckAndSetDefaults() error {
	if c.Addr == "" {
		return trace.BadParameter("missing parameter Addr")
	}
	if c.Client == nil {
		c.Client = &http.Client{Timeout: defaults.DefaultRequestTimeout}
	}
	return nil
}

// hashResponse is the source of truth hash endpoint payload.
type hashResponse struct {
	Hash string `json:"hash"`
}

// configResponse is the source of truth config endpoint payload.
type configResponse struct {
	Properties map[string]string `json:"properties"`
}

// HTTPClient talks to the source of truth over its JSON API, guarded
// by a circuit breaker so a hard outage fails fast instead of tying up
// ingest workers.
type HTTPClient struct {
	clt     *roundtrip.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPClient returns a new source of truth HTTP adapter.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	clt, err := roundtrip.NewClient(cfg.Addr, "v1", roundtrip.HTTPClient(cfg.Client))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &HTTPClient{
		clt: clt,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "csot",
			Timeout: defaults.BreakerRecoveryInterval,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= defaults.BreakerConsecutiveFailures
			},
			// A missing entry is an answer, not an outage.
			IsSuccessful: func(err error) bool {
				return err == nil || trace.IsNotFound(err)
			},
		}),
	}, nil
}

func (c *HTTPClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	out, err := c.breaker.Execute(func() (any, error) {
		re, err := c.clt.Get(ctx, endpoint, url.Values{})
		if err != nil {
			return nil, trace.ConnectionProblem(err, "source of truth is unreachable")
		}
		switch re.Code() {
		case http.StatusOK:
			return re.Bytes(), nil
		case http.StatusNotFound:
			// Not a dependency failure: the service simply has no
			// published configuration. Must not trip the breaker,
			// wrapped in a permanent error below.
			return nil, trace.NotFound("source of truth has no entry at %v", endpoint)
		default:
			return nil, trace.ConnectionProblem(nil, "source of truth returned status %v", re.Code())
		}
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return out.([]byte), nil
}

// ExpectedHash returns the expected configuration hash of a service in
// an environment.
func (c *HTTPClient) ExpectedHash(ctx context.Context, serviceID, environment string) (string, error) {
	data, err := c.get(ctx, c.clt.Endpoint("hash", serviceID, environment))
	if err != nil {
		return "", trace.Wrap(err)
	}
	var resp hashResponse
	if err := utils.FastUnmarshal(data, &resp); err != nil {
		return "", trace.Wrap(err)
	}
	if !types.IsConfigHash(resp.Hash) {
		return "", trace.BadParameter("source of truth returned a malformed hash %q for %s/%s", resp.Hash, serviceID, environment)
	}
	return resp.Hash, nil
}

// EffectiveConfig returns the effective property map of a service in an
// environment.
func (c *HTTPClient) EffectiveConfig(ctx context.Context, serviceID, environment string) (map[string]string, error) {
	data, err := c.get(ctx, c.clt.Endpoint("config", serviceID, environment))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var resp configResponse
	if err := utils.FastUnmarshal(data, &resp); err != nil {
		return nil, trace.Wrap(err)
	}
	return resp.Properties, nil
}
