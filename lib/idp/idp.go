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

// Package idp adapts the external identity provider. The provider
// remains the source of truth for users and teams; the control plane
// reads projections for access control and caches them for degraded
// mode.
package idp

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

// Provider reads identity projections.
type Provider interface {
	// User returns one user projection.
	User(ctx context.Context, userID string) (*types.IamUser, error)

	// Team returns one team projection.
	Team(ctx context.Context, teamID string) (*types.IamTeam, error)

	// TeamMembers returns the user IDs belonging to a team.
	TeamMembers(ctx context.Context, teamID string) ([]string, error)
}

// HTTPClientConfig configures the identity provider HTTP adapter.
type HTTPClientConfig struct {
	// Addr is the base URL of the identity provider.
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

// HTTPClient reads identity projections over the provider's JSON API,
// guarded by a circuit breaker.
type HTTPClient struct {
	clt     *roundtrip.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPClient returns a new identity provider HTTP adapter.
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
			Name:    "idp",
			Timeout: defaults.BreakerRecoveryInterval,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= defaults.BreakerConsecutiveFailures
			},
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
			return nil, trace.ConnectionProblem(err, "identity provider is unreachable")
		}
		switch re.Code() {
		case http.StatusOK:
			return re.Bytes(), nil
		case http.StatusNotFound:
			return nil, trace.NotFound("identity provider has no entry at %v", endpoint)
		default:
			return nil, trace.ConnectionProblem(nil, "identity provider returned status %v", re.Code())
		}
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return out.([]byte), nil
}

// User returns one user projection.
func (c *HTTPClient) User(ctx context.Context, userID string) (*types.IamUser, error) {
	data, err := c.get(ctx, c.clt.Endpoint("users", userID))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var user types.IamUser
	if err := utils.FastUnmarshal(data, &user); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := user.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &user, nil
}

// Team returns one team projection.
func (c *HTTPClient) Team(ctx context.Context, teamID string) (*types.IamTeam, error) {
	data, err := c.get(ctx, c.clt.Endpoint("teams", teamID))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var team types.IamTeam
	if err := utils.FastUnmarshal(data, &team); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := team.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &team, nil
}

// TeamMembers returns the user IDs belonging to a team.
func (c *HTTPClient) TeamMembers(ctx context.Context, teamID string) ([]string, error) {
	team, err := c.Team(ctx, teamID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return team.MemberIDs, nil
}
