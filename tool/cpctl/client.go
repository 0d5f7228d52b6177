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

package main

import (
	"context"
	"net/http"
	"net/url"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"

	"github.com/gravitational/confplane/lib/defaults"
	"github.com/gravitational/confplane/lib/utils"
)

// apiClient wraps the operational API of a running confplaned.
type apiClient struct {
	clt *roundtrip.Client
}

func newAPIClient(ccf *cliFlags) (*apiClient, error) {
	opts := []roundtrip.ClientParam{
		roundtrip.HTTPClient(&http.Client{Timeout: defaults.DefaultRequestTimeout}),
	}
	if ccf.authToken != "" {
		opts = append(opts, roundtrip.BearerAuth(ccf.authToken))
	}
	clt, err := roundtrip.NewClient(ccf.addr, "v1", opts...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &apiClient{clt: clt}, nil
}

// get fetches an endpoint and decodes the JSON payload into out.
func (c *apiClient) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	re, err := c.convert(c.clt.Get(ctx, endpoint, params))
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(utils.FastUnmarshal(re.Bytes(), out))
}

// post sends a JSON payload and decodes the response into out when out
// is not nil.
func (c *apiClient) post(ctx context.Context, endpoint string, payload, out any) error {
	re, err := c.convert(c.clt.PostJSON(ctx, endpoint, payload))
	if err != nil {
		return trace.Wrap(err)
	}
	if out == nil {
		return nil
	}
	return trace.Wrap(utils.FastUnmarshal(re.Bytes(), out))
}

// convert turns non-2xx replies into typed errors using the uniform
// error payload of the API.
func (c *apiClient) convert(re *roundtrip.Response, err error) (*roundtrip.Response, error) {
	if err != nil {
		return nil, trace.ConnectionProblem(err, "control plane is unreachable")
	}
	if re.Code() < 200 || re.Code() > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		message := "control plane returned status " + http.StatusText(re.Code())
		if utils.FastUnmarshal(re.Bytes(), &payload) == nil && payload.Error != "" {
			message = payload.Error
		}
		switch re.Code() {
		case http.StatusBadRequest:
			return nil, trace.BadParameter("%s", message)
		case http.StatusForbidden, http.StatusUnauthorized:
			return nil, trace.AccessDenied("%s", message)
		case http.StatusNotFound:
			return nil, trace.NotFound("%s", message)
		case http.StatusConflict:
			return nil, trace.AlreadyExists("%s", message)
		case http.StatusTooManyRequests:
			return nil, trace.LimitExceeded("%s", message)
		default:
			return nil, trace.BadParameter("%s", message)
		}
	}
	return re, nil
}

// endpoint builds a versioned API endpoint URL.
func (c *apiClient) endpoint(params ...string) string {
	return c.clt.Endpoint(params...)
}
