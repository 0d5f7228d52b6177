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

package web

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/julienschmidt/httprouter"

	"github.com/gravitational/confplane/api/types"
	"github.com/gravitational/confplane/lib/defaults"
	"github.com/gravitational/confplane/lib/utils"
)

// DeadlineHeader carries an explicit request deadline as an RFC 3339
// timestamp. Requests without it get the default request timeout.
const DeadlineHeader = "X-Confplane-Deadline"

// maxRequestBody bounds request payloads read into memory.
const maxRequestBody = 1 << 20

// handlerFunc is an HTTP handler that returns a JSON-serializable body
// or an error mapped onto a status code by replyError.
type handlerFunc func(w http.ResponseWriter, r *http.Request, p httprouter.Params) (any, error)

// makeHandler wraps a handlerFunc with deadline propagation and the
// error-to-status mapping.
func makeHandler(fn handlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		ctx, cancel := requestContext(r)
		defer cancel()

		out, err := fn(w, r.WithContext(ctx), p)
		if err != nil {
			replyError(w, err)
			return
		}
		if out == nil {
			out = struct{}{}
		}
		roundtrip.ReplyJSON(w, http.StatusOK, out)
	}
}

// requestContext applies the caller-supplied deadline, falling back to
// the default request timeout.
func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if raw := r.Header.Get(DeadlineHeader); raw != "" {
		if deadline, err := time.Parse(time.RFC3339, raw); err == nil {
			return context.WithDeadline(r.Context(), deadline)
		}
	}
	return context.WithTimeout(r.Context(), defaults.DefaultDeadline)
}

// readJSON decodes the request body into val.
func readJSON(r *http.Request, val any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return trace.ConvertSystemError(err)
	}
	if err := utils.FastUnmarshal(data, val); err != nil {
		return trace.BadParameter("failed to parse request body: %v", err)
	}
	return nil
}

// errorResponse is the uniform error payload of the API.
type errorResponse struct {
	Error string `json:"error"`
}

// replyError maps typed errors onto HTTP status codes and writes the
// error payload.
func replyError(w http.ResponseWriter, err error) {
	var code int
	switch {
	case trace.IsBadParameter(err):
		code = http.StatusBadRequest
	case trace.IsAccessDenied(err):
		code = http.StatusForbidden
	case trace.IsNotFound(err):
		code = http.StatusNotFound
	case trace.IsAlreadyExists(err), trace.IsCompareFailed(err):
		code = http.StatusConflict
	case trace.IsLimitExceeded(err):
		code = http.StatusTooManyRequests
	case trace.IsConnectionProblem(err):
		code = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	default:
		code = http.StatusInternalServerError
	}
	roundtrip.ReplyJSON(w, code, errorResponse{Error: trace.UserMessage(err)})
}

// statusResponse acknowledges operations without a resource body.
type statusResponse struct {
	Status string `json:"status"`
}

func ok() statusResponse {
	return statusResponse{Status: "ok"}
}

// userParam extracts the authenticated caller stashed by the auth
// middleware.
type contextKey string

const userContextKey contextKey = "confplane.user"

func callerFrom(r *http.Request) (types.UserContext, error) {
	user, uok := r.Context().Value(userContextKey).(types.UserContext)
	if !uok {
		return types.UserContext{}, trace.AccessDenied("request is not authenticated")
	}
	return user, nil
}
