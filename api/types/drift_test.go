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

package types

import (
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func newDriftEvent(t *testing.T) *DriftEvent {
	t.Helper()
	event := &DriftEvent{
		ID:           "event-1",
		ServiceID:    "svc_payments",
		InstanceID:   "i-1",
		Environment:  "dev",
		ExpectedHash: "aaaa",
		AppliedHash:  "bbbb",
		Severity:     SeverityMedium,
		Status:       DriftStatusDetected,
		DetectedAt:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		DetectedBy:   "system",
	}
	require.NoError(t, event.CheckAndSetDefaults())
	return event
}

func TestDriftTransitions(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC)

	t.Run("detected resolves directly", func(t *testing.T) {
		event := newDriftEvent(t)
		require.NoError(t, event.Transition(DriftStatusResolved, "system", now))
		require.Equal(t, DriftStatusResolved, event.Status)
		require.Equal(t, now, event.ResolvedAt)
		require.Equal(t, "system", event.ResolvedBy)
	})

	t.Run("full lifecycle", func(t *testing.T) {
		event := newDriftEvent(t)
		require.NoError(t, event.Transition(DriftStatusAcknowledged, "u1", now))
		require.NoError(t, event.Transition(DriftStatusResolving, "u1", now))
		require.NoError(t, event.Transition(DriftStatusResolved, "u1", now))
		require.True(t, event.Status.IsTerminal())
	})

	t.Run("terminal events reject transitions", func(t *testing.T) {
		event := newDriftEvent(t)
		require.NoError(t, event.Transition(DriftStatusIgnored, "u1", now))
		err := event.Transition(DriftStatusResolved, "u1", now)
		require.True(t, trace.IsCompareFailed(err))
	})

	t.Run("no backwards transition", func(t *testing.T) {
		event := newDriftEvent(t)
		require.NoError(t, event.Transition(DriftStatusResolving, "u1", now))
		err := event.Transition(DriftStatusAcknowledged, "u1", now)
		require.True(t, trace.IsBadParameter(err))
	})

	t.Run("ignored leaves resolution fields empty", func(t *testing.T) {
		event := newDriftEvent(t)
		require.NoError(t, event.Transition(DriftStatusIgnored, "u1", now))
		require.True(t, event.ResolvedAt.IsZero())
		require.Empty(t, event.ResolvedBy)
	})
}

func TestDriftEventValidation(t *testing.T) {
	t.Parallel()

	event := newDriftEvent(t)

	// resolution timestamp must agree with the status
	event.ResolvedAt = time.Now()
	require.Error(t, event.CheckAndSetDefaults())

	event.Status = DriftStatusResolved
	require.NoError(t, event.CheckAndSetDefaults())
}

func TestDriftEventFilter(t *testing.T) {
	t.Parallel()

	event := newDriftEvent(t)

	filter := DriftEventFilter{ServiceID: "svc_payments", NonTerminal: true}
	require.True(t, filter.Match(event))

	require.NoError(t, event.Transition(DriftStatusResolved, "system", time.Now()))
	require.False(t, filter.Match(event))

	// round-trip through the map encoding
	m := filter.IntoMap()
	var decoded DriftEventFilter
	require.NoError(t, decoded.FromMap(m))
	require.Equal(t, filter, decoded)
}
