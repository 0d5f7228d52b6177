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

package retryutils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestLinearRetryProgression(t *testing.T) {
	t.Parallel()

	retry, err := NewLinear(LinearConfig{
		Step: time.Second,
		Max:  3 * time.Second,
	})
	require.NoError(t, err)

	require.Equal(t, time.Duration(0), retry.Duration())
	retry.Inc()
	require.Equal(t, time.Second, retry.Duration())
	retry.Inc()
	require.Equal(t, 2*time.Second, retry.Duration())
	retry.Inc()
	require.Equal(t, 3*time.Second, retry.Duration())

	// progression caps at Max
	retry.Inc()
	require.Equal(t, 3*time.Second, retry.Duration())

	retry.Reset()
	require.Equal(t, time.Duration(0), retry.Duration())
}

func TestLinearConfigValidation(t *testing.T) {
	t.Parallel()

	_, err := NewLinear(LinearConfig{Max: time.Second})
	require.True(t, trace.IsBadParameter(err))

	_, err = NewLinear(LinearConfig{Step: time.Second})
	require.True(t, trace.IsBadParameter(err))
}

func TestJitterRanges(t *testing.T) {
	t.Parallel()

	const d = time.Minute
	tests := []struct {
		name   string
		jitter Jitter
		min    time.Duration
	}{
		{name: "full", jitter: FullJitter, min: 0},
		{name: "half", jitter: HalfJitter, min: d / 2},
		{name: "seventh", jitter: SeventhJitter, min: 6 * d / 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, time.Duration(0), tt.jitter(0))
			for i := 0; i < 1000; i++ {
				v := tt.jitter(d)
				require.GreaterOrEqual(t, v, tt.min)
				require.Less(t, v, d)
			}
		})
	}
}

func TestLinearRetryFor(t *testing.T) {
	t.Parallel()

	retry, err := NewLinear(LinearConfig{
		Step: time.Millisecond,
		Max:  10 * time.Millisecond,
	})
	require.NoError(t, err)

	var attempts int
	err = retry.For(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient failure")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestLinearRetryForPermanentError(t *testing.T) {
	t.Parallel()

	retry, err := NewLinear(LinearConfig{
		Step: time.Millisecond,
		Max:  10 * time.Millisecond,
	})
	require.NoError(t, err)

	var attempts int
	err = retry.For(context.Background(), func() error {
		attempts++
		return PermanentRetryError(errors.New("broken"))
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestLinearRetryForCanceledContext(t *testing.T) {
	t.Parallel()

	retry, err := NewLinear(LinearConfig{
		First: time.Hour,
		Step:  time.Hour,
		Max:   2 * time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var attempts int
	err = retry.For(ctx, func() error {
		attempts++
		cancel()
		return errors.New("transient failure")
	})
	require.True(t, trace.IsLimitExceeded(err))
	require.Equal(t, 1, attempts)
}
