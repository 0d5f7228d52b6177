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

package backend_test

import (
	"context"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/confplane/lib/backend"
	"github.com/gravitational/confplane/lib/backend/memory"
)

func newLockBackend(t *testing.T, clock clockwork.Clock) *memory.Memory {
	t.Helper()
	bk, err := memory.New(memory.Config{Clock: clock})
	require.NoError(t, err)
	t.Cleanup(func() { bk.Close() })
	return bk
}

func TestRunWhileLockedExcludes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bk := newLockBackend(t, clockwork.NewFakeClock())

	ran := false
	err := backend.RunWhileLocked(ctx, bk, "reaper", time.Minute, func(lockCtx context.Context) error {
		ran = true
		require.NoError(t, lockCtx.Err())

		// A contender must not get the lock while fn runs. The canceled
		// context turns the acquisition wait into an immediate error
		// instead of a steal.
		contended, cancel := context.WithCancel(ctx)
		cancel()
		_, err := backend.AcquireLock(contended, bk, "reaper", time.Minute)
		require.Error(t, err)
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)

	// The lock is released on return: the next run starts immediately.
	err = backend.RunWhileLocked(ctx, bk, "reaper", time.Minute, func(context.Context) error {
		return nil
	})
	require.NoError(t, err)
}

func TestRunWhileLockedPropagatesError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bk := newLockBackend(t, clockwork.NewFakeClock())

	err := backend.RunWhileLocked(ctx, bk, "pruner", time.Minute, func(context.Context) error {
		return trace.BadParameter("sweep failed")
	})
	require.True(t, trace.IsBadParameter(err))

	// A failed run still releases the lock.
	lock, err := backend.AcquireLock(ctx, bk, "pruner", time.Minute)
	require.NoError(t, err)
	require.NoError(t, lock.Release(ctx, bk))
}

func TestAcquireLockValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	bk := newLockBackend(t, clockwork.NewFakeClock())

	_, err := backend.AcquireLock(ctx, bk, "", time.Minute)
	require.True(t, trace.IsBadParameter(err))
}

func TestLockExpiryTakeover(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	bk := newLockBackend(t, clock)

	first, err := backend.AcquireLock(ctx, bk, "compensator", time.Minute)
	require.NoError(t, err)

	// The holder stalls past the TTL and another replica takes over.
	clock.Advance(2 * time.Minute)
	second, err := backend.AcquireLock(ctx, bk, "compensator", time.Minute)
	require.NoError(t, err)

	// The stale holder cannot release what it no longer owns.
	err = first.Release(ctx, bk)
	require.True(t, trace.IsCompareFailed(err))
	require.NoError(t, second.Release(ctx, bk))
}
