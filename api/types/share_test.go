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

	"github.com/stretchr/testify/require"
)

func TestShareGrants(t *testing.T) {
	t.Parallel()

	share := &ServiceShare{
		ID:          "share-1",
		ServiceID:   "svc_payments",
		GranteeType: GranteeTeam,
		GranteeID:   "team_sre",
		Permissions: []SharePermission{PermissionViewService, PermissionViewDrift},
	}
	require.NoError(t, share.CheckAndSetDefaults())

	require.True(t, share.Grants(PermissionViewService))
	require.True(t, share.Grants(PermissionViewDrift))
	require.False(t, share.Grants(PermissionEdit))

	// admin implies everything
	share.Permissions = []SharePermission{PermissionAdmin}
	require.True(t, share.Grants(PermissionEdit))
	require.True(t, share.Grants(PermissionViewInstance))
}

func TestShareExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	share := &ServiceShare{Expires: now.Add(time.Hour)}

	require.False(t, share.Expired(now))
	require.False(t, share.Expired(now.Add(time.Hour-time.Nanosecond)))
	require.True(t, share.Expired(now.Add(time.Hour)))

	// zero expiry never expires
	share.Expires = time.Time{}
	require.False(t, share.Expired(now.Add(24*365*time.Hour)))
}

func TestShareEnvironmentScope(t *testing.T) {
	t.Parallel()

	share := &ServiceShare{Environments: []string{"dev", "staging"}}

	require.True(t, share.AppliesTo("dev"))
	require.False(t, share.AppliesTo("prod"))
	// service-level checks ignore the environment filter
	require.True(t, share.AppliesTo(""))

	// unscoped shares cover all environments
	share.Environments = nil
	require.True(t, share.AppliesTo("prod"))
}

func TestShareValidation(t *testing.T) {
	t.Parallel()

	share := &ServiceShare{
		ID:          "share-1",
		ServiceID:   "svc_payments",
		GranteeType: GranteeUser,
		GranteeID:   "u1",
	}
	// no permissions granted
	require.Error(t, share.CheckAndSetDefaults())

	share.Permissions = []SharePermission{"superuser"}
	require.Error(t, share.CheckAndSetDefaults())

	share.Permissions = []SharePermission{PermissionViewService}
	require.NoError(t, share.CheckAndSetDefaults())
}
