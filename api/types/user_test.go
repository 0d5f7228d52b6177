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

	"github.com/stretchr/testify/require"
)

func TestUserContext(t *testing.T) {
	t.Parallel()

	user := UserContext{
		UserID:  "u1",
		TeamIDs: []string{"team_core", "team_sre"},
		Roles:   []string{"auditor"},
	}

	require.True(t, user.MemberOf("team_core"))
	require.False(t, user.MemberOf("team_payments"))
	require.False(t, user.MemberOf(""))

	require.True(t, user.HasRole("auditor"))
	require.False(t, user.IsSysAdmin())

	user.Roles = append(user.Roles, RoleSysAdmin)
	require.True(t, user.IsSysAdmin())

	require.True(t, SystemUser("reaper").IsSysAdmin())
}

func TestAccessScopeAllows(t *testing.T) {
	t.Parallel()

	scope := AccessScope{
		TeamIDs: []string{"team_core"},
		SharedServices: map[string][]string{
			"svc_payments": {"dev"},
			"svc_billing":  {},
		},
	}

	// owned services are visible in all environments
	require.True(t, scope.Allows("svc_any", "team_core", "prod"))

	// shared services honor the environment restriction
	require.True(t, scope.Allows("svc_payments", "team_other", "dev"))
	require.False(t, scope.Allows("svc_payments", "team_other", "prod"))
	// service-level checks pass for environment-scoped shares
	require.True(t, scope.Allows("svc_payments", "team_other", ""))

	// shares without environment restriction cover everything
	require.True(t, scope.Allows("svc_billing", "team_other", "prod"))

	// no grant at all
	require.False(t, scope.Allows("svc_hidden", "team_other", "dev"))

	require.False(t, scope.Empty())
	require.True(t, AccessScope{}.Empty())
	require.True(t, AccessScope{All: true}.Allows("anything", "", ""))
}
