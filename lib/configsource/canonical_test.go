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

package configsource

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gravitational/confplane/api/types"
)

func TestCanonicalForm(t *testing.T) {
	t.Parallel()

	got := Canonical("svc_payments", "prod", "main", "42", map[string]string{
		"b.key": "2",
		"a.key": "1",
	})
	require.Equal(t, "svc_payments|prod|main|42\na.key=1\nb.key=2", string(got))
}

func TestCanonicalNoTrailingNewline(t *testing.T) {
	t.Parallel()

	got := Canonical("app", "dev", "", "", nil)
	require.Equal(t, "app|dev||", string(got))
}

func TestHashIgnoresKeyOrder(t *testing.T) {
	t.Parallel()

	props := map[string]string{
		"server.port":       "8080",
		"db.url":            "jdbc:postgresql://db/x",
		"feature.flags.abc": "on",
	}
	// Maps iterate in randomized order already; building a second map
	// in reverse insertion order makes the property explicit.
	shuffled := map[string]string{}
	shuffled["feature.flags.abc"] = "on"
	shuffled["db.url"] = "jdbc:postgresql://db/x"
	shuffled["server.port"] = "8080"

	require.Equal(t,
		Hash("app", "prod", "main", "1", props),
		Hash("app", "prod", "main", "1", shuffled),
	)
}

func TestHashIsLowercaseHex(t *testing.T) {
	t.Parallel()

	hash := Hash("app", "dev", "", "", map[string]string{"k": "v"})
	require.Len(t, hash, 64)
	require.True(t, types.IsConfigHash(hash))
}
