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

package asciitable

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFullTable(t *testing.T) {
	table := MakeTable([]string{"Name", "Motto", "Age"})
	table.AddRow([]string{"Joe Forrester", "Trains are much better than cars", "40"})
	table.AddRow([]string{"Jesus", "Read the bible", "2018"})

	out := table.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 4)
	require.Contains(t, lines[0], "Name")
	require.Contains(t, lines[0], "Motto")
	require.Contains(t, lines[1], "----")
	require.Contains(t, lines[2], "Joe Forrester")
	require.Contains(t, lines[3], "2018")
}

func TestShortRowsArePadded(t *testing.T) {
	table := MakeTable([]string{"A", "B", "C"})
	table.AddRow([]string{"only"})

	out := table.String()
	require.Contains(t, out, "only")
	require.Len(t, strings.Split(strings.TrimRight(out, "\n"), "\n"), 3)
}

func TestSortRowsBy(t *testing.T) {
	table := MakeTable([]string{"ID", "State"},
		[]string{"svc-b", "active"},
		[]string{"svc-a", "retired"},
	)
	table.SortRowsBy(0)

	out := table.String()
	require.Less(t, strings.Index(out, "svc-a"), strings.Index(out, "svc-b"))
}
