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

// Package asciitable implements a simple ASCII table formatter for
// printing tabular values into a text terminal.
package asciitable

import (
	"bytes"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"
)

// Table holds tabular values in a rows and columns format.
type Table struct {
	headers []string
	rows    [][]string
}

// MakeTable creates a new instance of the table with given column
// names. Optionally rows to be added to the table may be included.
func MakeTable(headers []string, rows ...[]string) Table {
	t := Table{headers: headers}
	for _, row := range rows {
		t.AddRow(row)
	}
	return t
}

// AddRow adds a row of cells to the table.
func (t *Table) AddRow(row []string) {
	if len(row) > len(t.headers) {
		row = row[:len(t.headers)]
	}
	t.rows = append(t.rows, row)
}

// SortRowsBy sorts the table rows by the given column index.
func (t *Table) SortRowsBy(col int) {
	slices.SortStableFunc(t.rows, func(a, b []string) int {
		if col >= len(a) || col >= len(b) {
			return 0
		}
		return strings.Compare(a[col], b[col])
	})
}

// AsBuffer returns a *bytes.Buffer with the printed output of the
// table.
func (t *Table) AsBuffer() *bytes.Buffer {
	var buffer bytes.Buffer

	writer := tabwriter.NewWriter(&buffer, 5, 0, 1, ' ', 0)
	template := strings.Repeat("%v\t", len(t.headers))

	var colh []any
	var cols []any
	for _, header := range t.headers {
		colh = append(colh, header)
		cols = append(cols, strings.Repeat("-", len(header)))
	}
	fmt.Fprintf(writer, template+"\n", colh...)
	fmt.Fprintf(writer, template+"\n", cols...)

	for _, row := range t.rows {
		var cells []any
		for _, cell := range row {
			cells = append(cells, cell)
		}
		for len(cells) < len(t.headers) {
			cells = append(cells, "")
		}
		fmt.Fprintf(writer, template+"\n", cells...)
	}

	writer.Flush()
	return &buffer
}

// String returns the printed output of the table.
func (t *Table) String() string {
	return t.AsBuffer().String()
}
