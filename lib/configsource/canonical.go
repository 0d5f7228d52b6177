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
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
)

// Canonical produces the canonical byte form of an effective
// configuration. Both the control plane and the instances hash this
// exact byte sequence; any deviation makes every comparison drift.
//
// The form is the prefix line "application|profile|label|version\n"
// followed by one "key=value\n" line per property in lexicographic key
// order, without a trailing newline.
func Canonical(application, profile, label, version string, properties map[string]string) []byte {
	keys := make([]string, 0, len(properties))
	for key := range properties {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteString(application)
	b.WriteByte('|')
	b.WriteString(profile)
	b.WriteByte('|')
	b.WriteString(label)
	b.WriteByte('|')
	b.WriteString(version)
	for _, key := range keys {
		b.WriteByte('\n')
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(properties[key])
	}
	return []byte(b.String())
}

// Hash computes the lowercase hex SHA-256 over the canonical form.
func Hash(application, profile, label, version string, properties map[string]string) string {
	sum := sha256.Sum256(Canonical(application, profile, label, version, properties))
	return hex.EncodeToString(sum[:])
}
