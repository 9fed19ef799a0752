/*
Copyright (C) 2025  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package value implements the canonical JSON codec and the closed
// type-tag set for scene values, paths and tokens (component C1).
package value

import "strings"

// Path is a hierarchical scene identifier. It is string-equivalent,
// totally ordered and hashable, so it is used directly as a map key
// and a btree/NonLockingReadMap key throughout layerstore and hub.
type Path string

// RootPath is the always-present absolute root path.
const RootPath Path = "/"

// Empty reports whether p is the null path (the empty string).
func (p Path) Empty() bool { return p == "" }

// IsAbsoluteRoot reports whether p is the pseudo-root path "/".
func (p Path) IsAbsoluteRoot() bool { return p == RootPath }

// IsPropertyPath reports whether p names a property (contains a "."
// separating the prim path from the property name).
func (p Path) IsPropertyPath() bool {
	return strings.Contains(string(p), ".")
}

// IsPrimPath reports whether p names a prim: non-empty, not the root,
// and not a property path.
func (p Path) IsPrimPath() bool {
	return !p.Empty() && !p.IsAbsoluteRoot() && !p.IsPropertyPath()
}

// NameToken returns the last path component, the part a force-apply
// rule inspects for an "xformOp:" prefix per §4.3.
func (p Path) NameToken() Token {
	s := string(p)
	if i := strings.LastIndexAny(s, "/."); i >= 0 {
		return Token(s[i+1:])
	}
	return Token(s)
}

// Token is an interned short string used as a field name or an
// enumerated value.
type Token string
