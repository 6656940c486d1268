// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package schema implements the typed record layout described in spec §3:
// an ordered sequence of fully-qualified attributes ("source$field"), plus
// the two-phase name resolver from spec §9 ("implement a two-phase
// resolver — first resolve by fully-qualified name, then by unique suffix
// match; conflicts at either phase are fatal").
package schema

import (
	"fmt"
	"strings"
)

// Type is one of the wire types enumerated in spec §6.
type Type uint8

const (
	Invalid Type = iota
	Bool
	I8
	I16
	I32
	I64
	U8
	U16
	U32
	U64
	F32
	F64
	FixedChar
	VariableChar
)

func (t Type) String() string {
	switch t {
	case Bool:
		return "bool"
	case I8:
		return "i8"
	case I16:
		return "i16"
	case I32:
		return "i32"
	case I64:
		return "i64"
	case U8:
		return "u8"
	case U16:
		return "u16"
	case U32:
		return "u32"
	case U64:
		return "u64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	case FixedChar:
		return "fixedChar"
	case VariableChar:
		return "variableChar"
	default:
		return "invalid"
	}
}

// IsNumeric reports whether t participates in arithmetic and the
// sum/min/max/count/avg/median aggregations of spec §4.2.
func (t Type) IsNumeric() bool {
	switch t {
	case I8, I16, I32, I64, U8, U16, U32, U64, F32, F64:
		return true
	}
	return false
}

// Attribute is one typed, fully-qualified column of a Schema.
type Attribute struct {
	Name   string // fully qualified "source$field"
	Type   Type
	Length int // only meaningful for FixedChar
}

// Qualifier returns the "source" part of "source$field", or "" if Name
// carries no qualifier.
func (a Attribute) Qualifier() string {
	if i := strings.IndexByte(a.Name, '$'); i >= 0 {
		return a.Name[:i]
	}
	return ""
}

// Field returns the "field" part of "source$field".
func (a Attribute) Field() string {
	if i := strings.IndexByte(a.Name, '$'); i >= 0 {
		return a.Name[i+1:]
	}
	return a.Name
}

// Qualify returns a copy of a with its qualifier prefix replaced.
func (a Attribute) Qualify(source string) Attribute {
	a.Name = source + "$" + a.Field()
	return a
}

// Alias returns a copy of a renamed to a bare, unqualified name: used by
// projection's "as" renames (spec §4.4).
func (a Attribute) Alias(name string) Attribute {
	a.Name = name
	return a
}

// Schema is an ordered sequence of attributes (spec §3). Field order is
// significant and preserved bit-exactly across serialization (spec §4.4).
type Schema []Attribute

// Append returns a new Schema with attr appended; it does not mutate s's
// backing array when s still has spare capacity shared with another
// Schema, since every PhysicalOperator gets its own slice (spec §3's
// ownership note on schemas being per-operator and mutable).
func (s Schema) Append(attrs ...Attribute) Schema {
	out := make(Schema, len(s), len(s)+len(attrs))
	copy(out, s)
	return append(out, attrs...)
}

// Qualify renames every attribute's source prefix to source, implementing
// stream-renaming (spec §3: "Stream renaming rewrites the prefix").
func (s Schema) Qualify(source string) Schema {
	out := make(Schema, len(s))
	for i, a := range s {
		out[i] = a.Qualify(source)
	}
	return out
}

// Concat returns a new schema with a "leftRight$field" compound qualifier
// for every attribute, the shape spec §4.2 requires of join-sink output:
// "combines left/right schemas with a compound qualifier leftRight$field".
func Concat(left, right Schema) Schema {
	out := make(Schema, 0, len(left)+len(right))
	for _, a := range left {
		out = append(out, Attribute{Name: "left" + a.Qualifier() + "$" + a.Field(), Type: a.Type, Length: a.Length})
	}
	for _, a := range right {
		out = append(out, Attribute{Name: "right" + a.Qualifier() + "$" + a.Field(), Type: a.Type, Length: a.Length})
	}
	return out
}

// Validate enforces spec §3's invariant: attribute names within one schema
// are unique after full qualification.
func (s Schema) Validate() error {
	seen := make(map[string]bool, len(s))
	for _, a := range s {
		if seen[a.Name] {
			return fmt.Errorf("schema: duplicate attribute %q", a.Name)
		}
		seen[a.Name] = true
	}
	return nil
}

// Resolve implements the two-phase name resolver from spec §9: first an
// exact fully-qualified match, then (if that fails) a match by unique
// field-name suffix. It returns an error if a phase finds more than one
// candidate, or if neither phase finds one.
func (s Schema) Resolve(name string) (int, error) {
	exact := -1
	for i, a := range s {
		if a.Name == name {
			if exact >= 0 {
				return -1, fmt.Errorf("schema: ambiguous attribute %q (positions %d and %d)", name, exact, i)
			}
			exact = i
		}
	}
	if exact >= 0 {
		return exact, nil
	}
	field := name
	if i := strings.IndexByte(name, '$'); i >= 0 {
		field = name[i+1:]
	}
	match := -1
	for i, a := range s {
		if a.Field() == field {
			if match >= 0 {
				return -1, fmt.Errorf("schema: ambiguous suffix match for %q (matches %q and %q)", name, s[match].Name, a.Name)
			}
			match = i
		}
	}
	if match < 0 {
		return -1, fmt.Errorf("schema: no attribute matches %q", name)
	}
	return match, nil
}

// Has reports whether name resolves unambiguously in s.
func (s Schema) Has(name string) bool {
	_, err := s.Resolve(name)
	return err == nil
}

// HasTimestamp reports whether s contains an attribute whose field name is
// "ts" or "timestamp", used by the join and window lowering rules in
// spec §4.2/§4.3 to fail compilation with JoinTimestampMissing when absent.
func (s Schema) HasTimestamp() bool {
	return s.Has("ts") || s.Has("timestamp")
}

// CommonSuffix resolves a join-key name against both sides using the rule
// in spec §4.3 rule 5: "Join-key field names are resolved using a common
// suffix match when fully-qualified names differ only in source prefix;
// fatal if no common suffix." It returns the indices into left and right.
func CommonSuffix(left, right Schema, key string) (li, ri int, err error) {
	li, err = left.Resolve(key)
	if err != nil {
		return -1, -1, fmt.Errorf("join key %q: left side: %w", key, err)
	}
	ri, err = right.Resolve(key)
	if err != nil {
		return -1, -1, fmt.Errorf("join key %q: right side: %w", key, err)
	}
	if left[li].Field() != right[ri].Field() {
		return -1, -1, fmt.Errorf("join key %q: no common suffix between %q and %q", key, left[li].Name, right[ri].Name)
	}
	return li, ri, nil
}

func (s Schema) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, a := range s {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s:%s", a.Name, a.Type)
	}
	b.WriteByte('}')
	return b.String()
}
