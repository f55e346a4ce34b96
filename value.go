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

package pot

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueKind discriminates the variants of Value, the schema-less
// in-memory sum type.
type ValueKind int

const (
	KindNoneValue ValueKind = iota
	KindUnitValue
	KindBoolValue
	KindIntegerValue
	KindFloatValue
	KindBytesValue
	KindStringValue
	KindSequenceValue
	KindMappingsValue
)

func (k ValueKind) String() string {
	switch k {
	case KindNoneValue:
		return "None"
	case KindUnitValue:
		return "Unit"
	case KindBoolValue:
		return "Bool"
	case KindIntegerValue:
		return "Integer"
	case KindFloatValue:
		return "Float"
	case KindBytesValue:
		return "Bytes"
	case KindStringValue:
		return "String"
	case KindSequenceValue:
		return "Sequence"
	case KindMappingsValue:
		return "Mappings"
	default:
		return "Invalid"
	}
}

// mapping is one key/value pair of a Mappings value; order is
// preserved exactly as encoded or constructed.
type mapping struct {
	Key, Value Value
}

// Value is the round-trippable value tree: it can be built by decoding
// a payload, built by a host program, and serialized back out, losing
// nothing but numeric narrowing choices and symbol-ID assignment.
//
// The zero Value is None.
type Value struct {
	kind ValueKind

	b bool
	// Integer: i holds a signed value and u an unsigned one; unsigned
	// reports which is set, and wide carries magnitudes that overflow a
	// uint64.
	i        int64
	u        uint64
	unsigned bool
	wide     *Uint128
	wideNeg  bool

	f     float64
	bytes []byte
	// borrowed reports whether bytes/str alias foreign storage (e.g. a
	// slice-backed Source) rather than owning it; see IntoStatic.
	borrowed bool
	str      string

	seq []Value
	m   []mapping
}

// None is the Value representing the absence of a value.
var None = Value{kind: KindNoneValue}

// Unit is the Value representing the empty/unit value.
var Unit = Value{kind: KindUnitValue}

func Bool(b bool) Value { return Value{kind: KindBoolValue, b: b} }

// Int builds an Integer value from a signed magnitude.
func Int(v int64) Value { return Value{kind: KindIntegerValue, i: v} }

// Uint builds an Integer value from an unsigned magnitude, preserving
// the fact that it was unsigned.
func Uint(v uint64) Value { return Value{kind: KindIntegerValue, u: v, unsigned: true} }

// WideInt and WideUint build a 128-bit Integer value, for round
// tripping the rare 16-byte atom width.
func WideInt(v Uint128, negative bool) Value {
	return Value{kind: KindIntegerValue, wide: &v, wideNeg: negative}
}
func WideUint(v Uint128) Value { return Value{kind: KindIntegerValue, wide: &v, unsigned: true} }

func Float(f float64) Value { return Value{kind: KindFloatValue, f: f} }

// Bytes builds a Bytes value that owns a copy of data.
func Bytes(data []byte) Value {
	return Value{kind: KindBytesValue, bytes: append([]byte(nil), data...)}
}

// BorrowedBytes builds a Bytes value that aliases data without
// copying; the caller must guarantee data outlives the Value (see
// Value.IntoStatic).
func BorrowedBytes(data []byte) Value {
	return Value{kind: KindBytesValue, bytes: data, borrowed: true}
}

func String(s string) Value { return Value{kind: KindStringValue, str: s} }

func BorrowedString(s string) Value {
	return Value{kind: KindStringValue, str: s, borrowed: true}
}

func Sequence(items ...Value) Value { return Value{kind: KindSequenceValue, seq: items} }

// Mappings builds a Mappings value from alternating key, value pairs.
// Unlike Go's native map, order is preserved and keys need not be
// comparable Go values (they are themselves arbitrary Values).
func Mappings(pairs ...Value) Value {
	m := make([]mapping, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		m = append(m, mapping{pairs[i], pairs[i+1]})
	}
	return Value{kind: KindMappingsValue, m: m}
}

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNone() bool    { return v.kind == KindNoneValue }
func (v Value) IsUnit() bool    { return v.kind == KindUnitValue }

// AsBool returns the boolean payload and whether v is a Bool.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBoolValue }

// AsInt64 losslessly coerces an Integer value to int64, reporting
// false if v is not an Integer or the magnitude does not fit.
func (v Value) AsInt64() (int64, bool) {
	if v.kind != KindIntegerValue {
		return 0, false
	}
	if v.wide != nil {
		return 0, false // 128-bit magnitudes never fit in int64
	}
	if v.unsigned {
		if v.u > math.MaxInt64 {
			return 0, false
		}
		return int64(v.u), true
	}
	return v.i, true
}

// AsUint64 losslessly coerces an Integer value to uint64.
func (v Value) AsUint64() (uint64, bool) {
	if v.kind != KindIntegerValue {
		return 0, false
	}
	if v.wide != nil {
		return 0, false
	}
	if v.unsigned {
		return v.u, true
	}
	if v.i < 0 {
		return 0, false
	}
	return uint64(v.i), true
}

// AsFloat64 returns v's magnitude as a float64: exact for Float,
// best-effort (matching Go's int-to-float conversion rules) for
// Integer.
func (v Value) AsFloat64() (float64, bool) {
	switch v.kind {
	case KindFloatValue:
		return v.f, true
	case KindIntegerValue:
		if v.wide != nil {
			return 0, false
		}
		if v.unsigned {
			return float64(v.u), true
		}
		return float64(v.i), true
	default:
		return 0, false
	}
}

func (v Value) AsBytes() ([]byte, bool) {
	if v.kind == KindBytesValue {
		return v.bytes, true
	}
	return nil, false
}

func (v Value) AsString() (string, bool) {
	if v.kind == KindStringValue {
		return v.str, true
	}
	return "", false
}

func (v Value) AsSequence() ([]Value, bool) {
	if v.kind == KindSequenceValue {
		return v.seq, true
	}
	return nil, false
}

// Entries returns the key/value pairs of a Mappings value.
func (v Value) Entries() ([][2]Value, bool) {
	if v.kind != KindMappingsValue {
		return nil, false
	}
	out := make([][2]Value, len(v.m))
	for i, e := range v.m {
		out[i] = [2]Value{e.Key, e.Value}
	}
	return out, true
}

// IntoStatic returns a copy of v (and, recursively, everything it
// contains) with every borrowed byte slice or string copied into
// owned storage, erasing any dependency on the Source the value was
// originally decoded from.
func (v Value) IntoStatic() Value {
	switch v.kind {
	case KindBytesValue:
		if !v.borrowed {
			return v
		}
		return Bytes(v.bytes)
	case KindStringValue:
		if !v.borrowed {
			return v
		}
		return String(strings.Clone(v.str))
	case KindSequenceValue:
		out := make([]Value, len(v.seq))
		for i, e := range v.seq {
			out[i] = e.IntoStatic()
		}
		return Value{kind: KindSequenceValue, seq: out}
	case KindMappingsValue:
		out := make([]mapping, len(v.m))
		for i, e := range v.m {
			out[i] = mapping{e.Key.IntoStatic(), e.Value.IntoStatic()}
		}
		return Value{kind: KindMappingsValue, m: out}
	default:
		return v
	}
}

// Equal reports whether v and o are the same value, recursively, with
// numeric cross-signedness comparison (a Uint(5) equals an Int(5)).
func (v Value) Equal(o Value) bool {
	if v.kind == KindIntegerValue && o.kind == KindIntegerValue {
		return intValuesEqual(v, o)
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNoneValue, KindUnitValue:
		return true
	case KindBoolValue:
		return v.b == o.b
	case KindFloatValue:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindBytesValue:
		return string(v.bytes) == string(o.bytes)
	case KindStringValue:
		return v.str == o.str
	case KindSequenceValue:
		if len(v.seq) != len(o.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(o.seq[i]) {
				return false
			}
		}
		return true
	case KindMappingsValue:
		if len(v.m) != len(o.m) {
			return false
		}
		for i := range v.m {
			if !v.m[i].Key.Equal(o.m[i].Key) || !v.m[i].Value.Equal(o.m[i].Value) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func intValuesEqual(v, o Value) bool {
	if v.wide != nil || o.wide != nil {
		if v.wide == nil || o.wide == nil {
			return false
		}
		return *v.wide == *o.wide && v.wideNeg == o.wideNeg
	}
	vu, vok := v.AsUint64()
	ou, ook := o.AsUint64()
	if vok && ook {
		return vu == ou
	}
	vi, _ := v.AsInt64()
	oi, _ := o.AsInt64()
	return vi == oi
}

// String implements fmt.Stringer with a compact debug rendering. Pot
// has no textual syntax; this exists only as a debugging aid and is
// not re-parseable.
func (v Value) String() string {
	switch v.kind {
	case KindNoneValue:
		return "None"
	case KindUnitValue:
		return "Unit"
	case KindBoolValue:
		return strconv.FormatBool(v.b)
	case KindIntegerValue:
		if v.wide != nil {
			sign := ""
			if v.wideNeg {
				sign = "-"
			}
			return fmt.Sprintf("%s0x%016x%016x", sign, v.wide.Hi, v.wide.Lo)
		}
		if v.unsigned {
			return strconv.FormatUint(v.u, 10)
		}
		return strconv.FormatInt(v.i, 10)
	case KindFloatValue:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBytesValue:
		return fmt.Sprintf("Bytes(%d)", len(v.bytes))
	case KindStringValue:
		return strconv.Quote(v.str)
	case KindSequenceValue:
		parts := make([]string, len(v.seq))
		for i, e := range v.seq {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindMappingsValue:
		parts := make([]string, len(v.m))
		for i, e := range v.m {
			parts[i] = e.Key.String() + ": " + e.Value.String()
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return "<invalid>"
	}
}
