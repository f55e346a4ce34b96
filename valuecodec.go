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

import "unicode/utf8"

// Encode appends v's atoms to w. Encoding never fails: every Value was
// either built by a constructor that only accepts well-formed data or
// produced by ReadValue, which already validated everything it read.
//
// Encode never emits a Symbol atom itself; a Value decoded from a
// struct-shaped payload resolves field names to plain String values
// (see ReadValue), so re-encoding it re-expands those names as fresh
// Bytes atoms rather than replaying the symbol compaction of the
// payload it came from. The value tree round-trips modulo numeric
// narrowing and symbol-ID assignment, nothing stronger.
func (v Value) Encode(w *Writer) {
	switch v.kind {
	case KindNoneValue:
		w.WriteNone()
	case KindUnitValue:
		w.WriteUnit()
	case KindBoolValue:
		w.WriteBool(v.b)
	case KindIntegerValue:
		switch {
		case v.wide != nil && !v.unsigned:
			w.WriteInt128(*v.wide)
		case v.wide != nil:
			w.WriteUint128(*v.wide)
		case v.unsigned:
			w.WriteUint(v.u)
		default:
			w.WriteInt(v.i)
		}
	case KindFloatValue:
		w.WriteFloat64(v.f)
	case KindBytesValue:
		w.WriteBytes(v.bytes)
	case KindStringValue:
		w.WriteBytes([]byte(v.str))
	case KindSequenceValue:
		w.WriteSequenceHeader(len(v.seq))
		for _, e := range v.seq {
			e.Encode(w)
		}
	case KindMappingsValue:
		w.WriteMapHeader(len(v.m))
		for _, e := range v.m {
			e.Key.Encode(w)
			e.Value.Encode(w)
		}
	}
}

// ReadValue decodes the next atom (and, for composites, everything it
// contains) into a schema-less Value, bypassing the reflective Decoder
// entirely.
//
// A struct or enum payload produced by the reflective Encoder (see
// marshal.go) decodes cleanly here too: Symbol atoms resolve through
// syms to plain strings, and an enum's Special(Named) marker decodes
// to a single-entry Mappings whose key is the variant name. This
// requires the encoder side to be using V4 compatibility framing for
// unit variants (an explicit empty Map(0) after the name); under
// Full compatibility a unit variant emits nothing after its name, and
// telling that apart from a newtype variant requires the schema the
// Decoder driver has and the Value tree does not; see DESIGN.md.
func ReadValue(r *AtomReader, syms DecoderSymbols) (Value, error) {
	a, err := r.ReadAtom()
	if err != nil {
		return Value{}, err
	}
	return valueFromAtom(r, syms, a)
}

func valueFromAtom(r *AtomReader, syms DecoderSymbols, a Atom) (Value, error) {
	switch a.Kind {
	case KindSpecial:
		switch a.Special {
		case SpecialNone:
			return None, nil
		case SpecialUnit:
			return Unit, nil
		case SpecialFalse:
			return Bool(false), nil
		case SpecialTrue:
			return Bool(true), nil
		case SpecialNamed:
			name, err := readSymbolName(r, syms)
			if err != nil {
				return Value{}, err
			}
			payload, err := ReadValue(r, syms)
			if err != nil {
				return Value{}, err
			}
			return Mappings(String(name), payload), nil
		case SpecialDynamicMap:
			return readDynamicMapValue(r, syms)
		case SpecialDynamicEnd:
			return Value{}, newError(KindUnexpectedKind, "unexpected DynamicEnd outside a dynamic map")
		default:
			return Value{}, newError(KindInvalidAtomHeader, "unknown special value %d", a.Special)
		}
	case KindInt:
		if a.Wide != nil {
			return WideInt(*a.Wide, a.Wide.Hi&(1<<63) != 0), nil
		}
		return Int(a.IntVal), nil
	case KindUInt:
		if a.Wide != nil {
			return WideUint(*a.Wide), nil
		}
		return Uint(a.UintVal), nil
	case KindFloat:
		return Float(a.FloatVal), nil
	case KindBytes:
		if utf8.Valid(a.Bytes) {
			if a.Borrowed {
				return BorrowedString(unsafeString(a.Bytes)), nil
			}
			return String(string(a.Bytes)), nil
		}
		if a.Borrowed {
			return BorrowedBytes(a.Bytes), nil
		}
		return Bytes(a.Bytes), nil
	case KindSequence:
		n, err := argToLen(a.Arg)
		if err != nil {
			return Value{}, err
		}
		items := make([]Value, 0, capHint(n))
		for i := 0; i < n; i++ {
			v, err := ReadValue(r, syms)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return Sequence(items...), nil
	case KindMap:
		n, err := argToLen(a.Arg)
		if err != nil {
			return Value{}, err
		}
		pairs := make([]Value, 0, capHint(2*n))
		for i := 0; i < n; i++ {
			k, err := ReadValue(r, syms)
			if err != nil {
				return Value{}, err
			}
			v, err := ReadValue(r, syms)
			if err != nil {
				return Value{}, err
			}
			pairs = append(pairs, k, v)
		}
		return Mappings(pairs...), nil
	case KindSymbol:
		name, err := resolveSymbolAtom(r, syms, a)
		if err != nil {
			return Value{}, err
		}
		return String(name), nil
	default:
		return Value{}, newError(KindInvalidKind, "kind %d out of range", a.Kind)
	}
}

// capHint bounds a preallocation by what a short malformed stream
// could plausibly back, so a corrupt count cannot force a huge
// up-front allocation; append grows past it for genuine data.
func capHint(n int) int {
	if n > 1024 {
		return 1024
	}
	return n
}

func readDynamicMapValue(r *AtomReader, syms DecoderSymbols) (Value, error) {
	var pairs []Value
	for {
		peek, err := r.PeekAtom()
		if err != nil {
			return Value{}, err
		}
		if peek.Kind == KindSpecial && peek.Special == SpecialDynamicEnd {
			_, _ = r.ReadAtom()
			break
		}
		k, err := ReadValue(r, syms)
		if err != nil {
			return Value{}, err
		}
		v, err := ReadValue(r, syms)
		if err != nil {
			return Value{}, err
		}
		pairs = append(pairs, k, v)
	}
	return Mappings(pairs...), nil
}

func readSymbolName(r *AtomReader, syms DecoderSymbols) (string, error) {
	a, err := r.ReadAtom()
	if err != nil {
		return "", err
	}
	return resolveSymbolAtom(r, syms, a)
}

// resolveSymbolAtom turns a Symbol-kind atom into its string, either
// by looking up an existing ID or by reading, validating, and
// registering a brand-new symbol's raw UTF-8 bytes. New symbols are
// validated eagerly, on first read: a symbol is always semantically a
// name. Bytes reinterpreted as a string elsewhere (see the KindBytes
// case above) only try, falling back to raw bytes.
func resolveSymbolAtom(r *AtomReader, syms DecoderSymbols, a Atom) (string, error) {
	if a.Kind != KindSymbol {
		return "", newError(KindUnexpectedKind, "expected Symbol, got %s", a.Kind)
	}
	if a.Arg&1 == 1 {
		id := Symbol(a.Arg >> 1)
		s, ok := syms.Lookup(id)
		if !ok {
			return "", newError(KindUnknownSymbol, "symbol id %d not in table", id)
		}
		return s, nil
	}
	n, err := argToLen(a.Arg >> 1)
	if err != nil {
		return "", err
	}
	data, borrowed, err := r.ReadRaw(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", newError(KindInvalidUTF8, "new symbol bytes are not valid utf-8")
	}
	if borrowed {
		s := unsafeString(data)
		syms.AppendBorrowed(s)
		return s, nil
	}
	s := string(data)
	syms.AppendOwned(s)
	return s, nil
}
