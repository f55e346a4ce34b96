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
	"math"
	"reflect"
	"unicode/utf8"
)

// EnumDecoder lets a host type opt into decoding the Special(Named)
// enum representation. PotDecodeVariant is called with the decoded
// variant name; the implementation knows, from its own schema, which
// variant that names and whether dec has a payload atom still to
// read; this is what lets typed decoding tell a unit variant apart
// from a newtype variant under Full compatibility, where the wire
// itself does not say (see valuecodec.go's ReadValue doc comment for
// the schema-less case, which cannot).
type EnumDecoder interface {
	PotDecodeVariant(name string, dec *Decoder) error
}

var enumDecoderType = reflect.TypeOf((*EnumDecoder)(nil)).Elem()

// Decoder reads one atom (or atom tree) at a time and fills in an
// arbitrary addressable Go value via reflection.
type Decoder struct {
	r      *AtomReader
	syms   DecoderSymbols
	compat CompatibilityMode
}

// NewDecoder returns a Decoder reading atoms from r, resolving symbols
// through syms.
func NewDecoder(r *AtomReader, syms DecoderSymbols, compat CompatibilityMode) *Decoder {
	return &Decoder{r: r, syms: syms, compat: compat}
}

// Compatibility reports the mode this Decoder was constructed with.
func (d *Decoder) Compatibility() CompatibilityMode { return d.compat }

// Decode reads one full value into dst, which must be a non-nil
// pointer.
func (d *Decoder) Decode(dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return newError(KindCustom, "Decode requires a non-nil pointer, got %T", dst)
	}
	return d.decodeValue(rv.Elem())
}

// Skip reads and discards exactly one value (recursively, for
// composites) without materializing it into any Go type. Used by
// decodeStruct to pass over fields the destination struct does not
// have, which is what makes additive schema evolution work.
func (d *Decoder) Skip() error {
	a, err := d.r.ReadAtom()
	if err != nil {
		return err
	}
	_, err = valueFromAtom(d.r, d.syms, a)
	return err
}

// SkipUnitMarker consumes the empty Map(0) a unit enum variant writes
// under V4 compatibility (see Encoder.encodeEnum). Under Full
// compatibility nothing was written, so this is a no-op. Call it from
// an EnumDecoder.PotDecodeVariant implementation for variants it knows
// are unit variants.
func (d *Decoder) SkipUnitMarker() error {
	if d.compat != CompatibilityV4 {
		return nil
	}
	a, err := d.r.ReadAtom()
	if err != nil {
		return err
	}
	if a.Kind != KindMap || a.Arg != 0 {
		return newError(KindUnexpectedKind, "expected empty unit-variant marker, got %s", a.Kind)
	}
	return nil
}

func (d *Decoder) decodeValue(rv reflect.Value) error {
	if rv.Type() == valueType {
		v, err := ReadValue(d.r, d.syms)
		if err != nil {
			return err
		}
		rv.Set(reflect.ValueOf(v))
		return nil
	}
	if rv.CanAddr() && reflect.PtrTo(rv.Type()).Implements(enumDecoderType) {
		return d.decodeEnum(rv)
	}

	switch rv.Kind() {
	case reflect.Ptr:
		return d.decodeOption(rv)
	case reflect.Interface:
		if rv.NumMethod() != 0 {
			return newError(KindCustom, "cannot decode into non-empty interface %s", rv.Type())
		}
		v, err := ReadValue(d.r, d.syms)
		if err != nil {
			return err
		}
		rv.Set(reflect.ValueOf(v))
		return nil
	}

	a, err := d.r.ReadAtom()
	if err != nil {
		return err
	}
	return d.applyAtom(rv, a)
}

// decodeOption peeks one atom: Special(None) means the pointer is nil
// and nothing further is read; anything else is the pointed-to value.
func (d *Decoder) decodeOption(rv reflect.Value) error {
	peek, err := d.r.PeekAtom()
	if err != nil {
		return err
	}
	if peek.Kind == KindSpecial && peek.Special == SpecialNone {
		_, _ = d.r.ReadAtom()
		rv.Set(reflect.Zero(rv.Type()))
		return nil
	}
	elem := reflect.New(rv.Type().Elem())
	if err := d.decodeValue(elem.Elem()); err != nil {
		return err
	}
	rv.Set(elem)
	return nil
}

func (d *Decoder) decodeEnum(rv reflect.Value) error {
	a, err := d.r.ReadAtom()
	if err != nil {
		return err
	}
	if a.Kind != KindSpecial || a.Special != SpecialNamed {
		return newError(KindUnexpectedKind, "expected enum marker, got %s", a.Kind)
	}
	name, err := readSymbolName(d.r, d.syms)
	if err != nil {
		return err
	}
	return rv.Addr().Interface().(EnumDecoder).PotDecodeVariant(name, d)
}

// applyAtom fills rv from an atom already read from the stream. The
// unit-adaptation rule applies uniformly here: a Special Unit or None
// atom adapts to the zero value of whatever concrete type was
// requested, for every Go kind.
func (d *Decoder) applyAtom(rv reflect.Value, a Atom) error {
	if a.Kind == KindSpecial && (a.Special == SpecialUnit || a.Special == SpecialNone) {
		rv.Set(reflect.Zero(rv.Type()))
		return nil
	}

	switch rv.Kind() {
	case reflect.Bool:
		if a.Kind != KindSpecial || (a.Special != SpecialTrue && a.Special != SpecialFalse) {
			return newError(KindUnexpectedKind, "expected Bool, got %s", a.Kind)
		}
		rv.SetBool(a.Special == SpecialTrue)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v, err := atomToInt64(a)
		if err != nil {
			return err
		}
		if rv.OverflowInt(v) {
			return newError(KindImpreciseCastWouldLoseData, "%d does not fit in %s", v, rv.Type())
		}
		rv.SetInt(v)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		v, err := atomToUint64(a)
		if err != nil {
			return err
		}
		if rv.OverflowUint(v) {
			return newError(KindImpreciseCastWouldLoseData, "%d does not fit in %s", v, rv.Type())
		}
		rv.SetUint(v)
	case reflect.Float32, reflect.Float64:
		if a.Kind != KindFloat {
			return newError(KindUnexpectedKind, "expected Float, got %s", a.Kind)
		}
		if rv.Kind() == reflect.Float32 {
			f32 := float32(a.FloatVal)
			if float64(f32) != a.FloatVal {
				return newError(KindImpreciseCastWouldLoseData, "%v does not fit in float32", a.FloatVal)
			}
			rv.SetFloat(float64(f32))
		} else {
			rv.SetFloat(a.FloatVal)
		}
	case reflect.String:
		data, err := bytesOrSequenceOfInts(d, a)
		if err != nil {
			return err
		}
		if !utf8.Valid(data) {
			return newError(KindInvalidUTF8, "string field is not valid utf-8")
		}
		rv.SetString(string(data))
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			data, err := bytesOrSequenceOfInts(d, a)
			if err != nil {
				return err
			}
			rv.SetBytes(append([]byte(nil), data...))
			return nil
		}
		if a.Kind != KindSequence {
			return newError(KindUnexpectedKind, "expected Sequence, got %s", a.Kind)
		}
		n, err := argToLen(a.Arg)
		if err != nil {
			return err
		}
		out := reflect.MakeSlice(rv.Type(), 0, capHint(n))
		for i := 0; i < n; i++ {
			elem := reflect.New(rv.Type().Elem()).Elem()
			if err := d.decodeValue(elem); err != nil {
				return err
			}
			out = reflect.Append(out, elem)
		}
		rv.Set(out)
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			data, err := bytesOrSequenceOfInts(d, a)
			if err != nil {
				return err
			}
			if len(data) != rv.Len() {
				return newError(KindUnexpectedKind, "byte array length mismatch: got %d, want %d", len(data), rv.Len())
			}
			reflect.Copy(rv, reflect.ValueOf(data))
			return nil
		}
		if a.Kind != KindSequence || int(a.Arg) != rv.Len() {
			return newError(KindUnexpectedKind, "array length mismatch decoding %s", rv.Type())
		}
		for i := 0; i < rv.Len(); i++ {
			if err := d.decodeValue(rv.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Map:
		return d.decodeMap(rv, a)
	case reflect.Struct:
		return d.decodeStruct(rv, a)
	default:
		return newError(KindCustom, "unsupported Go kind %s", rv.Kind())
	}
	return nil
}

func (d *Decoder) decodeMap(rv reflect.Value, a Atom) error {
	rv.Set(reflect.MakeMap(rv.Type()))
	kt, vt := rv.Type().Key(), rv.Type().Elem()
	readPair := func() error {
		kv := reflect.New(kt).Elem()
		if err := d.decodeValue(kv); err != nil {
			return err
		}
		vv := reflect.New(vt).Elem()
		if err := d.decodeValue(vv); err != nil {
			return err
		}
		rv.SetMapIndex(kv, vv)
		return nil
	}
	switch {
	case a.Kind == KindMap:
		n, err := argToLen(a.Arg)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := readPair(); err != nil {
				return err
			}
		}
		return nil
	case a.Kind == KindSpecial && a.Special == SpecialDynamicMap:
		for {
			peek, err := d.r.PeekAtom()
			if err != nil {
				return err
			}
			if peek.Kind == KindSpecial && peek.Special == SpecialDynamicEnd {
				_, _ = d.r.ReadAtom()
				return nil
			}
			if err := readPair(); err != nil {
				return err
			}
		}
	default:
		return newError(KindUnexpectedKind, "expected Map or DynamicMap, got %s", a.Kind)
	}
}

func (d *Decoder) decodeStruct(rv reflect.Value, a Atom) error {
	info := cachedStructInfo(rv.Type())
	byName := make(map[string]structField, len(info.fields))
	for _, f := range info.fields {
		byName[f.name] = f
	}
	readField := func() error {
		sa, err := d.r.ReadAtom()
		if err != nil {
			return err
		}
		name, err := resolveSymbolAtom(d.r, d.syms, sa)
		if err != nil {
			return err
		}
		if f, ok := byName[name]; ok {
			return d.decodeValue(rv.FieldByIndex(f.index))
		}
		return d.Skip()
	}
	switch {
	case a.Kind == KindMap:
		n, err := argToLen(a.Arg)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := readField(); err != nil {
				return err
			}
		}
		return nil
	case a.Kind == KindSpecial && a.Special == SpecialDynamicMap:
		for {
			peek, err := d.r.PeekAtom()
			if err != nil {
				return err
			}
			if peek.Kind == KindSpecial && peek.Special == SpecialDynamicEnd {
				_, _ = d.r.ReadAtom()
				return nil
			}
			if err := readField(); err != nil {
				return err
			}
		}
	default:
		return newError(KindUnexpectedKind, "expected Map or DynamicMap for struct, got %s", a.Kind)
	}
}

// bytesOrSequenceOfInts implements the decoder table's "Bytes atom OR
// a Sequence whose elements are all integers in 0..256" acceptance
// rule for byte-string-shaped destinations.
func bytesOrSequenceOfInts(d *Decoder, a Atom) ([]byte, error) {
	if a.Kind == KindBytes {
		return a.Bytes, nil
	}
	if a.Kind != KindSequence {
		return nil, newError(KindUnexpectedKind, "expected Bytes or Sequence, got %s", a.Kind)
	}
	n, err := argToLen(a.Arg)
	if err != nil {
		return nil, err
	}
	if err := d.r.deduct(n); err != nil {
		return nil, err
	}
	out := make([]byte, 0, capHint(n))
	for i := 0; i < n; i++ {
		ea, err := d.r.ReadAtom()
		if err != nil {
			return nil, err
		}
		v, err := atomToUint64(ea)
		if err != nil {
			return nil, err
		}
		if v > 255 {
			return nil, newError(KindImpreciseCastWouldLoseData, "sequence element %d does not fit in a byte", v)
		}
		out = append(out, byte(v))
	}
	return out, nil
}

func atomToInt64(a Atom) (int64, error) {
	switch a.Kind {
	case KindInt:
		if a.Wide != nil {
			return 0, newError(KindImpreciseCastWouldLoseData, "128-bit integer does not fit in int64")
		}
		return a.IntVal, nil
	case KindUInt:
		if a.Wide != nil || a.UintVal > math.MaxInt64 {
			return 0, newError(KindImpreciseCastWouldLoseData, "unsigned value does not fit in int64")
		}
		return int64(a.UintVal), nil
	default:
		return 0, newError(KindUnexpectedKind, "expected Int or UInt, got %s", a.Kind)
	}
}

func atomToUint64(a Atom) (uint64, error) {
	switch a.Kind {
	case KindUInt:
		if a.Wide != nil {
			return 0, newError(KindImpreciseCastWouldLoseData, "128-bit integer does not fit in uint64")
		}
		return a.UintVal, nil
	case KindInt:
		if a.Wide != nil || a.IntVal < 0 {
			return 0, newError(KindImpreciseCastWouldLoseData, "negative value does not fit in uint64")
		}
		return uint64(a.IntVal), nil
	default:
		return 0, newError(KindUnexpectedKind, "expected Int or UInt, got %s", a.Kind)
	}
}

// remainder is implemented by Sources that can report unread bytes
// after a decode, used below to surface KindTrailingBytes for
// slice-backed (and therefore mmap-backed) sources.
type remainder interface {
	Remaining() []byte
}

// Decode reads one file header and one value from src into dst, which
// must be a non-nil pointer. If src reports its own remaining bytes
// (a slice-backed or memory-mapped Source), anything left unread after
// the value is a KindTrailingBytes error.
func Decode(src Source, dst any, cfg *Config) error {
	cfg = cfg.orDefault()
	hdr, _, err := src.ReadFull(4)
	if err != nil {
		return ioError(err)
	}
	version, _, err := readFileHeader(hdr, CurrentVersion)
	if err != nil {
		return err
	}
	if cfg.StrictVersion && version != CurrentVersion {
		return newError(KindIncompatibleVersion, "version %d is not exactly %d", version, CurrentVersion)
	}
	ar := NewAtomReader(src, cfg.budget())
	dec := NewDecoder(ar, cfg.decoderSymbols(), cfg.Compatibility)
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if rc, ok := src.(remainder); ok {
		if left := rc.Remaining(); len(left) != 0 {
			return newError(KindTrailingBytes, "%d trailing bytes after payload", len(left))
		}
	}
	return nil
}
