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
	"io"
	"reflect"
	"sort"
	"strings"
	"sync"

	"golang.org/x/exp/maps"
)

// EnumVariant lets a host type opt into the encoder table's enum
// representation (Special(Named) + symbol + optional payload) instead
// of being walked as a plain struct. PotVariant returns the variant's
// name and its payload, or a nil payload for a unit variant.
type EnumVariant interface {
	PotVariant() (name string, payload any)
}

// structField describes one exported field the Encoder will visit.
type structField struct {
	index     []int
	name      string
	omitEmpty bool
}

type structInfo struct {
	fields []structField
}

// structCache holds the compiled per-type field layout: reflection
// over a struct's fields and tags is done once per type and reused for
// every value of that type afterward.
var structCache sync.Map // reflect.Type -> *structInfo

func cachedStructInfo(t reflect.Type) *structInfo {
	if v, ok := structCache.Load(t); ok {
		return v.(*structInfo)
	}
	info := buildStructInfo(t)
	structCache.Store(t, info)
	return info
}

func buildStructInfo(t reflect.Type) *structInfo {
	info := &structInfo{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.PkgPath != "" {
			continue // unexported
		}
		name := f.Name
		omitEmpty := false
		if tag, ok := f.Tag.Lookup("pot"); ok {
			parts := strings.Split(tag, ",")
			if parts[0] == "-" {
				continue
			}
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				if opt == "omitempty" {
					omitEmpty = true
				}
			}
		}
		info.fields = append(info.fields, structField{index: f.Index, name: name, omitEmpty: omitEmpty})
	}
	return info
}

func isEmptyValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Ptr:
		return v.IsNil()
	default:
		return false
	}
}

var (
	valueType       = reflect.TypeOf(Value{})
	enumVariantType = reflect.TypeOf((*EnumVariant)(nil)).Elem()
)

// Encoder walks an arbitrary host value via reflection and writes the
// atoms its Go kind calls for.
type Encoder struct {
	w      *Writer
	syms   EncoderSymbols
	compat CompatibilityMode
}

// NewEncoder returns an Encoder that writes atoms to w, interning
// strings through syms, using the given compatibility mode.
func NewEncoder(w *Writer, syms EncoderSymbols, compat CompatibilityMode) *Encoder {
	return &Encoder{w: w, syms: syms, compat: compat}
}

// Encode writes v's atoms.
func (e *Encoder) Encode(v any) error {
	return e.encodeReflect(reflect.ValueOf(v))
}

func (e *Encoder) writeSymbol(name string) {
	id, isNew := e.syms.FindOrRegister(name)
	if isNew {
		e.w.WriteSymbolNew(name)
	} else {
		e.w.WriteSymbolRef(id)
	}
}

func (e *Encoder) encodeReflect(rv reflect.Value) error {
	if !rv.IsValid() {
		e.w.WriteNone()
		return nil
	}
	if rv.Type() == valueType {
		rv.Interface().(Value).Encode(e.w)
		return nil
	}
	if rv.CanInterface() && rv.Type().Implements(enumVariantType) {
		return e.encodeEnum(rv.Interface().(EnumVariant))
	}

	switch rv.Kind() {
	case reflect.Bool:
		e.w.WriteBool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.w.WriteInt(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.w.WriteUint(rv.Uint())
	case reflect.Float32:
		e.w.WriteFloat32(float32(rv.Float()))
	case reflect.Float64:
		e.w.WriteFloat64(rv.Float())
	case reflect.String:
		e.w.WriteBytes([]byte(rv.String()))
	case reflect.Slice:
		if rv.IsNil() {
			e.w.WriteNone()
			return nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			e.w.WriteBytes(rv.Bytes())
			return nil
		}
		return e.encodeSequence(rv)
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			data := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(data), rv)
			e.w.WriteBytes(data)
			return nil
		}
		return e.encodeSequence(rv)
	case reflect.Map:
		return e.encodeMap(rv)
	case reflect.Struct:
		return e.encodeStruct(rv)
	case reflect.Ptr:
		if rv.IsNil() {
			e.w.WriteNone()
			return nil
		}
		return e.encodeReflect(rv.Elem())
	case reflect.Interface:
		if rv.IsNil() {
			e.w.WriteNone()
			return nil
		}
		return e.encodeReflect(rv.Elem())
	case reflect.Chan, reflect.Func:
		return newError(KindSequenceSizeMustBeKnown, "cannot encode %s: size is not knowable in advance", rv.Kind())
	default:
		return newError(KindCustom, "unsupported Go kind %s", rv.Kind())
	}
	return nil
}

func (e *Encoder) encodeSequence(rv reflect.Value) error {
	n := rv.Len()
	e.w.WriteSequenceHeader(n)
	for i := 0; i < n; i++ {
		if err := e.encodeReflect(rv.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

// encodeMap writes a Go map as a known-length map atom. Key order is
// not meaningful to the format, but iteration order is sorted here by
// Go's native printed representation so that two maps with identical
// contents always produce byte-identical output.
func (e *Encoder) encodeMap(rv reflect.Value) error {
	if rv.IsNil() {
		e.w.WriteNone()
		return nil
	}
	keys := maps.Keys(reflectMapToAny(rv))
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i]) < fmt.Sprint(keys[j])
	})
	e.w.WriteMapHeader(len(keys))
	for _, k := range keys {
		kv := reflect.ValueOf(k)
		if err := e.encodeReflect(kv); err != nil {
			return err
		}
		if err := e.encodeReflect(rv.MapIndex(kv)); err != nil {
			return err
		}
	}
	return nil
}

// reflectMapToAny adapts a reflect.Value map into a map[any]any so
// maps.Keys (golang.org/x/exp/maps) can be reused instead of
// hand-rolling key collection.
func reflectMapToAny(rv reflect.Value) map[any]any {
	out := make(map[any]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().Interface()] = nil
	}
	return out
}

func (e *Encoder) encodeStruct(rv reflect.Value) error {
	info := cachedStructInfo(rv.Type())
	type pending struct {
		name string
		v    reflect.Value
	}
	fields := make([]pending, 0, len(info.fields))
	for _, f := range info.fields {
		fv := rv.FieldByIndex(f.index)
		if f.omitEmpty && isEmptyValue(fv) {
			continue
		}
		fields = append(fields, pending{f.name, fv})
	}
	e.w.WriteMapHeader(len(fields))
	for _, f := range fields {
		e.writeSymbol(f.name)
		if err := e.encodeReflect(f.v); err != nil {
			return fmt.Errorf("field %q: %w", f.name, err)
		}
	}
	return nil
}

// encodeEnum writes the Special(Named) representation: the variant
// name as a symbol followed by its payload. A unit variant (nil
// payload) writes nothing more under Full compatibility, or an empty
// Map(0) under V4 compatibility so a schema-less reader can tell it
// apart from a newtype variant; see ReadValue.
func (e *Encoder) encodeEnum(ev EnumVariant) error {
	name, payload := ev.PotVariant()
	e.w.WriteNamed()
	e.writeSymbol(name)
	if payload == nil {
		if e.compat == CompatibilityV4 {
			e.w.WriteMapHeader(0)
		}
		return nil
	}
	return e.encodeReflect(reflect.ValueOf(payload))
}

// Encode writes v to w as a complete Pot payload: the file header
// followed by v's atoms. If cfg is nil, defaults apply (current
// version, Full compatibility, an ephemeral per-call symbol table, no
// allocation budget).
func Encode(v any, w io.Writer, cfg *Config) error {
	cfg = cfg.orDefault()
	hdr := writeFileHeader(nil, CurrentVersion)
	if _, err := w.Write(hdr); err != nil {
		return wrapError(KindIO, err, "writing file header")
	}
	syms := cfg.encoderSymbols()
	buf := &Writer{}
	enc := NewEncoder(buf, syms, cfg.Compatibility)
	if err := enc.Encode(v); err != nil {
		return err
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return wrapError(KindIO, err, "writing payload")
	}
	return nil
}

// walkSymbols recurses through v (a struct, slice, array, map, pointer
// or interface, in any combination) registering the symbol every
// struct field name and enum variant name it finds would use, without
// writing any atoms. It backs PersistentSymbolTable.Prefill.
func walkSymbols(target EncoderSymbols, rv reflect.Value) error {
	if !rv.IsValid() {
		return nil
	}
	if rv.Kind() == reflect.Interface || rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil
		}
		return walkSymbols(target, rv.Elem())
	}
	if rv.CanInterface() && rv.Type().Implements(enumVariantType) {
		name, payload := rv.Interface().(EnumVariant).PotVariant()
		target.FindOrRegister(name)
		if payload != nil {
			return walkSymbols(target, reflect.ValueOf(payload))
		}
		return nil
	}
	switch rv.Kind() {
	case reflect.Struct:
		info := cachedStructInfo(rv.Type())
		for _, f := range info.fields {
			target.FindOrRegister(f.name)
			if err := walkSymbols(target, rv.FieldByIndex(f.index)); err != nil {
				return err
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := walkSymbols(target, rv.Index(i)); err != nil {
				return err
			}
		}
	case reflect.Map:
		iter := rv.MapRange()
		for iter.Next() {
			if err := walkSymbols(target, iter.Value()); err != nil {
				return err
			}
		}
	}
	return nil
}
