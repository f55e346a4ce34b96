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
	"bytes"
	"testing"
)

type point struct {
	A int
	B int
}

func TestEncodeDecodeStructRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := point{A: 1, B: 2}
	if err := Encode(&in, &buf, nil); err != nil {
		t.Fatal(err)
	}
	var out point
	if err := Decode(NewSliceSource(buf.Bytes()), &out, nil); err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Fatalf("got %+v, want %+v", out, in)
	}
}

func TestEncodeStructFirstSeenKeys(t *testing.T) {
	// Mirrors the worked example: encode(struct{a:0,b:0}) with keys
	// first-seen produces a Map(2) header followed by two new-symbol
	// field names, each followed by its Int(0) value.
	w := &Writer{}
	syms := NewEphemeralSymbolTable()
	enc := NewEncoder(w, syms, CompatibilityFull)
	if err := enc.Encode(struct{ A, B int }{0, 0}); err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0xA2,             // Map kind=5, arg=2
		0xC2, 'A',        // Symbol new, len=1, "A"
		0x20, 0x00,       // Int kind=1, arg=0 (1 byte), value 0
		0xC2, 'B',        // Symbol new, len=1, "B"
		0x20, 0x00,       // Int kind=1, arg=0 (1 byte), value 0
	}
	if !bytes.Equal(w.Bytes(), want) {
		t.Fatalf("got % X, want % X", w.Bytes(), want)
	}
}

func TestEncodeStructAgainstPersistentSymbolTableReusesIDs(t *testing.T) {
	syms := NewPersistentSymbolTable()

	first := &Writer{}
	NewEncoder(first, syms, CompatibilityFull).Encode(struct{ A, B int }{0, 0})

	second := &Writer{}
	NewEncoder(second, syms, CompatibilityFull).Encode(struct{ A, B int }{0, 0})

	want := []byte{0xA2, 0xC1, 0x20, 0x00, 0xC3, 0x20, 0x00}
	if !bytes.Equal(second.Bytes(), want) {
		t.Fatalf("got % X, want % X", second.Bytes(), want)
	}
}

func TestOptionRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	var in *int
	if err := Encode(in, &buf, nil); err != nil {
		t.Fatal(err)
	}
	var out *int
	if err := Decode(NewSliceSource(buf.Bytes()), &out, nil); err != nil {
		t.Fatal(err)
	}
	if out != nil {
		t.Fatalf("expected nil, got %v", *out)
	}

	buf.Reset()
	v := 0
	in = &v
	if err := Encode(in, &buf, nil); err != nil {
		t.Fatal(err)
	}
	out = nil
	if err := Decode(NewSliceSource(buf.Bytes()), &out, nil); err != nil {
		t.Fatal(err)
	}
	if out == nil || *out != 0 {
		t.Fatalf("expected Some(0), got %v", out)
	}
}

func TestUnitAdaptsToZeroValue(t *testing.T) {
	w := &Writer{}
	w.WriteUnit()
	r := NewAtomReader(NewSliceSource(w.Bytes()), NoBudgetLimit)
	dec := NewDecoder(r, &ephemeralDecoderSymbols{}, CompatibilityFull)
	var s string
	if err := dec.Decode(&s); err != nil {
		t.Fatal(err)
	}
	if s != "" {
		t.Fatalf("expected zero value, got %q", s)
	}
}

func TestTrailingBytesDetected(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(42, &buf, nil); err != nil {
		t.Fatal(err)
	}
	buf.WriteByte(0x00)
	var out int
	err := Decode(NewSliceSource(buf.Bytes()), &out, nil)
	fe, ok := AsFormatError(err)
	if !ok || fe.Kind != KindTrailingBytes {
		t.Fatalf("got %v, want KindTrailingBytes", err)
	}
}

func TestStructSchemaEvolutionSkipsUnknownField(t *testing.T) {
	type wide struct {
		A int
		B int
		C string
	}
	type narrow struct {
		A int
		C string
	}
	var buf bytes.Buffer
	if err := Encode(&wide{A: 1, B: 2, C: "three"}, &buf, nil); err != nil {
		t.Fatal(err)
	}
	var out narrow
	if err := Decode(NewSliceSource(buf.Bytes()), &out, nil); err != nil {
		t.Fatal(err)
	}
	if out.A != 1 || out.C != "three" {
		t.Fatalf("got %+v", out)
	}
}

type unitVariant struct{}

func (unitVariant) PotVariant() (string, any) { return "Unit", nil }

func (u *unitVariant) PotDecodeVariant(name string, dec *Decoder) error {
	if name != "Unit" {
		return newError(KindCustom, "unexpected variant %q", name)
	}
	return dec.SkipUnitMarker()
}

func TestEnumUnitVariantFullCompatibility(t *testing.T) {
	w := &Writer{}
	NewEncoder(w, NewEphemeralSymbolTable(), CompatibilityFull).Encode(unitVariant{})
	r := NewAtomReader(NewSliceSource(w.Bytes()), NoBudgetLimit)
	dec := NewDecoder(r, &ephemeralDecoderSymbols{}, CompatibilityFull)
	var out unitVariant
	if err := dec.Decode(&out); err != nil {
		t.Fatal(err)
	}
}

func TestEnumUnitVariantV4Compatibility(t *testing.T) {
	w := &Writer{}
	NewEncoder(w, NewEphemeralSymbolTable(), CompatibilityV4).Encode(unitVariant{})
	r := NewAtomReader(NewSliceSource(w.Bytes()), NoBudgetLimit)
	dec := NewDecoder(r, &ephemeralDecoderSymbols{}, CompatibilityV4)
	var out unitVariant
	if err := dec.Decode(&out); err != nil {
		t.Fatal(err)
	}
}

func TestBudgetExceededOnDecode(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode("0123456789", &buf, nil); err != nil {
		t.Fatal(err)
	}
	var out string
	err := Decode(NewSliceSource(buf.Bytes()), &out, &Config{AllocationBudget: 2})
	fe, ok := AsFormatError(err)
	if !ok || fe.Kind != KindTooManyBytesRead {
		t.Fatalf("got %v, want KindTooManyBytesRead", err)
	}
}

func TestSymbolEmittedOncePerPayload(t *testing.T) {
	// A field name repeated across the elements of one payload appears
	// on the wire as one full string plus ID references.
	type item struct {
		Fieldname int
	}
	var buf bytes.Buffer
	if err := Encode([]item{{1}, {2}, {3}}, &buf, nil); err != nil {
		t.Fatal(err)
	}
	if got := bytes.Count(buf.Bytes(), []byte("Fieldname")); got != 1 {
		t.Fatalf("field name appears %d times on the wire, want 1", got)
	}
	var out []item
	if err := Decode(NewSliceSource(buf.Bytes()), &out, nil); err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 || out[0].Fieldname != 1 || out[2].Fieldname != 3 {
		t.Fatalf("got %+v", out)
	}
}

func TestDecodeRejectsUnknownSymbolID(t *testing.T) {
	w := &Writer{}
	w.WriteMapHeader(1)
	w.WriteSymbolRef(42)
	w.WriteInt(0)
	var out struct{ A int }
	r := NewAtomReader(NewSliceSource(w.Bytes()), NoBudgetLimit)
	dec := NewDecoder(r, &ephemeralDecoderSymbols{}, CompatibilityFull)
	err := dec.Decode(&out)
	fe, ok := AsFormatError(err)
	if !ok || fe.Kind != KindUnknownSymbol {
		t.Fatalf("got %v, want KindUnknownSymbol", err)
	}
}
