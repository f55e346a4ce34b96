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
	"errors"
	"math"
	"testing"
)

func TestFileHeaderRoundTrip(t *testing.T) {
	buf := writeFileHeader(nil, CurrentVersion)
	version, rest, err := readFileHeader(buf, CurrentVersion)
	if err != nil {
		t.Fatal(err)
	}
	if version != CurrentVersion {
		t.Fatalf("got version %d, want %d", version, CurrentVersion)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected trailing bytes: %v", rest)
	}
}

func TestFileHeaderRejectsBadMagic(t *testing.T) {
	buf := writeFileHeader(nil, CurrentVersion)
	buf[0] = 'X'
	if _, _, err := readFileHeader(buf, CurrentVersion); !errors.Is(err, ErrNotAPot) {
		t.Fatalf("got %v, want ErrNotAPot", err)
	}
}

func TestFileHeaderAcceptsOlderVersion(t *testing.T) {
	// Decoders accept any version up to their own: a version-0 payload
	// read by a decoder whose maximum is one higher than the current.
	buf := writeFileHeader(nil, 0)
	if _, _, err := readFileHeader(buf, CurrentVersion+1); err != nil {
		t.Fatal(err)
	}
}

func TestFileHeaderRejectsNewerVersion(t *testing.T) {
	buf := writeFileHeader(nil, 9)
	if _, _, err := readFileHeader(buf, CurrentVersion); !errors.Is(err, ErrIncompatibleVersion) {
		t.Fatalf("got %v, want ErrIncompatibleVersion", err)
	}
}

func TestAtomHeaderSmallArg(t *testing.T) {
	buf := appendAtomHeader(nil, KindBytes, 5)
	if len(buf) != 1 {
		t.Fatalf("expected a single byte header for arg<16, got %d bytes", len(buf))
	}
}

func TestAtomHeaderRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 15, 16, 127, 128, 1 << 20, 1 << 40, ^uint64(0) >> 4, ^uint64(0)}
	for _, arg := range cases {
		buf := appendAtomHeader(nil, KindMap, arg)
		r := NewSliceSource(buf)
		kind, got, err := readAtomHeader(r)
		if err != nil {
			t.Fatalf("arg=%d: %v", arg, err)
		}
		if kind != KindMap || got != arg {
			t.Fatalf("arg=%d: got kind=%v arg=%d", arg, kind, got)
		}
		if n := headerSize(arg); n != len(buf) {
			t.Fatalf("arg=%d: headerSize=%d, actual=%d", arg, n, len(buf))
		}
	}
}

func TestNarrowIntWidth(t *testing.T) {
	cases := []struct {
		v    int64
		want int
	}{
		{0, 1}, {127, 1}, {-128, 1},
		{128, 2}, {-129, 2},
		{1 << 20, 3},
		{1 << 28, 4},
		{1 << 40, 6},
		{1 << 56, 8},
		{-(1 << 62), 8},
	}
	for _, c := range cases {
		if got := narrowIntWidth(c.v); got != c.want {
			t.Errorf("narrowIntWidth(%d) = %d, want %d", c.v, got, c.want)
		}
	}
}

func TestHalfFloatRoundTrip(t *testing.T) {
	values := []float64{0, 1, -1, 0.5, 100, -100, 65504}
	for _, f := range values {
		bits, ok := float64ToHalfBits(f)
		if !ok {
			t.Errorf("float64ToHalfBits(%v): expected exact round trip", f)
			continue
		}
		got := float64(halfBitsToFloat32(bits))
		if got != f {
			t.Errorf("half round trip of %v produced %v", f, got)
		}
	}
}

func TestHalfFloatRejectsImprecise(t *testing.T) {
	if _, ok := float64ToHalfBits(1.0 / 3.0); ok {
		t.Fatal("expected 1/3 to not fit in half precision")
	}
}

func TestWriterEncodesTrue(t *testing.T) {
	// Special kind=0, arg=3 for True: kind<<5 | arg = 0x03.
	w := &Writer{}
	w.WriteBool(true)
	if !bytes.Equal(w.Bytes(), []byte{0x03}) {
		t.Fatalf("got % X, want 03", w.Bytes())
	}
}

func TestWriterEncodesHello(t *testing.T) {
	// Bytes kind=7, arg=5 (byte length): kind<<5 | arg = 0xE5, then ASCII.
	w := &Writer{}
	w.WriteBytes([]byte("hello"))
	want := []byte{0xE5, 0x68, 0x65, 0x6C, 0x6C, 0x6F}
	if !bytes.Equal(w.Bytes(), want) {
		t.Fatalf("got % X, want % X", w.Bytes(), want)
	}
}

func TestWriterEncodesMapHeader(t *testing.T) {
	// Map kind=5, arg=2 (entry count): kind<<5 | arg = 0xA2.
	w := &Writer{}
	w.WriteMapHeader(2)
	if !bytes.Equal(w.Bytes(), []byte{0xA2}) {
		t.Fatalf("got % X, want A2", w.Bytes())
	}
}

func TestAtomHeaderRejectsOverlongContinuation(t *testing.T) {
	// A lead byte with the continuation flag, nine continuation bytes
	// that all carry the flag, and a tenth without it: nine
	// continuation bytes already cover any u64 argument, so a chain
	// that needs a tenth is malformed whatever that byte holds.
	buf := []byte{0x30, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x80, 0x00}
	_, _, err := readAtomHeader(NewSliceSource(buf))
	if !errors.Is(err, ErrInvalidAtomHeader) {
		t.Fatalf("got %v, want ErrInvalidAtomHeader", err)
	}
}

func TestPackedIntegerSizeBoundaries(t *testing.T) {
	cases := []struct {
		v    uint64
		want int
	}{
		{0, 2},
		{1<<8 - 1, 2},
		{1 << 8, 3},
		{1<<16 - 1, 3},
		{1 << 16, 4},
		{1<<24 - 1, 4},
		{1 << 24, 5},
		{1<<32 - 1, 5},
		{1 << 32, 7},
		{1<<48 - 1, 7},
		{1 << 48, 9},
		{^uint64(0), 9},
	}
	for _, c := range cases {
		w := &Writer{}
		w.WriteUint(c.v)
		if w.Len() != c.want {
			t.Errorf("WriteUint(%d) produced %d bytes, want %d", c.v, w.Len(), c.want)
		}
	}

	w := &Writer{}
	w.WriteUint128(Uint128{Lo: 0, Hi: 1}) // 2^64
	if w.Len() != 17 {
		t.Errorf("WriteUint128(2^64) produced %d bytes, want 17", w.Len())
	}
}

func TestPackedFloatSizeBoundaries(t *testing.T) {
	cases := []struct {
		f    float64
		want int
	}{
		{0, 3},
		{math.Inf(1), 3},
		{math.Inf(-1), 3},
		{0.1, 9},
	}
	for _, c := range cases {
		w := &Writer{}
		w.WriteFloat64(c.f)
		if w.Len() != c.want {
			t.Errorf("WriteFloat64(%v) produced %d bytes, want %d", c.f, w.Len(), c.want)
		}
	}

	w := &Writer{}
	w.WriteFloat32(0.1)
	if w.Len() != 5 {
		t.Errorf("WriteFloat32(0.1) produced %d bytes, want 5", w.Len())
	}
}

func TestFloat64RoundTripsBitExactly(t *testing.T) {
	cases := []float64{
		0, math.Copysign(0, -1), 1, -1, 0.1, 1.0 / 3.0,
		math.Inf(1), math.Inf(-1), math.NaN(),
		math.MaxFloat64, math.SmallestNonzeroFloat64, 65504,
	}
	for _, f := range cases {
		w := &Writer{}
		w.WriteFloat64(f)
		r := NewAtomReader(NewSliceSource(w.Bytes()), NoBudgetLimit)
		a, err := r.ReadAtom()
		if err != nil {
			t.Fatalf("WriteFloat64(%v): %v", f, err)
		}
		if math.Float64bits(a.FloatVal) != math.Float64bits(f) {
			t.Errorf("round trip of %v produced %v (bits %016x vs %016x)",
				f, a.FloatVal, math.Float64bits(a.FloatVal), math.Float64bits(f))
		}
	}
}

func TestNaNStaysFullWidth(t *testing.T) {
	w := &Writer{}
	w.WriteFloat64(math.NaN())
	if w.Len() != 9 {
		t.Fatalf("NaN encoded in %d bytes, want the full 9: narrowing would drop payload bits", w.Len())
	}
}
