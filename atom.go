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

import "math"

// Atom is one decoded token from the stream: a header plus whatever
// payload the header's Kind implies has already been consumed. Which
// fields are meaningful is determined entirely by Kind; the decoded
// payload (the nucleus) is folded directly into the struct instead of
// wrapped in an option type.
//
// For KindSequence, KindMap and KindSymbol, Arg carries all the
// information this layer produces (element/entry count, or the
// symbol's new-vs-reference bit plus length/ID); no further bytes are
// consumed here; KindSymbol's new-symbol bytes are read separately by
// the symbol table, not by ReadAtom, so a zero-copy symbol table can
// decide for itself whether to borrow or copy them.
type Atom struct {
	Kind Kind
	Arg  uint64

	Special  Special // meaningful iff Kind == KindSpecial
	IntVal   int64   // meaningful iff Kind == KindInt and Wide == nil
	UintVal  uint64  // meaningful iff Kind == KindUInt and Wide == nil
	FloatVal float64 // meaningful iff Kind == KindFloat
	Bytes    []byte  // meaningful iff Kind == KindBytes
	Borrowed bool    // whether Bytes aliases the Source's own storage

	// Wide carries the magnitude of a 16-byte Int/UInt atom that does
	// not fit in IntVal/UintVal. nil for every narrower width.
	Wide *Uint128
}

// Uint128 is a 128-bit unsigned magnitude, little bit-endian in the
// sense that Lo holds bits 0..63 and Hi bits 64..127. Int atoms with a
// 16-byte width store their two's-complement bit pattern here too;
// the sign is then the top bit of Hi.
type Uint128 struct {
	Lo, Hi uint64
}

// AtomReader layers the typed Atom token abstraction on top of a
// Source, enforcing the caller-supplied allocation budget and
// buffering any peeked atoms in a small FIFO so that Option
// disambiguation and dynamic-map lookahead never need a fallible
// rewind.
type AtomReader struct {
	src    Source
	budget uint64
	peeked []Atom
}

// NoBudgetLimit is the allocation budget value that effectively
// disables the budget check (Config.AllocationBudget's zero value
// maps to this).
const NoBudgetLimit = ^uint64(0)

// NewAtomReader returns an AtomReader over src that will fail with
// KindTooManyBytesRead once it has read more than budget bytes'
// worth of variable-size payloads (Bytes contents, and the in-memory
// size of numeric payloads).
func NewAtomReader(src Source, budget uint64) *AtomReader {
	return &AtomReader{src: src, budget: budget}
}

func (r *AtomReader) deduct(n int) error {
	if n < 0 {
		return nil
	}
	if r.budget == NoBudgetLimit {
		return nil
	}
	if uint64(n) > r.budget {
		return newError(KindTooManyBytesRead, "allocation budget exhausted reading %d bytes", n)
	}
	r.budget -= uint64(n)
	return nil
}

// ReadAtom returns the next atom, either from the peek FIFO or freshly
// decoded from the underlying Source.
func (r *AtomReader) ReadAtom() (Atom, error) {
	if len(r.peeked) > 0 {
		a := r.peeked[0]
		r.peeked = r.peeked[1:]
		return a, nil
	}
	return r.readFresh()
}

// PeekAtom returns the next atom without consuming it; a subsequent
// ReadAtom or PeekAtom call returns the same value.
func (r *AtomReader) PeekAtom() (Atom, error) {
	if len(r.peeked) > 0 {
		return r.peeked[0], nil
	}
	a, err := r.readFresh()
	if err != nil {
		return Atom{}, err
	}
	r.peeked = append(r.peeked, a)
	return a, nil
}

// ReadRaw reads n raw bytes directly from the underlying Source,
// deducting from the allocation budget. It is used by the symbol
// table to fetch a new symbol's UTF-8 bytes, which live outside the
// atom-header framing ReadAtom understands.
func (r *AtomReader) ReadRaw(n int) (data []byte, borrowed bool, err error) {
	if err := r.deduct(n); err != nil {
		return nil, false, err
	}
	data, borrowed, err = r.src.ReadFull(n)
	if err != nil {
		return nil, false, ioError(err)
	}
	return data, borrowed, nil
}

func (r *AtomReader) readFresh() (Atom, error) {
	kind, arg, err := readAtomHeader(r.src)
	if err != nil {
		return Atom{}, err
	}
	a := Atom{Kind: kind, Arg: arg}
	switch kind {
	case KindSpecial:
		sp, err := specialFromArg(arg)
		if err != nil {
			return Atom{}, err
		}
		a.Special = sp
	case KindInt, KindUInt:
		n := int(arg) + 1
		if !isSupportedIntWidth(n) {
			return Atom{}, newError(KindUnsupportedByteCount, "integer width %d unsupported", n)
		}
		// The 3- and 6-byte compaction forms widen to 32 and 64 bits.
		mem := n
		switch n {
		case 3:
			mem = 4
		case 6:
			mem = 8
		}
		if err := r.deduct(mem); err != nil {
			return Atom{}, err
		}
		data, _, err := r.src.ReadFull(n)
		if err != nil {
			return Atom{}, ioError(err)
		}
		if n == 16 {
			a.Wide = &Uint128{
				Lo: decodeUintLE(data[:8]),
				Hi: decodeUintLE(data[8:]),
			}
		} else if kind == KindInt {
			a.IntVal = signExtend(decodeUintLE(data), n)
		} else {
			a.UintVal = decodeUintLE(data)
		}
	case KindFloat:
		n := int(arg) + 1
		if !isSupportedFloatWidth(n) {
			return Atom{}, newError(KindUnsupportedByteCount, "float width %d unsupported", n)
		}
		// A half-precision payload widens to single precision.
		mem := n
		if n == 2 {
			mem = 4
		}
		if err := r.deduct(mem); err != nil {
			return Atom{}, err
		}
		data, _, err := r.src.ReadFull(n)
		if err != nil {
			return Atom{}, ioError(err)
		}
		switch n {
		case 2:
			a.FloatVal = float64(halfBitsToFloat32(uint16(decodeUintLE(data))))
		case 4:
			a.FloatVal = float64(math.Float32frombits(uint32(decodeUintLE(data))))
		case 8:
			a.FloatVal = math.Float64frombits(decodeUintLE(data))
		}
	case KindBytes:
		n, err := argToLen(arg)
		if err != nil {
			return Atom{}, err
		}
		if err := r.deduct(n); err != nil {
			return Atom{}, err
		}
		data, borrowed, err := r.src.ReadFull(n)
		if err != nil {
			return Atom{}, ioError(err)
		}
		a.Bytes = data
		a.Borrowed = borrowed
	case KindSequence, KindMap, KindSymbol:
		// Arg alone carries everything this layer produces.
	}
	return a, nil
}

func decodeUintLE(data []byte) uint64 {
	var u uint64
	for i := len(data) - 1; i >= 0; i-- {
		u = u<<8 | uint64(data[i])
	}
	return u
}

// Writer is the atom-stream writing half of component C: it knows how
// to pack a value into the narrowest legal atom but nothing about
// symbol tables or host types. Encoder (see marshal.go) builds on top
// of it.
type Writer struct {
	buf []byte
}

// Bytes returns the bytes written so far. The returned slice aliases
// the Writer's internal buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Reset empties the Writer for reuse.
func (w *Writer) Reset() { w.buf = w.buf[:0] }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) writeSpecial(s Special) {
	w.buf = appendAtomHeader(w.buf, KindSpecial, uint64(s))
}

func (w *Writer) WriteNone()       { w.writeSpecial(SpecialNone) }
func (w *Writer) WriteUnit()       { w.writeSpecial(SpecialUnit) }
func (w *Writer) WriteNamed()      { w.writeSpecial(SpecialNamed) }
func (w *Writer) WriteDynamicMap() { w.writeSpecial(SpecialDynamicMap) }
func (w *Writer) WriteDynamicEnd() { w.writeSpecial(SpecialDynamicEnd) }

func (w *Writer) WriteBool(b bool) {
	if b {
		w.writeSpecial(SpecialTrue)
	} else {
		w.writeSpecial(SpecialFalse)
	}
}

// WriteInt writes a signed integer, narrowing to the smallest of
// {1,2,3,4,6,8} bytes that represents it exactly. It never switches to
// an unsigned form, even for non-negative values.
func (w *Writer) WriteInt(v int64) {
	width := narrowIntWidth(v)
	w.buf = appendAtomHeader(w.buf, KindInt, uint64(width-1))
	w.buf = appendIntBytes(w.buf, v, width)
}

// WriteUint writes an unsigned integer, narrowing to the smallest of
// {1,2,3,4,6,8} bytes that holds it.
func (w *Writer) WriteUint(v uint64) {
	width := narrowUintWidth(v)
	w.buf = appendAtomHeader(w.buf, KindUInt, uint64(width-1))
	u := v
	for i := 0; i < width; i++ {
		w.buf = append(w.buf, byte(u))
		u >>= 8
	}
}

func (w *Writer) writeUint128(kind Kind, v Uint128) {
	w.buf = appendAtomHeader(w.buf, kind, 15)
	u := v.Lo
	for i := 0; i < 8; i++ {
		w.buf = append(w.buf, byte(u))
		u >>= 8
	}
	u = v.Hi
	for i := 0; i < 8; i++ {
		w.buf = append(w.buf, byte(u))
		u >>= 8
	}
}

// WriteUint128 writes a full-width 128-bit unsigned magnitude without
// attempting to narrow it; used by the value tree when round-tripping
// a decoded 16-byte atom it cannot represent in a uint64.
func (w *Writer) WriteUint128(v Uint128) { w.writeUint128(KindUInt, v) }

// WriteInt128 writes a full-width 128-bit two's-complement magnitude.
func (w *Writer) WriteInt128(v Uint128) { w.writeUint128(KindInt, v) }

// WriteFloat64 writes f, narrowing to half (2 bytes) if that
// round-trips bit-exactly, else single (4 bytes), else the full
// double. NaN is always written at full width: NaN payload bits are
// only preserved through the non-narrowing path.
func (w *Writer) WriteFloat64(f float64) {
	if math.IsNaN(f) {
		w.writeFloat64Raw(f)
		return
	}
	if half, ok := float64ToHalfBits(f); ok {
		w.buf = appendAtomHeader(w.buf, KindFloat, 1)
		w.buf = append(w.buf, byte(half), byte(half>>8))
		return
	}
	if f32 := float32(f); float64(f32) == f {
		w.buf = appendAtomHeader(w.buf, KindFloat, 3)
		bits := math.Float32bits(f32)
		w.buf = append(w.buf, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
		return
	}
	w.writeFloat64Raw(f)
}

func (w *Writer) writeFloat64Raw(f float64) {
	w.buf = appendAtomHeader(w.buf, KindFloat, 7)
	bits := math.Float64bits(f)
	for i := 0; i < 8; i++ {
		w.buf = append(w.buf, byte(bits))
		bits >>= 8
	}
}

// WriteFloat32 writes f narrowed to half if exact, else as a full
// single-precision atom; it never promotes to double.
func (w *Writer) WriteFloat32(f float32) {
	if half, ok := float32ToHalfBits(f); ok && !math.IsNaN(float64(f)) {
		w.buf = appendAtomHeader(w.buf, KindFloat, 1)
		w.buf = append(w.buf, byte(half), byte(half>>8))
		return
	}
	w.buf = appendAtomHeader(w.buf, KindFloat, 3)
	bits := math.Float32bits(f)
	w.buf = append(w.buf, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
}

// WriteBytes writes a raw byte string atom.
func (w *Writer) WriteBytes(data []byte) {
	w.buf = appendAtomHeader(w.buf, KindBytes, uint64(len(data)))
	w.buf = append(w.buf, data...)
}

// WriteSequenceHeader begins a fixed-length sequence of n elements;
// the caller writes the n element atoms itself.
func (w *Writer) WriteSequenceHeader(n int) {
	w.buf = appendAtomHeader(w.buf, KindSequence, uint64(n))
}

// WriteMapHeader begins a fixed-length map of n entries; the caller
// writes 2*n alternating key/value atoms itself.
func (w *Writer) WriteMapHeader(n int) {
	w.buf = appendAtomHeader(w.buf, KindMap, uint64(n))
}

// WriteSymbolRef writes a reference to an already-interned symbol.
func (w *Writer) WriteSymbolRef(id Symbol) {
	w.buf = appendAtomHeader(w.buf, KindSymbol, uint64(id)<<1|1)
}

// WriteSymbolNew writes a brand-new symbol's header and raw UTF-8
// bytes inline (not as a separate Bytes atom).
func (w *Writer) WriteSymbolNew(name string) {
	w.buf = appendAtomHeader(w.buf, KindSymbol, uint64(len(name))<<1)
	w.buf = append(w.buf, name...)
}
