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
	"errors"
	"testing"
)

func TestAtomReaderScalars(t *testing.T) {
	w := &Writer{}
	w.WriteNone()
	w.WriteBool(true)
	w.WriteInt(-5)
	w.WriteUint(300)
	w.WriteFloat64(0.5)
	w.WriteBytes([]byte("hi"))

	r := NewAtomReader(NewSliceSource(w.Bytes()), NoBudgetLimit)

	a, err := r.ReadAtom()
	if err != nil || a.Kind != KindSpecial || a.Special != SpecialNone {
		t.Fatalf("None: got %+v, err=%v", a, err)
	}
	a, err = r.ReadAtom()
	if err != nil || a.Kind != KindSpecial || a.Special != SpecialTrue {
		t.Fatalf("True: got %+v, err=%v", a, err)
	}
	a, err = r.ReadAtom()
	if err != nil || a.Kind != KindInt || a.IntVal != -5 {
		t.Fatalf("Int: got %+v, err=%v", a, err)
	}
	a, err = r.ReadAtom()
	if err != nil || a.Kind != KindUInt || a.UintVal != 300 {
		t.Fatalf("UInt: got %+v, err=%v", a, err)
	}
	a, err = r.ReadAtom()
	if err != nil || a.Kind != KindFloat || a.FloatVal != 0.5 {
		t.Fatalf("Float: got %+v, err=%v", a, err)
	}
	a, err = r.ReadAtom()
	if err != nil || a.Kind != KindBytes || string(a.Bytes) != "hi" {
		t.Fatalf("Bytes: got %+v, err=%v", a, err)
	}
}

func TestAtomReaderPeekIsIdempotent(t *testing.T) {
	w := &Writer{}
	w.WriteUint(7)
	r := NewAtomReader(NewSliceSource(w.Bytes()), NoBudgetLimit)

	first, err := r.PeekAtom()
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.PeekAtom()
	if err != nil {
		t.Fatal(err)
	}
	if first.UintVal != second.UintVal {
		t.Fatalf("peek not idempotent: %+v vs %+v", first, second)
	}
	third, err := r.ReadAtom()
	if err != nil || third.UintVal != 7 {
		t.Fatalf("ReadAtom after Peek: got %+v, err=%v", third, err)
	}
}

func TestAtomReaderBudgetExhausted(t *testing.T) {
	w := &Writer{}
	w.WriteBytes([]byte("0123456789"))
	r := NewAtomReader(NewSliceSource(w.Bytes()), 4)
	if _, err := r.ReadAtom(); !errors.Is(err, ErrTooManyBytesRead) {
		t.Fatalf("got %v, want ErrTooManyBytesRead", err)
	}
}

func TestAtomReaderBorrowedFromSlice(t *testing.T) {
	w := &Writer{}
	w.WriteBytes([]byte("borrowed"))
	r := NewAtomReader(NewSliceSource(w.Bytes()), NoBudgetLimit)
	a, err := r.ReadAtom()
	if err != nil {
		t.Fatal(err)
	}
	if !a.Borrowed {
		t.Fatal("expected slice-backed Source to produce a borrowed Bytes atom")
	}
}

func TestWideIntRoundTrip(t *testing.T) {
	w := &Writer{}
	v := Uint128{Lo: 0x1122334455667788, Hi: 0x99AABBCCDDEEFF00}
	w.WriteUint128(v)
	r := NewAtomReader(NewSliceSource(w.Bytes()), NoBudgetLimit)
	a, err := r.ReadAtom()
	if err != nil {
		t.Fatal(err)
	}
	if a.Wide == nil || *a.Wide != v {
		t.Fatalf("got %+v, want %+v", a.Wide, v)
	}
}
