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
	"reflect"
	"sort"
	"unsafe"

	"github.com/dchest/siphash"
	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

// Symbol is the small integer a symbol table assigns to an interned
// string. IDs are dense, start at 0, and are never reused or
// reordered within a session.
type Symbol uint64

// EncoderSymbols is the encode-side half of the symbol table contract.
type EncoderSymbols interface {
	// FindOrRegister returns the Symbol for s, registering it (and
	// reporting isNew) if this is the first time s has appeared in the
	// session.
	FindOrRegister(s string) (id Symbol, isNew bool)
}

// DecoderSymbols is the decode-side half of the symbol table contract.
type DecoderSymbols interface {
	Lookup(id Symbol) (string, bool)
	AppendBorrowed(s string)
	AppendOwned(s string)
	MaxID() int
}

// addrEntry and contentEntry back the two sorted indices of the
// encoder-side tables: a fast path keyed by the interned string's
// backing address (no hashing), and a binary-search fallback keyed by
// string content for symbols that were not built from address-stable
// literals.
type addrEntry struct {
	addr uintptr
	id   Symbol
}

type contentEntry struct {
	s  string
	id Symbol
}

// stringAddr returns the address of s's backing bytes, or 0 for the
// empty string. An address alone does not identify a string (a
// substring shares its parent's address, and freed memory is reused),
// so every address-index hit is confirmed by comparing contents, which
// is cheap when both strings share the same bytes.
func stringAddr(s string) uintptr {
	if len(s) == 0 {
		return 0
	}
	return (*reflect.StringHeader)(unsafe.Pointer(&s)).Data
}

// unsafeString builds a string that aliases b without copying. Callers
// must only use this when they can guarantee b outlives the string
// (i.e. b was itself borrowed from a slice-backed Source).
func unsafeString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return *(*string)(unsafe.Pointer(&b))
}

// internIndex is the shared O(log n) dedup structure used by both the
// ephemeral and persistent encoder-side tables.
type internIndex struct {
	byAddr    []addrEntry
	byContent []contentEntry
}

func (x *internIndex) lookupAddr(addr uintptr) (Symbol, bool) {
	i := sort.Search(len(x.byAddr), func(i int) bool { return x.byAddr[i].addr >= addr })
	if i < len(x.byAddr) && x.byAddr[i].addr == addr {
		return x.byAddr[i].id, true
	}
	return 0, false
}

func (x *internIndex) insertAddr(addr uintptr, id Symbol) {
	i := sort.Search(len(x.byAddr), func(i int) bool { return x.byAddr[i].addr >= addr })
	x.byAddr = append(x.byAddr, addrEntry{})
	copy(x.byAddr[i+1:], x.byAddr[i:])
	x.byAddr[i] = addrEntry{addr, id}
}

func (x *internIndex) lookupContent(s string) (Symbol, bool) {
	i := sort.Search(len(x.byContent), func(i int) bool { return x.byContent[i].s >= s })
	if i < len(x.byContent) && x.byContent[i].s == s {
		return x.byContent[i].id, true
	}
	return 0, false
}

func (x *internIndex) insertContent(s string, id Symbol) {
	i := sort.Search(len(x.byContent), func(i int) bool { return x.byContent[i].s >= s })
	x.byContent = append(x.byContent, contentEntry{})
	copy(x.byContent[i+1:], x.byContent[i:])
	x.byContent[i] = contentEntry{s, id}
}

// findOrRegister implements the shared dedup algorithm: try the
// address fast path, fall back to content, and on a miss assign the
// next dense ID and grow both indices plus names.
func (x *internIndex) findOrRegister(names *[]string, s string) (Symbol, bool) {
	addr := stringAddr(s)
	if addr != 0 {
		if id, ok := x.lookupAddr(addr); ok && (*names)[id] == s {
			return id, false
		}
	}
	if id, ok := x.lookupContent(s); ok {
		if addr != 0 {
			x.insertAddr(addr, id)
		}
		return id, false
	}
	id := Symbol(len(*names))
	*names = append(*names, s)
	x.insertContent(s, id)
	if addr != 0 {
		x.insertAddr(addr, id)
	}
	return id, true
}

// hashBucket computes a fixed-key SipHash-2-4 digest of s. It backs an
// optional secondary lookup structure large persistent tables can use
// instead of the plain sorted byContent index, trading the O(log n)
// comparison-based search for an O(1) expected bucket probe; see
// PersistentSymbolTable.hashIdx.
func hashBucket(key [2]uint64, s string) uint64 {
	return siphash.Hash(key[0], key[1], []byte(s))
}

// EphemeralSymbolTable is a per-payload symbol table: the encoder side
// of a single Encode call that was not handed a PersistentSymbolTable.
type EphemeralSymbolTable struct {
	idx   internIndex
	names []string
}

// NewEphemeralSymbolTable returns an empty per-payload table.
func NewEphemeralSymbolTable() *EphemeralSymbolTable { return &EphemeralSymbolTable{} }

func (t *EphemeralSymbolTable) FindOrRegister(s string) (Symbol, bool) {
	return t.idx.findOrRegister(&t.names, s)
}

// Reset clears the table so it can be reused for the next payload
// without reallocating its backing arrays.
func (t *EphemeralSymbolTable) Reset() {
	t.names = t.names[:0]
	t.idx.byAddr = t.idx.byAddr[:0]
	t.idx.byContent = t.idx.byContent[:0]
}

// ephemeralDecoderSymbols is the decode-side counterpart: a single
// append-only list indexed by ID, living only for the one decode.
// Borrowed strings may alias the source buffer; nothing here copies.
type ephemeralDecoderSymbols struct {
	names []string
}

func (d *ephemeralDecoderSymbols) Lookup(id Symbol) (string, bool) {
	if int(id) < len(d.names) {
		return d.names[id], true
	}
	return "", false
}

func (d *ephemeralDecoderSymbols) AppendBorrowed(s string) { d.names = append(d.names, s) }
func (d *ephemeralDecoderSymbols) AppendOwned(s string)    { d.names = append(d.names, s) }
func (d *ephemeralDecoderSymbols) MaxID() int              { return len(d.names) }

// PersistentSymbolTable is a symbol table shared across a sequence of
// payloads. It owns all of its strings: even when fed a borrowed
// decode, it copies the bytes in, since its storage must outlive any
// single decode's Source. A PersistentSymbolTable is owned exclusively
// by one user for the duration of each encode/decode; concurrent use
// must be serialized by the caller.
type PersistentSymbolTable struct {
	// SessionID distinguishes one long-lived table from another in the
	// embedding application's own logs/metrics; it is never written to
	// the wire.
	SessionID uuid.UUID

	idx   internIndex
	names []string

	// hashKey/hashIdx back an optional secondary bucket index used by
	// LargeTableHint (see below) for tables with many thousands of
	// symbols, where a plain binary search fallback starts to show up
	// in profiles next to the address fast path.
	hashKey [2]uint64
	hashIdx map[uint64][]Symbol
	hashBig bool
}

// NewPersistentSymbolTable returns an empty persistent table tagged
// with a fresh session ID.
func NewPersistentSymbolTable() *PersistentSymbolTable {
	return &PersistentSymbolTable{SessionID: uuid.New()}
}

// LargeTableHint switches on the SipHash-backed bucket index as soon
// as it is called, whatever the table's current size; it pays off once
// the table has grown past a size where comparison-based binary search
// starts costing more than a keyed hash probe. Safe to call at any
// time; it is a performance hint, not a correctness requirement.
func (p *PersistentSymbolTable) LargeTableHint() {
	if p.hashBig {
		return
	}
	p.hashBig = true
	if p.hashIdx == nil {
		p.hashKey = [2]uint64{0x6f70646c65646f70, uint64(len(p.names))}
		p.hashIdx = make(map[uint64][]Symbol, len(p.names))
		for i, s := range p.names {
			h := hashBucket(p.hashKey, s)
			p.hashIdx[h] = append(p.hashIdx[h], Symbol(i))
		}
	}
}

func (p *PersistentSymbolTable) findByHash(s string) (Symbol, bool) {
	h := hashBucket(p.hashKey, s)
	for _, id := range p.hashIdx[h] {
		if int(id) < len(p.names) && p.names[id] == s {
			return id, true
		}
	}
	return 0, false
}

func (p *PersistentSymbolTable) FindOrRegister(s string) (Symbol, bool) {
	addr := stringAddr(s)
	if addr != 0 {
		if id, ok := p.idx.lookupAddr(addr); ok && p.names[id] == s {
			return id, false
		}
	}
	if p.hashBig {
		if id, ok := p.findByHash(s); ok {
			if addr != 0 {
				p.idx.insertAddr(addr, id)
			}
			return id, false
		}
	} else if id, ok := p.idx.lookupContent(s); ok {
		if addr != 0 {
			p.idx.insertAddr(addr, id)
		}
		return id, false
	}
	id := Symbol(len(p.names))
	p.names = append(p.names, s)
	if p.hashBig {
		h := hashBucket(p.hashKey, s)
		p.hashIdx[h] = append(p.hashIdx[h], id)
	} else {
		p.idx.insertContent(s, id)
	}
	if addr != 0 {
		p.idx.insertAddr(addr, id)
	}
	return id, true
}

func (p *PersistentSymbolTable) Lookup(id Symbol) (string, bool) {
	if int(id) < len(p.names) {
		return p.names[id], true
	}
	return "", false
}

// AppendBorrowed registers s as the next symbol ID, copying its bytes
// since a persistent table must own storage beyond the lifetime of
// whatever Source s was decoded from.
func (p *PersistentSymbolTable) AppendBorrowed(s string) {
	owned := string(append([]byte(nil), s...))
	p.appendOwned(owned)
}

// AppendOwned registers s, which the caller already guarantees is
// independently allocated (e.g. built via string(scratchBytes), which
// always copies).
func (p *PersistentSymbolTable) AppendOwned(s string) { p.appendOwned(s) }

func (p *PersistentSymbolTable) appendOwned(s string) {
	id := Symbol(len(p.names))
	p.names = append(p.names, s)
	if p.hashBig {
		h := hashBucket(p.hashKey, s)
		p.hashIdx[h] = append(p.hashIdx[h], id)
	} else {
		p.idx.insertContent(s, id)
	}
	if addr := stringAddr(s); addr != 0 {
		p.idx.insertAddr(addr, id)
	}
}

func (p *PersistentSymbolTable) MaxID() int { return len(p.names) }

// Serialize writes the table as a Sequence of string atoms in ID
// order.
func (p *PersistentSymbolTable) Serialize(w *Writer) {
	w.WriteSequenceHeader(len(p.names))
	for _, s := range p.names {
		w.WriteBytes([]byte(s))
	}
}

// Deserialize reconstructs the table from r, accepting any order in
// the incoming Sequence but preserving that order as the ID
// assignment, replacing whatever the table previously held.
func (p *PersistentSymbolTable) Deserialize(r *AtomReader) error {
	a, err := r.ReadAtom()
	if err != nil {
		return err
	}
	if a.Kind != KindSequence {
		return newError(KindUnexpectedKind, "expected Sequence for symbol table, got %s", a.Kind)
	}
	n, err := argToLen(a.Arg)
	if err != nil {
		return err
	}
	p.names = make([]string, 0, capHint(n))
	p.idx = internIndex{}
	p.hashIdx = nil
	p.hashBig = false
	for i := 0; i < n; i++ {
		sa, err := r.ReadAtom()
		if err != nil {
			return err
		}
		if sa.Kind != KindBytes {
			return newError(KindUnexpectedKind, "expected Bytes for symbol table entry, got %s", sa.Kind)
		}
		var s string
		if sa.Borrowed {
			s = string(append([]byte(nil), sa.Bytes...))
		} else {
			s = string(sa.Bytes)
		}
		id := Symbol(len(p.names))
		p.names = append(p.names, s)
		p.idx.insertContent(s, id)
	}
	return nil
}

// Prefill walks v (a struct, slice, map, or pointer thereof) and
// registers every symbol it would use as a struct key or variant name
// without emitting any atoms, pre-sharing a dictionary of field names
// across many payloads before the first one is ever encoded.
func (p *PersistentSymbolTable) Prefill(v any) error {
	return walkSymbols(p, reflect.ValueOf(v))
}

// symtabEqualNames reports whether two encoder tables would serialize
// to the same symbol sequence: tables that saw identical symbols in
// identical order serialize identically.
func symtabEqualNames(a, b []string) bool {
	return slices.Equal(a, b)
}
