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

import "io"

// EncoderSession writes a sequence of Pot payloads to one writer,
// interning symbols through the persistent table it was created from.
// Symbols registered while encoding earlier payloads are emitted as
// ID references in later ones, so a symbol that repeats across
// payloads carries its full string only once in the stream. IDs keep
// growing across the session, so a reference to a symbol first seen
// in a late payload can need a longer atom header than it would under
// a fresh per-payload table; a session whose payloads share no
// symbols can come out larger than the same payloads encoded
// independently.
//
// The producing EncoderSession and the consuming DecoderSession must
// process payloads in the same order; if an Encode call fails partway,
// the table may hold symbols the consumer never saw and the stream
// must be treated as poisoned.
type EncoderSession struct {
	// Compatibility selects the unit-variant wire convention for every
	// payload in the session; see CompatibilityMode.
	Compatibility CompatibilityMode

	tab *PersistentSymbolTable
	w   io.Writer
	buf Writer
}

// EncoderSession binds p to w for a sequence of Encode calls.
func (p *PersistentSymbolTable) EncoderSession(w io.Writer) *EncoderSession {
	return &EncoderSession{tab: p, w: w}
}

// Encode writes one complete payload (file header plus atoms) to the
// session's writer.
func (s *EncoderSession) Encode(v any) error {
	s.buf.Reset()
	s.buf.buf = writeFileHeader(s.buf.buf, CurrentVersion)
	enc := NewEncoder(&s.buf, s.tab, s.Compatibility)
	if err := enc.Encode(v); err != nil {
		return err
	}
	if _, err := s.w.Write(s.buf.Bytes()); err != nil {
		return wrapError(KindIO, err, "writing payload")
	}
	return nil
}

// DecoderSession reads a sequence of Pot payloads from one source,
// resolving and accumulating symbols through the persistent table it
// was created from. It is the consuming counterpart of EncoderSession
// and must see the payloads in the order they were encoded.
type DecoderSession struct {
	// AllocationBudget caps the payload bytes each individual Decode
	// call may read; zero means no limit. The budget resets for every
	// payload.
	AllocationBudget uint64

	// Compatibility must match the encoding session's mode.
	Compatibility CompatibilityMode

	// StrictVersion requires each payload's version byte to equal
	// CurrentVersion exactly instead of accepting anything up to it.
	StrictVersion bool

	tab *PersistentSymbolTable
	src Source
}

// DecoderSession binds p to src for a sequence of Decode calls.
func (p *PersistentSymbolTable) DecoderSession(src Source) *DecoderSession {
	return &DecoderSession{tab: p, src: src}
}

// Decode reads one complete payload (file header plus one value) into
// dst, which must be a non-nil pointer. Unlike the top-level Decode,
// bytes remaining after the value are not an error: they are the next
// payload in the session.
func (s *DecoderSession) Decode(dst any) error {
	hdr, _, err := s.src.ReadFull(4)
	if err != nil {
		return ioError(err)
	}
	version, _, err := readFileHeader(hdr, CurrentVersion)
	if err != nil {
		return err
	}
	if s.StrictVersion && version != CurrentVersion {
		return newError(KindIncompatibleVersion, "version %d is not exactly %d", version, CurrentVersion)
	}
	budget := uint64(NoBudgetLimit)
	if s.AllocationBudget != 0 {
		budget = s.AllocationBudget
	}
	ar := NewAtomReader(s.src, budget)
	dec := NewDecoder(ar, s.tab, s.Compatibility)
	return dec.Decode(dst)
}
