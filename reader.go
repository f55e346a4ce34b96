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
	"bufio"
	"io"
)

// Source is the byte-supply abstraction the atom stream reads from.
// A slice-backed Source can hand back slices that alias its own
// storage (zero-copy); a stream-backed Source must copy into a
// scratch buffer it owns. Callers can tell which happened from the
// borrowed return value of ReadFull.
//
// After a successful read of n bytes, n bytes have been consumed from
// the source; there are no short reads except at EOF, which is always
// reported as an error.
type Source interface {
	io.ByteReader

	// ReadFull returns exactly n bytes, or an error if fewer than n
	// remain. When borrowed is true, data aliases the Source's own
	// backing array and remains valid only as long as the Source
	// itself (and nothing the Source does afterward overwrites it);
	// when false, data is scratch memory owned by the Source that
	// will be overwritten by the next call.
	ReadFull(n int) (data []byte, borrowed bool, err error)
}

// sliceSource is a zero-copy Source over an in-memory byte slice.
type sliceSource struct {
	buf []byte
	pos int
}

// NewSliceSource returns a Source that borrows directly from buf.
// Every ReadFull call on the result returns borrowed == true.
func NewSliceSource(buf []byte) Source {
	return &sliceSource{buf: buf}
}

func (s *sliceSource) ReadByte() (byte, error) {
	if s.pos >= len(s.buf) {
		return 0, io.EOF
	}
	b := s.buf[s.pos]
	s.pos++
	return b, nil
}

func (s *sliceSource) ReadFull(n int) ([]byte, bool, error) {
	if n < 0 {
		return nil, false, newError(KindInvalidAtomHeader, "negative read length")
	}
	if len(s.buf)-s.pos < n {
		return nil, false, io.ErrUnexpectedEOF
	}
	data := s.buf[s.pos : s.pos+n]
	s.pos += n
	return data, true, nil
}

// Remaining returns the unread bytes left in a slice-backed Source,
// without consuming them. Used by decode to detect KindTrailingBytes.
func (s *sliceSource) Remaining() []byte {
	return s.buf[s.pos:]
}

// streamSource is a Source over an io.Reader. Every read is copied
// into a scratch buffer the streamSource owns and reuses, so the
// decoder must copy out anything it needs to keep beyond the next
// read.
type streamSource struct {
	r       *bufio.Reader
	scratch []byte
}

// NewStreamSource returns a Source that reads from r, copying into an
// internally owned and reused scratch buffer. Use this for sources
// that cannot expose their bytes as a contiguous slice (sockets,
// pipes, compressed streams).
func NewStreamSource(r io.Reader) Source {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &streamSource{r: br}
}

func (s *streamSource) ReadByte() (byte, error) {
	return s.r.ReadByte()
}

func (s *streamSource) ReadFull(n int) ([]byte, bool, error) {
	if cap(s.scratch) < n {
		s.scratch = make([]byte, n)
	} else {
		s.scratch = s.scratch[:n]
	}
	if _, err := io.ReadFull(s.r, s.scratch); err != nil {
		return nil, false, err
	}
	return s.scratch, false, nil
}
