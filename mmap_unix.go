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

//go:build unix

package pot

import (
	"os"

	"golang.org/x/sys/unix"
)

// mappedSource is a Source backed by an mmap'd file, handed out by
// OpenMapped. Closing it unmaps the file; nothing after Close may
// reference slices previously borrowed from it.
type mappedSource struct {
	sliceSource
	data []byte
}

func (m *mappedSource) Close() error {
	if m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	return unix.Munmap(data)
}

// OpenMapped memory-maps path read-only and returns a Source over its
// contents plus a close function that unmaps it. Every ReadFull on the
// returned Source borrows directly from the mapping: decoding a large
// persisted Pot payload this way never copies it into the process
// heap.
func OpenMapped(path string) (Source, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, wrapError(KindIO, err, "opening %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, wrapError(KindIO, err, "stat %s", path)
	}
	size := info.Size()
	if size == 0 {
		return NewSliceSource(nil), func() error { return nil }, nil
	}
	if size > int64(^uint(0)>>1) {
		return nil, nil, newError(KindIO, "file %s too large to map", path)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, wrapError(KindIO, err, "mmap %s", path)
	}
	m := &mappedSource{data: data}
	m.sliceSource.buf = data
	return m, m.Close, nil
}
