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

//go:build !unix

package pot

import "os"

// OpenMapped reads path into memory and returns a slice-backed Source
// over it. Platforms without the unix mmap build tag (see
// mmap_unix.go) get the same zero-copy-after-load Source interface at
// the cost of one upfront read instead of a true memory mapping.
func OpenMapped(path string) (Source, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, wrapError(KindIO, err, "reading %s", path)
	}
	return NewSliceSource(data), func() error { return nil }, nil
}
