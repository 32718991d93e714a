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

package grid

import (
	"encoding/binary"

	"github.com/dchest/siphash"
)

// hashSeed matches the fixed seed sneller's zion package uses for its
// column-id hashing; any fixed seed works as long as every node in
// the cluster uses the same one.
const hashSeed = 0

// ColumnHash computes the column-id-hash that identifies the schema
// shared by a set of GridBuffers, the same way zion.hash64 hashes a
// single symbol: SipHash-2-4 over the little-endian column-id bytes.
// Two buffers with the same column ids in the same order always hash
// identically; this is the value WindowHeap uses to reject
// mismatched-schema buffers at push time (see §3/§4.1 of the ingest
// specification).
func ColumnHash(colIDs []uint32) uint32 {
	buf := make([]byte, 4*len(colIDs))
	for i, id := range colIDs {
		binary.LittleEndian.PutUint32(buf[i*4:], id)
	}
	full := siphash.Hash(hashSeed, 0, buf)
	// fold the 64-bit siphash output down to 32 bits; the wire format
	// and the spec's col_ids_hash are both u32.
	return uint32(full) ^ uint32(full>>32)
}
