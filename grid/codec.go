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
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// bufMagic tags the start of an encoded Buffer the same way tnproto's
// headerMagic tags a tenant-protocol header: a fixed, arbitrary
// constant that can never be confused for the start of any other
// framing this service uses.
const bufMagic uint32 = 0xd20b10b0

// ToBytes serializes the buffer to its wire form: a small fixed
// header (magic, column count, column ids, column-id hash, row count)
// followed by one tagged cell per (row, col) in row-major order.
func (b *Buffer) ToBytes() []byte {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], bufMagic)
	buf.Write(hdr[:])

	writeU32(&buf, uint32(len(b.colIDs)))
	for _, id := range b.colIDs {
		writeU32(&buf, id)
	}
	writeU32(&buf, b.colIDsHash)
	writeU32(&buf, uint32(len(b.rows)))

	for _, row := range b.rows {
		for _, c := range row {
			writeCell(&buf, c)
		}
	}
	return buf.Bytes()
}

// ToBase64 returns the base64 (standard encoding) representation of
// ToBytes, the line format written to intermediate and sorted files.
func (b *Buffer) ToBase64() string {
	return base64.StdEncoding.EncodeToString(b.ToBytes())
}

// FromBytes decodes a Buffer previously produced by ToBytes.
func FromBytes(data []byte) (*Buffer, error) {
	r := bytes.NewReader(data)
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("grid: reading header: %w", err)
	}
	if binary.LittleEndian.Uint32(hdr[:]) != bufMagic {
		return nil, fmt.Errorf("grid: bad magic")
	}
	numCols, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("grid: reading column count: %w", err)
	}
	colIDs := make([]uint32, numCols)
	for i := range colIDs {
		v, err := readU32(r)
		if err != nil {
			return nil, fmt.Errorf("grid: reading column id %d: %w", i, err)
		}
		colIDs[i] = v
	}
	hash, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("grid: reading column hash: %w", err)
	}
	numRows, err := readU32(r)
	if err != nil {
		return nil, fmt.Errorf("grid: reading row count: %w", err)
	}
	b := NewWithHash(int(numRows), colIDs, hash)
	for i := range b.rows {
		for j := range b.rows[i] {
			c, err := readCell(r)
			if err != nil {
				return nil, fmt.Errorf("grid: reading cell (%d,%d): %w", i, j, err)
			}
			b.rows[i][j] = c
		}
	}
	return b, nil
}

// FromBase64 decodes a Buffer previously produced by ToBase64.
func FromBase64(s string) (*Buffer, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("grid: decoding base64: %w", err)
	}
	return FromBytes(data)
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func writeCell(buf *bytes.Buffer, c Cell) {
	buf.WriteByte(byte(c.Kind))
	switch c.Kind {
	case U64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], c.U64)
		buf.Write(b[:])
	case F32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(c.F32))
		buf.Write(b[:])
	case U64List:
		writeU32(buf, uint32(len(c.U64s)))
		for _, v := range c.U64s {
			var b [8]byte
			binary.LittleEndian.PutUint64(b[:], v)
			buf.Write(b[:])
		}
	case F32List:
		writeU32(buf, uint32(len(c.F32s)))
		for _, v := range c.F32s {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
			buf.Write(b[:])
		}
	case Empty:
		// no payload
	}
}

func readCell(r *bytes.Reader) (Cell, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return Cell{}, err
	}
	kind := Kind(kindByte)
	switch kind {
	case Empty:
		return Cell{Kind: Empty}, nil
	case U64:
		var b [8]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Cell{}, err
		}
		return Cell{Kind: U64, U64: binary.LittleEndian.Uint64(b[:])}, nil
	case F32:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Cell{}, err
		}
		return Cell{Kind: F32, F32: math.Float32frombits(binary.LittleEndian.Uint32(b[:]))}, nil
	case U64List:
		n, err := readU32(r)
		if err != nil {
			return Cell{}, err
		}
		vals := make([]uint64, n)
		for i := range vals {
			var b [8]byte
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return Cell{}, err
			}
			vals[i] = binary.LittleEndian.Uint64(b[:])
		}
		return Cell{Kind: U64List, U64s: vals}, nil
	case F32List:
		n, err := readU32(r)
		if err != nil {
			return Cell{}, err
		}
		vals := make([]float32, n)
		for i := range vals {
			var b [4]byte
			if _, err := io.ReadFull(r, b[:]); err != nil {
				return Cell{}, err
			}
			vals[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[:]))
		}
		return Cell{Kind: F32List, F32s: vals}, nil
	default:
		return Cell{}, fmt.Errorf("grid: unknown cell kind %d", kindByte)
	}
}
