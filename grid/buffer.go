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
	"fmt"

	"github.com/liuzhishan/droplet/key"
)

// Buffer is a batch of rows sharing a fixed column schema. The first
// four columns of every Buffer accepted by the ingest pipeline must be
// the sample-key columns (timestamp, user_id, item_id, request_id), in
// that fixed order; see key.Names.
type Buffer struct {
	colIDs     []uint32
	colIDsHash uint32
	rows       [][]Cell // rows[row][col]
}

// New creates an empty buffer with numRows pre-allocated (empty) rows
// over the given column ids. The column-id hash is computed from
// colIDs with ColumnHash.
func New(numRows int, colIDs []uint32) *Buffer {
	return NewWithHash(numRows, colIDs, ColumnHash(colIDs))
}

// NewWithHash is the GridBuffer external-contract constructor
// new_with_num_rows_col_ids_hash: it accepts an already-computed
// column-id hash rather than recomputing it, which is what the
// WindowHeap materialization path does since it has already captured
// the hash from the first input buffer it accepted.
func NewWithHash(numRows int, colIDs []uint32, hash uint32) *Buffer {
	cols := append([]uint32(nil), colIDs...)
	rows := make([][]Cell, numRows)
	for i := range rows {
		rows[i] = make([]Cell, len(cols))
	}
	return &Buffer{colIDs: cols, colIDsHash: hash, rows: rows}
}

// NumRows returns the number of rows in the buffer.
func (b *Buffer) NumRows() int { return len(b.rows) }

// NumCols returns the number of columns in the buffer.
func (b *Buffer) NumCols() int { return len(b.colIDs) }

// ColIDs returns the column-id vector shared by every row.
func (b *Buffer) ColIDs() []uint32 { return b.colIDs }

// ColIDsHash returns the captured hash of ColIDs.
func (b *Buffer) ColIDsHash() uint32 { return b.colIDsHash }

func (b *Buffer) checkBounds(row, col int) error {
	if row < 0 || row >= len(b.rows) {
		return fmt.Errorf("grid: row %d out of range [0,%d)", row, len(b.rows))
	}
	if col < 0 || col >= len(b.colIDs) {
		return fmt.Errorf("grid: col %d out of range [0,%d)", col, len(b.colIDs))
	}
	return nil
}

// GetCell returns the raw cell at (row, col).
func (b *Buffer) GetCell(row, col int) (Cell, bool) {
	if b.checkBounds(row, col) != nil {
		return Cell{}, false
	}
	return b.rows[row][col], true
}

// GetU64 returns the scalar u64 value at (row, col), if that cell
// holds a U64.
func (b *Buffer) GetU64(row, col int) (uint64, bool) {
	c, ok := b.GetCell(row, col)
	if !ok || c.Kind != U64 {
		return 0, false
	}
	return c.U64, true
}

// GetF32 returns the scalar f32 value at (row, col), if that cell
// holds an F32.
func (b *Buffer) GetF32(row, col int) (float32, bool) {
	c, ok := b.GetCell(row, col)
	if !ok || c.Kind != F32 {
		return 0, false
	}
	return c.F32, true
}

// GetU64Values returns the list of u64 values at (row, col), if that
// cell holds a U64List. The returned slice is shared with the buffer
// and must not be mutated.
func (b *Buffer) GetU64Values(row, col int) []uint64 {
	c, ok := b.GetCell(row, col)
	if !ok || c.Kind != U64List {
		return nil
	}
	return c.U64s
}

// GetF32Values returns the list of f32 values at (row, col), if that
// cell holds an F32List. The returned slice is shared with the buffer
// and must not be mutated.
func (b *Buffer) GetF32Values(row, col int) []float32 {
	c, ok := b.GetCell(row, col)
	if !ok || c.Kind != F32List {
		return nil
	}
	return c.F32s
}

// PushU64 sets (row, col) to a scalar u64 value.
func (b *Buffer) PushU64(row, col int, v uint64) error {
	if err := b.checkBounds(row, col); err != nil {
		return err
	}
	b.rows[row][col] = Cell{Kind: U64, U64: v}
	return nil
}

// PushF32 sets (row, col) to a scalar f32 value.
func (b *Buffer) PushF32(row, col int, v float32) error {
	if err := b.checkBounds(row, col); err != nil {
		return err
	}
	b.rows[row][col] = Cell{Kind: F32, F32: v}
	return nil
}

// PushU64Values sets (row, col) to a u64 list value.
func (b *Buffer) PushU64Values(row, col int, vals []uint64) error {
	if err := b.checkBounds(row, col); err != nil {
		return err
	}
	b.rows[row][col] = Cell{Kind: U64List, U64s: append([]uint64(nil), vals...)}
	return nil
}

// PushF32Values sets (row, col) to an f32 list value.
func (b *Buffer) PushF32Values(row, col int, vals []float32) error {
	if err := b.checkBounds(row, col); err != nil {
		return err
	}
	b.rows[row][col] = Cell{Kind: F32List, F32s: append([]float32(nil), vals...)}
	return nil
}

// SampleKey extracts the composite sort key from row, reading the
// four mandated sample-key columns at indices 0..3. It returns an
// error if those columns are not all present as U64 scalars, which
// signals that the buffer failed the ingress schema check described
// in the ingest specification's invariants.
func (b *Buffer) SampleKey(row int) (key.Sample, error) {
	if row < 0 || row >= len(b.rows) {
		return key.Sample{}, fmt.Errorf("grid: row %d out of range", row)
	}
	if len(b.colIDs) < 4 {
		return key.Sample{}, fmt.Errorf("grid: buffer has only %d columns, need >= 4 for sample key", len(b.colIDs))
	}
	ts, ok := b.GetU64(row, 0)
	if !ok {
		return key.Sample{}, fmt.Errorf("grid: row %d col 0 (timestamp) is not a u64 scalar", row)
	}
	uid, ok := b.GetU64(row, 1)
	if !ok {
		return key.Sample{}, fmt.Errorf("grid: row %d col 1 (user_id) is not a u64 scalar", row)
	}
	iid, ok := b.GetU64(row, 2)
	if !ok {
		return key.Sample{}, fmt.Errorf("grid: row %d col 2 (item_id) is not a u64 scalar", row)
	}
	rid, ok := b.GetU64(row, 3)
	if !ok {
		return key.Sample{}, fmt.Errorf("grid: row %d col 3 (request_id) is not a u64 scalar", row)
	}
	return key.Sample{Timestamp: ts, UserID: uid, ItemID: iid, RequestID: rid}, nil
}

// Row returns a defensive copy of the cells making up a single row,
// suitable for assembling into an output buffer via AppendRow.
func (b *Buffer) Row(row int) []Cell {
	src := b.rows[row]
	out := make([]Cell, len(src))
	for i, c := range src {
		out[i] = c.clone()
	}
	return out
}

// AppendRow appends a row (as produced by Row) to the buffer,
// extending NumRows by one. The caller is responsible for ensuring
// cells has the same length as NumCols.
func (b *Buffer) AppendRow(cells []Cell) {
	b.rows = append(b.rows, cells)
}
