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

// Package windowheap implements a bounded external-sort buffer: given
// a stream of input GridBuffers, each internally unsorted with
// respect to its neighbors, it emits a stream of output GridBuffers
// of exactly batchSize rows (the last may be shorter) such that the
// concatenation of outputs is non-decreasing by sample key, as long
// as the skew between concurrently-resident input buffers fits within
// windowSize buffers.
//
// Rows are held by (slot, row) reference while they sit in the heap;
// materialization into an output buffer copies cell values exactly
// once, when a batch is flushed. A slot is only reused once every
// heap entry referencing it has been popped, which keeps references
// into the slot's backing GridBuffer valid for as long as the heap
// holds them (see the "Patterns requiring re-architecture" note on
// raw pointers into live buffers in the ingest specification).
package windowheap

import (
	"fmt"

	"github.com/liuzhishan/droplet/grid"
	"github.com/liuzhishan/droplet/heap"
	"github.com/liuzhishan/droplet/key"
)

// entry is a heap element: a reference to row Row of the buffer
// occupying Slot, plus the row's sample key so comparisons don't
// need to dereference the slot.
type entry struct {
	k    key.Sample
	slot int
	row  int
}

func less(a, b entry) bool {
	if c := a.k.Compare(b.k); c != 0 {
		return c < 0
	}
	// tie-break deterministically on (slot_index, row_index), per
	// the ingest specification's §9 design note.
	if a.slot != b.slot {
		return a.slot < b.slot
	}
	return a.row < b.row
}

// Heap is a bounded external-sort buffer. It is not safe for
// concurrent use; each owning task (a SampleSaverWorker, the
// SampleSaver merge stage, or a GridSinker) keeps its own Heap.
type Heap struct {
	windowSize int
	batchSize  int

	slots      []*grid.Buffer
	rowsLeft   []int
	readerIdx  []int // reader index associated with the buffer in each slot, or -1
	free       []int // stack of free slot indices

	h []entry // heap-ordered entries

	colIDs     []uint32
	colIDsHash uint32
	haveSchema bool

	stage        *grid.Buffer
	outputs      []*grid.Buffer
	lastOutIndex *int
}

// New constructs a Heap that holds at most windowSize concurrently
// resident input buffers and emits output buffers of batchSize rows.
func New(windowSize, batchSize int) *Heap {
	free := make([]int, windowSize)
	for i := range free {
		// matches the ingest spec's initial free-stack order
		// [W-1, W-2, ..., 0]; the order only affects which slot
		// index gets used first, not correctness.
		free[i] = windowSize - 1 - i
	}
	return &Heap{
		windowSize: windowSize,
		batchSize:  batchSize,
		slots:      make([]*grid.Buffer, windowSize),
		rowsLeft:   make([]int, windowSize),
		readerIdx:  make([]int, windowSize),
		free:       free,
	}
}

// IsFull reports whether every slot is currently occupied, i.e. the
// free-slot stack is empty.
func (h *Heap) IsFull() bool {
	return len(h.free) == 0
}

// Len returns the number of rows currently referenced by the heap.
func (h *Heap) Len() int {
	return len(h.h)
}

// Push accepts buf into the heap, assuming it came from no particular
// external reader. Equivalent to PushWithReaderIndex(buf, -1).
func (h *Heap) Push(buf *grid.Buffer) error {
	return h.PushWithReaderIndex(buf, -1)
}

// PushWithReaderIndex accepts buf into the heap and records that it
// was read from source readerIndex (used by SampleSaver's merge
// stage to bias which intermediate file it reads next). See §4.1 and
// §4.3 of the ingest specification.
func (h *Heap) PushWithReaderIndex(buf *grid.Buffer, readerIndex int) error {
	if !h.haveSchema {
		h.colIDs = append([]uint32(nil), buf.ColIDs()...)
		h.colIDsHash = buf.ColIDsHash()
		h.haveSchema = true
	} else if h.colIDsHash != buf.ColIDsHash() {
		return fmt.Errorf("windowheap: column-id hash mismatch: have %d, got %d", h.colIDsHash, buf.ColIDsHash())
	}

	if len(h.free) > 0 {
		slot := h.free[len(h.free)-1]
		h.free = h.free[:len(h.free)-1]
		h.occupy(slot, buf, readerIndex)
		return nil
	}

	// No free slot: pop heap minima into the stage until some slot
	// empties out, then reuse it for buf.
	for {
		if len(h.h) == 0 {
			// should not happen if rowsLeft bookkeeping is
			// correct, but guard against an inconsistent state
			// rather than looping forever.
			return fmt.Errorf("windowheap: no free slot and heap is empty")
		}
		top := heap.PopSlice(&h.h, less)
		h.appendToStage(top)
		h.lastOutIndex = intPtr(h.readerIdx[top.slot])
		h.rowsLeft[top.slot]--
		if h.rowsLeft[top.slot] == 0 {
			h.occupy(top.slot, buf, readerIndex)
			return nil
		}
	}
}

func (h *Heap) occupy(slot int, buf *grid.Buffer, readerIndex int) {
	h.slots[slot] = buf
	h.readerIdx[slot] = readerIndex
	pushed := 0
	for row := 0; row < buf.NumRows(); row++ {
		k, err := buf.SampleKey(row)
		if err != nil {
			// rows that fail the sample-key check were
			// supposed to be rejected at ingress; skip them
			// defensively rather than poison the sort order.
			continue
		}
		heap.PushSlice(&h.h, entry{k: k, slot: slot, row: row}, less)
		pushed++
	}
	h.rowsLeft[slot] = pushed
	if pushed == 0 {
		// no heap entry references the slot; free it now.
		h.slots[slot] = nil
		h.free = append(h.free, slot)
	}
}

func (h *Heap) appendToStage(e entry) {
	if h.stage == nil {
		h.stage = grid.New(0, h.colIDs)
	}
	h.stage.AppendRow(h.slots[e.slot].Row(e.row))
	if h.stage.NumRows() >= h.batchSize {
		h.outputs = append(h.outputs, h.stage)
		h.stage = nil
	}
}

// Drain flushes every remaining row in the heap into output buffers,
// emitting one final partial batch if necessary. Call Drain once the
// input stream is exhausted.
func (h *Heap) Drain() {
	for len(h.h) > 0 {
		top := heap.PopSlice(&h.h, less)
		h.appendToStage(top)
		h.lastOutIndex = intPtr(h.readerIdx[top.slot])
	}
	if h.stage != nil && h.stage.NumRows() > 0 {
		h.outputs = append(h.outputs, h.stage)
		h.stage = nil
	}
}

// PopOutput returns the next finished output buffer, if any.
func (h *Heap) PopOutput() (*grid.Buffer, bool) {
	if len(h.outputs) == 0 {
		return nil, false
	}
	out := h.outputs[0]
	h.outputs = h.outputs[1:]
	return out, true
}

// Outputs returns the queue of finished output buffers awaiting the
// caller, in emission order.
func (h *Heap) Outputs() []*grid.Buffer {
	return h.outputs
}

// OutReaderIndex returns the reader index associated with the most
// recently evicted row, if any buffer was pushed via
// PushWithReaderIndex. It is a heuristic the SampleSaver merge stage
// uses to bias which intermediate file it reads from next (the reader
// that just contributed is statistically likely to hold the next
// minimum); correctness of the merge never depends on this hint.
func (h *Heap) OutReaderIndex() (int, bool) {
	if h.lastOutIndex == nil {
		return 0, false
	}
	return *h.lastOutIndex, true
}

func intPtr(v int) *int { return &v }
