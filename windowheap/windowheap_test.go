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

package windowheap

import (
	"testing"

	"github.com/liuzhishan/droplet/grid"
)

func colIDs() []uint32 { return []uint32{2, 4, 5, 6} }

// buf builds a buffer whose schema is just the four sample-key
// columns, whose rows have the given timestamps, in the order given
// (not necessarily sorted -- that's the point).
func buf(t *testing.T, timestamps ...uint64) *grid.Buffer {
	t.Helper()
	b := grid.New(len(timestamps), colIDs())
	for i, ts := range timestamps {
		if err := b.PushU64(i, 0, ts); err != nil {
			t.Fatal(err)
		}
		if err := b.PushU64(i, 1, uint64(i)); err != nil {
			t.Fatal(err)
		}
		if err := b.PushU64(i, 2, uint64(i)); err != nil {
			t.Fatal(err)
		}
		if err := b.PushU64(i, 3, uint64(i)); err != nil {
			t.Fatal(err)
		}
	}
	return b
}

func drainAll(h *Heap) []uint64 {
	h.Drain()
	var out []uint64
	for {
		o, ok := h.PopOutput()
		if !ok {
			break
		}
		for i := 0; i < o.NumRows(); i++ {
			ts, _ := o.GetU64(i, 0)
			out = append(out, ts)
		}
	}
	return out
}

func isSorted(ts []uint64) bool {
	for i := 1; i < len(ts); i++ {
		if ts[i-1] > ts[i] {
			return false
		}
	}
	return true
}

func TestWindowHeapSortsWithinWindow(t *testing.T) {
	h := New(3, 4)
	if err := h.Push(buf(t, 5, 1, 9)); err != nil {
		t.Fatal(err)
	}
	if err := h.Push(buf(t, 2, 8, 0)); err != nil {
		t.Fatal(err)
	}
	if err := h.Push(buf(t, 7, 3, 6)); err != nil {
		t.Fatal(err)
	}
	out := drainAll(h)
	if len(out) != 9 {
		t.Fatalf("expected 9 rows, got %d", len(out))
	}
	if !isSorted(out) {
		t.Fatalf("output not sorted: %v", out)
	}
}

func TestWindowHeapIsFull(t *testing.T) {
	h := New(2, 4)
	if h.IsFull() {
		t.Fatal("new heap should not be full")
	}
	if err := h.Push(buf(t, 1)); err != nil {
		t.Fatal(err)
	}
	if h.IsFull() {
		t.Fatal("heap with one of two slots occupied should not be full")
	}
	if err := h.Push(buf(t, 2)); err != nil {
		t.Fatal(err)
	}
	if !h.IsFull() {
		t.Fatal("heap with both slots occupied should be full")
	}
}

func TestWindowHeapBatchSize(t *testing.T) {
	h := New(4, 2)
	for i := 0; i < 4; i++ {
		if err := h.Push(buf(t, uint64(10-i))); err != nil {
			t.Fatal(err)
		}
	}
	h.Drain()
	var batches int
	var total int
	for {
		o, ok := h.PopOutput()
		if !ok {
			break
		}
		batches++
		total += o.NumRows()
		if o.NumRows() > 2 {
			t.Fatalf("batch exceeded batchSize: %d rows", o.NumRows())
		}
	}
	if total != 4 {
		t.Fatalf("expected 4 rows total, got %d", total)
	}
}

func TestWindowHeapRejectsSchemaMismatch(t *testing.T) {
	h := New(2, 4)
	if err := h.Push(buf(t, 1)); err != nil {
		t.Fatal(err)
	}
	other := grid.New(1, []uint32{2, 4, 5, 6, 99})
	if err := other.PushU64(0, 0, 1); err != nil {
		t.Fatal(err)
	}
	if err := h.Push(other); err == nil {
		t.Fatal("expected column-id hash mismatch error")
	}
}

func TestWindowHeapEvictsWhenWindowExhausted(t *testing.T) {
	// window size 1 forces eviction of the sole slot's rows before a
	// new buffer can be accepted. With buffers whose minimum
	// timestamps are non-decreasing in push order (the bounded-skew
	// assumption the ingest pipeline relies on upstream of the heap),
	// forced eviction still yields a globally sorted output.
	h := New(1, 8)
	if err := h.Push(buf(t, 3, 4, 5)); err != nil {
		t.Fatal(err)
	}
	if err := h.Push(buf(t, 6, 7)); err != nil {
		t.Fatal(err)
	}
	out := drainAll(h)
	if len(out) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(out))
	}
	if !isSorted(out) {
		t.Fatalf("output not sorted: %v", out)
	}
}

func TestWindowHeapReaderIndexHint(t *testing.T) {
	h := New(2, 8)
	if err := h.PushWithReaderIndex(buf(t, 5), 0); err != nil {
		t.Fatal(err)
	}
	if err := h.PushWithReaderIndex(buf(t, 1), 1); err != nil {
		t.Fatal(err)
	}
	h.Drain()
	idx, ok := h.OutReaderIndex()
	if !ok {
		t.Fatal("expected a reader index hint after draining")
	}
	// Drain pops the heap in increasing key order, so the largest
	// timestamp (5, from reader 0) is evicted last.
	if idx != 0 {
		t.Fatalf("expected reader index 0 for last-evicted row, got %d", idx)
	}
}
