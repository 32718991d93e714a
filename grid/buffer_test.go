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
	"reflect"
	"testing"
)

func sampleColIDs() []uint32 {
	return []uint32{2, 4, 5, 6, 10, 11}
}

func buildSample(t *testing.T, rows int) *Buffer {
	t.Helper()
	b := New(rows, sampleColIDs())
	for i := 0; i < rows; i++ {
		if err := b.PushU64(i, 0, uint64(i)); err != nil {
			t.Fatal(err)
		}
		if err := b.PushU64(i, 1, uint64(i+1)); err != nil {
			t.Fatal(err)
		}
		if err := b.PushU64(i, 2, uint64(i+2)); err != nil {
			t.Fatal(err)
		}
		if err := b.PushU64(i, 3, uint64(i+3)); err != nil {
			t.Fatal(err)
		}
		if err := b.PushF32(i, 4, float32(i)*1.5); err != nil {
			t.Fatal(err)
		}
		if err := b.PushU64Values(i, 5, []uint64{uint64(i), uint64(i + 1)}); err != nil {
			t.Fatal(err)
		}
	}
	return b
}

func TestRoundTripBase64(t *testing.T) {
	b := buildSample(t, 3)
	s := b.ToBase64()
	got, err := FromBase64(s)
	if err != nil {
		t.Fatal(err)
	}
	if got.NumRows() != b.NumRows() || got.NumCols() != b.NumCols() {
		t.Fatalf("shape mismatch: got (%d,%d) want (%d,%d)", got.NumRows(), got.NumCols(), b.NumRows(), b.NumCols())
	}
	if got.ColIDsHash() != b.ColIDsHash() {
		t.Fatalf("hash mismatch: got %d want %d", got.ColIDsHash(), b.ColIDsHash())
	}
	if !reflect.DeepEqual(got.ColIDs(), b.ColIDs()) {
		t.Fatalf("colIDs mismatch: got %v want %v", got.ColIDs(), b.ColIDs())
	}
	for i := 0; i < b.NumRows(); i++ {
		k1, err := b.SampleKey(i)
		if err != nil {
			t.Fatal(err)
		}
		k2, err := got.SampleKey(i)
		if err != nil {
			t.Fatal(err)
		}
		if k1 != k2 {
			t.Fatalf("row %d key mismatch: %v != %v", i, k1, k2)
		}
		if v := got.GetU64Values(i, 5); !reflect.DeepEqual(v, b.GetU64Values(i, 5)) {
			t.Fatalf("row %d list mismatch: %v != %v", i, v, b.GetU64Values(i, 5))
		}
	}
}

func TestColumnHashDeterministic(t *testing.T) {
	a := ColumnHash([]uint32{2, 4, 5, 6})
	b := ColumnHash([]uint32{2, 4, 5, 6})
	if a != b {
		t.Fatalf("hash not deterministic: %d != %d", a, b)
	}
	c := ColumnHash([]uint32{2, 4, 5, 7})
	if a == c {
		t.Fatalf("different column ids hashed to same value")
	}
}

func TestAppendRowAndRowCopy(t *testing.T) {
	b := buildSample(t, 1)
	out := New(0, b.ColIDs())
	out.AppendRow(b.Row(0))
	if out.NumRows() != 1 {
		t.Fatalf("expected 1 row, got %d", out.NumRows())
	}
	k1, _ := b.SampleKey(0)
	k2, _ := out.SampleKey(0)
	if k1 != k2 {
		t.Fatalf("copied row key mismatch: %v != %v", k1, k2)
	}
	// mutating the source must not affect the copy
	b.rows[0][5].U64s[0] = 999
	if out.GetU64Values(0, 5)[0] == 999 {
		t.Fatalf("Row() did not deep-copy list cell")
	}
}
