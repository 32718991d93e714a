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

package key

import "testing"

func TestCompareLexicographic(t *testing.T) {
	cases := []struct {
		a, b Sample
		want int
	}{
		{Sample{1, 0, 0, 0}, Sample{2, 0, 0, 0}, -1},
		{Sample{1, 2, 0, 0}, Sample{1, 1, 0, 0}, 1},
		{Sample{1, 1, 1, 1}, Sample{1, 1, 1, 1}, 0},
		{Sample{1, 1, 2, 0}, Sample{1, 1, 1, 9}, 1},
	}
	for _, c := range cases {
		if got := c.a.Compare(c.b); got != c.want {
			t.Errorf("Compare(%v, %v) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestPartitionIndex(t *testing.T) {
	// 09:00:00 UTC with P=24 -> index 9
	const day0900 = 9 * 3600
	if idx := PartitionIndex(day0900, 24); idx != 9 {
		t.Fatalf("got %d, want 9", idx)
	}
	// 09:59:59 UTC with P=24 -> still index 9
	if idx := PartitionIndex(9*3600+3599, 24); idx != 9 {
		t.Fatalf("got %d, want 9", idx)
	}
	// 10:00:00 UTC with P=24 -> index 10
	if idx := PartitionIndex(10*3600, 24); idx != 10 {
		t.Fatalf("got %d, want 10", idx)
	}
}

func TestPartitionBounds(t *testing.T) {
	start, end := PartitionBounds(9, 24)
	if start != 9*3600 || end != 10*3600 {
		t.Fatalf("got [%d, %d)", start, end)
	}
}
