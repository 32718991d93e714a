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

package saver

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// writeIntermediateFile writes one sorted batch per line, the way a
// Worker would, so mergeSort has something realistic to read.
func writeIntermediateFile(t *testing.T, dir string, idx int, codec *lineCodec, batches [][]uint64) string {
	t.Helper()
	path := filepath.Join(dir, fmt.Sprintf("%d.grid", idx))
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	for _, ts := range batches {
		if _, err := f.WriteString(codec.EncodeLine(sampleBuf(t, ts...)) + "\n"); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestMergeSortProducesGloballySortedOutput(t *testing.T) {
	dir := t.TempDir()
	codec, _ := newLineCodec(false)

	// Each intermediate file is individually sorted, as §4.3
	// requires as a merge precondition; across files there is no
	// ordering guarantee.
	f0 := writeIntermediateFile(t, dir, 0, codec, [][]uint64{{1, 3}, {5, 9}})
	f1 := writeIntermediateFile(t, dir, 1, codec, [][]uint64{{2, 4}, {6, 8}})

	cfg := DefaultConfig()
	cfg.WindowSize = 4
	cfg.BatchSize = 2

	outDir := filepath.Join(dir, "sorted")
	totalLines := int64(4) // 2 lines per file * 2 files
	if err := mergeSort(cfg, codec, []string{f0, f1}, totalLines, outDir); err != nil {
		t.Fatal(err)
	}

	var got []uint64
	for i := 0; ; i++ {
		p := filepath.Join(outDir, fmt.Sprintf("%d.grid", i))
		if _, err := os.Stat(p); err != nil {
			break
		}
		for _, line := range readLines(t, p) {
			buf, err := codec.DecodeLine(line)
			if err != nil {
				t.Fatal(err)
			}
			for row := 0; row < buf.NumRows(); row++ {
				ts, _ := buf.GetU64(row, 0)
				got = append(got, ts)
			}
		}
	}
	if len(got) != 8 {
		t.Fatalf("expected 8 rows, got %d: %v", len(got), got)
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] > got[i] {
			t.Fatalf("merged output not sorted: %v", got)
		}
	}
}

func TestMergeSortToleratesEmptyIntermediateFile(t *testing.T) {
	dir := t.TempDir()
	codec, _ := newLineCodec(false)

	f0 := writeIntermediateFile(t, dir, 0, codec, [][]uint64{{1, 2}})
	f1 := writeIntermediateFile(t, dir, 1, codec, nil) // empty

	cfg := DefaultConfig()
	cfg.WindowSize = 4
	cfg.BatchSize = 2

	outDir := filepath.Join(dir, "sorted")
	if err := mergeSort(cfg, codec, []string{f0, f1}, 1, outDir); err != nil {
		t.Fatal(err)
	}

	var got []uint64
	for i := 0; ; i++ {
		p := filepath.Join(outDir, fmt.Sprintf("%d.grid", i))
		if _, err := os.Stat(p); err != nil {
			break
		}
		for _, line := range readLines(t, p) {
			buf, err := codec.DecodeLine(line)
			if err != nil {
				t.Fatal(err)
			}
			for row := 0; row < buf.NumRows(); row++ {
				ts, _ := buf.GetU64(row, 0)
				got = append(got, ts)
			}
		}
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows from the remaining file, got %d: %v", len(got), got)
	}
}

// TestMergeSortDoesNotLeaveTrailingEmptyShard covers the case where
// the last line of the merge exactly fills a shard: rotate() must not
// eagerly open a (K+1)'th file that then gets closed with zero lines
// in it.
func TestMergeSortDoesNotLeaveTrailingEmptyShard(t *testing.T) {
	dir := t.TempDir()
	codec, _ := newLineCodec(false)

	// totalLines=2, len(readers)=1 => linesPerFile=2, and the single
	// intermediate file holds exactly 2 lines, so the last write hits
	// the shard boundary with nothing left to merge afterward.
	f0 := writeIntermediateFile(t, dir, 0, codec, [][]uint64{{1}, {2}})

	cfg := DefaultConfig()
	cfg.WindowSize = 4
	cfg.BatchSize = 1

	outDir := filepath.Join(dir, "sorted")
	if err := mergeSort(cfg, codec, []string{f0}, 2, outDir); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(outDir, "0.grid")); err != nil {
		t.Fatalf("expected 0.grid to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outDir, "1.grid")); err == nil {
		t.Fatal("expected no trailing empty 1.grid shard")
	}
}

func TestMergeSortWithCompression(t *testing.T) {
	dir := t.TempDir()
	codec, err := newLineCodec(true)
	if err != nil {
		t.Fatal(err)
	}
	defer codec.Close()

	f0 := writeIntermediateFile(t, dir, 0, codec, [][]uint64{{1, 3}})
	f1 := writeIntermediateFile(t, dir, 1, codec, [][]uint64{{2, 4}})

	cfg := DefaultConfig()
	cfg.WindowSize = 4
	cfg.BatchSize = 2
	cfg.Compress = true

	outDir := filepath.Join(dir, "sorted")
	if err := mergeSort(cfg, codec, []string{f0, f1}, 2, outDir); err != nil {
		t.Fatal(err)
	}

	var got []uint64
	for i := 0; ; i++ {
		p := filepath.Join(outDir, fmt.Sprintf("%d.grid", i))
		if _, err := os.Stat(p); err != nil {
			break
		}
		for _, line := range readLines(t, p) {
			buf, err := codec.DecodeLine(line)
			if err != nil {
				t.Fatal(err)
			}
			for row := 0; row < buf.NumRows(); row++ {
				ts, _ := buf.GetU64(row, 0)
				got = append(got, ts)
			}
		}
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 rows, got %d: %v", len(got), got)
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] > got[i] {
			t.Fatalf("merged output not sorted: %v", got)
		}
	}
}
