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
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/liuzhishan/droplet/grid"
	"github.com/liuzhishan/droplet/rpcproto"
)

func colIDs() []uint32 { return []uint32{2, 4, 5, 6} }

func sampleBuf(t *testing.T, timestamps ...uint64) *grid.Buffer {
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

func testConfig(root string) Config {
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.WindowSize = 4
	cfg.BatchSize = 2
	cfg.UnsortedRoot = root
	cfg.SortedRoot = root + "_sorted"
	return cfg
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	return out
}

// TestSampleSaverSingleSinkerEndToEnd exercises the full lifecycle
// described in the ingest specification's §4.3: one sinker opens a
// partition, sinks a few out-of-order buffers, and finishes; the
// resulting path_sorted files must contain every row, globally sorted.
func TestSampleSaverSingleSinkerEndToEnd(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "tables", "events", "20260731", "9")
	cfg := testConfig(root)

	s, err := New(path, 9, 0, 86400, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.StartPartition(1); err != nil {
		t.Fatal(err)
	}
	timestamps := []uint64{500, 100, 300, 200, 400}
	for _, ts := range timestamps {
		if err := s.SinkGridSample(1, sampleBuf(t, ts)); err != nil {
			t.Fatal(err)
		}
	}
	finalized, success, err := s.FinishPartition(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if !finalized || !success {
		t.Fatalf("expected finalized success, got finalized=%v success=%v", finalized, success)
	}

	if _, err := os.Stat(filepath.Join(path, "SUCCESS")); err != nil {
		t.Fatalf("expected SUCCESS sentinel: %v", err)
	}

	sortedDir := cfg.sortedPath(path)
	var got []uint64
	codec, _ := newLineCodec(false)
	for i := 0; ; i++ {
		p := filepath.Join(sortedDir, fmt.Sprintf("%d.grid", i))
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
	if len(got) != len(timestamps) {
		t.Fatalf("expected %d rows, got %d: %v", len(timestamps), len(got), got)
	}
	for i := 1; i < len(got); i++ {
		if got[i-1] > got[i] {
			t.Fatalf("output not sorted: %v", got)
		}
	}
}

func TestSampleSaverRejectsOutOfBoundsRow(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "tables", "events", "20260731", "9")
	cfg := testConfig(root)

	s, err := New(path, 9, 32400, 36000, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.StartPartition(1); err != nil {
		t.Fatal(err)
	}
	err = s.SinkGridSample(1, sampleBuf(t, 100))
	if err == nil {
		t.Fatal("expected out-of-bounds timestamp to be rejected")
	}
	status, _ := rpcproto.AsStatusError(err)
	if status != rpcproto.StatusInvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", status)
	}
}

func TestSampleSaverUnknownSinkerRejected(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "tables", "events", "20260731", "9")
	cfg := testConfig(root)

	s, err := New(path, 9, 0, 86400, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = s.SinkGridSample(42, sampleBuf(t, 100))
	if err == nil {
		t.Fatal("expected unknown sinker to be rejected")
	}
	status, _ := rpcproto.AsStatusError(err)
	if status != rpcproto.StatusNotFound {
		t.Fatalf("expected NotFound, got %v", status)
	}
}

func TestSampleSaverFinishIsNoOpOnceClosed(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "tables", "events", "20260731", "9")
	cfg := testConfig(root)

	s, err := New(path, 9, 0, 86400, cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.StartPartition(1); err != nil {
		t.Fatal(err)
	}
	if err := s.StartPartition(2); err != nil {
		t.Fatal(err)
	}

	finalized, _, err := s.FinishPartition(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if finalized {
		t.Fatal("partition should not finalize while sinker 2 is still open")
	}

	finalized, success, err := s.FinishPartition(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if !finalized || !success {
		t.Fatalf("expected final finish to finalize successfully, got finalized=%v success=%v", finalized, success)
	}

	// A duplicate finish for a sinker that already finished must be a
	// no-op, not a second finalize.
	finalized, _, err = s.FinishPartition(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if finalized {
		t.Fatal("duplicate finish must not re-finalize the partition")
	}
}
