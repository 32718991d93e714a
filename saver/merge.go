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
	"fmt"
	"os"
	"path/filepath"

	"github.com/liuzhishan/droplet/grid"
	"github.com/liuzhishan/droplet/rpcproto"
	"github.com/liuzhishan/droplet/windowheap"
)

// maxLineSize bounds a single intermediate line's length; generous
// enough for a batch of batchSize rows with list-valued cells, while
// still catching a corrupt file early instead of allocating without
// bound.
const maxLineSize = 64 << 20

// lineReader is one of the K intermediate files being merged, tracked
// the way §4.3's algorithm describes: exhausted once Scan returns
// false, at which point the merge loop advances past it round-robin.
type lineReader struct {
	idx   int
	f     *os.File
	sc    *bufio.Scanner
	done  bool
	lines int64
}

func openLineReader(idx int, path string) (*lineReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &lineReader{idx: idx, f: f, sc: sc}, nil
}

func (r *lineReader) next() (string, bool) {
	if r.done {
		return "", false
	}
	if r.sc.Scan() {
		r.lines++
		return r.sc.Text(), true
	}
	r.done = true
	return "", false
}

func (r *lineReader) close() {
	r.f.Close()
}

// outputWriter shards merged output across path_sorted/0.grid,
// 1.grid, ... rotating to the next file once the current one reaches
// linesPerFile lines, per §4.3 step 4d.
type outputWriter struct {
	dir          string
	linesPerFile int64
	idx          int
	count        int64
	f            *os.File
	bw           *bufio.Writer

	// pending is set once the current file has filled and closed, and
	// cleared the moment the next file is actually opened for a line
	// that follows. Opening the next shard is deferred this way so
	// that hitting linesPerFile on the very last line doesn't leave a
	// trailing empty file behind.
	pending bool
}

func newOutputWriter(dir string, linesPerFile int64) (*outputWriter, error) {
	w := &outputWriter{dir: dir, linesPerFile: linesPerFile}
	if err := w.openCurrent(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *outputWriter) openCurrent() error {
	f, err := os.Create(filepath.Join(w.dir, fmt.Sprintf("%d.grid", w.idx)))
	if err != nil {
		return rpcproto.NewError(rpcproto.StatusFatal, "creating sorted output file: %v", err)
	}
	w.f = f
	w.bw = bufio.NewWriter(f)
	w.count = 0
	return nil
}

func (w *outputWriter) write(codec *lineCodec, buf *grid.Buffer) error {
	if w.pending {
		w.idx++
		if err := w.openCurrent(); err != nil {
			return err
		}
		w.pending = false
	}
	if _, err := w.bw.WriteString(codec.EncodeLine(buf)); err != nil {
		return rpcproto.NewError(rpcproto.StatusTransient, "writing sorted output: %v", err)
	}
	if err := w.bw.WriteByte('\n'); err != nil {
		return rpcproto.NewError(rpcproto.StatusTransient, "writing sorted output: %v", err)
	}
	w.count++
	if w.linesPerFile > 0 && w.count >= w.linesPerFile {
		if err := w.rotate(); err != nil {
			return err
		}
	}
	return nil
}

// rotate closes the current shard and marks the next one as pending;
// it is only actually opened once a further line needs somewhere to
// go, so a file that fills on the last line of the merge never gets a
// trailing K+1'th empty sibling.
func (w *outputWriter) rotate() error {
	if err := w.closeCurrent(); err != nil {
		return err
	}
	w.pending = true
	return nil
}

func (w *outputWriter) closeCurrent() error {
	if w.pending {
		return nil
	}
	if err := w.bw.Flush(); err != nil {
		return rpcproto.NewError(rpcproto.StatusTransient, "flushing sorted output: %v", err)
	}
	return w.f.Close()
}

// mergeSort performs the K-way merge of §4.3: it reads workerPaths
// (each individually sorted by SampleKey), pushes lines through a
// fresh WindowHeap to restore global order, and writes the result to
// outDir, sharded into roughly-equal files.
func mergeSort(cfg Config, codec *lineCodec, workerPaths []string, totalLines int64, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return rpcproto.NewError(rpcproto.StatusFatal, "creating sorted directory %s: %v", outDir, err)
	}

	readers := make([]*lineReader, 0, len(workerPaths))
	for i, p := range workerPaths {
		r, err := openLineReader(i, p)
		if err != nil {
			return rpcproto.NewError(rpcproto.StatusTransient, "opening intermediate file %s: %v", p, err)
		}
		readers = append(readers, r)
	}
	defer func() {
		for _, r := range readers {
			r.close()
		}
	}()
	if len(readers) == 0 {
		return nil
	}

	h := windowheap.New(cfg.WindowSize, cfg.BatchSize)

	pull := func(r *lineReader) error {
		line, ok := r.next()
		if !ok {
			if err := r.sc.Err(); err != nil {
				return rpcproto.NewError(rpcproto.StatusFatal, "reading merge input from reader %d: %v", r.idx, err)
			}
			return nil
		}
		buf, err := codec.DecodeLine(line)
		if err != nil {
			return rpcproto.NewError(rpcproto.StatusFatal, "decoding merge line from reader %d: %v", r.idx, err)
		}
		return h.PushWithReaderIndex(buf, r.idx)
	}

	// Step 2: prime round-robin across readers until the heap is
	// full or every reader is exhausted, tracking which reader last
	// contributed a line.
	lastReaderIndex := 0
	for !h.IsFull() {
		progressed := false
		for _, r := range readers {
			if r.done {
				continue
			}
			before := r.lines
			if err := pull(r); err != nil {
				return err
			}
			if r.lines > before {
				progressed = true
				lastReaderIndex = r.idx
			}
			if h.IsFull() {
				break
			}
		}
		if !progressed {
			break
		}
	}

	// Step 3: lines_per_file for output sharding.
	linesPerFile := totalLines / int64(len(readers))
	out, err := newOutputWriter(outDir, linesPerFile)
	if err != nil {
		return err
	}

	allExhausted := func() bool {
		for _, r := range readers {
			if !r.done {
				return false
			}
		}
		return true
	}

	// Step 4: main loop, reader-biased by the heap's eviction hint.
	for !allExhausted() {
		r := readers[lastReaderIndex]
		if r.done {
			lastReaderIndex = (lastReaderIndex + 1) % len(readers)
			continue
		}
		before := r.lines
		if err := pull(r); err != nil {
			return err
		}
		if r.lines == before {
			lastReaderIndex = (lastReaderIndex + 1) % len(readers)
		}
		if err := drainOutputs(h, codec, out); err != nil {
			return err
		}
		if hint, ok := h.OutReaderIndex(); ok && hint >= 0 {
			lastReaderIndex = hint % len(readers)
		}
	}

	// Step 5: drain remaining heap contents and flush.
	h.Drain()
	if err := drainOutputs(h, codec, out); err != nil {
		return err
	}
	return out.closeCurrent()
}

func drainOutputs(h *windowheap.Heap, codec *lineCodec, out *outputWriter) error {
	for {
		buf, ok := h.PopOutput()
		if !ok {
			return nil
		}
		if err := out.write(codec, buf); err != nil {
			return err
		}
	}
}
