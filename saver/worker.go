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
	"strconv"
	"sync/atomic"

	"github.com/liuzhishan/droplet/grid"
	"github.com/liuzhishan/droplet/metrics"
	"github.com/liuzhishan/droplet/windowheap"
)

// WorkerState is the three-state lifecycle of a Worker, published
// with Release/Acquire ordering via atomic.Int32 so the parent
// SampleSaver can poll it lock-free — the ingest specification's §9
// re-architecture note on "shared mutable worker-state cell accessed
// without synchronization."
type WorkerState int32

const (
	WorkerRunning WorkerState = iota
	WorkerSuccess
	WorkerFailed
)

func (s WorkerState) String() string {
	switch s {
	case WorkerRunning:
		return "Running"
	case WorkerSuccess:
		return "Success"
	case WorkerFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Worker is a SampleSaverWorker: it consumes decoded GridBuffers from
// a shared channel, sorts them through a dedicated WindowHeap, and
// appends each output batch as one base64-encoded line to its own
// intermediate file. See the ingest specification's §4.2.
type Worker struct {
	id      int
	outPath string
	codec   *lineCodec
	heap    *windowheap.Heap
	in      <-chan *grid.Buffer

	state atomic.Int32
	total atomic.Int64
	err   atomic.Pointer[error]
}

func newWorker(id int, cfg Config, codec *lineCodec, in <-chan *grid.Buffer, outPath string) *Worker {
	return &Worker{
		id:      id,
		outPath: outPath,
		codec:   codec,
		heap:    windowheap.New(cfg.WindowSize, cfg.BatchSize),
		in:      in,
	}
}

// State returns the worker's current lifecycle state. Safe to call
// concurrently with Run.
func (w *Worker) State() WorkerState {
	return WorkerState(w.state.Load())
}

// Total returns the number of output lines the worker has written so
// far, the "total" bookkeeping counter the §4.2 merge stage uses for
// output sharding.
func (w *Worker) Total() int64 {
	return w.total.Load()
}

// Err returns the error that drove the worker into WorkerFailed, if
// any.
func (w *Worker) Err() error {
	if p := w.err.Load(); p != nil {
		return *p
	}
	return nil
}

// Run consumes buffers from in until the channel is closed or ctx is
// canceled, sorting them through the worker's WindowHeap and flushing
// completed batches to outPath. On either termination path it drains
// the heap and flushes whatever remains before publishing its final
// state — a cancellation is a graceful shutdown, not a failure, per
// §5's cancellation policy ("on shutdown it drains its current heap,
// writes remaining outputs, sets state Success, and exits").
func (w *Worker) Run(ctx context.Context) {
	f, err := os.Create(w.outPath)
	if err != nil {
		w.fail(fmt.Errorf("saver: opening %s: %w", w.outPath, err))
		return
	}
	defer f.Close()
	bw := bufio.NewWriter(f)

	for {
		select {
		case buf, ok := <-w.in:
			if !ok {
				w.finish(bw)
				return
			}
			if err := w.heap.Push(buf); err != nil {
				w.fail(fmt.Errorf("saver: worker %d: %w", w.id, err))
				return
			}
			metrics.WindowHeapRows.WithLabelValues("saver-worker").Set(float64(w.heap.Len()))
			if err := w.flushReady(bw); err != nil {
				w.fail(err)
				return
			}
		case <-ctx.Done():
			w.finish(bw)
			return
		}
	}
}

func (w *Worker) flushReady(bw *bufio.Writer) error {
	for {
		buf, ok := w.heap.PopOutput()
		if !ok {
			return nil
		}
		if err := w.writeLine(bw, buf); err != nil {
			return err
		}
	}
}

func (w *Worker) writeLine(bw *bufio.Writer, buf *grid.Buffer) error {
	if _, err := bw.WriteString(w.codec.EncodeLine(buf)); err != nil {
		return fmt.Errorf("saver: writing %s: %w", w.outPath, err)
	}
	if err := bw.WriteByte('\n'); err != nil {
		return fmt.Errorf("saver: writing %s: %w", w.outPath, err)
	}
	w.total.Add(1)
	metrics.WorkerLinesWritten.WithLabelValues(strconv.Itoa(w.id)).Inc()
	return nil
}

func (w *Worker) finish(bw *bufio.Writer) {
	w.heap.Drain()
	if err := w.flushReady(bw); err != nil {
		w.fail(err)
		return
	}
	if err := bw.Flush(); err != nil {
		w.fail(fmt.Errorf("saver: flushing %s: %w", w.outPath, err))
		return
	}
	w.state.Store(int32(WorkerSuccess))
}

func (w *Worker) fail(err error) {
	w.err.Store(&err)
	w.state.Store(int32(WorkerFailed))
}
