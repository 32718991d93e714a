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
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"github.com/liuzhishan/droplet/grid"
	"github.com/liuzhishan/droplet/metrics"
	"github.com/liuzhishan/droplet/rpcproto"
)

// shutdownGrace is how long a graceful Shutdown waits for a worker's
// in-flight flush, per the ingest specification's §5 "Graceful
// shutdown waits up to 1 s per worker for in-flight flush."
const shutdownGrace = time.Second

// SampleSaver is the per-partition coordinator described in the
// ingest specification's §4.3: for one (path, partition_index) it
// fans SinkGridSample requests out to a fixed pool of Workers and, on
// partition close, merges their intermediate files into the final
// sorted output.
type SampleSaver struct {
	path           string
	partitionIndex uint32
	timeStart      uint64
	timeEnd        uint64
	cfg            Config
	codec          *lineCodec
	logger         *log.Logger

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc

	mu        sync.Mutex
	ch        chan *grid.Buffer
	chClosed  bool
	sinkers   map[uint64]struct{}
	started   bool
	finalized bool

	workers []*Worker
	eg      *errgroup.Group

	// workerStates is a reusable scratch buffer for the per-worker
	// state snapshot finalize logs on failure, grown with
	// slices.Grow the same way db.queueBatch.status is reused across
	// QueueRunner.runBatches calls rather than reallocated.
	workerStates []WorkerState
}

// New constructs a SampleSaver for one (path, partition_index),
// creating path if it does not already exist. timeStart/timeEnd are
// the partition's [start, end) second-of-day bounds (key.PartitionBounds),
// used only to sanity-check the row-0 key of every buffer pushed
// through SinkGridSample (see validateRow0) against the partition the
// sender believes it is targeting. A batch's later rows may legally
// drift past timeEnd; that skew is accepted, not rejected, matching
// sinker.GridSinker's own per-batch (not per-row) routing granularity.
func New(path string, partitionIndex uint32, timeStart, timeEnd uint64, cfg Config, logger *log.Logger) (*SampleSaver, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("saver: creating partition directory %s: %w", path, err)
	}
	codec, err := newLineCodec(cfg.Compress)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SampleSaver{
		path:           path,
		partitionIndex: partitionIndex,
		timeStart:      timeStart,
		timeEnd:        timeEnd,
		cfg:            cfg,
		codec:          codec,
		logger:         logger,
		shutdownCtx:    ctx,
		shutdownCancel: cancel,
		ch:             make(chan *grid.Buffer, cfg.ChannelCapacity),
		sinkers:        make(map[uint64]struct{}),
	}, nil
}

func (s *SampleSaver) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// StartPartition registers sinkerID as an active producer for this
// partition, lazily starting the K worker pool the first time any
// sinker opens the partition.
func (s *SampleSaver) StartPartition(sinkerID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chClosed {
		return rpcproto.NewError(rpcproto.StatusFatal, "partition %d at %s is already closing", s.partitionIndex, s.path)
	}
	s.sinkers[sinkerID] = struct{}{}
	if !s.started {
		s.started = true
		s.startWorkers()
	}
	return nil
}

func (s *SampleSaver) startWorkers() {
	s.eg = &errgroup.Group{}
	s.workers = make([]*Worker, s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		w := newWorker(i, s.cfg, s.codec, s.ch, filepath.Join(s.path, fmt.Sprintf("%d.grid", i)))
		s.workers[i] = w
		s.eg.Go(func() error {
			w.Run(s.shutdownCtx)
			if w.State() == WorkerFailed {
				return fmt.Errorf("saver: worker %d failed: %w", w.id, w.Err())
			}
			return nil
		})
	}
}

// validateRow0 rejects buf with InvalidArgument if its first row's
// timestamp falls outside this partition's [timeStart, timeEnd) span.
// Only row 0 is checked: sinker.GridSinker.route picks a batch's
// destination partition from row 0 alone and never splits a batch at
// a partition boundary, so a batch whose later rows drift across the
// boundary is expected skew, not a misroute, and is accepted here the
// same way droplet-server's original SampleSaver performs no per-row
// bound check at all. Row 0 is still checked because a batch landing
// here with an out-of-bounds row 0 indicates a genuine routing bug on
// the sender's side, not ordinary skew.
func (s *SampleSaver) validateRow0(buf *grid.Buffer) error {
	if buf.NumRows() == 0 {
		return nil
	}
	k, err := buf.SampleKey(0)
	if err != nil {
		return rpcproto.NewError(rpcproto.StatusInvalidArgument, "row 0: %v", err)
	}
	if k.Timestamp < s.timeStart || k.Timestamp >= s.timeEnd {
		return rpcproto.NewError(rpcproto.StatusInvalidArgument,
			"row 0 timestamp %d outside partition %d bounds [%d, %d)",
			k.Timestamp, s.partitionIndex, s.timeStart, s.timeEnd)
	}
	return nil
}

// SinkGridSample validates and enqueues buf for the worker pool to
// consume. sinkerID must have an open partition (StartPartition must
// have been called and FinishPartition must not yet have matched it).
//
// This assumes, as the ingest specification's data model does, that a
// single SinkerID issues its RPCs sequentially from one producer
// thread: concurrent SinkGridSample/FinishPartition calls for the
// same sinkerID are not a supported usage and are not synchronized
// against each other beyond what the map lookup below provides.
func (s *SampleSaver) SinkGridSample(sinkerID uint64, buf *grid.Buffer) error {
	s.mu.Lock()
	if _, ok := s.sinkers[sinkerID]; !ok {
		s.mu.Unlock()
		return rpcproto.NewError(rpcproto.StatusNotFound, "sinker %d has no open partition at %s", sinkerID, s.path)
	}
	closed := s.chClosed
	s.mu.Unlock()
	if closed {
		return rpcproto.NewError(rpcproto.StatusFatal, "partition %d at %s is closing", s.partitionIndex, s.path)
	}
	if err := s.validateRow0(buf); err != nil {
		return err
	}
	s.ch <- buf
	return nil
}

// FinishPartition removes sinkerID from the active-producer set. Per
// the ingest specification's §4.3/§8 scenario 5, a second finish call
// for an already-finished sinkerID is a no-op; the partition only
// closes once every registered sinker has finished, and finalize runs
// exactly once. finalized is true only on the call that actually
// closed the channel; it reports whether the partition completed
// successfully.
func (s *SampleSaver) FinishPartition(ctx context.Context, sinkerID uint64) (finalized bool, success bool, err error) {
	s.mu.Lock()
	delete(s.sinkers, sinkerID)
	shouldFinalize := s.started && len(s.sinkers) == 0 && !s.finalized
	if shouldFinalize {
		s.finalized = true
		close(s.ch)
		s.chClosed = true
	}
	s.mu.Unlock()
	if !shouldFinalize {
		return false, false, nil
	}
	err = s.finalize(ctx)
	return true, err == nil, err
}

// snapshotWorkerStates reads every worker's current WorkerState into
// s.workerStates, reusing its backing array across calls.
func (s *SampleSaver) snapshotWorkerStates() []WorkerState {
	s.workerStates = slices.Grow(s.workerStates[:0], len(s.workers))[:len(s.workers)]
	for i, w := range s.workers {
		s.workerStates[i] = w.State()
	}
	return s.workerStates
}

// finalize reaps the worker pool and, if every worker reached
// WorkerSuccess, performs the K-way merge and writes the SUCCESS
// sentinel. See §4.3's "Worker reap" and "K-way merge" subsections.
func (s *SampleSaver) finalize(ctx context.Context) error {
	if err := s.eg.Wait(); err != nil {
		metrics.PartitionsFailed.Inc()
		s.logf("saver: partition %d at %s worker states at failure: %v", s.partitionIndex, s.path, s.snapshotWorkerStates())
		return rpcproto.NewError(rpcproto.StatusFatal, "%v", err)
	}

	workerPaths := make([]string, len(s.workers))
	var total int64
	for i, w := range s.workers {
		workerPaths[i] = w.outPath
		total += w.Total()
	}

	sortedDir := s.cfg.sortedPath(s.path)
	if err := mergeSort(s.cfg, s.codec, workerPaths, total, sortedDir); err != nil {
		metrics.PartitionsFailed.Inc()
		return err
	}
	if err := os.WriteFile(filepath.Join(s.path, "SUCCESS"), nil, 0o644); err != nil {
		metrics.PartitionsFailed.Inc()
		return rpcproto.NewError(rpcproto.StatusFatal, "writing SUCCESS sentinel: %v", err)
	}
	metrics.PartitionsFinalized.Inc()
	s.logf("saver: partition %d at %s finalized, %d lines merged", s.partitionIndex, s.path, total)
	return nil
}

// Shutdown cancels every worker's run loop, giving each up to
// shutdownGrace to drain its heap and flush before returning. It does
// not perform the final merge; callers that want a complete partition
// should prefer letting every sinker call FinishPartition instead.
func (s *SampleSaver) Shutdown() {
	s.shutdownCancel()
	done := make(chan struct{})
	go func() {
		if s.eg != nil {
			s.eg.Wait()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
	}
}
