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

// Package sinker implements GridSinker, the client-side half of the
// ingest protocol described in the ingest specification's §4.4: it
// locally re-sorts a producer's stream of GridBuffers through a small
// WindowHeap, works out which storage node owns each resulting batch,
// and drives the start_sink_partition/sink_grid_sample/
// finish_sink_partition RPC sequence against it.
package sinker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/liuzhishan/droplet/grid"
	"github.com/liuzhishan/droplet/key"
	"github.com/liuzhishan/droplet/meta"
	"github.com/liuzhishan/droplet/rpcclient"
	"github.com/liuzhishan/droplet/rpcproto"
	"github.com/liuzhishan/droplet/windowheap"
)

// ErrEndpointChanged is returned when meta re-routes the partition a
// GridSinker currently has open to a different storage endpoint. This
// is the ingest specification's §9 open question #3, decided in favor
// of a hard failure: there is no protocol for reconciling the rows
// already sent to the old endpoint with a fresh one, so the sinker
// refuses to silently keep going and leaves resuming (as a brand new
// partition) to the caller.
var ErrEndpointChanged = errors.New("sinker: storage endpoint changed for an already-open partition")

// GridSinker is one producer's connection into the ingest pipeline. It
// is not safe for concurrent use: a single goroutine is expected to
// call Push/Close in sequence, mirroring the specification's
// single-producer-per-sinker-id model.
type GridSinker struct {
	table  string
	meta   meta.MetaClient
	logger *log.Logger
	cfg    Config

	heap *windowheap.Heap

	sinkerID         uint64
	pathID           uint64
	tablePath        string
	partitionsPerDay uint32

	client   *rpcclient.Client
	endpoint string

	open           bool
	partitionIndex uint32
	yyyymmdd       uint32
}

// New resolves hostname and table's physical path to their persistent
// ids via mc (the first use of GetOrInsertKeyID for each, per §6),
// and constructs a GridSinker ready to accept Push calls.
func New(ctx context.Context, table, hostname string, mc meta.MetaClient, cfg Config, logger *log.Logger) (*GridSinker, error) {
	sinkerID, err := mc.GetOrInsertKeyID(ctx, hostname)
	if err != nil {
		return nil, fmt.Errorf("sinker: resolving sinker id for %q: %w", hostname, err)
	}
	partitionsPerDay, err := mc.GetPartitionCountPerDay(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("sinker: resolving partition count for %q: %w", table, err)
	}
	tablePath, err := mc.GetPathByTable(ctx, table)
	if err != nil {
		return nil, fmt.Errorf("sinker: resolving path for table %q: %w", table, err)
	}
	pathID, err := mc.GetOrInsertKeyID(ctx, tablePath)
	if err != nil {
		return nil, fmt.Errorf("sinker: resolving path id for %q: %w", tablePath, err)
	}
	return &GridSinker{
		table:            table,
		meta:             mc,
		logger:           logger,
		cfg:              cfg,
		heap:             windowheap.New(cfg.WindowSize, cfg.BatchSize),
		sinkerID:         sinkerID,
		pathID:           pathID,
		tablePath:        tablePath,
		partitionsPerDay: partitionsPerDay,
	}, nil
}

func (s *GridSinker) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
	}
}

// Push feeds one unsorted producer buffer through the local WindowHeap
// and routes whatever sorted output batches fall out of it, per §4.4.
func (s *GridSinker) Push(ctx context.Context, buf *grid.Buffer) error {
	if err := s.heap.Push(buf); err != nil {
		return fmt.Errorf("sinker: %w", err)
	}
	return s.drainReady(ctx)
}

func (s *GridSinker) drainReady(ctx context.Context) error {
	for {
		out, ok := s.heap.PopOutput()
		if !ok {
			return nil
		}
		if err := s.route(ctx, out); err != nil {
			return err
		}
	}
}

// Close drains whatever remains in the local heap, routes it, and
// sends a final finish_sink_partition for whatever partition is still
// open, matching §4.4's "stream end" termination rule. It then closes
// the underlying RPC connection.
func (s *GridSinker) Close(ctx context.Context) error {
	s.heap.Drain()
	if err := s.drainReady(ctx); err != nil {
		return err
	}
	if s.open {
		if err := s.finish(s.partitionIndex); err != nil {
			return err
		}
		s.open = false
	}
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// route determines which (partition, endpoint) buf belongs to, using
// its first row's timestamp as representative of the whole sorted
// batch, and sinks it there, opening, crossing, or rejecting the
// partition transition as needed. Later rows of the batch may fall in
// a later partition; the batch is not split and goes whole to row 0's
// partition.
func (s *GridSinker) route(ctx context.Context, buf *grid.Buffer) error {
	if buf.NumRows() == 0 {
		return nil
	}
	k, err := buf.SampleKey(0)
	if err != nil {
		return fmt.Errorf("sinker: reading row 0 key: %w", err)
	}
	idx := key.PartitionIndex(k.Timestamp, s.partitionsPerDay)
	day := dateFromUnix(k.Timestamp)

	endpoint, err := s.meta.GetServerEndpointByPartitionIndex(ctx, s.table, idx)
	if err != nil {
		return fmt.Errorf("sinker: resolving endpoint for partition %d: %w", idx, err)
	}

	switch {
	case !s.open:
		if err := s.openPartition(idx, day, endpoint); err != nil {
			return err
		}
	case idx != s.partitionIndex || day != s.yyyymmdd:
		if err := s.crossPartition(idx, day, endpoint); err != nil {
			return err
		}
	case endpoint != s.endpoint:
		return ErrEndpointChanged
	}

	return s.sink(buf)
}

// dateFromUnix derives the UTC calendar date (as yyyymmdd) a
// second-of-epoch timestamp falls on, the unit partition paths are
// laid out by per §6.
func dateFromUnix(ts uint64) uint32 {
	t := time.Unix(int64(ts), 0).UTC()
	return uint32(t.Year())*10000 + uint32(t.Month())*100 + uint32(t.Day())
}

func (s *GridSinker) dial(endpoint string) error {
	if s.client != nil {
		s.client.Close()
	}
	c, err := rpcclient.Dial(endpoint)
	if err != nil {
		return fmt.Errorf("sinker: dialing %s: %w", endpoint, err)
	}
	if _, err := c.Heartbeat(&rpcproto.HeartbeatRequest{NodeID: s.sinkerID, Status: rpcproto.NodeAlive}); err != nil {
		c.Close()
		return fmt.Errorf("sinker: heartbeat to %s: %w", endpoint, err)
	}
	s.client = c
	s.endpoint = endpoint
	return nil
}

func (s *GridSinker) partitionPath(yyyymmdd uint32, idx uint32) string {
	return fmt.Sprintf("%s/%d/%d", s.tablePath, yyyymmdd, idx)
}

func (s *GridSinker) openPartition(idx, day uint32, endpoint string) error {
	if s.client == nil || s.endpoint != endpoint {
		if err := s.dial(endpoint); err != nil {
			return err
		}
	}
	resp, err := s.client.StartSinkPartition(&rpcproto.StartSinkPartitionRequest{
		Path:           s.partitionPath(day, idx),
		PathID:         s.pathID,
		SinkerID:       s.sinkerID,
		PartitionIndex: idx,
	})
	if err != nil {
		return fmt.Errorf("sinker: starting partition %d: %w", idx, err)
	}
	if !resp.Success {
		return fmt.Errorf("sinker: storage node refused to start partition %d", idx)
	}
	s.open = true
	s.partitionIndex = idx
	s.yyyymmdd = day
	s.logf("sinker: opened partition %d (%d) at %s", idx, day, endpoint)
	return nil
}

// crossPartition closes out the currently open partition and opens
// the next one, re-dialing only if the new partition routes to a
// different endpoint. This is the normal, expected case of the
// producer's stream advancing past a partition boundary; it is
// distinct from ErrEndpointChanged, which fires when the *same*
// partition's endpoint moves out from under an open stream.
func (s *GridSinker) crossPartition(newIdx, newDay uint32, endpoint string) error {
	if err := s.finish(s.partitionIndex); err != nil {
		return err
	}
	s.open = false
	return s.openPartition(newIdx, newDay, endpoint)
}

func (s *GridSinker) finish(idx uint32) error {
	resp, err := s.client.FinishSinkPartition(&rpcproto.FinishSinkPartitionRequest{
		PathID:         s.pathID,
		SinkerID:       s.sinkerID,
		PartitionIndex: idx,
	})
	if err != nil {
		return fmt.Errorf("sinker: finishing partition %d: %w", idx, err)
	}
	if !resp.Success {
		return fmt.Errorf("sinker: storage node refused to finish partition %d", idx)
	}
	return nil
}

func (s *GridSinker) sink(buf *grid.Buffer) error {
	resp, err := s.client.SinkGridSample(&rpcproto.SinkGridSampleRequest{
		PathID:          s.pathID,
		SinkerID:        s.sinkerID,
		PartitionIndex:  s.partitionIndex,
		GridSampleBytes: buf.ToBytes(),
	})
	if err != nil {
		return fmt.Errorf("sinker: sinking to partition %d: %w", s.partitionIndex, err)
	}
	if !resp.Success {
		return fmt.Errorf("sinker: storage node rejected sample: %s", resp.ErrorMessage)
	}
	return nil
}
