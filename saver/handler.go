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
	"log"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/exp/maps"

	"github.com/liuzhishan/droplet/grid"
	"github.com/liuzhishan/droplet/key"
	"github.com/liuzhishan/droplet/meta"
	"github.com/liuzhishan/droplet/rpcproto"
)

// Handler implements rpcserver.Handler for a storage node: it owns
// one SampleSaver per (path, partition_index) and dispatches the
// StartSinkPartition/SinkGridSample/FinishSinkPartition RPCs to the
// right one, creating it lazily on first use as §4.3 describes.
// Heartbeat is answered directly; RegisterNode/GetTableInfo/
// InsertTableInfo/GetPartitionInfo/ReportStorageInfo belong to the
// meta service's meta.Handler, not the storage node.
type Handler struct {
	Cfg    Config
	Meta   meta.MetaClient
	Logger *log.Logger

	mu     sync.Mutex
	byPath map[string]*SampleSaver
	paths  map[uint64]string // path_id -> path, learned from StartSinkPartition
	tables map[string]pathInfo
}

type pathInfo struct {
	table    string
	yyyymmdd uint32
}

func NewHandler(cfg Config, mc meta.MetaClient, logger *log.Logger) *Handler {
	return &Handler{
		Cfg:    cfg,
		Meta:   mc,
		Logger: logger,
		byPath: make(map[string]*SampleSaver),
		paths:  make(map[uint64]string),
		tables: make(map[string]pathInfo),
	}
}

// Close shuts down every SampleSaver the handler owns and flushes the
// handler's own bookkeeping maps, the way db.QueueRunner.updateDefs
// flushes its table cache with maps.Clear before rebuilding it: a
// storage node process exiting calls this once, after which the
// handler must not be reused.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, s := range h.byPath {
		s.Shutdown()
	}
	maps.Clear(h.byPath)
	maps.Clear(h.paths)
	maps.Clear(h.tables)
}

func (h *Handler) Heartbeat(r *rpcproto.HeartbeatRequest) (*rpcproto.HeartbeatResponse, error) {
	return &rpcproto.HeartbeatResponse{Acknowledged: true}, nil
}

// parsePath recovers (table, yyyymmdd) from a path of the form
// "<root>/tables/<table>/<yyyymmdd>/<partition_index>", the fixed
// layout described in the ingest specification's §6.
func parsePath(path string) (table string, yyyymmdd uint32, err error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		if p == "tables" && i+2 < len(parts) {
			table = parts[i+1]
			d, convErr := strconv.ParseUint(parts[i+2], 10, 32)
			if convErr != nil {
				return "", 0, rpcproto.NewError(rpcproto.StatusInvalidArgument, "path %q has non-numeric date segment", path)
			}
			return table, uint32(d), nil
		}
	}
	return "", 0, rpcproto.NewError(rpcproto.StatusInvalidArgument, "path %q does not match /tables/<table>/<yyyymmdd>/<partition> layout", path)
}

func (h *Handler) getOrCreateSaver(path string, partitionIndex uint32) (*SampleSaver, error) {
	h.mu.Lock()
	if s, ok := h.byPath[path]; ok {
		h.mu.Unlock()
		return s, nil
	}
	h.mu.Unlock()

	table, yyyymmdd, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	p, err := h.Meta.GetPartitionCountPerDay(context.Background(), table)
	if err != nil {
		return nil, rpcproto.NewError(rpcproto.StatusNotFound, "%v", err)
	}
	start, end := key.PartitionBounds(partitionIndex, p)
	s, err := New(path, partitionIndex, start, end, h.Cfg, h.Logger)
	if err != nil {
		return nil, rpcproto.NewError(rpcproto.StatusFatal, "%v", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.byPath[path]; ok {
		// lost the race to another goroutine; use theirs.
		return existing, nil
	}
	h.byPath[path] = s
	h.tables[path] = pathInfo{table: table, yyyymmdd: yyyymmdd}
	return s, nil
}

func (h *Handler) StartSinkPartition(r *rpcproto.StartSinkPartitionRequest) (*rpcproto.SuccessResponse, error) {
	s, err := h.getOrCreateSaver(r.Path, r.PartitionIndex)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.paths[r.PathID] = r.Path
	h.mu.Unlock()
	if err := s.StartPartition(r.SinkerID); err != nil {
		return nil, err
	}
	return &rpcproto.SuccessResponse{Success: true}, nil
}

func (h *Handler) lookupByPathID(pathID uint64) (*SampleSaver, string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	path, ok := h.paths[pathID]
	if !ok {
		return nil, "", false
	}
	s, ok := h.byPath[path]
	return s, path, ok
}

func (h *Handler) SinkGridSample(r *rpcproto.SinkGridSampleRequest) (*rpcproto.SinkGridSampleResponse, error) {
	s, _, ok := h.lookupByPathID(r.PathID)
	if !ok {
		return nil, rpcproto.NewError(rpcproto.StatusNotFound, "unknown path_id %d", r.PathID)
	}
	buf, err := grid.FromBytes(r.GridSampleBytes)
	if err != nil {
		return nil, rpcproto.NewError(rpcproto.StatusInvalidArgument, "decoding grid sample: %v", err)
	}
	if err := s.SinkGridSample(r.SinkerID, buf); err != nil {
		return nil, err
	}
	return &rpcproto.SinkGridSampleResponse{Success: true, PathID: r.PathID}, nil
}

func (h *Handler) FinishSinkPartition(r *rpcproto.FinishSinkPartitionRequest) (*rpcproto.SuccessResponse, error) {
	s, path, ok := h.lookupByPathID(r.PathID)
	if !ok {
		return nil, rpcproto.NewError(rpcproto.StatusNotFound, "unknown path_id %d", r.PathID)
	}
	finalized, success, err := s.FinishPartition(context.Background(), r.SinkerID)
	if err != nil {
		return nil, err
	}
	if finalized && success {
		h.mu.Lock()
		info := h.tables[path]
		h.mu.Unlock()
		sortedPath := h.Cfg.sortedPath(path)
		if err := h.Meta.RecordPartitionPath(context.Background(), info.table, info.yyyymmdd, sortedPath); err != nil {
			return nil, rpcproto.NewError(rpcproto.StatusTransient, "recording partition path: %v", err)
		}
	}
	return &rpcproto.SuccessResponse{Success: true}, nil
}

func (h *Handler) GetPartitionInfo(r *rpcproto.GetPartitionInfoRequest) (*rpcproto.GetPartitionInfoResponse, error) {
	return nil, rpcproto.NewError(rpcproto.StatusNotFound, "storage node does not serve meta RPCs")
}

func (h *Handler) RegisterNode(r *rpcproto.RegisterNodeRequest) (*rpcproto.RegisterNodeResponse, error) {
	return nil, rpcproto.NewError(rpcproto.StatusNotFound, "storage node does not serve meta RPCs")
}

func (h *Handler) GetTableInfo(r *rpcproto.GetTableInfoRequest) (*rpcproto.GetTableInfoResponse, error) {
	return nil, rpcproto.NewError(rpcproto.StatusNotFound, "storage node does not serve meta RPCs")
}

func (h *Handler) InsertTableInfo(r *rpcproto.InsertTableInfoRequest) (*rpcproto.InsertTableInfoResponse, error) {
	return nil, rpcproto.NewError(rpcproto.StatusNotFound, "storage node does not serve meta RPCs")
}

func (h *Handler) ReportStorageInfo(r *rpcproto.ReportStorageInfoRequest) (*rpcproto.SuccessResponse, error) {
	return nil, rpcproto.NewError(rpcproto.StatusNotFound, "storage node does not serve meta RPCs")
}
