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

package meta

import (
	"context"
	"strconv"

	"github.com/liuzhishan/droplet/metrics"
	"github.com/liuzhishan/droplet/rpcproto"
)

// Handler implements rpcserver.Handler for the meta service: it
// backs RegisterNode/GetPartitionInfo/GetTableInfo/InsertTableInfo/
// ReportStorageInfo/Heartbeat with a MetaClient, grounded on
// droplet-meta-server's handlers for the same calls (SPEC_FULL.md
// §12). StartSinkPartition/SinkGridSample/FinishSinkPartition belong
// to the storage node's saver.Handler instead; the meta service
// returns NotFound for them, since it never owns a partition's data.
type Handler struct {
	Client MetaClient
}

func NewHandler(c MetaClient) *Handler {
	return &Handler{Client: c}
}

func (h *Handler) Heartbeat(r *rpcproto.HeartbeatRequest) (*rpcproto.HeartbeatResponse, error) {
	return &rpcproto.HeartbeatResponse{Acknowledged: true}, nil
}

func (h *Handler) RegisterNode(r *rpcproto.RegisterNodeRequest) (*rpcproto.RegisterNodeResponse, error) {
	id, token, err := h.Client.RegisterNode(context.Background(), r.NodeName, r.NodeIP, r.NodePort)
	if err != nil {
		return &rpcproto.RegisterNodeResponse{Success: false, ErrorMessage: err.Error()}, nil
	}
	return &rpcproto.RegisterNodeResponse{NodeID: uint64(id), NodeToken: token, Success: true}, nil
}

func (h *Handler) GetPartitionInfo(r *rpcproto.GetPartitionInfoRequest) (*rpcproto.GetPartitionInfoResponse, error) {
	ctx := context.Background()
	p, err := h.Client.GetPartitionCountPerDay(ctx, r.TableName)
	if err != nil {
		return nil, rpcproto.NewError(rpcproto.StatusNotFound, "%v", err)
	}
	idx := partitionIndexFor(r.Timestamp, p)
	start, end := partitionBoundsFor(idx, p)
	endpoint, err := h.Client.GetServerEndpointByPartitionIndex(ctx, r.TableName, idx)
	if err != nil {
		return nil, rpcproto.NewError(rpcproto.StatusNotFound, "%v", err)
	}
	return &rpcproto.GetPartitionInfoResponse{
		PartitionInfos: []rpcproto.PartitionInfo{{
			PartitionIndex: idx,
			TimeStart:      start,
			TimeEnd:        end,
			ServerEndpoint: endpoint,
		}},
	}, nil
}

func (h *Handler) GetTableInfo(r *rpcproto.GetTableInfoRequest) (*rpcproto.GetTableInfoResponse, error) {
	cols, p, err := h.Client.GetTableInfo(context.Background(), r.TableName)
	if err != nil {
		return nil, rpcproto.NewError(rpcproto.StatusNotFound, "%v", err)
	}
	out := make([]rpcproto.ColumnInfo, len(cols))
	for i, c := range cols {
		out[i] = rpcproto.ColumnInfo{
			ColumnName:  c.Name,
			ColumnType:  rpcproto.ColumnType(c.Type),
			ColumnID:    c.ID,
			ColumnIndex: c.Index,
		}
	}
	return &rpcproto.GetTableInfoResponse{Columns: out, PartitionCountPerDay: p}, nil
}

func (h *Handler) InsertTableInfo(r *rpcproto.InsertTableInfoRequest) (*rpcproto.InsertTableInfoResponse, error) {
	cols := make([]ColumnInfo, len(r.Columns))
	for i, c := range r.Columns {
		cols[i] = ColumnInfo{
			Name:  c.ColumnName,
			Type:  ColumnType(c.ColumnType),
			ID:    c.ColumnID,
			Index: c.ColumnIndex,
		}
	}
	if err := h.Client.InsertTableInfo(context.Background(), r.TableName, r.PartitionCountPerDay, cols); err != nil {
		return &rpcproto.InsertTableInfoResponse{Success: false, ErrorMessage: err.Error()}, nil
	}
	return &rpcproto.InsertTableInfoResponse{Success: true}, nil
}

func (h *Handler) ReportStorageInfo(r *rpcproto.ReportStorageInfoRequest) (*rpcproto.SuccessResponse, error) {
	if err := h.Client.ReportStorageInfo(context.Background(), uint32(r.NodeID), r.UsedDiskSize); err != nil {
		return nil, rpcproto.NewError(rpcproto.StatusTransient, "%v", err)
	}
	metrics.DiskUsedBytes.WithLabelValues(strconv.FormatUint(r.NodeID, 10)).Set(float64(r.UsedDiskSize))
	return &rpcproto.SuccessResponse{Success: true}, nil
}

func (h *Handler) StartSinkPartition(r *rpcproto.StartSinkPartitionRequest) (*rpcproto.SuccessResponse, error) {
	return nil, rpcproto.NewError(rpcproto.StatusNotFound, "meta service does not accept sink RPCs")
}

func (h *Handler) SinkGridSample(r *rpcproto.SinkGridSampleRequest) (*rpcproto.SinkGridSampleResponse, error) {
	return nil, rpcproto.NewError(rpcproto.StatusNotFound, "meta service does not accept sink RPCs")
}

func (h *Handler) FinishSinkPartition(r *rpcproto.FinishSinkPartitionRequest) (*rpcproto.SuccessResponse, error) {
	return nil, rpcproto.NewError(rpcproto.StatusNotFound, "meta service does not accept sink RPCs")
}

// partitionIndexFor and partitionBoundsFor duplicate key.PartitionIndex/
// key.PartitionBounds's arithmetic rather than importing the key
// package, to keep meta free of a dependency on the ingest core it is
// meant to be a collaborator of, not a consumer.
func partitionIndexFor(timestampSec uint64, partitionsPerDay uint32) uint32 {
	secondsSinceMidnight := timestampSec % 86400
	return uint32((secondsSinceMidnight * uint64(partitionsPerDay)) / 86400)
}

func partitionBoundsFor(idx, partitionsPerDay uint32) (start, end uint64) {
	span := uint64(86400) / uint64(partitionsPerDay)
	start = uint64(idx) * span
	end = start + span
	return
}
