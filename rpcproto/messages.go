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

package rpcproto

import "bytes"

// NodeStatus is the liveness state a node reports in Heartbeat.
type NodeStatus uint8

const (
	NodeAlive NodeStatus = iota + 1
	NodeHealthy
)

// HeartbeatRequest is {node_id, status}.
type HeartbeatRequest struct {
	NodeID uint64
	Status NodeStatus
}

func (r *HeartbeatRequest) Encode() []byte {
	var buf bytes.Buffer
	writeU64(&buf, r.NodeID)
	buf.WriteByte(byte(r.Status))
	return buf.Bytes()
}

func (r *HeartbeatRequest) Decode(data []byte) error {
	br := bytes.NewReader(data)
	nodeID, err := readU64(br)
	if err != nil {
		return err
	}
	status, err := br.ReadByte()
	if err != nil {
		return err
	}
	r.NodeID, r.Status = nodeID, NodeStatus(status)
	return nil
}

// HeartbeatResponse is {acknowledged}.
type HeartbeatResponse struct {
	Acknowledged bool
}

func (r *HeartbeatResponse) Encode() []byte {
	var buf bytes.Buffer
	writeBool(&buf, r.Acknowledged)
	return buf.Bytes()
}

func (r *HeartbeatResponse) Decode(data []byte) error {
	br := bytes.NewReader(data)
	v, err := readBool(br)
	if err != nil {
		return err
	}
	r.Acknowledged = v
	return nil
}

// RegisterNodeRequest is {node_name, node_ip, node_port}.
type RegisterNodeRequest struct {
	NodeName string
	NodeIP   string
	NodePort uint32
}

func (r *RegisterNodeRequest) Encode() []byte {
	var buf bytes.Buffer
	writeString(&buf, r.NodeName)
	writeString(&buf, r.NodeIP)
	writeU32(&buf, r.NodePort)
	return buf.Bytes()
}

func (r *RegisterNodeRequest) Decode(data []byte) error {
	br := bytes.NewReader(data)
	var err error
	if r.NodeName, err = readString(br); err != nil {
		return err
	}
	if r.NodeIP, err = readString(br); err != nil {
		return err
	}
	if r.NodePort, err = readU32(br); err != nil {
		return err
	}
	return nil
}

// RegisterNodeResponse is {node_id, success, error_message}, plus a
// NodeToken: a UUID the meta store mints the first time it sees a
// node name, echoed back so the node can detect a re-registration
// under a stale identity (see SPEC_FULL.md §11's uuid wiring).
type RegisterNodeResponse struct {
	NodeID       uint64
	NodeToken    string
	Success      bool
	ErrorMessage string
}

func (r *RegisterNodeResponse) Encode() []byte {
	var buf bytes.Buffer
	writeU64(&buf, r.NodeID)
	writeString(&buf, r.NodeToken)
	writeBool(&buf, r.Success)
	writeString(&buf, r.ErrorMessage)
	return buf.Bytes()
}

func (r *RegisterNodeResponse) Decode(data []byte) error {
	br := bytes.NewReader(data)
	var err error
	if r.NodeID, err = readU64(br); err != nil {
		return err
	}
	if r.NodeToken, err = readString(br); err != nil {
		return err
	}
	if r.Success, err = readBool(br); err != nil {
		return err
	}
	if r.ErrorMessage, err = readString(br); err != nil {
		return err
	}
	return nil
}

// StartSinkPartitionRequest is {path, path_id, sinker_id, partition_index}.
type StartSinkPartitionRequest struct {
	Path           string
	PathID         uint64
	SinkerID       uint64
	PartitionIndex uint32
}

func (r *StartSinkPartitionRequest) Encode() []byte {
	var buf bytes.Buffer
	writeString(&buf, r.Path)
	writeU64(&buf, r.PathID)
	writeU64(&buf, r.SinkerID)
	writeU32(&buf, r.PartitionIndex)
	return buf.Bytes()
}

func (r *StartSinkPartitionRequest) Decode(data []byte) error {
	br := bytes.NewReader(data)
	var err error
	if r.Path, err = readString(br); err != nil {
		return err
	}
	if r.PathID, err = readU64(br); err != nil {
		return err
	}
	if r.SinkerID, err = readU64(br); err != nil {
		return err
	}
	if r.PartitionIndex, err = readU32(br); err != nil {
		return err
	}
	return nil
}

// SuccessResponse is {success}, shared by StartSinkPartition and
// FinishSinkPartition, whose responses carry nothing else.
type SuccessResponse struct {
	Success bool
}

func (r *SuccessResponse) Encode() []byte {
	var buf bytes.Buffer
	writeBool(&buf, r.Success)
	return buf.Bytes()
}

func (r *SuccessResponse) Decode(data []byte) error {
	br := bytes.NewReader(data)
	v, err := readBool(br)
	if err != nil {
		return err
	}
	r.Success = v
	return nil
}

// SinkGridSampleRequest is {path_id, sinker_id, partition_index, grid_sample_bytes}.
type SinkGridSampleRequest struct {
	PathID          uint64
	SinkerID        uint64
	PartitionIndex  uint32
	GridSampleBytes []byte
}

func (r *SinkGridSampleRequest) Encode() []byte {
	var buf bytes.Buffer
	writeU64(&buf, r.PathID)
	writeU64(&buf, r.SinkerID)
	writeU32(&buf, r.PartitionIndex)
	writeBytes(&buf, r.GridSampleBytes)
	return buf.Bytes()
}

func (r *SinkGridSampleRequest) Decode(data []byte) error {
	br := bytes.NewReader(data)
	var err error
	if r.PathID, err = readU64(br); err != nil {
		return err
	}
	if r.SinkerID, err = readU64(br); err != nil {
		return err
	}
	if r.PartitionIndex, err = readU32(br); err != nil {
		return err
	}
	if r.GridSampleBytes, err = readBytes(br); err != nil {
		return err
	}
	return nil
}

// SinkGridSampleResponse is {success, path_id, error_message}.
type SinkGridSampleResponse struct {
	Success      bool
	PathID       uint64
	ErrorMessage string
}

func (r *SinkGridSampleResponse) Encode() []byte {
	var buf bytes.Buffer
	writeBool(&buf, r.Success)
	writeU64(&buf, r.PathID)
	writeString(&buf, r.ErrorMessage)
	return buf.Bytes()
}

func (r *SinkGridSampleResponse) Decode(data []byte) error {
	br := bytes.NewReader(data)
	var err error
	if r.Success, err = readBool(br); err != nil {
		return err
	}
	if r.PathID, err = readU64(br); err != nil {
		return err
	}
	if r.ErrorMessage, err = readString(br); err != nil {
		return err
	}
	return nil
}

// FinishSinkPartitionRequest is {path_id, sinker_id, partition_index}.
type FinishSinkPartitionRequest struct {
	PathID         uint64
	SinkerID       uint64
	PartitionIndex uint32
}

func (r *FinishSinkPartitionRequest) Encode() []byte {
	var buf bytes.Buffer
	writeU64(&buf, r.PathID)
	writeU64(&buf, r.SinkerID)
	writeU32(&buf, r.PartitionIndex)
	return buf.Bytes()
}

func (r *FinishSinkPartitionRequest) Decode(data []byte) error {
	br := bytes.NewReader(data)
	var err error
	if r.PathID, err = readU64(br); err != nil {
		return err
	}
	if r.SinkerID, err = readU64(br); err != nil {
		return err
	}
	if r.PartitionIndex, err = readU32(br); err != nil {
		return err
	}
	return nil
}

// PartitionInfo describes one partition returned by GetPartitionInfo.
type PartitionInfo struct {
	PartitionIndex uint32
	TimeStart      uint64
	TimeEnd        uint64
	ServerEndpoint string
}

func writePartitionInfo(buf *bytes.Buffer, p PartitionInfo) {
	writeU32(buf, p.PartitionIndex)
	writeU64(buf, p.TimeStart)
	writeU64(buf, p.TimeEnd)
	writeString(buf, p.ServerEndpoint)
}

func readPartitionInfo(br *bytes.Reader) (PartitionInfo, error) {
	var p PartitionInfo
	var err error
	if p.PartitionIndex, err = readU32(br); err != nil {
		return p, err
	}
	if p.TimeStart, err = readU64(br); err != nil {
		return p, err
	}
	if p.TimeEnd, err = readU64(br); err != nil {
		return p, err
	}
	if p.ServerEndpoint, err = readString(br); err != nil {
		return p, err
	}
	return p, nil
}

// GetPartitionInfoRequest is {table_name, timestamp}.
type GetPartitionInfoRequest struct {
	TableName string
	Timestamp uint64
}

func (r *GetPartitionInfoRequest) Encode() []byte {
	var buf bytes.Buffer
	writeString(&buf, r.TableName)
	writeU64(&buf, r.Timestamp)
	return buf.Bytes()
}

func (r *GetPartitionInfoRequest) Decode(data []byte) error {
	br := bytes.NewReader(data)
	var err error
	if r.TableName, err = readString(br); err != nil {
		return err
	}
	if r.Timestamp, err = readU64(br); err != nil {
		return err
	}
	return nil
}

// GetPartitionInfoResponse is {partition_infos[]}.
type GetPartitionInfoResponse struct {
	PartitionInfos []PartitionInfo
}

func (r *GetPartitionInfoResponse) Encode() []byte {
	var buf bytes.Buffer
	writeU32(&buf, uint32(len(r.PartitionInfos)))
	for _, p := range r.PartitionInfos {
		writePartitionInfo(&buf, p)
	}
	return buf.Bytes()
}

func (r *GetPartitionInfoResponse) Decode(data []byte) error {
	br := bytes.NewReader(data)
	n, err := readU32(br)
	if err != nil {
		return err
	}
	r.PartitionInfos = make([]PartitionInfo, n)
	for i := range r.PartitionInfos {
		p, err := readPartitionInfo(br)
		if err != nil {
			return err
		}
		r.PartitionInfos[i] = p
	}
	return nil
}

// ColumnType enumerates the GridBuffer cell kinds a column may hold,
// mirroring grid.Kind at the metadata layer.
type ColumnType uint8

const (
	ColumnU64 ColumnType = iota + 1
	ColumnF32
	ColumnU64List
	ColumnF32List
)

// ColumnInfo is (column_name, column_type, column_id, column_index).
type ColumnInfo struct {
	ColumnName  string
	ColumnType  ColumnType
	ColumnID    uint32
	ColumnIndex uint32
}

func writeColumnInfo(buf *bytes.Buffer, c ColumnInfo) {
	writeString(buf, c.ColumnName)
	buf.WriteByte(byte(c.ColumnType))
	writeU32(buf, c.ColumnID)
	writeU32(buf, c.ColumnIndex)
}

func readColumnInfo(br *bytes.Reader) (ColumnInfo, error) {
	var c ColumnInfo
	var err error
	if c.ColumnName, err = readString(br); err != nil {
		return c, err
	}
	typeByte, err := br.ReadByte()
	if err != nil {
		return c, err
	}
	c.ColumnType = ColumnType(typeByte)
	if c.ColumnID, err = readU32(br); err != nil {
		return c, err
	}
	if c.ColumnIndex, err = readU32(br); err != nil {
		return c, err
	}
	return c, nil
}

// GetTableInfoRequest is {table_name}.
type GetTableInfoRequest struct {
	TableName string
}

func (r *GetTableInfoRequest) Encode() []byte {
	var buf bytes.Buffer
	writeString(&buf, r.TableName)
	return buf.Bytes()
}

func (r *GetTableInfoRequest) Decode(data []byte) error {
	br := bytes.NewReader(data)
	v, err := readString(br)
	if err != nil {
		return err
	}
	r.TableName = v
	return nil
}

// GetTableInfoResponse is {columns[], partition_count_per_day}.
type GetTableInfoResponse struct {
	Columns              []ColumnInfo
	PartitionCountPerDay uint32
}

func (r *GetTableInfoResponse) Encode() []byte {
	var buf bytes.Buffer
	writeU32(&buf, uint32(len(r.Columns)))
	for _, c := range r.Columns {
		writeColumnInfo(&buf, c)
	}
	writeU32(&buf, r.PartitionCountPerDay)
	return buf.Bytes()
}

func (r *GetTableInfoResponse) Decode(data []byte) error {
	br := bytes.NewReader(data)
	n, err := readU32(br)
	if err != nil {
		return err
	}
	r.Columns = make([]ColumnInfo, n)
	for i := range r.Columns {
		c, err := readColumnInfo(br)
		if err != nil {
			return err
		}
		r.Columns[i] = c
	}
	if r.PartitionCountPerDay, err = readU32(br); err != nil {
		return err
	}
	return nil
}

// InsertTableInfoRequest is {table_name, partition_count_per_day, columns[]}.
type InsertTableInfoRequest struct {
	TableName            string
	PartitionCountPerDay uint32
	Columns              []ColumnInfo
}

func (r *InsertTableInfoRequest) Encode() []byte {
	var buf bytes.Buffer
	writeString(&buf, r.TableName)
	writeU32(&buf, r.PartitionCountPerDay)
	writeU32(&buf, uint32(len(r.Columns)))
	for _, c := range r.Columns {
		writeColumnInfo(&buf, c)
	}
	return buf.Bytes()
}

func (r *InsertTableInfoRequest) Decode(data []byte) error {
	br := bytes.NewReader(data)
	var err error
	if r.TableName, err = readString(br); err != nil {
		return err
	}
	if r.PartitionCountPerDay, err = readU32(br); err != nil {
		return err
	}
	n, err := readU32(br)
	if err != nil {
		return err
	}
	r.Columns = make([]ColumnInfo, n)
	for i := range r.Columns {
		c, err := readColumnInfo(br)
		if err != nil {
			return err
		}
		r.Columns[i] = c
	}
	return nil
}

// InsertTableInfoResponse is {success, error_message}.
type InsertTableInfoResponse struct {
	Success      bool
	ErrorMessage string
}

func (r *InsertTableInfoResponse) Encode() []byte {
	var buf bytes.Buffer
	writeBool(&buf, r.Success)
	writeString(&buf, r.ErrorMessage)
	return buf.Bytes()
}

func (r *InsertTableInfoResponse) Decode(data []byte) error {
	br := bytes.NewReader(data)
	var err error
	if r.Success, err = readBool(br); err != nil {
		return err
	}
	if r.ErrorMessage, err = readString(br); err != nil {
		return err
	}
	return nil
}

// ReportStorageInfoRequest is {node_id, used_disk_size}.
type ReportStorageInfoRequest struct {
	NodeID       uint64
	UsedDiskSize uint64
}

func (r *ReportStorageInfoRequest) Encode() []byte {
	var buf bytes.Buffer
	writeU64(&buf, r.NodeID)
	writeU64(&buf, r.UsedDiskSize)
	return buf.Bytes()
}

func (r *ReportStorageInfoRequest) Decode(data []byte) error {
	br := bytes.NewReader(data)
	var err error
	if r.NodeID, err = readU64(br); err != nil {
		return err
	}
	if r.UsedDiskSize, err = readU64(br); err != nil {
		return err
	}
	return nil
}
