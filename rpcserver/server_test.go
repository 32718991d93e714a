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

package rpcserver

import (
	"net"
	"testing"

	"github.com/liuzhishan/droplet/rpcclient"
	"github.com/liuzhishan/droplet/rpcproto"
)

type fakeHandler struct{}

func (fakeHandler) Heartbeat(r *rpcproto.HeartbeatRequest) (*rpcproto.HeartbeatResponse, error) {
	return &rpcproto.HeartbeatResponse{Acknowledged: true}, nil
}

func (fakeHandler) RegisterNode(r *rpcproto.RegisterNodeRequest) (*rpcproto.RegisterNodeResponse, error) {
	return &rpcproto.RegisterNodeResponse{NodeID: 1, Success: true}, nil
}

func (fakeHandler) StartSinkPartition(r *rpcproto.StartSinkPartitionRequest) (*rpcproto.SuccessResponse, error) {
	return &rpcproto.SuccessResponse{Success: true}, nil
}

func (fakeHandler) SinkGridSample(r *rpcproto.SinkGridSampleRequest) (*rpcproto.SinkGridSampleResponse, error) {
	if r.PathID == 0 {
		return nil, rpcproto.NewError(rpcproto.StatusNotFound, "unknown path_id")
	}
	return &rpcproto.SinkGridSampleResponse{Success: true, PathID: r.PathID}, nil
}

func (fakeHandler) FinishSinkPartition(r *rpcproto.FinishSinkPartitionRequest) (*rpcproto.SuccessResponse, error) {
	return &rpcproto.SuccessResponse{Success: true}, nil
}

func (fakeHandler) GetPartitionInfo(r *rpcproto.GetPartitionInfoRequest) (*rpcproto.GetPartitionInfoResponse, error) {
	return &rpcproto.GetPartitionInfoResponse{}, nil
}

func (fakeHandler) GetTableInfo(r *rpcproto.GetTableInfoRequest) (*rpcproto.GetTableInfoResponse, error) {
	return &rpcproto.GetTableInfoResponse{PartitionCountPerDay: 24}, nil
}

func (fakeHandler) InsertTableInfo(r *rpcproto.InsertTableInfoRequest) (*rpcproto.InsertTableInfoResponse, error) {
	return &rpcproto.InsertTableInfoResponse{Success: true}, nil
}

func (fakeHandler) ReportStorageInfo(r *rpcproto.ReportStorageInfoRequest) (*rpcproto.SuccessResponse, error) {
	return &rpcproto.SuccessResponse{Success: true}, nil
}

func startTestServer(t *testing.T) (addr string, closer func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &Server{Handler: fakeHandler{}}
	go s.Serve(ln)
	return ln.Addr().String(), func() { s.Close() }
}

func TestServerDispatchesSuccess(t *testing.T) {
	addr, closer := startTestServer(t)
	defer closer()

	c, err := rpcclient.Dial(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	resp, err := c.SinkGridSample(&rpcproto.SinkGridSampleRequest{PathID: 5, GridSampleBytes: []byte("x")})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Success || resp.PathID != 5 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestServerDispatchesError(t *testing.T) {
	addr, closer := startTestServer(t)
	defer closer()

	c, err := rpcclient.Dial(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	c.MaxRetries = 0

	_, err = c.SinkGridSample(&rpcproto.SinkGridSampleRequest{PathID: 0})
	if err == nil {
		t.Fatal("expected an error for an unknown path_id")
	}
	status, _ := rpcproto.AsStatusError(err)
	if status != rpcproto.StatusNotFound {
		t.Fatalf("expected StatusNotFound, got %v", status)
	}
}

func TestServerMultipleRequestsOnOneConnection(t *testing.T) {
	addr, closer := startTestServer(t)
	defer closer()

	c, err := rpcclient.Dial(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if _, err := c.Heartbeat(&rpcproto.HeartbeatRequest{NodeID: 1, Status: rpcproto.NodeAlive}); err != nil {
		t.Fatal(err)
	}
	info, err := c.GetTableInfo(&rpcproto.GetTableInfoRequest{TableName: "events"})
	if err != nil {
		t.Fatal(err)
	}
	if info.PartitionCountPerDay != 24 {
		t.Fatalf("expected 24 partitions per day, got %d", info.PartitionCountPerDay)
	}
}
