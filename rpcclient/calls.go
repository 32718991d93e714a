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

package rpcclient

import "github.com/liuzhishan/droplet/rpcproto"

func (c *Client) Heartbeat(req *rpcproto.HeartbeatRequest) (*rpcproto.HeartbeatResponse, error) {
	resp := &rpcproto.HeartbeatResponse{}
	if err := c.Call(rpcproto.MethodHeartbeat, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) RegisterNode(req *rpcproto.RegisterNodeRequest) (*rpcproto.RegisterNodeResponse, error) {
	resp := &rpcproto.RegisterNodeResponse{}
	if err := c.Call(rpcproto.MethodRegisterNode, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) StartSinkPartition(req *rpcproto.StartSinkPartitionRequest) (*rpcproto.SuccessResponse, error) {
	resp := &rpcproto.SuccessResponse{}
	if err := c.Call(rpcproto.MethodStartSinkPartition, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) SinkGridSample(req *rpcproto.SinkGridSampleRequest) (*rpcproto.SinkGridSampleResponse, error) {
	resp := &rpcproto.SinkGridSampleResponse{}
	if err := c.Call(rpcproto.MethodSinkGridSample, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) FinishSinkPartition(req *rpcproto.FinishSinkPartitionRequest) (*rpcproto.SuccessResponse, error) {
	resp := &rpcproto.SuccessResponse{}
	if err := c.Call(rpcproto.MethodFinishSinkPartition, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) GetPartitionInfo(req *rpcproto.GetPartitionInfoRequest) (*rpcproto.GetPartitionInfoResponse, error) {
	resp := &rpcproto.GetPartitionInfoResponse{}
	if err := c.Call(rpcproto.MethodGetPartitionInfo, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) GetTableInfo(req *rpcproto.GetTableInfoRequest) (*rpcproto.GetTableInfoResponse, error) {
	resp := &rpcproto.GetTableInfoResponse{}
	if err := c.Call(rpcproto.MethodGetTableInfo, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) InsertTableInfo(req *rpcproto.InsertTableInfoRequest) (*rpcproto.InsertTableInfoResponse, error) {
	resp := &rpcproto.InsertTableInfoResponse{}
	if err := c.Call(rpcproto.MethodInsertTableInfo, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) ReportStorageInfo(req *rpcproto.ReportStorageInfoRequest) (*rpcproto.SuccessResponse, error) {
	resp := &rpcproto.SuccessResponse{}
	if err := c.Call(rpcproto.MethodReportStorageInfo, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}
