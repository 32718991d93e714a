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

// Package rpcserver listens for rpcproto-framed connections and
// dispatches each request to a Handler, one goroutine per connection,
// in the style of the ingest core's cooperative per-task scheduling
// model: an RPC handler is a task, and long work inside it (heap
// push, decode, file I/O) runs inline rather than being handed to a
// separate worker pool.
package rpcserver

import (
	"log"
	"net"
	"sync"

	"github.com/liuzhishan/droplet/metrics"
	"github.com/liuzhishan/droplet/rpcproto"
)

// Handler implements the RPC surface described in the ingest
// specification's §6. Implementations live in the saver and meta
// packages; Server only does framing and dispatch.
type Handler interface {
	Heartbeat(*rpcproto.HeartbeatRequest) (*rpcproto.HeartbeatResponse, error)
	RegisterNode(*rpcproto.RegisterNodeRequest) (*rpcproto.RegisterNodeResponse, error)
	StartSinkPartition(*rpcproto.StartSinkPartitionRequest) (*rpcproto.SuccessResponse, error)
	SinkGridSample(*rpcproto.SinkGridSampleRequest) (*rpcproto.SinkGridSampleResponse, error)
	FinishSinkPartition(*rpcproto.FinishSinkPartitionRequest) (*rpcproto.SuccessResponse, error)
	GetPartitionInfo(*rpcproto.GetPartitionInfoRequest) (*rpcproto.GetPartitionInfoResponse, error)
	GetTableInfo(*rpcproto.GetTableInfoRequest) (*rpcproto.GetTableInfoResponse, error)
	InsertTableInfo(*rpcproto.InsertTableInfoRequest) (*rpcproto.InsertTableInfoResponse, error)
	ReportStorageInfo(*rpcproto.ReportStorageInfoRequest) (*rpcproto.SuccessResponse, error)
}

// Server accepts connections on a net.Listener and dispatches framed
// requests to a Handler.
type Server struct {
	Logger  *log.Logger
	Handler Handler

	mu   sync.Mutex
	ln   net.Listener
	wg   sync.WaitGroup
	done chan struct{}
}

// Serve accepts connections from ln until Close is called. Each
// connection is handled on its own goroutine and may carry more than
// one request in sequence.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.ln = ln
	s.done = make(chan struct{})
	s.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return nil
			default:
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting new connections and waits for every accepted
// connection's goroutine to return. It does not close accepted
// connections itself, so it returns only once each peer has closed
// its end.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.ln
	done := s.done
	s.mu.Unlock()
	if done != nil {
		close(done)
	}
	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		method, _, payload, err := rpcproto.ReadFrame(conn)
		if err != nil {
			return
		}
		respPayload, status := s.dispatch(method, payload)
		metrics.RPCRequests.WithLabelValues(method.String(), status.String()).Inc()
		if err := rpcproto.WriteResponse(conn, method, status, respPayload); err != nil {
			s.logf("rpcserver: writing response for %v: %v", method, err)
			return
		}
	}
}

func (s *Server) dispatch(method rpcproto.Method, payload []byte) ([]byte, rpcproto.Status) {
	switch method {
	case rpcproto.MethodHeartbeat:
		return call(payload, &rpcproto.HeartbeatRequest{}, s.Handler.Heartbeat)
	case rpcproto.MethodRegisterNode:
		return call(payload, &rpcproto.RegisterNodeRequest{}, s.Handler.RegisterNode)
	case rpcproto.MethodStartSinkPartition:
		return call(payload, &rpcproto.StartSinkPartitionRequest{}, s.Handler.StartSinkPartition)
	case rpcproto.MethodSinkGridSample:
		return call(payload, &rpcproto.SinkGridSampleRequest{}, s.Handler.SinkGridSample)
	case rpcproto.MethodFinishSinkPartition:
		return call(payload, &rpcproto.FinishSinkPartitionRequest{}, s.Handler.FinishSinkPartition)
	case rpcproto.MethodGetPartitionInfo:
		return call(payload, &rpcproto.GetPartitionInfoRequest{}, s.Handler.GetPartitionInfo)
	case rpcproto.MethodGetTableInfo:
		return call(payload, &rpcproto.GetTableInfoRequest{}, s.Handler.GetTableInfo)
	case rpcproto.MethodInsertTableInfo:
		return call(payload, &rpcproto.InsertTableInfoRequest{}, s.Handler.InsertTableInfo)
	case rpcproto.MethodReportStorageInfo:
		return call(payload, &rpcproto.ReportStorageInfoRequest{}, s.Handler.ReportStorageInfo)
	default:
		return nil, rpcproto.StatusInvalidArgument
	}
}

type decoder interface {
	Decode([]byte) error
}

type encoder interface {
	Encode() []byte
}

func call[Req decoder, Resp encoder](payload []byte, req Req, fn func(Req) (Resp, error)) ([]byte, rpcproto.Status) {
	if err := req.Decode(payload); err != nil {
		return []byte(err.Error()), rpcproto.StatusInvalidArgument
	}
	resp, err := fn(req)
	if err != nil {
		status, msg := rpcproto.AsStatusError(err)
		return []byte(msg), status
	}
	return resp.Encode(), rpcproto.StatusOK
}
