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

// Package rpcclient is the thin RPC client GridSinker dials through
// to reach a node's rpcserver listener: one
// request per call, over one persistent connection, retrying
// Transient-classified failures with bounded backoff before surfacing
// them to the caller.
package rpcclient

import (
	"fmt"
	"net"
	"time"

	"github.com/liuzhishan/droplet/rpcproto"
)

// Codec is the interface every request/response wire type in
// rpcproto satisfies.
type Codec interface {
	Encode() []byte
	Decode([]byte) error
}

// Client holds one connection to a remote node's rpcserver listener.
type Client struct {
	addr string
	conn net.Conn

	// DialTimeout bounds Dial and automatic reconnects.
	DialTimeout time.Duration
	// MaxRetries bounds how many times Call retries a Transient
	// failure before giving up.
	MaxRetries int
	// RetryBackoff is the base delay between retries; actual delay
	// grows linearly with attempt number, matching the bounded
	// backoff the ingest specification's retry behaviour describes.
	RetryBackoff time.Duration
}

// Dial opens a connection to addr.
func Dial(addr string) (*Client, error) {
	c := &Client{addr: addr, DialTimeout: 5 * time.Second, MaxRetries: 3, RetryBackoff: 100 * time.Millisecond}
	if err := c.connect(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connect() error {
	conn, err := net.DialTimeout("tcp", c.addr, c.DialTimeout)
	if err != nil {
		return rpcproto.NewError(rpcproto.StatusTransient, "dial %s: %v", c.addr, err)
	}
	c.conn = conn
	return nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// Call sends req framed as method and decodes the response into resp.
// Transient failures (including a severed connection, which is
// transparently redialed) are retried up to MaxRetries times with a
// linearly growing backoff; any other status is returned immediately.
func (c *Client) Call(method rpcproto.Method, req, resp Codec) error {
	var lastErr error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * c.RetryBackoff)
		}
		if c.conn == nil {
			if err := c.connect(); err != nil {
				lastErr = err
				continue
			}
		}
		err := c.callOnce(method, req, resp)
		if err == nil {
			return nil
		}
		status, _ := rpcproto.AsStatusError(err)
		lastErr = err
		if !status.Retryable() {
			return err
		}
		// a transient failure may mean the connection itself is
		// dead; force a fresh dial on the next attempt.
		c.conn.Close()
		c.conn = nil
	}
	return lastErr
}

func (c *Client) callOnce(method rpcproto.Method, req, resp Codec) error {
	if err := rpcproto.WriteRequest(c.conn, method, req.Encode()); err != nil {
		return rpcproto.NewError(rpcproto.StatusTransient, "write request: %v", err)
	}
	gotMethod, status, payload, err := rpcproto.ReadFrame(c.conn)
	if err != nil {
		return rpcproto.NewError(rpcproto.StatusTransient, "read response: %v", err)
	}
	if gotMethod != method {
		return rpcproto.NewError(rpcproto.StatusFatal, "method mismatch: sent %v, got %v", method, gotMethod)
	}
	if status != rpcproto.StatusOK {
		msg := string(payload)
		if msg == "" {
			msg = fmt.Sprintf("remote returned %s", status)
		}
		return &rpcproto.Error{Status: status, Message: msg}
	}
	if resp == nil {
		return nil
	}
	if err := resp.Decode(payload); err != nil {
		return rpcproto.NewError(rpcproto.StatusFatal, "decode response: %v", err)
	}
	return nil
}
