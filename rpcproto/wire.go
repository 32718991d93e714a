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

// Package rpcproto defines the wire types and length-delimited binary
// framing for the RPC surface between GridSinker clients, the
// ingest-core RPC server, and the metadata service. Framing follows
// tnproto's header style (a fixed magic constant, binary.LittleEndian
// throughout, io.ReadFull on every fixed-size read) generalized from a
// single connection-attach header to a full request/response protocol.
package rpcproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeBool(buf *bytes.Buffer, v bool) {
	if v {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
}

func writeBytes(buf *bytes.Buffer, v []byte) {
	writeU32(buf, uint32(len(v)))
	buf.Write(v)
}

func writeString(buf *bytes.Buffer, v string) {
	writeBytes(buf, []byte(v))
}

func readU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func readU64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func readBool(r *bytes.Reader) (bool, error) {
	b, err := r.ReadByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readU32(r)
	if err != nil {
		return nil, err
	}
	if n > MaxPayloadSize {
		return nil, fmt.Errorf("rpcproto: field length %d exceeds max payload size", n)
	}
	out := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func readString(r *bytes.Reader) (string, error) {
	b, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
