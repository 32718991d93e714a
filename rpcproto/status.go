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

import "fmt"

// Status is the error taxonomy shared by every RPC response:
// InvalidArgument and NotFound are surfaced directly to the caller
// and never retried by the core; Transient is safe for a client to
// retry with backoff; Fatal indicates the partition cannot be marked
// successful and is propagated as an internal error.
type Status uint8

const (
	StatusOK Status = iota
	StatusInvalidArgument
	StatusNotFound
	StatusTransient
	StatusFatal
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusInvalidArgument:
		return "InvalidArgument"
	case StatusNotFound:
		return "NotFound"
	case StatusTransient:
		return "Transient"
	case StatusFatal:
		return "Fatal"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Retryable reports whether a caller may retry the RPC that produced
// this status after a backoff, without first changing anything about
// the request.
func (s Status) Retryable() bool {
	return s == StatusTransient
}

// Error wraps a non-OK Status with a free-form message, the
// error_info the ingest specification's propagation policy describes
// RPC handlers converting failures into.
type Error struct {
	Status  Status
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Status.String()
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Message)
}

// NewError constructs an *Error for status with a formatted message.
func NewError(status Status, format string, args ...any) *Error {
	return &Error{Status: status, Message: fmt.Sprintf(format, args...)}
}

// AsStatusError extracts the rpcproto.Status carried by err, if any,
// defaulting to StatusFatal for errors that did not originate from
// this package (an unclassified error is treated as non-retryable and
// partition-failing, the conservative choice).
func AsStatusError(err error) (Status, string) {
	if err == nil {
		return StatusOK, ""
	}
	if e, ok := err.(*Error); ok {
		return e.Status, e.Message
	}
	return StatusFatal, err.Error()
}
