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

// Package meta defines the MetaClient collaborator interface the
// ingest core depends on for table/partition/node/id_mapping lookups,
// plus a Postgres-backed implementation (SQLClient) and an in-memory
// implementation (MemClient) for single-node mode and tests.
package meta

import "context"

// MetaClient is the relational-metadata-store interface consumed by
// saver, sinker, and the rpcserver handlers. It is, deliberately, the
// only way those packages reach the metadata store.
type MetaClient interface {
	// GetPartitionCountPerDay returns P for table, used to compute a
	// timestamp's partition index.
	GetPartitionCountPerDay(ctx context.Context, table string) (uint32, error)

	// GetOrInsertKeyID resolves name (a sinker hostname or a storage
	// path) to its persistent id_mapping integer, creating a new
	// mapping if name has never been seen.
	GetOrInsertKeyID(ctx context.Context, name string) (uint32, error)

	// GetServerEndpointByPartitionIndex routes a (table, partition
	// index) pair to the storage node responsible for it.
	GetServerEndpointByPartitionIndex(ctx context.Context, table string, partitionIndex uint32) (string, error)

	// GetDefaultServerEndpoint returns the fallback endpoint used in
	// single-node mode or when no partition-specific routing exists.
	GetDefaultServerEndpoint(ctx context.Context) (string, error)

	// GetPathByTable returns the physical path template for table,
	// e.g. "/tmp/droplet/tables/<table>".
	GetPathByTable(ctx context.Context, table string) (string, error)

	// GetTablePathsByDate lists every completed partition path for
	// table on the given yyyymmdd date.
	GetTablePathsByDate(ctx context.Context, table string, yyyymmdd uint32) ([]string, error)

	// GetKeyIDs resolves a batch of column names to their persistent
	// column ids in one round trip.
	GetKeyIDs(ctx context.Context, names []string) ([]uint32, error)

	// RegisterNode records a newly-seen storage node and returns its
	// persistent node id plus a UUID token minted the first time name
	// is seen. Grounded on droplet-meta-server's node-bootstrap path
	// (see SPEC_FULL.md §12): a node must be registered before
	// GetServerEndpointByPartitionIndex can resolve it to that node's
	// address; the token lets a node tell "I am still the node that
	// registered as this name" apart from "a different process has
	// since reused this name" across restarts.
	RegisterNode(ctx context.Context, name, ip string, port uint32) (id uint32, token string, err error)

	// RecordPartitionPath registers path as a completed partition for
	// table on yyyymmdd, once its SUCCESS sentinel has been written.
	// GetTablePathsByDate only ever returns paths recorded this way.
	RecordPartitionPath(ctx context.Context, table string, yyyymmdd uint32, path string) error

	// GetTableInfo returns a table's column schema and partition
	// count, backing the GetTableInfo RPC.
	GetTableInfo(ctx context.Context, table string) ([]ColumnInfo, uint32, error)

	// InsertTableInfo creates or replaces a table's column schema and
	// partition count, backing the InsertTableInfo RPC.
	InsertTableInfo(ctx context.Context, table string, partitionCountPerDay uint32, columns []ColumnInfo) error

	// ReportStorageInfo records a node's current disk usage, backing
	// the ReportStorageInfo RPC.
	ReportStorageInfo(ctx context.Context, nodeID uint32, usedDiskSize uint64) error

	Close() error
}

// ColumnInfo is (column_name, column_type, column_id, column_index),
// persistent in the metadata store.
type ColumnInfo struct {
	Name  string
	Type  ColumnType
	ID    uint32
	Index uint32
}

// ColumnType mirrors grid.Kind at the metadata layer.
type ColumnType uint8

const (
	ColumnU64 ColumnType = iota + 1
	ColumnF32
	ColumnU64List
	ColumnF32List
)
