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
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type tableInfo struct {
	columns              []ColumnInfo
	partitionCountPerDay uint32
	path                 string
}

// MemClient is an in-memory MetaClient for single-node mode and
// tests: every table/node/key mapping lives in a process-local map,
// protected by a single mutex (the teacher's db.queue guards its
// shared maps the same way, see db/queue.go).
type MemClient struct {
	mu sync.Mutex

	tables         map[string]*tableInfo
	keyIDs         map[string]uint32
	nextKeyID      uint32
	nodes          map[uint32]nodeEntry
	nextNodeID     uint32
	defaultEndpoint string
	diskUsage      map[uint32]uint64

	// partitionPaths[table][yyyymmdd] is the list of completed
	// partition directories, populated by RecordPartitionPath (called
	// by the saver package when it writes a partition's SUCCESS file).
	partitionPaths map[string]map[uint32][]string
}

type nodeEntry struct {
	name, ip string
	port     uint32
	token    string
}

// NewMemClient constructs an empty MemClient. defaultEndpoint backs
// GetDefaultServerEndpoint for single-node deployments.
func NewMemClient(defaultEndpoint string) *MemClient {
	return &MemClient{
		tables:          make(map[string]*tableInfo),
		keyIDs:          make(map[string]uint32),
		nodes:           make(map[uint32]nodeEntry),
		diskUsage:       make(map[uint32]uint64),
		partitionPaths:  make(map[string]map[uint32][]string),
		defaultEndpoint: defaultEndpoint,
	}
}

func (m *MemClient) GetPartitionCountPerDay(ctx context.Context, table string) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return 0, fmt.Errorf("meta: unknown table %q", table)
	}
	return t.partitionCountPerDay, nil
}

func (m *MemClient) GetOrInsertKeyID(ctx context.Context, name string) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.keyIDs[name]; ok {
		return id, nil
	}
	m.nextKeyID++
	id := m.nextKeyID
	m.keyIDs[name] = id
	return id, nil
}

func (m *MemClient) GetServerEndpointByPartitionIndex(ctx context.Context, table string, partitionIndex uint32) (string, error) {
	// single-node mode: every partition routes to the same endpoint.
	return m.GetDefaultServerEndpoint(ctx)
}

func (m *MemClient) GetDefaultServerEndpoint(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.defaultEndpoint == "" {
		return "", fmt.Errorf("meta: no default server endpoint configured")
	}
	return m.defaultEndpoint, nil
}

func (m *MemClient) GetPathByTable(ctx context.Context, table string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return "", fmt.Errorf("meta: unknown table %q", table)
	}
	return t.path, nil
}

func (m *MemClient) GetTablePathsByDate(ctx context.Context, table string, yyyymmdd uint32) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byDate, ok := m.partitionPaths[table]
	if !ok {
		return nil, nil
	}
	paths := append([]string(nil), byDate[yyyymmdd]...)
	sort.Strings(paths)
	return paths, nil
}

func (m *MemClient) GetKeyIDs(ctx context.Context, names []string) ([]uint32, error) {
	out := make([]uint32, len(names))
	for i, n := range names {
		id, err := m.GetOrInsertKeyID(ctx, n)
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

func (m *MemClient) RegisterNode(ctx context.Context, name, ip string, port uint32) (uint32, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, n := range m.nodes {
		if n.name == name {
			n.ip, n.port = ip, port
			m.nodes[id] = n
			return id, n.token, nil
		}
	}
	m.nextNodeID++
	id := m.nextNodeID
	token := uuid.NewString()
	m.nodes[id] = nodeEntry{name: name, ip: ip, port: port, token: token}
	return id, token, nil
}

func (m *MemClient) GetTableInfo(ctx context.Context, table string) ([]ColumnInfo, uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[table]
	if !ok {
		return nil, 0, fmt.Errorf("meta: unknown table %q", table)
	}
	return append([]ColumnInfo(nil), t.columns...), t.partitionCountPerDay, nil
}

func (m *MemClient) InsertTableInfo(ctx context.Context, table string, partitionCountPerDay uint32, columns []ColumnInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table] = &tableInfo{
		columns:              append([]ColumnInfo(nil), columns...),
		partitionCountPerDay: partitionCountPerDay,
		path:                 fmt.Sprintf("/tmp/droplet/tables/%s", table),
	}
	return nil
}

func (m *MemClient) ReportStorageInfo(ctx context.Context, nodeID uint32, usedDiskSize uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.diskUsage[nodeID] = usedDiskSize
	return nil
}

// RecordPartitionPath registers path as a completed partition for
// table on yyyymmdd, for GetTablePathsByDate to later return. Callers
// invoke this after observing a partition's SUCCESS sentinel.
func (m *MemClient) RecordPartitionPath(ctx context.Context, table string, yyyymmdd uint32, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byDate, ok := m.partitionPaths[table]
	if !ok {
		byDate = make(map[uint32][]string)
		m.partitionPaths[table] = byDate
	}
	byDate[yyyymmdd] = append(byDate[yyyymmdd], path)
	return nil
}

func (m *MemClient) Close() error { return nil }
