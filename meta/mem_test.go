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
	"testing"
)

func TestMemClientTableLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemClient("127.0.0.1:50052")

	if err := m.InsertTableInfo(ctx, "events", 24, []ColumnInfo{
		{Name: "timestamp", Type: ColumnU64, ID: 2, Index: 0},
	}); err != nil {
		t.Fatal(err)
	}

	p, err := m.GetPartitionCountPerDay(ctx, "events")
	if err != nil {
		t.Fatal(err)
	}
	if p != 24 {
		t.Fatalf("expected 24, got %d", p)
	}

	cols, p2, err := m.GetTableInfo(ctx, "events")
	if err != nil {
		t.Fatal(err)
	}
	if p2 != 24 || len(cols) != 1 || cols[0].Name != "timestamp" {
		t.Fatalf("unexpected table info: %+v %d", cols, p2)
	}

	if _, err := m.GetPartitionCountPerDay(ctx, "missing"); err == nil {
		t.Fatal("expected error for unknown table")
	}
}

func TestMemClientKeyIDsStable(t *testing.T) {
	ctx := context.Background()
	m := NewMemClient("")

	id1, err := m.GetOrInsertKeyID(ctx, "host-a")
	if err != nil {
		t.Fatal(err)
	}
	id2, err := m.GetOrInsertKeyID(ctx, "host-a")
	if err != nil {
		t.Fatal(err)
	}
	if id1 != id2 {
		t.Fatalf("expected stable id, got %d then %d", id1, id2)
	}

	ids, err := m.GetKeyIDs(ctx, []string{"host-a", "host-b"})
	if err != nil {
		t.Fatal(err)
	}
	if ids[0] != id1 {
		t.Fatalf("expected %d, got %d", id1, ids[0])
	}
	if ids[1] == id1 {
		t.Fatalf("host-b should get a distinct id")
	}
}

func TestMemClientDefaultEndpointRouting(t *testing.T) {
	ctx := context.Background()
	m := NewMemClient("10.0.0.1:50052")

	ep, err := m.GetServerEndpointByPartitionIndex(ctx, "events", 3)
	if err != nil {
		t.Fatal(err)
	}
	if ep != "10.0.0.1:50052" {
		t.Fatalf("expected default endpoint, got %q", ep)
	}
}

func TestMemClientPartitionPaths(t *testing.T) {
	m := NewMemClient("")
	ctx := context.Background()
	if err := m.RecordPartitionPath(ctx, "events", 20260731, "/tmp/droplet_sorted/tables/events/20260731/9"); err != nil {
		t.Fatal(err)
	}
	if err := m.RecordPartitionPath(ctx, "events", 20260731, "/tmp/droplet_sorted/tables/events/20260731/10"); err != nil {
		t.Fatal(err)
	}

	paths, err := m.GetTablePathsByDate(ctx, "events", 20260731)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %d", len(paths))
	}
}
