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

// Package metrics holds the Prometheus collectors shared by a storage
// node and the meta service: partition throughput, WindowHeap
// occupancy, and ReportStorageInfo's disk-usage gauge, scraped the
// way every distributed-storage repo in the retrieved pack exposes
// its own (modules/bufferer, dsort, tempodb) — a package-level
// registry of collectors registered once at process startup, rather
// than threaded through every constructor.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PartitionsFinalized counts partitions whose K-way merge
	// completed and whose SUCCESS sentinel was written.
	PartitionsFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "droplet",
		Subsystem: "saver",
		Name:      "partitions_finalized_total",
		Help:      "Partitions that completed their merge and wrote a SUCCESS sentinel.",
	})

	// PartitionsFailed counts partitions that entered the Fatal path
	// of the error taxonomy: a worker failed, or the merge itself
	// errored.
	PartitionsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "droplet",
		Subsystem: "saver",
		Name:      "partitions_failed_total",
		Help:      "Partitions that failed to finalize (a worker or the merge hit a Fatal error).",
	})

	// WorkerLinesWritten counts output lines a SampleSaverWorker has
	// appended to its intermediate file, labeled by worker index so
	// a skewed distribution across the K workers is visible.
	WorkerLinesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "droplet",
		Subsystem: "saver",
		Name:      "worker_lines_written_total",
		Help:      "Output lines written by each SampleSaverWorker.",
	}, []string{"worker"})

	// WindowHeapRows reports the number of rows currently referenced
	// by a WindowHeap, labeled by the component owning it, matching
	// §4.1's memory-bound rationale: this should never exceed
	// window_size * max_rows_per_buffer for long.
	WindowHeapRows = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "droplet",
		Subsystem: "windowheap",
		Name:      "resident_rows",
		Help:      "Rows currently referenced by a WindowHeap instance.",
	}, []string{"component"})

	// DiskUsedBytes mirrors the most recent ReportStorageInfo value
	// for each storage node, keyed by node id.
	DiskUsedBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "droplet",
		Subsystem: "meta",
		Name:      "node_disk_used_bytes",
		Help:      "Most recently reported used_disk_size for a storage node.",
	}, []string{"node_id"})

	// RPCRequests counts every dispatched RPC, labeled by method and
	// the rpcproto.Status it resolved to.
	RPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "droplet",
		Subsystem: "rpc",
		Name:      "requests_total",
		Help:      "RPC requests dispatched by rpcserver, labeled by method and result status.",
	}, []string{"method", "status"})
)
