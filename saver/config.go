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

// Package saver implements the server side of the ingest pipeline: a
// SampleSaver accepts concurrent SinkGridSample RPCs for one
// (path, partition_index), fans them out to a fixed pool of writer
// workers, and on partition close performs a K-way on-disk merge into
// a final sorted output.
package saver

import (
	"encoding/json"
	"fmt"
	"io"
)

// maxConfigSize bounds how large a Config file may be, matching the
// teacher's db.maxDefSize guard against a runaway config read.
const maxConfigSize = 1 << 20

// Config holds the constants the ingest specification's §9 "Open
// questions" section requires be configuration rather than literals:
// worker count, window size, and batch size, plus the on-disk root and
// the optional zstd line compression toggle.
type Config struct {
	// Workers is K, the number of writer workers per partition and
	// the fan-in/fan-out width of the final merge.
	Workers int `json:"workers"`

	// WindowSize is the WindowHeap window used by each worker and by
	// the merge stage.
	WindowSize int `json:"window_size"`

	// BatchSize is the WindowHeap output batch size used by each
	// worker and by the merge stage.
	BatchSize int `json:"batch_size"`

	// ChannelCapacity bounds the ingress channel each SampleSaver
	// fans SinkGridSample requests through.
	ChannelCapacity int `json:"channel_capacity"`

	// UnsortedRoot and SortedRoot are the roots of the on-disk
	// layout described in the ingest specification's §6; by default
	// they are /tmp/droplet and /tmp/droplet_sorted, derived from
	// one another by string substitution the same way the original
	// source does.
	UnsortedRoot string `json:"unsorted_root"`
	SortedRoot   string `json:"sorted_root"`

	// Compress, when true, zstd-compresses each line's GridBuffer
	// bytes before base64-encoding it, the way the teacher's
	// blockfmt.Builder reaches for zstd as its one compression
	// codec rather than leaving lines uncompressed.
	Compress bool `json:"compress"`
}

// DefaultConfig returns the constants named in the ingest
// specification: K=8 workers, window_size=256, batch_size=4.
func DefaultConfig() Config {
	return Config{
		Workers:         8,
		WindowSize:      256,
		BatchSize:       4,
		ChannelCapacity: 256,
		UnsortedRoot:    "/tmp/droplet",
		SortedRoot:      "/tmp/droplet_sorted",
		Compress:        false,
	}
}

// DecodeConfig reads a JSON-encoded Config from src, capped at
// maxConfigSize, decoding it over DefaultConfig so that fields absent
// from the document keep their defaults. Mirrors db.DecodeDefinition's
// shape: a size-capped read followed by JSON decoding; unknown fields
// are ignored.
func DecodeConfig(src io.Reader) (Config, error) {
	data, err := io.ReadAll(io.LimitReader(src, maxConfigSize+1))
	if err != nil {
		return Config{}, fmt.Errorf("saver: reading config: %w", err)
	}
	if len(data) > maxConfigSize {
		return Config{}, fmt.Errorf("saver: config exceeds %d bytes", maxConfigSize)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("saver: decoding config: %w", err)
	}
	if cfg.Workers <= 0 || cfg.WindowSize <= 0 || cfg.BatchSize <= 0 {
		return Config{}, fmt.Errorf("saver: workers, window_size, and batch_size must be positive")
	}
	return cfg, nil
}

// sortedPath mirrors the original source's path.replace("droplet",
// "droplet_sorted"): the sorted output directory has the same
// structure as the unsorted one, rooted differently.
func (c Config) sortedPath(unsortedPath string) string {
	if len(unsortedPath) >= len(c.UnsortedRoot) && unsortedPath[:len(c.UnsortedRoot)] == c.UnsortedRoot {
		return c.SortedRoot + unsortedPath[len(c.UnsortedRoot):]
	}
	return unsortedPath
}
