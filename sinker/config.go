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

package sinker

import (
	"encoding/json"
	"fmt"
	"io"
)

// maxConfigSize bounds how much a DecodeConfig caller can throw at us;
// the config document itself is a handful of fields.
const maxConfigSize = 1 << 20

// Config holds a GridSinker's local WindowHeap dimensions. The ingest
// specification's §4.4 fixes W=2, B=4 as the default client-side
// window, much smaller than a storage node's own Worker window since
// the sinker only needs to restore order within a single producer's
// stream, not merge many of them.
type Config struct {
	WindowSize int `json:"window_size"`
	BatchSize  int `json:"batch_size"`
}

func DefaultConfig() Config {
	return Config{WindowSize: 2, BatchSize: 4}
}

func DecodeConfig(src io.Reader) (Config, error) {
	data, err := io.ReadAll(io.LimitReader(src, maxConfigSize+1))
	if err != nil {
		return Config{}, fmt.Errorf("sinker: reading config: %w", err)
	}
	if len(data) > maxConfigSize {
		return Config{}, fmt.Errorf("sinker: config document exceeds %d bytes", maxConfigSize)
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("sinker: parsing config: %w", err)
	}
	if cfg.WindowSize <= 0 || cfg.BatchSize <= 0 {
		return Config{}, fmt.Errorf("sinker: window_size and batch_size must be positive")
	}
	return cfg, nil
}
