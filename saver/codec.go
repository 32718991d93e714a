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

package saver

import (
	"encoding/base64"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/liuzhishan/droplet/grid"
)

// lineCodec encodes/decodes the one-sorted-batch-per-line intermediate
// and final file format described in the ingest specification's §6:
// base64 of the GridBuffer's wire bytes, optionally zstd-compressed
// first. A SampleSaver makes one codec and shares it between its
// workers and its merge stage; mu serializes every use of the codec's
// single zstd encoder/decoder.
type lineCodec struct {
	compress bool

	mu  sync.Mutex
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newLineCodec(compress bool) (*lineCodec, error) {
	c := &lineCodec{compress: compress}
	if !compress {
		return c, nil
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("saver: creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("saver: creating zstd decoder: %w", err)
	}
	c.enc, c.dec = enc, dec
	return c, nil
}

// Close releases the codec's zstd decoder goroutines. No-op when the
// codec was built without compression.
func (c *lineCodec) Close() {
	if c.dec != nil {
		c.dec.Close()
	}
}

// EncodeLine returns buf's serialized form as it should be written to
// an intermediate or sorted file, without the trailing newline.
func (c *lineCodec) EncodeLine(buf *grid.Buffer) string {
	raw := buf.ToBytes()
	if !c.compress {
		return base64.StdEncoding.EncodeToString(raw)
	}
	c.mu.Lock()
	compressed := c.enc.EncodeAll(raw, nil)
	c.mu.Unlock()
	return base64.StdEncoding.EncodeToString(compressed)
}

// DecodeLine parses one line (without its trailing newline) back into
// a GridBuffer.
func (c *lineCodec) DecodeLine(line string) (*grid.Buffer, error) {
	raw, err := base64.StdEncoding.DecodeString(line)
	if err != nil {
		return nil, fmt.Errorf("saver: decoding base64 line: %w", err)
	}
	if c.compress {
		c.mu.Lock()
		raw, err = c.dec.DecodeAll(raw, nil)
		c.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("saver: decompressing line: %w", err)
		}
	}
	return grid.FromBytes(raw)
}
