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

// Command dropletsink reads a stream of length-prefixed grid.Buffer
// records from a file and drives them through a GridSinker, the way a
// production producer would push samples at a table. The input format
// is a sequence of (uint32 big-endian length, grid.Buffer.ToBytes())
// records; "gridcat"-style tools in other pipelines use the same
// length-prefix-and-blob shape, so this is the natural CLI counterpart
// to grid.Buffer's own codec.
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/liuzhishan/droplet/grid"
	"github.com/liuzhishan/droplet/meta"
	"github.com/liuzhishan/droplet/sinker"
)

var (
	inputPath  string
	table      string
	hostname   string
	metaDSN    string
	metaEP     string
	configPath string
)

func init() {
	flag.StringVar(&inputPath, "i", "", "path to a file of length-prefixed grid.Buffer records (required)")
	flag.StringVar(&table, "table", "", "destination table name (required)")
	flag.StringVar(&hostname, "hostname", "", "this sinker's identity, used to mint its SinkerID (defaults to os.Hostname)")
	flag.StringVar(&metaDSN, "meta-dsn", "", "postgres DSN for the metadata store (in-memory MemClient used if empty)")
	flag.StringVar(&metaEP, "meta-default-endpoint", "", "fallback storage node endpoint used by the in-memory client")
	flag.StringVar(&configPath, "c", "", "path to a sinker.Config JSON document (defaults used if empty)")
}

func main() {
	flag.Parse()
	logger := log.New(os.Stderr, "dropletsink: ", log.LstdFlags)

	if inputPath == "" || table == "" {
		fmt.Fprintln(os.Stderr, "usage: dropletsink -i <path> -table <name> [-hostname <name>]")
		os.Exit(2)
	}
	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			logger.Fatalf("resolving hostname: %v", err)
		}
		hostname = h
	}

	cfg := sinker.DefaultConfig()
	if configPath != "" {
		f, err := os.Open(configPath)
		if err != nil {
			logger.Fatalf("opening config: %v", err)
		}
		cfg, err = sinker.DecodeConfig(f)
		f.Close()
		if err != nil {
			logger.Fatalf("decoding config: %v", err)
		}
	}

	var mc meta.MetaClient
	if metaDSN == "" {
		mc = meta.NewMemClient(metaEP)
	} else {
		c, err := meta.OpenSQLClient(context.Background(), metaDSN)
		if err != nil {
			logger.Fatalf("opening sql client: %v", err)
		}
		mc = c
	}
	defer mc.Close()

	ctx := context.Background()
	gs, err := sinker.New(ctx, table, hostname, mc, cfg, logger)
	if err != nil {
		logger.Fatalf("starting sinker: %v", err)
	}

	f, err := os.Open(inputPath)
	if err != nil {
		logger.Fatalf("opening input: %v", err)
	}
	defer f.Close()

	n, err := pushAll(ctx, gs, f)
	if err != nil {
		logger.Fatalf("pushing records (after %d): %v", n, err)
	}
	if err := gs.Close(ctx); err != nil {
		logger.Fatalf("closing sinker: %v", err)
	}
	logger.Printf("pushed %d records to table %s", n, table)
}

// pushAll decodes and pushes every length-prefixed grid.Buffer record
// in src, returning the count successfully pushed before any error.
func pushAll(ctx context.Context, gs *sinker.GridSinker, src io.Reader) (int, error) {
	var lenBuf [4]byte
	n := 0
	for {
		if _, err := io.ReadFull(src, lenBuf[:]); err != nil {
			if err == io.EOF {
				return n, nil
			}
			return n, fmt.Errorf("reading record length: %w", err)
		}
		size := binary.BigEndian.Uint32(lenBuf[:])
		data := make([]byte, size)
		if _, err := io.ReadFull(src, data); err != nil {
			return n, fmt.Errorf("reading record %d: %w", n, err)
		}
		buf, err := grid.FromBytes(data)
		if err != nil {
			return n, fmt.Errorf("decoding record %d: %w", n, err)
		}
		if err := gs.Push(ctx, buf); err != nil {
			return n, fmt.Errorf("pushing record %d: %w", n, err)
		}
		n++
	}
}
