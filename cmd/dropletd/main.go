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

// Command dropletd is a storage node: it answers the rpcproto RPC
// surface's StartSinkPartition/SinkGridSample/FinishSinkPartition
// calls against a pool of saver.SampleSaver partitions; the meta RPCs
// are answered with NotFound, since they belong to dropletmeta.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liuzhishan/droplet/meta"
	"github.com/liuzhishan/droplet/rpcserver"
	"github.com/liuzhishan/droplet/saver"
)

var (
	listenAddr  string
	metricsAddr string
	configPath  string
	metaDSN     string
)

func init() {
	flag.StringVar(&listenAddr, "l", "127.0.0.1:50052", "address to listen on for the ingest RPC surface")
	flag.StringVar(&metricsAddr, "metrics", "127.0.0.1:9102", "address to serve /metrics on")
	flag.StringVar(&configPath, "c", "", "path to a saver.Config JSON document (defaults used if empty)")
	flag.StringVar(&metaDSN, "meta", "", "postgres DSN for the metadata store (in-memory MemClient used if empty)")
}

func main() {
	flag.Parse()
	logger := log.New(os.Stderr, "dropletd: ", log.LstdFlags)

	cfg := saver.DefaultConfig()
	if configPath != "" {
		f, err := os.Open(configPath)
		if err != nil {
			logger.Fatalf("opening config: %v", err)
		}
		cfg, err = saver.DecodeConfig(f)
		f.Close()
		if err != nil {
			logger.Fatalf("decoding config: %v", err)
		}
	}

	ctx := context.Background()
	mc, err := openMetaClient(ctx)
	if err != nil {
		logger.Fatalf("opening metadata client: %v", err)
	}
	defer mc.Close()

	handler := saver.NewHandler(cfg, mc, logger)
	defer handler.Close()

	srv := &rpcserver.Server{Logger: logger, Handler: handler}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		logger.Fatalf("listening on %s: %v", listenAddr, err)
	}

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(metricsAddr, nil); err != nil {
			logger.Printf("metrics server exited: %v", err)
		}
	}()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Println("shutting down")
		srv.Close()
	}()

	logger.Printf("listening on %s, metrics on %s", listenAddr, metricsAddr)
	if err := srv.Serve(ln); err != nil {
		logger.Fatalf("serve: %v", err)
	}
}

func openMetaClient(ctx context.Context) (meta.MetaClient, error) {
	if metaDSN == "" {
		return meta.NewMemClient(listenAddr), nil
	}
	c, err := meta.OpenSQLClient(ctx, metaDSN)
	if err != nil {
		return nil, fmt.Errorf("dropletd: %w", err)
	}
	return c, nil
}
