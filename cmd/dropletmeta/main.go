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

// Command dropletmeta is the metadata service: it answers
// RegisterNode/GetPartitionInfo/GetTableInfo/InsertTableInfo/
// ReportStorageInfo against either a Postgres-backed SQLClient or, for
// single-node setups, an in-memory MemClient.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liuzhishan/droplet/meta"
	"github.com/liuzhishan/droplet/rpcserver"
)

var (
	listenAddr  string
	metricsAddr string
	dsn         string
	defaultEP   string
)

func init() {
	flag.StringVar(&listenAddr, "l", "127.0.0.1:50051", "address to listen on for the meta RPC surface")
	flag.StringVar(&metricsAddr, "metrics", "127.0.0.1:9103", "address to serve /metrics on")
	flag.StringVar(&dsn, "dsn", "", "postgres DSN for the metadata store (in-memory MemClient used if empty)")
	flag.StringVar(&defaultEP, "default-endpoint", "", "fallback storage node endpoint used by the in-memory client")
}

func main() {
	flag.Parse()
	logger := log.New(os.Stderr, "dropletmeta: ", log.LstdFlags)

	var client meta.MetaClient
	if dsn == "" {
		client = meta.NewMemClient(defaultEP)
	} else {
		c, err := meta.OpenSQLClient(context.Background(), dsn)
		if err != nil {
			logger.Fatalf("opening sql client: %v", err)
		}
		client = c
	}
	defer client.Close()

	handler := meta.NewHandler(client)
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
