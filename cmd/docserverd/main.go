// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command docserverd serves the docserver text protocol over TCP.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grailbio/docserver/internal/admission"
	"github.com/grailbio/docserver/internal/connadmit"
	"github.com/grailbio/docserver/internal/log"
	"github.com/grailbio/docserver/internal/protocol"
	"github.com/grailbio/docserver/internal/shutdown"
	"github.com/grailbio/docserver/internal/statusreport"
	"github.com/grailbio/docserver/internal/store"
	"github.com/grailbio/docserver/internal/transport"
)

func main() {
	addr := flag.String("addr", ":7890", "address to listen on")
	startConns := flag.Int("start-conns", 32, "initial concurrent connection limit")
	maxConns := flag.Int("max-conns", 1024, "hard upper bound on concurrent connections")
	debug := flag.Bool("debug", false, "enable debug logging")
	statusPeriod := flag.Duration("status-period", 30*time.Second, "how often to log a status line")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `usage: docserverd [flags]

docserverd serves the docserver line-oriented document protocol over TCP.
`)
		flag.PrintDefaults()
	}
	flag.Parse()

	level := log.InfoLevel
	if *debug {
		level = log.DebugLevel
	}
	log.SetDefault(log.NewLogger(log.Config{OutputPaths: []string{"stderr"}, Level: level}))

	ctx, cancel := context.WithCancel(context.Background())
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		log.Info(ctx, "docserverd: shutdown signal received")
		cancel()
	}()

	s := store.New()
	registry := admission.NewRegistry()
	dispatcher := protocol.NewDispatcher(s)
	admit := connadmit.Controller(*startConns, *maxConns)
	connadmit.EnableVarExport(admit, "docserverd")

	srv := transport.NewServer(s, registry, dispatcher, admit)

	reporter := statusreport.New(*statusPeriod)
	go reporter.Go(ctx)
	shutdown.Register(reporter.Stop)
	go publishStatus(ctx, reporter, s, srv)

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.Fatal(ctx, "docserverd: listen failed", "addr", *addr, "error", err)
	}
	shutdown.Register(func() { ln.Close() })
	log.Info(ctx, "docserverd: listening", "addr", ln.Addr())

	if err := srv.Serve(ctx, ln); err != nil {
		log.Error(ctx, "docserverd: serve error", "error", err)
	}
	shutdown.Run()
}

// publishStatus periodically snapshots store and server state into
// reporter until ctx is done.
func publishStatus(ctx context.Context, reporter *statusreport.Reporter, s *store.Store, srv *transport.Server) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reporter.Publish(statusreport.Snapshot{
				Documents:      s.Len(),
				ActiveSessions: srv.Sessions(),
			})
		}
	}
}
