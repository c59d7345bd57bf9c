// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package transport accepts TCP connections and serves each one with a
// SessionState: a goroutine per connection reads raw bytes, feeds them
// to the session's line framer, and writes back whatever response bytes
// the session produces. Connection admission is enforced independently
// of per-section write admission, via a connadmit.Policy acquired once
// per connection and released on disconnect.
package transport

import (
	"context"
	"net"
	"sync"

	"github.com/grailbio/docserver/internal/admission"
	"github.com/grailbio/docserver/internal/connadmit"
	"github.com/grailbio/docserver/internal/log"
	"github.com/grailbio/docserver/internal/protocol"
	"github.com/grailbio/docserver/internal/session"
	"github.com/grailbio/docserver/internal/store"
)

// readBufSize is the chunk size used for each net.Conn.Read call. It
// bears no relation to any of the protocol's line-length bounds; those
// are enforced inside Session.
const readBufSize = 4096

// Server listens on a single TCP address and serves the docserver text
// protocol over every accepted connection.
type Server struct {
	Store      *store.Store
	Registry   *admission.Registry
	Dispatcher *protocol.Dispatcher
	Admit      connadmit.Policy

	mu       sync.Mutex
	wg       sync.WaitGroup
	sessions map[*session.Session]net.Conn
}

// NewServer returns a Server backed by the given collaborators. admit may
// be nil, in which case connections are never throttled.
func NewServer(s *store.Store, registry *admission.Registry, dispatcher *protocol.Dispatcher, admit connadmit.Policy) *Server {
	return &Server{
		Store:      s,
		Registry:   registry,
		Dispatcher: dispatcher,
		Admit:      admit,
		sessions:   make(map[*session.Session]net.Conn),
	}
}

// Serve accepts connections on ln until ctx is done or Accept returns an
// error, spawning one goroutine per connection. It blocks
// until every spawned connection goroutine has returned.
func (srv *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var acceptErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				acceptErr = nil
			default:
				acceptErr = err
			}
			break
		}
		srv.wg.Add(1)
		go srv.serveConn(ctx, conn)
	}
	srv.wg.Wait()
	return acceptErr
}

// Wait blocks until every connection goroutine spawned so far has
// returned. It is exposed for tests that want to observe quiescence
// without shutting down the listener.
func (srv *Server) Wait() {
	srv.wg.Wait()
}

func (srv *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer srv.wg.Done()
	defer conn.Close()

	if srv.Admit != nil {
		if err := srv.Admit.Acquire(ctx, 1); err != nil {
			log.Debug(ctx, "transport: connection rejected by admission controller", "remote", conn.RemoteAddr(), "error", err)
			return
		}
		defer srv.Admit.Release(1, true)
	}

	sess := session.New(srv.Dispatcher, srv.Store, srv.Registry)
	srv.mu.Lock()
	srv.sessions[sess] = conn
	srv.mu.Unlock()
	defer func() {
		srv.mu.Lock()
		delete(srv.sessions, sess)
		srv.mu.Unlock()
	}()

	connCtx := log.WithSessionID(ctx, sess.ID())
	log.Info(connCtx, "transport: connection accepted", "remote", conn.RemoteAddr())

	buf := make([]byte, readBufSize)
	for {
		n, readErr := conn.Read(buf)
		if n > 0 {
			out, closed, err := sess.Feed(connCtx, buf[:n])
			if len(out) > 0 {
				if _, werr := conn.Write(out); werr != nil {
					log.Debug(connCtx, "transport: write error", "error", werr)
					sess.Close()
					return
				}
			}
			if err != nil {
				log.Debug(connCtx, "transport: session error", "error", err)
				sess.Close()
				return
			}
			if closed {
				sess.Close()
				return
			}
		}
		if readErr != nil {
			sess.Close()
			return
		}
	}
}

// Sessions reports the number of connections currently being served, for
// status reporting.
func (srv *Server) Sessions() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.sessions)
}
