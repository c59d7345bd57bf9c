// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package session implements SessionState: the per-connection state
// machine with COMMAND and WRITE modes, line framing, and the
// write-commit sequence that hands staged lines to a SectionAdmission
// queue and then to the DocumentStore.
package session

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/grailbio/docserver/internal/admission"
	"github.com/grailbio/docserver/internal/limitbuf"
	"github.com/grailbio/docserver/internal/log"
	"github.com/grailbio/docserver/internal/protocol"
	"github.com/grailbio/docserver/internal/store"
	"github.com/grailbio/docserver/internal/xerrors"
)

// Mode is one of the two states a Session may be in.
type Mode int

const (
	// Command is the initial mode: lines are dispatched as commands.
	Command Mode = iota
	// Write is entered by a successful "write" command: lines are
	// staged until the <END> sentinel.
	Write
)

// maxLineBufBytes bounds the line-framing accumulator per §4.3: bytes
// beyond this capacity are silently dropped, truncating the line.
const maxLineBufBytes = 2047

// Session is a single connection's state machine. The zero value is
// not usable; construct with New. A Session must not be copied.
type Session struct {
	id uuid.UUID

	store      *store.Store
	registry   *admission.Registry
	dispatcher *protocol.Dispatcher

	mu      sync.Mutex
	mode    Mode
	lineBuf *limitbuf.Logger
	staging []string

	targetDoc, targetSection int
	ticket                   admission.Ticket
	queue                    *admission.Queue
}

// New returns a Session in COMMAND mode, backed by the given collaborators.
func New(dispatcher *protocol.Dispatcher, s *store.Store, registry *admission.Registry) *Session {
	return &Session{
		id:         uuid.New(),
		store:      s,
		registry:   registry,
		dispatcher: dispatcher,
		lineBuf:    limitbuf.NewLogger(maxLineBufBytes),
	}
}

// ID returns the session's identifier, used only for log correlation;
// it is never part of the wire protocol.
func (sess *Session) ID() uuid.UUID {
	return sess.id
}

// Feed processes a chunk of raw bytes read from the transport. It
// accumulates bytes into lines (terminated by \n or \r), dispatching
// each completed line in turn, and returns the concatenation of all
// response bytes produced. Feed returns closed=true once a "bye" command
// has been processed; the caller must not call Feed again afterwards.
func (sess *Session) Feed(ctx context.Context, data []byte) (out []byte, closed bool, err error) {
	ctx = log.WithSessionID(ctx, sess.id)
	var result []byte
	for _, b := range data {
		if b == '\n' || b == '\r' {
			sess.mu.Lock()
			line := sess.lineBuf.String()
			if sess.lineBuf.Truncated() {
				line = strings.TrimSuffix(line, "(truncated)")
			}
			sess.lineBuf.Reset()
			sess.mu.Unlock()
			if line == "" {
				// Consecutive terminators produce empty lines, ignored in
				// both modes per §4.3.
				continue
			}
			resp, didClose, lineErr := sess.processLine(ctx, line)
			result = append(result, resp...)
			if lineErr != nil {
				return result, didClose, lineErr
			}
			if didClose {
				return result, true, nil
			}
			continue
		}
		sess.mu.Lock()
		sess.lineBuf.Write([]byte{b})
		sess.mu.Unlock()
	}
	return result, false, nil
}

func (sess *Session) processLine(ctx context.Context, line string) ([]byte, bool, error) {
	sess.mu.Lock()
	mode := sess.mode
	sess.mu.Unlock()

	if mode == Command {
		return sess.dispatchCommand(line)
	}
	return sess.processWriteLine(ctx, line)
}

func (sess *Session) dispatchCommand(line string) ([]byte, bool, error) {
	result := sess.dispatcher.Dispatch(line)
	if result.EnterWrite {
		sess.mu.Lock()
		sess.mode = Write
		sess.staging = sess.staging[:0]
		sess.targetDoc = result.TargetDoc
		sess.targetSection = result.TargetSection
		sess.mu.Unlock()
	}
	return result.Response, result.Close, nil
}

func (sess *Session) processWriteLine(ctx context.Context, line string) ([]byte, bool, error) {
	if line == "<END>" {
		return sess.commit(ctx)
	}
	if len(line) > store.MaxLineLen {
		line = line[:store.MaxLineLen]
	}
	sess.mu.Lock()
	if len(sess.staging) < store.MaxLines {
		sess.staging = append(sess.staging, line)
	}
	sess.mu.Unlock()
	return []byte(protocol.RespWritePrompt), false, nil
}

// commit runs the write-commit sequence: enqueue on the target
// SectionAdmission, wait for grant without holding the session mutex,
// commit into DocumentStore, release, and return to COMMAND mode. The
// per-session mutex is never held across the admission wait, per §5.
func (sess *Session) commit(ctx context.Context) ([]byte, bool, error) {
	sess.mu.Lock()
	docIdx, secIdx := sess.targetDoc, sess.targetSection
	staged := append([]string(nil), sess.staging...)
	sess.mu.Unlock()

	queue := sess.registry.Queue(docIdx, secIdx)
	ticket := queue.Enqueue(sess, len(staged))

	sess.mu.Lock()
	sess.queue = queue
	sess.ticket = ticket
	sess.mu.Unlock()

	for !queue.TryClaim(sess, ticket) {
		if err := queue.Wait(ctx); err != nil {
			queue.Cancel(sess, ticket)
			sess.mu.Lock()
			sess.queue = nil
			sess.mu.Unlock()
			return nil, false, xerrors.E(xerrors.Canceled, "write canceled while waiting for admission", err)
		}
	}

	store.ReplaceSection(sess.store, docIdx, secIdx, staged)
	queue.ReleaseAfterCommit()

	sess.mu.Lock()
	sess.mode = Command
	sess.staging = nil
	sess.queue = nil
	sess.mu.Unlock()

	return []byte(protocol.RespWriteCompleted), false, nil
}

// Close is invoked by the transport when the underlying connection
// closes. If the session has an outstanding enqueued (but not yet
// granted) write request, it is canceled so no orphan entry remains in
// its SectionAdmission queue, per invariants A2/P8. If the session is
// between grant and release (mid-commit), Cancel is a no-op and the
// commit is allowed to run to completion, per §4.3.
func (sess *Session) Close() {
	sess.mu.Lock()
	queue, ticket := sess.queue, sess.ticket
	sess.mu.Unlock()
	if queue != nil {
		queue.Cancel(sess, ticket)
	}
}

// Mode reports the session's current mode, primarily for tests.
func (sess *Session) Mode() Mode {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.mode
}
