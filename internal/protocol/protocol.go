// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package protocol implements CommandDispatcher: parsing a completed
// COMMAND-mode line into a positional argument vector, dispatching it
// to DocumentStore, and producing the exact wire-level response bytes
// specified for each command.
package protocol

import (
	"strconv"
	"strings"

	"github.com/grailbio/docserver/internal/store"
	"github.com/grailbio/docserver/internal/xerrors"
)

// Literal wire responses, reproduced verbatim.
const (
	RespDocumentCreated   = "[OK] Document created.\n"
	RespEnterWrite        = "[OK] You can start writing. Send <END> to finish.\n>> "
	RespWritePrompt       = ">> "
	RespWriteCompleted    = "[Write_Completed]\n"
	RespDisconnected      = "[Disconnected]\n"
	RespInvalidCreate     = "[Error] Invalid create command.\n"
	RespDocumentExists    = "[Error] Document already exists.\n"
	RespInvalidSections   = "[Error] Invalid section count or titles.\n"
	RespDocumentNotFound  = "[Error] Document not found.\n"
	RespSectionNotFound   = "[Error] Section not found.\n"
	RespUnknownCommand    = "[Error] Unknown command.\n"
	readEndSentinel       = "__END__\n"
	maxSectionCount       = 10
)

// Result is the outcome of dispatching one COMMAND-mode line.
type Result struct {
	// Response is the bytes to send back to the client.
	Response []byte
	// EnterWrite indicates the session should transition to WRITE mode
	// targeting (TargetDoc, TargetSection).
	EnterWrite               bool
	TargetDoc, TargetSection int
	// Close indicates the session should be closed after Response is
	// flushed (the "bye" command).
	Close bool
}

// Dispatcher parses and dispatches COMMAND-mode lines against a
// DocumentStore.
type Dispatcher struct {
	Store *store.Store
}

// NewDispatcher returns a Dispatcher backed by s.
func NewDispatcher(s *store.Store) *Dispatcher {
	return &Dispatcher{Store: s}
}

// ParseArgs splits line into a positional argument vector by whitespace
// (space and tab), with double-quoted spans forming single arguments
// that may contain interior whitespace. An unterminated quote absorbs
// through the end of the line. Empty input yields zero arguments.
func ParseArgs(line string) []string {
	var args []string
	var cur strings.Builder
	inQuote := false
	haveArg := false
	flush := func() {
		if haveArg {
			args = append(args, cur.String())
			cur.Reset()
			haveArg = false
		}
	}
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
			haveArg = true
		case (r == ' ' || r == '\t') && !inQuote:
			flush()
		default:
			cur.WriteRune(r)
			haveArg = true
		}
	}
	flush()
	return args
}

// Dispatch parses and executes a single COMMAND-mode line.
func (d *Dispatcher) Dispatch(line string) Result {
	args := ParseArgs(line)
	if len(args) == 0 {
		return Result{}
	}
	switch args[0] {
	case "create":
		return d.dispatchCreate(args)
	case "write":
		return d.dispatchWrite(args)
	case "read":
		return d.dispatchRead(args)
	case "bye":
		if len(args) != 1 {
			return Result{Response: []byte(RespUnknownCommand)}
		}
		return Result{Response: []byte(RespDisconnected), Close: true}
	default:
		return Result{Response: []byte(RespUnknownCommand)}
	}
}

func (d *Dispatcher) dispatchCreate(args []string) Result {
	if len(args) < 3 {
		return Result{Response: []byte(RespInvalidCreate)}
	}
	title := args[1]
	count, err := strconv.Atoi(args[2])
	if err != nil || count < 1 || count > maxSectionCount {
		return Result{Response: []byte(RespInvalidSections)}
	}
	if len(args) != 3+count {
		return Result{Response: []byte(RespInvalidSections)}
	}
	names := args[3 : 3+count]
	if _, err := store.Create(d.Store, title, names); err != nil {
		switch {
		case xerrors.Is(xerrors.Exists, err):
			return Result{Response: []byte(RespDocumentExists)}
		case xerrors.Is(xerrors.ResourcesExhausted, err):
			return Result{Response: []byte(RespInvalidCreate)}
		default:
			return Result{Response: []byte(RespInvalidSections)}
		}
	}
	return Result{Response: []byte(RespDocumentCreated)}
}

func (d *Dispatcher) dispatchWrite(args []string) Result {
	if len(args) != 3 {
		return Result{Response: []byte(RespUnknownCommand)}
	}
	title, section := args[1], args[2]
	docIdx, secIdx, err := store.FindSection(d.Store, title, section)
	if err != nil {
		if xerrors.Is(xerrors.NotExist, err) && documentExists(d.Store, title) {
			return Result{Response: []byte(RespSectionNotFound)}
		}
		return Result{Response: []byte(RespDocumentNotFound)}
	}
	return Result{
		Response:      []byte(RespEnterWrite),
		EnterWrite:    true,
		TargetDoc:     docIdx,
		TargetSection: secIdx,
	}
}

func documentExists(s *store.Store, title string) bool {
	_, err := store.Find(s, title)
	return err == nil
}

func (d *Dispatcher) dispatchRead(args []string) Result {
	switch len(args) {
	case 1:
		return Result{Response: []byte(store.ListAll(d.Store) + readEndSentinel)}
	case 3:
		title, section := args[1], args[2]
		docIdx, secIdx, err := store.FindSection(d.Store, title, section)
		if err != nil {
			if xerrors.Is(xerrors.NotExist, err) && documentExists(d.Store, title) {
				return Result{Response: []byte(RespSectionNotFound + readEndSentinel)}
			}
			return Result{Response: []byte(RespDocumentNotFound + readEndSentinel)}
		}
		return Result{Response: []byte(store.ListSection(d.Store, docIdx, secIdx) + readEndSentinel)}
	default:
		return Result{Response: []byte(RespUnknownCommand)}
	}
}
