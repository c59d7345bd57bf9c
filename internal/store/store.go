// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package store implements the in-memory document store: a process-wide
// collection of titled documents, each holding a fixed ordered set of
// named sections, under a shared/exclusive access discipline.
package store

import (
	"fmt"
	"strings"
	"sync"

	"github.com/grailbio/docserver/internal/xerrors"
)

const (
	// MaxTitleLen bounds a document title or section name.
	MaxTitleLen = 63
	// MaxSections bounds the number of sections a document may declare.
	MaxSections = 10
	// MaxLines bounds the number of lines retained per section.
	MaxLines = 10
	// MaxLineLen bounds the length, in bytes, of a single stored line.
	MaxLineLen = 255
	// MaxDocuments bounds the total number of documents the store holds.
	MaxDocuments = 100
)

// Section is a named, bounded ordered list of text lines within a
// Document. Name is immutable once the owning Document is created; Lines
// is replaced wholesale by a successful write commit.
type Section struct {
	Name  string
	Lines []string
}

// Document is a titled container of a fixed ordered list of named
// sections. Title and the section names/count are immutable after
// creation.
type Document struct {
	Title    string
	Sections []Section
}

// Handle is a stable reference to a Document inside a Store, obtained
// from Find or Create. It remains valid for the lifetime of the process:
// documents are never removed or reindexed.
type Handle struct {
	Index int
	Title string
}

// Store is the process-wide collection of documents. The zero value is
// not usable; construct with New. A Store must not be copied.
type Store struct {
	mu    sync.RWMutex
	byIdx []*Document
	byKey map[string]int
}

// New returns an empty Store.
func New() *Store {
	return &Store{byKey: make(map[string]int)}
}

// Create adds a new Document with the given title and section names. It
// requires exclusive access to the store for its duration, per the
// store's shared/exclusive discipline.
func Create(s *Store, title string, sectionNames []string) (Handle, error) {
	if len(title) == 0 || len(title) > MaxTitleLen {
		return Handle{}, xerrors.E(xerrors.Invalid, "invalid title")
	}
	if len(sectionNames) == 0 || len(sectionNames) > MaxSections {
		return Handle{}, xerrors.E(xerrors.Invalid, "invalid section shape")
	}
	for _, name := range sectionNames {
		if len(name) == 0 || len(name) > MaxTitleLen {
			return Handle{}, xerrors.E(xerrors.Invalid, "invalid section name", name)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byKey[title]; ok {
		return Handle{}, xerrors.E(xerrors.Exists, "document already exists", title)
	}
	if len(s.byIdx) >= MaxDocuments {
		return Handle{}, xerrors.E(xerrors.ResourcesExhausted, "document store is full")
	}

	sections := make([]Section, len(sectionNames))
	for i, name := range sectionNames {
		sections[i] = Section{Name: name}
	}
	doc := &Document{Title: title, Sections: sections}
	index := len(s.byIdx)
	s.byIdx = append(s.byIdx, doc)
	s.byKey[title] = index
	return Handle{Index: index, Title: title}, nil
}

// Find resolves a document title to a stable Handle. It requires only
// shared access.
func Find(s *Store, title string) (Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	index, ok := s.byKey[title]
	if !ok {
		return Handle{}, xerrors.E(xerrors.NotExist, "document not found", title)
	}
	return Handle{Index: index, Title: title}, nil
}

// FindSection resolves a (title, section name) pair to stable indices,
// distinguishing a missing document from a missing section.
func FindSection(s *Store, title, section string) (docIndex, sectionIndex int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	index, ok := s.byKey[title]
	if !ok {
		return 0, 0, xerrors.E(xerrors.NotExist, "document not found", title)
	}
	doc := s.byIdx[index]
	for i, sec := range doc.Sections {
		if sec.Name == section {
			return index, i, nil
		}
	}
	return 0, 0, xerrors.E(xerrors.NotExist, "section not found", section)
}

// ReplaceSection unconditionally replaces the content of the section at
// (docIndex, sectionIndex) with lines, truncated to MaxLines. It
// requires exclusive access for its duration, and is the sole mutator of
// section content after document creation: the replacement is visible
// to subsequent readers as a single atomic commit boundary.
func ReplaceSection(s *Store, docIndex, sectionIndex int, lines []string) {
	if len(lines) > MaxLines {
		lines = lines[:MaxLines]
	}
	committed := make([]string, len(lines))
	copy(committed, lines)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byIdx[docIndex].Sections[sectionIndex].Lines = committed
}

// ListAll renders the catalog of every document in insertion order: the
// title on its own line, followed by an indented numbered list of
// section names.
func ListAll(s *Store) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var b strings.Builder
	for _, doc := range s.byIdx {
		b.WriteString(doc.Title)
		b.WriteByte('\n')
		for i, sec := range doc.Sections {
			fmt.Fprintf(&b, "    %d. %s\n", i+1, sec.Name)
		}
	}
	return b.String()
}

// ListSection renders a single section: the document title, the
// section's numbered header, then each stored line indented under it.
func ListSection(s *Store, docIndex, sectionIndex int) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc := s.byIdx[docIndex]
	sec := doc.Sections[sectionIndex]
	var b strings.Builder
	b.WriteString(doc.Title)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "    %d. %s\n", sectionIndex+1, sec.Name)
	for _, line := range sec.Lines {
		b.WriteString("       ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// SectionNames returns the immutable section name list for a document,
// for callers that need the names without rendering output.
func SectionNames(s *Store, docIndex int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc := s.byIdx[docIndex]
	names := make([]string, len(doc.Sections))
	for i, sec := range doc.Sections {
		names[i] = sec.Name
	}
	return names
}

// Len reports the number of documents currently in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byIdx)
}
