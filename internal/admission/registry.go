// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package admission

import (
	"fmt"
	"sync"
)

// key identifies a single section's admission queue within the registry.
type key struct {
	docIndex     int
	sectionIndex int
}

// Registry is the process-wide table of per-(document, section)
// admission Queues, constructed once at startup and handed to sessions
// as a collaborator, per the "no ambient process-wide state" design
// note: a Registry is an explicit object, not a package-level global.
type Registry struct {
	mu     sync.Mutex
	queues map[key]*Queue
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{queues: make(map[key]*Queue)}
}

// Queue returns the admission queue for (docIndex, sectionIndex),
// creating it on first use. A document's section count is fixed at
// creation, so the set of valid keys for a given document never grows
// after that point.
func (r *Registry) Queue(docIndex, sectionIndex int) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{docIndex, sectionIndex}
	q, ok := r.queues[k]
	if !ok {
		q = NewQueue()
		r.queues[k] = q
	}
	return q
}

func (k key) String() string {
	return fmt.Sprintf("(%d,%d)", k.docIndex, k.sectionIndex)
}
