// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package log

import (
	"context"

	"github.com/google/uuid"
)

type sessionIDContextKey struct{}

// WithSessionID attaches id to ctx so that subsequent log calls made with the
// returned context include a "session" field.
func WithSessionID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, sessionIDContextKey{}, id)
}

// WithNewSessionID generates a random session id, attaches it to ctx, and
// returns both the new context and the id.
func WithNewSessionID(ctx context.Context) (context.Context, uuid.UUID) {
	id := uuid.New()
	return WithSessionID(ctx, id), id
}
