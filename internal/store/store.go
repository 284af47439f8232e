// Package store implements the Conversation Store: a durable, append-only
// per-session message log with ordered read, search, and cleanup.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/renfield/renfield/pkg/types"
)

// ErrStoreUnavailable is returned when the backing store cannot service a
// request. Reads fail immediately with this error and are not retried by the
// store itself; writes are retried once with jitter before surfacing it.
var ErrStoreUnavailable = errors.New("store: unavailable")

// SearchResult is one session's best-matching snippet for a Search query,
// ordered by recency of the match.
type SearchResult struct {
	SessionID string
	Snippet   string
	MatchedAt time.Time
}

// ConversationStore is the durable per-session transcript log described by
// spec.md §4.1. Implementations must be safe for concurrent use.
type ConversationStore interface {
	// Append atomically creates the session if absent, assigns the next
	// gap-free sequence number, and records the message. It never fails
	// because of a caller-supplied sequence — sequence is server-assigned.
	Append(ctx context.Context, sessionID string, role types.Role, content string, metadata map[string]any) (types.Message, error)

	// Window returns the most recent maxMessages for sessionID in
	// chronological order. An unknown session returns an empty slice, never
	// an error.
	Window(ctx context.Context, sessionID string, maxMessages int) ([]types.Message, error)

	// Summarize returns the aggregate view of sessionID, or (nil, nil) if
	// the session does not exist.
	Summarize(ctx context.Context, sessionID string) (*types.SessionSummary, error)

	// List returns sessions ordered by UpdatedAt descending, paginated by
	// limit/offset, plus the total number of sessions regardless of paging.
	List(ctx context.Context, limit, offset int) (sessions []types.Session, total int, err error)

	// Search performs a case-insensitive substring/trigram match over
	// message content, returning at most limit per-session snippets ordered
	// by recency of the match.
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)

	// Delete cascades to remove every message belonging to sessionID.
	Delete(ctx context.Context, sessionID string) error

	// Cleanup bulk-deletes sessions whose UpdatedAt precedes
	// now - olderThanDays, returning the number of sessions removed.
	Cleanup(ctx context.Context, olderThanDays int) (int, error)
}

// retryWriteJitter is the bound on the randomized delay before a single
// retry of a failed write, per spec.md §4.1's "retried at most once with
// jitter" failure semantics.
const retryWriteJitter = 50 * time.Millisecond
