// Package turn implements the Turn Engine: the per-utterance pipeline that
// resolves intent, executes a plan, and streams the result back to its
// caller (see spec.md §4.5's Engine for the conceptual pattern this mirrors).
package turn

import (
	"sync"
	"time"
)

// defaultIdleEvictTTL is how long a session's entry may sit unlocked before
// Registry.gc reclaims it. State itself is never lost on eviction — it lives
// in the Conversation Store — only the in-memory mutex bookkeeping is freed.
const defaultIdleEvictTTL = 30 * time.Minute

// sessionEntry holds the fair mutex backing one session's turn exclusion
// (I1) plus the bookkeeping gc needs to reclaim idle entries.
type sessionEntry struct {
	mu       sync.Mutex
	lastUsed time.Time
}

// Registry is a SessionRegistry keyed by session_id, per spec.md §9: entries
// are created on first use and evicted once idle for longer than idleTTL.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	idleTTL  time.Duration
}

// NewRegistry returns an empty Registry. idleTTL of zero selects
// defaultIdleEvictTTL.
func NewRegistry(idleTTL time.Duration) *Registry {
	if idleTTL <= 0 {
		idleTTL = defaultIdleEvictTTL
	}
	return &Registry{
		sessions: make(map[string]*sessionEntry),
		idleTTL:  idleTTL,
	}
}

// TryAcquire attempts to take the turn mutex for sessionID. ok is false if
// another turn already holds it, in which case the caller should reject the
// request with ErrSessionBusy. On success the returned release func must be
// called exactly once to free the mutex for the next turn.
func (r *Registry) TryAcquire(sessionID string) (release func(), ok bool) {
	entry := r.entryFor(sessionID)
	if !entry.mu.TryLock() {
		return nil, false
	}
	entry.lastUsed = time.Now()
	return func() {
		entry.lastUsed = time.Now()
		entry.mu.Unlock()
	}, true
}

// entryFor returns the sessionEntry for sessionID, creating it if absent,
// and opportunistically reclaims entries that have sat idle past idleTTL.
func (r *Registry) entryFor(sessionID string) *sessionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.sessions[sessionID]; ok {
		return e
	}
	r.gcLocked()
	e := &sessionEntry{lastUsed: time.Now()}
	r.sessions[sessionID] = e
	return e
}

// gcLocked removes entries idle past idleTTL that are not currently locked.
// Must be called with r.mu held.
func (r *Registry) gcLocked() {
	cutoff := time.Now().Add(-r.idleTTL)
	for id, e := range r.sessions {
		if e.lastUsed.After(cutoff) {
			continue
		}
		if !e.mu.TryLock() {
			continue // a turn is (improbably) still in flight; leave it
		}
		e.mu.Unlock()
		delete(r.sessions, id)
	}
}
