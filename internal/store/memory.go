package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/renfield/renfield/pkg/types"
)

var _ ConversationStore = (*Memory)(nil)

type memSession struct {
	session  types.Session
	messages []types.Message
}

// Memory is a thread-safe, in-memory ConversationStore suitable for tests
// and single-process deployments without a database, grounded on the
// teacher's mutex-guarded-map entity store style. The zero value is ready
// to use.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]*memSession
}

// NewMemory returns an initialised Memory store.
func NewMemory() *Memory {
	return &Memory{sessions: make(map[string]*memSession)}
}

func (m *Memory) Append(_ context.Context, sessionID string, role types.Role, content string, metadata map[string]any) (types.Message, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions == nil {
		m.sessions = make(map[string]*memSession)
	}

	now := time.Now()
	sess, ok := m.sessions[sessionID]
	if !ok {
		sess = &memSession{session: types.Session{SessionID: sessionID, CreatedAt: now}}
		m.sessions[sessionID] = sess
	}

	msg := types.Message{
		SessionID: sessionID,
		Sequence:  int64(len(sess.messages)) + 1,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		Timestamp: now,
	}
	sess.messages = append(sess.messages, msg)
	sess.session.UpdatedAt = now
	return msg, nil
}

func (m *Memory) Window(_ context.Context, sessionID string, maxMessages int) ([]types.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return []types.Message{}, nil
	}

	start := len(sess.messages) - maxMessages
	if start < 0 {
		start = 0
	}
	window := make([]types.Message, len(sess.messages)-start)
	copy(window, sess.messages[start:])
	return window, nil
}

func (m *Memory) Summarize(_ context.Context, sessionID string) (*types.SessionSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}

	sum := types.SessionSummary{
		SessionID:    sessionID,
		MessageCount: len(sess.messages),
		CreatedAt:    sess.session.CreatedAt,
		UpdatedAt:    sess.session.UpdatedAt,
	}
	if len(sess.messages) > 0 {
		sum.FirstMessageAt = sess.messages[0].Timestamp
		sum.LastMessageAt = sess.messages[len(sess.messages)-1].Timestamp
	}
	return &sum, nil
}

func (m *Memory) List(_ context.Context, limit, offset int) ([]types.Session, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]types.Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		all = append(all, sess.session)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].UpdatedAt.After(all[j].UpdatedAt) })

	total := len(all)
	if offset >= len(all) {
		return []types.Session{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	paged := make([]types.Session, end-offset)
	copy(paged, all[offset:end])
	return paged, total, nil
}

func (m *Memory) Search(_ context.Context, query string, limit int) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(query)
	var results []SearchResult
	for sessionID, sess := range m.sessions {
		var best *types.Message
		for i := range sess.messages {
			msg := &sess.messages[i]
			if !strings.Contains(strings.ToLower(msg.Content), needle) {
				continue
			}
			if best == nil || msg.Timestamp.After(best.Timestamp) {
				best = msg
			}
		}
		if best != nil {
			results = append(results, SearchResult{SessionID: sessionID, Snippet: best.Content, MatchedAt: best.Timestamp})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].MatchedAt.After(results[j].MatchedAt) })

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	if results == nil {
		results = []SearchResult{}
	}
	return results, nil
}

func (m *Memory) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *Memory) Cleanup(_ context.Context, olderThanDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)

	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, sess := range m.sessions {
		if sess.session.UpdatedAt.Before(cutoff) {
			delete(m.sessions, id)
			count++
		}
	}
	return count, nil
}
