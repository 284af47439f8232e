package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/renfield/renfield/pkg/types"
)

var _ ConversationStore = (*Postgres)(nil)

// Postgres is a pgx-pool backed ConversationStore, following the
// query-building and pgx.CollectRows scanning style used for the
// session_entries table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres opens a connection pool to dsn, verifies connectivity, and
// runs Migrate to ensure the sessions/messages tables exist.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrStoreUnavailable, err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Postgres{pool: pool}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

func (s *Postgres) Append(ctx context.Context, sessionID string, role types.Role, content string, metadata map[string]any) (types.Message, error) {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return types.Message{}, fmt.Errorf("store: marshal metadata: %w", err)
	}

	var msg types.Message
	appendOnce := func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		const upsert = `
			INSERT INTO sessions (session_id, message_count, created_at, updated_at)
			VALUES ($1, 1, now(), now())
			ON CONFLICT (session_id) DO UPDATE
			SET message_count = sessions.message_count + 1, updated_at = now()
			RETURNING message_count, updated_at`

		var sequence int64
		var timestamp time.Time
		if err := tx.QueryRow(ctx, upsert, sessionID).Scan(&sequence, &timestamp); err != nil {
			return err
		}

		const insert = `
			INSERT INTO messages (session_id, sequence, role, content, metadata, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6)`
		if _, err := tx.Exec(ctx, insert, sessionID, sequence, string(role), content, metaJSON, timestamp); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		msg = types.Message{
			SessionID: sessionID,
			Sequence:  sequence,
			Role:      role,
			Content:   content,
			Metadata:  metadata,
			Timestamp: timestamp,
		}
		return nil
	}

	if err := withWriteRetry(ctx, appendOnce); err != nil {
		return types.Message{}, fmt.Errorf("%w: append: %v", ErrStoreUnavailable, err)
	}
	return msg, nil
}

func (s *Postgres) Window(ctx context.Context, sessionID string, maxMessages int) ([]types.Message, error) {
	const q = `
		SELECT session_id, sequence, role, content, metadata, timestamp
		FROM (
			SELECT session_id, sequence, role, content, metadata, timestamp
			FROM messages
			WHERE session_id = $1
			ORDER BY sequence DESC
			LIMIT $2
		) recent
		ORDER BY sequence ASC`

	rows, err := s.pool.Query(ctx, q, sessionID, maxMessages)
	if err != nil {
		return nil, fmt.Errorf("%w: window: %v", ErrStoreUnavailable, err)
	}
	return collectMessages(rows)
}

func (s *Postgres) Summarize(ctx context.Context, sessionID string) (*types.SessionSummary, error) {
	const q = `
		SELECT s.session_id, s.created_at, s.updated_at, s.message_count,
		       (SELECT MIN(timestamp) FROM messages WHERE session_id = s.session_id),
		       (SELECT MAX(timestamp) FROM messages WHERE session_id = s.session_id)
		FROM sessions s
		WHERE s.session_id = $1`

	var (
		sum            types.SessionSummary
		firstMessageAt *time.Time
		lastMessageAt  *time.Time
	)
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(
		&sum.SessionID, &sum.CreatedAt, &sum.UpdatedAt, &sum.MessageCount,
		&firstMessageAt, &lastMessageAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: summarize: %v", ErrStoreUnavailable, err)
	}
	if firstMessageAt != nil {
		sum.FirstMessageAt = *firstMessageAt
	}
	if lastMessageAt != nil {
		sum.LastMessageAt = *lastMessageAt
	}
	return &sum, nil
}

func (s *Postgres) List(ctx context.Context, limit, offset int) ([]types.Session, int, error) {
	const countQ = `SELECT count(*) FROM sessions`
	var total int
	if err := s.pool.QueryRow(ctx, countQ).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: list count: %v", ErrStoreUnavailable, err)
	}

	const q = `
		SELECT session_id, created_at, updated_at
		FROM sessions
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2`
	rows, err := s.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list: %v", ErrStoreUnavailable, err)
	}
	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Session, error) {
		var sess types.Session
		err := row.Scan(&sess.SessionID, &sess.CreatedAt, &sess.UpdatedAt)
		return sess, err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list: scan: %v", ErrStoreUnavailable, err)
	}
	if sessions == nil {
		sessions = []types.Session{}
	}
	return sessions, total, nil
}

func (s *Postgres) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	const q = `
		SELECT session_id, content, timestamp
		FROM (
			SELECT DISTINCT ON (session_id) session_id, content, timestamp
			FROM messages
			WHERE content ILIKE '%' || $1 || '%'
			ORDER BY session_id, timestamp DESC
		) matched
		ORDER BY timestamp DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, q, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrStoreUnavailable, err)
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SearchResult, error) {
		var r SearchResult
		err := row.Scan(&r.SessionID, &r.Snippet, &r.MatchedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: search: scan: %v", ErrStoreUnavailable, err)
	}
	if results == nil {
		results = []SearchResult{}
	}
	return results, nil
}

func (s *Postgres) Delete(ctx context.Context, sessionID string) error {
	deleteOnce := func() error {
		_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
		return err
	}
	if err := withWriteRetry(ctx, deleteOnce); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Postgres) Cleanup(ctx context.Context, olderThanDays int) (int, error) {
	const q = `
		DELETE FROM sessions
		WHERE updated_at < now() - ($1::int * interval '1 day')`

	var count int
	cleanupOnce := func() error {
		ct, err := s.pool.Exec(ctx, q, olderThanDays)
		if err != nil {
			return err
		}
		count = int(ct.RowsAffected())
		return nil
	}
	if err := withWriteRetry(ctx, cleanupOnce); err != nil {
		return 0, fmt.Errorf("%w: cleanup: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}

func collectMessages(rows pgx.Rows) ([]types.Message, error) {
	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Message, error) {
		var (
			m        types.Message
			role     string
			metaJSON []byte
		)
		if err := row.Scan(&m.SessionID, &m.Sequence, &role, &m.Content, &metaJSON, &m.Timestamp); err != nil {
			return types.Message{}, err
		}
		m.Role = types.Role(role)
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &m.Metadata); err != nil {
				return types.Message{}, err
			}
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan: %v", ErrStoreUnavailable, err)
	}
	if messages == nil {
		messages = []types.Message{}
	}
	return messages, nil
}

// withWriteRetry runs fn once, and if it fails, retries exactly once after a
// randomized jitter, per spec.md §4.1's write failure semantics.
func withWriteRetry(ctx context.Context, fn func() error) error {
	if err := fn(); err == nil {
		return nil
	} else if ctx.Err() != nil {
		return err
	}

	select {
	case <-time.After(time.Duration(rand.Int64N(int64(retryWriteJitter)))):
	case <-ctx.Done():
		return ctx.Err()
	}
	return fn()
}
