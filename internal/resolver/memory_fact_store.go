package resolver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/renfield/renfield/pkg/types"
)

var (
	_ MemoryFactStore = (*MemoryFacts)(nil)
	_ MemoryFactStore = (*PostgresMemoryFacts)(nil)
)

// MemoryFacts is an in-memory MemoryFactStore suitable for tests and
// single-process deployments.
type MemoryFacts struct {
	mu    sync.Mutex
	facts map[string][]types.MemoryFact
}

// NewMemoryFacts returns an initialised MemoryFacts store.
func NewMemoryFacts() *MemoryFacts {
	return &MemoryFacts{facts: make(map[string][]types.MemoryFact)}
}

func (m *MemoryFacts) AppendFact(_ context.Context, subjectID, factText, sourceSessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts[subjectID] = append(m.facts[subjectID], types.MemoryFact{
		SubjectID:       subjectID,
		FactText:        factText,
		SourceSessionID: sourceSessionID,
		CreatedAt:       time.Now(),
	})
	return nil
}

// ForSubject returns the facts recorded for subjectID, oldest first.
func (m *MemoryFacts) ForSubject(subjectID string) []types.MemoryFact {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.MemoryFact, len(m.facts[subjectID]))
	copy(out, m.facts[subjectID])
	return out
}

// PostgresMemoryFacts is a MemoryFactStore backed by a plain append-only
// table.
type PostgresMemoryFacts struct {
	pool *pgxpool.Pool
}

// NewPostgresMemoryFacts wraps an existing pool. The memory_facts table must
// already exist (see schema.go's ddlMemoryFactStore).
func NewPostgresMemoryFacts(pool *pgxpool.Pool) *PostgresMemoryFacts {
	return &PostgresMemoryFacts{pool: pool}
}

func (p *PostgresMemoryFacts) AppendFact(ctx context.Context, subjectID, factText, sourceSessionID string) error {
	const q = `
		INSERT INTO memory_facts (subject_id, fact_text, source_session_id, created_at)
		VALUES ($1, $2, $3, now())`

	if _, err := p.pool.Exec(ctx, q, subjectID, factText, sourceSessionID); err != nil {
		return fmt.Errorf("memory facts: append: %w", err)
	}
	return nil
}
