package resolver

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlResolverStore = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS corrections (
    pattern          TEXT         PRIMARY KEY,
    embedding        VECTOR(1536) NOT NULL,
    corrected_intent TEXT         NOT NULL,
    corrected_args   JSONB        NOT NULL DEFAULT '{}',
    hit_count        BIGINT       NOT NULL DEFAULT 1,
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_corrections_embedding_hnsw
    ON corrections USING hnsw (embedding vector_cosine_ops);

CREATE TABLE IF NOT EXISTS memory_facts (
    id                BIGSERIAL    PRIMARY KEY,
    subject_id        TEXT         NOT NULL,
    fact_text         TEXT         NOT NULL,
    source_session_id TEXT         NOT NULL,
    created_at        TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memory_facts_subject
    ON memory_facts (subject_id, created_at DESC);
`

// Migrate creates or ensures the resolver's CorrectionStore and
// MemoryFactStore tables exist. It is idempotent and safe to call on every
// application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlResolverStore); err != nil {
		return fmt.Errorf("resolver migrate: %w", err)
	}
	return nil
}
