package resolver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/renfield/renfield/pkg/types"
)

// correctionSimilarityFloor is the minimum cosine similarity (1 - distance)
// a stored correction must clear to be treated as a strong match in spec.md
// §4.4 step 3.
const correctionSimilarityFloor = 0.86

// CorrectionStore is the Intent Resolver's feedback-learning backend: a
// record of previously corrected (utterance pattern → intent) pairs, looked
// up by embedding similarity so a user's past correction is never repeated.
type CorrectionStore interface {
	// Nearest returns the stored correction whose embedding is closest to
	// embedding, along with its cosine similarity, or ok=false if the store
	// is empty.
	Nearest(ctx context.Context, embedding []float32) (rec types.CorrectionRecord, similarity float64, ok bool, err error)

	// Record upserts a correction for pattern, bumping HitCount when the
	// pattern already exists.
	Record(ctx context.Context, pattern string, embedding []float32, correctedIntent string, correctedArgs map[string]any) error
}

var (
	_ CorrectionStore = (*MemoryCorrectionStore)(nil)
	_ CorrectionStore = (*PostgresCorrectionStore)(nil)
)

// MemoryCorrectionStore is an in-memory CorrectionStore suitable for tests
// and single-process deployments.
type MemoryCorrectionStore struct {
	mu      sync.RWMutex
	records map[string]types.CorrectionRecord
}

// NewMemoryCorrectionStore returns an initialised MemoryCorrectionStore.
func NewMemoryCorrectionStore() *MemoryCorrectionStore {
	return &MemoryCorrectionStore{records: make(map[string]types.CorrectionRecord)}
}

func (m *MemoryCorrectionStore) Nearest(_ context.Context, embedding []float32) (types.CorrectionRecord, float64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		best     types.CorrectionRecord
		bestSim  = -1.0
		anyFound bool
	)
	for _, rec := range m.records {
		sim := cosineSimilarity(embedding, rec.Embedding)
		if sim > bestSim {
			bestSim, best, anyFound = sim, rec, true
		}
	}
	return best, bestSim, anyFound, nil
}

func (m *MemoryCorrectionStore) Record(_ context.Context, pattern string, embedding []float32, correctedIntent string, correctedArgs map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, exists := m.records[pattern]
	rec.Pattern = pattern
	rec.Embedding = embedding
	rec.CorrectedIntent = correctedIntent
	rec.CorrectedArgs = correctedArgs
	if exists {
		rec.HitCount++
	} else {
		rec.HitCount = 1
	}
	m.records[pattern] = rec
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return -1
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// PostgresCorrectionStore is a CorrectionStore backed by a pgvector-indexed
// corrections table, grounded on the semantic index's cosine-distance query
// pattern.
type PostgresCorrectionStore struct {
	pool *pgxpool.Pool
}

// NewPostgresCorrectionStore wraps an existing pool. The corrections table
// must already exist (see schema.go's ddlCorrectionStore).
func NewPostgresCorrectionStore(pool *pgxpool.Pool) *PostgresCorrectionStore {
	return &PostgresCorrectionStore{pool: pool}
}

func (p *PostgresCorrectionStore) Nearest(ctx context.Context, embedding []float32) (types.CorrectionRecord, float64, bool, error) {
	const q = `
		SELECT pattern, embedding, corrected_intent, corrected_args, hit_count, created_at,
		       1 - (embedding <=> $1) AS similarity
		FROM   corrections
		ORDER  BY embedding <=> $1
		LIMIT  1`

	row := p.pool.QueryRow(ctx, q, pgvector.NewVector(embedding))

	var (
		rec       types.CorrectionRecord
		vec       pgvector.Vector
		args      map[string]any
		similarity float64
	)
	if err := row.Scan(&rec.Pattern, &vec, &rec.CorrectedIntent, &args, &rec.HitCount, &rec.CreatedAt, &similarity); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.CorrectionRecord{}, 0, false, nil
		}
		return types.CorrectionRecord{}, 0, false, fmt.Errorf("correction store: nearest: %w", err)
	}
	rec.Embedding = vec.Slice()
	rec.CorrectedArgs = args
	return rec, similarity, true, nil
}

func (p *PostgresCorrectionStore) Record(ctx context.Context, pattern string, embedding []float32, correctedIntent string, correctedArgs map[string]any) error {
	const q = `
		INSERT INTO corrections (pattern, embedding, corrected_intent, corrected_args, hit_count, created_at)
		VALUES ($1, $2, $3, $4, 1, now())
		ON CONFLICT (pattern) DO UPDATE SET
		    embedding        = EXCLUDED.embedding,
		    corrected_intent = EXCLUDED.corrected_intent,
		    corrected_args   = EXCLUDED.corrected_args,
		    hit_count        = corrections.hit_count + 1`

	if _, err := p.pool.Exec(ctx, q, pattern, pgvector.NewVector(embedding), correctedIntent, correctedArgs); err != nil {
		return fmt.Errorf("correction store: record: %w", err)
	}
	return nil
}
