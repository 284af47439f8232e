package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/renfield/renfield/internal/store"
	"github.com/renfield/renfield/pkg/types"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if RENFIELD_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("RENFIELD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RENFIELD_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh *store.Postgres against a clean schema.
func newTestStore(t *testing.T) *store.Postgres {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(cleanPool.Close)
	if _, err := cleanPool.Exec(ctx, `DROP TABLE IF EXISTS messages, sessions CASCADE`); err != nil {
		t.Fatalf("drop schema: %v", err)
	}

	s, err := store.NewPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestPostgres_AppendAssignsSequenceAndCreatesSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg, err := s.Append(ctx, "sess-1", types.RoleUser, "hello", map[string]any{"intent": "greeting"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if msg.Sequence != 1 {
		t.Fatalf("Sequence = %d, want 1", msg.Sequence)
	}

	second, err := s.Append(ctx, "sess-1", types.RoleAssistant, "hi!", nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if second.Sequence != 2 {
		t.Fatalf("Sequence = %d, want 2", second.Sequence)
	}
}

func TestPostgres_WindowOrdersChronologically(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.Append(ctx, "sess-1", types.RoleUser, "msg", nil); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	window, err := s.Window(ctx, "sess-1", 3)
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if len(window) != 3 {
		t.Fatalf("len(window) = %d, want 3", len(window))
	}
	for i := 1; i < len(window); i++ {
		if window[i].Sequence <= window[i-1].Sequence {
			t.Fatalf("window out of order: %+v", window)
		}
	}
}

func TestPostgres_SummarizeUnknownSessionReturnsNilNil(t *testing.T) {
	s := newTestStore(t)
	sum, err := s.Summarize(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum != nil {
		t.Fatalf("Summarize = %+v, want nil", sum)
	}
}

func TestPostgres_SearchIsCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Append(ctx, "sess-1", types.RoleUser, "the WEATHER is nice today", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	results, err := s.Search(ctx, "weather", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].SessionID != "sess-1" {
		t.Fatalf("results = %+v, want one match on sess-1", results)
	}
}

func TestPostgres_DeleteCascadesMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Append(ctx, "sess-1", types.RoleUser, "hi", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	sum, err := s.Summarize(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if sum != nil {
		t.Fatalf("Summarize after delete = %+v, want nil", sum)
	}
}

func TestPostgres_CleanupRemovesOnlyStaleSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Append(ctx, "fresh", types.RoleUser, "hi", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	count, err := s.Cleanup(ctx, 30)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if count != 0 {
		t.Fatalf("Cleanup removed %d sessions, want 0", count)
	}
}
