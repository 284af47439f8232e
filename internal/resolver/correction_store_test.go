package resolver_test

import (
	"context"
	"testing"

	"github.com/renfield/renfield/internal/resolver"
)

func TestMemoryCorrectionStore_NearestReturnsClosestByEmbedding(t *testing.T) {
	s := resolver.NewMemoryCorrectionStore()
	ctx := context.Background()

	if err := s.Record(ctx, "turn off the lights", []float32{1, 0, 0}, "home__lights_off", nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Record(ctx, "what's the weather", []float32{0, 1, 0}, "weather__current", nil); err != nil {
		t.Fatalf("Record: %v", err)
	}

	rec, sim, ok, err := s.Nearest(ctx, []float32{0.9, 0.1, 0})
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if !ok {
		t.Fatal("Nearest returned ok=false, want a match")
	}
	if rec.CorrectedIntent != "home__lights_off" {
		t.Fatalf("CorrectedIntent = %q, want home__lights_off", rec.CorrectedIntent)
	}
	if sim <= 0.9 {
		t.Fatalf("similarity = %f, want > 0.9", sim)
	}
}

func TestMemoryCorrectionStore_NearestEmptyStoreReturnsNotOK(t *testing.T) {
	s := resolver.NewMemoryCorrectionStore()
	_, _, ok, err := s.Nearest(context.Background(), []float32{1, 0})
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if ok {
		t.Fatal("Nearest on empty store returned ok=true")
	}
}

func TestMemoryCorrectionStore_RecordBumpsHitCountOnRepeat(t *testing.T) {
	s := resolver.NewMemoryCorrectionStore()
	ctx := context.Background()

	if err := s.Record(ctx, "turn off the lights", []float32{1, 0}, "home__lights_off", nil); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Record(ctx, "turn off the lights", []float32{1, 0}, "home__lights_off", nil); err != nil {
		t.Fatalf("Record: %v", err)
	}

	rec, _, ok, err := s.Nearest(ctx, []float32{1, 0})
	if err != nil || !ok {
		t.Fatalf("Nearest: ok=%v err=%v", ok, err)
	}
	if rec.HitCount != 2 {
		t.Fatalf("HitCount = %d, want 2", rec.HitCount)
	}
}
