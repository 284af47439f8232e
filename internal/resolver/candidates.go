package resolver

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/renfield/renfield/pkg/types"
)

// ToolLister is the narrow view onto the Tool Registry the resolver needs to
// rank candidate tools.
type ToolLister interface {
	Tools() []types.ToolDescriptor
}

// candidateRanker embeds each tool descriptor once and caches the vector, so
// ranking an utterance against the full tool catalogue is one embedding call
// plus an in-memory cosine-similarity sort rather than a fresh embedding
// round-trip per descriptor.
type candidateRanker struct {
	mu     sync.Mutex
	byName map[string][]float32
}

func newCandidateRanker() *candidateRanker {
	return &candidateRanker{byName: make(map[string][]float32)}
}

// topK returns the topK tool descriptors from lister.Tools() ranked by
// descending cosine similarity to queryEmbedding, embedding any descriptor
// not yet cached.
func (r *Resolver) topK(ctx context.Context, descriptors []types.ToolDescriptor, queryEmbedding []float32, k int) ([]types.ToolDescriptor, error) {
	type scored struct {
		d   types.ToolDescriptor
		sim float64
	}

	r.ranker.mu.Lock()
	var toEmbed []types.ToolDescriptor
	for _, d := range descriptors {
		if _, ok := r.ranker.byName[d.Name]; !ok {
			toEmbed = append(toEmbed, d)
		}
	}
	r.ranker.mu.Unlock()

	if len(toEmbed) > 0 {
		texts := make([]string, len(toEmbed))
		for i, d := range toEmbed {
			texts[i] = d.Name + ": " + d.Description
		}
		vectors, err := r.embeddings.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("resolver: embed tool descriptors: %w", err)
		}
		r.ranker.mu.Lock()
		for i, d := range toEmbed {
			r.ranker.byName[d.Name] = vectors[i]
		}
		r.ranker.mu.Unlock()
	}

	r.ranker.mu.Lock()
	scoredList := make([]scored, 0, len(descriptors))
	for _, d := range descriptors {
		scoredList = append(scoredList, scored{d: d, sim: cosineSimilarity(queryEmbedding, r.ranker.byName[d.Name])})
	}
	r.ranker.mu.Unlock()

	sort.Slice(scoredList, func(i, j int) bool { return scoredList[i].sim > scoredList[j].sim })

	if k > len(scoredList) {
		k = len(scoredList)
	}
	out := make([]types.ToolDescriptor, k)
	for i := 0; i < k; i++ {
		out[i] = scoredList[i].d
	}
	return out, nil
}
