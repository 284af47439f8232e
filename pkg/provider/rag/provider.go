// Package rag defines the Provider interface for retrieval-augmented
// generation backends.
//
// A RAG provider wraps a knowledge-base retrieval service (e.g. a hosted
// vector search API or a local document index) and exposes top-K passage
// retrieval for a named knowledge base. The RAG engine itself — ingestion,
// chunking, re-ranking — is out of scope; this package only models the
// query-time contract the Intent Resolver depends on.
package rag

import (
	"context"

	"github.com/renfield/renfield/pkg/types"
)

// Provider is the abstraction over any RAG retrieval backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Retrieve fetches the topK passages from knowledgeBaseID most relevant
	// to query, optionally scoped to attachmentIDs when the turn carries
	// ad-hoc attached documents.
	Retrieve(ctx context.Context, knowledgeBaseID, query string, topK int, attachmentIDs []string) ([]types.RAGChunk, error)
}
