// Package interfaces declares the narrow capability interfaces of the
// RAG engine, so that providers and storage backends can be substituted
// without touching the ranking logic.
package interfaces

import (
	"context"

	"github.com/hashednetwork/transito-hp/internal/rag/schema"
)

// Loader reads a corpus source (file, object store key) and converts it
// into a Document.
type Loader interface {
	Load(ctx context.Context, path string) (*schema.Document, error)
}

// Chunker splits a document into ordered, overlapping chunks aligned to
// the legal structure of its source type.
type Chunker interface {
	Split(ctx context.Context, doc *schema.Document) ([]*schema.Chunk, error)
}

// VectorStore persists index records and answers similarity queries
// filtered by metadata. Implementations must serialize writes per
// content hash and survive process restarts.
type VectorStore interface {
	// Upsert inserts a record, or merges the document association when a
	// record with the same content hash already exists.
	Upsert(ctx context.Context, rec *schema.IndexRecord) error

	// Lookup returns the record for a content hash, or (nil, nil) when absent.
	Lookup(ctx context.Context, contentHash string) (*schema.IndexRecord, error)

	// Commit atomically activates the given chunk set as the document's
	// current version. Records belonging to a prior version and no other
	// document become eligible for removal only after the swap.
	Commit(ctx context.Context, sourceID, fingerprint string, hashes []string) error

	// Fingerprint returns the body fingerprint recorded by the last
	// successful Commit for the document, or "" when never indexed.
	Fingerprint(ctx context.Context, sourceID string) (string, error)

	// Query returns the topK active records most similar to the vector,
	// restricted to the given source types when the filter is non-empty.
	Query(ctx context.Context, vector []float32, topK int, types []schema.SourceType) ([]*schema.ScoredChunk, error)

	// Stats reports the number of active chunks per source identifier.
	Stats(ctx context.Context) (map[string]int, error)

	Close() error
}

// Reranker re-orders retrieved chunks; the hierarchy reranker adjusts
// raw similarity with the normative-authority boost.
type Reranker interface {
	Rerank(ctx context.Context, query string, chunks []*schema.ScoredChunk) ([]*schema.ScoredChunk, error)
}

// EmbeddingModel is a text embedding provider. The same provider and
// model must serve both indexing and querying.
type EmbeddingModel interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Model identifies the embedding model, stored on every index record
	// to detect embedding-space mismatches at startup.
	Model() string
}

// LLM is an answer-generation provider. The engine supplies the
// composed context inside the prompt and consumes free text back.
type LLM interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
