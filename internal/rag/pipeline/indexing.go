// Package pipeline wires the RAG stages together: indexing documents
// into the vector store, retrieving and ranking chunks for a question,
// and composing grounded answers with citations.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hashednetwork/transito-hp/internal/rag/interfaces"
	"github.com/hashednetwork/transito-hp/internal/rag/metadata"
	"github.com/hashednetwork/transito-hp/internal/rag/schema"
	"github.com/hashednetwork/transito-hp/pkg/logger"
	"github.com/hashednetwork/transito-hp/pkg/retry"
)

// IndexReport summarises one document ingestion.
type IndexReport struct {
	SourceID        string `json:"source_id"`
	Chunks          int    `json:"chunks"`
	Embedded        int    `json:"embedded"`
	Reused          int    `json:"reused"`
	Skipped         bool   `json:"skipped"`
	FailedPositions []int  `json:"failed_positions,omitempty"`
}

// IndexingPipeline turns a document into committed index records:
// chunk, extract labels, embed, upsert, and finally activate the new
// chunk set. Embedding runs in parallel with bounded concurrency.
type IndexingPipeline struct {
	chunker     interfaces.Chunker
	embedder    interfaces.EmbeddingModel
	store       interfaces.VectorStore
	concurrency int
	retry       retry.Policy
	log         *logger.Logger
}

// NewIndexing creates an IndexingPipeline.
func NewIndexing(chunker interfaces.Chunker, embedder interfaces.EmbeddingModel, store interfaces.VectorStore, concurrency int, log *logger.Logger) *IndexingPipeline {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &IndexingPipeline{
		chunker:     chunker,
		embedder:    embedder,
		store:       store,
		concurrency: concurrency,
		retry:       retry.DefaultPolicy,
		log:         log,
	}
}

// Index ingests one document. When the body fingerprint matches the
// last committed version and force is false, the document is skipped.
//
// Chunks are upserted one by one as their embeddings arrive, so a
// failure partway leaves the successfully indexed chunks in the store;
// the active-set swap happens only when every chunk succeeded. A rerun
// then reuses the persisted records instead of re-embedding them.
func (p *IndexingPipeline) Index(ctx context.Context, doc *schema.Document, force bool) (*IndexReport, error) {
	report := &IndexReport{SourceID: doc.SourceID}

	fingerprint := schema.Hash(doc.Body)
	if !force {
		prev, err := p.store.Fingerprint(ctx, doc.SourceID)
		if err != nil {
			return nil, fmt.Errorf("failed to check document fingerprint: %w", err)
		}
		if prev == fingerprint {
			report.Skipped = true
			p.log.WithField("source_id", doc.SourceID).Info("document unchanged, skipping ingestion")
			return report, nil
		}
	}

	chunks, err := p.chunker.Split(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk document: %w", err)
	}
	for _, c := range chunks {
		c.Labels = metadata.Extract(c.Text, doc.Type)
	}
	report.Chunks = len(chunks)

	// A repeated passage within one document is embedded once.
	unique := make([]*schema.Chunk, 0, len(chunks))
	seen := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		if _, dup := seen[c.ContentHash]; dup {
			continue
		}
		seen[c.ContentHash] = struct{}{}
		unique = append(unique, c)
	}

	var (
		mu       sync.Mutex
		failed   []int
		embedded int
		reused   int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, c := range unique {
		c := c
		g.Go(func() error {
			if err := p.indexChunk(gctx, doc, c, &reused, &embedded, &mu); err != nil {
				p.log.WithField("source_id", doc.SourceID).
					WithField("position", c.Position).
					WithError(err).Error("failed to index chunk")
				mu.Lock()
				failed = append(failed, c.Position)
				mu.Unlock()
			}
			// Chunk failures are collected, not propagated: one bad chunk
			// must not cancel its siblings.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report.Embedded = embedded
	report.Reused = reused

	if len(failed) > 0 {
		sort.Ints(failed)
		report.FailedPositions = failed
		return report, fmt.Errorf("indexed %d of %d chunks for %s, failed positions %v",
			len(unique)-len(failed), len(unique), doc.SourceID, failed)
	}

	hashes := make([]string, len(unique))
	for i, c := range unique {
		hashes[i] = c.ContentHash
	}
	if err := p.store.Commit(ctx, doc.SourceID, fingerprint, hashes); err != nil {
		return report, fmt.Errorf("failed to commit document version: %w", err)
	}

	p.log.WithField("source_id", doc.SourceID).
		WithField("chunks", report.Chunks).
		WithField("embedded", embedded).
		WithField("reused", reused).
		Info("document indexed")
	return report, nil
}

func (p *IndexingPipeline) indexChunk(ctx context.Context, doc *schema.Document, c *schema.Chunk, reused, embedded *int, mu *sync.Mutex) error {
	existing, err := p.store.Lookup(ctx, c.ContentHash)
	if err != nil {
		return err
	}

	rec := &schema.IndexRecord{
		ContentHash:   c.ContentHash,
		Text:          c.Text,
		SourceIDs:     []string{doc.SourceID},
		Type:          c.Type,
		Rank:          c.Type.Rank(),
		Position:      c.Position,
		EffectiveDate: c.EffectiveDate,
		Labels:        c.Labels,
		EmbedModel:    p.embedder.Model(),
	}

	if existing != nil {
		// Identical passage already embedded, possibly by another document.
		// Upsert merges ownership without a new embedding call.
		mu.Lock()
		*reused++
		mu.Unlock()
		return p.store.Upsert(ctx, rec)
	}

	var vector []float32
	err = retry.Do(ctx, p.retry, func(ctx context.Context) error {
		var embedErr error
		vector, embedErr = p.embedder.Embed(ctx, c.Text)
		return embedErr
	})
	if err != nil {
		return fmt.Errorf("failed to embed chunk: %w", err)
	}
	rec.Vector = vector

	if err := p.store.Upsert(ctx, rec); err != nil {
		return err
	}
	mu.Lock()
	*embedded++
	mu.Unlock()
	return nil
}
