package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/hashednetwork/transito-hp/internal/rag/interfaces"
	"github.com/hashednetwork/transito-hp/internal/rag/schema"
	"github.com/hashednetwork/transito-hp/pkg/logger"
	"github.com/hashednetwork/transito-hp/pkg/retry"
)

// DefaultLimit is the default number of chunks returned per query.
const DefaultLimit = 5

// DefaultHeadroom is the default candidate multiplier: the store is
// asked for headroom*limit raw candidates so the hierarchy boost can
// promote chunks that raw similarity alone would have dropped.
const DefaultHeadroom = 4

// MaxLimit caps the per-query result count. Request payloads choose
// their own limit; without a ceiling that value also scales the raw
// candidate fetch.
const MaxLimit = 20

const embedTimeout = 30 * time.Second

// RetrievalPipeline answers similarity queries: embed the question,
// fetch raw candidates, rerank by normative hierarchy, truncate.
type RetrievalPipeline struct {
	embedder interfaces.EmbeddingModel
	store    interfaces.VectorStore
	reranker interfaces.Reranker
	limit    int
	headroom int
	retry    retry.Policy
	log      *logger.Logger
}

// NewRetrieval creates a RetrievalPipeline.
func NewRetrieval(embedder interfaces.EmbeddingModel, store interfaces.VectorStore, reranker interfaces.Reranker, limit, headroom int, log *logger.Logger) *RetrievalPipeline {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if headroom <= 0 {
		headroom = DefaultHeadroom
	}
	return &RetrievalPipeline{
		embedder: embedder,
		store:    store,
		reranker: reranker,
		limit:    limit,
		headroom: headroom,
		retry:    retry.DefaultPolicy,
		log:      log,
	}
}

// Retrieve returns the top chunks for a query in hierarchy-adjusted
// order. Identical queries against an identical index produce
// byte-identical results.
//
// An embedding failure is an error: without a query vector there is
// nothing to search. A store failure degrades to an empty result, so
// the caller can still respond with the no-grounding fallback.
func (p *RetrievalPipeline) Retrieve(ctx context.Context, q *schema.Query) ([]*schema.ScoredChunk, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = p.limit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	ectx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	var vector []float32
	err := retry.Do(ectx, p.retry, func(ctx context.Context) error {
		var embedErr error
		vector, embedErr = p.embedder.Embed(ctx, q.Text)
		return embedErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	candidates, err := p.store.Query(ctx, vector, p.headroom*limit, q.SourceTypes)
	if err != nil {
		p.log.WithError(err).Error("vector store query failed, returning empty result")
		return nil, nil
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ranked, err := p.reranker.Rerank(ctx, q.Text, candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to rerank candidates: %w", err)
	}

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}
