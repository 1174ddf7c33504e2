// Package rerankers re-orders retrieved chunks. The hierarchy reranker
// encodes the Colombian normative pyramid: for equal similarity, the
// constitution outranks a law, a law outranks a decree, and so on down
// to practical guides.
package rerankers

import (
	"context"
	"sort"
	"time"

	"github.com/hashednetwork/transito-hp/internal/rag/interfaces"
	"github.com/hashednetwork/transito-hp/internal/rag/schema"
)

// DefaultBoost is the per-level authority boost factor.
const DefaultBoost = 0.05

// Hierarchy adjusts raw similarity scores with a multiplicative
// authority boost and an optional recency bonus, then sorts
// deterministically.
type Hierarchy struct {
	boost         float64
	recencyWeight float64
	now           func() time.Time
}

// Option configures a Hierarchy reranker.
type Option func(*Hierarchy)

// WithRecency enables the recency bonus with the given weight. Newer
// documents get up to `weight` added to their adjusted score.
func WithRecency(weight float64) Option {
	return func(h *Hierarchy) { h.recencyWeight = weight }
}

// WithClock overrides the time source used for recency.
func WithClock(now func() time.Time) Option {
	return func(h *Hierarchy) { h.now = now }
}

// NewHierarchy creates a Hierarchy reranker. A non-positive boost
// falls back to the default.
func NewHierarchy(boost float64, opts ...Option) *Hierarchy {
	h := &Hierarchy{boost: boost, now: time.Now}
	if h.boost <= 0 {
		h.boost = DefaultBoost
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Rerank computes the adjusted score of every chunk and returns them
// ordered by adjusted score descending. Ties break by hierarchy rank,
// then chunk position, then content hash, so identical inputs always
// produce byte-identical orderings.
func (h *Hierarchy) Rerank(ctx context.Context, query string, chunks []*schema.ScoredChunk) ([]*schema.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, c := range chunks {
		c.Adjusted = h.adjust(c)
	}

	out := make([]*schema.ScoredChunk, len(chunks))
	copy(out, chunks)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Adjusted != b.Adjusted {
			return a.Adjusted > b.Adjusted
		}
		if a.Record.Rank != b.Record.Rank {
			return a.Record.Rank < b.Record.Rank
		}
		if a.Record.Position != b.Record.Position {
			return a.Record.Position < b.Record.Position
		}
		return a.Record.ContentHash < b.Record.ContentHash
	})
	return out, nil
}

// adjust applies the authority boost. The multiplier grows with
// authority, so for any two chunks with equal similarity the more
// authoritative one always lands higher.
func (h *Hierarchy) adjust(c *schema.ScoredChunk) float64 {
	levelsAbove := float64(schema.MaxRank - c.Record.Rank)
	adjusted := c.Score * (1 + h.boost*levelsAbove)

	if h.recencyWeight > 0 && !c.Record.EffectiveDate.IsZero() {
		ageYears := h.now().Sub(c.Record.EffectiveDate).Hours() / (24 * 365)
		if ageYears < 0 {
			ageYears = 0
		}
		adjusted += h.recencyWeight / (1 + ageYears)
	}
	return adjusted
}

var _ interfaces.Reranker = (*Hierarchy)(nil)
