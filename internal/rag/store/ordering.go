package store

import (
	"sort"

	"github.com/hashednetwork/transito-hp/internal/rag/schema"
)

// sortScored orders results deterministically: score descending, then
// hierarchy rank ascending, then chunk position, then content hash.
// Both backends use the same total order so identical queries against
// an identical index return byte-identical results.
func sortScored(scored []*schema.ScoredChunk) {
	sort.Slice(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Record.Rank != b.Record.Rank {
			return a.Record.Rank < b.Record.Rank
		}
		if a.Record.Position != b.Record.Position {
			return a.Record.Position < b.Record.Position
		}
		return a.Record.ContentHash < b.Record.ContentHash
	})
}

// restrictToActive drops results whose content hash is not in the
// committed active set. Records upserted by an ingestion that has not
// committed yet, and stale rows of a document being re-ingested, must
// stay invisible to queries.
func restrictToActive(scored []*schema.ScoredChunk, active map[string]struct{}) []*schema.ScoredChunk {
	out := scored[:0]
	for _, c := range scored {
		if _, ok := active[c.Record.ContentHash]; ok {
			out = append(out, c)
		}
	}
	return out
}
