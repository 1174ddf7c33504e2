// Package store provides the vector store backends: a JSON-snapshot
// local store used by default and in tests, and a Milvus adapter for
// deployments with an external vector database.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hashednetwork/transito-hp/internal/rag/interfaces"
	"github.com/hashednetwork/transito-hp/internal/rag/schema"
	"github.com/hashednetwork/transito-hp/pkg/logger"
)

// ErrModelMismatch is returned when the store was built with a
// different embedding model than the one configured. Querying across
// embedding spaces would produce meaningless scores, so this is a
// startup error, not a query-time one.
var ErrModelMismatch = errors.New("index was built with a different embedding model")

const snapshotFile = "index.json"

// docState tracks the active chunk set of one document version.
type docState struct {
	Fingerprint string   `json:"fingerprint"`
	Hashes      []string `json:"hashes"`
}

// snapshot is the on-disk layout of the local store.
type snapshot struct {
	EmbedModel string                         `json:"embed_model"`
	Records    map[string]*schema.IndexRecord `json:"records"`
	Docs       map[string]*docState           `json:"docs"`
}

// Local is a persistent, append-mostly vector store backed by a JSON
// snapshot on disk. It is loaded at open, flushed on every write and
// queried with brute-force cosine similarity, which is adequate for a
// corpus of tens of thousands of chunks.
type Local struct {
	mu    sync.RWMutex
	path  string
	model string
	recs  map[string]*schema.IndexRecord
	docs  map[string]*docState
	log   *logger.Logger
}

// OpenLocal opens (or creates) a local store in dir. embedModel is
// verified against the model recorded in the snapshot.
func OpenLocal(dir, embedModel string, log *logger.Logger) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	s := &Local{
		path:  filepath.Join(dir, snapshotFile),
		model: embedModel,
		recs:  make(map[string]*schema.IndexRecord),
		docs:  make(map[string]*docState),
		log:   log,
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read index snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse index snapshot: %w", err)
	}
	if snap.EmbedModel != "" && snap.EmbedModel != embedModel {
		return nil, fmt.Errorf("%w: index has %q, configured %q",
			ErrModelMismatch, snap.EmbedModel, embedModel)
	}
	if snap.Records != nil {
		s.recs = snap.Records
	}
	if snap.Docs != nil {
		s.docs = snap.Docs
	}
	return s, nil
}

// Upsert inserts a record or, when the content hash is already
// indexed, merges the document association without touching the
// stored vector. Writes are serialized by the store mutex, so
// concurrent indexing of the same passage cannot insert twice.
func (s *Local) Upsert(ctx context.Context, rec *schema.IndexRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.recs[rec.ContentHash]
	if !ok {
		stored := *rec
		stored.EmbedModel = s.model
		stored.SourceIDs = dedupSorted(rec.SourceIDs)
		s.recs[rec.ContentHash] = &stored
		return s.flushLocked()
	}

	existing.SourceIDs = dedupSorted(append(existing.SourceIDs, rec.SourceIDs...))
	// A shared passage adopts the metadata of its most authoritative owner.
	if rec.Rank < existing.Rank {
		existing.Rank = rec.Rank
		existing.Type = rec.Type
		existing.EffectiveDate = rec.EffectiveDate
		existing.Labels = rec.Labels
		existing.Position = rec.Position
	}
	return s.flushLocked()
}

// Lookup returns the record for a content hash, or nil when absent.
func (s *Local) Lookup(ctx context.Context, contentHash string) (*schema.IndexRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recs[contentHash], nil
}

// Commit atomically swaps the active chunk set of a document. Records
// from the prior version that no other document owns are removed; the
// swap happens under the write lock so readers never observe a
// half-replaced document.
func (s *Local) Commit(ctx context.Context, sourceID, fingerprint string, hashes []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		next[h] = struct{}{}
	}

	if prev, ok := s.docs[sourceID]; ok {
		for _, h := range prev.Hashes {
			if _, keep := next[h]; keep {
				continue
			}
			rec, ok := s.recs[h]
			if !ok {
				continue
			}
			rec.SourceIDs = removeString(rec.SourceIDs, sourceID)
			if len(rec.SourceIDs) == 0 {
				delete(s.recs, h)
			}
		}
	}

	s.docs[sourceID] = &docState{Fingerprint: fingerprint, Hashes: dedupSorted(hashes)}
	return s.flushLocked()
}

// Fingerprint returns the body fingerprint of the last committed
// version of a document, or "" when the document was never indexed.
func (s *Local) Fingerprint(ctx context.Context, sourceID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.docs[sourceID]; ok {
		return st.Fingerprint, nil
	}
	return "", nil
}

// Query scores every active record against the vector and returns the
// topK most similar, optionally restricted by source type. Ordering is
// deterministic: score descending, then hierarchy rank ascending, then
// chunk position, then content hash.
func (s *Local) Query(ctx context.Context, vector []float32, topK int, types []schema.SourceType) ([]*schema.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := make(map[schema.SourceType]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}

	seen := make(map[string]struct{})
	var scored []*schema.ScoredChunk
	for _, st := range s.docs {
		for _, h := range st.Hashes {
			if _, dup := seen[h]; dup {
				continue
			}
			seen[h] = struct{}{}

			rec, ok := s.recs[h]
			if !ok {
				// Missing record: corruption of a single entry must not take
				// down the query path.
				s.log.WithField("content_hash", h).Warn("active chunk has no index record, skipping")
				continue
			}
			if len(allowed) > 0 {
				if _, ok := allowed[rec.Type]; !ok {
					continue
				}
			}
			scored = append(scored, &schema.ScoredChunk{
				Record: rec,
				Score:  cosine(vector, rec.Vector),
			})
		}
	}

	sortScored(scored)

	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// Stats reports the number of active chunks per document.
func (s *Local) Stats(ctx context.Context) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int, len(s.docs))
	for id, st := range s.docs {
		counts[id] = len(st.Hashes)
	}
	return counts, nil
}

// Close flushes the snapshot a final time.
func (s *Local) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// flushLocked writes the snapshot atomically (temp file + rename).
// Callers must hold the write lock.
func (s *Local) flushLocked() error {
	snap := snapshot{EmbedModel: s.model, Records: s.recs, Docs: s.docs}
	data, err := json.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("failed to encode index snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write index snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace index snapshot: %w", err)
	}
	return nil
}

// cosine computes cosine similarity between two vectors.
func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func dedupSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}

var _ interfaces.VectorStore = (*Local)(nil)
