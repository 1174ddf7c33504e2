package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"

	"github.com/hashednetwork/transito-hp/internal/rag/interfaces"
	"github.com/hashednetwork/transito-hp/internal/rag/schema"
	"github.com/hashednetwork/transito-hp/pkg/logger"
)

// Field names of the chunk collection.
const (
	fieldHash      = "content_hash"
	fieldText      = "text"
	fieldVector    = "embedding"
	fieldSourceIDs = "source_ids"
	fieldType      = "doc_type"
	fieldRank      = "rank"
	fieldPosition  = "position"
	fieldDate      = "effective_date"
	fieldLabels    = "labels"
	fieldModel     = "embed_model"
)

// Field names of the document-state collection.
const (
	fieldSourceID    = "source_id"
	fieldFingerprint = "fingerprint"
	fieldHashes      = "hashes"
)

const maxVarCharLen = 8192

// Milvus implements the VectorStore interface on a Milvus deployment.
// Chunk records live in one collection keyed by content hash; per
// document version state (fingerprint and active hash set) lives in a
// small companion collection so that Commit survives restarts.
type Milvus struct {
	log    *logger.Logger
	client client.Client
	chunks string
	docs   string
	dim    int
	model  string
	loaded bool

	// mu guards locks; each content hash gets its own mutex so that
	// read-modify-write cycles on the same record are serialized while
	// distinct records still write in parallel.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// OpenMilvus connects to Milvus, ensures both collections exist and
// verifies that the stored embedding model matches the configured one.
func OpenMilvus(ctx context.Context, address, collection string, dim int, embedModel string, log *logger.Logger) (*Milvus, error) {
	c, err := client.NewClient(ctx, client.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}

	m := &Milvus{
		log:    log,
		client: c,
		chunks: collection,
		docs:   collection + "_docs",
		dim:    dim,
		model:  embedModel,
		locks:  make(map[string]*sync.Mutex),
	}
	if err := m.ensureCollections(ctx); err != nil {
		c.Close()
		return nil, err
	}
	if err := m.verifyModel(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return m, nil
}

func (m *Milvus) ensureCollections(ctx context.Context) error {
	exists, err := m.client.HasCollection(ctx, m.chunks)
	if err != nil {
		return fmt.Errorf("failed to check collection %q: %w", m.chunks, err)
	}
	if !exists {
		sch := entity.NewSchema().WithName(m.chunks).
			WithDescription("indexed legal corpus chunks").
			WithField(entity.NewField().WithName(fieldHash).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64).WithIsPrimaryKey(true)).
			WithField(entity.NewField().WithName(fieldText).WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxVarCharLen)).
			WithField(entity.NewField().WithName(fieldVector).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(m.dim))).
			WithField(entity.NewField().WithName(fieldSourceIDs).WithDataType(entity.FieldTypeVarChar).WithMaxLength(1024)).
			WithField(entity.NewField().WithName(fieldType).WithDataType(entity.FieldTypeVarChar).WithMaxLength(32)).
			WithField(entity.NewField().WithName(fieldRank).WithDataType(entity.FieldTypeInt64)).
			WithField(entity.NewField().WithName(fieldPosition).WithDataType(entity.FieldTypeInt64)).
			WithField(entity.NewField().WithName(fieldDate).WithDataType(entity.FieldTypeVarChar).WithMaxLength(32)).
			WithField(entity.NewField().WithName(fieldLabels).WithDataType(entity.FieldTypeVarChar).WithMaxLength(1024)).
			WithField(entity.NewField().WithName(fieldModel).WithDataType(entity.FieldTypeVarChar).WithMaxLength(128))
		if err := m.client.CreateCollection(ctx, sch, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection %q: %w", m.chunks, err)
		}
		idx, err := entity.NewIndexHNSW(entity.IP, 8, 96)
		if err != nil {
			return fmt.Errorf("failed to build index definition: %w", err)
		}
		if err := m.client.CreateIndex(ctx, m.chunks, fieldVector, idx, false); err != nil {
			return fmt.Errorf("failed to create vector index: %w", err)
		}
	}

	exists, err = m.client.HasCollection(ctx, m.docs)
	if err != nil {
		return fmt.Errorf("failed to check collection %q: %w", m.docs, err)
	}
	if !exists {
		sch := entity.NewSchema().WithName(m.docs).
			WithDescription("document ingestion state").
			WithField(entity.NewField().WithName(fieldSourceID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(128).WithIsPrimaryKey(true)).
			WithField(entity.NewField().WithName(fieldFingerprint).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64)).
			WithField(entity.NewField().WithName(fieldHashes).WithDataType(entity.FieldTypeVarChar).WithMaxLength(maxVarCharLen))
		if err := m.client.CreateCollection(ctx, sch, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection %q: %w", m.docs, err)
		}
	}
	return nil
}

// verifyModel looks for any record embedded with a different model.
func (m *Milvus) verifyModel(ctx context.Context) error {
	if err := m.load(ctx); err != nil {
		return err
	}
	expr := fmt.Sprintf(`%s != "%s"`, fieldModel, m.model)
	cols, err := m.client.Query(ctx, m.chunks, nil, expr, []string{fieldHash, fieldModel})
	if err != nil {
		return fmt.Errorf("failed to verify embedding model: %w", err)
	}
	for _, col := range cols {
		if col.Name() == fieldModel && col.Len() > 0 {
			other, _ := col.GetAsString(0)
			return fmt.Errorf("%w: index has %q, configured %q", ErrModelMismatch, other, m.model)
		}
	}
	return nil
}

func (m *Milvus) load(ctx context.Context) error {
	if m.loaded {
		return nil
	}
	if err := m.client.LoadCollection(ctx, m.chunks, false); err != nil {
		return fmt.Errorf("failed to load collection %q: %w", m.chunks, err)
	}
	if err := m.client.LoadCollection(ctx, m.docs, false); err != nil {
		return fmt.Errorf("failed to load collection %q: %w", m.docs, err)
	}
	m.loaded = true
	return nil
}

// hashLock returns the mutex serializing writes to one content hash.
func (m *Milvus) hashLock(hash string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[hash]
	if !ok {
		l = &sync.Mutex{}
		m.locks[hash] = l
	}
	return l
}

// Upsert inserts a record, merging source ownership when the content
// hash is already present. Milvus has no in-place update, so a merge is
// a delete followed by a re-insert of the merged row; the per-hash lock
// keeps concurrent ingests of a shared passage from inserting twice.
func (m *Milvus) Upsert(ctx context.Context, rec *schema.IndexRecord) error {
	l := m.hashLock(rec.ContentHash)
	l.Lock()
	defer l.Unlock()

	existing, err := m.Lookup(ctx, rec.ContentHash)
	if err != nil {
		return err
	}

	row := rec
	if existing != nil {
		merged := *existing
		merged.SourceIDs = dedupSorted(append(merged.SourceIDs, rec.SourceIDs...))
		if rec.Rank < merged.Rank {
			merged.Rank = rec.Rank
			merged.Type = rec.Type
			merged.EffectiveDate = rec.EffectiveDate
			merged.Labels = rec.Labels
			merged.Position = rec.Position
		}
		row = &merged
		expr := fmt.Sprintf(`%s == "%s"`, fieldHash, rec.ContentHash)
		if err := m.client.Delete(ctx, m.chunks, "", expr); err != nil {
			return fmt.Errorf("failed to replace record in milvus: %w", err)
		}
	}
	return m.insertRow(ctx, row, vectorOrExisting(row, existing))
}

// insertRow writes one chunk row. Callers hold the record's hash lock.
func (m *Milvus) insertRow(ctx context.Context, row *schema.IndexRecord, vector []float32) error {
	labelsJSON, err := json.Marshal(row.Labels)
	if err != nil {
		return fmt.Errorf("failed to encode labels: %w", err)
	}

	_, err = m.client.Insert(ctx, m.chunks, "",
		entity.NewColumnVarChar(fieldHash, []string{row.ContentHash}),
		entity.NewColumnVarChar(fieldText, []string{row.Text}),
		entity.NewColumnFloatVector(fieldVector, m.dim, [][]float32{vector}),
		entity.NewColumnVarChar(fieldSourceIDs, []string{strings.Join(dedupSorted(row.SourceIDs), ",")}),
		entity.NewColumnVarChar(fieldType, []string{string(row.Type)}),
		entity.NewColumnInt64(fieldRank, []int64{int64(row.Rank)}),
		entity.NewColumnInt64(fieldPosition, []int64{int64(row.Position)}),
		entity.NewColumnVarChar(fieldDate, []string{row.EffectiveDate.Format("2006-01-02")}),
		entity.NewColumnVarChar(fieldLabels, []string{string(labelsJSON)}),
		entity.NewColumnVarChar(fieldModel, []string{m.model}),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record into milvus: %w", err)
	}
	return nil
}

// vectorOrExisting keeps the already stored vector on merges so a
// re-insert never changes the embedding of a shared passage.
func vectorOrExisting(row, existing *schema.IndexRecord) []float32 {
	if existing != nil && len(existing.Vector) > 0 {
		return existing.Vector
	}
	return row.Vector
}

// Lookup fetches one record by content hash, nil when absent.
func (m *Milvus) Lookup(ctx context.Context, contentHash string) (*schema.IndexRecord, error) {
	if err := m.load(ctx); err != nil {
		return nil, err
	}
	expr := fmt.Sprintf(`%s == "%s"`, fieldHash, contentHash)
	cols, err := m.client.Query(ctx, m.chunks, nil, expr,
		[]string{fieldHash, fieldText, fieldVector, fieldSourceIDs, fieldType, fieldRank, fieldPosition, fieldDate, fieldLabels, fieldModel})
	if err != nil {
		return nil, fmt.Errorf("failed to query milvus: %w", err)
	}
	recs, err := decodeRecords(cols)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// Commit swaps the document's active chunk set. Orphaned records from
// the prior version are detached and deleted when no other document
// owns them.
func (m *Milvus) Commit(ctx context.Context, sourceID, fingerprint string, hashes []string) error {
	if err := m.load(ctx); err != nil {
		return err
	}

	prevHashes, _, err := m.docState(ctx, sourceID)
	if err != nil {
		return err
	}

	next := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		next[h] = struct{}{}
	}
	for _, h := range prevHashes {
		if _, keep := next[h]; keep {
			continue
		}
		if err := m.detachOwner(ctx, h, sourceID); err != nil {
			return err
		}
	}

	hashesJSON, err := json.Marshal(dedupSorted(hashes))
	if err != nil {
		return fmt.Errorf("failed to encode hash set: %w", err)
	}
	expr := fmt.Sprintf(`%s == "%s"`, fieldSourceID, sourceID)
	if err := m.client.Delete(ctx, m.docs, "", expr); err != nil {
		return fmt.Errorf("failed to clear document state: %w", err)
	}
	_, err = m.client.Insert(ctx, m.docs, "",
		entity.NewColumnVarChar(fieldSourceID, []string{sourceID}),
		entity.NewColumnVarChar(fieldFingerprint, []string{fingerprint}),
		entity.NewColumnVarChar(fieldHashes, []string{string(hashesJSON)}),
	)
	if err != nil {
		return fmt.Errorf("failed to write document state: %w", err)
	}
	return nil
}

// detachOwner removes a document from a record's owner set, deleting
// the record entirely when no other document owns it.
func (m *Milvus) detachOwner(ctx context.Context, hash, sourceID string) error {
	l := m.hashLock(hash)
	l.Lock()
	defer l.Unlock()

	rec, err := m.Lookup(ctx, hash)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	rec.SourceIDs = removeString(rec.SourceIDs, sourceID)
	expr := fmt.Sprintf(`%s == "%s"`, fieldHash, hash)
	if err := m.client.Delete(ctx, m.chunks, "", expr); err != nil {
		return fmt.Errorf("failed to detach orphaned record: %w", err)
	}
	if len(rec.SourceIDs) > 0 {
		return m.insertRow(ctx, rec, rec.Vector)
	}
	return nil
}

// Fingerprint returns the last committed fingerprint for a document.
func (m *Milvus) Fingerprint(ctx context.Context, sourceID string) (string, error) {
	_, fp, err := m.docState(ctx, sourceID)
	return fp, err
}

func (m *Milvus) docState(ctx context.Context, sourceID string) ([]string, string, error) {
	if err := m.load(ctx); err != nil {
		return nil, "", err
	}
	expr := fmt.Sprintf(`%s == "%s"`, fieldSourceID, sourceID)
	cols, err := m.client.Query(ctx, m.docs, nil, expr, []string{fieldFingerprint, fieldHashes})
	if err != nil {
		return nil, "", fmt.Errorf("failed to query document state: %w", err)
	}

	var fp, hashesJSON string
	for _, col := range cols {
		if col.Len() == 0 {
			return nil, "", nil
		}
		switch col.Name() {
		case fieldFingerprint:
			fp, _ = col.GetAsString(0)
		case fieldHashes:
			hashesJSON, _ = col.GetAsString(0)
		}
	}
	if hashesJSON == "" {
		return nil, fp, nil
	}
	var hashes []string
	if err := json.Unmarshal([]byte(hashesJSON), &hashes); err != nil {
		return nil, "", fmt.Errorf("failed to decode hash set: %w", err)
	}
	return hashes, fp, nil
}

// Query searches the chunk collection, optionally restricted by source
// type, and returns results in the deterministic order used across
// backends. Only chunks in a committed active set are returned, so a
// half-replaced document stays invisible exactly as in the local store.
func (m *Milvus) Query(ctx context.Context, vector []float32, topK int, types []schema.SourceType) ([]*schema.ScoredChunk, error) {
	if err := m.load(ctx); err != nil {
		return nil, err
	}

	active, err := m.activeHashes(ctx)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, nil
	}

	expr := ""
	if len(types) > 0 {
		quoted := make([]string, len(types))
		for i, t := range types {
			quoted[i] = fmt.Sprintf("%q", string(t))
		}
		expr = fmt.Sprintf("%s in [%s]", fieldType, strings.Join(quoted, ", "))
	}

	// Fetch extra candidates: uncommitted rows are filtered out below
	// and must not eat into the caller's topK.
	fetch := topK * 2

	sp, _ := entity.NewIndexHNSWSearchParam(64)
	results, err := m.client.Search(
		ctx, m.chunks, nil, expr,
		[]string{fieldHash, fieldText, fieldSourceIDs, fieldType, fieldRank, fieldPosition, fieldDate, fieldLabels, fieldModel},
		[]entity.Vector{entity.FloatVector(vector)},
		fieldVector, entity.IP, fetch, sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search milvus: %w", err)
	}

	var scored []*schema.ScoredChunk
	for _, res := range results {
		recs, err := decodeRecords(res.Fields)
		if err != nil {
			return nil, err
		}
		for i, rec := range recs {
			sc := &schema.ScoredChunk{Record: rec}
			if i < len(res.Scores) {
				sc.Score = float64(res.Scores[i])
			}
			scored = append(scored, sc)
		}
	}

	scored = restrictToActive(scored, active)
	sortScored(scored)
	if topK > 0 && len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

// activeHashes unions the committed hash sets of every document.
func (m *Milvus) activeHashes(ctx context.Context) (map[string]struct{}, error) {
	cols, err := m.client.Query(ctx, m.docs, nil, "", []string{fieldSourceID, fieldHashes})
	if err != nil {
		return nil, fmt.Errorf("failed to query document state: %w", err)
	}

	active := make(map[string]struct{})
	for _, col := range cols {
		if col.Name() != fieldHashes {
			continue
		}
		for i := 0; i < col.Len(); i++ {
			v, _ := col.GetAsString(i)
			if v == "" {
				continue
			}
			var hashes []string
			if err := json.Unmarshal([]byte(v), &hashes); err != nil {
				m.log.WithError(err).Warn("corrupt hash set in document state")
				continue
			}
			for _, h := range hashes {
				active[h] = struct{}{}
			}
		}
	}
	return active, nil
}

// Stats counts active chunks per document from the state collection.
func (m *Milvus) Stats(ctx context.Context) (map[string]int, error) {
	if err := m.load(ctx); err != nil {
		return nil, err
	}
	cols, err := m.client.Query(ctx, m.docs, nil, "", []string{fieldSourceID, fieldHashes})
	if err != nil {
		return nil, fmt.Errorf("failed to query document state: %w", err)
	}

	var ids, hashCols []string
	for _, col := range cols {
		for i := 0; i < col.Len(); i++ {
			v, _ := col.GetAsString(i)
			switch col.Name() {
			case fieldSourceID:
				ids = append(ids, v)
			case fieldHashes:
				hashCols = append(hashCols, v)
			}
		}
	}

	counts := make(map[string]int, len(ids))
	for i, id := range ids {
		var hashes []string
		if i < len(hashCols) && hashCols[i] != "" {
			if err := json.Unmarshal([]byte(hashCols[i]), &hashes); err != nil {
				m.log.WithField("source_id", id).WithError(err).Warn("corrupt hash set in document state")
				continue
			}
		}
		counts[id] = len(hashes)
	}
	return counts, nil
}

// Close releases the Milvus connection.
func (m *Milvus) Close() error {
	return m.client.Close()
}

// decodeRecords converts Milvus result columns back into index records.
// Column order is not guaranteed, so fields are matched by name.
func decodeRecords(cols []entity.Column) ([]*schema.IndexRecord, error) {
	byName := make(map[string]entity.Column, len(cols))
	n := 0
	for _, col := range cols {
		byName[col.Name()] = col
		if col.Len() > n {
			n = col.Len()
		}
	}

	str := func(name string, i int) string {
		col, ok := byName[name]
		if !ok || i >= col.Len() {
			return ""
		}
		v, _ := col.GetAsString(i)
		return v
	}
	num := func(name string, i int) int64 {
		col, ok := byName[name]
		if !ok || i >= col.Len() {
			return 0
		}
		v, _ := col.GetAsInt64(i)
		return v
	}

	var vectors *entity.ColumnFloatVector
	if col, ok := byName[fieldVector].(*entity.ColumnFloatVector); ok {
		vectors = col
	}

	recs := make([]*schema.IndexRecord, 0, n)
	for i := 0; i < n; i++ {
		rec := &schema.IndexRecord{
			ContentHash: str(fieldHash, i),
			Text:        str(fieldText, i),
			Type:        schema.SourceType(str(fieldType, i)),
			Rank:        int(num(fieldRank, i)),
			Position:    int(num(fieldPosition, i)),
			EmbedModel:  str(fieldModel, i),
		}
		if ids := str(fieldSourceIDs, i); ids != "" {
			rec.SourceIDs = strings.Split(ids, ",")
		}
		if d := str(fieldDate, i); d != "" {
			if t, err := parseDate(d); err == nil {
				rec.EffectiveDate = t
			}
		}
		if lj := str(fieldLabels, i); lj != "" {
			if err := json.Unmarshal([]byte(lj), &rec.Labels); err != nil {
				return nil, fmt.Errorf("failed to decode labels for %s: %w", rec.ContentHash, err)
			}
		}
		if vectors != nil && i < vectors.Len() {
			rec.Vector = vectors.Data()[i]
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

var _ interfaces.VectorStore = (*Milvus)(nil)
