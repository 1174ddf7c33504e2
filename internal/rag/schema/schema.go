// Package schema defines the data structures carried through the RAG
// pipeline: documents, chunks, index records, queries and citations.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// SourceType classifies a corpus document by its normative nature.
// The taxonomy is closed: every document ingested belongs to exactly
// one of these types.
type SourceType string

const (
	SourceConstitution  SourceType = "constitucion"
	SourceLaw           SourceType = "ley"
	SourceDecree        SourceType = "decreto"
	SourceResolution    SourceType = "resolucion"
	SourceJurisprudence SourceType = "jurisprudencia"
	SourceCircular      SourceType = "circular"
	SourceGuide         SourceType = "guia"
)

// MaxRank is the lowest-authority rank in the hierarchy.
const MaxRank = 7

// hierarchyRanks orders source types by normative authority.
// 1 is the most authoritative; ranking boosts favour lower numbers.
var hierarchyRanks = map[SourceType]int{
	SourceConstitution:  1,
	SourceLaw:           2,
	SourceDecree:        3,
	SourceResolution:    4,
	SourceJurisprudence: 5,
	SourceCircular:      6,
	SourceGuide:         7,
}

// Rank returns the hierarchy rank of the source type. Unknown types
// rank at the bottom rather than failing; the taxonomy check happens
// at ingestion time.
func (t SourceType) Rank() int {
	if r, ok := hierarchyRanks[t]; ok {
		return r
	}
	return MaxRank
}

// ParseSourceType validates a raw string against the taxonomy.
func ParseSourceType(s string) (SourceType, error) {
	t := SourceType(s)
	if _, ok := hierarchyRanks[t]; !ok {
		return "", fmt.Errorf("unknown source type %q", s)
	}
	return t, nil
}

// Document is a raw corpus document as ingested. Documents are
// immutable: re-ingesting the same SourceID replaces all of its chunks.
type Document struct {
	SourceID      string
	Title         string
	Body          string
	Type          SourceType
	EffectiveDate time.Time
}

// Rank returns the document's hierarchy rank, derived from its type.
func (d *Document) Rank() int { return d.Type.Rank() }

// Labels holds the normative references recognised inside a chunk's
// text. Empty fields mean the pattern did not match; that is a valid
// state, not an error.
type Labels struct {
	Article    string `json:"article,omitempty"`    // "Artículo 131"
	Law        string `json:"law,omitempty"`        // "Ley 769 de 2002"
	Decree     string `json:"decree,omitempty"`     // "Decreto 2106 de 2019"
	Resolution string `json:"resolution,omitempty"` // "Resolución 20223040045295 de 2022"
	Sentencia  string `json:"sentencia,omitempty"`  // "Sentencia C-038 de 2020"
	Title      string `json:"title,omitempty"`      // "Título III"
	Chapter    string `json:"chapter,omitempty"`    // "Capítulo II"
}

// Display returns the most specific reference available for citation,
// or the empty string when nothing matched.
func (l Labels) Display() string {
	switch {
	case l.Sentencia != "":
		return l.Sentencia
	case l.Article != "":
		return l.Article
	case l.Law != "":
		return l.Law
	case l.Decree != "":
		return l.Decree
	case l.Resolution != "":
		return l.Resolution
	case l.Chapter != "":
		return l.Chapter
	case l.Title != "":
		return l.Title
	}
	return ""
}

// Chunk is a contiguous span of a document, the unit of embedding and
// retrieval. Text includes the overlap carried from the previous chunk;
// Core() strips it, so concatenating the cores of all chunks in
// position order reproduces the document exactly.
type Chunk struct {
	DocSourceID   string
	Position      int // stable index within the document
	Text          string
	OverlapLen    int // byte length of the overlap prefix
	ContentHash   string
	Type          SourceType
	EffectiveDate time.Time
	Labels        Labels
}

// Core returns the chunk text without the overlap prefix.
func (c *Chunk) Core() string { return c.Text[c.OverlapLen:] }

// Hash computes the deduplication fingerprint of a chunk text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

// IndexRecord is the atomic unit of the vector store: one embedded
// chunk keyed by content hash. When several documents contain an
// identical passage the record is shared and SourceIDs lists every
// owner; Type and Rank reflect the most authoritative owner.
type IndexRecord struct {
	ContentHash   string     `json:"content_hash"`
	Text          string     `json:"text"`
	Vector        []float32  `json:"vector"`
	SourceIDs     []string   `json:"source_ids"`
	Type          SourceType `json:"source_type"`
	Rank          int        `json:"hierarchy_rank"`
	Position      int        `json:"position"`
	EffectiveDate time.Time  `json:"effective_date"`
	Labels        Labels     `json:"labels"`
	EmbedModel    string     `json:"embed_model"`
}

// Query is a user question plus retrieval constraints.
type Query struct {
	Text        string
	SourceTypes []SourceType // empty means no filter
	Limit       int          // requested result count
}

// ScoredChunk pairs an index record with its raw similarity score and
// the hierarchy-adjusted score used for final ordering.
type ScoredChunk struct {
	Record   *IndexRecord
	Score    float64 // raw cosine similarity
	Adjusted float64 // score after hierarchy boost
}

// Citation is a deduplicated normative reference surfaced with an
// answer. Every citation traces to a chunk actually included in the
// composed context.
type Citation struct {
	Type     SourceType `json:"type"`
	Label    string     `json:"label"`
	SourceID string     `json:"source_id,omitempty"`
}
