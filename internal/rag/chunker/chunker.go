// Package chunker splits legal documents into overlapping chunks
// aligned to the structural boundaries of each source type (articles,
// chapters, rulings, section headers).
package chunker

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hashednetwork/transito-hp/internal/rag/interfaces"
	"github.com/hashednetwork/transito-hp/internal/rag/schema"
)

// DefaultTargetSize is the default chunk length in bytes.
const DefaultTargetSize = 800

// DefaultOverlap is the default overlap carried between chunks.
const DefaultOverlap = 150

// DefaultMargin is the default boundary search window around the target.
const DefaultMargin = 200

// Config tunes the chunker.
type Config struct {
	TargetSize int
	Overlap    int
	Margin     int
}

// Chunker implements the Chunker interface with legal-structure-aware
// splitting. A structural boundary falling within the margin of the
// target length wins over a fixed cut; documents with no recognisable
// structure degrade to fixed-length chunking.
type Chunker struct {
	target  int
	overlap int
	margin  int
}

// New creates a Chunker, substituting defaults for unset fields.
func New(cfg Config) *Chunker {
	c := &Chunker{target: cfg.TargetSize, overlap: cfg.Overlap, margin: cfg.Margin}
	if c.target <= 0 {
		c.target = DefaultTargetSize
	}
	if c.overlap <= 0 {
		c.overlap = DefaultOverlap
	}
	if c.margin <= 0 || c.margin >= c.target {
		c.margin = DefaultMargin
		if c.margin >= c.target {
			c.margin = c.target / 4
		}
	}
	return c
}

// boundaryMarkers returns the structural delimiters recognised for a
// source type, most specific first. Each marker begins with a newline
// so that a boundary always starts a new structural unit.
func boundaryMarkers(t schema.SourceType) []string {
	switch t {
	case schema.SourceLaw, schema.SourceDecree, schema.SourceConstitution, schema.SourceResolution:
		return []string{
			"\nARTÍCULO", "\nArtículo", "\nARTICULO", "\nArticulo",
			"\nCAPÍTULO", "\nCapítulo", "\nTÍTULO", "\nTítulo",
			"\nPARÁGRAFO", "\nParágrafo",
			"\n\n",
		}
	case schema.SourceJurisprudence:
		return []string{
			"\nSentencia", "\nSENTENCIA",
			"\nCONSIDERANDO", "\nRESUELVE",
			"\n\n",
		}
	default: // circulars, guides and anything unclassified
		return []string{"\n===", "\n\n\n", "\n\n"}
	}
}

// Split divides a document into ordered chunks covering the whole body
// with no gaps. Concatenating the chunk cores (text minus the overlap
// prefix) in position order reproduces the body exactly.
func (c *Chunker) Split(ctx context.Context, doc *schema.Document) ([]*schema.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body := doc.Body
	if body == "" {
		return nil, nil
	}

	bounds := boundaryOffsets(body, boundaryMarkers(doc.Type))
	cuts := c.planCuts(body, bounds)

	chunks := make([]*schema.Chunk, 0, len(cuts))
	start := 0
	for i, end := range cuts {
		core := body[start:end]

		overlapLen := 0
		text := core
		if i > 0 {
			tail := overlapTail(body, cuts[i-1], c.overlap, chunkStart(cuts, i-1))
			overlapLen = len(tail)
			text = tail + core
		}

		chunks = append(chunks, &schema.Chunk{
			DocSourceID:   doc.SourceID,
			Position:      i,
			Text:          text,
			OverlapLen:    overlapLen,
			ContentHash:   schema.Hash(text),
			Type:          doc.Type,
			EffectiveDate: doc.EffectiveDate,
		})
		start = end
	}

	return chunks, nil
}

// planCuts chooses the exclusive end offset of every chunk core.
// Preference order for each cut: a structural boundary within the
// margin window around the target, then one within overlap distance
// past the window, then a forced cut at the target length.
func (c *Chunker) planCuts(body string, bounds []int) []int {
	var cuts []int
	start := 0
	for start < len(body) {
		remaining := len(body) - start
		if remaining <= c.target+c.margin {
			cuts = append(cuts, len(body))
			break
		}

		ideal := start + c.target
		cut, ok := nearestBoundary(bounds, ideal, ideal-c.margin, ideal+c.margin, start)
		if !ok {
			// A unit longer than the target is still not fragmented when an
			// alternative boundary lies within overlap distance past the
			// margin window.
			cut, ok = nearestBoundary(bounds, ideal, ideal+c.margin+1, ideal+c.margin+c.overlap, start)
		}
		if !ok {
			cut = runeFloor(body, ideal)
		}
		cuts = append(cuts, cut)
		start = cut
	}
	return cuts
}

// nearestBoundary returns the boundary offset within [lo, hi] closest
// to ideal, requiring it to be strictly past `after` so chunks always
// make progress.
func nearestBoundary(bounds []int, ideal, lo, hi, after int) (int, bool) {
	if lo <= after {
		lo = after + 1
	}
	i := sort.SearchInts(bounds, lo)
	best, found := 0, false
	for ; i < len(bounds) && bounds[i] <= hi; i++ {
		if !found || abs(bounds[i]-ideal) < abs(best-ideal) {
			best, found = bounds[i], true
		}
	}
	return best, found
}

// boundaryOffsets locates every structural boundary in the body. The
// boundary sits just after the marker's leading newline, so the unit
// heading starts the next chunk.
func boundaryOffsets(body string, markers []string) []int {
	seen := make(map[int]struct{})
	for _, marker := range markers {
		from := 0
		for {
			idx := strings.Index(body[from:], marker)
			if idx < 0 {
				break
			}
			pos := from + idx + 1
			seen[pos] = struct{}{}
			from += idx + 1
		}
	}

	offsets := make([]int, 0, len(seen))
	for pos := range seen {
		offsets = append(offsets, pos)
	}
	sort.Ints(offsets)
	return offsets
}

// overlapTail returns up to `overlap` trailing bytes of the previous
// chunk core, aligned to a rune start.
func overlapTail(body string, prevEnd, overlap, prevStart int) string {
	from := prevEnd - overlap
	if from < prevStart {
		from = prevStart
	}
	from = runeFloor(body, from)
	return body[from:prevEnd]
}

// chunkStart returns the core start offset of chunk i given the cut plan.
func chunkStart(cuts []int, i int) int {
	if i == 0 {
		return 0
	}
	return cuts[i-1]
}

// runeFloor moves an offset left until it sits on a UTF-8 rune start.
func runeFloor(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

var _ interfaces.Chunker = (*Chunker)(nil)
