// Package metadata recognises normative references inside chunk text:
// article numbers, law and decree identifiers, resolutions and
// constitutional rulings. Extraction is auxiliary: it improves
// citation quality but never fails a chunk.
package metadata

import (
	"fmt"
	"regexp"

	"github.com/hashednetwork/transito-hp/internal/rag/schema"
)

var (
	articleRe    = regexp.MustCompile(`(?i)art[íi]culo\.?\s*(\d+[A-Za-z]?)[\.\-\s:]`)
	lawRe        = regexp.MustCompile(`(?i)ley\s+(\d+)\s+de\s+(\d{4})`)
	decreeRe     = regexp.MustCompile(`(?i)decreto\s+(\d+)\s+de\s+(\d{4})`)
	resolutionRe = regexp.MustCompile(`(?i)resoluci[óo]n\s+(\d+)\s+de\s+(\d{4})`)
	sentenciaRe  = regexp.MustCompile(`(?i)(?:sentencia\s+)?([CTSU]-\d+)\s+de\s+(\d{4})`)
	titleRe      = regexp.MustCompile(`(?i)t[íi]tulo\s+([IVXLCDM]+|\d+)`)
	chapterRe    = regexp.MustCompile(`(?i)cap[íi]tulo\s+([IVXLCDM]+|\d+)`)
)

// Extract scans a chunk's text for the label formats known for its
// source type and returns the normalised labels. Unmatched patterns
// leave their field empty; the chunk then carries document-level
// metadata only.
func Extract(text string, sourceType schema.SourceType) schema.Labels {
	var labels schema.Labels

	if m := articleRe.FindStringSubmatch(text); m != nil {
		labels.Article = fmt.Sprintf("Artículo %s", m[1])
	}
	if m := lawRe.FindStringSubmatch(text); m != nil {
		labels.Law = fmt.Sprintf("Ley %s de %s", m[1], m[2])
	}
	if m := decreeRe.FindStringSubmatch(text); m != nil {
		labels.Decree = fmt.Sprintf("Decreto %s de %s", m[1], m[2])
	}
	if m := resolutionRe.FindStringSubmatch(text); m != nil {
		labels.Resolution = fmt.Sprintf("Resolución %s de %s", m[1], m[2])
	}
	if sourceType == schema.SourceJurisprudence {
		if m := sentenciaRe.FindStringSubmatch(text); m != nil {
			labels.Sentencia = fmt.Sprintf("Sentencia %s de %s", m[1], m[2])
		}
	}
	if m := titleRe.FindStringSubmatch(text); m != nil {
		labels.Title = fmt.Sprintf("Título %s", m[1])
	}
	if m := chapterRe.FindStringSubmatch(text); m != nil {
		labels.Chapter = fmt.Sprintf("Capítulo %s", m[1])
	}

	return labels
}
