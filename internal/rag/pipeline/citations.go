package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashednetwork/transito-hp/internal/rag/schema"
)

// Citations builds the deduplicated citation list for the chunks that
// made it into the composed context. One citation per distinct label,
// ordered by hierarchy rank and then by first appearance, so the most
// authoritative sources lead.
func Citations(used []*schema.ScoredChunk) []schema.Citation {
	type entry struct {
		citation schema.Citation
		rank     int
		order    int
	}

	seen := make(map[string]struct{})
	var entries []entry
	for i, c := range used {
		label := c.Record.Labels.Display()
		name := sourceName(c.Record)
		if label == "" {
			label = name
		} else {
			label = fmt.Sprintf("%s, %s", name, label)
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}

		sourceID := ""
		if len(c.Record.SourceIDs) > 0 {
			sourceID = c.Record.SourceIDs[0]
		}
		entries = append(entries, entry{
			citation: schema.Citation{
				Type:     c.Record.Type,
				Label:    label,
				SourceID: sourceID,
			},
			rank:  c.Record.Rank,
			order: i,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].rank != entries[j].rank {
			return entries[i].rank < entries[j].rank
		}
		return entries[i].order < entries[j].order
	})

	citations := make([]schema.Citation, len(entries))
	for i, e := range entries {
		citations[i] = e.citation
	}
	return citations
}

// RenderCitations formats citations as the "Fuentes" block appended to
// an answer. An empty list renders to the empty string.
func RenderCitations(citations []schema.Citation) string {
	if len(citations) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Fuentes:\n")
	for _, c := range citations {
		sb.WriteString("- ")
		sb.WriteString(c.Label)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
