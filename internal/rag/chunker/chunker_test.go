package chunker

import (
	"context"
	"strings"
	"testing"

	"github.com/hashednetwork/transito-hp/internal/rag/schema"
)

func legalDoc(body string) *schema.Document {
	return &schema.Document{
		SourceID: "codigo_transito",
		Type:     schema.SourceLaw,
		Body:     body,
	}
}

// reassemble concatenates the chunk cores in position order.
func reassemble(chunks []*schema.Chunk) string {
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(c.Core())
	}
	return sb.String()
}

func TestSplit_RoundTrip(t *testing.T) {
	var sb strings.Builder
	for i := 1; i <= 40; i++ {
		sb.WriteString("\nARTÍCULO ")
		sb.WriteString(strings.Repeat("x", 5))
		sb.WriteString(". El conductor deberá portar la licencia de conducción vigente y presentarla cuando la autoridad lo requiera. ")
		sb.WriteString(strings.Repeat("Las multas se liquidan en salarios mínimos diarios legales vigentes. ", 3))
	}
	body := sb.String()

	c := New(Config{})
	chunks, err := c.Split(context.Background(), legalDoc(body))
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	if got := reassemble(chunks); got != body {
		t.Errorf("reassembled body differs from original: len %d vs %d", len(got), len(body))
	}

	for i, chunk := range chunks {
		if chunk.Position != i {
			t.Errorf("chunk %d has position %d", i, chunk.Position)
		}
		if chunk.ContentHash != schema.Hash(chunk.Text) {
			t.Errorf("chunk %d hash does not match its text", i)
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	body := strings.Repeat("\nARTÍCULO 1. Texto normativo de prueba con contenido suficiente para varios cortes. ", 60)

	c := New(Config{})
	first, err := c.Split(context.Background(), legalDoc(body))
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	second, err := c.Split(context.Background(), legalDoc(body))
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("chunk counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Text != second[i].Text || first[i].ContentHash != second[i].ContentHash {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

func TestSplit_BoundaryAlignment(t *testing.T) {
	article := "\nARTÍCULO 131. Multas. Será sancionado con multa equivalente a quince salarios mínimos quien incurra en las conductas descritas. " +
		strings.Repeat("Los descuentos por pronto pago aplican dentro de los plazos legales. ", 8)
	body := strings.Repeat(article, 10)

	c := New(Config{})
	chunks, err := c.Split(context.Background(), legalDoc(body))
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	aligned := 0
	for _, chunk := range chunks[1:] {
		if strings.HasPrefix(chunk.Core(), "ARTÍCULO") {
			aligned++
		}
	}
	if aligned == 0 {
		t.Error("no chunk core starts at an article boundary")
	}
}

func TestSplit_ForceCutWithoutStructure(t *testing.T) {
	body := strings.Repeat("texto continuo sin estructura reconocible ", 200)

	c := New(Config{TargetSize: 400, Overlap: 80, Margin: 100})
	chunks, err := c.Split(context.Background(), legalDoc(body))
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected fixed-length chunks, got %d", len(chunks))
	}
	if got := reassemble(chunks); got != body {
		t.Error("reassembled body differs from original")
	}

	for i, chunk := range chunks[:len(chunks)-1] {
		if len(chunk.Core()) > 400+100 {
			t.Errorf("chunk %d core is %d bytes, exceeds target+margin", i, len(chunk.Core()))
		}
	}
}

func TestSplit_RuneBoundarySafety(t *testing.T) {
	// Multi-byte runes throughout; forced cuts must not split them.
	body := strings.Repeat("señalización vial y circulación de vehículos automotores en vías públicas año 2002 ", 120)

	c := New(Config{TargetSize: 333, Overlap: 50, Margin: 40})
	chunks, err := c.Split(context.Background(), legalDoc(body))
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}

	for i, chunk := range chunks {
		if !strings.Contains(body, chunk.Core()) {
			t.Fatalf("chunk %d core is not a substring of the body", i)
		}
		for _, r := range chunk.Text {
			if r == '�' {
				t.Fatalf("chunk %d contains a broken rune", i)
			}
		}
	}
	if got := reassemble(chunks); got != body {
		t.Error("reassembled body differs from original")
	}
}

func TestSplit_OverlapCarried(t *testing.T) {
	body := strings.Repeat("\nARTÍCULO 1. Contenido del artículo con texto repetido para forzar varios cortes en el documento. ", 50)

	c := New(Config{})
	chunks, err := c.Split(context.Background(), legalDoc(body))
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	if chunks[0].OverlapLen != 0 {
		t.Errorf("first chunk has overlap %d, want 0", chunks[0].OverlapLen)
	}
	for i, chunk := range chunks[1:] {
		if chunk.OverlapLen == 0 {
			t.Errorf("chunk %d carries no overlap", i+1)
			continue
		}
		prefix := chunk.Text[:chunk.OverlapLen]
		prev := chunks[i]
		if !strings.HasSuffix(prev.Text, prefix) {
			t.Errorf("chunk %d overlap prefix is not the tail of its predecessor", i+1)
		}
	}
}

func TestSplit_OversizedUnitUsesNearbyBoundary(t *testing.T) {
	// One structural unit runs past target+margin; the next boundary sits
	// within overlap distance of the window, so the unit must stay whole
	// instead of being force-cut at the target.
	body := strings.Repeat("a", 1100) + "\nARTÍCULO 2. " + strings.Repeat("b", 900)

	c := New(Config{}) // target 800, overlap 150, margin 200
	chunks, err := c.Split(context.Background(), legalDoc(body))
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if !strings.HasPrefix(chunks[1].Core(), "ARTÍCULO 2.") {
		t.Errorf("second chunk core starts %q, want the article boundary", chunks[1].Core()[:20])
	}
	if got := reassemble(chunks); got != body {
		t.Error("reassembled body differs from original")
	}
}

func TestSplit_EmptyAndTinyBodies(t *testing.T) {
	c := New(Config{})

	chunks, err := c.Split(context.Background(), legalDoc(""))
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("empty body produced %d chunks", len(chunks))
	}

	chunks, err = c.Split(context.Background(), legalDoc("Artículo único."))
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("tiny body produced %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != "Artículo único." {
		t.Errorf("tiny body chunk = %q", chunks[0].Text)
	}
}

func TestSplit_GuideMarkers(t *testing.T) {
	section := "\n=== Sección de la guía ===\n" + strings.Repeat("Consejos prácticos para conductores sobre fotomultas y comparendos. ", 15)
	body := strings.Repeat(section, 8)

	doc := &schema.Document{SourceID: "senorbiter", Type: schema.SourceGuide, Body: body}
	c := New(Config{})
	chunks, err := c.Split(context.Background(), doc)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if got := reassemble(chunks); got != body {
		t.Error("reassembled guide differs from original")
	}

	aligned := 0
	for _, chunk := range chunks[1:] {
		if strings.HasPrefix(chunk.Core(), "===") {
			aligned++
		}
	}
	if aligned == 0 {
		t.Error("no chunk core starts at a guide section boundary")
	}
}
