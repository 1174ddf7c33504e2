package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/hashednetwork/transito-hp/internal/rag/chunker"
	"github.com/hashednetwork/transito-hp/internal/rag/rerankers"
	"github.com/hashednetwork/transito-hp/internal/rag/schema"
	"github.com/hashednetwork/transito-hp/internal/rag/store"
	"github.com/hashednetwork/transito-hp/pkg/logger"
)

// fakeEmbedder produces deterministic keyword vectors so similarity
// search behaves predictably. Texts containing failOn return an error.
type fakeEmbedder struct {
	failOn string
	calls  int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, fmt.Errorf("provider unavailable")
	}
	vec := []float32{0.1, 0.1}
	if strings.Contains(text, "131") {
		vec[0] = 1
	}
	if strings.Contains(text, "velocidad") {
		vec[1] = 1
	}
	return vec, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Model() string { return "fake-embedder" }

// fakeLLM echoes the prompts so tests can assert on prompt contents.
// The first `failures` calls return an error, simulating a provider
// outage that clears up.
type fakeLLM struct {
	lastSystem string
	lastUser   string
	answer     string
	failures   int
	calls      int
}

func (f *fakeLLM) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return "", fmt.Errorf("temporary provider outage")
	}
	f.lastSystem = systemPrompt
	f.lastUser = userPrompt
	if f.answer != "" {
		return f.answer, nil
	}
	return "Según el Artículo 131 de la Ley 769, las multas se clasifican por gravedad.", nil
}

func newTestStore(t *testing.T) *store.Local {
	t.Helper()
	s, err := store.OpenLocal(t.TempDir(), "fake-embedder", logger.New("pipeline-test"))
	if err != nil {
		t.Fatalf("OpenLocal() error = %v", err)
	}
	return s
}

func articleBody(marker string, n int) string {
	var sb strings.Builder
	for i := 1; i <= n; i++ {
		sb.WriteString(fmt.Sprintf("\nARTÍCULO %d. Disposición %s número %d. ", i, marker, i))
		sb.WriteString(strings.Repeat("Texto normativo de relleno para alcanzar el tamaño de corte objetivo. ", 12))
	}
	return sb.String()
}

func TestIndexing_CommitsAndSkipsUnchanged(t *testing.T) {
	s := newTestStore(t)
	emb := &fakeEmbedder{}
	p := NewIndexing(chunker.New(chunker.Config{}), emb, s, 2, logger.New("pipeline-test"))

	doc := &schema.Document{
		SourceID: "codigo_transito",
		Type:     schema.SourceLaw,
		Body:     articleBody("general", 6),
	}

	report, err := p.Index(context.Background(), doc, false)
	if err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	if report.Skipped || report.Chunks == 0 || report.Embedded == 0 {
		t.Fatalf("unexpected report: %+v", report)
	}

	fp, err := s.Fingerprint(context.Background(), "codigo_transito")
	if err != nil {
		t.Fatalf("Fingerprint() error = %v", err)
	}
	if fp == "" {
		t.Fatal("document was not committed")
	}

	// Re-ingesting the unchanged document must not embed again.
	callsBefore := emb.calls
	report, err = p.Index(context.Background(), doc, false)
	if err != nil {
		t.Fatalf("Index() error = %v", err)
	}
	if !report.Skipped {
		t.Error("unchanged document was not skipped")
	}
	if emb.calls != callsBefore {
		t.Errorf("skip still made %d embedding calls", emb.calls-callsBefore)
	}
}

func TestIndexing_DedupAcrossDocuments(t *testing.T) {
	s := newTestStore(t)
	emb := &fakeEmbedder{}
	p := NewIndexing(chunker.New(chunker.Config{}), emb, s, 2, logger.New("pipeline-test"))

	body := articleBody("compartida", 4)
	lawDoc := &schema.Document{SourceID: "codigo_transito", Type: schema.SourceLaw, Body: body}
	decreeDoc := &schema.Document{SourceID: "decreto_2106", Type: schema.SourceDecree, Body: body}

	if _, err := p.Index(context.Background(), lawDoc, false); err != nil {
		t.Fatalf("Index(law) error = %v", err)
	}

	callsBefore := emb.calls
	report, err := p.Index(context.Background(), decreeDoc, false)
	if err != nil {
		t.Fatalf("Index(decree) error = %v", err)
	}
	if report.Embedded != 0 {
		t.Errorf("identical passages re-embedded %d times", report.Embedded)
	}
	if report.Reused != report.Chunks {
		t.Errorf("reused %d of %d chunks", report.Reused, report.Chunks)
	}
	if emb.calls != callsBefore {
		t.Errorf("dedup still made %d embedding calls", emb.calls-callsBefore)
	}

	// Shared records keep the most authoritative owner's metadata.
	chunks, err := chunker.New(chunker.Config{}).Split(context.Background(), lawDoc)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	rec, err := s.Lookup(context.Background(), chunks[0].ContentHash)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if rec.Type != schema.SourceLaw {
		t.Errorf("shared record type = %q, want the law", rec.Type)
	}
	if len(rec.SourceIDs) != 2 {
		t.Errorf("shared record owners = %v", rec.SourceIDs)
	}
}

func TestIndexing_PartialFailureThenRecovery(t *testing.T) {
	s := newTestStore(t)
	emb := &fakeEmbedder{failOn: "Disposición averiada número 3"}
	p := NewIndexing(chunker.New(chunker.Config{}), emb, s, 2, logger.New("pipeline-test"))

	doc := &schema.Document{
		SourceID: "codigo_transito",
		Type:     schema.SourceLaw,
		Body:     articleBody("averiada", 6),
	}

	report, err := p.Index(context.Background(), doc, false)
	if err == nil {
		t.Fatal("Index() succeeded despite a failing chunk")
	}
	if len(report.FailedPositions) == 0 {
		t.Fatal("report lists no failed positions")
	}

	// No commit happened, so the document is still considered unindexed.
	fp, _ := s.Fingerprint(context.Background(), "codigo_transito")
	if fp != "" {
		t.Error("partial failure still committed the document")
	}

	// The successful chunks were persisted and are reused on retry.
	emb.failOn = ""
	report, err = p.Index(context.Background(), doc, false)
	if err != nil {
		t.Fatalf("retry Index() error = %v", err)
	}
	if report.Reused == 0 {
		t.Error("retry re-embedded chunks that were already persisted")
	}
	fp, _ = s.Fingerprint(context.Background(), "codigo_transito")
	if fp == "" {
		t.Error("retry did not commit the document")
	}
}

func indexCorpus(t *testing.T, s *store.Local, emb *fakeEmbedder) {
	t.Helper()
	p := NewIndexing(chunker.New(chunker.Config{}), emb, s, 2, logger.New("pipeline-test"))

	docs := []*schema.Document{
		{
			SourceID: "codigo_transito",
			Type:     schema.SourceLaw,
			Body: "\nARTÍCULO 131. Multas. Será sancionado con multa quien conduzca sin licencia. " +
				strings.Repeat("Detalle del régimen sancionatorio aplicable a los conductores. ", 10),
		},
		{
			SourceID: "senorbiter",
			Type:     schema.SourceGuide,
			Body: "\n=== Guía sobre el artículo 131 ===\nExplicación práctica de las multas del 131. " +
				strings.Repeat("Consejos para impugnar comparendos por velocidad. ", 10),
		},
	}
	for _, doc := range docs {
		if _, err := p.Index(context.Background(), doc, false); err != nil {
			t.Fatalf("Index(%s) error = %v", doc.SourceID, err)
		}
	}
}

func TestRetrieval_HierarchyOrderAndDeterminism(t *testing.T) {
	s := newTestStore(t)
	emb := &fakeEmbedder{}
	indexCorpus(t, s, emb)

	retrieval := NewRetrieval(emb, s, rerankers.NewHierarchy(0.05), 5, 4, logger.New("pipeline-test"))
	q := &schema.Query{Text: "¿qué dice el artículo 131?"}

	first, err := retrieval.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(first) == 0 {
		t.Fatal("Retrieve() returned nothing")
	}
	if first[0].Record.Type != schema.SourceLaw {
		t.Errorf("top result type = %q, want the law above the guide", first[0].Record.Type)
	}
	for _, c := range first {
		if c.Adjusted == 0 {
			t.Error("adjusted score was not populated")
		}
	}

	second, err := retrieval.Retrieve(context.Background(), q)
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("result counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Record.ContentHash != second[i].Record.ContentHash {
			t.Errorf("results differ at %d between identical queries", i)
		}
	}
}

// capturingStore records the topK the retriever actually requests.
type capturingStore struct {
	*store.Local
	topK int
}

func (c *capturingStore) Query(ctx context.Context, vector []float32, topK int, types []schema.SourceType) ([]*schema.ScoredChunk, error) {
	c.topK = topK
	return c.Local.Query(ctx, vector, topK, types)
}

func TestRetrieval_ClampsRequestedLimit(t *testing.T) {
	s := newTestStore(t)
	emb := &fakeEmbedder{}
	indexCorpus(t, s, emb)

	cs := &capturingStore{Local: s}
	retrieval := NewRetrieval(emb, cs, rerankers.NewHierarchy(0.05), 5, 4, logger.New("pipeline-test"))

	results, err := retrieval.Retrieve(context.Background(), &schema.Query{Text: "artículo 131", Limit: 100000})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(results) > MaxLimit {
		t.Errorf("got %d results, want at most %d", len(results), MaxLimit)
	}
	if cs.topK != 4*MaxLimit {
		t.Errorf("candidate fetch topK = %d, want %d", cs.topK, 4*MaxLimit)
	}
}

func TestRetrieval_EmptyIndexReturnsEmpty(t *testing.T) {
	s := newTestStore(t)
	emb := &fakeEmbedder{}
	retrieval := NewRetrieval(emb, s, rerankers.NewHierarchy(0.05), 5, 4, logger.New("pipeline-test"))

	results, err := retrieval.Retrieve(context.Background(), &schema.Query{Text: "velocidad"})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("empty index returned %d results", len(results))
	}
}

func TestQA_AskGeneratesGroundedAnswer(t *testing.T) {
	s := newTestStore(t)
	emb := &fakeEmbedder{}
	indexCorpus(t, s, emb)

	llm := &fakeLLM{}
	retrieval := NewRetrieval(emb, s, rerankers.NewHierarchy(0.05), 5, 4, logger.New("pipeline-test"))
	qa := NewQA(retrieval, llm, 0, logger.New("pipeline-test"))

	answer, err := qa.Ask(context.Background(), &schema.Query{Text: "¿qué dice el artículo 131?"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if !answer.Grounded {
		t.Fatal("answer is not grounded despite retrieved context")
	}
	if llm.calls != 1 {
		t.Fatalf("llm called %d times", llm.calls)
	}
	if !strings.Contains(llm.lastUser, "Fragmento 1") {
		t.Error("user prompt has no context fragments")
	}
	if !strings.Contains(llm.lastUser, "¿qué dice el artículo 131?") {
		t.Error("user prompt does not contain the question")
	}
	if !strings.Contains(llm.lastSystem, "ÚNICAMENTE") {
		t.Error("system prompt does not pin answers to the context")
	}
	if len(answer.Citations) == 0 {
		t.Fatal("grounded answer has no citations")
	}
	for _, c := range answer.Citations {
		if c.Label == "" {
			t.Error("citation with empty label")
		}
	}
}

func TestQA_RetriesTransientModelFailure(t *testing.T) {
	s := newTestStore(t)
	emb := &fakeEmbedder{}
	indexCorpus(t, s, emb)

	llm := &fakeLLM{failures: 1}
	retrieval := NewRetrieval(emb, s, rerankers.NewHierarchy(0.05), 5, 4, logger.New("pipeline-test"))
	qa := NewQA(retrieval, llm, 0, logger.New("pipeline-test"))

	answer, err := qa.Ask(context.Background(), &schema.Query{Text: "¿qué dice el artículo 131?"})
	if err != nil {
		t.Fatalf("Ask() error = %v, want recovery after one transient failure", err)
	}
	if llm.calls != 2 {
		t.Errorf("llm called %d times, want a retry after the failure", llm.calls)
	}
	if !answer.Grounded {
		t.Error("recovered answer is not grounded")
	}
}

func TestQA_FallbackWithoutModelCall(t *testing.T) {
	s := newTestStore(t)
	emb := &fakeEmbedder{}
	llm := &fakeLLM{}
	retrieval := NewRetrieval(emb, s, rerankers.NewHierarchy(0.05), 5, 4, logger.New("pipeline-test"))
	qa := NewQA(retrieval, llm, 0, logger.New("pipeline-test"))

	answer, err := qa.Ask(context.Background(), &schema.Query{Text: "pregunta sin corpus"})
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if answer.Grounded {
		t.Error("fallback answer marked as grounded")
	}
	if answer.Text != FallbackAnswer {
		t.Errorf("fallback text = %q", answer.Text)
	}
	if llm.calls != 0 {
		t.Errorf("fallback still called the model %d times", llm.calls)
	}
	if len(answer.Citations) != 0 {
		t.Error("fallback answer carries citations")
	}
}

func TestComposeContext_RespectsBudget(t *testing.T) {
	big := func(hash, text string, score float64) *schema.ScoredChunk {
		return &schema.ScoredChunk{
			Record: &schema.IndexRecord{
				ContentHash: hash,
				Text:        text,
				SourceIDs:   []string{"codigo_transito"},
				Type:        schema.SourceLaw,
				Rank:        schema.SourceLaw.Rank(),
			},
			Score: score,
		}
	}
	chunks := []*schema.ScoredChunk{
		big("a", strings.Repeat("x", 900), 0.9),
		big("b", strings.Repeat("y", 900), 0.8),
		big("c", strings.Repeat("z", 900), 0.7),
	}

	text, used := ComposeContext(chunks, 2200)
	if len(used) != 2 {
		t.Fatalf("budget admitted %d chunks, want 2", len(used))
	}
	if !strings.Contains(text, "xxx") || !strings.Contains(text, "yyy") {
		t.Error("context is missing admitted chunks")
	}
	if strings.Contains(text, "zzz") {
		t.Error("context contains a chunk beyond the budget")
	}

	// The top chunk is included even when it alone blows the budget.
	_, used = ComposeContext(chunks, 10)
	if len(used) != 1 || used[0].Record.ContentHash != "a" {
		t.Errorf("tiny budget kept %d chunks", len(used))
	}
}

func TestCitations_DedupAndOrder(t *testing.T) {
	law := &schema.ScoredChunk{Record: &schema.IndexRecord{
		ContentHash: "l1", Type: schema.SourceLaw, Rank: 2,
		SourceIDs: []string{"codigo_transito"},
		Labels:    schema.Labels{Article: "Artículo 131"},
	}}
	lawDup := &schema.ScoredChunk{Record: &schema.IndexRecord{
		ContentHash: "l2", Type: schema.SourceLaw, Rank: 2,
		SourceIDs: []string{"codigo_transito"},
		Labels:    schema.Labels{Article: "Artículo 131"},
	}}
	guide := &schema.ScoredChunk{Record: &schema.IndexRecord{
		ContentHash: "g1", Type: schema.SourceGuide, Rank: 7,
		SourceIDs: []string{"senorbiter"},
	}}

	// Guide first by adjusted order, but the law must lead the citations.
	citations := Citations([]*schema.ScoredChunk{guide, law, lawDup})
	if len(citations) != 2 {
		t.Fatalf("got %d citations, want 2 after dedup", len(citations))
	}
	if citations[0].Type != schema.SourceLaw {
		t.Errorf("first citation type = %q, want the law", citations[0].Type)
	}
	if !strings.Contains(citations[0].Label, "Artículo 131") {
		t.Errorf("law citation label = %q", citations[0].Label)
	}

	rendered := RenderCitations(citations)
	if !strings.HasPrefix(rendered, "Fuentes:") {
		t.Errorf("rendered citations = %q", rendered)
	}
	if RenderCitations(nil) != "" {
		t.Error("empty citations rendered non-empty output")
	}
}
