package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashednetwork/transito-hp/internal/corpus"
	"github.com/hashednetwork/transito-hp/internal/rag/interfaces"
	"github.com/hashednetwork/transito-hp/internal/rag/schema"
	"github.com/hashednetwork/transito-hp/pkg/logger"
	"github.com/hashednetwork/transito-hp/pkg/retry"
)

// SystemPrompt instructs the model to answer only from the provided
// context, in Spanish, citing articles when possible.
const SystemPrompt = `Eres un asistente legal especializado en normativa de tránsito de Colombia, incluyendo:
- Ley 769 de 2002 (Código Nacional de Tránsito Terrestre) y sus modificaciones
- Decreto 2106 de 2019 (Simplificación de trámites - incluye artículos sobre transporte, fotomultas, licencias y multas)

Tu rol es:
- Responder preguntas basándote ÚNICAMENTE en los artículos proporcionados en el contexto
- Citar los artículos y la ley/decreto específicos cuando sea posible (ejemplo: "Según el Artículo 131 de la Ley 769..." o "Según el Artículo 111 del Decreto 2106...")
- Responder siempre en español
- Si la información no está en el contexto proporcionado, indicar que no tienes esa información específica
- Ser preciso y conciso en tus respuestas
- No inventar información que no esté en los artículos proporcionados
- Informar a los conductores sobre sus derechos, especialmente cuando las autoridades no pueden exigir documentos físicos si pueden consultarlos digitalmente (RUNT)`

// FallbackAnswer is returned without calling the model when retrieval
// produced no grounding at all.
const FallbackAnswer = "No encontré artículos o normas relevantes para tu pregunta en la base de datos. " +
	"Intenta reformularla o pregunta sobre normas de tránsito, multas, licencias o trámites."

// DefaultContextBudget caps the composed context length in bytes.
const DefaultContextBudget = 6000

const generateTimeout = 120 * time.Second

// Answer is a grounded response: the generated text, the citations of
// every source actually present in the composed context, and the chunks
// the answer was grounded on.
type Answer struct {
	Text      string                `json:"text"`
	Citations []schema.Citation     `json:"citations"`
	Grounded  bool                  `json:"grounded"`
	Chunks    []*schema.ScoredChunk `json:"-"`
}

// QAPipeline composes retrieved chunks into a prompt, generates the
// answer and attaches citations.
type QAPipeline struct {
	retrieval     *RetrievalPipeline
	llm           interfaces.LLM
	contextBudget int
	retry         retry.Policy
	log           *logger.Logger
}

// NewQA creates a QAPipeline.
func NewQA(retrieval *RetrievalPipeline, llm interfaces.LLM, contextBudget int, log *logger.Logger) *QAPipeline {
	if contextBudget <= 0 {
		contextBudget = DefaultContextBudget
	}
	return &QAPipeline{
		retrieval:     retrieval,
		llm:           llm,
		contextBudget: contextBudget,
		retry:         retry.DefaultPolicy,
		log:           log,
	}
}

// Ask retrieves grounding for the question and generates an answer.
// With no retrieved chunks the fallback is returned directly, without
// a model call.
func (p *QAPipeline) Ask(ctx context.Context, q *schema.Query) (*Answer, error) {
	chunks, err := p.retrieval.Retrieve(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return &Answer{Text: FallbackAnswer, Grounded: false}, nil
	}

	contextText, used := ComposeContext(chunks, p.contextBudget)

	userPrompt := fmt.Sprintf("Contexto del Código de Tránsito:\n\n%s\n\n---\n\nPregunta del usuario: %s", contextText, q.Text)

	gctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	var text string
	err = retry.Do(gctx, p.retry, func(ctx context.Context) error {
		var genErr error
		text, genErr = p.llm.Generate(ctx, SystemPrompt, userPrompt)
		return genErr
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	return &Answer{
		Text:      text,
		Citations: Citations(used),
		Grounded:  true,
		Chunks:    used,
	}, nil
}

// ComposeContext renders ranked chunks into the context block, cutting
// off at the byte budget. The top chunk is always included even when it
// alone exceeds the budget; dropping the best grounding to satisfy a
// size limit would invert the ranking. Returns the rendered context and
// the chunks actually included.
func ComposeContext(chunks []*schema.ScoredChunk, budget int) (string, []*schema.ScoredChunk) {
	var sb strings.Builder
	var used []*schema.ScoredChunk

	for i, c := range chunks {
		fragment := renderFragment(i+1, c)
		if i > 0 && sb.Len()+len(fragment)+2 > budget {
			break
		}
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(fragment)
		used = append(used, c)
	}
	return sb.String(), used
}

// renderFragment formats one chunk with its provenance header so the
// model can quote the exact source.
func renderFragment(n int, c *schema.ScoredChunk) string {
	name := sourceName(c.Record)
	header := fmt.Sprintf("--- Fragmento %d (Relevancia: %d%%) ---", n, int(c.Score*100))

	ref := name
	if label := c.Record.Labels.Display(); label != "" {
		ref = fmt.Sprintf("[%s · %s]", name, label)
	} else {
		ref = fmt.Sprintf("[%s]", name)
	}
	return fmt.Sprintf("%s\n%s\n\n%s", header, ref, c.Record.Text)
}

// sourceName resolves the display name of a record's primary source.
// Shared passages cite their most authoritative owner, which Upsert
// keeps first in rank order via the record metadata.
func sourceName(rec *schema.IndexRecord) string {
	if len(rec.SourceIDs) == 0 {
		return string(rec.Type)
	}
	for _, id := range rec.SourceIDs {
		if info, err := corpus.Lookup(id); err == nil && info.Type == rec.Type {
			return info.Name
		}
	}
	return corpus.DisplayName(rec.SourceIDs[0])
}
