package llm

import (
	"fmt"

	"github.com/hashednetwork/transito-hp/internal/config"
	"github.com/hashednetwork/transito-hp/internal/rag/interfaces"
)

// New creates the answer-generation provider selected in the
// configuration.
func New(cfg *config.LLMConfig) (interfaces.LLM, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model, cfg.Temperature, cfg.MaxTokens)
	case "ollama":
		return NewOllama(cfg.Ollama.Model, cfg.Ollama.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %q", cfg.Provider)
	}
}
