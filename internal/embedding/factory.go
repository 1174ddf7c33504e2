package embedding

import (
	"fmt"

	"github.com/hashednetwork/transito-hp/internal/config"
	"github.com/hashednetwork/transito-hp/internal/rag/interfaces"
)

// New creates the embedding provider selected in the configuration.
func New(cfg *config.EmbeddingConfig) (interfaces.EmbeddingModel, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIModel(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model)
	case "ollama":
		return NewOllamaModel(cfg.Ollama.Model, cfg.Ollama.BaseURL)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Provider)
	}
}
