package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AppInfo holds basic information about the application.
type AppInfo struct {
	Name        string `yaml:"name"`        // application name
	Environment string `yaml:"environment"` // "development" or "production"
}

// RateLimitConfig tunes the request rate limiter of the HTTP server.
type RateLimitConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Rate     float64 `yaml:"rate"`     // tokens per second
	Capacity int     `yaml:"capacity"` // burst size
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Port      string          `yaml:"port"` // listen port, e.g. "8080"
	Mode      string          `yaml:"mode"` // gin mode: "debug" or "release"
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

// LoggerConfig holds the logger settings.
type LoggerConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}

// OpenAIConfig holds credentials and model names for the OpenAI API.
type OpenAIConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseURL"` // optional, for API-compatible gateways
	Model   string `yaml:"model"`
}

// OllamaConfig holds the settings for a local Ollama server.
type OllamaConfig struct {
	BaseURL string `yaml:"baseURL"` // defaults to http://localhost:11434
	Model   string `yaml:"model"`
}

// EmbeddingConfig selects and configures the embedding provider.
// The same provider must be used for indexing and querying; the store
// records the model identifier and refuses to open with a different one.
type EmbeddingConfig struct {
	Provider   string       `yaml:"provider"` // "openai" or "ollama"
	Dimensions int          `yaml:"dimensions"`
	OpenAI     OpenAIConfig `yaml:"openai"`
	Ollama     OllamaConfig `yaml:"ollama"`
}

// LLMConfig selects and configures the answer-generation provider.
type LLMConfig struct {
	Provider    string       `yaml:"provider"` // "openai" or "ollama"
	Temperature float32      `yaml:"temperature"`
	MaxTokens   int          `yaml:"maxTokens"`
	OpenAI      OpenAIConfig `yaml:"openai"`
	Ollama      OllamaConfig `yaml:"ollama"`
}

// MilvusConfig holds the connection settings for a Milvus deployment.
type MilvusConfig struct {
	Address    string `yaml:"address"`
	Collection string `yaml:"collection"`
}

// StoreConfig selects the vector store backend.
type StoreConfig struct {
	Backend string       `yaml:"backend"` // "local" or "milvus"
	Path    string       `yaml:"path"`    // directory for the local backend
	Milvus  MilvusConfig `yaml:"milvus"`
}

// RetrievalConfig tunes the retriever and ranker.
type RetrievalConfig struct {
	Limit          int     `yaml:"limit"`          // final result count, default 5
	Headroom       int     `yaml:"headroom"`       // raw candidates fetched = headroom * limit
	HierarchyBoost float64 `yaml:"hierarchyBoost"` // per-rank multiplicative boost, default 0.05
	RecencyWeight  float64 `yaml:"recencyWeight"`  // additive weight for newer sources, default 0
	ContextBudget  int     `yaml:"contextBudget"`  // character budget for the composed context
}

// ChunkingConfig tunes the document chunker.
type ChunkingConfig struct {
	TargetSize int `yaml:"targetSize"` // target chunk length in characters, default 800
	Overlap    int `yaml:"overlap"`    // overlap carried between chunks, default 150
	Margin     int `yaml:"margin"`     // boundary search window around the target
}

// CorpusDocument maps a file on disk to a registered source.
type CorpusDocument struct {
	Path     string `yaml:"path"`
	SourceID string `yaml:"sourceID"`
}

// IngestConfig lists the corpus documents indexed at startup.
type IngestConfig struct {
	Documents   []CorpusDocument `yaml:"documents"`
	Concurrency int              `yaml:"concurrency"` // parallel embedding calls, default 4
}

// KafkaConfig holds the ingest task queue settings.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"groupID"`
}

// MySQLConfig holds the analytics database settings.
type MySQLConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// RedisConfig holds the quota counter settings.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// QuotaConfig limits how many questions a user may ask per day.
type QuotaConfig struct {
	DailyLimit int      `yaml:"dailyLimit"` // default 10
	AdminIDs   []string `yaml:"adminIDs"`   // exempt users
}

// AppConfig is the root of the YAML configuration file.
type AppConfig struct {
	App       AppInfo         `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Logger    LoggerConfig    `yaml:"logger"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Store     StoreConfig     `yaml:"store"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Quota     QuotaConfig     `yaml:"quota"`
}

// LoadConfig reads and parses the YAML configuration file at path and
// applies defaults for unset tunables.
func LoadConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *AppConfig) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Retrieval.Limit <= 0 {
		c.Retrieval.Limit = 5
	}
	if c.Retrieval.Headroom <= 0 {
		c.Retrieval.Headroom = 4
	}
	if c.Retrieval.HierarchyBoost == 0 {
		c.Retrieval.HierarchyBoost = 0.05
	}
	if c.Retrieval.ContextBudget <= 0 {
		c.Retrieval.ContextBudget = 6000
	}
	if c.Chunking.TargetSize <= 0 {
		c.Chunking.TargetSize = 800
	}
	if c.Chunking.Overlap <= 0 {
		c.Chunking.Overlap = 150
	}
	if c.Chunking.Margin <= 0 {
		c.Chunking.Margin = 200
	}
	if c.Ingest.Concurrency <= 0 {
		c.Ingest.Concurrency = 4
	}
	if c.Quota.DailyLimit <= 0 {
		c.Quota.DailyLimit = 10
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "local"
	}
	if c.Store.Path == "" {
		c.Store.Path = "./index"
	}
}
