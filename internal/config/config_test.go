package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  name: "transito-hp"
embedding:
  provider: "openai"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("Server.Port = %q", cfg.Server.Port)
	}
	if cfg.Retrieval.Limit != 5 || cfg.Retrieval.Headroom != 4 {
		t.Errorf("retrieval defaults = %+v", cfg.Retrieval)
	}
	if cfg.Retrieval.HierarchyBoost != 0.05 {
		t.Errorf("HierarchyBoost = %f", cfg.Retrieval.HierarchyBoost)
	}
	if cfg.Chunking.TargetSize != 800 || cfg.Chunking.Overlap != 150 || cfg.Chunking.Margin != 200 {
		t.Errorf("chunking defaults = %+v", cfg.Chunking)
	}
	if cfg.Quota.DailyLimit != 10 {
		t.Errorf("Quota.DailyLimit = %d", cfg.Quota.DailyLimit)
	}
	if cfg.Store.Backend != "local" {
		t.Errorf("Store.Backend = %q", cfg.Store.Backend)
	}
}

func TestLoadConfig_ReadsValues(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
retrieval:
  limit: 8
  hierarchyBoost: 0.1
ingest:
  documents:
    - { sourceID: "codigo_transito", path: "data/ley_769.txt" }
kafka:
  enabled: true
  brokers: ["localhost:9092"]
  topic: "ingest-tasks"
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %q", cfg.Server.Port)
	}
	if cfg.Retrieval.Limit != 8 || cfg.Retrieval.HierarchyBoost != 0.1 {
		t.Errorf("retrieval = %+v", cfg.Retrieval)
	}
	if len(cfg.Ingest.Documents) != 1 || cfg.Ingest.Documents[0].SourceID != "codigo_transito" {
		t.Errorf("ingest documents = %+v", cfg.Ingest.Documents)
	}
	if !cfg.Kafka.Enabled || cfg.Kafka.Topic != "ingest-tasks" {
		t.Errorf("kafka = %+v", cfg.Kafka)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadConfig() succeeded for a missing file")
	}
}
