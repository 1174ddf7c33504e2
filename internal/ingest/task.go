// Package ingest provides the asynchronous ingestion queue: ingest
// tasks published to Kafka and a consumer that feeds them through the
// indexing pipeline.
package ingest

// Task asks the consumer to (re)index one corpus document.
type Task struct {
	SourceID string `json:"source_id"`
	Path     string `json:"path"`
	Force    bool   `json:"force"` // re-embed even when the fingerprint is unchanged
}
