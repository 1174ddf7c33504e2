// Package service orchestrates the engine: question answering with
// quota and analytics, document ingestion, corpus reindexing and usage
// stats. The HTTP layer and the queue consumer both call into it.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashednetwork/transito-hp/internal/analytics"
	"github.com/hashednetwork/transito-hp/internal/config"
	"github.com/hashednetwork/transito-hp/internal/corpus"
	"github.com/hashednetwork/transito-hp/internal/ingest"
	"github.com/hashednetwork/transito-hp/internal/rag/interfaces"
	"github.com/hashednetwork/transito-hp/internal/rag/loaders"
	"github.com/hashednetwork/transito-hp/internal/rag/pipeline"
	"github.com/hashednetwork/transito-hp/internal/rag/schema"
	"github.com/hashednetwork/transito-hp/pkg/logger"
	"github.com/hashednetwork/transito-hp/pkg/ratelimiter"
)

// ErrQuotaExceeded is returned when a user runs out of daily questions.
var ErrQuotaExceeded = errors.New("daily question quota exceeded")

// Service wires the pipelines to the optional infrastructure. Quota,
// analytics and the ingest queue are nil when disabled in the config;
// the core engine works without them.
type Service struct {
	cfg       *config.AppConfig
	indexing  *pipeline.IndexingPipeline
	qa        *pipeline.QAPipeline
	store     interfaces.VectorStore
	quota     *ratelimiter.DailyQuota
	analytics *analytics.Store
	publisher *ingest.Publisher
	log       *logger.Logger
}

// New creates the Service.
func New(cfg *config.AppConfig, indexing *pipeline.IndexingPipeline, qa *pipeline.QAPipeline, store interfaces.VectorStore, quota *ratelimiter.DailyQuota, analyticsStore *analytics.Store, publisher *ingest.Publisher, log *logger.Logger) *Service {
	return &Service{
		cfg:       cfg,
		indexing:  indexing,
		qa:        qa,
		store:     store,
		quota:     quota,
		analytics: analyticsStore,
		publisher: publisher,
		log:       log,
	}
}

// AskRequest is one user question with optional retrieval constraints.
type AskRequest struct {
	UserID      string
	Username    string
	Question    string
	SourceTypes []string
	Limit       int
}

// AskResponse carries the answer, its citations and the remaining
// daily quota.
type AskResponse struct {
	Answer         *pipeline.Answer
	QuotaRemaining int
}

// Ask answers one question end to end: quota check, retrieval,
// generation, analytics.
func (s *Service) Ask(ctx context.Context, req *AskRequest) (*AskResponse, error) {
	remaining := -1
	if s.quota != nil {
		ok, rem, err := s.quota.Allow(ctx, req.UserID)
		if err != nil {
			// A quota outage must not silence the assistant.
			s.log.WithField("user_id", req.UserID).WithError(err).Warn("quota check failed, allowing request")
		} else if !ok {
			return nil, ErrQuotaExceeded
		} else {
			remaining = rem
		}
	}

	types := make([]schema.SourceType, 0, len(req.SourceTypes))
	for _, raw := range req.SourceTypes {
		t, err := schema.ParseSourceType(raw)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}

	start := time.Now()
	answer, err := s.qa.Ask(ctx, &schema.Query{
		Text:        req.Question,
		SourceTypes: types,
		Limit:       req.Limit,
	})
	if err != nil {
		return nil, err
	}

	if s.analytics != nil {
		s.analytics.TrackQuery(ctx, req.UserID, req.Username, req.Question,
			answer.Grounded, len(answer.Chunks), time.Since(start))
	}
	return &AskResponse{Answer: answer, QuotaRemaining: remaining}, nil
}

// Ingest loads and indexes one corpus document.
func (s *Service) Ingest(ctx context.Context, task *ingest.Task) (*pipeline.IndexReport, error) {
	info, err := corpus.Lookup(task.SourceID)
	if err != nil {
		return nil, err
	}

	doc, err := loaders.ForPath(task.Path).Load(ctx, task.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", task.SourceID, err)
	}
	doc.SourceID = task.SourceID
	doc.Title = info.Name
	doc.Type = info.Type
	doc.EffectiveDate = info.EffectiveDate()

	return s.indexing.Index(ctx, doc, task.Force)
}

// Reindex walks the configured corpus. With the ingest queue enabled
// the documents are enqueued for the consumer; otherwise they are
// indexed inline. Unchanged documents are skipped unless force is set.
func (s *Service) Reindex(ctx context.Context, force bool) ([]*pipeline.IndexReport, error) {
	var reports []*pipeline.IndexReport
	var failed []string

	for _, doc := range s.cfg.Ingest.Documents {
		task := &ingest.Task{SourceID: doc.SourceID, Path: doc.Path, Force: force}

		if s.publisher != nil {
			if err := s.publisher.Publish(ctx, task); err != nil {
				failed = append(failed, doc.SourceID)
			}
			continue
		}

		report, err := s.Ingest(ctx, task)
		if err != nil {
			s.log.WithField("source_id", doc.SourceID).WithError(err).Error("failed to ingest document")
			failed = append(failed, doc.SourceID)
		}
		if report != nil {
			reports = append(reports, report)
		}
	}

	if len(failed) > 0 {
		return reports, fmt.Errorf("reindex incomplete, failed sources: %v", failed)
	}
	return reports, nil
}

// StatsResponse aggregates index and usage statistics.
type StatsResponse struct {
	ChunksBySource map[string]int   `json:"chunks_by_source"`
	TotalChunks    int              `json:"total_chunks"`
	Usage          *analytics.Stats `json:"usage,omitempty"`
}

// Stats reports the current index contents and, when analytics is
// enabled, usage counters.
func (s *Service) Stats(ctx context.Context) (*StatsResponse, error) {
	bySource, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read index stats: %w", err)
	}

	total := 0
	for _, n := range bySource {
		total += n
	}
	resp := &StatsResponse{ChunksBySource: bySource, TotalChunks: total}

	if s.analytics != nil {
		usage, err := s.analytics.Aggregate(ctx)
		if err != nil {
			s.log.WithError(err).Warn("failed to aggregate usage stats")
		} else {
			resp.Usage = usage
		}
	}
	return resp, nil
}
