package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"

	"github.com/hashednetwork/transito-hp/internal/analytics"
	"github.com/hashednetwork/transito-hp/internal/api"
	"github.com/hashednetwork/transito-hp/internal/config"
	"github.com/hashednetwork/transito-hp/internal/embedding"
	"github.com/hashednetwork/transito-hp/internal/ingest"
	"github.com/hashednetwork/transito-hp/internal/llm"
	"github.com/hashednetwork/transito-hp/internal/rag/chunker"
	"github.com/hashednetwork/transito-hp/internal/rag/interfaces"
	"github.com/hashednetwork/transito-hp/internal/rag/pipeline"
	"github.com/hashednetwork/transito-hp/internal/rag/rerankers"
	"github.com/hashednetwork/transito-hp/internal/rag/store"
	"github.com/hashednetwork/transito-hp/internal/service"
	"github.com/hashednetwork/transito-hp/pkg/logger"
	"github.com/hashednetwork/transito-hp/pkg/ratelimiter"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	logger.Init(cfg.Logger.Level)
	log := logger.New(cfg.App.Name)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	embedder, err := embedding.New(&cfg.Embedding)
	if err != nil {
		log.WithError(err).Fatal("failed to create embedding provider")
	}
	generator, err := llm.New(&cfg.LLM)
	if err != nil {
		log.WithError(err).Fatal("failed to create llm provider")
	}

	vectorStore, err := openStore(ctx, cfg, embedder.Model(), log)
	if err != nil {
		// A model mismatch aborts startup: querying across embedding
		// spaces would silently return garbage.
		log.WithError(err).Fatal("failed to open vector store")
	}
	defer vectorStore.Close()

	splitter := chunker.New(chunker.Config{
		TargetSize: cfg.Chunking.TargetSize,
		Overlap:    cfg.Chunking.Overlap,
		Margin:     cfg.Chunking.Margin,
	})

	var rerankOpts []rerankers.Option
	if cfg.Retrieval.RecencyWeight > 0 {
		rerankOpts = append(rerankOpts, rerankers.WithRecency(cfg.Retrieval.RecencyWeight))
	}
	reranker := rerankers.NewHierarchy(cfg.Retrieval.HierarchyBoost, rerankOpts...)

	indexing := pipeline.NewIndexing(splitter, embedder, vectorStore, cfg.Ingest.Concurrency, log)
	retrieval := pipeline.NewRetrieval(embedder, vectorStore, reranker, cfg.Retrieval.Limit, cfg.Retrieval.Headroom, log)
	qa := pipeline.NewQA(retrieval, generator, cfg.Retrieval.ContextBudget, log)

	var quota *ratelimiter.DailyQuota
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).Fatal("failed to connect to redis")
		}
		defer rdb.Close()
		quota = ratelimiter.NewDailyQuota(rdb, cfg.Quota.DailyLimit, cfg.Quota.AdminIDs)
	}

	var analyticsStore *analytics.Store
	if cfg.MySQL.Enabled {
		analyticsStore, err = analytics.NewStore(&cfg.MySQL, log)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to analytics store")
		}
	}

	var publisher *ingest.Publisher
	if cfg.Kafka.Enabled {
		publisher = ingest.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		defer publisher.Close()
	}

	svc := service.New(cfg, indexing, qa, vectorStore, quota, analyticsStore, publisher, log)

	if cfg.Kafka.Enabled {
		consumer := ingest.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID, log)
		defer consumer.Close()
		consumer.Start(ctx, func(ctx context.Context, task *ingest.Task) error {
			_, err := svc.Ingest(ctx, task)
			return err
		})
	}

	// Index the configured corpus in the background; unchanged
	// documents are skipped by fingerprint, so restarts are cheap.
	if len(cfg.Ingest.Documents) > 0 {
		go func() {
			if _, err := svc.Reindex(ctx, false); err != nil {
				log.WithError(err).Error("startup reindex incomplete")
			}
		}()
	}

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery(), api.RequestIDMiddleware())
	if cfg.Server.RateLimit.Enabled {
		bucket := ratelimiter.NewTokenBucket(cfg.Server.RateLimit.Rate, cfg.Server.RateLimit.Capacity)
		router.Use(api.RateLimitMiddleware(bucket))
	}
	api.RegisterRoutes(router, api.NewAPI(svc, log))

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("forced shutdown")
	}
}

func openStore(ctx context.Context, cfg *config.AppConfig, embedModel string, log *logger.Logger) (interfaces.VectorStore, error) {
	switch cfg.Store.Backend {
	case "local":
		return store.OpenLocal(cfg.Store.Path, embedModel, log)
	case "milvus":
		return store.OpenMilvus(ctx, cfg.Store.Milvus.Address, cfg.Store.Milvus.Collection,
			cfg.Embedding.Dimensions, embedModel, log)
	default:
		return nil, fmt.Errorf("unsupported store backend: %q", cfg.Store.Backend)
	}
}
