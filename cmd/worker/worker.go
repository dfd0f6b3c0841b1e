package main

import (
	"context"
	"log"
	"time"

	"rag-chatbot-platform/internal/ai"
	"rag-chatbot-platform/internal/config"
	"rag-chatbot-platform/internal/extract"
	"rag-chatbot-platform/internal/logger"
	"rag-chatbot-platform/internal/queue"
	"rag-chatbot-platform/internal/store"
	"rag-chatbot-platform/services"

	"github.com/hibiken/asynq"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger.InitLogger(cfg)

	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx) //nolint:errcheck
	}()
	db := mongoClient.Database(cfg.DBName)

	embedder, err := ai.NewEmbeddingClient(context.Background(), cfg)
	if err != nil {
		log.Fatal("Failed to init embedding client:", err)
	}
	defer embedder.Close()

	docs := store.NewDocumentStore(db)
	scrapes := store.NewScrapeJobStore(db)

	chunker := services.NewChunker(cfg.MaxChunkSize, cfg.ChunkOverlap, cfg.MinChunkSize)
	crawler := extract.NewCrawler(extract.NewRenderer(cfg.ScrapeTimeout))
	ingest := services.NewIngestService(docs, chunker, embedder, crawler, scrapes, cfg.EmbedBatchSize)

	// Stuck-document reaping runs here rather than in the API process so a
	// single instance owns the sweep.
	sweeper := services.NewSweeper(docs, cfg.SweepInterval, cfg.ProcessingDeadline)
	if err := sweeper.Start(); err != nil {
		log.Fatal("Failed to start sweeper:", err)
	}
	defer sweeper.Stop()

	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		asynq.Config{
			Concurrency: cfg.WorkerConcurrency,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
			StrictPriority: true,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("Task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	processor := queue.NewTaskProcessor(docs, scrapes, ingest)
	mux := asynq.NewServeMux()
	processor.Register(mux)

	logger.Info("Worker starting",
		"concurrency", cfg.WorkerConcurrency,
		"redis", cfg.RedisURL)

	// Run blocks until SIGINT/SIGTERM and drains in-flight tasks.
	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
