package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/echoform/transcribe-chat-back/internal/ai"
	"github.com/echoform/transcribe-chat-back/internal/cache"
	"github.com/echoform/transcribe-chat-back/internal/chunk"
	"github.com/echoform/transcribe-chat-back/internal/config"
	httpserver "github.com/echoform/transcribe-chat-back/internal/http"
	"github.com/echoform/transcribe-chat-back/internal/http/handlers"
	"github.com/echoform/transcribe-chat-back/internal/index"
	"github.com/echoform/transcribe-chat-back/internal/jobs"
	"github.com/echoform/transcribe-chat-back/internal/knowledge"
	"github.com/echoform/transcribe-chat-back/internal/queue"
	"github.com/echoform/transcribe-chat-back/internal/repository"
	"github.com/echoform/transcribe-chat-back/internal/service"
	"github.com/echoform/transcribe-chat-back/internal/storage"
	"github.com/echoform/transcribe-chat-back/internal/worker"
)

func main() {
	logger := log.New(os.Stdout, "[transcribe-back] ", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	if err := config.LoadDotEnv(".env", ".env.local"); err != nil {
		logger.Printf("failed loading .env files: %v", err)
	}
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := setupPool(ctx, cfg, logger)
	if pool != nil {
		defer pool.Close()
	}

	repo := setupRepository(ctx, pool, logger)
	producer, consumer, queueCloser := setupQueue(ctx, cfg, logger)
	defer queueCloser()

	blobs := setupBlobStore(cfg, logger)

	aiClient := ai.NewClient(ai.ClientConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Timeout: cfg.OpenAITimeout,
	})
	transcriber := ai.NewWhisperTranscriber(aiClient, cfg.TranscribeModel, cfg.OpenAIAPIKey)
	embedder := ai.NewOpenAIEmbedder(aiClient, cfg.EmbedModel, cfg.OpenAIAPIKey)
	generator := ai.NewChatGenerator(aiClient, cfg.ChatModel, cfg.OpenAIAPIKey)

	chunker, err := chunk.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		logger.Fatalf("invalid chunking configuration: %v", err)
	}

	kb := knowledge.NewService(
		knowledge.Config{TopK: cfg.TopK, PreviewChars: cfg.PreviewChars},
		chunker,
		embedder,
		setupIndexFactory(ctx, cfg, pool, logger),
		logger,
	)

	registry := jobs.NewRegistry(cfg.JobTimeout, cfg.SubscriberBuffer, logger)
	answers := cache.NewAnswerCache(cache.Config{
		TTL:        cfg.AnswerCacheTTL,
		MaxEntries: cfg.AnswerCacheMaxEntries,
	})

	transcriptions := service.NewTranscriptionsService(
		registry, repo, producer, blobs, generator, cfg.OpenAITimeout, logger,
	)
	chat := service.NewChatService(transcriptions, kb, generator, answers, cfg.ChatModel, logger)

	api := handlers.NewAPI(transcriptions, chat, handlers.Config{
		StreamIdleTimeout: cfg.StreamIdleTimeout,
	})
	handler := httpserver.NewRouter(httpserver.RouterDependencies{
		API:            api,
		Logger:         logger,
		AuthToken:      cfg.AuthToken,
		CORSOrigins:    cfg.CORSAllowedOrigins,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})

	if cfg.WorkerEnabled {
		processor := worker.NewProcessor(
			consumer, registry, repo, blobs, transcriber, kb, cfg.JobTimeout, logger,
		)
		go processor.Start(ctx)
		logger.Printf("worker enabled and started")
	} else {
		logger.Printf("worker disabled by configuration")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("api listening on :%s", cfg.Port)
		errChan <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
}

func setupPool(ctx context.Context, cfg config.Config, logger *log.Logger) *pgxpool.Pool {
	if cfg.DatabaseURL == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Printf("failed to create pg pool: %v", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Printf("failed to ping postgres: %v", err)
		pool.Close()
		return nil
	}
	return pool
}

func setupRepository(ctx context.Context, pool *pgxpool.Pool, logger *log.Logger) repository.JobsRepository {
	if pool == nil {
		logger.Printf("DATABASE_URL not configured, using in-memory repository")
		return repository.NewMemoryJobsRepository()
	}

	pgRepo, err := repository.NewPostgresJobsRepository(ctx, pool)
	if err != nil {
		logger.Printf("failed to initialize postgres repository, fallback to memory: %v", err)
		return repository.NewMemoryJobsRepository()
	}
	logger.Printf("postgres repository initialized")
	return pgRepo
}

func setupQueue(
	ctx context.Context,
	cfg config.Config,
	logger *log.Logger,
) (queue.Producer, queue.Consumer, func()) {
	if cfg.RedisAddr == "" {
		logger.Printf("REDIS_ADDR not configured, using local queue fallback")
		local := queue.NewLocalQueue(512, 3, logger)
		return local, local, func() {}
	}

	streams, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		Stream:      cfg.RedisStream,
		DLQStream:   cfg.RedisDLQ,
		Group:       cfg.RedisGroup,
		Consumer:    cfg.RedisConsumer,
		MaxAttempts: 3,
	})
	if err != nil {
		logger.Printf("failed to initialize redis streams queue, fallback to local: %v", err)
		local := queue.NewLocalQueue(512, 3, logger)
		return local, local, func() {}
	}

	logger.Printf("redis streams queue initialized")
	return streams, streams, func() {
		_ = streams.Close()
	}
}

func setupBlobStore(cfg config.Config, logger *log.Logger) storage.BlobStore {
	if cfg.MediaDir == "" {
		logger.Printf("MEDIA_DIR not configured, using in-memory media store")
		return storage.NewMemoryBlobStore()
	}
	blobs, err := storage.NewFileBlobStore(cfg.MediaDir)
	if err != nil {
		logger.Printf("failed to initialize media directory, fallback to memory: %v", err)
		return storage.NewMemoryBlobStore()
	}
	logger.Printf("media store initialized dir=%s", cfg.MediaDir)
	return blobs
}

func setupIndexFactory(
	ctx context.Context,
	cfg config.Config,
	pool *pgxpool.Pool,
	logger *log.Logger,
) knowledge.IndexFactory {
	if cfg.VectorBackend == "pgvector" && pool != nil {
		if err := index.EnsurePgVectorSchema(ctx, pool); err != nil {
			logger.Printf("failed to prepare pgvector schema, fallback to memory index: %v", err)
		} else {
			logger.Printf("pgvector index backend initialized")
			return func(jobID string) index.Index {
				return index.NewPgVectorIndex(pool, jobID)
			}
		}
	}
	if cfg.VectorBackend == "pgvector" && pool == nil {
		logger.Printf("VECTOR_BACKEND=pgvector but postgres is unavailable, using memory index")
	}
	return func(string) index.Index {
		return index.NewMemoryIndex()
	}
}
