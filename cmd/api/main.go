package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"

	"github.com/zhouzirui/persona-lens/backend/internal/config"
	"github.com/zhouzirui/persona-lens/backend/internal/handler"
	"github.com/zhouzirui/persona-lens/backend/internal/logging"
	"github.com/zhouzirui/persona-lens/backend/internal/model/persona"
	"github.com/zhouzirui/persona-lens/backend/internal/service/ai"
	"github.com/zhouzirui/persona-lens/backend/internal/service/analysis"
	"github.com/zhouzirui/persona-lens/backend/internal/service/chat"
	"github.com/zhouzirui/persona-lens/backend/internal/service/embedding"
	"github.com/zhouzirui/persona-lens/backend/internal/service/feedback"
	"github.com/zhouzirui/persona-lens/backend/internal/service/relevance"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Server.LogLevel, os.Stdout)
	logging.SetDefault(logger)
	ctx = logging.With(ctx, logger)
	if envErr != nil {
		logger.Info("no .env file loaded, continuing with system environment variables only", "reason", envErr.Error())
	}

	if err := run(ctx, cfg); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logging.From(ctx)

	// 语料加载失败时拒绝启动
	store, err := persona.Load(ctx, persona.FileLoader{Path: cfg.Corpus.Path})
	if err != nil {
		return goerr.Wrap(err, "failed to load persona corpus", goerr.V("path", cfg.Corpus.Path))
	}
	logger.Info("persona corpus loaded", "path", cfg.Corpus.Path, "personas", store.Len(), "dimension", store.Dimension())

	chatModel, err := cfg.AI.NewChatModel(ctx)
	if err != nil {
		return goerr.Wrap(err, "请检查 Ark 模型相关环境变量")
	}
	aiService, err := ai.NewService(ctx, chatModel)
	if err != nil {
		return err
	}
	logger.Info("AI service initialized", "model", cfg.AI.Model)

	provider, err := embedding.NewProvider(ctx, cfg.Embedding)
	if err != nil {
		return goerr.Wrap(err, "failed to initialize embedding provider")
	}
	embedder := embedding.NewService(provider,
		embedding.WithRetryPolicy(cfg.Retry.Policy()),
		embedding.WithDimension(store.Dimension()),
		embedding.WithCacheSize(cfg.Embedding.CacheSize),
	)
	logger.Info("embedding provider initialized", "provider", cfg.Embedding.Provider, "model", cfg.Embedding.Model)

	cache, closeCache, err := newFeedbackCache(ctx, cfg.Feedback)
	if err != nil {
		return err
	}
	defer closeCache()

	engine := relevance.NewEngine(relevance.Config{
		Seed:          cfg.Engine.Seed,
		MaxIterations: cfg.Engine.MaxIterations,
	})
	analysisService := analysis.NewService(embedder, store, engine, analysis.Options{
		TopK:         cfg.Engine.TopK,
		ClusterCount: cfg.Engine.ClusterCount,
		UnknownLabel: cfg.Engine.UnknownLabel,
	})
	chatService := chat.NewService(store, aiService, chat.WithIdleTTL(cfg.Session.IdleTTL))
	feedbackEngine := feedback.NewEngine(store, aiService, cache,
		feedback.WithRetryPolicy(cfg.Retry.Policy()),
		feedback.WithMaxInFlight(cfg.Feedback.MaxInFlight),
		feedback.WithMaxBatchSize(cfg.Feedback.MaxBatch),
	)

	go chatService.Run(ctx, cfg.Session.SweepInterval)

	router := handler.NewRouter(handler.Services{
		Personas: store,
		Analysis: analysisService,
		Chat:     chatService,
		Feedback: feedbackEngine,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("persona-lens backend listening", "addr", cfg.Server.Addr)
	return runServer(ctx, srv)
}

func newFeedbackCache(ctx context.Context, cfg config.FeedbackConfig) (feedback.Cache, func(), error) {
	if cfg.Cache != config.FeedbackCacheRedis {
		return feedback.NewMemoryCache(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, goerr.Wrap(err, "failed to connect to redis", goerr.V("addr", cfg.RedisAddr))
	}
	logging.From(ctx).Info("feedback cache backed by redis", "addr", cfg.RedisAddr, "ttl", cfg.TTL)

	return feedback.NewRedisCache(client, cfg.TTL), func() { _ = client.Close() }, nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
