package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/calmify/wellness-backend/server/cache"
	"github.com/calmify/wellness-backend/server/chat"
	"github.com/calmify/wellness-backend/server/config"
	"github.com/calmify/wellness-backend/server/emotion"
	"github.com/calmify/wellness-backend/server/handlers"
	"github.com/calmify/wellness-backend/server/logging"
	"github.com/calmify/wellness-backend/server/middleware"
	"github.com/calmify/wellness-backend/server/ml"
	"github.com/calmify/wellness-backend/server/processor"
	"github.com/calmify/wellness-backend/server/vision"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router           *gin.Engine
	logger           *zap.Logger
	detector         *emotion.Detector
	emotionProcessor *processor.EmotionProcessor
	locator          *vision.CascadeLocator
	classifier       *vision.NetClassifier
	mlClient         *ml.Client
	retriever        *chat.PGVectorRetriever
	cache            cache.Cache
	rateLimiter      *middleware.RateLimiter
	config           *config.Config
}

func main() {
	envFile := flag.String("env", ".env", "path to a .env file")
	ingestFile := flag.String("ingest", "", "load paragraphs from this file into the chatbot knowledge base and exit")
	flag.Parse()

	if err := config.LoadEnvFile(*envFile); err != nil {
		log.Fatal("Failed to load environment:", err)
	}

	cfg := config.LoadConfig()

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	if err := cfg.ValidateConfig(logger); err != nil {
		logger.Fatal("Configuration validation failed", zap.Error(err))
	}

	if *ingestFile != "" {
		if err := ingestKnowledge(context.Background(), cfg, *ingestFile, logger); err != nil {
			logger.Fatal("Knowledge base ingestion failed", zap.Error(err))
		}
		return
	}

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server, err := NewServer(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting server",
			zap.String("addr", addr),
			zap.String("environment", cfg.Server.Environment))

		var err error
		if cfg.Security.EnableHTTPS {
			err = srv.ListenAndServeTLS(cfg.Security.CertFile, cfg.Security.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	server.Close()

	logger.Info("Server exited")
}

func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	cacheInstance := newCache(ctx, cfg, logger)

	locator, err := vision.NewCascadeLocator(cfg.Emotion.CascadePath, vision.CascadeParams{
		ScaleFactor:  cfg.Emotion.ScaleFactor,
		MinNeighbors: cfg.Emotion.MinNeighbors,
		MinFaceSize:  cfg.Emotion.MinFaceSize,
	}, logger)
	if err != nil {
		return nil, err
	}

	classifier, err := vision.NewNetClassifier(cfg.Emotion.ModelPath, cfg.Emotion.ModelConfigPath, logger)
	if err != nil {
		locator.Close()
		return nil, err
	}

	journal, err := emotion.OpenJournal(cfg.Emotion.LogPath)
	if err != nil {
		locator.Close()
		classifier.Close()
		return nil, fmt.Errorf("failed to open emotion log: %w", err)
	}

	detector, err := emotion.NewDetector(locator, classifier, journal, logger)
	if err != nil {
		locator.Close()
		classifier.Close()
		return nil, err
	}

	if _, err := detector.ReportStressTrend(); err != nil {
		logger.Warn("Could not read existing emotion log", zap.Error(err))
	}

	emotionProcessor := processor.NewEmotionProcessor(detector, processor.ProcessorConfig{
		MaxQueueSize:      cfg.Emotion.QueueSize,
		MaxWorkers:        cfg.Emotion.Workers,
		ProcessingTimeout: cfg.Emotion.ProcessingTimeout,
	}, logger)

	mlClient := ml.NewClient(cfg.ML.BaseURL, ml.ClientConfig{
		Timeout:             cfg.ML.Timeout,
		MaxRetries:          cfg.ML.MaxRetries,
		RetryDelay:          cfg.ML.RetryDelay,
		HealthCheckInterval: cfg.ML.HealthCheckInterval,
		CacheTTL:            cfg.ML.CacheTTL,
	}, cacheInstance, logger)

	retriever := newRetriever(ctx, cfg, logger)

	var chatService handlers.ChatService
	if assistant := newAssistant(cfg, retriever, cacheInstance, logger); assistant != nil {
		chatService = assistant
	}

	rateLimiter := middleware.NewRateLimiter(
		cfg.Security.RateLimitRPS,
		cfg.Security.RateLimitBurst,
		logger,
	)

	emotionHandler := handlers.NewEmotionHandler(emotionProcessor, logger)
	emotionHandler.AddStatsSource("cache", func(ctx context.Context) (any, error) {
		return cacheInstance.GetStats(ctx)
	})
	emotionHandler.AddStatsSource("rate_limiter", func(context.Context) (any, error) {
		return rateLimiter.GetGlobalStats(), nil
	})

	router := newRouter(cfg, logger, rateLimiter, routeHandlers{
		emotion:   emotionHandler,
		stress:    handlers.NewStressHandler(mlClient, logger),
		chat:      handlers.NewChatHandler(chatService, logger),
		websocket: handlers.NewWebSocketHandler(emotionProcessor, cfg.Security.AllowedOrigins, logger),
	})

	return &Server{
		router:           router,
		logger:           logger,
		detector:         detector,
		emotionProcessor: emotionProcessor,
		locator:          locator,
		classifier:       classifier,
		mlClient:         mlClient,
		retriever:        retriever,
		cache:            cacheInstance,
		rateLimiter:      rateLimiter,
		config:           cfg,
	}, nil
}

func newCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) cache.Cache {
	if cfg.Redis.Host != "" {
		redisCache, err := cache.NewRedisCache(ctx, cache.RedisOptions{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, cfg.ML.CacheTTL, logger)
		if err == nil {
			return redisCache
		}
		logger.Warn("Failed to connect to Redis, using memory cache", zap.Error(err))
	}
	return cache.NewMemoryCache(1000, cfg.ML.CacheTTL, logger)
}

func newRetriever(ctx context.Context, cfg *config.Config, logger *zap.Logger) *chat.PGVectorRetriever {
	if cfg.Database.Host == "" {
		return nil
	}

	embedder := chat.NewOpenAIEmbedder(cfg.Chat.EmbeddingAPIKey, cfg.Chat.EmbeddingURL, cfg.Chat.EmbeddingModel)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	retriever, err := chat.NewPGVectorRetriever(connectCtx, cfg.Database.DSN(), embedder, logger)
	if err != nil {
		logger.Warn("Knowledge base unavailable, chatbot answers without context", zap.Error(err))
		return nil
	}
	if err := retriever.EnsureSchema(connectCtx, cfg.Chat.EmbeddingDims); err != nil {
		logger.Warn("Knowledge base schema unavailable, chatbot answers without context", zap.Error(err))
		retriever.Close()
		return nil
	}
	return retriever
}

func newAssistant(cfg *config.Config, retriever *chat.PGVectorRetriever, c cache.Cache, logger *zap.Logger) *chat.Assistant {
	model, err := chat.NewOpenAIModel(cfg.Chat.APIKey, cfg.Chat.BaseURL, cfg.Chat.Model)
	if err != nil {
		logger.Warn("Chatbot disabled", zap.Error(err))
		return nil
	}

	var r chat.Retriever
	if retriever != nil {
		r = retriever
	}

	assistant, err := chat.NewAssistant(model, r, c, logger, chat.Options{
		TopK:     cfg.Chat.TopK,
		CacheTTL: cfg.Chat.CacheTTL,
	})
	if err != nil {
		logger.Warn("Chatbot disabled", zap.Error(err))
		return nil
	}

	logger.Info("Chatbot ready",
		zap.String("model", cfg.Chat.Model),
		zap.Bool("retrieval", r != nil))
	return assistant
}

// Close releases everything NewServer acquired, in reverse order.
func (s *Server) Close() {
	s.rateLimiter.Shutdown()

	if err := s.emotionProcessor.Shutdown(); err != nil {
		s.logger.Error("Failed to shutdown emotion processor", zap.Error(err))
	}

	if _, err := s.detector.ReportStressTrend(); err != nil {
		s.logger.Warn("Failed to analyze stress trend", zap.Error(err))
	}

	s.mlClient.Close()

	if s.retriever != nil {
		s.retriever.Close()
	}

	if err := s.cache.Close(); err != nil {
		s.logger.Error("Failed to close cache", zap.Error(err))
	}

	if err := s.classifier.Close(); err != nil {
		s.logger.Error("Failed to release emotion model", zap.Error(err))
	}
	if err := s.locator.Close(); err != nil {
		s.logger.Error("Failed to release face cascade", zap.Error(err))
	}
}
