package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/campaigniq/backend/internal/api/handlers"
	"github.com/campaigniq/backend/internal/benchmark"
	"github.com/campaigniq/backend/internal/backends/forecast"
	"github.com/campaigniq/backend/internal/backends/nlq"
	"github.com/campaigniq/backend/internal/conversation"
	"github.com/campaigniq/backend/internal/enhancer"
	"github.com/campaigniq/backend/internal/eval"
	"github.com/campaigniq/backend/internal/ingestion"
	"github.com/campaigniq/backend/internal/intent"
	"github.com/campaigniq/backend/internal/llm"
	"github.com/campaigniq/backend/internal/metrics"
	"github.com/campaigniq/backend/internal/middleware/ratelimit"
	"github.com/campaigniq/backend/internal/middleware/security"
	"github.com/campaigniq/backend/internal/middleware/validation"
	"github.com/campaigniq/backend/internal/orchestrator"
	"github.com/campaigniq/backend/internal/resolver"
	"github.com/campaigniq/backend/internal/router"
	"github.com/campaigniq/backend/internal/session"
	"github.com/campaigniq/backend/internal/storage/sqlite"
	"github.com/campaigniq/backend/internal/vector/milvus"
	"github.com/campaigniq/backend/pkg/config"
	appLogger "github.com/campaigniq/backend/pkg/logger"
)

// benchmarkSearcher adapts the Milvus client to the comparator's retrieval
// interface.
type benchmarkSearcher struct {
	client *milvus.Client
}

func (s benchmarkSearcher) SearchChunks(ctx context.Context, embedding []float32, topK int, filters map[string]string) ([]benchmark.Passage, error) {
	results, err := s.client.Search(ctx, embedding, topK, filters)
	if err != nil {
		return nil, err
	}
	passages := make([]benchmark.Passage, 0, len(results))
	for _, r := range results {
		passages = append(passages, benchmark.Passage{
			Text:      r.Text,
			SourceURL: r.SourceURL,
			Metric:    r.Metric,
		})
	}
	return passages, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting CampaignIQ API server")
	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	sessionStore, err := session.NewRedisStore(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Orchestrator.SessionTTL(),
	)
	if err != nil {
		appLogger.Fatal("Failed to connect to session store", zap.Error(err))
	}
	defer sessionStore.Close()

	milvusClient, err := milvus.NewClient(
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	if err := milvusClient.CreateCollection(context.Background()); err != nil {
		appLogger.Fatal("Failed to create benchmark collection", zap.Error(err))
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
	)

	nlqClient := nlq.NewClient(cfg.NLQ.BaseURL, cfg.NLQ.SchemaRef, cfg.NLQ.Timeout())
	forecastClient := forecast.NewClient(cfg.Forecast.BaseURL, cfg.Forecast.Timeout())

	dispatcher := router.New(
		router.Config{
			CallTimeout: cfg.Orchestrator.BackendTimeout(),
			MaxRetries:  cfg.Orchestrator.MaxRetries,
		},
		nlqClient,
		forecast.NewForecastBackend(forecastClient),
		forecast.NewAnomalyBackend(forecastClient),
	)

	comparator := benchmark.New(
		benchmark.NewVectorRetriever(llmClient, benchmarkSearcher{client: milvusClient}),
		int64(cfg.Benchmark.MinSampleSize),
	)

	orch := orchestrator.New(
		orchestrator.Config{
			RequestBudget:        cfg.Orchestrator.RequestBudget(),
			KnownMarkets:         cfg.Benchmark.Markets,
			DefaultBenchmarkMode: benchmark.Mode(cfg.Benchmark.DefaultMode),
		},
		sessionStore,
		conversation.NewManager(sessionStore, cfg.Orchestrator.FollowUpWindow),
		intent.NewClassifier(),
		resolver.New(sqliteClient, cfg.Resolver.MaxVariants, cfg.Resolver.AutoConfirmThreshold),
		dispatcher,
		comparator,
		enhancer.New(llmClient, cfg.Enhancer.ChartGeneration, cfg.Enhancer.RankedListCap),
		eval.New(llmClient, cfg.Eval.Tier3SampleRate),
		sqliteClient,
	)

	processor := ingestion.NewProcessor(sqliteClient, milvusClient, llmClient)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Session-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 60,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()

	chatHandler := handlers.NewChatHandler(orch)
	sessionHandler := handlers.NewSessionHandler(sessionStore, sqliteClient)
	ingestHandler := handlers.NewIngestHandler(processor)
	wsHandler := handlers.NewWebSocketHandler(orch)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"redis":  sessionStore,
		"sqlite": sqliteClient,
	})

	api := app.Group("/api/v1",
		limiter.Middleware(),
		validation.Middleware(validation.Config{Logger: appLogger.GetLogger()}),
	)
	api.Post("/chat", chatHandler.HandleChat)
	api.Get("/sessions/:id", sessionHandler.GetSession)
	api.Get("/sessions/:id/history", sessionHandler.GetHistory)
	api.Post("/benchmarks", ingestHandler.IngestBenchmark)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat", websocket.New(wsHandler.HandleConnection))

	app.Get("/metrics", metrics.MetricsHandler())
	app.Get("/health", healthHandler.Health)
	app.Get("/ready", healthHandler.Ready)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Shutdown error", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
