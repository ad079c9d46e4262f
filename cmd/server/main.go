package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"tocanan.ai/geo/common/id"
	"tocanan.ai/geo/common/llm"
	"tocanan.ai/geo/common/logger"
	"tocanan.ai/geo/common/otel"
	"tocanan.ai/geo/core/config"
	"tocanan.ai/geo/core/db"
	"tocanan.ai/geo/internal/http/handler"
	httprouter "tocanan.ai/geo/internal/http/router"
	"tocanan.ai/geo/internal/model"
	"tocanan.ai/geo/internal/pipeline"
	"tocanan.ai/geo/internal/research"
	"tocanan.ai/geo/internal/service"
	"tocanan.ai/geo/internal/store"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet — OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "geo server starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	checks := map[string]handler.Pinger{}

	jobs, redisClient := setupJobStore(ctx, cfg)
	if redisClient != nil {
		defer redisClient.Close()
		checks["redis"] = handler.PingerFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	history := setupHistoryStore(ctx, cfg, checks)

	generatePipeline, rewritePipeline, err := setupPipelines(cfg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to set up pipelines", "error", err)
		os.Exit(1)
	}

	orchestrator := service.NewOrchestrator(jobs, history, generatePipeline, rewritePipeline, cfg.Pipeline.JobDeadline)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	httprouter.SetupRoutes(engine,
		handler.NewJobHandler(orchestrator, cfg.Pipeline.HistoryLimit),
		handler.NewHealthHandler(cfg.OTel.ServiceName, cfg.OTel.ServiceVersion, cfg.Env, checks),
		httprouter.Config{
			ServiceName: cfg.OTel.ServiceName,
			OTelEnabled: cfg.OTel.Enabled(),
		})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

// setupJobStore picks the Redis-backed store when Redis is configured,
// falling back to the in-memory store for single-instance runs.
func setupJobStore(ctx context.Context, cfg config.Config) (store.JobStore, *redis.Client) {
	if !cfg.Redis.Enabled() {
		slog.InfoContext(ctx, "using in-memory job store")
		return store.NewMemoryJobStore(), nil
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "redis connected, using redis job store")
	return store.NewRedisJobStore(redisClient, 24*time.Hour), redisClient
}

// setupHistoryStore uses Postgres when configured so history survives
// restarts; otherwise a bounded in-memory ring.
func setupHistoryStore(ctx context.Context, cfg config.Config, checks map[string]handler.Pinger) store.HistoryStore {
	if !cfg.DB.Enabled() {
		slog.InfoContext(ctx, "using in-memory history store")
		return store.NewMemoryHistoryStore(cfg.Pipeline.HistoryLimit)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	checks["database"] = handler.PingerFunc(database.Pool.Ping)

	history, err := store.NewPostgresHistoryStore(ctx, database.Pool)
	if err != nil {
		slog.ErrorContext(ctx, "failed to set up history store", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "database connected, using postgres history store")
	return history
}

func setupPipelines(cfg config.Config) (*pipeline.GenerationPipeline, *pipeline.RewritePipeline, error) {
	writerAClient, err := llm.New(llmConfig(cfg.WriterALLM))
	if err != nil {
		return nil, nil, fmt.Errorf("writer A client: %w", err)
	}
	writerBClient, err := llm.New(llmConfig(cfg.WriterBLLM))
	if err != nil {
		return nil, nil, fmt.Errorf("writer B client: %w", err)
	}
	evaluatorClient, err := llm.New(llmConfig(cfg.EvaluatorLLM))
	if err != nil {
		return nil, nil, fmt.Errorf("evaluator client: %w", err)
	}

	stage := research.NewStage(
		research.NewTavilySearcher(cfg.Tavily),
		research.NewPerplexityVerifier(cfg.Perplexity),
		writerAClient,
	)
	gate := research.NewGate(stage, research.GatePolicy{
		MinStatistics: cfg.Pipeline.MinStatistics,
		MinQuotations: cfg.Pipeline.MinQuotations,
		MaxRetries:    cfg.Pipeline.MaxResearchRetries,
	})

	policy := pipeline.PolicyFromConfig(cfg.Pipeline)
	writerA := pipeline.NewWriter(writerAClient, model.DraftBranchA, cfg.WriterALLM.MaxTokens)
	writerB := pipeline.NewWriter(writerBClient, model.DraftBranchB, cfg.WriterBLLM.MaxTokens)
	evaluator := pipeline.NewEvaluator(evaluatorClient, cfg.Pipeline.QualityThreshold)
	commentator := pipeline.NewCommentator(evaluatorClient)
	rewriter := pipeline.NewRewriter(writerAClient, cfg.WriterALLM.MaxTokens)

	generate := pipeline.NewGenerationPipeline(gate, writerA, writerB, evaluator, commentator, policy)
	rewrite := pipeline.NewRewritePipeline(gate, rewriter, evaluator, commentator, policy)
	return generate, rewrite, nil
}

func llmConfig(cfg config.LLMConfig) llm.Config {
	return llm.Config{
		Provider: cfg.Provider,
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
		Model:    cfg.Model,
	}
}

const banner = `
 ██████╗ ███████╗ ██████╗      ██████╗ ██████╗ ███╗   ██╗████████╗███████╗███╗   ██╗████████╗
██╔════╝ ██╔════╝██╔═══██╗    ██╔════╝██╔═══██╗████╗  ██║╚══██╔══╝██╔════╝████╗  ██║╚══██╔══╝
██║  ███╗█████╗  ██║   ██║    ██║     ██║   ██║██╔██╗ ██║   ██║   █████╗  ██╔██╗ ██║   ██║
██║   ██║██╔══╝  ██║   ██║    ██║     ██║   ██║██║╚██╗██║   ██║   ██╔══╝  ██║╚██╗██║   ██║
╚██████╔╝███████╗╚██████╔╝    ╚██████╗╚██████╔╝██║ ╚████║   ██║   ███████╗██║ ╚████║   ██║
 ╚═════╝ ╚══════╝ ╚═════╝      ╚═════╝ ╚═════╝ ╚═╝  ╚═══╝   ╚═╝   ╚══════╝╚═╝  ╚═══╝   ╚═╝
`
