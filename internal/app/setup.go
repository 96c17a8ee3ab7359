package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/harshtiwari/haral/db"
	"github.com/harshtiwari/haral/internal/api"
	"github.com/harshtiwari/haral/internal/chat"
	"github.com/harshtiwari/haral/internal/config"
	"github.com/harshtiwari/haral/internal/graph"
	"github.com/harshtiwari/haral/internal/intent"
	"github.com/harshtiwari/haral/internal/log"
	"github.com/harshtiwari/haral/internal/memory"
	"github.com/harshtiwari/haral/internal/session"
	"github.com/harshtiwari/haral/internal/tools"
)

// Setup creates and initializes the application. Returns an App with
// embedded cleanup; call Close() to release.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (_ *App, retErr error) {
	if logger == nil {
		logger = log.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, dbCleanup, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.dbCleanup = dbCleanup
	a.DBPool = pool

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit with gemini provider")
	}
	a.Genkit = g

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}

	store, err := provideMemoryStore(ctx, pool, embedder, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Memory = store

	a.Sessions = session.NewManager(cfg.HistoryWindow, store, logger)

	registry, searcher, images, err := provideTools(ctx, g, cfg, logger)
	if err != nil {
		return nil, err
	}

	models := graph.Models{
		Tooling:   cfg.ToolingModel,
		Reasoning: cfg.ReasoningModel,
		Vision:    cfg.VisionModel,
	}
	agentGraph := graph.New(g, models, registry, searcher, images, logger)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	a.bgCancel = bgCancel

	service, err := chat.New(chat.Config{
		Genkit:   g,
		Models:   models,
		Graph:    agentGraph,
		Sessions: a.Sessions,
		Intents:  intent.NewClassifier(g, cfg.ToolingModel, logger),
		Images:   images,
		Search:   searcher,
		Logger:   logger,
		BGCtx:    bgCtx,
		WG:       &a.wg,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat service: %w", err)
	}
	a.Service = service

	server, err := api.NewServer(api.ServerConfig{
		Service:     service,
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
		RateRPS:     rate.Limit(cfg.RateRPS),
		RateBurst:   cfg.RateBurst,
		TrustProxy:  cfg.TrustProxy,
	})
	if err != nil {
		return nil, fmt.Errorf("creating http server: %w", err)
	}
	a.Server = server

	return a, nil
}

// provideOtelShutdown wires optional OTLP trace export into Genkit's
// tracer provider. Disabled when no endpoint is configured.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger log.Logger) func() {
	if cfg.OTLPEndpoint == "" {
		return func() {}
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating OTLP exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)
	logger.Debug("OTLP tracing enabled", "endpoint", cfg.OTLPEndpoint)

	shutdown := tracing.TracerProvider().Shutdown

	//nolint:contextcheck // shutdown runs during teardown when parent is canceled
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and creates the PostgreSQL pool.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, func(), error) {
	if err := db.Migrate(cfg.ConnString()); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, pool.Close, nil
}

// provideMemoryStore creates the vector store and reconciles its schema
// with the configured embedding dimension.
func provideMemoryStore(ctx context.Context, pool *pgxpool.Pool, embedder ai.Embedder, cfg *config.Config, logger log.Logger) (*memory.Store, error) {
	store := memory.New(pool, embedder, cfg.EmbedderDimension, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensuring memory schema: %w", err)
	}
	return store, nil
}

// provideTools constructs the capability tool stack and registers it
// with Genkit.
func provideTools(ctx context.Context, g *genkit.Genkit, cfg *config.Config, logger log.Logger) (*tools.Registry, *tools.Searcher, *tools.ImageGenerator, error) {
	searcher := tools.NewSearcher(tools.NewCSEProvider(cfg.GoogleAPIKey, cfg.GoogleCSEID, nil), logger)
	video := tools.NewVideoClient(tools.NewYouTubeProvider(cfg.YouTubeAPIKey, nil), logger)

	// The genai client reads GEMINI_API_KEY from the environment, same
	// as the Genkit plugin.
	client, err := genai.NewClient(ctx, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating genai client: %w", err)
	}
	images := tools.NewImageGenerator(tools.NewImagenProvider(client, cfg.ImageModel), logger)

	registry := tools.Register(g, searcher, video, images)
	return registry, searcher, images, nil
}
