// Command gateway runs the OpenAI-compatible HTTP channel over the core
// message bus, memory subsystem, and agent glue.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sipeed/picoclaw/pkg/agent"
	"github.com/sipeed/picoclaw/pkg/bus"
	"github.com/sipeed/picoclaw/pkg/config"
	"github.com/sipeed/picoclaw/pkg/httpgateway"
	"github.com/sipeed/picoclaw/pkg/logger"
	"github.com/sipeed/picoclaw/pkg/memory"
	"github.com/sipeed/picoclaw/pkg/providers"
	"github.com/sipeed/picoclaw/pkg/tools"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.ErrorCF("main", "failed to load configuration", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, ingestor, embeddingSvc, err := buildMemory(ctx, cfg)
	if err != nil {
		logger.ErrorCF("main", "failed to initialize memory backend", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	defer store.Close(context.Background())

	var embeddingWorker *memory.EmbeddingWorker
	if pgStore, ok := store.(*memory.PgStore); ok && embeddingSvc != nil {
		embeddingWorker = memory.NewEmbeddingWorker(pgStore.Pool(), embeddingSvc)
		embeddingWorker.Start(ctx)
		defer embeddingWorker.Stop()
	}

	msgBus := bus.New()
	msgBus.Start(ctx)
	defer msgBus.Stop()

	registry := tools.NewToolRegistry()
	registry.Register(tools.NewSaveMemoryTool(store))
	registry.Register(tools.NewUpdateLongTermMemoryTool(store))
	registry.Register(tools.NewReadMemoryTool(store))

	provider, err := buildProvider(cfg)
	if err != nil {
		logger.ErrorCF("main", "failed to initialize LLM provider", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	a := agent.New(msgBus, store, ingestor, provider, registry, cfg.HTTP.ModelName)
	a.Subscribe()

	gateway := httpgateway.New(cfg.HTTP, msgBus)
	if err := gateway.Start(ctx); err != nil {
		logger.ErrorCF("main", "failed to start http gateway", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	logger.InfoCF("main", "gateway running", map[string]interface{}{
		"host":           cfg.HTTP.Host,
		"port":           cfg.HTTP.Port,
		"memory_backend": cfg.Memory.Backend,
	})

	<-ctx.Done()
	logger.InfoCF("main", "shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := gateway.Stop(shutdownCtx); err != nil {
		logger.ErrorCF("main", "error stopping http gateway", map[string]interface{}{"error": err.Error()})
	}
}

func buildMemory(ctx context.Context, cfg *config.Config) (memory.Backend, memory.ConversationIngestor, *memory.EmbeddingService, error) {
	if cfg.Memory.Backend == "postgres" {
		store := memory.NewPgStore(
			cfg.Memory.Postgres.DSN,
			cfg.Memory.Embedding.Dimensions,
			cfg.Memory.Postgres.PoolMinSize,
			cfg.Memory.Postgres.PoolMaxSize,
			cfg.Memory.SemanticSearchLimit,
		)
		if err := store.Initialize(ctx); err != nil {
			return nil, nil, nil, err
		}

		embeddingSvc := memory.NewEmbeddingService(
			cfg.Memory.Embedding.Model,
			cfg.Memory.Embedding.Dimensions,
			cfg.Memory.Embedding.BaseURL,
			cfg.Memory.Embedding.Key,
		)
		store.SetEmbeddingService(embeddingSvc)

		var ingestor memory.ConversationIngestor = memory.NewNullIngestor()
		if cfg.Memory.AutoIngest {
			ingestor = memory.NewPostgresIngestor(store)
		}

		return store, ingestor, embeddingSvc, nil
	}

	store := memory.NewFileStore(cfg.Workspace)
	if err := store.Initialize(ctx); err != nil {
		return nil, nil, nil, err
	}
	return store, memory.NewNullIngestor(), nil, nil
}

func buildProvider(cfg *config.Config) (providers.LLMProvider, error) {
	claude := providers.NewClaudeProvider(cfg.Anthropic.APIKey)

	if cfg.OpenAI.APIKey == "" {
		return claude, nil
	}

	var openaiProvider *providers.OpenAIProvider
	if cfg.OpenAI.BaseURL != "" {
		openaiProvider = providers.NewOpenAIProviderWithBaseURL(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	} else {
		openaiProvider = providers.NewOpenAIProvider(cfg.OpenAI.APIKey)
	}

	return providers.NewFallbackProvider(claude, openaiProvider, cfg.HTTP.ModelName, cfg.OpenAI.Model), nil
}
