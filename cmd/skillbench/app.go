package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/skillbench/internal/api"
	"github.com/kalambet/skillbench/internal/composer"
	"github.com/kalambet/skillbench/internal/config"
	"github.com/kalambet/skillbench/internal/engine"
	"github.com/kalambet/skillbench/internal/llm"
	"github.com/kalambet/skillbench/internal/pgstore"
	"github.com/kalambet/skillbench/internal/retrieval"
	"github.com/kalambet/skillbench/internal/retry"
	"github.com/kalambet/skillbench/internal/skills"
	"github.com/kalambet/skillbench/internal/storage"
)

// skillStore is what the commands need from either backend.
type skillStore interface {
	skills.Store
	api.SkillStore
	CountSkills(ctx context.Context) (int, error)
	DeleteTaggedSkills(ctx context.Context, namespace string) (int64, error)
	Close() error
}

var (
	_ skillStore = (*storage.Store)(nil)
	_ skillStore = (*pgstore.Store)(nil)
)

// loadConfig reads the config named by --config and installs the logger.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	return cfg, nil
}

func openStore(ctx context.Context, cfg config.Config) (skillStore, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		s, err := pgstore.Open(ctx, cfg.Secrets.PostgresDSN, pgstore.WithEmbeddingDim(cfg.Skills.EmbeddingDim))
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return s, nil
	default:
		s, err := storage.Open(cfg.Storage.DataDir, storage.WithEmbeddingDim(cfg.Skills.EmbeddingDim))
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		return s, nil
	}
}

// buildGateway selects the backend, makes sure it is ready and wires the
// model client.
func buildGateway(ctx context.Context, cfg config.Config) (*llm.Client, error) {
	eng, err := engine.Detect(engine.DetectConfig{
		Provider:         cfg.LLM.Provider,
		OllamaBaseURL:    cfg.Ollama.BaseURL,
		GeminiBaseURL:    cfg.Gemini.BaseURL,
		GeminiAPIKey:     cfg.Secrets.GeminiAPIKey,
		OpenRouterAPIKey: cfg.Secrets.OpenRouterAPIKey,
		EmbeddingDim:     cfg.Skills.EmbeddingDim,
	})
	if err != nil {
		return nil, fmt.Errorf("detecting inference engine: %w", err)
	}

	models := []string{cfg.LLM.EmbedModel}
	if cfg.LLM.Provider == config.ProviderOllama {
		models = append(models, cfg.LLM.FastModel, cfg.LLM.DeepModel, cfg.LLM.JudgeModel)
	}
	if err := engine.EnsureReady(ctx, eng, models, os.Stderr); err != nil {
		return nil, err
	}

	opts := []llm.Option{llm.WithComposer(composer.New(0))}
	if cfg.LLM.GenerationProvider == config.ProviderOpenRouter {
		opts = append(opts, llm.WithGenerator(
			engine.NewOpenRouterEngine(cfg.Secrets.OpenRouterAPIKey, ""), cfg.LLM.OpenRouterModel))
	}

	emb := retrieval.NewEmbedder(eng, cfg.LLM.EmbedModel, cfg.Skills.EmbeddingDim)
	return llm.NewClient(eng, emb, llm.Models{
		Fast:  cfg.LLM.FastModel,
		Deep:  cfg.LLM.DeepModel,
		Judge: cfg.LLM.JudgeModel,
	}, opts...), nil
}

func retryPolicy(cfg config.Config) retry.Policy {
	maxRetries := cfg.Retry.MaxRetries
	if maxRetries == 0 {
		// Zero in the config file means "do not retry"; the policy reads
		// zero as the default.
		maxRetries = -1
	}
	return retry.Policy{MaxRetries: maxRetries, BaseDelay: cfg.Retry.BaseDelay, Logger: slog.Default()}
}
