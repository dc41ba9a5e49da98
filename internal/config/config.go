// Package config loads skillbench settings from defaults, a YAML file, a
// .env file and SKILLBENCH_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SKILLBENCH_"

type Config struct {
	LLM       LLMConfig
	Ollama    OllamaConfig
	Gemini    GeminiConfig
	Skills    SkillsConfig
	Retrieval RetrievalConfig
	Retry     RetryConfig
	Storage   StorageConfig
	Eval      EvalConfig
	Server    ServerConfig
	Log       LogConfig
	Secrets   Secrets
}

type LLMConfig struct {
	Provider           string
	FastModel          string
	DeepModel          string
	JudgeModel         string
	EmbedModel         string
	GenerationProvider string
	OpenRouterModel    string
}

type OllamaConfig struct {
	BaseURL string
}

type GeminiConfig struct {
	BaseURL string
}

type SkillsConfig struct {
	EmbeddingDim       int
	DuplicateThreshold float64
}

type RetrievalConfig struct {
	TopK     int
	MinScore float64
}

type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

type StorageConfig struct {
	Backend string
	DataDir string
}

type EvalConfig struct {
	DatasetPath   string
	KBPath        string
	Split         string
	OutputDir     string
	SnapshotEvery int
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level string
}

// Secrets are only ever read from the environment.
type Secrets struct {
	GeminiAPIKey     string
	OpenRouterAPIKey string
	APIToken         string
	PostgresDSN      string
}

// Provider and backend names.
const (
	ProviderOllama     = "ollama"
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
	GenerationSame     = "same"
	BackendSQLite      = "sqlite"
	BackendPostgres    = "postgres"
)

// Model defaults for the gemini provider, applied when the model keys are
// left unset.
var geminiModels = LLMConfig{
	FastModel:  "gemini-3-flash-preview",
	DeepModel:  "gemini-3-pro-preview",
	EmbedModel: "gemini-embedding-001",
}

func defaults() Config {
	return Config{
		LLM: LLMConfig{
			Provider:           ProviderOllama,
			FastModel:          "phi3.5",
			DeepModel:          "mistral-nemo",
			EmbedModel:         "nomic-embed-text",
			GenerationProvider: GenerationSame,
			OpenRouterModel:    "anthropic/claude-sonnet-4",
		},
		Ollama:    OllamaConfig{BaseURL: "http://localhost:11434"},
		Gemini:    GeminiConfig{BaseURL: "https://generativelanguage.googleapis.com/v1beta"},
		Skills:    SkillsConfig{EmbeddingDim: 768, DuplicateThreshold: 0.95},
		Retrieval: RetrievalConfig{TopK: 5, MinScore: 0},
		Retry:     RetryConfig{MaxRetries: 3, BaseDelay: 2 * time.Second},
		Storage:   StorageConfig{Backend: BackendSQLite, DataDir: defaultDataDir()},
		Eval: EvalConfig{
			DatasetPath:   filepath.Join("data", "abcd", "data"),
			KBPath:        filepath.Join("data", "abcd", "data"),
			Split:         "dev",
			OutputDir:     "results",
			SnapshotEvery: 10,
		},
		Server: ServerConfig{Port: 4000},
		Log:    LogConfig{Level: "info"},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "skillbench-data"
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "skillbench")
}

// DefaultPath is $XDG_CONFIG_HOME/skillbench/config.yaml.
func DefaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "skillbench", "config.yaml")
}

// Load reads the YAML file at path (DefaultPath when empty), then .env in
// the working directory, then environment overrides. A missing file is not
// an error.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	v, err := readFile(path)
	if err != nil {
		return Config{}, err
	}

	cfg := defaults()
	set := make(map[string]bool)
	for _, s := range specs {
		if s.secret || !v.IsSet(s.key) {
			continue
		}
		if err := s.fromViper(&cfg, v); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", s.key, err)
		}
		set[s.key] = true
	}

	for _, s := range specs {
		raw, ok := lookupEnv(lookup, s.envVars()...)
		if !ok {
			continue
		}
		if err := s.parse(&cfg, raw); err != nil {
			if s.secret {
				return Config{}, fmt.Errorf("env %s: %w", s.env, err)
			}
			slog.Warn("ignoring invalid environment override", "var", s.env, "value", raw, "error", err)
			continue
		}
		set[s.key] = true
	}

	if cfg.LLM.Provider == ProviderGemini {
		if !set["llm.fast_model"] {
			cfg.LLM.FastModel = geminiModels.FastModel
		}
		if !set["llm.deep_model"] {
			cfg.LLM.DeepModel = geminiModels.DeepModel
		}
		if !set["llm.embed_model"] {
			cfg.LLM.EmbedModel = geminiModels.EmbedModel
		}
	}
	return cfg, nil
}

func readFile(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return v, nil
}

func lookupEnv(lookup func(string) (string, bool), names ...string) (string, bool) {
	for _, n := range names {
		if v, ok := lookup(n); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}

// SlogLevel maps Log.Level to a slog level. Unknown values mean info.
func (c Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Validate reports configuration errors that must stop a run before any
// conversation is processed.
func (c Config) Validate() error {
	var errs []error
	switch c.LLM.Provider {
	case ProviderOllama, ProviderOpenRouter:
	case ProviderGemini:
		if c.Secrets.GeminiAPIKey == "" {
			errs = append(errs, errors.New("llm.provider gemini requires GOOGLE_API_KEY or SKILLBENCH_GEMINI_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q must be ollama, gemini or openrouter", c.LLM.Provider))
	}
	switch c.LLM.GenerationProvider {
	case GenerationSame:
	case ProviderOpenRouter:
		if c.LLM.OpenRouterModel == "" {
			errs = append(errs, errors.New("llm.generation_provider openrouter requires llm.openrouter_model"))
		}
	default:
		errs = append(errs, fmt.Errorf("llm.generation_provider %q must be same or openrouter", c.LLM.GenerationProvider))
	}
	if (c.LLM.Provider == ProviderOpenRouter || c.LLM.GenerationProvider == ProviderOpenRouter) && c.Secrets.OpenRouterAPIKey == "" {
		errs = append(errs, errors.New("openrouter requires SKILLBENCH_OPENROUTER_API_KEY"))
	}
	if c.LLM.FastModel == "" || c.LLM.EmbedModel == "" {
		errs = append(errs, errors.New("llm.fast_model and llm.embed_model are required"))
	}
	if c.Skills.EmbeddingDim <= 0 {
		errs = append(errs, fmt.Errorf("skills.embedding_dim must be positive, got %d", c.Skills.EmbeddingDim))
	}
	if c.Skills.DuplicateThreshold <= 0 || c.Skills.DuplicateThreshold > 1 {
		errs = append(errs, fmt.Errorf("skills.duplicate_threshold must be in (0, 1], got %g", c.Skills.DuplicateThreshold))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK))
	}
	if c.Retrieval.MinScore < 0 || c.Retrieval.MinScore > 1 {
		errs = append(errs, fmt.Errorf("retrieval.min_score must be in [0, 1], got %g", c.Retrieval.MinScore))
	}
	switch c.Storage.Backend {
	case BackendSQLite:
	case BackendPostgres:
		if c.Secrets.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.backend postgres requires SKILLBENCH_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend %q must be sqlite or postgres", c.Storage.Backend))
	}
	if c.Eval.SnapshotEvery < 0 {
		errs = append(errs, fmt.Errorf("eval.snapshot_every must not be negative, got %d", c.Eval.SnapshotEvery))
	}
	return errors.Join(errs...)
}
