package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	alias   string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

func envName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
}

func str(key string, apply func(*Config, string), extract func(Config) string) keySpec {
	return keySpec{
		key: key, typ: kString, env: envName(key),
		apply:   func(cfg *Config, v any) { apply(cfg, v.(string)) },
		extract: func(cfg Config) any { return extract(cfg) },
	}
}

func integer(key string, apply func(*Config, int), extract func(Config) int) keySpec {
	return keySpec{
		key: key, typ: kInt, env: envName(key),
		apply:   func(cfg *Config, v any) { apply(cfg, v.(int)) },
		extract: func(cfg Config) any { return extract(cfg) },
	}
}

func float(key string, apply func(*Config, float64), extract func(Config) float64) keySpec {
	return keySpec{
		key: key, typ: kFloat, env: envName(key),
		apply:   func(cfg *Config, v any) { apply(cfg, v.(float64)) },
		extract: func(cfg Config) any { return extract(cfg) },
	}
}

func secret(key, env, alias string, apply func(*Config, string), extract func(Config) string) keySpec {
	s := str(key, apply, extract)
	s.env, s.alias, s.secret = env, alias, true
	return s
}

var specs = []keySpec{
	str("llm.provider",
		func(c *Config, v string) { c.LLM.Provider = v }, func(c Config) string { return c.LLM.Provider }),
	str("llm.fast_model",
		func(c *Config, v string) { c.LLM.FastModel = v }, func(c Config) string { return c.LLM.FastModel }),
	str("llm.deep_model",
		func(c *Config, v string) { c.LLM.DeepModel = v }, func(c Config) string { return c.LLM.DeepModel }),
	str("llm.judge_model",
		func(c *Config, v string) { c.LLM.JudgeModel = v }, func(c Config) string { return c.LLM.JudgeModel }),
	str("llm.embed_model",
		func(c *Config, v string) { c.LLM.EmbedModel = v }, func(c Config) string { return c.LLM.EmbedModel }),
	str("llm.generation_provider",
		func(c *Config, v string) { c.LLM.GenerationProvider = v }, func(c Config) string { return c.LLM.GenerationProvider }),
	str("llm.openrouter_model",
		func(c *Config, v string) { c.LLM.OpenRouterModel = v }, func(c Config) string { return c.LLM.OpenRouterModel }),
	str("ollama.base_url",
		func(c *Config, v string) { c.Ollama.BaseURL = v }, func(c Config) string { return c.Ollama.BaseURL }),
	str("gemini.base_url",
		func(c *Config, v string) { c.Gemini.BaseURL = v }, func(c Config) string { return c.Gemini.BaseURL }),
	integer("skills.embedding_dim",
		func(c *Config, v int) { c.Skills.EmbeddingDim = v }, func(c Config) int { return c.Skills.EmbeddingDim }),
	float("skills.duplicate_threshold",
		func(c *Config, v float64) { c.Skills.DuplicateThreshold = v }, func(c Config) float64 { return c.Skills.DuplicateThreshold }),
	integer("retrieval.top_k",
		func(c *Config, v int) { c.Retrieval.TopK = v }, func(c Config) int { return c.Retrieval.TopK }),
	float("retrieval.min_score",
		func(c *Config, v float64) { c.Retrieval.MinScore = v }, func(c Config) float64 { return c.Retrieval.MinScore }),
	integer("retry.max_retries",
		func(c *Config, v int) { c.Retry.MaxRetries = v }, func(c Config) int { return c.Retry.MaxRetries }),
	{
		key: "retry.base_delay", typ: kDuration, env: envName("retry.base_delay"),
		apply:   func(c *Config, v any) { c.Retry.BaseDelay = v.(time.Duration) },
		extract: func(c Config) any { return c.Retry.BaseDelay },
	},
	str("storage.backend",
		func(c *Config, v string) { c.Storage.Backend = v }, func(c Config) string { return c.Storage.Backend }),
	str("storage.data_dir",
		func(c *Config, v string) { c.Storage.DataDir = v }, func(c Config) string { return c.Storage.DataDir }),
	str("eval.dataset_path",
		func(c *Config, v string) { c.Eval.DatasetPath = v }, func(c Config) string { return c.Eval.DatasetPath }),
	str("eval.kb_path",
		func(c *Config, v string) { c.Eval.KBPath = v }, func(c Config) string { return c.Eval.KBPath }),
	str("eval.split",
		func(c *Config, v string) { c.Eval.Split = v }, func(c Config) string { return c.Eval.Split }),
	str("eval.output_dir",
		func(c *Config, v string) { c.Eval.OutputDir = v }, func(c Config) string { return c.Eval.OutputDir }),
	integer("eval.snapshot_every",
		func(c *Config, v int) { c.Eval.SnapshotEvery = v }, func(c Config) int { return c.Eval.SnapshotEvery }),
	integer("server.port",
		func(c *Config, v int) { c.Server.Port = v }, func(c Config) int { return c.Server.Port }),
	str("log.level",
		func(c *Config, v string) { c.Log.Level = v }, func(c Config) string { return c.Log.Level }),

	secret("secrets.gemini_api_key", "SKILLBENCH_GEMINI_API_KEY", "GOOGLE_API_KEY",
		func(c *Config, v string) { c.Secrets.GeminiAPIKey = v }, func(c Config) string { return c.Secrets.GeminiAPIKey }),
	secret("secrets.openrouter_api_key", "SKILLBENCH_OPENROUTER_API_KEY", "",
		func(c *Config, v string) { c.Secrets.OpenRouterAPIKey = v }, func(c Config) string { return c.Secrets.OpenRouterAPIKey }),
	secret("secrets.api_token", "SKILLBENCH_API_TOKEN", "",
		func(c *Config, v string) { c.Secrets.APIToken = v }, func(c Config) string { return c.Secrets.APIToken }),
	secret("secrets.postgres_dsn", "SKILLBENCH_POSTGRES_DSN", "",
		func(c *Config, v string) { c.Secrets.PostgresDSN = v }, func(c Config) string { return c.Secrets.PostgresDSN }),
}

func (s keySpec) envVars() []string {
	if s.alias == "" {
		return []string{s.env}
	}
	return []string{s.env, s.alias}
}

// convert parses raw into the key's Go type.
func (s keySpec) convert(raw string) (any, error) {
	switch s.typ {
	case kInt:
		i, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", raw)
		}
		return i, nil
	case kFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", raw)
		}
		return f, nil
	case kDuration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q", raw)
		}
		return d, nil
	default:
		return raw, nil
	}
}

func (s keySpec) parse(cfg *Config, raw string) error {
	v, err := s.convert(raw)
	if err != nil {
		return err
	}
	s.apply(cfg, v)
	return nil
}

func (s keySpec) fromViper(cfg *Config, v *viper.Viper) error {
	switch s.typ {
	case kString:
		s.apply(cfg, v.GetString(s.key))
		return nil
	default:
		return s.parse(cfg, fmt.Sprint(v.Get(s.key)))
	}
}
