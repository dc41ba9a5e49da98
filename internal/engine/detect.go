package engine

import "fmt"

// Provider names accepted by Detect.
const (
	ProviderOllama     = "ollama"
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
)

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Provider         string
	OllamaBaseURL    string
	GeminiBaseURL    string
	GeminiAPIKey     string
	OpenRouterAPIKey string
	OpenRouterURL    string
	EmbeddingDim     int
}

// Detect builds the Engine for the configured provider. OpenRouter has no
// embedding endpoint, so it is paired with Ollama for embeddings.
func Detect(cfg DetectConfig) (Engine, error) {
	switch cfg.Provider {
	case "", ProviderOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL), nil
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("gemini provider requires an API key (set GOOGLE_API_KEY)")
		}
		return NewGeminiEngine(cfg.GeminiAPIKey, cfg.GeminiBaseURL, cfg.EmbeddingDim), nil
	case ProviderOpenRouter:
		if cfg.OpenRouterAPIKey == "" {
			return nil, fmt.Errorf("openrouter provider requires an API key (set SKILLBENCH_OPENROUTER_API_KEY)")
		}
		return &Split{
			Chatter:  NewOpenRouterEngine(cfg.OpenRouterAPIKey, cfg.OpenRouterURL),
			Embedder: NewOllamaEngine(cfg.OllamaBaseURL),
		}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
