package engine

import (
	"context"

	"github.com/kalambet/skillbench/internal/ollama"
)

// Prefixes expected by nomic-style asymmetric embedding models.
const (
	ollamaQueryPrefix    = "search_query: "
	ollamaDocumentPrefix = "search_document: "
)

// OllamaEngine adapts the internal/ollama.Client to the Engine interface.
type OllamaEngine struct {
	client *ollama.Client
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL)}
}

func (e *OllamaEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}
	return e.client.Chat(ctx, ollama.ChatRequest{
		Model:    model,
		Messages: msgs,
		Format:   jsonSchema.JSON(),
	})
}

func (e *OllamaEngine) Embed(ctx context.Context, model, text string, mode EmbedMode) ([]float32, error) {
	prefix := ollamaQueryPrefix
	if mode == EmbedDocument {
		prefix = ollamaDocumentPrefix
	}
	return e.client.Embed(ctx, model, prefix+text, 0)
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	return e.client.ListModels(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
			})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}
