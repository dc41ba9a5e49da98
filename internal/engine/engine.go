package engine

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by backends for operations they do not offer,
// such as embeddings on a chat-only provider.
var ErrUnsupported = errors.New("operation not supported by backend")

// Engine abstracts an inference backend (Ollama, Gemini, OpenRouter).
// The LLM gateway and the embedder depend on this interface instead of a
// concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	// When jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// Embed returns the embedding vector for text. mode selects the
	// query or document side of asymmetric retrieval models.
	Embed(ctx context.Context, model, text string, mode EmbedMode) ([]float32, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool
}

// ModelManager is implemented by local backends that can list and download
// models.
type ModelManager interface {
	ListModels(ctx context.Context) ([]string, error)
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}
