package engine

import (
	"context"
	"fmt"

	"github.com/kalambet/skillbench/internal/proxy"
)

// OpenRouterEngine is a chat-only Engine backed by OpenRouter.
type OpenRouterEngine struct {
	client *proxy.Client
}

// NewOpenRouterEngine creates an OpenRouterEngine. An empty baseURL selects
// the public endpoint.
func NewOpenRouterEngine(apiKey, baseURL string) *OpenRouterEngine {
	return &OpenRouterEngine{client: proxy.NewClientWithBaseURL(apiKey, baseURL)}
}

func (e *OpenRouterEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	req := proxy.ChatRequest{Model: model, Messages: make([]proxy.Message, len(messages))}
	for i, m := range messages {
		req.Messages[i] = proxy.Message{Role: m.Role, Content: m.Content}
	}
	if jsonSchema != nil {
		req.ResponseFormat = &proxy.ResponseFormat{
			Type:       "json_schema",
			JSONSchema: &proxy.JSONSchema{Name: "reply", Schema: jsonSchema.JSON()},
		}
	}
	return e.client.Complete(ctx, req)
}

func (e *OpenRouterEngine) Embed(context.Context, string, string, EmbedMode) ([]float32, error) {
	return nil, fmt.Errorf("openrouter embed: %w", ErrUnsupported)
}

func (e *OpenRouterEngine) IsRunning(ctx context.Context) bool {
	_, err := e.client.ListModels(ctx)
	return err == nil
}

// Split routes chat to one engine and embeddings to another.
type Split struct {
	Chatter  Engine
	Embedder Engine
}

func (s *Split) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	return s.Chatter.Chat(ctx, model, messages, jsonSchema)
}

func (s *Split) Embed(ctx context.Context, model, text string, mode EmbedMode) ([]float32, error) {
	return s.Embedder.Embed(ctx, model, text, mode)
}

func (s *Split) IsRunning(ctx context.Context) bool {
	return s.Chatter.IsRunning(ctx) && s.Embedder.IsRunning(ctx)
}
