package engine

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/kalambet/skillbench/internal/gemini"
)

// GeminiEngine adapts the Gemini REST client to the Engine interface.
type GeminiEngine struct {
	client *gemini.Client
	dim    int
}

// NewGeminiEngine creates a GeminiEngine. dim is requested as the output
// width of every embedding.
func NewGeminiEngine(apiKey, baseURL string, dim int) *GeminiEngine {
	return &GeminiEngine{client: gemini.New(apiKey, baseURL), dim: dim}
}

// Chat maps system messages to the system instruction and assistant turns
// to the "model" role.
func (e *GeminiEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	var req gemini.GenerateRequest
	var system []gemini.Part
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, gemini.Part{Text: m.Content})
		case "assistant":
			req.Contents = append(req.Contents, gemini.Content{Role: "model", Parts: []gemini.Part{{Text: m.Content}}})
		default:
			req.Contents = append(req.Contents, gemini.Content{Role: "user", Parts: []gemini.Part{{Text: m.Content}}})
		}
	}
	if len(system) > 0 {
		req.SystemInstruction = &gemini.Content{Parts: system}
	}
	if jsonSchema != nil {
		req.GenerationConfig = &gemini.GenerationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   toGeminiSchema(jsonSchema),
		}
	}
	return e.client.Generate(ctx, model, req)
}

func (e *GeminiEngine) Embed(ctx context.Context, model, text string, mode EmbedMode) ([]float32, error) {
	task := gemini.TaskRetrievalQuery
	if mode == EmbedDocument {
		task = gemini.TaskRetrievalDocument
	}
	return e.client.Embed(ctx, model, text, task, e.dim)
}

func (e *GeminiEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

// geminiSchema is the OpenAPI flavour of Schema the API expects, with
// upper-case type names.
type geminiSchema struct {
	Type        string                   `json:"type"`
	Description string                   `json:"description,omitempty"`
	Properties  map[string]*geminiSchema `json:"properties,omitempty"`
	Items       *geminiSchema            `json:"items,omitempty"`
	Required    []string                 `json:"required,omitempty"`
	Enum        []string                 `json:"enum,omitempty"`
	Minimum     *float64                 `json:"minimum,omitempty"`
	Maximum     *float64                 `json:"maximum,omitempty"`
}

func convertSchema(s *Schema) *geminiSchema {
	if s == nil {
		return nil
	}
	out := &geminiSchema{
		Type:        strings.ToUpper(s.Type),
		Description: s.Description,
		Items:       convertSchema(s.Items),
		Required:    s.Required,
		Enum:        s.Enum,
		Minimum:     s.Minimum,
		Maximum:     s.Maximum,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*geminiSchema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = convertSchema(v)
		}
	}
	return out
}

func toGeminiSchema(s *Schema) json.RawMessage {
	b, _ := json.Marshal(convertSchema(s))
	return b
}
