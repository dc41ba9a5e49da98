package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiEngine_ChatMapsRolesAndSchema(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer srv.Close()

	e := NewGeminiEngine("k", srv.URL, 768)
	schema := &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"keywords": {Type: "array", Items: &Schema{Type: "string"}},
		},
	}
	_, err := e.Chat(context.Background(), "gemini-2.0-flash", []Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "u1"},
		{Role: "assistant", Content: "a1"},
	}, schema)
	require.NoError(t, err)

	assert.Contains(t, got, "systemInstruction", "system message maps to systemInstruction")
	contents := got["contents"].([]any)
	require.Len(t, contents, 2)
	assert.Equal(t, "model", contents[1].(map[string]any)["role"])

	cfg := got["generationConfig"].(map[string]any)
	rs := cfg["responseSchema"].(map[string]any)
	assert.Equal(t, "OBJECT", rs["type"])
	items := rs["properties"].(map[string]any)["keywords"].(map[string]any)["items"].(map[string]any)
	assert.Equal(t, "STRING", items["type"])
}

func TestGeminiEngine_EmbedTaskType(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"embedding":{"values":[1,0]}}`))
	}))
	defer srv.Close()

	e := NewGeminiEngine("k", srv.URL, 2)
	_, err := e.Embed(context.Background(), "text-embedding-004", "doc", EmbedDocument)
	require.NoError(t, err)
	assert.Equal(t, "RETRIEVAL_DOCUMENT", got["taskType"])
	assert.Equal(t, float64(2), got["outputDimensionality"])
}
