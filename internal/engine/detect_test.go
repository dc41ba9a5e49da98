package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect_DefaultsToOllama(t *testing.T) {
	e, err := Detect(DetectConfig{OllamaBaseURL: "http://localhost:11434"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaEngine{}, e)
}

func TestDetect_GeminiRequiresKey(t *testing.T) {
	_, err := Detect(DetectConfig{Provider: ProviderGemini})
	require.Error(t, err)

	e, err := Detect(DetectConfig{Provider: ProviderGemini, GeminiAPIKey: "k", EmbeddingDim: 768})
	require.NoError(t, err)
	assert.IsType(t, &GeminiEngine{}, e)
}

func TestDetect_OpenRouterPairsWithOllamaEmbeddings(t *testing.T) {
	e, err := Detect(DetectConfig{Provider: ProviderOpenRouter, OpenRouterAPIKey: "k"})
	require.NoError(t, err)
	s, ok := e.(*Split)
	require.True(t, ok, "Detect returned %T, want *Split", e)
	assert.IsType(t, &OllamaEngine{}, s.Embedder)
}

func TestDetect_UnknownProvider(t *testing.T) {
	_, err := Detect(DetectConfig{Provider: "mlx"})
	assert.Error(t, err)
}

func TestOpenRouterEngine_EmbedUnsupported(t *testing.T) {
	_, err := NewOpenRouterEngine("k", "").Embed(context.Background(), "m", "x", EmbedQuery)
	assert.ErrorIs(t, err, ErrUnsupported)
}
