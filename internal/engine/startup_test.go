package engine

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEngine struct {
	isRunning bool
	models    map[string]bool
	pulled    []string
}

func (m *mockEngine) Chat(_ context.Context, _ string, _ []Message, _ *Schema) (string, error) {
	return "", nil
}
func (m *mockEngine) Embed(_ context.Context, _, _ string, _ EmbedMode) ([]float32, error) {
	return nil, nil
}
func (m *mockEngine) IsRunning(_ context.Context) bool { return m.isRunning }
func (m *mockEngine) ListModels(_ context.Context) ([]string, error) {
	var names []string
	for n := range m.models {
		names = append(names, n)
	}
	return names, nil
}
func (m *mockEngine) HasModel(_ context.Context, name string) bool { return m.models[name] }
func (m *mockEngine) PullModel(_ context.Context, name string, cb func(PullProgress)) error {
	m.pulled = append(m.pulled, name)
	if cb != nil {
		cb(PullProgress{Status: "success"})
	}
	return nil
}

// chatOnly has no model management.
type chatOnly struct{ running bool }

func (c chatOnly) Chat(context.Context, string, []Message, *Schema) (string, error) { return "", nil }
func (c chatOnly) Embed(context.Context, string, string, EmbedMode) ([]float32, error) {
	return nil, ErrUnsupported
}
func (c chatOnly) IsRunning(context.Context) bool { return c.running }

func TestEnsureReady_AllModelsPresent(t *testing.T) {
	m := &mockEngine{
		isRunning: true,
		models:    map[string]bool{"llama3.2": true, "nomic-embed-text": true},
	}
	require.NoError(t, EnsureReady(context.Background(), m, []string{"llama3.2", "nomic-embed-text"}, io.Discard))
	assert.Empty(t, m.pulled)
}

func TestEnsureReady_PullsMissingOnce(t *testing.T) {
	m := &mockEngine{
		isRunning: true,
		models:    map[string]bool{"llama3.2": true},
	}
	models := []string{"llama3.2", "nomic-embed-text", "nomic-embed-text", ""}
	require.NoError(t, EnsureReady(context.Background(), m, models, io.Discard))
	assert.Equal(t, []string{"nomic-embed-text"}, m.pulled)
}

func TestEnsureReady_EngineDown(t *testing.T) {
	m := &mockEngine{isRunning: false, models: map[string]bool{}}
	assert.Error(t, EnsureReady(context.Background(), m, []string{"llama3.2"}, io.Discard))
}

func TestEnsureReady_SplitPullsEmbeddingModels(t *testing.T) {
	local := &mockEngine{isRunning: true, models: map[string]bool{}}
	s := &Split{Chatter: chatOnly{running: true}, Embedder: local}
	require.NoError(t, EnsureReady(context.Background(), s, []string{"nomic-embed-text"}, io.Discard))
	assert.Equal(t, []string{"nomic-embed-text"}, local.pulled)
}

func TestEnsureReady_RemoteSkipsPull(t *testing.T) {
	assert.NoError(t, EnsureReady(context.Background(), chatOnly{running: true}, []string{"gpt-4o"}, io.Discard))
}
