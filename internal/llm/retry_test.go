package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/skillbench/internal/engine"
	"github.com/kalambet/skillbench/internal/retry"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestWithRetry_RetriesTransientChat(t *testing.T) {
	attempts := 0
	e := &mockEngine{chatFn: func(string, []engine.Message, *engine.Schema) (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("gemini generate: unexpected status 429: quota")
		}
		return `{"score": 5}`, nil
	}}
	g := WithRetry(newTestClient(e), retry.Policy{Sleep: noSleep})

	v, err := g.Judge(context.Background(), "q", "a", "gt")
	require.NoError(t, err)
	assert.Equal(t, 5.0, v.Score)
	assert.Equal(t, 3, attempts)
}

func TestWithRetry_MalformedReplyNotRetried(t *testing.T) {
	attempts := 0
	e := &mockEngine{chatFn: func(string, []engine.Message, *engine.Schema) (string, error) {
		attempts++
		return "nope", nil
	}}
	g := WithRetry(newTestClient(e), retry.Policy{Sleep: noSleep})

	_, err := g.Extract(context.Background(), "t")
	assert.ErrorIs(t, err, ErrMalformedReply)
	assert.Equal(t, 1, attempts)
}

func TestWithRetry_ExhaustsBudget(t *testing.T) {
	attempts := 0
	e := &mockEngine{embedFn: func(string, engine.EmbedMode) ([]float32, error) {
		attempts++
		return nil, errors.New("connection refused")
	}}
	g := WithRetry(newTestClient(e), retry.Policy{MaxRetries: 2, Sleep: noSleep})

	_, err := g.Embed(context.Background(), "t", engine.EmbedDocument)
	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
}
