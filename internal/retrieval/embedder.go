package retrieval

import (
	"context"
	"fmt"
	"math"

	"github.com/kalambet/skillbench/internal/engine"
	"github.com/kalambet/skillbench/internal/storage"
)

// Embedder wraps an Engine to produce unit-length embeddings of a fixed width.
type Embedder struct {
	engine engine.Engine
	model  string
	dim    int
}

// NewEmbedder creates an Embedder using the given Engine, model name and
// expected dimension.
func NewEmbedder(e engine.Engine, model string, dim int) *Embedder {
	return &Embedder{engine: e, model: model, dim: dim}
}

// Dim returns the embedding width the Embedder enforces.
func (e *Embedder) Dim() int { return e.dim }

// Embed returns the L2-normalised embedding of text. A vector of the wrong
// width is rejected with storage.ErrInvalidEmbedding.
func (e *Embedder) Embed(ctx context.Context, text string, mode engine.EmbedMode) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text, mode)
	if err != nil {
		return nil, fmt.Errorf("embedding %s text: %w", mode, err)
	}
	if len(vec) != e.dim {
		return nil, fmt.Errorf("%w: model %s returned %d dimensions, want %d",
			storage.ErrInvalidEmbedding, e.model, len(vec), e.dim)
	}
	return Normalize(vec), nil
}

// Normalize scales v to unit length in place and returns it. A zero vector
// is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return v
	}
	n := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
	return v
}
