package llm

import (
	"context"

	"github.com/kalambet/skillbench/internal/engine"
	"github.com/kalambet/skillbench/internal/retry"
	"github.com/kalambet/skillbench/internal/storage"
)

// retrying wraps every Gateway call in a retry policy.
type retrying struct {
	inner  Gateway
	policy retry.Policy
}

// WithRetry returns a Gateway that retries transient failures of g.
func WithRetry(g Gateway, p retry.Policy) Gateway {
	return &retrying{inner: g, policy: p}
}

func (r *retrying) Generate(ctx context.Context, query, playbook string) (string, error) {
	return retry.Do(ctx, r.policy, "generate", func(ctx context.Context) (string, error) {
		return r.inner.Generate(ctx, query, playbook)
	})
}

func (r *retrying) Judge(ctx context.Context, query, answer, groundTruth string) (Verdict, error) {
	return retry.Do(ctx, r.policy, "judge", func(ctx context.Context) (Verdict, error) {
		return r.inner.Judge(ctx, query, answer, groundTruth)
	})
}

func (r *retrying) SelectSkill(ctx context.Context, query string, candidates []storage.Skill) (string, error) {
	return retry.Do(ctx, r.policy, "select", func(ctx context.Context) (string, error) {
		return r.inner.SelectSkill(ctx, query, candidates)
	})
}

func (r *retrying) Extract(ctx context.Context, transcript string) (ExtractedSkill, error) {
	return retry.Do(ctx, r.policy, "extract", func(ctx context.Context) (ExtractedSkill, error) {
		return r.inner.Extract(ctx, transcript)
	})
}

func (r *retrying) Refine(ctx context.Context, skill storage.Skill, transcript, feedback string) (RefinedSkill, error) {
	return retry.Do(ctx, r.policy, "refine", func(ctx context.Context) (RefinedSkill, error) {
		return r.inner.Refine(ctx, skill, transcript, feedback)
	})
}

func (r *retrying) Embed(ctx context.Context, text string, mode engine.EmbedMode) ([]float32, error) {
	return retry.Do(ctx, r.policy, "embed", func(ctx context.Context) ([]float32, error) {
		return r.inner.Embed(ctx, text, mode)
	})
}
