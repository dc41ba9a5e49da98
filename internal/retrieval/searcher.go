package retrieval

import (
	"context"
	"fmt"

	"github.com/kalambet/skillbench/internal/storage"
	"golang.org/x/sync/errgroup"
)

// Default search parameters.
const (
	DefaultTopK     = 3
	DefaultMinScore = 0.0
)

// CandidateSource yields the two raw ranked lists consumed by Fuse.
type CandidateSource interface {
	VectorCandidates(ctx context.Context, vec []float32, k int) ([]storage.ScoredSkill, error)
	KeywordCandidates(ctx context.Context, text string, k int) ([]storage.ScoredSkill, error)
}

// Result is a fused search hit.
type Result struct {
	Skill storage.Skill
	Scored
}

// HybridSearcher fetches vector and keyword candidates concurrently and
// fuses them.
type HybridSearcher struct {
	source   CandidateSource
	topK     int
	minScore float64
}

// NewHybridSearcher creates a searcher. topK <= 0 selects DefaultTopK.
func NewHybridSearcher(source CandidateSource, topK int, minScore float64) *HybridSearcher {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &HybridSearcher{source: source, topK: topK, minScore: minScore}
}

// TopK returns the configured result size.
func (h *HybridSearcher) TopK() int { return h.topK }

// Search ranks stored skills against a query. vec is the query embedding,
// text the raw query. The vector list is over-fetched at 2×topK.
func (h *HybridSearcher) Search(ctx context.Context, text string, vec []float32) ([]Result, error) {
	var vecHits, kwHits []storage.ScoredSkill

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vecHits, err = h.source.VectorCandidates(gCtx, vec, 2*h.topK)
		if err != nil {
			return fmt.Errorf("vector candidates: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		kwHits, err = h.source.KeywordCandidates(gCtx, text, 2*h.topK)
		if err != nil {
			return fmt.Errorf("keyword candidates: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byID := make(map[string]storage.Skill, len(vecHits)+len(kwHits))
	vecCands := toCandidates(vecHits, byID)
	kwCands := toCandidates(kwHits, byID)

	fused := Fuse(vecCands, kwCands, h.minScore, h.topK)
	out := make([]Result, len(fused))
	for i, f := range fused {
		out[i] = Result{Skill: byID[f.ID], Scored: f}
	}
	return out, nil
}

func toCandidates(hits []storage.ScoredSkill, byID map[string]storage.Skill) []Candidate {
	out := make([]Candidate, len(hits))
	for i, h := range hits {
		out[i] = Candidate{ID: h.ID, Score: h.Score}
		if _, ok := byID[h.ID]; !ok {
			byID[h.ID] = h.Skill
		}
	}
	return out
}
