package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/kalambet/skillbench/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	vector, keyword []storage.ScoredSkill
	vecErr          error
	gotK            int
}

func (f *fakeSource) VectorCandidates(_ context.Context, _ []float32, k int) ([]storage.ScoredSkill, error) {
	f.gotK = k
	return f.vector, f.vecErr
}

func (f *fakeSource) KeywordCandidates(context.Context, string, int) ([]storage.ScoredSkill, error) {
	return f.keyword, nil
}

func hit(id string, score float64) storage.ScoredSkill {
	return storage.ScoredSkill{Skill: storage.Skill{ID: id, Title: "title " + id}, Score: score}
}

func TestHybridSearcher_FusesAndHydrates(t *testing.T) {
	src := &fakeSource{
		vector:  []storage.ScoredSkill{hit("A", 0.9), hit("B", 0.4)},
		keyword: []storage.ScoredSkill{hit("A", 7.5), hit("C", 2.5)},
	}
	s := NewHybridSearcher(src, 2, 0)

	got, err := s.Search(context.Background(), "refund", []float32{1, 0})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, 4, src.gotK, "vector list over-fetches 2*topK")
	assert.Equal(t, "A", got[0].ID)
	assert.Equal(t, "title A", got[0].Skill.Title)
	assert.InDelta(t, 0.93, got[0].Score, 1e-9)
	assert.Equal(t, "B", got[1].ID)
	assert.InDelta(t, 0.28, got[1].Score, 1e-9)
}

func TestHybridSearcher_KeywordOnlyHitIsHydrated(t *testing.T) {
	src := &fakeSource{
		keyword: []storage.ScoredSkill{hit("C", 1.0)},
	}
	got, err := NewHybridSearcher(src, 3, 0.1).Search(context.Background(), "refund", []float32{1, 0})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "title C", got[0].Skill.Title)
	assert.InDelta(t, 0.3, got[0].Score, 1e-9)
}

func TestHybridSearcher_PropagatesSourceError(t *testing.T) {
	src := &fakeSource{vecErr: errors.New("disk I/O error")}
	_, err := NewHybridSearcher(src, 3, 0).Search(context.Background(), "x", []float32{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector candidates")
}

func TestNewHybridSearcher_DefaultTopK(t *testing.T) {
	assert.Equal(t, DefaultTopK, NewHybridSearcher(&fakeSource{}, 0, 0).TopK())
}
