package retrieval

import "sort"

const (
	vectorWeight  = 0.7
	keywordWeight = 0.3
)

// Candidate is a raw ranked hit from one retrieval channel. Score is the
// channel's native relevance: cosine similarity for vectors, a
// higher-is-better text rank for keywords.
type Candidate struct {
	ID    string
	Score float64
}

// Scored is a fused candidate.
type Scored struct {
	ID           string
	Score        float64
	VectorScore  float64
	KeywordScore float64
}

// Fuse merges a vector-ranked and a keyword-ranked candidate list into a
// single list ordered by descending fused score.
//
// Whether the keyword list is non-empty is decided once per call: when it
// is, every candidate is scored 0.7*vector + 0.3*keyword (a missing component
// counts as 0); when it is not, the fused score is the clamped vector score.
// Keyword scores are min-max normalised within the call, and a list with a
// single distinct score normalises to 1.0.
//
// Equal fused scores keep first-appearance order: the vector list in its own
// order, then keyword-only candidates in keyword order. Candidates below
// minScore are dropped and at most topK are returned.
func Fuse(vector, keyword []Candidate, minScore float64, topK int) []Scored {
	if topK <= 0 {
		return nil
	}

	keywordResults := len(keyword) > 0

	order := make([]string, 0, len(vector)+len(keyword))
	vec := make(map[string]float64, len(vector))
	for _, c := range vector {
		if _, seen := vec[c.ID]; seen {
			continue
		}
		vec[c.ID] = clamp01(c.Score)
		order = append(order, c.ID)
	}

	kw := normalizeKeyword(keyword)
	keywordOnly := make(map[string]bool)
	for _, c := range keyword {
		if _, inVec := vec[c.ID]; inVec || keywordOnly[c.ID] {
			continue
		}
		keywordOnly[c.ID] = true
		order = append(order, c.ID)
	}

	results := make([]Scored, 0, len(order))
	for _, id := range order {
		v := vec[id]
		k := kw[id]
		fused := v
		if keywordResults {
			fused = vectorWeight*v + keywordWeight*k
		}
		fused = clamp01(fused)
		if fused < minScore {
			continue
		}
		results = append(results, Scored{ID: id, Score: fused, VectorScore: v, KeywordScore: k})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// normalizeKeyword min-max scales keyword scores to [0,1]. The first
// occurrence of an id is the one that counts.
func normalizeKeyword(keyword []Candidate) map[string]float64 {
	out := make(map[string]float64, len(keyword))
	if len(keyword) == 0 {
		return out
	}

	lo, hi := keyword[0].Score, keyword[0].Score
	for _, c := range keyword[1:] {
		if c.Score < lo {
			lo = c.Score
		}
		if c.Score > hi {
			hi = c.Score
		}
	}
	span := hi - lo

	for _, c := range keyword {
		if _, seen := out[c.ID]; seen {
			continue
		}
		if span == 0 {
			out[c.ID] = 1.0
			continue
		}
		out[c.ID] = (c.Score - lo) / span
	}
	return out
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
