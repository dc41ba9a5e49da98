package storage

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// VectorCandidates returns up to k skills ranked by cosine similarity to
// vec, best first. Equal scores keep table order.
func (s *Store) VectorCandidates(ctx context.Context, vec []float32, k int) ([]ScoredSkill, error) {
	if err := s.ValidateEmbedding(vec); err != nil {
		return nil, err
	}
	top, err := s.scanNearest(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	return s.hydrate(ctx, top)
}

// CheckDuplicate returns the most similar skill when its cosine similarity
// to vec exceeds threshold, or nil when there is none.
func (s *Store) CheckDuplicate(ctx context.Context, vec []float32, threshold float64) (*Skill, error) {
	if err := s.ValidateEmbedding(vec); err != nil {
		return nil, err
	}
	top, err := s.scanNearest(ctx, vec, 1)
	if err != nil {
		return nil, err
	}
	if len(top) == 0 || top[0].Score <= threshold {
		return nil, nil
	}
	sk, err := s.GetSkill(ctx, top[0].ID)
	if err != nil {
		return nil, err
	}
	return &sk, nil
}

// scanNearest does a brute-force scan over id + embedding only.
func (s *Store) scanNearest(ctx context.Context, vec []float32, k int) ([]idScore, error) {
	queryNorm := norm(vec)
	if queryNorm == 0 || k <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM skills ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	top := newTopK(k)
	var buf []float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		top.offer(id, cosine(vec, buf, queryNorm))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return top.sorted(), nil
}

// KeywordCandidates runs a full-text query over title, problem, conditions
// and keywords. Scores are negated bm25 ranks, so higher is better.
func (s *Store) KeywordCandidates(ctx context.Context, text string, k int) ([]ScoredSkill, error) {
	match := SanitizeFTSQuery(text)
	if match == "" || k <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT s.id, bm25(skills_fts) AS score
		FROM skills_fts
		JOIN skills s ON s.rowid = skills_fts.rowid
		WHERE skills_fts MATCH ?
		ORDER BY score ASC, s.rowid ASC
		LIMIT ?`, match, k)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	defer rows.Close()

	var hits []idScore
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, fmt.Errorf("scanning keyword hit: %w", err)
		}
		hits = append(hits, idScore{ID: id, Score: -rank})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating keyword hits: %w", err)
	}
	return s.hydrate(ctx, hits)
}

// hydrate loads full skills for ranked ids, preserving rank order.
func (s *Store) hydrate(ctx context.Context, ranked []idScore) ([]ScoredSkill, error) {
	if len(ranked) == 0 {
		return nil, nil
	}

	args := make([]any, len(ranked))
	for i, r := range ranked {
		args[i] = r.ID
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+skillColumns+` FROM skills WHERE id IN (?`+
		strings.Repeat(",?", len(ranked)-1)+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching candidates: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]Skill, len(ranked))
	for rows.Next() {
		sk, err := scanSkill(rows)
		if err != nil {
			return nil, err
		}
		byID[sk.ID] = sk
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]ScoredSkill, 0, len(ranked))
	for _, r := range ranked {
		sk, ok := byID[r.ID]
		if !ok {
			continue
		}
		out = append(out, ScoredSkill{Skill: sk, Score: r.Score})
	}
	return out, nil
}

// SanitizeFTSQuery turns free text into an FTS5 OR-query of quoted terms.
// It returns "" when nothing searchable remains.
func SanitizeFTSQuery(input string) string {
	terms := QueryTerms(input)
	for i, t := range terms {
		terms[i] = `"` + t + `"`
	}
	return strings.Join(terms, " OR ")
}

// QueryTerms lower-cases input and splits it into unique search terms.
// Punctuation, terms shorter than three characters and full-text operators
// are dropped.
func QueryTerms(input string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, input)

	seen := make(map[string]bool)
	var terms []string
	for _, word := range strings.Fields(cleaned) {
		if len([]rune(word)) < 3 {
			continue
		}
		lower := strings.ToLower(word)
		switch lower {
		case "and", "or", "not", "near":
			continue
		}
		if seen[lower] {
			continue
		}
		seen[lower] = true
		terms = append(terms, lower)
	}
	return terms
}
