package pgstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/kalambet/skillbench/internal/storage"
)

// VectorCandidates returns up to k skills ranked by cosine similarity to
// vec, best first.
func (s *Store) VectorCandidates(ctx context.Context, vec []float32, k int) ([]storage.ScoredSkill, error) {
	if err := s.validate(vec); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}
	return s.scored(ctx, `SELECT `+skillColumns+`, 1 - (embedding <=> $1) AS score
		FROM skills
		ORDER BY embedding <=> $1 ASC, created_at ASC, id ASC
		LIMIT $2`, pgvector.NewVector(vec), k)
}

// CheckDuplicate returns the most similar skill when its cosine similarity
// to vec exceeds threshold, or nil.
func (s *Store) CheckDuplicate(ctx context.Context, vec []float32, threshold float64) (*storage.Skill, error) {
	top, err := s.VectorCandidates(ctx, vec, 1)
	if err != nil {
		return nil, err
	}
	if len(top) == 0 || top[0].Score <= threshold {
		return nil, nil
	}
	return &top[0].Skill, nil
}

// KeywordCandidates ranks skills by ts_rank against an OR-query of the
// terms in text.
func (s *Store) KeywordCandidates(ctx context.Context, text string, k int) ([]storage.ScoredSkill, error) {
	terms := storage.QueryTerms(text)
	if len(terms) == 0 || k <= 0 {
		return nil, nil
	}
	query := strings.Join(terms, " | ")
	return s.scored(ctx, `SELECT `+skillColumns+`, ts_rank(search, q) AS score
		FROM skills, to_tsquery('english', $1) q
		WHERE search @@ q
		ORDER BY score DESC, created_at ASC, id ASC
		LIMIT $2`, query, k)
}

func (s *Store) scored(ctx context.Context, q string, args ...any) ([]storage.ScoredSkill, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("searching skills: %w", err)
	}
	defer rows.Close()

	var out []storage.ScoredSkill
	for rows.Next() {
		var score float64
		sk, err := scanSkill(scoreScanner{rows, &score})
		if err != nil {
			return nil, err
		}
		out = append(out, storage.ScoredSkill{Skill: sk, Score: score})
	}
	return out, rows.Err()
}

// scoreScanner appends a trailing score column to a skill scan.
type scoreScanner struct {
	rows  rowScanner
	score *float64
}

func (s scoreScanner) Scan(dest ...any) error {
	return s.rows.Scan(append(dest, s.score)...)
}
