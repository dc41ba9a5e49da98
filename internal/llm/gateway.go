// Package llm turns engine chat and embedding calls into the typed
// operations the evaluation needs: answer generation, judging, skill
// selection, extraction and refinement.
package llm

import (
	"context"
	"errors"

	"github.com/kalambet/skillbench/internal/engine"
	"github.com/kalambet/skillbench/internal/storage"
)

// ErrMalformedReply is returned when a structured reply cannot be decoded
// or fails schema validation and no safe default exists.
var ErrMalformedReply = errors.New("malformed model reply")

// NeutralScore is used when a judge reply cannot be parsed.
const NeutralScore = 3.0

// Score bounds of the judge scale.
const (
	MinScore = 1.0
	MaxScore = 5.0
)

// Verdict is the judge's assessment of one answer.
type Verdict struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// ExtractedSkill holds the fields of a new skill drafted from a transcript.
type ExtractedSkill struct {
	Title       string   `json:"title"`
	Problem     string   `json:"problem"`
	Resolution  string   `json:"resolution"`
	Conditions  []string `json:"conditions"`
	Keywords    []string `json:"keywords"`
	ProductArea string   `json:"product_area"`
	IssueType   string   `json:"issue_type"`
}

// RefinedSkill is an updated skill plus a description of each change.
type RefinedSkill struct {
	ExtractedSkill
	Changes []string `json:"changes"`
}

// Gateway is the set of model operations used by the harness and the
// skill service.
type Gateway interface {
	Generate(ctx context.Context, query, playbook string) (string, error)
	Judge(ctx context.Context, query, answer, groundTruth string) (Verdict, error)
	SelectSkill(ctx context.Context, query string, candidates []storage.Skill) (string, error)
	Extract(ctx context.Context, transcript string) (ExtractedSkill, error)
	Refine(ctx context.Context, skill storage.Skill, transcript, feedback string) (RefinedSkill, error)
	Embed(ctx context.Context, text string, mode engine.EmbedMode) ([]float32, error)
}
