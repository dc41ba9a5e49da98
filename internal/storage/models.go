package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrInvalidEmbedding is returned when an embedding does not have the
// store's configured dimension.
var ErrInvalidEmbedding = errors.New("invalid embedding")

// DefaultEmbeddingDim is the embedding width used when none is configured.
const DefaultEmbeddingDim = 768

// DefaultConfidence is assigned to skills created without an explicit confidence.
const DefaultConfidence = 0.5

// Skill is a versioned resolution playbook.
type Skill struct {
	ID             string    `json:"skill_id"`
	Title          string    `json:"title"`
	Version        int       `json:"version"`
	Problem        string    `json:"problem"`
	Resolution     string    `json:"resolution"`
	Conditions     []string  `json:"conditions"`
	Keywords       []string  `json:"keywords"`
	Embedding      []float32 `json:"-"`
	ProductArea    string    `json:"product_area,omitempty"`
	IssueType      string    `json:"issue_type,omitempty"`
	Confidence     float64   `json:"confidence"`
	TimesUsed      int       `json:"times_used"`
	TimesConfirmed int       `json:"times_confirmed"`
	EvalRun        string    `json:"eval_run,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// SkillUpdate holds the fields to change on an existing skill. Nil fields
// are left untouched.
type SkillUpdate struct {
	Title       *string
	Problem     *string
	Resolution  *string
	Conditions  []string
	Keywords    []string
	Embedding   []float32
	ProductArea *string
	IssueType   *string
	Confidence  *float64

	// Changes describes the edit and is recorded with the revision.
	Changes []string
}

// ScoredSkill is a skill with a raw retrieval score attached.
type ScoredSkill struct {
	Skill
	Score float64
}

// Revision records one successful update of a skill.
type Revision struct {
	ID        string    `json:"id"`
	SkillID   string    `json:"skill_id"`
	Version   int       `json:"version"`
	Changes   []string  `json:"changes"`
	Diff      string    `json:"diff,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SkillFilter narrows ListSkills.
type SkillFilter struct {
	EvalRun string
	Limit   int
	Offset  int
}
