// Package skills orchestrates the skill lifecycle: finding the playbook that
// fits a query, drafting new playbooks from transcripts and refining
// existing ones. It is shared by the evaluation harness and the MCP tools.
package skills

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/skillbench/internal/engine"
	"github.com/kalambet/skillbench/internal/llm"
	"github.com/kalambet/skillbench/internal/retrieval"
	"github.com/kalambet/skillbench/internal/storage"
)

// DefaultDuplicateThreshold is the cosine similarity above which a new
// skill is considered a duplicate of an existing one.
const DefaultDuplicateThreshold = 0.95

// Store is the persistence the service needs. storage.Store and
// pgstore.Store both implement it.
type Store interface {
	retrieval.CandidateSource

	CreateSkill(ctx context.Context, sk storage.Skill) (storage.Skill, error)
	GetSkill(ctx context.Context, id string) (storage.Skill, error)
	UpdateSkill(ctx context.Context, id string, u storage.SkillUpdate) (storage.Skill, error)
	CheckDuplicate(ctx context.Context, vec []float32, threshold float64) (*storage.Skill, error)
	IncrementUsage(ctx context.Context, id string) error
	ListSkillIDsByRun(ctx context.Context, runTag string) ([]string, error)
	DeleteSkillsByRun(ctx context.Context, runTag string) (int64, error)
}

// SearchResult is the outcome of a search. Skill is nil when no candidate
// fits the query.
type SearchResult struct {
	Query      string             `json:"query"`
	Skill      *storage.Skill     `json:"skill"`
	Candidates []retrieval.Result `json:"-"`
	Elapsed    time.Duration      `json:"-"`
}

// CreateOptions qualify a Create call.
type CreateOptions struct {
	// ResolutionConfirmed records that the transcript ended with a confirmed fix.
	ResolutionConfirmed bool
	// RunTag tags the new skill as owned by an evaluation run.
	RunTag string
	// ProductArea and IssueType fill in fields the extraction left empty.
	ProductArea string
	IssueType   string
}

// CreateResult reports the skill a Create call produced or reused.
type CreateResult struct {
	SkillID string `json:"skill_id"`
	Title   string `json:"title"`
	Created bool   `json:"created"`
	Version int    `json:"version"`
}

// UpdateResult reports a successful refinement.
type UpdateResult struct {
	SkillID string   `json:"skill_id"`
	Title   string   `json:"title"`
	Version int      `json:"version"`
	Changes []string `json:"changes"`
}

// Service ties the store, the model gateway and hybrid retrieval together.
type Service struct {
	store     Store
	gateway   llm.Gateway
	searcher  *retrieval.HybridSearcher
	threshold float64
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRetrieval sets the number of fused candidates and their score floor.
func WithRetrieval(topK int, minScore float64) Option {
	return func(s *Service) { s.searcher = retrieval.NewHybridSearcher(s.store, topK, minScore) }
}

// WithDuplicateThreshold overrides DefaultDuplicateThreshold.
func WithDuplicateThreshold(t float64) Option {
	return func(s *Service) {
		if t > 0 {
			s.threshold = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a Service.
func NewService(store Store, gateway llm.Gateway, opts ...Option) *Service {
	s := &Service{
		store:     store,
		gateway:   gateway,
		threshold: DefaultDuplicateThreshold,
		logger:    slog.Default(),
	}
	s.searcher = retrieval.NewHybridSearcher(store, retrieval.DefaultTopK, retrieval.DefaultMinScore)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying store.
func (s *Service) Store() Store { return s.store }

// Candidates embeds query and returns the fused retrieval candidates.
func (s *Service) Candidates(ctx context.Context, query string) ([]retrieval.Result, error) {
	vec, err := s.gateway.Embed(ctx, query, engine.EmbedQuery)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return s.searcher.Search(ctx, query, vec)
}

// Search finds the single skill that best fits query. Retrieval narrows the
// store to a few candidates and the judge model picks one or none.
func (s *Service) Search(ctx context.Context, query string) (SearchResult, error) {
	start := time.Now()
	res := SearchResult{Query: query}

	cands, err := s.Candidates(ctx, query)
	if err != nil {
		return res, err
	}
	res.Candidates = cands
	if len(cands) == 0 {
		res.Elapsed = time.Since(start)
		return res, nil
	}

	skills := make([]storage.Skill, len(cands))
	for i, c := range cands {
		skills[i] = c.Skill
	}
	id, err := s.gateway.SelectSkill(ctx, query, skills)
	if err != nil {
		return res, err
	}
	for i := range skills {
		if skills[i].ID == id {
			res.Skill = &skills[i]
			break
		}
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

// MarkUsed increments the usage counter of a skill served as context.
func (s *Service) MarkUsed(ctx context.Context, id string) error {
	return s.store.IncrementUsage(ctx, id)
}

// Create drafts a skill from transcript and stores it unless a
// near-identical skill already exists, in which case that skill is returned
// with Created false.
func (s *Service) Create(ctx context.Context, transcript string, opts CreateOptions) (CreateResult, error) {
	draft, err := s.gateway.Extract(ctx, transcript)
	if err != nil {
		return CreateResult{}, err
	}

	vec, err := s.gateway.Embed(ctx, EmbedText(draft.Problem, draft.Conditions, draft.Keywords), engine.EmbedDocument)
	if err != nil {
		return CreateResult{}, fmt.Errorf("embedding skill: %w", err)
	}

	dup, err := s.store.CheckDuplicate(ctx, vec, s.threshold)
	if err != nil {
		return CreateResult{}, fmt.Errorf("checking duplicates: %w", err)
	}
	if dup != nil {
		s.logger.Debug("duplicate skill, reusing", "skill_id", dup.ID, "title", dup.Title)
		return CreateResult{SkillID: dup.ID, Title: dup.Title, Created: false, Version: dup.Version}, nil
	}

	sk := storage.Skill{
		Title:       draft.Title,
		Problem:     draft.Problem,
		Resolution:  draft.Resolution,
		Conditions:  draft.Conditions,
		Keywords:    draft.Keywords,
		Embedding:   vec,
		ProductArea: firstNonEmpty(draft.ProductArea, opts.ProductArea),
		IssueType:   firstNonEmpty(draft.IssueType, opts.IssueType),
		EvalRun:     opts.RunTag,
	}
	if opts.ResolutionConfirmed {
		sk.TimesConfirmed = 1
	}
	created, err := s.store.CreateSkill(ctx, sk)
	if err != nil {
		return CreateResult{}, err
	}
	s.logger.Info("skill created", "skill_id", created.ID, "title", created.Title, "run", opts.RunTag)
	return CreateResult{SkillID: created.ID, Title: created.Title, Created: true, Version: created.Version}, nil
}

// Update refines the skill with what transcript teaches and stores it as
// the next version. It returns storage.ErrNotFound for an unknown id.
func (s *Service) Update(ctx context.Context, id, transcript, feedback string) (UpdateResult, error) {
	cur, err := s.store.GetSkill(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return UpdateResult{}, fmt.Errorf("skill %s: %w", id, err)
		}
		return UpdateResult{}, err
	}

	refined, err := s.gateway.Refine(ctx, cur, transcript, feedback)
	if err != nil {
		return UpdateResult{}, err
	}

	vec, err := s.gateway.Embed(ctx, EmbedText(refined.Problem, refined.Conditions, refined.Keywords), engine.EmbedDocument)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("embedding skill: %w", err)
	}

	u := storage.SkillUpdate{
		Title:      &refined.Title,
		Problem:    &refined.Problem,
		Resolution: &refined.Resolution,
		Conditions: refined.Conditions,
		Keywords:   refined.Keywords,
		Embedding:  vec,
		Changes:    refined.Changes,
	}
	if refined.ProductArea != "" {
		u.ProductArea = &refined.ProductArea
	}
	if refined.IssueType != "" {
		u.IssueType = &refined.IssueType
	}

	updated, err := s.store.UpdateSkill(ctx, id, u)
	if err != nil {
		return UpdateResult{}, err
	}
	s.logger.Info("skill updated", "skill_id", updated.ID, "version", updated.Version)

	changes := refined.Changes
	if changes == nil {
		changes = []string{}
	}
	return UpdateResult{SkillID: updated.ID, Title: updated.Title, Version: updated.Version, Changes: changes}, nil
}

// OwnedBy returns the ids of skills tagged with runTag.
func (s *Service) OwnedBy(ctx context.Context, runTag string) ([]string, error) {
	return s.store.ListSkillIDsByRun(ctx, runTag)
}

// ClearRun deletes the skills of one run.
func (s *Service) ClearRun(ctx context.Context, runTag string) (int64, error) {
	return s.store.DeleteSkillsByRun(ctx, runTag)
}

// EmbedText is the text a skill is embedded from. The resolution is left
// out so that retrieval matches on the problem, not on the fix.
func EmbedText(problem string, conditions, keywords []string) string {
	return strings.Join([]string{
		problem,
		strings.Join(conditions, " "),
		strings.Join(keywords, " "),
	}, " ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
