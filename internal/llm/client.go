package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/skillbench/internal/composer"
	"github.com/kalambet/skillbench/internal/engine"
	"github.com/kalambet/skillbench/internal/storage"
)

// Embedder produces fixed-width embeddings.
type Embedder interface {
	Embed(ctx context.Context, text string, mode engine.EmbedMode) ([]float32, error)
}

// Models names the model used for each kind of call.
type Models struct {
	Fast  string // answer generation
	Deep  string // extraction and refinement
	Judge string // scoring and skill selection
}

// Client implements Gateway on top of an engine.
type Client struct {
	engine    engine.Engine
	generator engine.Engine
	genModel  string
	embedder  Embedder
	models    Models
	composer  *composer.Composer
	validator *validator
	logger    *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithGenerator routes answer generation to a different engine and model.
func WithGenerator(e engine.Engine, model string) Option {
	return func(c *Client) {
		c.generator = e
		c.genModel = model
	}
}

// WithComposer overrides the prompt composer.
func WithComposer(comp *composer.Composer) Option {
	return func(c *Client) { c.composer = comp }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a Client. Empty Judge and Deep models fall back to Fast.
func NewClient(e engine.Engine, emb Embedder, models Models, opts ...Option) *Client {
	if models.Judge == "" {
		models.Judge = models.Fast
	}
	if models.Deep == "" {
		models.Deep = models.Fast
	}
	c := &Client{
		engine:    e,
		generator: e,
		genModel:  models.Fast,
		embedder:  emb,
		models:    models,
		composer:  composer.New(0),
		validator: &validator{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate answers query, optionally guided by a playbook.
func (c *Client) Generate(ctx context.Context, query, playbook string) (string, error) {
	var pbs []composer.Playbook
	if strings.TrimSpace(playbook) != "" {
		pbs = []composer.Playbook{{Title: "Matched skill", Resolution: playbook, Score: 1}}
	}
	out, err := c.generator.Chat(ctx, c.genModel, c.composer.Compose(query, pbs), nil)
	if err != nil {
		return "", fmt.Errorf("generating answer: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Judge scores answer against groundTruth. Engine failures are returned;
// an unparseable reply yields NeutralScore.
func (c *Client) Judge(ctx context.Context, query, answer, groundTruth string) (Verdict, error) {
	prompt := fmt.Sprintf(judgePrompt, query, answer, groundTruth)
	resp, err := c.engine.Chat(ctx, c.models.Judge, []engine.Message{{Role: "user", Content: prompt}}, judgeSchema)
	if err != nil {
		return Verdict{}, fmt.Errorf("judging answer: %w", err)
	}
	return c.parseVerdict(resp), nil
}

func (c *Client) parseVerdict(resp string) Verdict {
	neutral := Verdict{Score: NeutralScore, Reasoning: "unparseable judge reply"}

	doc, err := extractJSON(resp)
	if err != nil {
		c.logger.Warn("judge reply without JSON, using neutral score", "resp", resp)
		return neutral
	}
	var raw struct {
		Score     json.Number `json:"score"`
		Reasoning string      `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(doc), &raw); err != nil {
		c.logger.Warn("judge reply not decodable, using neutral score", "resp", resp, "error", err)
		return neutral
	}
	score, err := raw.Score.Float64()
	if err != nil {
		c.logger.Warn("judge score not a number, using neutral score", "score", raw.Score.String(), "error", err)
		return neutral
	}
	if score < MinScore {
		score = MinScore
	} else if score > MaxScore {
		score = MaxScore
	}
	return Verdict{Score: score, Reasoning: raw.Reasoning}
}

// SelectSkill asks the judge model to pick one of candidates. It returns ""
// for "none", for an id outside candidates and for an unparseable reply.
func (c *Client) SelectSkill(ctx context.Context, query string, candidates []storage.Skill) (string, error) {
	if len(candidates) == 0 {
		return "", nil
	}
	prompt := fmt.Sprintf(selectionPrompt, query, formatCandidates(candidates))
	resp, err := c.engine.Chat(ctx, c.models.Judge, []engine.Message{{Role: "user", Content: prompt}}, selectionSchema)
	if err != nil {
		return "", fmt.Errorf("selecting skill: %w", err)
	}

	doc, err := extractJSON(resp)
	if err != nil {
		c.logger.Warn("skill selection reply without JSON, treating as no match", "resp", resp)
		return "", nil
	}
	var out struct {
		SkillID string `json:"skill_id"`
	}
	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		c.logger.Warn("skill selection reply not decodable, treating as no match", "error", err)
		return "", nil
	}
	id := strings.TrimSpace(out.SkillID)
	for _, cand := range candidates {
		if cand.ID == id {
			return id, nil
		}
	}
	return "", nil
}

// Extract drafts a new skill from a transcript.
func (c *Client) Extract(ctx context.Context, transcript string) (ExtractedSkill, error) {
	prompt := fmt.Sprintf(extractionPrompt, playbookFormat, transcript)
	var out ExtractedSkill
	if err := c.structured(ctx, prompt, extractionSchema, &out); err != nil {
		return ExtractedSkill{}, fmt.Errorf("extracting skill: %w", err)
	}
	if err := checkRequired(out); err != nil {
		return ExtractedSkill{}, fmt.Errorf("extracting skill: %w", err)
	}
	return out, nil
}

// Refine merges what transcript teaches into skill.
func (c *Client) Refine(ctx context.Context, skill storage.Skill, transcript, feedback string) (RefinedSkill, error) {
	if feedback == "" {
		feedback = "(none)"
	}
	prompt := fmt.Sprintf(refinementPrompt,
		skill.Title, skill.Problem, skill.Resolution,
		strings.Join(skill.Conditions, "; "), strings.Join(skill.Keywords, ", "),
		transcript, feedback)
	var out RefinedSkill
	if err := c.structured(ctx, prompt, refinementSchema, &out); err != nil {
		return RefinedSkill{}, fmt.Errorf("refining skill %s: %w", skill.ID, err)
	}
	if err := checkRequired(out.ExtractedSkill); err != nil {
		return RefinedSkill{}, fmt.Errorf("refining skill %s: %w", skill.ID, err)
	}
	return out, nil
}

// Embed delegates to the configured embedder.
func (c *Client) Embed(ctx context.Context, text string, mode engine.EmbedMode) ([]float32, error) {
	return c.embedder.Embed(ctx, text, mode)
}

// structured runs a schema-constrained chat on the deep model, validates the
// reply and decodes it into out.
func (c *Client) structured(ctx context.Context, prompt string, schema *engine.Schema, out any) error {
	resp, err := c.engine.Chat(ctx, c.models.Deep, []engine.Message{{Role: "user", Content: prompt}}, schema)
	if err != nil {
		return err
	}
	doc, err := extractJSON(resp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if err := c.validator.validate(schema, doc); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	return nil
}

func checkRequired(s ExtractedSkill) error {
	var missing []string
	if strings.TrimSpace(s.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(s.Problem) == "" {
		missing = append(missing, "problem")
	}
	if strings.TrimSpace(s.Resolution) == "" {
		missing = append(missing, "resolution")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: empty %s", ErrMalformedReply, strings.Join(missing, ", "))
	}
	return nil
}
