package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

const skillColumns = `id, title, version, problem, resolution, conditions, keywords, embedding,
	product_area, issue_type, confidence, times_used, times_confirmed, eval_run, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSkill(r rowScanner) (Skill, error) {
	var sk Skill
	var conditions, keywords, createdAt, updatedAt string
	var blob []byte
	if err := r.Scan(&sk.ID, &sk.Title, &sk.Version, &sk.Problem, &sk.Resolution, &conditions, &keywords, &blob,
		&sk.ProductArea, &sk.IssueType, &sk.Confidence, &sk.TimesUsed, &sk.TimesConfirmed, &sk.EvalRun,
		&createdAt, &updatedAt); err != nil {
		return Skill{}, err
	}
	if err := json.Unmarshal([]byte(conditions), &sk.Conditions); err != nil {
		return Skill{}, fmt.Errorf("decoding conditions for %s: %w", sk.ID, err)
	}
	if err := json.Unmarshal([]byte(keywords), &sk.Keywords); err != nil {
		return Skill{}, fmt.Errorf("decoding keywords for %s: %w", sk.ID, err)
	}
	emb, err := decodeFloat32s(blob)
	if err != nil {
		return Skill{}, fmt.Errorf("decoding embedding for %s: %w", sk.ID, err)
	}
	sk.Embedding = emb
	if sk.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Skill{}, fmt.Errorf("parsing created_at for %s: %w", sk.ID, err)
	}
	if sk.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return Skill{}, fmt.Errorf("parsing updated_at for %s: %w", sk.ID, err)
	}
	return sk, nil
}

func encodeList(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

// ValidateEmbedding rejects vectors that do not match the store's width.
func (s *Store) ValidateEmbedding(v []float32) error {
	return checkDim(v, s.dim)
}

func checkDim(v []float32, dim int) error {
	if len(v) != dim {
		return fmt.Errorf("%w: got %d dimensions, want %d", ErrInvalidEmbedding, len(v), dim)
	}
	return nil
}

// CreateSkill persists a new skill at version 1. A missing ID is generated.
func (s *Store) CreateSkill(ctx context.Context, sk Skill) (Skill, error) {
	if strings.TrimSpace(sk.Title) == "" || strings.TrimSpace(sk.Problem) == "" {
		return Skill{}, fmt.Errorf("creating skill: title and problem are required")
	}
	if err := s.ValidateEmbedding(sk.Embedding); err != nil {
		return Skill{}, fmt.Errorf("creating skill: %w", err)
	}

	if sk.ID == "" {
		sk.ID = uuid.New().String()
	}
	sk.Version = 1
	if sk.Confidence == 0 {
		sk.Confidence = DefaultConfidence
	}
	now := time.Now().UTC()
	sk.CreatedAt, sk.UpdatedAt = now, now
	if sk.Conditions == nil {
		sk.Conditions = []string{}
	}
	if sk.Keywords == nil {
		sk.Keywords = []string{}
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO skills (`+skillColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sk.ID, sk.Title, sk.Version, sk.Problem, sk.Resolution, encodeList(sk.Conditions), encodeList(sk.Keywords),
		encodeFloat32s(sk.Embedding), sk.ProductArea, sk.IssueType, sk.Confidence, sk.TimesUsed, sk.TimesConfirmed,
		sk.EvalRun, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return Skill{}, fmt.Errorf("inserting skill %s: %w", sk.ID, err)
	}
	return sk, nil
}

// GetSkill returns the skill with the given id or ErrNotFound.
func (s *Store) GetSkill(ctx context.Context, id string) (Skill, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+skillColumns+` FROM skills WHERE id = ?`, id)
	sk, err := scanSkill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Skill{}, ErrNotFound
	}
	if err != nil {
		return Skill{}, fmt.Errorf("getting skill %s: %w", id, err)
	}
	return sk, nil
}

// ListSkills returns skills newest first.
func (s *Store) ListSkills(ctx context.Context, f SkillFilter) ([]Skill, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + skillColumns + ` FROM skills`
	var args []any
	if f.EvalRun != "" {
		query += ` WHERE eval_run = ?`
		args = append(args, f.EvalRun)
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing skills: %w", err)
	}
	defer rows.Close()

	var out []Skill
	for rows.Next() {
		sk, err := scanSkill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}

// UpdateSkill applies u to the skill and bumps its version by one. The
// previous and new resolution are diffed into a revision row in the same
// transaction.
func (s *Store) UpdateSkill(ctx context.Context, id string, u SkillUpdate) (Skill, error) {
	if u.Embedding != nil {
		if err := s.ValidateEmbedding(u.Embedding); err != nil {
			return Skill{}, fmt.Errorf("updating skill %s: %w", id, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Skill{}, fmt.Errorf("beginning update transaction: %w", err)
	}
	defer tx.Rollback()

	cur, err := scanSkill(tx.QueryRowContext(ctx, `SELECT `+skillColumns+` FROM skills WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Skill{}, ErrNotFound
	}
	if err != nil {
		return Skill{}, fmt.Errorf("loading skill %s: %w", id, err)
	}

	next := ApplyUpdate(cur, u)
	next.UpdatedAt = time.Now().UTC()

	res, err := tx.ExecContext(ctx, `UPDATE skills SET
		title = ?, version = ?, problem = ?, resolution = ?, conditions = ?, keywords = ?, embedding = ?,
		product_area = ?, issue_type = ?, confidence = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		next.Title, next.Version, next.Problem, next.Resolution, encodeList(next.Conditions), encodeList(next.Keywords),
		encodeFloat32s(next.Embedding), next.ProductArea, next.IssueType, next.Confidence,
		next.UpdatedAt.Format(time.RFC3339Nano), id, cur.Version)
	if err != nil {
		return Skill{}, fmt.Errorf("updating skill %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return Skill{}, err
	} else if n == 0 {
		return Skill{}, fmt.Errorf("updating skill %s: concurrent modification at version %d", id, cur.Version)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO skill_revisions (id, skill_id, version, changes, diff, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), id, next.Version, encodeList(u.Changes),
		ResolutionDiff(cur.Resolution, next.Resolution, cur.Version, next.Version),
		next.UpdatedAt.Format(time.RFC3339Nano)); err != nil {
		return Skill{}, fmt.Errorf("recording revision for %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return Skill{}, fmt.Errorf("committing update for %s: %w", id, err)
	}
	return next, nil
}

// ApplyUpdate returns cur with the non-nil fields of u applied and the
// version incremented. The id and counters are never changed.
func ApplyUpdate(cur Skill, u SkillUpdate) Skill {
	next := cur
	if u.Title != nil {
		next.Title = *u.Title
	}
	if u.Problem != nil {
		next.Problem = *u.Problem
	}
	if u.Resolution != nil {
		next.Resolution = *u.Resolution
	}
	if u.Conditions != nil {
		next.Conditions = u.Conditions
	}
	if u.Keywords != nil {
		next.Keywords = u.Keywords
	}
	if u.Embedding != nil {
		next.Embedding = u.Embedding
	}
	if u.ProductArea != nil {
		next.ProductArea = *u.ProductArea
	}
	if u.IssueType != nil {
		next.IssueType = *u.IssueType
	}
	if u.Confidence != nil {
		next.Confidence = *u.Confidence
	}
	next.Version = cur.Version + 1
	return next
}

// ResolutionDiff renders a unified diff between two resolution texts, or ""
// when they are identical.
func ResolutionDiff(before, after string, fromVersion, toVersion int) string {
	if before == after {
		return ""
	}
	edits := myers.ComputeEdits(span.URIFromPath("resolution.md"), before, after)
	unified := gotextdiff.ToUnified(fmt.Sprintf("v%d", fromVersion), fmt.Sprintf("v%d", toVersion), before, edits)
	return fmt.Sprint(unified)
}

// IncrementUsage bumps the times_used counter.
func (s *Store) IncrementUsage(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE skills SET times_used = times_used + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("incrementing usage for %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSkillIDsByRun returns ids of skills tagged with exactly runTag, oldest first.
func (s *Store) ListSkillIDsByRun(ctx context.Context, runTag string) ([]string, error) {
	if runTag == "" {
		return nil, fmt.Errorf("listing run skills: empty run tag")
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM skills WHERE eval_run = ? ORDER BY created_at ASC, id ASC`, runTag)
	if err != nil {
		return nil, fmt.Errorf("listing run skills: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteSkillsByRun removes every skill tagged with exactly runTag together
// with its revisions. Untagged skills are never touched.
func (s *Store) DeleteSkillsByRun(ctx context.Context, runTag string) (int64, error) {
	if runTag == "" {
		return 0, fmt.Errorf("deleting run skills: empty run tag")
	}
	return s.deleteTagged(ctx, `eval_run = ?`, runTag)
}

// DeleteTaggedSkills removes every skill whose run tag starts with namespace.
// An empty namespace matches all run-tagged skills but still leaves
// untagged data alone.
func (s *Store) DeleteTaggedSkills(ctx context.Context, namespace string) (int64, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(namespace)
	return s.deleteTagged(ctx, `eval_run != '' AND eval_run LIKE ? ESCAPE '\'`, escaped+"%")
}

func (s *Store) deleteTagged(ctx context.Context, where string, arg any) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM skill_revisions WHERE skill_id IN (SELECT id FROM skills WHERE `+where+`)`, arg); err != nil {
		return 0, fmt.Errorf("deleting revisions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM skills WHERE `+where, arg)
	if err != nil {
		return 0, fmt.Errorf("deleting skills: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing delete: %w", err)
	}
	return n, nil
}

// ListRevisions returns the revision history of a skill, oldest first.
func (s *Store) ListRevisions(ctx context.Context, skillID string) ([]Revision, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, skill_id, version, changes, diff, created_at
		FROM skill_revisions WHERE skill_id = ? ORDER BY version ASC`, skillID)
	if err != nil {
		return nil, fmt.Errorf("listing revisions for %s: %w", skillID, err)
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		var r Revision
		var changes, createdAt string
		if err := rows.Scan(&r.ID, &r.SkillID, &r.Version, &changes, &r.Diff, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(changes), &r.Changes); err != nil {
			return nil, fmt.Errorf("decoding changes for revision %s: %w", r.ID, err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for revision %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountSkills returns the number of stored skills.
func (s *Store) CountSkills(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM skills`).Scan(&n)
	return n, err
}
