package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kalambet/skillbench/internal/storage"
)

const skillColumns = `id, title, version, problem, resolution, conditions, keywords, embedding,
	product_area, issue_type, confidence, times_used, times_confirmed, eval_run, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSkill(r rowScanner) (storage.Skill, error) {
	var sk storage.Skill
	var emb pgvector.Vector
	if err := r.Scan(&sk.ID, &sk.Title, &sk.Version, &sk.Problem, &sk.Resolution,
		pq.Array(&sk.Conditions), pq.Array(&sk.Keywords), &emb,
		&sk.ProductArea, &sk.IssueType, &sk.Confidence, &sk.TimesUsed, &sk.TimesConfirmed, &sk.EvalRun,
		&sk.CreatedAt, &sk.UpdatedAt); err != nil {
		return storage.Skill{}, err
	}
	sk.Embedding = emb.Slice()
	sk.CreatedAt = sk.CreatedAt.UTC()
	sk.UpdatedAt = sk.UpdatedAt.UTC()
	if sk.Conditions == nil {
		sk.Conditions = []string{}
	}
	if sk.Keywords == nil {
		sk.Keywords = []string{}
	}
	return sk, nil
}

// searchText is the document the keyword index is built from.
func searchText(sk storage.Skill) string {
	return strings.Join([]string{
		sk.Title, sk.Problem, strings.Join(sk.Conditions, " "), strings.Join(sk.Keywords, " "),
	}, " ")
}

func (s *Store) validate(v []float32) error {
	if len(v) != s.dim {
		return fmt.Errorf("%w: got %d dimensions, want %d", storage.ErrInvalidEmbedding, len(v), s.dim)
	}
	return nil
}

// CreateSkill persists a new skill at version 1. A missing ID is generated.
func (s *Store) CreateSkill(ctx context.Context, sk storage.Skill) (storage.Skill, error) {
	if strings.TrimSpace(sk.Title) == "" || strings.TrimSpace(sk.Problem) == "" {
		return storage.Skill{}, fmt.Errorf("creating skill: title and problem are required")
	}
	if err := s.validate(sk.Embedding); err != nil {
		return storage.Skill{}, fmt.Errorf("creating skill: %w", err)
	}
	if sk.ID == "" {
		sk.ID = uuid.New().String()
	}
	sk.Version = 1
	if sk.Confidence == 0 {
		sk.Confidence = storage.DefaultConfidence
	}
	if sk.Conditions == nil {
		sk.Conditions = []string{}
	}
	if sk.Keywords == nil {
		sk.Keywords = []string{}
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	sk.CreatedAt, sk.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx, `INSERT INTO skills (`+skillColumns+`, search_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		sk.ID, sk.Title, sk.Version, sk.Problem, sk.Resolution, pq.Array(sk.Conditions), pq.Array(sk.Keywords),
		pgvector.NewVector(sk.Embedding), sk.ProductArea, sk.IssueType, sk.Confidence, sk.TimesUsed,
		sk.TimesConfirmed, sk.EvalRun, sk.CreatedAt, sk.UpdatedAt, searchText(sk))
	if err != nil {
		return storage.Skill{}, fmt.Errorf("inserting skill %s: %w", sk.ID, err)
	}
	return sk, nil
}

// GetSkill returns the skill with the given id or storage.ErrNotFound.
func (s *Store) GetSkill(ctx context.Context, id string) (storage.Skill, error) {
	sk, err := scanSkill(s.db.QueryRowContext(ctx, `SELECT `+skillColumns+` FROM skills WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Skill{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Skill{}, fmt.Errorf("getting skill %s: %w", id, err)
	}
	return sk, nil
}

// ListSkills returns skills oldest first, optionally limited to one run.
func (s *Store) ListSkills(ctx context.Context, f storage.SkillFilter) ([]storage.Skill, error) {
	q := `SELECT ` + skillColumns + ` FROM skills`
	var args []any
	if f.EvalRun != "" {
		args = append(args, f.EvalRun)
		q += fmt.Sprintf(` WHERE eval_run = $%d`, len(args))
	}
	q += ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing skills: %w", err)
	}
	defer rows.Close()

	var out []storage.Skill
	for rows.Next() {
		sk, err := scanSkill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sk)
	}
	return out, rows.Err()
}

// UpdateSkill applies u under a row lock, bumps the version and records a
// revision with a diff of the resolution.
func (s *Store) UpdateSkill(ctx context.Context, id string, u storage.SkillUpdate) (storage.Skill, error) {
	if u.Embedding != nil {
		if err := s.validate(u.Embedding); err != nil {
			return storage.Skill{}, fmt.Errorf("updating skill %s: %w", id, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Skill{}, fmt.Errorf("beginning update transaction: %w", err)
	}
	defer tx.Rollback()

	cur, err := scanSkill(tx.QueryRowContext(ctx, `SELECT `+skillColumns+` FROM skills WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Skill{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Skill{}, fmt.Errorf("loading skill %s: %w", id, err)
	}

	next := storage.ApplyUpdate(cur, u)
	next.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)

	if _, err := tx.ExecContext(ctx, `UPDATE skills SET
		title = $1, version = $2, problem = $3, resolution = $4, conditions = $5, keywords = $6, embedding = $7,
		product_area = $8, issue_type = $9, confidence = $10, updated_at = $11, search_text = $12
		WHERE id = $13`,
		next.Title, next.Version, next.Problem, next.Resolution, pq.Array(next.Conditions), pq.Array(next.Keywords),
		pgvector.NewVector(next.Embedding), next.ProductArea, next.IssueType, next.Confidence, next.UpdatedAt,
		searchText(next), id); err != nil {
		return storage.Skill{}, fmt.Errorf("updating skill %s: %w", id, err)
	}

	changes := u.Changes
	if changes == nil {
		changes = []string{}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO skill_revisions (id, skill_id, version, changes, diff, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.New().String(), id, next.Version, pq.Array(changes),
		storage.ResolutionDiff(cur.Resolution, next.Resolution, cur.Version, next.Version), next.UpdatedAt); err != nil {
		return storage.Skill{}, fmt.Errorf("recording revision for %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return storage.Skill{}, fmt.Errorf("committing update for %s: %w", id, err)
	}
	return next, nil
}

// IncrementUsage bumps the times_used counter.
func (s *Store) IncrementUsage(ctx context.Context, id string) error {
	return s.execOne(ctx, `UPDATE skills SET times_used = times_used + 1 WHERE id = $1`, id)
}

func (s *Store) execOne(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("updating skill %v: %w", args[0], err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListSkillIDsByRun returns ids of skills tagged with exactly runTag.
func (s *Store) ListSkillIDsByRun(ctx context.Context, runTag string) ([]string, error) {
	if runTag == "" {
		return nil, fmt.Errorf("listing run skills: empty run tag")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM skills WHERE eval_run = $1 ORDER BY created_at ASC, id ASC`, runTag)
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

// DeleteSkillsByRun removes every skill tagged with exactly runTag.
// Revisions go with them through the foreign key.
func (s *Store) DeleteSkillsByRun(ctx context.Context, runTag string) (int64, error) {
	if runTag == "" {
		return 0, fmt.Errorf("deleting run skills: empty run tag")
	}
	return s.delete(ctx, `eval_run = $1`, runTag)
}

// DeleteTaggedSkills removes every skill whose run tag starts with
// namespace. Untagged skills are never touched.
func (s *Store) DeleteTaggedSkills(ctx context.Context, namespace string) (int64, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(namespace)
	return s.delete(ctx, `eval_run <> '' AND eval_run LIKE $1`, escaped+"%")
}

func (s *Store) delete(ctx context.Context, where string, arg any) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM skills WHERE `+where, arg)
	if err != nil {
		return 0, fmt.Errorf("deleting skills: %w", err)
	}
	return res.RowsAffected()
}

// ListRevisions returns the revision history of a skill, oldest first.
func (s *Store) ListRevisions(ctx context.Context, skillID string) ([]storage.Revision, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, skill_id, version, changes, diff, created_at
		FROM skill_revisions WHERE skill_id = $1 ORDER BY version ASC`, skillID)
	if err != nil {
		return nil, fmt.Errorf("listing revisions for %s: %w", skillID, err)
	}
	defer rows.Close()

	var out []storage.Revision
	for rows.Next() {
		var r storage.Revision
		if err := rows.Scan(&r.ID, &r.SkillID, &r.Version, pq.Array(&r.Changes), &r.Diff, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.CreatedAt = r.CreatedAt.UTC()
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
