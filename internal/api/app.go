package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/skillbench/internal/storage"
)

// SkillStore is the read and cleanup surface the HTTP API needs. Both the
// SQLite and Postgres stores satisfy it.
type SkillStore interface {
	GetSkill(ctx context.Context, id string) (storage.Skill, error)
	ListSkills(ctx context.Context, f storage.SkillFilter) ([]storage.Skill, error)
	ListRevisions(ctx context.Context, skillID string) ([]storage.Revision, error)
	DeleteSkillsByRun(ctx context.Context, runTag string) (int64, error)
}

type AppDeps struct {
	Store SkillStore
	Token string
}

// NewAppHandler serves the skill library. Everything except /health needs
// the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/skills/{id}", handleGetSkill(deps))
		r.Get("/skills/{id}/revisions", handleListRevisions(deps))
		r.Get("/runs/{prefix}/skills", handleListRunSkills(deps))
		r.Delete("/runs/{prefix}", handleDeleteRun(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func handleGetSkill(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		sk, err := deps.Store.GetSkill(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "skill not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get skill: %v", err)
			return
		}
		writeJSON(w, sk)
	}
}

func handleListRevisions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if _, err := deps.Store.GetSkill(r.Context(), id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "skill not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get skill: %v", err)
			return
		}

		revs, err := deps.Store.ListRevisions(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list revisions: %v", err)
			return
		}
		if revs == nil {
			revs = []storage.Revision{}
		}
		writeJSON(w, revs)
	}
}

func handleListRunSkills(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefix := strings.TrimSpace(chi.URLParam(r, "prefix"))
		if prefix == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "run prefix is required")
			return
		}

		list, err := deps.Store.ListSkills(r.Context(), storage.SkillFilter{
			EvalRun: prefix,
			Limit:   parseIntParam(r, "limit", 50, 500),
			Offset:  parseIntParam(r, "offset", 0, 0),
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list skills: %v", err)
			return
		}
		if list == nil {
			list = []storage.Skill{}
		}
		writeJSON(w, list)
	}
}

func handleDeleteRun(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		prefix := strings.TrimSpace(chi.URLParam(r, "prefix"))
		if prefix == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "run prefix is required")
			return
		}

		n, err := deps.Store.DeleteSkillsByRun(r.Context(), prefix)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete run skills: %v", err)
			return
		}
		writeJSON(w, map[string]any{"status": "deleted", "deleted": n})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
