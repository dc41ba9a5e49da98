package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/skillbench/internal/storage"
)

const testToken = "test-token-12345"

func setupAppHandler(t *testing.T, token string) (http.Handler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:", storage.WithEmbeddingDim(4))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewAppHandler(AppDeps{Store: store, Token: token}), store
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func seedSkill(t *testing.T, store *storage.Store, title, run string) storage.Skill {
	t.Helper()
	sk, err := store.CreateSkill(context.Background(), storage.Skill{
		Title:      title,
		Problem:    title + " problem",
		Resolution: "1. **Do:** " + title,
		Embedding:  []float32{1, 0, 0, 0},
		EvalRun:    run,
	})
	require.NoError(t, err)
	return sk
}

func TestHealth_NoAuth(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuth_RejectsMissingAndWrongToken(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	for _, token := range []string{"", "wrong"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authReq(http.MethodGet, "/skills/x", "", token))
		assert.Equal(t, http.StatusUnauthorized, rr.Code, "token %q", token)
	}
}

func TestAuth_EmptyServerTokenRejectsAll(t *testing.T) {
	h, _ := setupAppHandler(t, "")

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/skills/x", nil)
	req.Header.Set("Authorization", "Bearer ")
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestGetSkill(t *testing.T) {
	h, store := setupAppHandler(t, testToken)
	sk := seedSkill(t, store, "Reset password", "")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/skills/"+sk.ID, "", testToken))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var got storage.Skill
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, sk.ID, got.ID)
	assert.Equal(t, "Reset password", got.Title)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/skills/missing", "", testToken))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListRevisions(t *testing.T) {
	h, store := setupAppHandler(t, testToken)
	sk := seedSkill(t, store, "Reset password", "")

	res := "1. **Do:** send a reset link"
	_, err := store.UpdateSkill(context.Background(), sk.ID, storage.SkillUpdate{
		Resolution: &res, Changes: []string{"use reset link"},
	})
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/skills/"+sk.ID+"/revisions", "", testToken))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var revs []storage.Revision
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&revs))
	require.Len(t, revs, 1)
	assert.Equal(t, 2, revs[0].Version)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/skills/missing/revisions", "", testToken))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRunSkills_ListAndDelete(t *testing.T) {
	h, store := setupAppHandler(t, testToken)
	seedSkill(t, store, "Owned one", "eval-aaaa1111")
	seedSkill(t, store, "Owned two", "eval-aaaa1111")
	seedSkill(t, store, "Other run", "eval-bbbb2222")
	seedSkill(t, store, "Untagged", "")

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/runs/eval-aaaa1111/skills", "", testToken))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var list []storage.Skill
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&list))
	assert.Len(t, list, 2)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodDelete, "/runs/eval-aaaa1111", "", testToken))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp struct {
		Deleted int64 `json:"deleted"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.EqualValues(t, 2, resp.Deleted)

	n, err := store.CountSkills(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n, "other run and untagged remain")
}

func TestRunSkills_EmptyListIsArray(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authReq(http.MethodGet, "/runs/eval-none/skills", "", testToken))
	assert.Equal(t, "[]", strings.TrimSpace(rr.Body.String()))
}
