package api

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/skillbench/internal/checkpoint"
	"github.com/kalambet/skillbench/internal/engine"
	"github.com/kalambet/skillbench/internal/llm"
	"github.com/kalambet/skillbench/internal/metrics"
	"github.com/kalambet/skillbench/internal/skills"
	"github.com/kalambet/skillbench/internal/storage"
)

// --- mocks ---

// mockGateway embeds by topic: anything mentioning "refund" points one way,
// everything else another.
type mockGateway struct {
	selectID string
}

func (m *mockGateway) Generate(context.Context, string, string) (string, error) { return "", nil }

func (m *mockGateway) Judge(context.Context, string, string, string) (llm.Verdict, error) {
	return llm.Verdict{Score: llm.NeutralScore}, nil
}

func (m *mockGateway) SelectSkill(_ context.Context, _ string, cands []storage.Skill) (string, error) {
	if m.selectID == "first" && len(cands) > 0 {
		return cands[0].ID, nil
	}
	return m.selectID, nil
}

func (m *mockGateway) Extract(_ context.Context, transcript string) (llm.ExtractedSkill, error) {
	return llm.ExtractedSkill{
		Title:      "Refund a duplicate charge",
		Problem:    "customer wants a refund for a duplicate charge",
		Resolution: "1. **Do:** verify both charges\n2. **Do:** refund one",
		Conditions: []string{"two identical charges"},
		Keywords:   []string{"refund", "charge"},
	}, nil
}

func (m *mockGateway) Refine(_ context.Context, sk storage.Skill, _, _ string) (llm.RefinedSkill, error) {
	return llm.RefinedSkill{
		ExtractedSkill: llm.ExtractedSkill{
			Title:      sk.Title,
			Problem:    sk.Problem,
			Resolution: sk.Resolution + "\n3. **Say:** confirm the refund",
			Conditions: sk.Conditions,
			Keywords:   sk.Keywords,
		},
		Changes: []string{"added confirmation step"},
	}, nil
}

func (m *mockGateway) Embed(_ context.Context, text string, _ engine.EmbedMode) ([]float32, error) {
	if strings.Contains(text, "refund") {
		return []float32{1, 0, 0, 0}, nil
	}
	return []float32{0, 1, 0, 0}, nil
}

// --- helpers ---

func newTestMCPDeps(t *testing.T, gw *mockGateway) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:", storage.WithEmbeddingDim(4))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return MCPDeps{
		Skills:    skills.NewService(store, gw),
		OutputDir: t.TempDir(),
	}, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "no content in result")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func callTool(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	result, err := h(context.Background(), makeCallToolRequest(name, args))
	require.NoError(t, err)
	return result
}

// --- tests ---

func TestMCPTool_CreateThenSearch(t *testing.T) {
	deps, store := newTestMCPDeps(t, &mockGateway{selectID: "first"})

	result := callTool(t, mcpCreateSkill(deps), "create_skill", map[string]interface{}{
		"conversation":         "Customer: I was charged twice\nAgent: I refunded one charge",
		"resolution_confirmed": true,
	})
	require.False(t, result.IsError, "create failed: %s", toolText(t, result))
	var created skills.CreateResult
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &created))
	require.True(t, created.Created)
	require.Equal(t, 1, created.Version)

	sk, err := store.GetSkill(context.Background(), created.SkillID)
	require.NoError(t, err)
	assert.Empty(t, sk.EvalRun, "tool-created skill tagged with a run")

	result = callTool(t, mcpSearchSkills(deps), "search_skills", map[string]interface{}{
		"query": "refund my duplicate charge",
	})
	require.False(t, result.IsError, "search failed: %s", toolText(t, result))
	var resp SearchResponse
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &resp))
	require.NotNil(t, resp.Skill)
	assert.Equal(t, created.SkillID, resp.Skill.SkillID)
	assert.NotEmpty(t, resp.Skill.Resolution, "resolution_md missing from match")
}

func TestMCPTool_CreateDuplicateReusesSkill(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &mockGateway{})
	create := mcpCreateSkill(deps)
	args := map[string]interface{}{"conversation": "Customer: refund please"}

	var first, second skills.CreateResult
	json.Unmarshal([]byte(toolText(t, callTool(t, create, "create_skill", args))), &first)
	json.Unmarshal([]byte(toolText(t, callTool(t, create, "create_skill", args))), &second)

	assert.False(t, second.Created, "second create should reuse the duplicate")
	assert.Equal(t, first.SkillID, second.SkillID)
}

func TestMCPTool_SearchNoMatch(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &mockGateway{})

	result := callTool(t, mcpSearchSkills(deps), "search_skills", map[string]interface{}{"query": "where is my parcel"})
	require.False(t, result.IsError, toolText(t, result))
	assert.Contains(t, toolText(t, result), `"skill":null`)
}

func TestMCPTool_RequiredArguments(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &mockGateway{})

	cases := []struct {
		name string
		h    func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args map[string]interface{}
	}{
		{"search_skills", mcpSearchSkills(deps), map[string]interface{}{}},
		{"create_skill", mcpCreateSkill(deps), map[string]interface{}{}},
		{"update_skill", mcpUpdateSkill(deps), map[string]interface{}{"conversation": "x"}},
		{"update_skill", mcpUpdateSkill(deps), map[string]interface{}{"skill_id": "x"}},
	}
	for _, c := range cases {
		result := callTool(t, c.h, c.name, c.args)
		assert.True(t, result.IsError, "%s with %v: expected error", c.name, c.args)
	}
}

func TestMCPTool_UpdateSkill(t *testing.T) {
	deps, store := newTestMCPDeps(t, &mockGateway{})

	var created skills.CreateResult
	json.Unmarshal([]byte(toolText(t, callTool(t, mcpCreateSkill(deps), "create_skill",
		map[string]interface{}{"conversation": "Customer: refund please"}))), &created)

	result := callTool(t, mcpUpdateSkill(deps), "update_skill", map[string]interface{}{
		"skill_id":     created.SkillID,
		"conversation": "Customer: refund again",
		"feedback":     "missing confirmation",
	})
	require.False(t, result.IsError, "update failed: %s", toolText(t, result))
	var updated skills.UpdateResult
	require.NoError(t, json.Unmarshal([]byte(toolText(t, result)), &updated))
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, created.SkillID, updated.SkillID)

	revs, err := store.ListRevisions(context.Background(), created.SkillID)
	require.NoError(t, err)
	assert.Len(t, revs, 1)
}

func TestMCPTool_UpdateUnknownSkill(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &mockGateway{})

	result := callTool(t, mcpUpdateSkill(deps), "update_skill", map[string]interface{}{
		"skill_id":     "does-not-exist",
		"conversation": "Customer: hi",
	})
	assert.True(t, result.IsError)
	assert.Contains(t, toolText(t, result), "not found")
}

func TestMCPResource_Results(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &mockGateway{})
	handler := mcpResourceResults(deps)

	_, err := handler(context.Background(), makeReadResourceRequest("eval://results"))
	require.Error(t, err, "no results written yet")

	rec := checkpoint.New(checkpoint.Meta{Size: 2, RunID: "abcd1234", RunPrefix: "eval-abcd1234"})
	rec.Baseline = []metrics.ConversationMetric{{ConversationID: "1", JudgeScore: 3}}
	rec.Progress.BaselineLastIndex = 0
	require.NoError(t, checkpoint.Save(filepath.Join(deps.OutputDir, checkpoint.PartialFile), rec))

	contents, err := handler(context.Background(), makeReadResourceRequest("eval://results"))
	require.NoError(t, err)
	require.NotEmpty(t, contents)
	tc, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok, "expected TextResourceContents, got %T", contents[0])
	assert.Contains(t, tc.Text, `"run_prefix":"eval-abcd1234"`)
}

func TestNewMCPServer(t *testing.T) {
	deps, _ := newTestMCPDeps(t, &mockGateway{})
	assert.NotNil(t, NewMCPServer(deps))
}
