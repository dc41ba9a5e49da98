package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/skillbench/internal/checkpoint"
	"github.com/kalambet/skillbench/internal/skills"
	"github.com/kalambet/skillbench/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Skills    *skills.Service
	OutputDir string // where eval_results.json lives; eval://results reads it
	Version   string
}

// SkillMatch is the playbook returned by search_skills.
type SkillMatch struct {
	SkillID    string   `json:"skill_id"`
	Title      string   `json:"title"`
	Confidence float64  `json:"confidence"`
	Resolution string   `json:"resolution_md"`
	Conditions []string `json:"conditions"`
	Version    int      `json:"version"`
}

// SearchResponse is the search_skills payload. Skill is null when no
// playbook fits.
type SearchResponse struct {
	Skill        *SkillMatch `json:"skill"`
	Query        string      `json:"query"`
	SearchTimeMs float64     `json:"search_time_ms"`
}

// NewMCPServer creates an MCP server with the skill tools and the results
// resource registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"skillbench",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("skillbench: search, create and refine support resolution playbooks."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_skills",
			mcp.WithDescription("Find the resolution playbook that best fits a customer query."),
			mcp.WithString("query", mcp.Description("Customer query"), mcp.Required()),
		),
		mcpSearchSkills(deps),
	)

	s.AddTool(
		mcp.NewTool("create_skill",
			mcp.WithDescription("Extract a new playbook from a resolved conversation. A near-identical existing playbook is returned instead."),
			mcp.WithString("conversation", mcp.Description("Conversation transcript, one \"Speaker: text\" line per turn"), mcp.Required()),
			mcp.WithBoolean("resolution_confirmed", mcp.Description("Whether the customer confirmed the fix")),
			mcp.WithString("product_area", mcp.Description("Optional product area")),
			mcp.WithString("issue_type", mcp.Description("Optional issue type")),
		),
		mcpCreateSkill(deps),
	)

	s.AddTool(
		mcp.NewTool("update_skill",
			mcp.WithDescription("Refine an existing playbook with what a new conversation teaches."),
			mcp.WithString("skill_id", mcp.Description("Playbook id"), mcp.Required()),
			mcp.WithString("conversation", mcp.Description("Conversation transcript"), mcp.Required()),
			mcp.WithString("feedback", mcp.Description("Optional reviewer feedback")),
		),
		mcpUpdateSkill(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"eval://results",
			"Evaluation Results",
			mcp.WithResourceDescription("Latest evaluation export, or the in-progress checkpoint"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceResults(deps),
	)

	return s
}

func mcpSearchSkills(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcpError("query is required"), nil
		}

		res, err := deps.Skills.Search(ctx, query)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		out := SearchResponse{Query: query, SearchTimeMs: float64(res.Elapsed.Microseconds()) / 1000}
		if sk := res.Skill; sk != nil {
			out.Skill = &SkillMatch{
				SkillID:    sk.ID,
				Title:      sk.Title,
				Confidence: sk.Confidence,
				Resolution: sk.Resolution,
				Conditions: sk.Conditions,
				Version:    sk.Version,
			}
		}
		return mcpJSON(out)
	}
}

func mcpCreateSkill(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		conversation, err := req.RequireString("conversation")
		if err != nil || conversation == "" {
			return mcpError("conversation is required"), nil
		}

		res, err := deps.Skills.Create(ctx, conversation, skills.CreateOptions{
			ResolutionConfirmed: req.GetBool("resolution_confirmed", false),
			ProductArea:         req.GetString("product_area", ""),
			IssueType:           req.GetString("issue_type", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("create failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpUpdateSkill(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("skill_id")
		if err != nil || id == "" {
			return mcpError("skill_id is required"), nil
		}
		conversation, err := req.RequireString("conversation")
		if err != nil || conversation == "" {
			return mcpError("conversation is required"), nil
		}

		res, err := deps.Skills.Update(ctx, id, conversation, req.GetString("feedback", ""))
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("skill %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("update failed: %v", err)), nil
		}
		return mcpJSON(res)
	}
}

func mcpResourceResults(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		rec, err := checkpoint.Load(checkpoint.FinalPath(deps.OutputDir))
		if errors.Is(err, checkpoint.ErrNotFound) {
			rec, err = checkpoint.Load(checkpoint.PartialPath(deps.OutputDir))
		}
		if err != nil {
			return nil, fmt.Errorf("loading results: %w", err)
		}

		b, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal results: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
