package composer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kalambet/skillbench/internal/engine"
)

const defaultMaxContextTokens = 4000

const agentInstructions = `You are a customer support agent for an online clothing retailer.
Answer the customer's request with the concrete steps you would take and what you would tell them.
Be concise and specific. Do not invent order details you were not given.`

// Playbook is a skill offered to the agent as generation context.
type Playbook struct {
	ID         string
	Title      string
	Resolution string
	Score      float64
}

// Composer assembles the generation prompt from the customer query and any
// retrieved playbooks.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Compose returns a system message with the agent instructions plus the
// playbooks that fit the budget, followed by the query as a user message.
func (c *Composer) Compose(query string, playbooks []Playbook) []engine.Message {
	system := agentInstructions
	if ctx := c.buildContext(playbooks); ctx != "" {
		system += "\n\n" + ctx
	}
	return []engine.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: query},
	}
}

// buildContext renders playbooks highest score first, skipping any that no
// longer fit the remaining budget.
func (c *Composer) buildContext(playbooks []Playbook) string {
	if len(playbooks) == 0 {
		return ""
	}

	sorted := make([]Playbook, len(playbooks))
	copy(sorted, playbooks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	header := "[Skill Playbooks]\nFollow the playbook below when it applies to the customer's issue.\n\n"
	remaining := c.MaxContextTokens - EstimateTokens(agentInstructions) - EstimateTokens(header)

	var selected []string
	for _, p := range sorted {
		entry := formatPlaybook(p)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		selected = append(selected, entry)
		remaining -= tokens
	}
	if len(selected) == 0 {
		return ""
	}
	return header + strings.Join(selected, "")
}

func formatPlaybook(p Playbook) string {
	return fmt.Sprintf("### %s (skill %s)\n%s\n\n", p.Title, p.ID, strings.TrimSpace(p.Resolution))
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
