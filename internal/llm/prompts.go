package llm

import (
	"fmt"
	"strings"

	"github.com/kalambet/skillbench/internal/storage"
)

const playbookFormat = `# [Title]

## Goal
One sentence describing what this accomplishes.

## Prerequisites
- Conditions that must be true

## Steps

### 1. [Action]
**Do:** [Agent action]
**Check:** [Verification]
**Say:** [Customer communication]

(repeat for each step)

## Edge Cases
- [Condition] → [What to do]

## Escalation
When to hand off to a human.`

const extractionPrompt = `You are an expert at extracting reusable customer-service playbooks from conversation transcripts.

Given the conversation below, extract a structured skill document that an AI agent can follow to resolve similar issues in the future. Each step of the playbook uses the Do/Check/Say pattern.

Return JSON with exactly these fields:
- title: short descriptive title (e.g. "Refund for Damaged Item")
- problem: one-paragraph description of the customer's issue
- resolution: full markdown playbook in the format below
- conditions: list of strings saying when this skill applies
- keywords: list of keyword tags for search
- product_area: string (e.g. "orders", "account", "shipping")
- issue_type: string (e.g. "how-to", "bug", "refund", "escalation")

Playbook format:

%s

CONVERSATION:
%s

Return ONLY valid JSON, no markdown fences.`

const refinementPrompt = `You are an expert at refining customer-service playbooks based on new conversation data.

An AI agent used the existing skill below. Merge what the new conversation teaches into the skill so future agents benefit.

EXISTING SKILL:
Title: %s
Problem: %s
Resolution:
%s
Conditions: %s
Keywords: %s

NEW CONVERSATION:
%s

FEEDBACK ON THE AGENT'S ANSWER:
%s

Return JSON with exactly these fields:
- title, problem, resolution, conditions, keywords, product_area, issue_type (updated, or unchanged)
- changes: list of strings describing what changed and why

Keep the Do/Check/Say step format. Only change what the new conversation supports. Do not remove steps unless the conversation proves them wrong.

Return ONLY valid JSON, no markdown fences.`

const selectionPrompt = `You are a routing judge for a customer support system. Given a customer query and a list of candidate skill playbooks, decide which ONE skill best matches the query, or return "none" if no skill is a good fit.

CUSTOMER QUERY:
%s

CANDIDATE SKILLS:
%s

Rules:
- Pick the single best match.
- A skill matches if it addresses the customer's core issue AND its conditions are compatible.
- If no skill is a good fit, return "none". Do not force a match.
- Treat skills with confidence below 0.3 skeptically.

Return JSON with exactly one field: {"skill_id": "<chosen skill_id or \"none\">"}`

const judgePrompt = `You are grading a customer support answer against the resolution a human agent actually gave.

CUSTOMER QUERY:
%s

CANDIDATE ANSWER:
%s

REFERENCE RESOLUTION:
%s

Score the candidate from 1 to 5:
5 = same resolution as the reference, correct steps and customer communication
4 = correct resolution with minor omissions
3 = partially correct, key step missing or vague
2 = mostly wrong approach
1 = irrelevant or harmful

Return JSON: {"score": <1-5>, "reasoning": "<one or two sentences>"}`

func formatCandidates(skills []storage.Skill) string {
	var sb strings.Builder
	for _, s := range skills {
		fmt.Fprintf(&sb, "- skill_id: %s\n  title: %s\n  problem: %s\n  conditions: %s\n  confidence: %.2f\n",
			s.ID, s.Title, s.Problem, strings.Join(s.Conditions, "; "), s.Confidence)
	}
	return sb.String()
}
