// Package resolution decides from the annotated dialogue alone whether an
// ABCD conversation ended with the customer's issue resolved.
package resolution

import (
	"regexp"
	"strings"

	"github.com/kalambet/skillbench/internal/dataset"
)

// Status is the oracle's verdict for one conversation.
type Status int

const (
	// Indeterminate conversations cannot be judged and are skipped.
	Indeterminate Status = iota
	Resolved
	Unresolved
)

func (s Status) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case Unresolved:
		return "unresolved"
	default:
		return "indeterminate"
	}
}

// Thresholds on the fraction of expected actions the agent took.
const (
	FullMatch    = 0.8
	PartialMatch = 0.5
)

// escalationWindow is how many trailing turns are searched for escalation.
const escalationWindow = 5

var (
	escalationWords = []string{"transfer", "supervisor", "escalate", "manager"}
	positiveSignals = []string{
		"thank", "thanks", "great", "perfect", "awesome", "wonderful",
		"that worked", "appreciate", "excellent", "solved",
	}
	subflowSuffix = regexp.MustCompile(`_\d+$`)
)

// Assessment carries the signals behind a Status.
type Assessment struct {
	Status     Status
	Subflow    string
	MatchRatio float64
	Escalated  bool
	Positive   bool
}

// Oracle classifies conversations against a knowledge base of expected
// actions per subflow.
type Oracle struct {
	kb dataset.KB
}

// New creates an Oracle over kb.
func New(kb dataset.KB) *Oracle {
	return &Oracle{kb: kb}
}

// Classify returns the conversation's resolution status.
func (o *Oracle) Classify(c dataset.Conversation) Status {
	return o.Assess(c).Status
}

// Assess classifies c and reports the signals used.
//
// A conversation whose subflow is unknown to the knowledge base, or whose
// subflow lists no expected actions, is indeterminate. Otherwise it is
// resolved when the agent took at least 80% of the expected actions without
// escalating, or at least 50% without escalating and the customer's last
// message is positive.
func (o *Oracle) Assess(c dataset.Conversation) Assessment {
	a := Assessment{Subflow: o.subflow(c)}
	expected, ok := o.kb[a.Subflow]
	if !ok || len(expected) == 0 {
		a.Status = Indeterminate
		return a
	}

	a.MatchRatio = ActionMatch(c.Actions(), expected)
	a.Escalated = Escalated(c)
	a.Positive = PositiveEnding(c)

	switch {
	case a.Escalated:
		a.Status = Unresolved
	case a.MatchRatio >= FullMatch:
		a.Status = Resolved
	case a.MatchRatio >= PartialMatch && a.Positive:
		a.Status = Resolved
	default:
		a.Status = Unresolved
	}
	return a
}

// subflow prefers the annotated intent of the first turn and falls back to
// the scenario subflow without its numeric variant suffix.
func (o *Oracle) subflow(c dataset.Conversation) string {
	if len(c.Delexed) > 0 {
		if canonical := c.Delexed[0].Target(0); canonical != "" {
			if _, ok := o.kb[canonical]; ok {
				return canonical
			}
		}
	}
	return NormalizeSubflow(c.Scenario.Subflow)
}

// NormalizeSubflow strips a numeric suffix, so "timing_4" becomes "timing".
func NormalizeSubflow(s string) string {
	return subflowSuffix.ReplaceAllString(s, "")
}

// ActionMatch is the fraction of expected actions present in actual,
// regardless of order.
func ActionMatch(actual, expected []string) float64 {
	if len(expected) == 0 {
		return 0
	}
	have := make(map[string]bool, len(actual))
	for _, a := range actual {
		have[a] = true
	}
	matched := 0
	for _, e := range expected {
		if have[e] {
			matched++
		}
	}
	return float64(matched) / float64(len(expected))
}

// Escalated reports whether any of the last five annotated turns mentions a
// transfer or a supervisor.
func Escalated(c dataset.Conversation) bool {
	turns := c.Delexed
	if len(turns) > escalationWindow {
		turns = turns[len(turns)-escalationWindow:]
	}
	for _, t := range turns {
		if containsAny(strings.ToLower(t.Text), escalationWords) {
			return true
		}
	}
	return false
}

// PositiveEnding reports whether the customer's last annotated message
// expresses thanks or success.
func PositiveEnding(c dataset.Conversation) bool {
	for i := len(c.Delexed) - 1; i >= 0; i-- {
		if c.Delexed[i].Speaker == dataset.SpeakerCustomer {
			return containsAny(strings.ToLower(c.Delexed[i].Text), positiveSignals)
		}
	}
	return false
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
