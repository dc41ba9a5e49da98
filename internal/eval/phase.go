package eval

import (
	"context"
	"fmt"
	"time"

	"github.com/kalambet/skillbench/internal/dataset"
	"github.com/kalambet/skillbench/internal/llm"
	"github.com/kalambet/skillbench/internal/metrics"
	"github.com/kalambet/skillbench/internal/resolution"
	"github.com/kalambet/skillbench/internal/skills"
)

// Outcome is what happened to one conversation in a phase.
type Outcome int

const (
	Success Outcome = iota
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return "success"
	}
}

// ItemResult records the outcome of one conversation.
type ItemResult struct {
	Index          int
	ConversationID string
	Outcome        Outcome
	Err            error
}

// PhaseResult is the result of one RunBaseline or RunContinual call. Metrics
// include those carried over from a resumed checkpoint; Items only cover
// conversations processed by this call.
type PhaseResult struct {
	Phase   Phase
	Metrics []metrics.ConversationMetric
	Items   []ItemResult
}

// Count returns how many items ended with o.
func (r PhaseResult) Count(o Outcome) int {
	n := 0
	for _, it := range r.Items {
		if it.Outcome == o {
			n++
		}
	}
	return n
}

// RunBaseline answers every conversation without skills, starting after
// the last completed baseline index.
func (h *Harness) RunBaseline(ctx context.Context, convs []dataset.Conversation, progress ProgressFunc) (PhaseResult, error) {
	h.stage = BaselineRunning
	res, err := h.runPhase(ctx, PhaseBaseline, convs, progress, h.processBaseline)
	if err != nil {
		return res, err
	}
	h.stage = BaselineComplete
	return res, nil
}

// RunContinual answers every conversation with skill retrieval and grows
// the skill library, starting after the last completed continual index.
func (h *Harness) RunContinual(ctx context.Context, convs []dataset.Conversation, progress ProgressFunc) (PhaseResult, error) {
	if h.lastIndex[PhaseBaseline] < len(convs)-1 {
		return PhaseResult{Phase: PhaseContinual}, fmt.Errorf("%w: %d of %d done",
			ErrPhaseOrder, h.lastIndex[PhaseBaseline]+1, len(convs))
	}
	h.stage = ContinualRunning
	res, err := h.runPhase(ctx, PhaseContinual, convs, progress, h.processContinual)
	if err != nil {
		return res, err
	}
	h.stage = ContinualComplete
	return res, nil
}

type processFunc func(ctx context.Context, index int, conv dataset.Conversation) (Outcome, error)

func (h *Harness) runPhase(ctx context.Context, phase Phase, convs []dataset.Conversation, progress ProgressFunc, process processFunc) (PhaseResult, error) {
	res := PhaseResult{Phase: phase}
	tracker := h.trackers[phase]
	start := h.lastIndex[phase] + 1

	h.logger.Info("phase started", "phase", phase, "conversations", len(convs), "start", start)

	for i := start; i < len(convs); i++ {
		if err := ctx.Err(); err != nil {
			res.Metrics = tracker.Metrics()
			return res, err
		}
		conv := convs[i]

		outcome, err := process(ctx, i, conv)
		if err != nil && ctx.Err() != nil {
			// Interrupted mid-conversation: leave the index for a resume.
			res.Metrics = tracker.Metrics()
			return res, ctx.Err()
		}
		if err != nil {
			h.logger.Warn("conversation failed",
				"phase", phase, "index", i, "conversation_id", conv.ID, "error", err)
		}
		res.Items = append(res.Items, ItemResult{Index: i, ConversationID: conv.ID, Outcome: outcome, Err: err})

		h.lastIndex[phase] = i
		if progress != nil {
			if err := progress(ctx, phase, i, tracker.Metrics()); err != nil {
				res.Metrics = tracker.Metrics()
				return res, fmt.Errorf("%s progress at index %d: %w", phase, i, err)
			}
		}
	}

	res.Metrics = tracker.Metrics()
	h.logger.Info("phase complete", "phase", phase,
		"recorded", len(res.Metrics),
		"skipped", res.Count(Skipped),
		"failed", res.Count(Failed))
	return res, nil
}

// skip reports whether a conversation contributes nothing to a phase.
// Resolved and unresolved conversations are both scored and learned from.
func (h *Harness) skip(conv dataset.Conversation) (resolution.Status, string, bool) {
	status := h.oracle.Classify(conv)
	query := conv.Query()
	return status, query, status == resolution.Indeterminate || query == ""
}

func (h *Harness) processBaseline(ctx context.Context, index int, conv dataset.Conversation) (Outcome, error) {
	_, query, skip := h.skip(conv)
	if skip {
		return Skipped, nil
	}

	start := h.now()
	answer, err := h.gateway.Generate(ctx, query, "")
	if err != nil {
		return Failed, err
	}
	elapsed := h.now().Sub(start)

	verdict, err := h.gateway.Judge(ctx, query, answer, conv.GroundTruth())
	if err != nil {
		return Failed, err
	}

	h.record(PhaseBaseline, metrics.ConversationMetric{
		ConversationID:   conv.ID,
		JudgeScore:       verdict.Score,
		ResolutionTimeMs: millis(elapsed),
	})
	return Success, nil
}

func (h *Harness) processContinual(ctx context.Context, index int, conv dataset.Conversation) (Outcome, error) {
	status, query, skip := h.skip(conv)
	if skip {
		return Skipped, nil
	}

	start := h.now()
	found, err := h.skills.Search(ctx, query)
	if err != nil {
		return Failed, fmt.Errorf("searching skills: %w", err)
	}

	var playbook string
	var skillID *string
	if found.Skill != nil {
		id := found.Skill.ID
		skillID = &id
		playbook = found.Skill.Resolution
		if err := h.skills.MarkUsed(ctx, id); err != nil {
			h.logger.Warn("recording skill usage failed", "skill_id", id, "error", err)
		}
	}

	answer, err := h.gateway.Generate(ctx, query, playbook)
	if err != nil {
		return Failed, err
	}
	elapsed := h.now().Sub(start)

	verdict, err := h.gateway.Judge(ctx, query, answer, conv.GroundTruth())
	if err != nil {
		return Failed, err
	}

	h.record(PhaseContinual, metrics.ConversationMetric{
		ConversationID:   conv.ID,
		JudgeScore:       verdict.Score,
		SkillUsed:        skillID != nil,
		SkillID:          skillID,
		ResolutionTimeMs: millis(elapsed),
	})

	if err := h.learn(ctx, conv, status, skillID, verdict); err != nil {
		if ctx.Err() != nil {
			return Failed, err
		}
		h.logger.Warn("skill lifecycle failed",
			"phase", PhaseContinual, "index", index, "conversation_id", conv.ID, "error", err)
	}
	return Success, nil
}

// learn creates a skill when nothing matched and refines the matched skill
// when this run owns it. Skills from elsewhere are read-only. Unresolved
// conversations are learned from too; only resolved ones count as a
// confirmation.
func (h *Harness) learn(ctx context.Context, conv dataset.Conversation, status resolution.Status, matched *string, verdict llm.Verdict) error {
	transcript := conv.Transcript()

	if matched == nil {
		res, err := h.skills.Create(ctx, transcript, skills.CreateOptions{
			ResolutionConfirmed: status == resolution.Resolved,
			RunTag:              h.runPrefix,
		})
		if err != nil {
			return fmt.Errorf("creating skill: %w", err)
		}
		if res.Created {
			h.owned[res.SkillID] = struct{}{}
		}
		return nil
	}

	if !h.Owns(*matched) {
		return nil
	}
	feedback := fmt.Sprintf("Judge score %.1f/5. %s", verdict.Score, verdict.Reasoning)
	if status == resolution.Unresolved {
		feedback += " The conversation ended without a resolution."
	}
	if _, err := h.skills.Update(ctx, *matched, transcript, feedback); err != nil {
		return fmt.Errorf("updating skill: %w", err)
	}
	return nil
}

func (h *Harness) record(phase Phase, m metrics.ConversationMetric) {
	tracker := h.trackers[phase]
	tracker.Record(m)
	if h.snapshotEvery <= 0 || tracker.Len()%h.snapshotEvery != 0 {
		return
	}
	label := fmt.Sprintf("%s_%d", phase, tracker.Len())
	if _, err := tracker.Snapshot(label); err != nil {
		h.logger.Warn("snapshot failed", "label", label, "error", err)
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
