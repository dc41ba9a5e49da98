// Package eval runs the two-phase benchmark: a memoryless baseline pass and
// a continual-learning pass that searches, creates and refines skills as it
// goes. Both phases are resumable from a checkpoint.
package eval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/skillbench/internal/dataset"
	"github.com/kalambet/skillbench/internal/llm"
	"github.com/kalambet/skillbench/internal/metrics"
	"github.com/kalambet/skillbench/internal/resolution"
	"github.com/kalambet/skillbench/internal/retry"
	"github.com/kalambet/skillbench/internal/skills"
)

// RunNamespace prefixes every run tag.
const RunNamespace = "eval-"

// ErrPhaseOrder is returned when the continual phase is started before the
// baseline phase is complete.
var ErrPhaseOrder = errors.New("baseline phase not complete")

// Phase names a pass over the conversations.
type Phase string

const (
	PhaseBaseline  Phase = "baseline"
	PhaseContinual Phase = "continual"
)

// Stage is the lifecycle position of a run.
type Stage int

const (
	NotStarted Stage = iota
	BaselineRunning
	BaselineComplete
	ContinualRunning
	ContinualComplete
)

func (s Stage) String() string {
	switch s {
	case BaselineRunning:
		return "baseline running"
	case BaselineComplete:
		return "baseline complete"
	case ContinualRunning:
		return "continual running"
	case ContinualComplete:
		return "continual complete"
	default:
		return "not started"
	}
}

// Classifier decides whether a conversation ended resolved.
type Classifier interface {
	Classify(c dataset.Conversation) resolution.Status
}

// ProgressFunc is called after every conversation of a phase, whatever its
// outcome, with the phase's metrics so far. An error aborts the phase.
type ProgressFunc func(ctx context.Context, phase Phase, index int, ms []metrics.ConversationMetric) error

// RunState is the resumable state of a run.
type RunState struct {
	RunID              string
	RunPrefix          string
	BaselineLastIndex  int
	ContinualLastIndex int
	Baseline           []metrics.ConversationMetric
	Continual          []metrics.ConversationMetric
	Owned              []string
}

// Config tunes a Harness. Zero values take defaults.
type Config struct {
	Retry              retry.Policy
	TopK               int
	MinScore           float64
	DuplicateThreshold float64
	// SnapshotEvery takes a metrics snapshot after every N recorded
	// conversations of a phase. Zero disables snapshots.
	SnapshotEvery int
	Logger        *slog.Logger
}

// Harness drives one evaluation run.
type Harness struct {
	gateway       llm.Gateway
	skills        *skills.Service
	oracle        Classifier
	logger        *slog.Logger
	snapshotEvery int
	now           func() time.Time

	runID     string
	runPrefix string
	stage     Stage
	lastIndex map[Phase]int
	trackers  map[Phase]*metrics.Tracker
	owned     map[string]struct{}
}

// NewHarness wires a harness. Every gateway call, including those made by
// the skill service, goes through cfg.Retry.
func NewHarness(gw llm.Gateway, store skills.Store, oracle Classifier, cfg Config) *Harness {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retry.Logger == nil {
		cfg.Retry.Logger = logger
	}
	wrapped := llm.WithRetry(gw, cfg.Retry)

	svcOpts := []skills.Option{skills.WithLogger(logger), skills.WithDuplicateThreshold(cfg.DuplicateThreshold)}
	if cfg.TopK > 0 {
		svcOpts = append(svcOpts, skills.WithRetrieval(cfg.TopK, cfg.MinScore))
	}

	h := &Harness{
		gateway:       wrapped,
		skills:        skills.NewService(store, wrapped, svcOpts...),
		oracle:        oracle,
		logger:        logger,
		snapshotEvery: cfg.SnapshotEvery,
		now:           time.Now,
	}
	h.reset(newRunID())
	return h
}

func newRunID() string {
	return uuid.New().String()[:8]
}

func (h *Harness) reset(runID string) {
	h.runID = runID
	h.runPrefix = RunNamespace + runID
	h.stage = NotStarted
	h.lastIndex = map[Phase]int{PhaseBaseline: -1, PhaseContinual: -1}
	h.trackers = map[Phase]*metrics.Tracker{
		PhaseBaseline:  metrics.NewTracker(),
		PhaseContinual: metrics.NewTracker(),
	}
	h.owned = make(map[string]struct{})
}

// Skills exposes the skill service the harness uses.
func (h *Harness) Skills() *skills.Service { return h.skills }

// RunID returns the current run id.
func (h *Harness) RunID() string { return h.runID }

// RunPrefix returns the tag carried by skills this run creates.
func (h *Harness) RunPrefix() string { return h.runPrefix }

// Stage returns the run's lifecycle position.
func (h *Harness) Stage() Stage { return h.stage }

// Tracker returns the metrics tracker of phase.
func (h *Harness) Tracker(p Phase) *metrics.Tracker { return h.trackers[p] }

// Start begins a fresh run. Skills left under the new run's tag are
// removed, as are the skills of each finished run named in finished. Every
// delete matches one run tag exactly, so runs still in progress and
// untagged skills are never touched.
func (h *Harness) Start(ctx context.Context, finished ...string) error {
	h.reset(newRunID())

	n, err := h.skills.ClearRun(ctx, h.runPrefix)
	if err != nil {
		return fmt.Errorf("clearing run skills: %w", err)
	}
	for _, prefix := range finished {
		if prefix == h.runPrefix || !strings.HasPrefix(prefix, RunNamespace) {
			continue
		}
		m, err := h.skills.ClearRun(ctx, prefix)
		if err != nil {
			return fmt.Errorf("clearing skills of run %s: %w", prefix, err)
		}
		n += m
	}
	h.logger.Info("run started", "run_id", h.runID, "run_prefix", h.runPrefix, "cleared", n)
	return nil
}

// Resume restores st. Owned skills are reloaded from the store by exact run
// tag, so skills created after the last checkpoint are still owned.
func (h *Harness) Resume(ctx context.Context, st RunState) error {
	if st.RunID == "" {
		return fmt.Errorf("resuming run: missing run id")
	}
	h.reset(st.RunID)
	if st.RunPrefix != "" {
		h.runPrefix = st.RunPrefix
	}
	h.lastIndex[PhaseBaseline] = st.BaselineLastIndex
	h.lastIndex[PhaseContinual] = st.ContinualLastIndex
	h.trackers[PhaseBaseline] = metrics.NewTracker(st.Baseline...)
	h.trackers[PhaseContinual] = metrics.NewTracker(st.Continual...)

	ids, err := h.skills.OwnedBy(ctx, h.runPrefix)
	if err != nil {
		return fmt.Errorf("reloading owned skills: %w", err)
	}
	for _, id := range ids {
		h.owned[id] = struct{}{}
	}
	for _, id := range st.Owned {
		h.owned[id] = struct{}{}
	}

	h.logger.Info("run resumed",
		"run_id", h.runID,
		"baseline_index", st.BaselineLastIndex,
		"continual_index", st.ContinualLastIndex,
		"owned_skills", len(h.owned))
	return nil
}

// State returns a copy of the resumable state.
func (h *Harness) State() RunState {
	owned := make([]string, 0, len(h.owned))
	for id := range h.owned {
		owned = append(owned, id)
	}
	sort.Strings(owned)
	return RunState{
		RunID:              h.runID,
		RunPrefix:          h.runPrefix,
		BaselineLastIndex:  h.lastIndex[PhaseBaseline],
		ContinualLastIndex: h.lastIndex[PhaseContinual],
		Baseline:           h.trackers[PhaseBaseline].Metrics(),
		Continual:          h.trackers[PhaseContinual].Metrics(),
		Owned:              owned,
	}
}

// Owns reports whether this run created the skill.
func (h *Harness) Owns(id string) bool {
	_, ok := h.owned[id]
	return ok
}
