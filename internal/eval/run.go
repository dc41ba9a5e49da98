package eval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/skillbench/internal/checkpoint"
	"github.com/kalambet/skillbench/internal/dataset"
	"github.com/kalambet/skillbench/internal/metrics"
)

// RunOptions control Run.
type RunOptions struct {
	// OutputDir receives the checkpoint and the final export.
	OutputDir string
	// Size is recorded in the checkpoint and must match on resume. Zero
	// means len(convs).
	Size   int
	Resume bool
	// ClearFinished removes the skills of the finished run recorded in
	// OutputDir before a fresh run starts.
	ClearFinished bool
}

// Run executes both phases over convs, writing the checkpoint after every
// conversation and the final export to both files at the end.
func (h *Harness) Run(ctx context.Context, convs []dataset.Conversation, opts RunOptions) (checkpoint.Record, error) {
	size := opts.Size
	if size <= 0 {
		size = len(convs)
	}
	partial := checkpoint.PartialPath(opts.OutputDir)

	if opts.Resume {
		rec, err := checkpoint.LoadForResume(partial, size)
		if err != nil {
			if errors.Is(err, checkpoint.ErrNotFound) {
				return checkpoint.Record{}, fmt.Errorf("resume requested: %w", err)
			}
			return checkpoint.Record{}, err
		}
		if err := h.Resume(ctx, StateFromRecord(rec)); err != nil {
			return checkpoint.Record{}, err
		}
		if err := h.restoreSnapshots(rec); err != nil {
			return checkpoint.Record{}, err
		}
	} else {
		var finished []string
		if opts.ClearFinished {
			var err error
			if finished, err = FinishedRuns(opts.OutputDir); err != nil {
				return checkpoint.Record{}, err
			}
		}
		if err := checkpoint.Remove(partial); err != nil {
			return checkpoint.Record{}, err
		}
		if err := h.Start(ctx, finished...); err != nil {
			return checkpoint.Record{}, err
		}
	}

	save := func(context.Context, Phase, int, []metrics.ConversationMetric) error {
		return checkpoint.Save(partial, h.Record(size))
	}

	last := len(convs) - 1
	if h.lastIndex[PhaseBaseline] < last {
		if _, err := h.RunBaseline(ctx, convs, save); err != nil {
			return h.Record(size), err
		}
	} else {
		h.stage = BaselineComplete
		h.logger.Info("baseline already complete", "recorded", h.trackers[PhaseBaseline].Len(), "conversations", len(convs))
	}

	if h.lastIndex[PhaseContinual] < last {
		if _, err := h.RunContinual(ctx, convs, save); err != nil {
			return h.Record(size), err
		}
	} else {
		h.stage = ContinualComplete
		h.logger.Info("continual already complete", "recorded", h.trackers[PhaseContinual].Len(), "conversations", len(convs))
	}

	final := h.Record(size)
	final.Progress = checkpoint.Progress{BaselineLastIndex: last, ContinualLastIndex: last}
	if err := checkpoint.Save(checkpoint.FinalPath(opts.OutputDir), final); err != nil {
		return final, err
	}
	if err := checkpoint.Save(partial, final); err != nil {
		return final, err
	}
	return final, nil
}

// FinishedRuns returns the run prefixes whose final export is in dir. A run
// with a final export has completed both phases and can be cleared without
// disturbing a run in progress.
func FinishedRuns(dir string) ([]string, error) {
	rec, err := checkpoint.Load(checkpoint.FinalPath(dir))
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading finished runs: %w", err)
	}
	if !strings.HasPrefix(rec.Meta.RunPrefix, RunNamespace) {
		return nil, nil
	}
	return []string{rec.Meta.RunPrefix}, nil
}

// Record renders the current state as a checkpoint record.
func (h *Harness) Record(size int) checkpoint.Record {
	st := h.State()
	r := checkpoint.New(checkpoint.Meta{Size: size, RunID: st.RunID, RunPrefix: st.RunPrefix})
	r.Progress = checkpoint.Progress{
		BaselineLastIndex:  st.BaselineLastIndex,
		ContinualLastIndex: st.ContinualLastIndex,
	}
	r.Baseline = st.Baseline
	r.Continual = st.Continual
	r.SkillsCreated = len(st.Owned)
	r.Summarize()

	snaps := checkpoint.Snapshots{
		Baseline:  h.trackers[PhaseBaseline].Snapshots(),
		Continual: h.trackers[PhaseContinual].Snapshots(),
	}
	if len(snaps.Baseline) > 0 || len(snaps.Continual) > 0 {
		r.Snapshots = &snaps
	}
	return r
}

// StateFromRecord extracts the resumable state from a checkpoint.
func StateFromRecord(r checkpoint.Record) RunState {
	return RunState{
		RunID:              r.Meta.RunID,
		RunPrefix:          r.Meta.RunPrefix,
		BaselineLastIndex:  r.Progress.BaselineLastIndex,
		ContinualLastIndex: r.Progress.ContinualLastIndex,
		Baseline:           r.Baseline,
		Continual:          r.Continual,
	}
}

func (h *Harness) restoreSnapshots(r checkpoint.Record) error {
	if r.Snapshots == nil {
		return nil
	}
	if err := h.trackers[PhaseBaseline].RestoreSnapshots(r.Snapshots.Baseline); err != nil {
		return err
	}
	return h.trackers[PhaseContinual].RestoreSnapshots(r.Snapshots.Continual)
}
