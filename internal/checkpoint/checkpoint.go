// Package checkpoint persists evaluation progress so that an interrupted
// run can resume exactly where it stopped.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kalambet/skillbench/internal/metrics"
)

// File names inside the output directory.
const (
	PartialFile = "eval_results.partial.json"
	FinalFile   = "eval_results.json"
)

var (
	// ErrNotFound is returned when no checkpoint exists at the given path.
	ErrNotFound = errors.New("checkpoint not found")
	// ErrSizeMismatch is returned when a checkpoint was written for a run
	// over a different number of conversations.
	ErrSizeMismatch = errors.New("checkpoint size mismatch")
)

// Meta identifies the run a record belongs to.
type Meta struct {
	Size      int    `json:"size"`
	RunID     string `json:"run_id"`
	RunPrefix string `json:"run_prefix"`
}

// Progress holds the last completed index of each phase, -1 before the
// first conversation.
type Progress struct {
	BaselineLastIndex  int `json:"baseline_last_index"`
	ContinualLastIndex int `json:"continual_last_index"`
}

// Snapshots are the periodic aggregates of each phase.
type Snapshots struct {
	Baseline  []metrics.Snapshot `json:"baseline,omitempty"`
	Continual []metrics.Snapshot `json:"continual,omitempty"`
}

// Trend is the running average judge score of each phase, one point per
// recorded conversation.
type Trend struct {
	Baseline  []float64 `json:"baseline"`
	Continual []float64 `json:"continual"`
}

// Record is the checkpoint and final export document.
type Record struct {
	Meta           Meta                         `json:"meta"`
	Progress       Progress                     `json:"progress"`
	Baseline       []metrics.ConversationMetric `json:"baseline"`
	Continual      []metrics.ConversationMetric `json:"continual"`
	SkillsCreated  int                          `json:"skills_created"`
	Summary        metrics.Summary              `json:"summary"`
	RunningAverage *Trend                       `json:"running_average,omitempty"`
	Snapshots      *Snapshots                   `json:"snapshots,omitempty"`
}

// New returns an empty record for a fresh run.
func New(meta Meta) Record {
	return Record{
		Meta:      meta,
		Progress:  Progress{BaselineLastIndex: -1, ContinualLastIndex: -1},
		Baseline:  []metrics.ConversationMetric{},
		Continual: []metrics.ConversationMetric{},
	}
}

// Summarize recomputes the summary and the running averages from the
// metric sequences.
func (r *Record) Summarize() {
	r.Summary = metrics.Compare(r.Baseline, r.Continual)
	r.RunningAverage = nil
	if len(r.Baseline) > 0 || len(r.Continual) > 0 {
		r.RunningAverage = &Trend{
			Baseline:  metrics.RunningAverage(r.Baseline),
			Continual: metrics.RunningAverage(r.Continual),
		}
	}
}

// PartialPath is the checkpoint location inside dir.
func PartialPath(dir string) string { return filepath.Join(dir, PartialFile) }

// FinalPath is the final export location inside dir.
func FinalPath(dir string) string { return filepath.Join(dir, FinalFile) }

// Save writes r to path atomically: the document is written to a temporary
// file in the same directory, synced and renamed over path.
func Save(path string, r Record) error {
	if r.Baseline == nil {
		r.Baseline = []metrics.ConversationMetric{}
	}
	if r.Continual == nil {
		r.Continual = []metrics.ConversationMetric{}
	}
	if r.Snapshots != nil && len(r.Snapshots.Baseline) == 0 && len(r.Snapshots.Continual) == 0 {
		r.Snapshots = nil
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding checkpoint: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing checkpoint: %w", err)
	}
	return nil
}

// Load reads the record at path.
func Load(path string) (Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return Record{}, fmt.Errorf("reading checkpoint: %w", err)
	}

	r := New(Meta{})
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("decoding checkpoint %s: %w", path, err)
	}
	return r, nil
}

// LoadForResume loads the checkpoint at path and checks that it was written
// for a run over size conversations. A record without a size is accepted.
func LoadForResume(path string, size int) (Record, error) {
	r, err := Load(path)
	if err != nil {
		return Record{}, err
	}
	if r.Meta.Size != 0 && r.Meta.Size != size {
		return Record{}, fmt.Errorf("%w: checkpoint has %d, requested %d; use a matching size or delete %s",
			ErrSizeMismatch, r.Meta.Size, size, path)
	}
	return r, nil
}

// Remove deletes the checkpoint at path. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing checkpoint: %w", err)
	}
	return nil
}
