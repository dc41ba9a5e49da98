package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/skillbench/internal/metrics"
)

func sample() Record {
	skill := "s1"
	r := New(Meta{Size: 3, RunID: "1a2b3c4d", RunPrefix: "eval-1a2b3c4d"})
	r.Baseline = []metrics.ConversationMetric{{ConversationID: "1", JudgeScore: 2}, {ConversationID: "2", JudgeScore: 4}}
	r.Continual = []metrics.ConversationMetric{{ConversationID: "1", JudgeScore: 5, SkillUsed: true, SkillID: &skill}}
	r.Progress = Progress{BaselineLastIndex: 2, ContinualLastIndex: 0}
	r.SkillsCreated = 1
	r.Summarize()
	return r
}

func TestNew_EmptyProgress(t *testing.T) {
	r := New(Meta{Size: 10})
	assert.Equal(t, -1, r.Progress.BaselineLastIndex)
	assert.Equal(t, -1, r.Progress.ContinualLastIndex)
	assert.NotNil(t, r.Baseline)
	assert.NotNil(t, r.Continual)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := PartialPath(t.TempDir())
	want := sample()

	require.NoError(t, Save(path, want))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.InDelta(t, 2.0, got.Summary.Improvement, 1e-9)
}

func TestSummarize_RunningAverage(t *testing.T) {
	r := sample()
	require.NotNil(t, r.RunningAverage)
	assert.Equal(t, []float64{2, 3}, r.RunningAverage.Baseline)
	assert.Equal(t, []float64{5}, r.RunningAverage.Continual)

	empty := New(Meta{Size: 3})
	empty.Summarize()
	assert.Nil(t, empty.RunningAverage)
}

func TestSave_ExportsRunningAverage(t *testing.T) {
	path := FinalPath(t.TempDir())
	require.NoError(t, Save(path, sample()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc struct {
		RunningAverage json.RawMessage `json:"running_average"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.JSONEq(t, `{"baseline": [2, 3], "continual": [5]}`, string(doc.RunningAverage))
}

func TestSave_WireFormat(t *testing.T) {
	path := FinalPath(t.TempDir())
	require.NoError(t, Save(path, New(Meta{Size: 50, RunID: "abc", RunPrefix: "eval-abc"})))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"meta": {"size": 50, "run_id": "abc", "run_prefix": "eval-abc"},
		"progress": {"baseline_last_index": -1, "continual_last_index": -1},
		"baseline": [], "continual": [],
		"skills_created": 0,
		"summary": {"baseline_avg_score": 0, "continual_avg_score": 0, "improvement": 0,
		            "baseline_count": 0, "continual_count": 0}
	}`, string(data))
}

func TestSave_OmitsEmptySnapshots(t *testing.T) {
	path := PartialPath(t.TempDir())
	r := sample()
	r.Snapshots = &Snapshots{}
	require.NoError(t, Save(path, r))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Nil(t, got.Snapshots)
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Save(PartialPath(dir), sample()))
	require.NoError(t, Save(PartialPath(dir), sample()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, PartialFile, entries[0].Name())
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestLoadForResume_SizeMismatch(t *testing.T) {
	path := PartialPath(t.TempDir())
	require.NoError(t, Save(path, sample()))

	_, err := LoadForResume(path, 5)
	assert.ErrorIs(t, err, ErrSizeMismatch)

	r, err := LoadForResume(path, 3)
	require.NoError(t, err)
	assert.Equal(t, "eval-1a2b3c4d", r.Meta.RunPrefix)
}

func TestRemove_MissingIsFine(t *testing.T) {
	assert.NoError(t, Remove(filepath.Join(t.TempDir(), PartialFile)))
}

func TestWatch_ReportsReplacements(t *testing.T) {
	dir := t.TempDir()
	path := PartialPath(dir)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	seen := make(chan Record, 8)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(r Record) { seen <- r }) }()

	want := sample()
	deadline := time.After(4 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case r := <-seen:
			assert.Equal(t, want.Meta, r.Meta)
			cancel()
			assert.NoError(t, <-done)
			return
		case <-tick.C:
			// The watcher may not be registered yet; keep replacing the file.
			require.NoError(t, Save(path, want))
		case <-deadline:
			require.FailNow(t, "no checkpoint event observed")
		}
	}
}
