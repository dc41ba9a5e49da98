// Package metrics records per-conversation evaluation results and derives
// the aggregates, trends and phase comparison reported for a run.
package metrics

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrSnapshotOrder is returned when a snapshot would cover fewer
// conversations than the one before it.
var ErrSnapshotOrder = errors.New("snapshot count decreased")

// ConversationMetric is the result of processing one conversation in one
// phase. SkillID is nil when no skill was used.
type ConversationMetric struct {
	ConversationID   string  `json:"conversation_id"`
	JudgeScore       float64 `json:"judge_score"`
	SkillUsed        bool    `json:"skill_used"`
	SkillID          *string `json:"skill_id"`
	ResolutionTimeMs float64 `json:"resolution_time_ms"`
}

// Aggregate summarises a metric sequence.
type Aggregate struct {
	TotalConversations  int     `json:"total_conversations"`
	AvgJudgeScore       float64 `json:"avg_judge_score"`
	SkillUseRate        float64 `json:"skill_use_rate"`
	AvgResolutionTimeMs float64 `json:"avg_resolution_time_ms"`
}

// Snapshot is an aggregate frozen at a point of the run.
type Snapshot struct {
	Label     string    `json:"label"`
	Timestamp time.Time `json:"timestamp"`
	Count     int       `json:"count"`
	Aggregate Aggregate `json:"aggregate"`
}

// Tracker accumulates metrics for one phase. It is append-only and safe for
// concurrent use.
type Tracker struct {
	mu        sync.Mutex
	metrics   []ConversationMetric
	snapshots []Snapshot
	now       func() time.Time
}

// NewTracker returns a Tracker seeded with prior metrics, as when a phase
// resumes from a checkpoint.
func NewTracker(prior ...ConversationMetric) *Tracker {
	t := &Tracker{now: time.Now}
	t.metrics = append(t.metrics, prior...)
	return t
}

// Record appends m.
func (t *Tracker) Record(m ConversationMetric) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics = append(t.metrics, m)
}

// Len returns the number of recorded metrics.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.metrics)
}

// Metrics returns a copy of the recorded metrics in order.
func (t *Tracker) Metrics() []ConversationMetric {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ConversationMetric, len(t.metrics))
	copy(out, t.metrics)
	return out
}

// Aggregate summarises everything recorded so far.
func (t *Tracker) Aggregate() Aggregate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Summarize(t.metrics)
}

// RunningAverage returns the mean judge score over the first k metrics for
// every k from 1 to Len.
func (t *Tracker) RunningAverage() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return RunningAverage(t.metrics)
}

// Snapshot freezes the current aggregate under label.
func (t *Tracker) Snapshot(label string) (Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		Label:     label,
		Timestamp: t.now().UTC(),
		Count:     len(t.metrics),
		Aggregate: Summarize(t.metrics),
	}
	if n := len(t.snapshots); n > 0 && s.Count < t.snapshots[n-1].Count {
		return Snapshot{}, fmt.Errorf("%w: %d after %d", ErrSnapshotOrder, s.Count, t.snapshots[n-1].Count)
	}
	t.snapshots = append(t.snapshots, s)
	return s, nil
}

// RestoreSnapshots replaces the snapshot history, as when resuming. The
// history must be ordered by count.
func (t *Tracker) RestoreSnapshots(snaps []Snapshot) error {
	for i := 1; i < len(snaps); i++ {
		if snaps[i].Count < snaps[i-1].Count {
			return fmt.Errorf("%w: %q has %d after %d", ErrSnapshotOrder, snaps[i].Label, snaps[i].Count, snaps[i-1].Count)
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snapshots = append([]Snapshot(nil), snaps...)
	return nil
}

// Snapshots returns a copy of the snapshot history.
func (t *Tracker) Snapshots() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Snapshot, len(t.snapshots))
	copy(out, t.snapshots)
	return out
}

// RunningAverage returns the mean judge score over the first k metrics of
// ms for every k from 1 to len(ms). It is how quality trends within a phase
// are compared.
func RunningAverage(ms []ConversationMetric) []float64 {
	out := make([]float64, len(ms))
	var sum float64
	for i, m := range ms {
		sum += m.JudgeScore
		out[i] = sum / float64(i+1)
	}
	return out
}

// Summarize aggregates ms. An empty sequence yields zero values.
func Summarize(ms []ConversationMetric) Aggregate {
	a := Aggregate{TotalConversations: len(ms)}
	if len(ms) == 0 {
		return a
	}
	var score, latency float64
	used := 0
	for _, m := range ms {
		score += m.JudgeScore
		latency += m.ResolutionTimeMs
		if m.SkillUsed {
			used++
		}
	}
	n := float64(len(ms))
	a.AvgJudgeScore = score / n
	a.SkillUseRate = float64(used) / n
	a.AvgResolutionTimeMs = latency / n
	return a
}

// Summary compares the two phases of a run.
type Summary struct {
	BaselineAvgScore  float64 `json:"baseline_avg_score"`
	ContinualAvgScore float64 `json:"continual_avg_score"`
	Improvement       float64 `json:"improvement"`
	BaselineCount     int     `json:"baseline_count"`
	ContinualCount    int     `json:"continual_count"`
}

// Compare summarises baseline against continual. Improvement stays 0 until
// both phases have metrics.
func Compare(baseline, continual []ConversationMetric) Summary {
	b, c := Summarize(baseline), Summarize(continual)
	s := Summary{
		BaselineAvgScore:  b.AvgJudgeScore,
		ContinualAvgScore: c.AvgJudgeScore,
		BaselineCount:     len(baseline),
		ContinualCount:    len(continual),
	}
	if len(baseline) > 0 && len(continual) > 0 {
		s.Improvement = c.AvgJudgeScore - b.AvgJudgeScore
	}
	return s
}

// SkillsUsed counts metrics that used a skill.
func SkillsUsed(ms []ConversationMetric) int {
	n := 0
	for _, m := range ms {
		if m.SkillUsed {
			n++
		}
	}
	return n
}
