package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/kalambet/skillbench/internal/checkpoint"
	"github.com/kalambet/skillbench/internal/metrics"
	"github.com/kalambet/skillbench/internal/storage"
)

var (
	green  = lipgloss.Color("#5FD787")
	red    = lipgloss.Color("#FF5F5F")
	yellow = lipgloss.Color("#FFD75F")
	cyan   = lipgloss.Color("#5FD7FF")
	gray   = lipgloss.Color("#8A8A8A")

	successStyle = lipgloss.NewStyle().Foreground(green)
	errorStyle   = lipgloss.NewStyle().Foreground(red)
	warnStyle    = lipgloss.NewStyle().Foreground(yellow)
	stepStyle    = lipgloss.NewStyle().Foreground(cyan)
	labelStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(gray)
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(cyan).MarginBottom(1)
)

var noColor = os.Getenv("NO_COLOR") != ""

func render(s lipgloss.Style, text string) string {
	if noColor {
		return text
	}
	return s.Render(text)
}

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, render(successStyle, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, render(errorStyle, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, render(warnStyle, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(os.Stderr, render(stepStyle, "→ "+fmt.Sprintf(format, args...)))
}

func writeStatus(w io.Writer, label string, format string, args ...any) {
	fmt.Fprintf(w, "  %s %s\n", render(labelStyle, label+":"), fmt.Sprintf(format, args...))
}

// phaseProgress renders "done/size" for a phase whose last processed index
// is last.
func phaseProgress(last, size int) string {
	done := last + 1
	if size <= 0 {
		return humanize.Comma(int64(done))
	}
	pct := float64(done) / float64(size) * 100
	return fmt.Sprintf("%s/%s (%.0f%%)", humanize.Comma(int64(done)), humanize.Comma(int64(size)), pct)
}

// writeRecord prints the progress and summary of a checkpoint or export.
func writeRecord(w io.Writer, r checkpoint.Record, modified time.Time) {
	fmt.Fprintln(w, render(headerStyle, "Run "+r.Meta.RunPrefix))
	writeStatus(w, "Size", "%s conversations", humanize.Comma(int64(r.Meta.Size)))
	writeStatus(w, "Baseline", "%s", phaseProgress(r.Progress.BaselineLastIndex, r.Meta.Size))
	writeStatus(w, "Continual", "%s", phaseProgress(r.Progress.ContinualLastIndex, r.Meta.Size))
	writeStatus(w, "Skills created", "%s", humanize.Comma(int64(r.SkillsCreated)))
	if !modified.IsZero() {
		writeStatus(w, "Updated", "%s", humanize.Time(modified))
	}
	if t := r.RunningAverage; t != nil {
		writeStatus(w, "Score trend", "baseline %s, continual %s", trend(t.Baseline), trend(t.Continual))
	}
	fmt.Fprintln(w)
	writeSummary(w, r)
}

// writeSummary prints the baseline/continual comparison table.
func writeSummary(w io.Writer, r checkpoint.Record) {
	base := metrics.Summarize(r.Baseline)
	cont := metrics.Summarize(r.Continual)

	rows := [][3]string{
		{"", "baseline", "continual"},
		{"conversations", humanize.Comma(int64(base.TotalConversations)), humanize.Comma(int64(cont.TotalConversations))},
		{"avg judge score", fmt.Sprintf("%.2f", base.AvgJudgeScore), fmt.Sprintf("%.2f", cont.AvgJudgeScore)},
		{"skill use rate", fmt.Sprintf("%.0f%%", base.SkillUseRate*100), fmt.Sprintf("%.0f%%", cont.SkillUseRate*100)},
		{"avg resolution time", latency(base.AvgResolutionTimeMs), latency(cont.AvgResolutionTimeMs)},
	}

	widths := [3]int{}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}
	for i, row := range rows {
		line := fmt.Sprintf("  %-*s  %*s  %*s", widths[0], row[0], widths[1], row[1], widths[2], row[2])
		if i == 0 {
			line = render(dimStyle, line)
		}
		fmt.Fprintln(w, line)
	}

	imp := r.Summary.Improvement
	style := successStyle
	if imp < 0 {
		style = errorStyle
	}
	fmt.Fprintf(w, "\n  %s %s\n", render(labelStyle, "Improvement:"), render(style, fmt.Sprintf("%+.2f", imp)))
}

// trend shows how a running average moved from the first to the latest
// conversation.
func trend(points []float64) string {
	if len(points) == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%.2f -> %.2f", points[0], points[len(points)-1])
}

func latency(ms float64) string {
	if ms >= 1000 {
		return humanize.FormatFloat("#,###.#", ms/1000) + "s"
	}
	return fmt.Sprintf("%.0fms", ms)
}

// writeSkillRow prints one line of a skill listing.
func writeSkillRow(w io.Writer, sk storage.Skill) {
	run := sk.EvalRun
	if run == "" {
		run = "-"
	}
	fmt.Fprintf(w, "  %s  %s  v%d  used %s  %s  %s\n",
		render(dimStyle, sk.ID), sk.Title, sk.Version, humanize.Comma(int64(sk.TimesUsed)),
		render(dimStyle, run), render(dimStyle, humanize.Time(sk.UpdatedAt)))
}

// writeSkill prints a full skill.
func writeSkill(w io.Writer, sk storage.Skill) {
	fmt.Fprintln(w, render(headerStyle, sk.Title))
	writeStatus(w, "ID", "%s", sk.ID)
	writeStatus(w, "Version", "%d", sk.Version)
	writeStatus(w, "Confidence", "%.2f", sk.Confidence)
	writeStatus(w, "Used", "%s times (%s confirmed)", humanize.Comma(int64(sk.TimesUsed)), humanize.Comma(int64(sk.TimesConfirmed)))
	if sk.ProductArea != "" || sk.IssueType != "" {
		writeStatus(w, "Area", "%s / %s", sk.ProductArea, sk.IssueType)
	}
	if sk.EvalRun != "" {
		writeStatus(w, "Run", "%s", sk.EvalRun)
	}
	writeStatus(w, "Updated", "%s", humanize.Time(sk.UpdatedAt))
	fmt.Fprintf(w, "\n%s\n%s\n", render(labelStyle, "Problem"), sk.Problem)
	if len(sk.Conditions) > 0 {
		fmt.Fprintf(w, "\n%s\n  - %s\n", render(labelStyle, "Conditions"), strings.Join(sk.Conditions, "\n  - "))
	}
	fmt.Fprintf(w, "\n%s\n%s\n", render(labelStyle, "Resolution"), sk.Resolution)
}

// writeRevision prints one revision with its diff.
func writeRevision(w io.Writer, rev storage.Revision) {
	fmt.Fprintf(w, "%s  %s\n", render(labelStyle, fmt.Sprintf("v%d", rev.Version)), render(dimStyle, humanize.Time(rev.CreatedAt)))
	for _, c := range rev.Changes {
		fmt.Fprintf(w, "  - %s\n", c)
	}
	if rev.Diff == "" {
		return
	}
	for _, line := range strings.Split(strings.TrimRight(rev.Diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			line = render(successStyle, line)
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			line = render(errorStyle, line)
		}
		fmt.Fprintln(w, "    "+line)
	}
}
