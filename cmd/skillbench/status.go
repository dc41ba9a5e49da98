package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/skillbench/internal/checkpoint"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show progress of the current or last evaluation run",
	RunE: func(cmd *cobra.Command, args []string) error {
		follow, _ := cmd.Flags().GetBool("follow")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		dir := cfg.Eval.OutputDir

		if err := showStatus(out, dir); err != nil {
			if !follow || !errors.Is(err, checkpoint.ErrNotFound) {
				return err
			}
			printStep("Waiting for a checkpoint in %s", dir)
		}
		if !follow {
			return nil
		}
		return followStatus(cmd.Context(), out, dir)
	},
}

func init() {
	statusCmd.Flags().BoolP("follow", "f", false, "reprint whenever the checkpoint changes")
}

// showStatus prints the in-progress checkpoint if there is one, otherwise
// the final export.
func showStatus(w io.Writer, dir string) error {
	for _, path := range []string{checkpoint.PartialPath(dir), checkpoint.FinalPath(dir)} {
		rec, err := checkpoint.Load(path)
		if errors.Is(err, checkpoint.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		var mod time.Time
		if info, err := os.Stat(path); err == nil {
			mod = info.ModTime()
		}
		writeRecord(w, rec, mod)
		return nil
	}
	return fmt.Errorf("no evaluation results in %s: %w", dir, checkpoint.ErrNotFound)
}

func followStatus(ctx context.Context, w io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	return checkpoint.Watch(ctx, checkpoint.PartialPath(dir), func(rec checkpoint.Record) {
		fmt.Fprintln(w)
		writeRecord(w, rec, time.Now())
	})
}
