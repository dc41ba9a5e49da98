package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kalambet/skillbench/internal/dataset"
	"github.com/kalambet/skillbench/internal/eval"
	"github.com/kalambet/skillbench/internal/resolution"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the baseline and continual evaluation phases",
	Long: `Run the baseline and continual evaluation phases over the configured
dataset split. Progress is checkpointed after every conversation; an
interrupted run continues with --resume.

Examples:
  skillbench run --size 50
  skillbench run --size 50 --resume
  skillbench run --clear-legacy`,
	RunE: func(cmd *cobra.Command, args []string) error {
		size, _ := cmd.Flags().GetInt("size")
		resume, _ := cmd.Flags().GetBool("resume")
		clearLegacy, _ := cmd.Flags().GetBool("clear-legacy")
		if size < 0 {
			return fmt.Errorf("--size must not be negative")
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		ctx := cmd.Context()

		convs, err := dataset.LoadSplit(cfg.Eval.DatasetPath, cfg.Eval.Split, size)
		if err != nil {
			return fmt.Errorf("loading dataset: %w", err)
		}
		if len(convs) == 0 {
			return fmt.Errorf("split %q has no conversations", cfg.Eval.Split)
		}
		kb, err := dataset.LoadKB(cfg.Eval.KBPath)
		if err != nil {
			return fmt.Errorf("loading kb: %w", err)
		}

		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		gw, err := buildGateway(ctx, cfg)
		if err != nil {
			return err
		}

		h := eval.NewHarness(gw, store, resolution.New(kb), eval.Config{
			Retry:              retryPolicy(cfg),
			TopK:               cfg.Retrieval.TopK,
			MinScore:           cfg.Retrieval.MinScore,
			DuplicateThreshold: cfg.Skills.DuplicateThreshold,
			SnapshotEvery:      cfg.Eval.SnapshotEvery,
			Logger:             slog.Default(),
		})

		printStep("Evaluating %s %s conversations", humanize.Comma(int64(len(convs))), cfg.Eval.Split)
		start := time.Now()
		rec, err := h.Run(ctx, convs, eval.RunOptions{
			OutputDir:     cfg.Eval.OutputDir,
			Size:          len(convs),
			Resume:        resume,
			ClearFinished: clearLegacy,
		})
		if errors.Is(err, context.Canceled) {
			printWarning("Interrupted; continue with: skillbench run --size %d --resume", len(convs))
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout())
		writeRecord(cmd.OutOrStdout(), rec, time.Time{})
		printSuccess("Finished in %s; results in %s", time.Since(start).Round(time.Second), cfg.Eval.OutputDir)
		return nil
	},
}

func init() {
	runCmd.Flags().Int("size", 0, "number of conversations to evaluate (default: whole split)")
	runCmd.Flags().Bool("resume", false, "continue from the checkpoint in the output directory")
	runCmd.Flags().Bool("clear-legacy", false, "also delete the skills of the finished run exported in the output directory")
}
