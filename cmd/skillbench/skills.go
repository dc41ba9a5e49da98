package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kalambet/skillbench/internal/eval"
	"github.com/kalambet/skillbench/internal/storage"
)

var skillsCmd = &cobra.Command{
	Use:   "skills",
	Short: "Inspect the skill library",
}

var skillsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List skills, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		run, _ := cmd.Flags().GetString("run")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		list, err := store.ListSkills(cmd.Context(), storage.SkillFilter{EvalRun: run, Limit: limit, Offset: offset})
		if err != nil {
			return err
		}
		if len(list) == 0 {
			printWarning("No skills found")
			return nil
		}
		for _, sk := range list {
			writeSkillRow(cmd.OutOrStdout(), sk)
		}
		return nil
	},
}

var skillsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one skill",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		sk, err := store.GetSkill(cmd.Context(), args[0])
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("skill %s not found", args[0])
		}
		if err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sk)
		}
		writeSkill(cmd.OutOrStdout(), sk)
		return nil
	},
}

var skillsRevisionsCmd = &cobra.Command{
	Use:   "revisions <id>",
	Short: "Show the revision history of a skill",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		if _, err := store.GetSkill(cmd.Context(), args[0]); errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("skill %s not found", args[0])
		} else if err != nil {
			return err
		}
		revs, err := store.ListRevisions(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(revs) == 0 {
			printWarning("Skill %s has not been revised", args[0])
			return nil
		}
		for _, rev := range revs {
			writeRevision(cmd.OutOrStdout(), rev)
		}
		return nil
	},
}

func init() {
	skillsListCmd.Flags().String("run", "", "only skills owned by this run prefix")
	skillsListCmd.Flags().Int("limit", 50, "maximum number of skills")
	skillsListCmd.Flags().Int("offset", 0, "skip this many skills")
	skillsShowCmd.Flags().Bool("json", false, "print as JSON")
	skillsCmd.AddCommand(skillsListCmd, skillsShowCmd, skillsRevisionsCmd)
}

// --- clear ---

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete skills created by evaluation runs",
	Long: `Delete skills created by evaluation runs. Skills that no run owns are
never touched.

--legacy deletes the skills of the finished run exported in the output
directory. --all-runs deletes the skills of every run, including runs that
may still be in progress against the same store; use it only when no other
run is active.

Examples:
  skillbench clear --run-prefix eval-1a2b3c4d
  skillbench clear --legacy
  skillbench clear --all-runs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, _ := cmd.Flags().GetString("run-prefix")
		legacy, _ := cmd.Flags().GetBool("legacy")
		allRuns, _ := cmd.Flags().GetBool("all-runs")
		modes := 0
		for _, set := range []bool{prefix != "", legacy, allRuns} {
			if set {
				modes++
			}
		}
		if modes != 1 {
			return fmt.Errorf("exactly one of --run-prefix, --legacy or --all-runs is required")
		}

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		var n int64
		switch {
		case prefix != "":
			n, err = store.DeleteSkillsByRun(cmd.Context(), prefix)
		case legacy:
			n, err = clearFinished(cmd.Context(), store, cfg.Eval.OutputDir)
		default:
			printWarning("Deleting the skills of every evaluation run, including runs still in progress")
			n, err = store.DeleteTaggedSkills(cmd.Context(), eval.RunNamespace)
		}
		if err != nil {
			return err
		}
		printSuccess("Deleted %d skills", n)
		return nil
	},
}

// clearFinished deletes the skills of the runs exported in dir.
func clearFinished(ctx context.Context, store skillStore, dir string) (int64, error) {
	prefixes, err := eval.FinishedRuns(dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, p := range prefixes {
		n, err := store.DeleteSkillsByRun(ctx, p)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func init() {
	clearCmd.Flags().String("run-prefix", "", "delete the skills of this run")
	clearCmd.Flags().Bool("legacy", false, "delete the skills of the finished run in the output directory")
	clearCmd.Flags().Bool("all-runs", false, "delete the skills of every run, even active ones")
}
