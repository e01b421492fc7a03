package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/storage"
	"github.com/miradorstack/mirador-sentinel/internal/storage/sqlite"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

type auditFlags struct {
	limit   int
	since   string
	outcome string
	role    string
	runID   string
}

func newAuditCmd(opts *globalOptions) *cobra.Command {
	flags := &auditFlags{}
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recorded runs",
		Long: `Audit prints the runs recorded in the audit store, newest first. With --run
it prints the per-worker verdicts of a single run instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			store, err := sqlite.NewStore(cfg.Audit.Path)
			if err != nil {
				return fmt.Errorf("open audit store %s: %w", cfg.Audit.Path, err)
			}
			defer store.Close()
			return audit(cmd.OutOrStdout(), store, flags, time.Now())
		},
	}
	cmd.Flags().IntVarP(&flags.limit, "limit", "l", 20, "number of runs to list")
	cmd.Flags().StringVar(&flags.since, "since", "", "only runs started after this (duration like 24h, or RFC3339)")
	cmd.Flags().StringVar(&flags.outcome, "outcome", "", "only runs with this outcome")
	cmd.Flags().StringVar(&flags.role, "role", "", "only runs for this role")
	cmd.Flags().StringVar(&flags.runID, "run", "", "show the verdicts of one run")
	return cmd
}

func audit(w io.Writer, store storage.AuditStorage, flags *auditFlags, now time.Time) error {
	if flags.runID != "" {
		verdicts, err := store.Verdicts(flags.runID)
		if err != nil {
			return err
		}
		if len(verdicts) == 0 {
			fmt.Fprintf(w, "No verdicts recorded for run %s.\n", flags.runID)
			return nil
		}
		return renderVerdicts(w, verdicts)
	}

	filter := storage.RunFilter{
		Role:    flags.role,
		Outcome: flags.outcome,
		Limit:   flags.limit,
	}
	if flags.since != "" {
		since, err := utils.ParseSince(flags.since, now)
		if err != nil {
			return err
		}
		filter.Since = &since
	}

	runs, err := store.ListRuns(filter)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return nil
	}
	return renderRuns(w, runs)
}

func renderRuns(w io.Writer, runs []storage.RunRecord) error {
	table := tablewriter.NewWriter(w)
	table.Header("Started", "Run", "Role", "Outcome", "Status", "Active", "Samples", "Threshold", "Slow", "Stopped")
	for _, run := range runs {
		threshold := "-"
		if run.EffectiveThreshold > 0 {
			threshold = fmt.Sprintf("%.3fs", run.EffectiveThreshold)
		}
		outcome := run.Outcome
		if run.DryRun {
			outcome += " (dry run)"
		}
		if err := table.Append([]string{
			run.StartedAt.Local().Format(time.DateTime),
			shortID(run.RunID),
			run.Role,
			outcome,
			models.Status(run.Status).String(),
			fmt.Sprintf("%d/%d", run.Active, run.FleetSize),
			fmt.Sprintf("%d", run.TotalSamples),
			threshold,
			strings.Join(run.SlowWorkers, ","),
			run.Stopped,
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func renderVerdicts(w io.Writer, verdicts []models.Verdict) error {
	table := tablewriter.NewWriter(w)
	table.Header("Worker", "Samples", "Average", "Slow")
	for _, v := range verdicts {
		slow := ""
		if v.Slow {
			slow = "yes"
		}
		if err := table.Append([]string{
			string(v.Worker),
			fmt.Sprintf("%d", v.Samples),
			fmt.Sprintf("%.3fs", v.Average),
			slow,
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
