package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/superyu1337/handbrake-go/internal/models"
	"github.com/superyu1337/handbrake-go/internal/repository"
)

var (
	historyStatus string
	historyLimit  int
	historyJSON   bool
	pruneOlder    time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect and prune recorded encode runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List encode runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete finished runs older than the retention period",
	Long: `Delete runs that finished longer ago than --older-than, which defaults to
history.retention. Pending and running runs are never deleted.`,
	Args: cobra.NoArgs,
	RunE: runHistoryPrune,
}

func init() {
	historyListCmd.Flags().StringVar(&historyStatus, "status", "", "only runs with this status (pending, running, succeeded, failed, cancelled)")
	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of runs (0 for all)")
	historyListCmd.Flags().BoolVar(&historyJSON, "json", false, "output runs as JSON")
	historyPruneCmd.Flags().DurationVar(&pruneOlder, "older-than", 0, "retention period (default is history.retention)")

	historyCmd.AddCommand(historyListCmd, historyPruneCmd)
	rootCmd.AddCommand(historyCmd)
}

func runHistoryList(cmd *cobra.Command, _ []string) error {
	status := models.RunStatus(strings.ToLower(historyStatus))
	if status != "" && !status.Valid() {
		return fmt.Errorf("--status %q: %w", historyStatus, models.ErrInvalidStatus)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, repo, err := openHistory(cmd.Context(), cfg.Database, slog.Default())
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := repo.List(cmd.Context(), repository.RunFilter{Status: status, Limit: historyLimit})
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}

	out := cmd.OutOrStdout()
	if historyJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPROGRESS\tCREATED\tFINISHED\tNAME\tOUTPUT")
	for _, r := range runs {
		finished := "-"
		if r.FinishedAt != nil {
			finished = humanize.Time(*r.FinishedAt)
		}
		name := r.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%.1f%%\t%s\t%s\t%s\t%s\n",
			r.ID, r.Status, r.Percent, humanize.Time(r.CreatedAt), finished, name, r.Output)
	}
	return tw.Flush()
}

func runHistoryPrune(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	retention := cfg.History.Retention
	if cmd.Flags().Changed("older-than") {
		retention = pruneOlder
	}
	if retention <= 0 {
		return fmt.Errorf("no retention period: set history.retention or --older-than")
	}

	db, repo, err := openHistory(cmd.Context(), cfg.Database, slog.Default())
	if err != nil {
		return err
	}
	defer db.Close()

	deleted, err := repo.DeleteFinishedBefore(cmd.Context(), time.Now().UTC().Add(-retention))
	if err != nil {
		return fmt.Errorf("pruning runs: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s finished runs older than %s\n", humanize.Comma(deleted), retention)
	return nil
}
