package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/deepresearch/internal/db"
	"github.com/Kocoro-lab/deepresearch/internal/util"
)

var (
	historyLimit int
	historyOwner string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer client.Close()
		return migrate(ctx, client, cmd.OutOrStdout())
	},
}

var historyCmd = &cobra.Command{
	Use:   "history [job-id]",
	Short: "List recent jobs, or print one job's status messages",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer client.Close()
		if len(args) == 1 {
			return printJobHistory(ctx, client, args[0], cmd.OutOrStdout())
		}
		return printJobs(ctx, client, db.ListOptions{Owner: historyOwner, Limit: historyLimit}, cmd.OutOrStdout(), time.Now())
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of jobs to list")
	historyCmd.Flags().StringVar(&historyOwner, "owner", "", "Only list jobs of this owner")
}

// openDB connects to the configured database without the rest of the engine.
func openDB(ctx context.Context) (*db.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return db.Open(ctx, cfg.Database, logger)
}

func migrate(ctx context.Context, client *db.Client, out io.Writer) error {
	applied, err := client.Migrate(ctx)
	if err != nil {
		return err
	}
	version, err := client.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Applied %d migration(s); schema version %d\n", applied, version)
	return nil
}

func printJobs(ctx context.Context, client *db.Client, opts db.ListOptions, out io.Writer, now time.Time) error {
	jobs, err := client.ListJobs(ctx, opts)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs yet.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tCREATED\tDURATION\tTITLE")
	for _, j := range jobs {
		title := j.Title
		if title == "" {
			title = j.Query
		}
		duration := "-"
		if j.Duration > 0 {
			duration = util.FormatDuration(j.Duration)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", j.ID, j.Status, util.TimeAgo(j.CreatedAt, now), duration, title)
	}
	return tw.Flush()
}

func printJobHistory(ctx context.Context, client *db.Client, jobID string, out io.Writer) error {
	job, err := client.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s (%s)\n", job.Query, job.Status)
	events, err := client.StatusHistory(ctx, jobID)
	if err != nil {
		return err
	}
	for _, ev := range events {
		fmt.Fprintf(out, "  %s  %s\n", ev.Timestamp.Local().Format(time.DateTime), ev.Message)
	}
	return nil
}
