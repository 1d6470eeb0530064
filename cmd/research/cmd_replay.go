package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/deepresearch/internal/temporal"
	"github.com/Kocoro-lab/deepresearch/internal/workflows"
)

var replayCmd = &cobra.Command{
	Use:   "replay <history.json>...",
	Short: "Check exported workflow histories replay against this build",
	Long: `Replays ResearchWorkflow histories exported with
  temporal workflow show --workflow-id research-<job-id> --output json

A failure means the workflow code changed in a non-deterministic way and
running executions would break after a deploy.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			if err := workflows.ReplayHistoryFile(temporal.NewZapAdapter(logger), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Replay succeeded for %s\n", path)
		}
		return nil
	},
}
