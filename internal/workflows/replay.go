package workflows

import (
	"fmt"

	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/Kocoro-lab/deepresearch/internal/constants"
)

// ReplayHistoryFile replays an exported workflow history (temporal workflow
// show --output json) against the current ResearchWorkflow code. It fails on
// any non-deterministic change. Activities are not executed.
func ReplayHistoryFile(logger log.Logger, path string) error {
	replayer := worker.NewWorkflowReplayer()
	replayer.RegisterWorkflowWithOptions(ResearchWorkflow, workflow.RegisterOptions{
		Name: constants.ResearchWorkflowName,
	})
	if err := replayer.ReplayWorkflowHistoryFromJSONFile(logger, path); err != nil {
		return fmt.Errorf("replay %s: %w", path, err)
	}
	return nil
}
