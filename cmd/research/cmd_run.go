package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/deepresearch/internal/app"
	"github.com/Kocoro-lab/deepresearch/internal/research"
	"github.com/Kocoro-lab/deepresearch/internal/streaming"
	"github.com/Kocoro-lab/deepresearch/internal/util"
)

var (
	runBreadth       int
	runDepth         int
	runNoWeb         bool
	runIndexID       string
	runLearningsFile string
	runOutput        string
	runOwner         string
	runClarify       bool
)

var runCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Run one research job in this process and print the report",
	Long: `Creates a job, runs it to completion and writes the markdown report.

Progress messages go to stderr while the job runs. With --clarify the
engine first asks follow-up questions and reads one answer per line
from stdin.

Example:
  research run --breadth 4 --depth 2 "state of solid-state batteries"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

var questionsCmd = &cobra.Command{
	Use:   "questions <query>",
	Short: "Print the clarifying questions the engine would ask",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(cmd.Context(), app.Options{SkipEvidence: true})
		if err != nil {
			return err
		}
		defer a.Close()

		qs, err := a.Clarifier.Questions(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		for i, q := range qs {
			fmt.Fprintf(cmd.OutOrStdout(), "%d. %s\n", i+1, q)
		}
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	f.IntVarP(&runBreadth, "breadth", "b", -1, "Queries per level (default from config)")
	f.IntVarP(&runDepth, "depth", "d", -1, "Recursion levels (default from config)")
	f.BoolVar(&runNoWeb, "no-web", false, "Skip the web search pass")
	f.StringVar(&runIndexID, "index", "", "Document index to search after the web pass")
	f.StringVar(&runLearningsFile, "learnings", "", "File with seed learnings, one per line")
	f.StringVarP(&runOutput, "output", "o", "", "Write the report to this file instead of stdout")
	f.StringVar(&runOwner, "owner", "", "Owner recorded on the job")
	f.BoolVar(&runClarify, "clarify", false, "Answer clarifying questions from stdin first")
}

func runResearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx, app.Options{})
	if err != nil {
		return err
	}
	defer a.Close()

	job, err := newJob(a, strings.Join(args, " "))
	if err != nil {
		return err
	}
	if runClarify {
		qs, err := a.Clarifier.Questions(ctx, job.Query)
		if err != nil {
			return fmt.Errorf("clarify: %w", err)
		}
		job.Questions = askQuestions(cmd.InOrStdin(), cmd.ErrOrStderr(), qs)
	}
	job.Title = a.Clarifier.Title(ctx, job.Query)

	report, err := runJob(ctx, a, job, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if runOutput == "" {
		_, err = io.WriteString(cmd.OutOrStdout(), report+"\n")
		return err
	}
	if err := os.WriteFile(runOutput, []byte(report), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Report written to %s\n", runOutput)
	return nil
}

// newJob applies flags over the configured defaults.
func newJob(a *app.App, query string) (*research.Job, error) {
	job := &research.Job{
		Owner:     runOwner,
		Query:     query,
		Breadth:   a.Config.Research.Breadth,
		Depth:     a.Config.Research.Depth,
		WebSearch: !runNoWeb,
		IndexID:   runIndexID,
	}
	if runBreadth >= 0 {
		job.Breadth = runBreadth
	}
	if runDepth >= 0 {
		job.Depth = runDepth
	}
	if !job.WebSearch && job.IndexID == "" {
		return nil, errors.New("--no-web needs --index")
	}
	if runLearningsFile != "" {
		b, err := os.ReadFile(runLearningsFile)
		if err != nil {
			return nil, fmt.Errorf("read learnings: %w", err)
		}
		job.InitialLearnings = string(b)
	}
	return job, nil
}

// askQuestions prompts for each question and pairs it with the next stdin
// line. Questions left without input get an empty answer.
func askQuestions(in io.Reader, out io.Writer, questions []string) []research.QA {
	sc := bufio.NewScanner(in)
	qas := make([]research.QA, 0, len(questions))
	for _, q := range questions {
		fmt.Fprintf(out, "%s\n> ", q)
		answer := ""
		if sc.Scan() {
			answer = strings.TrimSpace(sc.Text())
		}
		qas = append(qas, research.QA{Question: q, Answer: answer})
	}
	fmt.Fprintln(out)
	return qas
}

// runJob persists job, runs it on the local runner and echoes its status
// stream to progress until the runner returns.
func runJob(ctx context.Context, a *app.App, job *research.Job, progress io.Writer) (string, error) {
	if err := a.DB.CreateJob(ctx, job); err != nil {
		return "", err
	}
	if err := a.DB.MarkRunning(ctx, job.ID); err != nil {
		return "", err
	}

	events, unsubscribe := a.Streams.Subscribe(job.ID, 64)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for evt := range events {
			if evt.Type == streaming.TypeDone {
				return
			}
			fmt.Fprintf(progress, "[%s] %s\n", evt.Timestamp.Local().Format(time.TimeOnly), evt.Message)
		}
	}()

	start := time.Now()
	report, err := research.NewLocalRunner(a.Components, a.Logger).Run(ctx, job.Snapshot())
	select {
	case <-printed:
	case <-time.After(time.Second):
	}
	unsubscribe()
	if err != nil {
		return "", fmt.Errorf("job %s failed: %w", job.ID, err)
	}
	fmt.Fprintf(progress, "Job %s completed in %s\n", job.ID, util.FormatDuration(time.Since(start)))
	return report, nil
}
