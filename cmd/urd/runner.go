package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/urdimbre/urdimbre-go/internal/coding"
	"github.com/urdimbre/urdimbre-go/internal/graph"
	"github.com/urdimbre/urdimbre-go/internal/runner"
)

var runnerCmd = &cobra.Command{
	Use:   "runner",
	Short: "Semantic runner: autonomous stepwise exploration of the corpus",
}

var runnerIn runner.Inputs

var runnerExecuteCmd = &cobra.Command{
	Use:   "execute",
	Short: "Launch a semantic runner task and follow it to completion",
	Long: `Walks the project's interviews seed by seed: each step embeds the seed
fragment, retrieves its neighbours, asks the LLM for a code suggestion,
saves a memo and submits candidates. State is checkpointed after every
step, so a killed task resumes where it stopped.`,
	RunE: runRunnerExecute,
}

var runnerResumeCmd = &cobra.Command{
	Use:   "resume <task-id>",
	Short: "Resume an interrupted task from its last checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunnerResume,
}

var runnerStatusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show the live counters of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunnerStatus,
}

var runnerResultCmd = &cobra.Command{
	Use:   "result <task-id>",
	Short: "Show the post-mortem report of a finished task",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunnerResult,
}

var runnerCancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Request cooperative cancellation of a running task",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunnerCancel,
}

var (
	runnerListLimit  int
	runnerListMirror bool
)

var runnerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent tasks for the project",
	RunE:  runRunnerList,
}

var batchWorkers int

var runnerBatchCmd = &cobra.Command{
	Use:   "batch <inputs.json>",
	Short: "Run a batch of tasks on a bounded worker pool",
	Long: `Reads a JSON array of task inputs and executes them concurrently.
Each task is still single-threaded over its own state; only the pool is
concurrent.`,
	Args: cobra.ExactArgs(1),
	RunE: runRunnerBatch,
}

func init() {
	f := runnerExecuteCmd.Flags()
	f.StringVar(&runnerIn.SeedFragmentID, "seed", "", "explicit first seed fragment")
	f.StringVar(&runnerIn.Archivo, "archivo", "", "interview to rotate to the front of the walk")
	f.IntVar(&runnerIn.StepsPerInterview, "steps", 0, "steps per interview (0 = config default)")
	f.IntVarP(&runnerIn.TopK, "top-k", "k", 0, "neighbours per step (0 = config default)")
	f.StringVar(&runnerIn.Strategy, "strategy", runner.StrategyBestScore, "next-seed strategy: best-score|first")
	f.StringVar(&runnerIn.InterviewOrder, "order", "", "interview ordering policy (see codes interviews --order)")
	f.IntVar(&runnerIn.MaxInterviews, "max-interviews", 0, "cap on interviews visited (0 = all)")
	f.BoolVar(&runnerIn.IncludeCoded, "include-coded", false, "allow already-coded fragments as seeds")
	f.BoolVar(&runnerIn.SubmitCandidates, "submit", true, "submit suggested codes to the candidate ledger")
	f.IntVar(&runnerIn.CandidatesPerStep, "candidates-per-step", 0, "candidate cap per step (0 = config default)")
	f.BoolVar(&runnerIn.SaveMemos, "memos", true, "save a markdown memo per step")
	f.BoolVar(&runnerIn.LLMSuggest, "llm-suggest", true, "ask the LLM for a code suggestion per step")
	f.StringVar(&runnerIn.LLMModel, "model", "", "model alias or deployment for suggestions")
	f.IntVar(&runnerIn.MinNewUniquePerStep, "min-new-unique", 0, "growth threshold per step (0 = config default)")
	f.IntVar(&runnerIn.SaturationPatience, "saturation-patience", 0, "no-growth steps before saturation (0 = config default)")
	f.IntVar(&runnerIn.CodeRepeatPatience, "code-repeat-patience", 0, "repeated-code steps before saturation (0 = config default)")
	f.StringSliceVar(&runnerIn.FocusCodes, "focus-code", nil, "focus codes for selective sampling")

	runnerListCmd.Flags().IntVar(&runnerListLimit, "limit", 20, "maximum tasks")
	runnerListCmd.Flags().BoolVar(&runnerListMirror, "mirror", false, "read the relational mirror instead of the local registry")

	runnerBatchCmd.Flags().IntVar(&batchWorkers, "workers", 0, "pool size (0 = config default)")

	runnerCmd.AddCommand(runnerExecuteCmd, runnerResumeCmd, runnerStatusCmd,
		runnerResultCmd, runnerCancelCmd, runnerListCmd, runnerBatchCmd)
}

// openRunner wires the full runner stack. Status-only commands go through
// openRegistry instead; they never need the backends.
func openRunner(ctx context.Context, a *app) (*runner.Runner, error) {
	st, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	idx, err := a.openIndex(ctx)
	if err != nil {
		return nil, err
	}
	embedder, err := a.openEmbedder(ctx)
	if err != nil {
		return nil, err
	}
	client, err := a.openLLM(ctx)
	if err != nil {
		return nil, err
	}
	blobs, err := a.openBlobs(ctx)
	if err != nil {
		return nil, err
	}
	reg, err := a.openRegistry()
	if err != nil {
		return nil, err
	}
	sampler := coding.NewService(st, graph.NullProjector{})
	return runner.New(st, idx, embedder, client, sampler, blobs, reg, cfg), nil
}

func runRunnerExecute(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	r, err := openRunner(ctx, a)
	if err != nil {
		return err
	}
	runnerIn.ProjectID = projectID
	cp, err := r.Execute(ctx, a.identity(), runnerIn)
	if cp != nil {
		printJSON(cp)
	}
	return err
}

func runRunnerResume(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	r, err := openRunner(ctx, a)
	if err != nil {
		return err
	}
	cp, err := r.Resume(ctx, a.identity(), args[0])
	if cp != nil {
		printJSON(cp)
	}
	return err
}

func runRunnerStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	reg, err := a.openRegistry()
	if err != nil {
		return err
	}
	cp, err := reg.GetAuthorized(args[0], a.identity())
	if err != nil {
		return err
	}
	printJSON(cp)
	return nil
}

func runRunnerResult(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	reg, err := a.openRegistry()
	if err != nil {
		return err
	}
	blobs, err := a.openBlobs(ctx)
	if err != nil {
		return err
	}
	r := runner.New(st, nil, nil, nil, nil, blobs, reg, cfg)
	report, err := r.Result(ctx, a.identity(), args[0])
	if err != nil {
		return err
	}
	printJSON(report)
	return nil
}

func runRunnerCancel(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	reg, err := a.openRegistry()
	if err != nil {
		return err
	}
	if err := reg.RequestCancel(args[0], a.identity()); err != nil {
		return err
	}
	cmd.Printf("cancellation requested for %s\n", args[0])
	return nil
}

func runRunnerList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	if runnerListMirror {
		st, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		rows, err := st.ListRunnerTasks(ctx, projectID, runnerListLimit)
		if err != nil {
			return err
		}
		printJSON(rows)
		return nil
	}

	reg, err := a.openRegistry()
	if err != nil {
		return err
	}
	tasks, err := reg.List(projectID, runnerListLimit)
	if err != nil {
		return err
	}
	printJSON(tasks)
	return nil
}

func runRunnerBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read batch file: %w", err)
	}
	var inputs []runner.Inputs
	if err := json.Unmarshal(raw, &inputs); err != nil {
		return fmt.Errorf("parse batch file: %w", err)
	}
	if len(inputs) == 0 {
		return fmt.Errorf("batch file holds no tasks")
	}

	a := newApp()
	defer a.close(ctx)

	r, err := openRunner(ctx, a)
	if err != nil {
		return err
	}
	workers := batchWorkers
	if workers <= 0 {
		workers = cfg.Runner.Workers
	}
	sup := runner.NewSupervisor(r, workers)
	// Feed the queue concurrently; Submit blocks once the buffer fills.
	go func() {
		defer sup.Close()
		for _, in := range inputs {
			if in.ProjectID == "" {
				in.ProjectID = projectID
			}
			sup.Submit(a.identity(), in)
		}
	}()
	return sup.Run(ctx)
}
