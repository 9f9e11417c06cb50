package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/urdimbre/urdimbre-go/internal/coding"
	"github.com/urdimbre/urdimbre-go/internal/graph"
	"github.com/urdimbre/urdimbre-go/internal/models"
	"github.com/urdimbre/urdimbre-go/internal/store"
)

var codesCmd = &cobra.Command{
	Use:   "codes",
	Short: "Open coding: assign, validate and inspect codes",
}

var (
	codesListCode  string
	codesListLimit int
)

var codesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List promoted open codes",
	RunE:  runCodesList,
}

var codesNamesCmd = &cobra.Command{
	Use:   "names",
	Short: "List distinct code names in the project",
	RunE:  runCodesNames,
}

var (
	assignCita string
)

var codesAssignCmd = &cobra.Command{
	Use:   "assign <codigo> <fragment-id>",
	Short: "Queue a manual code assignment for validation",
	Args:  cobra.ExactArgs(2),
	RunE:  runCodesAssign,
}

var codesUnassignCmd = &cobra.Command{
	Use:   "unassign <codigo> <fragment-id>",
	Short: "Remove a promoted code from a fragment",
	Args:  cobra.ExactArgs(2),
	RunE:  runCodesUnassign,
}

var (
	nextArchivo  string
	nextStrategy string
)

var codesNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Fetch the next pending candidate from the validation tray",
	RunE:  runCodesNext,
}

var feedbackDetail string

var codesFeedbackCmd = &cobra.Command{
	Use:   "feedback <candidate-id> <accept|reject|edit>",
	Short: "Validate one candidate: promote, reject or rename",
	Args:  cobra.ExactArgs(2),
	RunE:  runCodesFeedback,
}

var codesMergeCmd = &cobra.Command{
	Use:   "merge <from> <to>",
	Short: "Merge one code into another across candidates, codes and graph",
	Args:  cobra.ExactArgs(2),
	RunE:  runCodesMerge,
}

var codesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Coding progress counters for the project",
	RunE:  runCodesStats,
}

var (
	similarTopK    int
	similarMemo    bool
	similarPersist bool
)

var codesSimilarCmd = &cobra.Command{
	Use:   "similar <fragment-id|codigo>",
	Short: "Find fragments or codes similar to the argument",
	Long: `With --codes the argument is a code name and the output is other codes
whose evidence lives nearby in embedding space. Otherwise the argument is a
fragment id and the output is its nearest fragments, optionally with a short
LLM comparison memo.`,
	Args: cobra.ExactArgs(1),
	RunE: runCodesSimilar,
}

var similarCodes bool

var (
	trayStatus string
	trayLimit  int
)

var codesTrayCmd = &cobra.Command{
	Use:   "tray",
	Short: "List candidates in the validation tray by status",
	RunE:  runCodesTray,
}

var codesComparisonCmd = &cobra.Command{
	Use:   "comparison <comparison-id>",
	Short: "Show a persisted fragment comparison memo",
	Args:  cobra.ExactArgs(1),
	RunE:  runCodesComparison,
}

var (
	saturationWindow    int
	saturationThreshold int
)

var codesSaturationCmd = &cobra.Command{
	Use:   "saturation",
	Short: "Saturation curve: new codes per interview and plateau detection",
	RunE:  runCodesSaturation,
}

var (
	interviewsOrder     string
	interviewsSaturated bool
	interviewsFocus     []string
)

var codesInterviewsCmd = &cobra.Command{
	Use:   "interviews",
	Short: "List interviews under a sampling order",
	RunE:  runCodesInterviews,
}

func init() {
	codesListCmd.Flags().StringVar(&codesListCode, "code", "", "filter by code name")
	codesListCmd.Flags().IntVar(&codesListLimit, "limit", 50, "maximum rows")

	codesAssignCmd.Flags().StringVar(&assignCita, "cita", "", "supporting quote stored with the candidate")

	codesNextCmd.Flags().StringVar(&nextArchivo, "archivo", "", "restrict to one interview")
	codesNextCmd.Flags().StringVar(&nextStrategy, "strategy", "recent", "selection strategy: recent|oldest|random")

	codesFeedbackCmd.Flags().StringVar(&feedbackDetail, "detail", "", "rejection reason or corrected code name")

	codesSimilarCmd.Flags().BoolVar(&similarCodes, "codes", false, "rank similar codes instead of fragments")
	codesSimilarCmd.Flags().IntVarP(&similarTopK, "top-k", "k", 5, "results to return")
	codesSimilarCmd.Flags().BoolVar(&similarMemo, "memo", false, "generate an LLM comparison memo per pair")
	codesSimilarCmd.Flags().BoolVar(&similarPersist, "persist", false, "persist comparison memos")

	codesTrayCmd.Flags().StringVar(&trayStatus, "status", string(models.CandidatePendiente),
		"pendiente|validado|rechazado|hipotesis")
	codesTrayCmd.Flags().IntVar(&trayLimit, "limit", 50, "maximum rows")

	codesSaturationCmd.Flags().IntVar(&saturationWindow, "window", 3, "trailing interviews to inspect")
	codesSaturationCmd.Flags().IntVar(&saturationThreshold, "threshold", 2, "new codes below which the tail counts as flat")

	codesInterviewsCmd.Flags().StringVar(&interviewsOrder, "order", coding.OrderIngestDesc,
		"ingest-desc|ingest-asc|alpha|fragments-desc|fragments-asc|max-variation|theoretical-sampling")
	codesInterviewsCmd.Flags().BoolVar(&interviewsSaturated, "saturated", false, "shift sampling weights toward gap coverage")
	codesInterviewsCmd.Flags().StringSliceVar(&interviewsFocus, "focus-code", nil, "focus codes for selective sampling")

	codesCmd.AddCommand(codesListCmd, codesNamesCmd, codesAssignCmd, codesUnassignCmd,
		codesNextCmd, codesFeedbackCmd, codesMergeCmd, codesStatsCmd, codesSimilarCmd,
		codesTrayCmd, codesComparisonCmd, codesSaturationCmd, codesInterviewsCmd)
}

func runCodesList(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	rows, err := st.ListOpenCodes(ctx, projectID, codesListCode, codesListLimit)
	if err != nil {
		return err
	}
	printJSON(rows)
	return nil
}

func runCodesNames(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	names, err := st.DistinctCodeNames(ctx, projectID)
	if err != nil {
		return err
	}
	printJSON(names)
	return nil
}

func runCodesAssign(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	svc := coding.NewService(st, graph.NullProjector{})
	candidate, err := svc.AssignOpenCode(ctx, projectID, actor(), args[0], args[1], assignCita)
	if err != nil {
		return err
	}
	printJSON(candidate)
	return nil
}

func runCodesUnassign(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	g, err := a.openGraph(ctx)
	if err != nil {
		return err
	}
	svc := coding.NewService(st, g)
	return svc.UnassignOpenCode(ctx, projectID, actor(), args[0], args[1])
}

func runCodesNext(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	svc := coding.NewService(st, graph.NullProjector{})
	candidate, err := svc.NextCandidate(ctx, projectID, nextArchivo, nextStrategy)
	if err != nil {
		return err
	}
	if candidate == nil {
		fmt.Println("validation tray is empty")
		return nil
	}
	printJSON(candidate)
	return nil
}

func runCodesFeedback(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	candidateID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("candidate id must be numeric: %q", args[0])
	}
	a := newApp()
	defer a.close(ctx)

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	g, err := a.openGraph(ctx)
	if err != nil {
		return err
	}
	svc := coding.NewService(st, g)
	promoted, err := svc.ApplyFeedback(ctx, candidateID, actor(), args[1], feedbackDetail)
	if err != nil {
		return err
	}
	if promoted != nil {
		printJSON(promoted)
	}
	return nil
}

func runCodesMerge(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	g, err := a.openGraph(ctx)
	if err != nil {
		return err
	}
	svc := coding.NewService(st, g)
	return svc.MergeCodes(ctx, projectID, args[0], args[1], actor())
}

func runCodesStats(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	svc := coding.NewService(st, graph.NullProjector{})
	stats, err := svc.Stats(ctx, projectID)
	if err != nil {
		return err
	}
	printJSON(stats)
	return nil
}

func runCodesTray(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	rows, err := st.ListCandidates(ctx, projectID, models.CandidateStatus(trayStatus), trayLimit)
	if err != nil {
		return err
	}
	printJSON(rows)
	return nil
}

func runCodesComparison(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	memo, err := st.GetComparison(ctx, args[0])
	if err != nil {
		return err
	}
	cmd.Println(memo)
	return nil
}

func runCodesSaturation(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	curve, err := st.SaturationCurve(ctx, projectID)
	if err != nil {
		return err
	}
	printJSON(map[string]any{
		"curve":   curve,
		"plateau": store.DetectPlateau(curve, saturationWindow, saturationThreshold),
	})
	return nil
}

func runCodesSimilar(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	idx, err := a.openIndex(ctx)
	if err != nil {
		return err
	}
	embedder, err := a.openEmbedder(ctx)
	if err != nil {
		return err
	}
	client, err := a.openLLM(ctx)
	if err != nil {
		return err
	}

	sim := coding.NewSimilarity(st, idx, embedder, client)
	if similarCodes {
		out, err := sim.FindSimilarCodes(ctx, projectID, args[0], similarTopK)
		if err != nil {
			return err
		}
		printJSON(out)
		return nil
	}
	out, err := sim.SuggestSimilarFragments(ctx, projectID, args[0], similarTopK, similarMemo, similarPersist)
	if err != nil {
		return err
	}
	printJSON(out)
	return nil
}

func runCodesInterviews(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	svc := coding.NewService(st, graph.NullProjector{})
	listing, err := svc.ListAvailableInterviews(ctx, projectID, coding.SamplingOptions{
		Order:      interviewsOrder,
		Saturated:  interviewsSaturated,
		FocusCodes: interviewsFocus,
	})
	if err != nil {
		return err
	}
	printJSON(listing)
	return nil
}
