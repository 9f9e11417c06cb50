package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/urdimbre/urdimbre-go/internal/llm"
	"github.com/urdimbre/urdimbre-go/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Browse the project's durable artifacts",
}

var reportPreviews bool

var reportOverviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "List recent reports, memos and checkpoints",
	RunE:  runReportOverview,
}

var (
	memosArchivo string
	memosLimit   int
)

var reportMemosCmd = &cobra.Command{
	Use:   "memos",
	Short: "List semantic runner memos",
	RunE:  runReportMemos,
}

var reportInterviewCmd = &cobra.Command{
	Use:   "interview <archivo> <resumen>...",
	Short: "Record or replace the per-interview summary row",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runReportInterview,
}

var summarizeFragments int

var reportSummarizeCmd = &cobra.Command{
	Use:   "summarize <archivo>",
	Short: "Draft an interview summary with the LLM and store it",
	Args:  cobra.ExactArgs(1),
	RunE:  runReportSummarize,
}

func init() {
	reportOverviewCmd.Flags().BoolVar(&reportPreviews, "previews", false, "include bounded content previews")

	reportMemosCmd.Flags().StringVar(&memosArchivo, "archivo", "", "restrict to one interview")
	reportMemosCmd.Flags().IntVar(&memosLimit, "limit", 50, "maximum memos")

	reportSummarizeCmd.Flags().IntVar(&summarizeFragments, "fragments", 40, "fragments fed to the model")

	reportCmd.AddCommand(reportOverviewCmd, reportMemosCmd, reportInterviewCmd, reportSummarizeCmd)
}

func runReportOverview(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	blobs, err := a.openBlobs(ctx)
	if err != nil {
		return err
	}
	// The relational tail is optional; overview still works blob-only.
	st, _ := a.openStore(ctx)

	surface := report.NewSurface(blobs, st)
	overview, err := surface.Overview(ctx, orgID, projectID, reportPreviews)
	if err != nil {
		return err
	}
	printJSON(overview)
	return nil
}

func runReportInterview(cmd *cobra.Command, args []string) error {
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
	return st.UpsertInterviewReport(ctx, projectID, args[0], strings.Join(args[1:], " "))
}

func runReportSummarize(cmd *cobra.Command, args []string) error {
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
	client, err := a.openLLM(ctx)
	if err != nil {
		return err
	}

	ids, err := st.ListFragmentIDs(ctx, projectID, args[0])
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("interview %s has no fragments", args[0])
	}
	if len(ids) > summarizeFragments {
		ids = ids[:summarizeFragments]
	}
	var sb strings.Builder
	for _, id := range ids {
		fragment, err := st.GetFragment(ctx, projectID, id)
		if err != nil {
			return err
		}
		sb.WriteString(fragment.Text)
		sb.WriteString("\n")
	}

	resumen, err := client.Complete(ctx, llm.AliasMini,
		"Eres una asistente de investigacion cualitativa. Resume la entrevista en un parrafo, en espanol, sin interpretar mas alla del texto.",
		sb.String())
	if err != nil {
		return err
	}
	if err := st.UpsertInterviewReport(ctx, projectID, args[0], resumen); err != nil {
		return err
	}
	cmd.Println(resumen)
	return nil
}

func runReportMemos(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	blobs, err := a.openBlobs(ctx)
	if err != nil {
		return err
	}
	surface := report.NewSurface(blobs, nil)
	memos, err := surface.ListMemos(ctx, orgID, projectID, memosArchivo, memosLimit)
	if err != nil {
		return err
	}
	printJSON(memos)
	return nil
}
