package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/urdimbre/urdimbre-go/internal/models"
)

var memosCmd = &cobra.Command{
	Use:   "memos",
	Short: "Tagged analytic memo statements",
	Long: `Memo statements carry an epistemic tag: OBSERVATION, INTERPRETATION,
HYPOTHESIS or NORMATIVE_INFERENCE. An OBSERVATION without evidence
fragments is demoted to INTERPRETATION on insert.`,
}

var (
	memoType     string
	memoEvidence []string
)

var memosAddCmd = &cobra.Command{
	Use:   "add <text>...",
	Short: "Record an analytic statement",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runMemosAdd,
}

var (
	memoListType  string
	memoListLimit int
)

var memosListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the project's memo statements",
	RunE:  runMemosList,
}

func init() {
	memosAddCmd.Flags().StringVar(&memoType, "type", string(models.MemoInterpretation),
		"OBSERVATION|INTERPRETATION|HYPOTHESIS|NORMATIVE_INFERENCE")
	memosAddCmd.Flags().StringArrayVar(&memoEvidence, "evidence", nil, "supporting fragment id (repeatable)")

	memosListCmd.Flags().StringVar(&memoListType, "type", "", "filter by epistemic type")
	memosListCmd.Flags().IntVar(&memoListLimit, "limit", 50, "maximum statements")

	memosCmd.AddCommand(memosAddCmd, memosListCmd)
}

func runMemosAdd(cmd *cobra.Command, args []string) error {
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
	stmt := models.MemoStatement{
		Type:        models.EpistemicType(strings.ToUpper(memoType)),
		Text:        strings.Join(args, " "),
		EvidenceIDs: memoEvidence,
	}
	if err := st.InsertMemoStatements(ctx, projectID, []models.MemoStatement{stmt}); err != nil {
		return err
	}
	stmt.Normalize()
	printJSON(stmt)
	return nil
}

func runMemosList(cmd *cobra.Command, args []string) error {
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
	stmts, err := st.ListMemoStatements(ctx, projectID,
		models.EpistemicType(strings.ToUpper(memoListType)), memoListLimit)
	if err != nil {
		return err
	}
	printJSON(stmts)
	return nil
}
