package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/urdimbre/urdimbre-go/internal/ingest"
)

var fragmentsCmd = &cobra.Command{
	Use:   "fragments",
	Short: "Inspect and maintain individual fragments",
}

var fragmentsGetCmd = &cobra.Command{
	Use:   "get <fragment-id>",
	Short: "Show one fragment",
	Args:  cobra.ExactArgs(1),
	RunE:  runFragmentsGet,
}

var fragmentsCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count the project's fragments",
	RunE:  runFragmentsCount,
}

var fragmentsSetMetaCmd = &cobra.Command{
	Use:   "set-meta <fragment-id> <key=value>...",
	Short: "Patch fragment metadata keys",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runFragmentsSetMeta,
}

var fragmentsDeleteCmd = &cobra.Command{
	Use:   "delete <fragment-id>",
	Short: "Delete one fragment from all three stores",
	Args:  cobra.ExactArgs(1),
	RunE:  runFragmentsDelete,
}

var purgeYes bool

var fragmentsPurgeCmd = &cobra.Command{
	Use:   "purge-vectors",
	Short: "Delete every vector point of the project",
	Long: `Removes the project's points from the vector store only; the relational
anchor stays intact, so a re-ingest (or the next verify --sweep) rebuilds
the index. Destructive, asks for confirmation.`,
	RunE: runFragmentsPurge,
}

func init() {
	fragmentsPurgeCmd.Flags().BoolVarP(&purgeYes, "yes", "y", false, "skip the confirmation prompt")

	fragmentsCmd.AddCommand(fragmentsGetCmd, fragmentsCountCmd, fragmentsSetMetaCmd,
		fragmentsDeleteCmd, fragmentsPurgeCmd)
}

func runFragmentsGet(cmd *cobra.Command, args []string) error {
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
	fragment, err := st.GetFragment(ctx, projectID, args[0])
	if err != nil {
		return err
	}
	printJSON(fragment)
	return nil
}

func runFragmentsCount(cmd *cobra.Command, args []string) error {
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
	n, err := st.CountFragments(ctx, projectID)
	if err != nil {
		return err
	}
	cmd.Printf("%d\n", n)
	return nil
}

func runFragmentsSetMeta(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	ctx := cmd.Context()
	patch := map[string]any{}
	for _, pair := range args[1:] {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return fmt.Errorf("expected key=value, got %q", pair)
		}
		patch[key] = value
	}
	a := newApp()
	defer a.close(ctx)

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	return st.UpdateFragmentMetadata(ctx, projectID, args[0], patch)
}

func runFragmentsDelete(cmd *cobra.Command, args []string) error {
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
	g, err := a.openGraph(ctx)
	if err != nil {
		return err
	}
	embedder, err := a.openEmbedder(ctx)
	if err != nil {
		return err
	}
	pipeline := ingest.NewPipeline(st, idx, g, embedder)
	return pipeline.DeleteFragment(ctx, projectID, args[0])
}

func runFragmentsPurge(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	idx, err := a.openIndex(ctx)
	if err != nil {
		return err
	}
	if !purgeYes {
		fmt.Printf("Delete ALL vector points of project %s? (y/N): ", projectID)
		reader := bufio.NewReader(os.Stdin)
		response, _ := reader.ReadString('\n')
		if !strings.EqualFold(strings.TrimSpace(response), "y") {
			return fmt.Errorf("purge not confirmed")
		}
	}
	return idx.DeleteByProject(ctx, projectID)
}
