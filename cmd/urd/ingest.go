package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/urdimbre/urdimbre-go/internal/ingest"
)

var (
	ingestMinChars        int
	ingestMaxChars        int
	ingestKeepInterviewer bool
	ingestArea            string
	ingestActor           string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Parse transcripts and commit fragments to the tri-store",
	Long: `Parses Speaker: transcript files into fragments and writes them in
canonical order: Postgres first, then Qdrant vectors, then Neo4j nodes.
A mid-file embedding failure leaves the already-committed fragments live
and reports the file as partial; re-running the same file is idempotent.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().IntVar(&ingestMinChars, "min-chars", 0, "minimum fragment length (0 = default)")
	ingestCmd.Flags().IntVar(&ingestMaxChars, "max-chars", 0, "maximum fragment length before splitting (0 = default)")
	ingestCmd.Flags().BoolVar(&ingestKeepInterviewer, "keep-interviewer", false, "keep interviewer turns as tagged fragments")
	ingestCmd.Flags().StringVar(&ingestArea, "area", "", "area tematica recorded on the interviews")
	ingestCmd.Flags().StringVar(&ingestActor, "actor-principal", "", "actor principal recorded on the interviews")
}

func runIngest(cmd *cobra.Command, args []string) error {
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
	if err := idx.EnsureCollection(ctx); err != nil {
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

	var docs []ingest.Document
	for _, path := range args {
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		docs = append(docs, ingest.Document{Archivo: filepath.Base(path), Raw: string(raw)})
	}

	pipeline := ingest.NewPipeline(st, idx, g, embedder)
	result, err := pipeline.IngestAll(ctx, projectID, docs, ingest.Options{
		MinChars:        ingestMinChars,
		MaxChars:        ingestMaxChars,
		KeepInterviewer: ingestKeepInterviewer,
		AreaTematica:    ingestArea,
		ActorPrincipal:  ingestActor,
	})
	if result != nil {
		printJSON(result)
	}
	if err != nil {
		return err
	}
	if result.Totals.Partial > 0 {
		return fmt.Errorf("%d of %d files ingested partially", result.Totals.Partial, result.Totals.Files)
	}
	return nil
}

// printJSON writes v to stdout indented; command output is machine-parseable.
func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
