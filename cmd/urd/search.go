package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/urdimbre/urdimbre-go/internal/retrieval"
)

var (
	searchTopK        int
	searchHybrid      bool
	searchBM25Weight  float64
	searchArchivo     string
	searchThreshold   float64
	searchInterviewer bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query>...",
	Short: "Semantic (optionally hybrid BM25) search over fragments",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var (
	discoverPositives []string
	discoverNegatives []string
	discoverTarget    string
	discoverTopK      int
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Concept-anchored discovery search",
	Long: `Discovery steers retrieval with positive and negative concept anchors.
Each anchor is quality-gated against the corpus; when no positive anchor
clears the score floor the query falls back to an arithmetic blend and the
response is labelled accordingly.`,
	RunE: runDiscover,
}

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 5, "results to return")
	searchCmd.Flags().BoolVar(&searchHybrid, "hybrid", false, "fuse BM25 lexical rank into the score")
	searchCmd.Flags().Float64Var(&searchBM25Weight, "bm25-weight", 0.3, "lexical weight in [0,1] when --hybrid")
	searchCmd.Flags().StringVar(&searchArchivo, "archivo", "", "restrict to one interview")
	searchCmd.Flags().Float64Var(&searchThreshold, "threshold", 0, "drop hits scoring below this")
	searchCmd.Flags().BoolVar(&searchInterviewer, "include-interviewer", false, "include interviewer fragments")

	discoverCmd.Flags().StringArrayVar(&discoverPositives, "positive", nil, "positive concept anchor (repeatable)")
	discoverCmd.Flags().StringArrayVar(&discoverNegatives, "negative", nil, "negative concept anchor (repeatable)")
	discoverCmd.Flags().StringVar(&discoverTarget, "target", "", "target query text")
	discoverCmd.Flags().IntVarP(&discoverTopK, "top-k", "k", 5, "results to return")
}

func runSearch(cmd *cobra.Command, args []string) error {
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

	searcher := retrieval.NewSearcher(idx, st, embedder)
	hits, err := searcher.Search(ctx, retrieval.SearchRequest{
		ProjectID:          projectID,
		Query:              strings.Join(args, " "),
		TopK:               searchTopK,
		Archivo:            searchArchivo,
		UseHybrid:          searchHybrid,
		BM25Weight:         searchBM25Weight,
		ScoreThreshold:     searchThreshold,
		IncludeInterviewer: searchInterviewer,
	})
	if err != nil {
		return err
	}
	printJSON(hits)
	return nil
}

func runDiscover(cmd *cobra.Command, args []string) error {
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
	embedder, err := a.openEmbedder(ctx)
	if err != nil {
		return err
	}

	discoverer := retrieval.NewDiscoverer(idx, embedder, cfg.Qdrant.AnchorScoreFloor)
	resp, err := discoverer.Discover(ctx, retrieval.DiscoverRequest{
		ProjectID: projectID,
		Positives: discoverPositives,
		Negatives: discoverNegatives,
		Target:    discoverTarget,
		TopK:      discoverTopK,
	})
	if err != nil {
		return err
	}
	printJSON(resp)
	return nil
}
