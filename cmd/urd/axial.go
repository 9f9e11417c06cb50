package main

import (
	"github.com/spf13/cobra"

	"github.com/urdimbre/urdimbre-go/internal/axial"
	"github.com/urdimbre/urdimbre-go/internal/graph"
	"github.com/urdimbre/urdimbre-go/internal/models"
)

var axialCmd = &cobra.Command{
	Use:   "axial",
	Short: "Axial coding: typed category relations and graph analysis",
}

var (
	relateEvidence []string
	relateMemo     string
)

var axialRelateCmd = &cobra.Command{
	Use:   "relate <categoria> <tipo> <codigo>",
	Short: "Assert a typed Category->Code relation with evidence",
	Long: `Asserts a relation of type partede|causa|condicion|consecuencia.
At least two distinct evidence fragments are required and each must already
carry the target code in this project.`,
	Args: cobra.ExactArgs(3),
	RunE: runAxialRelate,
}

var axialListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the project's axial relations",
	RunE:  runAxialList,
}

var analyzePersist bool

var axialAnalyzeCmd = &cobra.Command{
	Use:   "analyze <pagerank|betweenness|louvain|leiden>",
	Short: "Run a graph algorithm over the code co-occurrence network",
	Args:  cobra.ExactArgs(1),
	RunE:  runAxialAnalyze,
}

var axialOverlapCmd = &cobra.Command{
	Use:   "overlap <code-a> <code-b>",
	Short: "Count fragments carrying both codes",
	Args:  cobra.ExactArgs(2),
	RunE:  runAxialOverlap,
}

var axialSubgraphCmd = &cobra.Command{
	Use:   "subgraph <categoria>",
	Short: "Show a category's typed relation edges",
	Args:  cobra.ExactArgs(1),
	RunE:  runAxialSubgraph,
}

var axialMigrateEdgesCmd = &cobra.Command{
	Use:   "migrate-edges",
	Short: "Upgrade legacy untyped graph edges to discovered-legacy relations",
	RunE:  runAxialMigrateEdges,
}

func init() {
	axialRelateCmd.Flags().StringArrayVar(&relateEvidence, "evidence", nil, "evidence fragment id (repeatable, at least 2)")
	axialRelateCmd.Flags().StringVar(&relateMemo, "memo", "", "analytic memo stored with the relation")

	axialAnalyzeCmd.Flags().BoolVar(&analyzePersist, "persist", false, "write scores back to the graph")

	axialCmd.AddCommand(axialRelateCmd, axialListCmd, axialAnalyzeCmd,
		axialOverlapCmd, axialSubgraphCmd, axialMigrateEdgesCmd)
}

func openAxial(cmd *cobra.Command, a *app) (*axial.Engine, error) {
	ctx := cmd.Context()
	st, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	g, err := a.openGraph(ctx)
	if err != nil {
		return nil, err
	}
	return axial.NewEngine(st, g, graph.NewEngine(ctx, g)), nil
}

func runAxialRelate(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	engine, err := openAxial(cmd, a)
	if err != nil {
		return err
	}
	rel := &models.AxialRelation{
		ProjectID: projectID,
		Categoria: args[0],
		Tipo:      models.RelationType(args[1]),
		Codigo:    args[2],
		Evidencia: relateEvidence,
		Memo:      relateMemo,
	}
	if err := engine.AssignAxialRelation(ctx, rel, actor()); err != nil {
		return err
	}
	printJSON(rel)
	return nil
}

func runAxialList(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	engine, err := openAxial(cmd, a)
	if err != nil {
		return err
	}
	rels, err := engine.ListRelations(ctx, projectID)
	if err != nil {
		return err
	}
	printJSON(rels)
	return nil
}

func runAxialAnalyze(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	engine, err := openAxial(cmd, a)
	if err != nil {
		return err
	}
	result, err := engine.RunGraphAnalysis(ctx, projectID, args[0], analyzePersist)
	if err != nil {
		return err
	}
	printJSON(result)
	return nil
}

func runAxialOverlap(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	g, err := a.openGraph(ctx)
	if err != nil {
		return err
	}
	n, err := g.CodeOverlap(ctx, projectID, args[0], args[1])
	if err != nil {
		return err
	}
	cmd.Printf("%d\n", n)
	return nil
}

func runAxialSubgraph(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	g, err := a.openGraph(ctx)
	if err != nil {
		return err
	}
	edges, err := g.CategorySubgraph(ctx, projectID, args[0])
	if err != nil {
		return err
	}
	printJSON(edges)
	return nil
}

func runAxialMigrateEdges(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	engine, err := openAxial(cmd, a)
	if err != nil {
		return err
	}
	n, err := engine.MigrateLegacyEdges(ctx, projectID)
	if err != nil {
		return err
	}
	cmd.Printf("migrated %d legacy edges\n", n)
	return nil
}
