package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/urdimbre/urdimbre-go/internal/config"
	"github.com/urdimbre/urdimbre-go/internal/logging"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile   string
	verbose   bool
	projectID string
	orgID     string
	actorName string
	asAdmin   bool

	cfg *config.Config
)

func main() {
	err := rootCmd.Execute()
	logging.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "urd",
	Short: "Urdimbre - grounded theory coding over interview transcripts",
	Long: `Urdimbre ingests interview transcripts into a tri-store (Postgres,
Qdrant, Neo4j) and supports open coding, axial coding and autonomous
semantic exploration over the corpus.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Initialize(logging.DefaultConfig(verbose)); err != nil {
			return err
		}
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.urdimbre/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&projectID, "project", "p", "", "project id (tenant scope)")
	rootCmd.PersistentFlags().StringVar(&orgID, "org", "", "organization id")
	rootCmd.PersistentFlags().StringVar(&actorName, "actor", "", "actor recorded in the audit trail (default: $USER)")
	rootCmd.PersistentFlags().BoolVar(&asAdmin, "admin", false, "act with admin privileges on runner tasks")

	rootCmd.SetVersionTemplate(`Urdimbre {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(codesCmd)
	rootCmd.AddCommand(axialCmd)
	rootCmd.AddCommand(runnerCmd)
	rootCmd.AddCommand(memosCmd)
	rootCmd.AddCommand(fragmentsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(configureCmd)
}

// actor resolves the audit actor, falling back to the OS user.
func actor() string {
	if actorName != "" {
		return actorName
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

// requireProject guards commands that cannot run without a tenant scope.
func requireProject() error {
	if projectID == "" {
		return fmt.Errorf("--project is required")
	}
	return nil
}
