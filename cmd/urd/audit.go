package main

import (
	"github.com/spf13/cobra"
)

var (
	auditAction string
	auditLimit  int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "List the project's audit trail",
	RunE:  runAudit,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending relational schema migrations",
	RunE:  runMigrate,
}

func init() {
	auditCmd.Flags().StringVar(&auditAction, "action", "", "filter by action name")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum entries")
}

func runAudit(cmd *cobra.Command, args []string) error {
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
	entries, err := st.ListAudit(ctx, projectID, auditAction, auditLimit)
	if err != nil {
		return err
	}
	printJSON(entries)
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a := newApp()
	defer a.close(ctx)

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if err := st.Migrate(ctx); err != nil {
		return err
	}
	cmd.Println("migrations applied")
	return nil
}
