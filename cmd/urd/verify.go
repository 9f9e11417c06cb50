package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	qerr "github.com/urdimbre/urdimbre-go/internal/errors"
	"github.com/urdimbre/urdimbre-go/internal/ingest"
)

// Batch utility exit codes, stable for scripting.
const (
	exitOK                 = 0
	exitVerificationFailed = 2
	exitSafetyViolation    = 3
	exitTimeout            = 4
)

var (
	verifySweep   bool
	verifyYes     bool
	verifyTimeout time.Duration
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check tri-store consistency, optionally sweeping orphans",
	Long: `Compares the relational anchor against the vector and graph stores.
Fragments missing from a secondary store fail verification (exit 2).
Orphans in a secondary store are sweepable with --sweep after confirmation.

Exit codes: 0 ok, 2 verification failed or confirmation missing,
3 safety violation (concurrent run holds the lock), 4 timeout.`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().BoolVar(&verifySweep, "sweep", false, "delete orphaned vector points and graph nodes")
	verifyCmd.Flags().BoolVarP(&verifyYes, "yes", "y", false, "skip the sweep confirmation prompt")
	verifyCmd.Flags().DurationVar(&verifyTimeout, "timeout", 2*time.Minute, "overall deadline for the pass")
}

func runVerify(cmd *cobra.Command, args []string) error {
	if err := requireProject(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), verifyTimeout)
	defer cancel()
	a := newApp()
	defer a.close(ctx)

	code, err := verifyPass(ctx, a)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	if code != exitOK {
		a.close(ctx)
		os.Exit(code)
	}
	return nil
}

func verifyPass(ctx context.Context, a *app) (int, error) {
	st, err := a.openStore(ctx)
	if err != nil {
		return exitVerificationFailed, err
	}
	idx, err := a.openIndex(ctx)
	if err != nil {
		return exitVerificationFailed, err
	}
	g, err := a.openGraph(ctx)
	if err != nil {
		return exitVerificationFailed, err
	}

	verifier := ingest.NewVerifier(st, idx, g)
	report, err := verifier.Verify(ctx, projectID)
	if err != nil {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return exitTimeout, err
		case qerr.KindOf(err) == qerr.KindValidation:
			// Another run holds the lock; refusing to race it.
			return exitSafetyViolation, err
		default:
			return exitVerificationFailed, err
		}
	}
	printJSON(report)

	if !report.Consistent() {
		return exitVerificationFailed, fmt.Errorf("%d fragments missing in vector, %d in graph",
			len(report.MissingInVector), len(report.MissingInGraph))
	}

	orphans := len(report.VectorOrphans) + len(report.GraphOrphans)
	if !verifySweep || orphans == 0 {
		return exitOK, nil
	}

	if !verifyYes && !confirmSweep(orphans) {
		return exitVerificationFailed, fmt.Errorf("sweep of %d orphans not confirmed", orphans)
	}
	if err := verifier.SweepOrphans(ctx, projectID, report, g); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return exitTimeout, err
		}
		return exitVerificationFailed, err
	}
	return exitOK, nil
}

func confirmSweep(orphans int) bool {
	fmt.Printf("Delete %d orphaned entries from the secondary stores? (y/N): ", orphans)
	reader := bufio.NewReader(os.Stdin)
	response, _ := reader.ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(response), "y")
}
