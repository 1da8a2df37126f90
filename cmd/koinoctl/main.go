/*
main.go - Batch verification and recalculation CLI

PURPOSE:
  Operator tool for the nightly jobs: verify a building's carry-forward
  chain over a month range, and optionally recalculate it when
  discrepancies are found.

FLAGS:
  --building     Building ID (required)
  --from         First month, YYYY-MM (required)
  --to           Last month, YYYY-MM (required)
  --verify-only  Report discrepancies without touching anything
  --fix          Recalculate the range, then re-verify
  --dry-run      With --fix: count the months that would be recomputed
                 without writing

EXIT CODES:
  0  Chain verifies clean (warnings allowed)
  1  Discrepancies found (or remain after --fix)
  2  Usage or runtime error

EXAMPLES:
  # Nightly check
  koinoctl --building bld-1 --from 2024-01 --to 2024-12 --verify-only

  # Repair a broken chain
  koinoctl --building bld-1 --from 2024-01 --to 2024-12 --fix

SEE ALSO:
  - cmd/server/main.go: HTTP entrypoint
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/oikos/expense-engine/building"
	"github.com/oikos/expense-engine/config"
	"github.com/oikos/expense-engine/engine"
	"github.com/oikos/expense-engine/logger"
	"github.com/oikos/expense-engine/store/sqlite"
)

func main() {
	buildingID := flag.String("building", "", "building ID (required)")
	fromStr := flag.String("from", "", "first month, YYYY-MM (required)")
	toStr := flag.String("to", "", "last month, YYYY-MM (required)")
	verifyOnly := flag.Bool("verify-only", false, "report discrepancies without recalculating")
	fix := flag.Bool("fix", false, "recalculate the range, then re-verify")
	dryRun := flag.Bool("dry-run", false, "with --fix: count months without writing")
	flag.Parse()

	if *buildingID == "" || *fromStr == "" || *toStr == "" {
		fmt.Fprintln(os.Stderr, "usage: koinoctl --building <id> --from YYYY-MM --to YYYY-MM [--verify-only | --fix [--dry-run]]")
		os.Exit(2)
	}
	if *verifyOnly && *fix {
		fmt.Fprintln(os.Stderr, "--verify-only and --fix are mutually exclusive")
		os.Exit(2)
	}

	from, err := engine.ParseMonthKey(*fromStr)
	if err != nil {
		fail("invalid --from: %v", err)
	}
	to, err := engine.ParseMonthKey(*toStr)
	if err != nil {
		fail("invalid --to: %v", err)
	}

	cfg := config.Load()
	logger.Init(cfg.LogLevel)

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		fail("open database: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	tc := engine.DefaultTenant
	verifier := building.NewVerifier(store)

	report, err := verifier.Verify(ctx, tc, *buildingID, from, to)
	if err != nil {
		fail("verify: %v", err)
	}
	printReport(report)

	if report.Clean() || *verifyOnly {
		exitFor(report)
	}
	if !*fix {
		// Discrepancies found and no repair requested.
		os.Exit(1)
	}

	monthly := building.NewMonthlyService(store, cfg.CarryForwardPolicy)
	recalc := building.NewRecalculator(store, monthly)
	run, warnings, err := recalc.RecalculateAll(ctx, tc, *buildingID, from, to, *dryRun)
	if err != nil {
		fail("recalculate: %v", err)
	}
	fmt.Printf("\nrecalculated %d months (%s..%s)", run.MonthsDone, run.From, run.To)
	if *dryRun {
		fmt.Print(" [dry-run]")
	}
	fmt.Println()
	for _, w := range warnings {
		fmt.Printf("  warning [%s] %s\n", w.Code, w.Message)
	}
	if *dryRun {
		os.Exit(1)
	}

	report, err = verifier.Verify(ctx, tc, *buildingID, from, to)
	if err != nil {
		fail("re-verify: %v", err)
	}
	fmt.Println("\nafter recalculation:")
	printReport(report)
	exitFor(report)
}

func printReport(report *building.VerificationReport) {
	fmt.Printf("chain %s %s..%s: %s\n", report.BuildingID, report.From, report.To, report.Status)
	for _, issue := range report.Issues {
		fmt.Printf("  %s [%s] %s: %s", issue.Month, issue.Severity, issue.Code, issue.Message)
		if issue.Code == "carry_forward_mismatch" {
			fmt.Printf(" (expected %s, found %s)", issue.Expected, issue.Actual)
		}
		fmt.Println()
	}
}

func exitFor(report *building.VerificationReport) {
	if report.Clean() {
		os.Exit(0)
	}
	os.Exit(1)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(2)
}
