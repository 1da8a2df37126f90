/*
verify.go - Carry-forward chain verification

PURPOSE:
  Walks a range of MonthlyBalance records and asserts the carry-forward
  invariant: month[i].carry_forward == month[i+1].previous_obligations,
  within 0.01 currency units. The verifier reports; it never mutates.
  Repair is the bulk recalculation orchestrator, a separate operation
  gated behind operator confirmation.

SEVERITY:
  error   - a consecutive pair mismatches (the chain is broken)
  warning - a MonthlyBalance record is missing in the range, a data
            quality issue (mills sum, payment without its transaction)

SEE ALSO:
  - recalc.go: The explicit repair path
*/
package building

import (
	"context"
	"errors"

	"github.com/oikos/expense-engine/engine"
)

// =============================================================================
// VERIFICATION REPORT
// =============================================================================

type VerifyStatus string

const (
	StatusOK      VerifyStatus = "ok"
	StatusWarning VerifyStatus = "warning"
	StatusError   VerifyStatus = "error"
)

type IssueSeverity string

const (
	SeverityWarning IssueSeverity = "warning"
	SeverityError   IssueSeverity = "error"
)

type Issue struct {
	Month    engine.MonthKey
	Severity IssueSeverity
	Code     string
	Message  string

	// For chain mismatches: what the next month recorded vs. what the
	// previous month's carry-forward says it should be.
	Expected engine.Money
	Actual   engine.Money
}

type VerificationReport struct {
	BuildingID string
	From, To   engine.MonthKey
	Status     VerifyStatus
	Issues     []Issue
}

func (r *VerificationReport) add(issue Issue) {
	r.Issues = append(r.Issues, issue)
	if issue.Severity == SeverityError {
		r.Status = StatusError
	} else if r.Status == StatusOK {
		r.Status = StatusWarning
	}
}

// Clean reports whether the chain holds with no errors (warnings allowed).
func (r *VerificationReport) Clean() bool { return r.Status != StatusError }

// ChainEpsilon is the tolerance for carry-forward comparisons.
var ChainEpsilon = engine.MustParseMoney("0.01")

// =============================================================================
// VERIFIER
// =============================================================================

type Verifier struct {
	Store Store
}

func NewVerifier(store Store) *Verifier {
	return &Verifier{Store: store}
}

// Verify checks the carry-forward chain over [from, to] plus the
// building's standing data-quality invariants. Read-only.
func (v *Verifier) Verify(ctx context.Context, tc engine.Tenant, buildingID string, from, to engine.MonthKey) (*VerificationReport, error) {
	if to.Before(from) {
		return nil, engine.ErrInvalidRange
	}

	report := &VerificationReport{BuildingID: buildingID, From: from, To: to, Status: StatusOK}

	records := make(map[engine.MonthKey]*MonthlyBalance)
	for _, mk := range engine.MonthsBetween(from, to) {
		mb, err := v.Store.MonthlyBalance(ctx, tc, buildingID, mk)
		if errors.Is(err, engine.ErrNotFound) {
			report.add(Issue{
				Month:    mk,
				Severity: SeverityWarning,
				Code:     "missing_monthly_balance",
				Message:  "no monthly balance record for " + mk.String(),
			})
			continue
		}
		if err != nil {
			return nil, err
		}
		records[mk] = mb
	}

	// Consecutive-pair carry-forward check. Pairs spanning a missing
	// record are already covered by the warning above.
	for _, mk := range engine.MonthsBetween(from, to) {
		next := mk.Next()
		if next.After(to) {
			break
		}
		cur, curOK := records[mk]
		nxt, nxtOK := records[next]
		if !curOK || !nxtOK {
			continue
		}
		if !cur.CarryForward.WithinEpsilon(nxt.PreviousObligations, ChainEpsilon) {
			report.add(Issue{
				Month:    next,
				Severity: SeverityError,
				Code:     "carry_forward_mismatch",
				Message: "previous obligations of " + next.String() +
					" do not match carry forward of " + mk.String(),
				Expected: cur.CarryForward,
				Actual:   nxt.PreviousObligations,
			})
		}
	}

	if err := v.checkDataQuality(ctx, tc, buildingID, from, to, report); err != nil {
		return nil, err
	}
	return report, nil
}

// checkDataQuality surfaces standing integrity findings: mills that do
// not sum to the baseline and payments missing their 1:1 transaction.
func (v *Verifier) checkDataQuality(ctx context.Context, tc engine.Tenant, buildingID string, from, to engine.MonthKey, report *VerificationReport) error {
	apartments, err := v.Store.Apartments(ctx, tc, buildingID)
	if err != nil {
		return err
	}
	for _, w := range CheckMills(buildingID, apartments) {
		report.add(Issue{Month: from, Severity: SeverityWarning, Code: w.Code, Message: w.Message})
	}

	for _, mk := range engine.MonthsBetween(from, to) {
		payments, err := v.Store.PaymentsInMonth(ctx, tc, buildingID, mk)
		if err != nil {
			return err
		}
		for _, p := range payments {
			if p.TransactionID != "" {
				continue
			}
			report.add(Issue{
				Month:    mk,
				Severity: SeverityWarning,
				Code:     engine.WarnOrphanPayment,
				Message:  "payment " + p.ID + " has no corresponding ledger transaction",
			})
		}
	}
	return nil
}
