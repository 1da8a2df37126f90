package building_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oikos/expense-engine/building"
	"github.com/oikos/expense-engine/engine"
	"github.com/oikos/expense-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// computeMonths materializes every month in [from, to] in order.
func computeMonths(t *testing.T, store *sqlite.Store, from, to string) {
	t.Helper()
	monthly := building.NewMonthlyService(store, building.ClampZero)
	for _, mk := range engine.MonthsBetween(month(from), month(to)) {
		_, err := monthly.CreateOrUpdate(context.Background(), tc, "bld-1", mk, false)
		require.NoError(t, err)
	}
}

func issueCodes(report *building.VerificationReport) []string {
	codes := make([]string, len(report.Issues))
	for i, issue := range report.Issues {
		codes[i] = issue.Code
	}
	return codes
}

// =============================================================================
// CHAIN VERIFICATION
// =============================================================================

func TestVerify_IntactChainIsClean(t *testing.T) {
	// GIVEN: Three months computed in order
	// WHEN: Verified
	// THEN: Status ok, no issues

	store := newMonthlyStore(t, plainBuilding())
	addExpense(t, store, "e-jan", "300", engine.NewDate(2024, 1, 10))
	addPayment(t, store, "pay-feb", "apt-1", "100", engine.NewDate(2024, 2, 5))
	computeMonths(t, store, "2024-01", "2024-03")

	verifier := building.NewVerifier(store)
	report, err := verifier.Verify(context.Background(), tc, "bld-1", month("2024-01"), month("2024-03"))
	require.NoError(t, err)

	assert.Equal(t, building.StatusOK, report.Status)
	assert.Empty(t, report.Issues)
	assert.True(t, report.Clean())
}

func TestVerify_MissingMonthIsWarning(t *testing.T) {
	// GIVEN: January and March computed, February absent
	// THEN: A missing_monthly_balance warning, but no error

	store := newMonthlyStore(t, plainBuilding())
	monthly := building.NewMonthlyService(store, building.ClampZero)
	ctx := context.Background()
	_, err := monthly.CreateOrUpdate(ctx, tc, "bld-1", month("2024-01"), false)
	require.NoError(t, err)
	_, err = monthly.CreateOrUpdate(ctx, tc, "bld-1", month("2024-03"), false)
	require.NoError(t, err)

	verifier := building.NewVerifier(store)
	report, err := verifier.Verify(ctx, tc, "bld-1", month("2024-01"), month("2024-03"))
	require.NoError(t, err)

	assert.Equal(t, building.StatusWarning, report.Status)
	assert.Contains(t, issueCodes(report), "missing_monthly_balance")
	assert.True(t, report.Clean(), "warnings alone do not fail verification")
}

func TestVerify_CarryForwardMismatchIsError(t *testing.T) {
	// GIVEN: February was computed before a late January expense arrived,
	//        then January alone was recomputed
	// THEN: February's previous obligations no longer match January's
	//       carry-forward and verification reports an error

	store := newMonthlyStore(t, plainBuilding())
	ctx := context.Background()
	computeMonths(t, store, "2024-01", "2024-02")

	addExpense(t, store, "e-late", "200", engine.NewDate(2024, 1, 15))
	monthly := building.NewMonthlyService(store, building.ClampZero)
	_, err := monthly.CreateOrUpdate(ctx, tc, "bld-1", month("2024-01"), true)
	require.NoError(t, err)

	verifier := building.NewVerifier(store)
	report, err := verifier.Verify(ctx, tc, "bld-1", month("2024-01"), month("2024-02"))
	require.NoError(t, err)

	assert.Equal(t, building.StatusError, report.Status)
	assert.False(t, report.Clean())

	require.Contains(t, issueCodes(report), "carry_forward_mismatch")
	for _, issue := range report.Issues {
		if issue.Code != "carry_forward_mismatch" {
			continue
		}
		assert.Equal(t, month("2024-02"), issue.Month)
		assert.Equal(t, "200.00", issue.Expected.String())
		assert.Equal(t, "0.00", issue.Actual.String())
	}
}

func TestVerify_InvalidRangeRejected(t *testing.T) {
	store := newMonthlyStore(t, plainBuilding())
	verifier := building.NewVerifier(store)

	_, err := verifier.Verify(context.Background(), tc, "bld-1", month("2024-03"), month("2024-01"))
	assert.ErrorIs(t, err, engine.ErrInvalidRange)
}

func TestVerify_MillsMismatchSurfacesAsWarning(t *testing.T) {
	store := newMonthlyStore(t, plainBuilding())
	ctx := context.Background()
	// Break the mills baseline.
	require.NoError(t, store.SaveApartment(ctx, tc, apt("apt-3", 3, 150)))
	computeMonths(t, store, "2024-01", "2024-01")

	verifier := building.NewVerifier(store)
	report, err := verifier.Verify(ctx, tc, "bld-1", month("2024-01"), month("2024-01"))
	require.NoError(t, err)

	assert.Contains(t, issueCodes(report), engine.WarnMillsSum)
}

// =============================================================================
// BULK RECALCULATION
// =============================================================================

func TestRecalculateAll_RepairsBrokenChain(t *testing.T) {
	// GIVEN: A chain broken by a late January expense
	// WHEN: The whole range is recalculated in order
	// THEN: Verification is clean again

	store := newMonthlyStore(t, plainBuilding())
	ctx := context.Background()
	computeMonths(t, store, "2024-01", "2024-03")

	addExpense(t, store, "e-late", "200", engine.NewDate(2024, 1, 15))
	monthly := building.NewMonthlyService(store, building.ClampZero)
	recalc := building.NewRecalculator(store, monthly)

	run, _, err := recalc.RecalculateAll(ctx, tc, "bld-1", month("2024-01"), month("2024-03"), false)
	require.NoError(t, err)
	assert.Equal(t, building.RunCompleted, run.Status)
	assert.Equal(t, 3, run.MonthsDone)
	require.NotNil(t, run.CompletedAt)

	verifier := building.NewVerifier(store)
	report, err := verifier.Verify(ctx, tc, "bld-1", month("2024-01"), month("2024-03"))
	require.NoError(t, err)
	assert.True(t, report.Clean())

	// The late expense propagated: March now carries the extra 200.
	mb, err := store.MonthlyBalance(ctx, tc, "bld-1", month("2024-03"))
	require.NoError(t, err)
	assert.Equal(t, "200.00", mb.CarryForward.String())
}

func TestRecalculateAll_DryRunWritesNothing(t *testing.T) {
	store := newMonthlyStore(t, plainBuilding())
	ctx := context.Background()
	addExpense(t, store, "e-jan", "300", engine.NewDate(2024, 1, 10))

	monthly := building.NewMonthlyService(store, building.ClampZero)
	recalc := building.NewRecalculator(store, monthly)

	run, _, err := recalc.RecalculateAll(ctx, tc, "bld-1", month("2024-01"), month("2024-02"), true)
	require.NoError(t, err)
	assert.Equal(t, 2, run.MonthsDone)
	assert.True(t, run.DryRun)

	// No balances, no charge transactions, no persisted run.
	_, err = store.MonthlyBalance(ctx, tc, "bld-1", month("2024-01"))
	assert.ErrorIs(t, err, engine.ErrNotFound)
	txs, err := engine.NewLedger(store).ForApartment(ctx, tc, "apt-1")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestRecalculateAll_ClampsRangeToSystemStart(t *testing.T) {
	store := newMonthlyStore(t, plainBuilding())

	monthly := building.NewMonthlyService(store, building.ClampZero)
	recalc := building.NewRecalculator(store, monthly)

	run, _, err := recalc.RecalculateAll(context.Background(), tc, "bld-1", month("2023-10"), month("2024-02"), true)
	require.NoError(t, err)
	assert.Equal(t, month("2024-01"), run.From, "months before the system start are skipped")
	assert.Equal(t, 2, run.MonthsDone)
}

func TestRecalculateAll_InvalidRangeRejected(t *testing.T) {
	store := newMonthlyStore(t, plainBuilding())
	monthly := building.NewMonthlyService(store, building.ClampZero)
	recalc := building.NewRecalculator(store, monthly)

	_, _, err := recalc.RecalculateAll(context.Background(), tc, "bld-1", month("2024-03"), month("2024-01"), false)
	assert.ErrorIs(t, err, engine.ErrInvalidRange)
}
