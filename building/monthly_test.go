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

// plainBuilding has no reserve fund and no management fee, so monthly
// figures come only from explicit expenses and payments.
func plainBuilding() building.Building {
	return building.Building{
		ID:                       "bld-1",
		Name:                     "Odos Ermou 12",
		FinancialSystemStartDate: engine.NewDate(2024, 1, 1),
	}
}

func newMonthlyStore(t *testing.T, b building.Building) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveBuilding(ctx, tc, b))
	for _, a := range []building.Apartment{
		apt("apt-1", 1, 500), apt("apt-2", 2, 300), apt("apt-3", 3, 200),
	} {
		require.NoError(t, store.SaveApartment(ctx, tc, a))
	}
	return store
}

func addExpense(t *testing.T, store *sqlite.Store, id, amount string, date engine.Date) {
	t.Helper()
	e := expense(id, amount, building.EqualShare)
	e.Date = date
	e.DueDate = date
	require.NoError(t, store.SaveExpense(context.Background(), tc, e))
}

func addPayment(t *testing.T, store *sqlite.Store, id, apartmentID, amount string, date engine.Date) {
	t.Helper()
	posting := building.NewPostingService(store)
	_, err := posting.RecordPayment(context.Background(), tc, building.Payment{
		ID:          id,
		BuildingID:  "bld-1",
		ApartmentID: apartmentID,
		Amount:      engine.MustParseMoney(amount),
		Date:        date,
	})
	require.NoError(t, err)
}

// =============================================================================
// CARRY-FORWARD CHAIN
// =============================================================================

func TestMonthlyBalance_FirstMonth_NoPreviousObligations(t *testing.T) {
	// GIVEN: January is the first month of the financial system
	// WHEN: Computed with 300.00 expenses and 150.00 payments
	// THEN: previous=0, carry = 0 - 150 + 300 = 150

	store := newMonthlyStore(t, plainBuilding())
	ctx := context.Background()
	addExpense(t, store, "e-jan", "300", engine.NewDate(2024, 1, 10))
	addPayment(t, store, "pay-jan", "apt-1", "150", engine.NewDate(2024, 1, 20))

	monthly := building.NewMonthlyService(store, building.ClampZero)
	result, err := monthly.CreateOrUpdate(ctx, tc, "bld-1", month("2024-01"), false)
	require.NoError(t, err)

	mb := result.Balance
	assert.Equal(t, "300.00", mb.TotalExpenses.String())
	assert.Equal(t, "150.00", mb.TotalPayments.String())
	assert.Equal(t, "0.00", mb.PreviousObligations.String())
	assert.Equal(t, "300.00", mb.TotalObligations.String())
	assert.Equal(t, "-150.00", mb.NetResult.String())
	assert.Equal(t, "150.00", mb.CarryForward.String())
	assert.Empty(t, result.Warnings)
}

func TestMonthlyBalance_CarryForwardChainsToNextMonth(t *testing.T) {
	// GIVEN: January closed with carry-forward 150.00
	// WHEN: February is computed with no expenses and 150.00 payments
	// THEN: previous=150, carry = 150 - 150 + 0 = 0

	store := newMonthlyStore(t, plainBuilding())
	ctx := context.Background()
	addExpense(t, store, "e-jan", "300", engine.NewDate(2024, 1, 10))
	addPayment(t, store, "pay-jan", "apt-1", "150", engine.NewDate(2024, 1, 20))
	addPayment(t, store, "pay-feb", "apt-1", "150", engine.NewDate(2024, 2, 5))

	monthly := building.NewMonthlyService(store, building.ClampZero)
	_, err := monthly.CreateOrUpdate(ctx, tc, "bld-1", month("2024-01"), false)
	require.NoError(t, err)

	result, err := monthly.CreateOrUpdate(ctx, tc, "bld-1", month("2024-02"), false)
	require.NoError(t, err)

	mb := result.Balance
	assert.Equal(t, "150.00", mb.PreviousObligations.String())
	assert.Equal(t, "150.00", mb.TotalPayments.String())
	assert.Equal(t, "0.00", mb.CarryForward.String())
}

func TestMonthlyBalance_EmptyMonthKeepsCarryForward(t *testing.T) {
	// GIVEN: January closed with carry-forward 150.00
	// WHEN: February has no expenses and no payments
	// THEN: The obligation rolls through unchanged

	store := newMonthlyStore(t, plainBuilding())
	ctx := context.Background()
	addExpense(t, store, "e-jan", "300", engine.NewDate(2024, 1, 10))
	addPayment(t, store, "pay-jan", "apt-1", "150", engine.NewDate(2024, 1, 20))

	monthly := building.NewMonthlyService(store, building.ClampZero)
	_, err := monthly.CreateOrUpdate(ctx, tc, "bld-1", month("2024-01"), false)
	require.NoError(t, err)

	result, err := monthly.CreateOrUpdate(ctx, tc, "bld-1", month("2024-02"), false)
	require.NoError(t, err)

	mb := result.Balance
	assert.Equal(t, "150.00", mb.PreviousObligations.String())
	assert.Equal(t, "0.00", mb.TotalExpenses.String())
	assert.Equal(t, "0.00", mb.TotalPayments.String())
	assert.Equal(t, "150.00", mb.CarryForward.String())
}

func TestMonthlyBalance_ClampZeroSwallowsOverpayment(t *testing.T) {
	// GIVEN: Payments exceed the month's charges
	// WHEN: Computed under the clamp-zero policy
	// THEN: Carry-forward is 0, not negative; net result keeps the surplus

	store := newMonthlyStore(t, plainBuilding())
	ctx := context.Background()
	addExpense(t, store, "e-jan", "300", engine.NewDate(2024, 1, 10))
	addPayment(t, store, "pay-jan", "apt-1", "400", engine.NewDate(2024, 1, 20))

	monthly := building.NewMonthlyService(store, building.ClampZero)
	result, err := monthly.CreateOrUpdate(ctx, tc, "bld-1", month("2024-01"), false)
	require.NoError(t, err)

	assert.Equal(t, "0.00", result.Balance.CarryForward.String())
	assert.Equal(t, "100.00", result.Balance.NetResult.String())
}

func TestMonthlyBalance_PropagateCreditKeepsOverpayment(t *testing.T) {
	store := newMonthlyStore(t, plainBuilding())
	ctx := context.Background()
	addExpense(t, store, "e-jan", "300", engine.NewDate(2024, 1, 10))
	addPayment(t, store, "pay-jan", "apt-1", "400", engine.NewDate(2024, 1, 20))

	monthly := building.NewMonthlyService(store, building.PropagateCredit)
	result, err := monthly.CreateOrUpdate(ctx, tc, "bld-1", month("2024-01"), false)
	require.NoError(t, err)

	assert.Equal(t, "-100.00", result.Balance.CarryForward.String())
}

func TestMonthlyBalance_SurfacesDistributionWarnings(t *testing.T) {
	// GIVEN: Every apartment has zero participation mills and January has
	//        a mills-weighted expense
	// WHEN: The month is computed
	// THEN: The equal-share fallback warning reaches the result alongside
	//       the mills-sum warning, and the month still computes

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	require.NoError(t, store.SaveBuilding(ctx, tc, plainBuilding()))
	for _, a := range []building.Apartment{apt("apt-1", 1, 0), apt("apt-2", 2, 0)} {
		require.NoError(t, store.SaveApartment(ctx, tc, a))
	}
	e := expense("e-jan", "100", building.ByParticipationMills)
	e.Date = engine.NewDate(2024, 1, 10)
	e.DueDate = e.Date
	require.NoError(t, store.SaveExpense(ctx, tc, e))

	monthly := building.NewMonthlyService(store, building.ClampZero)
	result, err := monthly.CreateOrUpdate(ctx, tc, "bld-1", month("2024-01"), false)
	require.NoError(t, err)

	codes := warningCodes(result.Warnings)
	assert.Contains(t, codes, engine.WarnZeroDenominator)
	assert.Contains(t, codes, engine.WarnMillsSum)
	assert.Equal(t, "100.00", result.Balance.TotalExpenses.String())
}

func TestMonthlyBalance_MissingPreviousMonthWarns(t *testing.T) {
	// GIVEN: March is computed but February was never materialized
	// THEN: Previous obligations default to zero with a warning

	store := newMonthlyStore(t, plainBuilding())
	ctx := context.Background()

	monthly := building.NewMonthlyService(store, building.ClampZero)
	result, err := monthly.CreateOrUpdate(ctx, tc, "bld-1", month("2024-03"), false)
	require.NoError(t, err)

	assert.Equal(t, "0.00", result.Balance.PreviousObligations.String())
	codes := warningCodes(result.Warnings)
	assert.Contains(t, codes, engine.WarnMissingPrevBalance)
}

func TestMonthlyBalance_MonthBeforeSystemStartRejected(t *testing.T) {
	store := newMonthlyStore(t, plainBuilding())

	monthly := building.NewMonthlyService(store, building.ClampZero)
	_, err := monthly.CreateOrUpdate(context.Background(), tc, "bld-1", month("2023-12"), false)
	require.Error(t, err)
	var verr *engine.ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, "month_before_system_start", verr.Rule)
}

// =============================================================================
// ACCRUAL MATERIALIZATION
// =============================================================================

func TestMonthlyBalance_MaterializesAccrualsAndCharges(t *testing.T) {
	// GIVEN: The standard building (fee 10.00/apt, reserve 1200 over 12
	//        months from 2024-03) with 3 apartments
	// WHEN: 2024-03 is computed
	// THEN: fees=30, reserve=100, both excluded from total_expenses, and
	//       their charge transactions are on the ledger

	store := newMonthlyStore(t, testBuilding())
	ctx := context.Background()
	addExpense(t, store, "e-mar", "90", engine.NewDate(2024, 3, 10))

	monthly := building.NewMonthlyService(store, building.ClampZero)
	result, err := monthly.CreateOrUpdate(ctx, tc, "bld-1", month("2024-03"), false)
	require.NoError(t, err)

	mb := result.Balance
	assert.Equal(t, "30.00", mb.ManagementFees.String())
	assert.Equal(t, "100.00", mb.ReserveFundAmount.String())
	assert.Equal(t, "90.00", mb.TotalExpenses.String(), "accruals are tracked separately")
	assert.Equal(t, "220.00", mb.TotalObligations.String())
	assert.Equal(t, "220.00", mb.CarryForward.String())

	// The accrual expenses exist as rows with deterministic IDs.
	_, err = store.AccrualExpense(ctx, tc, "bld-1", month("2024-03"), building.CategoryManagementFees)
	assert.NoError(t, err)
	_, err = store.AccrualExpense(ctx, tc, "bld-1", month("2024-03"), building.CategoryReserveFund)
	assert.NoError(t, err)

	// Each apartment carries its share of all three expenses.
	txs, err := engine.NewLedger(store).ForApartment(ctx, tc, "apt-1")
	require.NoError(t, err)
	assert.Len(t, txs, 3)
}

func TestMonthlyBalance_RecalculationIsIdempotent(t *testing.T) {
	// GIVEN: A computed month with accruals, expenses and payments
	// WHEN: Recomputed with unchanged inputs
	// THEN: Every financial field is byte-identical and the ledger does
	//       not grow

	store := newMonthlyStore(t, testBuilding())
	ctx := context.Background()
	addExpense(t, store, "e-mar", "90", engine.NewDate(2024, 3, 10))
	addPayment(t, store, "pay-mar", "apt-2", "60", engine.NewDate(2024, 3, 12))

	monthly := building.NewMonthlyService(store, building.ClampZero)
	first, err := monthly.CreateOrUpdate(ctx, tc, "bld-1", month("2024-03"), false)
	require.NoError(t, err)

	second, err := monthly.CreateOrUpdate(ctx, tc, "bld-1", month("2024-03"), true)
	require.NoError(t, err)

	assert.True(t, first.Balance.Equal(second.Balance),
		"recomputation with unchanged inputs must reproduce the record")

	for _, aptID := range []string{"apt-1", "apt-2", "apt-3"} {
		txs, err := engine.NewLedger(store).ForApartment(ctx, tc, aptID)
		require.NoError(t, err)
		assert.Len(t, txs, lenFor(aptID), "ledger must not grow on recomputation")
	}
}

// lenFor: apt-2 has the payment on top of the three charges.
func lenFor(aptID string) int {
	if aptID == "apt-2" {
		return 4
	}
	return 3
}

func TestMonthlyBalance_ExistingReturnedWithoutRecalculate(t *testing.T) {
	store := newMonthlyStore(t, plainBuilding())
	ctx := context.Background()
	addExpense(t, store, "e-jan", "300", engine.NewDate(2024, 1, 10))

	monthly := building.NewMonthlyService(store, building.ClampZero)
	first, err := monthly.CreateOrUpdate(ctx, tc, "bld-1", month("2024-01"), false)
	require.NoError(t, err)

	// A later expense appears, but without recalculate the stored record
	// is returned untouched.
	addExpense(t, store, "e-late", "50", engine.NewDate(2024, 1, 25))
	again, err := monthly.CreateOrUpdate(ctx, tc, "bld-1", month("2024-01"), false)
	require.NoError(t, err)
	assert.True(t, first.Balance.Equal(again.Balance))

	// With recalculate the new expense is picked up.
	recomputed, err := monthly.CreateOrUpdate(ctx, tc, "bld-1", month("2024-01"), true)
	require.NoError(t, err)
	assert.Equal(t, "350.00", recomputed.Balance.TotalExpenses.String())
}

// =============================================================================
// CLOSED MONTHS
// =============================================================================

func TestMonthlyBalance_RecomputingClosedMonthWarns(t *testing.T) {
	store := newMonthlyStore(t, plainBuilding())
	ctx := context.Background()
	addExpense(t, store, "e-jan", "300", engine.NewDate(2024, 1, 10))

	monthly := building.NewMonthlyService(store, building.ClampZero)
	_, err := monthly.CreateOrUpdate(ctx, tc, "bld-1", month("2024-01"), false)
	require.NoError(t, err)
	require.NoError(t, monthly.Close(ctx, tc, "bld-1", month("2024-01")))

	result, err := monthly.CreateOrUpdate(ctx, tc, "bld-1", month("2024-01"), true)
	require.NoError(t, err)

	assert.Contains(t, warningCodes(result.Warnings), engine.WarnClosedMonthRecompute)
	assert.True(t, result.Balance.Closed, "recomputation preserves the closed flag")
}

func warningCodes(warnings []engine.Warning) []string {
	codes := make([]string, len(warnings))
	for i, w := range warnings {
		codes[i] = w.Code
	}
	return codes
}
