package building_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oikos/expense-engine/building"
	"github.com/oikos/expense-engine/engine"
)

// =============================================================================
// SHARE BREAKDOWNS
// =============================================================================

func TestCalculateShares_IncludesUnmaterializedAccruals(t *testing.T) {
	// GIVEN: The standard building (fee 10.00/apt, reserve 100.00/month
	//        from 2024-03) with a 90.00 equal-share expense in March,
	//        nothing posted or materialized yet
	// WHEN: Shares are calculated for 2024-03
	// THEN: Each apartment gets three lines (expense + both accruals),
	//       with the reserve remainder on the lowest-numbered apartment

	store := newMonthlyStore(t, testBuilding())
	ctx := context.Background()
	addExpense(t, store, "e-mar", "90", engine.NewDate(2024, 3, 10))

	calc := building.NewShareCalculator(store)
	shares, warnings, err := calc.CalculateShares(ctx, tc, "bld-1", month("2024-03"))
	require.NoError(t, err)
	require.Len(t, shares, 3)
	assert.Empty(t, warnings)

	for _, sb := range shares {
		assert.Len(t, sb.Lines, 3, "apartment %s", sb.ApartmentID)
	}

	// Sorted by apartment number; remainder cent of the 100.00 reserve
	// goes to apartment 1: 30 + 10 + 33.34.
	assert.Equal(t, "apt-1", shares[0].ApartmentID)
	assert.Equal(t, "73.34", shares[0].MonthTotal.String())
	assert.Equal(t, "73.33", shares[1].MonthTotal.String())
	assert.Equal(t, "73.33", shares[2].MonthTotal.String())

	// Previous balance is the accrual backfill for Jan+Feb management
	// fees (10.00 each month, never charged).
	assert.Equal(t, "-20.00", shares[0].PreviousBalance.String())
	assert.Equal(t, "93.34", shares[0].TotalDue.String())
}

func TestCalculateShares_MaterializedAccrualsNotDoubled(t *testing.T) {
	// GIVEN: March already computed, so accrual expenses and charges exist
	// WHEN: Shares are calculated for the same month
	// THEN: The stored accrual rows are used; no synthetic duplicates

	store := newMonthlyStore(t, testBuilding())
	ctx := context.Background()
	addExpense(t, store, "e-mar", "90", engine.NewDate(2024, 3, 10))

	monthly := building.NewMonthlyService(store, building.ClampZero)
	_, err := monthly.CreateOrUpdate(ctx, tc, "bld-1", month("2024-03"), false)
	require.NoError(t, err)

	calc := building.NewShareCalculator(store)
	shares, _, err := calc.CalculateShares(ctx, tc, "bld-1", month("2024-03"))
	require.NoError(t, err)
	require.Len(t, shares, 3)

	for _, sb := range shares {
		assert.Len(t, sb.Lines, 3, "apartment %s", sb.ApartmentID)
	}
	assert.Equal(t, "73.34", shares[0].MonthTotal.String())
}

func TestCalculateShares_SurfacesGeneratorWarnings(t *testing.T) {
	// GIVEN: A reserve fund that is active but has neither a duration nor
	//        a target date to derive the monthly amount from
	// WHEN: Shares are calculated
	// THEN: The missing-rate warning reaches the caller

	b := plainBuilding()
	start := engine.NewDate(2024, 1, 1)
	b.ReserveFundStartDate = &start
	b.ReserveFundGoal = engine.MustParseMoney("1200")

	store := newMonthlyStore(t, b)
	calc := building.NewShareCalculator(store)

	_, warnings, err := calc.CalculateShares(context.Background(), tc, "bld-1", month("2024-01"))
	require.NoError(t, err)
	assert.Contains(t, warningCodes(warnings), engine.WarnMissingRateConfig)
}
