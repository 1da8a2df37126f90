package building_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oikos/expense-engine/building"
	"github.com/oikos/expense-engine/engine"
	"github.com/oikos/expense-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// newMemoryStore seeds the in-memory store with a building and the
// standard three apartments. Reconstruction tests run against it so both
// store implementations stay exercised by the same domain logic.
func newMemoryStore(t *testing.T, b building.Building) *memory.Store {
	t.Helper()
	store := memory.New()

	ctx := context.Background()
	require.NoError(t, store.SaveBuilding(ctx, tc, b))
	for _, a := range []building.Apartment{
		apt("apt-1", 1, 500), apt("apt-2", 2, 300), apt("apt-3", 3, 200),
	} {
		require.NoError(t, store.SaveApartment(ctx, tc, a))
	}
	return store
}

func chargeOn(t *testing.T, store building.Store, id, amount string, date engine.Date) {
	t.Helper()
	posting := building.NewPostingService(store)
	e := expense(id, amount, building.EqualShare)
	e.Date = date
	e.DueDate = date
	_, err := posting.ChargeExpense(context.Background(), tc, e)
	require.NoError(t, err)
}

func payOn(t *testing.T, store building.Store, id, apartmentID, amount string, date engine.Date) {
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
// LEDGER REPLAY
// =============================================================================

func TestReconstruct_ReplaysStoredTransactionsBeforeCutoff(t *testing.T) {
	// GIVEN: apt-1 charged 100.00 (equal share of 300) and paid 80.00,
	//        no accruals configured
	// WHEN: Reconstructing after both dates
	// THEN: Balance is -20.00 (owed)

	store := newMemoryStore(t, plainBuilding())
	ctx := context.Background()
	chargeOn(t, store, "e-1", "300", engine.NewDate(2024, 1, 10))
	payOn(t, store, "pay-1", "apt-1", "80", engine.NewDate(2024, 1, 20))

	recon := building.NewReconstructor(store)
	balance, warnings, err := recon.Reconstruct(ctx, tc, "apt-1", engine.NewDate(2024, 2, 1))
	require.NoError(t, err)

	assert.Equal(t, "-20.00", balance.String())
	assert.Empty(t, warnings)
}

func TestReconstruct_CutoffIsExclusive(t *testing.T) {
	// A transaction dated exactly on the cutoff is not included.
	store := newMemoryStore(t, plainBuilding())
	ctx := context.Background()
	payOn(t, store, "pay-1", "apt-1", "50", engine.NewDate(2024, 1, 15))
	payOn(t, store, "pay-2", "apt-1", "30", engine.NewDate(2024, 1, 20))

	recon := building.NewReconstructor(store)
	balance, _, err := recon.Reconstruct(ctx, tc, "apt-1", engine.NewDate(2024, 1, 20))
	require.NoError(t, err)

	assert.Equal(t, "50.00", balance.String())
}

// =============================================================================
// ACCRUAL BACK-FILL
// =============================================================================

func TestReconstruct_BackfillsUnmaterializedAccruals(t *testing.T) {
	// GIVEN: The standard building (fee 10.00/apt from the live rate,
	//        reserve collecting from 2024-03 at 100.00/month) where no
	//        month was ever materialized
	// WHEN: Reconstructing apt-1 as of 2024-04-01
	// THEN: Jan..Mar management fees (10.00 x 3 months) plus the March
	//       reserve share are charged implicitly

	store := newMemoryStore(t, testBuilding())
	ctx := context.Background()

	recon := building.NewReconstructor(store)
	balance, _, err := recon.Reconstruct(ctx, tc, "apt-1", engine.NewDate(2024, 4, 1))
	require.NoError(t, err)

	// Management fee: 30.00/month equal share -> 10.00 for apt-1, x3 months.
	// Reserve (March only): 100.00 equal share, apt-1 lowest number takes
	// the rounding cent -> 33.34.
	assert.Equal(t, "-63.34", balance.String())
}

func TestReconstruct_MaterializedMonthsAreNotDoubleCounted(t *testing.T) {
	// GIVEN: January was materialized (accruals charged to the ledger)
	//        but February was not
	// WHEN: Reconstructing as of 2024-03-01
	// THEN: January comes from stored transactions, February from
	//       back-fill; the total counts each month exactly once

	store := newMemoryStore(t, testBuilding())
	ctx := context.Background()

	monthly := building.NewMonthlyService(store, building.ClampZero)
	_, err := monthly.CreateOrUpdate(ctx, tc, "bld-1", month("2024-01"), false)
	require.NoError(t, err)

	recon := building.NewReconstructor(store)
	balance, _, err := recon.Reconstruct(ctx, tc, "apt-1", engine.NewDate(2024, 3, 1))
	require.NoError(t, err)

	// Two months of 10.00 management fee, no reserve before March.
	assert.Equal(t, "-20.00", balance.String())
}

func TestReconstruct_MonthsBeforeSystemStartContributeZero(t *testing.T) {
	store := newMemoryStore(t, testBuilding())
	ctx := context.Background()

	recon := building.NewReconstructor(store)
	balance, warnings, err := recon.Reconstruct(ctx, tc, "apt-1", engine.NewDate(2023, 6, 1))
	require.NoError(t, err)

	assert.Equal(t, "0.00", balance.String())
	assert.Empty(t, warnings)
}

// =============================================================================
// DERIVED SNAPSHOT
// =============================================================================

func TestRefreshCurrentBalance_IncludesTodayAndStoresSnapshot(t *testing.T) {
	// GIVEN: A payment dated today
	// WHEN: Refreshing the derived snapshot
	// THEN: The payment counts and the apartment row is updated

	store := newMemoryStore(t, plainBuilding())
	ctx := context.Background()
	today := engine.NewDate(2024, 2, 15)
	payOn(t, store, "pay-1", "apt-1", "75", today)

	recon := building.NewReconstructor(store)
	balance, _, err := recon.RefreshCurrentBalance(ctx, tc, "apt-1", engine.FixedClock{Day: today})
	require.NoError(t, err)
	assert.Equal(t, "75.00", balance.String())

	a, err := store.Apartment(ctx, tc, "apt-1")
	require.NoError(t, err)
	assert.Equal(t, "75.00", a.CurrentBalance.String())
}

// =============================================================================
// BALANCE CACHE
// =============================================================================

func TestBalanceCache_CachesUntilInvalidated(t *testing.T) {
	store := newMemoryStore(t, plainBuilding())
	ctx := context.Background()
	today := engine.NewDate(2024, 2, 15)
	payOn(t, store, "pay-1", "apt-1", "75", today)

	recon := building.NewReconstructor(store)
	cache := building.NewBalanceCache(recon, engine.FixedClock{Day: today}, time.Minute)

	balance, err := cache.Balance(ctx, tc, "apt-1")
	require.NoError(t, err)
	assert.Equal(t, "75.00", balance.String())

	// A posting through a cache-wired service invalidates the entry.
	posting := building.NewPostingService(store)
	posting.Cache = cache
	_, err = posting.RecordPayment(ctx, tc, building.Payment{
		ID: "pay-2", BuildingID: "bld-1", ApartmentID: "apt-1",
		Amount: engine.MustParseMoney("25"), Date: today,
	})
	require.NoError(t, err)

	balance, err = cache.Balance(ctx, tc, "apt-1")
	require.NoError(t, err)
	assert.Equal(t, "100.00", balance.String())
}
