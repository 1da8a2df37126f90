/*
reconstruct.go - Historical balance reconstruction

PURPOSE:
  Rebuilds an apartment's balance at an arbitrary cutoff date from first
  principles, independent of any cached or stored balance value.

DUAL-PATH COMPUTATION:
  The balance is the sum of two parts:

    1. Stored transactions dated strictly before the cutoff (signed sum).
    2. The apartment's share of every reserve-fund and management-fee
       accrual that SHOULD have existed for every month strictly before
       the cutoff's month, whenever the corresponding charge transaction
       was never materialized.

  Part 2 exists because stored transactions alone under-count
  obligations when accrual generation was skipped or run late - the
  exact failure mode this engine's diagnostic history is full of.

POLICY:
  Months before the building's financial system start date contribute
  zero. The start date never seeds a non-zero opening balance.
*/
package building

import (
	"context"

	"github.com/oikos/expense-engine/engine"
)

// =============================================================================
// RECONSTRUCTOR
// =============================================================================

type Reconstructor struct {
	Store    Store
	Ledger   engine.Ledger
	Accruals AccrualGenerator
}

func NewReconstructor(store Store) *Reconstructor {
	return &Reconstructor{Store: store, Ledger: engine.NewLedger(store)}
}

// Reconstruct replays the apartment's ledger up to (excluding) asOf and
// back-fills unmaterialized accrual shares for every month strictly
// before asOf's month. Positive result = credit, negative = owed.
func (r *Reconstructor) Reconstruct(ctx context.Context, tc engine.Tenant, apartmentID string, asOf engine.Date) (engine.Money, []engine.Warning, error) {
	apt, err := r.Store.Apartment(ctx, tc, apartmentID)
	if err != nil {
		return engine.Money{}, nil, err
	}
	b, err := r.Store.Building(ctx, tc, apt.BuildingID)
	if err != nil {
		return engine.Money{}, nil, err
	}

	balance, err := r.Ledger.BalanceBefore(ctx, tc, apartmentID, asOf)
	if err != nil {
		return engine.Money{}, nil, err
	}

	backfill, warnings, err := r.accrualBackfill(ctx, tc, *b, apartmentID, asOf)
	if err != nil {
		return engine.Money{}, nil, err
	}

	return balance.Add(backfill).RoundCents(), warnings, nil
}

// accrualBackfill sums the apartment's share of accruals that were never
// charged, for months in [financial start month, asOf month).
func (r *Reconstructor) accrualBackfill(ctx context.Context, tc engine.Tenant, b Building, apartmentID string, asOf engine.Date) (engine.Money, []engine.Warning, error) {
	var warnings []engine.Warning
	backfill := engine.ZeroMoney()

	firstMonth := engine.MonthOf(b.FinancialSystemStartDate)
	cutoffMonth := engine.MonthOf(asOf)
	if !firstMonth.Before(cutoffMonth) {
		return backfill, nil, nil
	}

	apartments, err := r.Store.Apartments(ctx, tc, b.ID)
	if err != nil {
		return engine.Money{}, nil, err
	}

	mgmtCfgs, err := r.Store.RecurringConfigs(ctx, tc, b.ID, RecurringManagementFee)
	if err != nil {
		return engine.Money{}, nil, err
	}
	rfCfgs, err := r.Store.RecurringConfigs(ctx, tc, b.ID, RecurringReserveFund)
	if err != nil {
		return engine.Money{}, nil, err
	}

	for mk := firstMonth; mk.Before(cutoffMonth); mk = mk.Next() {
		rf, w := r.Accruals.ReserveFundExpense(b, mk, rfCfgs)
		warnings = append(warnings, w...)
		mgmt, w := r.Accruals.ManagementFeeExpense(b, mk, len(apartments), mgmtCfgs)
		warnings = append(warnings, w...)

		for _, accrual := range []*Expense{rf, mgmt} {
			if accrual == nil {
				continue
			}
			charged, err := r.Store.Exists(ctx, tc, chargeKey(accrual.ID, apartmentID))
			if err != nil {
				return engine.Money{}, nil, err
			}
			if charged {
				continue // already in the stored-transaction sum
			}
			dist, err := Distribute(*accrual, apartments)
			if err != nil {
				return engine.Money{}, nil, err
			}
			warnings = append(warnings, dist.Warnings...)
			backfill = backfill.Sub(dist.ShareFor(apartmentID))
		}
	}

	return backfill, warnings, nil
}

// RefreshCurrentBalance recomputes the apartment's derived snapshot from
// the ledger as of tomorrow (i.e., including today) and stores it.
func (r *Reconstructor) RefreshCurrentBalance(ctx context.Context, tc engine.Tenant, apartmentID string, clock engine.Clock) (engine.Money, []engine.Warning, error) {
	balance, warnings, err := r.Reconstruct(ctx, tc, apartmentID, clock.Today().AddDays(1))
	if err != nil {
		return engine.Money{}, nil, err
	}
	if err := r.Store.UpdateApartmentBalance(ctx, tc, apartmentID, balance); err != nil {
		return engine.Money{}, nil, err
	}
	return balance, warnings, nil
}
