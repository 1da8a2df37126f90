/*
accrual.go - Reserve-fund and management-fee accrual generation

PURPOSE:
  Produces the two synthetic monthly expenses: the reserve-fund
  contribution and the management fee. Both are pure computations per
  (building, year, month); the monthly service owns the existence check
  and materialization, which keeps generation idempotent.

CONVENTIONS:
  - Both accruals distribute equal-share. Reserve contributions are
    per-apartment, not mills-weighted, matching the legal common-expense
    convention in use here.
  - Both are dated the last day of the month, with date == due_date.
    Expense.Validate enforces this at write time.
  - Historical months use the RecurringExpenseConfig rate effective at
    that month. A building changing its fee mid-year never rewrites its
    past.

SEE ALSO:
  - monthly.go: Materializes these expenses and charges them
  - reconstruct.go: Back-fills accruals that were never materialized
*/
package building

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/oikos/expense-engine/engine"
)

// AccrualGenerator computes the synthetic monthly accrual expenses.
type AccrualGenerator struct{}

// =============================================================================
// RESERVE FUND
// =============================================================================

// ReserveFundExpense returns the reserve-fund accrual for the month, or
// nil when the fund is not collecting that month. The monthly target is
// goal / duration, overridable by a reserve-fund RecurringExpenseConfig.
func (g AccrualGenerator) ReserveFundExpense(b Building, mk engine.MonthKey, cfgs []RecurringExpenseConfig) (*Expense, []engine.Warning) {
	var warnings []engine.Warning

	if !g.reserveFundActive(b, mk) {
		return nil, nil
	}

	amount, ok := rateFor(cfgs, RecurringReserveFund, mk)
	if !ok {
		if b.ReserveFundDurationMonths <= 0 {
			return nil, []engine.Warning{engine.NewWarning(engine.WarnMissingRateConfig,
				"building %s: reserve fund active in %s but duration is %d months",
				b.ID, mk, b.ReserveFundDurationMonths)}
		}
		amount = b.ReserveFundGoal.Div(engine.NewMoneyFromInt(int64(b.ReserveFundDurationMonths))).RoundCents()
	}
	if !amount.IsPositive() {
		return nil, warnings
	}

	return &Expense{
		ID:           accrualExpenseID(b.ID, mk, CategoryReserveFund),
		BuildingID:   b.ID,
		Description:  fmt.Sprintf("Reserve fund contribution %s", mk),
		Amount:       amount,
		Date:         mk.End(),
		DueDate:      mk.End(),
		Category:     CategoryReserveFund,
		Distribution: EqualShare,
	}, warnings
}

// reserveFundActive reports whether the collection window covers the
// month: start month <= mk, and mk <= target month when a target is set.
func (g AccrualGenerator) reserveFundActive(b Building, mk engine.MonthKey) bool {
	if b.ReserveFundStartDate == nil {
		return false
	}
	start := engine.MonthOf(*b.ReserveFundStartDate)
	if mk.Before(start) {
		return false
	}
	if b.ReserveFundTargetDate != nil {
		target := engine.MonthOf(*b.ReserveFundTargetDate)
		if target.Before(mk) {
			return false
		}
	}
	return true
}

// =============================================================================
// MANAGEMENT FEE
// =============================================================================

// ManagementFeeExpense returns the management-fee accrual for the month:
// per-apartment rate times apartment count. The rate comes from the
// config effective at that month; falling back to the building's live
// setting is flagged, since it means a historical month is being priced
// with today's rate.
func (g AccrualGenerator) ManagementFeeExpense(b Building, mk engine.MonthKey, apartmentCount int, cfgs []RecurringExpenseConfig) (*Expense, []engine.Warning) {
	var warnings []engine.Warning

	if apartmentCount == 0 {
		return nil, nil
	}

	rate, ok := rateFor(cfgs, RecurringManagementFee, mk)
	if !ok {
		rate = b.ManagementFeePerApartment
		if len(cfgs) > 0 {
			warnings = append(warnings, engine.NewWarning(engine.WarnMissingRateConfig,
				"building %s: no management fee config effective for %s, using live rate %s",
				b.ID, mk, rate))
		}
	}
	if !rate.IsPositive() {
		return nil, warnings
	}

	amount := rate.Mul(decimal.NewFromInt(int64(apartmentCount))).RoundCents()

	return &Expense{
		ID:           accrualExpenseID(b.ID, mk, CategoryManagementFees),
		BuildingID:   b.ID,
		Description:  fmt.Sprintf("Management fees %s", mk),
		Amount:       amount,
		Date:         mk.End(),
		DueDate:      mk.End(),
		Category:     CategoryManagementFees,
		Distribution: EqualShare,
	}, warnings
}

// =============================================================================
// RATE LOOKUP
// =============================================================================

// rateFor returns the configured rate effective at the month. When
// several configs overlap, the one with the latest EffectiveFrom wins.
func rateFor(cfgs []RecurringExpenseConfig, kind RecurringExpenseKind, mk engine.MonthKey) (engine.Money, bool) {
	var best *RecurringExpenseConfig
	for i := range cfgs {
		c := &cfgs[i]
		if c.Kind != kind || !c.AppliesTo(mk) {
			continue
		}
		if best == nil || best.EffectiveFrom.Before(c.EffectiveFrom) {
			best = c
		}
	}
	if best == nil {
		return engine.ZeroMoney(), false
	}
	return best.Amount, true
}

// accrualExpenseID is deterministic so materializing the same accrual
// twice upserts the same row instead of duplicating it.
func accrualExpenseID(buildingID string, mk engine.MonthKey, category ExpenseCategory) string {
	return fmt.Sprintf("%s:%s:%s", buildingID, mk, category)
}
