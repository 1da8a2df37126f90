package building

import (
	"context"
	"errors"
	"sort"

	"github.com/oikos/expense-engine/engine"
)

// =============================================================================
// SHARE BREAKDOWN - What a printed monthly notice shows per apartment
// =============================================================================

// ExpenseShare is one line of an apartment's monthly breakdown.
type ExpenseShare struct {
	ExpenseID   string
	Description string
	Category    ExpenseCategory
	Amount      engine.Money
}

type ShareBreakdown struct {
	ApartmentID string
	Number      int

	Lines []ExpenseShare

	// PreviousBalance is the apartment's reconstructed balance at the
	// start of the month (negative = owed from earlier months).
	PreviousBalance engine.Money

	// MonthTotal is the sum of this month's lines.
	MonthTotal engine.Money

	// TotalDue = month total minus any credit (or plus any debt) carried in.
	TotalDue engine.Money
}

// ShareCalculator produces the per-apartment breakdown of one month's
// obligations, including accruals that may not have been materialized
// yet. Pure read path; nothing is persisted.
type ShareCalculator struct {
	Store    Store
	Accruals AccrualGenerator
	Recon    *Reconstructor
}

func NewShareCalculator(store Store) *ShareCalculator {
	return &ShareCalculator{Store: store, Recon: NewReconstructor(store)}
}

func (c *ShareCalculator) CalculateShares(ctx context.Context, tc engine.Tenant, buildingID string, mk engine.MonthKey) ([]ShareBreakdown, []engine.Warning, error) {
	b, err := c.Store.Building(ctx, tc, buildingID)
	if err != nil {
		return nil, nil, err
	}
	apartments, err := c.Store.Apartments(ctx, tc, buildingID)
	if err != nil {
		return nil, nil, err
	}

	warnings := CheckMills(buildingID, apartments)

	expenses, w, err := c.monthExpenses(ctx, tc, *b, mk, len(apartments))
	if err != nil {
		return nil, nil, err
	}
	warnings = append(warnings, w...)

	byApartment := make(map[string]*ShareBreakdown, len(apartments))
	for _, a := range apartments {
		byApartment[a.ID] = &ShareBreakdown{ApartmentID: a.ID, Number: a.Number}
	}

	for _, e := range expenses {
		dist, err := Distribute(e, apartments)
		if err != nil {
			return nil, nil, err
		}
		warnings = append(warnings, dist.Warnings...)
		for _, share := range dist.Shares {
			bd := byApartment[share.ApartmentID]
			if bd == nil || share.Amount.IsZero() {
				continue
			}
			bd.Lines = append(bd.Lines, ExpenseShare{
				ExpenseID:   e.ID,
				Description: e.Description,
				Category:    e.Category,
				Amount:      share.Amount,
			})
			bd.MonthTotal = bd.MonthTotal.Add(share.Amount)
		}
	}

	result := make([]ShareBreakdown, 0, len(apartments))
	for _, a := range apartments {
		bd := byApartment[a.ID]
		prev, w, err := c.Recon.Reconstruct(ctx, tc, a.ID, mk.Start())
		if err != nil {
			return nil, nil, err
		}
		warnings = append(warnings, w...)
		bd.PreviousBalance = prev
		bd.MonthTotal = bd.MonthTotal.RoundCents()
		// A negative reconstructed balance is existing debt and adds to
		// what is due; a credit reduces it.
		bd.TotalDue = bd.MonthTotal.Sub(prev).RoundCents()
		result = append(result, *bd)
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result, warnings, nil
}

// monthExpenses returns the month's stored expenses plus the computed
// accruals for any accrual category not yet materialized, with the
// generators' data-quality warnings.
func (c *ShareCalculator) monthExpenses(ctx context.Context, tc engine.Tenant, b Building, mk engine.MonthKey, apartmentCount int) ([]Expense, []engine.Warning, error) {
	expenses, err := c.Store.ExpensesInMonth(ctx, tc, b.ID, mk)
	if err != nil {
		return nil, nil, err
	}

	mgmtCfgs, err := c.Store.RecurringConfigs(ctx, tc, b.ID, RecurringManagementFee)
	if err != nil && !errors.Is(err, engine.ErrNotFound) {
		return nil, nil, err
	}
	rfCfgs, err := c.Store.RecurringConfigs(ctx, tc, b.ID, RecurringReserveFund)
	if err != nil && !errors.Is(err, engine.ErrNotFound) {
		return nil, nil, err
	}

	var warnings []engine.Warning
	materialized := func(category ExpenseCategory) (bool, error) {
		_, err := c.Store.AccrualExpense(ctx, tc, b.ID, mk, category)
		if errors.Is(err, engine.ErrNotFound) {
			return false, nil
		}
		return err == nil, err
	}

	if have, err := materialized(CategoryManagementFees); err != nil {
		return nil, nil, err
	} else if !have {
		e, w := c.Accruals.ManagementFeeExpense(b, mk, apartmentCount, mgmtCfgs)
		warnings = append(warnings, w...)
		if e != nil {
			expenses = append(expenses, *e)
		}
	}
	if have, err := materialized(CategoryReserveFund); err != nil {
		return nil, nil, err
	} else if !have {
		e, w := c.Accruals.ReserveFundExpense(b, mk, rfCfgs)
		warnings = append(warnings, w...)
		if e != nil {
			expenses = append(expenses, *e)
		}
	}
	return expenses, warnings, nil
}
