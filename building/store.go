/*
store.go - Domain persistence interface

PURPOSE:
  Defines persistence for the domain tables (buildings, apartments,
  expenses, payments, monthly balances, recurring configs, recalculation
  runs) on top of the engine's append-only ledger store. Implementations:
  store/sqlite for production, enginestore.Memory for tests.

ATOMIC UNITS OF WORK:
  Recalculating a (building, year, month) must commit or roll back as one
  unit: accrual expenses, charge transactions and the MonthlyBalance row
  together. UnitStore.WithUnit provides that boundary. A month is the
  smallest atomic unit; bulk backfills run months sequentially, each in
  its own unit.

APPEND-MOSTLY:
  Expense, Payment and Transaction rows are append-mostly. The only
  update paths are status flags (is_issued) and the derived
  current_balance snapshot on apartments.
*/
package building

import (
	"context"

	"github.com/oikos/expense-engine/engine"
)

// =============================================================================
// STORE - Domain tables plus the transaction ledger
// =============================================================================

// Store combines the domain tables with the engine's ledger store. All
// methods take an explicit engine.Tenant; there is no ambient schema.
type Store interface {
	engine.LedgerStore

	// Buildings
	Building(ctx context.Context, tc engine.Tenant, id string) (*Building, error)
	SaveBuilding(ctx context.Context, tc engine.Tenant, b Building) error

	// Apartments
	Apartment(ctx context.Context, tc engine.Tenant, id string) (*Apartment, error)
	Apartments(ctx context.Context, tc engine.Tenant, buildingID string) ([]Apartment, error)
	SaveApartment(ctx context.Context, tc engine.Tenant, a Apartment) error

	// UpdateApartmentBalance refreshes the derived current_balance
	// snapshot. Never an input to any calculation.
	UpdateApartmentBalance(ctx context.Context, tc engine.Tenant, apartmentID string, balance engine.Money) error

	// Expenses
	Expense(ctx context.Context, tc engine.Tenant, id string) (*Expense, error)
	ExpensesInMonth(ctx context.Context, tc engine.Tenant, buildingID string, mk engine.MonthKey) ([]Expense, error)
	// AccrualExpense returns the synthetic expense of the given accrual
	// category for the month, or ErrNotFound. Read paths use it to tell
	// materialized accruals from ones that still need computing.
	AccrualExpense(ctx context.Context, tc engine.Tenant, buildingID string, mk engine.MonthKey, category ExpenseCategory) (*Expense, error)
	SaveExpense(ctx context.Context, tc engine.Tenant, e Expense) error

	// Payments
	PaymentsInMonth(ctx context.Context, tc engine.Tenant, buildingID string, mk engine.MonthKey) ([]Payment, error)
	PaymentsForApartment(ctx context.Context, tc engine.Tenant, apartmentID string) ([]Payment, error)
	SavePayment(ctx context.Context, tc engine.Tenant, p Payment) error

	// Monthly balances. Save upserts on (building, year, month).
	MonthlyBalance(ctx context.Context, tc engine.Tenant, buildingID string, mk engine.MonthKey) (*MonthlyBalance, error)
	MonthlyBalances(ctx context.Context, tc engine.Tenant, buildingID string, from, to engine.MonthKey) ([]MonthlyBalance, error)
	SaveMonthlyBalance(ctx context.Context, tc engine.Tenant, mb MonthlyBalance) error

	// Recurring expense configs, newest-first by EffectiveFrom.
	RecurringConfigs(ctx context.Context, tc engine.Tenant, buildingID string, kind RecurringExpenseKind) ([]RecurringExpenseConfig, error)
	SaveRecurringConfig(ctx context.Context, tc engine.Tenant, c RecurringExpenseConfig) error

	// Recalculation runs (bulk backfill progress).
	SaveRun(ctx context.Context, tc engine.Tenant, run RecalculationRun) error
}

// UnitStore extends Store with atomic units of work.
type UnitStore interface {
	Store

	// WithUnit executes fn within one transaction. If fn returns an
	// error the unit is rolled back, otherwise committed.
	WithUnit(ctx context.Context, fn func(Store) error) error
}
