/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements building.UnitStore (domain tables + the append-only
  transaction ledger) using SQLite. In production the same patterns
  apply to PostgreSQL - only minor SQL dialect differences; with
  schema-per-tenant Postgres the tenant_id column becomes the schema
  selected by the explicit engine.Tenant.

KEY TABLES:
  buildings, apartments:        Master data; apartments carry the three
                                mills weighting sets and the derived
                                current_balance snapshot
  expenses, payments:           Append-mostly financial facts
  transactions:                 Immutable ledger, the source of truth
  monthly_balances:             One row per (building, year, month)
  recurring_expense_configs:    Time-varying accrual rates
  recalculation_runs:           Bulk backfill progress records

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE is ever issued against transactions. The unique
  (tenant_id, idempotency_key) index turns replayed postings into
  engine.ErrDuplicateIdempotencyKey instead of duplicate rows.

UNITS OF WORK:
  WithUnit wraps fn in one SQL transaction. The monthly service uses it
  so a month's accrual expenses, charge transactions and balance row
  commit or roll back together.

WAL MODE:
  SQLite is opened with WAL for better concurrency: multiple readers
  don't block, single writer at a time, better crash recovery.

USAGE:
  store, err := sqlite.New("./data/expenses.db")  // ":memory:" for tests
  if err != nil { ... }
  defer store.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/oikos/expense-engine/building"
	"github.com/oikos/expense-engine/engine"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so the same query code
// serves direct calls and units of work.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements building.Store over a DBTX.
type conn struct {
	db DBTX
}

// Store is the SQLite-backed building.UnitStore.
type Store struct {
	conn
	sqldb *sql.DB
}

var _ building.UnitStore = (*Store)(nil)

// New opens (or creates) the database at path. Use ":memory:" for tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{conn: conn{db: db}, sqldb: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.sqldb.Close() }

// WithUnit executes fn inside one SQL transaction.
func (s *Store) WithUnit(ctx context.Context, fn func(building.Store) error) error {
	tx, err := s.sqldb.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&conn{db: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) migrate() error {
	schema := `
	-- Buildings (master data)
	CREATE TABLE IF NOT EXISTS buildings (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		financial_start TEXT NOT NULL,
		reserve_fund_goal TEXT NOT NULL DEFAULT '0',
		reserve_fund_start TEXT,
		reserve_fund_target TEXT,
		reserve_fund_duration_months INTEGER NOT NULL DEFAULT 0,
		management_fee_per_apartment TEXT NOT NULL DEFAULT '0',
		PRIMARY KEY (tenant_id, id)
	);

	-- Apartments with the three weighting sets
	CREATE TABLE IF NOT EXISTS apartments (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		building_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		owner TEXT NOT NULL DEFAULT '',
		participation_mills INTEGER NOT NULL DEFAULT 0,
		heating_mills INTEGER NOT NULL DEFAULT 0,
		elevator_mills INTEGER NOT NULL DEFAULT 0,
		current_balance TEXT NOT NULL DEFAULT '0',
		PRIMARY KEY (tenant_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_apartments_building
		ON apartments(tenant_id, building_id, number);

	-- Expenses (append-mostly; is_issued is the only status flag)
	CREATE TABLE IF NOT EXISTS expenses (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		building_id TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		date TEXT NOT NULL,
		due_date TEXT NOT NULL,
		category TEXT NOT NULL,
		distribution TEXT NOT NULL,
		apartment_ids TEXT NOT NULL DEFAULT '',
		is_issued BOOLEAN NOT NULL DEFAULT FALSE,
		PRIMARY KEY (tenant_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_expenses_building_date
		ON expenses(tenant_id, building_id, date);
	CREATE INDEX IF NOT EXISTS idx_expenses_category
		ON expenses(tenant_id, building_id, category, date);

	-- Payments; transaction_id enforces the 1:1 ledger link
	CREATE TABLE IF NOT EXISTS payments (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		building_id TEXT NOT NULL,
		apartment_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		date TEXT NOT NULL,
		method TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		transaction_id TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (tenant_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_payments_building_date
		ON payments(tenant_id, building_id, date);
	CREATE INDEX IF NOT EXISTS idx_payments_apartment
		ON payments(tenant_id, apartment_id, date);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		building_id TEXT NOT NULL,
		apartment_id TEXT NOT NULL DEFAULT '',
		amount TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		date TEXT NOT NULL,
		expense_id TEXT NOT NULL DEFAULT '',
		payment_id TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_idempotency
		ON transactions(tenant_id, idempotency_key)
		WHERE idempotency_key IS NOT NULL AND idempotency_key != '';
	CREATE INDEX IF NOT EXISTS idx_transactions_apartment_date
		ON transactions(tenant_id, apartment_id, date);
	CREATE INDEX IF NOT EXISTS idx_transactions_building_date
		ON transactions(tenant_id, building_id, date);
	CREATE INDEX IF NOT EXISTS idx_transactions_expense
		ON transactions(tenant_id, expense_id)
		WHERE expense_id != '';

	-- Monthly balances: one canonical row per (building, year, month)
	CREATE TABLE IF NOT EXISTS monthly_balances (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		building_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		total_expenses TEXT NOT NULL,
		total_payments TEXT NOT NULL,
		previous_obligations TEXT NOT NULL,
		management_fees TEXT NOT NULL,
		reserve_fund_amount TEXT NOT NULL,
		total_obligations TEXT NOT NULL,
		net_result TEXT NOT NULL,
		carry_forward TEXT NOT NULL,
		closed BOOLEAN NOT NULL DEFAULT FALSE,
		computed_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id),
		UNIQUE (tenant_id, building_id, year, month)
	);

	-- Time-varying accrual rates
	CREATE TABLE IF NOT EXISTS recurring_expense_configs (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		building_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		effective_from TEXT NOT NULL,
		effective_to TEXT,
		distribution TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_configs_building_kind
		ON recurring_expense_configs(tenant_id, building_id, kind);

	-- Bulk backfill progress
	CREATE TABLE IF NOT EXISTS recalculation_runs (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		building_id TEXT NOT NULL,
		from_month TEXT NOT NULL,
		to_month TEXT NOT NULL,
		status TEXT NOT NULL,
		months_done INTEGER NOT NULL DEFAULT 0,
		dry_run BOOLEAN NOT NULL DEFAULT FALSE,
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		completed_at TEXT,
		PRIMARY KEY (tenant_id, id)
	);
	CREATE INDEX IF NOT EXISTS idx_runs_building
		ON recalculation_runs(tenant_id, building_id, started_at);
	`
	_, err := s.sqldb.Exec(schema)
	return err
}

// =============================================================================
// LEDGER (engine.LedgerStore)
// =============================================================================

func (c *conn) Append(ctx context.Context, tc engine.Tenant, tx engine.Transaction) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO transactions
		(tenant_id, id, building_id, apartment_id, amount, tx_type, date,
		 expense_id, payment_id, description, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tc.ID, tx.ID, tx.BuildingID, tx.ApartmentID,
		tx.Amount.Value.String(), tx.Type, tx.Date.String(),
		tx.ExpenseID, tx.PaymentID, tx.Description,
		tx.IdempotencyKey, createdAt(tx.CreatedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return engine.ErrDuplicateIdempotencyKey
	}
	return err
}

func (c *conn) AppendBatch(ctx context.Context, tc engine.Tenant, txs []engine.Transaction) error {
	// When already inside a unit of work, append serially; the enclosing
	// SQL transaction supplies atomicity. Otherwise open one here.
	if db, ok := c.db.(*sql.DB); ok {
		sqltx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		inner := &conn{db: sqltx}
		for _, tx := range txs {
			if err := inner.Append(ctx, tc, tx); err != nil {
				sqltx.Rollback()
				return err
			}
		}
		return sqltx.Commit()
	}
	for _, tx := range txs {
		if err := c.Append(ctx, tc, tx); err != nil {
			return err
		}
	}
	return nil
}

const txColumns = `id, building_id, apartment_id, amount, tx_type, date,
	expense_id, payment_id, description, COALESCE(idempotency_key, ''), created_at`

func (c *conn) Load(ctx context.Context, tc engine.Tenant, apartmentID string) ([]engine.Transaction, error) {
	return c.queryTxs(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE tenant_id = ? AND apartment_id = ?
		ORDER BY date, created_at`, tc.ID, apartmentID)
}

func (c *conn) LoadBefore(ctx context.Context, tc engine.Tenant, apartmentID string, cutoff engine.Date) ([]engine.Transaction, error) {
	return c.queryTxs(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE tenant_id = ? AND apartment_id = ? AND date < ?
		ORDER BY date, created_at`, tc.ID, apartmentID, cutoff.String())
}

func (c *conn) LoadBuildingRange(ctx context.Context, tc engine.Tenant, buildingID string, from, to engine.Date) ([]engine.Transaction, error) {
	return c.queryTxs(ctx, `
		SELECT `+txColumns+` FROM transactions
		WHERE tenant_id = ? AND building_id = ? AND date >= ? AND date <= ?
		ORDER BY date, created_at`, tc.ID, buildingID, from.String(), to.String())
}

func (c *conn) Exists(ctx context.Context, tc engine.Tenant, idempotencyKey string) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM transactions
		WHERE tenant_id = ? AND idempotency_key = ?`, tc.ID, idempotencyKey).Scan(&n)
	return n > 0, err
}

func (c *conn) queryTxs(ctx context.Context, query string, args ...any) ([]engine.Transaction, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []engine.Transaction
	for rows.Next() {
		var tx engine.Transaction
		var amount, date, created string
		if err := rows.Scan(&tx.ID, &tx.BuildingID, &tx.ApartmentID, &amount, &tx.Type,
			&date, &tx.ExpenseID, &tx.PaymentID, &tx.Description,
			&tx.IdempotencyKey, &created); err != nil {
			return nil, err
		}
		tx.Amount = engine.MustParseMoney(amount)
		if tx.Date, err = engine.ParseDate(date); err != nil {
			return nil, err
		}
		tx.CreatedAt, _ = time.Parse(time.RFC3339, created)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// =============================================================================
// BUILDINGS & APARTMENTS
// =============================================================================

func (c *conn) Building(ctx context.Context, tc engine.Tenant, id string) (*building.Building, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, name, financial_start, reserve_fund_goal,
		       COALESCE(reserve_fund_start, ''), COALESCE(reserve_fund_target, ''),
		       reserve_fund_duration_months, management_fee_per_apartment
		FROM buildings WHERE tenant_id = ? AND id = ?`, tc.ID, id)

	var b building.Building
	var start, goal, rfStart, rfTarget, fee string
	err := row.Scan(&b.ID, &b.Name, &start, &goal, &rfStart, &rfTarget,
		&b.ReserveFundDurationMonths, &fee)
	if err == sql.ErrNoRows {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if b.FinancialSystemStartDate, err = engine.ParseDate(start); err != nil {
		return nil, err
	}
	b.ReserveFundGoal = engine.MustParseMoney(goal)
	b.ManagementFeePerApartment = engine.MustParseMoney(fee)
	if rfStart != "" {
		d, err := engine.ParseDate(rfStart)
		if err != nil {
			return nil, err
		}
		b.ReserveFundStartDate = &d
	}
	if rfTarget != "" {
		d, err := engine.ParseDate(rfTarget)
		if err != nil {
			return nil, err
		}
		b.ReserveFundTargetDate = &d
	}
	return &b, nil
}

func (c *conn) SaveBuilding(ctx context.Context, tc engine.Tenant, b building.Building) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO buildings
		(tenant_id, id, name, financial_start, reserve_fund_goal, reserve_fund_start,
		 reserve_fund_target, reserve_fund_duration_months, management_fee_per_apartment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name = excluded.name,
			financial_start = excluded.financial_start,
			reserve_fund_goal = excluded.reserve_fund_goal,
			reserve_fund_start = excluded.reserve_fund_start,
			reserve_fund_target = excluded.reserve_fund_target,
			reserve_fund_duration_months = excluded.reserve_fund_duration_months,
			management_fee_per_apartment = excluded.management_fee_per_apartment`,
		tc.ID, b.ID, b.Name, b.FinancialSystemStartDate.String(),
		b.ReserveFundGoal.Value.String(), nullableDate(b.ReserveFundStartDate),
		nullableDate(b.ReserveFundTargetDate), b.ReserveFundDurationMonths,
		b.ManagementFeePerApartment.Value.String(),
	)
	return err
}

func (c *conn) Apartment(ctx context.Context, tc engine.Tenant, id string) (*building.Apartment, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, building_id, number, owner, participation_mills,
		       heating_mills, elevator_mills, current_balance
		FROM apartments WHERE tenant_id = ? AND id = ?`, tc.ID, id)
	a, err := scanApartment(row)
	if err == sql.ErrNoRows {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (c *conn) Apartments(ctx context.Context, tc engine.Tenant, buildingID string) ([]building.Apartment, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, building_id, number, owner, participation_mills,
		       heating_mills, elevator_mills, current_balance
		FROM apartments WHERE tenant_id = ? AND building_id = ?
		ORDER BY number`, tc.ID, buildingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []building.Apartment
	for rows.Next() {
		a, err := scanApartment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

type scanner interface{ Scan(dest ...any) error }

func scanApartment(row scanner) (*building.Apartment, error) {
	var a building.Apartment
	var balance string
	if err := row.Scan(&a.ID, &a.BuildingID, &a.Number, &a.Owner,
		&a.ParticipationMills, &a.HeatingMills, &a.ElevatorMills, &balance); err != nil {
		return nil, err
	}
	a.CurrentBalance = engine.MustParseMoney(balance)
	return &a, nil
}

func (c *conn) SaveApartment(ctx context.Context, tc engine.Tenant, a building.Apartment) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO apartments
		(tenant_id, id, building_id, number, owner, participation_mills,
		 heating_mills, elevator_mills, current_balance)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			building_id = excluded.building_id,
			number = excluded.number,
			owner = excluded.owner,
			participation_mills = excluded.participation_mills,
			heating_mills = excluded.heating_mills,
			elevator_mills = excluded.elevator_mills`,
		tc.ID, a.ID, a.BuildingID, a.Number, a.Owner,
		a.ParticipationMills, a.HeatingMills, a.ElevatorMills,
		a.CurrentBalance.Value.String(),
	)
	return err
}

func (c *conn) UpdateApartmentBalance(ctx context.Context, tc engine.Tenant, apartmentID string, balance engine.Money) error {
	res, err := c.db.ExecContext(ctx, `
		UPDATE apartments SET current_balance = ?
		WHERE tenant_id = ? AND id = ?`,
		balance.Value.String(), tc.ID, apartmentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engine.ErrNotFound
	}
	return nil
}

// =============================================================================
// EXPENSES
// =============================================================================

const expenseColumns = `id, building_id, description, amount, date, due_date,
	category, distribution, apartment_ids, is_issued`

func (c *conn) Expense(ctx context.Context, tc engine.Tenant, id string) (*building.Expense, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT `+expenseColumns+` FROM expenses
		WHERE tenant_id = ? AND id = ?`, tc.ID, id)
	e, err := scanExpense(row)
	if err == sql.ErrNoRows {
		return nil, engine.ErrNotFound
	}
	return e, err
}

func (c *conn) ExpensesInMonth(ctx context.Context, tc engine.Tenant, buildingID string, mk engine.MonthKey) ([]building.Expense, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+expenseColumns+` FROM expenses
		WHERE tenant_id = ? AND building_id = ? AND date >= ? AND date <= ?
		ORDER BY date, id`,
		tc.ID, buildingID, mk.Start().String(), mk.End().String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []building.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

func (c *conn) AccrualExpense(ctx context.Context, tc engine.Tenant, buildingID string, mk engine.MonthKey, category building.ExpenseCategory) (*building.Expense, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT `+expenseColumns+` FROM expenses
		WHERE tenant_id = ? AND building_id = ? AND category = ?
		  AND date >= ? AND date <= ?`,
		tc.ID, buildingID, category, mk.Start().String(), mk.End().String())
	e, err := scanExpense(row)
	if err == sql.ErrNoRows {
		return nil, engine.ErrNotFound
	}
	return e, err
}

func scanExpense(row scanner) (*building.Expense, error) {
	var e building.Expense
	var amount, date, due, apartmentIDs string
	if err := row.Scan(&e.ID, &e.BuildingID, &e.Description, &amount, &date, &due,
		&e.Category, &e.Distribution, &apartmentIDs, &e.IsIssued); err != nil {
		return nil, err
	}
	var err error
	e.Amount = engine.MustParseMoney(amount)
	if e.Date, err = engine.ParseDate(date); err != nil {
		return nil, err
	}
	if e.DueDate, err = engine.ParseDate(due); err != nil {
		return nil, err
	}
	if apartmentIDs != "" {
		e.ApartmentIDs = strings.Split(apartmentIDs, ",")
	}
	return &e, nil
}

func (c *conn) SaveExpense(ctx context.Context, tc engine.Tenant, e building.Expense) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO expenses
		(tenant_id, id, building_id, description, amount, date, due_date,
		 category, distribution, apartment_ids, is_issued)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			description = excluded.description,
			amount = excluded.amount,
			date = excluded.date,
			due_date = excluded.due_date,
			category = excluded.category,
			distribution = excluded.distribution,
			apartment_ids = excluded.apartment_ids,
			is_issued = excluded.is_issued`,
		tc.ID, e.ID, e.BuildingID, e.Description, e.Amount.Value.String(),
		e.Date.String(), e.DueDate.String(), e.Category, e.Distribution,
		strings.Join(e.ApartmentIDs, ","), e.IsIssued,
	)
	return err
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, building_id, apartment_id, amount, date, method, kind, transaction_id`

func (c *conn) PaymentsInMonth(ctx context.Context, tc engine.Tenant, buildingID string, mk engine.MonthKey) ([]building.Payment, error) {
	return c.queryPayments(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE tenant_id = ? AND building_id = ? AND date >= ? AND date <= ?
		ORDER BY date, id`,
		tc.ID, buildingID, mk.Start().String(), mk.End().String())
}

func (c *conn) PaymentsForApartment(ctx context.Context, tc engine.Tenant, apartmentID string) ([]building.Payment, error) {
	return c.queryPayments(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE tenant_id = ? AND apartment_id = ?
		ORDER BY date, id`, tc.ID, apartmentID)
}

func (c *conn) queryPayments(ctx context.Context, query string, args ...any) ([]building.Payment, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []building.Payment
	for rows.Next() {
		var p building.Payment
		var amount, date string
		if err := rows.Scan(&p.ID, &p.BuildingID, &p.ApartmentID, &amount, &date,
			&p.Method, &p.Kind, &p.TransactionID); err != nil {
			return nil, err
		}
		p.Amount = engine.MustParseMoney(amount)
		if p.Date, err = engine.ParseDate(date); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (c *conn) SavePayment(ctx context.Context, tc engine.Tenant, p building.Payment) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO payments
		(tenant_id, id, building_id, apartment_id, amount, date, method, kind, transaction_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			transaction_id = excluded.transaction_id`,
		tc.ID, p.ID, p.BuildingID, p.ApartmentID, p.Amount.Value.String(),
		p.Date.String(), p.Method, p.Kind, p.TransactionID,
	)
	return err
}

// =============================================================================
// MONTHLY BALANCES
// =============================================================================

const balanceColumns = `id, building_id, year, month, total_expenses, total_payments,
	previous_obligations, management_fees, reserve_fund_amount,
	total_obligations, net_result, carry_forward, closed, computed_at`

func (c *conn) MonthlyBalance(ctx context.Context, tc engine.Tenant, buildingID string, mk engine.MonthKey) (*building.MonthlyBalance, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT `+balanceColumns+` FROM monthly_balances
		WHERE tenant_id = ? AND building_id = ? AND year = ? AND month = ?`,
		tc.ID, buildingID, mk.Year, int(mk.Month))
	mb, err := scanMonthlyBalance(row)
	if err == sql.ErrNoRows {
		return nil, engine.ErrNotFound
	}
	return mb, err
}

func (c *conn) MonthlyBalances(ctx context.Context, tc engine.Tenant, buildingID string, from, to engine.MonthKey) ([]building.MonthlyBalance, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT `+balanceColumns+` FROM monthly_balances
		WHERE tenant_id = ? AND building_id = ?
		  AND (year * 100 + month) >= ? AND (year * 100 + month) <= ?
		ORDER BY year, month`,
		tc.ID, buildingID, from.Year*100+int(from.Month), to.Year*100+int(to.Month))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []building.MonthlyBalance
	for rows.Next() {
		mb, err := scanMonthlyBalance(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *mb)
	}
	return result, rows.Err()
}

func scanMonthlyBalance(row scanner) (*building.MonthlyBalance, error) {
	var mb building.MonthlyBalance
	var month int
	var exp, pay, prev, fees, rf, obligations, net, carry, computed string
	if err := row.Scan(&mb.ID, &mb.BuildingID, &mb.Year, &month, &exp, &pay,
		&prev, &fees, &rf, &obligations, &net, &carry, &mb.Closed, &computed); err != nil {
		return nil, err
	}
	mb.Month = time.Month(month)
	mb.TotalExpenses = engine.MustParseMoney(exp)
	mb.TotalPayments = engine.MustParseMoney(pay)
	mb.PreviousObligations = engine.MustParseMoney(prev)
	mb.ManagementFees = engine.MustParseMoney(fees)
	mb.ReserveFundAmount = engine.MustParseMoney(rf)
	mb.TotalObligations = engine.MustParseMoney(obligations)
	mb.NetResult = engine.MustParseMoney(net)
	mb.CarryForward = engine.MustParseMoney(carry)
	mb.ComputedAt, _ = time.Parse(time.RFC3339, computed)
	return &mb, nil
}

func (c *conn) SaveMonthlyBalance(ctx context.Context, tc engine.Tenant, mb building.MonthlyBalance) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO monthly_balances
		(tenant_id, id, building_id, year, month, total_expenses, total_payments,
		 previous_obligations, management_fees, reserve_fund_amount,
		 total_obligations, net_result, carry_forward, closed, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, building_id, year, month) DO UPDATE SET
			total_expenses = excluded.total_expenses,
			total_payments = excluded.total_payments,
			previous_obligations = excluded.previous_obligations,
			management_fees = excluded.management_fees,
			reserve_fund_amount = excluded.reserve_fund_amount,
			total_obligations = excluded.total_obligations,
			net_result = excluded.net_result,
			carry_forward = excluded.carry_forward,
			closed = excluded.closed,
			computed_at = excluded.computed_at`,
		tc.ID, mb.ID, mb.BuildingID, mb.Year, int(mb.Month),
		mb.TotalExpenses.Value.String(), mb.TotalPayments.Value.String(),
		mb.PreviousObligations.Value.String(), mb.ManagementFees.Value.String(),
		mb.ReserveFundAmount.Value.String(), mb.TotalObligations.Value.String(),
		mb.NetResult.Value.String(), mb.CarryForward.Value.String(),
		mb.Closed, mb.ComputedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// =============================================================================
// RECURRING CONFIGS & RUNS
// =============================================================================

func (c *conn) RecurringConfigs(ctx context.Context, tc engine.Tenant, buildingID string, kind building.RecurringExpenseKind) ([]building.RecurringExpenseConfig, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, building_id, kind, amount, effective_from,
		       COALESCE(effective_to, ''), distribution
		FROM recurring_expense_configs
		WHERE tenant_id = ? AND building_id = ? AND kind = ?
		ORDER BY effective_from DESC`, tc.ID, buildingID, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []building.RecurringExpenseConfig
	for rows.Next() {
		var cfg building.RecurringExpenseConfig
		var amount, from, to string
		if err := rows.Scan(&cfg.ID, &cfg.BuildingID, &cfg.Kind, &amount,
			&from, &to, &cfg.Distribution); err != nil {
			return nil, err
		}
		cfg.Amount = engine.MustParseMoney(amount)
		if cfg.EffectiveFrom, err = engine.ParseMonthKey(from); err != nil {
			return nil, err
		}
		if to != "" {
			mk, err := engine.ParseMonthKey(to)
			if err != nil {
				return nil, err
			}
			cfg.EffectiveTo = &mk
		}
		result = append(result, cfg)
	}
	return result, rows.Err()
}

func (c *conn) SaveRecurringConfig(ctx context.Context, tc engine.Tenant, cfg building.RecurringExpenseConfig) error {
	var to any
	if cfg.EffectiveTo != nil {
		to = cfg.EffectiveTo.String()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO recurring_expense_configs
		(tenant_id, id, building_id, kind, amount, effective_from, effective_to, distribution)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			amount = excluded.amount,
			effective_from = excluded.effective_from,
			effective_to = excluded.effective_to,
			distribution = excluded.distribution`,
		tc.ID, cfg.ID, cfg.BuildingID, cfg.Kind, cfg.Amount.Value.String(),
		cfg.EffectiveFrom.String(), to, cfg.Distribution,
	)
	return err
}

func (c *conn) SaveRun(ctx context.Context, tc engine.Tenant, run building.RecalculationRun) error {
	var completed any
	if run.CompletedAt != nil {
		completed = run.CompletedAt.UTC().Format(time.RFC3339)
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO recalculation_runs
		(tenant_id, id, building_id, from_month, to_month, status, months_done,
		 dry_run, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			status = excluded.status,
			months_done = excluded.months_done,
			error = excluded.error,
			completed_at = excluded.completed_at`,
		tc.ID, run.ID, run.BuildingID, run.From.String(), run.To.String(),
		run.Status, run.MonthsDone, run.DryRun, run.Error,
		run.StartedAt.UTC().Format(time.RFC3339), completed,
	)
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func nullableDate(d *engine.Date) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func createdAt(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(time.RFC3339)
}
