/*
ledger.go - Append-only transaction log

PURPOSE:
  The ledger is the single source of truth for every financial fact:
  charges distributed from expenses, payments received, interest,
  penalties, refunds and manual adjustments. An apartment's balance is
  always derivable by replaying its transactions - the cached
  current_balance on the apartment row is a read optimization, never
  an input to any calculation.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. Corrections are new entries.
  2. SIGNED AMOUNTS: positive = credit (payment received),
     negative = debit (charge). Replay is a plain sum.
  3. IDEMPOTENT: Same idempotency key = same transaction (no duplicates).
     Charge postings key on (expense, apartment) so re-running a month
     cannot double-count.
  4. 1:1 PAYMENTS: every Payment row produces exactly one
     payment_received transaction referencing it.

WHY APPEND-ONLY?
  The repository's bug history is exactly what happens when stored
  balances drift from transaction history: missing accrual rollovers,
  double-counted charges, mismatched previous obligations. Replay from
  an immutable log is the only balance the engine trusts.

SEE ALSO:
  - store.go: Persistence interface
  - building/reconstruct.go: Replay plus accrual back-fill
*/
package engine

import (
	"context"
	"time"
)

// =============================================================================
// TRANSACTION - Atomic financial fact
// =============================================================================

type TransactionID string

type TransactionType string

const (
	TxCharge     TransactionType = "charge_from_expense"
	TxPayment    TransactionType = "payment_received"
	TxInterest   TransactionType = "interest"
	TxPenalty    TransactionType = "penalty"
	TxRefund     TransactionType = "refund"
	TxAdjustment TransactionType = "balance_adjustment"
)

type Transaction struct {
	ID         TransactionID
	BuildingID string

	// ApartmentID is empty for building-level entries.
	ApartmentID string

	// Amount is signed: positive = credit/payment received,
	// negative = debit/charge.
	Amount Money
	Type   TransactionType
	Date   Date

	// ExpenseID links charge_from_expense entries to their originating
	// expense; PaymentID links payment_received entries to their payment.
	ExpenseID string
	PaymentID string

	Description    string
	IdempotencyKey string
	CreatedAt      time.Time
}

// =============================================================================
// LEDGER - Append-only access over a Store
// =============================================================================

// Ledger is the source of truth for all balance changes.
type Ledger interface {
	// Append adds a transaction. Fails with ErrDuplicateIdempotencyKey if
	// the idempotency key exists. This and AppendBatch are the only writes.
	Append(ctx context.Context, tc Tenant, tx Transaction) error

	// AppendBatch adds multiple transactions atomically. Used when charging
	// an expense (one transaction per apartment).
	AppendBatch(ctx context.Context, tc Tenant, txs []Transaction) error

	// ForApartment returns all transactions for an apartment, chronologically.
	ForApartment(ctx context.Context, tc Tenant, apartmentID string) ([]Transaction, error)

	// ForApartmentBefore returns transactions with date strictly before cutoff.
	ForApartmentBefore(ctx context.Context, tc Tenant, apartmentID string, cutoff Date) ([]Transaction, error)

	// ForBuildingInMonth returns every transaction dated within the month,
	// across all of the building's apartments.
	ForBuildingInMonth(ctx context.Context, tc Tenant, buildingID string, mk MonthKey) ([]Transaction, error)

	// BalanceBefore replays an apartment's transactions dated strictly
	// before cutoff. This is the stored-transaction half of historical
	// reconstruction; accrual back-fill lives in the building package.
	BalanceBefore(ctx context.Context, tc Tenant, apartmentID string, cutoff Date) (Money, error)
}

// =============================================================================
// DEFAULT LEDGER - Implementation over LedgerStore
// =============================================================================

type DefaultLedger struct {
	Store LedgerStore
}

func NewLedger(store LedgerStore) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Append(ctx context.Context, tc Tenant, tx Transaction) error {
	if tx.IdempotencyKey != "" {
		exists, err := l.Store.Exists(ctx, tc, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.Append(ctx, tc, tx)
}

func (l *DefaultLedger) AppendBatch(ctx context.Context, tc Tenant, txs []Transaction) error {
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		exists, err := l.Store.Exists(ctx, tc, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	return l.Store.AppendBatch(ctx, tc, txs)
}

func (l *DefaultLedger) ForApartment(ctx context.Context, tc Tenant, apartmentID string) ([]Transaction, error) {
	return l.Store.Load(ctx, tc, apartmentID)
}

func (l *DefaultLedger) ForApartmentBefore(ctx context.Context, tc Tenant, apartmentID string, cutoff Date) ([]Transaction, error) {
	return l.Store.LoadBefore(ctx, tc, apartmentID, cutoff)
}

func (l *DefaultLedger) ForBuildingInMonth(ctx context.Context, tc Tenant, buildingID string, mk MonthKey) ([]Transaction, error) {
	return l.Store.LoadBuildingRange(ctx, tc, buildingID, mk.Start(), mk.End())
}

func (l *DefaultLedger) BalanceBefore(ctx context.Context, tc Tenant, apartmentID string, cutoff Date) (Money, error) {
	txs, err := l.Store.LoadBefore(ctx, tc, apartmentID, cutoff)
	if err != nil {
		return Money{}, err
	}
	balance := ZeroMoney()
	for _, tx := range txs {
		balance = balance.Add(tx.Amount)
	}
	return balance, nil
}
