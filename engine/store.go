/*
store.go - Persistence interface for the transaction ledger

PURPOSE:
  Defines the interface between the ledger and the database while
  maintaining append-only semantics. Implementations exist for SQLite
  (store/sqlite) and in-memory (store/memory).

APPEND-ONLY CONTRACT:
  - Append(): single transaction write
  - AppendBatch(): atomic multi-transaction write
  - NO Update() or Delete() methods exist

TENANCY:
  Every method takes an explicit Tenant. There is no ambient "current
  schema"; the tenant is part of each call's contract.

SEE ALSO:
  - ledger.go: Higher-level interface using LedgerStore
  - building/store.go: Domain tables (buildings, expenses, balances...)
*/
package engine

import "context"

// =============================================================================
// LEDGER STORE - Transaction persistence (append-only)
// =============================================================================

// LedgerStore handles persistence of transactions.
// IMPORTANT: append-only. Corrections are made via new entries.
type LedgerStore interface {
	// Append persists a transaction. Returns error if the idempotency key exists.
	Append(ctx context.Context, tc Tenant, tx Transaction) error

	// AppendBatch persists multiple transactions atomically.
	AppendBatch(ctx context.Context, tc Tenant, txs []Transaction) error

	// Load returns all transactions for an apartment, ordered by date.
	Load(ctx context.Context, tc Tenant, apartmentID string) ([]Transaction, error)

	// LoadBefore returns transactions with date strictly before cutoff.
	LoadBefore(ctx context.Context, tc Tenant, apartmentID string, cutoff Date) ([]Transaction, error)

	// LoadBuildingRange returns all of a building's transactions dated in
	// [from, to], across apartments, ordered by date.
	LoadBuildingRange(ctx context.Context, tc Tenant, buildingID string, from, to Date) ([]Transaction, error)

	// Exists checks if an idempotency key is already present.
	Exists(ctx context.Context, tc Tenant, idempotencyKey string) (bool, error)
}
