/*
recalc.go - Bulk recalculation orchestrator

PURPOSE:
  Re-derives MonthlyBalance records for a building across a month range.
  This is the explicit, operator-confirmed repair path for chain
  discrepancies, and the backfill path for new deployments.

ORDERING & CONCURRENCY:
  Months within one building are processed strictly chronologically:
  recalculating month N needs month N-1's already-committed
  carry-forward. A per-building mutex serializes concurrent calls;
  different buildings share no mutable state and recalculate in
  parallel freely.

RESUMABILITY:
  Every run persists a RecalculationRun row updated after each month, so
  progress is observable and an interrupted backfill can be re-run from
  any month. Each month is idempotent, so overlap is harmless. A month
  is the smallest atomic unit; runs are not cancellable mid-month.
*/
package building

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oikos/expense-engine/engine"
)

// =============================================================================
// RECALCULATOR
// =============================================================================

type Recalculator struct {
	Store   Store
	Monthly *MonthlyService

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRecalculator(store Store, monthly *MonthlyService) *Recalculator {
	return &Recalculator{Store: store, Monthly: monthly, locks: make(map[string]*sync.Mutex)}
}

// buildingLock returns the serialization point for one building's chain.
func (r *Recalculator) buildingLock(buildingID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locks[buildingID] == nil {
		r.locks[buildingID] = &sync.Mutex{}
	}
	return r.locks[buildingID]
}

// RecalculateAll re-derives every month in [from, to] in chronological
// order. With dryRun=true nothing is written; the run reports how many
// months a real run would process.
func (r *Recalculator) RecalculateAll(ctx context.Context, tc engine.Tenant, buildingID string, from, to engine.MonthKey, dryRun bool) (*RecalculationRun, []engine.Warning, error) {
	if to.Before(from) {
		return nil, nil, engine.ErrInvalidRange
	}

	b, err := r.Store.Building(ctx, tc, buildingID)
	if err != nil {
		return nil, nil, err
	}

	// Months before the ledger is authoritative are not reconstructable.
	firstMonth := engine.MonthOf(b.FinancialSystemStartDate)
	if from.Before(firstMonth) {
		from = firstMonth
	}

	lock := r.buildingLock(buildingID)
	lock.Lock()
	defer lock.Unlock()

	run := RecalculationRun{
		ID:         uuid.NewString(),
		BuildingID: buildingID,
		From:       from,
		To:         to,
		Status:     RunRunning,
		DryRun:     dryRun,
		StartedAt:  time.Now().UTC(),
	}
	if !dryRun {
		if err := r.Store.SaveRun(ctx, tc, run); err != nil {
			return nil, nil, err
		}
	}

	var warnings []engine.Warning
	for _, mk := range engine.MonthsBetween(from, to) {
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, tc, run, err)
		}
		if dryRun {
			run.MonthsDone++
			continue
		}
		result, err := r.Monthly.CreateOrUpdate(ctx, tc, buildingID, mk, true)
		if err != nil {
			return r.fail(ctx, tc, run, err)
		}
		warnings = append(warnings, result.Warnings...)

		run.MonthsDone++
		if err := r.Store.SaveRun(ctx, tc, run); err != nil {
			return r.fail(ctx, tc, run, err)
		}
	}

	now := time.Now().UTC()
	run.Status = RunCompleted
	run.CompletedAt = &now
	if !dryRun {
		if err := r.Store.SaveRun(ctx, tc, run); err != nil {
			return nil, nil, err
		}
	}
	return &run, warnings, nil
}

func (r *Recalculator) fail(ctx context.Context, tc engine.Tenant, run RecalculationRun, cause error) (*RecalculationRun, []engine.Warning, error) {
	now := time.Now().UTC()
	run.Status = RunFailed
	run.Error = cause.Error()
	run.CompletedAt = &now
	if !run.DryRun {
		// Best effort: the failed state is worth persisting even when the
		// run itself already failed.
		_ = r.Store.SaveRun(ctx, tc, run)
	}
	return &run, nil, cause
}
