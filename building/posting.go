/*
posting.go - Explicit posting of charges and payments to the ledger

PURPOSE:
  The only two paths that create ledger entries from domain events:

    ChargeExpense: distribute an expense and post one negative
                   charge_from_expense transaction per apartment.
    RecordPayment: persist a payment and its single positive
                   payment_received transaction (1:1, enforced here).

  These are synchronous service calls returning a result object. Nothing
  is created by persistence-layer hooks; the caller decides what commits,
  which is what makes the month-level atomic unit of work possible.

IDEMPOTENCY:
  Charge transactions key on (expense, apartment), payments on their
  payment ID. Re-posting skips entries whose keys already exist, so
  re-running a month cannot double-count.
*/
package building

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/oikos/expense-engine/engine"
)

// =============================================================================
// POSTING SERVICE
// =============================================================================

type PostingService struct {
	Store  Store
	Ledger engine.Ledger

	// Cache, when set, is invalidated for every apartment touched.
	Cache *BalanceCache
}

func NewPostingService(store Store) *PostingService {
	return &PostingService{Store: store, Ledger: engine.NewLedger(store)}
}

// ChargeResult reports what a charge posting did: the distribution that
// was computed and the transactions actually appended (already-posted
// apartments are skipped, not re-charged).
type ChargeResult struct {
	Expense      Expense
	Distribution *DistributionResult
	Posted       []engine.Transaction
	Skipped      int
	Warnings     []engine.Warning
}

// ChargeExpense validates and saves the expense, distributes it over the
// building's apartments, and appends the per-apartment charge
// transactions. Safe to call repeatedly for the same expense.
func (s *PostingService) ChargeExpense(ctx context.Context, tc engine.Tenant, e Expense) (*ChargeResult, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	apartments, err := s.Store.Apartments(ctx, tc, e.BuildingID)
	if err != nil {
		return nil, err
	}

	dist, err := Distribute(e, apartments)
	if err != nil {
		return nil, err
	}

	if err := s.Store.SaveExpense(ctx, tc, e); err != nil {
		return nil, err
	}

	result := &ChargeResult{Expense: e, Distribution: dist, Warnings: dist.Warnings}

	var batch []engine.Transaction
	for _, share := range dist.Shares {
		if share.Amount.IsZero() {
			continue
		}
		key := chargeKey(e.ID, share.ApartmentID)
		exists, err := s.Store.Exists(ctx, tc, key)
		if err != nil {
			return nil, err
		}
		if exists {
			result.Skipped++
			continue
		}
		batch = append(batch, engine.Transaction{
			ID:             engine.TransactionID(uuid.NewString()),
			BuildingID:     e.BuildingID,
			ApartmentID:    share.ApartmentID,
			Amount:         share.Amount.Neg(), // charges are debits
			Type:           engine.TxCharge,
			Date:           e.Date,
			ExpenseID:      e.ID,
			Description:    e.Description,
			IdempotencyKey: key,
			CreatedAt:      time.Now().UTC(),
		})
	}

	if len(batch) > 0 {
		if err := s.Ledger.AppendBatch(ctx, tc, batch); err != nil {
			return nil, err
		}
		result.Posted = batch
	}

	s.invalidate(tc, dist.Shares)
	return result, nil
}

// RecordPayment persists a payment together with its single ledger
// transaction. The 1:1 relationship is enforced here: the transaction is
// created first and its ID written onto the payment row.
func (s *PostingService) RecordPayment(ctx context.Context, tc engine.Tenant, p Payment) (*Payment, error) {
	if !p.Amount.IsPositive() {
		return nil, engine.NewValidationError("payment_amount_positive",
			"payment for apartment %s must be positive, got %s", p.ApartmentID, p.Amount)
	}
	if p.ApartmentID == "" {
		return nil, engine.NewValidationError("payment_apartment_required",
			"payment must reference an apartment")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Kind == "" {
		p.Kind = PaymentCommonExpenses
	}

	tx := engine.Transaction{
		ID:             engine.TransactionID(uuid.NewString()),
		BuildingID:     p.BuildingID,
		ApartmentID:    p.ApartmentID,
		Amount:         p.Amount, // payments are credits
		Type:           engine.TxPayment,
		Date:           p.Date,
		PaymentID:      p.ID,
		Description:    "Payment received (" + string(p.Kind) + ")",
		IdempotencyKey: paymentKey(p.ID),
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.Ledger.Append(ctx, tc, tx); err != nil {
		return nil, err
	}

	p.TransactionID = tx.ID
	if err := s.Store.SavePayment(ctx, tc, p); err != nil {
		return nil, err
	}

	if s.Cache != nil {
		s.Cache.Invalidate(tc, p.ApartmentID)
	}
	return &p, nil
}

func (s *PostingService) invalidate(tc engine.Tenant, shares []Share) {
	if s.Cache == nil {
		return
	}
	for _, share := range shares {
		s.Cache.Invalidate(tc, share.ApartmentID)
	}
}

func chargeKey(expenseID, apartmentID string) string {
	return "charge:" + expenseID + ":" + apartmentID
}

func paymentKey(paymentID string) string {
	return "payment:" + paymentID
}
