package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oikos/expense-engine/building"
	"github.com/oikos/expense-engine/engine"
	"github.com/oikos/expense-engine/store/memory"
)

var tc = engine.DefaultTenant

func tx(id, apartmentID, amount, date, key string) engine.Transaction {
	d, _ := engine.ParseDate(date)
	return engine.Transaction{
		ID:             engine.TransactionID(id),
		BuildingID:     "bld-1",
		ApartmentID:    apartmentID,
		Amount:         engine.MustParseMoney(amount),
		Type:           engine.TxCharge,
		Date:           d,
		IdempotencyKey: key,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestAppend_KeepsDateOrder(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, tc, tx("tx-mar", "apt-1", "-30", "2024-03-01", "k3")))
	require.NoError(t, store.Append(ctx, tc, tx("tx-jan", "apt-1", "-10", "2024-01-01", "k1")))

	txs, err := store.Load(ctx, tc, "apt-1")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, engine.TransactionID("tx-jan"), txs[0].ID)
}

func TestAppendBatch_RejectedBeforeAnyWrite(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, tc, tx("tx-0", "apt-2", "-5", "2024-01-05", "dup")))

	err := store.AppendBatch(ctx, tc, []engine.Transaction{
		tx("tx-1", "apt-1", "-10", "2024-01-10", "key-a"),
		tx("tx-2", "apt-1", "-10", "2024-01-10", "dup"),
	})
	assert.ErrorIs(t, err, engine.ErrDuplicateIdempotencyKey)

	txs, err := store.Load(ctx, tc, "apt-1")
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestWithUnit_RestoresSnapshotOnError(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.SaveApartment(ctx, tc, building.Apartment{
		ID: "apt-1", BuildingID: "bld-1", Number: 1,
	}))

	boom := errors.New("boom")
	err := store.WithUnit(ctx, func(s building.Store) error {
		if err := s.Append(ctx, tc, tx("tx-1", "apt-1", "-10", "2024-01-10", "k1")); err != nil {
			return err
		}
		if err := s.UpdateApartmentBalance(ctx, tc, "apt-1", engine.MustParseMoney("-10")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	txs, err := store.Load(ctx, tc, "apt-1")
	require.NoError(t, err)
	assert.Empty(t, txs, "ledger writes must roll back")

	a, err := store.Apartment(ctx, tc, "apt-1")
	require.NoError(t, err)
	assert.True(t, a.CurrentBalance.IsZero(), "balance update must roll back")

	exists, err := store.Exists(ctx, tc, "k1")
	require.NoError(t, err)
	assert.False(t, exists, "idempotency index must roll back with the ledger")
}

func TestTenantScoping(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	other := engine.Tenant{ID: "other", Schema: "other"}

	require.NoError(t, store.SaveExpense(ctx, tc, building.Expense{
		ID: "e-1", BuildingID: "bld-1", Amount: engine.MustParseMoney("10"),
		Date: engine.NewDate(2024, 1, 10), DueDate: engine.NewDate(2024, 1, 10),
		Category: building.CategoryGeneral, Distribution: building.EqualShare,
	}))

	_, err := store.Expense(ctx, other, "e-1")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}
