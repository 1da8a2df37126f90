package building

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/oikos/expense-engine/engine"
)

// =============================================================================
// BALANCE CACHE - Derived current_balance snapshots
// =============================================================================

// BalanceCache serves apartment current-balance reads without replaying
// the ledger every time. It is a pure read cache: entries are invalidated
// whenever a transaction is posted for the apartment, and a miss always
// recomputes from the ledger. Reconciliation paths never consult it.
type BalanceCache struct {
	cache *gocache.Cache
	recon *Reconstructor
	clock engine.Clock
}

func NewBalanceCache(recon *Reconstructor, clock engine.Clock, ttl time.Duration) *BalanceCache {
	return &BalanceCache{
		cache: gocache.New(ttl, 2*ttl),
		recon: recon,
		clock: clock,
	}
}

// Balance returns the apartment's balance as of today, from cache when
// fresh, otherwise reconstructed from the ledger and re-cached. The
// stored current_balance snapshot is refreshed as a side effect.
func (bc *BalanceCache) Balance(ctx context.Context, tc engine.Tenant, apartmentID string) (engine.Money, error) {
	if v, ok := bc.cache.Get(bc.key(tc, apartmentID)); ok {
		return v.(engine.Money), nil
	}

	balance, _, err := bc.recon.RefreshCurrentBalance(ctx, tc, apartmentID, bc.clock)
	if err != nil {
		return engine.Money{}, err
	}
	bc.cache.SetDefault(bc.key(tc, apartmentID), balance)
	return balance, nil
}

func (bc *BalanceCache) Invalidate(tc engine.Tenant, apartmentID string) {
	bc.cache.Delete(bc.key(tc, apartmentID))
}

func (bc *BalanceCache) key(tc engine.Tenant, apartmentID string) string {
	return tc.ID + ":" + apartmentID
}
