// Package memory provides an in-memory building.UnitStore for tests/dev.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/oikos/expense-engine/building"
	"github.com/oikos/expense-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Store struct {
	mu sync.RWMutex

	// unitMu serializes units of work; WithUnit snapshots state and
	// restores it when the unit fails.
	unitMu sync.Mutex

	buildings    map[string]building.Building
	apartments   map[string]building.Apartment
	expenses     map[string]building.Expense
	payments     map[string]building.Payment
	balances     map[string]building.MonthlyBalance
	configs      map[string]building.RecurringExpenseConfig
	runs         map[string]building.RecalculationRun
	transactions map[string][]engine.Transaction // per tenant, date-ordered
	idempotency  map[string]bool
}

func New() *Store {
	return &Store{
		buildings:    make(map[string]building.Building),
		apartments:   make(map[string]building.Apartment),
		expenses:     make(map[string]building.Expense),
		payments:     make(map[string]building.Payment),
		balances:     make(map[string]building.MonthlyBalance),
		configs:      make(map[string]building.RecurringExpenseConfig),
		runs:         make(map[string]building.RecalculationRun),
		transactions: make(map[string][]engine.Transaction),
		idempotency:  make(map[string]bool),
	}
}

var _ building.UnitStore = (*Store)(nil)

func scoped(tc engine.Tenant, id string) string { return tc.ID + "/" + id }

// =============================================================================
// LEDGER (engine.LedgerStore)
// =============================================================================

func (m *Store) Append(_ context.Context, tc engine.Tenant, tx engine.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(tc, tx)
}

func (m *Store) AppendBatch(_ context.Context, tc engine.Tenant, txs []engine.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tx := range txs {
		if tx.IdempotencyKey != "" && m.idempotency[scoped(tc, tx.IdempotencyKey)] {
			return engine.ErrDuplicateIdempotencyKey
		}
	}
	for _, tx := range txs {
		if err := m.appendLocked(tc, tx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Store) appendLocked(tc engine.Tenant, tx engine.Transaction) error {
	if tx.IdempotencyKey != "" && m.idempotency[scoped(tc, tx.IdempotencyKey)] {
		return engine.ErrDuplicateIdempotencyKey
	}

	txs := m.transactions[tc.ID]
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].Date.After(tx.Date)
	})
	txs = append(txs, engine.Transaction{})
	copy(txs[i+1:], txs[i:])
	txs[i] = tx
	m.transactions[tc.ID] = txs

	if tx.IdempotencyKey != "" {
		m.idempotency[scoped(tc, tx.IdempotencyKey)] = true
	}
	return nil
}

func (m *Store) Load(_ context.Context, tc engine.Tenant, apartmentID string) ([]engine.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.Transaction
	for _, tx := range m.transactions[tc.ID] {
		if tx.ApartmentID == apartmentID {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (m *Store) LoadBefore(_ context.Context, tc engine.Tenant, apartmentID string, cutoff engine.Date) ([]engine.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.Transaction
	for _, tx := range m.transactions[tc.ID] {
		if tx.ApartmentID == apartmentID && tx.Date.Before(cutoff) {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (m *Store) LoadBuildingRange(_ context.Context, tc engine.Tenant, buildingID string, from, to engine.Date) ([]engine.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.Transaction
	for _, tx := range m.transactions[tc.ID] {
		if tx.BuildingID == buildingID && tx.Date.AfterOrEqual(from) && tx.Date.BeforeOrEqual(to) {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (m *Store) Exists(_ context.Context, tc engine.Tenant, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[scoped(tc, idempotencyKey)], nil
}

// =============================================================================
// BUILDINGS & APARTMENTS
// =============================================================================

func (m *Store) Building(_ context.Context, tc engine.Tenant, id string) (*building.Building, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.buildings[scoped(tc, id)]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return &b, nil
}

func (m *Store) SaveBuilding(_ context.Context, tc engine.Tenant, b building.Building) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buildings[scoped(tc, b.ID)] = b
	return nil
}

func (m *Store) Apartment(_ context.Context, tc engine.Tenant, id string) (*building.Apartment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.apartments[scoped(tc, id)]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return &a, nil
}

func (m *Store) Apartments(_ context.Context, tc engine.Tenant, buildingID string) ([]building.Apartment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []building.Apartment
	for k, a := range m.apartments {
		if a.BuildingID == buildingID && k == scoped(tc, a.ID) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result, nil
}

func (m *Store) SaveApartment(_ context.Context, tc engine.Tenant, a building.Apartment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apartments[scoped(tc, a.ID)] = a
	return nil
}

func (m *Store) UpdateApartmentBalance(_ context.Context, tc engine.Tenant, apartmentID string, balance engine.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.apartments[scoped(tc, apartmentID)]
	if !ok {
		return engine.ErrNotFound
	}
	a.CurrentBalance = balance
	m.apartments[scoped(tc, apartmentID)] = a
	return nil
}

// =============================================================================
// EXPENSES
// =============================================================================

func (m *Store) Expense(_ context.Context, tc engine.Tenant, id string) (*building.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.expenses[scoped(tc, id)]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return &e, nil
}

func (m *Store) ExpensesInMonth(_ context.Context, tc engine.Tenant, buildingID string, mk engine.MonthKey) ([]building.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []building.Expense
	for k, e := range m.expenses {
		if e.BuildingID == buildingID && mk.Contains(e.Date) && k == scoped(tc, e.ID) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (m *Store) AccrualExpense(_ context.Context, tc engine.Tenant, buildingID string, mk engine.MonthKey, category building.ExpenseCategory) (*building.Expense, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for k, e := range m.expenses {
		if e.BuildingID == buildingID && e.Category == category && mk.Contains(e.Date) && k == scoped(tc, e.ID) {
			return &e, nil
		}
	}
	return nil, engine.ErrNotFound
}

func (m *Store) SaveExpense(_ context.Context, tc engine.Tenant, e building.Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expenses[scoped(tc, e.ID)] = e
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (m *Store) PaymentsInMonth(_ context.Context, tc engine.Tenant, buildingID string, mk engine.MonthKey) ([]building.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []building.Payment
	for k, p := range m.payments {
		if p.BuildingID == buildingID && mk.Contains(p.Date) && k == scoped(tc, p.ID) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Store) PaymentsForApartment(_ context.Context, tc engine.Tenant, apartmentID string) ([]building.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []building.Payment
	for k, p := range m.payments {
		if p.ApartmentID == apartmentID && k == scoped(tc, p.ID) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Store) SavePayment(_ context.Context, tc engine.Tenant, p building.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[scoped(tc, p.ID)] = p
	return nil
}

// =============================================================================
// MONTHLY BALANCES
// =============================================================================

func balanceKey(tc engine.Tenant, buildingID string, mk engine.MonthKey) string {
	return scoped(tc, buildingID+"@"+mk.String())
}

func (m *Store) MonthlyBalance(_ context.Context, tc engine.Tenant, buildingID string, mk engine.MonthKey) (*building.MonthlyBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mb, ok := m.balances[balanceKey(tc, buildingID, mk)]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return &mb, nil
}

func (m *Store) MonthlyBalances(_ context.Context, tc engine.Tenant, buildingID string, from, to engine.MonthKey) ([]building.MonthlyBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []building.MonthlyBalance
	for _, mk := range engine.MonthsBetween(from, to) {
		if mb, ok := m.balances[balanceKey(tc, buildingID, mk)]; ok {
			result = append(result, mb)
		}
	}
	return result, nil
}

func (m *Store) SaveMonthlyBalance(_ context.Context, tc engine.Tenant, mb building.MonthlyBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[balanceKey(tc, mb.BuildingID, mb.Key())] = mb
	return nil
}

// =============================================================================
// RECURRING CONFIGS & RUNS
// =============================================================================

func (m *Store) RecurringConfigs(_ context.Context, tc engine.Tenant, buildingID string, kind building.RecurringExpenseKind) ([]building.RecurringExpenseConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []building.RecurringExpenseConfig
	for k, c := range m.configs {
		if c.BuildingID == buildingID && c.Kind == kind && k == scoped(tc, c.ID) {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[j].EffectiveFrom.Before(result[i].EffectiveFrom) })
	return result, nil
}

func (m *Store) SaveRecurringConfig(_ context.Context, tc engine.Tenant, c building.RecurringExpenseConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[scoped(tc, c.ID)] = c
	return nil
}

func (m *Store) SaveRun(_ context.Context, tc engine.Tenant, run building.RecalculationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[scoped(tc, run.ID)] = run
	return nil
}

// =============================================================================
// UNITS OF WORK - Snapshot + restore on error
// =============================================================================

// WithUnit simulates a database transaction: state is snapshotted before
// fn runs and restored when fn fails. Units are serialized; concurrent
// readers during a unit see intermediate state, which is acceptable for
// the test/dev role of this store.
func (m *Store) WithUnit(_ context.Context, fn func(building.Store) error) error {
	m.unitMu.Lock()
	defer m.unitMu.Unlock()

	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	buildings    map[string]building.Building
	apartments   map[string]building.Apartment
	expenses     map[string]building.Expense
	payments     map[string]building.Payment
	balances     map[string]building.MonthlyBalance
	configs      map[string]building.RecurringExpenseConfig
	runs         map[string]building.RecalculationRun
	transactions map[string][]engine.Transaction
	idempotency  map[string]bool
}

func (m *Store) snapshot() snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := snapshot{
		buildings:    make(map[string]building.Building, len(m.buildings)),
		apartments:   make(map[string]building.Apartment, len(m.apartments)),
		expenses:     make(map[string]building.Expense, len(m.expenses)),
		payments:     make(map[string]building.Payment, len(m.payments)),
		balances:     make(map[string]building.MonthlyBalance, len(m.balances)),
		configs:      make(map[string]building.RecurringExpenseConfig, len(m.configs)),
		runs:         make(map[string]building.RecalculationRun, len(m.runs)),
		transactions: make(map[string][]engine.Transaction, len(m.transactions)),
		idempotency:  make(map[string]bool, len(m.idempotency)),
	}
	for k, v := range m.buildings {
		s.buildings[k] = v
	}
	for k, v := range m.apartments {
		s.apartments[k] = v
	}
	for k, v := range m.expenses {
		s.expenses[k] = v
	}
	for k, v := range m.payments {
		s.payments[k] = v
	}
	for k, v := range m.balances {
		s.balances[k] = v
	}
	for k, v := range m.configs {
		s.configs[k] = v
	}
	for k, v := range m.runs {
		s.runs[k] = v
	}
	for k, v := range m.transactions {
		s.transactions[k] = append([]engine.Transaction{}, v...)
	}
	for k, v := range m.idempotency {
		s.idempotency[k] = v
	}
	return s
}

func (m *Store) restore(s snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buildings = s.buildings
	m.apartments = s.apartments
	m.expenses = s.expenses
	m.payments = s.payments
	m.balances = s.balances
	m.configs = s.configs
	m.runs = s.runs
	m.transactions = s.transactions
	m.idempotency = s.idempotency
}
