/*
handlers_test.go - End-to-end tests for the HTTP API

Tests drive real requests through the router against an in-memory
SQLite store:
- Building and apartment setup
- Expense charging and payment recording over HTTP
- Monthly balance computation and chain verification
- Tenant isolation via the X-Tenant-ID header
*/
package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oikos/expense-engine/building"
	"github.com/oikos/expense-engine/engine"
	"github.com/oikos/expense-engine/store/sqlite"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	clock := engine.FixedClock{Day: engine.NewDate(2024, 6, 15)}
	cache := building.NewBalanceCache(building.NewReconstructor(store), clock, time.Minute)
	h := NewHandler(store, building.ClampZero, cache, clock)
	return NewRouter(h)
}

func do(t *testing.T, router http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return out
}

// setupBuilding creates a plain building with three apartments (no accruals).
func setupBuilding(t *testing.T, router http.Handler) {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/buildings", SaveBuildingRequest{
		ID:                       "bld-1",
		Name:                     "Odos Ermou 12",
		FinancialSystemStartDate: "2024-01-01",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Failed to create building: %d %s", rec.Code, rec.Body.String())
	}

	apartments := []SaveApartmentRequest{
		{ID: "apt-1", Number: 1, Owner: "Papadopoulos", ParticipationMills: 500, HeatingMills: 500, ElevatorMills: 500},
		{ID: "apt-2", Number: 2, Owner: "Georgiou", ParticipationMills: 300, HeatingMills: 300, ElevatorMills: 300},
		{ID: "apt-3", Number: 3, Owner: "Nikolaou", ParticipationMills: 200, HeatingMills: 200, ElevatorMills: 200},
	}
	for _, a := range apartments {
		rec := do(t, router, http.MethodPost, "/api/buildings/bld-1/apartments", a, nil)
		if rec.Code != http.StatusCreated {
			t.Fatalf("Failed to create apartment %s: %d %s", a.ID, rec.Code, rec.Body.String())
		}
	}
}

func TestCreateExpense_ChargesAllApartments(t *testing.T) {
	// GIVEN: A building with three apartments at 500/300/200 mills
	router := newTestRouter(t)
	setupBuilding(t, router)

	// WHEN: Charging a 1000.00 expense by participation mills
	rec := do(t, router, http.MethodPost, "/api/buildings/bld-1/expenses", CreateExpenseRequest{
		Description:  "Cleaning",
		Amount:       "1000.00",
		Date:         "2024-01-10",
		Category:     "general",
		Distribution: "by_participation_mills",
	}, nil)

	// THEN: 201 with 3 posted charges split 500/300/200
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[ChargeExpenseResponse](t, rec)
	if resp.Posted != 3 {
		t.Errorf("Expected 3 posted transactions, got %d", resp.Posted)
	}
	wantShares := map[string]string{"apt-1": "500.00", "apt-2": "300.00", "apt-3": "200.00"}
	for _, s := range resp.Shares {
		if want := wantShares[s.ApartmentID]; s.Amount != want {
			t.Errorf("Share for %s: expected %s, got %s", s.ApartmentID, want, s.Amount)
		}
	}

	// And the apartment balance reflects the charge
	rec = do(t, router, http.MethodGet, "/api/apartments/apt-1/balance", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	balance := decode[map[string]string](t, rec)
	if balance["balance"] != "-500.00" {
		t.Errorf("Expected balance -500.00, got %s", balance["balance"])
	}
}

func TestCreateExpense_ZeroAmountRejected(t *testing.T) {
	// GIVEN: A configured building
	router := newTestRouter(t)
	setupBuilding(t, router)

	// WHEN: Posting a zero-amount expense
	rec := do(t, router, http.MethodPost, "/api/buildings/bld-1/expenses", CreateExpenseRequest{
		Description:  "Nothing",
		Amount:       "0",
		Date:         "2024-01-10",
		Category:     "general",
		Distribution: "equal_share",
	}, nil)

	// THEN: 400 with a validation message
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRecordPayment_AndBalanceAfter(t *testing.T) {
	// GIVEN: An apartment charged 500.00
	router := newTestRouter(t)
	setupBuilding(t, router)
	do(t, router, http.MethodPost, "/api/buildings/bld-1/expenses", CreateExpenseRequest{
		Description:  "Cleaning",
		Amount:       "1000.00",
		Date:         "2024-01-10",
		Category:     "general",
		Distribution: "by_participation_mills",
	}, nil)

	// WHEN: Recording a 200.00 payment for apt-1
	rec := do(t, router, http.MethodPost, "/api/buildings/bld-1/payments", RecordPaymentRequest{
		ApartmentID: "apt-1",
		Amount:      "200.00",
		Date:        "2024-01-20",
		Method:      "cash",
		Kind:        "common_expenses",
	}, nil)

	// THEN: 201 and the payment is linked to a ledger transaction
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	payment := decode[PaymentDTO](t, rec)
	if payment.TransactionID == "" {
		t.Error("Payment should carry the posted transaction ID")
	}

	// And the balance moves from -500.00 to -300.00
	rec = do(t, router, http.MethodGet, "/api/apartments/apt-1/balance", nil, nil)
	balance := decode[map[string]string](t, rec)
	if balance["balance"] != "-300.00" {
		t.Errorf("Expected balance -300.00, got %s", balance["balance"])
	}

	// And the ledger history shows charge + payment
	rec = do(t, router, http.MethodGet, "/api/apartments/apt-1/transactions", nil, nil)
	history := decode[map[string][]TransactionDTO](t, rec)
	if len(history["transactions"]) != 2 {
		t.Errorf("Expected 2 transactions, got %d", len(history["transactions"]))
	}
}

func TestRecordPayment_NegativeAmountRejected(t *testing.T) {
	router := newTestRouter(t)
	setupBuilding(t, router)

	rec := do(t, router, http.MethodPost, "/api/buildings/bld-1/payments", RecordPaymentRequest{
		ApartmentID: "apt-1",
		Amount:      "-50.00",
		Date:        "2024-01-20",
		Kind:        "common_expenses",
	}, nil)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetBuilding_NotFound(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/api/buildings/no-such", nil, nil)

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestComputeMonthlyBalance_CarriesForward(t *testing.T) {
	// GIVEN: January with 300.00 expenses and a 100.00 payment
	router := newTestRouter(t)
	setupBuilding(t, router)
	do(t, router, http.MethodPost, "/api/buildings/bld-1/expenses", CreateExpenseRequest{
		Description:  "Electricity",
		Amount:       "300.00",
		Date:         "2024-01-10",
		Category:     "general",
		Distribution: "equal_share",
	}, nil)
	do(t, router, http.MethodPost, "/api/buildings/bld-1/payments", RecordPaymentRequest{
		ApartmentID: "apt-1",
		Amount:      "100.00",
		Date:        "2024-01-15",
		Kind:        "common_expenses",
	}, nil)

	// WHEN: Computing January's balance
	rec := do(t, router, http.MethodPost, "/api/buildings/bld-1/balances/2024/01", nil, nil)

	// THEN: Carry forward is expenses minus payments
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[MonthlyBalanceResponse](t, rec)
	if resp.Balance.TotalExpenses != "300.00" {
		t.Errorf("Expected total expenses 300.00, got %s", resp.Balance.TotalExpenses)
	}
	if resp.Balance.CarryForward != "200.00" {
		t.Errorf("Expected carry forward 200.00, got %s", resp.Balance.CarryForward)
	}

	// And February starts from January's carry
	rec = do(t, router, http.MethodPost, "/api/buildings/bld-1/balances/2024/02", nil, nil)
	resp = decode[MonthlyBalanceResponse](t, rec)
	if resp.Balance.PreviousObligations != "200.00" {
		t.Errorf("Expected previous obligations 200.00, got %s", resp.Balance.PreviousObligations)
	}
}

func TestVerifyChain_MissingMonthIsWarning(t *testing.T) {
	// GIVEN: Computed balances for January and March but not February
	router := newTestRouter(t)
	setupBuilding(t, router)
	do(t, router, http.MethodPost, "/api/buildings/bld-1/balances/2024/01", nil, nil)
	do(t, router, http.MethodPost, "/api/buildings/bld-1/balances/2024/03", nil, nil)

	// WHEN: Verifying January through March
	rec := do(t, router, http.MethodGet, "/api/buildings/bld-1/chain/verify?from=2024-01&to=2024-03", nil, nil)

	// THEN: Status is warning with a missing-month issue for February
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	report := decode[VerificationReportDTO](t, rec)
	if report.Status != "warning" {
		t.Errorf("Expected status warning, got %s", report.Status)
	}
	found := false
	for _, issue := range report.Issues {
		if issue.Code == "missing_monthly_balance" && issue.Month == "2024-02" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected missing_monthly_balance for 2024-02, got %+v", report.Issues)
	}
}

func TestVerifyChain_BadRangeRejected(t *testing.T) {
	router := newTestRouter(t)
	setupBuilding(t, router)

	rec := do(t, router, http.MethodGet, "/api/buildings/bld-1/chain/verify?from=2024-01", nil, nil)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestTenantHeader_IsolatesData(t *testing.T) {
	// GIVEN: A building created under tenant "acme"
	router := newTestRouter(t)
	acme := map[string]string{"X-Tenant-ID": "acme"}
	rec := do(t, router, http.MethodPost, "/api/buildings", SaveBuildingRequest{
		ID:                       "bld-1",
		Name:                     "Acme Tower",
		FinancialSystemStartDate: "2024-01-01",
	}, acme)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Failed to create building: %d %s", rec.Code, rec.Body.String())
	}

	// WHEN/THEN: The default tenant cannot see it
	rec = do(t, router, http.MethodGet, "/api/buildings/bld-1", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for default tenant, got %d", rec.Code)
	}

	// But tenant "acme" can
	rec = do(t, router, http.MethodGet, "/api/buildings/bld-1", nil, acme)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 for acme tenant, got %d", rec.Code)
	}
}

func TestSaveRecurringConfig_RoundTrip(t *testing.T) {
	// GIVEN: A configured building
	router := newTestRouter(t)
	setupBuilding(t, router)

	// WHEN: Saving a management-fee rate effective from 2024-03
	rec := do(t, router, http.MethodPost, "/api/buildings/bld-1/configs", SaveRecurringConfigRequest{
		Kind:          "management_fee",
		Amount:        "12.00",
		EffectiveFrom: "2024-03",
		Distribution:  "equal_share",
	}, nil)

	// THEN: 201 and the config lists back
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(t, router, http.MethodGet, "/api/buildings/bld-1/configs?kind=management_fee", nil, nil)
	configs := decode[map[string][]RecurringConfigDTO](t, rec)
	if len(configs["configs"]) != 1 {
		t.Fatalf("Expected 1 config, got %d", len(configs["configs"]))
	}
	if got := configs["configs"][0].Amount; got != "12.00" {
		t.Errorf("Expected amount 12.00, got %s", got)
	}
}
