/*
handlers.go - HTTP API handlers for the common-expense engine

PURPOSE:
  Exposes the expense distribution and monthly balance engine via REST.
  Handles HTTP request/response, JSON serialization, and delegates to
  domain services.

ENDPOINTS:
  Buildings:
    POST   /api/buildings                       Create/update building
    GET    /api/buildings/{id}                  Get building
    GET    /api/buildings/{id}/apartments       List apartments
    POST   /api/buildings/{id}/apartments       Create/update apartment

  Expenses & payments:
    POST   /api/buildings/{id}/expenses         Create expense + post charges
    GET    /api/buildings/{id}/expenses?month=  List a month's expenses
    POST   /api/buildings/{id}/payments         Record payment
    GET    /api/buildings/{id}/payments?month=  List a month's payments

  Apartments:
    GET    /api/apartments/{id}/balance         Reconstructed balance (cached)
    GET    /api/apartments/{id}/transactions    Ledger history

  Monthly engine:
    POST   /api/buildings/{id}/shares/{month}            Per-apartment breakdown
    POST   /api/buildings/{id}/balances/{year}/{month}   Compute or recompute
    POST   /api/buildings/{id}/balances/{year}/{month}/close  Advisory close
    GET    /api/buildings/{id}/balances?from=&to=        List month records
    GET    /api/buildings/{id}/chain/verify?from=&to=    Verify chain
    POST   /api/buildings/{id}/recalculate?from=&to=     Bulk recalculation

  Recurring configs:
    GET    /api/buildings/{id}/configs?kind=    List rate configs
    POST   /api/buildings/{id}/configs          Save rate config

TENANCY:
  Every request resolves a tenant from the X-Tenant-ID header (falls
  back to the default tenant). All store calls carry it explicitly.

ERROR HANDLING:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (idempotency, duplicate)
  - 500: Internal errors
  Warnings are carried in response bodies, never as HTTP failures.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/oikos/expense-engine/building"
	"github.com/oikos/expense-engine/engine"
	"github.com/oikos/expense-engine/logger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    building.UnitStore
	Posting  *building.PostingService
	Monthly  *building.MonthlyService
	Shares   *building.ShareCalculator
	Verifier *building.Verifier
	Recalc   *building.Recalculator
	Recon    *building.Reconstructor
	Ledger   engine.Ledger
	Balances *building.BalanceCache
	Clock    engine.Clock
}

// NewHandler wires the domain services over one store.
func NewHandler(store building.UnitStore, policy building.CarryForwardPolicy, cache *building.BalanceCache, clock engine.Clock) *Handler {
	posting := building.NewPostingService(store)
	posting.Cache = cache
	monthly := building.NewMonthlyService(store, policy)
	monthly.Cache = cache
	return &Handler{
		Store:    store,
		Posting:  posting,
		Monthly:  monthly,
		Shares:   building.NewShareCalculator(store),
		Verifier: building.NewVerifier(store),
		Recalc:   building.NewRecalculator(store, monthly),
		Recon:    building.NewReconstructor(store),
		Ledger:   engine.NewLedger(store),
		Balances: cache,
		Clock:    clock,
	}
}

// tenant resolves the request's tenant from the X-Tenant-ID header.
func tenant(r *http.Request) engine.Tenant {
	if id := r.Header.Get("X-Tenant-ID"); id != "" {
		return engine.Tenant{ID: id, Schema: id}
	}
	return engine.DefaultTenant
}

// =============================================================================
// BUILDINGS & APARTMENTS
// =============================================================================

func (h *Handler) SaveBuilding(w http.ResponseWriter, r *http.Request) {
	var req SaveBuildingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.FinancialSystemStartDate == "" {
		writeError(w, http.StatusBadRequest, "id and financial_system_start_date are required", nil)
		return
	}

	start, err := engine.ParseDate(req.FinancialSystemStartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid financial_system_start_date", err)
		return
	}

	b := building.Building{
		ID:                        req.ID,
		Name:                      req.Name,
		FinancialSystemStartDate:  start,
		ReserveFundDurationMonths: req.ReserveFundDurationMonths,
	}
	if b.ReserveFundGoal, err = parseMoney(req.ReserveFundGoal); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid reserve_fund_goal", err)
		return
	}
	if b.ManagementFeePerApartment, err = parseMoney(req.ManagementFeePerApartment); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid management_fee_per_apartment", err)
		return
	}
	if req.ReserveFundStartDate != "" {
		d, err := engine.ParseDate(req.ReserveFundStartDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid reserve_fund_start_date", err)
			return
		}
		b.ReserveFundStartDate = &d
	}
	if req.ReserveFundTargetDate != "" {
		d, err := engine.ParseDate(req.ReserveFundTargetDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid reserve_fund_target_date", err)
			return
		}
		b.ReserveFundTargetDate = &d
	}

	if err := h.Store.SaveBuilding(r.Context(), tenant(r), b); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save building", err)
		return
	}
	writeJSON(w, http.StatusCreated, buildingDTO(b))
}

func (h *Handler) GetBuilding(w http.ResponseWriter, r *http.Request) {
	b, err := h.Store.Building(r.Context(), tenant(r), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, "Failed to get building", err)
		return
	}
	writeJSON(w, http.StatusOK, buildingDTO(*b))
}

func (h *Handler) ListApartments(w http.ResponseWriter, r *http.Request) {
	tc := tenant(r)
	apartments, err := h.Store.Apartments(r.Context(), tc, chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, "Failed to list apartments", err)
		return
	}

	dtos := make([]ApartmentDTO, len(apartments))
	for i, a := range apartments {
		dtos[i] = apartmentDTO(a)
	}
	warnings := building.CheckMills(chi.URLParam(r, "id"), apartments)
	writeJSON(w, http.StatusOK, map[string]any{
		"apartments": dtos,
		"warnings":   warningDTOs(warnings),
	})
}

func (h *Handler) SaveApartment(w http.ResponseWriter, r *http.Request) {
	tc := tenant(r)
	buildingID := chi.URLParam(r, "id")

	var req SaveApartmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Number <= 0 {
		writeError(w, http.StatusBadRequest, "id and a positive number are required", nil)
		return
	}

	a := building.Apartment{
		ID:                 req.ID,
		BuildingID:         buildingID,
		Number:             req.Number,
		Owner:              req.Owner,
		ParticipationMills: req.ParticipationMills,
		HeatingMills:       req.HeatingMills,
		ElevatorMills:      req.ElevatorMills,
	}
	if err := h.Store.SaveApartment(r.Context(), tc, a); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save apartment", err)
		return
	}

	apartments, err := h.Store.Apartments(r.Context(), tc, buildingID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload apartments", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"apartment": apartmentDTO(a),
		"warnings":  warningDTOs(building.CheckMills(buildingID, apartments)),
	})
}

// =============================================================================
// EXPENSES & PAYMENTS
// =============================================================================

func (h *Handler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	tc := tenant(r)
	buildingID := chi.URLParam(r, "id")

	var req CreateExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	e := building.Expense{
		BuildingID:   buildingID,
		Description:  req.Description,
		Category:     building.ExpenseCategory(req.Category),
		Distribution: building.DistributionType(req.Distribution),
		ApartmentIDs: req.ApartmentIDs,
	}
	var err error
	if e.Amount, err = parseMoney(req.Amount); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	if e.Date, err = engine.ParseDate(req.Date); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	if req.DueDate == "" {
		e.DueDate = e.Date
	} else if e.DueDate, err = engine.ParseDate(req.DueDate); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid due_date", err)
		return
	}

	result, err := h.Posting.ChargeExpense(r.Context(), tc, e)
	if err != nil {
		var verr *engine.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Message, nil)
			return
		}
		writeStoreError(w, "Failed to charge expense", err)
		return
	}

	logger.L.Info("expense charged",
		"building", buildingID, "expense", result.Expense.ID,
		"amount", result.Expense.Amount.String(), "posted", len(result.Posted))

	shares := make([]ShareDTO, 0, len(result.Distribution.Shares))
	for _, s := range result.Distribution.Shares {
		shares = append(shares, ShareDTO{ApartmentID: s.ApartmentID, Amount: s.Amount.String()})
	}
	writeJSON(w, http.StatusCreated, ChargeExpenseResponse{
		Expense:  expenseDTO(result.Expense),
		Shares:   shares,
		Posted:   len(result.Posted),
		Skipped:  result.Skipped,
		Warnings: warningDTOs(result.Warnings),
	})
}

func (h *Handler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	mk, err := engine.ParseMonthKey(r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "month query parameter must be YYYY-MM", err)
		return
	}

	expenses, err := h.Store.ExpensesInMonth(r.Context(), tenant(r), chi.URLParam(r, "id"), mk)
	if err != nil {
		writeStoreError(w, "Failed to list expenses", err)
		return
	}
	dtos := make([]ExpenseDTO, len(expenses))
	for i, e := range expenses {
		dtos[i] = expenseDTO(e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"expenses": dtos})
}

func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	tc := tenant(r)
	buildingID := chi.URLParam(r, "id")

	var req RecordPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p := building.Payment{
		BuildingID:  buildingID,
		ApartmentID: req.ApartmentID,
		Method:      req.Method,
		Kind:        building.PaymentKind(req.Kind),
	}
	var err error
	if p.Amount, err = parseMoney(req.Amount); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	if p.Date, err = engine.ParseDate(req.Date); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}

	saved, err := h.Posting.RecordPayment(r.Context(), tc, p)
	if err != nil {
		var verr *engine.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Message, nil)
			return
		}
		if errors.Is(err, engine.ErrDuplicateIdempotencyKey) {
			writeError(w, http.StatusConflict, "Payment already recorded", err)
			return
		}
		writeStoreError(w, "Failed to record payment", err)
		return
	}

	logger.L.Info("payment recorded",
		"building", buildingID, "apartment", saved.ApartmentID,
		"amount", saved.Amount.String())
	writeJSON(w, http.StatusCreated, paymentDTO(*saved))
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	mk, err := engine.ParseMonthKey(r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "month query parameter must be YYYY-MM", err)
		return
	}

	payments, err := h.Store.PaymentsInMonth(r.Context(), tenant(r), chi.URLParam(r, "id"), mk)
	if err != nil {
		writeStoreError(w, "Failed to list payments", err)
		return
	}
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = paymentDTO(p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"payments": dtos})
}

// =============================================================================
// APARTMENT READS
// =============================================================================

func (h *Handler) GetApartmentBalance(w http.ResponseWriter, r *http.Request) {
	tc := tenant(r)
	apartmentID := chi.URLParam(r, "id")

	balance, err := h.Balances.Balance(r.Context(), tc, apartmentID)
	if err != nil {
		writeStoreError(w, "Failed to compute balance", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"apartment_id": apartmentID,
		"balance":      balance.String(),
	})
}

func (h *Handler) GetApartmentTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Ledger.ForApartment(r.Context(), tenant(r), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, "Failed to load transactions", err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = TransactionDTO{
			ID:          string(tx.ID),
			ApartmentID: tx.ApartmentID,
			Amount:      tx.Amount.String(),
			Type:        string(tx.Type),
			Date:        tx.Date.String(),
			ExpenseID:   tx.ExpenseID,
			PaymentID:   tx.PaymentID,
			Description: tx.Description,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": dtos})
}

// =============================================================================
// MONTHLY ENGINE
// =============================================================================

func (h *Handler) CalculateShares(w http.ResponseWriter, r *http.Request) {
	mk, err := engine.ParseMonthKey(chi.URLParam(r, "month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "month must be YYYY-MM", err)
		return
	}

	buildingID := chi.URLParam(r, "id")
	shares, warnings, err := h.Shares.CalculateShares(r.Context(), tenant(r), buildingID, mk)
	if err != nil {
		writeStoreError(w, "Failed to calculate shares", err)
		return
	}

	dtos := make([]ShareBreakdownDTO, len(shares))
	for i, sb := range shares {
		dtos[i] = shareBreakdownDTO(sb)
	}
	writeJSON(w, http.StatusOK, SharesResponse{
		BuildingID: buildingID,
		Month:      mk.String(),
		Shares:     dtos,
		Warnings:   warningDTOs(warnings),
	})
}

func (h *Handler) ComputeMonthlyBalance(w http.ResponseWriter, r *http.Request) {
	mk, err := monthParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year/month", err)
		return
	}

	var req ComputeBalanceRequest
	if r.Body != http.NoBody {
		// Empty or absent body means first-time computation.
		json.NewDecoder(r.Body).Decode(&req)
	}

	buildingID := chi.URLParam(r, "id")
	result, err := h.Monthly.CreateOrUpdate(r.Context(), tenant(r), buildingID, mk, req.Recalculate)
	if err != nil {
		var verr *engine.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Message, nil)
			return
		}
		writeStoreError(w, "Failed to compute monthly balance", err)
		return
	}

	logger.L.Info("monthly balance computed",
		"building", buildingID, "month", mk.String(),
		"carry_forward", result.Balance.CarryForward.String())
	writeJSON(w, http.StatusOK, MonthlyBalanceResponse{
		Balance:  monthlyBalanceDTO(result.Balance),
		Warnings: warningDTOs(result.Warnings),
	})
}

func (h *Handler) CloseMonth(w http.ResponseWriter, r *http.Request) {
	mk, err := monthParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year/month", err)
		return
	}

	if err := h.Monthly.Close(r.Context(), tenant(r), chi.URLParam(r, "id"), mk); err != nil {
		writeStoreError(w, "Failed to close month", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"month": mk.String(), "closed": true})
}

func (h *Handler) ListMonthlyBalances(w http.ResponseWriter, r *http.Request) {
	from, to, err := monthRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "from and to must be YYYY-MM", err)
		return
	}

	balances, err := h.Store.MonthlyBalances(r.Context(), tenant(r), chi.URLParam(r, "id"), from, to)
	if err != nil {
		writeStoreError(w, "Failed to list monthly balances", err)
		return
	}
	dtos := make([]MonthlyBalanceDTO, len(balances))
	for i, mb := range balances {
		dtos[i] = monthlyBalanceDTO(mb)
	}
	writeJSON(w, http.StatusOK, map[string]any{"balances": dtos})
}

func (h *Handler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	from, to, err := monthRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "from and to must be YYYY-MM", err)
		return
	}

	report, err := h.Verifier.Verify(r.Context(), tenant(r), chi.URLParam(r, "id"), from, to)
	if err != nil {
		writeStoreError(w, "Failed to verify chain", err)
		return
	}
	writeJSON(w, http.StatusOK, verificationReportDTO(*report))
}

func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	from, to, err := monthRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "from and to must be YYYY-MM", err)
		return
	}
	dryRun := r.URL.Query().Get("dry_run") == "true"

	buildingID := chi.URLParam(r, "id")
	run, warnings, err := h.Recalc.RecalculateAll(r.Context(), tenant(r), buildingID, from, to, dryRun)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidRange) {
			writeError(w, http.StatusBadRequest, "Invalid month range", err)
			return
		}
		if run != nil {
			// The run record carries the failure detail.
			writeJSON(w, http.StatusInternalServerError, recalculationRunDTO(*run, warnings))
			return
		}
		writeStoreError(w, "Recalculation failed", err)
		return
	}

	logger.L.Info("recalculation completed",
		"building", buildingID, "from", from.String(), "to", to.String(),
		"months", run.MonthsDone, "dry_run", dryRun)
	writeJSON(w, http.StatusOK, recalculationRunDTO(*run, warnings))
}

// =============================================================================
// RECURRING CONFIGS
// =============================================================================

func (h *Handler) ListRecurringConfigs(w http.ResponseWriter, r *http.Request) {
	kind := building.RecurringExpenseKind(r.URL.Query().Get("kind"))
	if kind != building.RecurringManagementFee && kind != building.RecurringReserveFund {
		writeError(w, http.StatusBadRequest, "kind must be management_fee or reserve_fund", nil)
		return
	}

	configs, err := h.Store.RecurringConfigs(r.Context(), tenant(r), chi.URLParam(r, "id"), kind)
	if err != nil {
		writeStoreError(w, "Failed to list configs", err)
		return
	}
	dtos := make([]RecurringConfigDTO, len(configs))
	for i, c := range configs {
		dtos[i] = recurringConfigDTO(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{"configs": dtos})
}

func (h *Handler) SaveRecurringConfig(w http.ResponseWriter, r *http.Request) {
	var req SaveRecurringConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	kind := building.RecurringExpenseKind(req.Kind)
	if kind != building.RecurringManagementFee && kind != building.RecurringReserveFund {
		writeError(w, http.StatusBadRequest, "kind must be management_fee or reserve_fund", nil)
		return
	}

	cfg := building.RecurringExpenseConfig{
		ID:           fmt.Sprintf("%s:%s:%s", chi.URLParam(r, "id"), kind, req.EffectiveFrom),
		BuildingID:   chi.URLParam(r, "id"),
		Kind:         kind,
		Distribution: building.DistributionType(req.Distribution),
	}
	var err error
	if cfg.Amount, err = parseMoney(req.Amount); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	if cfg.EffectiveFrom, err = engine.ParseMonthKey(req.EffectiveFrom); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid effective_from", err)
		return
	}
	if req.EffectiveTo != "" {
		mk, err := engine.ParseMonthKey(req.EffectiveTo)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid effective_to", err)
			return
		}
		cfg.EffectiveTo = &mk
	}

	if err := h.Store.SaveRecurringConfig(r.Context(), tenant(r), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save config", err)
		return
	}
	writeJSON(w, http.StatusCreated, recurringConfigDTO(cfg))
}

// =============================================================================
// HELPERS
// =============================================================================

func monthParam(r *http.Request) (engine.MonthKey, error) {
	return engine.ParseMonthKey(fmt.Sprintf("%s-%s",
		chi.URLParam(r, "year"), chi.URLParam(r, "month")))
}

func monthRange(r *http.Request) (from, to engine.MonthKey, err error) {
	if from, err = engine.ParseMonthKey(r.URL.Query().Get("from")); err != nil {
		return
	}
	to, err = engine.ParseMonthKey(r.URL.Query().Get("to"))
	return
}

func parseMoney(s string) (engine.Money, error) {
	if s == "" {
		return engine.ZeroMoney(), nil
	}
	return engine.ParseMoney(s)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeStoreError(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, engine.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Not found", err)
		return
	}
	writeError(w, http.StatusInternalServerError, message, err)
}
