/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract. Money fields
  are serialized as fixed two-decimal strings; months as "YYYY-MM";
  dates as "YYYY-MM-DD".

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

WARNINGS:
  Every mutating response carries a warnings array. Warnings are
  advisory data-quality signals (mills sums, missing configs, closed
  months); they never change HTTP status.

SEE ALSO:
  - handlers.go: Uses these types
  - server.go: Route wiring
*/
package api

import (
	"github.com/oikos/expense-engine/building"
	"github.com/oikos/expense-engine/engine"
)

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// WarningDTO mirrors engine.Warning.
type WarningDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func warningDTOs(warnings []engine.Warning) []WarningDTO {
	dtos := make([]WarningDTO, 0, len(warnings))
	for _, w := range warnings {
		dtos = append(dtos, WarningDTO{Code: w.Code, Message: w.Message})
	}
	return dtos
}

// =============================================================================
// BUILDINGS & APARTMENTS
// =============================================================================

type BuildingDTO struct {
	ID                        string `json:"id"`
	Name                      string `json:"name"`
	FinancialSystemStartDate  string `json:"financial_system_start_date"`
	ReserveFundGoal           string `json:"reserve_fund_goal"`
	ReserveFundStartDate      string `json:"reserve_fund_start_date,omitempty"`
	ReserveFundTargetDate     string `json:"reserve_fund_target_date,omitempty"`
	ReserveFundDurationMonths int    `json:"reserve_fund_duration_months"`
	ManagementFeePerApartment string `json:"management_fee_per_apartment"`
}

type SaveBuildingRequest struct {
	ID                        string `json:"id"`
	Name                      string `json:"name"`
	FinancialSystemStartDate  string `json:"financial_system_start_date"`
	ReserveFundGoal           string `json:"reserve_fund_goal"`
	ReserveFundStartDate      string `json:"reserve_fund_start_date"`
	ReserveFundTargetDate     string `json:"reserve_fund_target_date"`
	ReserveFundDurationMonths int    `json:"reserve_fund_duration_months"`
	ManagementFeePerApartment string `json:"management_fee_per_apartment"`
}

type ApartmentDTO struct {
	ID                 string `json:"id"`
	BuildingID         string `json:"building_id"`
	Number             int    `json:"number"`
	Owner              string `json:"owner"`
	ParticipationMills int64  `json:"participation_mills"`
	HeatingMills       int64  `json:"heating_mills"`
	ElevatorMills      int64  `json:"elevator_mills"`
	CurrentBalance     string `json:"current_balance"`
}

type SaveApartmentRequest struct {
	ID                 string `json:"id"`
	Number             int    `json:"number"`
	Owner              string `json:"owner"`
	ParticipationMills int64  `json:"participation_mills"`
	HeatingMills       int64  `json:"heating_mills"`
	ElevatorMills      int64  `json:"elevator_mills"`
}

// =============================================================================
// EXPENSES & PAYMENTS
// =============================================================================

type ExpenseDTO struct {
	ID           string   `json:"id"`
	BuildingID   string   `json:"building_id"`
	Description  string   `json:"description"`
	Amount       string   `json:"amount"`
	Date         string   `json:"date"`
	DueDate      string   `json:"due_date"`
	Category     string   `json:"category"`
	Distribution string   `json:"distribution"`
	ApartmentIDs []string `json:"apartment_ids,omitempty"`
	IsIssued     bool     `json:"is_issued"`
}

type CreateExpenseRequest struct {
	Description  string   `json:"description"`
	Amount       string   `json:"amount"`
	Date         string   `json:"date"`
	DueDate      string   `json:"due_date"`
	Category     string   `json:"category"`
	Distribution string   `json:"distribution"`
	ApartmentIDs []string `json:"apartment_ids"`
}

type ShareDTO struct {
	ApartmentID string `json:"apartment_id"`
	Amount      string `json:"amount"`
}

type ChargeExpenseResponse struct {
	Expense  ExpenseDTO   `json:"expense"`
	Shares   []ShareDTO   `json:"shares"`
	Posted   int          `json:"posted"`
	Skipped  int          `json:"skipped"`
	Warnings []WarningDTO `json:"warnings"`
}

type PaymentDTO struct {
	ID            string `json:"id"`
	BuildingID    string `json:"building_id"`
	ApartmentID   string `json:"apartment_id"`
	Amount        string `json:"amount"`
	Date          string `json:"date"`
	Method        string `json:"method,omitempty"`
	Kind          string `json:"kind"`
	TransactionID string `json:"transaction_id"`
}

type RecordPaymentRequest struct {
	ApartmentID string `json:"apartment_id"`
	Amount      string `json:"amount"`
	Date        string `json:"date"`
	Method      string `json:"method"`
	Kind        string `json:"kind"`
}

type TransactionDTO struct {
	ID          string `json:"id"`
	ApartmentID string `json:"apartment_id"`
	Amount      string `json:"amount"`
	Type        string `json:"type"`
	Date        string `json:"date"`
	ExpenseID   string `json:"expense_id,omitempty"`
	PaymentID   string `json:"payment_id,omitempty"`
	Description string `json:"description,omitempty"`
}

// =============================================================================
// SHARES, MONTHLY BALANCES, CHAIN
// =============================================================================

type ExpenseShareDTO struct {
	ExpenseID   string `json:"expense_id"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Amount      string `json:"amount"`
}

type ShareBreakdownDTO struct {
	ApartmentID     string            `json:"apartment_id"`
	Number          int               `json:"number"`
	Lines           []ExpenseShareDTO `json:"lines"`
	PreviousBalance string            `json:"previous_balance"`
	MonthTotal      string            `json:"month_total"`
	TotalDue        string            `json:"total_due"`
}

type SharesResponse struct {
	BuildingID string              `json:"building_id"`
	Month      string              `json:"month"`
	Shares     []ShareBreakdownDTO `json:"shares"`
	Warnings   []WarningDTO        `json:"warnings"`
}

type MonthlyBalanceDTO struct {
	ID                  string `json:"id"`
	BuildingID          string `json:"building_id"`
	Month               string `json:"month"`
	TotalExpenses       string `json:"total_expenses"`
	TotalPayments       string `json:"total_payments"`
	PreviousObligations string `json:"previous_obligations"`
	ManagementFees      string `json:"management_fees"`
	ReserveFundAmount   string `json:"reserve_fund_amount"`
	TotalObligations    string `json:"total_obligations"`
	NetResult           string `json:"net_result"`
	CarryForward        string `json:"carry_forward"`
	Closed              bool   `json:"closed"`
	ComputedAt          string `json:"computed_at"`
}

type MonthlyBalanceResponse struct {
	Balance  MonthlyBalanceDTO `json:"balance"`
	Warnings []WarningDTO      `json:"warnings"`
}

type ComputeBalanceRequest struct {
	Recalculate bool `json:"recalculate"`
}

type IssueDTO struct {
	Month    string `json:"month"`
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

type VerificationReportDTO struct {
	BuildingID string     `json:"building_id"`
	From       string     `json:"from"`
	To         string     `json:"to"`
	Status     string     `json:"status"`
	Issues     []IssueDTO `json:"issues"`
}

type RecalculationRunDTO struct {
	ID          string       `json:"id"`
	BuildingID  string       `json:"building_id"`
	From        string       `json:"from"`
	To          string       `json:"to"`
	Status      string       `json:"status"`
	MonthsDone  int          `json:"months_done"`
	DryRun      bool         `json:"dry_run"`
	Error       string       `json:"error,omitempty"`
	StartedAt   string       `json:"started_at"`
	CompletedAt string       `json:"completed_at,omitempty"`
	Warnings    []WarningDTO `json:"warnings"`
}

// =============================================================================
// RECURRING CONFIGS
// =============================================================================

type RecurringConfigDTO struct {
	ID            string `json:"id"`
	BuildingID    string `json:"building_id"`
	Kind          string `json:"kind"`
	Amount        string `json:"amount"`
	EffectiveFrom string `json:"effective_from"`
	EffectiveTo   string `json:"effective_to,omitempty"`
	Distribution  string `json:"distribution"`
}

type SaveRecurringConfigRequest struct {
	Kind          string `json:"kind"`
	Amount        string `json:"amount"`
	EffectiveFrom string `json:"effective_from"`
	EffectiveTo   string `json:"effective_to"`
	Distribution  string `json:"distribution"`
}

// =============================================================================
// DOMAIN -> DTO CONVERSIONS
// =============================================================================

func buildingDTO(b building.Building) BuildingDTO {
	dto := BuildingDTO{
		ID:                        b.ID,
		Name:                      b.Name,
		FinancialSystemStartDate:  b.FinancialSystemStartDate.String(),
		ReserveFundGoal:           b.ReserveFundGoal.String(),
		ReserveFundDurationMonths: b.ReserveFundDurationMonths,
		ManagementFeePerApartment: b.ManagementFeePerApartment.String(),
	}
	if b.ReserveFundStartDate != nil {
		dto.ReserveFundStartDate = b.ReserveFundStartDate.String()
	}
	if b.ReserveFundTargetDate != nil {
		dto.ReserveFundTargetDate = b.ReserveFundTargetDate.String()
	}
	return dto
}

func apartmentDTO(a building.Apartment) ApartmentDTO {
	return ApartmentDTO{
		ID:                 a.ID,
		BuildingID:         a.BuildingID,
		Number:             a.Number,
		Owner:              a.Owner,
		ParticipationMills: a.ParticipationMills,
		HeatingMills:       a.HeatingMills,
		ElevatorMills:      a.ElevatorMills,
		CurrentBalance:     a.CurrentBalance.String(),
	}
}

func expenseDTO(e building.Expense) ExpenseDTO {
	return ExpenseDTO{
		ID:           e.ID,
		BuildingID:   e.BuildingID,
		Description:  e.Description,
		Amount:       e.Amount.String(),
		Date:         e.Date.String(),
		DueDate:      e.DueDate.String(),
		Category:     string(e.Category),
		Distribution: string(e.Distribution),
		ApartmentIDs: e.ApartmentIDs,
		IsIssued:     e.IsIssued,
	}
}

func paymentDTO(p building.Payment) PaymentDTO {
	return PaymentDTO{
		ID:            p.ID,
		BuildingID:    p.BuildingID,
		ApartmentID:   p.ApartmentID,
		Amount:        p.Amount.String(),
		Date:          p.Date.String(),
		Method:        p.Method,
		Kind:          string(p.Kind),
		TransactionID: string(p.TransactionID),
	}
}

func monthlyBalanceDTO(mb building.MonthlyBalance) MonthlyBalanceDTO {
	return MonthlyBalanceDTO{
		ID:                  mb.ID,
		BuildingID:          mb.BuildingID,
		Month:               mb.Key().String(),
		TotalExpenses:       mb.TotalExpenses.String(),
		TotalPayments:       mb.TotalPayments.String(),
		PreviousObligations: mb.PreviousObligations.String(),
		ManagementFees:      mb.ManagementFees.String(),
		ReserveFundAmount:   mb.ReserveFundAmount.String(),
		TotalObligations:    mb.TotalObligations.String(),
		NetResult:           mb.NetResult.String(),
		CarryForward:        mb.CarryForward.String(),
		Closed:              mb.Closed,
		ComputedAt:          mb.ComputedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

func shareBreakdownDTO(sb building.ShareBreakdown) ShareBreakdownDTO {
	lines := make([]ExpenseShareDTO, 0, len(sb.Lines))
	for _, l := range sb.Lines {
		lines = append(lines, ExpenseShareDTO{
			ExpenseID:   l.ExpenseID,
			Description: l.Description,
			Category:    string(l.Category),
			Amount:      l.Amount.String(),
		})
	}
	return ShareBreakdownDTO{
		ApartmentID:     sb.ApartmentID,
		Number:          sb.Number,
		Lines:           lines,
		PreviousBalance: sb.PreviousBalance.String(),
		MonthTotal:      sb.MonthTotal.String(),
		TotalDue:        sb.TotalDue.String(),
	}
}

func verificationReportDTO(r building.VerificationReport) VerificationReportDTO {
	issues := make([]IssueDTO, 0, len(r.Issues))
	for _, issue := range r.Issues {
		dto := IssueDTO{
			Month:    issue.Month.String(),
			Severity: string(issue.Severity),
			Code:     issue.Code,
			Message:  issue.Message,
		}
		if issue.Code == "carry_forward_mismatch" {
			dto.Expected = issue.Expected.String()
			dto.Actual = issue.Actual.String()
		}
		issues = append(issues, dto)
	}
	return VerificationReportDTO{
		BuildingID: r.BuildingID,
		From:       r.From.String(),
		To:         r.To.String(),
		Status:     string(r.Status),
		Issues:     issues,
	}
}

func recalculationRunDTO(run building.RecalculationRun, warnings []engine.Warning) RecalculationRunDTO {
	dto := RecalculationRunDTO{
		ID:         run.ID,
		BuildingID: run.BuildingID,
		From:       run.From.String(),
		To:         run.To.String(),
		Status:     string(run.Status),
		MonthsDone: run.MonthsDone,
		DryRun:     run.DryRun,
		Error:      run.Error,
		StartedAt:  run.StartedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		Warnings:   warningDTOs(warnings),
	}
	if run.CompletedAt != nil {
		dto.CompletedAt = run.CompletedAt.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	return dto
}

func recurringConfigDTO(c building.RecurringExpenseConfig) RecurringConfigDTO {
	dto := RecurringConfigDTO{
		ID:            c.ID,
		BuildingID:    c.BuildingID,
		Kind:          string(c.Kind),
		Amount:        c.Amount.String(),
		EffectiveFrom: c.EffectiveFrom.String(),
		Distribution:  string(c.Distribution),
	}
	if c.EffectiveTo != nil {
		dto.EffectiveTo = c.EffectiveTo.String()
	}
	return dto
}
