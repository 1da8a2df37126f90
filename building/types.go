/*
Package building implements the common-expense engine for apartment buildings.

It layers the domain on top of the engine package's ledger primitives:
expense distribution across apartments, the monthly reserve-fund and
management-fee accruals, historical balance reconstruction by ledger
replay, the month-to-month carry-forward chain, and its verification
and repair operations.
*/
package building

import (
	"time"

	"github.com/oikos/expense-engine/engine"
)

// =============================================================================
// BUILDING & APARTMENT
// =============================================================================

// Building is the tenancy unit for common expenses. Participation mills
// across its active apartments must sum to MillsBaseline.
type Building struct {
	ID   string
	Name string

	// FinancialSystemStartDate is the first date the ledger is
	// authoritative. Balances before this date are zero by policy,
	// never estimated.
	FinancialSystemStartDate engine.Date

	// Reserve fund collection settings.
	ReserveFundGoal           engine.Money
	ReserveFundStartDate      *engine.Date
	ReserveFundTargetDate     *engine.Date // nil = open-ended
	ReserveFundDurationMonths int

	// Live management fee setting; historical months use the
	// RecurringExpenseConfig that was effective at that time.
	ManagementFeePerApartment engine.Money
}

// MillsBaseline is the total participation weight a building's active
// apartments must sum to.
const MillsBaseline int64 = 1000

type Apartment struct {
	ID         string
	BuildingID string

	// Number orders apartments; the rounding remainder in every
	// distribution goes to the lowest-numbered apartment.
	Number int

	Owner string

	// Weighting sets for different expense categories.
	ParticipationMills int64
	HeatingMills       int64
	ElevatorMills      int64

	// CurrentBalance is a derived, non-authoritative snapshot. It is
	// refreshed from the ledger and never used as a calculation input.
	CurrentBalance engine.Money
}

// =============================================================================
// EXPENSE
// =============================================================================

type ExpenseCategory string

const (
	CategoryGeneral           ExpenseCategory = "general"
	CategoryHeating           ExpenseCategory = "heating"
	CategoryElevator          ExpenseCategory = "elevator"
	CategoryElectricityCommon ExpenseCategory = "electricity_common"
	CategoryWater             ExpenseCategory = "water"
	CategoryCleaning          ExpenseCategory = "cleaning"
	CategoryMaintenance       ExpenseCategory = "maintenance"
	CategoryManagementFees    ExpenseCategory = "management_fees"
	CategoryReserveFund       ExpenseCategory = "reserve_fund"
)

// IsAccrual reports whether the category is a synthetic periodic accrual
// rather than an externally-invoiced cost.
func (c ExpenseCategory) IsAccrual() bool {
	return c == CategoryManagementFees || c == CategoryReserveFund
}

// DistributionType is a closed set of strategies. Selection is by
// exhaustive switch, never by string lookup against open input.
type DistributionType string

const (
	ByParticipationMills DistributionType = "by_participation_mills"
	EqualShare           DistributionType = "equal_share"
	ByMeters             DistributionType = "by_meters"
	SpecificApartments   DistributionType = "specific_apartments"
)

type Expense struct {
	ID          string
	BuildingID  string
	Description string
	Amount      engine.Money
	Date        engine.Date
	DueDate     engine.Date
	Category    ExpenseCategory
	Distribution DistributionType

	// ApartmentIDs is the explicit subset for SpecificApartments.
	ApartmentIDs []string

	// IsIssued marks the expense as included in an issued notice.
	// The only mutable flag on an otherwise append-mostly row.
	IsIssued bool
}

// Validate enforces the write-time date invariants. Accrual-type expenses
// must be charged at month-end: date == due_date == last day of the month.
func (e Expense) Validate() error {
	if !e.Amount.IsPositive() {
		return engine.NewValidationError("expense_amount_positive",
			"expense %s amount must be positive, got %s", e.ID, e.Amount)
	}
	if e.Category.IsAccrual() {
		if !e.Date.Equal(e.DueDate) {
			return engine.NewValidationError("accrual_date_equals_due_date",
				"accrual expense %s: date %s must equal due date %s", e.ID, e.Date, e.DueDate)
		}
		if !engine.IsMonthEnd(e.Date) {
			return engine.NewValidationError("accrual_date_month_end",
				"accrual expense %s: date %s must be the last day of its month", e.ID, e.Date)
		}
	}
	if e.Distribution == SpecificApartments && len(e.ApartmentIDs) == 0 {
		return engine.NewValidationError("specific_apartments_empty",
			"expense %s distributes to specific apartments but names none", e.ID)
	}
	return nil
}

// =============================================================================
// PAYMENT
// =============================================================================

type PaymentKind string

const (
	PaymentCommonExpenses PaymentKind = "common_expenses"
	PaymentReserveFund    PaymentKind = "reserve_fund"
	PaymentOther          PaymentKind = "other"
)

// Payment records money received from an apartment. Every payment has
// exactly one corresponding payment_received transaction; RecordPayment
// is the only way to create one.
type Payment struct {
	ID          string
	BuildingID  string
	ApartmentID string
	Amount      engine.Money
	Date        engine.Date
	Method      string
	Kind        PaymentKind

	// TransactionID links the 1:1 ledger entry.
	TransactionID engine.TransactionID
}

// =============================================================================
// MONTHLY BALANCE - One canonical record per (building, year, month)
// =============================================================================

// MonthlyBalance is the materialized month result. Created or overwritten
// by the monthly service, never hand-edited. Once a later month references
// its carry-forward, changing it requires a cascading recalculation.
type MonthlyBalance struct {
	ID         string
	BuildingID string
	Year       int
	Month      time.Month

	TotalExpenses       engine.Money // non-accrual expenses in the month
	TotalPayments       engine.Money
	PreviousObligations engine.Money // prior month's carry-forward
	ManagementFees      engine.Money
	ReserveFundAmount   engine.Money
	TotalObligations    engine.Money // derived sum
	NetResult           engine.Money
	CarryForward        engine.Money // derived, floored per policy

	// Closed is an advisory manager lock. Recomputing a closed month
	// succeeds but the result carries a warning.
	Closed bool

	ComputedAt time.Time
}

func (mb MonthlyBalance) Key() engine.MonthKey {
	return engine.NewMonthKey(mb.Year, mb.Month)
}

// Equal compares the financial fields; used by idempotence checks.
func (mb MonthlyBalance) Equal(o MonthlyBalance) bool {
	return mb.BuildingID == o.BuildingID &&
		mb.Year == o.Year && mb.Month == o.Month &&
		mb.TotalExpenses.Equal(o.TotalExpenses) &&
		mb.TotalPayments.Equal(o.TotalPayments) &&
		mb.PreviousObligations.Equal(o.PreviousObligations) &&
		mb.ManagementFees.Equal(o.ManagementFees) &&
		mb.ReserveFundAmount.Equal(o.ReserveFundAmount) &&
		mb.TotalObligations.Equal(o.TotalObligations) &&
		mb.NetResult.Equal(o.NetResult) &&
		mb.CarryForward.Equal(o.CarryForward)
}

// =============================================================================
// RECURRING EXPENSE CONFIG - Time-varying accrual rates
// =============================================================================

type RecurringExpenseKind string

const (
	RecurringManagementFee RecurringExpenseKind = "management_fee"
	RecurringReserveFund   RecurringExpenseKind = "reserve_fund"
)

// RecurringExpenseConfig pins an accrual rate to a month range so that
// regenerating a past month uses the rate effective at that time, not
// the building's current live setting.
type RecurringExpenseConfig struct {
	ID         string
	BuildingID string
	Kind       RecurringExpenseKind
	Amount     engine.Money // per-apartment for management fee, monthly total for reserve fund
	EffectiveFrom engine.MonthKey
	EffectiveTo   *engine.MonthKey // nil = open-ended
	Distribution  DistributionType
}

// AppliesTo reports whether the config was effective during the month.
func (c RecurringExpenseConfig) AppliesTo(mk engine.MonthKey) bool {
	if mk.Before(c.EffectiveFrom) {
		return false
	}
	if c.EffectiveTo != nil && c.EffectiveTo.Before(mk) {
		return false
	}
	return true
}

// =============================================================================
// CARRY-FORWARD POLICY
// =============================================================================

// CarryForwardPolicy decides what happens to a building-level credit
// (negative carry-forward). The reference behavior clamps it to zero;
// propagating the credit is an equally plausible accounting choice and
// stays selectable per deployment.
type CarryForwardPolicy string

const (
	ClampZero       CarryForwardPolicy = "clamp_zero"
	PropagateCredit CarryForwardPolicy = "propagate_credit"
)

func (p CarryForwardPolicy) Apply(m engine.Money) engine.Money {
	if p == PropagateCredit {
		return m
	}
	return m.FloorAtZero()
}

// =============================================================================
// RECALCULATION RUN - Progress record for bulk backfills
// =============================================================================

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

type RecalculationRun struct {
	ID         string
	BuildingID string
	From       engine.MonthKey
	To         engine.MonthKey
	Status     RunStatus
	MonthsDone int
	DryRun     bool
	Error      string
	StartedAt  time.Time
	CompletedAt *time.Time
}

// =============================================================================
// MILLS VALIDATOR
// =============================================================================

// CheckMills verifies that active apartments' participation mills sum to
// the 1000 baseline. A violation is a data-quality warning, surfaced in
// verification reports rather than silently tolerated.
func CheckMills(buildingID string, apartments []Apartment) []engine.Warning {
	var sum int64
	for _, a := range apartments {
		sum += a.ParticipationMills
	}
	if sum != MillsBaseline {
		return []engine.Warning{engine.NewWarning(engine.WarnMillsSum,
			"building %s: participation mills sum to %d, expected %d", buildingID, sum, MillsBaseline)}
	}
	return nil
}
