/*
distribution.go - Expense distribution across apartments

PURPOSE:
  Computes each apartment's share of a building expense under one of the
  closed set of strategies: participation mills, equal share, category
  meters (heating/elevator mills), or an explicit apartment subset.

EXACTNESS:
  All arithmetic is exact decimal. Every share is rounded to cents and
  the rounding remainder is assigned to the lowest-numbered apartment so
  that the shares sum to the expense amount to the cent. The
  reconciliation step is mandatory: sum(shares) == expense.amount always.

DEGENERATE WEIGHTS:
  A zero weighting denominator (e.g., all participation mills zero) is a
  data-quality problem, not a crash: the calculator falls back to equal
  share over all eligible apartments and flags a warning. It never
  returns zero for everyone and never fails a read path over it.

SEE ALSO:
  - accrual.go: Synthetic expenses that feed this calculator
  - posting.go: Turns a distribution into ledger charge transactions
*/
package building

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/oikos/expense-engine/engine"
)

// =============================================================================
// DISTRIBUTION RESULT
// =============================================================================

// Share is one apartment's portion of a distributed expense.
type Share struct {
	ApartmentID string
	Amount      engine.Money
}

// DistributionResult holds the computed shares, ordered by apartment
// number, so repeated runs with unchanged inputs are byte-identical.
type DistributionResult struct {
	ExpenseID string
	Shares    []Share
	Warnings  []engine.Warning
}

// ShareFor returns the share for an apartment, zero if not eligible.
func (r *DistributionResult) ShareFor(apartmentID string) engine.Money {
	for _, s := range r.Shares {
		if s.ApartmentID == apartmentID {
			return s.Amount
		}
	}
	return engine.ZeroMoney()
}

// Total sums all shares. Equals the expense amount to the cent.
func (r *DistributionResult) Total() engine.Money {
	total := engine.ZeroMoney()
	for _, s := range r.Shares {
		total = total.Add(s.Amount)
	}
	return total
}

// =============================================================================
// DISTRIBUTE
// =============================================================================

// Distribute computes each eligible apartment's share of the expense.
// The strategy switch is exhaustive over the closed DistributionType set;
// an unknown value is a validation error, not a silent default.
func Distribute(e Expense, apartments []Apartment) (*DistributionResult, error) {
	eligible := eligibleApartments(e, apartments)
	if len(eligible) == 0 {
		return nil, engine.NewValidationError("no_eligible_apartments",
			"expense %s has no eligible apartments to distribute over", e.ID)
	}

	result := &DistributionResult{ExpenseID: e.ID}

	var weights []decimal.Decimal
	switch e.Distribution {
	case ByParticipationMills, SpecificApartments:
		// SpecificApartments re-normalizes participation mills over the subset.
		weights = millWeights(eligible, func(a Apartment) int64 { return a.ParticipationMills })
	case ByMeters:
		weights = millWeights(eligible, meterMills(e.Category))
	case EqualShare:
		weights = equalWeights(len(eligible))
	default:
		return nil, engine.NewValidationError("unknown_distribution_type",
			"expense %s has unknown distribution type %q", e.ID, e.Distribution)
	}

	if sumWeights(weights).IsZero() {
		// All weights zero: fall back to equal share, flag the data problem.
		result.Warnings = append(result.Warnings, engine.NewWarning(engine.WarnZeroDenominator,
			"expense %s (%s): weighting denominator is zero, falling back to equal share",
			e.ID, e.Distribution))
		weights = equalWeights(len(eligible))
	}

	result.Shares = allocate(e.Amount, eligible, weights)
	return result, nil
}

// eligibleApartments selects the apartments the expense distributes over,
// sorted by apartment number (ties broken by ID) so the remainder target
// and output order are deterministic.
func eligibleApartments(e Expense, apartments []Apartment) []Apartment {
	var eligible []Apartment
	if e.Distribution == SpecificApartments {
		wanted := make(map[string]bool, len(e.ApartmentIDs))
		for _, id := range e.ApartmentIDs {
			wanted[id] = true
		}
		for _, a := range apartments {
			if wanted[a.ID] {
				eligible = append(eligible, a)
			}
		}
	} else {
		eligible = append(eligible, apartments...)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Number != eligible[j].Number {
			return eligible[i].Number < eligible[j].Number
		}
		return eligible[i].ID < eligible[j].ID
	})
	return eligible
}

// meterMills picks the weighting set for metered categories. Heating and
// elevator have dedicated mills; anything else meters on participation.
func meterMills(c ExpenseCategory) func(Apartment) int64 {
	switch c {
	case CategoryHeating:
		return func(a Apartment) int64 { return a.HeatingMills }
	case CategoryElevator:
		return func(a Apartment) int64 { return a.ElevatorMills }
	default:
		return func(a Apartment) int64 { return a.ParticipationMills }
	}
}

func millWeights(apartments []Apartment, mills func(Apartment) int64) []decimal.Decimal {
	weights := make([]decimal.Decimal, len(apartments))
	for i, a := range apartments {
		weights[i] = decimal.NewFromInt(mills(a))
	}
	return weights
}

func equalWeights(n int) []decimal.Decimal {
	weights := make([]decimal.Decimal, n)
	for i := range weights {
		weights[i] = decimal.NewFromInt(1)
	}
	return weights
}

func sumWeights(weights []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, w := range weights {
		sum = sum.Add(w)
	}
	return sum
}

// allocate splits amount proportionally to weights, rounds each share to
// cents, and assigns the remainder to the first apartment (the slice is
// already ordered lowest-number-first) so the shares sum exactly.
func allocate(amount engine.Money, apartments []Apartment, weights []decimal.Decimal) []Share {
	total := sumWeights(weights)

	shares := make([]Share, len(apartments))
	allocated := engine.ZeroMoney()
	for i, a := range apartments {
		raw := amount.Value.Mul(weights[i]).Div(total)
		share := engine.Money{Value: raw}.RoundCents()
		shares[i] = Share{ApartmentID: a.ID, Amount: share}
		allocated = allocated.Add(share)
	}

	// Mandatory reconciliation: push the rounding remainder onto the
	// lowest-numbered apartment.
	remainder := amount.Sub(allocated)
	if !remainder.IsZero() {
		shares[0].Amount = shares[0].Amount.Add(remainder).RoundCents()
	}
	return shares
}
