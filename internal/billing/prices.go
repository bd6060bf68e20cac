package billing

import "github.com/DukeRupert/aptix/internal/domain"

// PriceTable maps paid plans to Stripe price IDs and back.
// There is no default entry: an unmapped price ID is an error.
type PriceTable struct {
	MonthlyPriceID string
	YearlyPriceID  string
}

// PriceForPlan returns the Stripe price ID of a paid plan.
func (t PriceTable) PriceForPlan(plan domain.Plan) (string, error) {
	const op = "billing.price_for_plan"
	var id string
	switch plan {
	case domain.PlanMonthly:
		id = t.MonthlyPriceID
	case domain.PlanYearly:
		id = t.YearlyPriceID
	}
	if id == "" {
		return "", domain.InvalidPlan(op, string(plan))
	}
	return id, nil
}

// PlanForPrice returns the plan a Stripe price ID bills for.
func (t PriceTable) PlanForPrice(priceID string) (domain.Plan, error) {
	switch {
	case priceID == "":
		return "", domain.UnknownPrice("billing.plan_for_price", priceID)
	case priceID == t.YearlyPriceID:
		return domain.PlanYearly, nil
	case priceID == t.MonthlyPriceID:
		return domain.PlanMonthly, nil
	default:
		return "", domain.UnknownPrice("billing.plan_for_price", priceID)
	}
}
