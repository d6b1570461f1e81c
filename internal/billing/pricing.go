package billing

import "math"

// Pricing tiers by item count. Boundaries are inclusive on the tier
// side (<=) and exclusive on the discount side (>), so exactly 10000
// items lands in "professional" with no discount while 10001 lands in
// "enterprise" with 5%. That discontinuity is the billing contract;
// do not smooth it.
const (
	TierStarter      = "starter"
	TierProfessional = "professional"
	TierEnterprise   = "enterprise"
	TierCustomRate   = "custom"
)

const (
	starterRate      = 0.15
	professionalRate = 0.12
	enterpriseRate   = 0.10
)

// CostEstimate is the result of a pricing calculation.
type CostEstimate struct {
	ItemCount       int64   `json:"item_count"`
	Tier            string  `json:"tier"`
	PricePerItem    float64 `json:"price_per_item"`
	Subtotal        float64 `json:"subtotal"`
	DiscountPercent float64 `json:"discount_percent"`
	DiscountAmount  float64 `json:"discount_amount"`
	Total           float64 `json:"total"`
	Currency        string  `json:"currency"`
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// CalculateProjectCost prices a labeling project. A customRate
// overrides the tier rate and names the tier "custom"; volume
// discounts still apply.
func CalculateProjectCost(itemCount int64, customRate *float64) CostEstimate {
	var tier string
	var rate float64

	switch {
	case itemCount <= 1000:
		tier, rate = TierStarter, starterRate
	case itemCount <= 10000:
		tier, rate = TierProfessional, professionalRate
	default:
		tier, rate = TierEnterprise, enterpriseRate
	}

	if customRate != nil {
		tier, rate = TierCustomRate, *customRate
	}

	var discountPercent float64
	switch {
	case itemCount > 50000:
		discountPercent = 15
	case itemCount > 25000:
		discountPercent = 10
	case itemCount > 10000:
		discountPercent = 5
	}

	subtotal := float64(itemCount) * rate
	discount := subtotal * discountPercent / 100
	total := round2(subtotal - discount)

	return CostEstimate{
		ItemCount:       itemCount,
		Tier:            tier,
		PricePerItem:    rate,
		Subtotal:        round2(subtotal),
		DiscountPercent: discountPercent,
		DiscountAmount:  round2(discount),
		Total:           total,
		Currency:        "usd",
	}
}

// SubscriptionPlan describes a monthly plan. Base prices are in cents.
type SubscriptionPlan struct {
	Name          string  `json:"name"`
	PriceMonthly  int64   `json:"price_monthly"`
	IncludedItems int64   `json:"included_items"`
	OverageRate   float64 `json:"overage_rate"`
}

// SubscriptionPlans are the canonical plan definitions, seeded into the
// plans table at bootstrap.
var SubscriptionPlans = []SubscriptionPlan{
	{Name: TierStarter, PriceMonthly: 9900, IncludedItems: 500, OverageRate: starterRate},
	{Name: TierProfessional, PriceMonthly: 29900, IncludedItems: 2000, OverageRate: professionalRate},
	{Name: TierEnterprise, PriceMonthly: 99900, IncludedItems: 10000, OverageRate: enterpriseRate},
}

// PlanByName looks up a canonical plan definition.
func PlanByName(name string) (SubscriptionPlan, bool) {
	for _, p := range SubscriptionPlans {
		if p.Name == name {
			return p, true
		}
	}
	return SubscriptionPlan{}, false
}

// MonthlyCost is the plan base price plus overage, in dollars.
func MonthlyCost(plan SubscriptionPlan, itemsUsed int64) float64 {
	overage := itemsUsed - plan.IncludedItems
	if overage < 0 {
		overage = 0
	}
	return round2(float64(plan.PriceMonthly)/100 + float64(overage)*plan.OverageRate)
}
