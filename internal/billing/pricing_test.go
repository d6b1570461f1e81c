package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateProjectCost_Tiers(t *testing.T) {
	tests := []struct {
		name            string
		itemCount       int64
		wantTier        string
		wantRate        float64
		wantSubtotal    float64
		wantDiscountPct float64
		wantTotal       float64
	}{
		{"small batch", 100, TierStarter, 0.15, 15.00, 0, 15.00},
		{"starter boundary", 1000, TierStarter, 0.15, 150.00, 0, 150.00},
		{"just past starter", 1001, TierProfessional, 0.12, 120.12, 0, 120.12},
		{"professional boundary", 10000, TierProfessional, 0.12, 1200.00, 0, 1200.00},
		{"enterprise with discount", 10001, TierEnterprise, 0.10, 1000.10, 5, 950.10},
		{"mid enterprise", 30000, TierEnterprise, 0.10, 3000.00, 10, 2700.00},
		{"large enterprise", 60000, TierEnterprise, 0.10, 6000.00, 15, 5100.00},
		{"discount boundary excluded", 10000, TierProfessional, 0.12, 1200.00, 0, 1200.00},
		{"empty", 0, TierStarter, 0.15, 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateProjectCost(tt.itemCount, nil)
			assert.Equal(t, tt.wantTier, got.Tier)
			assert.InDelta(t, tt.wantRate, got.PricePerItem, 1e-9)
			assert.InDelta(t, tt.wantSubtotal, got.Subtotal, 1e-9)
			assert.InDelta(t, tt.wantDiscountPct, got.DiscountPercent, 1e-9)
			assert.InDelta(t, tt.wantTotal, got.Total, 1e-9)
			assert.Equal(t, "usd", got.Currency)
		})
	}
}

func TestCalculateProjectCost_CustomRate(t *testing.T) {
	rate := 0.08
	got := CalculateProjectCost(2000, &rate)

	assert.Equal(t, TierCustomRate, got.Tier)
	assert.InDelta(t, 0.08, got.PricePerItem, 1e-9)
	assert.InDelta(t, 160.00, got.Subtotal, 1e-9)
	assert.InDelta(t, 160.00, got.Total, 1e-9)
}

func TestCalculateProjectCost_CustomRateStillDiscounts(t *testing.T) {
	rate := 0.05
	got := CalculateProjectCost(60000, &rate)

	assert.Equal(t, TierCustomRate, got.Tier)
	assert.InDelta(t, 3000.00, got.Subtotal, 1e-9)
	assert.InDelta(t, 15, got.DiscountPercent, 1e-9)
	assert.InDelta(t, 2550.00, got.Total, 1e-9)
}

func TestMonthlyCost(t *testing.T) {
	plan, ok := PlanByName(TierProfessional)
	assert.True(t, ok)

	// Under the included allowance only the base price applies.
	assert.InDelta(t, 299.00, MonthlyCost(plan, 1500), 1e-9)
	assert.InDelta(t, 299.00, MonthlyCost(plan, 2000), 1e-9)
	// 500 items over at 0.12 each.
	assert.InDelta(t, 359.00, MonthlyCost(plan, 2500), 1e-9)
}

func TestPlanByName_Unknown(t *testing.T) {
	_, ok := PlanByName("platinum")
	assert.False(t, ok)
}
