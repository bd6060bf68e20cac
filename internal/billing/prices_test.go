package billing

import (
	"errors"
	"testing"

	"github.com/DukeRupert/aptix/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestPriceTable(t *testing.T) {
	table := PriceTable{MonthlyPriceID: "price_m", YearlyPriceID: "price_y"}

	tests := []struct {
		name    string
		priceID string
		want    domain.Plan
		wantErr bool
	}{
		{name: "monthly", priceID: "price_m", want: domain.PlanMonthly},
		{name: "yearly", priceID: "price_y", want: domain.PlanYearly},
		{name: "unmapped price is rejected", priceID: "price_new", wantErr: true},
		{name: "empty price", priceID: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := table.PlanForPrice(tt.priceID)
			if tt.wantErr {
				assert.True(t, errors.Is(err, domain.ErrUnknownPrice))
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPriceTable_PriceForPlan(t *testing.T) {
	table := PriceTable{MonthlyPriceID: "price_m"}

	id, err := table.PriceForPlan(domain.PlanMonthly)
	assert.NoError(t, err)
	assert.Equal(t, "price_m", id)

	_, err = table.PriceForPlan(domain.PlanYearly)
	assert.True(t, errors.Is(err, domain.ErrInvalidPlan), "unconfigured price")

	_, err = table.PriceForPlan(domain.PlanFree)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}
