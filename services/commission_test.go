package services

import (
	"testing"

	"referral-engine/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func nullDec(s string) decimal.NullDecimal { return decimal.NewNullDecimal(dec(s)) }

func TestComputeCommission(t *testing.T) {
	tests := []struct {
		name     string
		program  models.Program
		total    string
		want     string
		rejected RejectReason
	}{
		{
			name:    "Percentage",
			program: models.Program{CommissionType: models.CommissionPercentage, CommissionValue: dec("10")},
			total:   "200.00",
			want:    "20.00",
		},
		{
			name:    "FixedIgnoresTotal",
			program: models.Program{CommissionType: models.CommissionFixed, CommissionValue: dec("15")},
			total:   "5.00",
			want:    "15.00",
		},
		{
			name:    "ClampedToMaximum",
			program: models.Program{CommissionType: models.CommissionPercentage, CommissionValue: dec("20"), MaximumCommission: nullDec("5")},
			total:   "40",
			want:    "5.00",
		},
		{
			name:     "BelowMinimumOrder",
			program:  models.Program{CommissionType: models.CommissionPercentage, CommissionValue: dec("10"), MinimumOrderValue: nullDec("25")},
			total:    "10",
			rejected: RejectBelowMinimumOrder,
		},
		{
			name:    "MinimumIsInclusive",
			program: models.Program{CommissionType: models.CommissionPercentage, CommissionValue: dec("10"), MinimumOrderValue: nullDec("25")},
			total:   "25",
			want:    "2.50",
		},
		{
			name:    "RoundsOnlyAfterMultiplying",
			program: models.Program{CommissionType: models.CommissionPercentage, CommissionValue: dec("7.5")},
			total:   "33.33",
			want:    "2.50",
		},
		{
			name:    "HalfCentRoundsUp",
			program: models.Program{CommissionType: models.CommissionPercentage, CommissionValue: dec("5")},
			total:   "0.10",
			want:    "0.01",
		},
		{
			name:    "UnderMaximumUntouched",
			program: models.Program{CommissionType: models.CommissionFixed, CommissionValue: dec("3"), MaximumCommission: nullDec("5")},
			total:   "100",
			want:    "3.00",
		},
		{
			name:     "ZeroTotal",
			program:  models.Program{CommissionType: models.CommissionFixed, CommissionValue: dec("15")},
			total:    "0",
			rejected: RejectInvalidOrderTotal,
		},
		{
			name:     "NegativeTotal",
			program:  models.Program{CommissionType: models.CommissionPercentage, CommissionValue: dec("10")},
			total:    "-12.00",
			rejected: RejectInvalidOrderTotal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			program := tt.program
			got, err := ComputeCommission(&program, dec(tt.total))
			require.NoError(t, err)
			if tt.rejected != "" {
				assert.False(t, got.OK())
				assert.Equal(t, tt.rejected, got.Rejected)
				return
			}
			require.True(t, got.OK())
			assert.Equal(t, tt.want, got.Amount.StringFixed(2))
		})
	}
}

func TestComputeCommission_InvalidProgram(t *testing.T) {
	cases := map[string]models.Program{
		"NegativeValue":         {CommissionType: models.CommissionFixed, CommissionValue: dec("-1")},
		"PercentageOver100":     {CommissionType: models.CommissionPercentage, CommissionValue: dec("100.01")},
		"UnknownType":           {CommissionType: "tiered", CommissionValue: dec("1")},
		"NegativeMinimum":       {CommissionType: models.CommissionFixed, CommissionValue: dec("1"), MinimumOrderValue: nullDec("-5")},
		"NegativeMaxCommission": {CommissionType: models.CommissionFixed, CommissionValue: dec("1"), MaximumCommission: nullDec("-5")},
	}
	for name, program := range cases {
		t.Run(name, func(t *testing.T) {
			program := program
			_, err := ComputeCommission(&program, dec("100"))
			assert.ErrorIs(t, err, ErrInvalidProgram)
		})
	}
}
