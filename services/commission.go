package services

import (
	"errors"
	"fmt"

	"referral-engine/models"

	"github.com/shopspring/decimal"
)

type RejectReason string

const (
	RejectBelowMinimumOrder RejectReason = "below_minimum_order"
	RejectInvalidOrderTotal RejectReason = "invalid_order_total"
	RejectProgramInactive   RejectReason = "program_inactive"
	RejectReferralExpired   RejectReason = "referral_expired"
)

var ErrInvalidProgram = errors.New("invalid program commission configuration")

var hundred = decimal.NewFromInt(100)

// Commission is either a payable Amount or a Rejected reason.
type Commission struct {
	Amount   decimal.Decimal
	Rejected RejectReason
}

func (c Commission) OK() bool { return c.Rejected == "" }

func ValidateProgram(p *models.Program) error {
	switch p.CommissionType {
	case models.CommissionPercentage:
		if p.CommissionValue.GreaterThan(hundred) {
			return fmt.Errorf("%w: percentage %s exceeds 100", ErrInvalidProgram, p.CommissionValue)
		}
	case models.CommissionFixed:
	default:
		return fmt.Errorf("%w: unknown commission type %q", ErrInvalidProgram, p.CommissionType)
	}
	if p.CommissionValue.IsNegative() {
		return fmt.Errorf("%w: negative commission value %s", ErrInvalidProgram, p.CommissionValue)
	}
	if p.MinimumOrderValue.Valid && p.MinimumOrderValue.Decimal.IsNegative() {
		return fmt.Errorf("%w: negative minimum order value", ErrInvalidProgram)
	}
	if p.MaximumCommission.Valid && p.MaximumCommission.Decimal.IsNegative() {
		return fmt.Errorf("%w: negative maximum commission", ErrInvalidProgram)
	}
	return nil
}

// ComputeCommission applies the program's rules to an order total. Rounding to
// cents happens once, after the percentage multiplication.
func ComputeCommission(p *models.Program, orderTotal decimal.Decimal) (Commission, error) {
	if err := ValidateProgram(p); err != nil {
		return Commission{}, err
	}
	if !orderTotal.IsPositive() {
		return Commission{Rejected: RejectInvalidOrderTotal}, nil
	}
	if p.MinimumOrderValue.Valid && orderTotal.LessThan(p.MinimumOrderValue.Decimal) {
		return Commission{Rejected: RejectBelowMinimumOrder}, nil
	}

	var raw decimal.Decimal
	if p.CommissionType == models.CommissionPercentage {
		raw = orderTotal.Mul(p.CommissionValue).Div(hundred)
	} else {
		raw = p.CommissionValue
	}

	amount := raw.Round(2)
	if p.MaximumCommission.Valid && amount.GreaterThan(p.MaximumCommission.Decimal) {
		amount = p.MaximumCommission.Decimal.Round(2)
	}
	return Commission{Amount: amount}, nil
}
