package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// monetaryPrecision is the number of fractional digits of one whole unit that
// an amount may carry. One unit is 10^18 of the smallest currency unit.
const monetaryPrecision int32 = 18

const (
	DefaultAuctionDuration = 24 * time.Hour
	DefaultAntiSnipeWindow = 15 * time.Minute
)

var (
	DefaultPrize        = decimal.NewFromInt(1)
	DefaultMinIncrement = decimal.RequireFromString("0.05")
)

// Params are the constants fixed when an auction instance is created.
type Params struct {
	Prize           decimal.Decimal
	MinIncrement    decimal.Decimal
	AuctionDuration time.Duration
	AntiSnipeWindow time.Duration
	Operator        Identity
	RefundPolicy    RefundPolicy
}

// DefaultParams returns the canonical configuration for the given operator.
func DefaultParams(operator Identity) Params {
	return Params{
		Prize:           DefaultPrize,
		MinIncrement:    DefaultMinIncrement,
		AuctionDuration: DefaultAuctionDuration,
		AntiSnipeWindow: DefaultAntiSnipeWindow,
		Operator:        operator,
		RefundPolicy:    RefundPush,
	}
}

// Validate checks that the parameters describe a usable auction.
func (p Params) Validate() error {
	if p.Operator.IsEmpty() {
		return fmt.Errorf("operator identity is required")
	}
	if err := ValidateAmount(p.Prize); err != nil {
		return fmt.Errorf("prize: %w", err)
	}
	if !p.Prize.IsPositive() {
		return fmt.Errorf("prize must be positive, got %s", p.Prize)
	}
	if err := ValidateAmount(p.MinIncrement); err != nil {
		return fmt.Errorf("min increment: %w", err)
	}
	if !p.MinIncrement.IsPositive() {
		return fmt.Errorf("min increment must be positive, got %s", p.MinIncrement)
	}
	if p.AuctionDuration <= 0 {
		return fmt.Errorf("auction duration must be positive, got %s", p.AuctionDuration)
	}
	if p.AntiSnipeWindow < 0 {
		return fmt.Errorf("anti-snipe window must not be negative, got %s", p.AntiSnipeWindow)
	}
	if p.RefundPolicy != RefundPush && p.RefundPolicy != RefundPull {
		return fmt.Errorf("unknown refund policy %d", p.RefundPolicy)
	}
	return nil
}

// ValidateAmount rejects negative amounts and amounts finer than the smallest
// currency unit. Amounts are never rounded or clamped.
func ValidateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s is negative", ErrInvalidAmount, amount)
	}
	if !amount.Equal(amount.Truncate(monetaryPrecision)) {
		return fmt.Errorf("%w: %s exceeds %d fractional digits", ErrInvalidAmount, amount, monetaryPrecision)
	}
	return nil
}

// ParseRefundPolicy parses "push" or "pull".
func ParseRefundPolicy(s string) (RefundPolicy, error) {
	switch s {
	case "", "push":
		return RefundPush, nil
	case "pull":
		return RefundPull, nil
	default:
		return 0, fmt.Errorf("unknown refund policy %q (want push or pull)", s)
	}
}
