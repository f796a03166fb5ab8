package math

import (
	"OptionSettle/internal/domain"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ParseStrike turns a human-readable price ("2000.5") into a strike ratio at
// StrikeDecimals precision.
//
// A call is quoted as consideration per collateral, which is already the
// strike. A put is quoted the other way round (collateral per consideration),
// so the ratio is inverted and rounded half-up at StrikeDecimals places.
func ParseStrike(price string, isPut bool) (*uint256.Int, error) {
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("%w: strike %q: %v", domain.ErrInvalidValue, price, err)
	}
	if !d.IsPositive() {
		return nil, fmt.Errorf("%w: strike %q must be positive", domain.ErrInvalidValue, price)
	}

	if isPut {
		d = decimal.NewFromInt(1).DivRound(d, StrikeDecimals)
	}

	scaled := d.Shift(StrikeDecimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("%w: strike %q has more than %d decimal places", domain.ErrInvalidValue, price, StrikeDecimals)
	}

	strike, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("%w: strike %q", domain.ErrArithmeticOverflow, price)
	}
	if err := ValidateStrike(strike); err != nil {
		return nil, err
	}
	return strike, nil
}

// FormatStrike renders a strike ratio back into a decimal string.
func FormatStrike(strike *uint256.Int) string {
	return decimal.NewFromBigInt(strike.ToBig(), -StrikeDecimals).String()
}

// FormatUnits renders an integer amount with the given number of decimals.
func FormatUnits(amount *uint256.Int, decimals int) string {
	return decimal.NewFromBigInt(amount.ToBig(), -int32(decimals)).String()
}

// ParseUnits is the inverse of FormatUnits: "1.5" with 6 decimals is
// 1_500_000. Amounts finer than decimals are rejected.
func ParseUnits(amount string, decimals int) (*uint256.Int, error) {
	if err := ValidateDecimals(decimals); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", domain.ErrInvalidValue, amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("%w: amount %q is negative", domain.ErrInvalidValue, amount)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("%w: amount %q has more than %d decimal places", domain.ErrInvalidValue, amount, decimals)
	}
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("%w: amount %q", domain.ErrArithmeticOverflow, amount)
	}
	return v, nil
}
