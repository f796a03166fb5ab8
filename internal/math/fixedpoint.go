// internal/math/fixedpoint.go
package math

import (
	"OptionSettle/internal/domain"
	"fmt"

	"github.com/holiman/uint256"
)

const (
	// StrikeDecimals is the reference precision of every strike ratio.
	StrikeDecimals = 18

	// MaxDecimals bounds both asset precisions. 10^(StrikeDecimals+MaxDecimals)
	// must stay far below 2^256 so the scaled divisor never overflows.
	MaxDecimals = 27

	// FeeDenominator expresses fee rates in basis points.
	FeeDenominator = 10_000
)

// MaxStrike is the largest accepted strike ratio (10^36, i.e. 10^18 consideration
// per collateral at STRIKE_DECIMALS precision).
var MaxStrike = Pow10(36)

// pow10 holds 10^0 .. 10^77, the full range representable in 256 bits.
var pow10 = buildPow10()

func buildPow10() (t [78]uint256.Int) {
	t[0].SetUint64(1)
	ten := uint256.NewInt(10)
	for i := 1; i < len(t); i++ {
		t[i].Mul(&t[i-1], ten)
	}
	return t
}

// Pow10 returns a fresh copy of 10^n. Panics if n is outside [0, 77].
func Pow10(n int) *uint256.Int {
	if n < 0 || n >= len(pow10) {
		panic(fmt.Sprintf("math: 10^%d not representable in 256 bits", n))
	}
	return new(uint256.Int).Set(&pow10[n])
}

// MulDiv computes x * y / d with a 512-bit intermediate, truncating.
// Overflow of the final 256-bit result is reported as ErrArithmeticOverflow.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("%w: division by zero", domain.ErrInvalidValue)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, fmt.Errorf("%w: %s * %s / %s", domain.ErrArithmeticOverflow, x.Dec(), y.Dec(), d.Dec())
	}
	return z, nil
}

// Converter performs the decimal-normalized conversions between a collateral
// unit and a consideration unit at a fixed strike, plus fee math.
// Immutable after construction except for the fee rate, which may only be
// lowered through SetFeeRate.
type Converter struct {
	collDecimals int
	consDecimals int
	strike       uint256.Int
	feeRateBps   uint64

	// numerator/denominator scales, precomputed
	consScale uint256.Int // 10^consDecimals
	collScale uint256.Int // 10^(StrikeDecimals + collDecimals)
}

// NewConverter validates the precision pair, strike and fee rate.
func NewConverter(collDecimals, consDecimals int, strike *uint256.Int, feeRateBps uint64) (*Converter, error) {
	if err := ValidateDecimals(collDecimals); err != nil {
		return nil, fmt.Errorf("collateral decimals: %w", err)
	}
	if err := ValidateDecimals(consDecimals); err != nil {
		return nil, fmt.Errorf("consideration decimals: %w", err)
	}
	if err := ValidateStrike(strike); err != nil {
		return nil, err
	}
	if err := ValidateFeeRate(feeRateBps); err != nil {
		return nil, err
	}

	c := &Converter{
		collDecimals: collDecimals,
		consDecimals: consDecimals,
		feeRateBps:   feeRateBps,
	}
	c.strike.Set(strike)
	c.consScale.Set(Pow10(consDecimals))
	c.collScale.Set(Pow10(StrikeDecimals + collDecimals))
	return c, nil
}

// ValidateDecimals rejects precisions above MaxDecimals.
func ValidateDecimals(d int) error {
	if d < 0 || d > MaxDecimals {
		return fmt.Errorf("%w: decimals %d outside [0, %d]", domain.ErrInvalidValue, d, MaxDecimals)
	}
	return nil
}

// ValidateStrike rejects a zero strike or one above MaxStrike.
func ValidateStrike(strike *uint256.Int) error {
	if strike == nil || strike.IsZero() {
		return fmt.Errorf("%w: strike must be positive", domain.ErrInvalidValue)
	}
	if strike.Gt(MaxStrike) {
		return fmt.Errorf("%w: strike %s above maximum %s", domain.ErrInvalidValue, strike.Dec(), MaxStrike.Dec())
	}
	return nil
}

// ValidateFeeRate rejects rates above 100% of notional.
func ValidateFeeRate(bps uint64) error {
	if bps > FeeDenominator {
		return fmt.Errorf("%w: fee rate %d bps above cap %d", domain.ErrInvalidValue, bps, FeeDenominator)
	}
	return nil
}

// ToConsideration converts a collateral amount into the consideration owed:
//
//	amount * strike * 10^consDecimals / (10^STRIKE_DECIMALS * 10^collDecimals)
func (c *Converter) ToConsideration(amount *uint256.Int) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(amount, &c.strike)
	if overflow {
		return nil, fmt.Errorf("%w: amount %s * strike %s", domain.ErrArithmeticOverflow, amount.Dec(), c.strike.Dec())
	}
	return MulDiv(product, &c.consScale, &c.collScale)
}

// ToCollateral is the inverse of ToConsideration:
//
//	amount * 10^STRIKE_DECIMALS * 10^collDecimals / (strike * 10^consDecimals)
func (c *Converter) ToCollateral(amount *uint256.Int) (*uint256.Int, error) {
	// strike <= 10^36 and consScale <= 10^27, so the divisor fits.
	divisor := new(uint256.Int).Mul(&c.strike, &c.consScale)
	return MulDiv(amount, &c.collScale, divisor)
}

// ToFee returns feeRateBps * amount / FeeDenominator.
func (c *Converter) ToFee(amount *uint256.Int) (*uint256.Int, error) {
	return MulDiv(amount, uint256.NewInt(c.feeRateBps), uint256.NewInt(FeeDenominator))
}

// RoundTripBound is the largest collateral loss ToCollateral(ToConsideration(x))
// can show for any x: one consideration unit expressed in collateral, plus one.
func (c *Converter) RoundTripBound() *uint256.Int {
	divisor := new(uint256.Int).Mul(&c.strike, &c.consScale)
	q, r := new(uint256.Int).DivMod(&c.collScale, divisor, new(uint256.Int))
	if !r.IsZero() {
		q.AddUint64(q, 1)
	}
	return q.AddUint64(q, 1)
}

// SetFeeRate lowers the fee rate. Raising it is rejected: the rate a series
// was created with is an upper bound for its whole life.
func (c *Converter) SetFeeRate(bps uint64) error {
	if err := ValidateFeeRate(bps); err != nil {
		return err
	}
	if bps > c.feeRateBps {
		return fmt.Errorf("%w: fee rate may only be lowered (%d -> %d)", domain.ErrInvalidValue, c.feeRateBps, bps)
	}
	c.feeRateBps = bps
	return nil
}

func (c *Converter) Strike() *uint256.Int { return new(uint256.Int).Set(&c.strike) }
func (c *Converter) CollateralDecimals() int { return c.collDecimals }
func (c *Converter) ConsiderationDecimals() int { return c.consDecimals }
func (c *Converter) FeeRateBps() uint64 { return c.feeRateBps }
