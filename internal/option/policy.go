package option

import (
	"OptionSettle/internal/domain"
	"fmt"

	"github.com/holiman/uint256"
)

// TransferPolicy decides what happens when a sender holds fewer long units
// than it asked to transfer.
type TransferPolicy interface {
	Name() string
	// Shortfall returns the number of units to mint for the sender before
	// the transfer, or an error to refuse it.
	Shortfall(balance, amount *uint256.Int) (*uint256.Int, error)
}

// ReceiptPolicy decides what happens to a recipient of TransferFrom that
// also holds short units.
type ReceiptPolicy interface {
	Name() string
	// Settle returns how many of the recipient's long/short pairs to settle.
	Settle(shortBalance, received *uint256.Int) *uint256.Int
}

// IntentPolicy treats a transfer as intent to deliver: the shortfall is
// minted under the sender's collateral first.
type IntentPolicy struct{}

func (IntentPolicy) Name() string { return "intent" }

func (IntentPolicy) Shortfall(balance, amount *uint256.Int) (*uint256.Int, error) {
	if balance.Lt(amount) {
		return new(uint256.Int).Sub(amount, balance), nil
	}
	return new(uint256.Int), nil
}

// StrictPolicy is a plain balance transfer.
type StrictPolicy struct{}

func (StrictPolicy) Name() string { return "strict" }

func (StrictPolicy) Shortfall(balance, amount *uint256.Int) (*uint256.Int, error) {
	if balance.Lt(amount) {
		return nil, fmt.Errorf("%w: holds %s long units, needs %s", domain.ErrInsufficientBalance, balance.Dec(), amount.Dec())
	}
	return new(uint256.Int), nil
}

// AutoRedeemPolicy settles min(shortBalance, received) on the recipient's
// behalf without its consent.
type AutoRedeemPolicy struct{}

func (AutoRedeemPolicy) Name() string { return "auto_redeem" }

func (AutoRedeemPolicy) Settle(shortBalance, received *uint256.Int) *uint256.Int {
	if shortBalance.Lt(received) {
		return new(uint256.Int).Set(shortBalance)
	}
	return new(uint256.Int).Set(received)
}

// NoopReceipt leaves the recipient's positions alone.
type NoopReceipt struct{}

func (NoopReceipt) Name() string { return "noop" }

func (NoopReceipt) Settle(_, _ *uint256.Int) *uint256.Int { return new(uint256.Int) }

// TransferPolicyByName resolves "intent" or "strict".
func TransferPolicyByName(name string) (TransferPolicy, error) {
	switch name {
	case "", "intent":
		return IntentPolicy{}, nil
	case "strict":
		return StrictPolicy{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown transfer mode %q", domain.ErrInvalidValue, name)
	}
}

// ReceiptPolicyByName resolves "auto_redeem" or "noop".
func ReceiptPolicyByName(name string) (ReceiptPolicy, error) {
	switch name {
	case "", "auto_redeem":
		return AutoRedeemPolicy{}, nil
	case "noop":
		return NoopReceipt{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown receipt mode %q", domain.ErrInvalidValue, name)
	}
}
