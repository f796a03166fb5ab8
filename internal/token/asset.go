// Package token implements the in-process fungible assets that back the
// collateral and consideration pools.
package token

import (
	"OptionSettle/internal/domain"
	"OptionSettle/internal/ledger"
	fpmath "OptionSettle/internal/math"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Asset is an ERC-20 style balance sheet. An allowance of 2^256-1 is
// treated as unlimited and never decremented.
type Asset struct {
	symbol   string
	address  common.Address
	decimals int

	book       *ledger.Book
	allowances map[common.Address]map[common.Address]*uint256.Int
}

func NewAsset(symbol string, address common.Address, decimals int) (*Asset, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: empty asset symbol", domain.ErrInvalidValue)
	}
	if address == (common.Address{}) {
		return nil, fmt.Errorf("%w: asset %s has zero address", domain.ErrInvalidValue, symbol)
	}
	if err := fpmath.ValidateDecimals(decimals); err != nil {
		return nil, fmt.Errorf("asset %s: %w", symbol, err)
	}
	return &Asset{
		symbol:     symbol,
		address:    address,
		decimals:   decimals,
		book:       ledger.NewBook(),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}, nil
}

func (a *Asset) Symbol() string          { return a.symbol }
func (a *Asset) Address() common.Address { return a.address }
func (a *Asset) Decimals() int           { return a.decimals }

func (a *Asset) BalanceOf(owner common.Address) *uint256.Int {
	return a.book.BalanceOf(owner)
}

func (a *Asset) TotalSupply() *uint256.Int {
	return a.book.TotalSupply()
}

// Deposit credits owner from outside the system.
func (a *Asset) Deposit(owner common.Address, amount *uint256.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	return a.book.Mint(owner, amount)
}

// Withdraw debits owner to outside the system.
func (a *Asset) Withdraw(owner common.Address, amount *uint256.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	return a.book.Burn(owner, amount)
}

// Transfer moves amount on the owner's own authority.
func (a *Asset) Transfer(from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("%w: transfer to zero address", domain.ErrInvalidValue)
	}
	return a.book.Move(from, to, amount)
}

func (a *Asset) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return fmt.Errorf("%w: approve zero spender", domain.ErrInvalidValue)
	}
	m, ok := a.allowances[owner]
	if !ok {
		m = make(map[common.Address]*uint256.Int)
		a.allowances[owner] = m
	}
	m[spender] = new(uint256.Int).Set(amount)
	return nil
}

func (a *Asset) Allowance(owner, spender common.Address) *uint256.Int {
	if v, ok := a.allowances[owner][spender]; ok {
		return new(uint256.Int).Set(v)
	}
	return new(uint256.Int)
}

// CheckTransferFrom reports whether TransferFrom would succeed without
// changing anything.
func (a *Asset) CheckTransferFrom(spender, from common.Address, amount *uint256.Int) error {
	if allowed := a.Allowance(from, spender); allowed.Lt(amount) {
		return fmt.Errorf("%w: %s allows %s %s of %s, needs %s", domain.ErrInsufficientAllowance,
			from.Hex(), spender.Hex(), allowed.Dec(), a.symbol, amount.Dec())
	}
	if bal := a.book.BalanceOf(from); bal.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", domain.ErrInsufficientBalance,
			from.Hex(), bal.Dec(), a.symbol, amount.Dec())
	}
	return nil
}

// TransferFrom moves amount from one account on a spender's allowance.
func (a *Asset) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	if err := a.CheckTransferFrom(spender, from, amount); err != nil {
		return err
	}
	if err := a.Transfer(from, to, amount); err != nil {
		return err
	}
	if allowed := a.allowances[from][spender]; !isUnlimited(allowed) {
		allowed.Sub(allowed, amount)
	}
	return nil
}

// CheckSum verifies the balance book invariant.
func (a *Asset) CheckSum() error {
	if err := a.book.CheckSum(); err != nil {
		return fmt.Errorf("asset %s: %w", a.symbol, err)
	}
	return nil
}

func isUnlimited(v *uint256.Int) bool {
	return v != nil && v.Eq(new(uint256.Int).SetAllOne())
}

func requirePositive(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidValue)
	}
	return nil
}
