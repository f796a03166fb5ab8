package ledger

import (
	"OptionSettle/internal/domain"
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Book is a fungible balance map with a total-supply counter. It backs the
// asset wallets and both position ledgers. Every mutation checks before it
// writes, so a failed call leaves the book untouched.
// Not thread-safe: callers serialize access.
type Book struct {
	balances map[common.Address]*uint256.Int
	supply   uint256.Int
}

func NewBook() *Book {
	return &Book{
		balances: make(map[common.Address]*uint256.Int),
	}
}

// BalanceOf returns a copy of the balance of addr.
func (b *Book) BalanceOf(addr common.Address) *uint256.Int {
	if bal, ok := b.balances[addr]; ok {
		return new(uint256.Int).Set(bal)
	}
	return new(uint256.Int)
}

// TotalSupply returns a copy of the supply counter.
func (b *Book) TotalSupply() *uint256.Int {
	return new(uint256.Int).Set(&b.supply)
}

// Mint credits amount to addr and grows the supply.
func (b *Book) Mint(addr common.Address, amount *uint256.Int) error {
	supply, overflow := new(uint256.Int).AddOverflow(&b.supply, amount)
	if overflow {
		return fmt.Errorf("%w: supply %s + %s", domain.ErrArithmeticOverflow, b.supply.Dec(), amount.Dec())
	}
	// balance <= supply, so the balance add cannot overflow either
	b.credit(addr, amount)
	b.supply.Set(supply)
	return nil
}

// Burn debits amount from addr and shrinks the supply.
func (b *Book) Burn(addr common.Address, amount *uint256.Int) error {
	if err := b.requireBalance(addr, amount); err != nil {
		return err
	}
	b.debit(addr, amount)
	b.supply.Sub(&b.supply, amount)
	return nil
}

// Move transfers amount from one address to another.
func (b *Book) Move(from, to common.Address, amount *uint256.Int) error {
	if err := b.requireBalance(from, amount); err != nil {
		return err
	}
	b.debit(from, amount)
	b.credit(to, amount)
	return nil
}

// CheckSum verifies sum(balances) == totalSupply.
func (b *Book) CheckSum() error {
	var sum uint256.Int
	for addr, bal := range b.balances {
		if _, overflow := sum.AddOverflow(&sum, bal); overflow {
			return fmt.Errorf("balance sum overflows at %s", addr.Hex())
		}
	}
	if !sum.Eq(&b.supply) {
		return fmt.Errorf("sum of balances %s != total supply %s", sum.Dec(), b.supply.Dec())
	}
	return nil
}

// Holders returns every address with a non-zero balance, sorted by address.
func (b *Book) Holders() []common.Address {
	out := make([]common.Address, 0, len(b.balances))
	for addr, bal := range b.balances {
		if !bal.IsZero() {
			out = append(out, addr)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

func (b *Book) requireBalance(addr common.Address, amount *uint256.Int) error {
	bal := b.BalanceOf(addr)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s has %s, needs %s", domain.ErrInsufficientBalance, addr.Hex(), bal.Dec(), amount.Dec())
	}
	return nil
}

func (b *Book) credit(addr common.Address, amount *uint256.Int) {
	bal, ok := b.balances[addr]
	if !ok {
		bal = new(uint256.Int)
		b.balances[addr] = bal
	}
	bal.Add(bal, amount)
}

func (b *Book) debit(addr common.Address, amount *uint256.Int) {
	if bal, ok := b.balances[addr]; ok {
		bal.Sub(bal, amount)
	}
}
