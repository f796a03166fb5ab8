package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BalanceTracker maintains signed shadow balances for every account the
// journal touches. External and issuance accounts go negative by design;
// user and reserve accounts never may.
type BalanceTracker struct {
	balances map[AccountKey]*big.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*big.Int),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	amount := j.Amount.ToBig()
	debit := bt.entry(j.DebitAccount)
	debit.Add(debit, amount)
	credit := bt.entry(j.CreditAccount)
	credit.Sub(credit, amount)
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns a copy of the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *big.Int {
	if b, ok := bt.balances[key]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// WalletBalance returns the shadow wallet balance of owner in asset.
func (bt *BalanceTracker) WalletBalance(owner, asset common.Address) *big.Int {
	return bt.GetBalance(NewUserAccountKey(owner, SubTypeWallet, asset))
}

// ReserveBalance returns a pool reserve account balance.
func (bt *BalanceTracker) ReserveBalance(pool common.Address, subType AccountSubType, asset common.Address) *big.Int {
	return bt.GetBalance(NewSystemAccountKey(pool, subType, asset))
}

// === Invariant Checks ===

// ComputeGlobalBalance sums all account balances per asset (should be 0 for a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[common.Address]*big.Int {
	totals := make(map[common.Address]*big.Int)

	for key, balance := range bt.balances {
		t, ok := totals[key.Asset]
		if !ok {
			t = new(big.Int)
			totals[key.Asset] = t
		}
		t.Add(t, balance)
	}

	return totals
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance.Sign() < 0 {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), balance)
	}
	return nil
}

// ValidateEquals checks that the shadow balance of key matches an
// authoritative balance held elsewhere.
func (bt *BalanceTracker) ValidateEquals(key AccountKey, want *uint256.Int) error {
	got := bt.GetBalance(key)
	if got.Cmp(want.ToBig()) != 0 {
		return fmt.Errorf("account %s: journal balance %s, state balance %s", key.AccountPath(), got, want.Dec())
	}
	return nil
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]*big.Int {
	snapshot := make(map[AccountKey]*big.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = new(big.Int).Set(v)
	}
	return snapshot
}

func (bt *BalanceTracker) entry(key AccountKey) *big.Int {
	b, ok := bt.balances[key]
	if !ok {
		b = new(big.Int)
		bt.balances[key] = b
	}
	return b
}
