package ledger

import (
	"fmt"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateTouchedNonNegative checks every user and reserve account the batch
// touched. Issuance and external accounts are the negative side of the
// double entry and are skipped.
func (v *InvariantValidator) ValidateTouchedNonNegative(batch *Batch) error {
	for _, j := range batch.Journals {
		for _, key := range [2]AccountKey{j.DebitAccount, j.CreditAccount} {
			if !mustStayNonNegative(key) {
				continue
			}
			if err := v.tracker.ValidateNonNegative(key); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateGlobalBalance verifies the system is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for asset, total := range totals {
		if total.Sign() != 0 {
			return fmt.Errorf("global balance for %s is non-zero: %s", asset.Hex(), total)
		}
	}

	return nil
}

func mustStayNonNegative(key AccountKey) bool {
	switch key.Scope {
	case AccountScopeUser:
		return true
	case AccountScopeSystem:
		switch key.SubType {
		case SubTypeCollateralReserve, SubTypeConsiderationReserve, SubTypeFees:
			return true
		}
	}
	return false
}
