package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeWithdrawal
	JournalTypeCollateralLock
	JournalTypePositionIssue
	JournalTypePositionBurn
	JournalTypePositionTransfer
	JournalTypeExercisePayment
	JournalTypeExerciseFee
	JournalTypeExerciseRelease
	JournalTypeReserveRelease
	JournalTypeFeeClaim
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeWithdrawal:
		return "withdrawal"
	case JournalTypeCollateralLock:
		return "collateral_lock"
	case JournalTypePositionIssue:
		return "position_issue"
	case JournalTypePositionBurn:
		return "position_burn"
	case JournalTypePositionTransfer:
		return "position_transfer"
	case JournalTypeExercisePayment:
		return "exercise_payment"
	case JournalTypeExerciseFee:
		return "exercise_fee"
	case JournalTypeExerciseRelease:
		return "exercise_release"
	case JournalTypeReserveRelease:
		return "reserve_release"
	case JournalTypeFeeClaim:
		return "fee_claim"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry
type Journal struct {
	JournalID     uuid.UUID    // Deterministic: derived from batch id and position
	BatchID       uuid.UUID    // Groups balanced entries
	EventRef      string       // Idempotency key of source command
	Sequence      int64        // Global command sequence
	DebitAccount  AccountKey   // Account receiving debit (balance increases)
	CreditAccount AccountKey   // Account receiving credit (balance decreases)
	Amount        *uint256.Int // ALWAYS positive
	JournalType   JournalType  // Entry type
	Timestamp     int64        // Versioned input timestamp (epoch microseconds)
}

// Batch represents a balanced set of journal entries
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the batch is well-formed.
// Each entry moves one positive amount from credit to debit within one
// asset, so Σ debits == Σ credits holds per entry and per asset.
func (b *Batch) Validate() error {
	if len(b.Journals) == 0 {
		return fmt.Errorf("batch %s is empty", b.BatchID)
	}

	for _, j := range b.Journals {
		if j.Amount == nil || j.Amount.IsZero() {
			return fmt.Errorf("journal %s has non-positive amount", j.JournalID)
		}

		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.Asset != j.CreditAccount.Asset {
			return fmt.Errorf("journal %s moves between assets %s and %s",
				j.JournalID, j.CreditAccount.Asset.Hex(), j.DebitAccount.Asset.Hex())
		}
	}

	return nil
}
