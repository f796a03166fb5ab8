package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SeriesRef identifies the series an event belongs to and the addresses
// the journal generator needs to post it.
type SeriesRef struct {
	SeriesID      common.Hash    `json:"series_id"`
	Pool          common.Address `json:"pool"`
	Ledger        common.Address `json:"ledger"`
	Collateral    common.Address `json:"collateral"`
	Consideration common.Address `json:"consideration"`
}

func (r SeriesRef) Series() common.Hash {
	return r.SeriesID
}

type SeriesCreated struct {
	SeriesRef
	Strike                *uint256.Int   `json:"strike"`
	Expiration            int64          `json:"expiration"` // unix seconds
	IsPut                 bool           `json:"is_put"`
	CollateralDecimals    int            `json:"collateral_decimals"`
	ConsiderationDecimals int            `json:"consideration_decimals"`
	FeeRateBps            uint64         `json:"fee_rate_bps"`
	Admin                 common.Address `json:"admin"`
}

func (e *SeriesCreated) EventType() EventType { return EventTypeSeriesCreated }

// OwnershipTransferred records the one-way pool handoff from the factory to
// its paired ledger.
type OwnershipTransferred struct {
	SeriesRef
	PreviousOwner common.Address `json:"previous_owner"`
	NewOwner      common.Address `json:"new_owner"`
}

func (e *OwnershipTransferred) EventType() EventType { return EventTypeOwnershipTransferred }

type ContractLocked struct {
	SeriesRef
	By common.Address `json:"by"`
}

func (e *ContractLocked) EventType() EventType { return EventTypeContractLocked }

type ContractUnlocked struct {
	SeriesRef
	By common.Address `json:"by"`
}

func (e *ContractUnlocked) EventType() EventType { return EventTypeContractUnlocked }

// FeeClaimed amounts are in consideration units.
type FeeClaimed struct {
	SeriesRef
	Beneficiary common.Address `json:"beneficiary"`
	Amount      *uint256.Int   `json:"amount"`
}

func (e *FeeClaimed) EventType() EventType { return EventTypeFeeClaimed }

type FeeAdjusted struct {
	SeriesRef
	OldRateBps uint64 `json:"old_rate_bps"`
	NewRateBps uint64 `json:"new_rate_bps"`
}

func (e *FeeAdjusted) EventType() EventType { return EventTypeFeeAdjusted }
