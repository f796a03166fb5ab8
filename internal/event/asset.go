package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AssetDeposited credits an account from outside the system.
type AssetDeposited struct {
	Asset   common.Address `json:"asset"`
	Account common.Address `json:"account"`
	Amount  *uint256.Int   `json:"amount"`
}

func (e *AssetDeposited) EventType() EventType { return EventTypeAssetDeposited }
func (e *AssetDeposited) Series() common.Hash  { return common.Hash{} }

type AssetWithdrawn struct {
	Asset   common.Address `json:"asset"`
	Account common.Address `json:"account"`
	Amount  *uint256.Int   `json:"amount"`
}

func (e *AssetWithdrawn) EventType() EventType { return EventTypeAssetWithdrawn }
func (e *AssetWithdrawn) Series() common.Hash  { return common.Hash{} }

// AllowanceSet covers both asset approvals and long-position approvals;
// Asset is the token or option ledger address.
type AllowanceSet struct {
	Asset   common.Address `json:"asset"`
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Amount  *uint256.Int   `json:"amount"`
}

func (e *AllowanceSet) EventType() EventType { return EventTypeAllowanceSet }
func (e *AllowanceSet) Series() common.Hash  { return common.Hash{} }
