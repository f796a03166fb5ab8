package command

import (
	"OptionSettle/internal/authority"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// === Asset commands ===

// Deposit credits Amount of Asset to Account (the caller when unset) from
// outside the system.
type Deposit struct {
	Header
	Asset   common.Address `json:"asset"`
	Account common.Address `json:"account,omitempty"`
	Amount  *uint256.Int   `json:"amount"`
}

func (c *Deposit) CommandType() Type { return TypeDeposit }

// Recipient resolves the credited account.
func (c *Deposit) Recipient() common.Address {
	if c.Account == (common.Address{}) {
		return c.Sender
	}
	return c.Account
}

type Withdraw struct {
	Header
	Asset  common.Address `json:"asset"`
	Amount *uint256.Int   `json:"amount"`
}

func (c *Withdraw) CommandType() Type { return TypeWithdraw }

// Approve sets the caller's allowance of Asset for Spender, usually a pool.
type Approve struct {
	Header
	Asset   common.Address `json:"asset"`
	Spender common.Address `json:"spender"`
	Amount  *uint256.Int   `json:"amount"`
}

func (c *Approve) CommandType() Type { return TypeApprove }

// === Series commands ===

// CreateSeries makes the caller the admin of a new series. Strike is scaled
// to 18 decimals; Expiration is unix seconds.
type CreateSeries struct {
	Header
	Collateral    common.Address `json:"collateral"`
	Consideration common.Address `json:"consideration"`
	Strike        *uint256.Int   `json:"strike"`
	Expiration    int64          `json:"expiration"`
	IsPut         bool           `json:"is_put"`
	FeeRateBps    *uint64        `json:"fee_rate_bps,omitempty"`
	TransferMode  string         `json:"transfer_mode,omitempty"`
	ReceiptMode   string         `json:"receipt_mode,omitempty"`
}

func (c *CreateSeries) CommandType() Type { return TypeCreateSeries }

type ApproveOption struct {
	SeriesHeader
	Spender common.Address `json:"spender"`
	Amount  *uint256.Int   `json:"amount"`
}

func (c *ApproveOption) CommandType() Type { return TypeApproveOption }

// Mint locks the caller's collateral; short units go to the caller and
// long units to To (the caller when unset).
type Mint struct {
	SeriesHeader
	To     common.Address    `json:"to,omitempty"`
	Amount *uint256.Int      `json:"amount"`
	Permit *authority.Permit `json:"permit,omitempty"`
}

func (c *Mint) CommandType() Type { return TypeMint }

func (c *Mint) Recipient() common.Address {
	if c.To == (common.Address{}) {
		return c.Sender
	}
	return c.To
}

type Exercise struct {
	SeriesHeader
	Amount *uint256.Int      `json:"amount"`
	Permit *authority.Permit `json:"permit,omitempty"`
}

func (c *Exercise) CommandType() Type { return TypeExercise }

type Close struct {
	SeriesHeader
	Amount *uint256.Int `json:"amount"`
}

func (c *Close) CommandType() Type { return TypeClose }

type Redeem struct {
	SeriesHeader
	Amount *uint256.Int `json:"amount"`
}

func (c *Redeem) CommandType() Type { return TypeRedeem }

// Sweep settles holder indexes [Start, Stop) of an expired series.
type Sweep struct {
	SeriesHeader
	Start int `json:"start"`
	Stop  int `json:"stop"`
}

func (c *Sweep) CommandType() Type { return TypeSweep }

type Transfer struct {
	SeriesHeader
	To     common.Address    `json:"to"`
	Amount *uint256.Int      `json:"amount"`
	Permit *authority.Permit `json:"permit,omitempty"`
}

func (c *Transfer) CommandType() Type { return TypeTransfer }

type TransferFrom struct {
	SeriesHeader
	From   common.Address `json:"from"`
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

func (c *TransferFrom) CommandType() Type { return TypeTransferFrom }

type TransferShort struct {
	SeriesHeader
	To     common.Address `json:"to"`
	Amount *uint256.Int   `json:"amount"`
}

func (c *TransferShort) CommandType() Type { return TypeTransferShort }

type ClaimFees struct {
	SeriesHeader
}

func (c *ClaimFees) CommandType() Type { return TypeClaimFees }

type AdjustFee struct {
	SeriesHeader
	FeeRateBps uint64 `json:"fee_rate_bps"`
}

func (c *AdjustFee) CommandType() Type { return TypeAdjustFee }

type Lock struct {
	SeriesHeader
}

func (c *Lock) CommandType() Type { return TypeLock }

type Unlock struct {
	SeriesHeader
}

func (c *Unlock) CommandType() Type { return TypeUnlock }
