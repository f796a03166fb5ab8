package event

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Side distinguishes the long (option) and short (redemption) ledgers.
type Side uint8

const (
	SideLong Side = iota + 1
	SideShort
)

func (s Side) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return "unknown"
	}
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(b []byte) error {
	switch string(b) {
	case "long":
		*s = SideLong
	case "short":
		*s = SideShort
	default:
		return fmt.Errorf("unknown side %q", b)
	}
	return nil
}

// PositionMinted: Amount collateral moved from Minter into the pool and the
// same number of short units credited to Holder.
type PositionMinted struct {
	SeriesRef
	Minter common.Address `json:"minter"`
	Holder common.Address `json:"holder"`
	Amount *uint256.Int   `json:"amount"`
}

func (e *PositionMinted) EventType() EventType { return EventTypePositionMinted }

// PositionExercised carries both legs: Amount collateral released to Holder,
// Payment consideration pulled from Payer, of which Fee was accrued.
type PositionExercised struct {
	SeriesRef
	Holder  common.Address `json:"holder"`
	Payer   common.Address `json:"payer"`
	Amount  *uint256.Int   `json:"amount"`
	Payment *uint256.Int   `json:"payment"`
	Fee     *uint256.Int   `json:"fee"`
}

func (e *PositionExercised) EventType() EventType { return EventTypePositionExercised }

// PositionClosed: pre-expiry burn of matching long and short units.
type PositionClosed struct {
	SeriesRef
	Holder           common.Address `json:"holder"`
	Amount           *uint256.Int   `json:"amount"`
	CollateralOut    *uint256.Int   `json:"collateral_out"`
	ConsiderationOut *uint256.Int   `json:"consideration_out"`
}

func (e *PositionClosed) EventType() EventType { return EventTypePositionClosed }

// PositionRedeemed: post-expiry pro-rata release of both reserves.
type PositionRedeemed struct {
	SeriesRef
	Holder           common.Address `json:"holder"`
	Amount           *uint256.Int   `json:"amount"`
	CollateralOut    *uint256.Int   `json:"collateral_out"`
	ConsiderationOut *uint256.Int   `json:"consideration_out"`
}

func (e *PositionRedeemed) EventType() EventType { return EventTypePositionRedeemed }

// HolderSwept is a redemption performed by a sweep on the holder's behalf.
type HolderSwept struct {
	SeriesRef
	Index            int            `json:"index"`
	Holder           common.Address `json:"holder"`
	Amount           *uint256.Int   `json:"amount"`
	CollateralOut    *uint256.Int   `json:"collateral_out"`
	ConsiderationOut *uint256.Int   `json:"consideration_out"`
}

func (e *HolderSwept) EventType() EventType { return EventTypeHolderSwept }

type SweepCompleted struct {
	SeriesRef
	Start           int          `json:"start"`
	Stop            int          `json:"stop"`
	Swept           int          `json:"swept"`
	Holders         int          `json:"holders"`
	RemainingSupply *uint256.Int `json:"remaining_supply"`
}

func (e *SweepCompleted) EventType() EventType { return EventTypeSweepCompleted }

// PositionTransferred moves long or short units. A zero From is a mint and a
// zero To is a burn. AutoMinted marks an intent transfer that minted the
// sender's shortfall first.
type PositionTransferred struct {
	SeriesRef
	Side       Side           `json:"side"`
	From       common.Address `json:"from"`
	To         common.Address `json:"to"`
	Amount     *uint256.Int   `json:"amount"`
	AutoMinted bool           `json:"auto_minted,omitempty"`
}

func (e *PositionTransferred) EventType() EventType { return EventTypePositionTransferred }
