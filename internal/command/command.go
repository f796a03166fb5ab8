// Package command defines the inputs of the settlement engine. Every
// command carries a stable idempotency key, the calling address and a
// versioned timestamp that the engine uses as its clock.
package command

import (
	"OptionSettle/internal/domain"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Type discriminator for command payloads
type Type int32

const (
	TypeUnknown Type = iota
	TypeCreateSeries
	TypeDeposit
	TypeWithdraw
	TypeApprove
	TypeApproveOption
	TypeMint
	TypeExercise
	TypeClose
	TypeRedeem
	TypeSweep
	TypeTransfer
	TypeTransferFrom
	TypeTransferShort
	TypeClaimFees
	TypeAdjustFee
	TypeLock
	TypeUnlock
)

var typeNames = map[Type]string{
	TypeCreateSeries:  "create_series",
	TypeDeposit:       "deposit",
	TypeWithdraw:      "withdraw",
	TypeApprove:       "approve",
	TypeApproveOption: "approve_option",
	TypeMint:          "mint",
	TypeExercise:      "exercise",
	TypeClose:         "close",
	TypeRedeem:        "redeem",
	TypeSweep:         "sweep",
	TypeTransfer:      "transfer",
	TypeTransferFrom:  "transfer_from",
	TypeTransferShort: "transfer_short",
	TypeClaimFees:     "claim_fees",
	TypeAdjustFee:     "adjust_fee",
	TypeLock:          "lock",
	TypeUnlock:        "unlock",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "unknown"
}

// ParseType resolves the wire name of a command type.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return TypeUnknown, fmt.Errorf("unknown command type: %s", s)
}

// Types lists every command type in declaration order.
func Types() []Type {
	out := make([]Type, 0, len(typeNames))
	for t := TypeCreateSeries; t <= TypeUnlock; t++ {
		out = append(out, t)
	}
	return out
}

// Command is the interface all command payloads implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() Type

	// SeriesID returns the series context (nil for asset-level commands)
	SeriesID() *common.Hash

	// Caller is the address the command acts for
	Caller() common.Address

	// Timestamp is the versioned input time, never wall-clock
	Timestamp() time.Time
}

// Header carries the fields every command shares.
type Header struct {
	Key         string         `json:"idempotency_key"`
	Sender      common.Address `json:"caller"`
	TimestampUs int64          `json:"timestamp_us"`
}

func (h Header) IdempotencyKey() string { return h.Key }
func (h Header) Caller() common.Address { return h.Sender }
func (h Header) Timestamp() time.Time   { return time.UnixMicro(h.TimestampUs).UTC() }
func (h Header) SeriesID() *common.Hash { return nil }

// SeriesHeader is the header of commands addressed to one series.
type SeriesHeader struct {
	Header
	Series common.Hash `json:"series_id"`
}

func (h SeriesHeader) SeriesID() *common.Hash {
	id := h.Series
	return &id
}

// Validate checks the header fields shared by every command.
func Validate(cmd Command) error {
	if cmd.IdempotencyKey() == "" {
		return fmt.Errorf("%w: %s: idempotency_key is required", domain.ErrInvalidValue, cmd.CommandType())
	}
	if cmd.Caller() == (common.Address{}) {
		return fmt.Errorf("%w: %s: caller is required", domain.ErrInvalidValue, cmd.CommandType())
	}
	if cmd.Timestamp().UnixMicro() <= 0 {
		return fmt.Errorf("%w: %s: timestamp_us must be positive", domain.ErrInvalidValue, cmd.CommandType())
	}
	if id := cmd.SeriesID(); id != nil && *id == (common.Hash{}) {
		return fmt.Errorf("%w: %s: series_id is required", domain.ErrInvalidValue, cmd.CommandType())
	}
	return nil
}
