package command

import (
	"encoding/json"
	"fmt"
)

// New returns an empty command of type t, ready to be decoded into.
func New(t Type) (Command, error) {
	switch t {
	case TypeCreateSeries:
		return &CreateSeries{}, nil
	case TypeDeposit:
		return &Deposit{}, nil
	case TypeWithdraw:
		return &Withdraw{}, nil
	case TypeApprove:
		return &Approve{}, nil
	case TypeApproveOption:
		return &ApproveOption{}, nil
	case TypeMint:
		return &Mint{}, nil
	case TypeExercise:
		return &Exercise{}, nil
	case TypeClose:
		return &Close{}, nil
	case TypeRedeem:
		return &Redeem{}, nil
	case TypeSweep:
		return &Sweep{}, nil
	case TypeTransfer:
		return &Transfer{}, nil
	case TypeTransferFrom:
		return &TransferFrom{}, nil
	case TypeTransferShort:
		return &TransferShort{}, nil
	case TypeClaimFees:
		return &ClaimFees{}, nil
	case TypeAdjustFee:
		return &AdjustFee{}, nil
	case TypeLock:
		return &Lock{}, nil
	case TypeUnlock:
		return &Unlock{}, nil
	default:
		return nil, fmt.Errorf("unknown command type: %d", t)
	}
}

// Encode is the payload stored in the command log.
func Encode(cmd Command) ([]byte, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.CommandType(), err)
	}
	return data, nil
}

// Decode restores a logged or received command payload.
func Decode(t Type, data []byte) (Command, error) {
	cmd, err := New(t)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return cmd, nil
}
