package server

import (
	"OptionSettle/internal/core"
	"OptionSettle/internal/domain"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// decodeRequest maps a Struct onto a typed request through its JSON form.
// Struct numbers are doubles; encoding/json prints them without exponent
// below 1e21, which covers microsecond timestamps and sequences.
func decodeRequest(req *structpb.Struct, dst any) error {
	b, err := json.Marshal(req.AsMap())
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "request: %v", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return status.Errorf(codes.InvalidArgument, "request: %v", err)
	}
	return nil
}

func encodeResponse(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// statusCodes maps domain error codes onto gRPC codes. Codes not listed are
// Internal.
var statusCodes = map[string]codes.Code{
	"invalid_value":              codes.InvalidArgument,
	"arithmetic_overflow":        codes.OutOfRange,
	"insufficient_balance":       codes.FailedPrecondition,
	"insufficient_collateral":    codes.FailedPrecondition,
	"insufficient_consideration": codes.FailedPrecondition,
	"insufficient_allowance":     codes.FailedPrecondition,
	"contract_expired":           codes.FailedPrecondition,
	"contract_not_expired":       codes.FailedPrecondition,
	"locked_contract":            codes.FailedPrecondition,
	"already_initialized":        codes.FailedPrecondition,
	"not_initialized":            codes.FailedPrecondition,
	"reentrant_call":             codes.FailedPrecondition,
	"unauthorized":               codes.PermissionDenied,
	"permit_rejected":            codes.PermissionDenied,
	"series_not_found":           codes.NotFound,
	"unknown_asset":              codes.NotFound,
	"series_exists":              codes.AlreadyExists,
	"stale_timestamp":            codes.FailedPrecondition,
	"future_timestamp":           codes.InvalidArgument,
}

// statusFromError converts an error chain to a gRPC status whose message is
// prefixed with the stable domain code.
func statusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	code := domain.Code(err)
	c, ok := statusCodes[code]
	if !ok {
		c = codes.Internal
	}
	return status.Error(c, fmt.Sprintf("%s: %v", code, err))
}

// SeriesJSON is the API form of a live series.
type SeriesJSON struct {
	SeriesID              common.Hash    `json:"series_id"`
	Pool                  common.Address `json:"pool"`
	Ledger                common.Address `json:"ledger"`
	Owner                 common.Address `json:"owner"`
	Admin                 common.Address `json:"admin"`
	Collateral            common.Address `json:"collateral"`
	Consideration         common.Address `json:"consideration"`
	Strike                *uint256.Int   `json:"strike"`
	IsPut                 bool           `json:"is_put"`
	Expiration            time.Time      `json:"expiration"`
	CollateralDecimals    int            `json:"collateral_decimals"`
	ConsiderationDecimals int            `json:"consideration_decimals"`
	FeeRateBps            uint64         `json:"fee_rate_bps"`
	State                 string         `json:"state"`
	CollateralReserve     *uint256.Int   `json:"collateral_reserve"`
	ConsiderationReserve  *uint256.Int   `json:"consideration_reserve"`
	FeesAccrued           *uint256.Int   `json:"fees_accrued"`
	ShortSupply           *uint256.Int   `json:"short_supply"`
	LongSupply            *uint256.Int   `json:"long_supply"`
	Holders               int            `json:"holders"`
	TransferMode          string         `json:"transfer_mode"`
	ReceiptMode           string         `json:"receipt_mode"`
	CreatedAt             time.Time      `json:"created_at"`
}

func NewSeriesJSON(v core.SeriesView) SeriesJSON {
	return SeriesJSON{
		SeriesID:              v.SeriesID,
		Pool:                  v.Pool,
		Ledger:                v.Ledger,
		Owner:                 v.Owner,
		Admin:                 v.Admin,
		Collateral:            v.Collateral,
		Consideration:         v.Consideration,
		Strike:                v.Strike,
		IsPut:                 v.IsPut,
		Expiration:            v.Expiration.UTC(),
		CollateralDecimals:    v.CollateralDecimals,
		ConsiderationDecimals: v.ConsiderationDecimals,
		FeeRateBps:            v.FeeRateBps,
		State:                 v.State.String(),
		CollateralReserve:     v.CollateralReserve,
		ConsiderationReserve:  v.ConsiderationReserve,
		FeesAccrued:           v.FeesAccrued,
		ShortSupply:           v.ShortSupply,
		LongSupply:            v.LongSupply,
		Holders:               v.Holders,
		TransferMode:          v.TransferMode,
		ReceiptMode:           v.ReceiptMode,
		CreatedAt:             v.CreatedAt.UTC(),
	}
}

func badRequest(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrInvalidValue, err)
}
