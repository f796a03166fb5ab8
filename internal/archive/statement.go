package archive

import (
	"OptionSettle/internal/core"
	fpmath "OptionSettle/internal/math"
	"encoding/hex"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Statement is the final record of a series whose short side has been
// fully swept. Amounts are integer units; the *Display fields render them
// with the asset decimals.
type Statement struct {
	SeriesID      common.Hash    `json:"series_id"`
	Pool          common.Address `json:"pool"`
	Ledger        common.Address `json:"ledger"`
	Collateral    common.Address `json:"collateral"`
	Consideration common.Address `json:"consideration"`
	Strike        string         `json:"strike"`
	IsPut         bool           `json:"is_put"`
	Expiration    time.Time      `json:"expiration"`
	FeeRateBps    uint64         `json:"fee_rate_bps"`

	Holders              int          `json:"holders"`
	UnexercisedLong      *uint256.Int `json:"unexercised_long"`
	CollateralReserve    *uint256.Int `json:"collateral_reserve"`
	ConsiderationReserve *uint256.Int `json:"consideration_reserve"`
	FeesAccrued          *uint256.Int `json:"fees_accrued"`

	CollateralReserveDisplay    string `json:"collateral_reserve_display"`
	ConsiderationReserveDisplay string `json:"consideration_reserve_display"`
	FeesAccruedDisplay          string `json:"fees_accrued_display"`

	Sequence  int64     `json:"sequence"`
	StateHash string    `json:"state_hash"`
	SettledAt time.Time `json:"settled_at"`
}

// NewStatement captures v as of the engine position (seq, hash). seq is the
// last applied sequence.
func NewStatement(v core.SeriesView, seq int64, hash [32]byte, at time.Time) Statement {
	return Statement{
		SeriesID:      v.SeriesID,
		Pool:          v.Pool,
		Ledger:        v.Ledger,
		Collateral:    v.Collateral,
		Consideration: v.Consideration,
		Strike:        fpmath.FormatStrike(v.Strike),
		IsPut:         v.IsPut,
		Expiration:    v.Expiration.UTC(),
		FeeRateBps:    v.FeeRateBps,

		Holders:              v.Holders,
		UnexercisedLong:      v.LongSupply,
		CollateralReserve:    v.CollateralReserve,
		ConsiderationReserve: v.ConsiderationReserve,
		FeesAccrued:          v.FeesAccrued,

		CollateralReserveDisplay:    fpmath.FormatUnits(v.CollateralReserve, v.CollateralDecimals),
		ConsiderationReserveDisplay: fpmath.FormatUnits(v.ConsiderationReserve, v.ConsiderationDecimals),
		FeesAccruedDisplay:          fpmath.FormatUnits(v.FeesAccrued, v.ConsiderationDecimals),

		Sequence:  seq,
		StateHash: hex.EncodeToString(hash[:]),
		SettledAt: at.UTC(),
	}
}
