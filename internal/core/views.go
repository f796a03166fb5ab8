package core

import (
	"OptionSettle/internal/factory"
	"OptionSettle/internal/pool"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// HolderView is one address' position in a series together with its wallet
// balances of the series' two assets.
type HolderView struct {
	SeriesID             common.Hash    `json:"series_id"`
	Holder               common.Address `json:"holder"`
	Long                 *uint256.Int   `json:"long"`
	Short                *uint256.Int   `json:"short"`
	CollateralBalance    *uint256.Int   `json:"collateral_balance"`
	ConsiderationBalance *uint256.Int   `json:"consideration_balance"`
	State                string         `json:"state"`
}

// SeriesView is a consistent snapshot of a series as of the last applied
// command.
type SeriesView struct {
	pool.Info
	LongSupply   *uint256.Int
	TransferMode string
	ReceiptMode  string
	CreatedAt    time.Time
}

func (e *Engine) HolderView(id common.Hash, holder common.Address) (HolderView, error) {
	s, err := e.factory.Get(id)
	if err != nil {
		return HolderView{}, err
	}
	p := s.Pool
	return HolderView{
		SeriesID:             id,
		Holder:               holder,
		Long:                 s.Ledger.BalanceOf(holder),
		Short:                p.BalanceOf(holder),
		CollateralBalance:    p.Collateral().BalanceOf(holder),
		ConsiderationBalance: p.Consideration().BalanceOf(holder),
		State:                p.State().String(),
	}, nil
}

func (e *Engine) SeriesInfo(id common.Hash) (SeriesView, error) {
	s, err := e.factory.Get(id)
	if err != nil {
		return SeriesView{}, err
	}
	return seriesView(s), nil
}

// ListSeries returns every series in creation order.
func (e *Engine) ListSeries() []SeriesView {
	all := e.factory.List()
	out := make([]SeriesView, 0, len(all))
	for _, s := range all {
		out = append(out, seriesView(s))
	}
	return out
}

func seriesView(s *factory.Series) SeriesView {
	return SeriesView{
		Info:         s.Pool.Info(),
		LongSupply:   s.Ledger.TotalSupply(),
		TransferMode: s.Ledger.TransferPolicy().Name(),
		ReceiptMode:  s.Ledger.ReceiptPolicy().Name(),
		CreatedAt:    s.CreatedAt,
	}
}
