// Package factory instantiates option series: one redemption pool and its
// paired long ledger per series, each owning isolated state. A Template is
// a blueprint of defaults, not shared mutable state.
package factory

import (
	"OptionSettle/internal/authority"
	"OptionSettle/internal/domain"
	"OptionSettle/internal/event"
	fpmath "OptionSettle/internal/math"
	"OptionSettle/internal/option"
	"OptionSettle/internal/pool"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Template holds the defaults applied to every series the factory creates.
type Template struct {
	FeeRateBps    uint64
	MaxSweepBatch int
	TransferMode  string // "intent" or "strict"
	ReceiptMode   string // "auto_redeem" or "noop"
}

func DefaultTemplate() Template {
	return Template{
		FeeRateBps:    30,
		MaxSweepBatch: pool.DefaultMaxSweepBatch,
		TransferMode:  "intent",
		ReceiptMode:   "auto_redeem",
	}
}

// SeriesSpec describes a series to create. Nil FeeRateBps and empty modes
// fall back to the template.
type SeriesSpec struct {
	Collateral    common.Address
	Consideration common.Address
	Strike        *uint256.Int
	Expiration    time.Time
	IsPut         bool
	Admin         common.Address
	FeeRateBps    *uint64
	TransferMode  string
	ReceiptMode   string
}

// Series is one created pool/ledger pair.
type Series struct {
	ID        common.Hash
	Pool      *pool.RedemptionPool
	Ledger    *option.Ledger
	CreatedAt time.Time
}

type Config struct {
	Address   common.Address
	Template  Template
	Assets    authority.AssetLookup
	Authority pool.Authority
	Sink      event.Sink
	Clock     func() time.Time
}

// Factory is not safe for concurrent use.
type Factory struct {
	address  common.Address
	template Template
	assets   authority.AssetLookup
	auth     pool.Authority
	sink     event.Sink
	clock    func() time.Time

	series map[common.Hash]*Series
	order  []common.Hash
}

func New(cfg Config) (*Factory, error) {
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("%w: factory address is required", domain.ErrInvalidValue)
	}
	if err := fpmath.ValidateFeeRate(cfg.Template.FeeRateBps); err != nil {
		return nil, fmt.Errorf("template: %w", err)
	}
	if _, err := option.TransferPolicyByName(cfg.Template.TransferMode); err != nil {
		return nil, fmt.Errorf("template: %w", err)
	}
	if _, err := option.ReceiptPolicyByName(cfg.Template.ReceiptMode); err != nil {
		return nil, fmt.Errorf("template: %w", err)
	}
	sink := cfg.Sink
	if sink == nil {
		sink = event.Discard{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Factory{
		address:  cfg.Address,
		template: cfg.Template,
		assets:   cfg.Assets,
		auth:     cfg.Authority,
		sink:     sink,
		clock:    clock,
		series:   make(map[common.Hash]*Series),
	}, nil
}

func (f *Factory) Address() common.Address { return f.address }

func (f *Factory) Template() Template { return f.template }

// PoolAddress and LedgerAddress derive the deterministic addresses of a
// series' contracts: the low 20 bytes of keccak256(factory ‖ kind ‖ id).
func PoolAddress(factory common.Address, id common.Hash) common.Address {
	return deriveAddress(factory, "pool", id)
}

func LedgerAddress(factory common.Address, id common.Hash) common.Address {
	return deriveAddress(factory, "ledger", id)
}

func deriveAddress(factory common.Address, kind string, id common.Hash) common.Address {
	return common.BytesToAddress(ethcrypto.Keccak256(factory.Bytes(), []byte(kind), id.Bytes())[12:])
}

// CreateSeries validates spec completely, then builds, initializes and
// links the pair. Nothing is registered and no event escapes unless every
// step succeeds.
func (f *Factory) CreateSeries(spec SeriesSpec) (*Series, error) {
	feeBps := f.template.FeeRateBps
	if spec.FeeRateBps != nil {
		feeBps = *spec.FeeRateBps
	}
	transferMode := spec.TransferMode
	if transferMode == "" {
		transferMode = f.template.TransferMode
	}
	receiptMode := spec.ReceiptMode
	if receiptMode == "" {
		receiptMode = f.template.ReceiptMode
	}

	if err := f.validate(spec, feeBps); err != nil {
		return nil, err
	}
	tp, err := option.TransferPolicyByName(transferMode)
	if err != nil {
		return nil, err
	}
	rp, err := option.ReceiptPolicyByName(receiptMode)
	if err != nil {
		return nil, err
	}

	id := pool.DeriveSeriesID(spec.Collateral, spec.Consideration, spec.Strike, spec.Expiration, spec.IsPut)
	if _, ok := f.series[id]; ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSeriesExists, id.Hex())
	}
	poolAddr := PoolAddress(f.address, id)
	ledgerAddr := LedgerAddress(f.address, id)

	g := &gate{out: f.sink}
	p, err := pool.New(pool.Config{
		Address:       poolAddr,
		Factory:       f.address,
		SeriesID:      id,
		MaxSweepBatch: f.template.MaxSweepBatch,
		Assets:        f.assets,
		Authority:     f.auth,
		Sink:          g,
		Clock:         f.clock,
	})
	if err != nil {
		return nil, err
	}
	err = p.Init(f.address, pool.Params{
		Collateral:    spec.Collateral,
		Consideration: spec.Consideration,
		Expiration:    spec.Expiration,
		Strike:        spec.Strike,
		IsPut:         spec.IsPut,
		Ledger:        ledgerAddr,
		Admin:         spec.Admin,
		FeeRateBps:    feeBps,
	})
	if err != nil {
		return nil, fmt.Errorf("init pool: %w", err)
	}
	l, err := option.New(option.Config{
		Address:  ledgerAddr,
		Pool:     p,
		Transfer: tp,
		Receipt:  rp,
		Sink:     g,
	})
	if err != nil {
		return nil, fmt.Errorf("build ledger: %w", err)
	}
	if err := p.TransferOwnership(f.address, l); err != nil {
		return nil, fmt.Errorf("link ledger: %w", err)
	}

	s := &Series{ID: id, Pool: p, Ledger: l, CreatedAt: f.clock()}
	f.series[id] = s
	f.order = append(f.order, id)
	g.release()
	return s, nil
}

func (f *Factory) validate(spec SeriesSpec, feeBps uint64) error {
	if spec.Collateral == spec.Consideration {
		return fmt.Errorf("%w: collateral and consideration must differ", domain.ErrInvalidValue)
	}
	if spec.Admin == (common.Address{}) {
		return fmt.Errorf("%w: series admin is required", domain.ErrInvalidValue)
	}
	if !spec.Expiration.After(f.clock()) {
		return fmt.Errorf("%w: expiration is not in the future", domain.ErrInvalidValue)
	}
	coll, err := f.assets.Get(spec.Collateral)
	if err != nil {
		return err
	}
	cons, err := f.assets.Get(spec.Consideration)
	if err != nil {
		return err
	}
	_, err = fpmath.NewConverter(coll.Decimals(), cons.Decimals(), spec.Strike, feeBps)
	return err
}

func (f *Factory) Get(id common.Hash) (*Series, error) {
	s, ok := f.series[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSeriesNotFound, id.Hex())
	}
	return s, nil
}

// List returns every series in creation order.
func (f *Factory) List() []*Series {
	out := make([]*Series, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.series[id])
	}
	return out
}

// gate holds events back until the series is registered, then forwards
// them and every later event straight through.
type gate struct {
	out  event.Sink
	held []event.Event
	open bool
}

func (g *gate) Emit(e event.Event) {
	if g.open {
		g.out.Emit(e)
		return
	}
	g.held = append(g.held, e)
}

func (g *gate) release() {
	g.open = true
	for _, e := range g.held {
		g.out.Emit(e)
	}
	g.held = nil
}
