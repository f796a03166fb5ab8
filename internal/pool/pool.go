// Package pool implements the redemption pool: the short-side ledger of an
// option series. It custodies collateral and consideration, issues and burns
// short units, settles exercises, and releases reserves pro-rata after
// expiry, one holder at a time or in bounded sweeps.
package pool

import (
	"OptionSettle/internal/authority"
	"OptionSettle/internal/domain"
	"OptionSettle/internal/event"
	"OptionSettle/internal/ledger"
	fpmath "OptionSettle/internal/math"
	"OptionSettle/internal/registry"
	"OptionSettle/internal/token"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// DefaultMaxSweepBatch bounds a sweep call when the config leaves it unset.
const DefaultMaxSweepBatch = 100

// Authority resolves how a pull of an owner's assets is authorized.
// *authority.Chain implements it.
type Authority interface {
	Resolve(req authority.Request) (authority.Path, error)
}

// PairedLedger is what the pool needs to see before handing ownership to
// a long ledger.
type PairedLedger interface {
	Address() common.Address
	Pool() common.Address
}

// Config binds a pool to its environment at construction. Factory is the
// only address allowed to call Init.
type Config struct {
	Address       common.Address
	Factory       common.Address
	SeriesID      common.Hash
	MaxSweepBatch int
	Assets        authority.AssetLookup
	Authority     Authority
	Sink          event.Sink
	Clock         func() time.Time
}

// Params is the one-time initialization payload.
type Params struct {
	Collateral    common.Address
	Consideration common.Address
	Expiration    time.Time
	Strike        *uint256.Int
	IsPut         bool
	Ledger        common.Address
	Admin         common.Address
	FeeRateBps    uint64
}

// RedemptionPool is not safe for concurrent use; callers serialize access.
type RedemptionPool struct {
	address  common.Address
	factory  common.Address
	seriesID common.Hash
	maxSweep int
	assets   authority.AssetLookup
	auth     Authority
	sink     event.Sink
	clock    func() time.Time

	initialized bool
	handedOff   bool
	owner       common.Address
	admin       common.Address
	ledgerAddr  common.Address

	collateral    *token.Asset
	consideration *token.Asset
	expiration    time.Time
	isPut         bool
	conv          *fpmath.Converter
	locked        bool

	shorts               *ledger.Book
	holders              *registry.HolderRegistry
	collateralReserve    uint256.Int
	considerationReserve uint256.Int
	feesAccrued          uint256.Int

	entered atomic.Bool
}

// New constructs an uninitialized pool bound to cfg.Factory.
func New(cfg Config) (*RedemptionPool, error) {
	if cfg.Address == (common.Address{}) || cfg.Factory == (common.Address{}) {
		return nil, fmt.Errorf("%w: pool and factory addresses are required", domain.ErrInvalidValue)
	}
	if cfg.Assets == nil || cfg.Authority == nil {
		return nil, fmt.Errorf("%w: asset lookup and transfer authority are required", domain.ErrInvalidValue)
	}
	maxSweep := cfg.MaxSweepBatch
	if maxSweep <= 0 {
		maxSweep = DefaultMaxSweepBatch
	}
	sink := cfg.Sink
	if sink == nil {
		sink = event.Discard{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &RedemptionPool{
		address:  cfg.Address,
		factory:  cfg.Factory,
		seriesID: cfg.SeriesID,
		maxSweep: maxSweep,
		assets:   cfg.Assets,
		auth:     cfg.Authority,
		sink:     sink,
		clock:    clock,
		shorts:   ledger.NewBook(),
		holders:  registry.New(),
	}, nil
}

// Init configures the series. Only the factory bound at construction may
// call it, and only once.
func (p *RedemptionPool) Init(caller common.Address, params Params) error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit()

	if caller != p.factory {
		return fmt.Errorf("%w: %s is not the pool factory", domain.ErrUnauthorized, caller.Hex())
	}
	if p.initialized {
		return fmt.Errorf("%w: pool %s", domain.ErrAlreadyInitialized, p.address.Hex())
	}

	if params.Collateral == params.Consideration {
		return fmt.Errorf("%w: collateral and consideration must differ", domain.ErrInvalidValue)
	}
	if params.Ledger == (common.Address{}) || params.Admin == (common.Address{}) {
		return fmt.Errorf("%w: ledger and admin addresses are required", domain.ErrInvalidValue)
	}
	if !params.Expiration.After(p.clock()) {
		return fmt.Errorf("%w: expiration %s is not in the future",
			domain.ErrInvalidValue, params.Expiration.UTC().Format(time.RFC3339))
	}
	coll, err := p.assets.Get(params.Collateral)
	if err != nil {
		return err
	}
	cons, err := p.assets.Get(params.Consideration)
	if err != nil {
		return err
	}
	conv, err := fpmath.NewConverter(coll.Decimals(), cons.Decimals(), params.Strike, params.FeeRateBps)
	if err != nil {
		return err
	}

	p.collateral = coll
	p.consideration = cons
	p.expiration = params.Expiration
	p.isPut = params.IsPut
	p.conv = conv
	p.ledgerAddr = params.Ledger
	p.admin = params.Admin
	p.owner = p.factory
	p.initialized = true

	p.sink.Emit(&event.SeriesCreated{
		SeriesRef:             p.Ref(),
		Strike:                conv.Strike(),
		Expiration:            params.Expiration.Unix(),
		IsPut:                 params.IsPut,
		CollateralDecimals:    conv.CollateralDecimals(),
		ConsiderationDecimals: conv.ConsiderationDecimals(),
		FeeRateBps:            conv.FeeRateBps(),
		Admin:                 params.Admin,
	})
	return nil
}

// DeriveSeriesID is the deterministic identity of a series:
// keccak256(collateral ‖ consideration ‖ strike ‖ expiration ‖ isPut).
func DeriveSeriesID(collateral, consideration common.Address, strike *uint256.Int, expiration time.Time, isPut bool) common.Hash {
	strikeWord := strike.Bytes32()
	var exp [8]byte
	binary.BigEndian.PutUint64(exp[:], uint64(expiration.Unix()))
	put := []byte{0}
	if isPut {
		put[0] = 1
	}
	return common.BytesToHash(ethcrypto.Keccak256(
		collateral.Bytes(),
		consideration.Bytes(),
		strikeWord[:],
		common.LeftPadBytes(exp[:], 32),
		put,
	))
}

// === Guard ===

// enter acquires the re-entrancy flag; exit must run on every path.
func (p *RedemptionPool) enter() error {
	if !p.entered.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: pool %s", domain.ErrReentrantCall, p.address.Hex())
	}
	return nil
}

func (p *RedemptionPool) exit() {
	p.entered.Store(false)
}

func (p *RedemptionPool) requireInitialized() error {
	if !p.initialized {
		return fmt.Errorf("%w: pool %s", domain.ErrNotInitialized, p.address.Hex())
	}
	return nil
}

func (p *RedemptionPool) requireOwner(caller common.Address) error {
	if caller != p.owner {
		return fmt.Errorf("%w: %s is not the pool owner", domain.ErrUnauthorized, caller.Hex())
	}
	return nil
}

// === Read surface ===

// State evaluates expiry against the clock on every call.
func (p *RedemptionPool) State() State {
	if p.initialized && !p.clock().Before(p.expiration) {
		return StateExpired
	}
	if p.locked {
		return StateLocked
	}
	return StateActive
}

func (p *RedemptionPool) Ref() event.SeriesRef {
	ref := event.SeriesRef{
		SeriesID: p.seriesID,
		Pool:     p.address,
		Ledger:   p.ledgerAddr,
	}
	if p.initialized {
		ref.Collateral = p.collateral.Address()
		ref.Consideration = p.consideration.Address()
	}
	return ref
}

func (p *RedemptionPool) Address() common.Address  { return p.address }
func (p *RedemptionPool) SeriesID() common.Hash    { return p.seriesID }
func (p *RedemptionPool) Owner() common.Address    { return p.owner }
func (p *RedemptionPool) Admin() common.Address    { return p.admin }
func (p *RedemptionPool) Ledger() common.Address   { return p.ledgerAddr }
func (p *RedemptionPool) Initialized() bool        { return p.initialized }
func (p *RedemptionPool) Expiration() time.Time    { return p.expiration }
func (p *RedemptionPool) IsPut() bool              { return p.isPut }
func (p *RedemptionPool) MaxSweepBatch() int       { return p.maxSweep }
func (p *RedemptionPool) Collateral() *token.Asset { return p.collateral }

func (p *RedemptionPool) Consideration() *token.Asset { return p.consideration }

// Converter exposes the conversion math; nil before Init.
func (p *RedemptionPool) Converter() *fpmath.Converter { return p.conv }

func (p *RedemptionPool) CollateralReserve() *uint256.Int {
	return new(uint256.Int).Set(&p.collateralReserve)
}

func (p *RedemptionPool) ConsiderationReserve() *uint256.Int {
	return new(uint256.Int).Set(&p.considerationReserve)
}

func (p *RedemptionPool) FeesAccrued() *uint256.Int {
	return new(uint256.Int).Set(&p.feesAccrued)
}

func (p *RedemptionPool) BalanceOf(holder common.Address) *uint256.Int {
	return p.shorts.BalanceOf(holder)
}

func (p *RedemptionPool) TotalSupply() *uint256.Int {
	return p.shorts.TotalSupply()
}

func (p *RedemptionPool) HolderCount() int { return p.holders.Count() }

func (p *RedemptionPool) HolderAt(i int) common.Address { return p.holders.At(i) }

// Holders returns the registered holders in [start, stop).
func (p *RedemptionPool) Holders(start, stop int) []common.Address {
	return p.holders.Range(start, stop)
}

// Info is a consistent snapshot of the pool's metadata and balances.
type Info struct {
	SeriesID              common.Hash
	Pool                  common.Address
	Ledger                common.Address
	Owner                 common.Address
	Admin                 common.Address
	Collateral            common.Address
	Consideration         common.Address
	Strike                *uint256.Int
	IsPut                 bool
	Expiration            time.Time
	CollateralDecimals    int
	ConsiderationDecimals int
	FeeRateBps            uint64
	State                 State
	CollateralReserve     *uint256.Int
	ConsiderationReserve  *uint256.Int
	FeesAccrued           *uint256.Int
	ShortSupply           *uint256.Int
	Holders               int
}

func (p *RedemptionPool) Info() Info {
	ref := p.Ref()
	info := Info{
		SeriesID:             p.seriesID,
		Pool:                 p.address,
		Ledger:               p.ledgerAddr,
		Owner:                p.owner,
		Admin:                p.admin,
		Collateral:           ref.Collateral,
		Consideration:        ref.Consideration,
		IsPut:                p.isPut,
		Expiration:           p.expiration,
		State:                p.State(),
		CollateralReserve:    p.CollateralReserve(),
		ConsiderationReserve: p.ConsiderationReserve(),
		FeesAccrued:          p.FeesAccrued(),
		ShortSupply:          p.TotalSupply(),
		Holders:              p.holders.Count(),
	}
	if p.conv != nil {
		info.Strike = p.conv.Strike()
		info.CollateralDecimals = p.conv.CollateralDecimals()
		info.ConsiderationDecimals = p.conv.ConsiderationDecimals()
		info.FeeRateBps = p.conv.FeeRateBps()
	}
	return info
}

// CheckInvariants verifies the short book and that the pool's token
// balances back its reserves.
func (p *RedemptionPool) CheckInvariants() error {
	if err := p.shorts.CheckSum(); err != nil {
		return fmt.Errorf("pool %s short book: %w", p.address.Hex(), err)
	}
	if !p.initialized {
		return nil
	}
	if held := p.collateral.BalanceOf(p.address); held.Lt(&p.collateralReserve) {
		return fmt.Errorf("pool %s holds %s collateral, reserve is %s",
			p.address.Hex(), held.Dec(), p.collateralReserve.Dec())
	}
	owed := new(uint256.Int).Add(&p.considerationReserve, &p.feesAccrued)
	if held := p.consideration.BalanceOf(p.address); held.Lt(owed) {
		return fmt.Errorf("pool %s holds %s consideration, owes %s",
			p.address.Hex(), held.Dec(), owed.Dec())
	}
	return nil
}
