// Package option implements the long-side ledger of a series. It owns its
// redemption pool after the factory hands it over and drives every pool
// entry point that must move long and short units together.
package option

import (
	"OptionSettle/internal/authority"
	"OptionSettle/internal/domain"
	"OptionSettle/internal/event"
	"OptionSettle/internal/ledger"
	"OptionSettle/internal/pool"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type Config struct {
	Address  common.Address
	Pool     *pool.RedemptionPool
	Transfer TransferPolicy
	Receipt  ReceiptPolicy
	Sink     event.Sink
}

// Ledger is not safe for concurrent use; callers serialize access.
type Ledger struct {
	address    common.Address
	pool       *pool.RedemptionPool
	longs      *ledger.Book
	allowances map[common.Address]map[common.Address]*uint256.Int
	transfer   TransferPolicy
	receipt    ReceiptPolicy
	sink       event.Sink

	entered atomic.Bool
}

func New(cfg Config) (*Ledger, error) {
	if cfg.Address == (common.Address{}) || cfg.Pool == nil {
		return nil, fmt.Errorf("%w: ledger address and pool are required", domain.ErrInvalidValue)
	}
	if cfg.Pool.Ledger() != cfg.Address {
		return nil, fmt.Errorf("%w: pool %s is paired with %s, not %s", domain.ErrInvalidValue,
			cfg.Pool.Address().Hex(), cfg.Pool.Ledger().Hex(), cfg.Address.Hex())
	}
	l := &Ledger{
		address:    cfg.Address,
		pool:       cfg.Pool,
		longs:      ledger.NewBook(),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
		transfer:   cfg.Transfer,
		receipt:    cfg.Receipt,
		sink:       cfg.Sink,
	}
	if l.transfer == nil {
		l.transfer = IntentPolicy{}
	}
	if l.receipt == nil {
		l.receipt = AutoRedeemPolicy{}
	}
	if l.sink == nil {
		l.sink = event.Discard{}
	}
	return l, nil
}

func (l *Ledger) enter() error {
	if !l.entered.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: ledger %s", domain.ErrReentrantCall, l.address.Hex())
	}
	return nil
}

func (l *Ledger) exit() {
	l.entered.Store(false)
}

// === Read surface ===

func (l *Ledger) Address() common.Address { return l.address }

// Pool returns the paired pool address.
func (l *Ledger) Pool() common.Address { return l.pool.Address() }

func (l *Ledger) RedemptionPool() *pool.RedemptionPool { return l.pool }

func (l *Ledger) TransferPolicy() TransferPolicy { return l.transfer }
func (l *Ledger) ReceiptPolicy() ReceiptPolicy   { return l.receipt }

func (l *Ledger) BalanceOf(holder common.Address) *uint256.Int { return l.longs.BalanceOf(holder) }

func (l *Ledger) TotalSupply() *uint256.Int { return l.longs.TotalSupply() }

// Holders returns addresses with a non-zero long balance.
func (l *Ledger) Holders() []common.Address { return l.longs.Holders() }

func (l *Ledger) Allowance(owner, spender common.Address) *uint256.Int {
	if v, ok := l.allowances[owner][spender]; ok {
		return new(uint256.Int).Set(v)
	}
	return new(uint256.Int)
}

// CheckInvariants verifies both books and, before expiry, that every long
// unit is backed by a short unit and by collateral in the pool. After
// expiry long units are worthless and only the book sums are checked.
func (l *Ledger) CheckInvariants() error {
	if err := l.longs.CheckSum(); err != nil {
		return fmt.Errorf("ledger %s long book: %w", l.address.Hex(), err)
	}
	if err := l.pool.CheckInvariants(); err != nil {
		return err
	}
	if !l.pool.State().PreExpiry() {
		return nil
	}
	longs := l.longs.TotalSupply()
	if shorts := l.pool.TotalSupply(); longs.Gt(shorts) {
		return fmt.Errorf("ledger %s: long supply %s exceeds short supply %s",
			l.address.Hex(), longs.Dec(), shorts.Dec())
	}
	if reserve := l.pool.CollateralReserve(); longs.Gt(reserve) {
		return fmt.Errorf("ledger %s: long supply %s exceeds collateral reserve %s",
			l.address.Hex(), longs.Dec(), reserve.Dec())
	}
	return nil
}

// === Settlement ===

// Mint pulls amount collateral from caller into the pool, credits the short
// units to caller and the long units to `to`.
func (l *Ledger) Mint(caller, to common.Address, amount *uint256.Int, permit *authority.Permit) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	if to == (common.Address{}) {
		return fmt.Errorf("%w: mint to the zero address", domain.ErrInvalidValue)
	}
	if err := l.pool.Mint(l.address, caller, caller, amount, permit); err != nil {
		return err
	}
	l.issue(to, amount)
	return nil
}

// Exercise burns amount long units of caller, who pays the consideration
// and receives the collateral.
func (l *Ledger) Exercise(caller common.Address, amount *uint256.Int, permit *authority.Permit) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	if err := l.requireLong(caller, amount); err != nil {
		return err
	}
	if _, _, err := l.pool.Exercise(l.address, caller, caller, amount, permit); err != nil {
		return err
	}
	l.retire(caller, amount)
	return nil
}

// Close burns amount matching long and short units of caller before expiry
// and releases the pro-rata share of both reserves.
func (l *Ledger) Close(caller common.Address, amount *uint256.Int) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	if err := l.requireLong(caller, amount); err != nil {
		return err
	}
	if _, _, err := l.pool.Close(l.address, caller, amount); err != nil {
		return err
	}
	l.retire(caller, amount)
	return nil
}

// Redeem forwards a post-expiry redemption of caller's short units.
func (l *Ledger) Redeem(caller common.Address, amount *uint256.Int) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	_, _, err := l.pool.Redeem(caller, caller, amount)
	return err
}

// === Transfers ===

func (l *Ledger) Approve(owner, spender common.Address, amount *uint256.Int) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	if spender == (common.Address{}) {
		return fmt.Errorf("%w: approve to the zero address", domain.ErrInvalidValue)
	}
	if amount == nil {
		amount = new(uint256.Int)
	}
	spenders, ok := l.allowances[owner]
	if !ok {
		spenders = make(map[common.Address]*uint256.Int)
		l.allowances[owner] = spenders
	}
	spenders[spender] = new(uint256.Int).Set(amount)

	l.sink.Emit(&event.AllowanceSet{
		Asset:   l.address,
		Owner:   owner,
		Spender: spender,
		Amount:  new(uint256.Int).Set(amount),
	})
	return nil
}

// Transfer moves amount long units from caller to `to`. Under the intent
// policy a shortfall is minted for caller first, pulling its collateral
// with the optional permit, and the transfer event is flagged AutoMinted.
func (l *Ledger) Transfer(caller, to common.Address, amount *uint256.Int, permit *authority.Permit) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	if err := l.requireTransferable(caller, to, amount); err != nil {
		return err
	}
	shortfall, err := l.transfer.Shortfall(l.longs.BalanceOf(caller), amount)
	if err != nil {
		return err
	}
	autoMinted := !shortfall.IsZero()
	if autoMinted {
		if err := l.pool.Mint(l.address, caller, caller, shortfall, permit); err != nil {
			return err
		}
		l.issue(caller, shortfall)
	}

	l.move(caller, to, amount, autoMinted)
	return nil
}

// TransferFrom moves amount long units on spender's allowance. If `to`
// holds short units the receipt policy may settle pairs on its behalf:
// closed against the pool before expiry, redeemed after.
func (l *Ledger) TransferFrom(spender, from, to common.Address, amount *uint256.Int) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	if err := l.requireTransferable(from, to, amount); err != nil {
		return err
	}
	allowed := l.allowances[from][spender]
	if allowed == nil || allowed.Lt(amount) {
		have := new(uint256.Int)
		if allowed != nil {
			have.Set(allowed)
		}
		return fmt.Errorf("%w: %s allows %s %s long units, needs %s", domain.ErrInsufficientAllowance,
			from.Hex(), spender.Hex(), have.Dec(), amount.Dec())
	}
	if err := l.requireLong(from, amount); err != nil {
		return err
	}

	if !allowed.Eq(new(uint256.Int).SetAllOne()) {
		allowed.Sub(allowed, amount)
	}
	l.move(from, to, amount, false)

	settle := l.receipt.Settle(l.pool.BalanceOf(to), amount)
	if settle.IsZero() {
		return nil
	}
	// to holds at least settle short units and, after the move, at least
	// settle long units, so neither call below can fail.
	if l.pool.State().PreExpiry() {
		if _, _, err := l.pool.Close(l.address, to, settle); err != nil {
			panic(fmt.Sprintf("FATAL: receipt close for %s: %v", to.Hex(), err))
		}
		l.retire(to, settle)
		return nil
	}
	if _, _, err := l.pool.Redeem(l.address, to, settle); err != nil {
		panic(fmt.Sprintf("FATAL: receipt redeem for %s: %v", to.Hex(), err))
	}
	return nil
}

// === Administration ===

// Lock and Unlock are reserved to the series admin and forwarded to the
// pool, which this ledger owns.
func (l *Ledger) Lock(caller common.Address) error {
	if err := l.requireAdmin(caller); err != nil {
		return err
	}
	return l.pool.Lock(l.address, caller)
}

func (l *Ledger) Unlock(caller common.Address) error {
	if err := l.requireAdmin(caller); err != nil {
		return err
	}
	return l.pool.Unlock(l.address, caller)
}

func (l *Ledger) AdjustFee(caller common.Address, bps uint64) error {
	if err := l.requireAdmin(caller); err != nil {
		return err
	}
	return l.pool.AdjustFee(l.address, bps)
}

func (l *Ledger) ClaimFees(caller common.Address) (*uint256.Int, error) {
	return l.pool.ClaimFees(caller)
}

// === Helpers ===

func (l *Ledger) requireAdmin(caller common.Address) error {
	if caller != l.pool.Admin() {
		return fmt.Errorf("%w: %s is not the series admin", domain.ErrUnauthorized, caller.Hex())
	}
	return nil
}

func (l *Ledger) requireLong(holder common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidValue)
	}
	if bal := l.longs.BalanceOf(holder); bal.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s long units, needs %s",
			domain.ErrInsufficientBalance, holder.Hex(), bal.Dec(), amount.Dec())
	}
	return nil
}

func (l *Ledger) requireTransferable(from, to common.Address, amount *uint256.Int) error {
	if l.pool.State() == pool.StateLocked {
		return fmt.Errorf("%w: series %s", domain.ErrLockedContract, l.pool.SeriesID().Hex())
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidValue)
	}
	if to == (common.Address{}) || to == from {
		return fmt.Errorf("%w: invalid recipient %s", domain.ErrInvalidValue, to.Hex())
	}
	return nil
}

// issue credits long units. Long supply never exceeds short supply, which
// the pool has already checked for overflow.
func (l *Ledger) issue(to common.Address, amount *uint256.Int) {
	if err := l.longs.Mint(to, amount); err != nil {
		panic(fmt.Sprintf("FATAL: long mint after pool mint: %v", err))
	}
	l.emitTransfer(common.Address{}, to, amount, false)
}

func (l *Ledger) retire(from common.Address, amount *uint256.Int) {
	if err := l.longs.Burn(from, amount); err != nil {
		panic(fmt.Sprintf("FATAL: long burn after balance check: %v", err))
	}
	l.emitTransfer(from, common.Address{}, amount, false)
}

func (l *Ledger) move(from, to common.Address, amount *uint256.Int, autoMinted bool) {
	if err := l.longs.Move(from, to, amount); err != nil {
		panic(fmt.Sprintf("FATAL: long move after balance check: %v", err))
	}
	l.emitTransfer(from, to, amount, autoMinted)
}

func (l *Ledger) emitTransfer(from, to common.Address, amount *uint256.Int, autoMinted bool) {
	l.sink.Emit(&event.PositionTransferred{
		SeriesRef:  l.pool.Ref(),
		Side:       event.SideLong,
		From:       from,
		To:         to,
		Amount:     new(uint256.Int).Set(amount),
		AutoMinted: autoMinted,
	})
}
