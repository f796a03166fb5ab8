package pool

import (
	"OptionSettle/internal/authority"
	"OptionSettle/internal/domain"
	"OptionSettle/internal/event"
	fpmath "OptionSettle/internal/math"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Mint pulls amount collateral from minter and credits amount short units
// to holder. The owner (the paired ledger) may mint for anyone; any other
// caller may only mint its own collateral.
func (p *RedemptionPool) Mint(caller, minter, holder common.Address, amount *uint256.Int, permit *authority.Permit) error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit()

	if err := p.requireInitialized(); err != nil {
		return err
	}
	if caller != p.owner && caller != minter {
		return fmt.Errorf("%w: %s may not mint for %s", domain.ErrUnauthorized, caller.Hex(), minter.Hex())
	}
	if !p.State().PreExpiry() {
		return fmt.Errorf("%w: mint after %s", domain.ErrContractExpired, p.expiration.UTC())
	}
	if err := requirePositive(amount); err != nil {
		return err
	}
	if holder == (common.Address{}) {
		return fmt.Errorf("%w: holder is the zero address", domain.ErrInvalidValue)
	}
	if _, overflow := new(uint256.Int).AddOverflow(p.shorts.TotalSupply(), amount); overflow {
		return fmt.Errorf("%w: short supply", domain.ErrArithmeticOverflow)
	}

	req := p.pullRequest(p.collateral.Address(), minter, amount, permit)
	path, err := p.auth.Resolve(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInsufficientCollateral, err)
	}
	if err := path.Execute(req); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInsufficientCollateral, err)
	}

	// Supply was checked above and balances never exceed it.
	if err := p.shorts.Mint(holder, amount); err != nil {
		panic(fmt.Sprintf("FATAL: short mint after collateral pull: %v", err))
	}
	p.holders.Record(holder)
	p.collateralReserve.Add(&p.collateralReserve, amount)

	p.sink.Emit(&event.PositionMinted{
		SeriesRef: p.Ref(),
		Minter:    minter,
		Holder:    holder,
		Amount:    new(uint256.Int).Set(amount),
	})
	return nil
}

// Exercise settles amount long units: payer pays ToConsideration(amount)
// consideration, the fee on it is accrued, and amount collateral is
// released to holder. Owner only, before expiry. Short supply is not
// burned; short holders later redeem the consideration that replaced the
// collateral.
func (p *RedemptionPool) Exercise(caller, holder, payer common.Address, amount *uint256.Int, permit *authority.Permit) (payment, fee *uint256.Int, err error) {
	if err := p.enter(); err != nil {
		return nil, nil, err
	}
	defer p.exit()

	if err := p.requireInitialized(); err != nil {
		return nil, nil, err
	}
	if err := p.requireOwner(caller); err != nil {
		return nil, nil, err
	}
	if !p.State().PreExpiry() {
		return nil, nil, fmt.Errorf("%w: exercise after %s", domain.ErrContractExpired, p.expiration.UTC())
	}
	if err := requirePositive(amount); err != nil {
		return nil, nil, err
	}
	if holder == (common.Address{}) {
		return nil, nil, fmt.Errorf("%w: holder is the zero address", domain.ErrInvalidValue)
	}
	if amount.Gt(&p.collateralReserve) {
		return nil, nil, fmt.Errorf("%w: exercise of %s exceeds reserve %s",
			domain.ErrInsufficientCollateral, amount.Dec(), p.collateralReserve.Dec())
	}

	payment, err = p.conv.ToConsideration(amount)
	if err != nil {
		return nil, nil, err
	}
	if payment.IsZero() {
		return nil, nil, fmt.Errorf("%w: exercise of %s settles to zero consideration", domain.ErrInvalidValue, amount.Dec())
	}
	fee, err = p.conv.ToFee(payment)
	if err != nil {
		return nil, nil, err
	}

	req := p.pullRequest(p.consideration.Address(), payer, payment, permit)
	path, err := p.auth.Resolve(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", domain.ErrInsufficientConsideration, err)
	}
	if err := path.Execute(req); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", domain.ErrInsufficientConsideration, err)
	}
	p.payOut(p.collateral.Address(), holder, amount)

	net := new(uint256.Int).Sub(payment, fee)
	p.considerationReserve.Add(&p.considerationReserve, net)
	p.feesAccrued.Add(&p.feesAccrued, fee)
	p.collateralReserve.Sub(&p.collateralReserve, amount)

	p.sink.Emit(&event.PositionExercised{
		SeriesRef: p.Ref(),
		Holder:    holder,
		Payer:     payer,
		Amount:    new(uint256.Int).Set(amount),
		Payment:   new(uint256.Int).Set(payment),
		Fee:       new(uint256.Int).Set(fee),
	})
	return payment, fee, nil
}

// Close burns amount short units of holder before expiry and releases the
// pro-rata share of both reserves. Owner only: the paired ledger burns the
// matching long units in the same operation.
func (p *RedemptionPool) Close(caller, holder common.Address, amount *uint256.Int) (collOut, consOut *uint256.Int, err error) {
	if err := p.enter(); err != nil {
		return nil, nil, err
	}
	defer p.exit()

	if err := p.requireInitialized(); err != nil {
		return nil, nil, err
	}
	if err := p.requireOwner(caller); err != nil {
		return nil, nil, err
	}
	if !p.State().PreExpiry() {
		return nil, nil, fmt.Errorf("%w: close after %s", domain.ErrContractExpired, p.expiration.UTC())
	}

	collOut, consOut, err = p.release(holder, amount)
	if err != nil {
		return nil, nil, err
	}
	p.sink.Emit(&event.PositionClosed{
		SeriesRef:        p.Ref(),
		Holder:           holder,
		Amount:           new(uint256.Int).Set(amount),
		CollateralOut:    collOut,
		ConsiderationOut: consOut,
	})
	return collOut, consOut, nil
}

// Redeem burns amount short units of holder after expiry and pays
// reserve * amount / supplyBeforeBurn of both reserves. The holder or the
// owner may call it.
func (p *RedemptionPool) Redeem(caller, holder common.Address, amount *uint256.Int) (collOut, consOut *uint256.Int, err error) {
	if err := p.enter(); err != nil {
		return nil, nil, err
	}
	defer p.exit()

	if err := p.requireInitialized(); err != nil {
		return nil, nil, err
	}
	if caller != holder && caller != p.owner {
		return nil, nil, fmt.Errorf("%w: %s may not redeem for %s", domain.ErrUnauthorized, caller.Hex(), holder.Hex())
	}
	if p.State() != StateExpired {
		return nil, nil, fmt.Errorf("%w: redeem before %s", domain.ErrContractNotExpired, p.expiration.UTC())
	}

	collOut, consOut, err = p.release(holder, amount)
	if err != nil {
		return nil, nil, err
	}
	p.sink.Emit(&event.PositionRedeemed{
		SeriesRef:        p.Ref(),
		Holder:           holder,
		Amount:           new(uint256.Int).Set(amount),
		CollateralOut:    collOut,
		ConsiderationOut: consOut,
	})
	return collOut, consOut, nil
}

// SweepResult summarizes one sweep call.
type SweepResult struct {
	Start           int
	Stop            int
	Swept           int
	RemainingSupply *uint256.Int
}

// Sweep redeems the full balance of every registered holder in
// [start, stop) after expiry. stop is clamped to the holder count and the
// requested width may not exceed the pool's max sweep batch. Holders with
// nothing left are skipped, so repeating a range is a no-op.
func (p *RedemptionPool) Sweep(caller common.Address, start, stop int) (SweepResult, error) {
	if err := p.enter(); err != nil {
		return SweepResult{}, err
	}
	defer p.exit()

	if err := p.requireInitialized(); err != nil {
		return SweepResult{}, err
	}
	if p.State() != StateExpired {
		return SweepResult{}, fmt.Errorf("%w: sweep before %s", domain.ErrContractNotExpired, p.expiration.UTC())
	}
	if start < 0 || start > stop {
		return SweepResult{}, fmt.Errorf("%w: sweep range [%d, %d)", domain.ErrInvalidValue, start, stop)
	}
	if stop-start > p.maxSweep {
		return SweepResult{}, fmt.Errorf("%w: sweep width %d exceeds %d", domain.ErrInvalidValue, stop-start, p.maxSweep)
	}
	if n := p.holders.Count(); stop > n {
		stop = n
	}
	if start > stop {
		start = stop
	}

	ref := p.Ref()
	res := SweepResult{Start: start, Stop: stop}
	for i := start; i < stop; i++ {
		holder := p.holders.At(i)
		bal := p.shorts.BalanceOf(holder)
		if bal.IsZero() {
			continue
		}
		collOut, consOut, err := p.release(holder, bal)
		if err != nil {
			// Every check in release holds for a full, non-zero balance.
			panic(fmt.Sprintf("FATAL: sweep of holder %d (%s): %v", i, holder.Hex(), err))
		}
		res.Swept++
		p.sink.Emit(&event.HolderSwept{
			SeriesRef:        ref,
			Index:            i,
			Holder:           holder,
			Amount:           bal,
			CollateralOut:    collOut,
			ConsiderationOut: consOut,
		})
	}
	res.RemainingSupply = p.shorts.TotalSupply()

	p.sink.Emit(&event.SweepCompleted{
		SeriesRef:       ref,
		Start:           res.Start,
		Stop:            res.Stop,
		Swept:           res.Swept,
		Holders:         p.holders.Count(),
		RemainingSupply: new(uint256.Int).Set(res.RemainingSupply),
	})
	return res, nil
}

// Transfer moves short units. Blocked while locked.
func (p *RedemptionPool) Transfer(caller, from, to common.Address, amount *uint256.Int) error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit()

	if err := p.requireInitialized(); err != nil {
		return err
	}
	if caller != from && caller != p.owner {
		return fmt.Errorf("%w: %s may not move short units of %s", domain.ErrUnauthorized, caller.Hex(), from.Hex())
	}
	if p.State() == StateLocked {
		return fmt.Errorf("%w: pool %s", domain.ErrLockedContract, p.address.Hex())
	}
	if err := requirePositive(amount); err != nil {
		return err
	}
	if to == (common.Address{}) || to == from {
		return fmt.Errorf("%w: invalid short transfer recipient %s", domain.ErrInvalidValue, to.Hex())
	}
	if err := p.shorts.Move(from, to, amount); err != nil {
		return err
	}
	p.holders.Record(to)

	p.sink.Emit(&event.PositionTransferred{
		SeriesRef: p.Ref(),
		Side:      event.SideShort,
		From:      from,
		To:        to,
		Amount:    new(uint256.Int).Set(amount),
	})
	return nil
}

// release burns amount short units of holder and pays out the pro-rata
// share of both reserves, computed against the supply before the burn.
// Everything that can fail is checked before the first mutation.
func (p *RedemptionPool) release(holder common.Address, amount *uint256.Int) (collOut, consOut *uint256.Int, err error) {
	if err := requirePositive(amount); err != nil {
		return nil, nil, err
	}
	if bal := p.shorts.BalanceOf(holder); bal.Lt(amount) {
		return nil, nil, fmt.Errorf("%w: %s holds %s short units, needs %s",
			domain.ErrInsufficientBalance, holder.Hex(), bal.Dec(), amount.Dec())
	}
	supply := p.shorts.TotalSupply()
	if collOut, err = fpmath.MulDiv(&p.collateralReserve, amount, supply); err != nil {
		return nil, nil, err
	}
	if consOut, err = fpmath.MulDiv(&p.considerationReserve, amount, supply); err != nil {
		return nil, nil, err
	}

	if err := p.shorts.Burn(holder, amount); err != nil {
		panic(fmt.Sprintf("FATAL: short burn after balance check: %v", err))
	}
	p.collateralReserve.Sub(&p.collateralReserve, collOut)
	p.considerationReserve.Sub(&p.considerationReserve, consOut)
	p.payOut(p.collateral.Address(), holder, collOut)
	p.payOut(p.consideration.Address(), holder, consOut)
	return collOut, consOut, nil
}

// payOut sends pool-held funds. The pool's token balance always covers its
// reserves, so a failure here means the books are corrupt.
func (p *RedemptionPool) payOut(asset, to common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	a, err := p.assets.Get(asset)
	if err == nil {
		err = a.Transfer(p.address, to, amount)
	}
	if err != nil {
		panic(fmt.Sprintf("FATAL: pool %s payout of %s to %s: %v", p.address.Hex(), amount.Dec(), to.Hex(), err))
	}
}

func (p *RedemptionPool) pullRequest(asset, owner common.Address, amount *uint256.Int, permit *authority.Permit) authority.Request {
	return authority.Request{
		Asset:     asset,
		Owner:     owner,
		Spender:   p.address,
		Recipient: p.address,
		Amount:    amount,
		Permit:    permit,
		Now:       p.clock(),
	}
}

func requirePositive(amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: amount must be positive", domain.ErrInvalidValue)
	}
	return nil
}
