package pool

import (
	"OptionSettle/internal/domain"
	"OptionSettle/internal/event"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Lock blocks position transfers until Unlock. Owner only, before expiry.
// Mint, exercise, close and redeem stay available while locked.
func (p *RedemptionPool) Lock(caller, by common.Address) error {
	return p.setLocked(caller, by, true)
}

func (p *RedemptionPool) Unlock(caller, by common.Address) error {
	return p.setLocked(caller, by, false)
}

func (p *RedemptionPool) setLocked(caller, by common.Address, locked bool) error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit()

	if err := p.requireInitialized(); err != nil {
		return err
	}
	if err := p.requireOwner(caller); err != nil {
		return err
	}

	from := p.State()
	next := StateActive
	if locked {
		next = StateLocked
	}
	if from == StateExpired {
		return fmt.Errorf("%w: pool %s", domain.ErrContractExpired, p.address.Hex())
	}
	if !from.CanTransitionTo(next) {
		return fmt.Errorf("%w: pool %s is already %s", domain.ErrInvalidValue, p.address.Hex(), from)
	}
	p.locked = locked

	if locked {
		p.sink.Emit(&event.ContractLocked{SeriesRef: p.Ref(), By: by})
	} else {
		p.sink.Emit(&event.ContractUnlocked{SeriesRef: p.Ref(), By: by})
	}
	return nil
}

// ClaimFees pays all accrued fees to the series admin and zeroes the
// accrual. Callable by anyone in any state; a zero accrual is a no-op.
func (p *RedemptionPool) ClaimFees(caller common.Address) (*uint256.Int, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.exit()

	if err := p.requireInitialized(); err != nil {
		return nil, err
	}
	claimed := new(uint256.Int).Set(&p.feesAccrued)
	if claimed.IsZero() {
		return claimed, nil
	}

	p.feesAccrued.Clear()
	p.payOut(p.consideration.Address(), p.admin, claimed)

	p.sink.Emit(&event.FeeClaimed{
		SeriesRef:   p.Ref(),
		Beneficiary: p.admin,
		Amount:      new(uint256.Int).Set(claimed),
	})
	return claimed, nil
}

// AdjustFee lowers the exercise fee rate. Owner only; raising the rate or
// exceeding the cap is rejected.
func (p *RedemptionPool) AdjustFee(caller common.Address, bps uint64) error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit()

	if err := p.requireInitialized(); err != nil {
		return err
	}
	if err := p.requireOwner(caller); err != nil {
		return err
	}
	old := p.conv.FeeRateBps()
	if err := p.conv.SetFeeRate(bps); err != nil {
		return err
	}

	p.sink.Emit(&event.FeeAdjusted{SeriesRef: p.Ref(), OldRateBps: old, NewRateBps: bps})
	return nil
}

// TransferOwnership hands the pool from the factory to its paired ledger.
// It happens once and cannot be undone; the target must be the ledger named
// at Init and must report this pool as its pair.
func (p *RedemptionPool) TransferOwnership(caller common.Address, to PairedLedger) error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.exit()

	if err := p.requireInitialized(); err != nil {
		return err
	}
	if err := p.requireOwner(caller); err != nil {
		return err
	}
	if p.handedOff {
		return fmt.Errorf("%w: pool %s ownership already transferred", domain.ErrUnauthorized, p.address.Hex())
	}
	if to == nil || to.Address() != p.ledgerAddr {
		return fmt.Errorf("%w: new owner is not the paired ledger %s", domain.ErrInvalidValue, p.ledgerAddr.Hex())
	}
	if to.Pool() != p.address {
		return fmt.Errorf("%w: ledger %s is paired with %s, not %s",
			domain.ErrInvalidValue, p.ledgerAddr.Hex(), to.Pool().Hex(), p.address.Hex())
	}

	prev := p.owner
	p.owner = to.Address()
	p.handedOff = true

	p.sink.Emit(&event.OwnershipTransferred{SeriesRef: p.Ref(), PreviousOwner: prev, NewOwner: p.owner})
	return nil
}
