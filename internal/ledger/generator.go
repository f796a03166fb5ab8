package ledger

import (
	"OptionSettle/internal/event"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// batchNamespace seeds deterministic batch ids, so a replayed command
// produces byte-identical journals.
var batchNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("optionsettle.ledger.batch"))

// JournalGenerator creates balanced journal batches from settlement events
type JournalGenerator struct{}

func NewJournalGenerator() *JournalGenerator {
	return &JournalGenerator{}
}

// batchBuilder accumulates the entries of one batch
type batchBuilder struct {
	batch *Batch
}

func newBatchBuilder(eventRef string, sequence, timestamp int64) *batchBuilder {
	batchID := uuid.NewSHA1(batchNamespace, []byte(strconv.FormatInt(sequence, 10)+":"+eventRef))
	return &batchBuilder{
		batch: &Batch{
			BatchID:   batchID,
			EventRef:  eventRef,
			Sequence:  sequence,
			Timestamp: timestamp,
			Journals:  make([]Journal, 0, 4),
		},
	}
}

// post appends one entry; zero amounts and self-moves post nothing.
func (b *batchBuilder) post(debit, credit AccountKey, amount *uint256.Int, jt JournalType) {
	if amount == nil || amount.IsZero() || debit == credit {
		return
	}
	idx := len(b.batch.Journals)
	b.batch.Journals = append(b.batch.Journals, Journal{
		JournalID:     uuid.NewSHA1(b.batch.BatchID, []byte(strconv.Itoa(idx))),
		BatchID:       b.batch.BatchID,
		EventRef:      b.batch.EventRef,
		Sequence:      b.batch.Sequence,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        new(uint256.Int).Set(amount),
		JournalType:   jt,
		Timestamp:     b.batch.Timestamp,
	})
}

// GenerateBatch turns the events of one command into a single batch.
// State-only commands (lock, fee adjustment, approvals) yield an empty batch.
func (jg *JournalGenerator) GenerateBatch(
	eventRef string,
	sequence int64,
	timestamp int64,
	events []event.Event,
) (*Batch, error) {
	b := newBatchBuilder(eventRef, sequence, timestamp)

	for _, evt := range events {
		switch e := evt.(type) {
		case *event.AssetDeposited:
			// external:deposits -> user:wallet
			b.post(
				NewUserAccountKey(e.Account, SubTypeWallet, e.Asset),
				NewExternalAccountKey(SubTypeExternalDeposits, e.Asset),
				e.Amount, JournalTypeDeposit,
			)

		case *event.AssetWithdrawn:
			// user:wallet -> external:withdrawals
			b.post(
				NewExternalAccountKey(SubTypeExternalWithdrawals, e.Asset),
				NewUserAccountKey(e.Account, SubTypeWallet, e.Asset),
				e.Amount, JournalTypeWithdrawal,
			)

		case *event.PositionMinted:
			// minter:wallet -> pool:collateral_reserve
			b.post(
				NewSystemAccountKey(e.Pool, SubTypeCollateralReserve, e.Collateral),
				NewUserAccountKey(e.Minter, SubTypeWallet, e.Collateral),
				e.Amount, JournalTypeCollateralLock,
			)
			// pool:short_issuance -> holder:short
			b.post(
				NewUserAccountKey(e.Holder, SubTypeShort, e.Pool),
				NewSystemAccountKey(e.Pool, SubTypeShortIssuance, e.Pool),
				e.Amount, JournalTypePositionIssue,
			)

		case *event.PositionExercised:
			if e.Fee.Gt(e.Payment) {
				return nil, fmt.Errorf("exercise fee %s exceeds payment %s", e.Fee.Dec(), e.Payment.Dec())
			}
			net := new(uint256.Int).Sub(e.Payment, e.Fee)
			// payer:wallet -> pool:consideration_reserve (net of fee)
			b.post(
				NewSystemAccountKey(e.Pool, SubTypeConsiderationReserve, e.Consideration),
				NewUserAccountKey(e.Payer, SubTypeWallet, e.Consideration),
				net, JournalTypeExercisePayment,
			)
			// payer:wallet -> pool:fees
			b.post(
				NewSystemAccountKey(e.Pool, SubTypeFees, e.Consideration),
				NewUserAccountKey(e.Payer, SubTypeWallet, e.Consideration),
				e.Fee, JournalTypeExerciseFee,
			)
			// pool:collateral_reserve -> holder:wallet
			b.post(
				NewUserAccountKey(e.Holder, SubTypeWallet, e.Collateral),
				NewSystemAccountKey(e.Pool, SubTypeCollateralReserve, e.Collateral),
				e.Amount, JournalTypeExerciseRelease,
			)

		case *event.PositionClosed:
			b.postRelease(e.SeriesRef, e.Holder, e.Amount, e.CollateralOut, e.ConsiderationOut)

		case *event.PositionRedeemed:
			b.postRelease(e.SeriesRef, e.Holder, e.Amount, e.CollateralOut, e.ConsiderationOut)

		case *event.HolderSwept:
			b.postRelease(e.SeriesRef, e.Holder, e.Amount, e.CollateralOut, e.ConsiderationOut)

		case *event.PositionTransferred:
			if err := b.postTransfer(e); err != nil {
				return nil, err
			}

		case *event.FeeClaimed:
			// pool:fees -> beneficiary:wallet
			b.post(
				NewUserAccountKey(e.Beneficiary, SubTypeWallet, e.Consideration),
				NewSystemAccountKey(e.Pool, SubTypeFees, e.Consideration),
				e.Amount, JournalTypeFeeClaim,
			)

		case *event.SeriesCreated, *event.OwnershipTransferred, *event.AllowanceSet,
			*event.ContractLocked, *event.ContractUnlocked, *event.FeeAdjusted,
			*event.SweepCompleted:
			// no balance movement

		default:
			return nil, fmt.Errorf("no journal mapping for event %T", evt)
		}
	}

	return b.batch, nil
}

// postRelease burns short units and pays the released reserves to holder.
func (b *batchBuilder) postRelease(ref event.SeriesRef, holder common.Address, amount, collOut, consOut *uint256.Int) {
	b.post(
		NewSystemAccountKey(ref.Pool, SubTypeShortIssuance, ref.Pool),
		NewUserAccountKey(holder, SubTypeShort, ref.Pool),
		amount, JournalTypePositionBurn,
	)
	b.post(
		NewUserAccountKey(holder, SubTypeWallet, ref.Collateral),
		NewSystemAccountKey(ref.Pool, SubTypeCollateralReserve, ref.Collateral),
		collOut, JournalTypeReserveRelease,
	)
	b.post(
		NewUserAccountKey(holder, SubTypeWallet, ref.Consideration),
		NewSystemAccountKey(ref.Pool, SubTypeConsiderationReserve, ref.Consideration),
		consOut, JournalTypeReserveRelease,
	)
}

func (b *batchBuilder) postTransfer(e *event.PositionTransferred) error {
	var (
		asset    common.Address
		holding  AccountSubType
		issuance AccountSubType
	)
	switch e.Side {
	case event.SideLong:
		asset, holding, issuance = e.Ledger, SubTypeLong, SubTypeLongIssuance
	case event.SideShort:
		asset, holding, issuance = e.Pool, SubTypeShort, SubTypeShortIssuance
	default:
		return fmt.Errorf("position transfer with unknown side %d", e.Side)
	}

	issue := NewSystemAccountKey(asset, issuance, asset)
	switch {
	case e.From == (common.Address{}):
		b.post(NewUserAccountKey(e.To, holding, asset), issue, e.Amount, JournalTypePositionIssue)
	case e.To == (common.Address{}):
		b.post(issue, NewUserAccountKey(e.From, holding, asset), e.Amount, JournalTypePositionBurn)
	default:
		b.post(
			NewUserAccountKey(e.To, holding, asset),
			NewUserAccountKey(e.From, holding, asset),
			e.Amount, JournalTypePositionTransfer,
		)
	}
	return nil
}
