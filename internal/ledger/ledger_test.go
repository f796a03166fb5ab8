package ledger_test

import (
	"OptionSettle/internal/domain"
	"OptionSettle/internal/event"
	"OptionSettle/internal/ledger"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	usdc  = common.HexToAddress("0x000000000000000000000000000000000000dc01")
	weth  = common.HexToAddress("0x000000000000000000000000000000000000e701")
	pool  = common.HexToAddress("0x0000000000000000000000000000000000001001")
	long  = common.HexToAddress("0x0000000000000000000000000000000000002002")
)

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

func testRef() event.SeriesRef {
	return event.SeriesRef{
		SeriesID:      common.HexToHash("0x01"),
		Pool:          pool,
		Ledger:        long,
		Collateral:    weth,
		Consideration: usdc,
	}
}

// ============================================================================
// Test: Book
// ============================================================================

func TestBook_MintBurnMove(t *testing.T) {
	b := ledger.NewBook()

	if err := b.Mint(alice, u(100)); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := b.Move(alice, bob, u(30)); err != nil {
		t.Fatalf("Move: %v", err)
	}
	if err := b.Burn(bob, u(10)); err != nil {
		t.Fatalf("Burn: %v", err)
	}

	if !b.BalanceOf(alice).Eq(u(70)) {
		t.Errorf("alice: got %s, want 70", b.BalanceOf(alice).Dec())
	}
	if !b.BalanceOf(bob).Eq(u(20)) {
		t.Errorf("bob: got %s, want 20", b.BalanceOf(bob).Dec())
	}
	if !b.TotalSupply().Eq(u(90)) {
		t.Errorf("supply: got %s, want 90", b.TotalSupply().Dec())
	}
	if err := b.CheckSum(); err != nil {
		t.Errorf("CheckSum: %v", err)
	}
}

func TestBook_InsufficientLeavesStateUntouched(t *testing.T) {
	b := ledger.NewBook()
	_ = b.Mint(alice, u(5))

	if err := b.Move(alice, bob, u(6)); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("Move: expected ErrInsufficientBalance, got %v", err)
	}
	if err := b.Burn(bob, u(1)); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("Burn: expected ErrInsufficientBalance, got %v", err)
	}
	if !b.BalanceOf(alice).Eq(u(5)) || !b.BalanceOf(bob).IsZero() || !b.TotalSupply().Eq(u(5)) {
		t.Error("failed operations must not change balances")
	}
}

func TestBook_MintOverflow(t *testing.T) {
	b := ledger.NewBook()
	allOnes := new(uint256.Int).SetAllOne()
	if err := b.Mint(alice, allOnes); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := b.Mint(bob, u(1)); !errors.Is(err, domain.ErrArithmeticOverflow) {
		t.Errorf("expected ErrArithmeticOverflow, got %v", err)
	}
	if !b.BalanceOf(bob).IsZero() {
		t.Error("overflowing mint must not credit")
	}
}

func TestBook_BalanceOfReturnsCopy(t *testing.T) {
	b := ledger.NewBook()
	_ = b.Mint(alice, u(10))

	bal := b.BalanceOf(alice)
	bal.SetUint64(999)
	if !b.BalanceOf(alice).Eq(u(10)) {
		t.Error("mutating a returned balance must not affect the book")
	}
}

func TestBook_ZeroAmountsOnUnknownAccount(t *testing.T) {
	b := ledger.NewBook()
	if err := b.Burn(alice, u(0)); err != nil {
		t.Errorf("zero burn: %v", err)
	}
	if err := b.Move(alice, bob, u(0)); err != nil {
		t.Errorf("zero move: %v", err)
	}
}

func TestBook_HoldersSkipsZero(t *testing.T) {
	b := ledger.NewBook()
	_ = b.Mint(bob, u(1))
	_ = b.Mint(alice, u(1))
	_ = b.Burn(bob, u(1))

	holders := b.Holders()
	if len(holders) != 1 || holders[0] != alice {
		t.Errorf("holders: got %v, want [alice]", holders)
	}
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_Paths(t *testing.T) {
	cases := []struct {
		key  ledger.AccountKey
		want string
	}{
		{ledger.NewUserAccountKey(alice, ledger.SubTypeWallet, usdc),
			"user:" + alice.Hex() + ":wallet:" + usdc.Hex()},
		{ledger.NewSystemAccountKey(pool, ledger.SubTypeCollateralReserve, weth),
			"system:" + pool.Hex() + ":collateral_reserve:" + weth.Hex()},
		{ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, usdc),
			"external:deposits:" + usdc.Hex()},
	}
	for _, tc := range cases {
		if got := tc.key.AccountPath(); got != tc.want {
			t.Errorf("got %q, want %q", got, tc.want)
		}
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func depositJournal(owner common.Address, asset common.Address, amount uint64) ledger.Journal {
	return ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(owner, ledger.SubTypeWallet, asset),
		CreditAccount: ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, asset),
		Amount:        u(amount),
	}
}

func TestBalanceTracker_ApplyJournal(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	bt.ApplyJournal(depositJournal(alice, usdc, 1_000_000))

	if got := bt.WalletBalance(alice, usdc); got.Int64() != 1_000_000 {
		t.Errorf("wallet: got %s, want 1000000", got)
	}
	ext := bt.GetBalance(ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, usdc))
	if ext.Int64() != -1_000_000 {
		t.Errorf("external: got %s, want -1000000", ext)
	}
}

func TestBalanceTracker_GlobalBalanceZeroSum(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("empty ledger should be zero-sum: %v", err)
	}

	bt.ApplyJournal(depositJournal(alice, usdc, 500))
	bt.ApplyJournal(depositJournal(bob, weth, 7))

	if err := v.ValidateGlobalBalance(); err != nil {
		t.Errorf("balanced ledger should be zero-sum: %v", err)
	}
	for asset, total := range bt.ComputeGlobalBalance() {
		if total.Sign() != 0 {
			t.Errorf("asset %s has non-zero global balance: %s", asset.Hex(), total)
		}
	}
}

func TestBalanceTracker_ValidateEquals(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	bt.ApplyJournal(depositJournal(alice, usdc, 42))
	key := ledger.NewUserAccountKey(alice, ledger.SubTypeWallet, usdc)

	if err := bt.ValidateEquals(key, u(42)); err != nil {
		t.Errorf("matching balance: %v", err)
	}
	if err := bt.ValidateEquals(key, u(41)); err == nil {
		t.Error("expected mismatch error")
	}
}

func TestBalanceTracker_Snapshot(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	bt.ApplyJournal(depositJournal(alice, usdc, 999))

	snap := bt.Snapshot()
	if len(snap) == 0 {
		t.Fatal("snapshot should not be empty")
	}
	for _, v := range snap {
		v.SetInt64(0)
	}
	if bt.WalletBalance(alice, usdc).Int64() != 999 {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func singleJournalBatch(mutate func(j *ledger.Journal)) *ledger.Batch {
	batchID := uuid.New()
	j := depositJournal(alice, usdc, 100)
	j.BatchID = batchID
	if mutate != nil {
		mutate(&j)
	}
	return &ledger.Batch{BatchID: batchID, Journals: []ledger.Journal{j}}
}

func TestBatchValidate(t *testing.T) {
	same := ledger.NewUserAccountKey(alice, ledger.SubTypeWallet, usdc)

	cases := []struct {
		name    string
		batch   *ledger.Batch
		wantErr bool
	}{
		{"valid", singleJournalBatch(nil), false},
		{"empty", &ledger.Batch{BatchID: uuid.New()}, true},
		{"zero amount", singleJournalBatch(func(j *ledger.Journal) { j.Amount = u(0) }), true},
		{"nil amount", singleJournalBatch(func(j *ledger.Journal) { j.Amount = nil }), true},
		{"self transfer", singleJournalBatch(func(j *ledger.Journal) {
			j.DebitAccount, j.CreditAccount = same, same
		}), true},
		{"mismatched batch id", singleJournalBatch(func(j *ledger.Journal) { j.BatchID = uuid.New() }), true},
		{"cross asset", singleJournalBatch(func(j *ledger.Journal) {
			j.CreditAccount = ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, weth)
		}), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.batch.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate: err=%v, wantErr=%v", err, tc.wantErr)
			}
		})
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func TestGenerator_MintExerciseRedeemIsZeroSum(t *testing.T) {
	ref := testRef()
	gen := ledger.NewJournalGenerator()
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)

	steps := [][]event.Event{
		{
			&event.AssetDeposited{Asset: weth, Account: alice, Amount: u(1000)},
			&event.AssetDeposited{Asset: usdc, Account: bob, Amount: u(5000)},
		},
		{
			&event.PositionMinted{SeriesRef: ref, Minter: alice, Holder: alice, Amount: u(1000)},
			&event.PositionTransferred{SeriesRef: ref, Side: event.SideLong, To: bob, Amount: u(1000)},
		},
		{
			&event.PositionExercised{SeriesRef: ref, Holder: bob, Payer: bob, Amount: u(100), Payment: u(200), Fee: u(2)},
			&event.PositionTransferred{SeriesRef: ref, Side: event.SideLong, From: bob, Amount: u(100)},
		},
		{
			&event.PositionRedeemed{SeriesRef: ref, Holder: alice, Amount: u(1000), CollateralOut: u(900), ConsiderationOut: u(198)},
		},
		{
			&event.FeeClaimed{SeriesRef: ref, Beneficiary: alice, Amount: u(2)},
		},
	}

	for i, events := range steps {
		batch, err := gen.GenerateBatch("cmd", int64(i), 0, events)
		if err != nil {
			t.Fatalf("step %d: GenerateBatch: %v", i, err)
		}
		if err := bt.ApplyBatch(batch); err != nil {
			t.Fatalf("step %d: ApplyBatch: %v", i, err)
		}
		if err := v.ValidateTouchedNonNegative(batch); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if err := v.ValidateGlobalBalance(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	checks := []struct {
		key  ledger.AccountKey
		want int64
	}{
		{ledger.NewUserAccountKey(alice, ledger.SubTypeWallet, weth), 900},
		{ledger.NewUserAccountKey(alice, ledger.SubTypeWallet, usdc), 200},
		{ledger.NewUserAccountKey(bob, ledger.SubTypeWallet, weth), 100},
		{ledger.NewUserAccountKey(bob, ledger.SubTypeWallet, usdc), 4800},
		{ledger.NewUserAccountKey(bob, ledger.SubTypeLong, long), 900},
		{ledger.NewUserAccountKey(alice, ledger.SubTypeShort, pool), 0},
		{ledger.NewSystemAccountKey(pool, ledger.SubTypeCollateralReserve, weth), 0},
		{ledger.NewSystemAccountKey(pool, ledger.SubTypeConsiderationReserve, usdc), 0},
		{ledger.NewSystemAccountKey(pool, ledger.SubTypeFees, usdc), 0},
	}
	for _, c := range checks {
		if got := bt.GetBalance(c.key); got.Int64() != c.want {
			t.Errorf("%s: got %s, want %d", c.key.AccountPath(), got, c.want)
		}
	}
	if r := bt.ReserveBalance(pool, ledger.SubTypeCollateralReserve, weth); r.Sign() != 0 {
		t.Errorf("collateral reserve after full redeem = %s", r)
	}
}

func TestGenerator_StateOnlyEventsYieldEmptyBatch(t *testing.T) {
	ref := testRef()
	batch, err := ledger.NewJournalGenerator().GenerateBatch("lock-1", 3, 0, []event.Event{
		&event.ContractLocked{SeriesRef: ref, By: alice},
		&event.FeeAdjusted{SeriesRef: ref, OldRateBps: 30, NewRateBps: 10},
	})
	if err != nil {
		t.Fatalf("GenerateBatch: %v", err)
	}
	if len(batch.Journals) != 0 {
		t.Errorf("expected no journals, got %d", len(batch.Journals))
	}
}

func TestGenerator_DeterministicIDs(t *testing.T) {
	events := []event.Event{&event.AssetDeposited{Asset: usdc, Account: alice, Amount: u(1)}}
	gen := ledger.NewJournalGenerator()

	a, _ := gen.GenerateBatch("dep-1", 10, 0, events)
	b, _ := gen.GenerateBatch("dep-1", 10, 0, events)
	c, _ := gen.GenerateBatch("dep-1", 11, 0, events)

	if a.BatchID != b.BatchID || a.Journals[0].JournalID != b.Journals[0].JournalID {
		t.Error("same ref and sequence must produce the same ids")
	}
	if a.BatchID == c.BatchID {
		t.Error("different sequence must produce a different batch id")
	}
}

func TestGenerator_SelfTransferPostsNothing(t *testing.T) {
	batch, err := ledger.NewJournalGenerator().GenerateBatch("x", 0, 0, []event.Event{
		&event.PositionTransferred{SeriesRef: testRef(), Side: event.SideShort, From: alice, To: alice, Amount: u(5)},
	})
	if err != nil {
		t.Fatalf("GenerateBatch: %v", err)
	}
	if len(batch.Journals) != 0 {
		t.Errorf("expected no journals, got %d", len(batch.Journals))
	}
}
