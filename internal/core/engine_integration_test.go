package core_test

import (
	"OptionSettle/internal/command"
	"OptionSettle/internal/core"
	"OptionSettle/internal/domain"
	"OptionSettle/internal/event"
	"OptionSettle/internal/factory"
	"OptionSettle/internal/pool"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// --- Test helpers ---

var (
	factoryAddr = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	wethAddr    = common.HexToAddress("0x000000000000000000000000000000000000e770")
	usdcAddr    = common.HexToAddress("0x000000000000000000000000000000000000c0dc")

	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x00000000000000000000000000000000000ca201")

	expirationUnix = int64(2_000_000)
	strike         = e18(2)
)

func e18(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}

func u(n uint64) *uint256.Int { return uint256.NewInt(n) }

func unlimited() *uint256.Int { return new(uint256.Int).SetAllOne() }

// newTestEngine creates an Engine with buffered channels, no DB checker
// and WETH/USDC registered.
func newTestEngine(t *testing.T) (*core.Engine, chan core.CoreOutput, chan core.CoreOutput) {
	t.Helper()
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	return mustEngine(t, persistChan, projChan), persistChan, projChan
}

func mustEngine(t *testing.T, persistChan, projChan chan core.CoreOutput) *core.Engine {
	t.Helper()
	e, err := core.NewEngine(core.Config{
		FactoryAddress: factoryAddr,
		ChainID:        31337,
		Template:       factory.DefaultTemplate(),
	}, 1, persistChan, projChan, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := e.RegisterAsset("WETH", wethAddr, 18); err != nil {
		t.Fatalf("register WETH: %v", err)
	}
	if _, err := e.RegisterAsset("USDC", usdcAddr, 6); err != nil {
		t.Fatalf("register USDC: %v", err)
	}
	return e
}

// at returns the versioned timestamp of a command issued n seconds after
// the test epoch.
func at(n int64) int64 {
	return time.Unix(1_000_000+n, 0).UnixMicro()
}

func afterExpiry(n int64) int64 {
	return time.Unix(expirationUnix+n, 0).UnixMicro()
}

func hdr(key string, caller common.Address, ts int64) command.Header {
	return command.Header{Key: key, Sender: caller, TimestampUs: ts}
}

func shdr(key string, caller common.Address, ts int64) command.SeriesHeader {
	return command.SeriesHeader{Header: hdr(key, caller, ts), Series: seriesID()}
}

func seriesID() common.Hash {
	return pool.DeriveSeriesID(wethAddr, usdcAddr, strike, time.Unix(expirationUnix, 0), false)
}

func poolAddr() common.Address {
	return factory.PoolAddress(factoryAddr, seriesID())
}

func mustApply(t *testing.T, e *core.Engine, cmd command.Command) *event.EventEnvelope {
	t.Helper()
	res, err := e.ProcessCommand(cmd)
	if err != nil {
		t.Fatalf("%s %s: %v", cmd.CommandType(), cmd.IdempotencyKey(), err)
	}
	if res.Duplicate {
		t.Fatalf("%s %s: unexpectedly duplicate", cmd.CommandType(), cmd.IdempotencyKey())
	}
	return res.Envelope
}

// setupScript funds alice and bob, creates the series with carol as admin
// and mints 5 options: long to bob, short to alice.
func setupScript() []command.Command {
	return []command.Command{
		&command.Deposit{Header: hdr("dep-alice", alice, at(1)), Asset: wethAddr, Amount: e18(10)},
		&command.Deposit{Header: hdr("dep-bob", bob, at(2)), Asset: usdcAddr, Amount: u(1_000_000_000)},
		&command.CreateSeries{
			Header:        hdr("create", carol, at(3)),
			Collateral:    wethAddr,
			Consideration: usdcAddr,
			Strike:        strike,
			Expiration:    expirationUnix,
		},
		&command.Approve{Header: hdr("approve-alice", alice, at(4)), Asset: wethAddr, Spender: poolAddr(), Amount: unlimited()},
		&command.Approve{Header: hdr("approve-bob", bob, at(5)), Asset: usdcAddr, Spender: poolAddr(), Amount: unlimited()},
		&command.Mint{SeriesHeader: shdr("mint", alice, at(6)), To: bob, Amount: e18(5)},
	}
}

func applyAll(t *testing.T, e *core.Engine, cmds []command.Command) []*event.EventEnvelope {
	t.Helper()
	out := make([]*event.EventEnvelope, 0, len(cmds))
	for _, c := range cmds {
		out = append(out, mustApply(t, e, c))
	}
	return out
}

func drainOutputs(ch chan core.CoreOutput) []core.CoreOutput {
	var outputs []core.CoreOutput
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

func mustView(t *testing.T, e *core.Engine, holder common.Address) core.HolderView {
	t.Helper()
	v, err := e.HolderView(seriesID(), holder)
	if err != nil {
		t.Fatalf("HolderView: %v", err)
	}
	return v
}

func assertAmount(t *testing.T, what string, got, want *uint256.Int) {
	t.Helper()
	if !got.Eq(want) {
		t.Errorf("%s = %s, want %s", what, got.Dec(), want.Dec())
	}
}

// ============================================================================
// Test: Settlement Lifecycle
// ============================================================================

func TestEngine_MintExerciseRedeemClaim(t *testing.T) {
	e, persistCh, _ := newTestEngine(t)
	applyAll(t, e, setupScript())

	bobView := mustView(t, e, bob)
	assertAmount(t, "bob long after mint", bobView.Long, e18(5))
	assertAmount(t, "alice short after mint", mustView(t, e, alice).Short, e18(5))

	// 2 WETH at 2.0 = 4 USDC, 30 bps fee = 0.012 USDC.
	mustApply(t, e, &command.Exercise{SeriesHeader: shdr("exercise", bob, at(7)), Amount: e18(2)})

	bobView = mustView(t, e, bob)
	assertAmount(t, "bob long after exercise", bobView.Long, e18(3))
	assertAmount(t, "bob weth", bobView.CollateralBalance, e18(2))
	assertAmount(t, "bob usdc", bobView.ConsiderationBalance, u(996_000_000))

	info, err := e.SeriesInfo(seriesID())
	if err != nil {
		t.Fatalf("SeriesInfo: %v", err)
	}
	assertAmount(t, "collateral reserve", info.CollateralReserve, e18(3))
	assertAmount(t, "consideration reserve", info.ConsiderationReserve, u(3_988_000))
	assertAmount(t, "fees", info.FeesAccrued, u(12_000))
	if info.State != pool.StateActive {
		t.Errorf("state = %s, want Active", info.State)
	}

	// After expiry alice redeems every short unit for both reserves.
	mustApply(t, e, &command.Redeem{SeriesHeader: shdr("redeem", alice, afterExpiry(1)), Amount: e18(5)})

	aliceView := mustView(t, e, alice)
	assertAmount(t, "alice short after redeem", aliceView.Short, u(0))
	assertAmount(t, "alice weth", aliceView.CollateralBalance, e18(8))
	assertAmount(t, "alice usdc", aliceView.ConsiderationBalance, u(3_988_000))
	if aliceView.State != "Expired" {
		t.Errorf("state = %s, want Expired", aliceView.State)
	}

	// Anyone may trigger the claim; the admin receives the fees.
	mustApply(t, e, &command.ClaimFees{SeriesHeader: shdr("claim", bob, afterExpiry(2))})
	assertAmount(t, "carol usdc", mustView(t, e, carol).ConsiderationBalance, u(12_000))

	outputs := drainOutputs(persistCh)
	if len(outputs) != 9 {
		t.Fatalf("expected 9 outputs, got %d", len(outputs))
	}
	for i, o := range outputs {
		if o.Envelope.Sequence != int64(i+1) {
			t.Errorf("output %d has sequence %d", i, o.Envelope.Sequence)
		}
		if i > 0 && o.Envelope.PrevHash != outputs[i-1].Envelope.StateHash {
			t.Errorf("output %d does not chain to its predecessor", i)
		}
	}
	if e.GetStateHash() != outputs[8].Envelope.StateHash {
		t.Error("chain tip differs from last envelope")
	}
}

func TestEngine_SweepAfterExpiry(t *testing.T) {
	e, _, _ := newTestEngine(t)
	applyAll(t, e, setupScript())

	env := mustApply(t, e, &command.Sweep{SeriesHeader: shdr("sweep", bob, afterExpiry(1)), Start: 0, Stop: 10})

	var swept, completed int
	for _, evt := range env.Events {
		switch evt.(type) {
		case *event.HolderSwept:
			swept++
		case *event.SweepCompleted:
			completed++
		}
	}
	if swept != 1 || completed != 1 {
		t.Errorf("sweep emitted %d HolderSwept and %d SweepCompleted", swept, completed)
	}
	assertAmount(t, "alice weth after sweep", mustView(t, e, alice).CollateralBalance, e18(10))

	info, _ := e.SeriesInfo(seriesID())
	assertAmount(t, "short supply", info.ShortSupply, u(0))
}

// ============================================================================
// Test: Rejections
// ============================================================================

func TestEngine_RejectedCommandLeavesNoTrace(t *testing.T) {
	e, persistCh, projCh := newTestEngine(t)
	cmds := setupScript()
	// Skip alice's approval so the mint cannot pull collateral.
	applyAll(t, e, append(cmds[:3:3], cmds[4]))
	drainOutputs(persistCh)
	drainOutputs(projCh)

	seq, hash := e.GetSequence(), e.GetStateHash()

	_, err := e.ProcessCommand(&command.Mint{SeriesHeader: shdr("mint", alice, at(6)), Amount: e18(5)})
	if !errors.Is(err, domain.ErrInsufficientCollateral) {
		t.Fatalf("expected ErrInsufficientCollateral, got %v", err)
	}

	if e.GetSequence() != seq || e.GetStateHash() != hash {
		t.Error("rejected command advanced the chain")
	}
	if n := len(drainOutputs(persistCh)) + len(drainOutputs(projCh)); n != 0 {
		t.Errorf("rejected command produced %d outputs", n)
	}
	assertAmount(t, "alice weth", mustView(t, e, alice).CollateralBalance, e18(10))

	// The key was not consumed: the same command succeeds once approved.
	mustApply(t, e, &command.Approve{Header: hdr("approve-alice", alice, at(7)), Asset: wethAddr, Spender: poolAddr(), Amount: unlimited()})
	mustApply(t, e, &command.Mint{SeriesHeader: shdr("mint", alice, at(8)), Amount: e18(5)})
}

func TestEngine_RejectsContractAddresses(t *testing.T) {
	e, _, _ := newTestEngine(t)
	applyAll(t, e, setupScript())

	tests := []struct {
		name string
		cmd  command.Command
	}{
		{"deposit to pool", &command.Deposit{Header: hdr("d1", alice, at(7)), Asset: wethAddr, Account: poolAddr(), Amount: e18(1)}},
		{"factory caller", &command.Withdraw{Header: hdr("w1", factoryAddr, at(7)), Asset: wethAddr, Amount: e18(1)}},
		{"short to pool", &command.TransferShort{SeriesHeader: shdr("s1", alice, at(7)), To: poolAddr(), Amount: e18(1)}},
		{"long to ledger", &command.Transfer{
			SeriesHeader: shdr("l1", bob, at(7)),
			To:           factory.LedgerAddress(factoryAddr, seriesID()),
			Amount:       e18(1),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.ProcessCommand(tt.cmd); !errors.Is(err, domain.ErrInvalidValue) {
				t.Errorf("expected ErrInvalidValue, got %v", err)
			}
		})
	}
}

func TestEngine_UnknownSeries(t *testing.T) {
	e, _, _ := newTestEngine(t)
	cmd := &command.Lock{SeriesHeader: command.SeriesHeader{
		Header: hdr("lock", carol, at(1)),
		Series: common.HexToHash("0x01"),
	}}
	if _, err := e.ProcessCommand(cmd); !errors.Is(err, domain.ErrSeriesNotFound) {
		t.Errorf("expected ErrSeriesNotFound, got %v", err)
	}
}

func TestEngine_InvalidHeader(t *testing.T) {
	e, _, _ := newTestEngine(t)
	cmd := &command.Deposit{Header: hdr("", alice, at(1)), Asset: wethAddr, Amount: e18(1)}
	if _, err := e.ProcessCommand(cmd); !errors.Is(err, domain.ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue, got %v", err)
	}
}

// ============================================================================
// Test: Idempotency
// ============================================================================

func TestEngine_DuplicateIgnored(t *testing.T) {
	e, persistCh, _ := newTestEngine(t)

	deposit := &command.Deposit{Header: hdr("dep", alice, at(1)), Asset: wethAddr, Amount: e18(1)}
	mustApply(t, e, deposit)
	if n := len(drainOutputs(persistCh)); n != 1 {
		t.Fatalf("expected 1 output on first process, got %d", n)
	}

	res, err := e.ProcessCommand(deposit)
	if err != nil {
		t.Fatalf("duplicate deposit should not error: %v", err)
	}
	if !res.Duplicate || res.Envelope != nil {
		t.Errorf("expected duplicate result, got %+v", res)
	}
	if n := len(drainOutputs(persistCh)); n != 0 {
		t.Errorf("expected 0 outputs for duplicate, got %d", n)
	}

	// The same key under another command type is a different command.
	mustApply(t, e, &command.Withdraw{Header: hdr("dep", alice, at(2)), Asset: wethAddr, Amount: e18(1)})
}

type fakeDBChecker map[string]bool

func (f fakeDBChecker) IsDuplicate(commandType, key string) (bool, error) {
	return f[commandType+":"+key], nil
}

func TestEngine_DuplicateFromCommandLog(t *testing.T) {
	e, err := core.NewEngine(core.Config{
		FactoryAddress: factoryAddr,
		Template:       factory.DefaultTemplate(),
	}, 1, nil, nil, fakeDBChecker{"deposit:old": true}, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	e.RegisterAsset("WETH", wethAddr, 18)

	res, err := e.ProcessCommand(&command.Deposit{Header: hdr("old", alice, at(1)), Asset: wethAddr, Amount: e18(1)})
	if err != nil || !res.Duplicate {
		t.Errorf("expected duplicate from tier 2, got %+v, %v", res, err)
	}
}

// ============================================================================
// Test: State Hash Chain & Replay
// ============================================================================

func TestEngine_StateHashDeterministic(t *testing.T) {
	run := func() [32]byte {
		e, _, _ := newTestEngine(t)
		applyAll(t, e, setupScript())
		mustApply(t, e, &command.Exercise{SeriesHeader: shdr("exercise", bob, at(7)), Amount: e18(1)})
		return e.GetStateHash()
	}
	if h1, h2 := run(), run(); h1 != h2 {
		t.Errorf("state hash differs across runs: %x vs %x", h1, h2)
	}
}

func TestEngine_StateOnlyCommandChangesHash(t *testing.T) {
	e, persistCh, _ := newTestEngine(t)
	applyAll(t, e, setupScript())
	drainOutputs(persistCh)
	before := e.GetStateHash()

	env := mustApply(t, e, &command.Lock{SeriesHeader: shdr("lock", carol, at(7))})
	out := drainOutputs(persistCh)
	if len(out) != 1 || len(out[0].Batch.Journals) != 0 {
		t.Fatalf("expected one output with an empty batch, got %d", len(out))
	}
	if len(env.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(env.Events))
	}
	if _, ok := env.Events[0].(*event.ContractLocked); !ok {
		t.Errorf("expected ContractLocked, got %T", env.Events[0])
	}
	if env.StateHash == before {
		t.Error("lock did not change the state hash")
	}
}

func TestEngine_ReplayReproducesChain(t *testing.T) {
	src, persistCh, _ := newTestEngine(t)
	applyAll(t, src, setupScript())
	mustApply(t, src, &command.Exercise{SeriesHeader: shdr("exercise", bob, at(7)), Amount: e18(2)})
	mustApply(t, src, &command.Lock{SeriesHeader: shdr("lock", carol, at(8))})
	outputs := drainOutputs(persistCh)

	dst := mustEngine(t, nil, nil)
	for _, o := range outputs {
		env := o.Envelope
		typ, err := command.ParseType(env.CommandType)
		if err != nil {
			t.Fatalf("ParseType: %v", err)
		}
		cmd, err := command.Decode(typ, env.Payload)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if err := dst.Replay(cmd, env.Sequence, env.StateHash); err != nil {
			t.Fatalf("Replay: %v", err)
		}
	}

	if dst.GetStateHash() != src.GetStateHash() {
		t.Error("replayed chain tip differs")
	}
	if dst.GetSequence() != src.GetSequence() {
		t.Errorf("replayed sequence %d, want %d", dst.GetSequence(), src.GetSequence())
	}
	assertAmount(t, "replayed bob long", mustView(t, dst, bob).Long, e18(3))
}

func TestEngine_ReplayDetectsTampering(t *testing.T) {
	dst := mustEngine(t, nil, nil)
	cmd := &command.Deposit{Header: hdr("dep", alice, at(1)), Asset: wethAddr, Amount: e18(1)}
	if err := dst.Replay(cmd, 1, [32]byte{1}); err == nil {
		t.Error("expected state hash mismatch")
	}

	gap := mustEngine(t, nil, nil)
	if err := gap.Replay(cmd, 2, [32]byte{}); err == nil {
		t.Error("expected replay gap error")
	}
}

// ============================================================================
// Test: Output Channels
// ============================================================================

func TestEngine_ProjectionChannelDropsOnFull(t *testing.T) {
	persistCh := make(chan core.CoreOutput, 1024)
	projCh := make(chan core.CoreOutput, 1) // Tiny buffer, will fill up
	e := mustEngine(t, persistCh, projCh)

	for i := int64(0); i < 5; i++ {
		mustApply(t, e, &command.Deposit{
			Header: hdr(fmt.Sprintf("dep-%d", i), alice, at(i+1)),
			Asset:  wethAddr,
			Amount: e18(1),
		})
	}

	if n := len(drainOutputs(persistCh)); n != 5 {
		t.Errorf("expected 5 persist outputs, got %d", n)
	}
	if n := len(drainOutputs(projCh)); n != 1 {
		t.Errorf("expected 1 projection output, got %d", n)
	}
}

func TestEngine_EnvelopeFields(t *testing.T) {
	e, _, _ := newTestEngine(t)
	envs := applyAll(t, e, setupScript())
	mint := envs[len(envs)-1]

	if mint.CommandType != "mint" || mint.IdempotencyKey != "mint" {
		t.Errorf("envelope identity = %s/%s", mint.CommandType, mint.IdempotencyKey)
	}
	if mint.SeriesID == nil || *mint.SeriesID != seriesID() {
		t.Error("envelope missing series id")
	}
	if mint.Caller != alice {
		t.Errorf("caller = %s", mint.Caller.Hex())
	}
	if !mint.Timestamp.Equal(time.UnixMicro(at(6))) {
		t.Errorf("timestamp = %s", mint.Timestamp)
	}
	if envs[0].SeriesID != nil {
		t.Error("deposit envelope carries a series id")
	}
}

func TestEngine_ListSeries(t *testing.T) {
	e, _, _ := newTestEngine(t)
	applyAll(t, e, setupScript())

	all := e.ListSeries()
	if len(all) != 1 {
		t.Fatalf("expected 1 series, got %d", len(all))
	}
	s := all[0]
	if s.SeriesID != seriesID() || s.Pool != poolAddr() || s.Admin != carol {
		t.Errorf("unexpected series view %+v", s.Info)
	}
	if s.TransferMode != "intent" || s.ReceiptMode != "auto_redeem" {
		t.Errorf("modes = %s/%s", s.TransferMode, s.ReceiptMode)
	}
	assertAmount(t, "long supply", s.LongSupply, e18(5))
}

// ============================================================================
// Test: Command Clock
// ============================================================================

// newClockedEngine builds an engine whose wall clock is fixed at wall.
func newClockedEngine(t *testing.T, wall time.Time, skew time.Duration) *core.Engine {
	t.Helper()
	e, err := core.NewEngine(core.Config{
		FactoryAddress: factoryAddr,
		ChainID:        31337,
		Template:       factory.DefaultTemplate(),
		MaxClockSkew:   skew,
		WallClock:      func() time.Time { return wall },
	}, 1, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := e.RegisterAsset("WETH", wethAddr, 18); err != nil {
		t.Fatalf("register WETH: %v", err)
	}
	return e
}

func TestEngine_RejectsOutOfOrderTimestamp(t *testing.T) {
	e, _, _ := newTestEngine(t)
	applyAll(t, e, setupScript())
	mustApply(t, e, &command.Redeem{SeriesHeader: shdr("redeem", alice, afterExpiry(1)), Amount: e18(2)})

	seq, hash := e.GetSequence(), e.GetStateHash()

	// Stamped before expiry, after a post-expiry redeem was applied.
	_, err := e.ProcessCommand(&command.Exercise{SeriesHeader: shdr("exercise", bob, at(7)), Amount: e18(1)})
	if !errors.Is(err, domain.ErrStaleTimestamp) {
		t.Fatalf("expected ErrStaleTimestamp, got %v", err)
	}
	if domain.Code(err) != "stale_timestamp" || !domain.IsPermanent(err) {
		t.Errorf("code = %s, permanent = %v", domain.Code(err), domain.IsPermanent(err))
	}
	if e.GetSequence() != seq || e.GetStateHash() != hash {
		t.Error("stale command advanced the chain")
	}
	if n := e.ClockMetrics().GetOutOfOrder("exercise"); n != 1 {
		t.Errorf("out-of-order count = %d", n)
	}

	info, err := e.SeriesInfo(seriesID())
	if err != nil {
		t.Fatalf("SeriesInfo: %v", err)
	}
	if info.State != pool.StateExpired {
		t.Errorf("state = %s, want Expired", info.State)
	}
	assertAmount(t, "bob long", mustView(t, e, bob).Long, e18(5))

	// The same instant as the last applied command is accepted.
	mustApply(t, e, &command.Redeem{SeriesHeader: shdr("redeem-2", alice, afterExpiry(1)), Amount: e18(3)})
	if !e.LastTimestamp().Equal(time.UnixMicro(afterExpiry(1))) {
		t.Errorf("last timestamp = %s", e.LastTimestamp())
	}
}

func TestEngine_RejectedCommandDoesNotAdvanceClock(t *testing.T) {
	e, _, _ := newTestEngine(t)
	applyAll(t, e, setupScript())

	// Redeem before expiry fails, so its later stamp is not recorded.
	if _, err := e.ProcessCommand(&command.Redeem{SeriesHeader: shdr("early", alice, at(20)), Amount: e18(1)}); !errors.Is(err, domain.ErrContractNotExpired) {
		t.Fatalf("expected ErrContractNotExpired, got %v", err)
	}
	if !e.LastTimestamp().Equal(time.UnixMicro(at(6))) {
		t.Errorf("last timestamp = %s, want mint time", e.LastTimestamp())
	}
	mustApply(t, e, &command.Exercise{SeriesHeader: shdr("exercise", bob, at(7)), Amount: e18(1)})
}

func TestEngine_RejectsFutureTimestamp(t *testing.T) {
	wall := time.UnixMicro(at(10))
	e := newClockedEngine(t, wall, 5*time.Second)

	_, err := e.ProcessCommand(&command.Deposit{Header: hdr("far", alice, at(16)), Asset: wethAddr, Amount: e18(1)})
	if !errors.Is(err, domain.ErrFutureTimestamp) {
		t.Fatalf("expected ErrFutureTimestamp, got %v", err)
	}
	if e.GetSequence() != 1 {
		t.Errorf("sequence = %d after rejected command", e.GetSequence())
	}
	if n := e.ClockMetrics().GetFuture("deposit"); n != 1 {
		t.Errorf("future count = %d", n)
	}

	// Exactly at the skew limit is accepted.
	mustApply(t, e, &command.Deposit{Header: hdr("near", alice, at(15)), Asset: wethAddr, Amount: e18(1)})
}

func TestEngine_ReplayIgnoresWallClockButKeepsOrder(t *testing.T) {
	src := mustEngine(t, nil, nil)
	late := &command.Deposit{Header: hdr("late", alice, at(100)), Asset: wethAddr, Amount: e18(1)}
	env := mustApply(t, src, late)

	// The log was written when at(100) was in the past; replay must accept
	// it even if this process's clock says otherwise.
	dst := newClockedEngine(t, time.UnixMicro(at(10)), 5*time.Second)
	if err := dst.Replay(late, env.Sequence, env.StateHash); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !dst.LastTimestamp().Equal(src.LastTimestamp()) {
		t.Errorf("replayed last timestamp %s, want %s", dst.LastTimestamp(), src.LastTimestamp())
	}

	early := &command.Deposit{Header: hdr("early", alice, at(50)), Asset: wethAddr, Amount: e18(1)}
	if err := dst.Replay(early, 2, [32]byte{}); !errors.Is(err, domain.ErrStaleTimestamp) {
		t.Errorf("expected ErrStaleTimestamp from out-of-order log, got %v", err)
	}
}
