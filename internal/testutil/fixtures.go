package testutil

import (
	"OptionSettle/internal/command"
	"OptionSettle/internal/core"
	"OptionSettle/internal/factory"
	"OptionSettle/internal/pool"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Shared addresses and terms for tests that drive a full engine.
var (
	FactoryAddr = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	WETH        = common.HexToAddress("0x000000000000000000000000000000000000e770")
	USDC        = common.HexToAddress("0x000000000000000000000000000000000000c0dc")

	Alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	Bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	Carol = common.HexToAddress("0x00000000000000000000000000000000000ca201")

	Expiration = int64(2_000_000)
	Strike     = E18(2)
)

const TestChainID = 31337

func E18(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000_000_000))
}

// NewTestEngine builds an engine with WETH (18 decimals) and USDC (6
// decimals) registered. Either channel may be nil.
func NewTestEngine(t *testing.T, persist, projection chan core.CoreOutput) *core.Engine {
	t.Helper()
	e, err := core.NewEngine(core.Config{
		FactoryAddress: FactoryAddr,
		ChainID:        TestChainID,
		Template:       factory.DefaultTemplate(),
	}, 1, persist, projection, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if _, err := e.RegisterAsset("WETH", WETH, 18); err != nil {
		t.Fatalf("register WETH: %v", err)
	}
	if _, err := e.RegisterAsset("USDC", USDC, 6); err != nil {
		t.Fatalf("register USDC: %v", err)
	}
	return e
}

// SeriesID is the WETH/USDC call at Strike expiring at Expiration.
func SeriesID() common.Hash {
	return pool.DeriveSeriesID(WETH, USDC, Strike, time.Unix(Expiration, 0), false)
}

func PoolAddr() common.Address {
	return factory.PoolAddress(FactoryAddr, SeriesID())
}

// Hdr builds a command header sec seconds after the test epoch.
func Hdr(key string, caller common.Address, sec int64) command.Header {
	return command.Header{Key: key, Sender: caller, TimestampUs: time.Unix(1_000_000+sec, 0).UnixMicro()}
}

func SeriesHdr(key string, caller common.Address, sec int64) command.SeriesHeader {
	return command.SeriesHeader{Header: Hdr(key, caller, sec), Series: SeriesID()}
}

// MintScript funds alice with 10 WETH, has bob create the series and alice
// mint 3 options to bob.
func MintScript() []command.Command {
	return []command.Command{
		&command.Deposit{Header: Hdr("dep", Alice, 1), Asset: WETH, Amount: E18(10)},
		&command.CreateSeries{
			Header:        Hdr("create", Bob, 2),
			Collateral:    WETH,
			Consideration: USDC,
			Strike:        Strike,
			Expiration:    Expiration,
		},
		&command.Approve{Header: Hdr("approve", Alice, 3), Asset: WETH, Spender: PoolAddr(), Amount: E18(10)},
		&command.Mint{SeriesHeader: SeriesHdr("mint", Alice, 4), To: Bob, Amount: E18(3)},
	}
}

// MustApplyAll applies cmds and fails the test on any rejection.
func MustApplyAll(t *testing.T, e *core.Engine, cmds []command.Command) {
	t.Helper()
	for _, c := range cmds {
		res, err := e.ProcessCommand(c)
		if err != nil {
			t.Fatalf("%s %s: %v", c.CommandType(), c.IdempotencyKey(), err)
		}
		if res.Duplicate {
			t.Fatalf("%s %s: unexpectedly duplicate", c.CommandType(), c.IdempotencyKey())
		}
	}
}
