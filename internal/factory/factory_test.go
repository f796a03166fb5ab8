package factory_test

import (
	"OptionSettle/internal/authority"
	"OptionSettle/internal/domain"
	"OptionSettle/internal/event"
	"OptionSettle/internal/factory"
	"OptionSettle/internal/token"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	factoryAddr = common.HexToAddress("0xfac7")
	adminAddr   = common.HexToAddress("0xad01")
	wethAddr    = common.HexToAddress("0xe7e1")
	usdcAddr    = common.HexToAddress("0xdc01")

	now        = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	expiration = now.Add(14 * 24 * time.Hour)
)

func strike(whole uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(whole), uint256.NewInt(1_000_000_000_000_000_000))
}

func newTestFactory(t *testing.T, sink event.Sink) *factory.Factory {
	t.Helper()
	assets := token.NewRegistry()
	if _, err := assets.Register("WETH", wethAddr, 18); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := assets.Register("USDC", usdcAddr, 6); err != nil {
		t.Fatalf("Register: %v", err)
	}
	f, err := factory.New(factory.Config{
		Address:   factoryAddr,
		Template:  factory.DefaultTemplate(),
		Assets:    assets,
		Authority: authority.NewChain(authority.NewAllowancePath(assets)),
		Sink:      sink,
		Clock:     func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("factory.New: %v", err)
	}
	return f
}

func callSpec() factory.SeriesSpec {
	return factory.SeriesSpec{
		Collateral:    wethAddr,
		Consideration: usdcAddr,
		Strike:        strike(2000),
		Expiration:    expiration,
		Admin:         adminAddr,
	}
}

// ============================================================================
// Test: CreateSeries
// ============================================================================

func TestCreateSeries_LinksPair(t *testing.T) {
	sink := &event.Collector{}
	f := newTestFactory(t, sink)

	s, err := f.CreateSeries(callSpec())
	if err != nil {
		t.Fatalf("CreateSeries: %v", err)
	}
	if s.Pool.Owner() != s.Ledger.Address() {
		t.Errorf("pool owner: got %s, want ledger %s", s.Pool.Owner().Hex(), s.Ledger.Address().Hex())
	}
	if s.Ledger.Pool() != s.Pool.Address() {
		t.Error("ledger not paired with pool")
	}
	if s.Pool.Address() != factory.PoolAddress(factoryAddr, s.ID) {
		t.Error("pool address not derived from series id")
	}
	if s.Pool.Info().FeeRateBps != 30 {
		t.Errorf("template fee: got %d", s.Pool.Info().FeeRateBps)
	}
	if s.Ledger.TransferPolicy().Name() != "intent" || s.Ledger.ReceiptPolicy().Name() != "auto_redeem" {
		t.Error("template modes not applied")
	}

	events := sink.Drain()
	if len(events) != 2 {
		t.Fatalf("events: got %d, want 2", len(events))
	}
	if events[0].EventType() != event.EventTypeSeriesCreated || events[1].EventType() != event.EventTypeOwnershipTransferred {
		t.Errorf("event order: %s, %s", events[0].EventType(), events[1].EventType())
	}
	if events[0].Series() != s.ID {
		t.Error("event series id mismatch")
	}

	got, err := f.Get(s.ID)
	if err != nil || got != s {
		t.Errorf("Get: %v", err)
	}
}

// Scenario E at the factory level: nothing is created.
func TestCreateSeries_FeeAboveCap(t *testing.T) {
	sink := &event.Collector{}
	f := newTestFactory(t, sink)
	spec := callSpec()
	fee := uint64(10_001)
	spec.FeeRateBps = &fee

	if _, err := f.CreateSeries(spec); !errors.Is(err, domain.ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
	if n := len(f.List()); n != 0 {
		t.Errorf("series registered: %d", n)
	}
	if n := len(sink.Drain()); n != 0 {
		t.Errorf("events leaked: %d", n)
	}
}

func TestCreateSeries_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*factory.SeriesSpec)
		want   error
	}{
		{"same asset", func(s *factory.SeriesSpec) { s.Consideration = wethAddr }, domain.ErrInvalidValue},
		{"unknown asset", func(s *factory.SeriesSpec) { s.Collateral = common.HexToAddress("0x404") }, domain.ErrUnknownAsset},
		{"zero strike", func(s *factory.SeriesSpec) { s.Strike = uint256.NewInt(0) }, domain.ErrInvalidValue},
		{"expired", func(s *factory.SeriesSpec) { s.Expiration = now }, domain.ErrInvalidValue},
		{"no admin", func(s *factory.SeriesSpec) { s.Admin = common.Address{} }, domain.ErrInvalidValue},
		{"bad mode", func(s *factory.SeriesSpec) { s.TransferMode = "yolo" }, domain.ErrInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFactory(t, nil)
			spec := callSpec()
			tt.mutate(&spec)
			if _, err := f.CreateSeries(spec); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCreateSeries_Duplicate(t *testing.T) {
	f := newTestFactory(t, nil)
	if _, err := f.CreateSeries(callSpec()); err != nil {
		t.Fatalf("CreateSeries: %v", err)
	}
	if _, err := f.CreateSeries(callSpec()); !errors.Is(err, domain.ErrSeriesExists) {
		t.Errorf("expected ErrSeriesExists, got %v", err)
	}

	put := callSpec()
	put.IsPut = true
	put.TransferMode = "strict"
	s, err := f.CreateSeries(put)
	if err != nil {
		t.Fatalf("CreateSeries put: %v", err)
	}
	if s.Ledger.TransferPolicy().Name() != "strict" {
		t.Error("spec mode override ignored")
	}
	if list := f.List(); len(list) != 2 || list[1] != s {
		t.Errorf("List order: %v", list)
	}
}

func TestGet_NotFound(t *testing.T) {
	f := newTestFactory(t, nil)
	if _, err := f.Get(common.HexToHash("0x1")); !errors.Is(err, domain.ErrSeriesNotFound) {
		t.Errorf("expected ErrSeriesNotFound, got %v", err)
	}
}

func TestNew_RejectsBadTemplate(t *testing.T) {
	tmpl := factory.DefaultTemplate()
	tmpl.FeeRateBps = 20_000
	if _, err := factory.New(factory.Config{Address: factoryAddr, Template: tmpl}); !errors.Is(err, domain.ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue, got %v", err)
	}
}
