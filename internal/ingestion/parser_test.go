package ingestion_test

import (
	"OptionSettle/internal/command"
	"OptionSettle/internal/domain"
	"OptionSettle/internal/ingestion"
	fpmath "OptionSettle/internal/math"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	alice  = "0x00000000000000000000000000000000000a11ce"
	bob    = "0x0000000000000000000000000000000000000b0b"
	weth   = "0x000000000000000000000000000000000000e770"
	usdc   = "0x000000000000000000000000000000000000c0dc"
	series = "0x00000000000000000000000000000000000000000000000000000000000000aa"
)

// ============================================================================
// Subjects
// ============================================================================

func TestSubject_RoundTrip(t *testing.T) {
	for _, typ := range command.Types() {
		got, err := ingestion.ParseSubject(ingestion.Subject(typ))
		if err != nil {
			t.Fatalf("%s: %v", typ, err)
		}
		if got != typ {
			t.Errorf("ParseSubject(Subject(%s)) = %s", typ, got)
		}
	}
}

func TestParseSubject_TrailingTokens(t *testing.T) {
	got, err := ingestion.ParseSubject("optsettle.cmd.mint." + series)
	if err != nil {
		t.Fatalf("ParseSubject: %v", err)
	}
	if got != command.TypeMint {
		t.Errorf("got %s, want mint", got)
	}
}

func TestParseSubject_Rejects(t *testing.T) {
	for _, s := range []string{"orders.trades.x", "optsettle.cmd.", "optsettle.cmd.rebalance", "optsettle.events.mint"} {
		if _, err := ingestion.ParseSubject(s); !errors.Is(err, domain.ErrInvalidValue) {
			t.Errorf("ParseSubject(%q): expected ErrInvalidValue, got %v", s, err)
		}
	}
}

// ============================================================================
// Payloads
// ============================================================================

func TestParseMessage_Mint(t *testing.T) {
	data := []byte(`{
		"idempotency_key": "mint-1",
		"caller": "` + alice + `",
		"timestamp_us": 1700000000000000,
		"series_id": "` + series + `",
		"to": "` + bob + `",
		"amount": "5000000000000000000"
	}`)

	cmd, err := ingestion.ParseMessage("optsettle.cmd.mint", data)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	m, ok := cmd.(*command.Mint)
	if !ok {
		t.Fatalf("expected *command.Mint, got %T", cmd)
	}
	if m.IdempotencyKey() != "mint-1" || m.Caller() != common.HexToAddress(alice) {
		t.Errorf("header = %+v", m.Header)
	}
	if m.To != common.HexToAddress(bob) {
		t.Errorf("to = %s", m.To.Hex())
	}
	if !m.Amount.Eq(uint256.MustFromDecimal("5000000000000000000")) {
		t.Errorf("amount = %s", m.Amount.Dec())
	}
	if *m.SeriesID() != common.HexToHash(series) {
		t.Errorf("series = %s", m.SeriesID().Hex())
	}
}

func TestParseCommand_StrikePrice(t *testing.T) {
	tests := []struct {
		name  string
		isPut string
		price string
	}{
		{"call", "false", "2000.5"},
		{"put", "true", "2000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []byte(`{
				"idempotency_key": "create-1",
				"caller": "` + alice + `",
				"timestamp_us": 1700000000000000,
				"collateral": "` + weth + `",
				"consideration": "` + usdc + `",
				"strike_price": "` + tt.price + `",
				"expiration": 1800000000,
				"is_put": ` + tt.isPut + `
			}`)
			cmd, err := ingestion.ParseCommand(command.TypeCreateSeries, data)
			if err != nil {
				t.Fatalf("ParseCommand: %v", err)
			}
			cs := cmd.(*command.CreateSeries)
			want, err := fpmath.ParseStrike(tt.price, cs.IsPut)
			if err != nil {
				t.Fatalf("ParseStrike: %v", err)
			}
			if !cs.Strike.Eq(want) {
				t.Errorf("strike = %s, want %s", cs.Strike.Dec(), want.Dec())
			}
		})
	}
}

func TestParseCommand_StrikeAndPriceExclusive(t *testing.T) {
	data := []byte(`{
		"idempotency_key": "create-1",
		"caller": "` + alice + `",
		"timestamp_us": 1700000000000000,
		"strike": "2000000000000000000",
		"strike_price": "2",
		"expiration": 1800000000
	}`)
	if _, err := ingestion.ParseCommand(command.TypeCreateSeries, data); !errors.Is(err, domain.ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue, got %v", err)
	}
}

func TestParseCommand_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"malformed json", `{"idempotency_key":`},
		{"missing key", `{"caller":"` + alice + `","timestamp_us":1,"asset":"` + weth + `","amount":"1"}`},
		{"missing caller", `{"idempotency_key":"k","timestamp_us":1,"asset":"` + weth + `","amount":"1"}`},
		{"zero timestamp", `{"idempotency_key":"k","caller":"` + alice + `","asset":"` + weth + `","amount":"1"}`},
		{"negative amount", `{"idempotency_key":"k","caller":"` + alice + `","timestamp_us":1,"asset":"` + weth + `","amount":"-1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ingestion.ParseCommand(command.TypeDeposit, []byte(tt.data))
			if !errors.Is(err, domain.ErrInvalidValue) {
				t.Errorf("expected ErrInvalidValue, got %v", err)
			}
			if !domain.IsPermanent(err) {
				t.Errorf("parse errors must be permanent: %v", err)
			}
		})
	}
}
