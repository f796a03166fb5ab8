package command_test

import (
	"OptionSettle/internal/command"
	"OptionSettle/internal/domain"
	"errors"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	alice  = common.HexToAddress("0xa11ce")
	series = common.HexToHash("0x5e71e5")
)

func TestParseType_AllNamesResolve(t *testing.T) {
	for _, ct := range command.Types() {
		got, err := command.ParseType(ct.String())
		if err != nil || got != ct {
			t.Errorf("ParseType(%q): got %v, %v", ct.String(), got, err)
		}
		cmd, err := command.New(ct)
		if err != nil {
			t.Fatalf("New(%s): %v", ct, err)
		}
		if cmd.CommandType() != ct {
			t.Errorf("New(%s) built %s", ct, cmd.CommandType())
		}
	}
	if _, err := command.ParseType("rebalance"); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestDecode_MintWithPermit(t *testing.T) {
	payload := `{
		"idempotency_key": "mint-1",
		"caller": "0x00000000000000000000000000000000000a11ce",
		"timestamp_us": 1767614400000000,
		"series_id": "0x00000000000000000000000000000000000000000000000000000000005e71e5",
		"amount": "1000000000000000000",
		"permit": {
			"owner": "0x00000000000000000000000000000000000a11ce",
			"spender": "0x0000000000000000000000000000000000009001",
			"value": "1000000000000000000",
			"nonce": 0,
			"deadline": 1767618000,
			"signature": "0x01"
		}
	}`
	cmd, err := command.Decode(command.TypeMint, []byte(payload))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	mint := cmd.(*command.Mint)
	if mint.Caller() != alice || mint.Recipient() != alice {
		t.Errorf("caller/recipient: %s / %s", mint.Caller().Hex(), mint.Recipient().Hex())
	}
	if *mint.SeriesID() != series {
		t.Errorf("series: %s", mint.SeriesID().Hex())
	}
	if mint.Permit == nil || mint.Permit.Deadline != 1767618000 || len(mint.Permit.Signature) != 1 {
		t.Errorf("permit: %+v", mint.Permit)
	}
	if mint.Timestamp().Unix() != 1767614400 {
		t.Errorf("timestamp: %s", mint.Timestamp())
	}
	if err := command.Validate(mint); err != nil {
		t.Errorf("Validate: %v", err)
	}

	encoded, err := command.Encode(mint)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(encoded), `"amount":"1000000000000000000"`) {
		t.Errorf("amount not encoded as decimal string: %s", encoded)
	}
}

func TestValidate_Header(t *testing.T) {
	ok := command.Header{Key: "k", Sender: alice, TimestampUs: 1}
	tests := []struct {
		name string
		cmd  command.Command
	}{
		{"no key", &command.Withdraw{Header: command.Header{Sender: alice, TimestampUs: 1}}},
		{"no caller", &command.Withdraw{Header: command.Header{Key: "k", TimestampUs: 1}}},
		{"no timestamp", &command.Withdraw{Header: command.Header{Key: "k", Sender: alice}}},
		{"no series", &command.Lock{SeriesHeader: command.SeriesHeader{Header: ok}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := command.Validate(tt.cmd); !errors.Is(err, domain.ErrInvalidValue) {
				t.Errorf("expected ErrInvalidValue, got %v", err)
			}
		})
	}

	if (&command.Deposit{Header: ok}).SeriesID() != nil {
		t.Error("asset command must not carry a series")
	}
	dep := &command.Deposit{Header: ok, Account: common.HexToAddress("0xb0b"), Amount: uint256.NewInt(1)}
	if dep.Recipient() != common.HexToAddress("0xb0b") {
		t.Error("explicit deposit account ignored")
	}
}
