package query_test

import (
	"OptionSettle/internal/ledger"
	"OptionSettle/internal/query"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestParseAccountPath(t *testing.T) {
	owner := common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	asset := common.HexToAddress("0x000000000000000000000000000000000000e770")

	tests := []struct {
		name string
		key  ledger.AccountKey
		want query.AccountPath
	}{
		{
			name: "user wallet",
			key:  ledger.NewUserAccountKey(owner, ledger.SubTypeWallet, asset),
			want: query.AccountPath{Scope: "user", Owner: owner.Hex(), SubType: "wallet", Asset: asset.Hex()},
		},
		{
			name: "system reserve",
			key:  ledger.NewSystemAccountKey(owner, ledger.SubTypeCollateralReserve, asset),
			want: query.AccountPath{Scope: "system", Owner: owner.Hex(), SubType: "collateral_reserve", Asset: asset.Hex()},
		},
		{
			name: "external",
			key:  ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, asset),
			want: query.AccountPath{Scope: "external", SubType: "deposits", Asset: asset.Hex()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := query.ParseAccountPath(tt.key.AccountPath())
			if !ok {
				t.Fatalf("ParseAccountPath(%q) failed", tt.key.AccountPath())
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseAccountPath_Rejects(t *testing.T) {
	for _, p := range []string{"", "unknown", "user:0x1:wallet", "external:deposits", "pool:a:b:c"} {
		if _, ok := query.ParseAccountPath(p); ok {
			t.Errorf("ParseAccountPath(%q) accepted", p)
		}
	}
}
