package main

import (
	"OptionSettle/internal/authority"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const testKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

func TestBuild_SignsRecoverablePermit(t *testing.T) {
	key, err := ethcrypto.HexToECDSA(testKey)
	if err != nil {
		t.Fatalf("HexToECDSA: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)

	out, err := build(options{
		Key:      "0x" + testKey,
		Asset:    "0x00000000000000000000000000000000000000c6",
		Spender:  "0x00000000000000000000000000000000000000aa",
		Amount:   "2.5",
		Decimals: 6,
		Nonce:    3,
		TTL:      time.Hour,
		ChainID:  31337,
	}, now)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	p := out.Permit
	if p.Owner != ethcrypto.PubkeyToAddress(key.PublicKey) {
		t.Errorf("owner = %s", p.Owner.Hex())
	}
	if p.Value.Uint64() != 2_500_000 || p.Nonce != 3 || p.Deadline != now.Add(time.Hour).Unix() {
		t.Errorf("permit = %+v", p)
	}
	signer, err := authority.RecoverSigner(31337, common.HexToAddress("0x00000000000000000000000000000000000000c6"), p)
	if err != nil {
		t.Fatalf("RecoverSigner: %v", err)
	}
	if signer != p.Owner {
		t.Errorf("signer = %s, owner = %s", signer.Hex(), p.Owner.Hex())
	}
}

func TestBuild_Rejects(t *testing.T) {
	base := options{
		Key:      testKey,
		Asset:    "0x00000000000000000000000000000000000000c6",
		Spender:  "0x00000000000000000000000000000000000000aa",
		Amount:   "1",
		Decimals: 6,
		TTL:      time.Minute,
		ChainID:  1,
	}
	cases := map[string]func(o *options){
		"missing key":  func(o *options) { o.Key = "" },
		"bad key":      func(o *options) { o.Key = "zz" },
		"bad asset":    func(o *options) { o.Asset = "usdc" },
		"bad spender":  func(o *options) { o.Spender = "" },
		"fine amount":  func(o *options) { o.Amount = "0.0000001" },
		"non-positive": func(o *options) { o.TTL = 0 },
	}
	for name, mutate := range cases {
		o := base
		mutate(&o)
		if _, err := build(o, time.Now()); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}
