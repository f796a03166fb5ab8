// Command permit signs a transfer permit and prints the JSON to attach to a
// mint, exercise or transfer command.
package main

import (
	"OptionSettle/internal/authority"
	"OptionSettle/internal/config"
	fpmath "OptionSettle/internal/math"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

type options struct {
	Key      string
	Asset    string
	Spender  string
	Amount   string
	Decimals int
	Nonce    uint64
	TTL      time.Duration
	ChainID  uint64
}

type output struct {
	ChainID uint64            `json:"chain_id"`
	Asset   common.Address    `json:"asset"`
	Permit  *authority.Permit `json:"permit"`
}

func main() {
	var opts options
	configPath := flag.String("config", os.Getenv("OPTSETTLE_CONFIG"), "config file providing factory.chain_id")
	flag.StringVar(&opts.Key, "key", os.Getenv("OPTSETTLE_PERMIT_KEY"), "owner private key, hex")
	flag.StringVar(&opts.Asset, "asset", "", "asset address being pulled")
	flag.StringVar(&opts.Spender, "spender", "", "pool or ledger address allowed to pull")
	flag.StringVar(&opts.Amount, "amount", "", "amount in asset units, e.g. 1.5")
	flag.IntVar(&opts.Decimals, "decimals", 18, "asset decimals")
	flag.Uint64Var(&opts.Nonce, "nonce", 0, "owner nonce for the asset")
	flag.DurationVar(&opts.TTL, "ttl", time.Hour, "permit lifetime")
	flag.Uint64Var(&opts.ChainID, "chain-id", 0, "chain id (default from config)")
	flag.Parse()

	if opts.ChainID == 0 {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		opts.ChainID = cfg.Factory.ChainID
	}

	out, err := build(opts, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "permit: %v\n", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		os.Exit(1)
	}
}

func build(opts options, now time.Time) (*output, error) {
	if opts.Key == "" {
		return nil, errors.New("-key or OPTSETTLE_PERMIT_KEY is required")
	}
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(opts.Key, "0x"))
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	if !common.IsHexAddress(opts.Asset) {
		return nil, fmt.Errorf("asset %q is not a hex address", opts.Asset)
	}
	if !common.IsHexAddress(opts.Spender) {
		return nil, fmt.Errorf("spender %q is not a hex address", opts.Spender)
	}
	value, err := fpmath.ParseUnits(opts.Amount, opts.Decimals)
	if err != nil {
		return nil, err
	}
	if opts.TTL <= 0 {
		return nil, fmt.Errorf("ttl %s must be positive", opts.TTL)
	}

	asset := common.HexToAddress(opts.Asset)
	p, err := authority.SignPermit(key, opts.ChainID, asset, authority.Permit{
		Spender:  common.HexToAddress(opts.Spender),
		Value:    value,
		Nonce:    opts.Nonce,
		Deadline: now.Add(opts.TTL).Unix(),
	})
	if err != nil {
		return nil, err
	}
	return &output{ChainID: opts.ChainID, Asset: asset, Permit: &p}, nil
}
