package token

import (
	"OptionSettle/internal/domain"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Registry looks assets up by address or symbol.
type Registry struct {
	byAddress map[common.Address]*Asset
	bySymbol  map[string]*Asset
}

func NewRegistry() *Registry {
	return &Registry{
		byAddress: make(map[common.Address]*Asset),
		bySymbol:  make(map[string]*Asset),
	}
}

// Register creates and adds an asset. Address and symbol must both be new.
func (r *Registry) Register(symbol string, address common.Address, decimals int) (*Asset, error) {
	if _, ok := r.byAddress[address]; ok {
		return nil, fmt.Errorf("%w: asset %s already registered", domain.ErrInvalidValue, address.Hex())
	}
	key := strings.ToUpper(symbol)
	if _, ok := r.bySymbol[key]; ok {
		return nil, fmt.Errorf("%w: asset symbol %s already registered", domain.ErrInvalidValue, symbol)
	}
	a, err := NewAsset(symbol, address, decimals)
	if err != nil {
		return nil, err
	}
	r.byAddress[address] = a
	r.bySymbol[key] = a
	return a, nil
}

func (r *Registry) Get(address common.Address) (*Asset, error) {
	a, ok := r.byAddress[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownAsset, address.Hex())
	}
	return a, nil
}

func (r *Registry) BySymbol(symbol string) (*Asset, error) {
	a, ok := r.bySymbol[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownAsset, symbol)
	}
	return a, nil
}

// List returns all assets ordered by symbol.
func (r *Registry) List() []*Asset {
	out := make([]*Asset, 0, len(r.byAddress))
	for _, a := range r.byAddress {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].symbol < out[j].symbol
	})
	return out
}
