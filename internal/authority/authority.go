// Package authority decides whether a pool may pull an owner's assets.
//
// Two paths are tried in a fixed order:
//
//  1. PermitPath, only when a signed permit is attached to the request. The
//     permit must be signed by the owner, name the pulling contract as
//     spender, be unexpired, carry the owner's current nonce, and cover the
//     amount. It is single use and never touches token allowances.
//  2. AllowancePath, the asset's ERC-20 style allowance granted to the
//     pulling contract with Approve.
//
// In both paths the owner's balance must also cover the amount.
package authority

import (
	"OptionSettle/internal/token"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Request describes one pull of Amount of Asset from Owner to Recipient on
// behalf of Spender.
type Request struct {
	Asset     common.Address
	Owner     common.Address
	Spender   common.Address
	Recipient common.Address
	Amount    *uint256.Int
	Permit    *Permit

	// Now is the engine clock; permits expire against it.
	Now time.Time
}

// Path is one way of authorizing a pull. Check must not mutate anything.
type Path interface {
	Name() string
	Applies(req Request) bool
	Check(req Request) error
	Execute(req Request) error
}

// AssetLookup resolves asset addresses. *token.Registry implements it.
type AssetLookup interface {
	Get(addr common.Address) (*token.Asset, error)
}

// Chain tries its paths in order.
type Chain struct {
	paths []Path
}

func NewChain(paths ...Path) *Chain {
	return &Chain{paths: paths}
}

// Resolve returns the first applicable path whose check passes. When none
// passes, the error of the last path tried is returned with the earlier
// rejections attached as context.
func (c *Chain) Resolve(req Request) (Path, error) {
	var rejected []string
	var last error
	for _, p := range c.paths {
		if !p.Applies(req) {
			continue
		}
		err := p.Check(req)
		if err == nil {
			return p, nil
		}
		if last != nil {
			rejected = append(rejected, last.Error())
		}
		last = fmt.Errorf("%s path: %w", p.Name(), err)
	}
	if last == nil {
		return nil, fmt.Errorf("no transfer path applies to %s", req.Asset.Hex())
	}
	if len(rejected) > 0 {
		return nil, fmt.Errorf("%w (also rejected: %v)", last, rejected)
	}
	return nil, last
}

// Pull resolves a path and executes the transfer through it.
func (c *Chain) Pull(req Request) error {
	p, err := c.Resolve(req)
	if err != nil {
		return err
	}
	return p.Execute(req)
}

// AllowancePath authorizes pulls with the asset's allowance table.
type AllowancePath struct {
	assets AssetLookup
}

func NewAllowancePath(assets AssetLookup) *AllowancePath {
	return &AllowancePath{assets: assets}
}

func (p *AllowancePath) Name() string { return "allowance" }

func (p *AllowancePath) Applies(Request) bool { return true }

func (p *AllowancePath) Check(req Request) error {
	a, err := p.assets.Get(req.Asset)
	if err != nil {
		return err
	}
	return a.CheckTransferFrom(req.Spender, req.Owner, req.Amount)
}

func (p *AllowancePath) Execute(req Request) error {
	a, err := p.assets.Get(req.Asset)
	if err != nil {
		return err
	}
	return a.TransferFrom(req.Spender, req.Owner, req.Recipient, req.Amount)
}
