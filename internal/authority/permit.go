package authority

import (
	"OptionSettle/internal/domain"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

const (
	permitDomainName    = "OptionSettle"
	permitDomainVersion = "1"
)

var (
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)
	permitTypeHash = ethcrypto.Keccak256(
		[]byte("Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)"),
	)
)

// Permit is an EIP-2612 style signed approval for one pull.
type Permit struct {
	Owner     common.Address `json:"owner"`
	Spender   common.Address `json:"spender"`
	Value     *uint256.Int   `json:"value"`
	Nonce     uint64         `json:"nonce"`
	Deadline  int64          `json:"deadline"` // unix seconds, inclusive
	Signature hexutil.Bytes  `json:"signature"`
}

// PermitDigest returns the EIP-712 digest the owner signs. The verifying
// contract of the domain is the asset being pulled.
func PermitDigest(chainID uint64, asset common.Address, p *Permit) common.Hash {
	domainSep := ethcrypto.Keccak256(
		eip712DomainTypeHash,
		ethcrypto.Keccak256([]byte(permitDomainName)),
		ethcrypto.Keccak256([]byte(permitDomainVersion)),
		common.LeftPadBytes(new(big.Int).SetUint64(chainID).Bytes(), 32),
		common.LeftPadBytes(asset.Bytes(), 32),
	)

	value := new(uint256.Int)
	if p.Value != nil {
		value.Set(p.Value)
	}
	valueWord := value.Bytes32()
	structHash := ethcrypto.Keccak256(
		permitTypeHash,
		common.LeftPadBytes(p.Owner.Bytes(), 32),
		common.LeftPadBytes(p.Spender.Bytes(), 32),
		valueWord[:],
		common.LeftPadBytes(new(big.Int).SetUint64(p.Nonce).Bytes(), 32),
		common.LeftPadBytes(big.NewInt(p.Deadline).Bytes(), 32),
	)

	raw := make([]byte, 0, 66)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSep...)
	raw = append(raw, structHash...)
	return common.BytesToHash(ethcrypto.Keccak256(raw))
}

// SignPermit signs p with key and returns a copy carrying the signature.
// The owner field is overwritten with the key's address.
func SignPermit(key *ecdsa.PrivateKey, chainID uint64, asset common.Address, p Permit) (Permit, error) {
	p.Owner = ethcrypto.PubkeyToAddress(key.PublicKey)
	digest := PermitDigest(chainID, asset, &p)
	sig, err := ethcrypto.Sign(digest.Bytes(), key)
	if err != nil {
		return Permit{}, fmt.Errorf("sign permit: %w", err)
	}
	sig[64] += 27
	p.Signature = sig
	return p, nil
}

// RecoverSigner returns the address that signed the permit digest.
func RecoverSigner(chainID uint64, asset common.Address, p *Permit) (common.Address, error) {
	if len(p.Signature) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(p.Signature))
	}
	sig := make([]byte, 65)
	copy(sig, p.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	digest := PermitDigest(chainID, asset, p)
	pub, err := ethcrypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// PermitPath authorizes pulls with signed permits. Each (asset, owner) pair
// has a nonce that advances when a permit is consumed.
type PermitPath struct {
	assets  AssetLookup
	chainID uint64
	nonces  map[common.Address]map[common.Address]uint64
}

func NewPermitPath(assets AssetLookup, chainID uint64) *PermitPath {
	return &PermitPath{
		assets:  assets,
		chainID: chainID,
		nonces:  make(map[common.Address]map[common.Address]uint64),
	}
}

func (p *PermitPath) Name() string { return "permit" }

func (p *PermitPath) Applies(req Request) bool { return req.Permit != nil }

// ChainID returns the chain id bound into permit domains.
func (p *PermitPath) ChainID() uint64 { return p.chainID }

// Nonce returns the next permit nonce of owner for asset.
func (p *PermitPath) Nonce(asset, owner common.Address) uint64 {
	return p.nonces[asset][owner]
}

func (p *PermitPath) Check(req Request) error {
	permit := req.Permit
	if permit == nil {
		return fmt.Errorf("%w: no permit attached", domain.ErrPermitRejected)
	}
	if permit.Owner != req.Owner {
		return fmt.Errorf("%w: permit owner %s does not match %s",
			domain.ErrPermitRejected, permit.Owner.Hex(), req.Owner.Hex())
	}
	if permit.Spender != req.Spender {
		return fmt.Errorf("%w: permit spender %s does not match %s",
			domain.ErrPermitRejected, permit.Spender.Hex(), req.Spender.Hex())
	}
	if req.Now.Unix() > permit.Deadline {
		return fmt.Errorf("%w: permit expired at %d", domain.ErrPermitRejected, permit.Deadline)
	}
	if want := p.Nonce(req.Asset, req.Owner); permit.Nonce != want {
		return fmt.Errorf("%w: nonce %d, expected %d", domain.ErrPermitRejected, permit.Nonce, want)
	}
	if permit.Value == nil || permit.Value.Lt(req.Amount) {
		return fmt.Errorf("%w: permit value below %s", domain.ErrPermitRejected, req.Amount.Dec())
	}
	signer, err := RecoverSigner(p.chainID, req.Asset, permit)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPermitRejected, err)
	}
	if signer != req.Owner {
		return fmt.Errorf("%w: signed by %s", domain.ErrPermitRejected, signer.Hex())
	}

	a, err := p.assets.Get(req.Asset)
	if err != nil {
		return err
	}
	if a.BalanceOf(req.Owner).Lt(req.Amount) {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s", domain.ErrInsufficientBalance,
			req.Owner.Hex(), a.BalanceOf(req.Owner).Dec(), a.Symbol(), req.Amount.Dec())
	}
	return nil
}

// Execute consumes the permit nonce and moves the funds. The asset's
// allowance table is left untouched.
func (p *PermitPath) Execute(req Request) error {
	if err := p.Check(req); err != nil {
		return err
	}
	a, err := p.assets.Get(req.Asset)
	if err != nil {
		return err
	}
	if err := a.Transfer(req.Owner, req.Recipient, req.Amount); err != nil {
		return err
	}
	owners, ok := p.nonces[req.Asset]
	if !ok {
		owners = make(map[common.Address]uint64)
		p.nonces[req.Asset] = owners
	}
	owners[req.Owner]++
	return nil
}
