package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota
	SubTypeLong
	SubTypeShort

	// System sub-types (owner is the pool or ledger address)
	SubTypeCollateralReserve
	SubTypeConsiderationReserve
	SubTypeFees
	SubTypeLongIssuance
	SubTypeShortIssuance

	// External sub-types
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
)

// AccountKey is the in-memory key for balance tracking. Asset is the token
// address for wallets and reserves, the ledger address for long units and
// the pool address for short units.
type AccountKey struct {
	Scope   AccountScope
	Owner   common.Address
	SubType AccountSubType
	Asset   common.Address
}

// NewUserAccountKey creates a key for a holder's wallet or position
func NewUserAccountKey(owner common.Address, subType AccountSubType, asset common.Address) AccountKey {
	return AccountKey{
		Scope:   AccountScopeUser,
		Owner:   owner,
		SubType: subType,
		Asset:   asset,
	}
}

// NewSystemAccountKey creates a key for pool reserves and issuance accounts
func NewSystemAccountKey(owner common.Address, subType AccountSubType, asset common.Address) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		Owner:   owner,
		SubType: subType,
		Asset:   asset,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, asset common.Address) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		Asset:   asset,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.Owner.Hex(), k.subTypeName(), k.Asset.Hex())
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s:%s", k.Owner.Hex(), k.subTypeName(), k.Asset.Hex())
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), k.Asset.Hex())
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeLong:
		return "long"
	case SubTypeShort:
		return "short"
	case SubTypeCollateralReserve:
		return "collateral_reserve"
	case SubTypeConsiderationReserve:
		return "consideration_reserve"
	case SubTypeFees:
		return "fees"
	case SubTypeLongIssuance:
		return "long_issuance"
	case SubTypeShortIssuance:
		return "short_issuance"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	default:
		return "unknown"
	}
}
