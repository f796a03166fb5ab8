// Package domain holds the error taxonomy shared by every settlement package.
package domain

import "errors"

var (
	ErrInvalidValue              = errors.New("invalid value")
	ErrInsufficientBalance       = errors.New("insufficient balance")
	ErrInsufficientCollateral    = errors.New("insufficient collateral")
	ErrInsufficientConsideration = errors.New("insufficient consideration")
	ErrInsufficientAllowance     = errors.New("insufficient allowance")
	ErrArithmeticOverflow        = errors.New("arithmetic overflow")
	ErrContractExpired           = errors.New("contract expired")
	ErrContractNotExpired        = errors.New("contract not expired")
	ErrLockedContract            = errors.New("contract locked")
	ErrAlreadyInitialized        = errors.New("already initialized")
	ErrNotInitialized            = errors.New("not initialized")
	ErrUnauthorized              = errors.New("unauthorized")
	ErrReentrantCall             = errors.New("reentrant call")
	ErrSeriesNotFound            = errors.New("series not found")
	ErrSeriesExists              = errors.New("series already exists")
	ErrUnknownAsset              = errors.New("unknown asset")
	ErrPermitRejected            = errors.New("permit rejected")
	ErrStaleTimestamp            = errors.New("command timestamp precedes last applied")
	ErrFutureTimestamp           = errors.New("command timestamp too far ahead")
)

// codes is ordered: the first sentinel matched wins, so the more specific
// insufficiency kinds come before the generic balance one.
var codes = []struct {
	err  error
	code string
}{
	{ErrInvalidValue, "invalid_value"},
	{ErrInsufficientCollateral, "insufficient_collateral"},
	{ErrInsufficientConsideration, "insufficient_consideration"},
	{ErrInsufficientAllowance, "insufficient_allowance"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrArithmeticOverflow, "arithmetic_overflow"},
	{ErrContractExpired, "contract_expired"},
	{ErrContractNotExpired, "contract_not_expired"},
	{ErrLockedContract, "locked_contract"},
	{ErrAlreadyInitialized, "already_initialized"},
	{ErrNotInitialized, "not_initialized"},
	{ErrUnauthorized, "unauthorized"},
	{ErrReentrantCall, "reentrant_call"},
	{ErrSeriesNotFound, "series_not_found"},
	{ErrSeriesExists, "series_exists"},
	{ErrUnknownAsset, "unknown_asset"},
	{ErrPermitRejected, "permit_rejected"},
	{ErrStaleTimestamp, "stale_timestamp"},
	{ErrFutureTimestamp, "future_timestamp"},
}

// Code maps an error chain to a stable, machine-readable code.
// Errors outside the taxonomy map to "internal".
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}

// IsPermanent reports whether retrying the same request can never succeed
// without a state change by someone else. Lifecycle and authorization errors
// are permanent; balance shortfalls are not.
func IsPermanent(err error) bool {
	switch Code(err) {
	case "invalid_value", "arithmetic_overflow", "contract_expired",
		"already_initialized", "unauthorized", "series_exists",
		"unknown_asset", "series_not_found", "permit_rejected",
		"stale_timestamp", "future_timestamp":
		return true
	}
	return false
}
