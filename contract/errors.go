package contract

import "errors"

// Error kinds surfaced by guild operations. Every failed operation aborts the
// whole transaction, so callers only ever observe pre-call state. Operations
// wrap these with fmt.Errorf("...: %w", ...) so errors.Is keeps working.
var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidState      = errors.New("invalid state")
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrExpired           = errors.New("expired")
	ErrQuorumNotMet      = errors.New("quorum not met")
	ErrNonTransferable   = errors.New("passports are non-transferable")
	ErrExternalTransfer  = errors.New("external token transfer failed")
	ErrReentrantCall     = errors.New("reentrant call")
)
