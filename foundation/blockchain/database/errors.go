package database

import "errors"

// Set of transaction application errors. These are local to the offending
// transaction and never abort the node.
var (
	// ErrInsufficientBalance is returned when a sender cannot cover the
	// value plus the fee of a transaction.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidNonce is returned when a transaction's nonce does not
	// immediately follow the sender's current nonce.
	ErrInvalidNonce = errors.New("invalid nonce")

	// ErrExpired is returned when a transaction is applied outside of its
	// validity window.
	ErrExpired = errors.New("transaction outside validity window")

	// ErrFundsLocked is returned when a vesting account attempts to spend
	// funds that have not vested at the current height.
	ErrFundsLocked = errors.New("funds are still locked by the vesting schedule")

	// ErrInvalidSignature is returned when a sender address cannot be
	// recovered from a transaction signature.
	ErrInvalidSignature = errors.New("invalid signature")
)
