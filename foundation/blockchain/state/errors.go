package state

import "errors"

// Set of errors the chain manager can return. Handlers map these to
// client facing trust models, so the taxonomy is part of the API.
var (
	// ErrMalformedEncoding is returned when submitted bytes cannot be
	// decoded into a block or transaction.
	ErrMalformedEncoding = errors.New("malformed encoding")

	// ErrConsensusRule is returned when a block breaks a contextual
	// consensus rule such as height, difficulty or timestamp ordering.
	ErrConsensusRule = errors.New("consensus rule violation")

	// ErrStateRootMismatch is returned when the state root declared in a
	// block header does not match the root produced by applying the block.
	ErrStateRootMismatch = errors.New("state root mismatch")

	// ErrNoTransactions is returned by mining when the mempool cannot
	// produce a block worth of transactions.
	ErrNoTransactions = errors.New("no transactions in mempool")
)

// =============================================================================

// PushResult describes the effect accepting a block had on the chain.
type PushResult int

// The outcomes of processing a block.
const (
	PushInvalid PushResult = iota
	PushKnown
	PushOrphan
	PushForked
	PushExtended
	PushRebranched
)

// String implements the fmt.Stringer interface.
func (pr PushResult) String() string {
	switch pr {
	case PushInvalid:
		return "INVALID"
	case PushKnown:
		return "KNOWN"
	case PushOrphan:
		return "ORPHAN"
	case PushForked:
		return "FORKED"
	case PushExtended:
		return "EXTENDED"
	case PushRebranched:
		return "REBRANCHED"
	}
	return "UNKNOWN"
}
