package chainstore

import (
	"math/big"

	"github.com/decred/dcrd/math/uint256"
)

// ChainInfo is the block tree entry stored alongside each block. The tree
// of competing tips is an explicit graph of hashes, heights and cumulative
// work; common ancestor lookups walk this index rather than in-memory
// block pointers.
type ChainInfo struct {
	Hash               string `json:"hash"`
	ParentHash         string `json:"parent_hash"`
	Height             uint64 `json:"height"`
	Work               string `json:"work"` // Cumulative work as a hex string.
	OnMainChain        bool   `json:"on_main_chain"`
	MainChainSuccessor string `json:"main_chain_successor,omitempty"`
}

// NewChainInfo constructs the entry for a block given its parent's entry
// and the work its own difficulty represents.
func NewChainInfo(hash string, parent ChainInfo, blockWork uint256.Uint256) ChainInfo {
	total := parent.WorkValue()
	total.Add(&blockWork)

	return ChainInfo{
		Hash:       hash,
		ParentHash: parent.Hash,
		Height:     parent.Height + 1,
		Work:       total.ToBig().Text(16),
	}
}

// InitialChainInfo constructs the entry for the genesis block.
func InitialChainInfo(hash string, blockWork uint256.Uint256) ChainInfo {
	return ChainInfo{
		Hash:        hash,
		ParentHash:  "",
		Height:      0,
		Work:        blockWork.ToBig().Text(16),
		OnMainChain: true,
	}
}

// WorkValue decodes the cumulative work of the entry. A malformed value
// decodes as zero work, which can never win a fork choice.
func (ci ChainInfo) WorkValue() uint256.Uint256 {
	n, ok := new(big.Int).SetString(ci.Work, 16)
	if !ok {
		return uint256.Uint256{}
	}

	return *new(uint256.Uint256).SetBig(n)
}
