// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"os"
	"time"
)

// VestingGrant describes a genesis account whose balance unlocks over time.
type VestingGrant struct {
	Account    string `json:"account"`
	Balance    uint64 `json:"balance"`
	Start      uint64 `json:"start"`       // Block height vesting starts.
	StepBlocks uint64 `json:"step_blocks"` // Blocks between unlock steps.
	StepAmount uint64 `json:"step_amount"` // Amount unlocked per step.
}

// Genesis represents the genesis file.
type Genesis struct {
	Date    time.Time `json:"date"`
	ChainID uint16    `json:"chain_id"` // Unique id for this network.

	// Proof of work parameters.
	StartingDiffBits     uint32 `json:"starting_diff_bits"`     // Difficulty bits of the genesis block.
	PowLimitBits         uint32 `json:"pow_limit_bits"`         // Easiest allowed target.
	BlockIntervalSeconds uint64 `json:"block_interval_seconds"` // Desired seconds between blocks.
	RetargetWindow       uint64 `json:"retarget_window"`        // Trailing blocks examined per retarget.
	MaxAdjustmentFactor  uint64 `json:"max_adjustment_factor"`  // Clamp per retarget.

	// Block and transaction limits.
	MiningReward    uint64 `json:"mining_reward"`     // Reward for mining a block.
	TransPerBlock   int    `json:"trans_per_block"`   // Max transactions in a block.
	MaxBlockBytes   int    `json:"max_block_bytes"`   // Max encoded block size.
	ValidityWindow  uint64 `json:"validity_window"`   // Blocks a transaction remains valid for.
	MempoolMaxSize  int    `json:"mempool_max_size"`  // Max transactions held in the mempool.
	FutureTimeSkew  uint64 `json:"future_time_skew"`  // Seconds a timestamp may lead local time.

	// Initial account state.
	Balances map[string]uint64 `json:"balances"`
	Vesting  []VestingGrant    `json:"vesting"`
}

// PolicySpan returns the number of blocks a retarget at the given height
// may examine without crossing the genesis block.
func (g Genesis) PolicySpan(height uint64) uint64 {
	if height < g.RetargetWindow {
		return height
	}
	return g.RetargetWindow
}

// =============================================================================

// Load opens and consumes the genesis file.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	if err := json.Unmarshal(content, &genesis); err != nil {
		return Genesis{}, err
	}

	return genesis, nil
}

// Save writes the genesis information to the specified path.
func Save(path string, genesis Genesis) error {
	data, err := json.MarshalIndent(genesis, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
