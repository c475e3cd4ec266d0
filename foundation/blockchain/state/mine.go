package state

import (
	"context"
	"fmt"
	"time"

	"github.com/aurumchain/aurum/foundation/blockchain/database"
)

// MineNewBlock attempts to create a new block with a proper hash that can
// become the next head of the chain. The transactions are selected from
// the mempool by tip while respecting per sender nonce order and the
// block byte budget.
func (s *State) MineNewBlock(ctx context.Context) (database.Block, time.Duration, error) {
	defer s.evHandler("state: MineNewBlock: completed")

	t := time.Now()

	s.mu.Lock()
	parentBlock := s.latestBlock
	headHeight := parentBlock.Header.Number
	diffBits, err := s.requiredDiffBits(parentBlock)
	s.mu.Unlock()

	if err != nil {
		return database.Block{}, time.Since(t), err
	}

	// Select the transactions and compute the state root the block will
	// commit to. The overlay is disposable: the accepted block reapplies
	// the identical transactions through the normal path.
	trans := s.mempool.SelectForBlock(s.genesis.MaxBlockBytes, headHeight)
	if len(trans) == 0 {
		return database.Block{}, time.Since(t), ErrNoTransactions
	}
	if len(trans) > s.genesis.TransPerBlock {
		trans = trans[:s.genesis.TransPerBlock]
	}

	ov := s.ledger.Overlay()
	for _, tx := range trans {
		if err := ov.ApplyTransaction(headHeight+1, s.beneficiaryID, tx); err != nil {
			return database.Block{}, time.Since(t), fmt.Errorf("selected transaction no longer applies: %w", err)
		}
	}

	ov.ApplyMiningReward(s.beneficiaryID)
	stateRoot := ov.StateRoot()

	s.evHandler("state: MineNewBlock: MINING: txs[%d] diffBits[%08x]", len(trans), diffBits)

	// Attempt to create a new block by solving the POW puzzle. This can
	// be cancelled.
	block, err := database.POW(ctx, database.POWArgs{
		BeneficiaryID: s.beneficiaryID,
		DiffBits:      diffBits,
		PrevBlock:     parentBlock,
		StateRoot:     stateRoot,
		Trans:         trans,
		Gen:           s.genesis,
		EvHandler:     s.evHandler,
	})
	if err != nil {
		return database.Block{}, time.Since(t), err
	}

	// Just check one more time we were not cancelled.
	if ctx.Err() != nil {
		return database.Block{}, time.Since(t), ctx.Err()
	}

	// The mined block goes through the identical acceptance path a peer
	// block would.
	result, err := s.ProcessBlock(block)
	if err != nil {
		return database.Block{}, time.Since(t), err
	}
	if result != PushExtended && result != PushRebranched {
		return database.Block{}, time.Since(t), fmt.Errorf("mined block not accepted: %s", result)
	}

	return block, time.Since(t), nil
}
