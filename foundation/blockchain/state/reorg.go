package state

import (
	"fmt"

	"github.com/aurumchain/aurum/foundation/blockchain/database"
	"github.com/aurumchain/aurum/foundation/blockchain/database/chainstore"
)

// rebranch makes the fork ending in tipBlock the canonical chain. The
// walk back to the common ancestor, the revert of the abandoned main
// chain blocks and the apply of the fork blocks all happen on a single
// ledger overlay; the store mutations land in one atomic batch. On any
// failure the overlay is discarded and the canonical chain is unchanged.
// The caller must hold the state lock.
func (s *State) rebranch(tipBlock database.Block, tipInfo chainstore.ChainInfo, headInfo chainstore.ChainInfo) error {
	tipHash := tipBlock.Hash()

	s.evHandler("state: rebranch: started: newTip[%s] height[%d] work[%s]", tipHash, tipInfo.Height, tipInfo.Work)

	// Walk the fork back until an entry on the main chain is found. The
	// new tip itself is not stored yet, so it seeds the list directly.
	forkInfos := []chainstore.ChainInfo{tipInfo}
	forkBlocks := []database.Block{tipBlock}

	ancestor := chainstore.ChainInfo{}
	for cursor := tipInfo; ; {
		parentInfo, err := s.db.GetChainInfo(cursor.ParentHash)
		if err != nil {
			return fmt.Errorf("rebranch: walking fork to ancestor: %w", err)
		}

		if parentInfo.OnMainChain {
			ancestor = parentInfo
			break
		}

		parentBlock, err := s.db.GetBlock(parentInfo.Hash)
		if err != nil {
			return fmt.Errorf("rebranch: loading fork block: %w", err)
		}

		forkInfos = append(forkInfos, parentInfo)
		forkBlocks = append(forkBlocks, parentBlock)
		cursor = parentInfo
	}

	// Reverse into ancestor to tip order.
	for i, j := 0, len(forkBlocks)-1; i < j; i, j = i+1, j-1 {
		forkBlocks[i], forkBlocks[j] = forkBlocks[j], forkBlocks[i]
		forkInfos[i], forkInfos[j] = forkInfos[j], forkInfos[i]
	}

	// Collect the main chain blocks to abandon, head down to the block
	// right above the ancestor.
	var revertBlocks []database.Block
	var revertInfos []chainstore.ChainInfo
	for cursor := headInfo; cursor.Hash != ancestor.Hash; {
		block, err := s.db.GetBlock(cursor.Hash)
		if err != nil {
			return fmt.Errorf("rebranch: loading main chain block: %w", err)
		}

		revertBlocks = append(revertBlocks, block)
		revertInfos = append(revertInfos, cursor)

		parentInfo, err := s.db.GetChainInfo(cursor.ParentHash)
		if err != nil {
			return fmt.Errorf("rebranch: walking main chain to ancestor: %w", err)
		}
		cursor = parentInfo
	}

	s.evHandler("state: rebranch: ancestor[%s] height[%d] reverting[%d] applying[%d]", ancestor.Hash, ancestor.Height, len(revertBlocks), len(forkBlocks))

	// Revert the abandoned blocks on an overlay, cross-checking the state
	// root after each step against the cached root of the previous
	// height. A mismatch means the store is corrupt and the rebranch must
	// not proceed.
	ov := s.ledger.Overlay()

	for _, block := range revertBlocks {
		if err := ov.RevertBlock(block); err != nil {
			return fmt.Errorf("rebranch: reverting block %s: %w", block.Hash(), err)
		}

		wantRoot, err := s.db.GetStateRoot(block.Header.Number - 1)
		if err != nil {
			return fmt.Errorf("rebranch: loading state root for height %d: %w", block.Header.Number-1, err)
		}
		if root := ov.StateRoot(); root != wantRoot {
			return fmt.Errorf("rebranch: %w after revert at height %d: computed %s, stored %s", ErrStateRootMismatch, block.Header.Number-1, root, wantRoot)
		}
	}

	// Apply the fork blocks on the same overlay. The fork was only ever
	// checked statelessly, so a fork block can turn out invalid here; the
	// whole rebranch is abandoned and the bad block dropped from the tree.
	for _, block := range forkBlocks {
		if err := ov.ApplyBlock(block); err != nil {
			s.dropForkBlock(block)
			return fmt.Errorf("%w: fork block %s: %s", ErrConsensusRule, block.Hash(), err)
		}

		if root := ov.StateRoot(); root != block.Header.StateRoot {
			s.dropForkBlock(block)
			return fmt.Errorf("%w: fork block %s: computed %s, header %s", ErrStateRootMismatch, block.Hash(), root, block.Header.StateRoot)
		}
	}

	// Stage every mutation of the head move in one batch.
	batch := s.db.NewBatch()

	if err := batch.PutBlock(tipBlock); err != nil {
		return err
	}

	for _, info := range revertInfos {
		info.OnMainChain = false
		info.MainChainSuccessor = ""
		if err := batch.PutChainInfo(info); err != nil {
			return err
		}
		batch.DeleteHeightIndex(info.Height)
		batch.DeleteStateRoot(info.Height)
	}

	ancestor.MainChainSuccessor = forkInfos[0].Hash
	if err := batch.PutChainInfo(ancestor); err != nil {
		return err
	}

	for i, info := range forkInfos {
		info.OnMainChain = true
		if i+1 < len(forkInfos) {
			info.MainChainSuccessor = forkInfos[i+1].Hash
		} else {
			info.MainChainSuccessor = ""
		}
		if err := batch.PutChainInfo(info); err != nil {
			return err
		}
		batch.PutHeightIndex(info.Height, info.Hash)
		batch.PutStateRoot(info.Height, forkBlocks[i].Header.StateRoot)
	}

	batch.SetHead(tipHash)
	if err := batch.ApplyAccountChanges(ov.Changes()); err != nil {
		return err
	}

	if err := s.db.Commit(batch); err != nil {
		return err
	}

	ov.Commit()
	s.latestBlock = tipBlock

	// The mempool drops transactions the fork confirmed and recovers the
	// ones the abandoned blocks carried.
	var applied []database.BlockTx
	for _, block := range forkBlocks {
		applied = append(applied, block.TransValues()...)
	}
	var reverted []database.BlockTx
	for _, block := range revertBlocks {
		reverted = append(reverted, block.TransValues()...)
	}
	s.mempool.OnHeadChanged(applied, reverted, tipInfo.Height)

	s.evHandler("viewer: REBRANCHED: newTip[%s] height[%d] reverted[%d] applied[%d]", tipHash, tipInfo.Height, len(revertBlocks), len(forkBlocks))

	return nil
}

// dropForkBlock removes an invalid fork block from the block tree so the
// same losing branch cannot win a later fork choice.
func (s *State) dropForkBlock(block database.Block) {
	hash := block.Hash()

	batch := s.db.NewBatch()
	batch.DeleteBlock(hash)
	batch.DeleteChainInfo(hash)

	if err := s.db.Commit(batch); err != nil {
		s.evHandler("state: dropForkBlock: block[%s]: ERROR: %s", hash, err)
	}
}
