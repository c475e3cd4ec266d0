package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aurumchain/aurum/foundation/blockchain/database"
	"github.com/aurumchain/aurum/foundation/blockchain/database/chainstore"
	"github.com/aurumchain/aurum/foundation/blockchain/pow"
)

// SubmitBlock decodes a block received from the network and runs it
// through the consensus rules.
func (s *State) SubmitBlock(data []byte) (PushResult, error) {
	var blockData database.BlockData
	if err := json.Unmarshal(data, &blockData); err != nil {
		return PushInvalid, fmt.Errorf("%w: %s", ErrMalformedEncoding, err)
	}

	block, err := database.ToBlock(blockData)
	if err != nil {
		return PushInvalid, fmt.Errorf("%w: %s", ErrMalformedEncoding, err)
	}

	// A competing block may win the fork choice, so any in flight mining
	// must stop before the head can move. The mining G is released once
	// the block is fully processed.
	if s.Worker != nil {
		done := s.Worker.SignalCancelMining()
		defer done()
	}

	return s.ProcessBlock(block)
}

// ProcessBlock runs the full set of consensus rules against the block and
// applies its effect on the block tree, the canonical head and the account
// ledger. The result reports whether the block was rejected, stored as an
// orphan, recorded on a losing fork, appended to the head or made the
// winner of a rebranch.
func (s *State) ProcessBlock(block database.Block) (PushResult, error) {
	hash := block.Hash()

	s.evHandler("state: processBlock: started: block[%s] number[%d]", hash, block.Header.Number)

	// Stateless checks run before the lock is taken: an invalid signature
	// or proof of work can never become valid later.
	if err := block.VerifyIntrinsic(s.genesis, time.Now()); err != nil {
		return PushInvalid, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.processBlockLocked(block, hash)
	if err != nil {
		return result, err
	}

	// A stored block may be the missing parent of orphans received
	// earlier. Connect them now, deepest first.
	if result != PushKnown {
		s.connectOrphans(hash)
	}

	return result, nil
}

// processBlockLocked performs the contextual portion of block processing.
// The caller must hold the state lock.
func (s *State) processBlockLocked(block database.Block, hash string) (PushResult, error) {
	if _, err := s.db.GetChainInfo(hash); err == nil {
		return PushKnown, nil
	}

	parentInfo, err := s.db.GetChainInfo(block.Header.PrevBlockHash)
	if err != nil {
		if errors.Is(err, chainstore.ErrNotFound) {
			s.stashOrphan(block)
			return PushOrphan, nil
		}
		return PushInvalid, err
	}

	parentBlock, err := s.db.GetBlock(block.Header.PrevBlockHash)
	if err != nil {
		return PushInvalid, err
	}

	// Contextual rules against the specific parent.
	if err := s.verifyContextual(block, parentBlock, parentInfo); err != nil {
		return PushInvalid, err
	}

	info := chainstore.NewChainInfo(hash, parentInfo, pow.CalcWork(block.Header.DiffBits))

	// The happy path: the block extends the current canonical head.
	if block.Header.PrevBlockHash == s.latestBlock.Hash() {
		if err := s.extendMainChain(block, hash, parentInfo, info); err != nil {
			return PushInvalid, err
		}
		return PushExtended, nil
	}

	// The block grows a side branch. Record it in the block tree, then
	// decide whether the branch now carries strictly more work than the
	// canonical chain. On an exact tie the incumbent head wins.
	headInfo, err := s.db.GetChainInfo(s.latestBlock.Hash())
	if err != nil {
		return PushInvalid, err
	}

	headWork := headInfo.WorkValue()
	forkWork := info.WorkValue()

	if !forkWork.Gt(&headWork) {
		batch := s.db.NewBatch()
		if err := batch.PutBlock(block); err != nil {
			return PushInvalid, err
		}
		if err := batch.PutChainInfo(info); err != nil {
			return PushInvalid, err
		}
		if err := s.db.Commit(batch); err != nil {
			return PushInvalid, err
		}

		s.evHandler("state: processBlock: FORKED: block[%s] forkWork[%s] headWork[%s]", hash, info.Work, headInfo.Work)
		return PushForked, nil
	}

	if err := s.rebranch(block, info, headInfo); err != nil {
		return PushInvalid, err
	}

	return PushRebranched, nil
}

// verifyContextual checks the rules that need the parent block: height
// continuity, the required difficulty for this position in the chain and
// timestamp ordering.
func (s *State) verifyContextual(block database.Block, parentBlock database.Block, parentInfo chainstore.ChainInfo) error {
	if block.Header.Number != parentInfo.Height+1 {
		return fmt.Errorf("%w: block number %d, parent height %d", ErrConsensusRule, block.Header.Number, parentInfo.Height)
	}

	if block.Header.TimeStamp <= parentBlock.Header.TimeStamp {
		return fmt.Errorf("%w: block timestamp %d does not advance parent %d", ErrConsensusRule, block.Header.TimeStamp, parentBlock.Header.TimeStamp)
	}

	requiredBits, err := s.requiredDiffBits(parentBlock)
	if err != nil {
		return err
	}
	if block.Header.DiffBits != requiredBits {
		return fmt.Errorf("%w: difficulty bits %08x, required %08x", ErrConsensusRule, block.Header.DiffBits, requiredBits)
	}

	return nil
}

// requiredDiffBits computes the difficulty a child of the specified parent
// must be mined at. The retarget window is walked through the block tree
// so side branches retarget against their own history.
func (s *State) requiredDiffBits(parentBlock database.Block) (uint32, error) {
	span := s.genesis.PolicySpan(parentBlock.Header.Number)
	if span == 0 {
		return s.genesis.StartingDiffBits, nil
	}

	windowStart := parentBlock
	for i := uint64(0); i < span; i++ {
		prev, err := s.db.GetBlock(windowStart.Header.PrevBlockHash)
		if err != nil {
			return 0, err
		}
		windowStart = prev
	}

	actualSeconds := parentBlock.Header.TimeStamp - windowStart.Header.TimeStamp

	policy := pow.Policy{
		BlockIntervalSeconds: s.genesis.BlockIntervalSeconds,
		WindowSize:           s.genesis.RetargetWindow,
		MaxAdjustmentFactor:  s.genesis.MaxAdjustmentFactor,
		PowLimitBits:         s.genesis.PowLimitBits,
	}

	return policy.NextRequiredBits(parentBlock.Header.DiffBits, actualSeconds, span), nil
}

// =============================================================================

// extendMainChain appends the block to the canonical head: the
// transactions are applied to a ledger overlay, the produced state root is
// checked against the header and everything lands in one atomic batch.
func (s *State) extendMainChain(block database.Block, hash string, parentInfo chainstore.ChainInfo, info chainstore.ChainInfo) error {
	s.evHandler("state: extendMainChain: block[%s]", hash)

	ov := s.ledger.Overlay()
	if err := ov.ApplyBlock(block); err != nil {
		return fmt.Errorf("%w: %s", ErrConsensusRule, err)
	}

	root := ov.StateRoot()
	if root != block.Header.StateRoot {
		return fmt.Errorf("%w: computed %s, header %s", ErrStateRootMismatch, root, block.Header.StateRoot)
	}

	info.OnMainChain = true
	parentInfo.MainChainSuccessor = hash

	batch := s.db.NewBatch()
	if err := batch.PutBlock(block); err != nil {
		return err
	}
	if err := batch.PutChainInfo(info); err != nil {
		return err
	}
	if err := batch.PutChainInfo(parentInfo); err != nil {
		return err
	}
	batch.PutHeightIndex(info.Height, hash)
	batch.PutStateRoot(info.Height, root)
	batch.SetHead(hash)
	if err := batch.ApplyAccountChanges(ov.Changes()); err != nil {
		return err
	}

	if err := s.db.Commit(batch); err != nil {
		return err
	}

	ov.Commit()
	s.latestBlock = block

	s.mempool.OnHeadChanged(block.TransValues(), nil, info.Height)

	s.evHandler("viewer: EXTENDED: block[%s] number[%d] txs[%d]", hash, info.Height, len(block.TransValues()))

	return nil
}

// =============================================================================

// stashOrphan keeps a block whose parent is unknown so it can be connected
// when the parent arrives. The cache is bounded and evicts least recently
// used parents.
func (s *State) stashOrphan(block database.Block) {
	parent := block.Header.PrevBlockHash
	hash := block.Hash()

	siblings, _ := s.orphans.Get(parent)
	for _, sibling := range siblings {
		if sibling.Hash() == hash {
			return
		}
	}

	s.orphans.Put(parent, append(siblings, block))
	s.evHandler("state: stashOrphan: block[%s] waiting on parent[%s]", hash, parent)
}

// connectOrphans processes any orphans that were waiting on the specified
// hash. Newly connected blocks may release further orphans.
func (s *State) connectOrphans(hash string) {
	pending := []string{hash}

	for len(pending) > 0 {
		parent := pending[0]
		pending = pending[1:]

		blocks, exists := s.orphans.Get(parent)
		if !exists {
			continue
		}
		s.orphans.Delete(parent)

		for _, block := range blocks {
			blockHash := block.Hash()
			result, err := s.processBlockLocked(block, blockHash)
			if err != nil {
				s.evHandler("state: connectOrphans: block[%s] rejected: %s", blockHash, err)
				continue
			}

			s.evHandler("state: connectOrphans: block[%s] connected: %s", blockHash, result)
			pending = append(pending, blockHash)
		}
	}
}
