package state

import (
	"errors"

	"github.com/aurumchain/aurum/foundation/blockchain/database"
	"github.com/aurumchain/aurum/foundation/blockchain/database/chainstore"
)

// QueryAccount returns the committed state of the specified account at the
// canonical head.
func (s *State) QueryAccount(accountID database.AccountID) (database.Account, error) {
	return s.ledger.Query(accountID)
}

// QueryAccounts returns a copy of the full committed account mapping at
// the canonical head.
func (s *State) QueryAccounts() map[database.AccountID]database.Account {
	return s.ledger.CopyAccounts()
}

// QueryStateRoot returns the merkle root over the committed account
// mapping at the canonical head.
func (s *State) QueryStateRoot() string {
	return s.ledger.StateRoot()
}

// QueryMempoolLength returns the current length of the mempool.
func (s *State) QueryMempoolLength() int {
	return s.mempool.Count()
}

// QueryBlockByHash returns the block stored under the specified hash,
// whether it is on the canonical chain or not.
func (s *State) QueryBlockByHash(hash string) (database.Block, error) {
	return s.db.GetBlock(hash)
}

// QueryChainInfo returns the block tree entry for the specified hash.
func (s *State) QueryChainInfo(hash string) (chainstore.ChainInfo, error) {
	return s.db.GetChainInfo(hash)
}

// QueryBlocksByNumber returns the canonical blocks for the specified range
// of heights, inclusive. Specify from and to as the same value for a
// single block; the range is clipped to the current head.
func (s *State) QueryBlocksByNumber(from uint64, to uint64) ([]database.Block, error) {
	head := s.RetrieveLatestBlock().Header.Number
	if to > head {
		to = head
	}
	if from > to {
		return nil, nil
	}

	var blocks []database.Block
	for height := from; height <= to; height++ {
		hash, err := s.db.GetHashByHeight(height)
		if err != nil {
			if errors.Is(err, chainstore.ErrNotFound) {
				break
			}
			return nil, err
		}

		block, err := s.db.GetBlock(hash)
		if err != nil {
			return nil, err
		}

		blocks = append(blocks, block)
	}

	return blocks, nil
}

// QueryBlocksSince returns the canonical blocks with a height strictly
// greater than the specified height, oldest first. Peers use this to
// catch up after falling behind.
func (s *State) QueryBlocksSince(height uint64) ([]database.Block, error) {
	head := s.RetrieveLatestBlock().Header.Number
	if height >= head {
		return nil, nil
	}

	return s.QueryBlocksByNumber(height+1, head)
}
