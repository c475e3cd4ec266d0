// Package state is the core API for the blockchain and implements the
// consensus rules for accepting blocks, choosing between competing chains
// and maintaining the account ledger at the canonical head.
package state

import (
	"errors"
	"sync"

	"github.com/decred/dcrd/container/lru"

	"github.com/aurumchain/aurum/foundation/blockchain/database"
	"github.com/aurumchain/aurum/foundation/blockchain/database/chainstore"
	"github.com/aurumchain/aurum/foundation/blockchain/genesis"
	"github.com/aurumchain/aurum/foundation/blockchain/mempool"
	"github.com/aurumchain/aurum/foundation/blockchain/peer"
	"github.com/aurumchain/aurum/foundation/blockchain/pow"
)

// maxOrphanParents bounds the number of unknown parents the node keeps
// orphan blocks for. Old entries are evicted least recently used.
const maxOrphanParents = 128

// EventHandler defines a function that is called when events occur in the
// processing of blocks and transactions.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by
// any package providing support for mining, peer updates and transaction
// sharing.
type Worker interface {
	Shutdown()
	Sync()
	SignalStartMining()
	SignalCancelMining() (done func())
	SignalShareTx(blockTx database.BlockTx)
}

// =============================================================================

// Config represents the configuration required to start the blockchain
// node.
type Config struct {
	BeneficiaryID  database.AccountID
	Host           string
	DBPath         string
	Genesis        genesis.Genesis
	SelectStrategy string
	KnownPeers     *peer.Set
	EvHandler      EventHandler
}

// State manages the blockchain database.
type State struct {
	mu sync.Mutex

	beneficiaryID database.AccountID
	host          string
	evHandler     EventHandler
	latestBlock   database.Block

	knownPeers *peer.Set
	genesis    genesis.Genesis
	mempool    *mempool.Mempool
	db         *chainstore.Store
	ledger     *database.Ledger
	orphans    *lru.Map[string, []database.Block]

	Worker Worker
}

// New constructs a new blockchain for data management.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	// Access the storage for the blockchain.
	db, err := chainstore.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	// Initialize the store with the genesis block on first start, or load
	// the persisted head state.
	headHash, err := db.HeadHash()
	switch {
	case err == nil:

	case errors.Is(err, chainstore.ErrNotFound):
		headHash, err = initGenesis(db, cfg.Genesis)
		if err != nil {
			db.Close()
			return nil, err
		}
		ev("state: new: initialized chain with genesis block %s", headHash)

	default:
		db.Close()
		return nil, err
	}

	latestBlock, err := db.GetBlock(headHash)
	if err != nil {
		db.Close()
		return nil, err
	}

	accounts, err := db.GetAccounts()
	if err != nil {
		db.Close()
		return nil, err
	}

	ledger := database.NewLedger(cfg.Genesis, accounts)

	mpool, err := mempool.NewWithConfig(mempool.Config{
		Ledger:         ledger,
		MaxSize:        cfg.Genesis.MempoolMaxSize,
		SelectStrategy: cfg.SelectStrategy,
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	state := State{
		beneficiaryID: cfg.BeneficiaryID,
		host:          cfg.Host,
		evHandler:     ev,
		latestBlock:   latestBlock,

		knownPeers: cfg.KnownPeers,
		genesis:    cfg.Genesis,
		mempool:    mpool,
		db:         db,
		ledger:     ledger,
		orphans:    lru.NewMap[string, []database.Block](maxOrphanParents),
	}

	// The Worker is not set here. The call to worker.Run will assign
	// itself and start everything up and running for the node.

	return &state, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	// Make sure the database is properly closed.
	defer s.db.Close()

	// Stop all blockchain writing activity.
	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	return nil
}

// =============================================================================

// initGenesis derives the deterministic genesis block from the genesis
// file and commits it with a single batch.
func initGenesis(db *chainstore.Store, gen genesis.Genesis) (string, error) {
	genesisBlock, err := database.GenesisBlock(gen)
	if err != nil {
		return "", err
	}
	hash := genesisBlock.Hash()

	accounts, err := database.GenesisAccounts(gen)
	if err != nil {
		return "", err
	}

	work := pow.CalcWork(genesisBlock.Header.DiffBits)
	info := chainstore.InitialChainInfo(hash, work)

	batch := db.NewBatch()
	if err := batch.PutBlock(genesisBlock); err != nil {
		return "", err
	}
	if err := batch.PutChainInfo(info); err != nil {
		return "", err
	}
	batch.SetGenesis(hash)
	batch.SetHead(hash)
	batch.PutHeightIndex(0, hash)
	batch.PutStateRoot(0, genesisBlock.Header.StateRoot)

	changes := make(map[database.AccountID]*database.Account, len(accounts))
	for accountID, account := range accounts {
		cp := account
		changes[accountID] = &cp
	}
	if err := batch.ApplyAccountChanges(changes); err != nil {
		return "", err
	}

	if err := db.Commit(batch); err != nil {
		return "", err
	}

	return hash, nil
}
