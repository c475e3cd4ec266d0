// Package chainstore persists the durable, ordered history of accepted
// blocks, the block tree index and the canonical ledger snapshot. It is
// backed by an embedded LevelDB database; every head moving mutation is
// committed through a single synced batch so a crash leaves the store at
// either the pre-update or post-update state.
package chainstore

import (
	"encoding/binary"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/aurumchain/aurum/foundation/blockchain/database"
)

// ErrNotFound is returned when a requested key does not exist in the store.
var ErrNotFound = errors.New("chainstore: not found")

// Key layout. Hashes and account ids are hex strings, heights are big
// endian 8 byte values so iteration is ordered.
const (
	keyGenesis      = "meta:genesis"
	keyHead         = "meta:head"
	prefixBlock     = "b:"
	prefixChainInfo = "c:"
	prefixHeight    = "h:"
	prefixAccount   = "a:"
	prefixStateRoot = "r:"
)

// Store provides access to the chain database.
type Store struct {
	db *leveldb.DB
}

// Open opens or creates the chain database at the specified path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "opening chain database")
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================

// get reads and unmarshals a single JSON value.
func (s *Store) get(key string, value any) error {
	data, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return ErrNotFound
		}
		return errors.Wrapf(err, "reading %q", key)
	}

	if err := json.Unmarshal(data, value); err != nil {
		return errors.Wrapf(err, "decoding %q", key)
	}

	return nil
}

// getString reads a raw string value.
func (s *Store) getString(key string) (string, error) {
	data, err := s.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return "", ErrNotFound
		}
		return "", errors.Wrapf(err, "reading %q", key)
	}

	return string(data), nil
}

// GenesisHash returns the hash of the genesis block the store was
// initialized with.
func (s *Store) GenesisHash() (string, error) {
	return s.getString(keyGenesis)
}

// HeadHash returns the hash of the current canonical head.
func (s *Store) HeadHash() (string, error) {
	return s.getString(keyHead)
}

// GetBlock returns the block stored under the specified hash.
func (s *Store) GetBlock(hash string) (database.Block, error) {
	var blockData database.BlockData
	if err := s.get(prefixBlock+hash, &blockData); err != nil {
		return database.Block{}, err
	}

	return database.ToBlock(blockData)
}

// GetChainInfo returns the block tree entry for the specified hash.
func (s *Store) GetChainInfo(hash string) (ChainInfo, error) {
	var info ChainInfo
	if err := s.get(prefixChainInfo+hash, &info); err != nil {
		return ChainInfo{}, err
	}

	return info, nil
}

// GetHashByHeight returns the canonical block hash at the specified height.
func (s *Store) GetHashByHeight(height uint64) (string, error) {
	return s.getString(prefixHeight + string(heightKey(height)))
}

// GetStateRoot returns the cached state root for the canonical block at
// the specified height. Used for fast reorg ancestor cross-checks.
func (s *Store) GetStateRoot(height uint64) (string, error) {
	return s.getString(prefixStateRoot + string(heightKey(height)))
}

// GetAccounts loads the full persisted account mapping.
func (s *Store) GetAccounts() (map[database.AccountID]database.Account, error) {
	accounts := make(map[database.AccountID]database.Account)

	iter := s.db.NewIterator(util.BytesPrefix([]byte(prefixAccount)), nil)
	defer iter.Release()

	for iter.Next() {
		var account database.Account
		if err := json.Unmarshal(iter.Value(), &account); err != nil {
			return nil, errors.Wrapf(err, "decoding account %q", iter.Key())
		}
		accounts[account.AccountID] = account
	}

	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "iterating accounts")
	}

	return accounts, nil
}

// =============================================================================

// Batch accumulates mutations that must land atomically. Nothing is
// visible until Commit.
type Batch struct {
	b *leveldb.Batch
}

// NewBatch constructs an empty batch.
func (s *Store) NewBatch() *Batch {
	return &Batch{b: new(leveldb.Batch)}
}

// put marshals and stages a single JSON value.
func (b *Batch) put(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "encoding %q", key)
	}

	b.b.Put([]byte(key), data)
	return nil
}

// PutBlock stages a block keyed by its hash.
func (b *Batch) PutBlock(block database.Block) error {
	return b.put(prefixBlock+block.Hash(), database.NewBlockData(block))
}

// DeleteBlock removes the block stored under the specified hash.
func (b *Batch) DeleteBlock(hash string) {
	b.b.Delete([]byte(prefixBlock + hash))
}

// PutChainInfo stages a block tree entry.
func (b *Batch) PutChainInfo(info ChainInfo) error {
	return b.put(prefixChainInfo+info.Hash, info)
}

// DeleteChainInfo removes the block tree entry for the specified hash.
func (b *Batch) DeleteChainInfo(hash string) {
	b.b.Delete([]byte(prefixChainInfo + hash))
}

// SetGenesis stages the genesis hash marker.
func (b *Batch) SetGenesis(hash string) {
	b.b.Put([]byte(keyGenesis), []byte(hash))
}

// SetHead stages the canonical head pointer.
func (b *Batch) SetHead(hash string) {
	b.b.Put([]byte(keyHead), []byte(hash))
}

// PutHeightIndex stages the canonical height to hash mapping.
func (b *Batch) PutHeightIndex(height uint64, hash string) {
	b.b.Put([]byte(prefixHeight+string(heightKey(height))), []byte(hash))
}

// DeleteHeightIndex removes the canonical mapping for the height.
func (b *Batch) DeleteHeightIndex(height uint64) {
	b.b.Delete([]byte(prefixHeight + string(heightKey(height))))
}

// PutStateRoot stages the state root cache entry for the height.
func (b *Batch) PutStateRoot(height uint64, root string) {
	b.b.Put([]byte(prefixStateRoot+string(heightKey(height))), []byte(root))
}

// DeleteStateRoot removes the state root cache entry for the height.
func (b *Batch) DeleteStateRoot(height uint64) {
	b.b.Delete([]byte(prefixStateRoot + string(heightKey(height))))
}

// ApplyAccountChanges stages the account mutations produced by a ledger
// overlay. A nil entry removes the account.
func (b *Batch) ApplyAccountChanges(changes map[database.AccountID]*database.Account) error {
	for accountID, account := range changes {
		key := prefixAccount + string(accountID)
		if account == nil {
			b.b.Delete([]byte(key))
			continue
		}

		if err := b.put(key, account); err != nil {
			return err
		}
	}

	return nil
}

// Commit writes the batch with a synced write. The commit is atomic: all
// staged mutations land or none do.
func (s *Store) Commit(b *Batch) error {
	wo := opt.WriteOptions{Sync: true}
	if err := s.db.Write(b.b, &wo); err != nil {
		return errors.Wrap(err, "committing batch")
	}

	return nil
}

// =============================================================================

// heightKey encodes a height as a big endian 8 byte key segment.
func heightKey(height uint64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], height)
	return key[:]
}
