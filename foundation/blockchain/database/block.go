package database

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/aurumchain/aurum/foundation/blockchain/genesis"
	"github.com/aurumchain/aurum/foundation/blockchain/merkle"
	"github.com/aurumchain/aurum/foundation/blockchain/pow"
	"github.com/aurumchain/aurum/foundation/blockchain/signature"
)

// BlockHeader represents common information required for each block.
type BlockHeader struct {
	Number        uint64    `json:"number"`          // Block height in the chain.
	PrevBlockHash string    `json:"prev_block_hash"` // Hash of the previous block in the chain.
	TimeStamp     uint64    `json:"timestamp"`       // Time the block was mined.
	DiffBits      uint32    `json:"diff_bits"`       // Compact difficulty target the block was mined at.
	Nonce         uint64    `json:"nonce"`           // Value identified to solve the proof of work.
	BeneficiaryID AccountID `json:"beneficiary"`     // The account receiving the reward and tips.
	StateRoot     string    `json:"state_root"`      // Merkle root over the account mapping after this block.
	TransRoot     string    `json:"trans_root"`      // Merkle root over the transactions in this block.
}

// Block represents a group of transactions batched together.
type Block struct {
	Header BlockHeader
	Trans  *merkle.Tree[BlockTx]
}

// Hash returns the unique hash for the block. The header alone is hashed so
// the chain can be cryptographically checked from headers only.
func (b Block) Hash() string {
	return signature.Hash(b.Header)
}

// TransValues returns the transactions of the block in order. Blocks
// without transactions are valid and return nil.
func (b Block) TransValues() []BlockTx {
	if b.Trans == nil {
		return nil
	}

	return b.Trans.Values()
}

// headerData returns the canonical encoding of the header the proof of
// work hash is computed over.
func (b Block) headerData() []byte {
	data, err := json.Marshal(b.Header)
	if err != nil {
		return nil
	}

	return data
}

// Size returns the number of bytes of the canonical block encoding.
func (b Block) Size() int {
	data, err := json.Marshal(NewBlockData(b))
	if err != nil {
		return 0
	}

	return len(data)
}

// =============================================================================

// VerifyIntrinsic validates every property of the block that does not
// require chain context: limits, merkle consistency, signatures, duplicate
// transactions, the proof of work and the timestamp bound against local
// time. State dependent checks belong to the chain manager.
func (b Block) VerifyIntrinsic(gen genesis.Genesis, now time.Time) error {
	if b.Header.Number == 0 {
		return errors.New("genesis block cannot be submitted")
	}

	if b.Header.PrevBlockHash == "" {
		return errors.New("missing previous block hash")
	}

	txs := b.TransValues()
	if len(txs) > gen.TransPerBlock {
		return fmt.Errorf("too many transactions, got %d, max %d", len(txs), gen.TransPerBlock)
	}

	if size := b.Size(); size > gen.MaxBlockBytes {
		return fmt.Errorf("block too large, got %d bytes, max %d", size, gen.MaxBlockBytes)
	}

	// The declared transactions root must match the recomputed root over
	// the block's transaction list.
	transRoot := signature.ZeroHash
	if len(txs) > 0 {
		tree, err := merkle.NewTree(txs)
		if err != nil {
			return err
		}
		transRoot = tree.RootHex()
	}
	if b.Header.TransRoot != transRoot {
		return fmt.Errorf("merkle root does not match transactions, got %s, exp %s", transRoot, b.Header.TransRoot)
	}

	// Check every signature and reject duplicate transactions within
	// the block.
	seen := make(map[string]struct{}, len(txs))
	for _, tx := range txs {
		if err := tx.Validate(gen.ChainID); err != nil {
			return fmt.Errorf("tx %s: %w", tx, err)
		}

		hash := tx.HashHex()
		if _, exists := seen[hash]; exists {
			return fmt.Errorf("duplicate transaction %s in block", tx)
		}
		seen[hash] = struct{}{}
	}

	// The block timestamp may only lead local time by the configured skew.
	maxTime := uint64(now.UTC().Unix()) + gen.FutureTimeSkew
	if b.Header.TimeStamp > maxTime {
		return fmt.Errorf("block timestamp %d too far in the future, max %d", b.Header.TimeStamp, maxTime)
	}

	// The declared difficulty must be solved by the header hash.
	if err := pow.CheckProofOfWork(b.headerData(), b.Header.DiffBits, gen.PowLimitBits); err != nil {
		return fmt.Errorf("invalid proof of work: %w", err)
	}

	return nil
}

// =============================================================================

// POWArgs represents the set of arguments required to mine a new block.
type POWArgs struct {
	BeneficiaryID AccountID
	DiffBits      uint32
	PrevBlock     Block
	StateRoot     string
	Trans         []BlockTx
	Gen           genesis.Genesis
	EvHandler     func(v string, args ...any)
}

// POW constructs a new block and performs the work to find a nonce that
// solves the cryptographic proof of work puzzle.
func POW(ctx context.Context, args POWArgs) (Block, error) {
	transRoot := signature.ZeroHash
	var tree *merkle.Tree[BlockTx]
	if len(args.Trans) > 0 {
		t, err := merkle.NewTree(args.Trans)
		if err != nil {
			return Block{}, err
		}
		tree = t
		transRoot = t.RootHex()
	}

	// Timestamps must strictly advance along the chain, so blocks mined
	// within the same second step one past the parent.
	timeStamp := uint64(time.Now().UTC().Unix())
	if timeStamp <= args.PrevBlock.Header.TimeStamp {
		timeStamp = args.PrevBlock.Header.TimeStamp + 1
	}

	nb := Block{
		Header: BlockHeader{
			Number:        args.PrevBlock.Header.Number + 1,
			PrevBlockHash: args.PrevBlock.Hash(),
			TimeStamp:     timeStamp,
			DiffBits:      args.DiffBits,
			Nonce:         0, // Identified by the mining loop below.
			BeneficiaryID: args.BeneficiaryID,
			StateRoot:     args.StateRoot,
			TransRoot:     transRoot,
		},
		Trans: tree,
	}

	if err := nb.performPOW(ctx, args.Gen.PowLimitBits, args.EvHandler); err != nil {
		return Block{}, err
	}

	return nb, nil
}

// performPOW does the work of mining to find a valid hash for a specified
// block. Pointer semantics are being used since a nonce is being
// discovered.
func (b *Block) performPOW(ctx context.Context, powLimitBits uint32, ev func(v string, args ...any)) error {
	ev("database: performPOW: MINING: started")
	defer ev("database: performPOW: MINING: completed")

	// Choose a random starting point for the nonce. After this, the nonce
	// is incremented by 1 until a solution is found.
	nBig, err := rand.Int(rand.Reader, big.NewInt(math.MaxInt64))
	if err != nil {
		return err
	}
	b.Header.Nonce = nBig.Uint64()

	var attempts uint64
	for {
		attempts++
		if attempts%10_000 == 0 {
			ev("database: performPOW: MINING: attempts[%d]", attempts)
		}

		if ctx.Err() != nil {
			ev("database: performPOW: MINING: CANCELLED")
			return ctx.Err()
		}

		if err := pow.CheckProofOfWork(b.headerData(), b.Header.DiffBits, powLimitBits); err != nil {
			b.Header.Nonce++
			continue
		}

		ev("database: performPOW: MINING: SOLVED: prevBlk[%s]: newBlk[%s]", b.Header.PrevBlockHash, b.Hash())
		ev("database: performPOW: MINING: attempts[%d]", attempts)

		return nil
	}
}

// =============================================================================

// GenesisBlock deterministically constructs the first block of the chain
// from the genesis file. Every node derives the identical block and hash.
func GenesisBlock(gen genesis.Genesis) (Block, error) {
	accounts, err := GenesisAccounts(gen)
	if err != nil {
		return Block{}, err
	}

	ledger := NewLedger(gen, accounts)

	block := Block{
		Header: BlockHeader{
			Number:        0,
			PrevBlockHash: signature.ZeroHash,
			TimeStamp:     uint64(gen.Date.UTC().Unix()),
			DiffBits:      gen.StartingDiffBits,
			Nonce:         0,
			BeneficiaryID: "",
			StateRoot:     ledger.StateRoot(),
			TransRoot:     signature.ZeroHash,
		},
	}

	return block, nil
}

// =============================================================================

// BlockData represents what is serialized to storage and the network.
type BlockData struct {
	Hash   string      `json:"hash"`
	Header BlockHeader `json:"block"`
	Trans  []BlockTx   `json:"trans"`
}

// NewBlockData constructs the value to serialize.
func NewBlockData(block Block) BlockData {
	return BlockData{
		Hash:   block.Hash(),
		Header: block.Header,
		Trans:  block.TransValues(),
	}
}

// ToBlock converts a BlockData into a Block.
func ToBlock(blockData BlockData) (Block, error) {
	var tree *merkle.Tree[BlockTx]
	if len(blockData.Trans) > 0 {
		t, err := merkle.NewTree(blockData.Trans)
		if err != nil {
			return Block{}, err
		}
		tree = t
	}

	return Block{
		Header: blockData.Header,
		Trans:  tree,
	}, nil
}
