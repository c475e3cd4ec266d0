package state_test

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/aurumchain/aurum/foundation/blockchain/database"
	"github.com/aurumchain/aurum/foundation/blockchain/genesis"
	"github.com/aurumchain/aurum/foundation/blockchain/mempool/selector"
	"github.com/aurumchain/aurum/foundation/blockchain/peer"
	"github.com/aurumchain/aurum/foundation/blockchain/pow"
	"github.com/aurumchain/aurum/foundation/blockchain/signature"
	"github.com/aurumchain/aurum/foundation/blockchain/state"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signing keys reused across the tests. The account ids are derived at
// runtime so the genesis balances always match the signers.
const (
	aliceHexKey  = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	bobHexKey    = "9f332e3700d8fc2446eaf6d15034cf96e0c2745e40353deef032a5dbf1dfed93"
	minerAHexKey = "aed31b6b5a341af8f27e66fb0b7633cf20fc27049e3eb7f6f623a4655b719ebb"
	minerBHexKey = "8dc79feefd3b86e2f9991def0e5ccd9a5128e104682407b308594bc1032ac7f0"
)

// easyBits encodes a target of half the hash space so test mining solves
// within a couple of attempts.
const easyBits = 0x207fffff

func loadKey(t *testing.T, hexKey string) (*ecdsa.PrivateKey, database.AccountID) {
	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		t.Fatalf("Should be able to load a private key: %v", err)
	}

	return pk, database.PublicKeyToAccountID(pk.PublicKey)
}

func testGenesis(t *testing.T) genesis.Genesis {
	_, alice := loadKey(t, aliceHexKey)

	return genesis.Genesis{
		Date:    time.Now().UTC().Add(-time.Hour).Truncate(time.Second),
		ChainID: 1,

		StartingDiffBits:     easyBits,
		PowLimitBits:         easyBits,
		BlockIntervalSeconds: 60,
		RetargetWindow:       0,
		MaxAdjustmentFactor:  4,

		MiningReward:   50,
		TransPerBlock:  10,
		MaxBlockBytes:  1_048_576,
		ValidityWindow: 1000,
		MempoolMaxSize: 100,
		FutureTimeSkew: 120,

		Balances: map[string]uint64{
			string(alice): 1000,
		},
	}
}

func newTestState(t *testing.T, gen genesis.Genesis, beneficiaryID database.AccountID) *state.State {
	st, err := state.New(state.Config{
		BeneficiaryID:  beneficiaryID,
		Host:           "localhost:9080",
		DBPath:         filepath.Join(t.TempDir(), "chain.db"),
		Genesis:        gen,
		SelectStrategy: selector.StrategyTip,
		KnownPeers:     peer.NewSet(),
	})
	if err != nil {
		t.Fatalf("Should be able to construct the state: %v", err)
	}
	t.Cleanup(func() { st.Shutdown() })

	return st
}

func signTx(t *testing.T, pk *ecdsa.PrivateKey, nonce uint64, toID database.AccountID, value uint64, tip uint64) database.SignedTx {
	tx, err := database.NewTx(1, nonce, toID, value, tip, 1, nil)
	if err != nil {
		t.Fatalf("Should be able to construct a transaction: %v", err)
	}

	signedTx, err := tx.Sign(pk)
	if err != nil {
		t.Fatalf("Should be able to sign a transaction: %v", err)
	}

	return signedTx
}

// mineBlockOn solves a block on top of the specified parent using a scratch
// ledger seeded with the parent's account state. It returns the block plus
// the account state after the block for chaining further test blocks.
func mineBlockOn(t *testing.T, gen genesis.Genesis, parent database.Block, parentAccounts map[database.AccountID]database.Account, beneficiaryID database.AccountID, txs []database.BlockTx) (database.Block, map[database.AccountID]database.Account) {
	accounts := make(map[database.AccountID]database.Account, len(parentAccounts))
	for accountID, account := range parentAccounts {
		accounts[accountID] = account
	}

	ledger := database.NewLedger(gen, accounts)
	ov := ledger.Overlay()

	height := parent.Header.Number + 1
	for _, tx := range txs {
		if err := ov.ApplyTransaction(height, beneficiaryID, tx); err != nil {
			t.Fatalf("Should be able to apply a test transaction: %v", err)
		}
	}
	ov.ApplyMiningReward(beneficiaryID)

	stateRoot := ov.StateRoot()
	ov.Commit()

	block, err := database.POW(context.Background(), database.POWArgs{
		BeneficiaryID: beneficiaryID,
		DiffBits:      gen.StartingDiffBits,
		PrevBlock:     parent,
		StateRoot:     stateRoot,
		Trans:         txs,
		Gen:           gen,
		EvHandler:     func(v string, args ...any) {},
	})
	if err != nil {
		t.Fatalf("Should be able to mine a test block: %v", err)
	}

	return block, ledger.CopyAccounts()
}

// =============================================================================

func Test_GenesisInit(t *testing.T) {
	_, alice := loadKey(t, aliceHexKey)
	_, minerA := loadKey(t, minerAHexKey)

	gen := testGenesis(t)
	st := newTestState(t, gen, minerA)

	latest := st.RetrieveLatestBlock()
	if latest.Header.Number != 0 {
		t.Fatalf("Should start at height 0, got %d.", latest.Header.Number)
	}

	account, err := st.QueryAccount(alice)
	if err != nil {
		t.Fatalf("Should find the genesis account: %v", err)
	}
	if account.Balance != 1000 {
		t.Fatalf("Should have the genesis balance, got %d.", account.Balance)
	}

	info, err := st.QueryChainInfo(latest.Hash())
	if err != nil {
		t.Fatalf("Should find the genesis chain info: %v", err)
	}
	if !info.OnMainChain || info.Height != 0 {
		t.Fatalf("Should have the genesis block on the main chain, got %+v.", info)
	}
}

func Test_ExtendChain(t *testing.T) {
	aliceKey, alice := loadKey(t, aliceHexKey)
	_, bob := loadKey(t, bobHexKey)
	_, minerA := loadKey(t, minerAHexKey)

	gen := testGenesis(t)
	st := newTestState(t, gen, minerA)

	genesisAccounts, err := database.GenesisAccounts(gen)
	if err != nil {
		t.Fatalf("Should be able to build genesis accounts: %v", err)
	}

	signedTx := signTx(t, aliceKey, 1, bob, 30, 1)
	tx := database.NewBlockTx(signedTx)

	block1, _ := mineBlockOn(t, gen, st.RetrieveLatestBlock(), genesisAccounts, minerA, []database.BlockTx{tx})

	result, err := st.ProcessBlock(block1)
	if err != nil {
		t.Fatalf("Should accept a block extending the head: %v", err)
	}
	if result != state.PushExtended {
		t.Fatalf("Should report the head was extended, got %s.", result)
	}

	if st.RetrieveLatestBlock().Hash() != block1.Hash() {
		t.Fatal("Should move the head to the new block.")
	}

	exp := map[database.AccountID]uint64{
		alice:  969,
		bob:    30,
		minerA: 51,
	}
	for accountID, balance := range exp {
		account, err := st.QueryAccount(accountID)
		if err != nil {
			t.Fatalf("Should find account %s: %v", accountID, err)
		}
		if account.Balance != balance {
			t.Fatalf("Should have balance %d for %s, got %d.", balance, accountID, account.Balance)
		}
	}

	// Pushing the identical block again is recognized, not reprocessed.
	result, err = st.ProcessBlock(block1)
	if err != nil {
		t.Fatalf("Should tolerate a known block: %v", err)
	}
	if result != state.PushKnown {
		t.Fatalf("Should report the block as known, got %s.", result)
	}
}

func Test_ForkChoiceAndRebranch(t *testing.T) {
	aliceKey, alice := loadKey(t, aliceHexKey)
	_, bob := loadKey(t, bobHexKey)
	_, minerA := loadKey(t, minerAHexKey)
	_, minerB := loadKey(t, minerBHexKey)

	gen := testGenesis(t)
	st := newTestState(t, gen, minerA)

	genesisBlock := st.RetrieveLatestBlock()
	genesisAccounts, err := database.GenesisAccounts(gen)
	if err != nil {
		t.Fatalf("Should be able to build genesis accounts: %v", err)
	}

	// The main chain confirms a transaction at height 1.
	signedTx := signTx(t, aliceKey, 1, bob, 30, 1)
	tx := database.NewBlockTx(signedTx)

	blockA1, _ := mineBlockOn(t, gen, genesisBlock, genesisAccounts, minerA, []database.BlockTx{tx})
	if result, err := st.ProcessBlock(blockA1); err != nil || result != state.PushExtended {
		t.Fatalf("Should extend the head with A1, got %s: %v", result, err)
	}

	// A competing empty block at the same height carries equal work, so
	// the incumbent head stays.
	blockB1, accountsB1 := mineBlockOn(t, gen, genesisBlock, genesisAccounts, minerB, nil)
	result, err := st.ProcessBlock(blockB1)
	if err != nil {
		t.Fatalf("Should record the competing block: %v", err)
	}
	if result != state.PushForked {
		t.Fatalf("Should report a fork on equal work, got %s.", result)
	}
	if st.RetrieveLatestBlock().Hash() != blockA1.Hash() {
		t.Fatal("Should keep the incumbent head on an equal work tie.")
	}

	// Extending the fork makes it the heaviest chain and forces a
	// rebranch.
	blockB2, _ := mineBlockOn(t, gen, blockB1, accountsB1, minerB, nil)
	result, err = st.ProcessBlock(blockB2)
	if err != nil {
		t.Fatalf("Should rebranch onto the heavier fork: %v", err)
	}
	if result != state.PushRebranched {
		t.Fatalf("Should report a rebranch, got %s.", result)
	}

	if st.RetrieveLatestBlock().Hash() != blockB2.Hash() {
		t.Fatal("Should move the head to the fork tip.")
	}

	// The abandoned block's effects are rolled back.
	account, err := st.QueryAccount(alice)
	if err != nil || account.Balance != 1000 || account.Nonce != 0 {
		t.Fatalf("Should restore the sender account, got %+v: %v", account, err)
	}
	if _, err := st.QueryAccount(bob); !errors.Is(err, database.ErrAccountNotFound) {
		t.Fatalf("Should prune the recipient account: %v", err)
	}
	if _, err := st.QueryAccount(minerA); !errors.Is(err, database.ErrAccountNotFound) {
		t.Fatalf("Should prune the abandoned beneficiary account: %v", err)
	}

	account, err = st.QueryAccount(minerB)
	if err != nil || account.Balance != 100 {
		t.Fatalf("Should credit the fork beneficiary two rewards, got %+v: %v", account, err)
	}

	// The reverted transaction returns to circulation.
	if st.QueryMempoolLength() != 1 {
		t.Fatalf("Should return the reverted transaction to the mempool, got %d.", st.QueryMempoolLength())
	}

	// The block tree reflects the move.
	infoA1, err := st.QueryChainInfo(blockA1.Hash())
	if err != nil || infoA1.OnMainChain {
		t.Fatalf("Should move A1 off the main chain, got %+v: %v", infoA1, err)
	}
	infoB1, err := st.QueryChainInfo(blockB1.Hash())
	if err != nil || !infoB1.OnMainChain || infoB1.MainChainSuccessor != blockB2.Hash() {
		t.Fatalf("Should link B1 into the main chain, got %+v: %v", infoB1, err)
	}

	blocks, err := st.QueryBlocksByNumber(1, 2)
	if err != nil || len(blocks) != 2 {
		t.Fatalf("Should walk the canonical chain by height: %v", err)
	}
	if blocks[0].Hash() != blockB1.Hash() || blocks[1].Hash() != blockB2.Hash() {
		t.Fatal("Should resolve heights to the fork blocks after the rebranch.")
	}
}

func Test_OrphanConnect(t *testing.T) {
	_, minerA := loadKey(t, minerAHexKey)

	gen := testGenesis(t)
	st := newTestState(t, gen, minerA)

	genesisBlock := st.RetrieveLatestBlock()
	genesisAccounts, err := database.GenesisAccounts(gen)
	if err != nil {
		t.Fatalf("Should be able to build genesis accounts: %v", err)
	}

	block1, accounts1 := mineBlockOn(t, gen, genesisBlock, genesisAccounts, minerA, nil)
	block2, _ := mineBlockOn(t, gen, block1, accounts1, minerA, nil)

	// The child arrives before its parent.
	result, err := st.ProcessBlock(block2)
	if err != nil {
		t.Fatalf("Should stash a block with an unknown parent: %v", err)
	}
	if result != state.PushOrphan {
		t.Fatalf("Should report the block as an orphan, got %s.", result)
	}
	if st.RetrieveLatestBlock().Header.Number != 0 {
		t.Fatal("Should not move the head for an orphan.")
	}

	// The parent connects itself and the stashed child.
	result, err = st.ProcessBlock(block1)
	if err != nil {
		t.Fatalf("Should accept the missing parent: %v", err)
	}
	if result != state.PushExtended {
		t.Fatalf("Should extend the head with the parent, got %s.", result)
	}

	if st.RetrieveLatestBlock().Hash() != block2.Hash() {
		t.Fatal("Should connect the orphan and move the head to it.")
	}

	info, err := st.QueryChainInfo(block2.Hash())
	if err != nil || !info.OnMainChain || info.Height != 2 {
		t.Fatalf("Should have the orphan on the main chain, got %+v: %v", info, err)
	}
}

func Test_RejectWrongDifficulty(t *testing.T) {
	_, minerA := loadKey(t, minerAHexKey)

	gen := testGenesis(t)
	st := newTestState(t, gen, minerA)

	// Mine a block at a harder difficulty than the chain requires. The
	// proof of work itself is valid, the declared bits are not.
	block, err := database.POW(context.Background(), database.POWArgs{
		BeneficiaryID: minerA,
		DiffBits:      0x1f7fffff,
		PrevBlock:     st.RetrieveLatestBlock(),
		StateRoot:     st.QueryStateRoot(),
		Trans:         nil,
		Gen:           gen,
		EvHandler:     func(v string, args ...any) {},
	})
	if err != nil {
		t.Fatalf("Should be able to mine the test block: %v", err)
	}

	result, err := st.ProcessBlock(block)
	if !errors.Is(err, state.ErrConsensusRule) {
		t.Fatalf("Should reject the wrong difficulty bits: %v", err)
	}
	if result != state.PushInvalid {
		t.Fatalf("Should report the block as invalid, got %s.", result)
	}
}

func Test_RejectStaleTimestamp(t *testing.T) {
	_, minerA := loadKey(t, minerAHexKey)

	gen := testGenesis(t)
	st := newTestState(t, gen, minerA)

	genesisBlock := st.RetrieveLatestBlock()

	// Solve a block whose timestamp equals the parent's. The proof of
	// work is valid, the timestamp does not advance the chain.
	block := database.Block{
		Header: database.BlockHeader{
			Number:        1,
			PrevBlockHash: genesisBlock.Hash(),
			TimeStamp:     genesisBlock.Header.TimeStamp,
			DiffBits:      gen.StartingDiffBits,
			BeneficiaryID: minerA,
			StateRoot:     st.QueryStateRoot(),
			TransRoot:     signature.ZeroHash,
		},
	}

	solved := false
	for attempts := 0; attempts < 10_000; attempts++ {
		data, err := json.Marshal(block.Header)
		if err != nil {
			t.Fatalf("Should be able to encode the header: %v", err)
		}
		if pow.CheckProofOfWork(data, block.Header.DiffBits, gen.PowLimitBits) == nil {
			solved = true
			break
		}
		block.Header.Nonce++
	}
	if !solved {
		t.Fatal("Should solve the easy target within the attempt budget.")
	}

	result, err := st.ProcessBlock(block)
	if !errors.Is(err, state.ErrConsensusRule) {
		t.Fatalf("Should reject a timestamp that does not advance the parent: %v", err)
	}
	if result != state.PushInvalid {
		t.Fatalf("Should report the block as invalid, got %s.", result)
	}
	if st.RetrieveLatestBlock().Header.Number != 0 {
		t.Fatal("Should not move the head for a rejected block.")
	}

	// The miner never produces such a block: even against a parent
	// stamped right now, the child steps one second past it.
	parent := genesisBlock
	parent.Header.TimeStamp = uint64(time.Now().UTC().Unix())
	mined, err := database.POW(context.Background(), database.POWArgs{
		BeneficiaryID: minerA,
		DiffBits:      gen.StartingDiffBits,
		PrevBlock:     parent,
		StateRoot:     st.QueryStateRoot(),
		Trans:         nil,
		Gen:           gen,
		EvHandler:     func(v string, args ...any) {},
	})
	if err != nil {
		t.Fatalf("Should be able to mine the test block: %v", err)
	}
	if mined.Header.TimeStamp <= parent.Header.TimeStamp {
		t.Fatalf("Should stamp the block past its parent, got %d vs %d.", mined.Header.TimeStamp, parent.Header.TimeStamp)
	}
}

func Test_RejectWrongStateRoot(t *testing.T) {
	_, minerA := loadKey(t, minerAHexKey)

	gen := testGenesis(t)
	st := newTestState(t, gen, minerA)

	// The declared state root does not match what applying the block
	// produces.
	block, err := database.POW(context.Background(), database.POWArgs{
		BeneficiaryID: minerA,
		DiffBits:      gen.StartingDiffBits,
		PrevBlock:     st.RetrieveLatestBlock(),
		StateRoot:     "0x0000000000000000000000000000000000000000000000000000000000000000",
		Trans:         nil,
		Gen:           gen,
		EvHandler:     func(v string, args ...any) {},
	})
	if err != nil {
		t.Fatalf("Should be able to mine the test block: %v", err)
	}

	result, err := st.ProcessBlock(block)
	if !errors.Is(err, state.ErrStateRootMismatch) {
		t.Fatalf("Should reject the wrong state root: %v", err)
	}
	if result != state.PushInvalid {
		t.Fatalf("Should report the block as invalid, got %s.", result)
	}

	if st.RetrieveLatestBlock().Header.Number != 0 {
		t.Fatal("Should not move the head for a rejected block.")
	}
}

func Test_SubmitTransactions(t *testing.T) {
	aliceKey, _ := loadKey(t, aliceHexKey)
	_, bob := loadKey(t, bobHexKey)
	_, minerA := loadKey(t, minerAHexKey)

	gen := testGenesis(t)
	st := newTestState(t, gen, minerA)

	// A nonce that skips ahead of the committed state is rejected.
	stale := signTx(t, aliceKey, 2, bob, 10, 5)
	if err := st.UpsertWalletTransaction(stale); err == nil {
		t.Fatal("Should reject a transaction with a gapped nonce.")
	}

	good := signTx(t, aliceKey, 1, bob, 10, 5)
	if err := st.UpsertWalletTransaction(good); err != nil {
		t.Fatalf("Should accept a valid transaction: %v", err)
	}

	if st.QueryMempoolLength() != 1 {
		t.Fatalf("Should have 1 transaction pooled, got %d.", st.QueryMempoolLength())
	}

	// The wrong chain id never reaches the mempool.
	wrongChain, err := database.NewTx(2, 2, bob, 10, 5, 1, nil)
	if err != nil {
		t.Fatalf("Should be able to construct a transaction: %v", err)
	}
	signedWrong, err := wrongChain.Sign(aliceKey)
	if err != nil {
		t.Fatalf("Should be able to sign a transaction: %v", err)
	}
	if err := st.UpsertWalletTransaction(signedWrong); err == nil {
		t.Fatal("Should reject a transaction for another chain.")
	}
}

func Test_MineNewBlock(t *testing.T) {
	aliceKey, _ := loadKey(t, aliceHexKey)
	_, bob := loadKey(t, bobHexKey)
	_, minerA := loadKey(t, minerAHexKey)

	gen := testGenesis(t)
	st := newTestState(t, gen, minerA)

	// Nothing to mine on an empty pool.
	if _, _, err := st.MineNewBlock(context.Background()); !errors.Is(err, state.ErrNoTransactions) {
		t.Fatalf("Should refuse to mine without transactions: %v", err)
	}

	signedTx := signTx(t, aliceKey, 1, bob, 30, 1)
	if err := st.UpsertWalletTransaction(signedTx); err != nil {
		t.Fatalf("Should accept a valid transaction: %v", err)
	}

	block, _, err := st.MineNewBlock(context.Background())
	if err != nil {
		t.Fatalf("Should be able to mine a block: %v", err)
	}

	if st.RetrieveLatestBlock().Hash() != block.Hash() {
		t.Fatal("Should move the head to the mined block.")
	}
	if block.Header.Number != 1 {
		t.Fatalf("Should mine at height 1, got %d.", block.Header.Number)
	}
	if st.QueryMempoolLength() != 0 {
		t.Fatalf("Should drain the mined transaction from the pool, got %d.", st.QueryMempoolLength())
	}

	account, err := st.QueryAccount(minerA)
	if err != nil {
		t.Fatalf("Should find the beneficiary account: %v", err)
	}
	if account.Balance != 51 {
		t.Fatalf("Should credit the reward plus the tip, got %d.", account.Balance)
	}

	// A cancelled context stops the mining loop.
	signedTx = signTx(t, aliceKey, 2, bob, 30, 1)
	if err := st.UpsertWalletTransaction(signedTx); err != nil {
		t.Fatalf("Should accept a valid transaction: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, err := st.MineNewBlock(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Should stop mining on a cancelled context: %v", err)
	}
}
