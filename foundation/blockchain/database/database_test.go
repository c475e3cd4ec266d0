package database_test

import (
	"crypto/ecdsa"
	"errors"
	"reflect"
	"testing"

	"github.com/aurumchain/aurum/foundation/blockchain/database"
	"github.com/aurumchain/aurum/foundation/blockchain/genesis"
	"github.com/aurumchain/aurum/foundation/blockchain/merkle"
	"github.com/ethereum/go-ethereum/crypto"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// Signing keys reused across the tests. The account ids are derived at
// runtime so the genesis balances always match the signers.
const (
	aliceHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
	bobHexKey   = "9f332e3700d8fc2446eaf6d15034cf96e0c2745e40353deef032a5dbf1dfed93"
	minerHexKey = "aed31b6b5a341af8f27e66fb0b7633cf20fc27049e3eb7f6f623a4655b719ebb"
)

func loadKey(t *testing.T, hexKey string) (*ecdsa.PrivateKey, database.AccountID) {
	pk, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		t.Fatalf("Should be able to load a private key: %v", err)
	}

	return pk, database.PublicKeyToAccountID(pk.PublicKey)
}

func signTx(t *testing.T, pk *ecdsa.PrivateKey, chainID uint16, nonce uint64, toID database.AccountID, value uint64, tip uint64, validFrom uint64) database.BlockTx {
	tx, err := database.NewTx(chainID, nonce, toID, value, tip, validFrom, nil)
	if err != nil {
		t.Fatalf("Should be able to construct a transaction: %v", err)
	}

	signedTx, err := tx.Sign(pk)
	if err != nil {
		t.Fatalf("Should be able to sign a transaction: %v", err)
	}

	return database.NewBlockTx(signedTx)
}

func makeBlock(t *testing.T, number uint64, beneficiaryID database.AccountID, txs []database.BlockTx) database.Block {
	var tree *merkle.Tree[database.BlockTx]
	if len(txs) > 0 {
		tr, err := merkle.NewTree(txs)
		if err != nil {
			t.Fatalf("Should be able to construct a merkle tree: %v", err)
		}
		tree = tr
	}

	return database.Block{
		Header: database.BlockHeader{
			Number:        number,
			BeneficiaryID: beneficiaryID,
		},
		Trans: tree,
	}
}

// =============================================================================

func Test_ApplyAndRevertBlock(t *testing.T) {
	aliceKey, alice := loadKey(t, aliceHexKey)
	_, bob := loadKey(t, bobHexKey)
	_, miner := loadKey(t, minerHexKey)

	gen := genesis.Genesis{
		ChainID:        1,
		MiningReward:   50,
		ValidityWindow: 100,
		Balances: map[string]uint64{
			string(alice): 100,
		},
	}

	t.Log("Given the need to apply and revert a block exactly.")
	{
		accounts, err := database.GenesisAccounts(gen)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to build genesis accounts: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to build genesis accounts.", success)

		ledger := database.NewLedger(gen, accounts)
		genesisRoot := ledger.StateRoot()

		tx := signTx(t, aliceKey, 1, 1, bob, 30, 1, 1)
		block := makeBlock(t, 1, miner, []database.BlockTx{tx})

		ov := ledger.Overlay()
		if err := ov.ApplyBlock(block); err != nil {
			t.Fatalf("\t%s\tShould be able to apply the block: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to apply the block.", success)

		appliedRoot := ov.StateRoot()
		if appliedRoot == genesisRoot {
			t.Fatalf("\t%s\tShould move the state root when applying a block.", failed)
		}
		t.Logf("\t%s\tShould move the state root when applying a block.", success)

		ov.Commit()

		exp := map[database.AccountID]uint64{
			alice: 69,
			bob:   30,
			miner: 51,
		}
		for accountID, balance := range exp {
			account, err := ledger.Query(accountID)
			if err != nil {
				t.Fatalf("\t%s\tShould find account %s: %v", failed, accountID, err)
			}
			if account.Balance != balance {
				t.Logf("\t%s\tgot: %d", failed, account.Balance)
				t.Logf("\t%s\texp: %d", failed, balance)
				t.Fatalf("\t%s\tShould have the right balance for %s.", failed, accountID)
			}
			t.Logf("\t%s\tShould have the right balance for %s.", success, accountID)
		}

		account, err := ledger.Query(alice)
		if err != nil || account.Nonce != 1 {
			t.Fatalf("\t%s\tShould advance the sender nonce to 1.", failed)
		}
		t.Logf("\t%s\tShould advance the sender nonce to 1.", success)

		// Reverting the identical block must restore the account mapping
		// exactly, including pruning the accounts the block created.
		rev := ledger.Overlay()
		if err := rev.RevertBlock(block); err != nil {
			t.Fatalf("\t%s\tShould be able to revert the block: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to revert the block.", success)

		if root := rev.StateRoot(); root != genesisRoot {
			t.Logf("\t%s\tgot: %s", failed, root)
			t.Logf("\t%s\texp: %s", failed, genesisRoot)
			t.Fatalf("\t%s\tShould restore the genesis state root.", failed)
		}
		t.Logf("\t%s\tShould restore the genesis state root.", success)

		rev.Commit()

		genesisAccounts, _ := database.GenesisAccounts(gen)
		if !reflect.DeepEqual(ledger.CopyAccounts(), genesisAccounts) {
			t.Fatalf("\t%s\tShould restore the exact genesis account mapping.", failed)
		}
		t.Logf("\t%s\tShould restore the exact genesis account mapping.", success)
	}
}

func Test_ZeroAmountRevert(t *testing.T) {
	aliceKey, alice := loadKey(t, aliceHexKey)
	_, bob := loadKey(t, bobHexKey)
	_, miner := loadKey(t, minerHexKey)

	gen := genesis.Genesis{
		ChainID:        1,
		MiningReward:   50,
		ValidityWindow: 100,
		Balances: map[string]uint64{
			string(alice): 100,
		},
	}

	t.Log("Given the need to revert blocks whose credits were all zero.")
	{
		accounts, err := database.GenesisAccounts(gen)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to build genesis accounts: %v", failed, err)
		}
		ledger := database.NewLedger(gen, accounts)
		genesisRoot := ledger.StateRoot()

		// A zero value, zero tip transaction: the recipient and the
		// beneficiary tip credit never materialize an account.
		tx := signTx(t, aliceKey, 1, 1, bob, 0, 0, 1)
		block := makeBlock(t, 1, miner, []database.BlockTx{tx})

		ov := ledger.Overlay()
		if err := ov.ApplyBlock(block); err != nil {
			t.Fatalf("\t%s\tShould be able to apply the block: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to apply the block.", success)
		ov.Commit()

		if _, err := ledger.Query(bob); !errors.Is(err, database.ErrAccountNotFound) {
			t.Fatalf("\t%s\tShould prune the zero value recipient: %v", failed, err)
		}
		t.Logf("\t%s\tShould prune the zero value recipient.", success)

		// Reverting debits the reward first, pruning the beneficiary
		// before its zero tip is returned.
		rev := ledger.Overlay()
		if err := rev.RevertBlock(block); err != nil {
			t.Fatalf("\t%s\tShould be able to revert the block: %v", failed, err)
		}
		t.Logf("\t%s\tShould be able to revert the block.", success)

		if root := rev.StateRoot(); root != genesisRoot {
			t.Logf("\t%s\tgot: %s", failed, root)
			t.Logf("\t%s\texp: %s", failed, genesisRoot)
			t.Fatalf("\t%s\tShould restore the genesis state root.", failed)
		}
		t.Logf("\t%s\tShould restore the genesis state root.", success)

		rev.Commit()

		genesisAccounts, _ := database.GenesisAccounts(gen)
		if !reflect.DeepEqual(ledger.CopyAccounts(), genesisAccounts) {
			t.Fatalf("\t%s\tShould restore the exact genesis account mapping.", failed)
		}
		t.Logf("\t%s\tShould restore the exact genesis account mapping.", success)
	}
}

func Test_NonceValidation(t *testing.T) {
	aliceKey, alice := loadKey(t, aliceHexKey)
	_, bob := loadKey(t, bobHexKey)

	gen := genesis.Genesis{
		ChainID:        1,
		MiningReward:   50,
		ValidityWindow: 100,
		Balances: map[string]uint64{
			string(alice): 1000,
		},
	}

	t.Log("Given the need to validate nonces are strictly sequential.")
	{
		accounts, err := database.GenesisAccounts(gen)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to build genesis accounts: %v", failed, err)
		}
		ledger := database.NewLedger(gen, accounts)

		ov := ledger.Overlay()

		tx := signTx(t, aliceKey, 1, 5, bob, 10, 0, 1)
		if err := ov.ApplyTransaction(1, bob, tx); !errors.Is(err, database.ErrInvalidNonce) {
			t.Fatalf("\t%s\tShould reject a nonce that skips ahead: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject a nonce that skips ahead.", success)

		tx = signTx(t, aliceKey, 1, 1, bob, 10, 0, 1)
		if err := ov.ApplyTransaction(1, bob, tx); err != nil {
			t.Fatalf("\t%s\tShould accept the next sequential nonce: %v", failed, err)
		}
		t.Logf("\t%s\tShould accept the next sequential nonce.", success)

		if err := ov.ApplyTransaction(1, bob, tx); !errors.Is(err, database.ErrInvalidNonce) {
			t.Fatalf("\t%s\tShould reject a replayed nonce: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject a replayed nonce.", success)

		tx = signTx(t, aliceKey, 1, 2, bob, 10, 0, 1)
		if err := ov.ApplyTransaction(1, bob, tx); err != nil {
			t.Fatalf("\t%s\tShould accept the following nonce: %v", failed, err)
		}
		t.Logf("\t%s\tShould accept the following nonce.", success)
	}
}

func Test_ValidityWindow(t *testing.T) {
	aliceKey, alice := loadKey(t, aliceHexKey)
	_, bob := loadKey(t, bobHexKey)

	gen := genesis.Genesis{
		ChainID:        1,
		MiningReward:   50,
		ValidityWindow: 10,
		Balances: map[string]uint64{
			string(alice): 1000,
		},
	}

	t.Log("Given the need to enforce the transaction validity window.")
	{
		accounts, _ := database.GenesisAccounts(gen)
		ledger := database.NewLedger(gen, accounts)

		tx := signTx(t, aliceKey, 1, 1, bob, 10, 0, 5)

		ov := ledger.Overlay()
		if err := ov.ApplyTransaction(1, bob, tx); !errors.Is(err, database.ErrExpired) {
			t.Fatalf("\t%s\tShould reject a transaction before its valid from height: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject a transaction before its valid from height.", success)

		ov = ledger.Overlay()
		if err := ov.ApplyTransaction(15, bob, tx); !errors.Is(err, database.ErrExpired) {
			t.Fatalf("\t%s\tShould reject a transaction past its window: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject a transaction past its window.", success)

		ov = ledger.Overlay()
		if err := ov.ApplyTransaction(5, bob, tx); err != nil {
			t.Fatalf("\t%s\tShould accept a transaction inside its window: %v", failed, err)
		}
		t.Logf("\t%s\tShould accept a transaction inside its window.", success)
	}
}

func Test_InsufficientBalance(t *testing.T) {
	aliceKey, alice := loadKey(t, aliceHexKey)
	_, bob := loadKey(t, bobHexKey)

	gen := genesis.Genesis{
		ChainID:        1,
		MiningReward:   50,
		ValidityWindow: 100,
		Balances: map[string]uint64{
			string(alice): 25,
		},
	}

	t.Log("Given the need to reject spends the sender cannot cover.")
	{
		accounts, _ := database.GenesisAccounts(gen)
		ledger := database.NewLedger(gen, accounts)

		ov := ledger.Overlay()

		tx := signTx(t, aliceKey, 1, 1, bob, 20, 10, 1)
		if err := ov.ApplyTransaction(1, bob, tx); !errors.Is(err, database.ErrInsufficientBalance) {
			t.Fatalf("\t%s\tShould reject when value plus tip exceeds the balance: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject when value plus tip exceeds the balance.", success)

		tx = signTx(t, aliceKey, 1, 1, bob, 20, 5, 1)
		if err := ov.ApplyTransaction(1, bob, tx); err != nil {
			t.Fatalf("\t%s\tShould accept when the balance just covers the cost: %v", failed, err)
		}
		t.Logf("\t%s\tShould accept when the balance just covers the cost.", success)
	}
}

func Test_VestingAccount(t *testing.T) {
	aliceKey, alice := loadKey(t, aliceHexKey)
	_, bob := loadKey(t, bobHexKey)

	gen := genesis.Genesis{
		ChainID:        1,
		MiningReward:   50,
		ValidityWindow: 10_000,
		Vesting: []genesis.VestingGrant{
			{
				Account:    string(alice),
				Balance:    1000,
				Start:      100,
				StepBlocks: 10,
				StepAmount: 100,
			},
		},
	}

	t.Log("Given the need to enforce vesting schedules.")
	{
		accounts, err := database.GenesisAccounts(gen)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to build genesis accounts: %v", failed, err)
		}
		ledger := database.NewLedger(gen, accounts)

		account, err := ledger.Query(alice)
		if err != nil {
			t.Fatalf("\t%s\tShould find the vesting account: %v", failed, err)
		}

		spendable := []struct {
			height uint64
			exp    uint64
		}{
			{height: 0, exp: 0},
			{height: 99, exp: 0},
			{height: 100, exp: 0},
			{height: 110, exp: 100},
			{height: 155, exp: 500},
			{height: 200, exp: 1000},
			{height: 500, exp: 1000},
		}
		for _, st := range spendable {
			if got := account.SpendableAt(st.height); got != st.exp {
				t.Logf("\t%s\tgot: %d", failed, got)
				t.Logf("\t%s\texp: %d", failed, st.exp)
				t.Fatalf("\t%s\tShould have the right spendable amount at height %d.", failed, st.height)
			}
			t.Logf("\t%s\tShould have the right spendable amount at height %d.", success, st.height)
		}

		// Spending above the unlocked amount fails even though the balance
		// covers it.
		ov := ledger.Overlay()
		tx := signTx(t, aliceKey, 1, 1, bob, 150, 0, 1)
		if err := ov.ApplyTransaction(110, bob, tx); !errors.Is(err, database.ErrFundsLocked) {
			t.Fatalf("\t%s\tShould reject spending locked funds: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject spending locked funds.", success)

		ov = ledger.Overlay()
		tx = signTx(t, aliceKey, 1, 1, bob, 100, 0, 1)
		if err := ov.ApplyTransaction(110, bob, tx); err != nil {
			t.Fatalf("\t%s\tShould accept spending unlocked funds: %v", failed, err)
		}
		t.Logf("\t%s\tShould accept spending unlocked funds.", success)
	}
}

func Test_AccountEquals(t *testing.T) {
	_, alice := loadKey(t, aliceHexKey)

	base := database.Account{
		AccountID: alice,
		Type:      database.AccountTypeVesting,
		Balance:   1000,
		Vesting: &database.VestingState{
			Start:      100,
			StepBlocks: 10,
			StepAmount: 100,
			Total:      1000,
		},
	}

	same := base
	same.Vesting = &database.VestingState{
		Start:      100,
		StepBlocks: 10,
		StepAmount: 100,
		Total:      1000,
	}
	if !base.Equals(same) {
		t.Fatal("Should treat identical vesting schedules as equal.")
	}

	diff := base
	diff.Vesting = &database.VestingState{
		Start:      200,
		StepBlocks: 10,
		StepAmount: 100,
		Total:      1000,
	}
	if base.Equals(diff) {
		t.Fatal("Should treat accounts with different vesting schedules as not equal.")
	}

	missing := base
	missing.Vesting = nil
	if base.Equals(missing) {
		t.Fatal("Should treat a missing vesting schedule as not equal.")
	}
}

func Test_SignedTxValidate(t *testing.T) {
	aliceKey, alice := loadKey(t, aliceHexKey)
	_, bob := loadKey(t, bobHexKey)

	t.Log("Given the need to validate signed transactions.")
	{
		tx, err := database.NewTx(1, 1, bob, 10, 0, 1, nil)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct a transaction: %v", failed, err)
		}

		signedTx, err := tx.Sign(aliceKey)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to sign a transaction: %v", failed, err)
		}

		if err := signedTx.Validate(1); err != nil {
			t.Fatalf("\t%s\tShould validate a proper transaction: %v", failed, err)
		}
		t.Logf("\t%s\tShould validate a proper transaction.", success)

		from, err := signedTx.FromAccount()
		if err != nil || from != alice {
			t.Fatalf("\t%s\tShould recover the signer account.", failed)
		}
		t.Logf("\t%s\tShould recover the signer account.", success)

		if err := signedTx.Validate(2); err == nil {
			t.Fatalf("\t%s\tShould reject the wrong chain id.", failed)
		}
		t.Logf("\t%s\tShould reject the wrong chain id.", success)

		selfTx, err := database.NewTx(1, 1, alice, 10, 0, 1, nil)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to construct a transaction: %v", failed, err)
		}
		signedSelf, err := selfTx.Sign(aliceKey)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to sign a transaction: %v", failed, err)
		}
		if err := signedSelf.Validate(1); err == nil {
			t.Fatalf("\t%s\tShould reject a self transfer.", failed)
		}
		t.Logf("\t%s\tShould reject a self transfer.", success)
	}
}
