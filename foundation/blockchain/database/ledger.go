// Package database maintains the account ledger and the block and
// transaction types that mutate it.
package database

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aurumchain/aurum/foundation/blockchain/genesis"
	"github.com/aurumchain/aurum/foundation/blockchain/merkle"
	"github.com/aurumchain/aurum/foundation/blockchain/signature"
)

// ErrAccountNotFound is returned when an account does not exist in the
// ledger.
var ErrAccountNotFound = errors.New("account not found")

// Ledger manages the committed account mapping for the canonical chain
// head. All block application happens on an Overlay first; the ledger
// itself only changes when an overlay is committed.
type Ledger struct {
	mu       sync.RWMutex
	genesis  genesis.Genesis
	accounts map[AccountID]Account
}

// NewLedger constructs a ledger over the specified committed accounts. A
// nil map starts the ledger empty.
func NewLedger(gen genesis.Genesis, accounts map[AccountID]Account) *Ledger {
	if accounts == nil {
		accounts = make(map[AccountID]Account)
	}

	return &Ledger{
		genesis:  gen,
		accounts: accounts,
	}
}

// GenesisAccounts produces the account mapping declared by the genesis
// file: plain balances plus vesting grants.
func GenesisAccounts(gen genesis.Genesis) (map[AccountID]Account, error) {
	accounts := make(map[AccountID]Account)

	for accountStr, balance := range gen.Balances {
		accountID, err := ToAccountID(accountStr)
		if err != nil {
			return nil, err
		}
		accounts[accountID] = newAccount(accountID, balance)
	}

	for _, grant := range gen.Vesting {
		accountID, err := ToAccountID(grant.Account)
		if err != nil {
			return nil, err
		}
		accounts[accountID] = Account{
			AccountID: accountID,
			Type:      AccountTypeVesting,
			Balance:   grant.Balance,
			Vesting: &VestingState{
				Start:      grant.Start,
				StepBlocks: grant.StepBlocks,
				StepAmount: grant.StepAmount,
				Total:      grant.Balance,
			},
		}
	}

	return accounts, nil
}

// Genesis returns the genesis information the ledger was constructed with.
func (l *Ledger) Genesis() genesis.Genesis {
	return l.genesis
}

// Query returns a copy of the specified account.
func (l *Ledger) Query(accountID AccountID) (Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	account, exists := l.accounts[accountID]
	if !exists {
		return Account{}, ErrAccountNotFound
	}

	return account, nil
}

// CopyAccounts makes a copy of the current committed accounts.
func (l *Ledger) CopyAccounts() map[AccountID]Account {
	l.mu.RLock()
	defer l.mu.RUnlock()

	accounts := make(map[AccountID]Account, len(l.accounts))
	for accountID, account := range l.accounts {
		accounts[accountID] = account
	}

	return accounts
}

// StateRoot computes the merkle root over the committed account mapping in
// a canonical, address sorted order.
func (l *Ledger) StateRoot() string {
	return l.Overlay().StateRoot()
}

// Overlay constructs a disposable copy-on-write view over the ledger.
// Reads fall through to the committed accounts, writes are buffered in the
// overlay. Discard the overlay on rejection, call Commit on acceptance.
func (l *Ledger) Overlay() *Overlay {
	return &Overlay{
		ledger:  l,
		writes:  make(map[AccountID]Account),
		deletes: make(map[AccountID]struct{}),
	}
}

// commit replaces the committed state of the changed accounts. A nil entry
// removes the account.
func (l *Ledger) commit(changes map[AccountID]*Account) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for accountID, account := range changes {
		if account == nil {
			delete(l.accounts, accountID)
			continue
		}
		l.accounts[accountID] = *account
	}
}

// =============================================================================

// Overlay is a layered view over the ledger that buffers writes separately
// from the committed accounts. It is the unit of tentative block
// validation: every state-dependent check runs against an overlay that is
// thrown away unless the block is accepted.
type Overlay struct {
	ledger  *Ledger
	writes  map[AccountID]Account
	deletes map[AccountID]struct{}
}

// Account returns the account as seen through the overlay.
func (ov *Overlay) Account(accountID AccountID) (Account, bool) {
	if _, deleted := ov.deletes[accountID]; deleted {
		return Account{}, false
	}

	if account, exists := ov.writes[accountID]; exists {
		return account, true
	}

	ov.ledger.mu.RLock()
	defer ov.ledger.mu.RUnlock()

	account, exists := ov.ledger.accounts[accountID]
	return account, exists
}

// set buffers the account in the overlay. Accounts that become empty are
// pruned so that apply followed by revert restores the mapping exactly.
func (ov *Overlay) set(account Account) {
	if account.IsEmpty() {
		delete(ov.writes, account.AccountID)
		ov.deletes[account.AccountID] = struct{}{}
		return
	}

	delete(ov.deletes, account.AccountID)
	ov.writes[account.AccountID] = account
}

// ApplyTransaction performs the business logic for applying a transaction
// to the overlay at the specified block height. The sender is debited the
// value plus the tip and the recipient and beneficiary are credited
// atomically: any failure leaves the overlay untouched for this
// transaction.
func (ov *Overlay) ApplyTransaction(height uint64, beneficiaryID AccountID, tx BlockTx) error {
	fromID, err := tx.FromAccount()
	if err != nil {
		return err
	}

	// Check the transaction's validity window against the chain height.
	window := ov.ledger.genesis.ValidityWindow
	if height < tx.ValidFrom || height >= tx.ValidFrom+window {
		return fmt.Errorf("%w: valid [%d,%d), height %d", ErrExpired, tx.ValidFrom, tx.ValidFrom+window, height)
	}

	from, exists := ov.Account(fromID)
	if !exists {
		return fmt.Errorf("%w: unknown sender %s", ErrInsufficientBalance, fromID)
	}

	// Nonces are strictly sequential so apply and revert are exact
	// inverses of each other.
	if tx.Nonce != from.Nonce+1 {
		return fmt.Errorf("%w: current %d, provided %d", ErrInvalidNonce, from.Nonce, tx.Nonce)
	}

	cost := tx.Value + tx.Tip
	if from.Balance < cost {
		return fmt.Errorf("%w: bal %d, needed %d", ErrInsufficientBalance, from.Balance, cost)
	}

	// Vesting accounts may only spend the unlocked portion.
	if from.SpendableAt(height) < cost {
		return fmt.Errorf("%w: spendable %d, needed %d", ErrFundsLocked, from.SpendableAt(height), cost)
	}

	// Debit the sender.
	from.Balance -= cost
	from.Nonce = tx.Nonce
	ov.set(from)

	// Credit the recipient.
	to, exists := ov.Account(tx.ToID)
	if !exists {
		to = newAccount(tx.ToID, 0)
	}
	to.Balance += tx.Value
	ov.set(to)

	// Credit the beneficiary with the tip.
	bnfc, exists := ov.Account(beneficiaryID)
	if !exists {
		bnfc = newAccount(beneficiaryID, 0)
	}
	bnfc.Balance += tx.Tip
	ov.set(bnfc)

	return nil
}

// RevertTransaction is the exact inverse of ApplyTransaction. Re-crediting
// the sender and debiting the recipient and beneficiary by the identical
// amounts and restoring the prior nonce value.
func (ov *Overlay) RevertTransaction(beneficiaryID AccountID, tx BlockTx) error {
	fromID, err := tx.FromAccount()
	if err != nil {
		return err
	}

	// Accounts credited only zero amounts were pruned on apply, so a
	// missing account is materialized empty and re-pruned by set below.
	bnfc, exists := ov.Account(beneficiaryID)
	if !exists {
		bnfc = newAccount(beneficiaryID, 0)
	}
	if bnfc.Balance < tx.Tip {
		return fmt.Errorf("revert: beneficiary %s cannot return tip %d", beneficiaryID, tx.Tip)
	}
	bnfc.Balance -= tx.Tip
	ov.set(bnfc)

	to, exists := ov.Account(tx.ToID)
	if !exists {
		to = newAccount(tx.ToID, 0)
	}
	if to.Balance < tx.Value {
		return fmt.Errorf("revert: recipient %s cannot return value %d", tx.ToID, tx.Value)
	}
	to.Balance -= tx.Value
	ov.set(to)

	from, exists := ov.Account(fromID)
	if !exists {
		from = newAccount(fromID, 0)
	}
	from.Balance += tx.Value + tx.Tip
	from.Nonce = tx.Nonce - 1
	ov.set(from)

	return nil
}

// ApplyBlock applies every transaction of the block in order and credits
// the beneficiary with the block reward. The total supply changes by
// exactly the mining reward.
func (ov *Overlay) ApplyBlock(block Block) error {
	for _, tx := range block.TransValues() {
		if err := ov.ApplyTransaction(block.Header.Number, block.Header.BeneficiaryID, tx); err != nil {
			return fmt.Errorf("tx %s: %w", tx, err)
		}
	}

	ov.ApplyMiningReward(block.Header.BeneficiaryID)

	return nil
}

// ApplyMiningReward credits the beneficiary with the block reward.
func (ov *Overlay) ApplyMiningReward(beneficiaryID AccountID) {
	bnfc, exists := ov.Account(beneficiaryID)
	if !exists {
		bnfc = newAccount(beneficiaryID, 0)
	}
	bnfc.Balance += ov.ledger.genesis.MiningReward
	ov.set(bnfc)
}

// RevertBlock is the exact inverse of ApplyBlock: the block reward is
// returned and the transactions are reverted in reverse application order.
func (ov *Overlay) RevertBlock(block Block) error {
	reward := ov.ledger.genesis.MiningReward

	bnfc, exists := ov.Account(block.Header.BeneficiaryID)
	if !exists {
		bnfc = newAccount(block.Header.BeneficiaryID, 0)
	}
	if bnfc.Balance < reward {
		return fmt.Errorf("revert: beneficiary %s cannot return reward %d", block.Header.BeneficiaryID, reward)
	}
	bnfc.Balance -= reward
	ov.set(bnfc)

	txs := block.TransValues()
	for i := len(txs) - 1; i >= 0; i-- {
		if err := ov.RevertTransaction(block.Header.BeneficiaryID, txs[i]); err != nil {
			return err
		}
	}

	return nil
}

// StateRoot computes the merkle root over the account mapping as seen
// through the overlay, in a canonical address sorted order. Empty accounts
// are excluded.
func (ov *Overlay) StateRoot() string {
	var accounts []Account

	ov.ledger.mu.RLock()
	for accountID, account := range ov.ledger.accounts {
		if _, deleted := ov.deletes[accountID]; deleted {
			continue
		}
		if _, overridden := ov.writes[accountID]; overridden {
			continue
		}
		accounts = append(accounts, account)
	}
	ov.ledger.mu.RUnlock()

	for _, account := range ov.writes {
		accounts = append(accounts, account)
	}

	if len(accounts) == 0 {
		return signature.ZeroHash
	}

	sort.Sort(byAccount(accounts))

	tree, err := merkle.NewTree(accounts)
	if err != nil {
		return signature.ZeroHash
	}

	return tree.RootHex()
}

// Changes returns the set of accounts the overlay would change on commit.
// A nil entry means the account is removed.
func (ov *Overlay) Changes() map[AccountID]*Account {
	changes := make(map[AccountID]*Account, len(ov.writes)+len(ov.deletes))

	for accountID := range ov.deletes {
		changes[accountID] = nil
	}
	for accountID, account := range ov.writes {
		cp := account
		changes[accountID] = &cp
	}

	return changes
}

// Commit merges the buffered writes into the committed ledger state.
func (ov *Overlay) Commit() {
	ov.ledger.commit(ov.Changes())
}
