package database

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/blake2b"
)

// AccountType tags the closed set of account variants the ledger supports.
// Each variant carries its own apply/revert rule.
type AccountType string

// The supported account variants.
const (
	AccountTypeBasic   AccountType = "basic"
	AccountTypeVesting AccountType = "vesting"
)

// VestingState carries the extra state of a vesting account. Funds unlock
// in steps of StepAmount every StepBlocks blocks starting at Start, out of
// an initially locked Total.
type VestingState struct {
	Start      uint64 `json:"start"`
	StepBlocks uint64 `json:"step_blocks"`
	StepAmount uint64 `json:"step_amount"`
	Total      uint64 `json:"total"`
}

// LockedAt returns the amount still locked at the specified block height.
func (vs VestingState) LockedAt(height uint64) uint64 {
	if height < vs.Start || vs.StepBlocks == 0 {
		return vs.Total
	}

	steps := (height - vs.Start) / vs.StepBlocks
	unlocked := steps * vs.StepAmount
	if unlocked >= vs.Total {
		return 0
	}

	return vs.Total - unlocked
}

// Account represents information stored in the ledger for an individual
// account.
type Account struct {
	AccountID AccountID     `json:"account_id"`
	Type      AccountType   `json:"type"`
	Balance   uint64        `json:"balance"`
	Nonce     uint64        `json:"nonce"`
	Vesting   *VestingState `json:"vesting,omitempty"`
}

// newAccount constructs a new basic account value for use.
func newAccount(accountID AccountID, balance uint64) Account {
	return Account{
		AccountID: accountID,
		Type:      AccountTypeBasic,
		Balance:   balance,
	}
}

// IsEmpty reports whether the account carries no state worth keeping. Empty
// accounts are pruned from the ledger so applying and reverting a block
// restores the account mapping exactly.
func (a Account) IsEmpty() bool {
	return a.Type == AccountTypeBasic && a.Balance == 0 && a.Nonce == 0
}

// SpendableAt returns the balance the account may spend at the specified
// height, respecting any vesting schedule.
func (a Account) SpendableAt(height uint64) uint64 {
	if a.Type != AccountTypeVesting || a.Vesting == nil {
		return a.Balance
	}

	locked := a.Vesting.LockedAt(height)
	if locked >= a.Balance {
		return 0
	}

	return a.Balance - locked
}

// Hash implements the merkle Hashable interface so the account mapping can
// be committed to a state root.
func (a Account) Hash() ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}

	hash := blake2b.Sum256(data)
	return hash[:], nil
}

// Equals implements the merkle Hashable interface for providing an equality
// check between two accounts.
func (a Account) Equals(other Account) bool {
	if a.AccountID != other.AccountID ||
		a.Type != other.Type ||
		a.Balance != other.Balance ||
		a.Nonce != other.Nonce {
		return false
	}

	if a.Vesting == nil || other.Vesting == nil {
		return a.Vesting == other.Vesting
	}

	return *a.Vesting == *other.Vesting
}

// =============================================================================

// AccountID represents an account id that is used to sign transactions and
// is associated with transactions on the blockchain.
type AccountID string

// ToAccountID converts a hex-encoded string to an account id and validates
// the hex-encoded string is formatted correctly.
func ToAccountID(hex string) (AccountID, error) {
	a := AccountID(hex)
	if !a.IsAccountID() {
		return "", errors.New("invalid account format")
	}

	return a, nil
}

// PublicKeyToAccountID converts the public key to an account id value.
func PublicKeyToAccountID(pk ecdsa.PublicKey) AccountID {
	return AccountID(crypto.PubkeyToAddress(pk).String())
}

// IsAccountID verifies whether the underlying data represents a valid
// hex-encoded account.
func (a AccountID) IsAccountID() bool {
	const addressLength = 20

	if has0xPrefix(a) {
		a = a[2:]
	}

	return len(a) == 2*addressLength && isHex(a)
}

// =============================================================================

// has0xPrefix validates the account starts with a 0x.
func has0xPrefix(a AccountID) bool {
	return len(a) >= 2 && a[0] == '0' && (a[1] == 'x' || a[1] == 'X')
}

// isHex validates whether each byte is a valid hexadecimal character.
func isHex(a AccountID) bool {
	if len(a)%2 != 0 {
		return false
	}

	for _, c := range []byte(a) {
		if !isHexCharacter(c) {
			return false
		}
	}

	return true
}

// isHexCharacter returns bool of c being a valid hexadecimal.
func isHexCharacter(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

// =============================================================================

// byAccount provides sorting support by the account id value.
type byAccount []Account

// Len returns the number of accounts in the list.
func (ba byAccount) Len() int {
	return len(ba)
}

// Less helps to sort the list by account id in ascending order to keep the
// state root canonical.
func (ba byAccount) Less(i, j int) bool {
	return ba[i].AccountID < ba[j].AccountID
}

// Swap moves accounts in the order of the account id value.
func (ba byAccount) Swap(i, j int) {
	ba[i], ba[j] = ba[j], ba[i]
}
