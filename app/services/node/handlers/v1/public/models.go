package public

import (
	"github.com/aurumchain/aurum/foundation/blockchain/database"
)

// tx is the view model for a transaction in API responses.
type tx struct {
	FromAccount database.AccountID `json:"from"`
	FromName    string             `json:"from_name"`
	To          database.AccountID `json:"to"`
	ToName      string             `json:"to_name"`
	ChainID     uint16             `json:"chain_id"`
	Nonce       uint64             `json:"nonce"`
	Value       uint64             `json:"value"`
	Tip         uint64             `json:"tip"`
	ValidFrom   uint64             `json:"valid_from"`
	Data        []byte             `json:"data,omitempty"`
	TimeStamp   uint64             `json:"timestamp"`
	Sig         string             `json:"sig"`
}

// info is the view model for an account in API responses.
type info struct {
	Account   database.AccountID `json:"account"`
	Name      string             `json:"name"`
	Type      string             `json:"type"`
	Balance   uint64             `json:"balance"`
	Spendable uint64             `json:"spendable"`
	Nonce     uint64             `json:"nonce"`
}

// actInfo is the complete accounts response.
type actInfo struct {
	LatestBlock string `json:"latest_block"`
	Uncommitted int    `json:"uncommitted"`
	Accounts    []info `json:"accounts"`
}

// block is the view model for a block in API responses.
type block struct {
	Hash          string             `json:"hash"`
	PrevBlockHash string             `json:"prev_block_hash"`
	Number        uint64             `json:"number"`
	TimeStamp     uint64             `json:"timestamp"`
	DiffBits      uint32             `json:"diff_bits"`
	Nonce         uint64             `json:"nonce"`
	Beneficiary   database.AccountID `json:"beneficiary"`
	StateRoot     string             `json:"state_root"`
	TransRoot     string             `json:"trans_root"`
	Transactions  []tx               `json:"txs"`
}
