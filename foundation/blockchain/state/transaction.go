package state

import (
	"encoding/json"
	"fmt"

	"github.com/aurumchain/aurum/foundation/blockchain/database"
)

// SubmitTransaction decodes a signed transaction received over the wire,
// validates it against the current head state and admits it to the
// mempool.
func (s *State) SubmitTransaction(data []byte) error {
	var signedTx database.SignedTx
	if err := json.Unmarshal(data, &signedTx); err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedEncoding, err)
	}

	return s.UpsertWalletTransaction(signedTx)
}

// UpsertWalletTransaction accepts a transaction from a wallet for
// inclusion into the mempool and shares it with the network.
func (s *State) UpsertWalletTransaction(signedTx database.SignedTx) error {

	// Check the signature and chain id before paying the cost of the
	// state dependent checks the mempool performs.
	if err := signedTx.Validate(s.genesis.ChainID); err != nil {
		return err
	}

	tx := database.NewBlockTx(signedTx)

	headHeight := s.RetrieveLatestBlock().Header.Number
	if err := s.mempool.Add(tx, headHeight); err != nil {
		return err
	}

	s.evHandler("state: upsertWalletTransaction: mempool[%d]", s.mempool.Count())
	s.evHandler("viewer: TX: %s", tx)

	if s.Worker != nil {
		s.Worker.SignalShareTx(tx)
		s.Worker.SignalStartMining()
	}

	return nil
}

// UpsertNodeTransaction accepts a transaction shared by a peer node for
// inclusion into the mempool. Peer transactions are not re-shared.
func (s *State) UpsertNodeTransaction(tx database.BlockTx) error {
	if err := tx.Validate(s.genesis.ChainID); err != nil {
		return err
	}

	headHeight := s.RetrieveLatestBlock().Header.Number
	if err := s.mempool.Add(tx, headHeight); err != nil {
		return err
	}

	s.evHandler("state: upsertNodeTransaction: mempool[%d]", s.mempool.Count())

	if s.Worker != nil {
		s.Worker.SignalStartMining()
	}

	return nil
}
