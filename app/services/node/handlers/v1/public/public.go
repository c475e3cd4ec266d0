// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"net/http"
	"strconv"
	"time"

	v1 "github.com/aurumchain/aurum/business/web/v1"
	"github.com/aurumchain/aurum/foundation/blockchain/database"
	"github.com/aurumchain/aurum/foundation/blockchain/state"
	"github.com/aurumchain/aurum/foundation/events"
	"github.com/aurumchain/aurum/foundation/nameservice"
	"github.com/aurumchain/aurum/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of public endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	NS    *nameservice.NameService
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// SubmitWalletTransaction adds a new user transaction to the mempool.
func (h Handlers) SubmitWalletTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var signedTx database.SignedTx
	if err := web.Decode(r, &signedTx); err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	h.Log.Infow("add user tran", "traceid", v.TraceID, "from:nonce", signedTx, "to", signedTx.ToID, "value", signedTx.Value, "tip", signedTx.Tip)
	if err := h.State.UpsertWalletTransaction(signedTx); err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "transaction added to mempool",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Genesis returns the genesis information.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	gen := h.State.RetrieveGenesis()
	return web.Respond(ctx, w, gen, http.StatusOK)
}

// Mempool returns the set of uncommitted transactions, optionally filtered
// by account.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	acct := web.Param(r, "account")

	mempool := h.State.RetrieveMempool()

	trans := []tx{}
	for _, tran := range mempool {
		account, err := tran.FromAccount()
		if err != nil {
			continue
		}

		if acct != "" && acct != string(account) && acct != string(tran.ToID) {
			continue
		}

		trans = append(trans, toTxModel(h.NS, account, tran))
	}

	return web.Respond(ctx, w, trans, http.StatusOK)
}

// Accounts returns the current committed account states.
func (h Handlers) Accounts(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	account := web.Param(r, "account")
	height := h.State.RetrieveLatestBlock().Header.Number

	var accounts map[database.AccountID]database.Account
	switch account {
	case "":
		accounts = h.State.QueryAccounts()

	default:
		accountID, err := database.ToAccountID(account)
		if err != nil {
			return v1.NewRequestError(err, http.StatusBadRequest)
		}
		act, err := h.State.QueryAccount(accountID)
		if err != nil {
			return v1.NewRequestError(err, http.StatusNotFound)
		}
		accounts = map[database.AccountID]database.Account{accountID: act}
	}

	acts := make([]info, 0, len(accounts))
	for accountID, act := range accounts {
		acts = append(acts, info{
			Account:   accountID,
			Name:      h.NS.Lookup(accountID),
			Type:      string(act.Type),
			Balance:   act.Balance,
			Spendable: act.SpendableAt(height),
			Nonce:     act.Nonce,
		})
	}

	ai := actInfo{
		LatestBlock: h.State.RetrieveLatestBlock().Hash(),
		Uncommitted: len(h.State.RetrieveMempool()),
		Accounts:    acts,
	}

	return web.Respond(ctx, w, ai, http.StatusOK)
}

// BlocksByNumber returns the canonical blocks for the specified range of
// heights.
func (h Handlers) BlocksByNumber(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	from, to, err := parseRange(web.Param(r, "from"), web.Param(r, "to"), h.State.RetrieveLatestBlock().Header.Number)
	if err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	dbBlocks, err := h.State.QueryBlocksByNumber(from, to)
	if err != nil {
		return err
	}
	if len(dbBlocks) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	blocks := make([]block, len(dbBlocks))
	for i, blk := range dbBlocks {
		blocks[i] = toBlockModel(h.NS, blk)
	}

	return web.Respond(ctx, w, blocks, http.StatusOK)
}

// ChainInfo returns the block tree entry for the specified block hash,
// exposing fork and cumulative work information.
func (h Handlers) ChainInfo(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash := web.Param(r, "hash")

	info, err := h.State.QueryChainInfo(hash)
	if err != nil {
		return v1.NewRequestError(err, http.StatusNotFound)
	}

	return web.Respond(ctx, w, info, http.StatusOK)
}

// =============================================================================

// toTxModel converts a block transaction into its view model.
func toTxModel(ns *nameservice.NameService, from database.AccountID, tran database.BlockTx) tx {
	return tx{
		FromAccount: from,
		FromName:    ns.Lookup(from),
		To:          tran.ToID,
		ToName:      ns.Lookup(tran.ToID),
		ChainID:     tran.ChainID,
		Nonce:       tran.Nonce,
		Value:       tran.Value,
		Tip:         tran.Tip,
		ValidFrom:   tran.ValidFrom,
		Data:        tran.Data,
		TimeStamp:   tran.TimeStamp,
		Sig:         tran.SignatureString(),
	}
}

// toBlockModel converts a block into its view model.
func toBlockModel(ns *nameservice.NameService, blk database.Block) block {
	txs := blk.TransValues()

	trans := make([]tx, len(txs))
	for i, tran := range txs {
		from, _ := tran.FromAccount()
		trans[i] = toTxModel(ns, from, tran)
	}

	return block{
		Hash:          blk.Hash(),
		PrevBlockHash: blk.Header.PrevBlockHash,
		Number:        blk.Header.Number,
		TimeStamp:     blk.Header.TimeStamp,
		DiffBits:      blk.Header.DiffBits,
		Nonce:         blk.Header.Nonce,
		Beneficiary:   blk.Header.BeneficiaryID,
		StateRoot:     blk.Header.StateRoot,
		TransRoot:     blk.Header.TransRoot,
		Transactions:  trans,
	}
}

// parseRange parses the from/to path parameters. The special value
// "latest" refers to the current head height.
func parseRange(fromStr string, toStr string, latest uint64) (uint64, uint64, error) {
	from := latest
	if fromStr != "latest" {
		v, err := strconv.ParseUint(fromStr, 10, 64)
		if err != nil {
			return 0, 0, err
		}
		from = v
	}

	to := latest
	if toStr != "latest" {
		v, err := strconv.ParseUint(toStr, 10, 64)
		if err != nil {
			return 0, 0, err
		}
		to = v
	}

	return from, to, nil
}
