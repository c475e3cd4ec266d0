// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"net/http"
	"strconv"

	v1 "github.com/aurumchain/aurum/business/web/v1"
	"github.com/aurumchain/aurum/foundation/blockchain/database"
	"github.com/aurumchain/aurum/foundation/blockchain/peer"
	"github.com/aurumchain/aurum/foundation/blockchain/state"
	"github.com/aurumchain/aurum/foundation/nameservice"
	"github.com/aurumchain/aurum/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of node to node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	NS    *nameservice.NameService
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	latestBlock := h.State.RetrieveLatestBlock()

	status := peer.Status{
		LatestBlockHash:   latestBlock.Hash(),
		LatestBlockNumber: latestBlock.Header.Number,
		KnownPeers:        h.State.RetrieveKnownPeers(),
	}

	return web.Respond(ctx, w, status, http.StatusOK)
}

// Mempool returns the set of uncommitted transactions.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.RetrieveMempool(), http.StatusOK)
}

// BlocksByNumber returns the canonical blocks for the specified range. The
// special value "latest" refers to the current head height.
func (h Handlers) BlocksByNumber(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	fromStr := web.Param(r, "from")
	toStr := web.Param(r, "to")

	latest := h.State.RetrieveLatestBlock().Header.Number

	from := latest
	if fromStr != "latest" {
		v, err := strconv.ParseUint(fromStr, 10, 64)
		if err != nil {
			return v1.NewRequestError(err, http.StatusBadRequest)
		}
		from = v
	}

	to := latest
	if toStr != "latest" {
		v, err := strconv.ParseUint(toStr, 10, 64)
		if err != nil {
			return v1.NewRequestError(err, http.StatusBadRequest)
		}
		to = v
	}

	blocks, err := h.State.QueryBlocksByNumber(from, to)
	if err != nil {
		return err
	}
	if len(blocks) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	blocksData := make([]database.BlockData, len(blocks))
	for i, block := range blocks {
		blocksData[i] = database.NewBlockData(block)
	}

	return web.Respond(ctx, w, blocksData, http.StatusOK)
}

// SubmitNodeTransaction adds a transaction shared by a peer node to the
// mempool.
func (h Handlers) SubmitNodeTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var tx database.BlockTx
	if err := web.Decode(r, &tx); err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	h.Log.Infow("add node tran", "traceid", v.TraceID, "from:nonce", tx, "to", tx.ToID, "value", tx.Value, "tip", tx.Tip)
	if err := h.State.UpsertNodeTransaction(tx); err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "transaction added to mempool",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// SubmitBlock takes a block received from a peer and runs it through the
// consensus rules. The result of the fork choice is reported back.
func (h Handlers) SubmitBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var blockData database.BlockData
	if err := web.Decode(r, &blockData); err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	block, err := database.ToBlock(blockData)
	if err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	// Stop any in flight mining before the head can move.
	done := h.State.Worker.SignalCancelMining()
	defer done()

	result, err := h.State.ProcessBlock(block)
	if err != nil {
		h.Log.Infow("submit block", "traceid", v.TraceID, "block", blockData.Hash, "result", result, "ERROR", err)
		return v1.NewRequestError(err, http.StatusNotAcceptable)
	}

	h.Log.Infow("submit block", "traceid", v.TraceID, "block", blockData.Hash, "result", result)

	resp := struct {
		Status string `json:"status"`
	}{
		Status: result.String(),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// AddPeer adds a new peer to this node's known peer list.
func (h Handlers) AddPeer(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var p peer.Peer
	if err := web.Decode(r, &p); err != nil {
		return v1.NewRequestError(err, http.StatusBadRequest)
	}

	h.State.AddKnownPeer(p)

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "peer added",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}
