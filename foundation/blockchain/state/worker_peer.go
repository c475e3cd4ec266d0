package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aurumchain/aurum/foundation/blockchain/database"
	"github.com/aurumchain/aurum/foundation/blockchain/peer"
)

// peerOperations handles finding new peers and pulling missing blocks.
func (w *worker) peerOperations() {
	w.evHandler("worker: peerOperations: G started")
	defer w.evHandler("worker: peerOperations: G completed")

	for {
		select {
		case <-w.ticker.C:
			if !w.isShutdown() {
				w.Sync()
			}
		case <-w.shut:
			w.evHandler("worker: peerOperations: received shut signal")
			return
		}
	}
}

// Sync updates the peer list, the mempool and pulls any blocks this node
// is missing from the network.
func (w *worker) Sync() {
	w.evHandler("worker: sync: started")
	defer w.evHandler("worker: sync: completed")

	for _, pr := range w.state.RetrieveKnownPeers() {

		// Retrieve the status of this peer. Repeated failures drop the
		// peer from the known set.
		peerStatus, err := w.queryPeerStatus(pr)
		if err != nil {
			w.evHandler("worker: sync: queryPeerStatus: %s: ERROR: %s", pr.Host, err)
			if w.state.knownPeers.Fail(pr) {
				w.evHandler("worker: sync: dropped unreachable peer %s", pr.Host)
			}
			continue
		}
		w.state.knownPeers.Confirm(pr)

		// Add new peers to this node's list.
		w.addNewPeers(peerStatus.KnownPeers)

		// Update the mempool.
		pool, err := w.queryPeerMempool(pr)
		if err != nil {
			w.evHandler("worker: sync: queryPeerMempool: %s: ERROR: %s", pr.Host, err)
		}
		for _, tx := range pool {
			if err := w.state.UpsertNodeTransaction(tx); err != nil {
				continue
			}
			w.evHandler("worker: sync: queryPeerMempool: %s: added tx: %s", pr.Host, tx)
		}

		// If this peer has blocks this node doesn't, pull and process
		// them through the consensus rules.
		if peerStatus.LatestBlockNumber > w.state.RetrieveLatestBlock().Header.Number {
			w.evHandler("worker: sync: pullPeerBlocks: %s: latestBlockNumber[%d]", pr.Host, peerStatus.LatestBlockNumber)
			if err := w.pullPeerBlocks(pr); err != nil {
				w.evHandler("worker: sync: pullPeerBlocks: %s: ERROR %s", pr.Host, err)
			}
		}
	}
}

// =============================================================================

// queryPeerStatus asks the peer for the head of its chain and its known
// peer list.
func (w *worker) queryPeerStatus(pr peer.Peer) (peer.Status, error) {
	w.evHandler("worker: queryPeerStatus: started: %s", pr)
	defer w.evHandler("worker: queryPeerStatus: completed: %s", pr)

	url := fmt.Sprintf("%s/status", fmt.Sprintf(w.baseURL, pr.Host))

	var ps peer.Status
	if err := send(http.MethodGet, url, nil, &ps); err != nil {
		return peer.Status{}, err
	}

	w.evHandler("worker: queryPeerStatus: peer-node[%s]: latest-blknum[%d]: peer-list[%s]", pr, ps.LatestBlockNumber, ps.KnownPeers)

	return ps, nil
}

// queryPeerMempool asks the peer for its current copy of its mempool.
func (w *worker) queryPeerMempool(pr peer.Peer) ([]database.BlockTx, error) {
	w.evHandler("worker: queryPeerMempool: started: %s", pr)
	defer w.evHandler("worker: queryPeerMempool: completed: %s", pr)

	url := fmt.Sprintf("%s/tx/list", fmt.Sprintf(w.baseURL, pr.Host))

	var pool []database.BlockTx
	if err := send(http.MethodGet, url, nil, &pool); err != nil {
		return nil, err
	}

	w.evHandler("worker: queryPeerMempool: len[%d]", len(pool))

	return pool, nil
}

// addNewPeers takes the list of known peers and makes sure they are
// included in this node's list of known peers.
func (w *worker) addNewPeers(knownPeers []peer.Peer) {
	for _, pr := range knownPeers {
		if w.state.AddKnownPeer(pr) {
			w.evHandler("worker: addNewPeers: added peer %s", pr.Host)
		}
	}
}

// pullPeerBlocks queries the specified node asking for blocks this node
// does not have and runs them through the consensus rules. Out of order
// deliveries are tolerated: unknown parents park the block as an orphan.
func (w *worker) pullPeerBlocks(pr peer.Peer) error {
	w.evHandler("worker: pullPeerBlocks: started: %s", pr)
	defer w.evHandler("worker: pullPeerBlocks: completed: %s", pr)

	from := w.state.RetrieveLatestBlock().Header.Number
	url := fmt.Sprintf("%s/block/list/%d/latest", fmt.Sprintf(w.baseURL, pr.Host), from+1)

	var blocksData []database.BlockData
	if err := send(http.MethodGet, url, nil, &blocksData); err != nil {
		return err
	}

	w.evHandler("worker: pullPeerBlocks: found blocks[%d]", len(blocksData))

	for _, blockData := range blocksData {
		block, err := database.ToBlock(blockData)
		if err != nil {
			return err
		}

		result, err := w.state.ProcessBlock(block)
		if err != nil {
			return err
		}
		w.evHandler("worker: pullPeerBlocks: block[%s] number[%d]: %s", blockData.Hash, blockData.Header.Number, result)
	}

	return nil
}

// sendBlockToPeers takes the new mined block and sends it to all known
// peers.
func (w *worker) sendBlockToPeers(block database.Block) error {
	w.evHandler("worker: sendBlockToPeers: started")
	defer w.evHandler("worker: sendBlockToPeers: completed")

	for _, pr := range w.state.RetrieveKnownPeers() {
		url := fmt.Sprintf("%s/block/submit", fmt.Sprintf(w.baseURL, pr.Host))

		var result struct {
			Status string `json:"status"`
		}

		if err := send(http.MethodPost, url, database.NewBlockData(block), &result); err != nil {
			return fmt.Errorf("%s: %s", pr.Host, err)
		}

		w.evHandler("worker: sendBlockToPeers: sent to peer[%s]: %s", pr, result.Status)
	}

	return nil
}

// =============================================================================

// send is a helper function to send an HTTP request to a node.
func send(method string, url string, dataSend any, dataRecv any) error {
	var req *http.Request

	switch {
	case dataSend != nil:
		data, err := json.Marshal(dataSend)
		if err != nil {
			return err
		}
		req, err = http.NewRequest(method, url, bytes.NewReader(data))
		if err != nil {
			return err
		}

	default:
		var err error
		req, err = http.NewRequest(method, url, nil)
		if err != nil {
			return err
		}
	}

	var client http.Client
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if resp.StatusCode != http.StatusOK {
		msg, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return errors.New(string(msg))
	}

	if dataRecv != nil {
		if err := json.NewDecoder(resp.Body).Decode(dataRecv); err != nil {
			return err
		}
	}

	return nil
}
