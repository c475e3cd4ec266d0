// Package mempool maintains the set of unconfirmed, individually valid
// transactions waiting for inclusion in a block.
package mempool

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aurumchain/aurum/foundation/blockchain/database"
	"github.com/aurumchain/aurum/foundation/blockchain/mempool/selector"
)

// ErrDuplicateTransaction is returned when the identical transaction is
// already present in the pool.
var ErrDuplicateTransaction = errors.New("duplicate transaction")

// entry is a pooled transaction plus insertion bookkeeping used for
// eviction tie-breaks.
type entry struct {
	tx  database.BlockTx
	seq uint64
}

// Config represents the set of values required for constructing a mempool.
type Config struct {
	Ledger         *database.Ledger
	MaxSize        int
	SelectStrategy string
}

// Mempool represents a cache of transactions organized by account:nonce.
// Transactions are validated against the canonical ledger without
// committing anything; chain head changes re-shuffle the pool.
type Mempool struct {
	mu       sync.RWMutex
	pool     map[string]entry
	seq      uint64
	maxSize  int
	ledger   *database.Ledger
	selectFn selector.Func
}

// New constructs a new mempool using the default sort strategy.
func New(ledger *database.Ledger, maxSize int) (*Mempool, error) {
	return NewWithConfig(Config{
		Ledger:         ledger,
		MaxSize:        maxSize,
		SelectStrategy: selector.StrategyTip,
	})
}

// NewWithConfig constructs a new mempool with the specified configuration.
func NewWithConfig(cfg Config) (*Mempool, error) {
	selectFn, err := selector.Retrieve(cfg.SelectStrategy)
	if err != nil {
		return nil, err
	}

	mp := Mempool{
		pool:     make(map[string]entry),
		maxSize:  cfg.MaxSize,
		ledger:   cfg.Ledger,
		selectFn: selectFn,
	}

	return &mp, nil
}

// Count returns the current number of transactions in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Add validates the transaction against the canonical ledger state at the
// specified head height and admits it to the pool. Pending transactions
// from the same sender with lower nonces are taken into account so a
// sender can queue sequential transactions.
func (mp *Mempool) Add(tx database.BlockTx, headHeight uint64) error {
	key, err := mapKey(tx)
	if err != nil {
		return err
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if existing, exists := mp.pool[key]; exists {
		// The identical transaction is rejected. A different transaction
		// for the same account and nonce replaces the pooled one only
		// when it pays a strictly higher tip.
		if existing.tx.Equals(tx) {
			return ErrDuplicateTransaction
		}
		if tx.Tip <= existing.tx.Tip {
			return fmt.Errorf("%w: pooled transaction pays an equal or better tip", ErrDuplicateTransaction)
		}
	}

	if err := mp.validate(tx, headHeight); err != nil {
		return err
	}

	mp.seq++
	mp.pool[key] = entry{tx: tx, seq: mp.seq}

	mp.evictIfOverCapacity()

	return nil
}

// OnHeadChanged synchronizes the pool with a chain head change. The
// transactions confirmed by the new chain are removed and the
// transactions orphaned by reverted blocks are re-validated against the
// new head and re-admitted when still valid.
func (mp *Mempool) OnHeadChanged(applied []database.BlockTx, reverted []database.BlockTx, headHeight uint64) {
	for _, tx := range applied {
		key, err := mapKey(tx)
		if err != nil {
			continue
		}

		mp.mu.Lock()
		delete(mp.pool, key)
		mp.mu.Unlock()
	}

	// Offer the reverted transactions back before revalidating so a
	// sender's queued higher nonces line up behind them again. Invalid
	// ones are discarded.
	for _, tx := range reverted {
		mp.Add(tx, headHeight)
	}

	mp.revalidate(headHeight)
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[string]entry)
}

// Copy returns a list of the current transactions in insertion order.
func (mp *Mempool) Copy() []database.BlockTx {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	entries := make([]entry, 0, len(mp.pool))
	for _, ent := range mp.pool {
		entries = append(entries, ent)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})

	txs := make([]database.BlockTx, len(entries))
	for i, ent := range entries {
		txs[i] = ent.tx
	}

	return txs
}

// PickBest uses the configured sort strategy to return the next set of
// transactions for a new block. Pass -1 for all transactions.
func (mp *Mempool) PickBest(howMany int) []database.BlockTx {
	m := make(map[database.AccountID][]database.BlockTx)

	mp.mu.RLock()
	{
		if howMany == -1 {
			howMany = len(mp.pool)
		}

		for _, ent := range mp.pool {
			from, err := ent.tx.FromAccount()
			if err != nil {
				continue
			}
			m[from] = append(m[from], ent.tx)
		}
	}
	mp.mu.RUnlock()

	return mp.selectFn(m, howMany)
}

// SelectForBlock returns a fee ordered subset whose combined encoded size
// fits maxBytes and whose senders' combined debits remain payable when the
// transactions are applied in the returned order.
func (mp *Mempool) SelectForBlock(maxBytes int, headHeight uint64) []database.BlockTx {
	candidates := mp.PickBest(-1)

	ov := mp.ledger.Overlay()

	var out []database.BlockTx
	var used int
	skip := make(map[database.AccountID]struct{})

	for _, tx := range candidates {
		from, err := tx.FromAccount()
		if err != nil {
			continue
		}

		// Once a sender's transaction fails, its later nonces can
		// never apply.
		if _, skipped := skip[from]; skipped {
			continue
		}

		size := tx.Size()
		if used+size > maxBytes {
			continue
		}

		if err := ov.ApplyTransaction(headHeight+1, "", tx); err != nil {
			skip[from] = struct{}{}
			continue
		}

		out = append(out, tx)
		used += size
	}

	return out
}

// =============================================================================

// validate applies the sender's pending lower nonce transactions and then
// the candidate on a disposable overlay. Nothing is committed.
func (mp *Mempool) validate(tx database.BlockTx, headHeight uint64) error {
	from, err := tx.FromAccount()
	if err != nil {
		return err
	}

	var pending []database.BlockTx
	for _, ent := range mp.pool {
		pendingFrom, err := ent.tx.FromAccount()
		if err != nil {
			continue
		}
		if pendingFrom == from && ent.tx.Nonce < tx.Nonce {
			pending = append(pending, ent.tx)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].Nonce < pending[j].Nonce
	})

	ov := mp.ledger.Overlay()
	for _, pendingTx := range pending {
		if err := ov.ApplyTransaction(headHeight+1, "", pendingTx); err != nil {
			break
		}
	}

	return ov.ApplyTransaction(headHeight+1, "", tx)
}

// revalidate drops pooled transactions that are no longer valid against
// the current head. Caller must not hold the lock.
func (mp *Mempool) revalidate(headHeight uint64) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	// Group by sender and walk each sender's transactions in nonce order
	// on a shared overlay, removing the ones that fail.
	bySender := make(map[database.AccountID][]string)
	for key, ent := range mp.pool {
		from, err := ent.tx.FromAccount()
		if err != nil {
			delete(mp.pool, key)
			continue
		}
		bySender[from] = append(bySender[from], key)
	}

	for _, keys := range bySender {
		sort.Slice(keys, func(i, j int) bool {
			return mp.pool[keys[i]].tx.Nonce < mp.pool[keys[j]].tx.Nonce
		})

		ov := mp.ledger.Overlay()
		for _, key := range keys {
			if err := ov.ApplyTransaction(headHeight+1, "", mp.pool[key].tx); err != nil {
				delete(mp.pool, key)
			}
		}
	}
}

// evictIfOverCapacity removes entries in ascending tip order until the
// pool is within its configured bound. Ties are broken oldest insertion
// first. Caller must hold the lock.
func (mp *Mempool) evictIfOverCapacity() {
	if mp.maxSize <= 0 || len(mp.pool) <= mp.maxSize {
		return
	}

	keys := make([]string, 0, len(mp.pool))
	for key := range mp.pool {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		ei, ej := mp.pool[keys[i]], mp.pool[keys[j]]
		if ei.tx.Tip != ej.tx.Tip {
			return ei.tx.Tip < ej.tx.Tip
		}
		return ei.seq < ej.seq
	})

	for _, key := range keys {
		if len(mp.pool) <= mp.maxSize {
			break
		}
		delete(mp.pool, key)
	}
}

// mapKey is used to generate the map key.
func mapKey(tx database.BlockTx) (string, error) {
	account, err := tx.FromAccount()
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s:%d", account, tx.Nonce), nil
}
