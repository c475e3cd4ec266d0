package selector

import (
	"math"
	"sort"

	"github.com/aurumchain/aurum/foundation/blockchain/database"
)

// tipSelect returns transactions with the best tip while respecting the
// nonce order for each account. Transactions per account are sorted by
// nonce, then rows of first-available transactions are flattened in tip
// order. A later nonce can never be selected before an earlier one.
var tipSelect = func(m map[database.AccountID][]database.BlockTx, howMany int) []database.BlockTx {

	// Sort the transactions per account by nonce.
	for key := range m {
		if len(m[key]) > 1 {
			sort.Sort(byNonce(m[key]))
		}
	}

	// Pick the first transaction in the slice for each account. Each
	// iteration represents a new row of selections. Keep doing that until
	// all the transactions have been selected.
	var rows [][]database.BlockTx
	for {
		var row []database.BlockTx
		for key := range m {
			if len(m[key]) > 0 {
				row = append(row, m[key][0])
				m[key] = m[key][1:]
			}
		}
		if row == nil {
			break
		}
		rows = append(rows, row)
	}

	// Sort each row by tip and flatten. Rows preserve nonce order per
	// account while the sort inside a row rewards the highest tips.
	var final []database.BlockTx
	if howMany == -1 {
		howMany = math.MaxInt
	}

done:
	for _, row := range rows {
		sort.Sort(byTip(row))
		for _, tx := range row {
			if len(final) >= howMany {
				break done
			}
			final = append(final, tx)
		}
	}

	return final
}
