// internal/chains/bitcoin/selection.go
package bitcoin

import (
	"sort"

	"custody-service/internal/xerrors"
	"custody-service/pkg/units"

	"github.com/shopspring/decimal"
)

// DustThreshold is the smallest change output worth creating, in sats.
const DustThreshold int64 = 546

// UTXO is an unspent output owned by the sending address.
type UTXO struct {
	TxID  string `json:"txid"`
	Vout  uint32 `json:"vout"`
	Value int64  `json:"value"`
}

// Selection is the outcome of coin selection. Change is zero when the
// leftover was below dust and went to the fee instead.
type Selection struct {
	Inputs []UTXO
	Total  int64
	Fee    int64
	Change int64
}

// EstimateVBytes approximates the virtual size of a P2WPKH transaction.
func EstimateVBytes(inputs, outputs int) int64 {
	return 10 + 68*int64(inputs) + 31*int64(outputs)
}

// FeeFor is ceil(vbytes * rate).
func FeeFor(inputs, outputs int, satPerVByte decimal.Decimal) int64 {
	return decimal.NewFromInt(EstimateVBytes(inputs, outputs)).Mul(satPerVByte).Ceil().IntPart()
}

// SelectCoins accumulates UTXOs largest first until the total covers
// amount + fee(with change) + dust, or amount + fee(without change).
func SelectCoins(utxos []UTXO, amount int64, satPerVByte decimal.Decimal, dust int64) (*Selection, error) {
	if amount <= 0 {
		return nil, xerrors.ErrInvalidAmount
	}

	sorted := make([]UTXO, len(utxos))
	copy(sorted, utxos)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Value != sorted[j].Value {
			return sorted[i].Value > sorted[j].Value
		}
		if sorted[i].TxID != sorted[j].TxID {
			return sorted[i].TxID < sorted[j].TxID
		}
		return sorted[i].Vout < sorted[j].Vout
	})

	var total int64
	for i, u := range sorted {
		total += u.Value
		n := i + 1
		feeWithChange := FeeFor(n, 2, satPerVByte)
		feeNoChange := FeeFor(n, 1, satPerVByte)

		if total < amount+feeWithChange+dust && total < amount+feeNoChange {
			continue
		}

		sel := &Selection{Inputs: sorted[:n], Total: total}
		if change := total - amount - feeWithChange; change >= dust {
			sel.Fee = feeWithChange
			sel.Change = change
		} else {
			sel.Fee = total - amount
		}
		return sel, nil
	}

	missing := amount + FeeFor(max(len(sorted), 1), 1, satPerVByte) - total
	return nil, xerrors.InsufficientFunds(units.FormatInt64(missing, 8),
		"insufficient funds: have %d sats, need %d more", total, missing)
}
