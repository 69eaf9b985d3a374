package bitcoin

import (
	"testing"

	"custody-service/internal/xerrors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sampleUTXOs = []UTXO{
	{TxID: "c", Vout: 0, Value: 30000},
	{TxID: "a", Vout: 0, Value: 100000},
	{TxID: "b", Vout: 1, Value: 50000},
}

func TestSelectCoinsSingleInputWithChange(t *testing.T) {
	sel, err := SelectCoins(sampleUTXOs, 70000, decimal.NewFromInt(10), DustThreshold)
	require.NoError(t, err)

	require.Len(t, sel.Inputs, 1)
	assert.Equal(t, int64(100000), sel.Inputs[0].Value)
	assert.Equal(t, int64(1400), sel.Fee) // (10 + 68 + 62) * 10
	assert.Equal(t, int64(28600), sel.Change)
	assert.Equal(t, sel.Total, 70000+sel.Fee+sel.Change)
}

func TestSelectCoinsCombinesInputs(t *testing.T) {
	sel, err := SelectCoins(sampleUTXOs, 140000, decimal.NewFromInt(10), DustThreshold)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(sel.Inputs), 2)
	assert.GreaterOrEqual(t, sel.Total, int64(140000)+sel.Fee)
	assert.Equal(t, sel.Total, 140000+sel.Fee+sel.Change)
}

func TestSelectCoinsAbsorbsDustIntoFee(t *testing.T) {
	// 1 input, 1 output at 1 sat/vB costs 109; with change 140.
	utxos := []UTXO{{TxID: "x", Value: 10300}}
	sel, err := SelectCoins(utxos, 10000, decimal.NewFromInt(1), DustThreshold)
	require.NoError(t, err)

	assert.Zero(t, sel.Change)
	assert.Equal(t, int64(300), sel.Fee)
}

func TestSelectCoinsInsufficient(t *testing.T) {
	_, err := SelectCoins(sampleUTXOs, 180000, decimal.NewFromInt(10), DustThreshold)
	require.Error(t, err)

	missing, ok := xerrors.MissingAmount(err)
	require.True(t, ok)
	// need 180000 + (10 + 204 + 31) * 10 = 182450 from 180000
	assert.Equal(t, "0.0000245", missing)
}

func TestFeeForRoundsUp(t *testing.T) {
	assert.Equal(t, int64(141), FeeFor(1, 2, decimal.RequireFromString("1.001")))
	assert.Equal(t, int64(140), FeeFor(1, 2, decimal.NewFromInt(1)))
}
