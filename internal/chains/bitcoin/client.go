// internal/chains/bitcoin/client.go
package bitcoin

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"custody-service/internal/rpc"
)

// esplora speaks the Blockstream/Esplora REST API. Every method takes the
// base URL so calls can be routed through the endpoint fallback.
type esplora struct {
	http *rpc.HTTPClient
}

type addressStats struct {
	FundedTxoSum int64 `json:"funded_txo_sum"`
	SpentTxoSum  int64 `json:"spent_txo_sum"`
}

type addressInfo struct {
	Address      string       `json:"address"`
	ChainStats   addressStats `json:"chain_stats"`
	MempoolStats addressStats `json:"mempool_stats"`
}

type utxoStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight uint64 `json:"block_height"`
	BlockTime   int64  `json:"block_time"`
}

type esploraUTXO struct {
	TxID   string     `json:"txid"`
	Vout   uint32     `json:"vout"`
	Value  int64      `json:"value"`
	Status utxoStatus `json:"status"`
}

type txOutput struct {
	ScriptPubKeyAddress string `json:"scriptpubkey_address"`
	Value               int64  `json:"value"`
}

type txInput struct {
	TxID    string    `json:"txid"`
	Vout    uint32    `json:"vout"`
	Prevout *txOutput `json:"prevout"`
}

type esploraTx struct {
	TxID   string     `json:"txid"`
	Vin    []txInput  `json:"vin"`
	Vout   []txOutput `json:"vout"`
	Status utxoStatus `json:"status"`
}

func url(base string, parts ...string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.Join(parts, "/")
}

func (c *esplora) address(ctx context.Context, base, address string) (*addressInfo, error) {
	var info addressInfo
	if err := c.http.GetJSON(ctx, url(base, "address", address), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// balance includes unconfirmed mempool activity.
func (c *esplora) balance(ctx context.Context, base, address string) (int64, error) {
	info, err := c.address(ctx, base, address)
	if err != nil {
		return 0, err
	}
	chain := info.ChainStats.FundedTxoSum - info.ChainStats.SpentTxoSum
	mempool := info.MempoolStats.FundedTxoSum - info.MempoolStats.SpentTxoSum
	return chain + mempool, nil
}

// utxos returns confirmed unspent outputs only.
func (c *esplora) utxos(ctx context.Context, base, address string) ([]UTXO, error) {
	var raw []esploraUTXO
	if err := c.http.GetJSON(ctx, url(base, "address", address, "utxo"), &raw); err != nil {
		return nil, err
	}
	out := make([]UTXO, 0, len(raw))
	for _, u := range raw {
		if !u.Status.Confirmed {
			continue
		}
		out = append(out, UTXO{TxID: u.TxID, Vout: u.Vout, Value: u.Value})
	}
	return out, nil
}

// feeEstimates maps confirmation target (blocks) to sat/vB.
func (c *esplora) feeEstimates(ctx context.Context, base string) (map[string]float64, error) {
	estimates := make(map[string]float64)
	if err := c.http.GetJSON(ctx, url(base, "fee-estimates"), &estimates); err != nil {
		return nil, err
	}
	return estimates, nil
}

// broadcast posts raw hex and returns the txid echoed by the server.
func (c *esplora) broadcast(ctx context.Context, base, rawHex string) (string, error) {
	body, err := c.http.DoRaw(ctx, http.MethodPost, url(base, "tx"), "text/plain", strings.NewReader(rawHex))
	if err != nil {
		return "", err
	}
	txid := strings.TrimSpace(string(body))
	if len(txid) != 64 {
		return "", fmt.Errorf("unexpected broadcast response: %q", txid)
	}
	return txid, nil
}

func (c *esplora) tx(ctx context.Context, base, txid string) (*esploraTx, error) {
	var tx esploraTx
	if err := c.http.GetJSON(ctx, url(base, "tx", txid), &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (c *esplora) tipHeight(ctx context.Context, base string) (uint64, error) {
	body, err := c.http.DoRaw(ctx, http.MethodGet, url(base, "blocks", "tip", "height"), "", nil)
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseUint(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid tip height: %w", err)
	}
	return height, nil
}

// addressTxs returns the newest transactions touching address, mempool first.
func (c *esplora) addressTxs(ctx context.Context, base, address string) ([]esploraTx, error) {
	var txs []esploraTx
	if err := c.http.GetJSON(ctx, url(base, "address", address, "txs"), &txs); err != nil {
		return nil, err
	}
	return txs, nil
}
