package cardano

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"custody-service/internal/rpc"
)

// blockfrost talks to the Blockfrost REST API.
type blockfrost struct {
	http *rpc.HTTPClient
}

type quantity struct {
	Unit     string `json:"unit"`
	Quantity string `json:"quantity"`
}

type txSummary struct {
	Hash          string `json:"hash"`
	BlockHeight   int64  `json:"block_height"`
	BlockTime     int64  `json:"block_time"`
	ValidContract bool   `json:"valid_contract"`
}

type addressTx struct {
	TxHash      string `json:"tx_hash"`
	BlockHeight int64  `json:"block_height"`
	BlockTime   int64  `json:"block_time"`
}

type txUTXOs struct {
	Inputs []struct {
		Address string     `json:"address"`
		Amount  []quantity `json:"amount"`
	} `json:"inputs"`
	Outputs []struct {
		Address     string     `json:"address"`
		Amount      []quantity `json:"amount"`
		OutputIndex int        `json:"output_index"`
	} `json:"outputs"`
}

func lovelace(amounts []quantity) string {
	for _, q := range amounts {
		if q.Unit == "lovelace" {
			return q.Quantity
		}
	}
	return "0"
}

func join(base, path string) string {
	return strings.TrimSuffix(base, "/") + path
}

// balance returns the lovelace held by addr. Addresses the chain has never
// seen are a 404 and hold nothing.
func (c *blockfrost) balance(ctx context.Context, base, addr string) (string, error) {
	var resp struct {
		Amount []quantity `json:"amount"`
	}
	err := c.http.GetJSON(ctx, join(base, "/addresses/"+addr), &resp)
	if rpc.IsNotFound(err) {
		return "0", nil
	}
	if err != nil {
		return "", err
	}
	return lovelace(resp.Amount), nil
}

func (c *blockfrost) feeParams(ctx context.Context, base string) (int64, int64, error) {
	var resp struct {
		MinFeeA int64 `json:"min_fee_a"`
		MinFeeB int64 `json:"min_fee_b"`
	}
	if err := c.http.GetJSON(ctx, join(base, "/epochs/latest/parameters"), &resp); err != nil {
		return 0, 0, err
	}
	return resp.MinFeeA, resp.MinFeeB, nil
}

func (c *blockfrost) submit(ctx context.Context, base string, cbor []byte) (string, error) {
	data, err := c.http.DoRaw(ctx, http.MethodPost, join(base, "/tx/submit"), "application/cbor", bytes.NewReader(cbor))
	if err != nil {
		return "", err
	}
	var hash string
	if err := json.Unmarshal(data, &hash); err != nil {
		return "", fmt.Errorf("unexpected submit response: %s", data)
	}
	return hash, nil
}

func (c *blockfrost) tx(ctx context.Context, base, hash string) (*txSummary, error) {
	var resp txSummary
	if err := c.http.GetJSON(ctx, join(base, "/txs/"+hash), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *blockfrost) latestHeight(ctx context.Context, base string) (int64, error) {
	var resp struct {
		Height int64 `json:"height"`
	}
	if err := c.http.GetJSON(ctx, join(base, "/blocks/latest"), &resp); err != nil {
		return 0, err
	}
	return resp.Height, nil
}

func (c *blockfrost) addressTxs(ctx context.Context, base, addr string, count int) ([]addressTx, error) {
	var resp []addressTx
	u := join(base, "/addresses/"+addr+"/transactions?order=desc&count="+strconv.Itoa(count))
	err := c.http.GetJSON(ctx, u, &resp)
	if rpc.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *blockfrost) utxos(ctx context.Context, base, hash string) (*txUTXOs, error) {
	var resp txUTXOs
	if err := c.http.GetJSON(ctx, join(base, "/txs/"+hash+"/utxos"), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *blockfrost) health(ctx context.Context, base string) error {
	var resp struct {
		IsHealthy bool `json:"is_healthy"`
	}
	if err := c.http.GetJSON(ctx, join(base, "/health"), &resp); err != nil {
		return err
	}
	if !resp.IsHealthy {
		return fmt.Errorf("blockfrost reports unhealthy")
	}
	return nil
}
