// internal/chains/cosmos/client.go
package cosmos

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"custody-service/internal/rpc"
)

// lcd is a client for the Cosmos SDK REST gateway.
type lcd struct {
	http *rpc.HTTPClient
}

type txResponse struct {
	Height    string `json:"height"`
	TxHash    string `json:"txhash"`
	Code      uint32 `json:"code"`
	RawLog    string `json:"raw_log"`
	Timestamp string `json:"timestamp"`
	Tx        struct {
		Body struct {
			Messages []struct {
				Type        string `json:"@type"`
				FromAddress string `json:"from_address"`
				ToAddress   string `json:"to_address"`
				Amount      []coin `json:"amount"`
			} `json:"messages"`
		} `json:"body"`
	} `json:"tx"`
}

func (r txResponse) height() uint64 {
	h, _ := strconv.ParseUint(r.Height, 10, 64)
	return h
}

func join(base, path string) string {
	return strings.TrimSuffix(base, "/") + path
}

func (c *lcd) balance(ctx context.Context, base, address, denom string) (string, error) {
	var resp struct {
		Balance coin `json:"balance"`
	}
	u := join(base, "/cosmos/bank/v1beta1/balances/"+address+"/by_denom?denom="+url.QueryEscape(denom))
	if err := c.http.GetJSON(ctx, u, &resp); err != nil {
		return "", err
	}
	if resp.Balance.Amount == "" {
		return "0", nil
	}
	return resp.Balance.Amount, nil
}

// account returns the account number and sequence of a base account.
func (c *lcd) account(ctx context.Context, base, address string) (uint64, uint64, error) {
	var resp struct {
		Account struct {
			AccountNumber string `json:"account_number"`
			Sequence      string `json:"sequence"`
		} `json:"account"`
	}
	if err := c.http.GetJSON(ctx, join(base, "/cosmos/auth/v1beta1/accounts/"+address), &resp); err != nil {
		return 0, 0, err
	}
	num, err := strconv.ParseUint(resp.Account.AccountNumber, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid account number: %w", err)
	}
	seq, _ := strconv.ParseUint(resp.Account.Sequence, 10, 64)
	return num, seq, nil
}

func (c *lcd) broadcast(ctx context.Context, base string, raw []byte) (*txResponse, error) {
	req := map[string]string{
		"tx_bytes": base64.StdEncoding.EncodeToString(raw),
		"mode":     "BROADCAST_MODE_SYNC",
	}
	var resp struct {
		TxResponse txResponse `json:"tx_response"`
	}
	if err := c.http.PostJSON(ctx, join(base, "/cosmos/tx/v1beta1/txs"), req, &resp); err != nil {
		return nil, err
	}
	return &resp.TxResponse, nil
}

func (c *lcd) tx(ctx context.Context, base, hash string) (*txResponse, error) {
	var resp struct {
		TxResponse txResponse `json:"tx_response"`
	}
	if err := c.http.GetJSON(ctx, join(base, "/cosmos/tx/v1beta1/txs/"+hash), &resp); err != nil {
		return nil, err
	}
	return &resp.TxResponse, nil
}

// received lists transactions with a transfer to address, newest first.
func (c *lcd) received(ctx context.Context, base, address string, limit int) ([]txResponse, error) {
	q := url.Values{}
	q.Set("query", fmt.Sprintf("transfer.recipient='%s'", address))
	q.Set("order_by", "ORDER_BY_DESC")
	q.Set("limit", strconv.Itoa(limit))

	var resp struct {
		TxResponses []txResponse `json:"tx_responses"`
	}
	if err := c.http.GetJSON(ctx, join(base, "/cosmos/tx/v1beta1/txs?"+q.Encode()), &resp); err != nil {
		return nil, err
	}
	return resp.TxResponses, nil
}

func (c *lcd) latestBlock(ctx context.Context, base string) error {
	var resp map[string]any
	return c.http.GetJSON(ctx, join(base, "/cosmos/base/tendermint/v1beta1/blocks/latest"), &resp)
}
