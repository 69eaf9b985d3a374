// internal/chains/tron/client.go
package tron

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"custody-service/internal/rpc"
)

// tronGrid talks to the TronGrid HTTP API (or a full node's /wallet API).
type tronGrid struct {
	http *rpc.HTTPClient
}

type accountResponse struct {
	Data []struct {
		Address string              `json:"address"`
		Balance int64               `json:"balance"`
		TRC20   []map[string]string `json:"trc20"`
	} `json:"data"`
	Success bool `json:"success"`
}

type broadcastResponse struct {
	Result  bool   `json:"result"`
	TxID    string `json:"txid"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type txInfoResponse struct {
	ID          string `json:"id"`
	BlockNumber int64  `json:"blockNumber"`
	Result      string `json:"result"`
	ResMessage  string `json:"resMessage"`
	Receipt     struct {
		Result string `json:"result"`
	} `json:"receipt"`
}

type txResponse struct {
	TxID string `json:"txID"`
}

type nowBlockResponse struct {
	BlockHeader struct {
		RawData struct {
			Number int64 `json:"number"`
		} `json:"raw_data"`
	} `json:"block_header"`
}

type constantContractResponse struct {
	EnergyUsed int64 `json:"energy_used"`
	Result     struct {
		Result  bool   `json:"result"`
		Message string `json:"message"`
	} `json:"result"`
}

type nativeTransfer struct {
	TxID           string `json:"txID"`
	BlockNumber    int64  `json:"blockNumber"`
	BlockTimestamp int64  `json:"block_timestamp"`
	Ret            []struct {
		ContractRet string `json:"contractRet"`
	} `json:"ret"`
	RawData struct {
		Contract []struct {
			Type      string `json:"type"`
			Parameter struct {
				Value struct {
					Amount       int64  `json:"amount"`
					OwnerAddress string `json:"owner_address"`
					ToAddress    string `json:"to_address"`
				} `json:"value"`
			} `json:"parameter"`
		} `json:"contract"`
	} `json:"raw_data"`
}

type tokenTransfer struct {
	TransactionID  string `json:"transaction_id"`
	BlockTimestamp int64  `json:"block_timestamp"`
	From           string `json:"from"`
	To             string `json:"to"`
	Value          string `json:"value"`
	Type           string `json:"type"`
	TokenInfo      struct {
		Symbol   string `json:"symbol"`
		Address  string `json:"address"`
		Decimals int    `json:"decimals"`
	} `json:"token_info"`
}

func endpointURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}

func (c *tronGrid) account(ctx context.Context, endpoint, addr string) (*accountResponse, error) {
	var out accountResponse
	if err := c.http.GetJSON(ctx, endpointURL(endpoint, "/v1/accounts/"+addr), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// balances returns the TRX balance and the TRC20 balances keyed by contract.
// An account that has never been activated has no data and zero balances.
func (c *tronGrid) balances(ctx context.Context, endpoint, addr string) (int64, map[string]string, error) {
	acc, err := c.account(ctx, endpoint, addr)
	if err != nil {
		return 0, nil, err
	}
	tokens := make(map[string]string)
	if len(acc.Data) == 0 {
		return 0, tokens, nil
	}
	for _, entry := range acc.Data[0].TRC20 {
		for contract, amount := range entry {
			tokens[contract] = amount
		}
	}
	return acc.Data[0].Balance, tokens, nil
}

func (c *tronGrid) broadcastHex(ctx context.Context, endpoint, txHex string) (*broadcastResponse, error) {
	var out broadcastResponse
	err := c.http.PostJSON(ctx, endpointURL(endpoint, "/wallet/broadcasthex"), map[string]string{"transaction": txHex}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *tronGrid) txInfo(ctx context.Context, endpoint, txID string) (*txInfoResponse, error) {
	var out txInfoResponse
	err := c.http.PostJSON(ctx, endpointURL(endpoint, "/wallet/gettransactioninfobyid"), map[string]string{"value": txID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *tronGrid) tx(ctx context.Context, endpoint, txID string) (*txResponse, error) {
	var out txResponse
	err := c.http.PostJSON(ctx, endpointURL(endpoint, "/wallet/gettransactionbyid"), map[string]string{"value": txID}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *tronGrid) nowBlock(ctx context.Context, endpoint string) (int64, error) {
	var out nowBlockResponse
	if err := c.http.PostJSON(ctx, endpointURL(endpoint, "/wallet/getnowblock"), map[string]any{}, &out); err != nil {
		return 0, err
	}
	return out.BlockHeader.RawData.Number, nil
}

// estimateEnergy simulates a contract call and returns the energy it burns.
func (c *tronGrid) estimateEnergy(ctx context.Context, endpoint, owner, contract, selector, parameter string) (int64, error) {
	var out constantContractResponse
	err := c.http.PostJSON(ctx, endpointURL(endpoint, "/wallet/triggerconstantcontract"), map[string]any{
		"owner_address":     owner,
		"contract_address":  contract,
		"function_selector": selector,
		"parameter":         parameter,
		"visible":           true,
	}, &out)
	if err != nil {
		return 0, err
	}
	if !out.Result.Result {
		return 0, fmt.Errorf("constant call failed: %s", out.Result.Message)
	}
	return out.EnergyUsed, nil
}

func historyQuery(limit int) string {
	q := url.Values{}
	q.Set("only_to", "true")
	q.Set("only_confirmed", "true")
	q.Set("limit", strconv.Itoa(limit))
	return q.Encode()
}

func (c *tronGrid) incomingNative(ctx context.Context, endpoint, addr string, limit int) ([]nativeTransfer, error) {
	var out struct {
		Data []nativeTransfer `json:"data"`
	}
	u := endpointURL(endpoint, "/v1/accounts/"+addr+"/transactions?"+historyQuery(limit))
	if err := c.http.GetJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *tronGrid) incomingTokens(ctx context.Context, endpoint, addr string, limit int) ([]tokenTransfer, error) {
	var out struct {
		Data []tokenTransfer `json:"data"`
	}
	u := endpointURL(endpoint, "/v1/accounts/"+addr+"/transactions/trc20?"+historyQuery(limit))
	if err := c.http.GetJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}
