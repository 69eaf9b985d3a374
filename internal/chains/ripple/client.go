// internal/chains/ripple/client.go
package ripple

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"custody-service/internal/rpc"
)

// rippled uses its own request shape rather than JSON-RPC 2.0.
type rippled struct {
	http *rpc.HTTPClient
}

type rippledRequest struct {
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// rippledError carries the symbolic error token, e.g. actNotFound.
type rippledError struct {
	Token   string
	Message string
}

func (e *rippledError) Error() string {
	return fmt.Sprintf("rippled %s: %s", e.Token, e.Message)
}

func (c *rippled) call(ctx context.Context, endpoint, method string, params map[string]any, out any) error {
	if params == nil {
		params = map[string]any{}
	}
	var resp struct {
		Result json.RawMessage `json:"result"`
	}
	if err := c.http.PostJSON(ctx, endpoint, rippledRequest{Method: method, Params: []any{params}}, &resp); err != nil {
		return err
	}
	var status struct {
		Status       string `json:"status"`
		Error        string `json:"error"`
		ErrorMessage string `json:"error_message"`
	}
	if err := json.Unmarshal(resp.Result, &status); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if status.Status == "error" || status.Error != "" {
		if status.Error == "slowDown" {
			return &rpc.RPCError{Code: 429, Message: "slowDown"}
		}
		return &rippledError{Token: status.Error, Message: status.ErrorMessage}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

func isToken(err error, token string) bool {
	var re *rippledError
	return errors.As(err, &re) && re.Token == token
}

type accountInfo struct {
	AccountData struct {
		Balance  string `json:"Balance"`
		Sequence uint32 `json:"Sequence"`
	} `json:"account_data"`
}

type feeResult struct {
	Drops struct {
		BaseFee       string `json:"base_fee"`
		MedianFee     string `json:"median_fee"`
		OpenLedgerFee string `json:"open_ledger_fee"`
	} `json:"drops"`
}

type submitResult struct {
	EngineResult        string `json:"engine_result"`
	EngineResultMessage string `json:"engine_result_message"`
	TxJSON              struct {
		Hash string `json:"hash"`
	} `json:"tx_json"`
}

type txResult struct {
	Hash        string `json:"hash"`
	LedgerIndex uint64 `json:"ledger_index"`
	Validated   bool   `json:"validated"`
	Meta        struct {
		TransactionResult string `json:"TransactionResult"`
	} `json:"meta"`
}

type accountTx struct {
	Transactions []struct {
		Tx struct {
			TransactionType string `json:"TransactionType"`
			Account         string `json:"Account"`
			Destination     string `json:"Destination"`
			Hash            string `json:"hash"`
			Date            int64  `json:"date"`
			LedgerIndex     uint64 `json:"ledger_index"`
		} `json:"tx"`
		Meta struct {
			TransactionResult string          `json:"TransactionResult"`
			DeliveredAmount   json.RawMessage `json:"delivered_amount"`
		} `json:"meta"`
		Validated bool `json:"validated"`
	} `json:"transactions"`
}
