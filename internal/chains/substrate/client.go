// internal/chains/substrate/client.go
package substrate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"custody-service/internal/rpc"

	"github.com/gorilla/websocket"
)

// sidecar talks to a Substrate API Sidecar instance.
type sidecar struct {
	http *rpc.HTTPClient
}

func join(base, path string) string {
	return strings.TrimSuffix(base, "/") + path
}

func (c *sidecar) freeBalance(ctx context.Context, base, address string) (string, error) {
	var resp struct {
		Free string `json:"free"`
	}
	if err := c.http.GetJSON(ctx, join(base, "/accounts/"+address+"/balance-info"), &resp); err != nil {
		return "", err
	}
	if resp.Free == "" {
		return "0", nil
	}
	return resp.Free, nil
}

func (c *sidecar) feeEstimate(ctx context.Context, base, tx string) (string, error) {
	var resp struct {
		PartialFee string `json:"partialFee"`
	}
	if err := c.http.PostJSON(ctx, join(base, "/transaction/fee-estimate"), map[string]string{"tx": tx}, &resp); err != nil {
		return "", err
	}
	return resp.PartialFee, nil
}

func (c *sidecar) submit(ctx context.Context, base, tx string) (string, error) {
	var resp struct {
		Hash string `json:"hash"`
	}
	if err := c.http.PostJSON(ctx, join(base, "/transaction"), map[string]string{"tx": tx}, &resp); err != nil {
		return "", err
	}
	if resp.Hash == "" {
		return "", fmt.Errorf("sidecar returned no extrinsic hash")
	}
	return resp.Hash, nil
}

// ping hits the sidecar head header, or a node's system_health over
// websocket for ws:// and wss:// endpoints.
func (c *sidecar) ping(ctx context.Context, endpoint string) error {
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return wsHealth(ctx, endpoint)
	}
	var resp map[string]any
	return c.http.GetJSON(ctx, join(endpoint, "/blocks/head/header"), &resp)
}

func wsHealth(ctx context.Context, endpoint string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	}

	req := map[string]any{"jsonrpc": "2.0", "id": 1, "method": "system_health", "params": []any{}}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("failed to send health request: %w", err)
	}
	var resp struct {
		Result *struct {
			Peers     int  `json:"peers"`
			IsSyncing bool `json:"isSyncing"`
		} `json:"result"`
		Error *rpc.RPCError `json:"error"`
	}
	if err := conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("failed to read health response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if resp.Result == nil {
		return fmt.Errorf("empty health response")
	}
	return nil
}

// subscan is the indexer used for extrinsic status and transfer history.
type subscan struct {
	http *rpc.HTTPClient
}

type subscanEnvelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// errSubscanNotFound is subscan's "record not found" code.
const errSubscanNotFound = 10004

func (c *subscan) post(ctx context.Context, base, path string, in, out any) error {
	var env subscanEnvelope
	if err := c.http.PostJSON(ctx, join(base, path), in, &env); err != nil {
		return err
	}
	if env.Code == errSubscanNotFound {
		return &rpc.StatusError{StatusCode: http.StatusNotFound, URL: join(base, path), Body: env.Message}
	}
	if env.Code != 0 {
		return &rpc.RPCError{Code: env.Code, Message: env.Message}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return &rpc.StatusError{StatusCode: http.StatusNotFound, URL: join(base, path), Body: "no data"}
	}
	return json.Unmarshal(env.Data, out)
}

type extrinsic struct {
	BlockNum  uint64 `json:"block_num"`
	Success   bool   `json:"success"`
	Finalized bool   `json:"finalized"`
	Error     *struct {
		Module string `json:"module"`
		Name   string `json:"name"`
	} `json:"error"`
}

func (c *subscan) extrinsic(ctx context.Context, base, hash string) (*extrinsic, error) {
	var ext extrinsic
	if err := c.post(ctx, base, "/api/scan/extrinsic", map[string]string{"hash": hash}, &ext); err != nil {
		return nil, err
	}
	return &ext, nil
}

type transfer struct {
	From           string `json:"from"`
	To             string `json:"to"`
	Hash           string `json:"hash"`
	BlockNum       uint64 `json:"block_num"`
	BlockTimestamp int64  `json:"block_timestamp"`
	Amount         string `json:"amount"`
	Success        bool   `json:"success"`
	EventIdx       int    `json:"event_idx"`
	AssetSymbol    string `json:"asset_symbol"`
}

func (c *subscan) transfers(ctx context.Context, base, address string, limit int) ([]transfer, error) {
	req := map[string]any{"address": address, "row": limit, "page": 0, "direction": "received"}
	var data struct {
		Transfers []transfer `json:"transfers"`
	}
	if err := c.post(ctx, base, "/api/v2/scan/transfers", req, &data); err != nil {
		return nil, err
	}
	return data.Transfers, nil
}
