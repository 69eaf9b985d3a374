package lightning

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"custody-service/internal/rpc"
)

// lnd talks to the REST gateway of an LND node.
type lnd struct {
	http *rpc.HTTPClient
}

type payReq struct {
	Destination string `json:"destination"`
	PaymentHash string `json:"payment_hash"`
	NumSatoshis string `json:"num_satoshis"`
	Expiry      string `json:"expiry"`
	Timestamp   string `json:"timestamp"`
}

type sendResponse struct {
	PaymentError    string `json:"payment_error"`
	PaymentHash     string `json:"payment_hash"`
	PaymentPreimage string `json:"payment_preimage"`
}

type payment struct {
	PaymentHash   string `json:"payment_hash"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
	ValueSat      string `json:"value_sat"`
}

type chainTx struct {
	TxHash           string `json:"tx_hash"`
	NumConfirmations int64  `json:"num_confirmations"`
	BlockHeight      int64  `json:"block_height"`
	TimeStamp        string `json:"time_stamp"`
	OutputDetails    []struct {
		Address     string `json:"address"`
		Amount      string `json:"amount"`
		OutputIndex string `json:"output_index"`
	} `json:"output_details"`
	PreviousOutpoints []struct {
		IsOurOutput bool `json:"is_our_output"`
	} `json:"previous_outpoints"`
}

func join(base, path string) string {
	return strings.TrimSuffix(base, "/") + path
}

func (c *lnd) newAddress(ctx context.Context, base string) (string, error) {
	var resp struct {
		Address string `json:"address"`
	}
	// type 0 is a native segwit address
	if err := c.http.GetJSON(ctx, join(base, "/v1/newaddress?type=0"), &resp); err != nil {
		return "", err
	}
	if resp.Address == "" {
		return "", fmt.Errorf("lnd returned no address")
	}
	return resp.Address, nil
}

// channelBalance returns the spendable outbound balance in sat.
func (c *lnd) channelBalance(ctx context.Context, base string) (int64, error) {
	var resp struct {
		Balance      string `json:"balance"`
		LocalBalance struct {
			Sat string `json:"sat"`
		} `json:"local_balance"`
	}
	if err := c.http.GetJSON(ctx, join(base, "/v1/balance/channels"), &resp); err != nil {
		return 0, err
	}
	raw := resp.LocalBalance.Sat
	if raw == "" {
		raw = resp.Balance
	}
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (c *lnd) decodePayReq(ctx context.Context, base, invoice string) (*payReq, error) {
	var resp payReq
	if err := c.http.GetJSON(ctx, join(base, "/v1/payreq/"+url.PathEscape(invoice)), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// routeFee asks the node for the cheapest route to dest and returns its fee.
func (c *lnd) routeFee(ctx context.Context, base, dest string, amount int64) (int64, error) {
	var resp struct {
		Routes []struct {
			TotalFees string `json:"total_fees"`
		} `json:"routes"`
	}
	u := join(base, fmt.Sprintf("/v1/graph/routes/%s/%d", url.PathEscape(dest), amount))
	if err := c.http.GetJSON(ctx, u, &resp); err != nil {
		return 0, err
	}
	if len(resp.Routes) == 0 {
		return 0, fmt.Errorf("no route to %s", dest)
	}
	return strconv.ParseInt(resp.Routes[0].TotalFees, 10, 64)
}

func (c *lnd) pay(ctx context.Context, base, invoice string, amount, feeLimit int64) (*sendResponse, error) {
	req := map[string]any{
		"payment_request": invoice,
		"fee_limit":       map[string]string{"fixed": strconv.FormatInt(feeLimit, 10)},
	}
	if amount > 0 {
		req["amt"] = strconv.FormatInt(amount, 10)
	}
	var resp sendResponse
	if err := c.http.PostJSON(ctx, join(base, "/v1/channels/transactions"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *lnd) payments(ctx context.Context, base string, max int) ([]payment, error) {
	var resp struct {
		Payments []payment `json:"payments"`
	}
	u := join(base, fmt.Sprintf("/v1/payments?include_incomplete=true&reversed=true&max_payments=%d", max))
	if err := c.http.GetJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	return resp.Payments, nil
}

func (c *lnd) transactions(ctx context.Context, base string) ([]chainTx, error) {
	var resp struct {
		Transactions []chainTx `json:"transactions"`
	}
	if err := c.http.GetJSON(ctx, join(base, "/v1/transactions"), &resp); err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

func (c *lnd) getInfo(ctx context.Context, base string) error {
	var resp struct {
		IdentityPubkey string `json:"identity_pubkey"`
	}
	return c.http.GetJSON(ctx, join(base, "/v1/getinfo"), &resp)
}

// hexHash normalizes the base64 hashes the REST gateway returns.
func hexHash(b64 string) string {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil || len(raw) != 32 {
		return b64
	}
	return hex.EncodeToString(raw)
}
