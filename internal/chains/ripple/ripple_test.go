package ripple

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"custody-service/internal/domain"
	"custody-service/internal/rpc"
	"custody-service/internal/xerrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	accountZero = "rrrrrrrrrrrrrrrrrrrrrhoLvTp"
	accountOne  = "rrrrrrrrrrrrrrrrrrrrBZbvji"
)

func TestAccountIDEncoding(t *testing.T) {
	id := make([]byte, 20)
	assert.Equal(t, accountZero, EncodeAccountID(id))
	id[19] = 1
	assert.Equal(t, accountOne, EncodeAccountID(id))

	decoded, err := DecodeAddress(accountOne)
	require.NoError(t, err)
	assert.Equal(t, id, decoded)

	_, err = DecodeAddress("rrrrrrrrrrrrrrrrrrrrBZbvjj")
	assert.Error(t, err)
}

// fakeRippled answers by method name with the given result objects.
func fakeRippled(t *testing.T, results map[string]func(params map[string]any) string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string           `json:"method"`
			Params []map[string]any `json:"params"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		params := map[string]any{}
		if len(req.Params) > 0 {
			params = req.Params[0]
		}
		handler, ok := results[req.Method]
		if !ok {
			_, _ = w.Write([]byte(`{"result":{"status":"error","error":"unknownCmd"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"result":` + handler(params) + `}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestAdapter(endpoints ...string) *Adapter {
	return New(Config{
		RPC: domain.ChainRPCConfig{Primary: endpoints[0], Fallbacks: endpoints[1:], Timeout: 2 * time.Second},
	}, zap.NewNop())
}

func TestCreateWallet(t *testing.T) {
	wallet, secrets, err := newTestAdapter("http://unused").CreateWallet(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(wallet.Address, "r"))
	assert.NoError(t, validateAddress(wallet.Address))
	assert.Len(t, secrets.PrivateKey, 64)
}

func TestBalance(t *testing.T) {
	srv := fakeRippled(t, map[string]func(map[string]any) string{
		"account_info": func(p map[string]any) string {
			if p["account"] == accountZero {
				return `{"status":"error","error":"actNotFound","error_message":"Account not found."}`
			}
			return `{"status":"success","account_data":{"Balance":"25500000","Sequence":3}}`
		},
	})
	a := newTestAdapter(srv.URL)

	bal, err := a.GetBalance(context.Background(), domain.Wallet{Address: accountOne}, "XRP")
	require.NoError(t, err)
	assert.Equal(t, "25.5", bal.Amount)

	bal, err = a.GetBalance(context.Background(), domain.Wallet{Address: accountZero}, "")
	require.NoError(t, err)
	assert.Equal(t, "0", bal.Amount)
}

func TestSlowDownIsRateLimited(t *testing.T) {
	srv := fakeRippled(t, map[string]func(map[string]any) string{
		"account_info": func(map[string]any) string { return `{"status":"error","error":"slowDown"}` },
	})
	_, err := newTestAdapter(srv.URL).GetBalance(context.Background(), domain.Wallet{Address: accountOne}, "")
	require.Error(t, err)
	assert.True(t, rpc.IsRateLimited(err))
	assert.True(t, xerrors.Is(err, xerrors.KindUpstream))
}

func TestFeeLevels(t *testing.T) {
	srv := fakeRippled(t, map[string]func(map[string]any) string{
		"fee": func(map[string]any) string {
			return `{"status":"success","drops":{"base_fee":"10","median_fee":"5000","open_ledger_fee":"12"}}`
		},
	})
	a := newTestAdapter(srv.URL)

	for priority, want := range map[domain.Priority]string{
		domain.PriorityLow:    "0.00001",
		domain.PriorityNormal: "0.000012",
		domain.PriorityHigh:   "0.005",
	} {
		quote, err := a.EstimateFee(context.Background(), &domain.TxDraft{Priority: priority})
		require.NoError(t, err)
		assert.Equal(t, want, quote.Amount)
	}
}

func TestSubmit(t *testing.T) {
	hash := strings.Repeat("AB", 32)
	srv := fakeRippled(t, map[string]func(map[string]any) string{
		"submit": func(p map[string]any) string {
			if p["tx_blob"] == "BEEF" {
				return `{"status":"success","engine_result":"temBAD_FEE","engine_result_message":"bad fee"}`
			}
			return `{"status":"success","engine_result":"tesSUCCESS","tx_json":{"hash":"` + hash + `"}}`
		},
	})
	a := newTestAdapter(srv.URL)
	ctx := context.Background()

	_, err := a.SendTransaction(ctx, &domain.TxDraft{To: accountOne, Amount: "1"})
	assert.ErrorIs(t, err, xerrors.ErrSignedTxRequired)

	res, err := a.SendTransaction(ctx, &domain.TxDraft{SignedTx: "12000022"})
	require.NoError(t, err)
	assert.Equal(t, hash, res.TxHash)

	_, err = a.SendTransaction(ctx, &domain.TxDraft{SignedTx: "BEEF"})
	assert.True(t, xerrors.Is(err, xerrors.KindBadRequest))
}

func TestStatusAndIncoming(t *testing.T) {
	okHash := strings.Repeat("AA", 32)
	failedHash := strings.Repeat("BB", 32)
	srv := fakeRippled(t, map[string]func(map[string]any) string{
		"tx": func(p map[string]any) string {
			switch p["transaction"] {
			case okHash:
				return `{"status":"success","validated":true,"ledger_index":80,"meta":{"TransactionResult":"tesSUCCESS"}}`
			case failedHash:
				return `{"status":"success","validated":true,"ledger_index":81,"meta":{"TransactionResult":"tecUNFUNDED_PAYMENT"}}`
			}
			return `{"status":"error","error":"txnNotFound"}`
		},
		"account_tx": func(map[string]any) string {
			return `{"status":"success","transactions":[
				{"validated":true,"tx":{"TransactionType":"Payment","Account":"` + accountZero + `","Destination":"` + accountOne + `",
				 "hash":"` + okHash + `","date":700000000,"ledger_index":80},
				 "meta":{"TransactionResult":"tesSUCCESS","delivered_amount":"3000000"}},
				{"validated":true,"tx":{"TransactionType":"Payment","Account":"` + accountZero + `","Destination":"` + accountOne + `",
				 "hash":"` + failedHash + `","date":700000001,"ledger_index":81},
				 "meta":{"TransactionResult":"tesSUCCESS","delivered_amount":{"currency":"USD","issuer":"` + accountZero + `","value":"1"}}},
				{"validated":true,"tx":{"TransactionType":"Payment","Account":"` + accountOne + `","Destination":"` + accountZero + `",
				 "hash":"CC","date":700000002,"ledger_index":82},
				 "meta":{"TransactionResult":"tesSUCCESS","delivered_amount":"1"}}]}`
		},
	})
	a := newTestAdapter(srv.URL)
	ctx := context.Background()

	st, err := a.GetStatus(ctx, okHash)
	require.NoError(t, err)
	assert.Equal(t, domain.TxConfirmed, st.Status)

	st, err = a.GetStatus(ctx, failedHash)
	require.NoError(t, err)
	assert.Equal(t, domain.TxFailed, st.Status)
	assert.Equal(t, "tecUNFUNDED_PAYMENT", st.Error)

	st, err = a.GetStatus(ctx, strings.Repeat("CC", 32))
	require.NoError(t, err)
	assert.Equal(t, domain.TxUnknown, st.Status)

	txs, err := a.ListIncoming(ctx, accountOne, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "3", txs[0].Amount)
	assert.Equal(t, accountZero, txs[0].From)
	assert.Equal(t, time.Unix(700000000+rippleEpoch, 0).UTC(), txs[0].Timestamp)
}
