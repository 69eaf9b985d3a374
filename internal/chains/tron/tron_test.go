package tron

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"custody-service/internal/domain"
	"custody-service/internal/xerrors"

	"github.com/fbsobreira/gotron-sdk/pkg/address"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/api"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const usdtContract = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"

// fakeBuilder stands in for a full node's gRPC wallet service.
type fakeBuilder struct {
	mu        sync.Mutex
	built     int
	sent      []*core.Transaction
	contracts []string
	reject    bool
	fail      error                  // returned after the broadcast is recorded
	code      api.ReturnResponseCode // non-success code after recording
}

func (f *fakeBuilder) tx(payload string) *api.TransactionExtention {
	f.mu.Lock()
	f.built++
	f.mu.Unlock()
	return &api.TransactionExtention{Transaction: &core.Transaction{RawData: &core.TransactionRaw{
		RefBlockBytes: []byte{0x01, 0x02},
		Expiration:    1700000060000,
		Timestamp:     1700000000000,
		Data:          []byte(payload),
	}}}
}

func (f *fakeBuilder) Transfer(from, to string, amount int64) (*api.TransactionExtention, error) {
	return f.tx(fmt.Sprintf("%s>%s:%d", from, to, amount)), nil
}

func (f *fakeBuilder) TriggerContract(from, contract, method, args string, feeLimit, _ int64, _ string, _ int64) (*api.TransactionExtention, error) {
	f.mu.Lock()
	f.contracts = append(f.contracts, contract+" "+method+" "+args)
	f.mu.Unlock()
	return f.tx(from + ">" + contract), nil
}

func (f *fakeBuilder) Broadcast(tx *core.Transaction) (*api.Return, error) {
	if f.reject {
		return &api.Return{Result: false, Message: []byte("sigerror")}, errors.New("result error: sigerror")
	}
	f.mu.Lock()
	f.sent = append(f.sent, tx)
	f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	if f.code != api.Return_SUCCESS {
		return &api.Return{Result: false, Code: f.code}, fmt.Errorf("result error(%s)", f.code)
	}
	return &api.Return{Result: true}, nil
}

func newTestAdapter(t *testing.T, httpURL string, builder txBuilder) *Adapter {
	t.Helper()
	cfg := Config{
		RPC:    domain.ChainRPCConfig{Primary: httpURL, Timeout: 2 * time.Second},
		Tokens: []TokenConfig{{Symbol: "USDT", Contract: usdtContract, Decimals: 6}},
	}
	if builder != nil {
		cfg.GRPC = domain.ChainRPCConfig{Primary: "grpc.test:50051"}
	}
	a, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	a.dial = func(string) (txBuilder, error) { return builder, nil }
	return a
}

func newWallet(t *testing.T, a *Adapter) (*domain.Wallet, *domain.WalletSecrets) {
	t.Helper()
	w, s, err := a.CreateWallet(context.Background(), "test")
	require.NoError(t, err)
	return w, s
}

func hexAddress(t *testing.T, addr string) string {
	t.Helper()
	parsed, err := address.Base58ToAddress(addr)
	require.NoError(t, err)
	return hex.EncodeToString(parsed.Bytes())
}

func jsonDecode(r *http.Request, out any) error {
	return json.NewDecoder(r.Body).Decode(out)
}

func serve(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for pattern, body := range routes {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		})
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCreateWalletKeyMatchesAddress(t *testing.T) {
	a := newTestAdapter(t, "http://unused", nil)
	w, s := newWallet(t, a)

	assert.True(t, strings.HasPrefix(w.Address, "T"))
	assert.Len(t, w.Address, 34)
	_, err := signingKey(s, w.Address)
	assert.NoError(t, err)

	other, _ := newWallet(t, a)
	_, err = signingKey(s, other.Address)
	assert.True(t, xerrors.Is(err, xerrors.KindBadRequest))
}

func TestGetBalance(t *testing.T) {
	a := newTestAdapter(t, "http://unused", nil)
	funded, _ := newWallet(t, a)
	empty, _ := newWallet(t, a)

	srv := serve(t, map[string]string{
		"GET /v1/accounts/" + funded.Address: `{"success":true,"data":[{"balance":1500000,"trc20":[{"` + usdtContract + `":"25500000"}]}]}`,
		"GET /v1/accounts/" + empty.Address:  `{"success":true,"data":[]}`,
	})
	a = newTestAdapter(t, srv.URL, nil)
	ctx := context.Background()

	bal, err := a.GetBalance(ctx, *funded, "")
	require.NoError(t, err)
	assert.Equal(t, "1.5", bal.Amount)
	assert.Equal(t, "TRX", bal.Symbol)

	bal, err = a.GetBalance(ctx, *funded, "usdt")
	require.NoError(t, err)
	assert.Equal(t, "25.5", bal.Amount)
	assert.Equal(t, "USDT", bal.Symbol)

	bal, err = a.GetBalance(ctx, *empty, "USDT")
	require.NoError(t, err)
	assert.Equal(t, "0", bal.Amount)

	_, err = a.GetBalance(ctx, *funded, "BTT")
	assert.True(t, xerrors.Is(err, xerrors.KindBadRequest))
}

func TestEstimateFee(t *testing.T) {
	simulated := serve(t, map[string]string{
		"POST /wallet/triggerconstantcontract": `{"energy_used":31895,"result":{"result":true}}`,
	})
	failing := serve(t, map[string]string{
		"POST /wallet/triggerconstantcontract": `{"result":{"result":false,"message":"REVERT"}}`,
	})
	ctx := context.Background()

	a := newTestAdapter(t, simulated.URL, nil)
	from, _ := newWallet(t, a)
	to, _ := newWallet(t, a)

	quote, err := a.EstimateFee(ctx, &domain.TxDraft{Wallet: *from, To: to.Address, Amount: "1"})
	require.NoError(t, err)
	assert.Equal(t, "0.27", quote.Amount)
	assert.Equal(t, "TRX", quote.Currency)

	quote, err = a.EstimateFee(ctx, &domain.TxDraft{Wallet: *from, To: to.Address, Amount: "10", Asset: "USDT"})
	require.NoError(t, err)
	assert.Equal(t, "13.7409", quote.Amount)

	a = newTestAdapter(t, failing.URL, nil)
	quote, err = a.EstimateFee(ctx, &domain.TxDraft{Wallet: *from, To: to.Address, Amount: "10", Asset: "USDT", Priority: domain.PriorityHigh})
	require.NoError(t, err)
	assert.Equal(t, "27.645", quote.Amount)
	assert.Equal(t, domain.PriorityHigh, quote.Priority)
}

func TestSendTransactionSignsWithWalletKey(t *testing.T) {
	builder := &fakeBuilder{}
	a := newTestAdapter(t, "http://unused", builder)
	from, secrets := newWallet(t, a)
	to, _ := newWallet(t, a)

	srv := serve(t, map[string]string{
		"GET /v1/accounts/" + from.Address: `{"success":true,"data":[{"balance":5000000,"trc20":[{"` + usdtContract + `":"100000000"}]}]}`,
	})
	a = newTestAdapter(t, srv.URL, builder)
	ctx := context.Background()

	res, err := a.SendTransaction(ctx, &domain.TxDraft{Wallet: *from, To: to.Address, Amount: "2", Secrets: secrets, ClientTxID: "c-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.TxPending, res.Status)
	assert.Equal(t, "c-1", res.ClientTxID)

	require.Len(t, builder.sent, 1)
	signer, err := signerOf(builder.sent[0])
	require.NoError(t, err)
	assert.Equal(t, from.Address, signer)
	hash, err := rawDataHash(builder.sent[0])
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(hash), res.TxHash)
	assert.Contains(t, string(builder.sent[0].RawData.Data), ":2000000")

	_, err = a.SendTransaction(ctx, &domain.TxDraft{Wallet: *from, To: to.Address, Amount: "12.5", Asset: "USDT", Secrets: secrets})
	require.NoError(t, err)
	require.Len(t, builder.contracts, 1)
	assert.Equal(t, usdtContract+" "+transferSelector+` [{"address":"`+to.Address+`"},{"uint256":"12500000"}]`, builder.contracts[0])
}

func TestSendTransactionRebroadcastsSameTransactionOnFallback(t *testing.T) {
	primary := &fakeBuilder{fail: errors.New("rpc error: code = DeadlineExceeded")}
	fallback := &fakeBuilder{code: api.Return_DUP_TRANSACTION_ERROR}
	a := newTestAdapter(t, "http://unused", nil)
	from, secrets := newWallet(t, a)
	to, _ := newWallet(t, a)

	srv := serve(t, map[string]string{
		"GET /v1/accounts/" + from.Address: `{"success":true,"data":[{"balance":5000000}]}`,
	})
	a, err := New(Config{
		RPC:  domain.ChainRPCConfig{Primary: srv.URL, Timeout: 2 * time.Second},
		GRPC: domain.ChainRPCConfig{Primary: "node-a:50051", Fallbacks: []string{"node-b:50051"}},
	}, zap.NewNop())
	require.NoError(t, err)
	a.dial = func(endpoint string) (txBuilder, error) {
		if endpoint == "node-b:50051" {
			return fallback, nil
		}
		return primary, nil
	}

	res, err := a.SendTransaction(context.Background(), &domain.TxDraft{Wallet: *from, To: to.Address, Amount: "1", Secrets: secrets})
	require.NoError(t, err)

	assert.Equal(t, 1, primary.built)
	assert.Zero(t, fallback.built)
	require.Len(t, primary.sent, 1)
	require.Len(t, fallback.sent, 1)
	assert.Same(t, primary.sent[0], fallback.sent[0])

	hash, err := rawDataHash(primary.sent[0])
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(hash), res.TxHash)
}

func TestSendTransactionFailures(t *testing.T) {
	builder := &fakeBuilder{}
	a := newTestAdapter(t, "http://unused", builder)
	from, secrets := newWallet(t, a)
	to, _ := newWallet(t, a)

	srv := serve(t, map[string]string{
		"GET /v1/accounts/" + from.Address: `{"success":true,"data":[{"balance":1000000}]}`,
	})
	a = newTestAdapter(t, srv.URL, builder)
	ctx := context.Background()

	_, err := a.SendTransaction(ctx, &domain.TxDraft{Wallet: *from, To: to.Address, Amount: "3", Secrets: secrets})
	require.True(t, xerrors.Is(err, xerrors.KindInsufficientFunds))
	missing, ok := xerrors.MissingAmount(err)
	require.True(t, ok)
	assert.Equal(t, "2", missing)

	_, err = a.SendTransaction(ctx, &domain.TxDraft{Wallet: *from, To: to.Address, Amount: "1"})
	assert.ErrorIs(t, err, xerrors.ErrSecretsRequired)

	builder.reject = true
	_, err = a.SendTransaction(ctx, &domain.TxDraft{Wallet: *from, To: to.Address, Amount: "0.5", Secrets: secrets})
	assert.True(t, xerrors.Is(err, xerrors.KindBadRequest))

	noGRPC := newTestAdapter(t, srv.URL, nil)
	assert.True(t, noGRPC.Capabilities().SignedTxOnly)
	_, err = noGRPC.SendTransaction(ctx, &domain.TxDraft{Wallet: *from, To: to.Address, Amount: "0.5", Secrets: secrets})
	assert.ErrorIs(t, err, xerrors.ErrSignedTxRequired)
}

func TestSendSignedHex(t *testing.T) {
	srv := serve(t, map[string]string{
		"POST /wallet/broadcasthex": `{"result":true,"txid":"` + strings.Repeat("ab", 32) + `"}`,
	})
	a := newTestAdapter(t, srv.URL, nil)

	res, err := a.SendTransaction(context.Background(), &domain.TxDraft{SignedTx: "0a0b0c"})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("ab", 32), res.TxHash)

	_, err = a.SendTransaction(context.Background(), &domain.TxDraft{SignedTx: "not hex"})
	assert.True(t, xerrors.Is(err, xerrors.KindBadRequest))

	rejecting := serve(t, map[string]string{
		"POST /wallet/broadcasthex": `{"result":false,"code":"SIGERROR","message":"` + hex.EncodeToString([]byte("validate signature error")) + `"}`,
	})
	_, err = newTestAdapter(t, rejecting.URL, nil).SendTransaction(context.Background(), &domain.TxDraft{SignedTx: "0a0b0c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate signature error")
}

func TestGetStatus(t *testing.T) {
	confirmed := strings.Repeat("1", 64)
	failed := strings.Repeat("2", 64)
	pooled := strings.Repeat("3", 64)
	missing := strings.Repeat("4", 64)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /wallet/gettransactioninfobyid", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Value string }
		assert.NoError(t, jsonDecode(r, &body))
		switch body.Value {
		case confirmed:
			_, _ = w.Write([]byte(`{"id":"` + confirmed + `","blockNumber":100}`))
		case failed:
			_, _ = w.Write([]byte(`{"id":"` + failed + `","blockNumber":101,"result":"FAILED","receipt":{"result":"OUT_OF_ENERGY"}}`))
		default:
			_, _ = w.Write([]byte(`{}`))
		}
	})
	mux.HandleFunc("POST /wallet/gettransactionbyid", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Value string }
		assert.NoError(t, jsonDecode(r, &body))
		if body.Value == pooled {
			_, _ = w.Write([]byte(`{"txID":"` + pooled + `"}`))
			return
		}
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("POST /wallet/getnowblock", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"block_header":{"raw_data":{"number":130}}}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := newTestAdapter(t, srv.URL, nil)
	ctx := context.Background()

	st, err := a.GetStatus(ctx, "0x"+confirmed)
	require.NoError(t, err)
	assert.Equal(t, domain.TxConfirmed, st.Status)
	assert.Equal(t, int64(31), st.Confirmations)
	assert.Equal(t, uint64(100), st.BlockNumber)

	st, err = a.GetStatus(ctx, failed)
	require.NoError(t, err)
	assert.Equal(t, domain.TxFailed, st.Status)
	assert.Contains(t, st.Error, "OUT_OF_ENERGY")

	st, err = a.GetStatus(ctx, pooled)
	require.NoError(t, err)
	assert.Equal(t, domain.TxPending, st.Status)

	st, err = a.GetStatus(ctx, missing)
	require.NoError(t, err)
	assert.Equal(t, domain.TxUnknown, st.Status)

	_, err = a.GetStatus(ctx, "xyz")
	assert.True(t, xerrors.Is(err, xerrors.KindBadRequest))
}

func TestListIncomingMergesNativeAndTokens(t *testing.T) {
	a := newTestAdapter(t, "http://unused", nil)
	me, _ := newWallet(t, a)
	payer, _ := newWallet(t, a)

	native := fmt.Sprintf(`{"data":[
		{"txID":"aa","blockNumber":50,"block_timestamp":1700000000000,"ret":[{"contractRet":"SUCCESS"}],
		 "raw_data":{"contract":[{"type":"TransferContract","parameter":{"value":{"amount":2000000,"owner_address":"%s","to_address":"%s"}}}]}},
		{"txID":"bb","blockNumber":51,"block_timestamp":1700000001000,"ret":[{"contractRet":"REVERT"}],
		 "raw_data":{"contract":[{"type":"TransferContract","parameter":{"value":{"amount":7,"owner_address":"%s","to_address":"%s"}}}]}}
	]}`, hexAddress(t, payer.Address), hexAddress(t, me.Address), hexAddress(t, payer.Address), hexAddress(t, me.Address))
	tokens := fmt.Sprintf(`{"data":[
		{"transaction_id":"cc","block_timestamp":1700000100000,"from":"%s","to":"%s","value":"5000000","type":"Transfer",
		 "token_info":{"symbol":"USDT","address":"%s","decimals":6}},
		{"transaction_id":"dd","block_timestamp":1700000200000,"from":"%s","to":"%s","value":"1","type":"Transfer",
		 "token_info":{"symbol":"SCAM","address":"TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf","decimals":6}}
	]}`, payer.Address, me.Address, usdtContract, payer.Address, me.Address)

	srv := serve(t, map[string]string{
		"GET /v1/accounts/" + me.Address + "/transactions":       native,
		"GET /v1/accounts/" + me.Address + "/transactions/trc20": tokens,
	})
	a = newTestAdapter(t, srv.URL, nil)

	txs, err := a.ListIncoming(context.Background(), me.Address, 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, "cc", txs[0].TxHash)
	assert.Equal(t, "USDT", txs[0].Asset)
	assert.Equal(t, "5", txs[0].Amount)
	assert.Equal(t, 1, txs[0].Index)

	assert.Equal(t, "aa", txs[1].TxHash)
	assert.Equal(t, "TRX", txs[1].Asset)
	assert.Equal(t, "2", txs[1].Amount)
	assert.Equal(t, payer.Address, txs[1].From)
	assert.Equal(t, uint64(50), txs[1].BlockNumber)
	assert.Equal(t, domain.IncomingID(domain.ChainTron, "aa", me.Address, 0), txs[1].ID)
}

func TestPing(t *testing.T) {
	srv := serve(t, map[string]string{
		"POST /wallet/getnowblock": `{"block_header":{"raw_data":{"number":1}}}`,
	})
	a := newTestAdapter(t, srv.URL, nil)
	assert.NoError(t, a.Ping(context.Background(), srv.URL))
	assert.Error(t, a.Ping(context.Background(), srv.URL+"/missing"))
}
