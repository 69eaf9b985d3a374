package cosmos

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"custody-service/internal/domain"
	"custody-service/internal/xerrors"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protowire"
)

const abandonMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func newTestAdapter(t *testing.T, endpoints ...string) *Adapter {
	t.Helper()
	a, err := New(Config{
		RPC: domain.ChainRPCConfig{Primary: endpoints[0], Fallbacks: endpoints[1:], Timeout: 2 * time.Second},
	}, zap.NewNop())
	require.NoError(t, err)
	return a
}

func TestMnemonicDerivesKnownAddress(t *testing.T) {
	key, err := keyFromMnemonic(abandonMnemonic)
	require.NoError(t, err)

	addr, err := addressFor("cosmos", key.PubKey())
	require.NoError(t, err)
	assert.Equal(t, "cosmos19rl4cm2hmr8afy4kldpxz3fka4jguq0auqdal4", addr)
	assert.NoError(t, validateAddress("cosmos", addr))
	assert.Error(t, validateAddress("osmo", addr))
}

func TestCreateWalletRoundTrips(t *testing.T) {
	a := newTestAdapter(t, "http://unused")
	wallet, secrets, err := a.CreateWallet(context.Background(), "")
	require.NoError(t, err)

	assert.Len(t, strings.Fields(secrets.Mnemonic), 24)
	fromHex, err := signingKey(&domain.WalletSecrets{PrivateKey: secrets.PrivateKey})
	require.NoError(t, err)
	addr, err := addressFor("cosmos", fromHex.PubKey())
	require.NoError(t, err)
	assert.Equal(t, wallet.Address, addr)

	_, err = signingKey(nil)
	assert.ErrorIs(t, err, xerrors.ErrSecretsRequired)
}

func TestEstimateFeeByPriority(t *testing.T) {
	a := newTestAdapter(t, "http://unused")

	for priority, want := range map[domain.Priority]string{
		domain.PriorityLow:    "0.004",
		domain.PriorityNormal: "0.005",
		domain.PriorityHigh:   "0.0075",
		"":                    "0.005",
	} {
		quote, err := a.EstimateFee(context.Background(), &domain.TxDraft{Priority: priority})
		require.NoError(t, err)
		assert.Equal(t, want, quote.Amount, "priority %q", priority)
		assert.Equal(t, "ATOM", quote.Currency)
	}
}

// fields splits one protobuf message into its length delimited fields.
func fields(t *testing.T, b []byte) map[protowire.Number][][]byte {
	t.Helper()
	out := make(map[protowire.Number][][]byte)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		require.GreaterOrEqual(t, n, 0)
		b = b[n:]
		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			require.GreaterOrEqual(t, n, 0)
			out[num] = append(out[num], v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			require.GreaterOrEqual(t, n, 0)
			b = b[n:]
		}
	}
	return out
}

func TestSendBuildsVerifiableTx(t *testing.T) {
	key, err := keyFromMnemonic(abandonMnemonic)
	require.NoError(t, err)
	from, err := addressFor("cosmos", key.PubKey())
	require.NoError(t, err)
	toKey, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	to, err := addressFor("cosmos", toKey.PubKey())
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		txBytes []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/cosmos/auth/v1beta1/accounts/"+from:
			_, _ = w.Write([]byte(`{"account":{"@type":"/cosmos.auth.v1beta1.BaseAccount","account_number":"42","sequence":"7"}}`))
		case r.URL.Path == "/cosmos/tx/v1beta1/txs" && r.Method == http.MethodPost:
			var req struct {
				TxBytes string `json:"tx_bytes"`
				Mode    string `json:"mode"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "BROADCAST_MODE_SYNC", req.Mode)
			raw, err := base64.StdEncoding.DecodeString(req.TxBytes)
			assert.NoError(t, err)
			mu.Lock()
			txBytes = raw
			mu.Unlock()
			_, _ = w.Write([]byte(`{"tx_response":{"txhash":"` + txHash(raw) + `","code":0}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	a := newTestAdapter(t, srv.URL)
	res, err := a.SendTransaction(context.Background(), &domain.TxDraft{
		Wallet:     domain.Wallet{Address: from},
		To:         to,
		Amount:     "1.5",
		ClientTxID: "order-9",
		Secrets:    &domain.WalletSecrets{Mnemonic: abandonMnemonic},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TxPending, res.Status)

	mu.Lock()
	raw := txBytes
	mu.Unlock()
	require.NotEmpty(t, raw)
	assert.Equal(t, txHash(raw), res.TxHash)

	txRaw := fields(t, raw)
	require.Len(t, txRaw[1], 1)
	require.Len(t, txRaw[2], 1)
	require.Len(t, txRaw[3], 1)

	body := fields(t, txRaw[1][0])
	assert.Equal(t, "order-9", string(body[2][0]))
	anyMsg := fields(t, body[1][0])
	assert.Equal(t, msgSendTypeURL, string(anyMsg[1][0]))
	send := fields(t, anyMsg[2][0])
	assert.Equal(t, from, string(send[1][0]))
	assert.Equal(t, to, string(send[2][0]))
	amount := fields(t, send[3][0])
	assert.Equal(t, "uatom", string(amount[1][0]))
	assert.Equal(t, "1500000", string(amount[2][0]))

	doc := (&sendTx{ChainID: "cosmoshub-4", AccountNumber: 42}).signDoc(txRaw[1][0], txRaw[2][0])
	digest := sha256.Sum256(doc)
	sigBytes := txRaw[3][0]
	require.Len(t, sigBytes, 64)
	var r, s secp256k1.ModNScalar
	r.SetByteSlice(sigBytes[:32])
	s.SetByteSlice(sigBytes[32:])
	assert.True(t, ecdsa.NewSignature(&r, &s).Verify(digest[:], key.PubKey()))
}

func TestSendRejectsMismatchedKeyAndUnfundedAccount(t *testing.T) {
	key, err := keyFromMnemonic(abandonMnemonic)
	require.NoError(t, err)
	from, err := addressFor("cosmos", key.PubKey())
	require.NoError(t, err)

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	a := newTestAdapter(t, srv.URL)

	other, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	otherAddr, err := addressFor("cosmos", other.PubKey())
	require.NoError(t, err)

	_, err = a.SendTransaction(context.Background(), &domain.TxDraft{
		Wallet: domain.Wallet{Address: otherAddr}, To: from, Amount: "1",
		Secrets: &domain.WalletSecrets{Mnemonic: abandonMnemonic},
	})
	assert.True(t, xerrors.Is(err, xerrors.KindBadRequest))

	_, err = a.SendTransaction(context.Background(), &domain.TxDraft{
		Wallet: domain.Wallet{Address: from}, To: otherAddr, Amount: "1",
		Secrets: &domain.WalletSecrets{Mnemonic: abandonMnemonic},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never been funded")
}

func TestStatusAndIncoming(t *testing.T) {
	addr := "cosmos19rl4cm2hmr8afy4kldpxz3fka4jguq0auqdal4"
	okHash := strings.Repeat("A", 64)
	failedHash := strings.Repeat("B", 64)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cosmos/tx/v1beta1/txs/" + okHash:
			_, _ = w.Write([]byte(`{"tx_response":{"height":"100","txhash":"` + okHash + `","code":0}}`))
		case "/cosmos/tx/v1beta1/txs/" + failedHash:
			_, _ = w.Write([]byte(`{"tx_response":{"height":"101","txhash":"` + failedHash + `","code":5,"raw_log":"insufficient funds"}}`))
		case "/cosmos/tx/v1beta1/txs":
			assert.Equal(t, "transfer.recipient='"+addr+"'", r.URL.Query().Get("query"))
			_, _ = w.Write([]byte(`{"tx_responses":[{"height":"90","txhash":"` + okHash + `","code":0,
				"timestamp":"2024-01-02T03:04:05Z","tx":{"body":{"messages":[
				{"@type":"/cosmos.staking.v1beta1.MsgDelegate"},
				{"@type":"/cosmos.bank.v1beta1.MsgSend","from_address":"cosmos1sender","to_address":"` + addr + `",
				 "amount":[{"denom":"uatom","amount":"2500000"},{"denom":"ibc/XYZ","amount":"9"}]}]}}}]}`))
		default:
			http.Error(w, `{"code":5,"message":"tx not found"}`, http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	a := newTestAdapter(t, srv.URL)
	ctx := context.Background()

	st, err := a.GetStatus(ctx, strings.ToLower(okHash))
	require.NoError(t, err)
	assert.Equal(t, domain.TxConfirmed, st.Status)
	assert.Equal(t, uint64(100), st.BlockNumber)

	st, err = a.GetStatus(ctx, failedHash)
	require.NoError(t, err)
	assert.Equal(t, domain.TxFailed, st.Status)
	assert.Equal(t, "insufficient funds", st.Error)

	st, err = a.GetStatus(ctx, strings.Repeat("C", 64))
	require.NoError(t, err)
	assert.Equal(t, domain.TxUnknown, st.Status)

	txs, err := a.ListIncoming(ctx, addr, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "2.5", txs[0].Amount)
	assert.Equal(t, 1, txs[0].Index)
	assert.Equal(t, "cosmos1sender", txs[0].From)
	assert.Equal(t, uint64(90), txs[0].BlockNumber)
}
