package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"custody-service/internal/cache"
	"custody-service/internal/chains"
	"custody-service/internal/domain"
	"custody-service/internal/repository"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeAdapter is an in-memory chain. Balances are keyed by address.
type fakeAdapter struct {
	chain     domain.ChainID
	caps      domain.Capabilities
	endpoints []string
	fee       domain.FeeQuote

	mu       sync.Mutex
	balances map[string]string
	sends    []domain.TxDraft
	sendErr  error
	pingErrs map[string]error
	created  int
}

func newFakeAdapter(chain domain.ChainID) *fakeAdapter {
	info, _ := domain.InfoFor(chain)
	return &fakeAdapter{
		chain:     chain,
		caps:      domain.Capabilities{Maturity: domain.MaturityFull, Assets: []string{info.Symbol, "USDT"}},
		endpoints: []string{"http://primary", "http://fallback"},
		fee:       domain.FeeQuote{Amount: "0", Currency: info.Symbol, Priority: domain.PriorityNormal},
		balances:  make(map[string]string),
		pingErrs:  make(map[string]error),
	}
}

func (f *fakeAdapter) Chain() domain.ChainID { return f.chain }

func (f *fakeAdapter) Info() domain.ChainInfo {
	info, _ := domain.InfoFor(f.chain)
	return info
}

func (f *fakeAdapter) Capabilities() domain.Capabilities { return f.caps }

func (f *fakeAdapter) Endpoints() []string { return f.endpoints }

func (f *fakeAdapter) CreateWallet(ctx context.Context, label string) (*domain.Wallet, *domain.WalletSecrets, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	w := &domain.Wallet{
		Address: fmt.Sprintf("%s-addr-%d", f.chain, f.created),
		Chain:   f.chain,
		Label:   label,
	}
	return w, &domain.WalletSecrets{PrivateKey: fmt.Sprintf("key-%d", f.created)}, nil
}

func (f *fakeAdapter) setBalance(address, amount string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[address] = amount
}

func (f *fakeAdapter) GetBalance(ctx context.Context, wallet domain.Wallet, asset string) (*domain.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info := f.Info()
	if asset == "" {
		asset = info.Symbol
	}
	amount, ok := f.balances[wallet.Address]
	if !ok {
		amount = "0"
	}
	return &domain.Balance{Amount: amount, Decimals: info.Decimals, Symbol: strings.ToUpper(asset)}, nil
}

func (f *fakeAdapter) EstimateFee(ctx context.Context, draft *domain.TxDraft) (*domain.FeeQuote, error) {
	q := f.fee
	q.Priority = draft.Priority
	return &q, nil
}

func (f *fakeAdapter) SendTransaction(ctx context.Context, draft *domain.TxDraft) (*domain.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sends = append(f.sends, *draft)
	return &domain.SendResult{
		Chain:  f.chain,
		TxHash: fmt.Sprintf("tx-%d", len(f.sends)),
		Status: domain.TxPending,
	}, nil
}

func (f *fakeAdapter) sent() []domain.TxDraft {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TxDraft(nil), f.sends...)
}

func (f *fakeAdapter) GetStatus(ctx context.Context, txID string) (*domain.TxStatus, error) {
	return &domain.TxStatus{TxHash: txID, Status: domain.TxConfirmed}, nil
}

func (f *fakeAdapter) ListIncoming(ctx context.Context, address string, limit int) ([]domain.IncomingTx, error) {
	return nil, nil
}

func (f *fakeAdapter) Ping(ctx context.Context, endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErrs[endpoint]
}

// testEnv wires every usecase over in-memory stores.
type testEnv struct {
	adapter  *fakeAdapter
	registry *chains.Registry
	keystore *repository.MemoryKeystore
	index    *repository.MemoryWalletIndex
	incoming *repository.MemoryIncomingStore
	balances *repository.BalanceCache

	wallets      *WalletUsecase
	balance      *BalanceUsecase
	transactions *TransactionUsecase
	refinance    *RefinanceUsecase
	incomingUC   *IncomingUsecase
}

func newTestEnv(t *testing.T, chain domain.ChainID) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	e := &testEnv{
		adapter:  newFakeAdapter(chain),
		registry: chains.NewRegistry(),
		keystore: repository.NewMemoryKeystore(),
		index:    repository.NewMemoryWalletIndex(),
		incoming: repository.NewMemoryIncomingStore(),
	}
	e.registry.Register(e.adapter)
	kv := cache.NewMemory()
	e.balances = repository.NewBalanceCache(kv, time.Minute)

	e.wallets = NewWalletUsecase(e.keystore, e.index, e.registry, logger)
	e.balance = NewBalanceUsecase(e.wallets, e.balances, logger)
	e.transactions = NewTransactionUsecase(e.wallets, e.registry, e.balances, kv, logger)
	e.refinance = NewRefinanceUsecase(e.keystore, e.index, e.incoming, e.registry, logger)
	e.incomingUC = NewIncomingUsecase(e.wallets, e.index, e.incoming, logger)
	return e
}

// poolWallet registers a wallet holding balance. Funded wallets get one
// recorded deposit so refinance treats them as live.
func (e *testEnv) poolWallet(t *testing.T, balance string, deposited bool) domain.Wallet {
	t.Helper()
	ctx := context.Background()
	w, err := e.wallets.CreateWallet(ctx, e.adapter.chain, "pool")
	require.NoError(t, err)
	e.adapter.setBalance(w.Address, balance)
	if deposited {
		_, err := e.incoming.Record(ctx, domain.IncomingTx{
			Chain:     w.Chain,
			TxHash:    "dep-" + w.Address,
			Address:   w.Address,
			Amount:    balance,
			Timestamp: time.Now(),
		})
		require.NoError(t, err)
	}
	return *w
}
