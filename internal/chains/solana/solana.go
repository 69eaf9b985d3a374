// Package solana implements native SOL transfers over the Solana JSON-RPC API.
package solana

import (
	"context"
	"sync"
	"time"

	"custody-service/internal/domain"
	"custody-service/internal/rpc"
	"custody-service/internal/xerrors"

	sol "github.com/gagliardetto/solana-go"
	solrpc "github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// baseFeeLamports is the per signature fee used when the node cannot quote.
const baseFeeLamports uint64 = 5000

type Config struct {
	RPC domain.ChainRPCConfig
}

type Adapter struct {
	info      domain.ChainInfo
	endpoints *rpc.Endpoints
	logger    *zap.Logger

	mu      sync.Mutex
	clients map[string]*solrpc.Client
}

func New(cfg Config, logger *zap.Logger) *Adapter {
	info, _ := domain.InfoFor(domain.ChainSolana)
	logger = logger.With(zap.String("chain", string(domain.ChainSolana)))
	logger.Info("Solana chain initialized", zap.Strings("endpoints", cfg.RPC.Endpoints()))

	return &Adapter{
		info:      info,
		endpoints: rpc.NewEndpoints(domain.ChainSolana, cfg.RPC, logger),
		logger:    logger,
		clients:   make(map[string]*solrpc.Client),
	}
}

func (a *Adapter) Chain() domain.ChainID { return domain.ChainSolana }

func (a *Adapter) Info() domain.ChainInfo { return a.info }

func (a *Adapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{Maturity: domain.MaturityFull, Assets: []string{a.info.Symbol}}
}

func (a *Adapter) Endpoints() []string { return a.endpoints.List() }

func (a *Adapter) Ping(ctx context.Context, endpoint string) error {
	_, err := a.client(endpoint).GetHealth(ctx)
	return err
}

func (a *Adapter) client(endpoint string) *solrpc.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.clients[endpoint]
	if !ok {
		c = solrpc.New(endpoint)
		a.clients[endpoint] = c
	}
	return c
}

func withClient[T any](ctx context.Context, a *Adapter, fn func(ctx context.Context, c *solrpc.Client) (T, error)) (T, error) {
	return rpc.Do(ctx, a.endpoints, func(ctx context.Context, endpoint string) (T, error) {
		return fn(ctx, a.client(endpoint))
	})
}

func (a *Adapter) CreateWallet(ctx context.Context, label string) (*domain.Wallet, *domain.WalletSecrets, error) {
	key, err := sol.NewRandomPrivateKey()
	if err != nil {
		return nil, nil, err
	}
	address := key.PublicKey().String()
	a.logger.Info("wallet generated", zap.String("address", address))

	return &domain.Wallet{
			Address:   address,
			Chain:     domain.ChainSolana,
			Label:     label,
			CreatedAt: time.Now().UTC(),
		}, &domain.WalletSecrets{
			PrivateKey: key.String(),
		}, nil
}

func (a *Adapter) checkAsset(asset string) error {
	if asset != "" && asset != a.info.Symbol {
		return xerrors.BadRequest("solana only supports native SOL, got %s", asset)
	}
	return nil
}

func parseAddress(address string) (sol.PublicKey, error) {
	pk, err := sol.PublicKeyFromBase58(address)
	if err != nil {
		return sol.PublicKey{}, xerrors.BadRequest("invalid solana address: %s", address)
	}
	return pk, nil
}

func parseKey(secrets *domain.WalletSecrets, owner sol.PublicKey) (sol.PrivateKey, error) {
	if secrets.IsEmpty() || secrets.PrivateKey == "" {
		return nil, xerrors.ErrSecretsRequired
	}
	key, err := sol.PrivateKeyFromBase58(secrets.PrivateKey)
	if err != nil {
		return nil, xerrors.BadRequest("invalid private key: %v", err)
	}
	if !key.PublicKey().Equals(owner) {
		return nil, xerrors.BadRequest("private key does not match wallet address")
	}
	return key, nil
}
