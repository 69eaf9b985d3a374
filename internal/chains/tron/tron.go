// internal/chains/tron/tron.go
package tron

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"custody-service/internal/domain"
	"custody-service/internal/rpc"
	"custody-service/internal/xerrors"

	"github.com/fbsobreira/gotron-sdk/pkg/address"
	"github.com/fbsobreira/gotron-sdk/pkg/client"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/api"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/core"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type TokenConfig struct {
	Symbol   string `json:"symbol"`
	Contract string `json:"contract"`
	Decimals int    `json:"decimals"`
}

type Config struct {
	RPC           domain.ChainRPCConfig // TronGrid HTTP endpoints
	GRPC          domain.ChainRPCConfig // full node gRPC hosts, used to build transactions
	APIKey        string
	Tokens        []TokenConfig
	FeeLimit      int64 // sun
	EnergyPrice   int64 // sun per energy unit
	Confirmations int64
}

func (c *Config) setDefaults() {
	if c.FeeLimit == 0 {
		c.FeeLimit = 100_000_000
	}
	if c.EnergyPrice == 0 {
		c.EnergyPrice = 420
	}
	if c.Confirmations == 0 {
		c.Confirmations = 19
	}
}

// txBuilder is the part of the gRPC wallet API used to create and
// broadcast transactions.
type txBuilder interface {
	Transfer(from, to string, amount int64) (*api.TransactionExtention, error)
	TriggerContract(from, contractAddress, method, jsonString string, feeLimit, tAmount int64, tTokenID string, tTokenAmount int64) (*api.TransactionExtention, error)
	Broadcast(tx *core.Transaction) (*api.Return, error)
}

type Adapter struct {
	cfg    Config
	info   domain.ChainInfo
	http   *rpc.Endpoints
	grpc   *rpc.Endpoints
	client *tronGrid
	logger *zap.Logger

	dial     func(endpoint string) (txBuilder, error)
	mu       sync.Mutex
	builders map[string]txBuilder
	conns    []*client.GrpcClient
}

func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	cfg.setDefaults()
	for _, t := range cfg.Tokens {
		if _, err := address.Base58ToAddress(t.Contract); err != nil {
			return nil, fmt.Errorf("tron: invalid contract for %s: %w", t.Symbol, err)
		}
	}
	info, _ := domain.InfoFor(domain.ChainTron)

	logger = logger.With(zap.String("chain", string(domain.ChainTron)))
	logger.Info("TRON chain initialized",
		zap.Strings("http_endpoints", cfg.RPC.Endpoints()),
		zap.Strings("grpc_endpoints", cfg.GRPC.Endpoints()),
		zap.Int("tokens", len(cfg.Tokens)))

	a := &Adapter{
		cfg:      cfg,
		info:     info,
		http:     rpc.NewEndpoints(domain.ChainTron, cfg.RPC, logger),
		grpc:     rpc.NewEndpoints(domain.ChainTron, cfg.GRPC, logger),
		client:   &tronGrid{http: rpc.NewHTTPClient(cfg.RPC.Timeout, rpc.WithHeader("TRON-PRO-API-KEY", cfg.APIKey))},
		logger:   logger,
		builders: make(map[string]txBuilder),
	}
	a.dial = a.dialGRPC
	return a, nil
}

func (a *Adapter) dialGRPC(endpoint string) (txBuilder, error) {
	c := client.NewGrpcClient(endpoint)
	if err := c.SetAPIKey(a.cfg.APIKey); err != nil {
		return nil, err
	}
	if err := c.Start(grpc.WithTransportCredentials(insecure.NewCredentials())); err != nil {
		return nil, fmt.Errorf("failed to start TRON gRPC client: %w", err)
	}
	a.conns = append(a.conns, c)
	return c, nil
}

func (a *Adapter) builder(endpoint string) (txBuilder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if b, ok := a.builders[endpoint]; ok {
		return b, nil
	}
	b, err := a.dial(endpoint)
	if err != nil {
		return nil, err
	}
	a.builders[endpoint] = b
	return b, nil
}

// Stop closes every gRPC connection.
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range a.conns {
		c.Stop()
	}
	a.conns = nil
	a.builders = make(map[string]txBuilder)
	a.logger.Info("TRON gRPC clients stopped")
}

func (a *Adapter) Chain() domain.ChainID { return domain.ChainTron }

func (a *Adapter) Info() domain.ChainInfo { return a.info }

func (a *Adapter) Capabilities() domain.Capabilities {
	assets := []string{a.info.Symbol}
	for _, t := range a.cfg.Tokens {
		assets = append(assets, t.Symbol)
	}
	caps := domain.Capabilities{Maturity: domain.MaturityFull, Assets: assets}
	if len(a.grpc.List()) == 0 {
		caps.SignedTxOnly = true
		caps.Notes = "no gRPC endpoint configured, only signed transactions can be sent"
	}
	return caps
}

func (a *Adapter) Endpoints() []string { return a.http.List() }

func (a *Adapter) Ping(ctx context.Context, endpoint string) error {
	_, err := a.client.nowBlock(ctx, endpoint)
	return err
}

// resolveAsset returns nil for TRX or the matching TRC20 token.
func (a *Adapter) resolveAsset(symbol string) (*TokenConfig, error) {
	if symbol == "" || strings.EqualFold(symbol, a.info.Symbol) {
		return nil, nil
	}
	for i := range a.cfg.Tokens {
		if strings.EqualFold(a.cfg.Tokens[i].Symbol, symbol) {
			return &a.cfg.Tokens[i], nil
		}
	}
	return nil, xerrors.BadRequest("tron: unsupported asset %s", symbol)
}

func (a *Adapter) tokenByContract(contract string) *TokenConfig {
	for i := range a.cfg.Tokens {
		if a.cfg.Tokens[i].Contract == contract {
			return &a.cfg.Tokens[i]
		}
	}
	return nil
}

func parseAddress(addr string) (address.Address, error) {
	if !strings.HasPrefix(addr, "T") || len(addr) != 34 {
		return nil, xerrors.BadRequest("invalid TRON address: %s", addr)
	}
	parsed, err := address.Base58ToAddress(addr)
	if err != nil {
		return nil, xerrors.BadRequest("invalid TRON address %s: %v", addr, err)
	}
	return parsed, nil
}
