// Package evm implements the adapter shared by Ethereum compatible chains.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"custody-service/internal/domain"
	"custody-service/internal/rpc"
	"custody-service/internal/xerrors"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

type TokenConfig struct {
	Symbol   string `json:"symbol"`
	Contract string `json:"contract"`
	Decimals int    `json:"decimals"`
}

type Config struct {
	Chain          domain.ChainID
	ChainID        int64
	RPC            domain.ChainRPCConfig
	Tokens         []TokenConfig
	GasLimitNative uint64
	GasLimitToken  uint64
	MaxGasPrice    *big.Int // wei
	Confirmations  uint64
	ScanWindow     uint64 // blocks per incoming scan
}

func (c *Config) setDefaults() {
	if c.GasLimitNative == 0 {
		c.GasLimitNative = 21000
	}
	if c.GasLimitToken == 0 {
		c.GasLimitToken = 65000
	}
	if c.MaxGasPrice == nil {
		c.MaxGasPrice = big.NewInt(100e9)
	}
	if c.Confirmations == 0 {
		c.Confirmations = 12
	}
	if c.ScanWindow == 0 {
		c.ScanWindow = 20
	}
}

type Adapter struct {
	cfg       Config
	info      domain.ChainInfo
	chainID   *big.Int
	endpoints *rpc.Endpoints
	erc20     abi.ABI
	logger    *zap.Logger

	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

func New(cfg Config, logger *zap.Logger) (*Adapter, error) {
	if !cfg.Chain.IsEVM() {
		return nil, fmt.Errorf("not an EVM chain: %s", cfg.Chain)
	}
	info, _ := domain.InfoFor(cfg.Chain)
	cfg.setDefaults()

	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	for _, t := range cfg.Tokens {
		if !common.IsHexAddress(t.Contract) {
			return nil, fmt.Errorf("%s: invalid contract for %s: %s", cfg.Chain, t.Symbol, t.Contract)
		}
	}

	logger = logger.With(zap.String("chain", string(cfg.Chain)))
	logger.Info("EVM chain initialized",
		zap.Int64("chain_id", cfg.ChainID),
		zap.Strings("endpoints", cfg.RPC.Endpoints()),
		zap.Int("tokens", len(cfg.Tokens)))

	return &Adapter{
		cfg:       cfg,
		info:      info,
		chainID:   big.NewInt(cfg.ChainID),
		endpoints: rpc.NewEndpoints(cfg.Chain, cfg.RPC, logger),
		erc20:     parsed,
		logger:    logger,
		clients:   make(map[string]*ethclient.Client),
	}, nil
}

func (a *Adapter) Chain() domain.ChainID {
	return a.cfg.Chain
}

func (a *Adapter) Info() domain.ChainInfo {
	return a.info
}

func (a *Adapter) Capabilities() domain.Capabilities {
	assets := []string{a.info.Symbol}
	for _, t := range a.cfg.Tokens {
		assets = append(assets, t.Symbol)
	}
	return domain.Capabilities{
		Maturity: domain.MaturityFull,
		Assets:   assets,
	}
}

func (a *Adapter) Endpoints() []string {
	return a.endpoints.List()
}

// Ping reads the latest block number.
func (a *Adapter) Ping(ctx context.Context, endpoint string) error {
	client, err := a.client(ctx, endpoint)
	if err != nil {
		return err
	}
	_, err = client.BlockNumber(ctx)
	return err
}

// Close drops every cached connection.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for url, c := range a.clients {
		c.Close()
		delete(a.clients, url)
	}
}

func (a *Adapter) client(ctx context.Context, endpoint string) (*ethclient.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if c, ok := a.clients[endpoint]; ok {
		return c, nil
	}
	c, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	a.clients[endpoint] = c
	return c, nil
}

// withClient runs fn through the endpoint fallback with a connected client.
func withClient[T any](ctx context.Context, a *Adapter, fn func(ctx context.Context, c *ethclient.Client) (T, error)) (T, error) {
	return rpc.Do(ctx, a.endpoints, func(ctx context.Context, endpoint string) (T, error) {
		c, err := a.client(ctx, endpoint)
		if err != nil {
			var zero T
			return zero, err
		}
		return fn(ctx, c)
	})
}

// resolveAsset returns nil for the native asset or the matching token.
func (a *Adapter) resolveAsset(symbol string) (*TokenConfig, error) {
	if symbol == "" || strings.EqualFold(symbol, a.info.Symbol) {
		return nil, nil
	}
	for i := range a.cfg.Tokens {
		if strings.EqualFold(a.cfg.Tokens[i].Symbol, symbol) {
			return &a.cfg.Tokens[i], nil
		}
	}
	return nil, xerrors.BadRequest("%s: unsupported asset %s", a.cfg.Chain, symbol)
}

func (a *Adapter) tokenByContract(addr common.Address) *TokenConfig {
	for i := range a.cfg.Tokens {
		if common.HexToAddress(a.cfg.Tokens[i].Contract) == addr {
			return &a.cfg.Tokens[i]
		}
	}
	return nil
}

func validateAddress(addr string) (common.Address, error) {
	if !common.IsHexAddress(addr) {
		return common.Address{}, xerrors.BadRequest("invalid EVM address: %s", addr)
	}
	return common.HexToAddress(addr), nil
}
